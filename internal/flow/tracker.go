package flow

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"livecap/internal/models"
	"livecap/internal/parser"
)

// TCPState represents the state of a TCP connection.
type TCPState string

const (
	TCPStateNew         TCPState = "NEW"
	TCPStateSynSent     TCPState = "SYN_SENT"
	TCPStateSynReceived TCPState = "SYN_RECEIVED"
	TCPStateEstablished TCPState = "ESTABLISHED"
	TCPStateFinWait     TCPState = "FIN_WAIT"
	TCPStateClosed      TCPState = "CLOSED"
)

const (
	DefaultMaxFlows = 10000
	DefaultIdleTime = 5 * time.Minute
)

// FlowKey is a normalized 5-tuple. Both directions map to the same flow.
type FlowKey struct {
	IP1      string
	IP2      string
	Port1    uint16
	Port2    uint16
	Protocol string
}

func MakeFlowKey(srcIP, dstIP string, srcPort, dstPort uint16, protocol string) FlowKey {
	// Normalize: smaller IP first; if IPs equal, smaller port first
	if srcIP < dstIP || (srcIP == dstIP && srcPort < dstPort) {
		return FlowKey{IP1: srcIP, IP2: dstIP, Port1: srcPort, Port2: dstPort, Protocol: protocol}
	}
	return FlowKey{IP1: dstIP, IP2: srcIP, Port1: dstPort, Port2: srcPort, Protocol: protocol}
}

// Flow holds statistics for a single conversation.
type Flow struct {
	ID          uint64   `json:"id"`
	SrcIP       string   `json:"srcIp"`
	DstIP       string   `json:"dstIp"`
	SrcPort     uint16   `json:"srcPort,omitempty"`
	DstPort     uint16   `json:"dstPort,omitempty"`
	Protocol    string   `json:"protocol"`
	PacketCount int      `json:"packetCount"`
	ByteCount   int64    `json:"byteCount"`
	FirstSeen   int64    `json:"firstSeen"` // unix ms
	LastSeen    int64    `json:"lastSeen"`  // unix ms
	TCPState    TCPState `json:"tcpState,omitempty"`
	FwdPackets  int      `json:"fwdPackets"`
	FwdBytes    int64    `json:"fwdBytes"`
	RevPackets  int      `json:"revPackets"`
	RevBytes    int64    `json:"revBytes"`
}

// TCPFlags holds parsed TCP flag bits.
type TCPFlags struct {
	SYN bool
	ACK bool
	FIN bool
	RST bool
	PSH bool
}

// ParseTCPFlags decodes a tshark "tcp.flags" value such as "0x0012".
func ParseTCPFlags(s string) (TCPFlags, bool) {
	s = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(s)), "0x")
	v, err := strconv.ParseUint(s, 16, 16)
	if err != nil {
		return TCPFlags{}, false
	}
	return TCPFlags{
		FIN: v&0x01 != 0,
		SYN: v&0x02 != 0,
		RST: v&0x04 != 0,
		PSH: v&0x08 != 0,
		ACK: v&0x10 != 0,
	}, true
}

// Tracker maintains the flow table of one capture.
type Tracker struct {
	mu       sync.Mutex
	flows    map[FlowKey]*Flow
	nextID   uint64
	maxFlows int
	idleTime time.Duration
}

// NewTracker creates a new flow tracker.
func NewTracker() *Tracker {
	return &Tracker{
		flows:    make(map[FlowKey]*Flow),
		maxFlows: DefaultMaxFlows,
		idleTime: DefaultIdleTime,
	}
}

// TrackRecord records a normalized packet. Records without a known source
// and destination are ignored; it returns 0 for them.
func (t *Tracker) TrackRecord(rec models.PacketRecord) uint64 {
	if rec.Source == parser.Unknown || rec.Destination == parser.Unknown {
		return 0
	}
	srcPort, dstPort, _ := parser.Ports(rec)
	flags, _ := ParseTCPFlags(parser.TCPFlags(rec))
	id, _ := t.Track(rec.Source, rec.Destination, srcPort, dstPort, transportOf(rec), rec.Length, flags, rec.Timestamp)
	return id
}

// transportOf names the flow protocol after the transport layer when the
// record has one, else after the top-level protocol.
func transportOf(rec models.PacketRecord) string {
	for _, name := range [...]string{"TCP", "UDP", "SCTP", "ICMP", "ICMPV6"} {
		if _, ok := rec.Layers[name]; ok {
			return name
		}
	}
	return rec.Protocol
}

// Track records a packet in the flow table and returns the flow ID and a copy of the flow.
func (t *Tracker) Track(srcIP, dstIP string, srcPort, dstPort uint16, protocol string, length int, flags TCPFlags, at time.Time) (uint64, Flow) {
	key := MakeFlowKey(srcIP, dstIP, srcPort, dstPort, protocol)
	now := at.UnixMilli()

	t.mu.Lock()
	defer t.mu.Unlock()

	f, exists := t.flows[key]
	if !exists {
		if len(t.flows) >= t.maxFlows {
			t.evict(now)
		}
		t.nextID++
		f = &Flow{
			ID:        t.nextID,
			SrcIP:     srcIP,
			DstIP:     dstIP,
			SrcPort:   srcPort,
			DstPort:   dstPort,
			Protocol:  protocol,
			FirstSeen: now,
		}
		if protocol == "TCP" {
			f.TCPState = TCPStateNew
		}
		t.flows[key] = f
	}

	f.PacketCount++
	f.ByteCount += int64(length)
	f.LastSeen = now

	// forward is the direction of the first packet seen
	if srcIP == f.SrcIP && srcPort == f.SrcPort {
		f.FwdPackets++
		f.FwdBytes += int64(length)
	} else {
		f.RevPackets++
		f.RevBytes += int64(length)
	}

	if protocol == "TCP" {
		f.TCPState = advanceTCPState(f.TCPState, flags)
	}

	return f.ID, *f
}

// Snapshot returns copies of all flows ordered by ID.
func (t *Tracker) Snapshot() []Flow {
	t.mu.Lock()
	defer t.mu.Unlock()

	result := make([]Flow, 0, len(t.flows))
	for _, f := range t.flows {
		result = append(result, *f)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result
}

// Len returns the number of tracked flows.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.flows)
}

// Reset clears all flows.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.flows = make(map[FlowKey]*Flow)
	t.nextID = 0
}

// evict drops idle flows; when none is idle it drops the least recently
// seen one so the table stays within maxFlows.
func (t *Tracker) evict(nowMs int64) {
	cutoff := nowMs - t.idleTime.Milliseconds()
	var oldestKey FlowKey
	var oldest *Flow
	for key, f := range t.flows {
		if f.LastSeen < cutoff {
			delete(t.flows, key)
			continue
		}
		if oldest == nil || f.LastSeen < oldest.LastSeen {
			oldestKey, oldest = key, f
		}
	}
	if len(t.flows) >= t.maxFlows && oldest != nil {
		delete(t.flows, oldestKey)
	}
}

func advanceTCPState(current TCPState, flags TCPFlags) TCPState {
	if flags.RST {
		return TCPStateClosed
	}

	switch current {
	case TCPStateNew:
		if flags.SYN && !flags.ACK {
			return TCPStateSynSent
		}
	case TCPStateSynSent:
		if flags.SYN && flags.ACK {
			return TCPStateSynReceived
		}
	case TCPStateSynReceived:
		if flags.ACK && !flags.SYN {
			return TCPStateEstablished
		}
	case TCPStateEstablished:
		if flags.FIN {
			return TCPStateFinWait
		}
	case TCPStateFinWait:
		if flags.FIN || flags.ACK {
			return TCPStateClosed
		}
	}
	return current
}

// String returns a human-readable description of the flow.
func (f Flow) String() string {
	return fmt.Sprintf("Flow#%d %s:%d <-> %s:%d [%s] pkts=%d bytes=%d",
		f.ID, f.SrcIP, f.SrcPort, f.DstIP, f.DstPort, f.Protocol, f.PacketCount, f.ByteCount)
}
