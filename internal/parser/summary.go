package parser

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"livecap/internal/models"
)

const missing = "?"

// summarize renders the one-line info column. Transport layers are checked
// in fixed order: TCP, UDP, then ICMP.
func summarize(ls layerSet) string {
	switch {
	case ls.has("tcp"):
		tcp := ls.fields("tcp")
		flags := tcp.get("tcp.flags")
		if flags == "" {
			flags = "0"
		}
		return fmt.Sprintf("%s → %s [TCP] Flags: %s",
			orMissing(tcp.get("tcp.srcport")), orMissing(tcp.get("tcp.dstport")), flags)
	case ls.has("udp"):
		udp := ls.fields("udp")
		return fmt.Sprintf("%s → %s [UDP]",
			orMissing(udp.get("udp.srcport")), orMissing(udp.get("udp.dstport")))
	case ls.has("icmp"):
		icmp := ls.fields("icmp")
		return fmt.Sprintf("ICMP %s (%s)",
			orMissing(icmp.get("icmp.type")), orMissing(icmp.get("icmp.code")))
	default:
		return "Unknown protocol"
	}
}

func orMissing(s string) string {
	if s == "" {
		return missing
	}
	return s
}

// TCPFlags returns the raw "tcp.flags" value of a record, or "" when the
// record has no TCP layer.
func TCPFlags(rec models.PacketRecord) string {
	fm := recordLayer(rec, "TCP")
	return fm.get("tcp.flags")
}

func recordLayer(rec models.PacketRecord, name string) fieldMap {
	layer, ok := rec.Layers[name]
	if !ok || isNull(layer.Fields) {
		return nil
	}
	ls := layerSet{raw: map[string]json.RawMessage{layer.Name: layer.Fields}}
	return ls.fields(layer.Name)
}

// Ports returns the transport ports of a record, taken from its TCP or UDP
// layer. ok is false when neither layer carries both ports.
func Ports(rec models.PacketRecord) (src, dst uint16, ok bool) {
	for _, name := range [...]string{"TCP", "UDP"} {
		fm := recordLayer(rec, name)
		if fm == nil {
			continue
		}
		prefix := strings.ToLower(name) + "."
		s, err1 := strconv.ParseUint(fm.get(prefix+"srcport"), 10, 16)
		d, err2 := strconv.ParseUint(fm.get(prefix+"dstport"), 10, 16)
		if err1 != nil || err2 != nil {
			continue
		}
		return uint16(s), uint16(d), true
	}
	return 0, 0, false
}
