package parser

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"livecap/internal/models"
)

// Unknown is reported for fields the decode unit does not carry.
const Unknown = "Unknown"

// ErrNotPacket is returned for units that carry no packet, such as the bulk
// index lines of tshark's ek output.
var ErrNotPacket = errors.New("unit describes no packet")

// DecodeError reports a decode unit that is not a structured packet
// description. The unit is kept for diagnostics.
type DecodeError struct {
	Unit []byte
	Err  error
}

func (e *DecodeError) Error() string {
	const limit = 120
	unit := e.Unit
	if len(unit) > limit {
		unit = unit[:limit]
	}
	return fmt.Sprintf("decode unit %q: %v", unit, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// rawPacket is the outer shape of one tshark packet. The json and jsonraw
// modes nest the layers under _source; ek puts them at the top level and
// precedes every packet with a bulk index line.
type rawPacket struct {
	Index  json.RawMessage `json:"_index"`
	Source *struct {
		Layers json.RawMessage `json:"layers"`
	} `json:"_source"`
	Layers    json.RawMessage `json:"layers"`
	BulkIndex json.RawMessage `json:"index"`
}

func (p rawPacket) layers() json.RawMessage {
	if p.Source != nil {
		return p.Source.Layers
	}
	return p.Layers
}

// Normalize converts one decode unit into a PacketRecord stamped with
// capturedAt. It fails with a *DecodeError when the unit is not a JSON object
// or its layer mapping is not an object, and with ErrNotPacket for ek index
// lines.
func Normalize(unit []byte, capturedAt time.Time) (models.PacketRecord, error) {
	unit = bytes.TrimSpace(unit)
	if len(unit) == 0 || unit[0] != '{' {
		return models.PacketRecord{}, &DecodeError{Unit: unit, Err: fmt.Errorf("not a JSON object")}
	}

	var pkt rawPacket
	if err := json.Unmarshal(unit, &pkt); err != nil {
		return models.PacketRecord{}, &DecodeError{Unit: unit, Err: err}
	}

	if !isNull(pkt.BulkIndex) && pkt.Source == nil && isNull(pkt.Layers) {
		return models.PacketRecord{}, ErrNotPacket
	}

	ls := layerSet{}
	if raw := pkt.layers(); !isNull(raw) {
		if err := json.Unmarshal(raw, &ls.raw); err != nil {
			return models.PacketRecord{}, &DecodeError{Unit: unit, Err: fmt.Errorf("layers: %w", err)}
		}
	}

	frame := ls.fields("frame")
	ip := ls.fields("ip")
	ipv6 := ls.fields("ipv6")

	return models.PacketRecord{
		ID:          uuid.NewString(),
		Number:      packetNumber(pkt.Index, frame),
		Timestamp:   capturedAt,
		Source:      firstOf(ip.get("ip.src"), ipv6.get("ipv6.src")),
		Destination: firstOf(ip.get("ip.dst"), ipv6.get("ipv6.dst")),
		Protocol:    protocolOf(frame),
		Length:      atoi(frame.get("frame.len")),
		Info:        summarize(ls),
		Layers:      ls.details(),
		Raw:         append(json.RawMessage(nil), unit...),
	}, nil
}

// protocolOf returns the last entry of the frame's protocol chain, uppercased.
func protocolOf(frame fieldMap) string {
	chain := frame.get("frame.protocols")
	if chain == "" {
		return Unknown
	}
	last := chain[strings.LastIndexByte(chain, ':')+1:]
	if last == "" {
		return Unknown
	}
	return strings.ToUpper(last)
}

func packetNumber(index json.RawMessage, frame fieldMap) int {
	if !isNull(index) {
		var n json.Number
		if err := json.Unmarshal(index, &n); err == nil {
			if v, err := n.Int64(); err == nil {
				return int(v)
			}
		}
		var s string
		if err := json.Unmarshal(index, &s); err == nil {
			if v, err := strconv.Atoi(s); err == nil {
				return v
			}
		}
	}
	return atoi(frame.get("frame.number"))
}

func firstOf(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return Unknown
}

func atoi(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}

func isNull(raw json.RawMessage) bool {
	return len(raw) == 0 || bytes.Equal(raw, []byte("null"))
}
