package models

import (
	"encoding/json"
	"time"
)

// PacketRecord is one normalized packet, built from a single decode unit
// emitted by the capture tool. It is not modified after creation.
type PacketRecord struct {
	ID          string                 `json:"id"`
	Number      int                    `json:"number"`
	Timestamp   time.Time              `json:"timestamp"`
	Source      string                 `json:"source"`
	Destination string                 `json:"destination"`
	Protocol    string                 `json:"protocol"`
	Length      int                    `json:"length"`
	Info        string                 `json:"info"`
	Layers      map[string]LayerDetail `json:"layers"`
	Raw         json.RawMessage        `json:"raw"`
}

// LayerDetail represents one protocol layer in the packet. Name is the
// decoder's layer name; Fields holds the layer's field mapping exactly as the
// decoder produced it. Records key their layers by the uppercased name.
type LayerDetail struct {
	Name   string          `json:"name"`
	Fields json.RawMessage `json:"fields"`
}
