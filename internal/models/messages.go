package models

import "encoding/json"

// Message types sent to and received from WebSocket clients.
const (
	TypeGetInterfaces   = "get_interfaces"
	TypeStartCapture    = "start_capture"
	TypeStopCapture     = "stop_capture"
	TypePauseCapture    = "pause_capture"
	TypeResumeCapture   = "resume_capture"
	TypeExportCapture   = "export_capture"
	TypeCaptureFileInfo = "capture_file_info"
	TypeGetFlows        = "get_flows"

	TypeInterfaces     = "interfaces"
	TypeCaptureStarted = "capture_started"
	TypePacketCaptured = "packet_captured"
	TypeCaptureStats   = "capture_stats"
	TypeCaptureError   = "capture_error"
	TypeCaptureStopped = "capture_stopped"
	TypeExportComplete = "export_complete"
	TypeExportError    = "export_error"
	TypeFlows          = "flows"
	TypeError          = "error"
)

// WSMessage is the envelope for all WebSocket communication.
type WSMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewMessage marshals payload into an envelope of the given type. A nil
// payload produces an envelope without one.
func NewMessage(typ string, payload any) (WSMessage, error) {
	if payload == nil {
		return WSMessage{Type: typ}, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return WSMessage{}, err
	}
	return WSMessage{Type: typ, Payload: raw}, nil
}

// StartCaptureRequest is sent by the client to begin a live capture.
type StartCaptureRequest struct {
	Interface string `json:"interface"`
	Filter    string `json:"filter,omitempty"`
}

// ExportRequest asks for the buffered packets in another format.
type ExportRequest struct {
	Format string `json:"format"`
}

// InterfaceInfo describes a network interface available for capture.
type InterfaceInfo struct {
	Index       int      `json:"index"`
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Addresses   []string `json:"addresses,omitempty"`
}

// CaptureStarted is announced once the capture process runs.
type CaptureStarted struct {
	Interface   string `json:"interface"`
	Filter      string `json:"filter"`
	CaptureFile string `json:"captureFile"`
}

// CaptureStats reports running capture statistics.
type CaptureStats struct {
	TotalPackets    int   `json:"totalPackets"`
	BufferedPackets int   `json:"bufferedPackets"`
	DurationMs      int64 `json:"durationMs"`
}

// CaptureError carries diagnostic output of the capture process verbatim.
type CaptureError struct {
	Text string `json:"text"`
}

// CaptureStopped is sent when the capture process has exited.
type CaptureStopped struct {
	Code         int `json:"code"`
	TotalPackets int `json:"totalPackets"`
}

// ExportComplete describes a finished export.
type ExportComplete struct {
	File    string `json:"file"`
	Format  string `json:"format"`
	Packets *int   `json:"packets,omitempty"`
}

// ExportError explains why an export did not happen.
type ExportError struct {
	Reason string `json:"reason"`
}

// CaptureFileInfo summarizes the native capture file on disk.
type CaptureFileInfo struct {
	File           string         `json:"file"`
	Format         string         `json:"format"`
	LinkType       string         `json:"linkType"`
	Packets        int            `json:"packets"`
	Bytes          int64          `json:"bytes"`
	LayerCounts    map[string]int `json:"layerCounts,omitempty"`
	FirstTimestamp string         `json:"firstTimestamp,omitempty"`
	LastTimestamp  string         `json:"lastTimestamp,omitempty"`
}

// ErrorPayload describes an error sent to the client.
type ErrorPayload struct {
	Message string `json:"message"`
}
