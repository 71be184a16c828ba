package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"livecap/internal/engine"
	"livecap/internal/models"
)

const (
	writeWait      = 5 * time.Second
	sendBuffer     = 512
	maxMessageSize = 64 << 10
)

// ErrClientClosed is returned by SendMessage once the connection is gone.
var ErrClientClosed = errors.New("websocket client closed")

// WSClient wraps a WebSocket connection and implements engine.Client. Each
// connection owns one capture session.
type WSClient struct {
	id     string
	conn   *websocket.Conn
	svc    CaptureService
	sendCh chan models.WSMessage
	done   chan struct{}
	once   sync.Once
	ctx    context.Context
	cancel context.CancelFunc
	log    *log.Entry
}

// NewWSClient creates a WSClient with a fresh session id and starts its
// writer.
func NewWSClient(conn *websocket.Conn, svc CaptureService) *WSClient {
	ctx, cancel := context.WithCancel(context.Background())
	id := uuid.NewString()
	c := &WSClient{
		id:     id,
		conn:   conn,
		svc:    svc,
		sendCh: make(chan models.WSMessage, sendBuffer),
		done:   make(chan struct{}),
		ctx:    ctx,
		cancel: cancel,
		log: log.WithFields(log.Fields{
			"session": id,
			"remote":  conn.RemoteAddr().String(),
		}),
	}
	go c.writeLoop()
	return c
}

// ID returns the session id of the connection.
func (c *WSClient) ID() string { return c.id }

// SendMessage queues msg for delivery. It blocks while the send buffer is
// full and fails once the connection is closed; nothing is dropped.
func (c *WSClient) SendMessage(msg models.WSMessage) error {
	select {
	case <-c.done:
		return ErrClientClosed
	default:
	}
	select {
	case c.sendCh <- msg:
		return nil
	case <-c.done:
		return ErrClientClosed
	}
}

// writeLoop drains the send channel and writes to the WebSocket.
func (c *WSClient) writeLoop() {
	defer c.conn.Close()
	for {
		select {
		case msg := <-c.sendCh:
			if !c.write(msg) {
				return
			}
			// Drain and batch-send any queued messages in a single write burst
			n := len(c.sendCh)
			for i := 0; i < n; i++ {
				if !c.write(<-c.sendCh) {
					return
				}
			}
		case <-c.done:
			return
		}
	}
}

func (c *WSClient) write(msg models.WSMessage) bool {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteJSON(msg); err != nil {
		c.log.WithError(err).Debug("websocket write failed")
		return false
	}
	return true
}

// ReadLoop reads messages from the client and dispatches commands until the
// connection closes. The connection's capture is then stopped and released.
func (c *WSClient) ReadLoop() {
	defer c.close()

	c.conn.SetReadLimit(maxMessageSize)
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.WithError(err).Debug("websocket closed unexpectedly")
			}
			return
		}
		var msg models.WSMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.sendError("invalid message format")
			continue
		}
		c.handleCommand(msg)
	}
}

func (c *WSClient) close() {
	c.once.Do(func() {
		c.cancel()
		close(c.done)
		c.svc.Release(c.id)
		c.log.Info("websocket client disconnected")
	})
}

func (c *WSClient) handleCommand(msg models.WSMessage) {
	switch msg.Type {
	case models.TypeGetInterfaces:
		ifaces, err := c.svc.GetInterfaces(c.ctx)
		if err != nil {
			c.sendError("failed to list interfaces: " + err.Error())
			return
		}
		if ifaces == nil {
			ifaces = []models.InterfaceInfo{}
		}
		c.send(models.TypeInterfaces, ifaces)

	case models.TypeStartCapture:
		var req models.StartCaptureRequest
		if err := json.Unmarshal(msg.Payload, &req); err != nil {
			c.sendError("invalid start_capture payload")
			return
		}
		if err := c.svc.StartCapture(c.ctx, c.id, req, c); err != nil {
			c.log.WithError(err).Warn("capture failed to start")
			c.sendError("capture failed: " + err.Error())
		}

	case models.TypeStopCapture:
		c.svc.StopCapture(c.id)

	case models.TypePauseCapture:
		c.svc.PauseCapture(c.id)

	case models.TypeResumeCapture:
		c.svc.ResumeCapture(c.id)

	case models.TypeExportCapture:
		var req models.ExportRequest
		if len(msg.Payload) > 0 {
			if err := json.Unmarshal(msg.Payload, &req); err != nil {
				c.sendError("invalid export_capture payload")
				return
			}
		}
		res, err := c.svc.ExportCapture(c.id, req.Format)
		if err != nil {
			reason := err.Error()
			var exportErr *engine.ExportError
			if errors.As(err, &exportErr) {
				reason = exportErr.Reason()
			}
			c.send(models.TypeExportError, models.ExportError{Reason: reason})
			return
		}
		c.send(models.TypeExportComplete, res)

	case models.TypeCaptureFileInfo:
		info, err := c.svc.CaptureFileInfo(c.id)
		if err != nil {
			c.sendError("capture file unavailable: " + err.Error())
			return
		}
		c.send(models.TypeCaptureFileInfo, info)

	case models.TypeGetFlows:
		flows, err := c.svc.Flows(c.id)
		if err != nil {
			c.sendError("flows unavailable: " + err.Error())
			return
		}
		c.send(models.TypeFlows, flows)

	default:
		c.sendError("unknown command: " + msg.Type)
	}
}

func (c *WSClient) send(typ string, payload any) {
	msg, err := models.NewMessage(typ, payload)
	if err != nil {
		c.log.WithError(err).WithField("type", typ).Error("encode message")
		return
	}
	_ = c.SendMessage(msg)
}

func (c *WSClient) sendError(message string) {
	c.send(models.TypeError, models.ErrorPayload{Message: message})
}

// HandleWebSocket is the HTTP handler for WebSocket upgrades.
func HandleWebSocket(svc CaptureService, upgrader *websocket.Upgrader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.WithError(err).WithField("remote", r.RemoteAddr).Warn("websocket upgrade failed")
			return
		}
		client := NewWSClient(conn, svc)
		client.log.Info("websocket client connected")
		client.ReadLoop()
	}
}
