// Package handlers exposes the capture engine over HTTP and WebSocket.
package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"slices"
	"strings"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"livecap/internal/engine"
	"livecap/internal/flow"
	"livecap/internal/models"
)

// CaptureService is the part of the engine the handlers drive.
type CaptureService interface {
	GetInterfaces(ctx context.Context) ([]models.InterfaceInfo, error)
	StartCapture(ctx context.Context, id string, req models.StartCaptureRequest, client engine.Client) error
	StopCapture(id string)
	PauseCapture(id string)
	ResumeCapture(id string)
	ExportCapture(id, format string) (models.ExportComplete, error)
	CaptureFileInfo(id string) (models.CaptureFileInfo, error)
	Flows(id string) ([]flow.Flow, error)
	Release(id string)
	Active() int
}

var _ CaptureService = (*engine.Engine)(nil)

// RegisterRoutes sets up all HTTP routes on the given mux. An empty
// allowedOrigins list accepts WebSocket upgrades from any origin.
func RegisterRoutes(mux *http.ServeMux, svc CaptureService, allowedOrigins []string) {
	upgrader := &websocket.Upgrader{
		CheckOrigin: checkOrigin(allowedOrigins),
	}

	// WebSocket endpoint
	mux.HandleFunc("GET /ws", HandleWebSocket(svc, upgrader))

	mux.HandleFunc("GET /api/interfaces", handleInterfaces(svc))
	mux.HandleFunc("GET /healthz", handleHealth(svc))
}

func handleInterfaces(svc CaptureService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ifaces, err := svc.GetInterfaces(r.Context())
		if err != nil {
			log.WithError(err).Warn("interface discovery failed")
			writeJSON(w, http.StatusInternalServerError, models.ErrorPayload{Message: err.Error()})
			return
		}
		if ifaces == nil {
			ifaces = []models.InterfaceInfo{}
		}
		writeJSON(w, http.StatusOK, ifaces)
	}
}

type health struct {
	Status         string `json:"status"`
	ActiveCaptures int    `json:"activeCaptures"`
}

func handleHealth(svc CaptureService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, health{Status: "ok", ActiveCaptures: svc.Active()})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.WithError(err).Debug("write response")
	}
}

// checkOrigin accepts requests without an Origin header and those whose
// origin, or its host, is listed. "*" accepts everything.
func checkOrigin(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 || slices.Contains(allowed, "*") {
		return func(*http.Request) bool { return true }
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		for _, a := range allowed {
			if strings.EqualFold(a, origin) || strings.EqualFold(a, u.Host) {
				return true
			}
		}
		log.WithField("origin", origin).Warn("websocket origin rejected")
		return false
	}
}
