package handlers

import (
	"encoding/json"
	"io"
	"net/http"

	"sbd-gateway/internal/driver"
	"sbd-gateway/internal/sbd"
)

// Relay is the queue-manager surface the HTTP layer needs.
type Relay interface {
	Submit(req *sbd.TxRequest)
	Snapshot() sbd.QueueSnapshot
}

// Modem is the driver surface the HTTP layer needs.
type Modem interface {
	Status() driver.Status
	SetTxRateMax(seconds int)
}

// Handler serves the gateway's HTTP API.
type Handler struct {
	relay  Relay
	modem  Modem
	events *EventHub
}

// NewHandler creates a handler over the queue manager, modem driver and
// event hub.
func NewHandler(relay Relay, modem Modem, events *EventHub) *Handler {
	return &Handler{relay: relay, modem: modem, events: events}
}

// Response helpers
func jsonResponse(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func errorResponse(w http.ResponseWriter, status int, message string) {
	jsonResponse(w, status, map[string]interface{}{
		"error": message,
		"code":  status,
	})
}

func successResponse(w http.ResponseWriter, message string) {
	jsonResponse(w, http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"message": message,
	})
}

// limitBody caps the request body size.
func limitBody(r *http.Request, n int64) *http.Request {
	r.Body = http.MaxBytesReader(nil, r.Body, n)
	return r
}

// HealthCheck reports service liveness.
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	io.WriteString(w, `{"status":"ok","service":"sbd-gateway"}`)
}
