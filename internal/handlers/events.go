package handlers

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"sbd-gateway/internal/sbd"
)

// Event represents one entry on the /sbd/events stream.
type Event struct {
	Type string      `json:"type"` // "tx_status" or "message"
	Time string      `json:"time"` // RFC3339 timestamp
	Data interface{} `json:"data"`
}

// txStatusEvent is the JSON shape of a lifecycle report on the stream.
type txStatusEvent struct {
	Destination       uint16 `json:"destination"`
	DestinationEntity uint8  `json:"destination_entity"`
	ReqID             uint16 `json:"req_id"`
	Status            string `json:"status"`
	Text              string `json:"text,omitempty"`
}

// messageEvent is the JSON shape of an inbound message on the stream.
type messageEvent struct {
	Source           uint16 `json:"source"`
	Destination      uint16 `json:"destination"`
	Data             string `json:"data"` // Base64 payload
	KeepSourceEntity bool   `json:"keep_source_entity"`
}

// EventHub fans request lifecycle reports and inbound messages out to SSE
// clients. It implements the core's status and message sinks. Slow clients
// have events dropped rather than blocking the queue manager.
type EventHub struct {
	mu           sync.RWMutex
	clients      map[uint64]chan Event
	nextClientID uint64
}

// NewEventHub creates an empty hub.
func NewEventHub() *EventHub {
	return &EventHub{clients: make(map[uint64]chan Event)}
}

// ReportTxStatus implements sbd.StatusSink.
func (h *EventHub) ReportTxStatus(s sbd.TxStatus) {
	h.emit(Event{
		Type: "tx_status",
		Data: txStatusEvent{
			Destination:       s.Destination,
			DestinationEntity: s.DestinationEntity,
			ReqID:             s.RequestID,
			Status:            s.Status.String(),
			Text:              s.Text,
		},
	})
}

// DeliverMessage implements sbd.MessageSink.
func (h *EventHub) DeliverMessage(m sbd.Message) {
	h.emit(Event{
		Type: "message",
		Data: messageEvent{
			Source:           m.Source,
			Destination:      m.Destination,
			Data:             base64.StdEncoding.EncodeToString(m.Payload),
			KeepSourceEntity: m.KeepSourceEntity,
		},
	})
}

// Subscribe registers a client and returns its channel plus an unsubscribe
// func.
func (h *EventHub) Subscribe() (<-chan Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := h.nextClientID
	h.nextClientID++

	ch := make(chan Event, 16)
	h.clients[id] = ch

	unsubscribe := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		delete(h.clients, id)
		close(ch)
	}

	return ch, unsubscribe
}

func (h *EventHub) emit(event Event) {
	event.Time = time.Now().UTC().Format(time.RFC3339)

	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, ch := range h.clients {
		select {
		case ch <- event:
		default:
			// Client is slow; drop the event rather than blocking
		}
	}
}

// StreamEvents serves the SSE event stream.
// @Summary Stream gateway events
// @Description Server-sent events: request status transitions and inbound messages
// @Tags SBD
// @Produce text/event-stream
// @Router /sbd/events [get]
func (h *Handler) StreamEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		errorResponse(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	events, unsubscribe := h.events.Subscribe()
	defer unsubscribe()

	// Keep-alive comments so proxies don't reap idle streams.
	keepalive := time.NewTicker(30 * time.Second)
	defer keepalive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-keepalive.C:
			fmt.Fprint(w, ": keepalive\n\n")
			flusher.Flush()
		case event := <-events:
			data, err := json.Marshal(event)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, data)
			flusher.Flush()
		}
	}
}
