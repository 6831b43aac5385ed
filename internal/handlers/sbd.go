package handlers

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
)

// ============================================================================
// SBD Types
// ============================================================================

// TxSubmission represents an outbound SBD transmission request.
// @Description Outbound SBD message parameters
type TxSubmission struct {
	ReqID        uint16 `json:"req_id" example:"42"`
	TTL          uint16 `json:"ttl" example:"300"`
	Source       uint16 `json:"source" example:"31"`
	SourceEntity uint8  `json:"source_entity" example:"4"`
	Destination  uint16 `json:"destination" example:"16"`
	Data         string `json:"data"` // Base64 payload
}

// RateRequest represents a transmission rate change.
// @Description Maximum transmission rate parameters
type RateRequest struct {
	Seconds int `json:"seconds" example:"60"` // 0 = unlimited
}

// GatewayStatus represents the combined modem and queue state.
// @Description SBD gateway status
type GatewayStatus struct {
	Connected bool   `json:"connected"`
	Port      string `json:"port,omitempty"`
	IMEI      string `json:"imei,omitempty"`
	Model     string `json:"model,omitempty"`
	Signal    int    `json:"signal"`
	Busy      bool   `json:"busy"`
	Cooling   bool   `json:"cooling"`
	RingAlert bool   `json:"ring_alert"`
	QueuedMT  int    `json:"queued_mt"`
	QueueLen  int    `json:"queue_len"`
	ActiveMSN uint32 `json:"active_msn,omitempty"`
}

// signalDescriptions maps CSQ values to human descriptions.
var signalDescriptions = map[int]string{
	0: "No signal",
	1: "Poor (~-110 dBm, minimum for TX)",
	2: "Fair (~-108 dBm)",
	3: "Good (~-106 dBm)",
	4: "Very good (~-104 dBm)",
	5: "Excellent (~-102 dBm)",
}

// ============================================================================
// SBD Handlers
// ============================================================================

// SubmitTx accepts an outbound SBD transmission request.
// @Summary Submit SBD transmission request
// @Description Queues a mobile-originated SBD message for transmission
// @Tags SBD
// @Accept json
// @Produce json
// @Param request body TxSubmission true "Transmission parameters"
// @Success 202 {object} SuccessResponse
// @Failure 400 {object} ErrorResponse
// @Router /sbd/tx [post]
func (h *Handler) SubmitTx(w http.ResponseWriter, r *http.Request) {
	r = limitBody(r, 1<<20)

	var req TxSubmission
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}

	payload, err := base64.StdEncoding.DecodeString(req.Data)
	if err != nil {
		errorResponse(w, http.StatusBadRequest, "data is not valid base64")
		return
	}

	if err := validateTxSubmission(req, payload); err != nil {
		errorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	h.relay.Submit(req.toRequest(payload))
	jsonResponse(w, http.StatusAccepted, map[string]interface{}{
		"status": "accepted",
		"req_id": req.ReqID,
	})
}

// GetStatus returns the gateway status.
// @Summary Get SBD gateway status
// @Description Returns modem link state and transmission queue state
// @Tags SBD
// @Produce json
// @Success 200 {object} GatewayStatus
// @Router /sbd/status [get]
func (h *Handler) GetStatus(w http.ResponseWriter, r *http.Request) {
	modem := h.modem.Status()
	queue := h.relay.Snapshot()

	status := GatewayStatus{
		Connected: modem.Connected,
		Port:      modem.Port,
		IMEI:      modem.IMEI,
		Model:     modem.Model,
		Signal:    modem.Signal,
		Busy:      modem.Busy,
		Cooling:   modem.Cooling,
		RingAlert: modem.RingAlert,
		QueuedMT:  modem.QueuedMT,
		QueueLen:  queue.Depth,
	}
	if queue.Active != nil && queue.ActiveMSNValid {
		status.ActiveMSN = queue.ActiveMSN
	}

	jsonResponse(w, http.StatusOK, status)
}

// GetSignal returns the satellite signal quality.
// @Summary Get SBD signal
// @Description Returns Iridium signal quality (0-5)
// @Tags SBD
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Router /sbd/signal [get]
func (h *Handler) GetSignal(w http.ResponseWriter, r *http.Request) {
	signal := h.modem.Status().Signal
	desc, ok := signalDescriptions[signal]
	if !ok {
		desc = "Unknown"
	}

	jsonResponse(w, http.StatusOK, map[string]interface{}{
		"quality": signal,
		"bars":    signal,
		"status":  desc,
	})
}

// GetQueue returns pending transmission requests.
// @Summary List queued SBD requests
// @Description Returns pending requests in transmission order plus the in-flight request
// @Tags SBD
// @Produce json
// @Success 200 {object} sbd.QueueSnapshot
// @Router /sbd/queue [get]
func (h *Handler) GetQueue(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, http.StatusOK, h.relay.Snapshot())
}

// SetTxRate changes the maximum transmission rate.
// @Summary Set maximum transmission rate
// @Description Sets the minimum interval between SBD sessions (0 = unlimited)
// @Tags SBD
// @Accept json
// @Produce json
// @Param request body RateRequest true "Rate parameters"
// @Success 200 {object} SuccessResponse
// @Failure 400 {object} ErrorResponse
// @Router /sbd/rate [post]
func (h *Handler) SetTxRate(w http.ResponseWriter, r *http.Request) {
	var req RateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Seconds < 0 {
		errorResponse(w, http.StatusBadRequest, "seconds must not be negative")
		return
	}

	h.modem.SetTxRateMax(req.Seconds)
	successResponse(w, "transmission rate updated")
}
