package http

import (
	"encoding/json"
	"errors"
	"mime"
	"net/http"
	"time"

	"shiporacle/attestation"
	"shiporacle/blockchain/types"
	core "shiporacle/ingestion/service/core"
	"shiporacle/storage/store"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

const maxBodyBytes = 1 << 20

// Handler serves the oracle's HTTP API
type Handler struct {
	svc    *core.Service
	hub    *EventHub
	logger *zap.Logger
}

// NewHandler creates a new Handler. hub may be nil, which disables /ws/events.
func NewHandler(s *core.Service, hub *EventHub, l *zap.Logger) *Handler {
	return &Handler{svc: s, hub: hub, logger: l.Named("http")}
}

// Routes builds the router
func (h *Handler) Routes(healthPath string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get(healthPath, h.HealthCheck)

	r.Route("/api", func(api chi.Router) {
		api.Post("/process-event", h.ProcessEvent)
		api.Get("/shipment/{shipment_id}", h.GetShipment)
		api.Get("/info", h.Info)
		api.Get("/llm-test", h.LLMTest)
	})

	r.Route("/v1/attestations", func(v1 chi.Router) {
		v1.Post("/", h.SubmitAttestation)
		v1.Get("/{request_id}", h.GetStatus)
	})

	if h.hub != nil {
		r.Get("/ws/events", h.hub.ServeHTTP)
	}
	return r
}

type attestRequest struct {
	EventDescription string `json:"event_description"`
	ShipmentID       string `json:"shipment_id,omitempty"`
}

type processEventResponse struct {
	Success bool `json:"success"`
	*resultView
	Error string `json:"error,omitempty"`
	Kind  string `json:"error_kind,omitempty"`
	Stage string `json:"error_stage,omitempty"`
}

// ProcessEvent handles POST /api/process-event: runs one attestation inline.
func (h *Handler) ProcessEvent(w http.ResponseWriter, r *http.Request) {
	var req attestRequest
	if !h.decode(w, r, &req) {
		return
	}

	res, err := h.svc.Attest(r.Context(), &core.AttestInput{EventDescription: req.EventDescription, ShipmentID: req.ShipmentID})
	resp := processEventResponse{Success: err == nil, resultView: viewOf(res)}
	if err != nil {
		resp.Error = err.Error()
		resp.Kind = string(attestation.KindOf(err))
		resp.Stage = string(attestation.StageOf(err))
		h.respondJSON(w, resp, statusFor(err))
		return
	}
	h.respondJSON(w, resp, http.StatusOK)
}

// SubmitAttestation handles POST /v1/attestations: queues one attestation.
func (h *Handler) SubmitAttestation(w http.ResponseWriter, r *http.Request) {
	var req attestRequest
	if !h.decode(w, r, &req) {
		return
	}

	result, err := h.svc.SubmitAttestation(r.Context(), &core.AttestInput{EventDescription: req.EventDescription, ShipmentID: req.ShipmentID})
	if err != nil {
		h.respondError(w, err.Error(), statusFor(err))
		return
	}
	h.respondJSON(w, result, http.StatusAccepted)
}

// GetStatus handles GET /v1/attestations/{request_id}
func (h *Handler) GetStatus(w http.ResponseWriter, r *http.Request) {
	st, err := h.svc.GetStatus(r.Context(), chi.URLParam(r, "request_id"))
	if err != nil {
		h.respondError(w, err.Error(), statusFor(err))
		return
	}
	h.respondJSON(w, st, http.StatusOK)
}

// GetShipment handles GET /api/shipment/{shipment_id}
func (h *Handler) GetShipment(w http.ResponseWriter, r *http.Request) {
	view, err := h.svc.GetShipment(r.Context(), chi.URLParam(r, "shipment_id"))
	if err != nil {
		h.respondError(w, err.Error(), statusFor(err))
		return
	}
	h.respondJSON(w, view, http.StatusOK)
}

// Info handles GET /api/info
func (h *Handler) Info(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, h.svc.Info(r.Context()), http.StatusOK)
}

// LLMTest handles GET /api/llm-test
func (h *Handler) LLMTest(w http.ResponseWriter, r *http.Request) {
	res := h.svc.LLMTest(r.Context())
	status := http.StatusOK
	if res.Error != "" {
		status = http.StatusBadGateway
	}
	h.respondJSON(w, res, status)
}

// HealthCheck handles GET /health requests
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	resp := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().Format(time.RFC3339Nano),
		"service":   "ingestion",
	}
	if h.hub != nil {
		resp["event_subscribers"] = h.hub.Clients()
	}
	h.respondJSON(w, resp, http.StatusOK)
}

// decode reads a JSON body, answering the request itself on failure.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type")); err != nil || mt != "application/json" {
		h.respondError(w, "Content-Type must be application/json", http.StatusBadRequest)
		return false
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.respondError(w, "Request body too large", http.StatusRequestEntityTooLarge)
			return false
		}
		h.logger.Debug("Failed to parse JSON request", zap.Error(err))
		h.respondError(w, "Bad Request: Invalid JSON format", http.StatusBadRequest)
		return false
	}
	return true
}

// statusFor maps service errors to HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, store.ErrNotFound), errors.Is(err, types.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, core.ErrAsyncDisabled):
		return http.StatusNotImplemented
	}
	switch attestation.ClassOf(err) {
	case attestation.ClassInvalid:
		return http.StatusBadRequest
	case attestation.ClassPermanent:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusServiceUnavailable
	}
}

// respondJSON sends JSON response
func (h *Handler) respondJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Warn("Failed to encode JSON response", zap.Error(err))
	}
}

// respondError sends error response
func (h *Handler) respondError(w http.ResponseWriter, message string, statusCode int) {
	errorResp := map[string]interface{}{
		"error":   message,
		"status":  statusCode,
		"message": http.StatusText(statusCode),
	}
	h.respondJSON(w, errorResp, statusCode)
}
