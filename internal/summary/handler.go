package summary

import (
	"encoding/json"
	"net/http"

	"github.com/wolfman30/medinotes/internal/identity"
	"github.com/wolfman30/medinotes/internal/sse"
	"github.com/wolfman30/medinotes/pkg/logging"
)

// maxVisitBytes caps the request body; consultation notes are free text
// but never this large.
const maxVisitBytes = 1 << 20

// errorEventMessage is sent to the client when the provider fails mid
// stream. Provider errors stay in the logs.
const errorEventMessage = "summary generation failed"

// Handler serves POST /api/consultation.
type Handler struct {
	service *Service
	logger  *logging.Logger
}

func NewHandler(service *Service, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{service: service, logger: logger}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if _, ok := w.(http.Flusher); !ok {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "streaming unsupported"})
		return
	}

	var visit Visit
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxVisitBytes)).Decode(&visit); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if err := visit.Validate(); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	var caller Caller
	if claims, ok := identity.ClaimsFromContext(r.Context()); ok {
		caller.Subject = claims.Subject
		caller.SessionID = claims.SessionID
	}

	stream, err := h.service.Start(r.Context(), visit, caller)
	if err != nil {
		h.logger.Error("failed to open summary stream", "error", err, "subject", caller.Subject)
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": "summary provider unavailable"})
		return
	}

	w.Header().Set("X-Consultation-ID", stream.ID())
	sw, err := sse.NewWriter(w)
	if err != nil {
		_ = stream.Run(func(string) error { return err })
		return
	}

	var writeErr error
	runErr := stream.Run(func(text string) error {
		writeErr = sw.Fragment(text)
		return writeErr
	})
	switch {
	case runErr == nil:
		_ = sw.Event(sse.EventDone, "")
	case writeErr != nil || r.Context().Err() != nil:
		// Client is gone.
	default:
		_ = sw.Event(sse.EventError, errorEventMessage)
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
