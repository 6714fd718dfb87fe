package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sevendev/crosspost/internal/domain/webhook/entity"
	"github.com/sevendev/crosspost/internal/httpx/response"
)

// WebhookCorrelator defines the ingestion operation the handler needs
type WebhookCorrelator interface {
	Handle(ctx context.Context, event *entity.Event) error
}

// WebhookHandler handles inbound provider webhook deliveries
type WebhookHandler struct {
	correlator WebhookCorrelator
}

// NewWebhookHandler creates a new webhook handler
func NewWebhookHandler(c WebhookCorrelator) *WebhookHandler {
	return &WebhookHandler{correlator: c}
}

// RegisterRoutes registers webhook routes
func (h *WebhookHandler) RegisterRoutes(r chi.Router) {
	r.Post("/webhooks/{provider}", h.Receive())
}

// WebhookRequest represents the provider delivery envelope
type WebhookRequest struct {
	EventID    string          `json:"event_id"`
	EventType  string          `json:"event_type"`
	PlatformID string          `json:"platform_id,omitempty"`
	Payload    json.RawMessage `json:"payload"`
}

// Receive handles POST /webhooks/{provider}. Providers retry on non-2xx, so
// everything accepted or deliberately ignored answers 200; only a malformed
// body is a 400.
func (h *WebhookHandler) Receive() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req WebhookRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.BadRequest(w, "invalid JSON")
			return
		}

		event := &entity.Event{
			Provider:   entity.Provider(chi.URLParam(r, "provider")),
			EventID:    req.EventID,
			EventType:  req.EventType,
			PlatformID: req.PlatformID,
			Payload:    req.Payload,
		}

		if err := h.correlator.Handle(r.Context(), event); err != nil {
			switch {
			case errors.Is(err, entity.ErrUnknownProvider),
				errors.Is(err, entity.ErrEmptyEventID):
				// Well-formed but unroutable. A 4xx would make the
				// provider redeliver forever, so acknowledge and drop.
				response.OK(w, map[string]string{"status": "ignored"})
			default:
				response.InternalError(w, "internal server error")
			}
			return
		}
		response.OK(w, map[string]string{"status": "accepted"})
	}
}
