package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/sevendev/crosspost/internal/domain/publish/coordinator"
	"github.com/sevendev/crosspost/internal/domain/publish/entity"
	"github.com/sevendev/crosspost/internal/httpx/response"
	"github.com/sevendev/crosspost/internal/workflow"
)

// PublishCoordinator defines the workflow operations the handler needs.
// Interface is defined by consumer (handler), not provider (coordinator).
type PublishCoordinator interface {
	Submit(ctx context.Context, req *entity.PublishRequest) (*workflow.Run, bool, error)
	Cancel(key, reason string) error
	Retry(ctx context.Context, key string) (*workflow.Run, error)
	GetState(key string) (entity.WorkflowState, error)
	GetProgress(key string) (coordinator.Progress, error)
}

// PublishHandler handles HTTP requests for publish workflows
type PublishHandler struct {
	coord PublishCoordinator
}

// NewPublishHandler creates a new publish handler
func NewPublishHandler(c PublishCoordinator) *PublishHandler {
	return &PublishHandler{coord: c}
}

// RegisterRoutes registers publish routes
func (h *PublishHandler) RegisterRoutes(r chi.Router) {
	r.Route("/publish", func(r chi.Router) {
		r.Post("/", h.Submit())
		r.Get("/{key}/state", h.State())
		r.Get("/{key}/progress", h.Progress())
		r.Post("/{key}/cancel", h.Cancel())
		r.Post("/{key}/retry", h.Retry())
	})
}

// SubmitRequest represents the request body for submitting a publish
type SubmitRequest struct {
	Platform       string           `json:"platform"`
	AccountID      string           `json:"account_id"`
	TokenID        string           `json:"token_id"`
	MediaRef       string           `json:"media_ref,omitempty"`
	Caption        string           `json:"caption"`
	Hashtags       []string         `json:"hashtags,omitempty"`
	Mentions       []string         `json:"mentions,omitempty"`
	Location       *entity.Location `json:"location,omitempty"`
	ScheduleAt     *string          `json:"schedule_at,omitempty"` // RFC3339 format
	PostID         string           `json:"post_id"`
	CreatorID      string           `json:"creator_id"`
	IdempotencyKey string           `json:"idempotency_key"`
}

// SubmitResponse represents the response body for a submitted publish
type SubmitResponse struct {
	Key      string               `json:"key"`
	Attached bool                 `json:"attached"`
	State    entity.WorkflowState `json:"state"`
}

// Submit handles POST /publish
func (h *PublishHandler) Submit() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req SubmitRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.BadRequest(w, "invalid JSON")
			return
		}

		var scheduleAt *time.Time
		if req.ScheduleAt != nil && *req.ScheduleAt != "" {
			t, err := time.Parse(time.RFC3339, *req.ScheduleAt)
			if err != nil {
				response.BadRequest(w, "invalid schedule_at format, use RFC3339")
				return
			}
			scheduleAt = &t
		}

		pubReq := &entity.PublishRequest{
			Platform:       entity.Platform(req.Platform),
			AccountID:      req.AccountID,
			TokenID:        req.TokenID,
			MediaRef:       req.MediaRef,
			Caption:        req.Caption,
			Hashtags:       req.Hashtags,
			Mentions:       req.Mentions,
			Location:       req.Location,
			ScheduleAt:     scheduleAt,
			PostID:         req.PostID,
			CreatorID:      req.CreatorID,
			IdempotencyKey: req.IdempotencyKey,
		}

		run, started, err := h.coord.Submit(r.Context(), pubReq)
		if err != nil {
			handleDomainError(w, err)
			return
		}

		response.Accepted(w, SubmitResponse{
			Key:      run.Key(),
			Attached: !started,
			State:    run.State(),
		})
	}
}

// State handles GET /publish/{key}/state
func (h *PublishHandler) State() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		state, err := h.coord.GetState(chi.URLParam(r, "key"))
		if err != nil {
			handleDomainError(w, err)
			return
		}
		response.OK(w, state)
	}
}

// Progress handles GET /publish/{key}/progress
func (h *PublishHandler) Progress() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		progress, err := h.coord.GetProgress(chi.URLParam(r, "key"))
		if err != nil {
			handleDomainError(w, err)
			return
		}
		response.OK(w, progress)
	}
}

// CancelRequest represents the request body for cancelling a workflow
type CancelRequest struct {
	Reason string `json:"reason"`
}

// Cancel handles POST /publish/{key}/cancel
func (h *PublishHandler) Cancel() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CancelRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.BadRequest(w, "invalid JSON")
			return
		}
		if req.Reason == "" {
			req.Reason = "cancelled by caller"
		}

		if err := h.coord.Cancel(chi.URLParam(r, "key"), req.Reason); err != nil {
			handleDomainError(w, err)
			return
		}
		response.Accepted(w, map[string]string{"status": "cancel requested"})
	}
}

// Retry handles POST /publish/{key}/retry
func (h *PublishHandler) Retry() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		run, err := h.coord.Retry(r.Context(), chi.URLParam(r, "key"))
		if err != nil {
			handleDomainError(w, err)
			return
		}
		response.Accepted(w, SubmitResponse{
			Key:   run.Key(),
			State: run.State(),
		})
	}
}

func handleDomainError(w http.ResponseWriter, err error) {
	var rateErr *entity.RateLimitError
	if errors.As(err, &rateErr) {
		response.TooManyRequests(w, err.Error(), rateErr.RetryAfterSeconds())
		return
	}

	switch {
	case errors.Is(err, entity.ErrWorkflowNotFound):
		response.NotFound(w, err.Error())
	case errors.Is(err, entity.ErrWorkflowTerminal),
		errors.Is(err, entity.ErrRetryNotFailed),
		errors.Is(err, entity.ErrCancelTooLate):
		response.Conflict(w, err.Error())
	case errors.Is(err, entity.ErrUnknownPlatform),
		errors.Is(err, entity.ErrEmptyAccountID),
		errors.Is(err, entity.ErrEmptyTokenID),
		errors.Is(err, entity.ErrEmptyPostID),
		errors.Is(err, entity.ErrEmptyIdempotencyKey):
		response.BadRequest(w, err.Error())
	default:
		response.InternalError(w, "internal server error")
	}
}
