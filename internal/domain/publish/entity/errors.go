package entity

import (
	"errors"
	"fmt"
	"time"
)

// Domain errors for publish workflows
var (
	// Validation errors
	ErrUnknownPlatform     = errors.New("unknown platform")
	ErrEmptyAccountID      = errors.New("account ID is required")
	ErrEmptyTokenID        = errors.New("token ID is required")
	ErrEmptyPostID         = errors.New("post ID is required")
	ErrEmptyIdempotencyKey = errors.New("idempotency key is required")

	// Workflow errors
	ErrWorkflowNotFound  = errors.New("workflow not found")
	ErrWorkflowTerminal  = errors.New("workflow already in a terminal state")
	ErrCancelTooLate     = errors.New("remote publish already issued, cancel recorded as no-op")
	ErrRetryNotFailed    = errors.New("retry signal only applies to a failed workflow")
	ErrPublisherNotFound = errors.New("no publisher registered for platform")
)

// PolicyViolationError represents a terminal, non-retryable policy failure
type PolicyViolationError struct {
	Result PolicyCheckResult
}

func (e *PolicyViolationError) Error() string {
	if len(e.Result.Violations) == 0 {
		return "policy check failed"
	}
	v := e.Result.Violations[0]
	return fmt.Sprintf("policy violation on %s: %s", v.Field, v.Reason)
}

// RateLimitError represents an exhausted rate budget. RetryAfter tells the
// caller when a fresh attempt may be scheduled.
type RateLimitError struct {
	Platform   Platform
	AccountID  string
	Window     string
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate budget exhausted for %s/%s (%s window), retry after %s",
		e.Platform, e.AccountID, e.Window, e.RetryAfter)
}

// RetryAfterSeconds returns the retry delay rounded to whole seconds
func (e *RateLimitError) RetryAfterSeconds() int {
	return int(e.RetryAfter / time.Second)
}

// AuthenticationError represents a revoked or invalid credential.
// Terminal, requires human intervention.
type AuthenticationError struct {
	Platform Platform
	Reason   string
}

func (e *AuthenticationError) Error() string {
	return fmt.Sprintf("%s authentication failed: %s", e.Platform, e.Reason)
}

// ContentPolicyError represents a platform-side content rejection.
// Terminal, requires human intervention.
type ContentPolicyError struct {
	Platform Platform
	Reason   string
}

func (e *ContentPolicyError) Error() string {
	return fmt.Sprintf("%s rejected content: %s", e.Platform, e.Reason)
}

// TransientPublishError represents a retryable remote failure (5xx, remote
// rate limiting, timeouts)
type TransientPublishError struct {
	Platform Platform
	Reason   string
	Status   int
}

func (e *TransientPublishError) Error() string {
	return fmt.Sprintf("%s transient publish failure (status %d): %s", e.Platform, e.Status, e.Reason)
}

// Retryable classifies an error as safe to retry. Policy, auth and content
// rejections are terminal; everything else (including per-activity timeouts)
// is treated as transient.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	var (
		pv *PolicyViolationError
		ae *AuthenticationError
		ce *ContentPolicyError
	)
	if errors.As(err, &pv) || errors.As(err, &ae) || errors.As(err, &ce) {
		return false
	}
	return true
}

// FailureReason returns the structured reason code persisted alongside
// terminal failures so the post's final state is explainable from stored
// data alone.
func FailureReason(err error) string {
	var (
		pv *PolicyViolationError
		rl *RateLimitError
		ae *AuthenticationError
		ce *ContentPolicyError
		te *TransientPublishError
	)
	switch {
	case errors.As(err, &pv):
		return "policy_violation"
	case errors.As(err, &rl):
		return "rate_limited"
	case errors.As(err, &ae):
		return "authentication"
	case errors.As(err, &ce):
		return "content_policy"
	case errors.As(err, &te):
		return "transient_exhausted"
	default:
		return "internal"
	}
}
