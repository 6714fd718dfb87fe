package entity

import "time"

// Step represents the coordinator state machine position
type Step string

const (
	StepInit         Step = "init"
	StepPolicyCheck  Step = "policy_check"
	StepRateReserved Step = "rate_reserved"
	StepPublishing   Step = "publishing"
	StepAwaitingAck  Step = "awaiting_ack"
	StepCompleted    Step = "completed"
	StepFailed       Step = "failed"
	StepCancelled    Step = "cancelled"
)

// stepOrdinals defines the monotonic ordering used both for progress
// reporting and for last-write-wins status persistence. Terminal steps share
// the top ordinal so that no later write can displace them.
var stepOrdinals = map[Step]int{
	StepInit:         0,
	StepPolicyCheck:  1,
	StepRateReserved: 2,
	StepPublishing:   3,
	StepAwaitingAck:  4,
	StepCompleted:    5,
	StepFailed:       5,
	StepCancelled:    5,
}

// Ordinal returns the monotonic position of the step
func (s Step) Ordinal() int {
	return stepOrdinals[s]
}

// Terminal reports whether the step ends the workflow
func (s Step) Terminal() bool {
	switch s {
	case StepCompleted, StepFailed, StepCancelled:
		return true
	default:
		return false
	}
}

// Progress returns a monotonic completion percentage derived from the step
// ordinal position
func (s Step) Progress() int {
	return s.Ordinal() * 100 / stepOrdinals[StepCompleted]
}

// WorkflowState represents the mutable state of one publish workflow.
// It is owned exclusively by the coordinator driving the instance.
type WorkflowState struct {
	Key           string     `json:"key"`
	Step          Step       `json:"step"`
	RetryCount    int        `json:"retry_count"`
	Error         string     `json:"error,omitempty"`
	ReservationID string     `json:"reservation_id,omitempty"`
	RemoteID      string     `json:"remote_id,omitempty"`
	RemoteURL     string     `json:"remote_url,omitempty"`
	StartedAt     time.Time  `json:"started_at"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
}

// PostStatus represents the durable post status written to the status store
type PostStatus string

const (
	PostStatusPending      PostStatus = "pending"
	PostStatusScheduled    PostStatus = "scheduled"
	PostStatusPublishing   PostStatus = "publishing"
	PostStatusLive         PostStatus = "live"
	PostStatusPolicyFailed PostStatus = "policy_failed"
	PostStatusRateLimited  PostStatus = "rate_limited"
	PostStatusFailed       PostStatus = "failed"
	PostStatusCancelled    PostStatus = "cancelled"
	PostStatusModerated    PostStatus = "moderated"
)

// Result represents the final outcome returned to the caller
type Result struct {
	Status     string      `json:"status"` // completed, cancelled, failed
	RemoteID   string      `json:"remote_id,omitempty"`
	RemoteURL  string      `json:"remote_url,omitempty"`
	Metrics    *AckMetrics `json:"metrics,omitempty"`
	DurationMs int64       `json:"duration_ms"`
}
