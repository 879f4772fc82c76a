package removal

import (
	"time"

	"github.com/google/uuid"

	"github.com/davidleathers/dnc-propagation-backend/internal/domain/removal"
)

// SubmitInput carries one inbound removal request
type SubmitInput struct {
	OrganizationID uuid.UUID
	Phone          string
	Reason         string
	Channel        removal.RequestChannel
	RequestedBy    uuid.UUID
}

// DecisionInput carries an approve or deny action on one request
type DecisionInput struct {
	OrganizationID uuid.UUID
	RequestID      uuid.UUID
	Reviewer       uuid.UUID
	Notes          string
}

// BulkDecisionInput carries a decision applied to many requests at once
type BulkDecisionInput struct {
	OrganizationID uuid.UUID
	RequestIDs     []uuid.UUID
	Reviewer       uuid.UUID
	Notes          string
}

// BulkResult reports the outcome for one request within a bulk decision.
// Bulk operations continue past individual failures; callers inspect each
// entry rather than receiving a single error.
type BulkResult struct {
	RequestID uuid.UUID `json:"request_id"`
	OK        bool      `json:"ok"`
	Error     string    `json:"error,omitempty"`
}

// ApproveResult is returned from a successful approval
type ApproveResult struct {
	Request  *removal.Request `json:"request"`
	Attempts int              `json:"attempts_created"`
}

// PropagationState summarizes where a request's fan-out stands
type PropagationState string

const (
	PropagationNotStarted PropagationState = "not_started"
	PropagationInProgress PropagationState = "in_progress"
	PropagationIncomplete PropagationState = "incomplete"
	PropagationComplete   PropagationState = "complete"
)

// ProviderAttemptView is the latest attempt for one provider, plus how many
// tries it took to get there
type ProviderAttemptView struct {
	ProviderKey   string                 `json:"provider_key"`
	Status        removal.AttemptStatus  `json:"status"`
	AttemptNo     int                    `json:"attempt_no"`
	AlreadyListed bool                   `json:"already_listed,omitempty"`
	ErrorMessage  *string                `json:"error_message,omitempty"`
	Detail        map[string]interface{} `json:"detail,omitempty"`
	StartedAt     time.Time              `json:"started_at"`
	FinishedAt    *time.Time             `json:"finished_at,omitempty"`
}

// RequestStatusView aggregates a request with its per-provider attempt state
type RequestStatusView struct {
	Request     *removal.Request      `json:"request"`
	Propagation PropagationState      `json:"propagation"`
	Providers   []ProviderAttemptView `json:"providers"`
}
