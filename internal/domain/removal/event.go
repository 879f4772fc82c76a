package removal

import (
	"time"

	"github.com/google/uuid"
)

// EventAction identifies a state transition recorded in the audit trail
type EventAction string

const (
	EventRequestSubmitted EventAction = "request.submitted"
	EventRequestApproved  EventAction = "request.approved"
	EventRequestDenied    EventAction = "request.denied"
	EventRequestCompleted EventAction = "request.completed"
	EventRequestReset     EventAction = "request.reset"

	EventAttemptStarted   EventAction = "attempt.started"
	EventAttemptSucceeded EventAction = "attempt.succeeded"
	EventAttemptFailed    EventAction = "attempt.failed"
	EventAttemptSkipped   EventAction = "attempt.skipped"
	EventAttemptRetried   EventAction = "attempt.retried"

	EventRepairExecuted EventAction = "repair.executed"
)

// Event is one row of the organization-scoped audit trail. Every state
// transition in either ledger appends one, so the history of a request is
// fully reconstructable.
type Event struct {
	ID             uuid.UUID              `json:"id"`
	OrganizationID uuid.UUID              `json:"organization_id"`
	RequestID      *uuid.UUID             `json:"request_id,omitempty"`
	Actor          string                 `json:"actor"`
	Action         EventAction            `json:"action"`
	Detail         map[string]interface{} `json:"detail,omitempty"`
	OccurredAt     time.Time              `json:"occurred_at"`
}

// NewEvent creates an audit event tied to a request
func NewEvent(orgID uuid.UUID, requestID *uuid.UUID, actor string, action EventAction, detail map[string]interface{}) *Event {
	return &Event{
		ID:             uuid.New(),
		OrganizationID: orgID,
		RequestID:      requestID,
		Actor:          actor,
		Action:         action,
		Detail:         detail,
		OccurredAt:     time.Now().UTC(),
	}
}
