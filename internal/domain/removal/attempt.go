package removal

import (
	"time"

	"github.com/google/uuid"

	"github.com/davidleathers/dnc-propagation-backend/internal/domain/errors"
	"github.com/davidleathers/dnc-propagation-backend/internal/domain/values"
)

// AttemptStatus represents the state of one propagation attempt
type AttemptStatus string

const (
	AttemptStatusPending    AttemptStatus = "pending"
	AttemptStatusInProgress AttemptStatus = "in_progress"
	AttemptStatusSuccess    AttemptStatus = "success"
	AttemptStatusFailed     AttemptStatus = "failed"
	AttemptStatusSkipped    AttemptStatus = "skipped"
)

// IsTerminal reports whether the status is final. Terminal attempts are never
// mutated; a retry creates a new row with the next attempt_no.
func (s AttemptStatus) IsTerminal() bool {
	switch s {
	case AttemptStatusSuccess, AttemptStatusFailed, AttemptStatusSkipped:
		return true
	}
	return false
}

// IsOpen reports whether the attempt still occupies the single open slot for
// its (request, provider) pair.
func (s AttemptStatus) IsOpen() bool {
	return s == AttemptStatusPending || s == AttemptStatusInProgress
}

// Attempt is one recorded try to synchronize a request's outcome with one
// external provider. Keyed by (request_id, provider_key, attempt_no).
type Attempt struct {
	ID             uuid.UUID          `json:"id"`
	OrganizationID uuid.UUID          `json:"organization_id"`
	RequestID      uuid.UUID          `json:"request_id"`
	Phone          values.PhoneNumber `json:"phone"`
	ProviderKey    string             `json:"provider_key"`
	AttemptNo      int                `json:"attempt_no"`
	Status         AttemptStatus      `json:"status"`

	RequestPayload  map[string]interface{} `json:"request_payload,omitempty"`
	ResponsePayload map[string]interface{} `json:"response_payload,omitempty"`
	ErrorMessage    *string                `json:"error_message,omitempty"`

	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// NewAttempt creates a pending attempt for one provider
func NewAttempt(req *Request, providerKey string, attemptNo int) (*Attempt, error) {
	if providerKey == "" {
		return nil, errors.NewValidationError("INVALID_PROVIDER", "provider key cannot be empty")
	}
	if attemptNo < 1 {
		return nil, errors.NewValidationError("INVALID_ATTEMPT_NO", "attempt number is 1-based")
	}

	return &Attempt{
		ID:             uuid.New(),
		OrganizationID: req.OrganizationID,
		RequestID:      req.ID,
		Phone:          req.Phone,
		ProviderKey:    providerKey,
		AttemptNo:      attemptNo,
		Status:         AttemptStatusPending,
		StartedAt:      time.Now().UTC(),
	}, nil
}

// Start transitions pending → in_progress before the provider's Add call
func (a *Attempt) Start(requestPayload map[string]interface{}) error {
	if !a.Status.IsOpen() {
		return a.terminalMutation()
	}
	a.Status = AttemptStatusInProgress
	a.RequestPayload = requestPayload
	return nil
}

// Succeed records a successful push to the provider
func (a *Attempt) Succeed(responsePayload map[string]interface{}) error {
	if a.Status.IsTerminal() {
		return a.terminalMutation()
	}
	now := time.Now().UTC()
	a.Status = AttemptStatusSuccess
	a.ResponsePayload = responsePayload
	a.FinishedAt = &now
	return nil
}

// SucceedAlreadyListed records that the provider already had the number.
// The distinction from a push we caused is preserved in the payload so audit
// reporting can tell "verified compliant" from "we did this".
func (a *Attempt) SucceedAlreadyListed() error {
	return a.Succeed(map[string]interface{}{"already_listed": true})
}

// Fail records a terminal failure; a future retry creates a new attempt row
func (a *Attempt) Fail(message string) error {
	if a.Status.IsTerminal() {
		return a.terminalMutation()
	}
	now := time.Now().UTC()
	a.Status = AttemptStatusFailed
	a.ErrorMessage = &message
	a.FinishedAt = &now
	return nil
}

// Skip records that the provider is disabled for the organization; no
// adapter call was made.
func (a *Attempt) Skip(reason string) error {
	if a.Status.IsTerminal() {
		return a.terminalMutation()
	}
	now := time.Now().UTC()
	a.Status = AttemptStatusSkipped
	a.ResponsePayload = map[string]interface{}{"skipped_reason": reason}
	a.FinishedAt = &now
	return nil
}

// AlreadyListed reports whether this attempt completed because the provider
// already had the number, rather than because we pushed it.
func (a *Attempt) AlreadyListed() bool {
	if a.Status != AttemptStatusSuccess || a.ResponsePayload == nil {
		return false
	}
	listed, ok := a.ResponsePayload["already_listed"].(bool)
	return ok && listed
}

func (a *Attempt) terminalMutation() error {
	return errors.NewInvalidStateError("ATTEMPT_TERMINAL",
		"attempt has reached a terminal state and cannot be mutated").WithDetails(map[string]interface{}{
		"attempt_id": a.ID.String(),
		"status":     string(a.Status),
	})
}
