package removal

import (
	"time"

	"github.com/google/uuid"

	"github.com/davidleathers/dnc-propagation-backend/internal/domain/errors"
	"github.com/davidleathers/dnc-propagation-backend/internal/domain/values"
)

// RequestStatus represents the lifecycle state of a removal request
type RequestStatus string

const (
	RequestStatusPending  RequestStatus = "pending"
	RequestStatusApproved RequestStatus = "approved"
	RequestStatusDenied   RequestStatus = "denied"
)

// RequestChannel records how the removal request reached us
type RequestChannel string

const (
	ChannelWeb    RequestChannel = "web"
	ChannelPhone  RequestChannel = "phone"
	ChannelEmail  RequestChannel = "email"
	ChannelBulk   RequestChannel = "bulk_upload"
	ChannelManual RequestChannel = "manual"
)

// Request represents one decision record to add a phone number to an
// organization's Do-Not-Call list. This is the authoritative ledger entry;
// propagation to external providers is tracked separately via Attempts.
type Request struct {
	ID             uuid.UUID          `json:"id"`
	OrganizationID uuid.UUID          `json:"organization_id"`
	Phone          values.PhoneNumber `json:"phone"`
	Reason         string             `json:"reason"`
	Channel        RequestChannel     `json:"channel"`
	Status         RequestStatus      `json:"status"`

	RequestedBy   uuid.UUID  `json:"requested_by"`
	ReviewedBy    *uuid.UUID `json:"reviewed_by,omitempty"`
	DecisionNotes *string    `json:"decision_notes,omitempty"`

	SubmittedAt time.Time  `json:"submitted_at"`
	DecidedAt   *time.Time `json:"decided_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// NewRequest creates a pending removal request with validation.
// All business rules and validation are enforced in the constructor.
func NewRequest(orgID uuid.UUID, phone, reason string, channel RequestChannel, requestedBy uuid.UUID) (*Request, error) {
	if orgID == uuid.Nil {
		return nil, errors.NewValidationError("INVALID_ORGANIZATION", "organization ID cannot be empty")
	}
	if requestedBy == uuid.Nil {
		return nil, errors.NewValidationError("INVALID_USER", "requested by user ID cannot be empty")
	}

	number, err := values.NewPhoneNumber(phone)
	if err != nil {
		return nil, errors.NewValidationError("INVALID_PHONE_NUMBER", "phone cannot be normalized to a 10-digit domestic number").WithCause(err)
	}

	if channel == "" {
		channel = ChannelManual
	}

	return &Request{
		ID:             uuid.New(),
		OrganizationID: orgID,
		Phone:          number,
		Reason:         reason,
		Channel:        channel,
		Status:         RequestStatusPending,
		RequestedBy:    requestedBy,
		SubmittedAt:    time.Now().UTC(),
	}, nil
}

// Approve transitions the request pending → approved. It is the caller's
// responsibility to persist the flip and the per-provider attempt rows in a
// single transaction.
func (r *Request) Approve(reviewer uuid.UUID, notes string) error {
	return r.decide(RequestStatusApproved, reviewer, notes)
}

// Deny transitions the request pending → denied. No attempts are created.
func (r *Request) Deny(reviewer uuid.UUID, notes string) error {
	return r.decide(RequestStatusDenied, reviewer, notes)
}

func (r *Request) decide(target RequestStatus, reviewer uuid.UUID, notes string) error {
	if reviewer == uuid.Nil {
		return errors.NewValidationError("INVALID_USER", "reviewer ID cannot be empty")
	}
	if r.Status != RequestStatusPending {
		return errors.ErrRequestNotPending.WithDetails(map[string]interface{}{
			"request_id": r.ID.String(),
			"status":     string(r.Status),
		})
	}

	now := time.Now().UTC()
	r.Status = target
	r.ReviewedBy = &reviewer
	r.DecidedAt = &now
	if notes != "" {
		r.DecisionNotes = &notes
	}
	return nil
}

// MarkCompleted stamps completed_at once every enabled provider has reached a
// clean terminal state (success or skipped).
func (r *Request) MarkCompleted(at time.Time) error {
	if r.Status != RequestStatusApproved {
		return errors.NewInvalidStateError("REQUEST_NOT_APPROVED", "only approved requests can be completed")
	}
	t := at.UTC()
	r.CompletedAt = &t
	return nil
}

// ResetToPending reverts an approved-but-stuck request so it can be
// re-approved. Used only by the consistency auditor's repair path.
func (r *Request) ResetToPending() error {
	if r.Status != RequestStatusApproved {
		return errors.NewInvalidStateError("REQUEST_NOT_APPROVED", "only approved requests can be reset")
	}
	r.Status = RequestStatusPending
	r.ReviewedBy = nil
	r.DecisionNotes = nil
	r.DecidedAt = nil
	r.CompletedAt = nil
	return nil
}

// IsDecided reports whether an approve/deny decision has been recorded
func (r *Request) IsDecided() bool {
	return r.Status != RequestStatusPending
}

// IsComplete reports whether propagation finished cleanly
func (r *Request) IsComplete() bool {
	return r.CompletedAt != nil
}
