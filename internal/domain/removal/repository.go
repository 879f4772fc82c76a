package removal

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Transaction represents a database transaction interface.
// This abstraction allows for different transaction implementations.
type Transaction interface {
	// Commit commits the transaction
	Commit() error

	// Rollback rolls back the transaction
	Rollback() error

	// Context returns the transaction context
	Context() context.Context
}

// RequestFilter narrows request listing queries
type RequestFilter struct {
	Status *RequestStatus
	Phone  *string
	Limit  int
	Offset int
}

// RequestRepository persists the authoritative removal-request ledger
type RequestRepository interface {
	Save(ctx context.Context, req *Request) error

	// GetByID loads a request scoped to one organization
	GetByID(ctx context.Context, orgID, id uuid.UUID) (*Request, error)

	// GetForUpdate loads a request with a row lock inside tx, serializing
	// concurrent decisions on the same request
	GetForUpdate(ctx context.Context, tx Transaction, orgID, id uuid.UUID) (*Request, error)

	// Update persists decision and completion fields
	Update(ctx context.Context, req *Request) error
	UpdateWithTx(ctx context.Context, tx Transaction, req *Request) error

	// List returns requests for an organization matching the filter
	List(ctx context.Context, orgID uuid.UUID, filter RequestFilter) ([]*Request, error)

	// FindApprovedWithoutAttempts returns approved requests with zero attempt
	// rows. Should be impossible given the atomic approve path; guards
	// against partial deploys and migrations.
	FindApprovedWithoutAttempts(ctx context.Context, orgID uuid.UUID) ([]*Request, error)

	// ResetApprovedWithoutOutcome reverts approved requests that have no
	// success or failed attempt recorded by any provider back to pending,
	// clearing decision fields. Returns the number of rows affected.
	ResetApprovedWithoutOutcome(ctx context.Context, tx Transaction, orgID uuid.UUID) (int, error)

	// ResetAllApproved reverts every approved request for the organization
	// back to pending. Blunt recovery tool used only by FullWipe.
	ResetAllApproved(ctx context.Context, tx Transaction, orgID uuid.UUID) (int, error)

	// Transaction support
	BeginTx(ctx context.Context) (Transaction, error)
	WithTx(ctx context.Context, fn func(tx Transaction) error) error
}

// AttemptRepository persists the per-provider propagation attempt ledger
type AttemptRepository interface {
	Save(ctx context.Context, attempt *Attempt) error
	SaveWithTx(ctx context.Context, tx Transaction, attempt *Attempt) error

	GetByID(ctx context.Context, id uuid.UUID) (*Attempt, error)

	// Update persists a state transition. Implementations must refuse to
	// overwrite a row that is already terminal.
	Update(ctx context.Context, attempt *Attempt) error

	// FindByRequest returns every attempt for a request, ordered by
	// provider_key then attempt_no
	FindByRequest(ctx context.Context, requestID uuid.UUID) ([]*Attempt, error)

	// FindOpenByRequest returns attempts still in pending or in_progress
	FindOpenByRequest(ctx context.Context, requestID uuid.UUID) ([]*Attempt, error)

	// MaxAttemptNo returns the highest attempt_no recorded for the pair,
	// or zero when none exist
	MaxAttemptNo(ctx context.Context, requestID uuid.UUID, providerKey string) (int, error)

	// HasOpenAttempt reports whether the pair already holds its single open slot
	HasOpenAttempt(ctx context.Context, requestID uuid.UUID, providerKey string) (bool, error)

	// Auditor queries
	FindOrphaned(ctx context.Context, orgID uuid.UUID) ([]*Attempt, error)
	FindStuckOpen(ctx context.Context, orgID uuid.UUID, olderThan time.Time) ([]*Attempt, error)

	// Auditor repairs; each returns the number of rows affected
	DeleteStuckOpen(ctx context.Context, orgID uuid.UUID, olderThan time.Time) (int, error)
	DeleteOrphaned(ctx context.Context, orgID uuid.UUID) (int, error)
	DeleteByOrganization(ctx context.Context, tx Transaction, orgID uuid.UUID) (int, error)
}

// EventRepository persists the organization-scoped audit trail
type EventRepository interface {
	Save(ctx context.Context, event *Event) error
	SaveWithTx(ctx context.Context, tx Transaction, event *Event) error

	// FindByRequest returns the chronological audit trail for one request
	FindByRequest(ctx context.Context, orgID, requestID uuid.UUID) ([]*Event, error)
}

// ProviderSettingRepository reads per-organization provider configuration.
// The core never writes provider settings.
type ProviderSettingRepository interface {
	// FindByOrganization returns one setting per known provider key.
	// Providers without a stored row are returned disabled.
	FindByOrganization(ctx context.Context, orgID uuid.UUID) ([]*ProviderSetting, error)

	Get(ctx context.Context, orgID uuid.UUID, providerKey string) (*ProviderSetting, error)
}
