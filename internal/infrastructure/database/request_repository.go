package database

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/davidleathers/dnc-propagation-backend/internal/domain/errors"
	"github.com/davidleathers/dnc-propagation-backend/internal/domain/removal"
)

const requestColumns = `
	id, organization_id, phone, reason, channel, status,
	requested_by, reviewed_by, decision_notes,
	submitted_at, decided_at, completed_at`

// RequestRepository implements removal.RequestRepository using PostgreSQL
type RequestRepository struct {
	db *pgxpool.Pool
}

// NewRequestRepository creates a new PostgreSQL removal request repository
func NewRequestRepository(db *pgxpool.Pool) *RequestRepository {
	return &RequestRepository{db: db}
}

// Save inserts a newly submitted request
func (r *RequestRepository) Save(ctx context.Context, req *removal.Request) error {
	query := `
		INSERT INTO removal_requests (
			id, organization_id, phone, reason, channel, status,
			requested_by, reviewed_by, decision_notes,
			submitted_at, decided_at, completed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`

	_, err := r.db.Exec(ctx, query,
		req.ID,
		req.OrganizationID,
		req.Phone.String(),
		req.Reason,
		string(req.Channel),
		string(req.Status),
		req.RequestedBy,
		req.ReviewedBy,
		req.DecisionNotes,
		req.SubmittedAt,
		req.DecidedAt,
		req.CompletedAt,
	)
	if err != nil {
		return errors.NewInternalError("failed to save removal request").WithCause(err)
	}
	return nil
}

// GetByID loads a request scoped to one organization
func (r *RequestRepository) GetByID(ctx context.Context, orgID, id uuid.UUID) (*removal.Request, error) {
	query := fmt.Sprintf(`SELECT %s FROM removal_requests WHERE id = $1 AND organization_id = $2`, requestColumns)
	return r.scanOne(r.db.QueryRow(ctx, query, id, orgID))
}

// GetForUpdate loads a request with a row lock inside tx
func (r *RequestRepository) GetForUpdate(ctx context.Context, tx removal.Transaction, orgID, id uuid.UUID) (*removal.Request, error) {
	pgtx, err := pgxTxFrom(tx)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf(`SELECT %s FROM removal_requests WHERE id = $1 AND organization_id = $2 FOR UPDATE`, requestColumns)
	return r.scanOne(pgtx.QueryRow(ctx, query, id, orgID))
}

// Update persists decision and completion fields
func (r *RequestRepository) Update(ctx context.Context, req *removal.Request) error {
	return r.update(ctx, r.db, req)
}

// UpdateWithTx persists decision and completion fields inside tx
func (r *RequestRepository) UpdateWithTx(ctx context.Context, tx removal.Transaction, req *removal.Request) error {
	pgtx, err := pgxTxFrom(tx)
	if err != nil {
		return err
	}
	return r.update(ctx, pgtx, req)
}

func (r *RequestRepository) update(ctx context.Context, db queryExecer, req *removal.Request) error {
	query := `
		UPDATE removal_requests SET
			status = $2, reviewed_by = $3, decision_notes = $4,
			decided_at = $5, completed_at = $6
		WHERE id = $1 AND organization_id = $7
	`

	tag, err := db.Exec(ctx, query,
		req.ID,
		string(req.Status),
		req.ReviewedBy,
		req.DecisionNotes,
		req.DecidedAt,
		req.CompletedAt,
		req.OrganizationID,
	)
	if err != nil {
		return errors.NewInternalError("failed to update removal request").WithCause(err)
	}
	if tag.RowsAffected() == 0 {
		return errors.ErrRequestNotFound
	}
	return nil
}

// List returns requests for an organization matching the filter
func (r *RequestRepository) List(ctx context.Context, orgID uuid.UUID, filter removal.RequestFilter) ([]*removal.Request, error) {
	query := fmt.Sprintf(`SELECT %s FROM removal_requests WHERE organization_id = $1`, requestColumns)
	args := []any{orgID}

	if filter.Status != nil {
		args = append(args, string(*filter.Status))
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	if filter.Phone != nil {
		args = append(args, *filter.Phone)
		query += fmt.Sprintf(" AND phone = $%d", len(args))
	}

	query += " ORDER BY submitted_at DESC"

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit)
	query += fmt.Sprintf(" LIMIT $%d", len(args))

	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, errors.NewInternalError("failed to list removal requests").WithCause(err)
	}
	defer rows.Close()

	return r.scanAll(rows)
}

// FindApprovedWithoutAttempts returns approved requests with zero attempt rows
func (r *RequestRepository) FindApprovedWithoutAttempts(ctx context.Context, orgID uuid.UUID) ([]*removal.Request, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM removal_requests r
		WHERE r.organization_id = $1 AND r.status = 'approved'
		AND r.completed_at IS NULL
		AND NOT EXISTS (
			SELECT 1 FROM propagation_attempts a WHERE a.request_id = r.id
		)
		ORDER BY r.submitted_at
	`, requestColumns)

	rows, err := r.db.Query(ctx, query, orgID)
	if err != nil {
		return nil, errors.NewInternalError("failed to find approved requests without attempts").WithCause(err)
	}
	defer rows.Close()

	return r.scanAll(rows)
}

// ResetApprovedWithoutOutcome reverts approved requests with no terminal
// attempt from any provider back to pending
func (r *RequestRepository) ResetApprovedWithoutOutcome(ctx context.Context, tx removal.Transaction, orgID uuid.UUID) (int, error) {
	pgtx, err := pgxTxFrom(tx)
	if err != nil {
		return 0, err
	}

	query := `
		UPDATE removal_requests r SET
			status = 'pending', reviewed_by = NULL, decision_notes = NULL,
			decided_at = NULL, completed_at = NULL
		WHERE r.organization_id = $1 AND r.status = 'approved'
		AND NOT EXISTS (
			SELECT 1 FROM propagation_attempts a
			WHERE a.request_id = r.id AND a.status IN ('success', 'failed')
		)
	`

	tag, err := pgtx.Exec(ctx, query, orgID)
	if err != nil {
		return 0, errors.NewInternalError("failed to reset stuck requests").WithCause(err)
	}
	return int(tag.RowsAffected()), nil
}

// ResetAllApproved reverts every approved request for the organization
func (r *RequestRepository) ResetAllApproved(ctx context.Context, tx removal.Transaction, orgID uuid.UUID) (int, error) {
	pgtx, err := pgxTxFrom(tx)
	if err != nil {
		return 0, err
	}

	query := `
		UPDATE removal_requests SET
			status = 'pending', reviewed_by = NULL, decision_notes = NULL,
			decided_at = NULL, completed_at = NULL
		WHERE organization_id = $1 AND status = 'approved'
	`

	tag, err := pgtx.Exec(ctx, query, orgID)
	if err != nil {
		return 0, errors.NewInternalError("failed to reset approved requests").WithCause(err)
	}
	return int(tag.RowsAffected()), nil
}

// BeginTx starts a transaction
func (r *RequestRepository) BeginTx(ctx context.Context) (removal.Transaction, error) {
	return beginTx(ctx, r.db)
}

// WithTx runs fn inside a transaction
func (r *RequestRepository) WithTx(ctx context.Context, fn func(tx removal.Transaction) error) error {
	return withTx(ctx, r.db, fn)
}

func (r *RequestRepository) scanOne(row pgx.Row) (*removal.Request, error) {
	var req removal.Request
	var channel, status string

	err := row.Scan(
		&req.ID,
		&req.OrganizationID,
		&req.Phone,
		&req.Reason,
		&channel,
		&status,
		&req.RequestedBy,
		&req.ReviewedBy,
		&req.DecisionNotes,
		&req.SubmittedAt,
		&req.DecidedAt,
		&req.CompletedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, errors.ErrRequestNotFound
	}
	if err != nil {
		return nil, errors.NewInternalError("failed to scan removal request").WithCause(err)
	}

	req.Channel = removal.RequestChannel(channel)
	req.Status = removal.RequestStatus(status)
	return &req, nil
}

func (r *RequestRepository) scanAll(rows pgx.Rows) ([]*removal.Request, error) {
	var requests []*removal.Request
	for rows.Next() {
		req, err := r.scanOne(rows)
		if err != nil {
			return nil, err
		}
		requests = append(requests, req)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewInternalError("failed to iterate removal requests").WithCause(err)
	}
	return requests, nil
}
