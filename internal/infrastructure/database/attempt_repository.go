package database

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/davidleathers/dnc-propagation-backend/internal/domain/errors"
	"github.com/davidleathers/dnc-propagation-backend/internal/domain/removal"
)

const attemptColumns = `
	id, organization_id, request_id, phone, provider_key, attempt_no, status,
	request_payload, response_payload, error_message, started_at, finished_at`

// AttemptRepository implements removal.AttemptRepository using PostgreSQL.
// The single-open-attempt invariant is backed by a partial unique index on
// (request_id, provider_key) WHERE status IN ('pending', 'in_progress').
type AttemptRepository struct {
	db *pgxpool.Pool
}

// NewAttemptRepository creates a new PostgreSQL propagation attempt repository
func NewAttemptRepository(db *pgxpool.Pool) *AttemptRepository {
	return &AttemptRepository{db: db}
}

// Save inserts a new attempt row
func (r *AttemptRepository) Save(ctx context.Context, attempt *removal.Attempt) error {
	return r.insert(ctx, r.db, attempt)
}

// SaveWithTx inserts a new attempt row inside tx
func (r *AttemptRepository) SaveWithTx(ctx context.Context, tx removal.Transaction, attempt *removal.Attempt) error {
	pgtx, err := pgxTxFrom(tx)
	if err != nil {
		return err
	}
	return r.insert(ctx, pgtx, attempt)
}

func (r *AttemptRepository) insert(ctx context.Context, db queryExecer, attempt *removal.Attempt) error {
	query := `
		INSERT INTO propagation_attempts (
			id, organization_id, request_id, phone, provider_key, attempt_no,
			status, request_payload, response_payload, error_message,
			started_at, finished_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`

	requestPayload, err := marshalPayload(attempt.RequestPayload)
	if err != nil {
		return err
	}
	responsePayload, err := marshalPayload(attempt.ResponsePayload)
	if err != nil {
		return err
	}

	_, err = db.Exec(ctx, query,
		attempt.ID,
		attempt.OrganizationID,
		attempt.RequestID,
		attempt.Phone.String(),
		attempt.ProviderKey,
		attempt.AttemptNo,
		string(attempt.Status),
		requestPayload,
		responsePayload,
		attempt.ErrorMessage,
		attempt.StartedAt,
		attempt.FinishedAt,
	)
	if err != nil {
		return errors.NewInternalError("failed to save propagation attempt").WithCause(err)
	}
	return nil
}

// GetByID loads one attempt
func (r *AttemptRepository) GetByID(ctx context.Context, id uuid.UUID) (*removal.Attempt, error) {
	query := fmt.Sprintf(`SELECT %s FROM propagation_attempts WHERE id = $1`, attemptColumns)
	return r.scanOne(r.db.QueryRow(ctx, query, id))
}

// Update persists a state transition. Terminal rows are never overwritten:
// the WHERE clause only matches rows still open, so a stale writer loses.
func (r *AttemptRepository) Update(ctx context.Context, attempt *removal.Attempt) error {
	query := `
		UPDATE propagation_attempts SET
			status = $2, request_payload = $3, response_payload = $4,
			error_message = $5, finished_at = $6
		WHERE id = $1 AND status IN ('pending', 'in_progress')
	`

	requestPayload, err := marshalPayload(attempt.RequestPayload)
	if err != nil {
		return err
	}
	responsePayload, err := marshalPayload(attempt.ResponsePayload)
	if err != nil {
		return err
	}

	tag, err := r.db.Exec(ctx, query,
		attempt.ID,
		string(attempt.Status),
		requestPayload,
		responsePayload,
		attempt.ErrorMessage,
		attempt.FinishedAt,
	)
	if err != nil {
		return errors.NewInternalError("failed to update propagation attempt").WithCause(err)
	}
	if tag.RowsAffected() == 0 {
		return errors.NewInvalidStateError("ATTEMPT_TERMINAL",
			"attempt is already terminal or does not exist")
	}
	return nil
}

// FindByRequest returns every attempt for a request
func (r *AttemptRepository) FindByRequest(ctx context.Context, requestID uuid.UUID) ([]*removal.Attempt, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM propagation_attempts
		WHERE request_id = $1
		ORDER BY provider_key, attempt_no
	`, attemptColumns)

	rows, err := r.db.Query(ctx, query, requestID)
	if err != nil {
		return nil, errors.NewInternalError("failed to list attempts").WithCause(err)
	}
	defer rows.Close()

	return r.scanAll(rows)
}

// FindOpenByRequest returns attempts still in pending or in_progress
func (r *AttemptRepository) FindOpenByRequest(ctx context.Context, requestID uuid.UUID) ([]*removal.Attempt, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM propagation_attempts
		WHERE request_id = $1 AND status IN ('pending', 'in_progress')
		ORDER BY provider_key
	`, attemptColumns)

	rows, err := r.db.Query(ctx, query, requestID)
	if err != nil {
		return nil, errors.NewInternalError("failed to list open attempts").WithCause(err)
	}
	defer rows.Close()

	return r.scanAll(rows)
}

// MaxAttemptNo returns the highest attempt_no for the (request, provider) pair
func (r *AttemptRepository) MaxAttemptNo(ctx context.Context, requestID uuid.UUID, providerKey string) (int, error) {
	query := `
		SELECT COALESCE(MAX(attempt_no), 0)
		FROM propagation_attempts
		WHERE request_id = $1 AND provider_key = $2
	`

	var max int
	if err := r.db.QueryRow(ctx, query, requestID, providerKey).Scan(&max); err != nil {
		return 0, errors.NewInternalError("failed to query max attempt number").WithCause(err)
	}
	return max, nil
}

// HasOpenAttempt reports whether the pair already holds its single open slot
func (r *AttemptRepository) HasOpenAttempt(ctx context.Context, requestID uuid.UUID, providerKey string) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM propagation_attempts
			WHERE request_id = $1 AND provider_key = $2
			AND status IN ('pending', 'in_progress')
		)
	`

	var exists bool
	if err := r.db.QueryRow(ctx, query, requestID, providerKey).Scan(&exists); err != nil {
		return false, errors.NewInternalError("failed to query open attempts").WithCause(err)
	}
	return exists, nil
}

// FindOrphaned returns attempts whose request is missing or not approved
func (r *AttemptRepository) FindOrphaned(ctx context.Context, orgID uuid.UUID) ([]*removal.Attempt, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM propagation_attempts a
		WHERE a.organization_id = $1 AND NOT EXISTS (
			SELECT 1 FROM removal_requests r
			WHERE r.id = a.request_id AND r.status = 'approved'
		)
		ORDER BY a.started_at
	`, qualifyColumns("a", attemptColumns))

	rows, err := r.db.Query(ctx, query, orgID)
	if err != nil {
		return nil, errors.NewInternalError("failed to find orphaned attempts").WithCause(err)
	}
	defer rows.Close()

	return r.scanAll(rows)
}

// FindStuckOpen returns open attempts that started before the cutoff
func (r *AttemptRepository) FindStuckOpen(ctx context.Context, orgID uuid.UUID, olderThan time.Time) ([]*removal.Attempt, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM propagation_attempts
		WHERE organization_id = $1 AND status IN ('pending', 'in_progress')
		AND started_at < $2
		ORDER BY started_at
	`, attemptColumns)

	rows, err := r.db.Query(ctx, query, orgID, olderThan)
	if err != nil {
		return nil, errors.NewInternalError("failed to find stuck attempts").WithCause(err)
	}
	defer rows.Close()

	return r.scanAll(rows)
}

// DeleteStuckOpen removes open attempts that started before the cutoff
func (r *AttemptRepository) DeleteStuckOpen(ctx context.Context, orgID uuid.UUID, olderThan time.Time) (int, error) {
	query := `
		DELETE FROM propagation_attempts
		WHERE organization_id = $1 AND status IN ('pending', 'in_progress')
		AND started_at < $2
	`

	tag, err := r.db.Exec(ctx, query, orgID, olderThan)
	if err != nil {
		return 0, errors.NewInternalError("failed to delete stuck attempts").WithCause(err)
	}
	return int(tag.RowsAffected()), nil
}

// DeleteOrphaned removes attempts whose request is missing or not approved
func (r *AttemptRepository) DeleteOrphaned(ctx context.Context, orgID uuid.UUID) (int, error) {
	query := `
		DELETE FROM propagation_attempts a
		WHERE a.organization_id = $1 AND NOT EXISTS (
			SELECT 1 FROM removal_requests r
			WHERE r.id = a.request_id AND r.status = 'approved'
		)
	`

	tag, err := r.db.Exec(ctx, query, orgID)
	if err != nil {
		return 0, errors.NewInternalError("failed to delete orphaned attempts").WithCause(err)
	}
	return int(tag.RowsAffected()), nil
}

// DeleteByOrganization removes every attempt for the organization (FullWipe)
func (r *AttemptRepository) DeleteByOrganization(ctx context.Context, tx removal.Transaction, orgID uuid.UUID) (int, error) {
	pgtx, err := pgxTxFrom(tx)
	if err != nil {
		return 0, err
	}

	tag, err := pgtx.Exec(ctx, `DELETE FROM propagation_attempts WHERE organization_id = $1`, orgID)
	if err != nil {
		return 0, errors.NewInternalError("failed to delete attempts").WithCause(err)
	}
	return int(tag.RowsAffected()), nil
}

func (r *AttemptRepository) scanOne(row pgx.Row) (*removal.Attempt, error) {
	var attempt removal.Attempt
	var status string
	var requestPayload, responsePayload []byte

	err := row.Scan(
		&attempt.ID,
		&attempt.OrganizationID,
		&attempt.RequestID,
		&attempt.Phone,
		&attempt.ProviderKey,
		&attempt.AttemptNo,
		&status,
		&requestPayload,
		&responsePayload,
		&attempt.ErrorMessage,
		&attempt.StartedAt,
		&attempt.FinishedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, errors.ErrAttemptNotFound
	}
	if err != nil {
		return nil, errors.NewInternalError("failed to scan propagation attempt").WithCause(err)
	}

	attempt.Status = removal.AttemptStatus(status)
	if attempt.RequestPayload, err = unmarshalPayload(requestPayload); err != nil {
		return nil, err
	}
	if attempt.ResponsePayload, err = unmarshalPayload(responsePayload); err != nil {
		return nil, err
	}
	return &attempt, nil
}

func (r *AttemptRepository) scanAll(rows pgx.Rows) ([]*removal.Attempt, error) {
	var attempts []*removal.Attempt
	for rows.Next() {
		attempt, err := r.scanOne(rows)
		if err != nil {
			return nil, err
		}
		attempts = append(attempts, attempt)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewInternalError("failed to iterate attempts").WithCause(err)
	}
	return attempts, nil
}

// qualifyColumns prefixes each column in a comma-separated list with a table alias
func qualifyColumns(alias, columns string) string {
	parts := strings.Split(columns, ",")
	for i, part := range parts {
		parts[i] = alias + "." + strings.TrimSpace(part)
	}
	return strings.Join(parts, ", ")
}

func marshalPayload(payload map[string]interface{}) ([]byte, error) {
	if payload == nil {
		return nil, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.NewInternalError("failed to marshal payload").WithCause(err)
	}
	return data, nil
}

func unmarshalPayload(data []byte) (map[string]interface{}, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var payload map[string]interface{}
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, errors.NewInternalError("failed to unmarshal payload").WithCause(err)
	}
	return payload, nil
}
