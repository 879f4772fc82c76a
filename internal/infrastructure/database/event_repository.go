package database

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/davidleathers/dnc-propagation-backend/internal/domain/errors"
	"github.com/davidleathers/dnc-propagation-backend/internal/domain/removal"
)

// EventRepository implements removal.EventRepository using PostgreSQL.
// The table is append-only; there is no update or delete path.
type EventRepository struct {
	db *pgxpool.Pool
}

// NewEventRepository creates a new PostgreSQL audit event repository
func NewEventRepository(db *pgxpool.Pool) *EventRepository {
	return &EventRepository{db: db}
}

// Save appends one audit event
func (r *EventRepository) Save(ctx context.Context, event *removal.Event) error {
	return r.insert(ctx, r.db, event)
}

// SaveWithTx appends one audit event inside tx
func (r *EventRepository) SaveWithTx(ctx context.Context, tx removal.Transaction, event *removal.Event) error {
	pgtx, err := pgxTxFrom(tx)
	if err != nil {
		return err
	}
	return r.insert(ctx, pgtx, event)
}

func (r *EventRepository) insert(ctx context.Context, db queryExecer, event *removal.Event) error {
	query := `
		INSERT INTO removal_events (
			id, organization_id, request_id, actor, action, detail, occurred_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	detail, err := marshalPayload(event.Detail)
	if err != nil {
		return err
	}

	_, err = db.Exec(ctx, query,
		event.ID,
		event.OrganizationID,
		event.RequestID,
		event.Actor,
		string(event.Action),
		detail,
		event.OccurredAt,
	)
	if err != nil {
		return errors.NewInternalError("failed to save audit event").WithCause(err)
	}
	return nil
}

// FindByRequest returns the chronological audit trail for one request
func (r *EventRepository) FindByRequest(ctx context.Context, orgID, requestID uuid.UUID) ([]*removal.Event, error) {
	query := `
		SELECT id, organization_id, request_id, actor, action, detail, occurred_at
		FROM removal_events
		WHERE organization_id = $1 AND request_id = $2
		ORDER BY occurred_at
	`

	rows, err := r.db.Query(ctx, query, orgID, requestID)
	if err != nil {
		return nil, errors.NewInternalError("failed to list audit events").WithCause(err)
	}
	defer rows.Close()

	var events []*removal.Event
	for rows.Next() {
		var event removal.Event
		var action string
		var detail []byte

		err := rows.Scan(
			&event.ID,
			&event.OrganizationID,
			&event.RequestID,
			&event.Actor,
			&action,
			&detail,
			&event.OccurredAt,
		)
		if err != nil {
			return nil, errors.NewInternalError("failed to scan audit event").WithCause(err)
		}

		event.Action = removal.EventAction(action)
		if len(detail) > 0 {
			if err := json.Unmarshal(detail, &event.Detail); err != nil {
				return nil, errors.NewInternalError("failed to unmarshal event detail").WithCause(err)
			}
		}
		events = append(events, &event)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewInternalError("failed to iterate audit events").WithCause(err)
	}
	return events, nil
}
