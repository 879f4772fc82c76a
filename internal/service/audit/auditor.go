// Package audit implements the consistency auditor: read-only diagnostics
// over the request and attempt ledgers, plus the repair operations that
// recover from crashed orchestration runs. Every repair is organization-
// scoped, idempotent, and recorded in the audit trail.
package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	domainerrors "github.com/davidleathers/dnc-propagation-backend/internal/domain/errors"
	"github.com/davidleathers/dnc-propagation-backend/internal/domain/removal"
	"github.com/davidleathers/dnc-propagation-backend/internal/metrics"
)

// Trigger re-runs propagation for a request after a repair recreates its
// attempts
type Trigger interface {
	Enqueue(orgID, requestID uuid.UUID) error
}

// Report is the combined read-only diagnostic view for one organization
type Report struct {
	StuckRequests    []*removal.Request `json:"stuck_requests"`
	OrphanedAttempts []*removal.Attempt `json:"orphaned_attempts"`
	StuckPending     []*removal.Attempt `json:"stuck_pending"`
}

// RepairResult reports how many rows one repair touched
type RepairResult struct {
	Operation string `json:"operation"`
	Rows      int    `json:"rows_affected"`
}

// Auditor runs consistency diagnostics and repairs
type Auditor struct {
	logger   *zap.Logger
	requests removal.RequestRepository
	attempts removal.AttemptRepository
	events   removal.EventRepository
	settings removal.ProviderSettingRepository
	trigger  Trigger

	stuckPendingAge time.Duration
}

// NewAuditor creates the consistency auditor
func NewAuditor(
	logger *zap.Logger,
	requests removal.RequestRepository,
	attempts removal.AttemptRepository,
	events removal.EventRepository,
	settings removal.ProviderSettingRepository,
	trigger Trigger,
	stuckPendingAge time.Duration,
) *Auditor {
	if stuckPendingAge <= 0 {
		stuckPendingAge = time.Hour
	}
	return &Auditor{
		logger:          logger,
		requests:        requests,
		attempts:        attempts,
		events:          events,
		settings:        settings,
		trigger:         trigger,
		stuckPendingAge: stuckPendingAge,
	}
}

// FindStuckRequests returns approved requests with zero attempt rows. The
// atomic approve path should make this impossible; rows here point at a
// partial deploy or a botched migration.
func (a *Auditor) FindStuckRequests(ctx context.Context, orgID uuid.UUID) ([]*removal.Request, error) {
	return a.requests.FindApprovedWithoutAttempts(ctx, orgID)
}

// FindOrphanedAttempts returns attempts whose request is missing or not
// approved
func (a *Auditor) FindOrphanedAttempts(ctx context.Context, orgID uuid.UUID) ([]*removal.Attempt, error) {
	return a.attempts.FindOrphaned(ctx, orgID)
}

// FindStuckPending returns open attempts older than the age threshold,
// the signature of a crashed orchestration run
func (a *Auditor) FindStuckPending(ctx context.Context, orgID uuid.UUID) ([]*removal.Attempt, error) {
	return a.attempts.FindStuckOpen(ctx, orgID, time.Now().Add(-a.stuckPendingAge))
}

// Inspect runs all three diagnostics
func (a *Auditor) Inspect(ctx context.Context, orgID uuid.UUID) (*Report, error) {
	stuck, err := a.FindStuckRequests(ctx, orgID)
	if err != nil {
		return nil, domainerrors.Wrap(err, "finding stuck requests")
	}
	orphaned, err := a.FindOrphanedAttempts(ctx, orgID)
	if err != nil {
		return nil, domainerrors.Wrap(err, "finding orphaned attempts")
	}
	pending, err := a.FindStuckPending(ctx, orgID)
	if err != nil {
		return nil, domainerrors.Wrap(err, "finding stuck pending attempts")
	}
	return &Report{
		StuckRequests:    stuck,
		OrphanedAttempts: orphaned,
		StuckPending:     pending,
	}, nil
}

// ClearStuckPending deletes open attempts older than the age threshold.
// The requests stay approved; RecreateAttempts or an operator retry gives
// them fresh rows.
func (a *Auditor) ClearStuckPending(ctx context.Context, orgID uuid.UUID) (*RepairResult, error) {
	rows, err := a.attempts.DeleteStuckOpen(ctx, orgID, time.Now().Add(-a.stuckPendingAge))
	if err != nil {
		return nil, domainerrors.Wrap(err, "clearing stuck pending attempts")
	}
	return a.finishRepair(ctx, orgID, "clear_stuck_pending", rows), nil
}

// ClearOrphaned deletes attempts whose request is missing or not approved
func (a *Auditor) ClearOrphaned(ctx context.Context, orgID uuid.UUID) (*RepairResult, error) {
	rows, err := a.attempts.DeleteOrphaned(ctx, orgID)
	if err != nil {
		return nil, domainerrors.Wrap(err, "clearing orphaned attempts")
	}
	return a.finishRepair(ctx, orgID, "clear_orphaned", rows), nil
}

// ResetStuckRequests reverts approved requests with no recorded outcome back
// to pending so they can be re-approved
func (a *Auditor) ResetStuckRequests(ctx context.Context, orgID uuid.UUID) (*RepairResult, error) {
	var rows int
	err := a.requests.WithTx(ctx, func(tx removal.Transaction) error {
		var txErr error
		rows, txErr = a.requests.ResetApprovedWithoutOutcome(ctx, tx, orgID)
		return txErr
	})
	if err != nil {
		return nil, domainerrors.Wrap(err, "resetting stuck requests")
	}
	return a.finishRepair(ctx, orgID, "reset_stuck_requests", rows), nil
}

// FullWipe deletes every attempt and reverts every approved request to
// pending for the organization. Blunt recovery tool for operators; both
// ledger mutations commit together or not at all.
func (a *Auditor) FullWipe(ctx context.Context, orgID uuid.UUID) (*RepairResult, error) {
	var attemptsDeleted, requestsReset int
	err := a.requests.WithTx(ctx, func(tx removal.Transaction) error {
		var txErr error
		attemptsDeleted, txErr = a.attempts.DeleteByOrganization(ctx, tx, orgID)
		if txErr != nil {
			return txErr
		}
		requestsReset, txErr = a.requests.ResetAllApproved(ctx, tx, orgID)
		return txErr
	})
	if err != nil {
		return nil, domainerrors.Wrap(err, "executing full wipe")
	}

	a.logger.Warn("FULL WIPE executed",
		zap.String("organization_id", orgID.String()),
		zap.Int("attempts_deleted", attemptsDeleted),
		zap.Int("requests_reset", requestsReset))

	return a.finishRepair(ctx, orgID, "full_wipe", attemptsDeleted+requestsReset), nil
}

// RecreateAttempts gives every approved-without-attempts request fresh
// pending rows and immediately triggers orchestration for each
func (a *Auditor) RecreateAttempts(ctx context.Context, orgID uuid.UUID) (*RepairResult, error) {
	stuck, err := a.requests.FindApprovedWithoutAttempts(ctx, orgID)
	if err != nil {
		return nil, domainerrors.Wrap(err, "finding stuck requests")
	}

	settings, err := a.settings.FindByOrganization(ctx, orgID)
	if err != nil {
		return nil, domainerrors.Wrap(err, "loading provider settings")
	}
	var enabled []string
	for _, setting := range settings {
		if setting.IsUsable() {
			enabled = append(enabled, setting.ProviderKey)
		}
	}

	created := 0
	for _, req := range stuck {
		req := req
		err := a.requests.WithTx(ctx, func(tx removal.Transaction) error {
			// Same rule as the approve path: nothing to propagate means
			// the request is complete, not stuck forever.
			if len(enabled) == 0 {
				if txErr := req.MarkCompleted(time.Now()); txErr != nil {
					return txErr
				}
				return a.requests.UpdateWithTx(ctx, tx, req)
			}
			for _, key := range enabled {
				attempt, txErr := removal.NewAttempt(req, key, 1)
				if txErr != nil {
					return txErr
				}
				if txErr := a.attempts.SaveWithTx(ctx, tx, attempt); txErr != nil {
					return txErr
				}
				created++
			}
			return nil
		})
		if err != nil {
			return nil, domainerrors.Wrap(err, "recreating attempts")
		}

		if len(enabled) > 0 {
			if err := a.trigger.Enqueue(orgID, req.ID); err != nil {
				a.logger.Error("failed to trigger propagation after repair",
					zap.String("request_id", req.ID.String()),
					zap.Error(err))
			}
		}
	}

	return a.finishRepair(ctx, orgID, "recreate_attempts", created), nil
}

func (a *Auditor) finishRepair(ctx context.Context, orgID uuid.UUID, operation string, rows int) *RepairResult {
	metrics.RecordRepair(operation, rows)
	a.logger.Info("repair executed",
		zap.String("organization_id", orgID.String()),
		zap.String("operation", operation),
		zap.Int("rows", rows))

	event := removal.NewEvent(orgID, nil, "operator", removal.EventRepairExecuted,
		map[string]interface{}{
			"operation": operation,
			"rows":      rows,
		})
	if err := a.events.Save(ctx, event); err != nil {
		a.logger.Warn("failed to record repair event", zap.Error(err))
	}

	return &RepairResult{Operation: operation, Rows: rows}
}
