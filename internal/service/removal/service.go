package removal

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	domainerrors "github.com/davidleathers/dnc-propagation-backend/internal/domain/errors"
	"github.com/davidleathers/dnc-propagation-backend/internal/domain/removal"
	"github.com/davidleathers/dnc-propagation-backend/internal/metrics"
)

// PropagationQueue hands an approved request off for asynchronous fan-out.
// The decision transaction never waits on provider I/O.
type PropagationQueue interface {
	Enqueue(orgID, requestID uuid.UUID) error
}

// Service is the decision surface over the removal-request ledger
type Service interface {
	// SubmitRequest records a new pending removal request
	SubmitRequest(ctx context.Context, input SubmitInput) (*removal.Request, error)

	// Approve flips a pending request to approved and creates one pending
	// attempt per enabled provider in the same transaction, then hands the
	// request to the propagation queue
	Approve(ctx context.Context, input DecisionInput) (*ApproveResult, error)

	// Deny flips a pending request to denied; no attempts are created
	Deny(ctx context.Context, input DecisionInput) (*removal.Request, error)

	// BulkApprove and BulkDeny apply a decision to many requests,
	// continuing past individual failures
	BulkApprove(ctx context.Context, input BulkDecisionInput) []BulkResult
	BulkDeny(ctx context.Context, input BulkDecisionInput) []BulkResult

	// GetRequestStatus returns the request with its per-provider attempt
	// aggregate. Never errors on a request with zero attempts.
	GetRequestStatus(ctx context.Context, orgID, requestID uuid.UUID) (*RequestStatusView, error)

	// GetRequestEvents returns the chronological audit trail
	GetRequestEvents(ctx context.Context, orgID, requestID uuid.UUID) ([]*removal.Event, error)

	// ListRequests returns requests matching the filter
	ListRequests(ctx context.Context, orgID uuid.UUID, filter removal.RequestFilter) ([]*removal.Request, error)
}

var _ Service = (*service)(nil)

type service struct {
	logger   *zap.Logger
	requests removal.RequestRepository
	attempts removal.AttemptRepository
	events   removal.EventRepository
	settings removal.ProviderSettingRepository
	queue    PropagationQueue
}

// NewService creates the removal decision service
func NewService(
	logger *zap.Logger,
	requests removal.RequestRepository,
	attempts removal.AttemptRepository,
	events removal.EventRepository,
	settings removal.ProviderSettingRepository,
	queue PropagationQueue,
) Service {
	return &service{
		logger:   logger,
		requests: requests,
		attempts: attempts,
		events:   events,
		settings: settings,
		queue:    queue,
	}
}

func (s *service) SubmitRequest(ctx context.Context, input SubmitInput) (*removal.Request, error) {
	req, err := removal.NewRequest(input.OrganizationID, input.Phone, input.Reason, input.Channel, input.RequestedBy)
	if err != nil {
		return nil, err
	}

	if err := s.requests.Save(ctx, req); err != nil {
		return nil, domainerrors.Wrap(err, "saving removal request")
	}

	s.recordEvent(ctx, removal.NewEvent(req.OrganizationID, &req.ID, input.RequestedBy.String(),
		removal.EventRequestSubmitted, map[string]interface{}{
			"phone":   req.Phone.String(),
			"channel": string(req.Channel),
		}))

	s.logger.Info("removal request submitted",
		zap.String("request_id", req.ID.String()),
		zap.String("organization_id", req.OrganizationID.String()),
		zap.String("channel", string(req.Channel)))

	return req, nil
}

func (s *service) Approve(ctx context.Context, input DecisionInput) (*ApproveResult, error) {
	settings, err := s.settings.FindByOrganization(ctx, input.OrganizationID)
	if err != nil {
		return nil, domainerrors.Wrap(err, "loading provider settings")
	}

	var enabled []*removal.ProviderSetting
	for _, setting := range settings {
		if setting.IsUsable() {
			enabled = append(enabled, setting)
		}
	}

	var req *removal.Request
	err = s.requests.WithTx(ctx, func(tx removal.Transaction) error {
		var txErr error
		req, txErr = s.requests.GetForUpdate(ctx, tx, input.OrganizationID, input.RequestID)
		if txErr != nil {
			return txErr
		}

		if txErr := req.Approve(input.Reviewer, input.Notes); txErr != nil {
			return txErr
		}

		// No enabled providers means nothing to propagate; the request is
		// complete the moment it is approved
		if len(enabled) == 0 {
			if txErr := req.MarkCompleted(time.Now()); txErr != nil {
				return txErr
			}
		}

		if txErr := s.requests.UpdateWithTx(ctx, tx, req); txErr != nil {
			return txErr
		}

		providerKeys := make([]string, 0, len(enabled))
		for _, setting := range enabled {
			attempt, txErr := removal.NewAttempt(req, setting.ProviderKey, 1)
			if txErr != nil {
				return txErr
			}
			if txErr := s.attempts.SaveWithTx(ctx, tx, attempt); txErr != nil {
				return txErr
			}
			providerKeys = append(providerKeys, setting.ProviderKey)
		}

		event := removal.NewEvent(req.OrganizationID, &req.ID, input.Reviewer.String(),
			removal.EventRequestApproved, map[string]interface{}{
				"providers": providerKeys,
			})
		return s.events.SaveWithTx(ctx, tx, event)
	})
	if err != nil {
		return nil, err
	}

	metrics.RecordDecision("approved")
	s.logger.Info("removal request approved",
		zap.String("request_id", req.ID.String()),
		zap.String("reviewer", input.Reviewer.String()),
		zap.Int("attempts_created", len(enabled)))

	if len(enabled) > 0 {
		if err := s.queue.Enqueue(req.OrganizationID, req.ID); err != nil {
			// The pending attempts remain in the ledger; the auditor's
			// stuck-attempt sweep will surface them for re-propagation
			s.logger.Error("failed to enqueue propagation",
				zap.String("request_id", req.ID.String()),
				zap.Error(err))
		}
	}

	return &ApproveResult{Request: req, Attempts: len(enabled)}, nil
}

func (s *service) Deny(ctx context.Context, input DecisionInput) (*removal.Request, error) {
	var req *removal.Request
	err := s.requests.WithTx(ctx, func(tx removal.Transaction) error {
		var txErr error
		req, txErr = s.requests.GetForUpdate(ctx, tx, input.OrganizationID, input.RequestID)
		if txErr != nil {
			return txErr
		}

		if txErr := req.Deny(input.Reviewer, input.Notes); txErr != nil {
			return txErr
		}
		if txErr := s.requests.UpdateWithTx(ctx, tx, req); txErr != nil {
			return txErr
		}

		event := removal.NewEvent(req.OrganizationID, &req.ID, input.Reviewer.String(),
			removal.EventRequestDenied, map[string]interface{}{
				"notes": input.Notes,
			})
		return s.events.SaveWithTx(ctx, tx, event)
	})
	if err != nil {
		return nil, err
	}

	metrics.RecordDecision("denied")
	s.logger.Info("removal request denied",
		zap.String("request_id", req.ID.String()),
		zap.String("reviewer", input.Reviewer.String()))

	return req, nil
}

func (s *service) BulkApprove(ctx context.Context, input BulkDecisionInput) []BulkResult {
	results := make([]BulkResult, 0, len(input.RequestIDs))
	for _, id := range input.RequestIDs {
		_, err := s.Approve(ctx, DecisionInput{
			OrganizationID: input.OrganizationID,
			RequestID:      id,
			Reviewer:       input.Reviewer,
			Notes:          input.Notes,
		})
		results = append(results, bulkResult(id, err))
	}
	return results
}

func (s *service) BulkDeny(ctx context.Context, input BulkDecisionInput) []BulkResult {
	results := make([]BulkResult, 0, len(input.RequestIDs))
	for _, id := range input.RequestIDs {
		_, err := s.Deny(ctx, DecisionInput{
			OrganizationID: input.OrganizationID,
			RequestID:      id,
			Reviewer:       input.Reviewer,
			Notes:          input.Notes,
		})
		results = append(results, bulkResult(id, err))
	}
	return results
}

func bulkResult(id uuid.UUID, err error) BulkResult {
	if err != nil {
		return BulkResult{RequestID: id, OK: false, Error: err.Error()}
	}
	return BulkResult{RequestID: id, OK: true}
}

func (s *service) GetRequestStatus(ctx context.Context, orgID, requestID uuid.UUID) (*RequestStatusView, error) {
	req, err := s.requests.GetByID(ctx, orgID, requestID)
	if err != nil {
		return nil, err
	}

	attempts, err := s.attempts.FindByRequest(ctx, requestID)
	if err != nil {
		return nil, domainerrors.Wrap(err, "loading attempts")
	}

	// Keep only the newest attempt per provider; superseded rows stay in
	// the ledger but do not drive the aggregate
	latest := make(map[string]*removal.Attempt)
	order := make([]string, 0, len(attempts))
	for _, attempt := range attempts {
		if _, seen := latest[attempt.ProviderKey]; !seen {
			order = append(order, attempt.ProviderKey)
		}
		current, ok := latest[attempt.ProviderKey]
		if !ok || attempt.AttemptNo > current.AttemptNo {
			latest[attempt.ProviderKey] = attempt
		}
	}

	views := make([]ProviderAttemptView, 0, len(order))
	for _, key := range order {
		attempt := latest[key]
		views = append(views, ProviderAttemptView{
			ProviderKey:   attempt.ProviderKey,
			Status:        attempt.Status,
			AttemptNo:     attempt.AttemptNo,
			AlreadyListed: attempt.AlreadyListed(),
			ErrorMessage:  attempt.ErrorMessage,
			Detail:        attempt.ResponsePayload,
			StartedAt:     attempt.StartedAt,
			FinishedAt:    attempt.FinishedAt,
		})
	}

	return &RequestStatusView{
		Request:     req,
		Propagation: aggregateState(req, views),
		Providers:   views,
	}, nil
}

// aggregateState rolls per-provider attempt state up into one word
func aggregateState(req *removal.Request, providers []ProviderAttemptView) PropagationState {
	if req.IsComplete() {
		return PropagationComplete
	}
	if len(providers) == 0 {
		return PropagationNotStarted
	}

	failed := false
	for _, p := range providers {
		if p.Status.IsOpen() {
			return PropagationInProgress
		}
		if p.Status == removal.AttemptStatusFailed {
			failed = true
		}
	}
	if failed {
		return PropagationIncomplete
	}
	// Every provider is clean-terminal but the completion stamp has not
	// landed yet; the orchestrator's completion check is in flight
	return PropagationInProgress
}

func (s *service) GetRequestEvents(ctx context.Context, orgID, requestID uuid.UUID) ([]*removal.Event, error) {
	if _, err := s.requests.GetByID(ctx, orgID, requestID); err != nil {
		return nil, err
	}
	return s.events.FindByRequest(ctx, orgID, requestID)
}

func (s *service) ListRequests(ctx context.Context, orgID uuid.UUID, filter removal.RequestFilter) ([]*removal.Request, error) {
	return s.requests.List(ctx, orgID, filter)
}

// recordEvent appends to the audit trail outside a transaction; trail writes
// never fail the operation they describe
func (s *service) recordEvent(ctx context.Context, event *removal.Event) {
	if err := s.events.Save(ctx, event); err != nil {
		s.logger.Warn("failed to record audit event",
			zap.String("action", string(event.Action)),
			zap.Error(err))
	}
}
