package propagation

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	domainerrors "github.com/davidleathers/dnc-propagation-backend/internal/domain/errors"
	"github.com/davidleathers/dnc-propagation-backend/internal/domain/removal"
	"github.com/davidleathers/dnc-propagation-backend/internal/domain/values"
	"github.com/davidleathers/dnc-propagation-backend/internal/infrastructure/telemetry"
	"github.com/davidleathers/dnc-propagation-backend/internal/metrics"
	"github.com/davidleathers/dnc-propagation-backend/internal/service/providers"
)

// AdapterFactory builds the adapter for one provider setting
type AdapterFactory interface {
	ForSetting(setting *removal.ProviderSetting) (providers.Adapter, error)
}

// RetryLocker serializes concurrent retries for a (request, provider) pair
type RetryLocker interface {
	Acquire(ctx context.Context, requestID uuid.UUID, providerKey string) (bool, error)
	Release(ctx context.Context, requestID uuid.UUID, providerKey string) error
}

// Orchestrator drives an approved request's attempts through check-then-add
// against each provider. Providers for one request run concurrently; the
// semaphore caps in-flight provider calls process-wide so a burst of
// approvals cannot open unbounded outbound connections.
type Orchestrator struct {
	logger   *zap.Logger
	requests removal.RequestRepository
	attempts removal.AttemptRepository
	events   removal.EventRepository
	settings removal.ProviderSettingRepository
	factory  AdapterFactory
	locks    RetryLocker

	inFlight    *semaphore.Weighted
	callTimeout time.Duration
}

// NewOrchestrator creates the propagation orchestrator
func NewOrchestrator(
	logger *zap.Logger,
	requests removal.RequestRepository,
	attempts removal.AttemptRepository,
	events removal.EventRepository,
	settings removal.ProviderSettingRepository,
	factory AdapterFactory,
	locks RetryLocker,
	maxInFlightCalls int,
	callTimeout time.Duration,
) *Orchestrator {
	if maxInFlightCalls <= 0 {
		maxInFlightCalls = 20
	}
	if callTimeout <= 0 {
		callTimeout = 30 * time.Second
	}
	return &Orchestrator{
		logger:      logger,
		requests:    requests,
		attempts:    attempts,
		events:      events,
		settings:    settings,
		factory:     factory,
		locks:       locks,
		inFlight:    semaphore.NewWeighted(int64(maxInFlightCalls)),
		callTimeout: callTimeout,
	}
}

// Run fans an approved request out to every provider with an open attempt.
// Each attempt's terminal write is its own short transaction; no ledger lock
// is held across provider I/O.
func (o *Orchestrator) Run(ctx context.Context, orgID, requestID uuid.UUID) error {
	tracer := telemetry.Tracer("propagation")
	ctx, span := tracer.Start(ctx, "propagation.run",
		trace.WithAttributes(attribute.String("request_id", requestID.String())))
	defer span.End()

	req, err := o.requests.GetByID(ctx, orgID, requestID)
	if err != nil {
		metrics.RecordOrchestrationRun("error")
		return err
	}
	if req.Status != removal.RequestStatusApproved {
		// Superseded by a reset or wipe between enqueue and pickup
		o.logger.Info("skipping propagation for non-approved request",
			zap.String("request_id", requestID.String()),
			zap.String("status", string(req.Status)))
		return nil
	}

	open, err := o.attempts.FindOpenByRequest(ctx, requestID)
	if err != nil {
		metrics.RecordOrchestrationRun("error")
		return domainerrors.Wrap(err, "loading open attempts")
	}

	g, groupCtx := errgroup.WithContext(ctx)
	for _, attempt := range open {
		attempt := attempt
		g.Go(func() error {
			return o.runAttempt(groupCtx, req, attempt)
		})
	}
	if err := g.Wait(); err != nil {
		metrics.RecordOrchestrationRun("error")
		return err
	}

	return o.checkCompletion(ctx, orgID, requestID)
}

// RetryProvider opens a fresh attempt for one provider and re-runs the
// check-then-add sequence. The prior failed row is never mutated; the retry
// is a new row with the next attempt number. Concurrent retries for the same
// pair are serialized through the retry lock.
func (o *Orchestrator) RetryProvider(ctx context.Context, orgID, requestID uuid.UUID, providerKey string) (*removal.Attempt, error) {
	if !removal.IsKnownProvider(providerKey) {
		return nil, domainerrors.NewValidationError("UNKNOWN_PROVIDER", "unknown provider key: "+providerKey)
	}

	req, err := o.requests.GetByID(ctx, orgID, requestID)
	if err != nil {
		return nil, err
	}
	if req.Status != removal.RequestStatusApproved {
		return nil, domainerrors.NewInvalidStateError("REQUEST_NOT_APPROVED",
			"only approved requests can be retried")
	}

	acquired, err := o.locks.Acquire(ctx, requestID, providerKey)
	if err != nil {
		return nil, domainerrors.Wrap(err, "acquiring retry lock")
	}
	if !acquired {
		return nil, domainerrors.NewInvalidStateError("RETRY_IN_FLIGHT",
			"a propagation run for this provider is already in flight")
	}
	defer func() {
		if releaseErr := o.locks.Release(context.WithoutCancel(ctx), requestID, providerKey); releaseErr != nil {
			o.logger.Warn("failed to release retry lock",
				zap.String("request_id", requestID.String()),
				zap.String("provider", providerKey),
				zap.Error(releaseErr))
		}
	}()

	hasOpen, err := o.attempts.HasOpenAttempt(ctx, requestID, providerKey)
	if err != nil {
		return nil, domainerrors.Wrap(err, "checking open attempts")
	}
	if hasOpen {
		return nil, domainerrors.NewInvalidStateError("ATTEMPT_OPEN",
			"an open attempt already exists for this provider")
	}

	maxNo, err := o.attempts.MaxAttemptNo(ctx, requestID, providerKey)
	if err != nil {
		return nil, domainerrors.Wrap(err, "computing next attempt number")
	}

	attempt, err := removal.NewAttempt(req, providerKey, maxNo+1)
	if err != nil {
		return nil, err
	}
	if err := attempt.Start(map[string]interface{}{
		"phone":      req.Phone.String(),
		"provider":   providerKey,
		"attempt_no": attempt.AttemptNo,
		"retry":      true,
	}); err != nil {
		return nil, err
	}
	if err := o.attempts.Save(ctx, attempt); err != nil {
		return nil, domainerrors.Wrap(err, "saving retry attempt")
	}

	o.recordEvent(ctx, removal.NewEvent(orgID, &requestID, "system", removal.EventAttemptRetried,
		map[string]interface{}{
			"provider":   providerKey,
			"attempt_no": attempt.AttemptNo,
		}))

	if err := o.runAttempt(ctx, req, attempt); err != nil {
		return attempt, err
	}
	if err := o.checkCompletion(ctx, orgID, requestID); err != nil {
		return attempt, err
	}

	reloaded, err := o.attempts.GetByID(ctx, attempt.ID)
	if err != nil {
		return attempt, nil
	}
	return reloaded, nil
}

// runAttempt drives one attempt to a terminal state. Provider errors land in
// the ledger, not in the returned error; only persistence failures propagate.
func (o *Orchestrator) runAttempt(ctx context.Context, req *removal.Request, attempt *removal.Attempt) error {
	tracer := telemetry.Tracer("propagation")
	ctx, span := tracer.Start(ctx, "propagation.attempt",
		trace.WithAttributes(
			attribute.String("provider", attempt.ProviderKey),
			attribute.Int("attempt_no", attempt.AttemptNo)))
	defer span.End()

	setting, err := o.settings.Get(ctx, req.OrganizationID, attempt.ProviderKey)
	if err != nil {
		return domainerrors.Wrap(err, "loading provider setting")
	}

	adapter, err := o.factory.ForSetting(setting)
	if err != nil {
		if domainerrors.IsType(err, domainerrors.ErrorTypeNotConfigured) {
			return o.finishSkipped(ctx, attempt, "provider not configured for organization")
		}
		return err
	}

	if err := o.inFlight.Acquire(ctx, 1); err != nil {
		return domainerrors.Wrap(err, "acquiring call slot")
	}
	defer o.inFlight.Release(1)

	listed, err := o.checkListed(ctx, adapter, req.Phone, attempt.ProviderKey)
	if err != nil {
		// A failed read means we cannot prove the number absent; never
		// push blind on top of an unknown remote state
		return o.finishFailed(ctx, attempt, "system check failed: "+err.Error())
	}
	if listed {
		return o.finishAlreadyListed(ctx, attempt)
	}

	if err := attempt.Start(map[string]interface{}{
		"phone":      req.Phone.String(),
		"provider":   attempt.ProviderKey,
		"attempt_no": attempt.AttemptNo,
	}); err != nil {
		return err
	}
	if err := o.attempts.Update(ctx, attempt); err != nil {
		return domainerrors.Wrap(err, "persisting attempt start")
	}

	result, err := o.add(ctx, adapter, req, attempt.ProviderKey)
	if err != nil {
		return o.finishFailed(ctx, attempt, err.Error())
	}
	return o.finishSucceeded(ctx, attempt, result.RawResponse)
}

func (o *Orchestrator) checkListed(ctx context.Context, adapter providers.Adapter, phone values.PhoneNumber, providerKey string) (bool, error) {
	callCtx, cancel := context.WithTimeout(ctx, o.callTimeout)
	defer cancel()

	start := time.Now()
	listed, err := adapter.CheckListed(callCtx, phone)
	metrics.RecordProviderCall(providerKey, "check", time.Since(start))
	return listed, err
}

func (o *Orchestrator) add(ctx context.Context, adapter providers.Adapter, req *removal.Request, providerKey string) (*providers.AddResult, error) {
	callCtx, cancel := context.WithTimeout(ctx, o.callTimeout)
	defer cancel()

	start := time.Now()
	result, err := adapter.Add(callCtx, req.Phone)
	metrics.RecordProviderCall(providerKey, "add", time.Since(start))
	return result, err
}

func (o *Orchestrator) finishSkipped(ctx context.Context, attempt *removal.Attempt, reason string) error {
	if err := attempt.Skip(reason); err != nil {
		return err
	}
	if err := o.attempts.Update(ctx, attempt); err != nil {
		return domainerrors.Wrap(err, "persisting skipped attempt")
	}
	metrics.RecordAttemptOutcome(attempt.ProviderKey, "skipped")
	o.recordEvent(ctx, o.attemptEvent(attempt, removal.EventAttemptSkipped, map[string]interface{}{
		"reason": reason,
	}))
	return nil
}

func (o *Orchestrator) finishFailed(ctx context.Context, attempt *removal.Attempt, message string) error {
	if err := attempt.Fail(message); err != nil {
		return err
	}
	if err := o.attempts.Update(ctx, attempt); err != nil {
		return domainerrors.Wrap(err, "persisting failed attempt")
	}
	metrics.RecordAttemptOutcome(attempt.ProviderKey, "failed")
	o.logger.Warn("propagation attempt failed",
		zap.String("request_id", attempt.RequestID.String()),
		zap.String("provider", attempt.ProviderKey),
		zap.Int("attempt_no", attempt.AttemptNo),
		zap.String("error", message))
	o.recordEvent(ctx, o.attemptEvent(attempt, removal.EventAttemptFailed, map[string]interface{}{
		"error": message,
	}))
	return nil
}

func (o *Orchestrator) finishAlreadyListed(ctx context.Context, attempt *removal.Attempt) error {
	if err := attempt.SucceedAlreadyListed(); err != nil {
		return err
	}
	if err := o.attempts.Update(ctx, attempt); err != nil {
		return domainerrors.Wrap(err, "persisting attempt outcome")
	}
	metrics.RecordAttemptOutcome(attempt.ProviderKey, "already_listed")
	o.recordEvent(ctx, o.attemptEvent(attempt, removal.EventAttemptSucceeded, map[string]interface{}{
		"already_listed": true,
	}))
	return nil
}

func (o *Orchestrator) finishSucceeded(ctx context.Context, attempt *removal.Attempt, response map[string]interface{}) error {
	if err := attempt.Succeed(response); err != nil {
		return err
	}
	if err := o.attempts.Update(ctx, attempt); err != nil {
		return domainerrors.Wrap(err, "persisting attempt outcome")
	}
	metrics.RecordAttemptOutcome(attempt.ProviderKey, "success")
	o.recordEvent(ctx, o.attemptEvent(attempt, removal.EventAttemptSucceeded, nil))
	return nil
}

// checkCompletion stamps completed_at once every provider's newest attempt is
// clean-terminal (success or skipped)
func (o *Orchestrator) checkCompletion(ctx context.Context, orgID, requestID uuid.UUID) error {
	all, err := o.attempts.FindByRequest(ctx, requestID)
	if err != nil {
		metrics.RecordOrchestrationRun("error")
		return domainerrors.Wrap(err, "loading attempts for completion check")
	}

	latest := make(map[string]*removal.Attempt)
	for _, attempt := range all {
		current, ok := latest[attempt.ProviderKey]
		if !ok || attempt.AttemptNo > current.AttemptNo {
			latest[attempt.ProviderKey] = attempt
		}
	}

	for _, attempt := range latest {
		if attempt.Status.IsOpen() || attempt.Status == removal.AttemptStatusFailed {
			metrics.RecordOrchestrationRun("incomplete")
			return nil
		}
	}

	// Reload fresh: the request may have been reset while providers ran
	req, err := o.requests.GetByID(ctx, orgID, requestID)
	if err != nil {
		return err
	}
	if req.Status != removal.RequestStatusApproved || req.IsComplete() {
		metrics.RecordOrchestrationRun("complete")
		return nil
	}

	if err := req.MarkCompleted(time.Now()); err != nil {
		return err
	}
	if err := o.requests.Update(ctx, req); err != nil {
		return domainerrors.Wrap(err, "stamping request completion")
	}

	metrics.RecordOrchestrationRun("complete")
	o.logger.Info("request propagation complete",
		zap.String("request_id", requestID.String()),
		zap.Int("providers", len(latest)))
	o.recordEvent(ctx, removal.NewEvent(orgID, &requestID, "system", removal.EventRequestCompleted,
		map[string]interface{}{"providers": len(latest)}))
	return nil
}

func (o *Orchestrator) attemptEvent(attempt *removal.Attempt, action removal.EventAction, detail map[string]interface{}) *removal.Event {
	if detail == nil {
		detail = map[string]interface{}{}
	}
	detail["provider"] = attempt.ProviderKey
	detail["attempt_no"] = attempt.AttemptNo
	requestID := attempt.RequestID
	return removal.NewEvent(attempt.OrganizationID, &requestID, "system", action, detail)
}

func (o *Orchestrator) recordEvent(ctx context.Context, event *removal.Event) {
	if err := o.events.Save(ctx, event); err != nil {
		o.logger.Warn("failed to record audit event",
			zap.String("action", string(event.Action)),
			zap.Error(err))
	}
}
