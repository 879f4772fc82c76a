package removal

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	domainerrors "github.com/davidleathers/dnc-propagation-backend/internal/domain/errors"
	"github.com/davidleathers/dnc-propagation-backend/internal/domain/removal"
	"github.com/davidleathers/dnc-propagation-backend/internal/testutil/memrepo"
)

// captureQueue records enqueued request IDs instead of propagating
type captureQueue struct {
	mu       sync.Mutex
	enqueued []uuid.UUID
	err      error
}

func (q *captureQueue) Enqueue(orgID, requestID uuid.UUID) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.enqueued = append(q.enqueued, requestID)
	return nil
}

func (q *captureQueue) count() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.enqueued)
}

type fixture struct {
	store   *memrepo.Store
	queue   *captureQueue
	service Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memrepo.New()
	queue := &captureQueue{}
	svc := NewService(zaptest.NewLogger(t),
		store.Requests(), store.Attempts(), store.Events(), store.Settings(), queue)
	return &fixture{store: store, queue: queue, service: svc}
}

func (f *fixture) submit(t *testing.T, orgID uuid.UUID, phone string) *removal.Request {
	t.Helper()
	req, err := f.service.SubmitRequest(context.Background(), SubmitInput{
		OrganizationID: orgID,
		Phone:          phone,
		Reason:         "customer asked to stop calls",
		Channel:        removal.ChannelWeb,
		RequestedBy:    uuid.New(),
	})
	require.NoError(t, err)
	return req
}

func TestService_SubmitRequest(t *testing.T) {
	f := newFixture(t)
	orgID := uuid.New()

	t.Run("creates pending request with no attempts", func(t *testing.T) {
		req := f.submit(t, orgID, "5551234567")

		assert.Equal(t, removal.RequestStatusPending, req.Status)
		assert.Nil(t, req.DecidedAt)
		assert.Equal(t, 0, f.store.AttemptCount())

		events, err := f.service.GetRequestEvents(context.Background(), orgID, req.ID)
		require.NoError(t, err)
		require.Len(t, events, 1)
		assert.Equal(t, removal.EventRequestSubmitted, events[0].Action)
	})

	t.Run("rejects unparseable phone", func(t *testing.T) {
		_, err := f.service.SubmitRequest(context.Background(), SubmitInput{
			OrganizationID: orgID,
			Phone:          "not-a-phone",
			RequestedBy:    uuid.New(),
		})
		require.Error(t, err)
		assert.True(t, domainerrors.IsType(err, domainerrors.ErrorTypeValidation))
	})
}

func TestService_Approve(t *testing.T) {
	t.Run("creates one pending attempt per enabled provider", func(t *testing.T) {
		f := newFixture(t)
		orgID := uuid.New()
		f.store.SeedEnabledProviders(orgID,
			removal.ProviderYtel, removal.ProviderGenesys, removal.ProviderDNCScrub)

		req := f.submit(t, orgID, "5551234567")
		result, err := f.service.Approve(context.Background(), DecisionInput{
			OrganizationID: orgID,
			RequestID:      req.ID,
			Reviewer:       uuid.New(),
			Notes:          "verified caller identity",
		})
		require.NoError(t, err)

		assert.Equal(t, removal.RequestStatusApproved, result.Request.Status)
		require.NotNil(t, result.Request.DecidedAt)
		assert.Equal(t, 3, result.Attempts)

		attempts, err := f.store.Attempts().FindByRequest(context.Background(), req.ID)
		require.NoError(t, err)
		require.Len(t, attempts, 3)
		for _, attempt := range attempts {
			assert.Equal(t, removal.AttemptStatusPending, attempt.Status)
			assert.Equal(t, 1, attempt.AttemptNo)
		}

		assert.Equal(t, 1, f.queue.count())
	})

	t.Run("already decided request", func(t *testing.T) {
		f := newFixture(t)
		orgID := uuid.New()
		f.store.SeedEnabledProviders(orgID, removal.ProviderYtel)

		req := f.submit(t, orgID, "5551234567")
		input := DecisionInput{OrganizationID: orgID, RequestID: req.ID, Reviewer: uuid.New()}

		_, err := f.service.Approve(context.Background(), input)
		require.NoError(t, err)

		_, err = f.service.Approve(context.Background(), input)
		require.Error(t, err)
		assert.True(t, domainerrors.IsType(err, domainerrors.ErrorTypeInvalidState))
	})

	t.Run("unknown request", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.service.Approve(context.Background(), DecisionInput{
			OrganizationID: uuid.New(),
			RequestID:      uuid.New(),
			Reviewer:       uuid.New(),
		})
		require.Error(t, err)
		assert.True(t, domainerrors.IsType(err, domainerrors.ErrorTypeNotFound))
	})

	t.Run("no enabled providers completes immediately", func(t *testing.T) {
		f := newFixture(t)
		orgID := uuid.New()

		req := f.submit(t, orgID, "5551234567")
		result, err := f.service.Approve(context.Background(), DecisionInput{
			OrganizationID: orgID,
			RequestID:      req.ID,
			Reviewer:       uuid.New(),
		})
		require.NoError(t, err)

		assert.Equal(t, 0, result.Attempts)
		assert.True(t, result.Request.IsComplete())
		assert.Equal(t, 0, f.queue.count(), "nothing to propagate")
	})
}

func TestService_Deny(t *testing.T) {
	f := newFixture(t)
	orgID := uuid.New()
	f.store.SeedEnabledProviders(orgID, removal.ProviderYtel)

	req := f.submit(t, orgID, "5551234567")
	denied, err := f.service.Deny(context.Background(), DecisionInput{
		OrganizationID: orgID,
		RequestID:      req.ID,
		Reviewer:       uuid.New(),
		Notes:          "duplicate of an existing request",
	})
	require.NoError(t, err)

	assert.Equal(t, removal.RequestStatusDenied, denied.Status)
	require.NotNil(t, denied.DecidedAt)
	assert.Equal(t, 0, f.store.AttemptCount(), "denial never creates attempts")
	assert.Equal(t, 0, f.queue.count())
}

func TestService_BulkDecisions(t *testing.T) {
	f := newFixture(t)
	orgID := uuid.New()
	f.store.SeedEnabledProviders(orgID, removal.ProviderYtel)

	first := f.submit(t, orgID, "5551234567")
	second := f.submit(t, orgID, "5559876543")
	unknown := uuid.New()

	results := f.service.BulkApprove(context.Background(), BulkDecisionInput{
		OrganizationID: orgID,
		RequestIDs:     []uuid.UUID{first.ID, unknown, second.ID},
		Reviewer:       uuid.New(),
	})

	require.Len(t, results, 3)
	assert.True(t, results[0].OK)
	assert.False(t, results[1].OK, "unknown id fails without aborting the batch")
	assert.NotEmpty(t, results[1].Error)
	assert.True(t, results[2].OK, "failure earlier in the batch does not stop later requests")

	// Denying already-approved requests fails per-id
	denials := f.service.BulkDeny(context.Background(), BulkDecisionInput{
		OrganizationID: orgID,
		RequestIDs:     []uuid.UUID{first.ID},
		Reviewer:       uuid.New(),
	})
	require.Len(t, denials, 1)
	assert.False(t, denials[0].OK)
}

func TestService_GetRequestStatus(t *testing.T) {
	ctx := context.Background()

	t.Run("zero attempts reports not started", func(t *testing.T) {
		f := newFixture(t)
		orgID := uuid.New()
		req := f.submit(t, orgID, "5551234567")

		view, err := f.service.GetRequestStatus(ctx, orgID, req.ID)
		require.NoError(t, err)
		assert.Equal(t, PropagationNotStarted, view.Propagation)
		assert.Empty(t, view.Providers)
	})

	t.Run("open attempts report in progress", func(t *testing.T) {
		f := newFixture(t)
		orgID := uuid.New()
		f.store.SeedEnabledProviders(orgID, removal.ProviderYtel, removal.ProviderGenesys)

		req := f.submit(t, orgID, "5551234567")
		_, err := f.service.Approve(ctx, DecisionInput{
			OrganizationID: orgID, RequestID: req.ID, Reviewer: uuid.New(),
		})
		require.NoError(t, err)

		view, err := f.service.GetRequestStatus(ctx, orgID, req.ID)
		require.NoError(t, err)
		assert.Equal(t, PropagationInProgress, view.Propagation)
		assert.Len(t, view.Providers, 2)
	})

	t.Run("failed latest attempt reports incomplete", func(t *testing.T) {
		f := newFixture(t)
		orgID := uuid.New()
		f.store.SeedEnabledProviders(orgID, removal.ProviderYtel)

		req := f.submit(t, orgID, "5551234567")
		_, err := f.service.Approve(ctx, DecisionInput{
			OrganizationID: orgID, RequestID: req.ID, Reviewer: uuid.New(),
		})
		require.NoError(t, err)

		attempts, err := f.store.Attempts().FindByRequest(ctx, req.ID)
		require.NoError(t, err)
		require.Len(t, attempts, 1)
		require.NoError(t, attempts[0].Fail("provider rejected the number"))
		require.NoError(t, f.store.Attempts().Update(ctx, attempts[0]))

		view, err := f.service.GetRequestStatus(ctx, orgID, req.ID)
		require.NoError(t, err)
		assert.Equal(t, PropagationIncomplete, view.Propagation)
		require.NotNil(t, view.Providers[0].ErrorMessage)
	})

	t.Run("retry row supersedes the failed one in the view", func(t *testing.T) {
		f := newFixture(t)
		orgID := uuid.New()
		f.store.SeedEnabledProviders(orgID, removal.ProviderYtel)

		req := f.submit(t, orgID, "5551234567")
		_, err := f.service.Approve(ctx, DecisionInput{
			OrganizationID: orgID, RequestID: req.ID, Reviewer: uuid.New(),
		})
		require.NoError(t, err)

		attempts, err := f.store.Attempts().FindByRequest(ctx, req.ID)
		require.NoError(t, err)
		require.NoError(t, attempts[0].Fail("timeout"))
		require.NoError(t, f.store.Attempts().Update(ctx, attempts[0]))

		reloaded, err := f.store.Requests().GetByID(ctx, orgID, req.ID)
		require.NoError(t, err)
		retry, err := removal.NewAttempt(reloaded, removal.ProviderYtel, 2)
		require.NoError(t, err)
		require.NoError(t, retry.SucceedAlreadyListed())
		require.NoError(t, f.store.Attempts().Save(ctx, retry))

		view, err := f.service.GetRequestStatus(ctx, orgID, req.ID)
		require.NoError(t, err)
		require.Len(t, view.Providers, 1)
		assert.Equal(t, 2, view.Providers[0].AttemptNo)
		assert.Equal(t, removal.AttemptStatusSuccess, view.Providers[0].Status)
		assert.True(t, view.Providers[0].AlreadyListed)
	})
}

func TestService_GetRequestEvents(t *testing.T) {
	f := newFixture(t)
	orgID := uuid.New()
	f.store.SeedEnabledProviders(orgID, removal.ProviderYtel)

	req := f.submit(t, orgID, "5551234567")
	_, err := f.service.Approve(context.Background(), DecisionInput{
		OrganizationID: orgID, RequestID: req.ID, Reviewer: uuid.New(),
	})
	require.NoError(t, err)

	events, err := f.service.GetRequestEvents(context.Background(), orgID, req.ID)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, removal.EventRequestSubmitted, events[0].Action)
	assert.Equal(t, removal.EventRequestApproved, events[1].Action)

	_, err = f.service.GetRequestEvents(context.Background(), orgID, uuid.New())
	require.Error(t, err)
	assert.True(t, domainerrors.IsType(err, domainerrors.ErrorTypeNotFound))
}
