package audit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/davidleathers/dnc-propagation-backend/internal/domain/removal"
	"github.com/davidleathers/dnc-propagation-backend/internal/testutil/memrepo"
)

type captureTrigger struct {
	mu       sync.Mutex
	enqueued []uuid.UUID
}

func (c *captureTrigger) Enqueue(orgID, requestID uuid.UUID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.enqueued = append(c.enqueued, requestID)
	return nil
}

type auditFixture struct {
	store   *memrepo.Store
	trigger *captureTrigger
	auditor *Auditor
	orgID   uuid.UUID
}

func newAuditFixture(t *testing.T) *auditFixture {
	t.Helper()
	store := memrepo.New()
	trigger := &captureTrigger{}
	return &auditFixture{
		store:   store,
		trigger: trigger,
		auditor: NewAuditor(zaptest.NewLogger(t),
			store.Requests(), store.Attempts(), store.Events(), store.Settings(),
			trigger, time.Hour),
		orgID: uuid.New(),
	}
}

func (f *auditFixture) approvedRequest(t *testing.T) *removal.Request {
	t.Helper()
	req, err := removal.NewRequest(f.orgID, "5551234567", "test", removal.ChannelWeb, uuid.New())
	require.NoError(t, err)
	require.NoError(t, req.Approve(uuid.New(), ""))
	require.NoError(t, f.store.Requests().Save(context.Background(), req))
	return req
}

func (f *auditFixture) attempt(t *testing.T, req *removal.Request, providerKey string, age time.Duration) *removal.Attempt {
	t.Helper()
	attempt, err := removal.NewAttempt(req, providerKey, 1)
	require.NoError(t, err)
	attempt.StartedAt = time.Now().Add(-age)
	require.NoError(t, f.store.Attempts().Save(context.Background(), attempt))
	return attempt
}

func TestAuditor_Diagnostics(t *testing.T) {
	ctx := context.Background()

	t.Run("stuck requests are approved with zero attempts", func(t *testing.T) {
		f := newAuditFixture(t)
		stuckReq := f.approvedRequest(t)
		healthy := f.approvedRequest(t)
		f.attempt(t, healthy, removal.ProviderYtel, 0)

		stuck, err := f.auditor.FindStuckRequests(ctx, f.orgID)
		require.NoError(t, err)
		require.Len(t, stuck, 1)
		assert.Equal(t, stuckReq.ID, stuck[0].ID)
	})

	t.Run("orphaned attempts reference denied or missing requests", func(t *testing.T) {
		f := newAuditFixture(t)
		req := f.approvedRequest(t)
		orphan := f.attempt(t, req, removal.ProviderYtel, 0)

		// Request flips out from under the attempt
		require.NoError(t, req.ResetToPending())
		require.NoError(t, f.store.Requests().Update(ctx, req))

		orphaned, err := f.auditor.FindOrphanedAttempts(ctx, f.orgID)
		require.NoError(t, err)
		require.Len(t, orphaned, 1)
		assert.Equal(t, orphan.ID, orphaned[0].ID)
	})

	t.Run("stuck pending respects the age threshold", func(t *testing.T) {
		f := newAuditFixture(t)
		req := f.approvedRequest(t)
		old := f.attempt(t, req, removal.ProviderYtel, 2*time.Hour)
		f.attempt(t, req, removal.ProviderGenesys, time.Minute)

		pending, err := f.auditor.FindStuckPending(ctx, f.orgID)
		require.NoError(t, err)
		require.Len(t, pending, 1)
		assert.Equal(t, old.ID, pending[0].ID)
	})

	t.Run("inspect combines all three", func(t *testing.T) {
		f := newAuditFixture(t)
		f.approvedRequest(t)

		report, err := f.auditor.Inspect(ctx, f.orgID)
		require.NoError(t, err)
		assert.Len(t, report.StuckRequests, 1)
		assert.Empty(t, report.OrphanedAttempts)
		assert.Empty(t, report.StuckPending)
	})
}

func TestAuditor_ClearStuckPending(t *testing.T) {
	ctx := context.Background()
	f := newAuditFixture(t)
	req := f.approvedRequest(t)
	f.attempt(t, req, removal.ProviderYtel, 2*time.Hour)
	fresh := f.attempt(t, req, removal.ProviderGenesys, time.Minute)

	result, err := f.auditor.ClearStuckPending(ctx, f.orgID)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Rows)

	remaining, err := f.store.Attempts().FindByRequest(ctx, req.ID)
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, fresh.ID, remaining[0].ID)

	// Idempotent: a second pass finds nothing
	result, err = f.auditor.ClearStuckPending(ctx, f.orgID)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Rows)
}

func TestAuditor_ClearOrphaned(t *testing.T) {
	ctx := context.Background()
	f := newAuditFixture(t)
	req := f.approvedRequest(t)
	f.attempt(t, req, removal.ProviderYtel, 0)
	require.NoError(t, req.ResetToPending())
	require.NoError(t, f.store.Requests().Update(ctx, req))

	result, err := f.auditor.ClearOrphaned(ctx, f.orgID)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Rows)
	assert.Equal(t, 0, f.store.AttemptCount())
}

func TestAuditor_ResetStuckRequests(t *testing.T) {
	ctx := context.Background()
	f := newAuditFixture(t)

	// No outcome recorded: reset
	noOutcome := f.approvedRequest(t)
	f.attempt(t, noOutcome, removal.ProviderYtel, 0)

	// Success recorded: left alone
	withOutcome := f.approvedRequest(t)
	done := f.attempt(t, withOutcome, removal.ProviderYtel, 0)
	require.NoError(t, done.Succeed(nil))
	require.NoError(t, f.store.Attempts().Update(ctx, done))

	result, err := f.auditor.ResetStuckRequests(ctx, f.orgID)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Rows)

	reloaded, err := f.store.Requests().GetByID(ctx, f.orgID, noOutcome.ID)
	require.NoError(t, err)
	assert.Equal(t, removal.RequestStatusPending, reloaded.Status)
	assert.Nil(t, reloaded.DecidedAt, "decision fields are cleared")
	assert.Nil(t, reloaded.ReviewedBy)

	kept, err := f.store.Requests().GetByID(ctx, f.orgID, withOutcome.ID)
	require.NoError(t, err)
	assert.Equal(t, removal.RequestStatusApproved, kept.Status)
}

func TestAuditor_FullWipe(t *testing.T) {
	ctx := context.Background()
	f := newAuditFixture(t)

	first := f.approvedRequest(t)
	second := f.approvedRequest(t)
	f.attempt(t, first, removal.ProviderYtel, 0)
	succeeded := f.attempt(t, second, removal.ProviderGenesys, 0)
	require.NoError(t, succeeded.Succeed(nil))
	require.NoError(t, f.store.Attempts().Update(ctx, succeeded))

	result, err := f.auditor.FullWipe(ctx, f.orgID)
	require.NoError(t, err)
	assert.Equal(t, 4, result.Rows, "two attempts deleted plus two requests reset")
	assert.Equal(t, 0, f.store.AttemptCount())

	for _, req := range []*removal.Request{first, second} {
		reloaded, err := f.store.Requests().GetByID(ctx, f.orgID, req.ID)
		require.NoError(t, err)
		assert.Equal(t, removal.RequestStatusPending, reloaded.Status)
	}
}

func TestAuditor_RecreateAttempts(t *testing.T) {
	ctx := context.Background()
	f := newAuditFixture(t)
	f.store.SeedEnabledProviders(f.orgID, removal.ProviderYtel, removal.ProviderGenesys)

	stuck := f.approvedRequest(t)

	result, err := f.auditor.RecreateAttempts(ctx, f.orgID)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Rows, "one attempt per enabled provider")

	attempts, err := f.store.Attempts().FindByRequest(ctx, stuck.ID)
	require.NoError(t, err)
	require.Len(t, attempts, 2)
	for _, attempt := range attempts {
		assert.Equal(t, removal.AttemptStatusPending, attempt.Status)
		assert.Equal(t, 1, attempt.AttemptNo)
	}

	require.Len(t, f.trigger.enqueued, 1)
	assert.Equal(t, stuck.ID, f.trigger.enqueued[0])

	// Idempotent: the request now has attempts, so nothing to recreate
	result, err = f.auditor.RecreateAttempts(ctx, f.orgID)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Rows)
	assert.Len(t, f.trigger.enqueued, 1)
}

func TestAuditor_RecreateAttempts_ZeroEnabledProvidersCompletes(t *testing.T) {
	ctx := context.Background()
	f := newAuditFixture(t)
	// No providers enabled for this organization.

	stuck := f.approvedRequest(t)

	result, err := f.auditor.RecreateAttempts(ctx, f.orgID)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Rows)
	assert.Empty(t, f.trigger.enqueued)

	// Nothing to propagate: the request is stamped complete, mirroring an
	// approve with zero enabled providers.
	repaired, err := f.store.Requests().GetByID(ctx, f.orgID, stuck.ID)
	require.NoError(t, err)
	assert.Equal(t, removal.RequestStatusApproved, repaired.Status)
	require.NotNil(t, repaired.CompletedAt)

	// It no longer shows up as stuck, so the next sweep is a no-op.
	remaining, err := f.auditor.FindStuckRequests(ctx, f.orgID)
	require.NoError(t, err)
	assert.Empty(t, remaining)

	result, err = f.auditor.RecreateAttempts(ctx, f.orgID)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Rows)
}
