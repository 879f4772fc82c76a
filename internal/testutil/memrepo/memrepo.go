// Package memrepo provides in-memory implementations of the removal
// repositories for service-level tests. Behavior mirrors the postgres
// repositories, including the terminal-attempt update guard, so the same
// invariants hold whether a test runs against a database or not.
package memrepo

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	domainerrors "github.com/davidleathers/dnc-propagation-backend/internal/domain/errors"
	"github.com/davidleathers/dnc-propagation-backend/internal/domain/removal"
)

// Store is the shared backing state for all four repositories
type Store struct {
	mu       sync.Mutex
	requests map[uuid.UUID]removal.Request
	attempts map[uuid.UUID]removal.Attempt
	events   []removal.Event
	settings map[uuid.UUID]map[string]removal.ProviderSetting
}

// New creates an empty store
func New() *Store {
	return &Store{
		requests: make(map[uuid.UUID]removal.Request),
		attempts: make(map[uuid.UUID]removal.Attempt),
		settings: make(map[uuid.UUID]map[string]removal.ProviderSetting),
	}
}

// Requests returns the request repository view of the store
func (s *Store) Requests() removal.RequestRepository { return &requestRepo{s} }

// Attempts returns the attempt repository view of the store
func (s *Store) Attempts() removal.AttemptRepository { return &attemptRepo{s} }

// Events returns the event repository view of the store
func (s *Store) Events() removal.EventRepository { return &eventRepo{s} }

// Settings returns the provider setting repository view of the store
func (s *Store) Settings() removal.ProviderSettingRepository { return &settingRepo{s} }

// SeedSetting stores a provider setting row
func (s *Store) SeedSetting(orgID uuid.UUID, providerKey string, enabled bool, credentials map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.settings[orgID] == nil {
		s.settings[orgID] = make(map[string]removal.ProviderSetting)
	}
	s.settings[orgID][providerKey] = removal.ProviderSetting{
		OrganizationID: orgID,
		ProviderKey:    providerKey,
		Enabled:        enabled,
		Credentials:    credentials,
	}
}

// SeedEnabledProviders enables the given providers with placeholder credentials
func (s *Store) SeedEnabledProviders(orgID uuid.UUID, providerKeys ...string) {
	for _, key := range providerKeys {
		s.SeedSetting(orgID, key, true, map[string]string{"configured": "yes"})
	}
}

// AttemptCount returns the number of stored attempt rows
func (s *Store) AttemptCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.attempts)
}

// tx is a no-op transaction; the store applies writes immediately
type tx struct {
	ctx context.Context
}

func (t *tx) Commit() error            { return nil }
func (t *tx) Rollback() error          { return nil }
func (t *tx) Context() context.Context { return t.ctx }

// requestRepo

type requestRepo struct{ store *Store }

func (r *requestRepo) Save(ctx context.Context, req *removal.Request) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	r.store.requests[req.ID] = *req
	return nil
}

func (r *requestRepo) GetByID(ctx context.Context, orgID, id uuid.UUID) (*removal.Request, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	return r.get(orgID, id)
}

func (r *requestRepo) get(orgID, id uuid.UUID) (*removal.Request, error) {
	req, ok := r.store.requests[id]
	if !ok || req.OrganizationID != orgID {
		return nil, domainerrors.ErrRequestNotFound
	}
	copied := req
	return &copied, nil
}

func (r *requestRepo) GetForUpdate(ctx context.Context, _ removal.Transaction, orgID, id uuid.UUID) (*removal.Request, error) {
	return r.GetByID(ctx, orgID, id)
}

func (r *requestRepo) Update(ctx context.Context, req *removal.Request) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if _, ok := r.store.requests[req.ID]; !ok {
		return domainerrors.ErrRequestNotFound
	}
	r.store.requests[req.ID] = *req
	return nil
}

func (r *requestRepo) UpdateWithTx(ctx context.Context, _ removal.Transaction, req *removal.Request) error {
	return r.Update(ctx, req)
}

func (r *requestRepo) List(ctx context.Context, orgID uuid.UUID, filter removal.RequestFilter) ([]*removal.Request, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	var out []*removal.Request
	for _, req := range r.store.requests {
		if req.OrganizationID != orgID {
			continue
		}
		if filter.Status != nil && req.Status != *filter.Status {
			continue
		}
		if filter.Phone != nil && req.Phone.String() != *filter.Phone {
			continue
		}
		copied := req
		out = append(out, &copied)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].SubmittedAt.Before(out[j].SubmittedAt)
	})
	return out, nil
}

func (r *requestRepo) FindApprovedWithoutAttempts(ctx context.Context, orgID uuid.UUID) ([]*removal.Request, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	var out []*removal.Request
	for _, req := range r.store.requests {
		if req.OrganizationID != orgID || req.Status != removal.RequestStatusApproved {
			continue
		}
		// A completed request with no attempts is the legitimate
		// zero-enabled-providers outcome, not a stuck one.
		if req.CompletedAt != nil {
			continue
		}
		if r.hasAttempt(req.ID, func(removal.Attempt) bool { return true }) {
			continue
		}
		copied := req
		out = append(out, &copied)
	}
	return out, nil
}

func (r *requestRepo) hasAttempt(requestID uuid.UUID, match func(removal.Attempt) bool) bool {
	for _, attempt := range r.store.attempts {
		if attempt.RequestID == requestID && match(attempt) {
			return true
		}
	}
	return false
}

func (r *requestRepo) ResetApprovedWithoutOutcome(ctx context.Context, _ removal.Transaction, orgID uuid.UUID) (int, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	reset := 0
	for id, req := range r.store.requests {
		if req.OrganizationID != orgID || req.Status != removal.RequestStatusApproved {
			continue
		}
		if r.hasAttempt(req.ID, func(a removal.Attempt) bool {
			return a.Status == removal.AttemptStatusSuccess || a.Status == removal.AttemptStatusFailed
		}) {
			continue
		}
		if err := req.ResetToPending(); err != nil {
			return reset, err
		}
		r.store.requests[id] = req
		reset++
	}
	return reset, nil
}

func (r *requestRepo) ResetAllApproved(ctx context.Context, _ removal.Transaction, orgID uuid.UUID) (int, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	reset := 0
	for id, req := range r.store.requests {
		if req.OrganizationID != orgID || req.Status != removal.RequestStatusApproved {
			continue
		}
		if err := req.ResetToPending(); err != nil {
			return reset, err
		}
		r.store.requests[id] = req
		reset++
	}
	return reset, nil
}

func (r *requestRepo) BeginTx(ctx context.Context) (removal.Transaction, error) {
	return &tx{ctx: ctx}, nil
}

func (r *requestRepo) WithTx(ctx context.Context, fn func(tx removal.Transaction) error) error {
	return fn(&tx{ctx: ctx})
}

// attemptRepo

type attemptRepo struct{ store *Store }

func (r *attemptRepo) Save(ctx context.Context, attempt *removal.Attempt) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	r.store.attempts[attempt.ID] = *attempt
	return nil
}

func (r *attemptRepo) SaveWithTx(ctx context.Context, _ removal.Transaction, attempt *removal.Attempt) error {
	return r.Save(ctx, attempt)
}

func (r *attemptRepo) GetByID(ctx context.Context, id uuid.UUID) (*removal.Attempt, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	attempt, ok := r.store.attempts[id]
	if !ok {
		return nil, domainerrors.ErrAttemptNotFound
	}
	copied := attempt
	return &copied, nil
}

// Update mirrors the postgres guard: rows that already reached a terminal
// state refuse mutation.
func (r *attemptRepo) Update(ctx context.Context, attempt *removal.Attempt) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	stored, ok := r.store.attempts[attempt.ID]
	if !ok {
		return domainerrors.ErrAttemptNotFound
	}
	if stored.Status.IsTerminal() {
		return domainerrors.NewInvalidStateError("ATTEMPT_TERMINAL",
			"attempt has reached a terminal state and cannot be mutated")
	}
	r.store.attempts[attempt.ID] = *attempt
	return nil
}

func (r *attemptRepo) FindByRequest(ctx context.Context, requestID uuid.UUID) ([]*removal.Attempt, error) {
	return r.find(func(a removal.Attempt) bool { return a.RequestID == requestID })
}

func (r *attemptRepo) FindOpenByRequest(ctx context.Context, requestID uuid.UUID) ([]*removal.Attempt, error) {
	return r.find(func(a removal.Attempt) bool {
		return a.RequestID == requestID && a.Status.IsOpen()
	})
}

func (r *attemptRepo) find(match func(removal.Attempt) bool) ([]*removal.Attempt, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	var out []*removal.Attempt
	for _, attempt := range r.store.attempts {
		if match(attempt) {
			copied := attempt
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ProviderKey != out[j].ProviderKey {
			return out[i].ProviderKey < out[j].ProviderKey
		}
		return out[i].AttemptNo < out[j].AttemptNo
	})
	return out, nil
}

func (r *attemptRepo) MaxAttemptNo(ctx context.Context, requestID uuid.UUID, providerKey string) (int, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	max := 0
	for _, attempt := range r.store.attempts {
		if attempt.RequestID == requestID && attempt.ProviderKey == providerKey && attempt.AttemptNo > max {
			max = attempt.AttemptNo
		}
	}
	return max, nil
}

func (r *attemptRepo) HasOpenAttempt(ctx context.Context, requestID uuid.UUID, providerKey string) (bool, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	for _, attempt := range r.store.attempts {
		if attempt.RequestID == requestID && attempt.ProviderKey == providerKey && attempt.Status.IsOpen() {
			return true, nil
		}
	}
	return false, nil
}

func (r *attemptRepo) FindOrphaned(ctx context.Context, orgID uuid.UUID) ([]*removal.Attempt, error) {
	return r.find(func(a removal.Attempt) bool {
		return a.OrganizationID == orgID && r.orphaned(a)
	})
}

func (r *attemptRepo) orphaned(a removal.Attempt) bool {
	req, ok := r.store.requests[a.RequestID]
	return !ok || req.Status != removal.RequestStatusApproved
}

func (r *attemptRepo) FindStuckOpen(ctx context.Context, orgID uuid.UUID, olderThan time.Time) ([]*removal.Attempt, error) {
	return r.find(func(a removal.Attempt) bool {
		return a.OrganizationID == orgID && a.Status.IsOpen() && a.StartedAt.Before(olderThan)
	})
}

func (r *attemptRepo) DeleteStuckOpen(ctx context.Context, orgID uuid.UUID, olderThan time.Time) (int, error) {
	return r.delete(func(a removal.Attempt) bool {
		return a.OrganizationID == orgID && a.Status.IsOpen() && a.StartedAt.Before(olderThan)
	})
}

func (r *attemptRepo) DeleteOrphaned(ctx context.Context, orgID uuid.UUID) (int, error) {
	return r.delete(func(a removal.Attempt) bool {
		return a.OrganizationID == orgID && r.orphaned(a)
	})
}

func (r *attemptRepo) DeleteByOrganization(ctx context.Context, _ removal.Transaction, orgID uuid.UUID) (int, error) {
	return r.delete(func(a removal.Attempt) bool { return a.OrganizationID == orgID })
}

func (r *attemptRepo) delete(match func(removal.Attempt) bool) (int, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	deleted := 0
	for id, attempt := range r.store.attempts {
		if match(attempt) {
			delete(r.store.attempts, id)
			deleted++
		}
	}
	return deleted, nil
}

// eventRepo

type eventRepo struct{ store *Store }

func (r *eventRepo) Save(ctx context.Context, event *removal.Event) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	r.store.events = append(r.store.events, *event)
	return nil
}

func (r *eventRepo) SaveWithTx(ctx context.Context, _ removal.Transaction, event *removal.Event) error {
	return r.Save(ctx, event)
}

func (r *eventRepo) FindByRequest(ctx context.Context, orgID, requestID uuid.UUID) ([]*removal.Event, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	var out []*removal.Event
	for _, event := range r.store.events {
		if event.OrganizationID != orgID || event.RequestID == nil || *event.RequestID != requestID {
			continue
		}
		copied := event
		out = append(out, &copied)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].OccurredAt.Before(out[j].OccurredAt)
	})
	return out, nil
}

// settingRepo

type settingRepo struct{ store *Store }

func (r *settingRepo) FindByOrganization(ctx context.Context, orgID uuid.UUID) ([]*removal.ProviderSetting, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	out := make([]*removal.ProviderSetting, 0, len(removal.AllProviderKeys()))
	for _, key := range removal.AllProviderKeys() {
		if stored, ok := r.store.settings[orgID][key]; ok {
			copied := stored
			out = append(out, &copied)
			continue
		}
		out = append(out, &removal.ProviderSetting{
			OrganizationID: orgID,
			ProviderKey:    key,
			Enabled:        false,
		})
	}
	return out, nil
}

func (r *settingRepo) Get(ctx context.Context, orgID uuid.UUID, providerKey string) (*removal.ProviderSetting, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	if stored, ok := r.store.settings[orgID][providerKey]; ok {
		copied := stored
		return &copied, nil
	}
	return &removal.ProviderSetting{
		OrganizationID: orgID,
		ProviderKey:    providerKey,
		Enabled:        false,
	}, nil
}
