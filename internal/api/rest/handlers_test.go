package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	domainerrors "github.com/davidleathers/dnc-propagation-backend/internal/domain/errors"
	domainremoval "github.com/davidleathers/dnc-propagation-backend/internal/domain/removal"
	"github.com/davidleathers/dnc-propagation-backend/internal/domain/values"
	"github.com/davidleathers/dnc-propagation-backend/internal/service/audit"
	"github.com/davidleathers/dnc-propagation-backend/internal/service/removal"
	"github.com/davidleathers/dnc-propagation-backend/internal/testutil/memrepo"
)

type noopQueue struct{}

func (noopQueue) Enqueue(orgID, requestID uuid.UUID) error { return nil }

// stubRetryer records the retry it was asked for
type stubRetryer struct {
	lastProvider string
	attempt      *domainremoval.Attempt
	err          error
}

func (s *stubRetryer) RetryProvider(ctx context.Context, orgID, requestID uuid.UUID, providerKey string) (*domainremoval.Attempt, error) {
	s.lastProvider = providerKey
	return s.attempt, s.err
}

type apiFixture struct {
	store   *memrepo.Store
	retryer *stubRetryer
	server  *httptest.Server
	orgID   uuid.UUID
	userID  uuid.UUID
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	logger := zaptest.NewLogger(t)
	store := memrepo.New()
	retryer := &stubRetryer{}

	removalSvc := removal.NewService(logger,
		store.Requests(), store.Attempts(), store.Events(), store.Settings(), noopQueue{})
	auditor := audit.NewAuditor(logger,
		store.Requests(), store.Attempts(), store.Events(), store.Settings(),
		noopQueue{}, time.Hour)

	handler := NewHandler(logger, removalSvc, retryer, auditor)
	server := httptest.NewServer(NewRouter(logger, handler))
	t.Cleanup(server.Close)

	return &apiFixture{
		store:   store,
		retryer: retryer,
		server:  server,
		orgID:   uuid.New(),
		userID:  uuid.New(),
	}
}

func (f *apiFixture) do(t *testing.T, method, path string, body interface{}) *http.Response {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, f.server.URL+path, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Organization-ID", f.orgID.String())
	req.Header.Set("X-User-ID", f.userID.String())

	resp, err := f.server.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func (f *apiFixture) submit(t *testing.T, phone string) uuid.UUID {
	t.Helper()
	resp := f.do(t, http.MethodPost, "/api/v1/removal-requests", submitRequestBody{
		Phone:   phone,
		Reason:  "customer opt-out",
		Channel: "web",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	created := decodeBody[domainremoval.Request](t, resp)
	return created.ID
}

func TestHandler_SubmitRequest(t *testing.T) {
	t.Run("created", func(t *testing.T) {
		f := newAPIFixture(t)
		id := f.submit(t, "5551234567")
		assert.NotEqual(t, uuid.Nil, id)
	})

	t.Run("missing org header", func(t *testing.T) {
		f := newAPIFixture(t)
		req, err := http.NewRequest(http.MethodPost, f.server.URL+"/api/v1/removal-requests",
			bytes.NewReader([]byte(`{"phone":"5551234567"}`)))
		require.NoError(t, err)

		resp, err := f.server.Client().Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

		body := decodeBody[errorBody](t, resp)
		assert.Equal(t, "MISSING_ORGANIZATION", body.Error.Code)
	})

	t.Run("invalid phone maps to 400", func(t *testing.T) {
		f := newAPIFixture(t)
		resp := f.do(t, http.MethodPost, "/api/v1/removal-requests", submitRequestBody{Phone: "abc"})
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("missing phone fails validation", func(t *testing.T) {
		f := newAPIFixture(t)
		resp := f.do(t, http.MethodPost, "/api/v1/removal-requests", submitRequestBody{})
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

		body := decodeBody[errorBody](t, resp)
		assert.Equal(t, "VALIDATION_FAILED", body.Error.Code)
	})
}

func TestHandler_Decisions(t *testing.T) {
	t.Run("approve", func(t *testing.T) {
		f := newAPIFixture(t)
		f.store.SeedEnabledProviders(f.orgID, domainremoval.ProviderYtel, domainremoval.ProviderGenesys)
		id := f.submit(t, "5551234567")

		resp := f.do(t, http.MethodPost, "/api/v1/removal-requests/"+id.String()+"/approve",
			decisionBody{Notes: "verified"})
		require.Equal(t, http.StatusOK, resp.StatusCode)

		result := decodeBody[removal.ApproveResult](t, resp)
		assert.Equal(t, 2, result.Attempts)
		assert.Equal(t, domainremoval.RequestStatusApproved, result.Request.Status)
	})

	t.Run("approve decided request maps to 409", func(t *testing.T) {
		f := newAPIFixture(t)
		id := f.submit(t, "5551234567")

		resp := f.do(t, http.MethodPost, "/api/v1/removal-requests/"+id.String()+"/deny", nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		resp = f.do(t, http.MethodPost, "/api/v1/removal-requests/"+id.String()+"/approve", nil)
		assert.Equal(t, http.StatusConflict, resp.StatusCode)
	})

	t.Run("unknown request maps to 404", func(t *testing.T) {
		f := newAPIFixture(t)
		resp := f.do(t, http.MethodPost,
			"/api/v1/removal-requests/"+uuid.NewString()+"/approve", nil)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("bulk approve returns per-id results", func(t *testing.T) {
		f := newAPIFixture(t)
		f.store.SeedEnabledProviders(f.orgID, domainremoval.ProviderYtel)
		first := f.submit(t, "5551234567")
		second := f.submit(t, "5559876543")

		resp := f.do(t, http.MethodPost, "/api/v1/removal-requests/bulk/approve", bulkDecisionBody{
			RequestIDs: []uuid.UUID{first, uuid.New(), second},
		})
		require.Equal(t, http.StatusOK, resp.StatusCode)

		body := decodeBody[map[string][]removal.BulkResult](t, resp)
		results := body["results"]
		require.Len(t, results, 3)
		assert.True(t, results[0].OK)
		assert.False(t, results[1].OK)
		assert.True(t, results[2].OK)
	})

	t.Run("bulk with empty ids fails validation", func(t *testing.T) {
		f := newAPIFixture(t)
		resp := f.do(t, http.MethodPost, "/api/v1/removal-requests/bulk/deny",
			bulkDecisionBody{RequestIDs: []uuid.UUID{}})
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}

func TestHandler_RequestViews(t *testing.T) {
	f := newAPIFixture(t)
	f.store.SeedEnabledProviders(f.orgID, domainremoval.ProviderYtel)
	id := f.submit(t, "5551234567")

	t.Run("status view for pending request", func(t *testing.T) {
		resp := f.do(t, http.MethodGet, "/api/v1/removal-requests/"+id.String(), nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		view := decodeBody[removal.RequestStatusView](t, resp)
		assert.Equal(t, removal.PropagationNotStarted, view.Propagation)
	})

	t.Run("events trail", func(t *testing.T) {
		resp := f.do(t, http.MethodGet, "/api/v1/removal-requests/"+id.String()+"/events", nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		body := decodeBody[map[string][]domainremoval.Event](t, resp)
		require.Len(t, body["events"], 1)
		assert.Equal(t, domainremoval.EventRequestSubmitted, body["events"][0].Action)
	})

	t.Run("list with status filter", func(t *testing.T) {
		resp := f.do(t, http.MethodGet, "/api/v1/removal-requests?status=pending", nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		body := decodeBody[map[string][]domainremoval.Request](t, resp)
		assert.Len(t, body["requests"], 1)
	})
}

func TestHandler_RetryProvider(t *testing.T) {
	t.Run("delegates to the retryer", func(t *testing.T) {
		f := newAPIFixture(t)
		id := f.submit(t, "5551234567")
		f.retryer.attempt = &domainremoval.Attempt{
			ID:          uuid.New(),
			Phone:       values.MustNewPhoneNumber("5551234567"),
			ProviderKey: domainremoval.ProviderYtel,
			AttemptNo:   2,
			Status:      domainremoval.AttemptStatusSuccess,
		}

		resp := f.do(t, http.MethodPost,
			"/api/v1/removal-requests/"+id.String()+"/providers/ytel/retry", nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "ytel", f.retryer.lastProvider)

		attempt := decodeBody[domainremoval.Attempt](t, resp)
		assert.Equal(t, 2, attempt.AttemptNo)
	})

	t.Run("in-flight retry maps to 409", func(t *testing.T) {
		f := newAPIFixture(t)
		id := f.submit(t, "5551234567")
		f.retryer.err = domainerrors.NewInvalidStateError("RETRY_IN_FLIGHT",
			"a propagation run for this provider is already in flight")

		resp := f.do(t, http.MethodPost,
			"/api/v1/removal-requests/"+id.String()+"/providers/ytel/retry", nil)
		assert.Equal(t, http.StatusConflict, resp.StatusCode)
	})
}

func TestHandler_AuditEndpoints(t *testing.T) {
	f := newAPIFixture(t)

	t.Run("consistency report", func(t *testing.T) {
		resp := f.do(t, http.MethodGet, "/api/v1/audit/consistency", nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		report := decodeBody[audit.Report](t, resp)
		assert.Empty(t, report.StuckRequests)
	})

	t.Run("repair endpoint returns the row count", func(t *testing.T) {
		resp := f.do(t, http.MethodPost, "/api/v1/audit/repairs/clear-orphaned", nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		result := decodeBody[audit.RepairResult](t, resp)
		assert.Equal(t, "clear_orphaned", result.Operation)
		assert.Equal(t, 0, result.Rows)
	})
}

func TestRouter_OperationalEndpoints(t *testing.T) {
	f := newAPIFixture(t)

	resp, err := f.server.Client().Get(f.server.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = f.server.Client().Get(f.server.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestMetricsLabelsUseRoutePatterns(t *testing.T) {
	f := newAPIFixture(t)

	requestID := f.submit(t, "5552001001")
	resp := f.do(t, http.MethodGet, "/api/v1/removal-requests/"+requestID.String(), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	scrape, err := f.server.Client().Get(f.server.URL + "/metrics")
	require.NoError(t, err)
	defer scrape.Body.Close()
	body, err := io.ReadAll(scrape.Body)
	require.NoError(t, err)

	// Requests are labeled with the route pattern; per-request UUIDs must
	// never appear as label values.
	assert.Contains(t, string(body), `handler="GET /api/v1/removal-requests/{id}"`)
	assert.NotContains(t, string(body), requestID.String())
}
