package rest

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	domainerrors "github.com/davidleathers/dnc-propagation-backend/internal/domain/errors"
	domainremoval "github.com/davidleathers/dnc-propagation-backend/internal/domain/removal"
	"github.com/davidleathers/dnc-propagation-backend/internal/service/audit"
	"github.com/davidleathers/dnc-propagation-backend/internal/service/removal"
)

// Retryer re-runs propagation for a single provider
type Retryer interface {
	RetryProvider(ctx context.Context, orgID, requestID uuid.UUID, providerKey string) (*domainremoval.Attempt, error)
}

// Handler serves the removal-request API. Authentication happens upstream;
// the org and user scope arrive as headers set by the gateway.
type Handler struct {
	logger   *zap.Logger
	removal  removal.Service
	retryer  Retryer
	auditor  *audit.Auditor
	validate *validator.Validate
}

// NewHandler creates the API handler
func NewHandler(logger *zap.Logger, removalSvc removal.Service, retryer Retryer, auditor *audit.Auditor) *Handler {
	return &Handler{
		logger:   logger,
		removal:  removalSvc,
		retryer:  retryer,
		auditor:  auditor,
		validate: validator.New(),
	}
}

// RegisterRoutes wires all endpoints onto the mux
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/removal-requests", h.submitRequest)
	mux.HandleFunc("GET /api/v1/removal-requests", h.listRequests)
	mux.HandleFunc("GET /api/v1/removal-requests/{id}", h.getRequestStatus)
	mux.HandleFunc("GET /api/v1/removal-requests/{id}/events", h.getRequestEvents)
	mux.HandleFunc("POST /api/v1/removal-requests/{id}/approve", h.approveRequest)
	mux.HandleFunc("POST /api/v1/removal-requests/{id}/deny", h.denyRequest)
	mux.HandleFunc("POST /api/v1/removal-requests/bulk/approve", h.bulkApprove)
	mux.HandleFunc("POST /api/v1/removal-requests/bulk/deny", h.bulkDeny)
	mux.HandleFunc("POST /api/v1/removal-requests/{id}/providers/{provider}/retry", h.retryProvider)

	mux.HandleFunc("GET /api/v1/audit/consistency", h.inspectConsistency)
	mux.HandleFunc("POST /api/v1/audit/repairs/clear-stuck-pending", h.repair(func(ctx context.Context, orgID uuid.UUID) (*audit.RepairResult, error) {
		return h.auditor.ClearStuckPending(ctx, orgID)
	}))
	mux.HandleFunc("POST /api/v1/audit/repairs/clear-orphaned", h.repair(func(ctx context.Context, orgID uuid.UUID) (*audit.RepairResult, error) {
		return h.auditor.ClearOrphaned(ctx, orgID)
	}))
	mux.HandleFunc("POST /api/v1/audit/repairs/reset-stuck-requests", h.repair(func(ctx context.Context, orgID uuid.UUID) (*audit.RepairResult, error) {
		return h.auditor.ResetStuckRequests(ctx, orgID)
	}))
	mux.HandleFunc("POST /api/v1/audit/repairs/full-wipe", h.repair(func(ctx context.Context, orgID uuid.UUID) (*audit.RepairResult, error) {
		return h.auditor.FullWipe(ctx, orgID)
	}))
	mux.HandleFunc("POST /api/v1/audit/repairs/recreate-attempts", h.repair(func(ctx context.Context, orgID uuid.UUID) (*audit.RepairResult, error) {
		return h.auditor.RecreateAttempts(ctx, orgID)
	}))
}

func (h *Handler) submitRequest(w http.ResponseWriter, r *http.Request) {
	orgID, userID, ok := h.scope(w, r)
	if !ok {
		return
	}

	var body submitRequestBody
	if !h.decode(w, r, &body) {
		return
	}

	req, err := h.removal.SubmitRequest(r.Context(), removal.SubmitInput{
		OrganizationID: orgID,
		Phone:          body.Phone,
		Reason:         body.Reason,
		Channel:        domainremoval.RequestChannel(body.Channel),
		RequestedBy:    userID,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, req)
}

func (h *Handler) listRequests(w http.ResponseWriter, r *http.Request) {
	orgID, _, ok := h.scope(w, r)
	if !ok {
		return
	}

	filter := domainremoval.RequestFilter{Limit: 100}
	if status := r.URL.Query().Get("status"); status != "" {
		s := domainremoval.RequestStatus(status)
		filter.Status = &s
	}
	if phone := r.URL.Query().Get("phone"); phone != "" {
		filter.Phone = &phone
	}

	requests, err := h.removal.ListRequests(r.Context(), orgID, filter)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"requests": requests})
}

func (h *Handler) getRequestStatus(w http.ResponseWriter, r *http.Request) {
	orgID, _, ok := h.scope(w, r)
	if !ok {
		return
	}
	requestID, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}

	view, err := h.removal.GetRequestStatus(r.Context(), orgID, requestID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, view)
}

func (h *Handler) getRequestEvents(w http.ResponseWriter, r *http.Request) {
	orgID, _, ok := h.scope(w, r)
	if !ok {
		return
	}
	requestID, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}

	events, err := h.removal.GetRequestEvents(r.Context(), orgID, requestID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"events": events})
}

func (h *Handler) approveRequest(w http.ResponseWriter, r *http.Request) {
	orgID, userID, ok := h.scope(w, r)
	if !ok {
		return
	}
	requestID, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}

	var body decisionBody
	if !h.decodeOptional(w, r, &body) {
		return
	}

	result, err := h.removal.Approve(r.Context(), removal.DecisionInput{
		OrganizationID: orgID,
		RequestID:      requestID,
		Reviewer:       userID,
		Notes:          body.Notes,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

func (h *Handler) denyRequest(w http.ResponseWriter, r *http.Request) {
	orgID, userID, ok := h.scope(w, r)
	if !ok {
		return
	}
	requestID, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}

	var body decisionBody
	if !h.decodeOptional(w, r, &body) {
		return
	}

	req, err := h.removal.Deny(r.Context(), removal.DecisionInput{
		OrganizationID: orgID,
		RequestID:      requestID,
		Reviewer:       userID,
		Notes:          body.Notes,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, req)
}

func (h *Handler) bulkApprove(w http.ResponseWriter, r *http.Request) {
	h.bulkDecision(w, r, h.removal.BulkApprove)
}

func (h *Handler) bulkDeny(w http.ResponseWriter, r *http.Request) {
	h.bulkDecision(w, r, h.removal.BulkDeny)
}

func (h *Handler) bulkDecision(w http.ResponseWriter, r *http.Request,
	decide func(context.Context, removal.BulkDecisionInput) []removal.BulkResult) {
	orgID, userID, ok := h.scope(w, r)
	if !ok {
		return
	}

	var body bulkDecisionBody
	if !h.decode(w, r, &body) {
		return
	}

	results := decide(r.Context(), removal.BulkDecisionInput{
		OrganizationID: orgID,
		RequestIDs:     body.RequestIDs,
		Reviewer:       userID,
		Notes:          body.Notes,
	})
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"results": results})
}

func (h *Handler) retryProvider(w http.ResponseWriter, r *http.Request) {
	orgID, _, ok := h.scope(w, r)
	if !ok {
		return
	}
	requestID, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}

	attempt, err := h.retryer.RetryProvider(r.Context(), orgID, requestID, r.PathValue("provider"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, attempt)
}

func (h *Handler) inspectConsistency(w http.ResponseWriter, r *http.Request) {
	orgID, _, ok := h.scope(w, r)
	if !ok {
		return
	}

	report, err := h.auditor.Inspect(r.Context(), orgID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, report)
}

func (h *Handler) repair(run func(ctx context.Context, orgID uuid.UUID) (*audit.RepairResult, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orgID, _, ok := h.scope(w, r)
		if !ok {
			return
		}

		result, err := run(r.Context(), orgID)
		if err != nil {
			h.writeError(w, err)
			return
		}
		h.writeJSON(w, http.StatusOK, result)
	}
}

// scope extracts the organization and user from the gateway headers
func (h *Handler) scope(w http.ResponseWriter, r *http.Request) (orgID, userID uuid.UUID, ok bool) {
	orgID, err := uuid.Parse(r.Header.Get("X-Organization-ID"))
	if err != nil {
		h.writeError(w, domainerrors.NewValidationError("MISSING_ORGANIZATION",
			"X-Organization-ID header must be a valid UUID"))
		return uuid.Nil, uuid.Nil, false
	}
	userID, err = uuid.Parse(r.Header.Get("X-User-ID"))
	if err != nil {
		h.writeError(w, domainerrors.NewValidationError("MISSING_USER",
			"X-User-ID header must be a valid UUID"))
		return uuid.Nil, uuid.Nil, false
	}
	return orgID, userID, true
}

func (h *Handler) pathID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue(name))
	if err != nil {
		h.writeError(w, domainerrors.NewValidationError("INVALID_ID", "path id must be a valid UUID"))
		return uuid.Nil, false
	}
	return id, true
}

// decode parses and validates a required JSON body
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		h.writeError(w, domainerrors.NewValidationError("INVALID_BODY", "request body must be valid JSON"))
		return false
	}
	return h.validateBody(w, dst)
}

// decodeOptional tolerates an empty body
func (h *Handler) decodeOptional(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	err := json.NewDecoder(r.Body).Decode(dst)
	if err != nil && !errors.Is(err, io.EOF) {
		h.writeError(w, domainerrors.NewValidationError("INVALID_BODY", "request body must be valid JSON"))
		return false
	}
	return h.validateBody(w, dst)
}

func (h *Handler) validateBody(w http.ResponseWriter, dst interface{}) bool {
	if err := h.validate.Struct(dst); err != nil {
		h.writeError(w, domainerrors.NewValidationError("VALIDATION_FAILED", err.Error()))
		return false
	}
	return true
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.logger.Warn("failed to encode response", zap.Error(err))
	}
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	var appErr *domainerrors.AppError
	if !errors.As(err, &appErr) {
		appErr = domainerrors.NewInternalError("internal server error").WithCause(err)
		h.logger.Error("unhandled error", zap.Error(err))
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(appErr.StatusCode)
	_ = json.NewEncoder(w).Encode(errorBody{Error: errorDetail{
		Code:    appErr.Code,
		Message: appErr.Message,
		Details: appErr.Details,
	}})
}
