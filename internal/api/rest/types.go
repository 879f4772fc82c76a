package rest

import (
	"github.com/google/uuid"
)

// submitRequestBody is the payload for creating a removal request
type submitRequestBody struct {
	Phone   string `json:"phone" validate:"required"`
	Reason  string `json:"reason" validate:"max=1000"`
	Channel string `json:"channel" validate:"omitempty,oneof=web phone email bulk_upload manual"`
}

// decisionBody carries optional reviewer notes for approve/deny
type decisionBody struct {
	Notes string `json:"notes" validate:"max=1000"`
}

// bulkDecisionBody carries the ids for a bulk approve/deny
type bulkDecisionBody struct {
	RequestIDs []uuid.UUID `json:"request_ids" validate:"required,min=1,max=500"`
	Notes      string      `json:"notes" validate:"max=1000"`
}

// errorBody is the uniform error envelope
type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}
