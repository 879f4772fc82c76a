package errors

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithDetailsDoesNotMutateSentinel(t *testing.T) {
	first := ErrRequestNotPending.WithDetails(map[string]interface{}{"request_id": "a"})
	second := ErrRequestNotPending.WithDetails(map[string]interface{}{"request_id": "b"})

	assert.NotSame(t, first, second)
	assert.NotSame(t, ErrRequestNotPending, first)
	assert.Nil(t, ErrRequestNotPending.Details)

	assert.Equal(t, "a", first.Details["request_id"])
	assert.Equal(t, "b", second.Details["request_id"])

	// The copies still carry the sentinel's classification.
	assert.Equal(t, ErrorTypeInvalidState, first.Type)
	assert.Equal(t, "REQUEST_NOT_PENDING", first.Code)
	assert.Equal(t, 409, first.StatusCode)
}

func TestWithCauseDoesNotMutateReceiver(t *testing.T) {
	base := NewInternalError("query failed")
	cause := fmt.Errorf("connection reset")

	wrapped := base.WithCause(cause)

	require.NotSame(t, base, wrapped)
	assert.Nil(t, base.Cause)
	assert.Equal(t, cause, wrapped.Unwrap())
	assert.Equal(t, "query failed: connection reset", wrapped.Error())
}
