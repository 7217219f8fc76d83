package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConstructors(t *testing.T) {
	cause := fmt.Errorf("redis connection refused")

	tests := []struct {
		name       string
		err        *Error
		wantType   ErrorType
		wantStatus int
		wantCause  error
	}{
		{"validation", ValidationError("invalid input"), TypeValidation, http.StatusBadRequest, nil},
		{"not found", NotFoundError("session not found"), TypeNotFound, http.StatusNotFound, nil},
		{"conflict", ConflictError("session is already connected"), TypeConflict, http.StatusConflict, nil},
		{"internal", InternalError("failed to persist session", cause), TypeInternal, http.StatusInternalServerError, cause},
		{"external", ExternalError("storage unavailable", cause), TypeExternal, http.StatusBadGateway, cause},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantType, tt.err.Type)
			assert.Equal(t, tt.wantStatus, tt.err.HTTPStatus())
			assert.Equal(t, tt.wantCause, tt.err.Cause)
			assert.NotNil(t, tt.err.Context)
			assert.Contains(t, tt.err.Error(), string(tt.wantType))
		})
	}
}

func TestErrorMessageWithoutCause(t *testing.T) {
	err := InternalError("something went wrong", nil)
	assert.NotContains(t, err.Error(), "<nil>")
}

func TestErrorMessageIncludesCause(t *testing.T) {
	err := ExternalError("storage unavailable", fmt.Errorf("redis down"))
	assert.Contains(t, err.Error(), "redis down")
}

func TestUnwrap(t *testing.T) {
	cause := fmt.Errorf("underlying failure")
	err := InternalError("wrapper", cause)

	assert.ErrorIs(t, err, cause)
}

func TestWithField(t *testing.T) {
	err := NotFoundError("session not found").
		WithField("session_id", "sess-a").
		WithField("attempt", 3)

	assert.Equal(t, "sess-a", err.Context["session_id"])
	assert.Equal(t, 3, err.Context["attempt"])
}

func TestWithFieldOnNilContext(t *testing.T) {
	err := &Error{Type: TypeInternal, Message: "bare"}
	err.WithField("key", "value")
	assert.Equal(t, "value", err.Context["key"])
}

func TestToResponse(t *testing.T) {
	err := ValidationError("name cannot be empty").WithField("field", "name")
	resp := err.ToResponse()

	assert.Equal(t, "name cannot be empty", resp.Error)
	assert.Equal(t, TypeValidation, resp.Type)
	assert.Equal(t, "name", resp.Context["field"])
}

func TestAsStructuredErrorPassesThrough(t *testing.T) {
	original := ConflictError("session is already connected")
	got := AsStructuredError(original)
	assert.Same(t, original, got)

	// Wrapped structured errors are still found.
	wrapped := fmt.Errorf("handler: %w", original)
	got = AsStructuredError(wrapped)
	assert.Same(t, original, got)
}

func TestAsStructuredErrorWrapsPlainErrors(t *testing.T) {
	plain := errors.New("boom")
	got := AsStructuredError(plain)

	require.NotNil(t, got)
	assert.Equal(t, TypeInternal, got.Type)
	assert.Equal(t, plain, got.Cause)
}

func TestAsStructuredErrorNil(t *testing.T) {
	assert.Nil(t, AsStructuredError(nil))
}
