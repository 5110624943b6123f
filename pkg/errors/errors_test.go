package errors

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetryableTypes(t *testing.T) {
	retryable := []ErrorType{ErrorTypeTransient, ErrorTypeConnection, ErrorTypeTimeout}
	for _, typ := range retryable {
		assert.True(t, IsRetryable(New(typ, "boom")), string(typ))
	}

	terminal := []ErrorType{
		ErrorTypeMalformedRecord,
		ErrorTypeValidationGate,
		ErrorTypeDataIntegrity,
		ErrorTypeConfig,
		ErrorTypeConflict,
		ErrorTypeInternal,
	}
	for _, typ := range terminal {
		assert.False(t, IsRetryable(New(typ, "boom")), string(typ))
	}

	assert.False(t, IsRetryable(fmt.Errorf("plain error")))
	assert.False(t, IsRetryable(nil))
}

func TestWrapPreservesCauseAndType(t *testing.T) {
	cause := fmt.Errorf("connection reset")
	err := Wrap(cause, ErrorTypeTransient, "feed read failed")

	require.NotNil(t, err)
	assert.Equal(t, ErrorTypeTransient, err.Type)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "transient")
	assert.Contains(t, err.Error(), "connection reset")
	assert.NotEmpty(t, err.Stack)
}

func TestWrapNil(t *testing.T) {
	assert.Nil(t, Wrap(nil, ErrorTypeTransient, "ignored"))
}

func TestIsTypeUnwraps(t *testing.T) {
	inner := New(ErrorTypeValidationGate, "gate failed")
	outer := Wrap(inner, ErrorTypeInternal, "stage aborted")

	assert.True(t, IsType(outer, ErrorTypeInternal))
	assert.False(t, IsType(outer, ErrorTypeTransient))
	assert.True(t, IsType(fmt.Errorf("wrapped: %w", inner), ErrorTypeValidationGate))
}

func TestWithDetail(t *testing.T) {
	err := New(ErrorTypeMalformedRecord, "bad record").
		WithDetail("source_system", "fortune1000").
		WithDetail("row", 7)

	assert.Equal(t, "fortune1000", err.Details["source_system"])
	assert.Equal(t, 7, err.Details["row"])
}
