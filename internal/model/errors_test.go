package model

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorPredicatesSeeThroughWrapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		is   func(error) bool
	}{
		{"validation", NewValidationError("bad", "x"), IsValidation},
		{"self reference", NewSelfReferenceError("me"), IsSelfReference},
		{"not found", NewNotFoundError("missing", "id"), IsNotFound},
		{"enrichment", NewEnrichmentError("L", errors.New("boom")), IsEnrichment},
		{"backend", NewBackendError("insert", errors.New("disk")), IsTransientBackend},
		{"conflict", NewConflictError("taken", "P"), IsConflict},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wrapped := fmt.Errorf("outer: %w", tt.err)
			assert.True(t, tt.is(tt.err))
			assert.True(t, tt.is(wrapped))
		})
	}
}

func TestErrorPredicatesRejectOtherCodes(t *testing.T) {
	err := NewNotFoundError("missing", "id")
	assert.False(t, IsValidation(err))
	assert.False(t, IsConflict(err))
	assert.False(t, IsNotFound(errors.New("plain")))
	assert.False(t, IsNotFound(nil))
}

func TestErrorUnwrapsCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := NewBackendError("get entity", cause)

	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "TRANSIENT_BACKEND: get entity: connection refused", err.Error())
}

func TestErrorMessageIncludesKey(t *testing.T) {
	err := NewEnrichmentError("L1", errors.New("timeout"))
	assert.Equal(t, "ENRICHMENT: enrichment failed (key=L1): timeout", err.Error())
}

func TestParseKind(t *testing.T) {
	k, err := ParseKind("group")
	assert.NoError(t, err)
	assert.Equal(t, KindGroup, k)

	_, err = ParseKind("channel")
	assert.True(t, IsValidation(err))
}
