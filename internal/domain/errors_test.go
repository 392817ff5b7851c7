package domain

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPartialWriteError_Unwrap(t *testing.T) {
	cause := errors.New("connection reset")
	err := fmt.Errorf("ingest: %w", &PartialWriteError{Written: 3, Created: 2, Total: 5, Err: cause})

	assert.ErrorIs(t, err, ErrVectorStoreWrite)
	assert.ErrorIs(t, err, cause)

	var pw *PartialWriteError
	assert.True(t, errors.As(err, &pw))
	assert.Equal(t, 3, pw.Written)
	assert.Contains(t, err.Error(), "3 of 5 units stored")
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"validation", fmt.Errorf("query: %w", ErrValidation), false},
		{"no index", ErrNoIndex, false},
		{"unsupported", ErrUnsupportedFormat, false},
		{"embedding", fmt.Errorf("embed: %w", ErrEmbeddingUnavailable), true},
		{"store write", ErrVectorStoreWrite, true},
		{"partial write", &PartialWriteError{Err: errors.New("boom")}, true},
		{"deadline", context.DeadlineExceeded, true},
		{"unknown", errors.New("other"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTransient(tt.err))
		})
	}
}
