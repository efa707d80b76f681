package types //nolint:revive // types is a valid package name

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{"nil", nil, ErrorKindNone},
		{"format", fmt.Errorf("parse manifest: %w", ErrFormat), ErrorKindFormat},
		{"dependency", fmt.Errorf("step copy_base: %w", ErrDependencyUnavailable), ErrorKindDependencyUnavailable},
		{"storage", ErrInsufficientStorage, ErrorKindInsufficientStorage},
		{"network", fmt.Errorf("fetch: %w", ErrNetwork), ErrorKindNetwork},
		{"deadline", context.DeadlineExceeded, ErrorKindNetwork},
		{"cancelled sentinel", ErrCancelled, ErrorKindCancelled},
		{"context canceled", fmt.Errorf("wrapped: %w", context.Canceled), ErrorKindCancelled},
		{"unknown", errors.New("boom"), ErrorKindInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.err); got != tt.want {
				t.Errorf("Classify() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestClassify_CancelWinsOverNetwork(t *testing.T) {
	err := errors.Join(ErrNetwork, context.Canceled)
	if got := Classify(err); got != ErrorKindCancelled {
		t.Errorf("Classify() = %q, want %q", got, ErrorKindCancelled)
	}
}
