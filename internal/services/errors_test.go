package services_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"qencode/internal/services"
)

func TestWrapIncludesContext(t *testing.T) {
	base := errors.New("boom")
	err := services.Wrap(services.ErrExternalTool, "encode", "aomenc", "exited", base)
	if !errors.Is(err, services.ErrExternalTool) {
		t.Fatalf("expected marker to be retained, got %v", err)
	}
	if !errors.Is(err, base) {
		t.Fatalf("expected wrapped error to contain base error, got %v", err)
	}
	msg := err.Error()
	for _, fragment := range []string{"encode", "aomenc", "exited", "boom"} {
		if !strings.Contains(msg, fragment) {
			t.Fatalf("expected %q in error string %q", fragment, msg)
		}
	}
}

func TestFatalKeepsInnerMarkers(t *testing.T) {
	inner := services.Wrap(services.ErrExternalTool, "split", "ffmpeg", "segment failed", nil)
	err := services.Fatal("split", "materialize", inner)
	if !services.IsFatal(err) {
		t.Fatal("expected fatal classification")
	}
	if !errors.Is(err, services.ErrExternalTool) {
		t.Fatal("expected external tool marker to survive")
	}
	if again := services.Fatal("x", "y", err); again != err {
		t.Fatal("expected already-fatal error to pass through unchanged")
	}
	if services.Fatal("x", "y", nil) != nil {
		t.Fatal("expected nil for nil error")
	}
}

func TestOutcome(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, services.OutcomeSucceeded},
		{"cancelled marker", services.Wrap(services.ErrCancelled, "encode", "", "", nil), services.OutcomeCancelled},
		{"context canceled", fmt.Errorf("pool: %w", context.Canceled), services.OutcomeCancelled},
		{"incomplete", services.Wrap(services.ErrIncomplete, "verify", "", "2 chunks missing", nil), services.OutcomeIncomplete},
		{"fatal", services.Fatal("plan", "detect", errors.New("no chunks")), services.OutcomeFatal},
		{"configuration", services.Wrap(services.ErrConfiguration, "preflight", "", "", nil), services.OutcomeFatal},
		{"per chunk", services.Wrap(services.ErrExternalTool, "encode", "", "", nil), services.OutcomeFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := services.Outcome(tt.err); got != tt.want {
				t.Fatalf("Outcome() = %q want %q", got, tt.want)
			}
		})
	}
}
