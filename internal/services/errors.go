package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrFatal         = errors.New("fatal")
	ErrExternalTool  = errors.New("external tool error")
	ErrValidation    = errors.New("validation error")
	ErrConfiguration = errors.New("configuration error")
	ErrNotFound      = errors.New("not found")
	ErrCancelled     = errors.New("cancelled")
	ErrIncomplete    = errors.New("incomplete")
)

// Outcome values recorded for a finished job.
const (
	OutcomeSucceeded  = "succeeded"
	OutcomeIncomplete = "incomplete"
	OutcomeCancelled  = "cancelled"
	OutcomeFatal      = "fatal"
	OutcomeFailed     = "failed"
)

// Wrap builds an error message that includes stage context while tagging it with
// the provided marker for later classification. The marker should be one of the
// exported sentinel errors above.
func Wrap(marker error, stage, operation, message string, err error) error {
	detail := buildDetail(stage, operation, message)
	if marker == nil {
		marker = ErrExternalTool
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// Fatal tags err as job-aborting while preserving every marker already in its chain.
func Fatal(stage, operation string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrFatal) {
		return err
	}
	return Wrap(ErrFatal, stage, operation, "", err)
}

// IsFatal reports whether err must abort the whole job rather than a single chunk.
func IsFatal(err error) bool {
	return errors.Is(err, ErrFatal) ||
		errors.Is(err, ErrConfiguration) ||
		errors.Is(err, ErrValidation)
}

// IsCancelled reports whether err stems from a cancellation request.
func IsCancelled(err error) bool {
	return errors.Is(err, ErrCancelled) || errors.Is(err, context.Canceled)
}

// Outcome maps a terminal job error to the status persisted in history.
func Outcome(err error) string {
	switch {
	case err == nil:
		return OutcomeSucceeded
	case IsCancelled(err):
		return OutcomeCancelled
	case errors.Is(err, ErrIncomplete):
		return OutcomeIncomplete
	case IsFatal(err):
		return OutcomeFatal
	default:
		return OutcomeFailed
	}
}

func buildDetail(stage, operation, message string) string {
	parts := make([]string, 0, 3)
	if stage = strings.TrimSpace(stage); stage != "" {
		parts = append(parts, stage)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "job failure"
	}
	return strings.Join(parts, ": ")
}
