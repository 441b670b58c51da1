package pipeline

import (
	"context"
	"errors"
	"fmt"
)

// Sentinel errors returned by the engine. Callers test with errors.Is.
var (
	ErrValidation         = errors.New("pipeline: invalid input")
	ErrNotFound           = errors.New("pipeline: not found")
	ErrUnknownStage       = errors.New("pipeline: unknown stage")
	ErrConflict           = errors.New("pipeline: deal was modified concurrently")
	ErrAlreadyUndone      = errors.New("pipeline: activity already undone")
	ErrCannotUndoCreation = errors.New("pipeline: deal creation cannot be undone")
	ErrNotLatest          = errors.New("pipeline: only the latest activity of a deal can be undone")
	ErrStoreUnavailable   = errors.New("pipeline: store unavailable")
)

var engineErrors = []error{
	ErrValidation,
	ErrNotFound,
	ErrUnknownStage,
	ErrConflict,
	ErrAlreadyUndone,
	ErrCannotUndoCreation,
	ErrNotLatest,
	ErrStoreUnavailable,
}

// IsRetryable reports whether the caller may reissue the operation:
// after re-reading on a conflict, or with backoff when the store is down.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConflict) || errors.Is(err, ErrStoreUnavailable)
}

func validationf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// storeErr classifies a raw store error. Context errors pass through so
// callers can tell an abandoned request from an outage.
func storeErr(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("pipeline: %s: %w", op, err)
	}
	return fmt.Errorf("%w: %s: %w", ErrStoreUnavailable, op, err)
}

// txErr passes engine errors returned from a transaction body through and
// classifies everything else (begin and commit failures) as store errors.
func txErr(op string, err error) error {
	if err == nil {
		return nil
	}
	for _, e := range engineErrors {
		if errors.Is(err, e) {
			return err
		}
	}
	return storeErr(op, err)
}

// resultLabel maps an error to the metrics result label.
func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrValidation):
		return "invalid"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrUnknownStage):
		return "unknown_stage"
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, ErrAlreadyUndone), errors.Is(err, ErrCannotUndoCreation), errors.Is(err, ErrNotLatest):
		return "rejected"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "error"
	}
}
