package workflow

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrEmptyNote               = errors.New("a note is required for a stage change")
	ErrMissingRegressionReason = errors.New("a regression reason is required when moving to an earlier stage")
	ErrParNotReady             = errors.New("required documents are incomplete")
	ErrNoOpTransition          = errors.New("order is already in the requested stage")
	ErrUnknownStage            = errors.New("unknown stage")
	ErrPatientNotFound         = errors.New("patient record not found")
)

// UnknownStageError names a stage absent from the catalog. It is a
// configuration or programming error rather than something a user can fix.
type UnknownStageError struct {
	Name string
}

func (e *UnknownStageError) Error() string {
	return fmt.Sprintf("unknown stage %q", e.Name)
}

func (e *UnknownStageError) Unwrap() error { return ErrUnknownStage }

// ParNotReadyError carries the required-but-incomplete documents blocking
// entry into the readiness-gated stage.
type ParNotReadyError struct {
	Stage   string
	Missing []DocKey
}

func (e *ParNotReadyError) Error() string {
	if len(e.Missing) == 0 {
		return fmt.Sprintf("cannot enter %s: no required documents on file", e.Stage)
	}
	keys := make([]string, len(e.Missing))
	for i, k := range e.Missing {
		keys[i] = string(k)
	}
	return fmt.Sprintf("cannot enter %s: missing %s", e.Stage, strings.Join(keys, ", "))
}

func (e *ParNotReadyError) Unwrap() error { return ErrParNotReady }

// IsValidationError reports whether err is a user-correctable validation
// failure. Unknown stages are excluded.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrEmptyNote) ||
		errors.Is(err, ErrMissingRegressionReason) ||
		errors.Is(err, ErrParNotReady) ||
		errors.Is(err, ErrNoOpTransition)
}

// ErrorCode maps engine errors to stable machine-readable codes.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrEmptyNote):
		return "empty_note"
	case errors.Is(err, ErrMissingRegressionReason):
		return "missing_regression_reason"
	case errors.Is(err, ErrParNotReady):
		return "par_not_ready"
	case errors.Is(err, ErrNoOpTransition):
		return "noop_transition"
	case errors.Is(err, ErrUnknownStage):
		return "unknown_stage"
	case errors.Is(err, ErrPatientNotFound):
		return "patient_not_found"
	default:
		return "apply_failed"
	}
}
