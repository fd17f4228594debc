package domain

import (
	"errors"
	"fmt"
)

var (
	ErrDocumentNotFound  = errors.New("document not found")
	ErrInvalidInput      = errors.New("invalid input")
	ErrUnsupportedType   = errors.New("unsupported-type")
	ErrTooLarge          = errors.New("too-large")
	ErrTemporary         = errors.New("temporary failure")
	ErrRunNotActive      = errors.New("pipeline run not active")
	ErrInvalidTransition = errors.New("invalid stage transition")
)

// RejectionReason is surfaced to the uploader when the gateway refuses a file.
type RejectionReason string

const (
	RejectUnsupportedType RejectionReason = "unsupported-type"
	RejectTooLarge        RejectionReason = "too-large"
)

// WrapError preserves typed semantic errors with operation context.
func WrapError(kind error, operation string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", operation, kind, err)
}

func IsKind(err error, kind error) bool {
	return errors.Is(err, kind)
}

// RejectionReasonOf reports whether err is an ingest rejection and which one.
func RejectionReasonOf(err error) (RejectionReason, bool) {
	switch {
	case IsKind(err, ErrUnsupportedType):
		return RejectUnsupportedType, true
	case IsKind(err, ErrTooLarge):
		return RejectTooLarge, true
	default:
		return "", false
	}
}

// StageFailure is a failure reported by (or on behalf of) a stage executor.
// A run that returns one ends in the StageError state.
type StageFailure struct {
	Stage Stage
	Err   error
}

func (e *StageFailure) Error() string {
	if e == nil || e.Err == nil {
		return "stage error"
	}
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageFailure) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func NewStageFailure(stage Stage, err error) *StageFailure {
	var existing *StageFailure
	if errors.As(err, &existing) && existing.Stage == stage {
		return existing
	}
	return &StageFailure{Stage: stage, Err: err}
}
