package analyzer

import (
	"context"
	"errors"

	"video-tagging-api/contentunderstanding"
)

// Kind classifies a failed analysis so callers can tell input mistakes from
// infrastructure failures.
type Kind string

const (
	KindInput           Kind = "input"
	KindStorage         Kind = "storage"
	KindAnalysisService Kind = "analysis_service"
	KindTimeout         Kind = "timeout"
	KindInternal        Kind = "internal"
)

// Error is a failed pipeline step.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the kind of err, or KindInternal for errors that did not
// come from the pipeline.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// InputError marks err as caused by the request itself.
func InputError(op string, err error) error {
	return &Error{Kind: KindInput, Op: op, Err: err}
}

func storageError(op string, err error) error {
	return &Error{Kind: KindStorage, Op: op, Err: err}
}

func internalError(op string, err error) error {
	return &Error{Kind: KindInternal, Op: op, Err: err}
}

func serviceError(op string, err error) error {
	kind := KindAnalysisService
	if errors.Is(err, contentunderstanding.ErrPollTimeout) || errors.Is(err, context.DeadlineExceeded) {
		kind = KindTimeout
	}
	return &Error{Kind: kind, Op: op, Err: err}
}
