// Package apperr is the failure taxonomy shared by every stage of a run.
// Classification goes through errors.Is only; wrap freely with %w.
package apperr

import (
	"context"
	"errors"
	"strings"
)

var (
	ErrAuthenticationFailed  = errors.New("authentication failed")
	ErrAuthenticationTimeout = errors.New("authentication timed out")
	ErrProductNotFound       = errors.New("product not found")
	ErrInsufficientStock     = errors.New("insufficient stock")
	ErrSubmissionRejected    = errors.New("submission rejected")
	ErrNotFoundInLedger      = errors.New("voucher not found in ledger")
	ErrTransientUI           = errors.New("transient ui failure")
	ErrTransferFailed        = errors.New("transfer failed")
	ErrCancelled             = errors.New("not attempted: run cancelled")
)

// pageError carries text read from the page next to the sentinel it classifies.
type pageError struct {
	kind error
	text string
}

func (e *pageError) Error() string {
	if e.text == "" {
		return e.kind.Error()
	}
	return e.kind.Error() + ": " + e.text
}

func (e *pageError) Unwrap() error { return e.kind }

// WithMessage attaches on-page text to a sentinel. The result still matches
// the sentinel under errors.Is. Whitespace runs in text are collapsed.
func WithMessage(kind error, text string) error {
	return &pageError{kind: kind, text: strings.Join(strings.Fields(text), " ")}
}

// PageText returns the on-page text attached by WithMessage, if any.
func PageText(err error) string {
	var pe *pageError
	if errors.As(err, &pe) {
		return pe.text
	}
	return ""
}

// Kind returns a stable short name for metrics labels and reports.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""

	case errors.Is(err, ErrAuthenticationFailed):
		return "authentication_failed"

	case errors.Is(err, ErrAuthenticationTimeout):
		return "authentication_timeout"

	case errors.Is(err, ErrProductNotFound):
		return "product_not_found"

	case errors.Is(err, ErrInsufficientStock):
		return "insufficient_stock"

	case errors.Is(err, ErrSubmissionRejected):
		return "submission_rejected"

	case errors.Is(err, ErrNotFoundInLedger):
		return "not_found_in_ledger"

	case errors.Is(err, ErrTransferFailed):
		return "transfer_failed"

	case errors.Is(err, ErrCancelled), errors.Is(err, context.Canceled):
		return "cancelled"

	case errors.Is(err, ErrTransientUI), errors.Is(err, context.DeadlineExceeded):
		return "transient_ui"

	default:
		return "internal"
	}
}

// Retryable reports whether a failed voucher belongs in the retry queue.
// Insufficient stock is a policy decision and cancellation means the
// operator asked to stop; everything else gets one more attempt.
func Retryable(err error) bool {
	switch {
	case err == nil:
		return false

	case errors.Is(err, ErrInsufficientStock),
		errors.Is(err, ErrCancelled),
		errors.Is(err, context.Canceled),
		errors.Is(err, ErrAuthenticationFailed),
		errors.Is(err, ErrAuthenticationTimeout):
		return false

	default:
		return true
	}
}

// Transient wraps err as ErrTransientUI unless it is already classified.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	if Kind(err) != "internal" {
		return err
	}
	return &wrapped{kind: ErrTransientUI, err: err}
}

type wrapped struct {
	kind error
	err  error
}

func (w *wrapped) Error() string { return w.kind.Error() + ": " + w.err.Error() }

func (w *wrapped) Unwrap() []error { return []error{w.kind, w.err} }
