package common

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies a recognition failure so callers can decide what to show the user.
type Kind string

const (
	KindServiceUnavailable Kind = "service_unavailable"
	KindSafetyRejected     Kind = "safety_rejected"
	KindInputTooLarge      Kind = "input_too_large"
	KindUnsupportedLocale  Kind = "unsupported_locale"
	KindRateLimited        Kind = "rate_limited"
	KindMalformedResponse  Kind = "malformed_response"
	KindNoItemsFound       Kind = "no_items_found"
	KindUnknown            Kind = "unknown"
)

// Kinds lists every kind in display order.
var Kinds = []Kind{
	KindServiceUnavailable,
	KindSafetyRejected,
	KindInputTooLarge,
	KindUnsupportedLocale,
	KindRateLimited,
	KindMalformedResponse,
	KindNoItemsFound,
	KindUnknown,
}

// Error is a classified error raised by the scan pipeline or one of its adapters.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

// Sentinels for errors.Is checks. They match any *Error of the same kind.
var (
	ErrServiceUnavailable = &Error{Kind: KindServiceUnavailable}
	ErrSafetyRejected     = &Error{Kind: KindSafetyRejected}
	ErrInputTooLarge      = &Error{Kind: KindInputTooLarge}
	ErrUnsupportedLocale  = &Error{Kind: KindUnsupportedLocale}
	ErrRateLimited        = &Error{Kind: KindRateLimited}
	ErrMalformedResponse  = &Error{Kind: KindMalformedResponse}
	ErrNoItemsFound       = &Error{Kind: KindNoItemsFound}
	ErrUnknown            = &Error{Kind: KindUnknown}
)

// E builds a classified error for operation op.
func E(op string, kind Kind, err error) error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// KindOf classifies err. Deadlines count as ServiceUnavailable; anything
// unclassified is Unknown. It returns "" for nil and for cancellations.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindServiceUnavailable
	}
	if errors.Is(err, context.Canceled) {
		return ""
	}
	return KindUnknown
}

// IsCanceled reports whether err stems from the caller abandoning the operation.
func IsCanceled(err error) bool {
	return errors.Is(err, context.Canceled)
}

// Classify wraps err as an *Error unless it already carries a kind or is a
// cancellation, which are returned unchanged.
func Classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) || IsCanceled(err) {
		return err
	}
	return E(op, KindOf(err), err)
}
