package utils

import (
	"errors"
	"fmt"
)

// Kind partitions failures so callers can pick the right recovery policy
// without string matching.
type Kind string

const (
	// KindTransientFetch covers network errors, timeouts and rate limits.
	// The cycle is aborted and retried on the next interval; no state changes.
	KindTransientFetch Kind = "transient_fetch"
	// KindPermanentFetch covers schema breaks and rejected requests. The
	// cycle is aborted and the error surfaced for operator attention.
	KindPermanentFetch Kind = "permanent_fetch"
	// KindMalformedRecord marks a single rejected record; the cycle continues.
	KindMalformedRecord Kind = "malformed_record"
	// KindDelivery marks a sender-reported failure; the store mutation stands.
	KindDelivery Kind = "delivery"
	// KindStoreUnavailable is fatal for the cycle: no decision may be made
	// on absent lifecycle state.
	KindStoreUnavailable Kind = "store_unavailable"
	// KindUnknown is returned by KindOf for errors outside the taxonomy.
	KindUnknown Kind = "unknown"
)

// AppError wraps an operation, failure kind, human-facing message, and
// underlying error.
type AppError struct {
	Op   string
	Kind Kind
	Msg  string
	Err  error
}

func (e *AppError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Msg)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Msg, e.Err)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// E constructs an AppError.
func E(op string, kind Kind, msg string, err error) error {
	return &AppError{Op: op, Kind: kind, Msg: msg, Err: err}
}

// KindOf extracts the failure kind from an error chain.
func KindOf(err error) Kind {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindUnknown
}

// IsTransient reports whether the error should be retried on the next
// cycle without operator attention.
func IsTransient(err error) bool {
	return KindOf(err) == KindTransientFetch
}
