package sources

import (
	"errors"
	"fmt"
)

// FailureClass splits adapter failures into the two categories the retry
// wrapper cares about.
type FailureClass int

const (
	// FailureTransient covers timeouts, throttling, and 5xx-equivalents.
	// Eligible for retry with backoff, then fallback to the next adapter.
	FailureTransient FailureClass = iota
	// FailurePermanent covers bad credentials, malformed requests, and
	// schema mismatches. Never retried, immediate fallback.
	FailurePermanent
)

func (c FailureClass) String() string {
	switch c {
	case FailureTransient:
		return "transient"
	case FailurePermanent:
		return "permanent"
	default:
		return "unknown"
	}
}

// AdapterError wraps a failed adapter operation with its failure class.
type AdapterError struct {
	AdapterID string
	Op        string // "prepare", "execute", "normalize", "rate_limit"
	Class     FailureClass
	Err       error
}

func (e *AdapterError) Error() string {
	return fmt.Sprintf("adapter %s: %s failed (%s): %v", e.AdapterID, e.Op, e.Class, e.Err)
}

func (e *AdapterError) Unwrap() error { return e.Err }

// Transient wraps err as a retryable adapter failure.
func Transient(adapterID, op string, err error) *AdapterError {
	return &AdapterError{AdapterID: adapterID, Op: op, Class: FailureTransient, Err: err}
}

// Permanent wraps err as a non-retryable adapter failure.
func Permanent(adapterID, op string, err error) *AdapterError {
	return &AdapterError{AdapterID: adapterID, Op: op, Class: FailurePermanent, Err: err}
}

// IsTransient reports whether err is (or wraps) a transient adapter failure.
// Errors without a class, raw network errors that escaped classification
// are treated as transient so they get the benefit of retry.
func IsTransient(err error) bool {
	var ae *AdapterError
	if errors.As(err, &ae) {
		return ae.Class == FailureTransient
	}
	return true
}
