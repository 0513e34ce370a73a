package gateway

import (
	"context"
	"errors"
	"fmt"

	"github.com/plutov/paypal/v4"
)

// RejectedError is a permanent processor-side rejection (bad amount,
// disabled order, unknown capture). Never retried automatically.
type RejectedError struct {
	Op     string
	Reason string
	Err    error
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("gateway %s rejected: %s", e.Op, e.Reason)
}

func (e *RejectedError) Unwrap() error { return e.Err }

// TransientError is a network/timeout/5xx failure. Eligible for bounded
// retry at the call site that triggered it.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("gateway %s transient failure: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// IsRejected reports whether err is a permanent gateway rejection.
func IsRejected(err error) bool {
	var re *RejectedError
	return errors.As(err, &re)
}

// IsTransient reports whether err is a retryable gateway failure.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// issue codes the processor returns on repeat captures
const issueOrderAlreadyCaptured = "ORDER_ALREADY_CAPTURED"

// classify maps a raw PayPal client error to our taxonomy.
// alreadyCaptured is reported separately so CaptureOrder can turn the
// repeat-capture rejection into an idempotent success.
func classify(op string, err error) (classified error, alreadyCaptured bool) {
	var er *paypal.ErrorResponse
	if errors.As(err, &er) {
		for _, d := range er.Details {
			if d.Issue == issueOrderAlreadyCaptured {
				return nil, true
			}
		}
		if er.Response != nil && er.Response.StatusCode >= 500 {
			return &TransientError{Op: op, Err: err}, false
		}
		reason := er.Message
		if reason == "" {
			reason = er.Name
		}
		return &RejectedError{Op: op, Reason: reason, Err: err}, false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return &TransientError{Op: op, Err: err}, false
	}
	// transport-level failures (DNS, connection reset) arrive untyped
	return &TransientError{Op: op, Err: err}, false
}
