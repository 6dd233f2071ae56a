package service

import (
	"errors"
	"fmt"

	"agentmirror/internal/domain/model"
)

// ErrPositionsRemainOpen is reported when close verification runs out of attempts.
// The pass records a failed action; the next scheduled pass retries.
var ErrPositionsRemainOpen = errors.New("Some positions still remain open")

// ErrCancelOrders is returned when the pre-close order cancellation fails.
var ErrCancelOrders = errors.New("Failed to cancel open orders")

// ValidationError is re-exported so callers of this package need not import model.
type ValidationError = model.ValidationError

func NewValidationError(field, msg string) *ValidationError {
	return &ValidationError{Field: field, Msg: msg}
}

// GatewayError wraps an exchange call failure with the operation name.
type GatewayError struct {
	Op  string
	Err error
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *GatewayError) Unwrap() error { return e.Err }

// IsValidation reports whether err is a pre-check failure.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// NormalizeError turns any failure value into its message. Errors give
// Error(), Stringers give String(), anything else is formatted with %v.
func NormalizeError(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case error:
		return x.Error()
	case string:
		return x
	case fmt.Stringer:
		return x.String()
	default:
		return fmt.Sprintf("%v", x)
	}
}

// SafeCall runs fn and converts a panic into an error so gateway bugs surface
// as failed actions instead of crashing the pass.
func SafeCall(op string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &GatewayError{Op: op, Err: errors.New(NormalizeError(r))}
		}
	}()
	if e := fn(); e != nil {
		return &GatewayError{Op: op, Err: e}
	}
	return nil
}
