package domain

import (
	"errors"
	"fmt"
)

// ErrorCode identifies a business-rule rejection. The command layer maps
// codes to user-facing wording; the engine never does.
type ErrorCode string

const (
	ErrCodeInvalidQuantity    ErrorCode = "invalid_quantity"
	ErrCodeInsufficientFunds  ErrorCode = "insufficient_funds"
	ErrCodeDailyLimitExceeded ErrorCode = "daily_limit_exceeded"
	ErrCodeInsufficientStock  ErrorCode = "insufficient_stock"
)

// ValidationError is a structured business-rule rejection. Nothing has been
// mutated when one is returned; it is an expected outcome, not a failure of
// the engine or its storage.
type ValidationError struct {
	Code    ErrorCode
	Message string

	// Max carries the binding limit for quantity-related rejections
	// (max affordable units, remaining daily allowance, or sellable stock),
	// so the caller can phrase a useful reply. Zero when not applicable.
	Max int64
}

// Error implements the error interface
func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewValidationError builds a ValidationError with the given code and message.
func NewValidationError(code ErrorCode, format string, args ...any) *ValidationError {
	return &ValidationError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// AsValidationError unwraps err into a *ValidationError if it is one.
func AsValidationError(err error) (*ValidationError, bool) {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve, true
	}
	return nil, false
}

// ErrInvariantViolation marks a defect: storage reported an outcome
// inconsistent with the plan the engine computed. It must surface loudly
// rather than be coerced into a business-rule rejection.
var ErrInvariantViolation = errors.New("ledger invariant violation")
