// Package errors defines the error taxonomy shared by adapters, sub-assessors
// and the risk engine, with categorization and retryability helpers.
package errors

import (
	"context"
	"errors"
	"fmt"

	"github.com/defi-risk-monitor/internal/types"
)

// ErrorCategory classifies a failure by its source and recovery policy
type ErrorCategory string

const (
	// CategoryUnsupportedChain indicates a chain the component cannot serve
	CategoryUnsupportedChain ErrorCategory = "unsupported_chain"
	// CategoryContract indicates an on-chain call that failed
	CategoryContract ErrorCategory = "contract_error"
	// CategoryInvalidData indicates a malformed or unexpected response shape
	CategoryInvalidData ErrorCategory = "invalid_data"
	// CategoryNetwork indicates a transport-level failure
	CategoryNetwork ErrorCategory = "network_error"
	// CategoryTimeout indicates a call that exceeded its bounded timeout
	CategoryTimeout ErrorCategory = "timeout"
	// CategoryValidation indicates bad configuration supplied by a caller
	CategoryValidation ErrorCategory = "validation_error"
)

// CategorizedError carries a category, a stable code and an optional cause.
// Adapter- and sub-service-level instances are recovered locally with fallback
// values; validation errors surface to the caller since they indicate a
// configuration bug rather than transient data unavailability.
type CategorizedError struct {
	Category ErrorCategory
	Code     string
	Message  string
	Details  map[string]interface{}
	Cause    error
}

func (e *CategorizedError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause
func (e *CategorizedError) Unwrap() error {
	return e.Cause
}

// ToServiceError converts to the wire-facing ServiceError shape
func (e *CategorizedError) ToServiceError() *types.ServiceError {
	return &types.ServiceError{
		Code:    e.Code,
		Message: e.Message,
		Details: e.Details,
	}
}

// NewUnsupportedChain creates an unsupported-chain error
func NewUnsupportedChain(chain types.ChainID) *CategorizedError {
	return &CategorizedError{
		Category: CategoryUnsupportedChain,
		Code:     "UNSUPPORTED_CHAIN",
		Message:  fmt.Sprintf("chain not supported: %s", chain),
		Details:  map[string]interface{}{"chain": string(chain)},
	}
}

// NewContractError creates an on-chain call error
func NewContractError(op string, cause error) *CategorizedError {
	return &CategorizedError{
		Category: CategoryContract,
		Code:     "CONTRACT_ERROR",
		Message:  fmt.Sprintf("contract call failed during %s", op),
		Cause:    cause,
		Details:  map[string]interface{}{"operation": op},
	}
}

// NewInvalidData creates a malformed-response error
func NewInvalidData(what string, cause error) *CategorizedError {
	return &CategorizedError{
		Category: CategoryInvalidData,
		Code:     "INVALID_DATA",
		Message:  fmt.Sprintf("malformed data: %s", what),
		Cause:    cause,
	}
}

// NewNetworkError creates a transport failure error
func NewNetworkError(op string, cause error) *CategorizedError {
	return &CategorizedError{
		Category: CategoryNetwork,
		Code:     "NETWORK_ERROR",
		Message:  fmt.Sprintf("network error during %s", op),
		Cause:    cause,
		Details:  map[string]interface{}{"operation": op},
	}
}

// NewTimeout creates a bounded-timeout error
func NewTimeout(op string) *CategorizedError {
	return &CategorizedError{
		Category: CategoryTimeout,
		Code:     "TIMEOUT",
		Message:  fmt.Sprintf("operation timed out: %s", op),
		Details:  map[string]interface{}{"operation": op},
	}
}

// NewValidationError creates a bad-configuration error
func NewValidationError(message string) *CategorizedError {
	return &CategorizedError{
		Category: CategoryValidation,
		Code:     "VALIDATION_ERROR",
		Message:  message,
	}
}

// Categorize wraps an arbitrary error into a CategorizedError. Already
// categorized errors are returned as-is; context deadline errors map to the
// timeout category.
func Categorize(err error) *CategorizedError {
	if err == nil {
		return nil
	}

	var catErr *CategorizedError
	if errors.As(err, &catErr) {
		return catErr
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return NewTimeout("unknown")
	}

	return &CategorizedError{
		Category: CategoryNetwork,
		Code:     "NETWORK_ERROR",
		Message:  "unexpected error",
		Cause:    err,
	}
}

// IsRetryable reports whether a failure is worth retrying on a later cycle.
// Validation and unsupported-chain errors are deterministic and are not.
func IsRetryable(err error) bool {
	catErr := Categorize(err)
	if catErr == nil {
		return false
	}
	switch catErr.Category {
	case CategoryNetwork, CategoryTimeout, CategoryContract:
		return true
	default:
		return false
	}
}

// IsCategory reports whether err belongs to the given category
func IsCategory(err error, category ErrorCategory) bool {
	catErr := Categorize(err)
	return catErr != nil && catErr.Category == category
}
