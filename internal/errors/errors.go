// Package errors provides custom error types for domain-specific errors.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Standard sentinel errors
var (
	ErrNotConnected         = errors.New("broker not connected")
	ErrConnectionFailed     = errors.New("broker connection failed")
	ErrBrokerNotConfigured  = errors.New("broker not configured")
	ErrInvalidOrder         = errors.New("invalid order")
	ErrInsufficientFunds    = errors.New("insufficient funds")
	ErrInsufficientPosition = errors.New("insufficient position")
	ErrRiskCheckFailed      = errors.New("risk check failed")
	ErrKillSwitchEngaged    = errors.New("kill switch engaged")
	ErrNoPrice              = errors.New("no price available")
	ErrConfigInvalid        = errors.New("invalid configuration")
	ErrDatabaseError        = errors.New("database error")
)

// BrokerError represents an error from a broker backend.
type BrokerError struct {
	Code    string
	Message string
	Err     error
}

func (e *BrokerError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("broker error [%s]: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("broker error [%s]: %s", e.Code, e.Message)
}

func (e *BrokerError) Unwrap() error {
	return e.Err
}

// NewBrokerError creates a new BrokerError.
func NewBrokerError(code, message string, err error) *BrokerError {
	return &BrokerError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// ValidationError represents a structural problem with a request.
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s (%v): %s", e.Field, e.Value, e.Message)
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalidOrder
}

// NewValidationError creates a new ValidationError.
func NewValidationError(field string, value interface{}, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Value:   value,
		Message: message,
	}
}

// RiskCheckError is a rejected pre-trade check surfaced as an error.
type RiskCheckError struct {
	Check  string
	Reason string
}

func (e *RiskCheckError) Error() string {
	return fmt.Sprintf("risk check [%s] failed: %s", e.Check, e.Reason)
}

// Unwrap maps the kill switch onto its own kind so callers can tell a
// deliberate halt apart from a per-order problem.
func (e *RiskCheckError) Unwrap() error {
	if e.Check == "kill_switch" {
		return ErrKillSwitchEngaged
	}
	return ErrRiskCheckFailed
}

// NewRiskCheckError creates a new RiskCheckError.
func NewRiskCheckError(check, reason string) *RiskCheckError {
	return &RiskCheckError{
		Check:  check,
		Reason: reason,
	}
}

// LedgerError carries the numeric context of a funds or position shortfall.
type LedgerError struct {
	Symbol    string
	Needed    float64
	Available float64
	Err       error
}

func (e *LedgerError) Error() string {
	return fmt.Sprintf("%v for %s: need %.2f, have %.2f", e.Err, e.Symbol, e.Needed, e.Available)
}

func (e *LedgerError) Unwrap() error {
	return e.Err
}

// NewInsufficientFunds creates a LedgerError for a buy the cash cannot cover.
func NewInsufficientFunds(symbol string, needed, available float64) *LedgerError {
	return &LedgerError{Symbol: symbol, Needed: needed, Available: available, Err: ErrInsufficientFunds}
}

// NewInsufficientPosition creates a LedgerError for a sell larger than the holding.
func NewInsufficientPosition(symbol string, needed, available int) *LedgerError {
	return &LedgerError{Symbol: symbol, Needed: float64(needed), Available: float64(available), Err: ErrInsufficientPosition}
}

// HTTPStatus maps an error kind onto the response class a handler layer should use.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrKillSwitchEngaged), errors.Is(err, ErrBrokerNotConfigured):
		return http.StatusServiceUnavailable
	case errors.Is(err, ErrRiskCheckFailed),
		errors.Is(err, ErrInvalidOrder),
		errors.Is(err, ErrInsufficientFunds),
		errors.Is(err, ErrInsufficientPosition),
		errors.Is(err, ErrNoPrice):
		return http.StatusBadRequest
	case errors.Is(err, ErrConnectionFailed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Wrap wraps an error with additional context.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with formatted context.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}
