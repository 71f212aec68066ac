// Package errors provides custom error types for domain-specific errors.
package errors

import (
	"errors"
	"fmt"
)

// Standard sentinel errors
var (
	ErrUpstream            = errors.New("upstream fetch failed")
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	ErrNotFound            = errors.New("not found")
	ErrConfigInvalid       = errors.New("invalid configuration")
	ErrStorage             = errors.New("storage error")
	ErrNotAuthenticated    = errors.New("not authenticated")
)

// FetchError represents a failed call to an upstream market-data source.
type FetchError struct {
	Source string
	Method string
	Symbol string
	Err    error
}

func (e *FetchError) Error() string {
	if e.Symbol != "" {
		return fmt.Sprintf("fetch error [%s] %s %s: %v", e.Source, e.Method, e.Symbol, e.Err)
	}
	return fmt.Sprintf("fetch error [%s] %s: %v", e.Source, e.Method, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// Is lets every FetchError match ErrUpstream.
func (e *FetchError) Is(target error) bool {
	return target == ErrUpstream
}

// NewFetchError creates a new FetchError.
func NewFetchError(source, method, symbol string, err error) *FetchError {
	return &FetchError{
		Source: source,
		Method: method,
		Symbol: symbol,
		Err:    err,
	}
}

// StoreError represents a failure of the durable store.
type StoreError struct {
	Backend string
	Op      string
	Err     error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store error [%s] %s: %v", e.Backend, e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// Is lets every StoreError match ErrStorage.
func (e *StoreError) Is(target error) bool {
	return target == ErrStorage
}

// NewStoreError creates a new StoreError.
func NewStoreError(backend, op string, err error) *StoreError {
	return &StoreError{
		Backend: backend,
		Op:      op,
		Err:     err,
	}
}

// ValidationError represents a validation error.
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s (%v): %s", e.Field, e.Value, e.Message)
}

// Is lets every ValidationError match ErrConfigInvalid.
func (e *ValidationError) Is(target error) bool {
	return target == ErrConfigInvalid
}

// NewValidationError creates a new ValidationError.
func NewValidationError(field string, value interface{}, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Value:   value,
		Message: message,
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
