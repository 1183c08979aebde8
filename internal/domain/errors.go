package domain

import (
	"errors"
	"fmt"
)

// ErrorType classifies domain errors.
type ErrorType string

const (
	ErrorTypeValidation           ErrorType = "validation"
	ErrorTypeNotFound             ErrorType = "not_found"
	ErrorTypeCartNotFound         ErrorType = "cart_not_found"
	ErrorTypeEmbeddingUnavailable ErrorType = "embedding_unavailable"
	ErrorTypeIndexUnavailable     ErrorType = "index_unavailable"
	ErrorTypeConfig               ErrorType = "config"
)

// Sentinels for errors.Is matching against a DomainError of the same type.
var (
	ErrValidation           = errors.New("validation failed")
	ErrProductNotFound      = errors.New("product not found")
	ErrCartNotFound         = errors.New("cart not found")
	ErrEmbeddingUnavailable = errors.New("embedding provider unavailable")
	ErrIndexUnavailable     = errors.New("product index unavailable")
	ErrConfig               = errors.New("invalid configuration")
)

// ErrDimensionMismatch is wrapped by a config error whenever a vector's length
// disagrees with the configured embedding dimension.
var ErrDimensionMismatch = errors.New("vector dimension mismatch")

// DomainError represents a domain-specific error with context.
type DomainError struct {
	Type    ErrorType
	Message string
	Err     error
}

func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Type, e.Message)
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

// Is reports whether target is the sentinel matching this error's type.
func (e *DomainError) Is(target error) bool {
	return sentinelFor(e.Type) == target
}

// Retryable reports whether the caller may retry the operation with backoff.
func (e *DomainError) Retryable() bool {
	return e.Type == ErrorTypeEmbeddingUnavailable || e.Type == ErrorTypeIndexUnavailable
}

func sentinelFor(t ErrorType) error {
	switch t {
	case ErrorTypeValidation:
		return ErrValidation
	case ErrorTypeNotFound:
		return ErrProductNotFound
	case ErrorTypeCartNotFound:
		return ErrCartNotFound
	case ErrorTypeEmbeddingUnavailable:
		return ErrEmbeddingUnavailable
	case ErrorTypeIndexUnavailable:
		return ErrIndexUnavailable
	case ErrorTypeConfig:
		return ErrConfig
	}
	return nil
}

// NewError creates a new domain error
func NewError(errType ErrorType, message string, err error) *DomainError {
	return &DomainError{
		Type:    errType,
		Message: message,
		Err:     err,
	}
}

// Common error constructors
func ValidationError(message string, err error) *DomainError {
	return NewError(ErrorTypeValidation, message, err)
}

func ProductNotFoundError(id string) *DomainError {
	return NewError(ErrorTypeNotFound, fmt.Sprintf("product %q not found", id), nil)
}

func CartNotFoundError(sessionID string) *DomainError {
	return NewError(ErrorTypeCartNotFound, fmt.Sprintf("cart %q not found", sessionID), nil)
}

func EmbeddingUnavailableError(message string, err error) *DomainError {
	return NewError(ErrorTypeEmbeddingUnavailable, message, err)
}

func IndexUnavailableError(message string, err error) *DomainError {
	return NewError(ErrorTypeIndexUnavailable, message, err)
}

func ConfigError(message string, err error) *DomainError {
	return NewError(ErrorTypeConfig, message, err)
}

// TypeOf returns the type of the first DomainError in err's chain, or "".
func TypeOf(err error) ErrorType {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Type
	}
	return ""
}

// UserMessage returns the text safe to show an end user for err.
// Dependency failures never leak internal detail.
func UserMessage(err error) string {
	var de *DomainError
	if !errors.As(err, &de) {
		return "internal error"
	}
	switch de.Type {
	case ErrorTypeEmbeddingUnavailable, ErrorTypeIndexUnavailable:
		return "search temporarily unavailable"
	case ErrorTypeConfig:
		return "internal error"
	default:
		return de.Message
	}
}
