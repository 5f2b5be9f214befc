package errors

import (
	goerrors "errors"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ErrorCode represents internal error codes for entity store operations
type ErrorCode int

const (
	// Success
	ErrCodeOK ErrorCode = 0

	// Client errors (4xx equivalent)
	ErrCodeInvalidArgument     ErrorCode = 1000
	ErrCodeNotFound            ErrorCode = 1001
	ErrCodeInvalidState        ErrorCode = 1002
	ErrCodeConstraintViolation ErrorCode = 1003

	// Server errors (5xx equivalent)
	ErrCodeInternal           ErrorCode = 2000
	ErrCodeStorageUnavailable ErrorCode = 2001
	ErrCodeCorruptedData      ErrorCode = 2002
)

// StoreError represents a structured error with code and context
type StoreError struct {
	Code    ErrorCode
	Message string
	Details map[string]interface{}
	Cause   error
}

// Error implements the error interface
func (e *StoreError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying error
func (e *StoreError) Unwrap() error {
	return e.Cause
}

// ToGRPCStatus converts StoreError to a gRPC status for the request layers above the core
func (e *StoreError) ToGRPCStatus() *status.Status {
	return status.New(e.toGRPCCode(), e.Error())
}

func (e *StoreError) toGRPCCode() codes.Code {
	switch e.Code {
	case ErrCodeOK:
		return codes.OK
	case ErrCodeInvalidArgument:
		return codes.InvalidArgument
	case ErrCodeNotFound:
		return codes.NotFound
	case ErrCodeInvalidState:
		return codes.FailedPrecondition
	case ErrCodeConstraintViolation:
		return codes.AlreadyExists
	case ErrCodeStorageUnavailable:
		return codes.Unavailable
	case ErrCodeCorruptedData:
		return codes.DataLoss
	default:
		return codes.Internal
	}
}

// NewStoreError creates a new StoreError
func NewStoreError(code ErrorCode, message string, cause error) *StoreError {
	return &StoreError{
		Code:    code,
		Message: message,
		Details: make(map[string]interface{}),
		Cause:   cause,
	}
}

// WithDetail adds a detail to the error
func (e *StoreError) WithDetail(key string, value interface{}) *StoreError {
	e.Details[key] = value
	return e
}

// Convenience constructors for common errors

func InvalidArgument(message string, cause error) *StoreError {
	return NewStoreError(ErrCodeInvalidArgument, message, cause)
}

func NotFound(scope, id string) *StoreError {
	return NewStoreError(ErrCodeNotFound, fmt.Sprintf("entity not found: %s/%s", scope, id), nil).
		WithDetail("scope", scope).
		WithDetail("entity_id", id)
}

// InvalidState is returned when an entity lacks what the requested operation needs.
// No storage access has happened when it surfaces.
func InvalidState(message string) *StoreError {
	return NewStoreError(ErrCodeInvalidState, message, nil)
}

func ConstraintViolation(field string, owner string, cause error) *StoreError {
	return NewStoreError(ErrCodeConstraintViolation,
		fmt.Sprintf("unique field '%s' is claimed by %s", field, owner), cause).
		WithDetail("field", field).
		WithDetail("owner", owner)
}

func StorageUnavailable(message string, cause error) *StoreError {
	return NewStoreError(ErrCodeStorageUnavailable, message, cause)
}

func CorruptedData(message string, cause error) *StoreError {
	return NewStoreError(ErrCodeCorruptedData, message, cause)
}

func InternalError(message string, cause error) *StoreError {
	return NewStoreError(ErrCodeInternal, message, cause)
}

// IsStoreError checks if an error is, or wraps, a StoreError
func IsStoreError(err error) bool {
	var se *StoreError
	return goerrors.As(err, &se)
}

// GetCode extracts the error code from an error
func GetCode(err error) ErrorCode {
	if err == nil {
		return ErrCodeOK
	}
	var se *StoreError
	if goerrors.As(err, &se) {
		return se.Code
	}
	return ErrCodeInternal
}

func IsStorageUnavailable(err error) bool {
	return GetCode(err) == ErrCodeStorageUnavailable
}

func IsConstraintViolation(err error) bool {
	return GetCode(err) == ErrCodeConstraintViolation
}

func IsInvalidState(err error) bool {
	return GetCode(err) == ErrCodeInvalidState
}

func IsNotFound(err error) bool {
	return GetCode(err) == ErrCodeNotFound
}
