package model

import (
	"errors"
	"fmt"
)

// Error codes shared by the API envelope and the core error taxonomy.
// Validation and forbidden-transition failures are raised before any
// persistence write (fail closed).
const (
	ErrCodeValidation    = "VALIDATION_ERROR"
	ErrCodeForbidden     = "FORBIDDEN"
	ErrCodeNotFound      = "NOT_FOUND"
	ErrCodeNotEnoughData = "NOT_ENOUGH_DATA"
	ErrCodeEmbedding     = "EMBEDDING_ERROR"
	ErrCodeUnauthorized  = "UNAUTHORIZED"
	ErrCodeInternal      = "INTERNAL_ERROR"
)

// CodedError is an error carrying one of the taxonomy codes above.
type CodedError struct {
	Code    string
	Message string
	Err     error // optional wrapped cause
}

func (e *CodedError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *CodedError) Unwrap() error { return e.Err }

// ErrCode extracts the taxonomy code from err, unwrapping as needed.
// Returns ErrCodeInternal for errors outside the taxonomy.
func ErrCode(err error) string {
	var coded *CodedError
	if errors.As(err, &coded) {
		return coded.Code
	}
	return ErrCodeInternal
}

// IsCode reports whether err carries the given taxonomy code.
func IsCode(err error, code string) bool {
	return err != nil && ErrCode(err) == code
}

// Validationf builds a VALIDATION_ERROR.
func Validationf(format string, args ...any) *CodedError {
	return &CodedError{Code: ErrCodeValidation, Message: fmt.Sprintf(format, args...)}
}

// Forbiddenf builds a FORBIDDEN error.
func Forbiddenf(format string, args ...any) *CodedError {
	return &CodedError{Code: ErrCodeForbidden, Message: fmt.Sprintf(format, args...)}
}

// NotFoundf builds a NOT_FOUND error.
func NotFoundf(format string, args ...any) *CodedError {
	return &CodedError{Code: ErrCodeNotFound, Message: fmt.Sprintf(format, args...)}
}

// Embeddingf builds an EMBEDDING_ERROR, optionally wrapping a worker cause.
func Embeddingf(cause error, format string, args ...any) *CodedError {
	return &CodedError{Code: ErrCodeEmbedding, Message: fmt.Sprintf(format, args...), Err: cause}
}
