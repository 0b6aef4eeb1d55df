package common

import (
	"context"
	"errors"
	"fmt"
)

// AppError represents application-specific errors
type AppError struct {
	Code    string
	Message string
	Cause   error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// Error codes shared by the pipeline. They end up in logs and, through
// ocr.FailureCode, in the failure reason prefix of a document.
const (
	CodeToolUnavailable    = "TOOL_UNAVAILABLE"
	CodeNoSidecar          = "NO_SIDECAR"
	CodeUnusableText       = "UNUSABLE_TEXT"
	CodeUnsupportedContent = "UNSUPPORTED_CONTENT_TYPE"
	CodeConversionFailed   = "CONVERSION_FAILED"
	CodeCancelled          = "CANCELLED"
	CodeUnexpected         = "UNEXPECTED"
	CodeConfig             = "CONFIG_ERROR"
	CodeInvalidInput       = "INVALID_INPUT"
)

// Common application errors
var (
	ErrNotFound     = errors.New("resource not found")
	ErrInvalidInput = errors.New("invalid input")
	ErrUnsupported  = errors.New("unsupported content type")
	ErrConversion   = errors.New("conversion failed")
	ErrStorage      = errors.New("storage error")
)

// Error constructors
func NewAppError(code, message string, cause error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

func WrapError(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// IsCancellation reports whether err stems from a cancelled or expired context.
// Cancellation is the one error the pipeline propagates instead of recording.
func IsCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// CodeOf returns the AppError code carried by err, or CodeUnexpected.
func CodeOf(err error) string {
	var ae *AppError
	if errors.As(err, &ae) {
		return ae.Code
	}
	if IsCancellation(err) {
		return CodeCancelled
	}
	return CodeUnexpected
}
