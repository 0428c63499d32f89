package common

import (
	"errors"
	"fmt"
	"io/fs"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
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

// Common application errors
var (
	ErrNotFound     = errors.New("resource not found")
	ErrInvalidInput = errors.New("invalid input")
	ErrInternal     = errors.New("internal error")
	ErrDatabase     = errors.New("database error")
	ErrValidation   = errors.New("validation failed")
)

// Extraction failure taxonomy. Only ErrEngineUnavailable is an environment
// fault; the rest are recovered into low-confidence results.
var (
	ErrDocumentUnreadable  = errors.New("document unreadable")
	ErrConversionFailure   = errors.New("conversion failure")
	ErrNoTextExtracted     = errors.New("no text extracted")
	ErrValidationRejected  = errors.New("validation rejected")
	ErrProviderUnavailable = errors.New("provider unavailable")
	ErrEngineUnavailable   = errors.New("ocr engine unavailable")
	ErrFileTooLarge        = errors.New("file too large")
)

// Taxonomy names as reported in results.
const (
	ClassDocumentUnreadable  = "DocumentUnreadable"
	ClassConversionFailure   = "ConversionFailure"
	ClassNoTextExtracted     = "NoTextExtracted"
	ClassValidationRejected  = "ValidationRejected"
	ClassProviderUnavailable = "ProviderUnavailable"
	ClassEngineUnavailable   = "EngineUnavailable"
	ClassFileTooLarge        = "FileTooLarge"
	ClassInternal            = "Internal"
)

var classes = []struct {
	err  error
	name string
}{
	{ErrDocumentUnreadable, ClassDocumentUnreadable},
	{ErrConversionFailure, ClassConversionFailure},
	{ErrNoTextExtracted, ClassNoTextExtracted},
	{ErrValidationRejected, ClassValidationRejected},
	{ErrProviderUnavailable, ClassProviderUnavailable},
	{ErrEngineUnavailable, ClassEngineUnavailable},
	{ErrFileTooLarge, ClassFileTooLarge},
}

// Classify maps err onto the taxonomy name.
func Classify(err error) string {
	if err == nil {
		return ""
	}
	for _, c := range classes {
		if errors.Is(err, c.err) {
			return c.name
		}
	}
	return ClassInternal
}

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

// gRPC error helpers
func InvalidArgumentError(message string) error {
	return status.Error(codes.InvalidArgument, message)
}

func NotFoundError(message string) error {
	return status.Error(codes.NotFound, message)
}

func InternalError(message string) error {
	return status.Error(codes.Internal, message)
}

func UnavailableError(message string) error {
	return status.Error(codes.Unavailable, message)
}

func InvalidArgumentErrorf(format string, args ...any) error {
	return InvalidArgumentError(fmt.Sprintf(format, args...))
}

func InternalErrorf(format string, args ...any) error {
	return InternalError(fmt.Sprintf(format, args...))
}

// ToStatus converts a service error into a gRPC status error.
func ToStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	switch {
	case errors.Is(err, ErrInvalidInput), errors.Is(err, ErrValidation):
		return InvalidArgumentError(err.Error())
	case errors.Is(err, ErrFileTooLarge):
		return status.Error(codes.ResourceExhausted, err.Error())
	case errors.Is(err, ErrNotFound), errors.Is(err, fs.ErrNotExist):
		return NotFoundError(err.Error())
	case errors.Is(err, ErrEngineUnavailable):
		return UnavailableError(err.Error())
	}
	return InternalError(err.Error())
}
