package service

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors shared by the ingestion path and the stores.
var (
	ErrEmptyUpload          = errors.New("empty upload")
	ErrPayloadTooLarge      = errors.New("payload too large")
	ErrUnsupportedMediaType = errors.New("unsupported media type")
	ErrStorage              = errors.New("storage failure")
	ErrNotFound             = errors.New("not found")
	ErrNotProcessing        = errors.New("contract is not processing")
	ErrBlobNotFound         = errors.New("blob not found")
)

// AppError carries the HTTP status and client-safe message for an error.
type AppError struct {
	Code    int
	Message string
	Err     error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// NewAppError creates a new AppError.
func NewAppError(code int, message string, err error) *AppError {
	return &AppError{Code: code, Message: message, Err: err}
}

// MapError translates service errors to an AppError. The message never
// includes the wrapped error text.
func MapError(err error) *AppError {
	if err == nil {
		return nil
	}

	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}

	switch {
	case errors.Is(err, ErrEmptyUpload):
		return NewAppError(http.StatusBadRequest, "Invalid request.", err)
	case errors.Is(err, ErrPayloadTooLarge):
		return NewAppError(http.StatusRequestEntityTooLarge, "File exceeds the maximum upload size.", err)
	case errors.Is(err, ErrUnsupportedMediaType):
		return NewAppError(http.StatusBadRequest, "Unsupported file type. Only PDF and plain text files are accepted.", err)
	case errors.Is(err, ErrNotFound):
		return NewAppError(http.StatusNotFound, "Contract not found.", err)
	case errors.Is(err, ErrNotProcessing):
		return NewAppError(http.StatusConflict, "Contract is not awaiting analysis.", err)
	case errors.Is(err, ErrStorage):
		return NewAppError(http.StatusInternalServerError, "Upload failed: storage unavailable.", err)
	}

	return NewAppError(http.StatusInternalServerError, "Internal server error", err)
}
