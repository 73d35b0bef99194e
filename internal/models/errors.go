package models

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gofiber/fiber/v2"
)

// Error codes shared by the API and the client core.
const (
	CodeAuth         = "AUTH_ERROR"
	CodeValidation   = "VALIDATION_ERROR"
	CodeAuthRequired = "AUTH_REQUIRED"
	CodeUpload       = "UPLOAD_ERROR"
	CodeMutation     = "MUTATION_ERROR"
	CodeNotFound     = "NOT_FOUND"
	CodeInternal     = "INTERNAL_ERROR"
)

// ErrorResponse represents a standardized API error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

// AppError represents a custom application error
type AppError struct {
	Code    string
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

// NewAuthError reports bad credentials, a duplicate account or an identity network failure.
func NewAuthError(message string, err error) *AppError {
	return &AppError{Code: CodeAuth, Message: message, Err: err}
}

// NewValidationError reports an empty or malformed required field.
func NewValidationError(message string) *AppError {
	return &AppError{Code: CodeValidation, Message: message}
}

// NewAuthRequiredError reports a mutation attempted without a signed-in user.
func NewAuthRequiredError(message string) *AppError {
	return &AppError{Code: CodeAuthRequired, Message: message}
}

// NewUploadError reports a failed blob transfer.
func NewUploadError(message string, err error) *AppError {
	return &AppError{Code: CodeUpload, Message: message, Err: err}
}

// NewMutationError reports a failed document write, including owner-rule denials.
func NewMutationError(message string, err error) *AppError {
	return &AppError{Code: CodeMutation, Message: message, Err: err}
}

func NewNotFoundError(resource string, id any) *AppError {
	return &AppError{
		Code:    CodeNotFound,
		Message: fmt.Sprintf("%s with ID %v not found", resource, id),
	}
}

func NewInternalError(err error) *AppError {
	return &AppError{
		Code:    CodeInternal,
		Message: "Internal server error",
		Err:     err,
	}
}

// HasCode reports whether err wraps an AppError with the given code.
func HasCode(err error, code string) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.Code == code
}

// CodeOf returns the AppError code of err, or an empty string.
func CodeOf(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}

// StatusFor maps an error to its HTTP status.
func StatusFor(err error) int {
	switch CodeOf(err) {
	case CodeValidation:
		return http.StatusBadRequest
	case CodeAuth, CodeAuthRequired:
		return http.StatusUnauthorized
	case CodeMutation:
		return http.StatusForbidden
	case CodeNotFound:
		return http.StatusNotFound
	case CodeUpload:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// RespondWithError creates a standardized error response
func RespondWithError(c *fiber.Ctx, status int, err error) error {
	var response ErrorResponse

	var appErr *AppError
	if errors.As(err, &appErr) {
		response = ErrorResponse{
			Error: appErr.Message,
			Code:  appErr.Code,
		}
		if appErr.Err != nil && appErr.Code != CodeInternal {
			response.Details = appErr.Err.Error()
		}
	} else {
		response = ErrorResponse{
			Error: err.Error(),
		}
	}

	return c.Status(status).JSON(response)
}

// RespondWithAppError writes err using the status from StatusFor.
func RespondWithAppError(c *fiber.Ctx, err error) error {
	return RespondWithError(c, StatusFor(err), err)
}

// FromResponse rebuilds an AppError from an API error body.
func FromResponse(status int, body ErrorResponse) *AppError {
	code := body.Code
	if code == "" {
		switch status {
		case http.StatusBadRequest:
			code = CodeValidation
		case http.StatusUnauthorized:
			code = CodeAuthRequired
		case http.StatusForbidden:
			code = CodeMutation
		case http.StatusNotFound:
			code = CodeNotFound
		default:
			code = CodeInternal
		}
	}
	msg := body.Error
	if msg == "" {
		msg = http.StatusText(status)
	}
	var cause error
	if body.Details != "" {
		cause = errors.New(body.Details)
	}
	return &AppError{Code: code, Message: msg, Err: cause}
}
