package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// AppError provides a structured error that can be rendered to API consumers.
// Action carries a machine-readable hint so callers can branch (redirect to
// login, prompt channel binding, etc.) without matching message text.
type AppError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	Action     string `json:"action,omitempty"`
	StatusCode int    `json:"-"`
	Internal   error  `json:"-"`
}

func (e *AppError) Error() string {
	if e == nil {
		return "<nil>"
	}

	if e.Internal != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Internal)
	}

	return e.Message
}

// Unwrap exposes the internal error for errors.Is / errors.As compatibility.
func (e *AppError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Internal
}

// WithInternal returns a copy of the AppError with an attached internal error.
func (e *AppError) WithInternal(err error) *AppError {
	if e == nil {
		return nil
	}

	cpy := *e
	cpy.Internal = err
	return &cpy
}

// WithMessage returns a copy of the AppError carrying a different user-facing message.
func (e *AppError) WithMessage(message string) *AppError {
	if e == nil {
		return nil
	}

	cpy := *e
	cpy.Message = message
	return &cpy
}

// Common errors exposed to the rest of the application. Each rejection kind
// keeps a stable code so the calling UI can branch on it.
var (
	ErrUnauthorized = &AppError{
		Code:       "UNAUTHORIZED",
		Message:    "Authentication required",
		Action:     "login",
		StatusCode: http.StatusUnauthorized,
	}

	ErrInvalidCredentials = &AppError{
		Code:       "INVALID_CREDENTIALS",
		Message:    "Invalid username or password",
		StatusCode: http.StatusUnauthorized,
	}

	ErrAccountLocked = &AppError{
		Code:       "ACCOUNT_LOCKED",
		Message:    "Account is locked, contact an administrator",
		Action:     "contact_admin",
		StatusCode: http.StatusForbidden,
	}

	ErrAccountNotActive = &AppError{
		Code:       "ACCOUNT_NOT_ACTIVE",
		Message:    "Account is not active",
		Action:     "contact_admin",
		StatusCode: http.StatusForbidden,
	}

	ErrDeviceLimitReached = &AppError{
		Code:       "DEVICE_LIMIT_REACHED",
		Message:    "Device limit reached and no confirmation channel is bound",
		Action:     "contact_admin",
		StatusCode: http.StatusConflict,
	}

	ErrConfirmationDelivery = &AppError{
		Code:       "CONFIRMATION_DELIVERY_FAILED",
		Message:    "Could not deliver the login confirmation message",
		StatusCode: http.StatusServiceUnavailable,
	}

	ErrInvalidOrExpiredToken = &AppError{
		Code:       "TOKEN_INVALID_OR_EXPIRED",
		Message:    "Confirmation link is invalid or has expired",
		Action:     "login",
		StatusCode: http.StatusUnauthorized,
	}

	ErrSessionNotFound = &AppError{
		Code:       "SESSION_NOT_FOUND",
		Message:    "Session is no longer valid",
		Action:     "login",
		StatusCode: http.StatusUnauthorized,
	}

	ErrUserNotFound = &AppError{
		Code:       "USER_NOT_FOUND",
		Message:    "User account no longer exists",
		Action:     "login",
		StatusCode: http.StatusUnauthorized,
	}

	ErrSubscriptionRequired = &AppError{
		Code:       "SUBSCRIPTION_REQUIRED",
		Message:    "Telegram subscription is required to continue",
		Action:     "bind_telegram",
		StatusCode: http.StatusForbidden,
	}

	ErrForbidden = &AppError{
		Code:       "FORBIDDEN",
		Message:    "Permission denied",
		StatusCode: http.StatusForbidden,
	}

	ErrNotFound = &AppError{
		Code:       "NOT_FOUND",
		Message:    "Resource not found",
		StatusCode: http.StatusNotFound,
	}

	ErrBadRequest = &AppError{
		Code:       "BAD_REQUEST",
		Message:    "Invalid request",
		StatusCode: http.StatusBadRequest,
	}

	ErrInternalServer = &AppError{
		Code:       "INTERNAL_SERVER_ERROR",
		Message:    "Internal server error",
		StatusCode: http.StatusInternalServerError,
	}
)

// New builds a new application error with the provided metadata.
func New(code, message string, statusCode int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		StatusCode: statusCode,
	}
}

// Wrap turns any error into an AppError while keeping the original error for logging.
func Wrap(err error, message string) *AppError {
	return &AppError{
		Code:       "INTERNAL_ERROR",
		Message:    message,
		StatusCode: http.StatusInternalServerError,
		Internal:   err,
	}
}

// FromError converts a generic error into an AppError, defaulting to ErrInternalServer.
func FromError(err error) *AppError {
	if err == nil {
		return nil
	}

	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}

	return ErrInternalServer.WithInternal(err)
}

// NewBadRequest wraps validation errors with a helpful message.
func NewBadRequest(message string) *AppError {
	return &AppError{
		Code:       ErrBadRequest.Code,
		Message:    message,
		StatusCode: ErrBadRequest.StatusCode,
	}
}
