package gateway

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/nkiryanov/authsession/internal/apperrors"
)

// Codes the identity service may return with a failure
const (
	CodeDuplicatedEmailOrUsername = "DUPLICATED_EMAIL_OR_USERNAME"
	CodeMissingRefreshToken       = "MISSING_REFRESH_TOKEN"
	CodeInvalidRefreshToken       = "INVALID_REFRESH_TOKEN"
	CodeExpiredRefreshToken       = "EXPIRED_REFRESH_TOKEN"
	CodeInvalidCredentials        = "INVALID_CREDENTIALS"
	CodeAccountLocked             = "ACCOUNT_LOCKED"
	CodeInvalidCode               = "INVALID_CODE"
	CodeExpiredCode               = "EXPIRED_CODE"
	CodeWeakPassword              = "WEAK_PASSWORD"
	CodeInvalidResetToken         = "INVALID_RESET_TOKEN"
	CodeExpiredResetToken         = "EXPIRED_RESET_TOKEN"
)

// Shown when the service gave neither known code nor message
const GenericMessage = "Unexpected error, please try again later"

var codeMessages = map[string]string{
	CodeDuplicatedEmailOrUsername: "This email or username is already registered",
	CodeMissingRefreshToken:       "Your session has ended, please log in again",
	CodeInvalidRefreshToken:       "Your session has ended, please log in again",
	CodeExpiredRefreshToken:       "Your session has expired, please log in again",
	CodeInvalidCredentials:        "Invalid email or password",
	CodeAccountLocked:             "Your account is locked, contact support",
	CodeInvalidCode:               "The verification code is incorrect",
	CodeExpiredCode:               "The verification code has expired, request a new one",
	CodeWeakPassword:              "The password is too weak",
	CodeInvalidResetToken:         "The password reset link is invalid",
	CodeExpiredResetToken:         "The password reset link has expired",
}

// Error is a failure reported by the identity service
type Error struct {
	Status  int
	Message string
	Code    string
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("identity service: status %d, code %s: %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("identity service: status %d: %s", e.Status, e.Message)
}

// Is lets refresh token failures match apperrors.ErrSessionExpired
// and other 401 responses match apperrors.ErrUnauthorized
func (e *Error) Is(target error) bool {
	switch target {
	case apperrors.ErrSessionExpired:
		return e.Code == CodeMissingRefreshToken || e.Code == CodeInvalidRefreshToken || e.Code == CodeExpiredRefreshToken
	case apperrors.ErrUnauthorized:
		return e.Status == 401
	}
	return false
}

// UserMessage picks text for the user: known code first, then server message, then generic one
func (e *Error) UserMessage() string {
	if msg, ok := codeMessages[e.Code]; ok {
		return msg
	}
	if e.Message != "" {
		return e.Message
	}
	return GenericMessage
}

// InputError lists fields that failed presence checks, nothing was sent
type InputError struct {
	Fields map[string]string
}

func (e *InputError) Error() string {
	names := make([]string, 0, len(e.Fields))
	for name := range e.Fields {
		names = append(names, name)
	}
	sort.Strings(names)

	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, name+": "+e.Fields[name])
	}
	return "invalid input: " + strings.Join(parts, ", ")
}

func (e *InputError) Unwrap() error {
	return apperrors.ErrInvalidInput
}

// UserMessage converts any gateway error to text safe to show
func UserMessage(err error) string {
	var gwErr *Error
	var inErr *InputError

	switch {
	case errors.As(err, &gwErr):
		return gwErr.UserMessage()
	case errors.As(err, &inErr):
		return inErr.Error()
	default:
		return GenericMessage
	}
}
