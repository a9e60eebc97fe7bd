package fxa

import (
	"context"
	"errors"
	"fmt"
)

// ErrorCode classifies every failure the library can return.
type ErrorCode string

const (
	CodeInvalidConfig        ErrorCode = "invalid_config"
	CodeMalformedCredentials ErrorCode = "malformed_credentials"
	CodeInvalidScope         ErrorCode = "invalid_scope"
	CodeUnknownOAuthState    ErrorCode = "unknown_oauth_state"
	CodeExpiredOAuthState    ErrorCode = "expired_oauth_state"
	CodeTokenExchangeFailed  ErrorCode = "token_exchange_failed"
	CodeNoSessionCredential  ErrorCode = "no_session_credential"
	CodeSigningFailed        ErrorCode = "signing_failed"
	CodeKeysNotAvailable     ErrorCode = "keys_not_available"
	CodeUnauthenticated      ErrorCode = "unauthenticated"
	CodeProfileFetchFailed   ErrorCode = "profile_fetch_failed"
	CodeTimeout              ErrorCode = "timeout"

	// CodeRemoteError covers auth-server rejections outside the flow,
	// key and profile classes above, carrying the server's errno.
	CodeRemoteError ErrorCode = "remote_error"
)

// Error is a structured error with code, message, and optional hint.
// Failures reported by a remote endpoint additionally carry the upstream
// HTTP status and, for the auth server, its errno and detail string.
type Error struct {
	Code         ErrorCode
	Message      string
	Hint         string
	RemoteStatus int
	RemoteErrno  int
	RemoteDetail string
	Cause        error
}

func (e *Error) Error() string {
	if e.Hint != "" {
		return fmt.Sprintf("%s: %s", e.Message, e.Hint)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// IsCode reports whether err is an *Error carrying the given code.
func IsCode(err error, code ErrorCode) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// Error constructors, one per failure class.

func ErrInvalidConfig(msg string) *Error {
	return &Error{Code: CodeInvalidConfig, Message: msg}
}

func ErrMalformedCredentials(msg string, cause error) *Error {
	return &Error{Code: CodeMalformedCredentials, Message: msg, Cause: cause}
}

func ErrInvalidScope(msg string) *Error {
	return &Error{Code: CodeInvalidScope, Message: msg}
}

func ErrUnknownOAuthState(state string) *Error {
	return &Error{
		Code:    CodeUnknownOAuthState,
		Message: fmt.Sprintf("unknown OAuth state %q", state),
		Hint:    "the flow was never started here, or was already completed",
	}
}

func ErrExpiredOAuthState(state string) *Error {
	return &Error{
		Code:    CodeExpiredOAuthState,
		Message: fmt.Sprintf("OAuth state %q has expired", state),
		Hint:    "begin a new flow and retry",
	}
}

func ErrTokenExchangeFailed(status int, detail string, cause error) *Error {
	return &Error{
		Code:         CodeTokenExchangeFailed,
		Message:      "token endpoint rejected the exchange",
		RemoteStatus: status,
		RemoteDetail: detail,
		Cause:        cause,
	}
}

func ErrNoSessionCredential() *Error {
	return &Error{
		Code:    CodeNoSessionCredential,
		Message: "no session credential available",
		Hint:    "sign in with a password or restore credentials that include a session token",
	}
}

func ErrSigningFailed(msg string, cause error) *Error {
	return &Error{Code: CodeSigningFailed, Message: msg, Cause: cause}
}

func ErrKeysNotAvailable() *Error {
	return &Error{
		Code:    CodeKeysNotAvailable,
		Message: "account keys are not available",
		Hint:    "complete an OAuth flow begun with wantsKeys=true",
	}
}

func ErrUnauthenticated(msg string) *Error {
	return &Error{Code: CodeUnauthenticated, Message: msg}
}

func ErrProfileFetchFailed(status int, detail string) *Error {
	return &Error{
		Code:         CodeProfileFetchFailed,
		Message:      "profile server returned an error",
		RemoteStatus: status,
		RemoteDetail: detail,
	}
}

func ErrTimeout(cause error) *Error {
	return &Error{Code: CodeTimeout, Message: "request timed out", Cause: cause}
}

// remoteError is the JSON error body returned by the account auth server.
type remoteError struct {
	Code    int    `json:"code"`
	Errno   int    `json:"errno"`
	Err     string `json:"error"`
	Message string `json:"message"`
	Info    string `json:"info"`
}

// ctxErr maps a context cancellation or deadline onto the timeout code.
// Callers pass the operation error; non-context failures come back nil.
func ctxErr(err error) *Error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return ErrTimeout(err)
	}
	return nil
}
