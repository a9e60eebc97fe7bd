package output

import (
	"errors"
	"fmt"

	"github.com/mozilla-services/fxa-go/pkg/fxa"
)

// Error is a structured error with code, message, and optional hint.
type Error struct {
	Code       string
	Message    string
	Hint       string
	HTTPStatus int
	Cause      error
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

// ExitCode returns the appropriate exit code for this error.
func (e *Error) ExitCode() int {
	return ExitCodeFor(e.Code)
}

// Error constructors for common cases.

func ErrUsage(msg string) *Error {
	return &Error{Code: CodeUsage, Message: msg}
}

func ErrUsageHint(msg, hint string) *Error {
	return &Error{Code: CodeUsage, Message: msg, Hint: hint}
}

func ErrAuth(msg string) *Error {
	return &Error{
		Code:    CodeAuth,
		Message: msg,
		Hint:    "Run: fxa login oauth, or fxa login password",
	}
}

func ErrNetwork(cause error) *Error {
	return &Error{
		Code:    CodeNetwork,
		Message: "Network error",
		Hint:    cause.Error(),
		Cause:   cause,
	}
}

func ErrUpstream(status int, msg string) *Error {
	return &Error{
		Code:       CodeUpstream,
		Message:    msg,
		HTTPStatus: status,
	}
}

// AsError attempts to convert an error to an *Error, translating the
// account library's typed failures into CLI codes.
func AsError(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	var ae *fxa.Error
	if errors.As(err, &ae) {
		return fromAccountError(ae)
	}
	return &Error{
		Code:    CodeInternal,
		Message: err.Error(),
		Cause:   err,
	}
}

// fromAccountError maps a library error onto the CLI taxonomy: bad input
// stays usage, credential trouble becomes auth, server rejections become
// upstream, and timeouts become network.
func fromAccountError(ae *fxa.Error) *Error {
	e := &Error{
		Message:    ae.Message,
		Hint:       ae.Hint,
		HTTPStatus: ae.RemoteStatus,
		Cause:      ae,
	}
	switch ae.Code {
	case fxa.CodeInvalidConfig, fxa.CodeInvalidScope,
		fxa.CodeUnknownOAuthState, fxa.CodeExpiredOAuthState,
		fxa.CodeMalformedCredentials, fxa.CodeKeysNotAvailable:
		e.Code = CodeUsage
	case fxa.CodeUnauthenticated, fxa.CodeNoSessionCredential:
		e.Code = CodeAuth
		if e.Hint == "" {
			e.Hint = "Run: fxa login oauth, or fxa login password"
		}
	case fxa.CodeTimeout:
		e.Code = CodeNetwork
	case fxa.CodeTokenExchangeFailed, fxa.CodeSigningFailed,
		fxa.CodeProfileFetchFailed, fxa.CodeRemoteError:
		e.Code = CodeUpstream
	default:
		e.Code = CodeInternal
	}
	return e
}
