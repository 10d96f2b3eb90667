package errcode

import (
	"errors"
	"fmt"
)

// Error represents a business error
type Error struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("errcode: %d, msg: %s", e.Code, e.Msg)
}

// New creates a new error with code and message
func New(code int, msg string) *Error {
	return &Error{Code: code, Msg: msg}
}

// Wrap wraps an error with additional context
func (e *Error) Wrap(err error) *Error {
	if err == nil {
		return e
	}
	return &Error{
		Code: e.Code,
		Msg:  fmt.Sprintf("%s: %v", e.Msg, err),
	}
}

// Is matches errors by code so wrapped variants still compare equal
// under errors.Is.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return e.Code == t.Code
}

// Common error codes
var (
	// Success
	ErrSuccess = New(0, "success")

	// Common errors (1xxx)
	ErrInvalidParam   = New(1001, "invalid parameter")
	ErrInternalServer = New(1002, "internal server error")
	ErrUnauthorized   = New(1003, "unauthorized")
	ErrNotFound       = New(1005, "not found")

	// Authentication errors (2xxx) are non-retryable and surfaced to the
	// host application instead of triggering automatic reconnect
	ErrAuthentication = New(2001, "authentication rejected")
	ErrTokenInvalid   = New(2002, "token invalid")
	ErrTokenExpired   = New(2003, "token expired")
	ErrTokenMissing   = New(2004, "token missing")
	ErrLoginFailed    = New(2005, "login failed")

	// Connection errors (3xxx)
	ErrNotConnected  = New(3001, "not connected")
	ErrTransport     = New(3002, "transport connection lost")
	ErrConnClosed    = New(3003, "connection closed")
	ErrWriteChanFull = New(3004, "write channel full")

	// Protocol errors (4xxx)
	ErrProtocol     = New(4001, "invalid protocol frame")
	ErrInvalidFrame = New(4002, "malformed frame payload")

	// Message errors (5xxx)
	ErrMessageTimeout = New(5001, "message confirmation timed out")
	ErrSendFailed     = New(5002, "message send failed")
	ErrConvNotFound   = New(5003, "conversation not found")
)
