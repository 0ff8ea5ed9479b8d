package protocol

import (
	"errors"
	"fmt"
)

var (
	ErrMissingType    = errors.New("envelope has no type")
	ErrUnknownType    = errors.New("unknown message type")
	ErrInvalidPayload = errors.New("invalid payload")
)

// Error codes carried by realm:error events.
const (
	CodeUnknownType      = "UNKNOWN_TYPE"
	CodeInvalidMessage   = "INVALID_MESSAGE"
	CodeNotAuthenticated = "NOT_AUTHENTICATED"
	CodeAuthFailed       = "AUTH_FAILED"
	CodeAuthTimeout      = "AUTH_TIMEOUT"
	CodeIdentityMismatch = "IDENTITY_MISMATCH"
	CodeForbidden        = "FORBIDDEN"
	CodeNotFound         = "NOT_FOUND"
	CodeNotJoined        = "NOT_JOINED"
	CodeRateLimited      = "RATE_LIMITED"
	CodeCapacityReached  = "CAPACITY_REACHED"
	CodeVoiceFull        = "VOICE_FULL"
	CodeInvalidTarget    = "INVALID_TARGET"
	CodeDMDisabled       = "DM_DISABLED"
	CodeVoiceError       = "VOICE_ERROR"
	CodeInternalError    = "INTERNAL_ERROR"
	CodeSessionReplaced  = "SESSION_REPLACED"
)

// Error is a client-visible failure. Handlers return it and the dispatcher
// turns it into a realm:error event.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return e.Code + ": " + e.Message
}

func NewError(code, message string) *Error {
	return &Error{Code: code, Message: message}
}

func Errorf(code, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}
