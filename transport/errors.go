package transport

import (
	"errors"
	"fmt"
)

// ErrorCode is a server command result code.
type ErrorCode uint32

const (
	CodeOK                       ErrorCode = 0x0000
	CodeClientInvalidID          ErrorCode = 0x0200
	CodeClientNicknameInUse      ErrorCode = 0x0201
	CodeTooManyClones            ErrorCode = 0x0208
	CodeCouldNotValidateIdentity ErrorCode = 0x020b
	CodeChannelInvalidID         ErrorCode = 0x0300
	CodeChannelInvalidPassword   ErrorCode = 0x0307
	CodeDatabaseEmptyResult      ErrorCode = 0x0501
	CodeParameterInvalidSize     ErrorCode = 0x060a
	CodePermissionInvalidSize    ErrorCode = 0x0a09
	CodeWhisperNoTargets         ErrorCode = 0x070c
	CodeInsufficientPermissions  ErrorCode = 0x0a08
	CodeConnectFailedBanned      ErrorCode = 0x0d01
)

var codeNames = map[ErrorCode]string{
	CodeOK:                       "ok",
	CodeClientInvalidID:          "client_invalid_id",
	CodeClientNicknameInUse:      "client_nickname_inuse",
	CodeTooManyClones:            "client_too_many_clones_connected",
	CodeCouldNotValidateIdentity: "client_could_not_validate_identity",
	CodeChannelInvalidID:         "channel_invalid_id",
	CodeChannelInvalidPassword:   "channel_invalid_password",
	CodeDatabaseEmptyResult:      "database_empty_result",
	CodeParameterInvalidSize:     "parameter_invalid_size",
	CodePermissionInvalidSize:    "permission_invalid_size",
	CodeWhisperNoTargets:         "whisper_no_targets",
	CodeInsufficientPermissions:  "client_insufficient_permissions",
	CodeConnectFailedBanned:      "connect_failed_banned",
}

func (c ErrorCode) String() string {
	if n, ok := codeNames[c]; ok {
		return n
	}
	return fmt.Sprintf("error_0x%04x", uint32(c))
}

// CommandError is a server-side failure of a round trip.
type CommandError struct {
	Code    ErrorCode
	Message string
	// ExtraMessage carries code specific detail, e.g. the required security
	// level for CodeCouldNotValidateIdentity.
	ExtraMessage      string
	MissingPermission string
}

func (e *CommandError) Error() string {
	msg := e.Code.String()
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.ExtraMessage != "" {
		msg += " (" + e.ExtraMessage + ")"
	}
	if e.MissingPermission != "" {
		msg += " [missing " + e.MissingPermission + "]"
	}
	return msg
}

// Is matches another *CommandError by code, so sentinels built with
// NewError work with errors.Is.
func (e *CommandError) Is(target error) bool {
	var other *CommandError
	if !errors.As(target, &other) {
		return false
	}
	return other.Code == e.Code
}

func NewError(code ErrorCode, message string) *CommandError {
	return &CommandError{Code: code, Message: message}
}

// CodeOf returns the command code of err, or false if err is not a command
// error.
func CodeOf(err error) (ErrorCode, bool) {
	var ce *CommandError
	if errors.As(err, &ce) {
		return ce.Code, true
	}
	return 0, false
}

var (
	// ErrNotConnected is returned by round trips issued without a live
	// session.
	ErrNotConnected = errors.New("transport: not connected")
)
