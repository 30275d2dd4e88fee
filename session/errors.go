package session

import (
	"errors"
	"fmt"

	"github.com/ggoodman/voicebot/transport"
)

var (
	// ErrInvalidState is returned when an operation cannot run in the
	// manager's current state, e.g. Connect without an identity provider.
	ErrInvalidState = errors.New("session: invalid state")
	// ErrClientNotFound signals a lookup miss. It is not a fault of the
	// session.
	ErrClientNotFound = errors.New("session: no client found")
	// ErrSetupFailed aborts SetupRights.
	ErrSetupFailed        = errors.New("session: bot setup failed")
	ErrInvalidName        = errors.New("session: invalid name")
	ErrFileTooBig         = errors.New("session: file too big")
	ErrCannotMove         = errors.New("session: cannot move")
	ErrCannotSetCommander = errors.New("session: cannot set channel commander")
)

// TransportError is a failed round trip. Kind, when set, is the session
// sentinel the failure maps to.
type TransportError struct {
	Op   string
	Code transport.ErrorCode
	Kind error
	Err  error
}

func (e *TransportError) Error() string {
	if e.Kind != nil {
		return fmt.Sprintf("%s: %v (%v)", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() []error {
	if e.Kind != nil {
		return []error{e.Kind, e.Err}
	}
	return []error{e.Err}
}

// kindFunc maps a failed round trip to a session sentinel, or nil to keep
// the transport error as is.
type kindFunc func(code transport.ErrorCode, isCommand bool) error

// always maps every failure to kind.
func always(kind error) kindFunc {
	return func(transport.ErrorCode, bool) error { return kind }
}

// onCode maps only the given command code to kind.
func onCode(code transport.ErrorCode, kind error) kindFunc {
	return func(c transport.ErrorCode, isCommand bool) error {
		if isCommand && c == code {
			return kind
		}
		return nil
	}
}

func wrap(op string, err error, kind kindFunc) error {
	if err == nil {
		return nil
	}
	te := &TransportError{Op: op, Err: err}
	code, isCommand := transport.CodeOf(err)
	te.Code = code
	if kind != nil {
		te.Kind = kind(code, isCommand)
	}
	return te
}
