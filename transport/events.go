package transport

import "fmt"

// Event is one notification from a live session.
type Event interface {
	isEvent()
}

// Connected is sent once the handshake completed.
type Connected struct{}

// Disconnected ends a session. Err carries the server's error when the
// session was refused or dropped with a command error.
type Disconnected struct {
	Reason Reason
	Err    *CommandError
}

// ClientMoved reports a client switching channels.
type ClientMoved struct {
	Client ClientID
	Source ChannelID
	Target ChannelID
}

// ClientEnterView reports a client becoming visible. Source is zero when it
// just connected.
type ClientEnterView struct {
	Client Client
	Source ChannelID
	Target ChannelID
}

// ClientLeftView reports a client disappearing. Target is zero when it
// disconnected from the server.
type ClientLeftView struct {
	Client ClientID
	Source ChannelID
	Target ChannelID
	Reason Reason
}

// ErrorEvent is an asynchronous error the server pushed without a pending
// command.
type ErrorEvent struct {
	Err *CommandError
}

// TextMessage is a chat message the bot can see.
type TextMessage struct {
	Target      TextTarget
	Invoker     ClientID
	InvokerUID  UID
	InvokerName string
	Message     string
}

func (Connected) isEvent()       {}
func (Disconnected) isEvent()    {}
func (ClientMoved) isEvent()     {}
func (ClientEnterView) isEvent() {}
func (ClientLeftView) isEvent()  {}
func (ErrorEvent) isEvent()      {}
func (TextMessage) isEvent()     {}

// Reason is the exit reason a transport attaches to a disconnect or a client
// leaving.
type Reason int

const (
	ReasonUnknown Reason = iota
	ReasonLeftServer
	ReasonTimeout
	ReasonSocketError
	ReasonKickedFromChannel
	ReasonKickedFromServer
	ReasonServerShutdown
	ReasonServerStopped
	ReasonBanned
)

func (r Reason) String() string {
	switch r {
	case ReasonUnknown:
		return "unknown"
	case ReasonLeftServer:
		return "left_server"
	case ReasonTimeout:
		return "timeout"
	case ReasonSocketError:
		return "socket_error"
	case ReasonKickedFromChannel:
		return "kicked_from_channel"
	case ReasonKickedFromServer:
		return "kicked_from_server"
	case ReasonServerShutdown:
		return "server_shutdown"
	case ReasonServerStopped:
		return "server_stopped"
	case ReasonBanned:
		return "banned"
	default:
		return fmt.Sprintf("reason(%d)", int(r))
	}
}
