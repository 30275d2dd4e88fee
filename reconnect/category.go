package reconnect

import "fmt"

// Category classifies why a session went away. It selects the backoff
// sequence the policy consults.
type Category int

const (
	None Category = iota
	Timeout
	Kick
	Ban
	ServerShutdown
	Error
	// IdentityError is a server refusing the identity's security level. It
	// has no backoff sequence: only reconfiguration helps.
	IdentityError
)

func (c Category) String() string {
	switch c {
	case None:
		return "none"
	case Timeout:
		return "timeout"
	case Kick:
		return "kick"
	case Ban:
		return "ban"
	case ServerShutdown:
		return "server_shutdown"
	case Error:
		return "error"
	case IdentityError:
		return "identity_error"
	default:
		return fmt.Sprintf("category(%d)", int(c))
	}
}
