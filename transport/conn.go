package transport

import "context"

// View is the live membership book a transport maintains from server
// notifications. By the time an event is delivered the view already
// reflects it.
type View interface {
	// Self returns the bot's own entry. ok is false while not connected.
	Self() (c Client, ok bool)
	// Clients lists every client currently visible.
	Clients() []Client
}

// Conn is the session capability of one bot.
type Conn interface {
	View

	// Connect performs the handshake. A returned error means the attempt
	// failed and no session exists.
	Connect(ctx context.Context, d Descriptor) error
	// Disconnect leaves the server with quitMessage and releases the
	// session. It is safe to call when not connected.
	Disconnect(ctx context.Context, quitMessage string) error
	// Events delivers session notifications in order. The channel is never
	// closed while the Conn is in use.
	Events() <-chan Event

	Commands
}

// Commands are the round trips the bot issues on a live session.
type Commands interface {
	SendPrivateMessage(ctx context.Context, to ClientID, message string) error
	SendChannelMessage(ctx context.Context, message string) error
	SendServerMessage(ctx context.Context, message string) error

	KickFromServer(ctx context.Context, ids []ClientID, reason string) error
	KickFromChannel(ctx context.Context, ids []ClientID, reason string) error

	ChangeDescription(ctx context.Context, id ClientID, description string) error
	ChangeBadges(ctx context.Context, badges string) error
	ChangeName(ctx context.Context, name string) error
	UploadAvatar(ctx context.Context, image []byte) error
	DeleteAvatar(ctx context.Context) error
	Move(ctx context.Context, id ClientID, channel ChannelID, password string) error
	SetChannelCommander(ctx context.Context, enabled bool) error

	ClientList(ctx context.Context) ([]Client, error)
	ClientInfo(ctx context.Context, id ClientID) (ClientInfo, error)
	ClientDBInfo(ctx context.Context, id ClientDBID) (ClientDBInfo, error)
	ClientDBIDFromUID(ctx context.Context, uid UID) (ClientDBID, error)

	ServerGroupsByClientDBID(ctx context.Context, id ClientDBID) ([]ServerGroup, error)
	PrivilegeKeyUse(ctx context.Context, key string) error
	ServerGroupAdd(ctx context.Context, name string) (ServerGroupID, error)
	ServerGroupAddClient(ctx context.Context, group ServerGroupID, client ClientDBID) error
	ServerGroupDelClient(ctx context.Context, group ServerGroupID, client ClientDBID) error
	ServerGroupAddPerm(ctx context.Context, group ServerGroupID, grant PermissionGrant) error
}
