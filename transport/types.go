package transport

import "time"

type (
	// ClientID identifies a connected client for the lifetime of its
	// connection.
	ClientID uint16
	// ClientDBID is the persistent database id of a client.
	ClientDBID uint64
	// UID is the unique identity fingerprint of a client.
	UID string
	// ChannelID identifies a channel. Zero is never a real channel.
	ChannelID uint64
	// ServerGroupID identifies a server group.
	ServerGroupID uint64
)

// Client is one entry of the live membership view.
type Client struct {
	ID           ClientID
	DBID         ClientDBID
	UID          UID
	Name         string
	Channel      ChannelID
	ServerGroups []ServerGroupID
}

// ClientInfo is the detailed answer of a single-client lookup.
type ClientInfo struct {
	Client
	Description      string
	Badges           string
	ChannelCommander bool
	IdleTime         time.Duration
}

// ClientDBInfo is the persistent record of a client.
type ClientDBInfo struct {
	DBID             ClientDBID
	UID              UID
	Name             string
	Description      string
	Created          time.Time
	LastConnected    time.Time
	TotalConnections int
}

// ServerGroup is a server-side role.
type ServerGroup struct {
	ID   ServerGroupID
	Name string
}

// PermissionGrant is one permission value granted to a server group.
type PermissionGrant struct {
	Name   string
	Value  int
	Negate bool
	Skip   bool
}

// TextTarget is where a text message was sent.
type TextTarget int

const (
	TextPrivate TextTarget = iota + 1
	TextChannel
	TextServer
)
