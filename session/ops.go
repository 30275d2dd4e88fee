package session

import (
	"context"
	"log/slog"
	"strings"

	"github.com/ggoodman/voicebot/transport"
)

// The operations below are the surface the command layer calls. Each is a
// round trip on the caller's goroutine; failures come back as
// *TransportError.

const badgesPrefix = "overwolf=0:badges="

func (m *Manager) SendMessage(ctx context.Context, to transport.ClientID, message string) error {
	return wrap("send private message", m.conn.SendPrivateMessage(ctx, to, message), nil)
}

func (m *Manager) SendChannelMessage(ctx context.Context, message string) error {
	return wrap("send channel message", m.conn.SendChannelMessage(ctx, message), nil)
}

func (m *Manager) SendServerMessage(ctx context.Context, message string) error {
	return wrap("send server message", m.conn.SendServerMessage(ctx, message), nil)
}

func (m *Manager) KickClientFromServer(ctx context.Context, reason string, ids ...transport.ClientID) error {
	return wrap("kick from server", m.conn.KickFromServer(ctx, ids, reason), nil)
}

func (m *Manager) KickClientFromChannel(ctx context.Context, reason string, ids ...transport.ClientID) error {
	return wrap("kick from channel", m.conn.KickFromChannel(ctx, ids, reason), nil)
}

// ChangeDescription sets the bot's own description.
func (m *Manager) ChangeDescription(ctx context.Context, description string) error {
	self, ok := m.conn.Self()
	if !ok {
		return wrap("change description", transport.ErrNotConnected, nil)
	}
	return wrap("change description", m.conn.ChangeDescription(ctx, self.ID, description), nil)
}

// ChangeBadges sets the badge string, adding the badge prefix when the
// caller passed a bare badge list.
func (m *Manager) ChangeBadges(ctx context.Context, badges string) error {
	if !strings.HasPrefix(badges, "overwolf=") && !strings.HasPrefix(badges, "badges=") {
		badges = badgesPrefix + badges
	}
	return wrap("change badges", m.conn.ChangeBadges(ctx, badges), nil)
}

func (m *Manager) ChangeName(ctx context.Context, name string) error {
	return wrap("change name", m.conn.ChangeName(ctx, name), onCode(transport.CodeParameterInvalidSize, ErrInvalidName))
}

func (m *Manager) UploadAvatar(ctx context.Context, image []byte) error {
	return wrap("upload avatar", m.conn.UploadAvatar(ctx, image), onCode(transport.CodePermissionInvalidSize, ErrFileTooBig))
}

func (m *Manager) DeleteAvatar(ctx context.Context) error {
	return wrap("delete avatar", m.conn.DeleteAvatar(ctx), nil)
}

// MoveTo moves the bot into channel.
func (m *Manager) MoveTo(ctx context.Context, channel transport.ChannelID, password string) error {
	self, ok := m.conn.Self()
	if !ok {
		return wrap("move", transport.ErrNotConnected, always(ErrCannotMove))
	}
	return wrap("move", m.conn.Move(ctx, self.ID, channel, password), always(ErrCannotMove))
}

func (m *Manager) SetChannelCommander(ctx context.Context, enabled bool) error {
	return wrap("set channel commander", m.conn.SetChannelCommander(ctx, enabled), always(ErrCannotSetCommander))
}

func (m *Manager) IsChannelCommander(ctx context.Context) (bool, error) {
	self, ok := m.conn.Self()
	if !ok {
		return false, wrap("client info", transport.ErrNotConnected, nil)
	}
	info, err := m.GetClientInfoByID(ctx, self.ID)
	if err != nil {
		return false, err
	}
	return info.ChannelCommander, nil
}

// InvalidateClientBuffer marks the client snapshot outdated.
func (m *Manager) InvalidateClientBuffer() { m.clients.Invalidate() }

// RefreshClientBuffer reloads the client snapshot if it is outdated or
// force is set.
func (m *Manager) RefreshClientBuffer(ctx context.Context, force bool) ([]transport.Client, error) {
	clients, err := m.clients.Refresh(ctx, force)
	if err != nil {
		m.log.DebugContext(m.logCtx(ctx), "session.clientlist.fail", slog.String("err", err.Error()))
		return nil, wrap("client list", err, nil)
	}
	return clients, nil
}

func (m *Manager) findClient(ctx context.Context, match func(transport.Client) bool) (transport.Client, error) {
	clients, err := m.RefreshClientBuffer(ctx, false)
	if err != nil {
		return transport.Client{}, err
	}
	for _, c := range clients {
		if match(c) {
			return c, nil
		}
	}
	return transport.Client{}, ErrClientNotFound
}

// GetCachedClientByID looks the client up in the snapshot only.
func (m *Manager) GetCachedClientByID(ctx context.Context, id transport.ClientID) (transport.Client, error) {
	return m.findClient(ctx, func(c transport.Client) bool { return c.ID == id })
}

// GetFallbackedClientByID tries the snapshot first and falls back to a
// direct lookup, which is added to the snapshot.
func (m *Manager) GetFallbackedClientByID(ctx context.Context, id transport.ClientID) (transport.Client, error) {
	if c, err := m.GetCachedClientByID(ctx, id); err == nil {
		return c, nil
	}
	m.log.WarnContext(m.logCtx(ctx), "session.clientlist.slow_lookup",
		slog.Int("client", int(id)),
		slog.String("hint", "missing or wrong permission configuration for the client list"))

	info, err := m.conn.ClientInfo(ctx, id)
	if err != nil {
		return transport.Client{}, wrap("client info", err, always(ErrClientNotFound))
	}
	c := info.Client
	c.ID = id
	m.clients.Update(func(cs []transport.Client) []transport.Client { return append(cs, c) })
	return c, nil
}

// GetClientByName picks the best name match: exact, then case-insensitive,
// then case-insensitive prefix, then substring.
func (m *Manager) GetClientByName(ctx context.Context, name string) (transport.Client, error) {
	clients, err := m.RefreshClientBuffer(ctx, false)
	if err != nil {
		return transport.Client{}, err
	}
	if c, ok := matchName(clients, name); ok {
		return c, nil
	}
	return transport.Client{}, ErrClientNotFound
}

func matchName(clients []transport.Client, name string) (transport.Client, bool) {
	lower := strings.ToLower(name)
	tiers := []func(string) bool{
		func(n string) bool { return n == name },
		func(n string) bool { return strings.ToLower(n) == lower },
		func(n string) bool { return strings.HasPrefix(strings.ToLower(n), lower) },
		func(n string) bool { return strings.Contains(strings.ToLower(n), lower) },
	}
	for _, match := range tiers {
		for _, c := range clients {
			if match(c.Name) {
				return c, true
			}
		}
	}
	return transport.Client{}, false
}

func (m *Manager) GetClientServerGroups(ctx context.Context, id transport.ClientDBID) ([]transport.ServerGroupID, error) {
	groups, err := m.conn.ServerGroupsByClientDBID(ctx, id)
	if err != nil {
		return nil, wrap("server groups", err, always(ErrClientNotFound))
	}
	out := make([]transport.ServerGroupID, len(groups))
	for i, g := range groups {
		out[i] = g.ID
	}
	return out, nil
}

// GetDBClientByDBID serves database lookups from a short-lived cache.
func (m *Manager) GetDBClientByDBID(ctx context.Context, id transport.ClientDBID) (transport.ClientDBInfo, error) {
	if info, ok := m.dbInfo.Get(id); ok {
		return info, nil
	}
	info, err := m.conn.ClientDBInfo(ctx, id)
	if err != nil {
		return transport.ClientDBInfo{}, wrap("client db info", err, always(ErrClientNotFound))
	}
	m.dbInfo.Set(id, info)
	return info, nil
}

func (m *Manager) GetClientInfoByID(ctx context.Context, id transport.ClientID) (transport.ClientInfo, error) {
	info, err := m.conn.ClientInfo(ctx, id)
	if err != nil {
		return transport.ClientInfo{}, wrap("client info", err, always(ErrClientNotFound))
	}
	return info, nil
}

// GetClientDBIDByUID resolves a unique id through the LRU cache.
func (m *Manager) GetClientDBIDByUID(ctx context.Context, uid transport.UID) (transport.ClientDBID, error) {
	if id, ok := m.dbIDs.Get(uid); ok {
		return id, nil
	}
	id, err := m.conn.ClientDBIDFromUID(ctx, uid)
	if err != nil {
		return 0, wrap("client db id", err, always(ErrClientNotFound))
	}
	m.dbIDs.Set(uid, id)
	return id, nil
}
