package session

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/ggoodman/voicebot/botconfig"
	"github.com/ggoodman/voicebot/transport"
)

// BotGroupName is the name of the server group created for the bot.
const BotGroupName = "ServerBot"

const (
	powerMax      = 75
	avatarMaxSize = 500000
)

// BotPermissions is granted to the bot's server group by SetupRights.
var BotPermissions = []transport.PermissionGrant{
	{Name: "i_client_whisper_power", Value: powerMax},
	{Name: "i_client_private_textmessage_power", Value: powerMax},
	{Name: "b_client_server_textmessage_send", Value: 1},
	{Name: "b_client_channel_textmessage_send", Value: 1},

	{Name: "b_client_modify_dbproperties", Value: 1},
	{Name: "b_client_modify_description", Value: 1},
	{Name: "b_client_info_view", Value: 1},
	{Name: "b_virtualserver_client_list", Value: 1},

	{Name: "i_channel_subscribe_power", Value: powerMax},
	{Name: "b_virtualserver_client_dbinfo", Value: 1},
	{Name: "i_client_talk_power", Value: powerMax},
	{Name: "b_client_modify_own_description", Value: 1},

	// Keeps the group alive while the bot is offline.
	{Name: "b_group_is_permanent", Value: 1},
	{Name: "i_client_kick_from_channel_power", Value: powerMax},
	{Name: "i_client_kick_from_server_power", Value: powerMax},
	// A timed out bot reconnects before the server dropped its old client.
	{Name: "i_client_max_clones_uid", Value: -1},

	{Name: "b_client_ignore_antiflood", Value: 1},
	{Name: "b_channel_join_ignore_password", Value: 1},
	{Name: "b_channel_join_permanent", Value: 1},
	{Name: "b_channel_join_semi_permanent", Value: 1},

	{Name: "b_channel_join_temporary", Value: 1},
	{Name: "b_channel_join_ignore_maxclients", Value: 1},
	{Name: "i_channel_join_power", Value: powerMax},
	{Name: "b_client_permissionoverview_view", Value: 1},

	{Name: "i_client_max_avatar_filesize", Value: avatarMaxSize},
	{Name: "b_client_use_channel_commander", Value: 1},
	{Name: "b_client_ignore_bans", Value: 1},
	{Name: "b_client_ignore_sticky", Value: 1},

	{Name: "i_client_max_channel_subscriptions", Value: -1},
	{Name: "b_virtualserver_info_view", Value: 1},
	{Name: "b_virtualserver_channel_list", Value: 1},
	{Name: "b_virtualserver_servergroup_list", Value: 1},

	{Name: "i_client_poke_power", Value: powerMax},
}

// GrantReport summarizes a SetupRights run. Individual failures do not fail
// the run.
type GrantReport struct {
	Group   transport.ServerGroupID
	Created bool
	Granted []string
	// Failed maps a permission name to the error granting it.
	Failed map[string]error
	// Left lists the groups the bot was removed from again.
	Left []transport.ServerGroupID
}

// SetupRights gives the bot its own server group with BotPermissions. When
// key is set it is redeemed first, typically for an admin group; the bot then
// leaves every group the key added once its own group is set up. Groups the
// bot held before are never touched.
//
// Only a missing own client or a failed key redemption abort the setup.
func (m *Manager) SetupRights(ctx context.Context, key string) (*GrantReport, error) {
	ctx = m.logCtx(ctx)
	self, ok := m.conn.Self()
	if !ok {
		m.log.ErrorContext(ctx, "session.setup.no_self")
		return nil, fmt.Errorf("%w: own client unknown", ErrSetupFailed)
	}

	before, err := m.GetClientServerGroups(ctx, self.DBID)
	groupsOK := err == nil
	if !groupsOK {
		m.log.WarnContext(ctx, "session.setup.groups_unknown", slog.String("err", err.Error()))
	}

	if key != "" {
		if err := m.conn.PrivilegeKeyUse(ctx, key); err != nil {
			m.log.ErrorContext(ctx, "session.setup.key_fail", slog.String("err", err.Error()))
			return nil, fmt.Errorf("%w: %w", ErrSetupFailed, wrap("use privilege key", err, nil))
		}
	}

	var diff []transport.ServerGroupID
	if groupsOK {
		if after, err := m.GetClientServerGroups(ctx, self.DBID); err == nil {
			for _, g := range after {
				if !slices.Contains(before, g) {
					diff = append(diff, g)
				}
			}
		}
	}

	report := &GrantReport{Failed: make(map[string]error)}
	report.Group = transport.ServerGroupID(m.cfg.Snapshot().BotGroupID)
	if report.Group == 0 {
		report.Group, report.Created = m.createBotGroup(ctx, self.DBID)
	}

	if report.Group == 0 {
		m.log.ErrorContext(ctx, "session.setup.no_group")
		for _, p := range BotPermissions {
			report.Failed[p.Name] = fmt.Errorf("%w: no bot group", ErrSetupFailed)
		}
	} else {
		for _, p := range BotPermissions {
			if err := m.conn.ServerGroupAddPerm(ctx, report.Group, p); err != nil {
				m.log.ErrorContext(ctx, "session.setup.grant_fail", slog.String("permission", p.Name), slog.String("err", err.Error()))
				report.Failed[p.Name] = wrap("grant "+p.Name, err, nil)
				continue
			}
			report.Granted = append(report.Granted, p.Name)
		}
	}

	for _, g := range diff {
		if err := m.conn.ServerGroupDelClient(ctx, g, self.DBID); err != nil {
			m.log.ErrorContext(ctx, "session.setup.leave_fail", slog.Uint64("group", uint64(g)), slog.String("err", err.Error()))
			continue
		}
		report.Left = append(report.Left, g)
	}

	m.log.InfoContext(ctx, "session.setup.done",
		slog.Uint64("group", uint64(report.Group)),
		slog.Int("granted", len(report.Granted)),
		slog.Int("failed", len(report.Failed)))
	return report, nil
}

// createBotGroup creates the bot group, records it in the configuration,
// and joins it. A failed join is logged; the group is still used.
func (m *Manager) createBotGroup(ctx context.Context, self transport.ClientDBID) (transport.ServerGroupID, bool) {
	group, err := m.conn.ServerGroupAdd(ctx, BotGroupName)
	if err != nil {
		m.log.ErrorContext(ctx, "session.setup.create_group_fail", slog.String("err", err.Error()))
		return 0, false
	}

	m.cfg.Update(func(c *botconfig.Config) { c.BotGroupID = uint64(group) })
	if err := m.cfg.SaveWhenExists(ctx); err != nil {
		m.log.WarnContext(ctx, "session.config.save_fail", slog.String("err", err.Error()))
	}

	if err := m.conn.ServerGroupAddClient(ctx, group, self); err != nil {
		m.log.ErrorContext(ctx, "session.setup.join_group_fail", slog.String("err", err.Error()))
	}
	return group, true
}
