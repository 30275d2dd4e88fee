// Package botconfig holds the settings of one bot and the narrow Accessor a
// session uses to read and persist them. Configuration lives in a TOML or
// YAML file (FileAccessor) or in a storage backend (StoreAccessor); selected
// fields can be overridden from the environment.
package botconfig

import (
	"errors"
	"fmt"

	"github.com/ggoodman/voicebot/identity"
	"github.com/ggoodman/voicebot/reconnect"
	"github.com/ggoodman/voicebot/transport"
)

var (
	ErrInvalidConfig     = errors.New("botconfig: invalid configuration")
	ErrUnsupportedFormat = errors.New("botconfig: unsupported format")
)

// Config is the persisted state of one bot.
type Config struct {
	Address         string `toml:"address" yaml:"address" json:"address"`
	Name            string `toml:"name" yaml:"name" json:"name"`
	ServerPassword  string `toml:"server_password,omitempty" yaml:"server_password,omitempty" json:"server_password,omitempty"`
	DefaultChannel  string `toml:"channel,omitempty" yaml:"channel,omitempty" json:"channel,omitempty"`
	ChannelPassword string `toml:"channel_password,omitempty" yaml:"channel_password,omitempty" json:"channel_password,omitempty"`

	Identity  IdentityConfig  `toml:"identity" yaml:"identity" json:"identity"`
	Version   VersionConfig   `toml:"version" yaml:"version" json:"version"`
	Reconnect ReconnectConfig `toml:"reconnect" yaml:"reconnect" json:"reconnect"`

	// BotGroupID is the server group created for the bot; zero until the
	// first permission setup.
	BotGroupID uint64 `toml:"bot_group_id" yaml:"bot_group_id" json:"bot_group_id"`
}

type IdentityConfig struct {
	PrivateKey string `toml:"key" yaml:"key" json:"key"`
	Offset     uint64 `toml:"offset" yaml:"offset" json:"offset"`
	// Level is the minimum security level in [0,160], or -1 to raise the
	// level only when the server asks for it.
	Level int `toml:"level" yaml:"level" json:"level"`
}

// VersionConfig overrides the client version the bot announces.
type VersionConfig struct {
	Build    string `toml:"build,omitempty" yaml:"build,omitempty" json:"build,omitempty"`
	Platform string `toml:"platform,omitempty" yaml:"platform,omitempty" json:"platform,omitempty"`
	Sign     string `toml:"sign,omitempty" yaml:"sign,omitempty" json:"sign,omitempty"`
}

// VersionSign assembles the configured version.
func (v VersionConfig) VersionSign() transport.VersionSign {
	return transport.VersionSign{Build: v.Build, Platform: v.Platform, Sign: v.Sign}
}

// ReconnectConfig lists the delays per disconnect category, e.g.
// ["1s", "5s", "1m", "repeat last"]. An empty list never reconnects.
type ReconnectConfig struct {
	OnTimeout  []string `toml:"on_timeout" yaml:"on_timeout" json:"on_timeout"`
	OnKick     []string `toml:"on_kick" yaml:"on_kick" json:"on_kick"`
	OnBan      []string `toml:"on_ban" yaml:"on_ban" json:"on_ban"`
	OnShutdown []string `toml:"on_shutdown" yaml:"on_shutdown" json:"on_shutdown"`
	OnError    []string `toml:"on_error" yaml:"on_error" json:"on_error"`
}

// Default is the configuration of a bot that was never set up.
func Default() Config {
	rc := reconnect.DefaultConfig()
	return Config{
		Name:     "VoiceBot",
		Identity: IdentityConfig{Level: identity.AutoAdapt},
		Reconnect: ReconnectConfig{
			OnTimeout:  rc.OnTimeout.Strings(),
			OnKick:     rc.OnKick.Strings(),
			OnBan:      rc.OnBan.Strings(),
			OnShutdown: rc.OnShutdown.Strings(),
			OnError:    rc.OnError.Strings(),
		},
	}
}

// Policy parses the reconnect delays.
func (r ReconnectConfig) Policy() (reconnect.Config, error) {
	var out reconnect.Config
	fields := []struct {
		name string
		in   []string
		out  *reconnect.Sequence
	}{
		{"on_timeout", r.OnTimeout, &out.OnTimeout},
		{"on_kick", r.OnKick, &out.OnKick},
		{"on_ban", r.OnBan, &out.OnBan},
		{"on_shutdown", r.OnShutdown, &out.OnShutdown},
		{"on_error", r.OnError, &out.OnError},
	}
	for _, f := range fields {
		seq, err := reconnect.ParseSequence(f.in)
		if err != nil {
			return reconnect.Config{}, fmt.Errorf("%w: reconnect.%s: %w", ErrInvalidConfig, f.name, err)
		}
		*f.out = seq
	}
	return out, nil
}

// Validate checks what a session cannot work around. An out-of-range
// identity level is not an error: the session warns and ignores it.
func (c Config) Validate() error {
	if c.Address == "" {
		return fmt.Errorf("%w: address is required", ErrInvalidConfig)
	}
	if _, err := c.Reconnect.Policy(); err != nil {
		return err
	}
	return nil
}
