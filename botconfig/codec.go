package botconfig

import (
	"bytes"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/joeshaw/envdecode"
	"gopkg.in/yaml.v3"
)

type Format int

const (
	FormatTOML Format = iota
	FormatYAML
)

// FormatFor picks the format from a file extension.
func FormatFor(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		return FormatTOML, nil
	case ".yaml", ".yml":
		return FormatYAML, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnsupportedFormat, filepath.Ext(path))
	}
}

// Decode parses data on top of Default, so absent keys keep their defaults.
func Decode(data []byte, f Format) (Config, error) {
	cfg := Default()
	switch f {
	case FormatTOML:
		if _, err := toml.Decode(string(data), &cfg); err != nil {
			return Config{}, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
		}
	case FormatYAML:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
		}
	default:
		return Config{}, ErrUnsupportedFormat
	}
	return cfg, nil
}

func Encode(cfg Config, f Format) ([]byte, error) {
	switch f {
	case FormatTOML:
		var buf bytes.Buffer
		if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
			return nil, fmt.Errorf("encode toml: %w", err)
		}
		return buf.Bytes(), nil
	case FormatYAML:
		out, err := yaml.Marshal(cfg)
		if err != nil {
			return nil, fmt.Errorf("encode yaml: %w", err)
		}
		return out, nil
	default:
		return nil, ErrUnsupportedFormat
	}
}

// envOverrides are the settings a deployment may force without touching the
// stored configuration.
type envOverrides struct {
	Address        string `env:"VOICEBOT_ADDRESS"`
	Name           string `env:"VOICEBOT_NAME"`
	ServerPassword string `env:"VOICEBOT_SERVER_PASSWORD"`
	IdentityLevel  string `env:"VOICEBOT_IDENTITY_LEVEL"`
}

// ApplyEnv overlays the VOICEBOT_* environment variables onto cfg.
func ApplyEnv(cfg *Config) error {
	var o envOverrides
	if err := envdecode.Decode(&o); err != nil {
		if errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
			return nil
		}
		return fmt.Errorf("decode environment: %w", err)
	}
	if o.Address != "" {
		cfg.Address = o.Address
	}
	if o.Name != "" {
		cfg.Name = o.Name
	}
	if o.ServerPassword != "" {
		cfg.ServerPassword = o.ServerPassword
	}
	if o.IdentityLevel != "" {
		lvl, err := strconv.Atoi(o.IdentityLevel)
		if err != nil {
			return fmt.Errorf("%w: VOICEBOT_IDENTITY_LEVEL: %w", ErrInvalidConfig, err)
		}
		cfg.Identity.Level = lvl
	}
	return nil
}
