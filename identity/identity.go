// Package identity holds the bot's cryptographic identity and the procedures
// that load, create, and strengthen it. The cryptography itself lives behind
// Provider.
package identity

import (
	"context"
	"errors"
	"fmt"
)

const (
	// MinLevel and MaxLevel bound a configured security level.
	MinLevel = 0
	MaxLevel = 160
	// AutoAdapt as the configured level raises the identity only when the
	// server refuses it.
	AutoAdapt = -1
)

var (
	// ErrCorrupt means persisted key material could not be decoded. The
	// operator has to fix or clear it; it is never retried.
	ErrCorrupt = errors.New("identity: corrupted identity")
	// ErrLevelOutOfRange is reported for levels outside [MinLevel, MaxLevel].
	ErrLevelOutOfRange = errors.New("identity: security level out of range")
)

// Identity is the credential a session authenticates with. Offset is the
// proof-of-work counter behind Level.
type Identity struct {
	PrivateKey string
	Offset     uint64
	Level      int
}

// Provider is the crypto capability.
type Provider interface {
	Generate(ctx context.Context) (*Identity, error)
	// LoadDynamic decodes persisted key material; it returns an error
	// wrapping ErrCorrupt when the key cannot be decoded.
	LoadDynamic(key string, offset uint64) (*Identity, error)
	SecurityLevel(id *Identity) int
	// Improve searches offsets until id reaches level. It is expensive and
	// mutates id in place.
	Improve(ctx context.Context, id *Identity, level int) error
}

// Resolve loads the persisted identity or, when key is empty, generates a
// fresh one. generated reports which happened.
func Resolve(ctx context.Context, p Provider, key string, offset uint64) (id *Identity, generated bool, err error) {
	if key == "" {
		id, err = p.Generate(ctx)
		if err != nil {
			return nil, false, fmt.Errorf("generate identity: %w", err)
		}
		id.Level = p.SecurityLevel(id)
		return id, true, nil
	}

	id, err = p.LoadDynamic(key, offset)
	if err != nil {
		if errors.Is(err, ErrCorrupt) {
			return nil, false, err
		}
		return nil, false, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	id.Level = p.SecurityLevel(id)
	return id, false, nil
}

// Escalate raises id to level if it is below it. improved reports whether
// any work was done.
func Escalate(ctx context.Context, p Provider, id *Identity, level int) (improved bool, err error) {
	if !ValidLevel(level) {
		return false, fmt.Errorf("%w: %d", ErrLevelOutOfRange, level)
	}
	if p.SecurityLevel(id) >= level {
		return false, nil
	}
	if err := p.Improve(ctx, id, level); err != nil {
		return false, fmt.Errorf("improve identity to level %d: %w", level, err)
	}
	id.Level = p.SecurityLevel(id)
	return true, nil
}

func ValidLevel(level int) bool {
	return level >= MinLevel && level <= MaxLevel
}
