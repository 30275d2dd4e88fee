package transporttest

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/ggoodman/voicebot/identity"
)

// CorruptPrefix marks key material the fake provider refuses to decode.
const CorruptPrefix = "corrupt"

// Identities is a fake identity.Provider. The security level of an identity
// equals its offset, so Improve simply stores the target.
type Identities struct {
	mu sync.Mutex

	// GenerateLevel is the level of freshly generated identities.
	GenerateLevel int
	// ImproveErr, when set, fails every Improve.
	ImproveErr error

	generated int
	improved  []int
}

func (p *Identities) Generate(ctx context.Context) (*identity.Identity, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.generated++
	return &identity.Identity{
		PrivateKey: fmt.Sprintf("generated-%d", p.generated),
		Offset:     uint64(p.GenerateLevel),
	}, nil
}

func (p *Identities) LoadDynamic(key string, offset uint64) (*identity.Identity, error) {
	if strings.HasPrefix(key, CorruptPrefix) {
		return nil, fmt.Errorf("%w: cannot decode %q", identity.ErrCorrupt, key)
	}
	return &identity.Identity{PrivateKey: key, Offset: offset}, nil
}

func (p *Identities) SecurityLevel(id *identity.Identity) int {
	return int(id.Offset)
}

func (p *Identities) Improve(ctx context.Context, id *identity.Identity, level int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ImproveErr != nil {
		return p.ImproveErr
	}
	p.improved = append(p.improved, level)
	id.Offset = uint64(level)
	return nil
}

func (p *Identities) Generated() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.generated
}

// Improved lists the target levels of every Improve call.
func (p *Identities) Improved() []int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]int(nil), p.improved...)
}

var _ identity.Provider = (*Identities)(nil)
