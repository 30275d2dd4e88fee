package reconnect

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// RepeatLast, as the final configured entry, makes a sequence reuse its last
// delay forever instead of running out.
const RepeatLast = "repeat last"

var (
	ErrInvalidDelay      = errors.New("reconnect: invalid delay")
	ErrMisplacedRepeat   = errors.New("reconnect: \"repeat last\" must be the final entry")
	ErrRepeatWithoutBase = errors.New("reconnect: \"repeat last\" needs a preceding delay")
)

// Sequence is a per-category monotonic list of delays indexed by attempt.
type Sequence struct {
	Delays     []time.Duration
	RepeatLast bool
}

// Delay returns the delay for the zero-based attempt. ok is false once the
// sequence is exhausted.
func (s Sequence) Delay(attempt int) (d time.Duration, ok bool) {
	if attempt < 0 || len(s.Delays) == 0 {
		return 0, false
	}
	if attempt < len(s.Delays) {
		return s.Delays[attempt], true
	}
	if s.RepeatLast {
		return s.Delays[len(s.Delays)-1], true
	}
	return 0, false
}

// Len is the number of distinct configured steps.
func (s Sequence) Len() int { return len(s.Delays) }

// Seq builds a sequence from literal durations.
func Seq(delays ...time.Duration) Sequence {
	return Sequence{Delays: delays}
}

// ParseSequence parses configuration values such as
// ["1s", "2s", "1m", "repeat last"].
func ParseSequence(values []string) (Sequence, error) {
	var seq Sequence
	for i, raw := range values {
		v := strings.TrimSpace(raw)
		if strings.EqualFold(v, RepeatLast) {
			if i != len(values)-1 {
				return Sequence{}, ErrMisplacedRepeat
			}
			if len(seq.Delays) == 0 {
				return Sequence{}, ErrRepeatWithoutBase
			}
			seq.RepeatLast = true
			continue
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return Sequence{}, fmt.Errorf("%w: entry %d %q: %v", ErrInvalidDelay, i, raw, err)
		}
		if d < 0 {
			return Sequence{}, fmt.Errorf("%w: entry %d %q is negative", ErrInvalidDelay, i, raw)
		}
		seq.Delays = append(seq.Delays, d)
	}
	return seq, nil
}

// Strings renders the sequence back into configuration form.
func (s Sequence) Strings() []string {
	out := make([]string, 0, len(s.Delays)+1)
	for _, d := range s.Delays {
		out = append(out, d.String())
	}
	if s.RepeatLast {
		out = append(out, RepeatLast)
	}
	return out
}
