package reconnect

import "time"

// Config holds one backoff sequence per category. None has no sequence: it
// always stops.
type Config struct {
	OnTimeout  Sequence
	OnKick     Sequence
	OnBan      Sequence
	OnShutdown Sequence
	OnError    Sequence
}

// DefaultConfig retries timeouts, errors, and server shutdowns with a
// growing delay that settles at its last step, and never retries kicks or
// bans.
func DefaultConfig() Config {
	return Config{
		OnTimeout: Sequence{
			Delays:     []time.Duration{time.Second, 2 * time.Second, 5 * time.Second, 10 * time.Second, 30 * time.Second, time.Minute, 5 * time.Minute},
			RepeatLast: true,
		},
		OnError: Sequence{
			Delays:     []time.Duration{time.Second, 2 * time.Second, 5 * time.Second, 10 * time.Second, 30 * time.Second, time.Minute, 5 * time.Minute},
			RepeatLast: true,
		},
		OnShutdown: Sequence{
			Delays:     []time.Duration{5 * time.Second, 10 * time.Second, 30 * time.Second, time.Minute, 5 * time.Minute},
			RepeatLast: true,
		},
	}
}

// Sequence returns the backoff sequence for c.
func (c Config) Sequence(cat Category) (Sequence, bool) {
	switch cat {
	case Timeout:
		return c.OnTimeout, true
	case Kick:
		return c.OnKick, true
	case Ban:
		return c.OnBan, true
	case ServerShutdown:
		return c.OnShutdown, true
	case Error:
		return c.OnError, true
	default:
		return Sequence{}, false
	}
}

// State is the rolling per-category attempt counter carried between
// disconnects. The zero value is the reset state.
type State struct {
	Attempt int
	Last    Category
	HasLast bool
}

// Decision is the outcome of one policy evaluation.
type Decision struct {
	// Category is the effective category after coalescing.
	Category Category
	// Attempt is the zero-based index the delay was looked up at.
	Attempt int
	Delay   time.Duration
	// Stop means no further attempt should be made.
	Stop bool
}

// Policy maps a failure category and the rolling state to a delay or a stop
// decision. It holds no mutable state.
type Policy struct {
	cfg Config
}

func NewPolicy(cfg Config) Policy {
	return Policy{cfg: cfg}
}

// Next evaluates the policy for one disconnect and returns the updated state.
//
// A Timeout directly following a ServerShutdown is treated as the same
// ServerShutdown and continues its counter. Any other change of category
// restarts the counter at zero. The coalescing looks one category back only.
func (p Policy) Next(cat Category, st State) (Decision, State) {
	if cat == None {
		return Decision{Category: None, Stop: true}, st
	}

	if cat == Timeout && st.HasLast && st.Last == ServerShutdown {
		cat = ServerShutdown
	} else {
		if !st.HasLast || st.Last != cat {
			st.Attempt = 0
		}
		st.Last = cat
		st.HasLast = true
	}

	seq, ok := p.cfg.Sequence(cat)
	attempt := st.Attempt
	st.Attempt++
	if !ok {
		return Decision{Category: cat, Attempt: attempt, Stop: true}, st
	}
	delay, ok := seq.Delay(attempt)
	if !ok {
		return Decision{Category: cat, Attempt: attempt, Stop: true}, st
	}
	return Decision{Category: cat, Attempt: attempt, Delay: delay}, st
}
