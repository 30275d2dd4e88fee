package reconnect

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func longConfig() Config {
	long := Sequence{Delays: []time.Duration{time.Second}, RepeatLast: true}
	return Config{OnTimeout: long, OnKick: long, OnBan: long, OnShutdown: long, OnError: long}
}

func TestNoneAlwaysStops(t *testing.T) {
	p := NewPolicy(DefaultConfig())
	st := State{Attempt: 3, Last: Timeout, HasLast: true}
	d, next := p.Next(None, st)
	require.True(t, d.Stop)
	require.Equal(t, st, next, "None leaves the rolling state untouched")
}

func TestTimeoutSequenceThenStop(t *testing.T) {
	p := NewPolicy(Config{OnTimeout: Seq(5*time.Second, 15*time.Second, 45*time.Second)})

	var st State
	want := []time.Duration{5 * time.Second, 15 * time.Second, 45 * time.Second}
	for i, w := range want {
		var d Decision
		d, st = p.Next(Timeout, st)
		require.False(t, d.Stop, "attempt %d", i)
		require.Equal(t, w, d.Delay, "attempt %d", i)
		require.Equal(t, i, d.Attempt)
	}
	d, st := p.Next(Timeout, st)
	require.True(t, d.Stop)
	require.Equal(t, 3, d.Attempt)
	require.Equal(t, 4, st.Attempt)
}

func TestRepeatLastNeverExhausts(t *testing.T) {
	p := NewPolicy(Config{OnError: Sequence{Delays: []time.Duration{time.Second, time.Minute}, RepeatLast: true}})
	var st State
	var d Decision
	for i := 0; i < 50; i++ {
		d, st = p.Next(Error, st)
		require.False(t, d.Stop)
	}
	require.Equal(t, time.Minute, d.Delay)
}

func TestEmptySequenceStopsImmediately(t *testing.T) {
	p := NewPolicy(DefaultConfig())
	d, _ := p.Next(Kick, State{})
	require.True(t, d.Stop)
	d, _ = p.Next(Ban, State{})
	require.True(t, d.Stop)
}

func TestIdentityErrorNeverRetries(t *testing.T) {
	p := NewPolicy(longConfig())
	d, st := p.Next(IdentityError, State{Attempt: 2, Last: Timeout, HasLast: true})
	require.True(t, d.Stop)
	require.Equal(t, IdentityError, d.Category)
	require.Equal(t, IdentityError, st.Last)
}

func TestCategoryChangeResetsCounter(t *testing.T) {
	p := NewPolicy(longConfig())
	var st State
	_, st = p.Next(Timeout, st)
	_, st = p.Next(Timeout, st)
	require.Equal(t, 2, st.Attempt)

	d, st := p.Next(Kick, st)
	require.Equal(t, 0, d.Attempt)
	require.Equal(t, Kick, st.Last)
	require.Equal(t, 1, st.Attempt)
}

func TestTimeoutAfterShutdownIsCoalesced(t *testing.T) {
	p := NewPolicy(Config{OnShutdown: Seq(time.Second, 2*time.Second, 3*time.Second), OnTimeout: Seq(time.Hour)})
	var st State
	d, st := p.Next(ServerShutdown, st)
	require.Equal(t, time.Second, d.Delay)

	d, st = p.Next(Timeout, st)
	require.Equal(t, ServerShutdown, d.Category)
	require.Equal(t, 1, d.Attempt, "counter continues across the coalesced timeout")
	require.Equal(t, 2*time.Second, d.Delay)
	require.Equal(t, ServerShutdown, st.Last)

	d, _ = p.Next(Timeout, st)
	require.Equal(t, ServerShutdown, d.Category)
	require.Equal(t, 3*time.Second, d.Delay)
}

func TestShutdownTimeoutOscillationIsOneLevelDeep(t *testing.T) {
	p := NewPolicy(longConfig())
	var st State
	_, st = p.Next(ServerShutdown, st)
	_, st = p.Next(Timeout, st)
	require.Equal(t, 2, st.Attempt)

	// Shutdown again: same recorded category, the counter keeps running.
	d, st := p.Next(ServerShutdown, st)
	require.Equal(t, 2, d.Attempt)

	// Kick breaks the chain; a later Timeout is a fresh Timeout.
	_, st = p.Next(Kick, st)
	d, _ = p.Next(Timeout, st)
	require.Equal(t, Timeout, d.Category)
	require.Equal(t, 0, d.Attempt)
}

// For any sequence of categories the counter restarts exactly when two
// consecutive recorded categories differ, except Timeout after ServerShutdown.
func TestCounterResetProperty(t *testing.T) {
	p := NewPolicy(longConfig())
	cats := []Category{Timeout, Kick, Ban, ServerShutdown, Error}
	rng := rand.New(rand.NewSource(42))

	for run := 0; run < 200; run++ {
		var st State
		var modelLast Category
		modelHas := false
		modelCount := 0
		for step := 0; step < 30; step++ {
			c := cats[rng.Intn(len(cats))]

			eff := c
			if c == Timeout && modelHas && modelLast == ServerShutdown {
				eff = ServerShutdown
			} else {
				if !modelHas || modelLast != c {
					modelCount = 0
				}
				modelLast = c
				modelHas = true
			}

			var d Decision
			d, st = p.Next(c, st)
			require.Equal(t, eff, d.Category)
			require.Equal(t, modelCount, d.Attempt, "run %d step %d", run, step)
			modelCount++
		}
	}
}

func TestParseSequence(t *testing.T) {
	seq, err := ParseSequence([]string{"1s", " 2m ", "repeat last"})
	require.NoError(t, err)
	require.Equal(t, []time.Duration{time.Second, 2 * time.Minute}, seq.Delays)
	require.True(t, seq.RepeatLast)
	require.Equal(t, []string{"1s", "2m0s", RepeatLast}, seq.Strings())

	_, err = ParseSequence([]string{"repeat last"})
	require.ErrorIs(t, err, ErrRepeatWithoutBase)

	_, err = ParseSequence([]string{"1s", "repeat last", "2s"})
	require.ErrorIs(t, err, ErrMisplacedRepeat)

	_, err = ParseSequence([]string{"soon"})
	require.ErrorIs(t, err, ErrInvalidDelay)

	_, err = ParseSequence([]string{"-1s"})
	require.ErrorIs(t, err, ErrInvalidDelay)

	seq, err = ParseSequence(nil)
	require.NoError(t, err)
	_, ok := seq.Delay(0)
	require.False(t, ok)
}

func TestCategoryString(t *testing.T) {
	require.Equal(t, "server_shutdown", ServerShutdown.String())
	require.Equal(t, "identity_error", IdentityError.String())
	require.Equal(t, "category(99)", Category(99).String())
}
