// Package presence derives whether the bot is alone in its channel from the
// membership events of its session.
package presence

import (
	"slices"
	"sync"

	"github.com/ggoodman/voicebot/transport"
)

// State is a point-in-time copy of the tracker. Occupants never contains the
// bot itself and is sorted by id.
type State struct {
	Alone     bool
	Occupants []transport.ClientID
}

// Tracker owns the alone flag of one session. It is written from the
// session's run loop and may be read from anywhere.
type Tracker struct {
	mu        sync.RWMutex
	alone     bool
	occupants map[transport.ClientID]struct{}
}

func New() *Tracker {
	return &Tracker{alone: true, occupants: make(map[transport.ClientID]struct{})}
}

// Reset forgets every occupant and marks the bot alone without reporting a
// change.
func (t *Tracker) Reset() {
	t.mu.Lock()
	t.alone = true
	clear(t.occupants)
	t.mu.Unlock()
}

// Observe handles one membership event about client touching channels (the
// event's target first, then its source). It recomputes only when the event
// can matter: client is a tracked occupant or one of channels is the bot's
// channel. changed is true only on a transition of the alone flag.
func (t *Tracker) Observe(view transport.View, client transport.ClientID, channels ...transport.ChannelID) (changed, alone bool) {
	if !t.relevant(view, client, channels) {
		return false, t.Alone()
	}
	return t.Recompute(view)
}

func (t *Tracker) relevant(view transport.View, client transport.ClientID, channels []transport.ChannelID) bool {
	t.mu.RLock()
	_, tracked := t.occupants[client]
	t.mu.RUnlock()
	if tracked {
		return true
	}

	self, ok := view.Self()
	if !ok {
		return false
	}
	if client == self.ID {
		return true
	}
	for _, ch := range channels {
		if ch != 0 && ch == self.Channel {
			return true
		}
	}
	return false
}

// Recompute rebuilds the occupant set from view unconditionally. Without a
// live own client there is nothing to compare against and the state is kept.
func (t *Tracker) Recompute(view transport.View) (changed, alone bool) {
	self, ok := view.Self()
	if !ok {
		return false, t.Alone()
	}
	next := make(map[transport.ClientID]struct{})
	for _, c := range view.Clients() {
		if c.ID != self.ID && c.Channel == self.Channel {
			next[c.ID] = struct{}{}
		}
	}
	alone = len(next) == 0

	t.mu.Lock()
	defer t.mu.Unlock()
	t.occupants = next
	changed = alone != t.alone
	t.alone = alone
	return changed, alone
}

func (t *Tracker) Alone() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.alone
}

func (t *Tracker) State() State {
	t.mu.RLock()
	defer t.mu.RUnlock()
	st := State{Alone: t.alone, Occupants: make([]transport.ClientID, 0, len(t.occupants))}
	for id := range t.occupants {
		st.Occupants = append(st.Occupants, id)
	}
	slices.Sort(st.Occupants)
	return st
}
