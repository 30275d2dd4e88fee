package presence

import (
	"testing"

	"github.com/ggoodman/voicebot/transport"
	"github.com/stretchr/testify/require"
)

const (
	botID     transport.ClientID  = 1
	lobby     transport.ChannelID = 10
	music     transport.ChannelID = 20
	elsewhere transport.ChannelID = 30
)

// book is a minimal transport.View.
type book struct {
	self    transport.ClientID
	online  bool
	clients map[transport.ClientID]transport.Client
}

func newBook() *book {
	b := &book{self: botID, online: true, clients: map[transport.ClientID]transport.Client{}}
	b.put(botID, music)
	return b
}

func (b *book) put(id transport.ClientID, ch transport.ChannelID) {
	b.clients[id] = transport.Client{ID: id, Channel: ch}
}

func (b *book) Self() (transport.Client, bool) {
	if !b.online {
		return transport.Client{}, false
	}
	return b.clients[b.self], true
}

func (b *book) Clients() []transport.Client {
	out := make([]transport.Client, 0, len(b.clients))
	for _, c := range b.clients {
		out = append(out, c)
	}
	return out
}

func TestSecondOccupantFlipsAloneOnce(t *testing.T) {
	v := newBook()
	tr := New()
	require.True(t, tr.Alone())

	v.put(2, music)
	changed, alone := tr.Observe(v, 2, music)
	require.True(t, changed)
	require.False(t, alone)

	v.put(3, music)
	changed, alone = tr.Observe(v, 3, music)
	require.False(t, changed, "a third occupant is not a transition")
	require.False(t, alone)
	require.Equal(t, []transport.ClientID{2, 3}, tr.State().Occupants)
}

func TestLastOccupantLeavingFlipsBack(t *testing.T) {
	v := newBook()
	tr := New()
	v.put(2, music)
	v.put(3, music)
	tr.Recompute(v)
	require.False(t, tr.Alone())

	delete(v.clients, 2)
	changed, _ := tr.Observe(v, 2, 0, music)
	require.False(t, changed)

	v.put(3, lobby)
	changed, alone := tr.Observe(v, 3, lobby, music)
	require.True(t, changed)
	require.True(t, alone)
	require.Empty(t, tr.State().Occupants)
}

func TestUnrelatedChannelNeverFires(t *testing.T) {
	v := newBook()
	tr := New()

	v.put(4, lobby)
	changed, _ := tr.Observe(v, 4, lobby)
	require.False(t, changed)

	v.put(4, elsewhere)
	changed, _ = tr.Observe(v, 4, elsewhere, lobby)
	require.False(t, changed)

	delete(v.clients, 4)
	changed, _ = tr.Observe(v, 4, 0, elsewhere)
	require.False(t, changed)
	require.True(t, tr.Alone())
}

func TestBotMovingIntoOccupiedChannel(t *testing.T) {
	v := newBook()
	tr := New()
	v.put(5, lobby)
	tr.Recompute(v)
	require.True(t, tr.Alone())

	v.put(botID, lobby)
	changed, alone := tr.Observe(v, botID, lobby, music)
	require.True(t, changed)
	require.False(t, alone)
	require.NotContains(t, tr.State().Occupants, botID)
}

func TestRecomputeMatchesObserve(t *testing.T) {
	// Always recomputing must agree with the gated path.
	v := newBook()
	gated, full := New(), New()
	steps := []struct {
		id     transport.ClientID
		ch     transport.ChannelID
		source transport.ChannelID
	}{
		{2, music, 0}, {3, lobby, 0}, {2, lobby, music}, {3, music, lobby}, {3, elsewhere, music},
	}
	for _, s := range steps {
		v.put(s.id, s.ch)
		gc, ga := gated.Observe(v, s.id, s.ch, s.source)
		fc, fa := full.Recompute(v)
		require.Equal(t, fc, gc)
		require.Equal(t, fa, ga)
	}
}

func TestOfflineViewKeepsState(t *testing.T) {
	v := newBook()
	v.put(2, music)
	tr := New()
	tr.Recompute(v)
	require.False(t, tr.Alone())

	v.online = false
	changed, alone := tr.Recompute(v)
	require.False(t, changed)
	require.False(t, alone)
	require.Equal(t, []transport.ClientID{2}, tr.State().Occupants)

	tr.Reset()
	require.True(t, tr.Alone())
}
