package session

import (
	"context"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"shayeb/internal/config"
	"shayeb/internal/deck"
	"shayeb/internal/engine"
	"shayeb/internal/protocol"
	"shayeb/internal/transport"
)

// fakeTransport records outbound traffic and lets tests inject inbound
// messages through the captured handlers.
type fakeTransport struct {
	mu       sync.Mutex
	handlers transport.Handlers
	hosting  bool
	client   bool
	closed   bool
	states   []engine.GameState
	events   []protocol.GameEvent
	actions  []protocol.Action
}

func (f *fakeTransport) StartHosting(_ context.Context, _ engine.Player, _ protocol.RoomInfo, h transport.Handlers) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hosting = true
	f.handlers = h
	return nil
}

func (f *fakeTransport) ConnectToHost(_ context.Context, _ string, _ engine.Player, h transport.Handlers) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.client = true
	f.handlers = h
	return nil
}

func (f *fakeTransport) BroadcastState(s engine.GameState) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.states = append(f.states, s)
	return nil
}

func (f *fakeTransport) BroadcastEvent(ev protocol.GameEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
	return nil
}

func (f *fakeTransport) SendAction(a protocol.Action) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.actions = append(f.actions, a)
	return nil
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeTransport) sentActions() []protocol.Action {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]protocol.Action, len(f.actions))
	copy(out, f.actions)
	return out
}

func (f *fakeTransport) broadcastStates() []engine.GameState {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]engine.GameState, len(f.states))
	copy(out, f.states)
	return out
}

func (f *fakeTransport) broadcastEvents() []protocol.GameEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]protocol.GameEvent, len(f.events))
	copy(out, f.events)
	return out
}

// inject feeds an inbound message the way a transport read loop would.
func (f *fakeTransport) inject(fn func(transport.Handlers)) {
	f.mu.Lock()
	h := f.handlers
	f.mu.Unlock()
	fn(h)
}

// chanListener funnels listener callbacks into channels for assertions.
type chanListener struct {
	states chan engine.GameState
	events chan protocol.GameEvent
}

func newChanListener() *chanListener {
	return &chanListener{
		states: make(chan engine.GameState, 64),
		events: make(chan protocol.GameEvent, 64),
	}
}

func (l *chanListener) OnStateUpdate(s engine.GameState)  { l.states <- s }
func (l *chanListener) OnGameEvent(ev protocol.GameEvent) { l.events <- ev }

func (l *chanListener) nextState(t *testing.T) engine.GameState {
	t.Helper()
	select {
	case s := <-l.states:
		return s
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for state update")
		panic("unreachable")
	}
}

func (l *chanListener) nextEvent(t *testing.T) protocol.GameEvent {
	t.Helper()
	select {
	case ev := <-l.events:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for game event")
		panic("unreachable")
	}
}

func (l *chanListener) expectNoEvent(t *testing.T) {
	t.Helper()
	select {
	case ev := <-l.events:
		t.Fatalf("unexpected event %+v", ev)
	case <-time.After(150 * time.Millisecond):
	}
}

func newController(t *testing.T, tr transport.Transport, id engine.Player, l Listener) *Controller {
	t.Helper()
	cfg := config.Default()
	cfg.ResyncInterval = 40 * time.Millisecond
	return New(zap.NewNop().Sugar(), cfg, rand.New(rand.NewSource(11)), tr, StaticIdentity(id), l)
}

func TestCreateGameHostsAndAnnounces(t *testing.T) {
	tr := &fakeTransport{}
	l := newChanListener()
	c := newController(t, tr, engine.Player{ID: "h", Name: "hana"}, l)

	require.NoError(t, c.CreateGame())

	s := l.nextState(t)
	assert.Equal(t, engine.PhaseLobby, s.Phase)
	assert.Len(t, s.RoomCode, 4)
	require.Len(t, s.Players, 1)
	assert.True(t, s.Players[0].IsHost)

	ev := l.nextEvent(t)
	assert.Equal(t, protocol.EventPlayerJoined, ev.Type)

	// The snapshot and the join notice also went out over the wire.
	require.NotEmpty(t, tr.broadcastStates())
	require.NotEmpty(t, tr.broadcastEvents())

	assert.ErrorIs(t, c.CreateGame(), ErrSessionActive)
	require.NoError(t, c.LeaveGame())
}

func TestRemoteJoinAdmitsPlayer(t *testing.T) {
	tr := &fakeTransport{}
	l := newChanListener()
	c := newController(t, tr, engine.Player{ID: "h", Name: "hana"}, l)
	require.NoError(t, c.CreateGame())
	l.nextState(t)
	l.nextEvent(t)

	guest := engine.Player{ID: "g", Name: "gali"}
	tr.inject(func(h transport.Handlers) {
		h.HandleAction(protocol.Action{Type: protocol.ActionJoin, Player: &guest})
	})

	s := l.nextState(t)
	require.Len(t, s.Players, 2)
	assert.Equal(t, "g", s.Players[1].ID)
	assert.True(t, s.Players[1].IsConnected)

	ev := l.nextEvent(t)
	assert.Equal(t, protocol.EventPlayerJoined, ev.Type)
	assert.Equal(t, "g", ev.Data["playerId"])

	// A duplicate join is a reconnect: state resent, no second admit.
	before := len(tr.broadcastStates())
	tr.inject(func(h transport.Handlers) {
		h.HandleAction(protocol.Action{Type: protocol.ActionJoin, Player: &guest})
	})
	require.Eventually(t, func() bool {
		return len(tr.broadcastStates()) > before
	}, time.Second, 10*time.Millisecond)
	assert.Len(t, c.State().Players, 2)
	require.NoError(t, c.LeaveGame())
}

func TestHostDrawFlowEmitsDiscreteEvents(t *testing.T) {
	tr := &fakeTransport{}
	l := newChanListener()
	c := newController(t, tr, engine.Player{ID: "h", Name: "hana"}, l)
	require.NoError(t, c.CreateGame())
	l.nextState(t)
	l.nextEvent(t)

	for _, p := range []engine.Player{{ID: "b", Name: "badr"}, {ID: "c", Name: "cham"}} {
		guest := p
		tr.inject(func(h transport.Handlers) {
			h.HandleAction(protocol.Action{Type: protocol.ActionJoin, Player: &guest})
		})
		l.nextState(t)
		l.nextEvent(t)
	}

	require.NoError(t, c.StartGame())
	s := l.nextState(t)
	assert.Equal(t, engine.PhasePlaying, s.Phase)
	assert.Equal(t, protocol.EventGameStarted, l.nextEvent(t).Type)

	// Host is first in rotation; draw from the next seated player.
	target := s.Players[1].ID
	require.NoError(t, c.DrawCard(target, 0))

	ns := l.nextState(t)
	totalBefore := countCards(s)
	totalAfter := countCards(ns)
	assert.True(t, totalAfter == totalBefore || totalAfter == totalBefore-2,
		"draw either moves a card or removes a pair")

	ev := l.nextEvent(t)
	assert.Equal(t, protocol.EventCardStolen, ev.Type)
	assert.Equal(t, "h", ev.Data["drawerId"])
	assert.Equal(t, target, ev.Data["targetId"])
	assert.NotEmpty(t, ev.Data["cardId"])

	// Out-of-turn draws are rejected without touching state or the wire.
	statesBefore := len(tr.broadcastStates())
	err := c.DrawCard(target, 0)
	assert.ErrorIs(t, err, engine.ErrNotYourTurn)
	assert.Len(t, tr.broadcastStates(), statesBefore)
	require.NoError(t, c.LeaveGame())
}

func TestHostPlaysRoundToEnd(t *testing.T) {
	tr := &fakeTransport{}
	l := newChanListener()
	c := newController(t, tr, engine.Player{ID: "h", Name: "hana"}, l)
	require.NoError(t, c.CreateGame())
	guest := engine.Player{ID: "g", Name: "gali"}
	tr.inject(func(h transport.Handlers) {
		h.HandleAction(protocol.Action{Type: protocol.ActionJoin, Player: &guest})
	})
	require.Eventually(t, func() bool { return len(c.State().Players) == 2 }, time.Second, 10*time.Millisecond)
	require.NoError(t, c.StartGame())

	// Alternate draws until the round closes. The controller re-validates
	// every action, so driving both seats from here is legal.
	for i := 0; i < 300; i++ {
		s := c.State()
		if s.Phase == engine.PhaseRoundEnd {
			break
		}
		cur, ok := s.CurrentPlayer()
		require.True(t, ok)
		var target engine.Player
		for _, p := range s.Players {
			if p.ID != cur.ID && p.Status == engine.StatusPlaying {
				target = p
			}
		}
		require.NotEmpty(t, target.ID)
		tr.inject(func(h transport.Handlers) {
			h.HandleAction(protocol.Action{Type: protocol.ActionDraw, DrawerID: cur.ID, TargetID: target.ID, CardIndex: 0})
		})
		require.Eventually(t, func() bool {
			ns := c.State()
			return ns.LastActionTime.After(s.LastActionTime) || ns.Phase == engine.PhaseRoundEnd
		}, time.Second, time.Millisecond)
	}

	final := c.State()
	require.Equal(t, engine.PhaseRoundEnd, final.Phase)

	var shayeb, finished *engine.Player
	for i := range final.Players {
		switch final.Players[i].Status {
		case engine.StatusShayeb:
			shayeb = &final.Players[i]
		case engine.StatusFinished:
			finished = &final.Players[i]
		}
	}
	require.NotNil(t, shayeb)
	require.NotNil(t, finished)
	assert.Equal(t, -50, shayeb.Score)
	assert.Equal(t, 100, finished.Score)

	// Drain listener events and confirm the round-end notice names the loser.
	var sawRoundEnd bool
	for len(l.events) > 0 {
		ev := l.nextEvent(t)
		if ev.Type == protocol.EventRoundEnded {
			sawRoundEnd = true
			assert.Equal(t, shayeb.ID, ev.Data["shayebId"])
		}
	}
	require.True(t, sawRoundEnd)

	require.NoError(t, c.StartNewRound())
	next := c.State()
	assert.Equal(t, engine.PhasePlaying, next.Phase)
	assert.Equal(t, 2, next.RoundNumber)
	require.NoError(t, c.LeaveGame())
}

func TestClientForwardsIntentsAndSyncs(t *testing.T) {
	tr := &fakeTransport{}
	l := newChanListener()
	c := newController(t, tr, engine.Player{ID: "g", Name: "gali"}, l)

	require.NoError(t, c.JoinGame("10.0.0.5:9999"))
	actions := tr.sentActions()
	require.NotEmpty(t, actions)
	assert.Equal(t, protocol.ActionRequestState, actions[0].Type)

	// Intents go to the host untouched; the local replica stays empty. The
	// resync ticker may interleave extra state requests, so filter them out.
	require.NoError(t, c.DrawCard("h", 3))
	require.NoError(t, c.ShuffleHand())
	require.NoError(t, c.StartGame())
	var intents []protocol.Action
	for _, a := range tr.sentActions() {
		if a.Type != protocol.ActionRequestState {
			intents = append(intents, a)
		}
	}
	require.Len(t, intents, 3)
	assert.Equal(t, protocol.ActionDraw, intents[0].Type)
	assert.Equal(t, 3, intents[0].CardIndex)
	assert.Equal(t, protocol.ActionShuffle, intents[1].Type)
	assert.Equal(t, protocol.ActionStartGame, intents[2].Type)
	assert.Empty(t, c.State().Players)
	assert.Empty(t, tr.broadcastStates())

	// A sync replaces the replica wholesale, and twice is the same as once.
	host := engine.Player{ID: "h", Name: "hana"}
	remote := engine.NewGame("room", "WXYZ", host)
	remote.Players[0].Hand = []deck.Card{{Suit: deck.SuitHearts, Rank: deck.RankAce}}
	tr.inject(func(h transport.Handlers) { h.HandleState(remote) })
	first := l.nextState(t)
	tr.inject(func(h transport.Handlers) { h.HandleState(remote) })
	second := l.nextState(t)
	assert.Equal(t, first, second)
	assert.Equal(t, "WXYZ", c.State().RoomCode)
	require.NoError(t, c.LeaveGame())
}

func TestClientResyncsUntilRoomCodeObserved(t *testing.T) {
	tr := &fakeTransport{}
	l := newChanListener()
	c := newController(t, tr, engine.Player{ID: "g", Name: "gali"}, l)
	require.NoError(t, c.JoinGame("10.0.0.5:9999"))

	// With no snapshot yet the state request repeats on the ticker.
	require.Eventually(t, func() bool {
		return len(tr.sentActions()) >= 3
	}, 2*time.Second, 10*time.Millisecond)
	for _, a := range tr.sentActions() {
		assert.Equal(t, protocol.ActionRequestState, a.Type)
	}

	// Once a coded snapshot lands, the retries stop.
	remote := engine.NewGame("room", "WXYZ", engine.Player{ID: "h", Name: "hana"})
	tr.inject(func(h transport.Handlers) { h.HandleState(remote) })
	l.nextState(t)

	settled := len(tr.sentActions())
	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, settled, len(tr.sentActions()))
	require.NoError(t, c.LeaveGame())
}

func TestConnectionChangeDeduplication(t *testing.T) {
	tr := &fakeTransport{}
	l := newChanListener()
	c := newController(t, tr, engine.Player{ID: "h", Name: "hana"}, l)
	require.NoError(t, c.CreateGame())
	l.nextState(t)
	l.nextEvent(t)

	guest := engine.Player{ID: "g", Name: "gali"}
	tr.inject(func(h transport.Handlers) {
		h.HandleAction(protocol.Action{Type: protocol.ActionJoin, Player: &guest})
	})
	l.nextState(t)
	l.nextEvent(t)

	// Mid-game, a disconnect only flips the flag; the seat stays reserved.
	require.NoError(t, c.StartGame())
	l.nextState(t)
	l.nextEvent(t)

	// Repeated connected=true signals are idempotent.
	tr.inject(func(h transport.Handlers) {
		h.HandleConnectionChange(transport.ConnectionChange{PlayerID: "g", Connected: true})
		h.HandleConnectionChange(transport.ConnectionChange{PlayerID: "g", Connected: true})
	})
	l.expectNoEvent(t)

	// A real toggle flips the flag and announces once.
	tr.inject(func(h transport.Handlers) {
		h.HandleConnectionChange(transport.ConnectionChange{PlayerID: "g", Connected: false})
	})
	s := l.nextState(t)
	_, idx, ok := s.Player("g")
	require.True(t, ok)
	assert.False(t, s.Players[idx].IsConnected)

	ev := l.nextEvent(t)
	assert.Equal(t, protocol.EventConnectionChanged, ev.Type)
	assert.Equal(t, false, ev.Data["connected"])
	l.expectNoEvent(t)
	require.NoError(t, c.LeaveGame())
}

func TestLobbyLeaverVacatesSeat(t *testing.T) {
	tr := &fakeTransport{}
	l := newChanListener()
	c := newController(t, tr, engine.Player{ID: "h", Name: "hana"}, l)
	require.NoError(t, c.CreateGame())
	l.nextState(t)
	l.nextEvent(t)

	guest := engine.Player{ID: "g", Name: "gali"}
	tr.inject(func(h transport.Handlers) {
		h.HandleAction(protocol.Action{Type: protocol.ActionJoin, Player: &guest})
	})
	l.nextState(t)
	l.nextEvent(t)

	tr.inject(func(h transport.Handlers) {
		h.HandleConnectionChange(transport.ConnectionChange{PlayerID: "g", Connected: false})
	})

	s := l.nextState(t)
	require.Len(t, s.Players, 1)
	assert.Equal(t, "h", s.Players[0].ID)

	ev := l.nextEvent(t)
	assert.Equal(t, protocol.EventPlayerLeft, ev.Type)
	assert.Equal(t, "g", ev.Data["playerId"])
	require.NoError(t, c.LeaveGame())
}

func TestLeaveClosesTransportAndController(t *testing.T) {
	tr := &fakeTransport{}
	c := newController(t, tr, engine.Player{ID: "h", Name: "hana"}, nil)
	require.NoError(t, c.CreateGame())
	require.NoError(t, c.LeaveGame())

	tr.mu.Lock()
	closed := tr.closed
	tr.mu.Unlock()
	assert.True(t, closed)

	assert.ErrorIs(t, c.DrawCard("x", 0), ErrClosed)
}

func countCards(s engine.GameState) int {
	n := 0
	for _, p := range s.Players {
		n += len(p.Hand)
	}
	return n
}
