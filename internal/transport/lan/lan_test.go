package lan

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"shayeb/internal/config"
	"shayeb/internal/engine"
	"shayeb/internal/protocol"
	"shayeb/internal/transport"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.HeartbeatInterval = 50 * time.Millisecond
	cfg.HeartbeatTimeout = 300 * time.Millisecond
	cfg.ReconnectMax = 2
	cfg.ReconnectBaseDelay = 20 * time.Millisecond
	cfg.DiscoveryPort = freeUDPPort(t)
	return cfg
}

func freeUDPPort(t *testing.T) int {
	t.Helper()
	pc, err := net.ListenPacket("udp4", "127.0.0.1:0")
	require.NoError(t, err)
	port := pc.LocalAddr().(*net.UDPAddr).Port
	require.NoError(t, pc.Close())
	return port
}

type capture struct {
	states  chan engine.GameState
	actions chan protocol.Action
	events  chan protocol.GameEvent
	changes chan transport.ConnectionChange
}

func newCapture() *capture {
	return &capture{
		states:  make(chan engine.GameState, 16),
		actions: make(chan protocol.Action, 16),
		events:  make(chan protocol.GameEvent, 16),
		changes: make(chan transport.ConnectionChange, 16),
	}
}

func (c *capture) handlers() transport.Handlers {
	return transport.Handlers{
		OnState:            func(s engine.GameState) { c.states <- s },
		OnAction:           func(a protocol.Action) { c.actions <- a },
		OnGameEvent:        func(ev protocol.GameEvent) { c.events <- ev },
		OnConnectionChange: func(cc transport.ConnectionChange) { c.changes <- cc },
	}
}

func recv[T any](t *testing.T, ch chan T, what string) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(3 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
		panic("unreachable")
	}
}

func hostPlayer() engine.Player {
	return engine.Player{ID: "host-1", Name: "host", Status: engine.StatusPlaying, IsHost: true}
}

func roomInfo() protocol.RoomInfo {
	return protocol.RoomInfo{RoomID: "room-1", RoomCode: "ABCD", HostName: "host", MaxPlayers: engine.MaxPlayers}
}

func TestHostClientFlow(t *testing.T) {
	cfg := testConfig(t)
	log := zap.NewNop().Sugar()

	hostCap := newCapture()
	hostTr := New(log, cfg)
	require.NoError(t, hostTr.StartHosting(context.Background(), hostPlayer(), roomInfo(), hostCap.handlers()))
	defer hostTr.Close()

	clientCap := newCapture()
	clientTr := New(log, cfg)
	self := engine.Player{ID: "client-1", Name: "guest", Status: engine.StatusPlaying}
	require.NoError(t, clientTr.ConnectToHost(context.Background(), hostTr.Addr(), self, clientCap.handlers()))
	defer clientTr.Close()

	// Accepting the socket surfaces a join action plus a connectivity notice.
	join := recv(t, hostCap.actions, "join action")
	assert.Equal(t, protocol.ActionJoin, join.Type)
	require.NotNil(t, join.Player)
	assert.Equal(t, "client-1", join.Player.ID)

	cc := recv(t, hostCap.changes, "connection change")
	assert.Equal(t, transport.ConnectionChange{PlayerID: "client-1", Connected: true}, cc)

	// Client intent reaches the host.
	require.NoError(t, clientTr.SendAction(protocol.Action{
		Type: protocol.ActionDraw, DrawerID: "client-1", TargetID: "host-1", CardIndex: -1,
	}))
	act := recv(t, hostCap.actions, "draw action")
	assert.Equal(t, protocol.ActionDraw, act.Type)
	assert.Equal(t, "client-1", act.DrawerID)

	// Host snapshot reaches the client.
	state := engine.NewGame("room-1", "ABCD", hostPlayer())
	require.NoError(t, hostTr.BroadcastState(state))
	got := recv(t, clientCap.states, "state sync")
	assert.Equal(t, "ABCD", got.RoomCode)

	// Discrete events reach the client too.
	require.NoError(t, hostTr.BroadcastEvent(protocol.GameEvent{Type: protocol.EventCardStolen, Message: "stolen"}))
	ev := recv(t, clientCap.events, "game event")
	assert.Equal(t, protocol.EventCardStolen, ev.Type)
}

func TestSendActionRequiresClientRole(t *testing.T) {
	cfg := testConfig(t)
	tr := New(zap.NewNop().Sugar(), cfg)
	require.NoError(t, tr.StartHosting(context.Background(), hostPlayer(), roomInfo(), transport.Handlers{}))
	defer tr.Close()

	assert.ErrorIs(t, tr.SendAction(protocol.Action{Type: protocol.ActionShuffle}), ErrNotConnected)

	idle := New(zap.NewNop().Sugar(), cfg)
	assert.ErrorIs(t, idle.BroadcastState(engine.GameState{}), ErrNotHosting)
}

func TestJoinRejectedWhenRoomFull(t *testing.T) {
	cfg := testConfig(t)
	log := zap.NewNop().Sugar()

	info := roomInfo()
	info.MaxPlayers = 2 // host plus one guest

	hostTr := New(log, cfg)
	require.NoError(t, hostTr.StartHosting(context.Background(), hostPlayer(), info, transport.Handlers{}))
	defer hostTr.Close()

	first := New(log, cfg)
	require.NoError(t, first.ConnectToHost(context.Background(), hostTr.Addr(),
		engine.Player{ID: "c1", Name: "one"}, transport.Handlers{}))
	defer first.Close()

	second := New(log, cfg)
	err := second.ConnectToHost(context.Background(), hostTr.Addr(),
		engine.Player{ID: "c2", Name: "two"}, transport.Handlers{})
	assert.ErrorIs(t, err, ErrJoinRejected)
}

func TestSilentClientIsDroppedByHeartbeatMonitor(t *testing.T) {
	cfg := testConfig(t)
	hostCap := newCapture()
	hostTr := New(zap.NewNop().Sugar(), cfg)
	require.NoError(t, hostTr.StartHosting(context.Background(), hostPlayer(), roomInfo(), hostCap.handlers()))
	defer hostTr.Close()

	// Handshake by hand, then go silent: no heartbeats at all.
	conn, err := net.Dial("tcp", hostTr.Addr())
	require.NoError(t, err)
	defer conn.Close()

	req, err := protocol.New(protocol.KindJoinRequest, "mute", protocol.JoinRequest{
		Player: engine.Player{ID: "mute", Name: "mute"},
	})
	require.NoError(t, err)
	require.NoError(t, protocol.WriteFrame(conn, req))

	cc := recv(t, hostCap.changes, "join connection change")
	require.True(t, cc.Connected)

	deadline := time.After(3 * time.Second)
	for {
		select {
		case cc := <-hostCap.changes:
			if cc.PlayerID == "mute" && !cc.Connected {
				return
			}
		case <-deadline:
			t.Fatal("silent client was never dropped")
		}
	}
}

func TestReconnectGivesUpAfterCap(t *testing.T) {
	cfg := testConfig(t)
	log := zap.NewNop().Sugar()

	hostTr := New(log, cfg)
	require.NoError(t, hostTr.StartHosting(context.Background(), hostPlayer(), roomInfo(), transport.Handlers{}))

	clientCap := newCapture()
	clientTr := New(log, cfg)
	self := engine.Player{ID: "c1", Name: "one"}
	require.NoError(t, clientTr.ConnectToHost(context.Background(), hostTr.Addr(), self, clientCap.handlers()))
	defer clientTr.Close()

	// Kill the host; every reconnect attempt now gets connection refused.
	require.NoError(t, hostTr.Close())

	deadline := time.After(5 * time.Second)
	for {
		select {
		case cc := <-clientCap.changes:
			if cc.PlayerID == "c1" && !cc.Connected {
				return // permanent disconnect reported
			}
		case <-deadline:
			t.Fatal("permanent disconnect never reported")
		}
	}
}

func TestDiscovery(t *testing.T) {
	cfg := testConfig(t)
	hostTr := New(zap.NewNop().Sugar(), cfg)
	require.NoError(t, hostTr.StartHosting(context.Background(), hostPlayer(), roomInfo(), transport.Handlers{}))
	defer hostTr.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	rooms, err := Discover(ctx, cfg.DiscoveryPort)
	require.NoError(t, err)
	require.Len(t, rooms, 1)
	assert.Equal(t, "ABCD", rooms[0].RoomCode)
	assert.Equal(t, "room-1", rooms[0].RoomID)
	assert.NotZero(t, rooms[0].Port)
	assert.NotEmpty(t, rooms[0].HostAddress)
}
