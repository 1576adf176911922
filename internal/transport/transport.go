// Package transport defines the contract both network backends satisfy, so
// the session controller never branches on which one is underneath.
package transport

import (
	"context"

	"shayeb/internal/engine"
	"shayeb/internal/protocol"
)

// ConnectionChange reports a player's connectivity toggling.
type ConnectionChange struct {
	PlayerID  string
	Connected bool
}

// Handlers are the callbacks a transport feeds inbound traffic into. Any nil
// handler is skipped.
type Handlers struct {
	OnState            func(engine.GameState)
	OnAction           func(protocol.Action)
	OnGameEvent        func(protocol.GameEvent)
	OnConnectionChange func(ConnectionChange)
}

func (h Handlers) HandleState(s engine.GameState) {
	if h.OnState != nil {
		h.OnState(s)
	}
}

func (h Handlers) HandleAction(a protocol.Action) {
	if h.OnAction != nil {
		h.OnAction(a)
	}
}

func (h Handlers) HandleGameEvent(ev protocol.GameEvent) {
	if h.OnGameEvent != nil {
		h.OnGameEvent(ev)
	}
}

func (h Handlers) HandleConnectionChange(cc ConnectionChange) {
	if h.OnConnectionChange != nil {
		h.OnConnectionChange(cc)
	}
}

// Transport is the capability set the controller relies on. A transport acts
// in exactly one role per session: StartHosting or ConnectToHost, never both.
//
// The target argument of ConnectToHost is backend-specific: "host:port" for
// LAN, a relay room id for online.
type Transport interface {
	StartHosting(ctx context.Context, self engine.Player, info protocol.RoomInfo, h Handlers) error
	ConnectToHost(ctx context.Context, target string, self engine.Player, h Handlers) error

	// Host side. Fire-and-forget, at-least-once.
	BroadcastState(s engine.GameState) error
	BroadcastEvent(ev protocol.GameEvent) error

	// Client side.
	SendAction(a protocol.Action) error

	// Close releases sockets and stops timers before returning.
	Close() error
}
