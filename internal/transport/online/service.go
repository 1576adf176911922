// Package online is the relay backend: peers hold one connection to a
// room-scoped publish/subscribe service with presence, and the host is the
// only writer of authoritative state.
package online

import (
	"context"

	"shayeb/internal/engine"
	"shayeb/internal/protocol"
)

// ServiceEvent is one inbound item from the room service: either a
// platform-native presence notification or a peer-published message.
type ServiceEvent struct {
	// Presence marks a join/leave notification rather than a published
	// message.
	Presence bool
	Joined   bool
	SenderID string
	// Player carries the presence-join payload when the platform has one.
	Player *engine.Player

	// Message is the published envelope: a marker-tagged player action, a
	// game event, or a state snapshot.
	Message protocol.Message
}

// RoomService is the only surface the core needs from an online backend.
// Any pub/sub-with-presence service satisfying it is interchangeable.
type RoomService interface {
	// Initialize bootstraps the session with the backend.
	Initialize(ctx context.Context) error
	// CreateRoom registers a room and returns its id.
	CreateRoom(ctx context.Context, info protocol.RoomInfo) (string, error)
	// JoinRoom subscribes self to a room's traffic and presence.
	JoinRoom(ctx context.Context, roomID string, self engine.Player) error
	// LeaveRoom unsubscribes and releases the connection.
	LeaveRoom(ctx context.Context) error
	// BroadcastEvent publishes an envelope to every subscriber.
	BroadcastEvent(ctx context.Context, msg protocol.Message) error
	// UpdateState replaces the room's retained snapshot. Host only.
	UpdateState(ctx context.Context, s engine.GameState) error

	// ConnectionState streams our own connectivity transitions.
	ConnectionState() <-chan bool
	// Events streams inbound traffic until the room is left.
	Events() <-chan ServiceEvent
}
