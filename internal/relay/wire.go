// Package relay is a room-scoped publish/subscribe service with presence,
// the online backend peers connect to. The game core only touches it through
// the online transport's RoomService contract, so any service with the same
// shape could stand in.
package relay

import "encoding/json"

// Op tags a relay frame.
type Op string

const (
	// OpJoin enters a room. Client to relay, first frame on a connection.
	OpJoin Op = "join"
	// OpLeave exits a room cleanly. Client to relay.
	OpLeave Op = "leave"
	// OpPublish broadcasts a custom event to the room. Client to relay.
	OpPublish Op = "publish"
	// OpState sets (host to relay) or delivers (relay to client) the room's
	// retained state snapshot.
	OpState Op = "state"
	// OpEvent delivers a published custom event. Relay to client.
	OpEvent Op = "event"
	// OpPresence notifies subscribers of a join or leave. Relay to client.
	OpPresence Op = "presence"
)

// Frame is the relay's websocket envelope. Data is opaque to the relay.
type Frame struct {
	Op       Op              `json:"op"`
	RoomID   string          `json:"roomId,omitempty"`
	SenderID string          `json:"senderId,omitempty"`
	Joined   bool            `json:"joined,omitempty"`
	Data     json.RawMessage `json:"data,omitempty"`
}
