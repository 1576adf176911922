package protocol

import (
	"shayeb/internal/engine"
)

// ActionType tags a player action inside a playerAction message.
type ActionType string

const (
	ActionDraw         ActionType = "draw"
	ActionJoin         ActionType = "join"
	ActionShuffle      ActionType = "shuffle"
	ActionStartGame    ActionType = "startGame"
	ActionNewRound     ActionType = "newRound"
	ActionRequestState ActionType = "requestState"
)

// Action is a client intent. The host re-validates every action against its
// authoritative state regardless of what the sender believed.
type Action struct {
	Type ActionType `json:"type"`

	// draw
	DrawerID  string `json:"drawerId,omitempty"`
	TargetID  string `json:"targetId,omitempty"`
	CardIndex int    `json:"cardIndex"` // -1 lets the host pick at random

	// shuffle / requestState
	PlayerID string `json:"playerId,omitempty"`

	// join
	Player *engine.Player `json:"player,omitempty"`
}

// EventType tags a discrete game event.
type EventType string

const (
	EventPlayerJoined      EventType = "playerJoined"
	EventPlayerLeft        EventType = "playerLeft"
	EventGameStarted       EventType = "gameStarted"
	EventNewRound          EventType = "newRound"
	EventCardStolen        EventType = "cardStolen"
	EventMatch             EventType = "match"
	EventPlayerFinished    EventType = "playerFinished"
	EventRoundEnded        EventType = "roundEnded"
	EventConnectionChanged EventType = "connectionChanged"
)

// GameEvent is a discrete notification for UI feedback that cannot be
// recovered from a state diff, e.g. which exact card moved.
type GameEvent struct {
	Type    EventType      `json:"type"`
	Message string         `json:"message"`
	Data    map[string]any `json:"data,omitempty"`
}

// JoinRequest opens the LAN handshake with the joining player's identity.
type JoinRequest struct {
	Player engine.Player `json:"player"`
}

// JoinReject explains why a LAN join was declined.
type JoinReject struct {
	Reason string `json:"reason"`
}

// RoomInfo is the discovery answer advertised by a LAN host and the payload
// used to create a relay room.
type RoomInfo struct {
	RoomID      string `json:"roomId"`
	RoomCode    string `json:"roomCode"`
	HostName    string `json:"hostName"`
	HostAddress string `json:"hostAddress"`
	Port        int    `json:"port"`
	PlayerCount int    `json:"playerCount"`
	MaxPlayers  int    `json:"maxPlayers"`
	IsStarted   bool   `json:"isStarted"`
}

// StateSync wraps a full snapshot envelope.
func StateSync(senderID string, s engine.GameState) (Message, error) {
	return New(KindStateSync, senderID, s)
}

// PlayerAction wraps an action envelope.
func PlayerAction(senderID string, a Action) (Message, error) {
	return New(KindPlayerAction, senderID, a)
}

// Event wraps a game event envelope.
func Event(senderID string, ev GameEvent) (Message, error) {
	return New(KindGameEvent, senderID, ev)
}

// Heartbeat builds a liveness probe.
func Heartbeat(senderID string) Message {
	m, _ := New(KindHeartbeat, senderID, nil)
	return m
}

// StatePayload decodes a stateSync payload.
func (m Message) StatePayload() (engine.GameState, error) {
	var s engine.GameState
	err := m.DecodePayload(&s)
	return s, err
}

// ActionPayload decodes a playerAction payload.
func (m Message) ActionPayload() (Action, error) {
	var a Action
	err := m.DecodePayload(&a)
	return a, err
}

// EventPayload decodes a gameEvent payload.
func (m Message) EventPayload() (GameEvent, error) {
	var ev GameEvent
	err := m.DecodePayload(&ev)
	return ev, err
}

// JoinRequestPayload decodes a joinRequest payload.
func (m Message) JoinRequestPayload() (JoinRequest, error) {
	var jr JoinRequest
	err := m.DecodePayload(&jr)
	return jr, err
}

// JoinRejectPayload decodes a joinReject payload.
func (m Message) JoinRejectPayload() (JoinReject, error) {
	var jr JoinReject
	err := m.DecodePayload(&jr)
	return jr, err
}
