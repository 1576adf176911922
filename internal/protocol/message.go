// Package protocol defines the replication envelope exchanged between host
// and clients, independent of the transport carrying it.
package protocol

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"time"
)

// Kind tags a message envelope. Unknown kinds decode without error so
// receivers can drop messages from newer peers instead of tearing down the
// connection.
type Kind string

const (
	// KindStateSync carries a full GameState snapshot, host to clients.
	KindStateSync Kind = "stateSync"
	// KindPlayerAction carries a client intent for the host to validate.
	KindPlayerAction Kind = "playerAction"
	// KindJoinRequest opens the LAN connection handshake.
	KindJoinRequest Kind = "joinRequest"
	// KindJoinConfirm accepts a LAN join request.
	KindJoinConfirm Kind = "joinConfirm"
	// KindJoinReject declines a LAN join request.
	KindJoinReject Kind = "joinReject"
	// KindHeartbeat is a liveness probe carrying only the sender id.
	KindHeartbeat Kind = "heartbeat"
	// KindDisconnected is an explicit leave notice.
	KindDisconnected Kind = "disconnected"
	// KindGameEvent carries a discrete UI notification, host to clients.
	KindGameEvent Kind = "gameEvent"
)

// Message is the wire envelope. Payload shape depends on Kind.
type Message struct {
	Kind      Kind            `json:"kind"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	SenderID  string          `json:"senderId,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// New builds an envelope around the given payload.
func New(kind Kind, senderID string, payload any) (Message, error) {
	m := Message{Kind: kind, SenderID: senderID, Timestamp: time.Now().UTC()}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return Message{}, fmt.Errorf("encode %s payload: %w", kind, err)
		}
		m.Payload = raw
	}
	return m, nil
}

// DecodePayload unmarshals the payload into v.
func (m Message) DecodePayload(v any) error {
	if len(m.Payload) == 0 {
		return fmt.Errorf("message %s has no payload", m.Kind)
	}
	if err := json.Unmarshal(m.Payload, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", m.Kind, err)
	}
	return nil
}

// Encode serializes a message to a single JSON document. The output never
// contains a raw newline, so it is safe to frame line-delimited.
func Encode(m Message) ([]byte, error) {
	return json.Marshal(m)
}

// Decode parses a message envelope. The payload is left raw.
func Decode(data []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return Message{}, fmt.Errorf("decode message: %w", err)
	}
	return m, nil
}

// MaxFrameSize bounds a single newline-delimited frame. Full-state snapshots
// for a six-player room fit comfortably.
const MaxFrameSize = 1 << 20

// WriteFrame writes one newline-terminated encoded message to w.
func WriteFrame(w io.Writer, m Message) error {
	data, err := Encode(m)
	if err != nil {
		return err
	}
	data = append(data, '\n')
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// NewScanner returns a line scanner sized for protocol frames.
func NewScanner(r io.Reader) *bufio.Scanner {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), MaxFrameSize)
	return sc
}
