package online

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"shayeb/internal/engine"
	"shayeb/internal/protocol"
	"shayeb/internal/relay"
)

// WSService is the concrete RoomService speaking the relay's websocket
// protocol. One connection per peer, as the relay contract demands.
type WSService struct {
	log     *zap.SugaredLogger
	wsURL   string
	httpURL string

	mu      sync.Mutex
	writeMu sync.Mutex
	conn    *websocket.Conn
	selfID  string
	roomID  string
	closed  bool

	events    chan ServiceEvent
	connState chan bool

	ctx    context.Context
	cancel context.CancelFunc
}

// NewWSService builds a service for a relay at the given websocket URL,
// e.g. "ws://relay.example:8080/ws". The REST surface is derived from it.
func NewWSService(log *zap.SugaredLogger, relayURL string) (*WSService, error) {
	u, err := url.Parse(relayURL)
	if err != nil {
		return nil, fmt.Errorf("online: bad relay url: %w", err)
	}
	httpU := *u
	switch u.Scheme {
	case "ws":
		httpU.Scheme = "http"
	case "wss":
		httpU.Scheme = "https"
	default:
		return nil, fmt.Errorf("online: relay url must be ws or wss, got %q", u.Scheme)
	}
	httpU.Path = ""

	return &WSService{
		log:       log,
		wsURL:     relayURL,
		httpURL:   httpU.String(),
		events:    make(chan ServiceEvent, 64),
		connState: make(chan bool, 4),
	}, nil
}

// Initialize bootstraps the session. The stock relay needs no auth.
func (s *WSService) Initialize(ctx context.Context) error {
	return nil
}

func (s *WSService) CreateRoom(ctx context.Context, info protocol.RoomInfo) (string, error) {
	body, err := json.Marshal(info)
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.httpURL+"/rooms", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("online: create room: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("online: create room: unexpected status %d", resp.StatusCode)
	}

	var created relay.CreatedRoom
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		return "", fmt.Errorf("online: create room: %w", err)
	}
	return created.RoomID, nil
}

func (s *WSService) JoinRoom(ctx context.Context, roomID string, self engine.Player) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		return fmt.Errorf("online: already in a room")
	}

	dialURL := fmt.Sprintf("%s?room=%s&player=%s", s.wsURL, url.QueryEscape(roomID), url.QueryEscape(self.ID))
	conn, _, err := websocket.Dial(ctx, dialURL, nil)
	if err != nil {
		return fmt.Errorf("online: dial relay: %w", err)
	}

	playerData, err := json.Marshal(self)
	if err != nil {
		_ = conn.Close(websocket.StatusInternalError, "encode failure")
		return err
	}
	join, err := json.Marshal(relay.Frame{Op: relay.OpJoin, RoomID: roomID, SenderID: self.ID, Data: playerData})
	if err != nil {
		_ = conn.Close(websocket.StatusInternalError, "encode failure")
		return err
	}
	if err := conn.Write(ctx, websocket.MessageText, join); err != nil {
		_ = conn.Close(websocket.StatusProtocolError, "join failed")
		return fmt.Errorf("online: join room: %w", err)
	}

	s.conn = conn
	s.selfID = self.ID
	s.roomID = roomID
	s.ctx, s.cancel = context.WithCancel(context.Background())
	go s.readLoop(conn)

	s.pushConnState(true)
	return nil
}

func (s *WSService) readLoop(conn *websocket.Conn) {
	defer close(s.events)
	for {
		_, data, err := conn.Read(s.ctx)
		if err != nil {
			if !s.isClosed() {
				s.pushConnState(false)
			}
			return
		}

		var f relay.Frame
		if err := json.Unmarshal(data, &f); err != nil {
			s.log.Debugw("dropping malformed relay frame", "err", err)
			continue
		}

		switch f.Op {
		case relay.OpEvent:
			msg, err := protocol.Decode(f.Data)
			if err != nil {
				s.log.Debugw("dropping undecodable event", "err", err)
				continue
			}
			if msg.SenderID == "" {
				msg.SenderID = f.SenderID
			}
			if !s.pushEvent(ServiceEvent{SenderID: msg.SenderID, Message: msg}) {
				return
			}

		case relay.OpState:
			ok := s.pushEvent(ServiceEvent{
				SenderID: f.SenderID,
				Message:  protocol.Message{Kind: protocol.KindStateSync, Payload: f.Data, SenderID: f.SenderID},
			})
			if !ok {
				return
			}

		case relay.OpPresence:
			ev := ServiceEvent{Presence: true, Joined: f.Joined, SenderID: f.SenderID}
			if len(f.Data) > 0 {
				var p engine.Player
				if err := json.Unmarshal(f.Data, &p); err == nil && p.ID != "" {
					ev.Player = &p
				}
			}
			if !s.pushEvent(ev) {
				return
			}

		default:
			s.log.Debugw("dropping unexpected relay op", "op", f.Op)
		}
	}
}

// pushEvent delivers to the events stream unless the room has been left.
func (s *WSService) pushEvent(ev ServiceEvent) bool {
	select {
	case s.events <- ev:
		return true
	case <-s.ctx.Done():
		return false
	}
}

func (s *WSService) BroadcastEvent(ctx context.Context, msg protocol.Message) error {
	data, err := protocol.Encode(msg)
	if err != nil {
		return err
	}
	return s.writeFrame(ctx, relay.Frame{Op: relay.OpPublish, RoomID: s.roomID, SenderID: s.selfID, Data: data})
}

func (s *WSService) UpdateState(ctx context.Context, state engine.GameState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return err
	}
	return s.writeFrame(ctx, relay.Frame{Op: relay.OpState, RoomID: s.roomID, SenderID: s.selfID, Data: data})
}

func (s *WSService) LeaveRoom(ctx context.Context) error {
	s.mu.Lock()
	if s.closed || s.conn == nil {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	conn := s.conn
	cancel := s.cancel
	s.mu.Unlock()

	_ = s.writeFrame(ctx, relay.Frame{Op: relay.OpLeave, RoomID: s.roomID, SenderID: s.selfID})
	err := conn.Close(websocket.StatusNormalClosure, "leaving")
	cancel()
	return err
}

func (s *WSService) ConnectionState() <-chan bool { return s.connState }

func (s *WSService) Events() <-chan ServiceEvent { return s.events }

func (s *WSService) writeFrame(ctx context.Context, f relay.Frame) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("online: not in a room")
	}
	data, err := json.Marshal(f)
	if err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return conn.Write(ctx, websocket.MessageText, data)
}

func (s *WSService) pushConnState(up bool) {
	select {
	case s.connState <- up:
	default:
	}
}

func (s *WSService) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
