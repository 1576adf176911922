package online

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"shayeb/internal/engine"
	"shayeb/internal/protocol"
	"shayeb/internal/transport"
)

var ErrAlreadyStarted = errors.New("online: transport already started")
var ErrNotStarted = errors.New("online: transport not started")

// Transport adapts a RoomService to the abstract transport contract. There
// is no explicit join handshake here: presence notifications are the only
// join signal, and the host folds every foreign presence-join into the same
// join action path the LAN transport uses.
type Transport struct {
	log *zap.SugaredLogger
	svc RoomService

	mu       sync.Mutex
	started  bool
	hosting  bool
	self     engine.Player
	handlers transport.Handlers

	ctx    context.Context
	cancel context.CancelFunc
}

// New returns an idle online transport over the given service.
func New(log *zap.SugaredLogger, svc RoomService) *Transport {
	return &Transport{log: log, svc: svc}
}

func (t *Transport) StartHosting(ctx context.Context, self engine.Player, info protocol.RoomInfo, h transport.Handlers) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.started {
		return ErrAlreadyStarted
	}
	if err := t.svc.Initialize(ctx); err != nil {
		return err
	}
	roomID, err := t.svc.CreateRoom(ctx, info)
	if err != nil {
		return err
	}
	// The host subscribes to its own room to receive client actions.
	if err := t.svc.JoinRoom(ctx, roomID, self); err != nil {
		return err
	}
	t.start(ctx, self, true, h)
	t.log.Infow("hosting online room", "room", roomID, "code", info.RoomCode)
	return nil
}

func (t *Transport) ConnectToHost(ctx context.Context, roomID string, self engine.Player, h transport.Handlers) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.started {
		return ErrAlreadyStarted
	}
	if err := t.svc.Initialize(ctx); err != nil {
		return err
	}
	if err := t.svc.JoinRoom(ctx, roomID, self); err != nil {
		return err
	}
	t.start(ctx, self, false, h)
	t.log.Infow("joined online room", "room", roomID, "player", self.ID)
	return nil
}

func (t *Transport) start(parent context.Context, self engine.Player, hosting bool, h transport.Handlers) {
	t.started = true
	t.hosting = hosting
	t.self = self
	t.handlers = h
	t.ctx, t.cancel = context.WithCancel(parent)
	go t.eventLoop()
	go t.connLoop()
}

func (t *Transport) eventLoop() {
	for {
		select {
		case <-t.ctx.Done():
			return
		case ev, ok := <-t.svc.Events():
			if !ok {
				return
			}
			t.dispatch(ev)
		}
	}
}

func (t *Transport) dispatch(ev ServiceEvent) {
	if ev.Presence {
		if ev.SenderID == t.self.ID {
			return
		}
		if t.hosting && ev.Joined {
			// Presence is the only join signal online; synthesize the same
			// join action the LAN handshake produces.
			p := ev.Player
			if p == nil {
				p = &engine.Player{ID: ev.SenderID}
			}
			t.handlers.HandleAction(protocol.Action{Type: protocol.ActionJoin, Player: p})
		}
		t.handlers.HandleConnectionChange(transport.ConnectionChange{PlayerID: ev.SenderID, Connected: ev.Joined})
		return
	}

	msg := ev.Message
	switch msg.Kind {
	case protocol.KindStateSync:
		// A hosting peer must never apply a stateSync: it is either its own
		// echo or a feedback loop waiting to happen.
		if t.hosting || msg.SenderID == t.self.ID {
			return
		}
		s, err := msg.StatePayload()
		if err != nil {
			t.log.Debugw("dropping bad state payload", "err", err)
			return
		}
		t.handlers.HandleState(s)

	case protocol.KindPlayerAction:
		// The action marker routes these to the rules engine, host only.
		if !t.hosting || msg.SenderID == t.self.ID {
			return
		}
		a, err := msg.ActionPayload()
		if err != nil {
			t.log.Debugw("dropping bad action payload", "err", err)
			return
		}
		t.handlers.HandleAction(a)

	case protocol.KindGameEvent:
		if msg.SenderID == t.self.ID {
			return // already emitted locally before broadcasting
		}
		gev, err := msg.EventPayload()
		if err != nil {
			t.log.Debugw("dropping bad event payload", "err", err)
			return
		}
		t.handlers.HandleGameEvent(gev)

	default:
		t.log.Debugw("dropping unexpected kind", "kind", msg.Kind)
	}
}

func (t *Transport) connLoop() {
	for {
		select {
		case <-t.ctx.Done():
			return
		case up, ok := <-t.svc.ConnectionState():
			if !ok {
				return
			}
			t.handlers.HandleConnectionChange(transport.ConnectionChange{PlayerID: t.self.ID, Connected: up})
		}
	}
}

func (t *Transport) BroadcastState(s engine.GameState) error {
	t.mu.Lock()
	started, hosting := t.started, t.hosting
	t.mu.Unlock()
	if !started || !hosting {
		return ErrNotStarted
	}
	return t.svc.UpdateState(t.ctx, s)
}

func (t *Transport) BroadcastEvent(ev protocol.GameEvent) error {
	if !t.isStarted() {
		return ErrNotStarted
	}
	msg, err := protocol.Event(t.self.ID, ev)
	if err != nil {
		return err
	}
	return t.svc.BroadcastEvent(t.ctx, msg)
}

func (t *Transport) SendAction(a protocol.Action) error {
	if !t.isStarted() {
		return ErrNotStarted
	}
	msg, err := protocol.PlayerAction(t.self.ID, a)
	if err != nil {
		return err
	}
	return t.svc.BroadcastEvent(t.ctx, msg)
}

func (t *Transport) Close() error {
	t.mu.Lock()
	if !t.started {
		t.mu.Unlock()
		return nil
	}
	t.started = false
	cancel := t.cancel
	t.mu.Unlock()

	err := t.svc.LeaveRoom(context.Background())
	cancel()
	return err
}

func (t *Transport) isStarted() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.started
}
