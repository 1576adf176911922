package relay

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"shayeb/internal/protocol"
)

type roomMsg interface{ isRoomMsg() }

// subscribe registers a peer and its outbox for everything the room fans out.
type subscribe struct {
	ClientID string
	Player   json.RawMessage
	Outbox   chan Frame
}

func (subscribe) isRoomMsg() {}

type unsubscribe struct{ ClientID string }

func (unsubscribe) isRoomMsg() {}

// publish fans a custom event out to every subscriber, sender included.
type publish struct {
	SenderID string
	Data     json.RawMessage
}

func (publish) isRoomMsg() {}

// setState replaces the retained snapshot and fans it out.
type setState struct {
	SenderID string
	Data     json.RawMessage
}

func (setState) isRoomMsg() {}

type getView struct{ Reply chan RoomView }

func (getView) isRoomMsg() {}

type shutdownRoom struct{}

func (shutdownRoom) isRoomMsg() {}

// RoomView reflects room internals without data races, for the REST surface
// and tests.
type RoomView struct {
	Info        protocol.RoomInfo
	Subscribers int
	HasState    bool
}

// Room is an actor owning one pub/sub scope. All access goes through the
// inbox; the loop goroutine is the only one touching internal maps.
type Room struct {
	id    string
	inbox chan roomMsg

	info    protocol.RoomInfo
	subs    map[string]chan Frame
	players map[string]json.RawMessage
	state   json.RawMessage

	log     *zap.SugaredLogger
	onEmpty func(id string)
	ctx     context.Context
	cancel  context.CancelFunc
}

func newRoom(parent context.Context, log *zap.SugaredLogger, info protocol.RoomInfo, onEmpty func(id string)) *Room {
	ctx, cancel := context.WithCancel(parent)
	r := &Room{
		id:      info.RoomID,
		inbox:   make(chan roomMsg, 64),
		info:    info,
		subs:    make(map[string]chan Frame),
		players: make(map[string]json.RawMessage),
		log:     log,
		onEmpty: onEmpty,
		ctx:     ctx,
		cancel:  cancel,
	}
	go r.loop()
	return r
}

// Inbox exposes the actor mailbox to the websocket layer and tests.
func (r *Room) Inbox() chan<- roomMsg { return r.inbox }

// ID returns the room identifier.
func (r *Room) ID() string { return r.id }

func (r *Room) loop() {
	for {
		select {
		case <-r.ctx.Done():
			r.shutdown()
			return

		case m := <-r.inbox:
			switch msg := m.(type) {
			case subscribe:
				r.subs[msg.ClientID] = msg.Outbox
				r.players[msg.ClientID] = msg.Player
				r.info.PlayerCount = len(r.subs)
				// Late subscribers catch up from the retained snapshot.
				if r.state != nil {
					msg.Outbox <- Frame{Op: OpState, RoomID: r.id, Data: r.state}
				}
				r.broadcast(Frame{Op: OpPresence, RoomID: r.id, SenderID: msg.ClientID, Joined: true, Data: msg.Player})

			case unsubscribe:
				r.drop(msg.ClientID)

			case publish:
				r.broadcast(Frame{Op: OpEvent, RoomID: r.id, SenderID: msg.SenderID, Data: msg.Data})

			case setState:
				r.state = msg.Data
				r.broadcast(Frame{Op: OpState, RoomID: r.id, SenderID: msg.SenderID, Data: msg.Data})

			case getView:
				msg.Reply <- RoomView{Info: r.info, Subscribers: len(r.subs), HasState: r.state != nil}

			case shutdownRoom:
				r.shutdown()
				return
			}
		}
	}
}

// drop removes a subscriber and announces the departure. The last leaver
// retires the room.
func (r *Room) drop(clientID string) {
	if _, ok := r.subs[clientID]; !ok {
		return
	}
	close(r.subs[clientID])
	delete(r.subs, clientID)
	delete(r.players, clientID)
	r.info.PlayerCount = len(r.subs)
	r.broadcast(Frame{Op: OpPresence, RoomID: r.id, SenderID: clientID, Joined: false})
	if len(r.subs) == 0 && r.onEmpty != nil {
		r.onEmpty(r.id)
		r.cancel()
	}
}

func (r *Room) broadcast(f Frame) {
	var stale []string
	for id, ch := range r.subs {
		select {
		case ch <- f:
		default:
			// Slow or stuck peer: drop them rather than stall the room.
			stale = append(stale, id)
		}
	}
	for _, id := range stale {
		r.log.Warnw("dropping slow subscriber", "room", r.id, "client", id)
		r.drop(id)
	}
}

func (r *Room) shutdown() {
	for id, ch := range r.subs {
		close(ch)
		delete(r.subs, id)
	}
	r.cancel()
}
