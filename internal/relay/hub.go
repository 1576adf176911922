package relay

import (
	"context"
	"math/rand"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"shayeb/internal/engine"
	"shayeb/internal/protocol"
)

type HubMsg interface{ isHubMsg() }

// CreateRoom allocates a room with a fresh id and an unused 4-letter code.
type CreateRoom struct {
	Info  protocol.RoomInfo
	Reply chan *Room
}

// GetRoom looks a room up by id. Reply receives nil when absent.
type GetRoom struct {
	ID    string
	Reply chan *Room
}

// GetRoomByCode looks a room up by its shareable code.
type GetRoomByCode struct {
	Code  string
	Reply chan *Room
}

// RemoveRoom forgets a room, typically after its last subscriber left.
type RemoveRoom struct{ ID string }

type ShutdownHub struct{}

func (CreateRoom) isHubMsg()    {}
func (GetRoom) isHubMsg()       {}
func (GetRoomByCode) isHubMsg() {}
func (RemoveRoom) isHubMsg()    {}
func (ShutdownHub) isHubMsg()   {}

// Hub is the actor owning the room registry. Room codes are unique among
// live rooms; collisions at creation regenerate.
type Hub struct {
	inbox  chan HubMsg
	rooms  map[string]*Room
	codes  map[string]string // code -> room id
	rng    *rand.Rand
	log    *zap.SugaredLogger
	ctx    context.Context
	cancel context.CancelFunc
}

func NewHub(parent context.Context, log *zap.SugaredLogger, rng *rand.Rand) *Hub {
	ctx, cancel := context.WithCancel(parent)
	h := &Hub{
		inbox:  make(chan HubMsg, 64),
		rooms:  make(map[string]*Room),
		codes:  make(map[string]string),
		rng:    rng,
		log:    log,
		ctx:    ctx,
		cancel: cancel,
	}
	go h.loop()
	return h
}

func (h *Hub) Inbox() chan<- HubMsg { return h.inbox }

func (h *Hub) loop() {
	for {
		select {
		case <-h.ctx.Done():
			return

		case m := <-h.inbox:
			switch msg := m.(type) {
			case CreateRoom:
				info := msg.Info
				if info.RoomID == "" {
					info.RoomID = uuid.NewString()
				}
				code := info.RoomCode
				for code == "" || h.codes[code] != "" {
					code = engine.GenerateRoomCode(h.rng)
				}
				info.RoomCode = code
				if info.MaxPlayers == 0 {
					info.MaxPlayers = engine.MaxPlayers
				}

				rm := newRoom(h.ctx, h.log, info, h.retire)
				h.rooms[info.RoomID] = rm
				h.codes[code] = info.RoomID
				h.log.Infow("room created", "room", info.RoomID, "code", code)
				msg.Reply <- rm

			case GetRoom:
				msg.Reply <- h.rooms[msg.ID] // may be nil

			case GetRoomByCode:
				msg.Reply <- h.rooms[h.codes[msg.Code]]

			case RemoveRoom:
				h.forget(msg.ID)

			case ShutdownHub:
				for _, rm := range h.rooms {
					rm.Inbox() <- shutdownRoom{}
				}
				clear(h.rooms)
				clear(h.codes)
				h.cancel()
				return
			}
		}
	}
}

// retire is handed to rooms so the last leaver cleans up the registry.
func (h *Hub) retire(roomID string) {
	select {
	case h.inbox <- RemoveRoom{ID: roomID}:
	case <-h.ctx.Done():
	}
}

func (h *Hub) forget(roomID string) {
	if _, ok := h.rooms[roomID]; !ok {
		return
	}
	delete(h.rooms, roomID)
	for code, id := range h.codes {
		if id == roomID {
			delete(h.codes, code)
		}
	}
	h.log.Infow("room retired", "room", roomID)
}
