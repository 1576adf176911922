package relay

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"
)

// WSHandler upgrades a peer connection and bridges it onto a room actor.
// The peer identifies itself via query params and must send an OpJoin frame
// first; everything after is publish/state/leave traffic.
func WSHandler(log *zap.SugaredLogger, h *Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		roomID := r.URL.Query().Get("room")
		clientID := r.URL.Query().Get("player")
		if roomID == "" || clientID == "" {
			http.Error(w, "missing room or player", http.StatusBadRequest)
			return
		}

		reply := make(chan *Room, 1)
		h.Inbox() <- GetRoom{ID: roomID, Reply: reply}
		rm := <-reply
		if rm == nil {
			http.Error(w, "room not found", http.StatusNotFound)
			return
		}

		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "bye")

		// First frame must join; its data is the presence payload other
		// subscribers see.
		joinCtx, cancelJoin := context.WithTimeout(r.Context(), 10*time.Second)
		_, data, err := conn.Read(joinCtx)
		cancelJoin()
		if err != nil {
			return
		}
		var join Frame
		if err := json.Unmarshal(data, &join); err != nil || join.Op != OpJoin {
			_ = conn.Write(r.Context(), websocket.MessageText, []byte(`{"op":"error","data":"expected join"}`))
			return
		}

		out := make(chan Frame, 16)
		rm.Inbox() <- subscribe{ClientID: clientID, Player: join.Data, Outbox: out}
		defer func() { rm.Inbox() <- unsubscribe{ClientID: clientID} }()

		// Writer goroutine.
		writeCtx, cancelWrites := context.WithCancel(r.Context())
		defer cancelWrites()
		go func() {
			for f := range out {
				payload, err := json.Marshal(f)
				if err != nil {
					continue
				}
				ctx, cancel := context.WithTimeout(writeCtx, 3*time.Second)
				_ = conn.Write(ctx, websocket.MessageText, payload)
				cancel()
			}
		}()

		// Reader loop.
		for {
			_, data, err := conn.Read(r.Context())
			if err != nil {
				switch websocket.CloseStatus(err) {
				case websocket.StatusNormalClosure, websocket.StatusGoingAway:
					return
				}
				return
			}

			var f Frame
			if err := json.Unmarshal(data, &f); err != nil {
				// Malformed frames are dropped without killing the connection.
				log.Debugw("dropping malformed relay frame", "client", clientID, "err", err)
				continue
			}
			switch f.Op {
			case OpPublish:
				rm.Inbox() <- publish{SenderID: clientID, Data: f.Data}
			case OpState:
				rm.Inbox() <- setState{SenderID: clientID, Data: f.Data}
			case OpLeave:
				return
			default:
				log.Debugw("dropping unexpected relay op", "client", clientID, "op", f.Op)
			}
		}
	}
}
