package relay

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"shayeb/internal/protocol"
)

// SetupRoutes builds the relay's HTTP surface with the hub injected.
func SetupRoutes(log *zap.SugaredLogger, h *Hub) http.Handler {
	r := chi.NewRouter()

	r.Post("/rooms", createRoomHandler(h))
	r.Get("/rooms/{id}", getRoomHandler(h))
	r.Get("/ws", WSHandler(log, h))
	r.Get("/healthz", healthz)
	return r
}

// CreatedRoom is the createRoom response body.
type CreatedRoom struct {
	RoomID   string `json:"roomId"`
	RoomCode string `json:"roomCode"`
}

func createRoomHandler(h *Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var info protocol.RoomInfo
		if r.Body != nil {
			// An empty or malformed body still creates a bare room.
			_ = json.NewDecoder(r.Body).Decode(&info)
		}

		reply := make(chan *Room, 1)
		h.Inbox() <- CreateRoom{Info: info, Reply: reply}
		rm := <-reply
		if rm == nil {
			http.Error(w, "failed to create room", http.StatusInternalServerError)
			return
		}

		view := make(chan RoomView, 1)
		rm.Inbox() <- getView{Reply: view}
		v := <-view

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(CreatedRoom{RoomID: rm.ID(), RoomCode: v.Info.RoomCode})
	}
}

func getRoomHandler(h *Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		reply := make(chan *Room, 1)
		h.Inbox() <- GetRoom{ID: chi.URLParam(r, "id"), Reply: reply}
		rm := <-reply
		if rm == nil {
			http.Error(w, "room not found", http.StatusNotFound)
			return
		}

		view := make(chan RoomView, 1)
		rm.Inbox() <- getView{Reply: view}
		v := <-view

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(v.Info)
	}
}

func healthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
}
