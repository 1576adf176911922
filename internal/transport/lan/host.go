package lan

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"shayeb/internal/config"
	"shayeb/internal/engine"
	"shayeb/internal/protocol"
	"shayeb/internal/transport"
)

// host owns the listening socket and one read loop per connected client.
// Connections are keyed by the player id from the join handshake, not by
// socket identity, so a reconnect on a fresh socket replaces the old entry.
type host struct {
	log      *zap.SugaredLogger
	cfg      config.Config
	self     engine.Player
	handlers transport.Handlers

	ln net.Listener

	mu       sync.Mutex
	conns    map[string]*hostConn
	lastSeen map[string]time.Time
	info     protocol.RoomInfo

	ctx    context.Context
	cancel context.CancelFunc

	discovery net.PacketConn
}

type hostConn struct {
	playerID string
	conn     net.Conn
	writeMu  sync.Mutex
}

func (hc *hostConn) write(data []byte, timeout time.Duration) error {
	hc.writeMu.Lock()
	defer hc.writeMu.Unlock()
	_ = hc.conn.SetWriteDeadline(time.Now().Add(timeout))
	_, err := hc.conn.Write(data)
	return err
}

func startHost(parent context.Context, log *zap.SugaredLogger, cfg config.Config, self engine.Player, info protocol.RoomInfo, handlers transport.Handlers) (*host, error) {
	ln, err := net.Listen("tcp", ":0")
	if err != nil {
		return nil, fmt.Errorf("lan: listen: %w", err)
	}
	info.Port = ln.Addr().(*net.TCPAddr).Port
	if info.MaxPlayers == 0 {
		info.MaxPlayers = engine.MaxPlayers
	}
	if info.PlayerCount == 0 {
		info.PlayerCount = 1
	}

	ctx, cancel := context.WithCancel(parent)
	h := &host{
		log:      log,
		cfg:      cfg,
		self:     self,
		handlers: handlers,
		ln:       ln,
		conns:    map[string]*hostConn{},
		lastSeen: map[string]time.Time{},
		info:     info,
		ctx:      ctx,
		cancel:   cancel,
	}

	go h.acceptLoop()
	go h.monitorHeartbeats()
	h.startDiscovery()

	log.Infow("hosting", "addr", ln.Addr().String(), "roomCode", info.RoomCode)
	return h, nil
}

func (h *host) addr() string { return h.ln.Addr().String() }

func (h *host) acceptLoop() {
	for {
		conn, err := h.ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) || h.ctx.Err() != nil {
				return
			}
			h.log.Warnw("accept failed", "err", err)
			continue
		}
		go h.serveConn(conn)
	}
}

// serveConn runs the handshake and then the per-client read loop.
func (h *host) serveConn(conn net.Conn) {
	defer conn.Close()

	sc := protocol.NewScanner(conn)

	_ = conn.SetReadDeadline(time.Now().Add(h.cfg.HeartbeatTimeout))
	if !sc.Scan() {
		return
	}
	msg, err := protocol.Decode(sc.Bytes())
	if err != nil || msg.Kind != protocol.KindJoinRequest {
		return
	}
	jr, err := msg.JoinRequestPayload()
	if err != nil || jr.Player.ID == "" {
		return
	}
	playerID := jr.Player.ID

	if h.roomFullFor(playerID) {
		reject, _ := protocol.New(protocol.KindJoinReject, h.self.ID, protocol.JoinReject{Reason: "room is full"})
		_ = protocol.WriteFrame(conn, reject)
		return
	}

	hc := &hostConn{playerID: playerID, conn: conn}
	h.register(hc)
	defer h.unregister(hc)

	confirm, _ := protocol.New(protocol.KindJoinConfirm, h.self.ID, nil)
	if err := protocol.WriteFrame(conn, confirm); err != nil {
		return
	}

	// Accepting the socket never joins the game; the controller decides via
	// the rules engine when this action reaches it.
	h.handlers.HandleAction(protocol.Action{Type: protocol.ActionJoin, Player: &jr.Player})
	h.handlers.HandleConnectionChange(transport.ConnectionChange{PlayerID: playerID, Connected: true})

	_ = conn.SetReadDeadline(time.Time{})
	for sc.Scan() {
		msg, err := protocol.Decode(sc.Bytes())
		if err != nil {
			// Malformed frames are dropped per-message; the connection lives on.
			h.log.Debugw("dropping malformed frame", "player", playerID, "err", err)
			continue
		}
		switch msg.Kind {
		case protocol.KindPlayerAction:
			a, err := msg.ActionPayload()
			if err != nil {
				h.log.Debugw("dropping bad action payload", "player", playerID, "err", err)
				continue
			}
			h.handlers.HandleAction(a)
		case protocol.KindHeartbeat:
			h.touch(playerID)
			h.handlers.HandleConnectionChange(transport.ConnectionChange{PlayerID: playerID, Connected: true})
		case protocol.KindDisconnected:
			h.handlers.HandleConnectionChange(transport.ConnectionChange{PlayerID: playerID, Connected: false})
			return
		default:
			h.log.Debugw("dropping unexpected kind", "player", playerID, "kind", msg.Kind)
		}
	}
}

// roomFullFor reports whether a join by playerID must be rejected. A known
// id is always let back in, so reconnects work at full capacity.
func (h *host) roomFullFor(playerID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, known := h.conns[playerID]; known {
		return false
	}
	return len(h.conns)+1 >= h.info.MaxPlayers
}

func (h *host) register(hc *hostConn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if old, ok := h.conns[hc.playerID]; ok && old.conn != hc.conn {
		_ = old.conn.Close()
	}
	h.conns[hc.playerID] = hc
	h.lastSeen[hc.playerID] = time.Now()
}

// unregister drops the mapping only if it still points at this socket; a
// reconnect may already have replaced it.
func (h *host) unregister(hc *hostConn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if cur, ok := h.conns[hc.playerID]; ok && cur == hc {
		delete(h.conns, hc.playerID)
		delete(h.lastSeen, hc.playerID)
	}
}

func (h *host) touch(playerID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.lastSeen[playerID] = time.Now()
}

// monitorHeartbeats forcibly removes clients whose silence exceeds the
// timeout, independent of message arrival.
func (h *host) monitorHeartbeats() {
	ticker := time.NewTicker(h.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-h.ctx.Done():
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-h.cfg.HeartbeatTimeout)
			var dropped []string
			h.mu.Lock()
			for id, seen := range h.lastSeen {
				if seen.Before(cutoff) {
					if hc, ok := h.conns[id]; ok {
						_ = hc.conn.Close()
						delete(h.conns, id)
					}
					delete(h.lastSeen, id)
					dropped = append(dropped, id)
				}
			}
			h.mu.Unlock()
			for _, id := range dropped {
				h.log.Infow("client timed out", "player", id)
				h.handlers.HandleConnectionChange(transport.ConnectionChange{PlayerID: id, Connected: false})
			}
		}
	}
}

func (h *host) broadcastState(s engine.GameState) error {
	h.mu.Lock()
	h.info.PlayerCount = len(s.Players)
	h.info.IsStarted = s.Phase != engine.PhaseLobby
	h.mu.Unlock()

	msg, err := protocol.StateSync(h.self.ID, s)
	if err != nil {
		return err
	}
	return h.broadcast(msg)
}

func (h *host) broadcastEvent(ev protocol.GameEvent) error {
	msg, err := protocol.Event(h.self.ID, ev)
	if err != nil {
		return err
	}
	return h.broadcast(msg)
}

func (h *host) broadcast(msg protocol.Message) error {
	data, err := protocol.Encode(msg)
	if err != nil {
		return err
	}
	data = append(data, '\n')

	h.mu.Lock()
	targets := make([]*hostConn, 0, len(h.conns))
	for _, hc := range h.conns {
		targets = append(targets, hc)
	}
	h.mu.Unlock()

	for _, hc := range targets {
		if err := hc.write(data, 3*time.Second); err != nil {
			h.log.Warnw("broadcast write failed, dropping client", "player", hc.playerID, "err", err)
			_ = hc.conn.Close()
			h.unregister(hc)
			h.handlers.HandleConnectionChange(transport.ConnectionChange{PlayerID: hc.playerID, Connected: false})
		}
	}
	return nil
}

func (h *host) roomInfo() protocol.RoomInfo {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.info
}

func (h *host) close() error {
	h.cancel()
	if h.discovery != nil {
		_ = h.discovery.Close()
	}
	err := h.ln.Close()

	h.mu.Lock()
	conns := h.conns
	h.conns = map[string]*hostConn{}
	h.lastSeen = map[string]time.Time{}
	h.mu.Unlock()

	bye, _ := protocol.New(protocol.KindDisconnected, h.self.ID, nil)
	data, encErr := protocol.Encode(bye)
	if encErr == nil {
		data = append(data, '\n')
	}
	for _, hc := range conns {
		if encErr == nil {
			_ = hc.write(data, time.Second)
		}
		_ = hc.conn.Close()
	}
	return err
}
