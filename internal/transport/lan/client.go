package lan

import (
	"context"
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

// client holds one socket to the host, heartbeats while connected, and runs
// a bounded exponential-backoff reconnect loop when the socket drops.
type client struct {
	log      *zap.SugaredLogger
	cfg      config.Config
	self     engine.Player
	addr     string
	handlers transport.Handlers

	mu      sync.Mutex
	conn    net.Conn
	writeMu sync.Mutex
	closed  bool

	ctx    context.Context
	cancel context.CancelFunc
}

func startClient(parent context.Context, log *zap.SugaredLogger, cfg config.Config, addr string, self engine.Player, handlers transport.Handlers) (*client, error) {
	ctx, cancel := context.WithCancel(parent)
	c := &client{
		log:      log,
		cfg:      cfg,
		self:     self,
		addr:     addr,
		handlers: handlers,
		ctx:      ctx,
		cancel:   cancel,
	}

	conn, err := c.dial()
	if err != nil {
		cancel()
		return nil, err
	}
	c.conn = conn

	go c.readLoop(conn)
	go c.heartbeatLoop()

	log.Infow("connected to host", "addr", addr, "player", self.ID)
	return c, nil
}

// dial opens a socket and runs the join handshake on it.
func (c *client) dial() (net.Conn, error) {
	d := net.Dialer{Timeout: 5 * time.Second}
	conn, err := d.DialContext(c.ctx, "tcp", c.addr)
	if err != nil {
		return nil, fmt.Errorf("lan: dial %s: %w", c.addr, err)
	}

	req, err := protocol.New(protocol.KindJoinRequest, c.self.ID, protocol.JoinRequest{Player: c.self})
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	if err := protocol.WriteFrame(conn, req); err != nil {
		_ = conn.Close()
		return nil, err
	}

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	sc := protocol.NewScanner(conn)
	if !sc.Scan() {
		_ = conn.Close()
		return nil, fmt.Errorf("lan: host closed during handshake")
	}
	msg, err := protocol.Decode(sc.Bytes())
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	switch msg.Kind {
	case protocol.KindJoinConfirm:
	case protocol.KindJoinReject:
		reason := "unknown"
		if rj, rerr := msg.JoinRejectPayload(); rerr == nil {
			reason = rj.Reason
		}
		_ = conn.Close()
		return nil, fmt.Errorf("%w: %s", ErrJoinRejected, reason)
	default:
		_ = conn.Close()
		return nil, fmt.Errorf("lan: unexpected handshake reply %q", msg.Kind)
	}
	_ = conn.SetReadDeadline(time.Time{})
	return conn, nil
}

func (c *client) readLoop(conn net.Conn) {
	sc := protocol.NewScanner(conn)
	for sc.Scan() {
		msg, err := protocol.Decode(sc.Bytes())
		if err != nil {
			c.log.Debugw("dropping malformed frame", "err", err)
			continue
		}
		switch msg.Kind {
		case protocol.KindStateSync:
			s, err := msg.StatePayload()
			if err != nil {
				c.log.Debugw("dropping bad state payload", "err", err)
				continue
			}
			c.handlers.HandleState(s)
		case protocol.KindGameEvent:
			ev, err := msg.EventPayload()
			if err != nil {
				c.log.Debugw("dropping bad event payload", "err", err)
				continue
			}
			c.handlers.HandleGameEvent(ev)
		case protocol.KindDisconnected:
			// Host is tearing the room down.
			c.handlers.HandleConnectionChange(transport.ConnectionChange{PlayerID: msg.SenderID, Connected: false})
		default:
			c.log.Debugw("dropping unexpected kind", "kind", msg.Kind)
		}
	}

	if c.isClosed() || c.ctx.Err() != nil {
		return
	}
	c.log.Infow("connection to host lost, reconnecting", "addr", c.addr)
	c.reconnect()
}

// reconnect re-dials with the last known address and identity, doubling the
// delay each attempt. After the cap the disconnection is permanent.
func (c *client) reconnect() {
	delay := c.cfg.ReconnectBaseDelay
	for attempt := 1; attempt <= c.cfg.ReconnectMax; attempt++ {
		select {
		case <-c.ctx.Done():
			return
		case <-time.After(delay):
		}
		delay *= 2

		conn, err := c.dial()
		if err == nil {
			c.mu.Lock()
			c.conn = conn
			c.mu.Unlock()
			c.log.Infow("reconnected", "addr", c.addr, "attempt", attempt)
			c.handlers.HandleConnectionChange(transport.ConnectionChange{PlayerID: c.self.ID, Connected: true})
			go c.readLoop(conn)
			return
		}
		c.log.Warnw("reconnect attempt failed", "attempt", attempt, "err", err)
	}
	c.log.Errorw("reconnect budget exhausted", "addr", c.addr)
	c.handlers.HandleConnectionChange(transport.ConnectionChange{PlayerID: c.self.ID, Connected: false})
}

func (c *client) heartbeatLoop() {
	ticker := time.NewTicker(c.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			// Write errors surface through the read loop.
			_ = c.write(protocol.Heartbeat(c.self.ID))
		}
	}
}

func (c *client) sendAction(a protocol.Action) error {
	msg, err := protocol.PlayerAction(c.self.ID, a)
	if err != nil {
		return err
	}
	return c.write(msg)
}

func (c *client) write(msg protocol.Message) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(3 * time.Second))
	return protocol.WriteFrame(conn, msg)
}

func (c *client) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// close sends a clean leave notice and stops all client timers before
// returning.
func (c *client) close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	conn := c.conn
	c.mu.Unlock()

	bye, _ := protocol.New(protocol.KindDisconnected, c.self.ID, nil)
	if conn != nil {
		_ = c.write(bye)
	}
	c.cancel()
	if conn != nil {
		return conn.Close()
	}
	return nil
}
