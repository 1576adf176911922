// Package lan is the LAN backend: a host-side TCP listener with
// newline-framed protocol messages, UDP room discovery, client heartbeats
// and bounded reconnects.
package lan

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"shayeb/internal/config"
	"shayeb/internal/engine"
	"shayeb/internal/protocol"
	"shayeb/internal/transport"
)

var ErrAlreadyStarted = errors.New("lan: transport already started")
var ErrNotHosting = errors.New("lan: not hosting")
var ErrNotConnected = errors.New("lan: not connected to a host")
var ErrJoinRejected = errors.New("lan: join rejected by host")

// Transport implements transport.Transport over raw TCP sockets. It takes on
// one role per session: host after StartHosting, client after ConnectToHost.
type Transport struct {
	log *zap.SugaredLogger
	cfg config.Config

	mu     sync.Mutex
	host   *host
	client *client
}

// New returns an idle LAN transport.
func New(log *zap.SugaredLogger, cfg config.Config) *Transport {
	return &Transport{log: log, cfg: cfg}
}

func (t *Transport) StartHosting(ctx context.Context, self engine.Player, info protocol.RoomInfo, h transport.Handlers) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.host != nil || t.client != nil {
		return ErrAlreadyStarted
	}
	hst, err := startHost(ctx, t.log, t.cfg, self, info, h)
	if err != nil {
		return err
	}
	t.host = hst
	return nil
}

func (t *Transport) ConnectToHost(ctx context.Context, target string, self engine.Player, h transport.Handlers) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.host != nil || t.client != nil {
		return ErrAlreadyStarted
	}
	cl, err := startClient(ctx, t.log, t.cfg, target, self, h)
	if err != nil {
		return err
	}
	t.client = cl
	return nil
}

func (t *Transport) BroadcastState(s engine.GameState) error {
	hst := t.hosting()
	if hst == nil {
		return ErrNotHosting
	}
	return hst.broadcastState(s)
}

func (t *Transport) BroadcastEvent(ev protocol.GameEvent) error {
	hst := t.hosting()
	if hst == nil {
		return ErrNotHosting
	}
	return hst.broadcastEvent(ev)
}

func (t *Transport) SendAction(a protocol.Action) error {
	t.mu.Lock()
	cl := t.client
	t.mu.Unlock()
	if cl == nil {
		return ErrNotConnected
	}
	return cl.sendAction(a)
}

func (t *Transport) Close() error {
	t.mu.Lock()
	hst, cl := t.host, t.client
	t.host, t.client = nil, nil
	t.mu.Unlock()

	if hst != nil {
		return hst.close()
	}
	if cl != nil {
		return cl.close()
	}
	return nil
}

// Addr returns the host's listening address, for tests and discovery.
func (t *Transport) Addr() string {
	hst := t.hosting()
	if hst == nil {
		return ""
	}
	return hst.addr()
}

func (t *Transport) hosting() *host {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.host
}
