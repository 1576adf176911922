// Command hostd runs a headless LAN host: it opens a room, answers discovery
// probes and serves joining clients, logging state changes and game events.
package main

import (
	"context"
	"flag"
	"math/rand"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"shayeb/internal/config"
	"shayeb/internal/engine"
	"shayeb/internal/protocol"
	"shayeb/internal/session"
	"shayeb/internal/transport/lan"
)

type logListener struct{ log *zap.SugaredLogger }

func (l logListener) OnStateUpdate(s engine.GameState) {
	l.log.Infow("state",
		"phase", s.Phase,
		"round", s.RoundNumber,
		"players", len(s.Players),
		"last", s.LastAction,
	)
}

func (l logListener) OnGameEvent(ev protocol.GameEvent) {
	l.log.Infow("event", "type", ev.Type, "message", ev.Message)
}

func main() {
	name := flag.String("name", "host", "host player name")
	flag.Parse()

	_ = godotenv.Load()
	cfg := config.FromEnv()

	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()
	log := logger.Sugar()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	tr := lan.New(log, cfg)
	self := engine.Player{ID: uuid.NewString(), Name: *name}
	ctrl := session.New(log, cfg, rng, tr, session.StaticIdentity(self), logListener{log: log})

	if err := ctrl.CreateGame(); err != nil {
		log.Fatalw("failed to open room", "err", err)
	}
	s := ctrl.State()
	log.Infow("room open", "code", s.RoomCode, "room", s.RoomID)

	<-ctx.Done()
	if err := ctrl.LeaveGame(); err != nil {
		log.Warnw("shutdown", "err", err)
	}
}
