// Package session runs the game session as a single actor. Local intents and
// transport callbacks all land in one inbox, so the state replica has exactly
// one writer no matter how many read loops the transport runs underneath.
package session

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"shayeb/internal/config"
	"shayeb/internal/engine"
	"shayeb/internal/protocol"
	"shayeb/internal/transport"
)

var ErrSessionActive = errors.New("session: already in a game")
var ErrNoSession = errors.New("session: no active game")
var ErrClosed = errors.New("session: controller closed")

// Listener is the UI-facing sink: full snapshots after every change, plus the
// discrete events a state diff alone cannot reconstruct.
type Listener interface {
	OnStateUpdate(s engine.GameState)
	OnGameEvent(ev protocol.GameEvent)
}

// Identity supplies the local player's profile.
type Identity interface {
	LocalPlayer() engine.Player
}

// StaticIdentity is the trivial Identity for tests and headless hosts.
type StaticIdentity engine.Player

func (si StaticIdentity) LocalPlayer() engine.Player { return engine.Player(si) }

type ctrlMsg interface{ isCtrlMsg() }

type createGame struct{ Reply chan error }
type joinGame struct {
	Target string
	Reply  chan error
}
type startGame struct{ Reply chan error }
type startNewRound struct{ Reply chan error }
type drawCard struct {
	TargetID  string
	CardIndex int
	Reply     chan error
}
type shuffleHand struct{ Reply chan error }
type leaveGame struct{ Reply chan error }
type getState struct{ Reply chan engine.GameState }

type remoteState struct{ State engine.GameState }
type remoteAction struct{ Action protocol.Action }
type remoteEvent struct{ Event protocol.GameEvent }
type connChange struct{ Change transport.ConnectionChange }

func (createGame) isCtrlMsg()    {}
func (joinGame) isCtrlMsg()      {}
func (startGame) isCtrlMsg()     {}
func (startNewRound) isCtrlMsg() {}
func (drawCard) isCtrlMsg()      {}
func (shuffleHand) isCtrlMsg()   {}
func (leaveGame) isCtrlMsg()     {}
func (getState) isCtrlMsg()      {}
func (remoteState) isCtrlMsg()   {}
func (remoteAction) isCtrlMsg()  {}
func (remoteEvent) isCtrlMsg()   {}
func (connChange) isCtrlMsg()    {}

// Controller owns the local replica of GameState. As host it is the session's
// single writer: every mutation goes through the rules engine and is followed
// by a snapshot broadcast. As client it only packages intents for the host
// and swaps its replica wholesale on each sync.
type Controller struct {
	log      *zap.SugaredLogger
	cfg      config.Config
	rng      *rand.Rand
	tr       transport.Transport
	identity Identity
	listener Listener

	inbox chan ctrlMsg

	// Loop-owned; never touched outside run().
	state   engine.GameState
	active  bool
	hosting bool
	self    engine.Player
	resync  *time.Ticker

	ctx    context.Context
	cancel context.CancelFunc
}

// New wires a controller over the given transport and starts its loop.
func New(log *zap.SugaredLogger, cfg config.Config, rng *rand.Rand, tr transport.Transport, id Identity, l Listener) *Controller {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		log:      log,
		cfg:      cfg,
		rng:      rng,
		tr:       tr,
		identity: id,
		listener: l,
		inbox:    make(chan ctrlMsg, 64),
		ctx:      ctx,
		cancel:   cancel,
	}
	go c.run()
	return c
}

// CreateGame opens a room with the local player as host and starts hosting.
func (c *Controller) CreateGame() error {
	reply := make(chan error, 1)
	return c.ask(createGame{Reply: reply}, reply)
}

// JoinGame connects to a host as a client. The target is transport-specific:
// "host:port" on LAN, a relay room id online.
func (c *Controller) JoinGame(target string) error {
	reply := make(chan error, 1)
	return c.ask(joinGame{Target: target, Reply: reply}, reply)
}

// StartGame begins the first round. Host-only in effect; a client forwards
// the intent and the host decides.
func (c *Controller) StartGame() error {
	reply := make(chan error, 1)
	return c.ask(startGame{Reply: reply}, reply)
}

// StartNewRound re-deals after a round ended.
func (c *Controller) StartNewRound() error {
	reply := make(chan error, 1)
	return c.ask(startNewRound{Reply: reply}, reply)
}

// DrawCard draws from the target's hand. Pass cardIndex -1 for a random pick.
func (c *Controller) DrawCard(targetID string, cardIndex int) error {
	reply := make(chan error, 1)
	return c.ask(drawCard{TargetID: targetID, CardIndex: cardIndex, Reply: reply}, reply)
}

// ShuffleHand re-permutes the local player's hand.
func (c *Controller) ShuffleHand() error {
	reply := make(chan error, 1)
	return c.ask(shuffleHand{Reply: reply}, reply)
}

// LeaveGame tears the session down: timers stopped and transport released
// before this returns. The controller is unusable afterwards.
func (c *Controller) LeaveGame() error {
	reply := make(chan error, 1)
	return c.ask(leaveGame{Reply: reply}, reply)
}

// State returns a copy of the current replica.
func (c *Controller) State() engine.GameState {
	reply := make(chan engine.GameState, 1)
	select {
	case c.inbox <- getState{Reply: reply}:
		select {
		case s := <-reply:
			return s
		case <-c.ctx.Done():
			return engine.GameState{}
		}
	case <-c.ctx.Done():
		return engine.GameState{}
	}
}

func (c *Controller) ask(m ctrlMsg, reply chan error) error {
	select {
	case c.inbox <- m:
	case <-c.ctx.Done():
		return ErrClosed
	}
	select {
	case err := <-reply:
		return err
	case <-c.ctx.Done():
		// Leave answers and then shuts the loop down; prefer the answer.
		select {
		case err := <-reply:
			return err
		default:
			return ErrClosed
		}
	}
}

func (c *Controller) handlers() transport.Handlers {
	return transport.Handlers{
		OnState:            func(s engine.GameState) { c.post(remoteState{State: s}) },
		OnAction:           func(a protocol.Action) { c.post(remoteAction{Action: a}) },
		OnGameEvent:        func(ev protocol.GameEvent) { c.post(remoteEvent{Event: ev}) },
		OnConnectionChange: func(cc transport.ConnectionChange) { c.post(connChange{Change: cc}) },
	}
}

func (c *Controller) post(m ctrlMsg) {
	select {
	case c.inbox <- m:
	case <-c.ctx.Done():
	}
}

func (c *Controller) run() {
	for {
		select {
		case <-c.ctx.Done():
			c.stopResync()
			return

		case <-c.resyncTick():
			if c.state.RoomCode != "" {
				c.stopResync()
				continue
			}
			if err := c.tr.SendAction(protocol.Action{Type: protocol.ActionRequestState, PlayerID: c.self.ID}); err != nil {
				c.log.Debugw("resync request failed", "err", err)
			}

		case m := <-c.inbox:
			if done := c.handle(m); done {
				c.cancel()
				return
			}
		}
	}
}

// handle processes one message; returns true when the session is over.
func (c *Controller) handle(m ctrlMsg) bool {
	switch msg := m.(type) {
	case createGame:
		msg.Reply <- c.doCreate()
	case joinGame:
		msg.Reply <- c.doJoin(msg.Target)
	case startGame:
		msg.Reply <- c.doStart()
	case startNewRound:
		msg.Reply <- c.doNewRound()
	case drawCard:
		msg.Reply <- c.doDraw(c.self.ID, msg.TargetID, msg.CardIndex)
	case shuffleHand:
		msg.Reply <- c.doShuffle(c.self.ID)
	case leaveGame:
		msg.Reply <- c.doLeave()
		return true
	case getState:
		msg.Reply <- c.state
	case remoteState:
		c.applySync(msg.State)
	case remoteAction:
		c.dispatchAction(msg.Action)
	case remoteEvent:
		if c.listener != nil {
			c.listener.OnGameEvent(msg.Event)
		}
	case connChange:
		c.applyConnChange(msg.Change)
	}
	return false
}

func (c *Controller) doCreate() error {
	if c.active {
		return ErrSessionActive
	}
	self := c.identity.LocalPlayer()
	self.IsHost = true
	self.IsConnected = true
	self.Status = engine.StatusPlaying

	roomID := uuid.NewString()
	code := engine.GenerateRoomCode(c.rng)
	state := engine.NewGame(roomID, code, self)

	info := protocol.RoomInfo{
		RoomID:      roomID,
		RoomCode:    code,
		HostName:    self.Name,
		PlayerCount: 1,
		MaxPlayers:  engine.MaxPlayers,
	}
	if err := c.tr.StartHosting(c.ctx, self, info, c.handlers()); err != nil {
		return err
	}

	c.active = true
	c.hosting = true
	c.self = self
	c.setState(state)
	c.broadcastState()
	c.emit(protocol.GameEvent{
		Type:    protocol.EventPlayerJoined,
		Message: self.Name + " joined",
		Data:    map[string]any{"playerId": self.ID, "name": self.Name},
	})
	c.log.Infow("hosting game", "room", roomID, "code", code)
	return nil
}

func (c *Controller) doJoin(target string) error {
	if c.active {
		return ErrSessionActive
	}
	self := c.identity.LocalPlayer()
	self.IsHost = false
	self.IsConnected = true
	if err := c.tr.ConnectToHost(c.ctx, target, self, c.handlers()); err != nil {
		return err
	}

	c.active = true
	c.hosting = false
	c.self = self
	if err := c.tr.SendAction(protocol.Action{Type: protocol.ActionRequestState, PlayerID: self.ID}); err != nil {
		c.log.Debugw("initial state request failed", "err", err)
	}
	// A join can race the host's broadcast; keep asking until a snapshot with
	// a room code lands.
	c.resync = time.NewTicker(c.cfg.ResyncInterval)
	c.log.Infow("joined game", "target", target, "player", self.ID)
	return nil
}

func (c *Controller) doStart() error {
	if !c.active {
		return ErrNoSession
	}
	if !c.hosting {
		return c.tr.SendAction(protocol.Action{Type: protocol.ActionStartGame, PlayerID: c.self.ID})
	}
	ns, err := engine.StartGame(c.rng, c.state)
	if err != nil {
		return err
	}
	c.setState(ns)
	c.broadcastState()
	c.emit(protocol.GameEvent{Type: protocol.EventGameStarted, Message: "game started"})
	return nil
}

func (c *Controller) doNewRound() error {
	if !c.active {
		return ErrNoSession
	}
	if !c.hosting {
		return c.tr.SendAction(protocol.Action{Type: protocol.ActionNewRound, PlayerID: c.self.ID})
	}
	if c.state.Phase != engine.PhaseRoundEnd {
		return engine.ErrWrongPhase
	}
	ns := engine.StartNewRound(c.rng, c.state)
	c.setState(ns)
	c.broadcastState()
	c.emit(protocol.GameEvent{
		Type:    protocol.EventNewRound,
		Message: "new round",
		Data:    map[string]any{"roundNumber": ns.RoundNumber},
	})
	return nil
}

func (c *Controller) doDraw(drawerID, targetID string, cardIndex int) error {
	if !c.active {
		return ErrNoSession
	}
	if !c.hosting {
		return c.tr.SendAction(protocol.Action{
			Type:      protocol.ActionDraw,
			DrawerID:  drawerID,
			TargetID:  targetID,
			CardIndex: cardIndex,
		})
	}

	res := engine.ExecuteDraw(c.rng, c.state, drawerID, targetID, cardIndex)
	if res.Err != nil {
		return res.Err
	}
	prev := c.state
	ns := engine.ApplyDrawResult(c.state, res)

	shayebID := ""
	if ns.Phase == engine.PhaseRoundEnd {
		for _, p := range ns.Players {
			if p.Status == engine.StatusShayeb {
				shayebID = p.ID
			}
		}
		ns = engine.ApplyRoundScores(ns)
	}
	c.setState(ns)
	c.broadcastState()

	// The steal always fires, so clients can animate the card moving even
	// when no pair came of it.
	c.emit(protocol.GameEvent{
		Type:    protocol.EventCardStolen,
		Message: res.Drawer.Name + " drew from " + res.Target.Name,
		Data: map[string]any{
			"drawerId": res.Drawer.ID,
			"targetId": res.Target.ID,
			"cardId":   res.DrawnCard.ID(),
		},
	})
	if res.MadeMatch {
		c.emit(protocol.GameEvent{
			Type:    protocol.EventMatch,
			Message: res.Drawer.Name + " made a pair",
			Data: map[string]any{
				"playerId":      res.Drawer.ID,
				"cardId":        res.DrawnCard.ID(),
				"matchedCardId": res.MatchedCard.ID(),
			},
		})
	}
	for _, p := range ns.Players {
		if p.Status != engine.StatusFinished {
			continue
		}
		before, _, ok := prev.Player(p.ID)
		if ok && before.Status == engine.StatusFinished {
			continue
		}
		c.emit(protocol.GameEvent{
			Type:    protocol.EventPlayerFinished,
			Message: p.Name + " finished",
			Data:    map[string]any{"playerId": p.ID, "position": p.FinishPosition},
		})
	}
	if ns.Phase == engine.PhaseRoundEnd {
		c.emit(protocol.GameEvent{
			Type:    protocol.EventRoundEnded,
			Message: "round over",
			Data:    map[string]any{"shayebId": shayebID, "roundNumber": ns.RoundNumber},
		})
	}
	return nil
}

func (c *Controller) doShuffle(playerID string) error {
	if !c.active {
		return ErrNoSession
	}
	if !c.hosting {
		return c.tr.SendAction(protocol.Action{Type: protocol.ActionShuffle, PlayerID: playerID})
	}
	p, idx, ok := c.state.Player(playerID)
	if !ok {
		return engine.ErrUnknownPlayer
	}
	ns := c.state
	ns.Players = append([]engine.Player(nil), ns.Players...)
	ns.Players[idx] = engine.ShufflePlayerHand(c.rng, p)
	c.setState(ns)
	c.broadcastState()
	return nil
}

func (c *Controller) doLeave() error {
	if !c.active {
		return ErrNoSession
	}
	c.stopResync()
	err := c.tr.Close()
	c.active = false
	c.log.Infow("left game")
	return err
}

// dispatchAction handles an intent arriving over the wire. Host only; every
// action is re-validated against the authoritative state, never trusting the
// sender's view.
func (c *Controller) dispatchAction(a protocol.Action) {
	if !c.hosting {
		return
	}
	switch a.Type {
	case protocol.ActionJoin:
		if a.Player == nil {
			return
		}
		c.admitPlayer(*a.Player)

	case protocol.ActionDraw:
		if err := c.doDraw(a.DrawerID, a.TargetID, a.CardIndex); err != nil {
			c.log.Debugw("rejected remote draw", "drawer", a.DrawerID, "err", err)
		}

	case protocol.ActionShuffle:
		if err := c.doShuffle(a.PlayerID); err != nil {
			c.log.Debugw("rejected remote shuffle", "player", a.PlayerID, "err", err)
		}

	case protocol.ActionStartGame:
		if err := c.doStart(); err != nil {
			c.log.Debugw("rejected remote start", "player", a.PlayerID, "err", err)
		}

	case protocol.ActionNewRound:
		if err := c.doNewRound(); err != nil {
			c.log.Debugw("rejected remote new round", "player", a.PlayerID, "err", err)
		}

	case protocol.ActionRequestState:
		c.broadcastState()

	default:
		c.log.Debugw("dropping unknown action", "type", a.Type)
	}
}

func (c *Controller) admitPlayer(p engine.Player) {
	p.IsConnected = true
	ns, err := engine.AddPlayer(c.state, p)
	if err != nil {
		// Reconnecting players are already seated; just resend state.
		if errors.Is(err, engine.ErrAlreadyJoined) {
			c.broadcastState()
			return
		}
		c.log.Infow("rejected join", "player", p.ID, "err", err)
		return
	}
	c.setState(ns)
	c.broadcastState()
	c.emit(protocol.GameEvent{
		Type:    protocol.EventPlayerJoined,
		Message: p.Name + " joined",
		Data:    map[string]any{"playerId": p.ID, "name": p.Name},
	})
}

// applySync replaces the replica wholesale. Applying the same snapshot twice
// is a no-op by construction.
func (c *Controller) applySync(s engine.GameState) {
	if c.hosting {
		return
	}
	c.setState(s)
	if s.RoomCode != "" {
		c.stopResync()
	}
}

// applyConnChange flips a player's connected flag, emitting an event only on
// an actual toggle so repeated heartbeat-derived signals stay quiet.
func (c *Controller) applyConnChange(cc transport.ConnectionChange) {
	_, idx, ok := c.state.Player(cc.PlayerID)
	if !ok {
		// Our own connectivity matters even before the first snapshot lands.
		if cc.PlayerID == c.self.ID && !cc.Connected {
			c.emit(protocol.GameEvent{
				Type:    protocol.EventConnectionChanged,
				Message: "disconnected",
				Data:    map[string]any{"playerId": cc.PlayerID, "connected": false},
			})
		}
		return
	}
	if c.state.Players[idx].IsConnected == cc.Connected {
		return
	}
	// Lobby leavers vacate their seat; mid-game disconnects keep it so a
	// reconnect can resume.
	if c.hosting && !cc.Connected && c.state.Phase == engine.PhaseLobby && cc.PlayerID != c.self.ID {
		name := c.state.Players[idx].Name
		c.setState(engine.RemovePlayer(c.state, cc.PlayerID))
		c.broadcastState()
		c.emit(protocol.GameEvent{
			Type:    protocol.EventPlayerLeft,
			Message: name + " left",
			Data:    map[string]any{"playerId": cc.PlayerID},
		})
		return
	}
	ns := c.state
	ns.Players = append([]engine.Player(nil), ns.Players...)
	ns.Players[idx].IsConnected = cc.Connected
	c.setState(ns)
	if c.hosting {
		c.broadcastState()
	}
	c.emit(protocol.GameEvent{
		Type:    protocol.EventConnectionChanged,
		Message: ns.Players[idx].Name + " connection changed",
		Data:    map[string]any{"playerId": cc.PlayerID, "connected": cc.Connected},
	})
}

func (c *Controller) setState(s engine.GameState) {
	c.state = s
	if c.listener != nil {
		c.listener.OnStateUpdate(s)
	}
}

func (c *Controller) broadcastState() {
	if !c.hosting {
		return
	}
	if err := c.tr.BroadcastState(c.state); err != nil {
		c.log.Warnw("state broadcast failed", "err", err)
	}
}

// emit delivers an event locally and, when hosting, to every peer.
func (c *Controller) emit(ev protocol.GameEvent) {
	if c.listener != nil {
		c.listener.OnGameEvent(ev)
	}
	if c.hosting {
		if err := c.tr.BroadcastEvent(ev); err != nil {
			c.log.Warnw("event broadcast failed", "err", err)
		}
	}
}

func (c *Controller) resyncTick() <-chan time.Time {
	if c.resync == nil {
		return nil
	}
	return c.resync.C
}

func (c *Controller) stopResync() {
	if c.resync != nil {
		c.resync.Stop()
		c.resync = nil
	}
}
