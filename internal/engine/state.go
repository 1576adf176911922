package engine

import (
	"time"

	"shayeb/internal/deck"
)

// Phase represents the lifecycle stage of a Shayeb session.
type Phase string

const (
	// PhaseLobby is the pre-game state where players gather.
	PhaseLobby Phase = "lobby"
	// PhaseDealing is the transient state while hands are dealt.
	PhaseDealing Phase = "dealing"
	// PhasePlaying is the active state where draws happen.
	PhasePlaying Phase = "playing"
	// PhaseRoundEnd is reached when at most one player still holds cards.
	PhaseRoundEnd Phase = "roundEnd"
	// PhaseGameEnd is the terminal state after the final round.
	PhaseGameEnd Phase = "gameEnd"
)

// PlayerStatus tracks a player's standing within the current round.
type PlayerStatus string

const (
	// StatusPlaying means the player still holds cards and takes turns.
	StatusPlaying PlayerStatus = "playing"
	// StatusFinished means the player emptied their hand this round.
	StatusFinished PlayerStatus = "finished"
	// StatusShayeb marks the round's loser, left holding the lone king.
	StatusShayeb PlayerStatus = "shayeb"
	// StatusWaiting marks a late joiner sitting out until the next round.
	StatusWaiting PlayerStatus = "waiting"
)

// MaxPlayers is the room capacity.
const MaxPlayers = 6

// Player holds one participant's state. Hand order carries no meaning beyond
// presentation; rules only care about multiset membership.
type Player struct {
	ID             string       `json:"id"`
	Name           string       `json:"name"`
	Avatar         string       `json:"avatar,omitempty"`
	Hand           []deck.Card  `json:"hand"`
	Score          int          `json:"score"`
	Status         PlayerStatus `json:"status"`
	FinishPosition int          `json:"finishPosition"` // 0 = not yet finished
	IsHost         bool         `json:"isHost"`
	IsConnected    bool         `json:"isConnected"`
}

// GameState is the sole authoritative aggregate for a session. Every
// transition produces a fresh value; nothing mutates a state in place.
// Player order defines the turn rotation.
type GameState struct {
	RoomID             string    `json:"roomId"`
	RoomCode           string    `json:"roomCode"`
	Players            []Player  `json:"players"`
	CurrentPlayerIndex int       `json:"currentPlayerIndex"`
	Phase              Phase     `json:"phase"`
	RoundNumber        int       `json:"roundNumber"`
	NextFinishPosition int       `json:"nextFinishPosition"`
	LastAction         string    `json:"lastAction"`
	LastActionTime     time.Time `json:"lastActionTime"`
	HostID             string    `json:"hostId"`
}

// NewGame creates the initial state for a freshly opened room with the host
// as its only player.
func NewGame(roomID, roomCode string, host Player) GameState {
	host.IsHost = true
	host.IsConnected = true
	if host.Status == "" {
		host.Status = StatusPlaying
	}
	return GameState{
		RoomID:             roomID,
		RoomCode:           roomCode,
		Players:            []Player{host},
		CurrentPlayerIndex: 0,
		Phase:              PhaseLobby,
		RoundNumber:        1,
		NextFinishPosition: 1,
		HostID:             host.ID,
	}
}

// Player returns a copy of the player with the given id and its index in the
// turn rotation.
func (s GameState) Player(id string) (Player, int, bool) {
	for i, p := range s.Players {
		if p.ID == id {
			return clonePlayer(p), i, true
		}
	}
	return Player{}, -1, false
}

// CurrentPlayer returns a copy of the player whose turn it is.
func (s GameState) CurrentPlayer() (Player, bool) {
	if s.CurrentPlayerIndex < 0 || s.CurrentPlayerIndex >= len(s.Players) {
		return Player{}, false
	}
	return clonePlayer(s.Players[s.CurrentPlayerIndex]), true
}

// PlayingCount returns how many players are still actively playing.
func (s GameState) PlayingCount() int {
	n := 0
	for _, p := range s.Players {
		if p.Status == StatusPlaying {
			n++
		}
	}
	return n
}

func (s GameState) clone() GameState {
	out := s
	out.Players = clonePlayers(s.Players)
	return out
}

func clonePlayer(p Player) Player {
	out := p
	out.Hand = make([]deck.Card, len(p.Hand))
	copy(out.Hand, p.Hand)
	return out
}

func clonePlayers(players []Player) []Player {
	out := make([]Player, len(players))
	for i, p := range players {
		out[i] = clonePlayer(p)
	}
	return out
}
