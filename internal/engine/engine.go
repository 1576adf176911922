package engine

import (
	"errors"
	"fmt"
	"math/rand"
	"time"

	"shayeb/internal/deck"
)

var ErrRoomFull = errors.New("room is full")
var ErrAlreadyJoined = errors.New("player already in room")
var ErrWrongPhase = errors.New("action not allowed in this phase")
var ErrNotYourTurn = errors.New("not this player's turn")
var ErrSelfDraw = errors.New("cannot draw from own hand")
var ErrDrawerNotPlaying = errors.New("drawer is not playing")
var ErrTargetNotPlaying = errors.New("target is not playing")
var ErrTargetEmptyHand = errors.New("target has no cards")
var ErrUnknownPlayer = errors.New("unknown player")
var ErrBadCardIndex = errors.New("card index out of range")
var ErrCannotStart = errors.New("need at least two players in the lobby")

// All transitions in this package are pure: they take a state plus an
// injected random source and return a new state, never touching the input.
// Invalid attempts return the input unchanged with a sentinel error so the
// host can apply remote actions without pre-validating them twice.

// CanPlayerJoin reports whether a player may join the room. Late joins are
// allowed in any phase as long as there is a free seat.
func CanPlayerJoin(s GameState, playerID string) bool {
	if len(s.Players) >= MaxPlayers {
		return false
	}
	_, _, exists := s.Player(playerID)
	return !exists
}

// AddPlayer appends a player to the rotation. Outside the lobby the player
// enters as a waiting spectator with an empty hand and is activated at the
// next round start.
func AddPlayer(s GameState, p Player) (GameState, error) {
	if len(s.Players) >= MaxPlayers {
		return s, ErrRoomFull
	}
	if _, _, exists := s.Player(p.ID); exists {
		return s, ErrAlreadyJoined
	}

	ns := s.clone()
	p = clonePlayer(p)
	if ns.Phase == PhaseLobby {
		if p.Status == "" {
			p.Status = StatusPlaying
		}
	} else {
		p.Status = StatusWaiting
		p.Hand = nil
		p.FinishPosition = 0
	}
	ns.Players = append(ns.Players, p)
	ns.LastAction = fmt.Sprintf("%s joined the room", p.Name)
	ns.LastActionTime = time.Now()
	return ns, nil
}

// RemovePlayer drops a player from the rotation, keeping the turn index in
// bounds and pointed at a playing player when the round is live.
func RemovePlayer(s GameState, playerID string) GameState {
	_, idx, ok := s.Player(playerID)
	if !ok {
		return s
	}

	ns := s.clone()
	name := ns.Players[idx].Name
	ns.Players = append(ns.Players[:idx], ns.Players[idx+1:]...)

	if len(ns.Players) == 0 {
		ns.CurrentPlayerIndex = 0
		return ns
	}
	if idx < ns.CurrentPlayerIndex {
		ns.CurrentPlayerIndex--
	}
	if ns.CurrentPlayerIndex >= len(ns.Players) {
		ns.CurrentPlayerIndex = 0
	}
	if ns.Phase == PhasePlaying && ns.Players[ns.CurrentPlayerIndex].Status != StatusPlaying {
		ns.CurrentPlayerIndex = nextPlayingIndex(ns.Players, ns.CurrentPlayerIndex-1)
	}
	ns.LastAction = fmt.Sprintf("%s left the room", name)
	ns.LastActionTime = time.Now()
	return ns
}

// DealCards builds and shuffles a fresh deck, deals it round-robin one card
// at a time, then strips the pairs each player was dealt. Hands are
// reshuffled after stripping so pairing order cannot be inferred from deal
// order.
func DealCards(rng *rand.Rand, players []Player) []Player {
	out := clonePlayers(players)
	for i := range out {
		out[i].Hand = nil
	}

	cards := deck.Shuffle(rng, deck.New(rng))
	for i, c := range cards {
		out[i%len(out)].Hand = append(out[i%len(out)].Hand, c)
	}
	for i := range out {
		out[i].Hand = stripPairs(rng, out[i].Hand)
	}
	return out
}

// stripPairs drops every full pair of equal-ranked cards from a hand,
// keeping the odd one out when a rank occurs an odd number of times.
func stripPairs(rng *rand.Rand, hand []deck.Card) []deck.Card {
	counts := map[deck.Rank]int{}
	for _, c := range hand {
		counts[c.Rank]++
	}
	kept := make([]deck.Card, 0, len(hand))
	taken := map[deck.Rank]bool{}
	for _, c := range hand {
		if counts[c.Rank]%2 == 1 && !taken[c.Rank] {
			kept = append(kept, c)
			taken[c.Rank] = true
		}
	}
	return deck.Shuffle(rng, kept)
}

// ValidateDraw checks a proposed draw against the current state and returns
// the exact rejection reason, or nil if the draw is legal.
func ValidateDraw(s GameState, drawerID, targetID string) error {
	if s.Phase != PhasePlaying {
		return ErrWrongPhase
	}
	drawer, drawerIdx, ok := s.Player(drawerID)
	if !ok {
		return ErrUnknownPlayer
	}
	target, _, ok := s.Player(targetID)
	if !ok {
		return ErrUnknownPlayer
	}
	if drawerIdx != s.CurrentPlayerIndex {
		return ErrNotYourTurn
	}
	if drawerID == targetID {
		return ErrSelfDraw
	}
	if drawer.Status != StatusPlaying {
		return ErrDrawerNotPlaying
	}
	if target.Status != StatusPlaying {
		return ErrTargetNotPlaying
	}
	if len(target.Hand) == 0 {
		return ErrTargetEmptyHand
	}
	return nil
}

// IsValidDraw reports whether the draw would be accepted.
func IsValidDraw(s GameState, drawerID, targetID string) bool {
	return ValidateDraw(s, drawerID, targetID) == nil
}

// DrawResult carries the outcome of a single draw so the caller can both
// apply it to the state and drive UI feedback from it.
type DrawResult struct {
	Success     bool
	DrawnCard   deck.Card
	MadeMatch   bool
	MatchedCard deck.Card
	Drawer      Player
	Target      Player
	Err         error
}

// ExecuteDraw moves one card from the target's hand into the drawer's. Pass
// cardIndex -1 to pick uniformly at random, or a valid index for
// deterministic selection (e.g. chosen by a remote sender). If the drawn card
// pairs with a card already in the drawer's hand, both are discarded; at most
// one pair per draw, first match by hand order. The drawer's resulting hand
// is reshuffled to hide card positions. A failed draw leaves state untouched.
func ExecuteDraw(rng *rand.Rand, s GameState, drawerID, targetID string, cardIndex int) DrawResult {
	if err := ValidateDraw(s, drawerID, targetID); err != nil {
		return DrawResult{Err: err}
	}
	drawer, _, _ := s.Player(drawerID)
	target, _, _ := s.Player(targetID)

	if cardIndex >= len(target.Hand) {
		return DrawResult{Err: ErrBadCardIndex}
	}
	if cardIndex < 0 {
		cardIndex = rng.Intn(len(target.Hand))
	}

	drawn := target.Hand[cardIndex]
	target.Hand = append(target.Hand[:cardIndex], target.Hand[cardIndex+1:]...)

	res := DrawResult{Success: true, DrawnCard: drawn}
	matchIdx := -1
	for i, c := range drawer.Hand {
		if c.Matches(drawn) {
			matchIdx = i
			break
		}
	}
	if matchIdx >= 0 {
		res.MadeMatch = true
		res.MatchedCard = drawer.Hand[matchIdx]
		drawer.Hand = append(drawer.Hand[:matchIdx], drawer.Hand[matchIdx+1:]...)
	} else {
		drawer.Hand = append(drawer.Hand, drawn)
	}
	drawer.Hand = deck.Shuffle(rng, drawer.Hand)

	res.Drawer = drawer
	res.Target = target
	return res
}

// ApplyDrawResult folds a successful draw back into the state: swaps in the
// updated players, records finish positions for freshly emptied hands,
// advances the turn, and closes the round when at most one player is left
// playing. The sole remainder is marked shayeb with the tail finish position.
func ApplyDrawResult(s GameState, res DrawResult) GameState {
	if !res.Success {
		return s
	}
	ns := s.clone()
	for i := range ns.Players {
		switch ns.Players[i].ID {
		case res.Drawer.ID:
			ns.Players[i] = clonePlayer(res.Drawer)
		case res.Target.ID:
			ns.Players[i] = clonePlayer(res.Target)
		}
	}

	// List order keeps simultaneous emptying deterministic.
	for i := range ns.Players {
		p := &ns.Players[i]
		if p.Status == StatusPlaying && len(p.Hand) == 0 {
			p.Status = StatusFinished
			p.FinishPosition = ns.NextFinishPosition
			ns.NextFinishPosition++
		}
	}

	ns.CurrentPlayerIndex = nextPlayingIndex(ns.Players, ns.CurrentPlayerIndex)

	if ns.PlayingCount() <= 1 {
		ns.Phase = PhaseRoundEnd
		for i := range ns.Players {
			p := &ns.Players[i]
			if p.Status == StatusPlaying {
				p.Status = StatusShayeb
				p.FinishPosition = ns.NextFinishPosition
			}
		}
	}

	ns.LastAction = fmt.Sprintf("%s drew a card from %s", res.Drawer.Name, res.Target.Name)
	ns.LastActionTime = time.Now()
	return ns
}

// nextPlayingIndex finds the next player in rotation with status playing,
// searching at most one full lap. Returns from unchanged if none exist.
func nextPlayingIndex(players []Player, from int) int {
	n := len(players)
	if n == 0 {
		return from
	}
	for step := 1; step <= n; step++ {
		idx := ((from+step)%n + n) % n
		if players[idx].Status == StatusPlaying {
			return idx
		}
	}
	return from
}

// CanStart reports whether the game can begin.
func CanStart(s GameState) bool {
	return s.Phase == PhaseLobby && len(s.Players) >= 2
}

// StartGame deals the first round and moves the session into play.
func StartGame(rng *rand.Rand, s GameState) (GameState, error) {
	if !CanStart(s) {
		return s, ErrCannotStart
	}
	ns := s.clone()
	ns.Players = DealCards(rng, ns.Players)
	ns.Phase = PhasePlaying
	ns.CurrentPlayerIndex = 0
	ns.NextFinishPosition = 1
	ns.LastAction = "game started"
	ns.LastActionTime = time.Now()
	return ns, nil
}

// StartNewRound resets every player to playing (activating waiting late
// joiners), re-deals, and bumps the round number.
func StartNewRound(rng *rand.Rand, s GameState) GameState {
	ns := s.clone()
	for i := range ns.Players {
		ns.Players[i].Status = StatusPlaying
		ns.Players[i].FinishPosition = 0
		ns.Players[i].Hand = nil
	}
	ns.Players = DealCards(rng, ns.Players)
	ns.Phase = PhasePlaying
	ns.CurrentPlayerIndex = 0
	ns.NextFinishPosition = 1
	ns.RoundNumber++
	ns.LastAction = fmt.Sprintf("round %d started", ns.RoundNumber)
	ns.LastActionTime = time.Now()
	return ns
}

// ShufflePlayerHand re-permutes a player's hand. Cosmetic, always legal.
func ShufflePlayerHand(rng *rand.Rand, p Player) Player {
	out := clonePlayer(p)
	out.Hand = deck.Shuffle(rng, out.Hand)
	return out
}

const roomCodeLetters = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"

// GenerateRoomCode returns a 4-letter shareable room code. Collision
// handling belongs to the room-creation layer.
func GenerateRoomCode(rng *rand.Rand) string {
	code := make([]byte, 4)
	for i := range code {
		code[i] = roomCodeLetters[rng.Intn(len(roomCodeLetters))]
	}
	return string(code)
}
