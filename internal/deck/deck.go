package deck

import (
	"fmt"
	"math/rand"
)

// Suit is one of the four standard playing card suits.
type Suit string

const (
	SuitHearts   Suit = "hearts"
	SuitDiamonds Suit = "diamonds"
	SuitClubs    Suit = "clubs"
	SuitSpades   Suit = "spades"
)

// Suits lists all suits in a stable order.
var Suits = []Suit{SuitHearts, SuitDiamonds, SuitClubs, SuitSpades}

// Rank is a card rank, ace low (1) through king (13).
type Rank int

const (
	RankAce   Rank = 1
	RankJack  Rank = 11
	RankQueen Rank = 12
	RankKing  Rank = 13
)

// Card is a single immutable playing card.
type Card struct {
	Suit Suit `json:"suit"`
	Rank Rank `json:"rank"`
}

// ID returns a stable identifier derived from suit and rank. Two cards are the
// same physical card iff their IDs are equal.
func (c Card) ID() string {
	return fmt.Sprintf("%s_%d", c.Suit, c.Rank)
}

// Matches reports whether two cards form a pair, i.e. share a rank.
func (c Card) Matches(other Card) bool {
	return c.Rank == other.Rank
}

// Size is the number of cards in a Shayeb deck: a standard 52-card deck with
// three of the four kings removed. The surviving king is the Shayeb card.
const Size = 49

// New builds the 49-card deck. One suit is chosen at random to keep its king;
// the other three kings are left out.
func New(rng *rand.Rand) []Card {
	keptKingSuit := Suits[rng.Intn(len(Suits))]

	cards := make([]Card, 0, Size)
	for _, s := range Suits {
		for r := RankAce; r <= RankKing; r++ {
			if r == RankKing && s != keptKingSuit {
				continue
			}
			cards = append(cards, Card{Suit: s, Rank: r})
		}
	}
	return cards
}

// Shuffle returns a uniformly shuffled copy of the given cards.
func Shuffle(rng *rand.Rand, cards []Card) []Card {
	out := make([]Card, len(cards))
	copy(out, cards)
	rng.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
	return out
}
