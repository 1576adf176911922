package engine

import "time"

// positionRewards maps 1-based finish position to the score delta. Positions
// past the table score zero; with six seats and one shayeb that boundary is
// never reached, but it is intentional rather than an oversight.
var positionRewards = []int{100, 60, 40, 20, 10}

// shayebPenalty is the fixed penalty for losing the round.
const shayebPenalty = -50

// CalculateRoundScores returns the score delta per player id for the round
// that just ended. Waiting players who never played get no delta.
func CalculateRoundScores(players []Player) map[string]int {
	deltas := make(map[string]int, len(players))
	for _, p := range players {
		switch {
		case p.Status == StatusShayeb:
			deltas[p.ID] = shayebPenalty
		case p.FinishPosition > 0:
			deltas[p.ID] = rewardForPosition(p.FinishPosition)
		}
	}
	return deltas
}

func rewardForPosition(pos int) int {
	if pos >= 1 && pos <= len(positionRewards) {
		return positionRewards[pos-1]
	}
	return 0
}

// ApplyRoundScores folds the round deltas into each player's running total.
// Scores can go negative.
func ApplyRoundScores(s GameState) GameState {
	deltas := CalculateRoundScores(s.Players)
	ns := s.clone()
	for i := range ns.Players {
		ns.Players[i].Score += deltas[ns.Players[i].ID]
	}
	ns.LastAction = "round scores applied"
	ns.LastActionTime = time.Now()
	return ns
}
