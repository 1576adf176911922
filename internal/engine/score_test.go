package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func finishedPlayer(id string, pos int) Player {
	p := testPlayer(id)
	p.Status = StatusFinished
	p.FinishPosition = pos
	return p
}

func TestCalculateRoundScores(t *testing.T) {
	shayeb := testPlayer("loser")
	shayeb.Status = StatusShayeb
	shayeb.FinishPosition = 4

	waiting := testPlayer("spectator")
	waiting.Status = StatusWaiting

	players := []Player{
		finishedPlayer("first", 1),
		finishedPlayer("second", 2),
		finishedPlayer("third", 3),
		shayeb,
		waiting,
	}

	deltas := CalculateRoundScores(players)

	assert.Equal(t, 100, deltas["first"])
	assert.Equal(t, 60, deltas["second"])
	assert.Equal(t, 40, deltas["third"])
	assert.Equal(t, -50, deltas["loser"])
	_, hasWaiting := deltas["spectator"]
	assert.False(t, hasWaiting, "waiting players get no delta")
}

func TestCalculateRoundScoresPositionBoundary(t *testing.T) {
	deltas := CalculateRoundScores([]Player{
		finishedPlayer("fourth", 4),
		finishedPlayer("fifth", 5),
		finishedPlayer("sixth", 6),
		finishedPlayer("seventh", 7),
	})

	assert.Equal(t, 20, deltas["fourth"])
	assert.Equal(t, 10, deltas["fifth"])
	assert.Equal(t, 0, deltas["sixth"], "positions past the table score zero")
	assert.Equal(t, 0, deltas["seventh"])
}

func TestApplyRoundScoresAccumulates(t *testing.T) {
	s := lobbyWith(3)
	s.Players[0].Status = StatusFinished
	s.Players[0].FinishPosition = 1
	s.Players[0].Score = 10
	s.Players[1].Status = StatusShayeb
	s.Players[1].FinishPosition = 2
	s.Players[1].Score = 20
	s.Players[2].Status = StatusWaiting

	ns := ApplyRoundScores(s)

	assert.Equal(t, 110, ns.Players[0].Score)
	assert.Equal(t, -30, ns.Players[1].Score)
	assert.Equal(t, 0, ns.Players[2].Score)

	// Scores can go negative across rounds.
	ns2 := ApplyRoundScores(ns)
	assert.Equal(t, -80, ns2.Players[1].Score)
}
