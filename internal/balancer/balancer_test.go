package balancer

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRoundRobin_AdvancesDeterministically(t *testing.T) {
	b := New(StrategyRoundRobin)
	candidates := []Candidate{{ID: "w1"}, {ID: "w2"}, {ID: "w3"}}

	first, ok := b.Pick(candidates)
	assert.True(t, ok)
	second, _ := b.Pick(candidates)
	third, _ := b.Pick(candidates)
	fourth, _ := b.Pick(candidates)

	assert.Equal(t, "w1", first)
	assert.Equal(t, "w2", second)
	assert.Equal(t, "w3", third)
	assert.Equal(t, "w1", fourth, "wraps around")
}

func TestRoundRobin_SkipsAbsentWorkers(t *testing.T) {
	b := New(StrategyRoundRobin)
	full := []Candidate{{ID: "w1"}, {ID: "w2"}, {ID: "w3"}}

	b.Pick(full) // cursor -> 1 (w1 picked)

	reduced := []Candidate{{ID: "w1"}, {ID: "w3"}}
	picked, ok := b.Pick(reduced)
	assert.True(t, ok)
	assert.Contains(t, []string{"w1", "w3"}, picked)
}

func TestRoundRobin_EmptyCandidates(t *testing.T) {
	b := New(StrategyRoundRobin)
	_, ok := b.Pick(nil)
	assert.False(t, ok)
}

func TestLeastLoaded_PicksFewestCompletions(t *testing.T) {
	b := New(StrategyLeastLoaded)
	candidates := []Candidate{
		{ID: "w1", TasksExecuted: 10},
		{ID: "w2", TasksExecuted: 2},
		{ID: "w3", TasksExecuted: 5},
	}

	picked, ok := b.Pick(candidates)
	assert.True(t, ok)
	assert.Equal(t, "w2", picked)
}

func TestLeastLoaded_TiesBreakByID(t *testing.T) {
	b := New(StrategyLeastLoaded)
	candidates := []Candidate{
		{ID: "w2", TasksExecuted: 3},
		{ID: "w1", TasksExecuted: 3},
	}

	picked, ok := b.Pick(candidates)
	assert.True(t, ok)
	assert.Equal(t, "w1", picked)
}

func TestNewDefaultsToRoundRobinForUnknownStrategy(t *testing.T) {
	b := New("nonsense")
	_, isRR := b.(*roundRobin)
	assert.True(t, isRR)
}
