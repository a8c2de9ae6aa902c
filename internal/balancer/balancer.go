// Package balancer selects a ready worker for the next dispatched task.
package balancer

import "sort"

// Strategy names accepted by New / configuration.
const (
	StrategyRoundRobin  = "round-robin"
	StrategyLeastLoaded = "least-loaded"
)

// Candidate is the minimal view of a ready worker the balancer needs:
// its stable id and lifetime completion count (used to bias least-loaded
// toward balancing total wear, per spec §4.4).
type Candidate struct {
	ID            string
	TasksExecuted int
}

// Balancer picks among ready workers. Implementations must be
// deterministic given identical inputs.
type Balancer interface {
	Pick(candidates []Candidate) (string, bool)
}

// New constructs a Balancer for the named strategy, defaulting to
// round-robin for an unrecognized value.
func New(strategy string) Balancer {
	switch strategy {
	case StrategyLeastLoaded:
		return &leastLoaded{}
	default:
		return &roundRobin{}
	}
}

// roundRobin advances a deterministic ordering of candidate ids, using
// the candidate actually present this call (so removed/added workers
// don't desync the cursor forever).
type roundRobin struct {
	cursor int
}

func (r *roundRobin) Pick(candidates []Candidate) (string, bool) {
	if len(candidates) == 0 {
		return "", false
	}
	ordered := make([]Candidate, len(candidates))
	copy(ordered, candidates)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].ID < ordered[j].ID })

	idx := r.cursor % len(ordered)
	r.cursor = (r.cursor + 1) % len(ordered)
	return ordered[idx].ID, true
}

// leastLoaded picks the candidate with the fewest lifetime completions,
// breaking ties round-robin over the tied candidates in id order.
type leastLoaded struct {
	cursor int
}

func (l *leastLoaded) Pick(candidates []Candidate) (string, bool) {
	if len(candidates) == 0 {
		return "", false
	}
	fewest := candidates[0].TasksExecuted
	for _, c := range candidates[1:] {
		if c.TasksExecuted < fewest {
			fewest = c.TasksExecuted
		}
	}
	var tied []string
	for _, c := range candidates {
		if c.TasksExecuted == fewest {
			tied = append(tied, c.ID)
		}
	}
	sort.Strings(tied)
	idx := l.cursor % len(tied)
	l.cursor++
	return tied[idx], true
}
