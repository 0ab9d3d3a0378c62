package scheduler

import (
	"sort"

	"github.com/google/uuid"

	"github.com/g-match/matcher/internal/model"
)

// admission controls which edges enter the greedy step.
type admission struct {
	Threshold      float64
	PriorityBypass int
	BypassEnabled  bool
}

// selectPairs runs the greedy pairing over a consistent snapshot: admit
// edges at or above the threshold (or, when the bypass is enabled, edges
// whose higher-priority endpoint has aged past the bypass floor), sort by
// combined priority then score, and scan for pairs with unused endpoints.
//
// The sort is stable with a canonical (UserA, UserB) tie-break, so the same
// snapshot always produces the same pairing set.
func selectPairs(edges []model.Edge, entries map[uuid.UUID]*model.QueueEntry, adm admission) []model.Edge {
	type candidate struct {
		edge        model.Edge
		prioritySum int
	}

	var candidates []candidate
	for _, e := range edges {
		a, okA := entries[e.UserA]
		b, okB := entries[e.UserB]
		if !okA || !okB {
			continue
		}
		admitted := e.Score >= adm.Threshold
		if !admitted && adm.BypassEnabled {
			admitted = max(a.Priority, b.Priority) >= adm.PriorityBypass
		}
		if !admitted {
			continue
		}
		candidates = append(candidates, candidate{edge: e, prioritySum: a.Priority + b.Priority})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		ci, cj := candidates[i], candidates[j]
		if ci.prioritySum != cj.prioritySum {
			return ci.prioritySum > cj.prioritySum
		}
		if ci.edge.Score != cj.edge.Score {
			return ci.edge.Score > cj.edge.Score
		}
		if ci.edge.UserA != cj.edge.UserA {
			return model.LessID(ci.edge.UserA, cj.edge.UserA)
		}
		return model.LessID(ci.edge.UserB, cj.edge.UserB)
	})

	paired := make(map[uuid.UUID]bool)
	var selected []model.Edge
	for _, c := range candidates {
		if paired[c.edge.UserA] || paired[c.edge.UserB] {
			continue
		}
		paired[c.edge.UserA] = true
		paired[c.edge.UserB] = true
		selected = append(selected, c.edge)
	}
	return selected
}
