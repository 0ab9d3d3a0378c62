package model

import (
	"bytes"
	"fmt"

	"github.com/google/uuid"
)

// Key prefixes in the shared Redis cache. The producer service owns the
// queue prefix; the edge prefix and lock key belong to the matcher.
const (
	QueueKeyPrefix = "match:user-queue:"
	EdgeKeyPrefix  = "match:edge:"
	LockKey        = "match:gc:lock"
)

// Edge is a cached symmetric compatibility record between two candidates.
// UserA precedes UserB in the canonical byte ordering, so the pair (u,v)
// and (v,u) always map to the same key.
type Edge struct {
	UserA     uuid.UUID `json:"user_a_id"`
	UserB     uuid.UUID `json:"user_b_id"`
	Score     float64   `json:"score"`
	CreatedAt int64     `json:"created_at"` // unix seconds
}

// LessID reports whether a sorts before b in the canonical UUID ordering.
func LessID(a, b uuid.UUID) bool {
	return bytes.Compare(a[:], b[:]) < 0
}

// OrderIDs returns the pair in canonical order.
func OrderIDs(a, b uuid.UUID) (lo, hi uuid.UUID) {
	if LessID(b, a) {
		return b, a
	}
	return a, b
}

// QueueKey returns the cache key for a candidate's queue entry.
func QueueKey(userID uuid.UUID) string {
	return QueueKeyPrefix + userID.String()
}

// EdgeKey returns the canonical cache key for the pair (a,b).
// EdgeKey(a,b) == EdgeKey(b,a).
func EdgeKey(a, b uuid.UUID) string {
	lo, hi := OrderIDs(a, b)
	return fmt.Sprintf("%s%s:%s", EdgeKeyPrefix, lo, hi)
}

// NewEdge builds an edge with endpoints in canonical order.
func NewEdge(a, b uuid.UUID, score float64, createdAt int64) Edge {
	lo, hi := OrderIDs(a, b)
	return Edge{UserA: lo, UserB: hi, Score: score, CreatedAt: createdAt}
}
