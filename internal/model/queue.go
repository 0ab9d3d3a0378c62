// Package model defines the shared data types of the matching pipeline:
// queue entries and compatibility edges in the Redis cache, and the match
// history rows the scheduler commits to Postgres.
package model

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// ErrFormat wraps validation failures on cached data. Entries that fail
// validation are skipped and retried next tick, never marked processed.
var ErrFormat = errors.New("model: data format")

// SurveyKeys is the closed set of survey dimensions. Survey answers and
// weights must cover exactly this key set.
var SurveyKeys = []string{
	"time_1", "time_2", "time_3", "time_4",
	"clean_1", "clean_2", "clean_3", "clean_4",
	"habit_1", "habit_2", "habit_3", "habit_4",
	"social_1", "social_2", "social_3", "social_4", "social_5",
	"etc_1", "etc_2",
}

// Preference is a mate preference on a binary attribute.
type Preference int

const (
	PrefDontCare Preference = 0
	PrefWant     Preference = 1
	PrefAvoid    Preference = 2
)

// BasicProfile holds the hard and soft attributes of a candidate.
type BasicProfile struct {
	Gender       string     `json:"gender"` // "M" or "F"
	DormBuilding string     `json:"dorm_building"`
	StayPeriod   int        `json:"stay_period"` // minimum stay in semesters, 1..3
	IsSmoker     bool       `json:"is_smoker"`
	HasFridge    bool       `json:"has_fridge"`
	MateFridge   Preference `json:"mate_fridge"`
	HasRouter    bool       `json:"has_router"`
	MateRouter   Preference `json:"mate_router"`
}

// QueueEntry is one candidate's opt-in record in the cache, keyed by
// "match:user-queue:<user_id>". The producer writes it, the edge calculator
// flips EdgeCalculated, and the scheduler increments Priority or deletes the
// entry when the candidate is paired or expires.
type QueueEntry struct {
	UserID         uuid.UUID          `json:"user_id"`
	PropertyID     int64              `json:"property_id"`
	SurveyID       int64              `json:"survey_id"`
	Basic          BasicProfile       `json:"basic"`
	Survey         map[string]int     `json:"survey"`
	Weights        map[string]float64 `json:"weights"`
	Priority       int                `json:"priority"`
	RegisteredAt   int64              `json:"registered_at"` // unix seconds
	EdgeCalculated bool               `json:"edge_calculated"`
}

// Validate checks the invariants the rest of the pipeline relies on:
// gender is M/F, answers are 1..5, weights come from the allowed set, and
// survey and weights cover exactly the closed dimension key set.
func (e *QueueEntry) Validate() error {
	if e.UserID == uuid.Nil {
		return fmt.Errorf("queue entry: missing user_id: %w", ErrFormat)
	}
	if e.Basic.Gender != "M" && e.Basic.Gender != "F" {
		return fmt.Errorf("queue entry %s: gender %q: %w", e.UserID, e.Basic.Gender, ErrFormat)
	}
	if e.Basic.StayPeriod < 1 || e.Basic.StayPeriod > 3 {
		return fmt.Errorf("queue entry %s: stay_period %d: %w", e.UserID, e.Basic.StayPeriod, ErrFormat)
	}
	if len(e.Survey) != len(SurveyKeys) || len(e.Weights) != len(SurveyKeys) {
		return fmt.Errorf("queue entry %s: survey/weights must have %d keys: %w",
			e.UserID, len(SurveyKeys), ErrFormat)
	}
	for _, k := range SurveyKeys {
		ans, ok := e.Survey[k]
		if !ok {
			return fmt.Errorf("queue entry %s: missing survey key %q: %w", e.UserID, k, ErrFormat)
		}
		if ans < 1 || ans > 5 {
			return fmt.Errorf("queue entry %s: survey %q=%d out of 1..5: %w", e.UserID, k, ans, ErrFormat)
		}
		w, ok := e.Weights[k]
		if !ok {
			return fmt.Errorf("queue entry %s: missing weight key %q: %w", e.UserID, k, ErrFormat)
		}
		if w != 0.5 && w != 1.0 && w != 1.5 {
			return fmt.Errorf("queue entry %s: weight %q=%v not in {0.5,1.0,1.5}: %w", e.UserID, k, w, ErrFormat)
		}
	}
	return nil
}
