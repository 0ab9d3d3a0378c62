package scoring_test

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/g-match/matcher/internal/model"
	"github.com/g-match/matcher/internal/scoring"
)

func entry(mutate func(*model.QueueEntry)) *model.QueueEntry {
	survey := make(map[string]int, len(model.SurveyKeys))
	weights := make(map[string]float64, len(model.SurveyKeys))
	for _, k := range model.SurveyKeys {
		survey[k] = 3
		weights[k] = 1.0
	}
	e := &model.QueueEntry{
		UserID:  uuid.New(),
		Basic:   model.BasicProfile{Gender: "M", DormBuilding: "G", StayPeriod: 2},
		Survey:  survey,
		Weights: weights,
	}
	if mutate != nil {
		mutate(e)
	}
	return e
}

func TestHardFilterGender(t *testing.T) {
	m := entry(nil)
	f := entry(func(e *model.QueueEntry) { e.Basic.Gender = "F" })

	assert.True(t, scoring.PassesHardFilter(m, entry(nil)))
	assert.False(t, scoring.PassesHardFilter(m, f))

	// Everything except gender is soft: a maximally mismatched same-gender
	// pair still passes.
	odd := entry(func(e *model.QueueEntry) {
		e.Basic.DormBuilding = "N"
		e.Basic.StayPeriod = 3
		e.Basic.IsSmoker = true
	})
	assert.True(t, scoring.PassesHardFilter(m, odd))
}

func TestIdenticalProfilesScore100(t *testing.T) {
	a, b := entry(nil), entry(nil)
	assert.Equal(t, 100.0, scoring.Compatibility(a, b))
}

func TestCompatibilityIsSymmetric(t *testing.T) {
	a := entry(func(e *model.QueueEntry) {
		e.Survey["time_1"] = 5
		e.Survey["clean_3"] = 1
		e.Weights["time_1"] = 1.5
		e.Basic.HasFridge = true
	})
	b := entry(func(e *model.QueueEntry) {
		e.Survey["habit_2"] = 4
		e.Weights["habit_2"] = 0.5
		e.Basic.MateFridge = model.PrefAvoid
	})
	assert.Equal(t, scoring.Compatibility(a, b), scoring.Compatibility(b, a))
}

func TestSurveyDistance(t *testing.T) {
	a := entry(nil)
	// One dimension two steps apart: sim drops from 1.0 to 0.5 on that key.
	// S = (18 + 0.5) / 19 in both directions, C = 100 * 18.5/19 = 97.37.
	b := entry(func(e *model.QueueEntry) { e.Survey["etc_1"] = 5 })
	assert.Equal(t, 97.37, scoring.Compatibility(a, b))

	// Maximum distance on one dimension contributes zero similarity.
	c := entry(func(e *model.QueueEntry) { e.Survey["etc_1"] = 1; e.Survey["time_2"] = 5 })
	a2 := entry(func(e *model.QueueEntry) { e.Survey["etc_1"] = 5; e.Survey["time_2"] = 1 })
	// Two keys at sim 0: C = 100 * 17/19 = 89.47.
	assert.Equal(t, 89.47, scoring.Compatibility(a2, c))
}

func TestWeightsBiasTheScore(t *testing.T) {
	a := entry(nil)
	low := entry(func(e *model.QueueEntry) {
		e.Survey["social_1"] = 5
		e.Weights["social_1"] = 0.5
	})
	high := entry(func(e *model.QueueEntry) {
		e.Survey["social_1"] = 5
		e.Weights["social_1"] = 1.5
	})
	// The mismatched dimension hurts more when the mismatching side weights
	// it heavily. a's direction is identical in both cases.
	assert.Greater(t, scoring.Compatibility(a, low), scoring.Compatibility(a, high))
}

func TestBasicMismatchPenalties(t *testing.T) {
	a := entry(nil)

	dorm := entry(func(e *model.QueueEntry) { e.Basic.DormBuilding = "I" })
	assert.Equal(t, 95.0, scoring.Compatibility(a, dorm))

	dormAndStay := entry(func(e *model.QueueEntry) {
		e.Basic.DormBuilding = "I"
		e.Basic.StayPeriod = 1
	})
	assert.Equal(t, 90.0, scoring.Compatibility(a, dormAndStay))
}

func TestPreferencePenalties(t *testing.T) {
	// a wants a fridge, b has none: -5.
	a := entry(func(e *model.QueueEntry) { e.Basic.MateFridge = model.PrefWant })
	b := entry(nil)
	assert.Equal(t, 95.0, scoring.Compatibility(a, b))

	// b additionally avoids routers but a has one: -5 more, both directions counted.
	a2 := entry(func(e *model.QueueEntry) {
		e.Basic.MateFridge = model.PrefWant
		e.Basic.HasRouter = true
	})
	b2 := entry(func(e *model.QueueEntry) { e.Basic.MateRouter = model.PrefAvoid })
	assert.Equal(t, 90.0, scoring.Compatibility(a2, b2))

	// Satisfied preferences cost nothing.
	a3 := entry(func(e *model.QueueEntry) { e.Basic.MateFridge = model.PrefWant })
	b3 := entry(func(e *model.QueueEntry) { e.Basic.HasFridge = true })
	assert.Equal(t, 100.0, scoring.Compatibility(a3, b3))
}

func TestScoreClampedAtZero(t *testing.T) {
	// Maximally distant surveys plus every penalty cannot go below zero.
	a := entry(func(e *model.QueueEntry) {
		for _, k := range model.SurveyKeys {
			e.Survey[k] = 1
		}
		e.Basic.DormBuilding = "I"
		e.Basic.StayPeriod = 1
		e.Basic.MateFridge = model.PrefWant
		e.Basic.MateRouter = model.PrefWant
	})
	b := entry(func(e *model.QueueEntry) {
		for _, k := range model.SurveyKeys {
			e.Survey[k] = 5
		}
		e.Basic.MateFridge = model.PrefWant
		e.Basic.MateRouter = model.PrefWant
	})
	assert.Equal(t, 0.0, scoring.Compatibility(a, b))
}

func TestZeroWeightTotalContributesZero(t *testing.T) {
	// Directions with no usable weights contribute 0, not NaN.
	a := entry(func(e *model.QueueEntry) { e.Survey = map[string]int{} })
	b := entry(nil)
	got := scoring.Compatibility(a, b)
	assert.Equal(t, 0.0, got)
}
