// Package scoring implements the compatibility model between two queued
// candidates: a hard eligibility filter and a weighted survey-distance score
// with soft penalties for basic-profile mismatches.
//
// The hard filter checks gender only; dorm building, stay period, and
// fridge/router preferences are priced as score penalties instead of
// rejecting the pair outright.
package scoring

import (
	"math"

	"github.com/g-match/matcher/internal/model"
)

// penaltyPoints is subtracted once per mismatched soft attribute or
// violated preference.
const penaltyPoints = 5.0

// PassesHardFilter reports whether a pair is eligible at all. Ineligible
// pairs get no edge.
func PassesHardFilter(a, b *model.QueueEntry) bool {
	return a.Basic.Gender == b.Basic.Gender
}

// Compatibility computes the symmetric 0..100 score for a pair:
//
//	C(a,b) = 100 * (S(a→b) + S(b→a)) / 2 − penalties
//
// clamped to [0,100] and rounded to two fractional digits. Compatibility is
// symmetric: Compatibility(a,b) == Compatibility(b,a).
func Compatibility(a, b *model.QueueEntry) float64 {
	sim := 100 * (directional(a, b) + directional(b, a)) / 2
	score := sim - basicPenalty(a, b)
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	return round2(score)
}

// directional computes S(from→to) = Σ w_k·(1 − |s_from(k) − s_to(k)|/4) / Σ w_k
// over the closed dimension set. A zero weight total contributes 0.
func directional(from, to *model.QueueEntry) float64 {
	var weightedSum, weightTotal float64
	for _, k := range model.SurveyKeys {
		sf, okF := from.Survey[k]
		st, okT := to.Survey[k]
		if !okF || !okT {
			continue
		}
		w := from.Weights[k]
		sim := 1 - math.Abs(float64(sf-st))/4
		weightedSum += w * sim
		weightTotal += w
	}
	if weightTotal == 0 {
		return 0
	}
	return weightedSum / weightTotal
}

// basicPenalty prices the soft mismatches: dorm building, stay period, and
// each fridge/router preference either side holds against the counterparty.
func basicPenalty(a, b *model.QueueEntry) float64 {
	var penalty float64
	if a.Basic.DormBuilding != b.Basic.DormBuilding {
		penalty += penaltyPoints
	}
	if a.Basic.StayPeriod != b.Basic.StayPeriod {
		penalty += penaltyPoints
	}
	penalty += preferencePenalty(a.Basic, b.Basic)
	penalty += preferencePenalty(b.Basic, a.Basic)
	return penalty
}

// preferencePenalty scores one direction: the checker's preferences against
// the target's equipment. A "prefer" unmet and an "avoid" met each cost
// penaltyPoints.
func preferencePenalty(checker, target model.BasicProfile) float64 {
	var penalty float64
	if violates(checker.MateFridge, target.HasFridge) {
		penalty += penaltyPoints
	}
	if violates(checker.MateRouter, target.HasRouter) {
		penalty += penaltyPoints
	}
	return penalty
}

func violates(pref model.Preference, has bool) bool {
	switch pref {
	case model.PrefWant:
		return !has
	case model.PrefAvoid:
		return has
	default:
		return false
	}
}

func round2(x float64) float64 {
	return math.Round(x*100) / 100
}
