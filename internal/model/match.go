package model

import (
	"time"

	"github.com/google/uuid"
)

// Approval is one side's decision on a tentative match.
type Approval int

const (
	ApprovalPending  Approval = 0
	ApprovalApproved Approval = 1
	ApprovalRejected Approval = 2
)

// MatchResult is the final outcome of a tentative match.
type MatchResult int

const (
	MatchResultPending MatchResult = 0
	MatchResultSuccess MatchResult = 1
	MatchResultFailed  MatchResult = 2
)

// MatchStatus tracks a candidate profile through the matching lifecycle.
// The matcher writes only StatusMatched (on pairing) and StatusExpired (on
// queue eviction by timeout); all other transitions belong to the web service.
type MatchStatus int

const (
	StatusNotStarted       MatchStatus = 0
	StatusInQueue          MatchStatus = 1
	StatusMatched          MatchStatus = 2
	StatusMyApproved       MatchStatus = 3
	StatusBothApproved     MatchStatus = 4
	StatusPartnerRejected  MatchStatus = 5
	StatusPartnerRematched MatchStatus = 6
	StatusExpired          MatchStatus = 9
)

// CompatibilityScore is the JSON document stored in
// match_history.compatibility_score. CategoryScores is reserved for
// per-category breakdowns and currently always empty.
type CompatibilityScore struct {
	Score          float64            `json:"score"`
	CategoryScores map[string]float64 `json:"category_scores"`
}

// MatchHistory is one tentative pairing committed by the scheduler. Both
// approvals start pending; the approval lifecycle is driven by the web
// service, the matcher only ever inserts.
type MatchHistory struct {
	MatchID   int64
	MatchedAt time.Time

	UserA uuid.UUID
	UserB uuid.UUID

	PropA int64
	PropB int64
	SurvA int64
	SurvB int64

	Score CompatibilityScore

	AApproval   Approval
	BApproval   Approval
	FinalStatus MatchResult
}
