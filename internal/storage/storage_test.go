package storage_test

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/g-match/matcher/internal/model"
	"github.com/g-match/matcher/internal/storage"
	"github.com/g-match/matcher/internal/testutil"
)

// testDB holds a shared test database connection for all tests in this package.
var testDB *storage.DB

func TestMain(m *testing.M) {
	ctx := context.Background()

	tc := testutil.MustStartPostgres()

	var err error
	testDB, err = tc.NewTestDB(ctx, testutil.TestLogger())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create DB: %v\n", err)
		os.Exit(1)
	}

	code := m.Run()

	testDB.Close()
	tc.Terminate()
	os.Exit(code)
}

// seedCandidate inserts a user and a matching profile, returning the user ID
// and property ID.
func seedCandidate(t *testing.T, email, nickname string) (uuid.UUID, int64) {
	t.Helper()
	ctx := context.Background()

	uid := uuid.New()
	_, err := testDB.Pool().Exec(ctx,
		`INSERT INTO users (uid, email) VALUES ($1, $2)`, uid, email)
	require.NoError(t, err)

	var propID int64
	err = testDB.Pool().QueryRow(ctx,
		`INSERT INTO match_properties (user_id, nickname, match_status)
		 VALUES ($1, $2, $3) RETURNING property_id`,
		uid, nickname, int(model.StatusInQueue),
	).Scan(&propID)
	require.NoError(t, err)
	return uid, propID
}

func matchStatus(t *testing.T, propID int64) model.MatchStatus {
	t.Helper()
	var status int
	err := testDB.Pool().QueryRow(context.Background(),
		`SELECT match_status FROM match_properties WHERE property_id = $1`, propID,
	).Scan(&status)
	require.NoError(t, err)
	return model.MatchStatus(status)
}

func TestCommitMatchesInsertsHistoryAndFlipsStatus(t *testing.T) {
	ctx := context.Background()

	uidA, propA := seedCandidate(t, "commit-a@example.com", "Alice")
	uidB, propB := seedCandidate(t, "commit-b@example.com", "Bob")

	before, err := testDB.MatchHistoryCount(ctx)
	require.NoError(t, err)

	lo, hi := model.OrderIDs(uidA, uidB)
	loProp, hiProp := propA, propB
	if lo != uidA {
		loProp, hiProp = propB, propA
	}

	err = testDB.CommitMatches(ctx, []model.MatchHistory{{
		UserA: lo, UserB: hi,
		PropA: loProp, PropB: hiProp,
		SurvA: loProp, SurvB: hiProp,
		Score: model.CompatibilityScore{Score: 91.5, CategoryScores: map[string]float64{}},
	}})
	require.NoError(t, err)

	after, err := testDB.MatchHistoryCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, before+1, after)

	assert.Equal(t, model.StatusMatched, matchStatus(t, propA))
	assert.Equal(t, model.StatusMatched, matchStatus(t, propB))

	var scoreJSON []byte
	var aApproval, bApproval, final int
	err = testDB.Pool().QueryRow(ctx,
		`SELECT compatibility_score, a_approval, b_approval, final_match_status
		 FROM match_history WHERE user_a_id = $1 AND user_b_id = $2`, lo, hi,
	).Scan(&scoreJSON, &aApproval, &bApproval, &final)
	require.NoError(t, err)

	var score model.CompatibilityScore
	require.NoError(t, json.Unmarshal(scoreJSON, &score))
	assert.Equal(t, 91.5, score.Score)
	assert.Equal(t, int(model.ApprovalPending), aApproval)
	assert.Equal(t, int(model.ApprovalPending), bApproval)
	assert.Equal(t, int(model.MatchResultPending), final)
}

func TestCommitMatchesEmptyIsNoop(t *testing.T) {
	ctx := context.Background()

	before, err := testDB.MatchHistoryCount(ctx)
	require.NoError(t, err)

	require.NoError(t, testDB.CommitMatches(ctx, nil))

	after, err := testDB.MatchHistoryCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestExpireCandidates(t *testing.T) {
	ctx := context.Background()

	_, propA := seedCandidate(t, "expire-a@example.com", "Stale")
	_, propB := seedCandidate(t, "expire-b@example.com", "Fresh")

	require.NoError(t, testDB.ExpireCandidates(ctx, []int64{propA}))

	assert.Equal(t, model.StatusExpired, matchStatus(t, propA))
	assert.Equal(t, model.StatusInQueue, matchStatus(t, propB))
}

func TestSettledPropertiesReportsMatchedAndExpired(t *testing.T) {
	ctx := context.Background()

	_, queued := seedCandidate(t, "settled-a@example.com", "Queued")
	_, matched := seedCandidate(t, "settled-b@example.com", "Matched")
	_, expired := seedCandidate(t, "settled-c@example.com", "Expired")

	_, err := testDB.Pool().Exec(ctx,
		`UPDATE match_properties SET match_status = $1 WHERE property_id = $2`,
		int(model.StatusMatched), matched)
	require.NoError(t, err)
	require.NoError(t, testDB.ExpireCandidates(ctx, []int64{expired}))

	got, err := testDB.SettledProperties(ctx, []int64{queued, matched, expired})
	require.NoError(t, err)

	assert.False(t, got[queued])
	assert.True(t, got[matched])
	assert.True(t, got[expired])
}

func TestRecipientsJoinsUsers(t *testing.T) {
	ctx := context.Background()

	uidA, propA := seedCandidate(t, "notify-a@example.com", "Alice")
	_, propB := seedCandidate(t, "notify-b@example.com", "Bob")

	got, err := testDB.Recipients(ctx, []int64{propA, propB})
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, uidA, got[propA].UserID)
	assert.Equal(t, "notify-a@example.com", got[propA].Email)
	assert.Equal(t, "Alice", got[propA].Nickname)
	assert.Equal(t, "Bob", got[propB].Nickname)
}

func TestRecipientsMissingPropertyAbsent(t *testing.T) {
	ctx := context.Background()

	got, err := testDB.Recipients(ctx, []int64{987654321})
	require.NoError(t, err)
	assert.Empty(t, got)
}
