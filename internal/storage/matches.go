package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/g-match/matcher/internal/model"
)

// CommitMatches inserts the cycle's match_history rows and flips the four
// (or more) matched candidates' property status to StatusMatched, all in one
// transaction. Either everything lands or nothing does, so a queue eviction
// is never observed without its status transition.
func (db *DB) CommitMatches(ctx context.Context, matches []model.MatchHistory) error {
	if len(matches) == 0 {
		return nil
	}

	return db.withRetry(ctx, "commit matches", 3, 50*time.Millisecond, func() error {
		tx, err := db.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("storage: begin commit tx: %w", err)
		}
		defer func() { _ = tx.Rollback(ctx) }()

		batch := &pgx.Batch{}
		propertyIDs := make([]int64, 0, 2*len(matches))
		for _, m := range matches {
			scoreJSON, err := json.Marshal(m.Score)
			if err != nil {
				return fmt.Errorf("storage: encode compatibility score: %w", err)
			}
			batch.Queue(
				`INSERT INTO match_history (
				     matched_at, user_a_id, user_b_id,
				     prop_a_id, prop_b_id, surv_a_id, surv_b_id,
				     compatibility_score, a_approval, b_approval, final_match_status
				 ) VALUES (now(), $1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
				m.UserA, m.UserB,
				m.PropA, m.PropB, m.SurvA, m.SurvB,
				scoreJSON,
				int(model.ApprovalPending), int(model.ApprovalPending), int(model.MatchResultPending),
			)
			propertyIDs = append(propertyIDs, m.PropA, m.PropB)
		}
		batch.Queue(
			`UPDATE match_properties SET match_status = $1 WHERE property_id = ANY($2)`,
			int(model.StatusMatched), propertyIDs,
		)

		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("storage: commit matches batch: %w", err)
		}
		return tx.Commit(ctx)
	})
}

// ExpireCandidates marks the given properties expired in a single statement.
func (db *DB) ExpireCandidates(ctx context.Context, propertyIDs []int64) error {
	if len(propertyIDs) == 0 {
		return nil
	}
	_, err := db.pool.Exec(ctx,
		`UPDATE match_properties SET match_status = $1 WHERE property_id = ANY($2)`,
		int(model.StatusExpired), propertyIDs,
	)
	if err != nil {
		return fmt.Errorf("storage: expire candidates: %w", err)
	}
	return nil
}

// SettledProperties reports which of the given properties have already left
// the queue lifecycle: matched (and its approval follow-ups) or expired. The
// scheduler checks cached entries against this before selection so a pair
// whose eviction was lost is never committed twice.
func (db *DB) SettledProperties(ctx context.Context, propertyIDs []int64) (map[int64]bool, error) {
	if len(propertyIDs) == 0 {
		return map[int64]bool{}, nil
	}
	settledStatuses := []int{
		int(model.StatusMatched),
		int(model.StatusMyApproved),
		int(model.StatusBothApproved),
		int(model.StatusExpired),
	}
	rows, err := db.pool.Query(ctx,
		`SELECT property_id FROM match_properties
		 WHERE property_id = ANY($1) AND match_status = ANY($2)`,
		propertyIDs, settledStatuses,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: query settled properties: %w", err)
	}
	defer rows.Close()

	out := make(map[int64]bool)
	for rows.Next() {
		var propID int64
		if err := rows.Scan(&propID); err != nil {
			return nil, fmt.Errorf("storage: scan settled property: %w", err)
		}
		out[propID] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: settled properties rows: %w", err)
	}
	return out, nil
}

// Recipient identifies where and how to address a notification for one
// matched or expired candidate.
type Recipient struct {
	UserID   uuid.UUID
	Email    string
	Nickname string
}

// Recipients resolves notification addresses for a set of properties by
// joining the profile rows against the accounts table. Properties whose
// user row is missing are simply absent from the result; the caller logs
// and skips those.
func (db *DB) Recipients(ctx context.Context, propertyIDs []int64) (map[int64]Recipient, error) {
	if len(propertyIDs) == 0 {
		return map[int64]Recipient{}, nil
	}
	rows, err := db.pool.Query(ctx,
		`SELECT p.property_id, p.user_id, p.nickname, u.email
		 FROM match_properties p
		 JOIN users u ON u.uid = p.user_id
		 WHERE p.property_id = ANY($1)`,
		propertyIDs,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: query recipients: %w", err)
	}
	defer rows.Close()

	out := make(map[int64]Recipient, len(propertyIDs))
	for rows.Next() {
		var propID int64
		var r Recipient
		if err := rows.Scan(&propID, &r.UserID, &r.Nickname, &r.Email); err != nil {
			return nil, fmt.Errorf("storage: scan recipient: %w", err)
		}
		out[propID] = r
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: recipients rows: %w", err)
	}
	return out, nil
}

// MatchHistoryCount reports the number of committed pairings. Used by the
// integration tests and operational checks.
func (db *DB) MatchHistoryCount(ctx context.Context) (int64, error) {
	var n int64
	if err := db.pool.QueryRow(ctx, `SELECT COUNT(*) FROM match_history`).Scan(&n); err != nil {
		return 0, fmt.Errorf("storage: count match history: %w", err)
	}
	return n, nil
}
