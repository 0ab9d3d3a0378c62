// Package scheduler implements the match scheduler: a periodic worker that,
// under a distributed leadership lock, commits pairings to Postgres, reclaims
// orphan edges, ages waiting candidates, expires stragglers, and fans out
// notifications.
//
// Only one instance runs a cycle at a time. A crashed leader's lock expires
// on its own, and cycles are idempotent enough to tolerate missed ticks.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/metric"

	"github.com/g-match/matcher/internal/cache"
	"github.com/g-match/matcher/internal/model"
	"github.com/g-match/matcher/internal/notify"
	"github.com/g-match/matcher/internal/storage"
	"github.com/g-match/matcher/internal/telemetry"
)

// Store is the slice of the storage layer the scheduler needs.
type Store interface {
	CommitMatches(ctx context.Context, matches []model.MatchHistory) error
	ExpireCandidates(ctx context.Context, propertyIDs []int64) error
	SettledProperties(ctx context.Context, propertyIDs []int64) (map[int64]bool, error)
	Recipients(ctx context.Context, propertyIDs []int64) (map[int64]storage.Recipient, error)
}

// Dispatcher accepts notification events. Dispatch must never block or fail
// the cycle.
type Dispatcher interface {
	Enqueue(ev notify.Event)
}

// Options configures a Scheduler.
type Options struct {
	Interval       time.Duration
	Threshold      float64
	PriorityBypass int
	BypassEnabled  bool
	ExpireAfter    time.Duration
	LockExpire     time.Duration
	CallTimeout    time.Duration
}

// Scheduler runs the periodic matching cycle.
type Scheduler struct {
	cache    *cache.Cache
	store    Store
	notifier Dispatcher
	logger   *slog.Logger
	opts     Options

	pairsCommitted metric.Int64Counter
	expired        metric.Int64Counter
	orphansRemoved metric.Int64Counter
	cycleDuration  metric.Float64Histogram
}

// New creates a Scheduler.
func New(c *cache.Cache, store Store, notifier Dispatcher, logger *slog.Logger, opts Options) *Scheduler {
	meter := telemetry.Meter("matcher/scheduler")
	pairsCommitted, _ := meter.Int64Counter("matcher.scheduler.pairs_committed",
		metric.WithDescription("Pairs committed to match history"))
	expired, _ := meter.Int64Counter("matcher.scheduler.entries_expired",
		metric.WithDescription("Queue entries expired by timeout"))
	orphansRemoved, _ := meter.Int64Counter("matcher.scheduler.orphan_edges_removed",
		metric.WithDescription("Orphan edges reclaimed"))
	cycleDuration, _ := meter.Float64Histogram("matcher.scheduler.cycle_seconds",
		metric.WithDescription("Wall-clock duration of a matching cycle"))
	return &Scheduler{
		cache:          c,
		store:          store,
		notifier:       notifier,
		logger:         logger,
		opts:           opts,
		pairsCommitted: pairsCommitted,
		expired:        expired,
		orphansRemoved: orphansRemoved,
		cycleDuration:  cycleDuration,
	}
}

// Run executes cycles until ctx is cancelled. The scheduler sleeps for
// interval minus the cycle's elapsed time; an overrun logs a warning and
// triggers the next cycle immediately.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("scheduler: started",
		"interval", s.opts.Interval,
		"threshold", s.opts.Threshold,
		"expire_after", s.opts.ExpireAfter,
	)

	for {
		start := time.Now()
		s.RunOnce(ctx)
		elapsed := time.Since(start)
		s.cycleDuration.Record(ctx, elapsed.Seconds())

		sleep := s.opts.Interval - elapsed
		if sleep < 0 {
			s.logger.Warn("scheduler: cycle overran interval",
				"elapsed", elapsed, "interval", s.opts.Interval)
			sleep = 0
		}

		timer := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			timer.Stop()
			s.logger.Info("scheduler: stopped")
			return nil
		case <-timer.C:
		}
	}
}

// RunOnce attempts one cycle: acquire the leadership lock, run the cycle,
// release. A contended lock skips the cycle; that is the expected signal
// during deploys, not an error.
func (s *Scheduler) RunOnce(ctx context.Context) {
	lock := cache.NewLock(s.cache, model.LockKey, s.opts.LockExpire)

	acquired, err := lock.Acquire(ctx)
	if err != nil {
		s.logger.Error("scheduler: lock acquire failed", "error", err)
		return
	}
	if !acquired {
		s.logger.Debug("scheduler: lock held elsewhere, skipping cycle")
		return
	}
	defer func() {
		// The cycle context is cancelled on SIGINT/SIGTERM; the release must
		// still go through or every instance skips cycles until TTL expiry.
		releaseCtx, cancel := context.WithTimeout(context.Background(), s.opts.CallTimeout)
		defer cancel()
		released, err := lock.Release(releaseCtx)
		if err != nil {
			s.logger.Error("scheduler: lock release failed", "error", err)
		} else if !released {
			s.logger.Warn("scheduler: lock not released, may have expired mid-cycle")
		}
	}()

	if err := s.cycle(ctx); err != nil {
		s.logger.Error("scheduler: cycle aborted", "error", err)
	}
}

// cycle runs the full protocol over one consistent snapshot:
// snapshot → settled GC → orphan GC → selection → DB commit → cache evict →
// notify → expire → age. Any cache error before the DB commit aborts with no
// writes; the next tick retries from a fresh snapshot.
func (s *Scheduler) cycle(ctx context.Context) error {
	edges, entries, err := s.snapshot(ctx)
	if err != nil {
		return err
	}

	if err := s.reclaimSettled(ctx, entries); err != nil {
		return err
	}

	live, err := s.reclaimOrphans(ctx, edges, entries)
	if err != nil {
		return err
	}

	pairs := selectPairs(live, entries, admission{
		Threshold:      s.opts.Threshold,
		PriorityBypass: s.opts.PriorityBypass,
		BypassEnabled:  s.opts.BypassEnabled,
	})

	paired, err := s.commitPairs(ctx, pairs, entries)
	if err != nil {
		return err
	}

	expired, err := s.expireStale(ctx, entries, paired)
	if err != nil {
		return err
	}

	return s.ageSurvivors(ctx, entries, paired, expired)
}

func (s *Scheduler) snapshot(ctx context.Context) ([]model.Edge, map[uuid.UUID]*model.QueueEntry, error) {
	callCtx, cancel := context.WithTimeout(ctx, s.opts.CallTimeout)
	defer cancel()

	edges, err := s.cache.Edges(callCtx)
	if err != nil {
		return nil, nil, err
	}
	list, err := s.cache.QueueEntries(callCtx)
	if err != nil {
		return nil, nil, err
	}

	entries := make(map[uuid.UUID]*model.QueueEntry, len(list))
	for i := range list {
		entries[list[i].UserID] = &list[i]
	}
	return edges, entries, nil
}

// reclaimSettled drops cached entries whose property row is already matched
// or expired. This is the replay guard: when a crash or lost eviction leaves
// a committed pair in the queue, the status written by the earlier commit is
// observed here and the stale entries never reach selection again. A failed
// cache delete only logs; removal from the in-memory set is what prevents a
// duplicate commit this cycle.
func (s *Scheduler) reclaimSettled(ctx context.Context, entries map[uuid.UUID]*model.QueueEntry) error {
	if len(entries) == 0 {
		return nil
	}
	propIDs := make([]int64, 0, len(entries))
	for _, e := range entries {
		propIDs = append(propIDs, e.PropertyID)
	}

	callCtx, cancel := context.WithTimeout(ctx, s.opts.CallTimeout)
	settled, err := s.store.SettledProperties(callCtx, propIDs)
	cancel()
	if err != nil {
		return err
	}
	if len(settled) == 0 {
		return nil
	}

	removed := 0
	for id, e := range entries {
		if !settled[e.PropertyID] {
			continue
		}
		delete(entries, id)
		removed++
		callCtx, cancel := context.WithTimeout(ctx, s.opts.CallTimeout)
		err := s.cache.DeleteQueueEntry(callCtx, id)
		cancel()
		if err != nil {
			s.logger.Error("scheduler: evict settled entry failed", "user_id", id, "error", err)
		}
	}
	s.logger.Info("scheduler: reclaimed settled entries", "count", removed)
	return nil
}

// reclaimOrphans deletes every edge with a missing endpoint and returns the
// edges whose endpoints are both live.
func (s *Scheduler) reclaimOrphans(ctx context.Context, edges []model.Edge, entries map[uuid.UUID]*model.QueueEntry) ([]model.Edge, error) {
	live := edges[:0]
	removed := 0
	for _, e := range edges {
		_, okA := entries[e.UserA]
		_, okB := entries[e.UserB]
		if okA && okB {
			live = append(live, e)
			continue
		}
		callCtx, cancel := context.WithTimeout(ctx, s.opts.CallTimeout)
		err := s.cache.DeleteEdge(callCtx, e.UserA, e.UserB)
		cancel()
		if err != nil {
			return nil, err
		}
		removed++
	}
	if removed > 0 {
		s.orphansRemoved.Add(ctx, int64(removed))
		s.logger.Info("scheduler: reclaimed orphan edges", "count", removed)
	}
	return live, nil
}

// commitPairs writes the cycle's matches in one DB transaction, then evicts
// the paired entries from the queue and schedules notifications. Returns the
// set of paired user IDs.
func (s *Scheduler) commitPairs(ctx context.Context, pairs []model.Edge, entries map[uuid.UUID]*model.QueueEntry) (map[uuid.UUID]bool, error) {
	paired := make(map[uuid.UUID]bool)
	if len(pairs) == 0 {
		return paired, nil
	}

	matches := make([]model.MatchHistory, 0, len(pairs))
	for _, e := range pairs {
		a, b := entries[e.UserA], entries[e.UserB]
		matches = append(matches, model.MatchHistory{
			UserA: a.UserID,
			UserB: b.UserID,
			PropA: a.PropertyID,
			PropB: b.PropertyID,
			SurvA: a.SurveyID,
			SurvB: b.SurveyID,
			Score: model.CompatibilityScore{
				Score:          e.Score,
				CategoryScores: map[string]float64{},
			},
		})
	}

	dbCtx, cancel := context.WithTimeout(ctx, s.opts.CallTimeout)
	err := s.store.CommitMatches(dbCtx, matches)
	cancel()
	if err != nil {
		// Transaction rolled back: no cache mutations for these pairs.
		return nil, err
	}
	s.pairsCommitted.Add(ctx, int64(len(pairs)))
	s.logger.Info("scheduler: pairs committed", "count", len(pairs))

	// Evict paired entries and their edge. The commit already landed, so
	// these run on a context detached from the cycle: shutdown mid-commit
	// must not strand a committed pair in the queue. Anything still left
	// over is reclaimed through its settled property status next cycle.
	for _, e := range pairs {
		paired[e.UserA] = true
		paired[e.UserB] = true
		for _, id := range []uuid.UUID{e.UserA, e.UserB} {
			callCtx, cancel := context.WithTimeout(context.Background(), s.opts.CallTimeout)
			err := s.cache.DeleteQueueEntry(callCtx, id)
			cancel()
			if err != nil {
				s.logger.Error("scheduler: evict paired entry failed", "user_id", id, "error", err)
			}
		}
		callCtx, cancel := context.WithTimeout(context.Background(), s.opts.CallTimeout)
		err := s.cache.DeleteEdge(callCtx, e.UserA, e.UserB)
		cancel()
		if err != nil {
			s.logger.Error("scheduler: evict paired edge failed", "error", err)
		}
	}

	s.notifyMatched(ctx, matches)
	return paired, nil
}

// notifyMatched schedules two "matched" notifications per committed pair.
// Strictly best-effort: resolution and delivery failures are logged only.
func (s *Scheduler) notifyMatched(ctx context.Context, matches []model.MatchHistory) {
	propIDs := make([]int64, 0, 2*len(matches))
	for _, m := range matches {
		propIDs = append(propIDs, m.PropA, m.PropB)
	}

	callCtx, cancel := context.WithTimeout(ctx, s.opts.CallTimeout)
	recipients, err := s.store.Recipients(callCtx, propIDs)
	cancel()
	if err != nil {
		s.logger.Error("scheduler: resolve match recipients failed", "error", err)
		return
	}

	for _, m := range matches {
		a, okA := recipients[m.PropA]
		b, okB := recipients[m.PropB]
		if okA {
			partner := ""
			if okB {
				partner = b.Nickname
			}
			s.notifier.Enqueue(notify.Event{
				Kind: notify.KindMatched, To: a.Email, Name: a.Nickname,
				Partner: partner, Score: m.Score.Score,
			})
		} else {
			s.logger.Warn("scheduler: no recipient for matched property", "property_id", m.PropA)
		}
		if okB {
			partner := ""
			if okA {
				partner = a.Nickname
			}
			s.notifier.Enqueue(notify.Event{
				Kind: notify.KindMatched, To: b.Email, Name: b.Nickname,
				Partner: partner, Score: m.Score.Score,
			})
		} else {
			s.logger.Warn("scheduler: no recipient for matched property", "property_id", m.PropB)
		}
	}
}

// expireStale evicts entries older than the TTL: one batch DB status update,
// then cache deletes and notifications. Returns the expired user IDs.
func (s *Scheduler) expireStale(ctx context.Context, entries map[uuid.UUID]*model.QueueEntry, paired map[uuid.UUID]bool) (map[uuid.UUID]bool, error) {
	expired := make(map[uuid.UUID]bool)
	deadline := time.Now().Add(-s.opts.ExpireAfter).Unix()

	var victims []*model.QueueEntry
	for _, e := range entries {
		if paired[e.UserID] {
			continue
		}
		if e.RegisteredAt < deadline {
			victims = append(victims, e)
		}
	}
	if len(victims) == 0 {
		return expired, nil
	}

	propIDs := make([]int64, len(victims))
	for i, v := range victims {
		propIDs[i] = v.PropertyID
	}

	// Status transition first, so an eviction is never observed without it.
	dbCtx, cancel := context.WithTimeout(ctx, s.opts.CallTimeout)
	err := s.store.ExpireCandidates(dbCtx, propIDs)
	cancel()
	if err != nil {
		return nil, err
	}

	// Every victim's status is already 9, so none of them may be aged; a
	// failed cache delete only logs, and the entry is reclaimed through its
	// settled status next cycle.
	deleted := 0
	for _, v := range victims {
		expired[v.UserID] = true
		callCtx, cancel := context.WithTimeout(ctx, s.opts.CallTimeout)
		err := s.cache.DeleteQueueEntry(callCtx, v.UserID)
		cancel()
		if err != nil {
			s.logger.Error("scheduler: evict expired entry failed", "user_id", v.UserID, "error", err)
			continue
		}
		deleted++
	}
	if deleted > 0 {
		s.expired.Add(ctx, int64(deleted))
	}
	s.logger.Info("scheduler: entries expired", "count", len(victims), "evicted", deleted)

	s.notifyExpired(ctx, victims, propIDs)
	return expired, nil
}

func (s *Scheduler) notifyExpired(ctx context.Context, victims []*model.QueueEntry, propIDs []int64) {
	callCtx, cancel := context.WithTimeout(ctx, s.opts.CallTimeout)
	recipients, err := s.store.Recipients(callCtx, propIDs)
	cancel()
	if err != nil {
		s.logger.Error("scheduler: resolve expired recipients failed", "error", err)
		return
	}
	for _, v := range victims {
		r, ok := recipients[v.PropertyID]
		if !ok {
			s.logger.Warn("scheduler: no recipient for expired property", "property_id", v.PropertyID)
			continue
		}
		s.notifier.Enqueue(notify.Event{Kind: notify.KindExpired, To: r.Email, Name: r.Nickname})
	}
}

// ageSurvivors increments priority on every entry that was neither paired
// nor expired this cycle. The increment is a read-modify-write against the
// fresh cached value so a concurrent edge_calculated flip is preserved.
func (s *Scheduler) ageSurvivors(ctx context.Context, entries map[uuid.UUID]*model.QueueEntry, paired, expired map[uuid.UUID]bool) error {
	aged := 0
	for id := range entries {
		if paired[id] || expired[id] {
			continue
		}
		callCtx, cancel := context.WithTimeout(ctx, s.opts.CallTimeout)
		err := s.ageOne(callCtx, id)
		cancel()
		if err != nil {
			return err
		}
		aged++
	}
	if aged > 0 {
		s.logger.Info("scheduler: aged surviving entries", "count", aged)
	}
	return nil
}

func (s *Scheduler) ageOne(ctx context.Context, id uuid.UUID) error {
	fresh, err := s.cache.GetQueueEntry(ctx, id)
	if errors.Is(err, cache.ErrNotFound) {
		return nil // cancelled by the producer mid-cycle
	}
	if errors.Is(err, model.ErrFormat) {
		s.logger.Warn("scheduler: skipping malformed entry during aging", "user_id", id, "error", err)
		return nil
	}
	if err != nil {
		return err
	}
	fresh.Priority++
	return s.cache.SetQueueEntry(ctx, fresh)
}
