// Package edgecalc implements the edge calculator: a single-instance polling
// worker that incrementally maintains the compatibility-edge set.
//
// Each tick it partitions the queue into processed and unprocessed entries,
// scores every unprocessed entry against all processed ones (oldest first),
// writes the surviving edges, and flips edge_calculated on the entry. The
// flag is the durable watermark: no in-memory state needs to survive a
// restart.
package edgecalc

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/metric"

	"github.com/g-match/matcher/internal/cache"
	"github.com/g-match/matcher/internal/model"
	"github.com/g-match/matcher/internal/scoring"
	"github.com/g-match/matcher/internal/telemetry"
)

// Calculator polls the queue cache and maintains compatibility edges.
type Calculator struct {
	cache        *cache.Cache
	logger       *slog.Logger
	pollInterval time.Duration
	callTimeout  time.Duration

	edgesWritten     metric.Int64Counter
	entriesProcessed metric.Int64Counter
	queueDepth       metric.Int64Gauge
}

// New creates a Calculator.
func New(c *cache.Cache, logger *slog.Logger, pollInterval, callTimeout time.Duration) *Calculator {
	meter := telemetry.Meter("matcher/edgecalc")
	edgesWritten, _ := meter.Int64Counter("matcher.edgecalc.edges_written",
		metric.WithDescription("Compatibility edges written to the cache"))
	entriesProcessed, _ := meter.Int64Counter("matcher.edgecalc.entries_processed",
		metric.WithDescription("Queue entries marked edge_calculated"))
	queueDepth, _ := meter.Int64Gauge("matcher.edgecalc.queue_depth",
		metric.WithDescription("Queue entries observed at the last pass"))
	return &Calculator{
		cache:            c,
		logger:           logger,
		pollInterval:     pollInterval,
		callTimeout:      callTimeout,
		edgesWritten:     edgesWritten,
		entriesProcessed: entriesProcessed,
		queueDepth:       queueDepth,
	}
}

// Run polls until ctx is cancelled. Transient cache errors are logged and
// retried at the next tick.
func (c *Calculator) Run(ctx context.Context) error {
	c.logger.Info("edgecalc: started", "poll_interval", c.pollInterval)

	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		if err := c.RunOnce(ctx); err != nil {
			c.logger.Error("edgecalc: pass failed", "error", err)
		}
		select {
		case <-ctx.Done():
			c.logger.Info("edgecalc: stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// RunOnce performs a single pass over the queue.
func (c *Calculator) RunOnce(ctx context.Context) error {
	entries, err := c.withTimeoutEntries(ctx)
	if err != nil {
		return err
	}
	c.queueDepth.Record(ctx, int64(len(entries)))
	if len(entries) == 0 {
		return nil
	}

	var calculated []*model.QueueEntry
	var pending []*model.QueueEntry
	for i := range entries {
		e := &entries[i]
		if e.EdgeCalculated {
			calculated = append(calculated, e)
		} else {
			pending = append(pending, e)
		}
	}
	if len(pending) == 0 {
		return nil
	}

	// Oldest first; tie-break on user ID to keep passes deterministic.
	sort.SliceStable(pending, func(i, j int) bool {
		if pending[i].RegisteredAt != pending[j].RegisteredAt {
			return pending[i].RegisteredAt < pending[j].RegisteredAt
		}
		return model.LessID(pending[i].UserID, pending[j].UserID)
	})

	c.logger.Info("edgecalc: processing new entries", "count", len(pending))

	for _, u := range pending {
		if err := u.Validate(); err != nil {
			// Skip without marking processed: retried every tick until the
			// producer fixes or cancels the entry.
			c.logger.Warn("edgecalc: skipping malformed entry", "user_id", u.UserID, "error", err)
			continue
		}

		written, err := c.computeEdges(ctx, u, calculated)
		if err != nil {
			return err
		}

		if err := c.markCalculated(ctx, u.UserID); err != nil {
			return err
		}
		c.entriesProcessed.Add(ctx, 1)
		c.logger.Info("edgecalc: entry processed", "user_id", u.UserID, "edges", written)

		// Later entries in this pass must see u as a scoring partner.
		u.EdgeCalculated = true
		calculated = append(calculated, u)
	}
	return nil
}

// computeEdges scores u against every already-processed entry and writes the
// edges that pass the hard filter.
func (c *Calculator) computeEdges(ctx context.Context, u *model.QueueEntry, calculated []*model.QueueEntry) (int, error) {
	written := 0
	for _, v := range calculated {
		if u.UserID == v.UserID {
			continue
		}
		if !scoring.PassesHardFilter(u, v) {
			continue
		}
		score := scoring.Compatibility(u, v)
		edge := model.NewEdge(u.UserID, v.UserID, score, time.Now().Unix())

		callCtx, cancel := context.WithTimeout(ctx, c.callTimeout)
		err := c.cache.SetEdge(callCtx, edge)
		cancel()
		if err != nil {
			return written, err
		}
		c.edgesWritten.Add(ctx, 1)
		written++
	}
	return written, nil
}

// markCalculated re-reads the fresh entry and flips only edge_calculated,
// so a concurrent priority update by the scheduler is never clobbered. A
// scheduler delete wins: the flip becomes a no-op when the entry is gone.
func (c *Calculator) markCalculated(ctx context.Context, userID uuid.UUID) error {
	callCtx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()

	fresh, err := c.cache.GetQueueEntry(callCtx, userID)
	if errors.Is(err, cache.ErrNotFound) {
		c.logger.Info("edgecalc: entry removed during pass, skipping mark", "user_id", userID)
		return nil
	}
	if err != nil {
		return err
	}
	fresh.EdgeCalculated = true
	return c.cache.SetQueueEntry(callCtx, fresh)
}

func (c *Calculator) withTimeoutEntries(ctx context.Context) ([]model.QueueEntry, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()
	return c.cache.QueueEntries(callCtx)
}
