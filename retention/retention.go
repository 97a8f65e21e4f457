// Package retention bounds per-thread checkpoint history.
//
// A Compactor periodically prunes each thread down to a configured
// number of newest checkpoints. Retention is opt-in: savers keep full
// history unless a Compactor runs against them.
package retention

import (
	"context"
	"log/slog"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"
)

// Pruner is the slice of a checkpoint saver the compactor needs. The
// memory, redis, sqlite, and postgres stores all satisfy it.
type Pruner interface {
	Threads(ctx context.Context) ([]string, error)
	PruneThread(ctx context.Context, threadID string, keep int) (int, error)
}

// Policy controls how much history each thread keeps.
type Policy struct {
	// MaxCheckpoints is the number of newest checkpoints retained per
	// thread. Values below 1 are treated as 1 so the head always
	// survives.
	MaxCheckpoints int
}

// DefaultPolicy keeps the 50 newest checkpoints per thread.
func DefaultPolicy() Policy {
	return Policy{MaxCheckpoints: 50}
}

// Option configures a Compactor.
type Option func(*Compactor)

// WithSchedule sets the cron expression for compaction runs.
// Supports standard 5-field cron and descriptors like "@every 10m".
// Defaults to hourly.
func WithSchedule(expr string) Option {
	return func(c *Compactor) { c.schedule = expr }
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Compactor) { c.logger = l }
}

// cronParser supports standard 5-field cron and descriptors.
var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow | cronlib.Descriptor,
)

// Compactor prunes checkpoint history on a cron schedule.
type Compactor struct {
	pruner   Pruner
	policy   Policy
	schedule string
	logger   *slog.Logger

	mu   sync.Mutex
	cron *cronlib.Cron
}

// NewCompactor creates a Compactor over the given pruner.
func NewCompactor(pruner Pruner, policy Policy, opts ...Option) *Compactor {
	c := &Compactor{
		pruner:   pruner,
		policy:   policy,
		schedule: "@every 1h",
		logger:   slog.Default(),
	}
	if c.policy.MaxCheckpoints < 1 {
		c.policy.MaxCheckpoints = 1
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start begins scheduled compaction. It returns an error if the
// schedule expression does not parse.
func (c *Compactor) Start(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cron != nil {
		return nil
	}

	sched, err := cronParser.Parse(c.schedule)
	if err != nil {
		return err
	}

	cr := cronlib.New()
	cr.Schedule(sched, cronlib.FuncJob(func() {
		runCtx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		c.RunOnce(runCtx)
	}))
	cr.Start()
	c.cron = cr

	c.logger.Info("retention compactor started",
		slog.String("schedule", c.schedule),
		slog.Int("max_checkpoints", c.policy.MaxCheckpoints),
	)
	return nil
}

// Stop halts scheduled compaction and waits for an in-flight run.
func (c *Compactor) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cron == nil {
		return
	}
	stopCtx := c.cron.Stop()
	<-stopCtx.Done()
	c.cron = nil
	c.logger.Info("retention compactor stopped")
}

// RunOnce prunes every thread immediately and returns the total
// number of checkpoints removed. Errors on individual threads are
// logged and do not stop the sweep.
func (c *Compactor) RunOnce(ctx context.Context) int {
	threads, err := c.pruner.Threads(ctx)
	if err != nil {
		c.logger.Error("retention sweep failed", slog.String("error", err.Error()))
		return 0
	}

	total := 0
	for _, threadID := range threads {
		pruned, pErr := c.pruner.PruneThread(ctx, threadID, c.policy.MaxCheckpoints)
		if pErr != nil {
			c.logger.Warn("prune failed",
				slog.String("thread_id", threadID),
				slog.String("error", pErr.Error()),
			)
			continue
		}
		total += pruned
	}
	if total > 0 {
		c.logger.Info("retention sweep complete", slog.Int("pruned", total))
	}
	return total
}
