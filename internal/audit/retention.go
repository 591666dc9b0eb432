package audit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/opentalon/geminicog/internal/logging"
)

// Retention periodically prunes records older than MaxAge.
type Retention struct {
	cron   *cron.Cron
	pruner Pruner
	maxAge time.Duration
	log    *slog.Logger
	now    func() time.Time
}

// NewRetention schedules pruning with a standard five-field cron expression
// (or a descriptor such as "@daily").
func NewRetention(p Pruner, schedule string, maxAge time.Duration, logger *slog.Logger) (*Retention, error) {
	if maxAge <= 0 {
		return nil, fmt.Errorf("audit retention: max age must be positive")
	}
	r := &Retention{
		cron:   cron.New(),
		pruner: p,
		maxAge: maxAge,
		log:    logging.OrDiscard(logger).With("component", "audit.retention"),
		now:    time.Now,
	}
	if _, err := r.cron.AddFunc(schedule, func() { r.Run(context.Background()) }); err != nil {
		return nil, fmt.Errorf("audit retention: schedule %q: %w", schedule, err)
	}
	return r, nil
}

// Start runs the schedule in the background.
func (r *Retention) Start() { r.cron.Start() }

// Stop stops the schedule and waits for a running prune to finish.
func (r *Retention) Stop() {
	<-r.cron.Stop().Done()
}

// Run prunes once and returns the number of records removed.
func (r *Retention) Run(ctx context.Context) int64 {
	before := r.now().Add(-r.maxAge)
	n, err := r.pruner.Prune(ctx, before)
	if err != nil {
		r.log.Error("prune", "before", before, "error", err)
		return 0
	}
	if n > 0 {
		r.log.Info("pruned records", "count", n, "before", before)
	}
	return n
}
