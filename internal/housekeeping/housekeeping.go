// Package housekeeping runs the periodic background jobs of the station:
// persisting the counters and pruning old telemetry.
package housekeeping

import (
	"context"
	"fmt"
	"time"

	"beverage_dispenser/internal/logger"

	"github.com/robfig/cron/v3"
)

const jobTimeout = 30 * time.Second

// Config holds the cron specs of the jobs. An empty spec disables the job.
type Config struct {
	CheckpointSpec string        `mapstructure:"checkpoint_spec"`
	PruneSpec      string        `mapstructure:"prune_spec"`
	Retention      time.Duration `mapstructure:"retention"`
}

type StatsCheckpointer interface {
	CheckpointStats(ctx context.Context) error
}

type EventPruner interface {
	Prune(ctx context.Context, retention time.Duration) (int64, error)
}

type Scheduler struct {
	cron      *cron.Cron
	stats     StatsCheckpointer
	events    EventPruner
	retention time.Duration
	log       *logger.Logger
}

// New registers the configured jobs without starting them.
func New(cfg Config, stats StatsCheckpointer, events EventPruner, log *logger.Logger) (*Scheduler, error) {
	s := &Scheduler{
		cron:      cron.New(),
		stats:     stats,
		events:    events,
		retention: cfg.Retention,
		log:       log.Component("housekeeping"),
	}
	if cfg.CheckpointSpec != "" {
		if _, err := s.cron.AddFunc(cfg.CheckpointSpec, s.Checkpoint); err != nil {
			return nil, fmt.Errorf("schedule stats checkpoint %q: %w", cfg.CheckpointSpec, err)
		}
	}
	if cfg.PruneSpec != "" && cfg.Retention > 0 {
		if _, err := s.cron.AddFunc(cfg.PruneSpec, s.Prune); err != nil {
			return nil, fmt.Errorf("schedule event pruning %q: %w", cfg.PruneSpec, err)
		}
	}
	return s, nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Infow("housekeeping_started", "jobs", len(s.cron.Entries()))
}

// Stop prevents new runs and waits for running jobs until ctx is done.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return fmt.Errorf("housekeeping: jobs still running: %w", ctx.Err())
	}
}

// Jobs returns the number of scheduled jobs.
func (s *Scheduler) Jobs() int {
	return len(s.cron.Entries())
}

// Checkpoint persists the station counters.
func (s *Scheduler) Checkpoint() {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()
	if err := s.stats.CheckpointStats(ctx); err != nil {
		s.log.Warnw("stats_checkpoint_failed", "err", err)
		return
	}
	s.log.Debugw("stats_checkpointed")
}

// Prune deletes telemetry older than the retention window.
func (s *Scheduler) Prune() {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()
	n, err := s.events.Prune(ctx, s.retention)
	if err != nil {
		s.log.Warnw("event_prune_failed", "err", err)
		return
	}
	s.log.Infow("events_pruned", "deleted", n, "retention", s.retention)
}
