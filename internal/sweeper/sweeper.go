// Package sweeper drives time-based auction transitions on a schedule.
// Runs may overlap each other and live bidding; the closure guard in the
// state machine keeps every transition exactly-once.
package sweeper

import (
	"auction-engine/internal/metrics"
	"auction-engine/utils"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

const (
	DefaultInterval        = 60 * time.Second
	DefaultArchiveSchedule = "0 0 * * *"
	DefaultRetention       = 30 * 24 * time.Hour

	jobSweep   = "sweep"
	jobArchive = "archive"
)

// Target is the set of service operations the sweeper invokes
type Target interface {
	ActivateDue(ctx context.Context) (int, error)
	CloseDue(ctx context.Context) (int, error)
	RetryPendingOrders(ctx context.Context) (int, error)
	ArchiveTerminal(ctx context.Context, retention time.Duration) (int64, error)
}

type Settings struct {
	Interval        time.Duration
	ArchiveSchedule string
	Retention       time.Duration
}

type Sweeper struct {
	target   Target
	settings Settings
	metrics  *metrics.Metrics
	cron     *cron.Cron
	ctx      context.Context
}

// New validates the schedules and registers both jobs. Nothing runs until Run.
func New(target Target, settings Settings, m *metrics.Metrics) (*Sweeper, error) {
	if settings.Interval <= 0 {
		settings.Interval = DefaultInterval
	}
	if settings.ArchiveSchedule == "" {
		settings.ArchiveSchedule = DefaultArchiveSchedule
	}
	if settings.Retention <= 0 {
		settings.Retention = DefaultRetention
	}

	s := &Sweeper{
		target:   target,
		settings: settings,
		metrics:  m,
		cron:     cron.New(cron.WithLocation(time.UTC)),
		ctx:      context.Background(),
	}

	if _, err := s.cron.AddFunc(fmt.Sprintf("@every %s", settings.Interval), func() { _ = s.Sweep(s.ctx) }); err != nil {
		return nil, fmt.Errorf("sweeper: schedule sweep every %s: %w", settings.Interval, err)
	}
	if _, err := s.cron.AddFunc(settings.ArchiveSchedule, func() { _ = s.Archive(s.ctx) }); err != nil {
		return nil, fmt.Errorf("sweeper: schedule archive %q: %w", settings.ArchiveSchedule, err)
	}
	return s, nil
}

// Run starts the schedules and blocks until ctx is cancelled, then waits for
// running jobs to finish.
func (s *Sweeper) Run(ctx context.Context) error {
	s.ctx = ctx
	s.cron.Start()
	utils.Info("sweeper started", map[string]any{
		"interval":         s.settings.Interval.String(),
		"archive_schedule": s.settings.ArchiveSchedule,
		"retention":        s.settings.Retention.String(),
	})

	<-ctx.Done()
	<-s.cron.Stop().Done()
	utils.Info("sweeper stopped", nil)
	return nil
}

// Sweep activates due auctions, closes ended ones and retries pending orders
func (s *Sweeper) Sweep(ctx context.Context) error {
	started := time.Now()

	activated, errActivate := s.target.ActivateDue(ctx)
	closed, errClose := s.target.CloseDue(ctx)
	settled, errOrders := s.target.RetryPendingOrders(ctx)
	err := errors.Join(errActivate, errClose, errOrders)

	s.metrics.SweepRun(jobSweep, started, err)
	fields := map[string]any{
		"activated":   activated,
		"closed":      closed,
		"orders":      settled,
		"duration_ms": time.Since(started).Milliseconds(),
	}
	if err != nil {
		fields["error"] = err.Error()
		utils.Warn("sweep completed with errors", fields)
		return err
	}
	if activated+closed+settled > 0 {
		utils.Info("sweep completed", fields)
	} else {
		utils.Debug("sweep completed", fields)
	}
	return nil
}

// Archive flags terminal auctions older than the retention window
func (s *Sweeper) Archive(ctx context.Context) error {
	started := time.Now()
	n, err := s.target.ArchiveTerminal(ctx, s.settings.Retention)
	s.metrics.SweepRun(jobArchive, started, err)
	if err != nil {
		utils.Error("archive run failed", map[string]any{"error": err.Error()})
		return err
	}
	utils.Info("archive run completed", map[string]any{"archived": n})
	return nil
}
