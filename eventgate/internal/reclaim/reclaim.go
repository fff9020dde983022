// Package reclaim returns events stranded in PROCESSING to FAILED so a
// redelivery can retry them.
package reclaim

import (
	"context"
	"log/slog"
	"time"

	"github.com/telhawk-systems/eventgate/common/logging"
	"github.com/telhawk-systems/eventgate/eventgate/internal/metrics"
	"github.com/telhawk-systems/eventgate/eventgate/internal/models"
)

// Reason is recorded as last_error on reclaimed events.
const Reason = "reclaimed: processing timed out"

// Store is the part of the event store the sweeper needs.
type Store interface {
	ReclaimStale(ctx context.Context, cutoff time.Time, limit int, reason string) ([]*models.Event, error)
}

type Config struct {
	// Interval between sweeps.
	Interval time.Duration
	// After is how long an event may stay in PROCESSING before it is reclaimed.
	After time.Duration
	// BatchSize caps rows updated per statement.
	BatchSize int
}

func DefaultConfig() Config {
	return Config{
		Interval:  time.Minute,
		After:     15 * time.Minute,
		BatchSize: 100,
	}
}

type Sweeper struct {
	store  Store
	cfg    Config
	now    func() time.Time
	logger *slog.Logger
}

func NewSweeper(store Store, cfg Config, logger *slog.Logger) *Sweeper {
	defaults := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = defaults.Interval
	}
	if cfg.After <= 0 {
		cfg.After = defaults.After
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaults.BatchSize
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Sweeper{
		store:  store,
		cfg:    cfg,
		now:    time.Now,
		logger: logger.With(logging.Component("reclaim")),
	}
}

// SetClock overrides the time source.
func (s *Sweeper) SetClock(now func() time.Time) {
	s.now = now
}

// SweepOnce reclaims every stale event, batch by batch, and returns them.
func (s *Sweeper) SweepOnce(ctx context.Context) ([]*models.Event, error) {
	cutoff := s.now().Add(-s.cfg.After)

	var all []*models.Event
	for {
		batch, err := s.store.ReclaimStale(ctx, cutoff, s.cfg.BatchSize, Reason)
		if err != nil {
			return all, err
		}
		all = append(all, batch...)
		metrics.Reclaimed.Add(float64(len(batch)))

		for _, e := range batch {
			s.logger.WarnContext(ctx, "reclaimed stale event",
				logging.MessageID(e.MessageID), logging.Topic(e.Topic),
				logging.EventType(e.EventType), slog.Int("attempt", e.Attempts))
		}

		if len(batch) < s.cfg.BatchSize {
			return all, nil
		}
	}
}

// Run sweeps every Interval until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	s.logger.Info("sweeper started",
		slog.Duration("interval", s.cfg.Interval),
		slog.Duration("after", s.cfg.After))

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("sweeper stopped")
			return
		case <-ticker.C:
			if _, err := s.SweepOnce(ctx); err != nil && ctx.Err() == nil {
				s.logger.Error("sweep failed", logging.Error(err))
			}
		}
	}
}
