package sweeper

import (
	"context"
	"log/slog"
	"time"

	"github.com/senolkacar/ByteNosh-TFE-2025-sub001/internal/lib/logger/sl"
)

// Expirer is the part of the waitlist service the sweeper drives.
type Expirer interface {
	ExpireOverdue(ctx context.Context, now time.Time) (int, error)
	PurgeTerminal(ctx context.Context, before time.Time) (int64, error)
}

// Sweeper periodically expires overdue notifications and purges finished
// entries older than the retention window.
type Sweeper struct {
	Log       *slog.Logger
	Service   Expirer
	Interval  time.Duration
	Retention time.Duration
	Now       func() time.Time
}

// Run sweeps once right away and then every Interval until ctx is done.
// Passes never overlap.
func (s *Sweeper) Run(ctx context.Context) error {
	t := time.NewTicker(s.Interval)
	defer t.Stop()

	s.Sweep(ctx)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			s.Sweep(ctx)
		}
	}
}

func (s *Sweeper) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// Sweep runs a single pass and reports what it did.
func (s *Sweeper) Sweep(ctx context.Context) (expired int, purged int64) {
	const op = "sweeper.Sweep"
	log := s.Log.With(slog.String("op", op))
	now := s.now()

	expired, err := s.Service.ExpireOverdue(ctx, now)
	if err != nil {
		log.Error("expire overdue failed", sl.Err(err))
	}

	if s.Retention > 0 {
		purged, err = s.Service.PurgeTerminal(ctx, now.Add(-s.Retention))
		if err != nil {
			log.Error("purge terminal failed", sl.Err(err))
		}
	}

	if expired > 0 || purged > 0 {
		log.Info("sweep done", slog.Int("expired", expired), slog.Int64("purged", purged))
	}
	return expired, purged
}
