package delivery

import (
	"context"
	"log/slog"
	"time"
)

// StaleRecoverer releases claims abandoned by a coordinator that died or
// lost its resolution write. Outboxes that implement it get stale recovery
// from Coordinator.RecoverStale.
type StaleRecoverer interface {
	RecoverStale(ctx context.Context, cutoff time.Time) (int, error)
}

// SchedulerConfig drives periodic flush and retry.
type SchedulerConfig struct {
	FlushInterval time.Duration
	RetryBase     time.Duration
	RetryMax      time.Duration
}

func (c *SchedulerConfig) applyDefaults() {
	if c.FlushInterval <= 0 {
		c.FlushInterval = 5 * time.Second
	}
	if c.RetryBase <= 0 {
		c.RetryBase = 30 * time.Second
	}
	if c.RetryMax < c.RetryBase {
		c.RetryMax = 10 * c.RetryBase
	}
}

// Scheduler is an optional driver for the coordinator. Retries back off
// exponentially while the sink keeps failing, up to RetryMax, and snap back
// to RetryBase after a success. Operators can still trigger flush and retry
// directly; the scheduler only adds autonomous recovery.
type Scheduler struct {
	c      *Coordinator
	conf   SchedulerConfig
	logger *slog.Logger
}

func NewScheduler(c *Coordinator, conf SchedulerConfig, logger *slog.Logger) *Scheduler {
	conf.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{c: c, conf: conf, logger: logger.With("component", "scheduler")}
}

// Run blocks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	if _, err := s.c.RecoverStale(ctx); err != nil {
		s.logger.Warn("stale claim recovery failed", "err", err)
	}

	flushTicker := time.NewTicker(s.conf.FlushInterval)
	defer flushTicker.Stop()

	retryDelay := s.conf.RetryBase
	retryTimer := time.NewTimer(retryDelay)
	defer retryTimer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-flushTicker.C:
			if res, err := s.c.Flush(ctx); err != nil {
				s.logger.Warn("scheduled flush failed", "attempted", Attempted(err), "err", err)
			} else if res.Claimed > 0 {
				s.logger.Debug("scheduled flush", "forwarded", res.Forwarded)
			}
		case <-retryTimer.C:
			_, err := s.c.RetryFailed(ctx)
			retryDelay = NextBackoff(retryDelay, err, s.conf.RetryBase, s.conf.RetryMax)
			if err != nil {
				s.logger.Warn("scheduled retry failed", "attempted", Attempted(err), "next_in", retryDelay, "err", err)
			}
			retryTimer.Reset(retryDelay)
		}
	}
}

// NextBackoff doubles the delay after a failure (capped at ceiling) and resets it
// to base after a success.
func NextBackoff(current time.Duration, err error, base, ceiling time.Duration) time.Duration {
	if err == nil {
		return base
	}
	next := current * 2
	if next > ceiling || next <= 0 {
		return ceiling
	}
	return next
}
