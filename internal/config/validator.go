package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/gyaneshwarpardhi/eventrelay/internal/match"
)

const maxBatchSize = 10000

// Validate collects every problem with cfg rather than stopping at the first.
func Validate(cfg *Config) error {
	var errs []string

	switch cfg.Store.Driver {
	case "sqlite", "postgres":
	default:
		errs = append(errs, fmt.Sprintf("store.driver: unknown driver %q (want sqlite or postgres)", cfg.Store.Driver))
	}
	if cfg.Store.DSN == "" {
		errs = append(errs, "store.dsn is required")
	}

	if cfg.Sink.URL == "" {
		errs = append(errs, "sink.url is required")
	} else if u, err := url.Parse(cfg.Sink.URL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, fmt.Sprintf("sink.url: %q is not an http(s) URL", cfg.Sink.URL))
	}
	if cfg.Sink.BreakerThreshold < 0 {
		errs = append(errs, "sink.breaker_threshold must not be negative")
	}

	checkBatch := func(name string, n int) {
		if n < 1 || n > maxBatchSize {
			errs = append(errs, fmt.Sprintf("%s must be between 1 and %d, got %d", name, maxBatchSize, n))
		}
	}
	checkBatch("delivery.flush_batch", cfg.Delivery.FlushBatch)
	checkBatch("delivery.retry_batch", cfg.Delivery.RetryBatch)
	checkBatch("limits.max_batch", cfg.Limits.MaxBatch)
	if cfg.Limits.CreatePerMinute < 0 {
		errs = append(errs, "limits.create_per_minute must not be negative")
	}

	s := cfg.Scheduler
	if s.Enabled && s.RetryMax > 0 && s.RetryBase > 0 && s.RetryMax < s.RetryBase {
		errs = append(errs, "scheduler.retry_max must be at least scheduler.retry_base")
	}

	names := make(map[string]int)
	for i, r := range cfg.Hooks.Rules {
		if r.When == "" {
			errs = append(errs, fmt.Sprintf("hooks.rules[%d]: when is required", i))
			continue
		}
		if _, err := match.Parse(r.When); err != nil {
			errs = append(errs, fmt.Sprintf("hooks.rules[%d]: %v", i, err))
		}
		if r.Name == "" {
			continue
		}
		if prev, ok := names[r.Name]; ok {
			errs = append(errs, fmt.Sprintf("duplicate hook rule name %q (rules[%d] and rules[%d])", r.Name, prev, i))
		} else {
			names[r.Name] = i
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
