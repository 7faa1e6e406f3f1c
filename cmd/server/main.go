package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/gyaneshwarpardhi/eventrelay/internal/api"
	"github.com/gyaneshwarpardhi/eventrelay/internal/config"
	"github.com/gyaneshwarpardhi/eventrelay/internal/delivery"
	"github.com/gyaneshwarpardhi/eventrelay/internal/hooks"
	"github.com/gyaneshwarpardhi/eventrelay/internal/normalize"
	"github.com/gyaneshwarpardhi/eventrelay/internal/resilience"
	"github.com/gyaneshwarpardhi/eventrelay/internal/sink"
	"github.com/gyaneshwarpardhi/eventrelay/internal/store"
)

func main() {
	cfgPath := flag.String("config", "configs/eventrelay.yaml", "Path to YAML config")
	addr := flag.String("addr", "", "HTTP listen address (overrides server.addr)")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	if err := run(*cfgPath, *addr, logger); err != nil {
		slog.Error("eventrelay exited with error", "err", err)
		os.Exit(1)
	}
	slog.Info("goodbye")
}

func run(cfgPath, addrOverride string, logger *slog.Logger) error {
	// ── Load config ──────────────────────────────────────────────────────────
	loader, err := config.NewLoader(cfgPath, logger)
	if err != nil {
		return err
	}
	cfg := loader.Config()
	if addrOverride != "" {
		cfg.Server.Addr = addrOverride
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Event store ──────────────────────────────────────────────────────────
	dialect, err := store.ParseDialect(cfg.Store.Driver)
	if err != nil {
		return err
	}
	db, err := store.Open(dialect, cfg.Store.DSN)
	if err != nil {
		return err
	}
	defer db.Close()
	events := store.New(db, dialect)
	slog.Info("event store ready", "driver", dialect)

	// ── Remote sink + coordinator ────────────────────────────────────────────
	breaker := resilience.NewCircuitBreaker("sink", cfg.Sink.BreakerThreshold, cfg.Sink.BreakerReset)
	remote := sink.WithBreaker(sink.NewHTTPClient(cfg.Sink.URL, cfg.Sink.Token, cfg.Sink.Timeout), breaker)
	coord := delivery.New(events, remote, delivery.Config{
		FlushBatch:     cfg.Delivery.FlushBatch,
		RetryBatch:     cfg.Delivery.RetryBatch,
		ResolveTimeout: cfg.Delivery.ResolveTimeout,
		StaleAfter:     cfg.Delivery.StaleAfter,
	}, logger)
	// Claims left behind by a previous process go back to the retry path.
	if _, err := coord.RecoverStale(ctx); err != nil {
		slog.Warn("stale claim recovery failed", "err", err)
	}

	// ── Cold-start hooks ─────────────────────────────────────────────────────
	var observer api.Observer
	var dispatcher *hooks.Dispatcher
	if cfg.Hooks.Enabled {
		var notifier hooks.Notifier = hooks.LogNotifier{Logger: logger}
		if cfg.Hooks.NATSURL != "" {
			js, err := hooks.NewJetStreamNotifier(ctx, cfg.Hooks.NATSURL, logger)
			if err != nil {
				return err
			}
			defer js.Close()
			notifier = js
		}
		// The pool outlives ctx so queued notifications drain on shutdown.
		dispatcher, err = hooks.NewDispatcher(context.WithoutCancel(ctx), notifier, hooks.Config{
			Rules:     hookRules(cfg.Hooks.Rules),
			Workers:   cfg.Hooks.Workers,
			QueueSize: cfg.Hooks.QueueSize,
			Timeout:   cfg.Hooks.Timeout,
		}, logger)
		if err != nil {
			return err
		}
		defer dispatcher.Close()
		observer = dispatcher
	}

	// ── Hot reload ───────────────────────────────────────────────────────────
	loader.OnChange(func(newCfg *config.Config) {
		coord.SetBatchSizes(newCfg.Delivery.FlushBatch, newCfg.Delivery.RetryBatch)
		if dispatcher != nil {
			if err := dispatcher.SetRules(hookRules(newCfg.Hooks.Rules)); err != nil {
				slog.Warn("hook rules not reloaded", "err", err)
			}
		}
		slog.Info("runtime settings reloaded", "flush_batch", newCfg.Delivery.FlushBatch, "retry_batch", newCfg.Delivery.RetryBatch)
	})
	stopWatch, err := loader.Watch()
	if err != nil {
		slog.Warn("config watcher unavailable (hot-reload disabled)", "err", err)
	} else {
		defer stopWatch()
	}

	// ── HTTP server ──────────────────────────────────────────────────────────
	srv := &http.Server{
		Addr: cfg.Server.Addr,
		Handler: api.New(api.Deps{
			Store:           events,
			Coordinator:     coord,
			Normalizer:      normalize.New(cfg.Limits.MaxBatch),
			Hooks:           observer,
			Loader:          loader,
			MaxBodyBytes:    cfg.Limits.MaxBodyBytes,
			CreatePerMinute: cfg.Limits.CreatePerMinute,
			Logger:          logger,
		}),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	if cfg.Scheduler.Enabled {
		sched := delivery.NewScheduler(coord, delivery.SchedulerConfig{
			FlushInterval: cfg.Scheduler.FlushInterval,
			RetryBase:     cfg.Scheduler.RetryBase,
			RetryMax:      cfg.Scheduler.RetryMax,
		}, logger)
		g.Go(func() error { return sched.Run(gctx) })
	}

	// ── Graceful shutdown ────────────────────────────────────────────────────
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down…")
		shutCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
	return g.Wait()
}

func hookRules(in []config.HookRule) []hooks.Rule {
	out := make([]hooks.Rule, len(in))
	for i, r := range in {
		out[i] = hooks.Rule{Name: r.Name, When: r.When}
	}
	return out
}
