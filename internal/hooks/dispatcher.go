package hooks

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/gyaneshwarpardhi/eventrelay/internal/event"
	"github.com/gyaneshwarpardhi/eventrelay/internal/match"
	"github.com/gyaneshwarpardhi/eventrelay/internal/metrics"
	"github.com/gyaneshwarpardhi/eventrelay/internal/workpool"
)

// DefaultRule flags events produced while the recommender had no history for
// the user.
const DefaultRule = `meta.coldStart == true OR meta.cold_start == true`

// Kind is the hook-side name for an interaction.
type Kind string

const (
	KindImpression Kind = "impression"
	KindClick      Kind = "click"
	KindAdd        Kind = "add"
	KindPurchase   Kind = "purchase"
)

// KindFor maps an event type to its hook kind. Custom events have none.
func KindFor(t event.Type) (Kind, bool) {
	switch t {
	case event.TypeView:
		return KindImpression, true
	case event.TypeClick:
		return KindClick, true
	case event.TypeAdd:
		return KindAdd, true
	case event.TypePurchase:
		return KindPurchase, true
	}
	return "", false
}

// Notification is what a Notifier receives for a matching event.
type Notification struct {
	Kind    Kind           `json:"kind"`
	Rule    string         `json:"rule"`
	EventID string         `json:"event_id"`
	UserID  string         `json:"user_id"`
	ItemID  string         `json:"item_id,omitempty"`
	Value   float64        `json:"value"`
	TS      time.Time      `json:"ts"`
	Meta    map[string]any `json:"meta,omitempty"`
}

// Notifier publishes a notification somewhere outside the process.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// Rule is a named match expression.
type Rule struct {
	Name string `yaml:"name"`
	When string `yaml:"when"`
}

type compiledRule struct {
	name string
	expr match.Expr
}

// Config tunes the dispatcher.
type Config struct {
	Rules     []Rule
	Workers   int
	QueueSize int
	Timeout   time.Duration
}

// Dispatcher evaluates rules against freshly created events and hands
// matches to a Notifier in the background. It sits beside the delivery
// pipeline: notification failures never touch delivery state.
type Dispatcher struct {
	notifier Notifier
	pool     *workpool.Pool[Notification]
	rules    atomic.Pointer[[]compiledRule]
	timeout  time.Duration
	logger   *slog.Logger
}

// NewDispatcher compiles the rules and starts the worker pool. With no rules
// configured DefaultRule applies.
func NewDispatcher(ctx context.Context, notifier Notifier, conf Config, logger *slog.Logger) (*Dispatcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if conf.Workers <= 0 {
		conf.Workers = 2
	}
	if conf.QueueSize <= 0 {
		conf.QueueSize = 256
	}
	if conf.Timeout <= 0 {
		conf.Timeout = 5 * time.Second
	}
	d := &Dispatcher{
		notifier: notifier,
		timeout:  conf.Timeout,
		logger:   logger.With("component", "hooks"),
	}
	if err := d.SetRules(conf.Rules); err != nil {
		return nil, err
	}
	d.pool = workpool.New(ctx, conf.Workers, conf.QueueSize, d.send)
	return d, nil
}

// SetRules recompiles and swaps the rule set. On error the old set is kept.
func (d *Dispatcher) SetRules(rules []Rule) error {
	if len(rules) == 0 {
		rules = []Rule{{Name: "cold-start", When: DefaultRule}}
	}
	compiled := make([]compiledRule, 0, len(rules))
	for i, r := range rules {
		expr, err := match.Parse(r.When)
		if err != nil {
			return fmt.Errorf("hook rule %d (%s): %w", i, r.Name, err)
		}
		name := r.Name
		if name == "" {
			name = fmt.Sprintf("rule-%d", i)
		}
		compiled = append(compiled, compiledRule{name: name, expr: expr})
	}
	d.rules.Store(&compiled)
	return nil
}

// Observe queues a notification for every event matching a rule. It never
// blocks; when the queue is full the notification is dropped and counted.
func (d *Dispatcher) Observe(events ...event.Event) {
	rules := *d.rules.Load()
	for _, ev := range events {
		kind, ok := KindFor(ev.Type)
		if !ok {
			continue
		}
		fields := match.EventFields(ev)
		for _, r := range rules {
			hit, err := match.Eval(r.expr, fields)
			if err != nil {
				d.logger.Debug("hook rule failed to evaluate", "rule", r.name, "event_id", ev.ID, "err", err)
				continue
			}
			if !hit {
				continue
			}
			n := Notification{
				Kind:    kind,
				Rule:    r.name,
				EventID: ev.ID,
				UserID:  ev.UserID,
				ItemID:  ev.ItemID,
				Value:   ev.Value,
				TS:      ev.Timestamp,
				Meta:    ev.Meta,
			}
			if !d.pool.Submit(n) {
				metrics.HookNotifications.WithLabelValues(string(kind), "dropped").Inc()
				d.logger.Warn("hook queue full, notification dropped", "event_id", ev.ID)
			}
			metrics.PoolUtilization.WithLabelValues("hooks").Set(d.pool.Utilization())
			break
		}
	}
}

func (d *Dispatcher) send(ctx context.Context, n Notification) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	if err := d.notifier.Notify(ctx, n); err != nil {
		metrics.HookNotifications.WithLabelValues(string(n.Kind), "error").Inc()
		d.logger.Warn("hook notification failed", "kind", n.Kind, "event_id", n.EventID, "err", err)
		return
	}
	metrics.HookNotifications.WithLabelValues(string(n.Kind), "ok").Inc()
}

// Close drains queued notifications and stops the workers.
func (d *Dispatcher) Close() {
	d.pool.Drain()
}
