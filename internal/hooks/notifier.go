package hooks

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

const (
	StreamName    = "COLDSTART"
	SubjectPrefix = "coldstart"
)

// Subject is the JetStream subject a notification is published on.
func Subject(k Kind) string {
	return SubjectPrefix + "." + string(k)
}

// JetStreamNotifier publishes notifications as JSON to NATS JetStream.
type JetStreamNotifier struct {
	nc *nats.Conn
	js jetstream.JetStream
}

// NewJetStreamNotifier connects and makes sure the stream exists.
func NewJetStreamNotifier(ctx context.Context, url string, logger *slog.Logger) (*JetStreamNotifier, error) {
	if logger == nil {
		logger = slog.Default()
	}
	nc, err := nats.Connect(url, nats.Name("eventrelay"))
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create jetstream: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      StreamName,
		Subjects:  []string{SubjectPrefix + ".>"},
		Retention: jetstream.LimitsPolicy,
		MaxAge:    7 * 24 * time.Hour,
		Storage:   jetstream.FileStorage,
	})
	if err != nil {
		logger.Warn("failed to create stream (may already exist)", "stream", StreamName, "err", err)
	}
	return &JetStreamNotifier{nc: nc, js: js}, nil
}

func (n *JetStreamNotifier) Notify(ctx context.Context, note Notification) error {
	data, err := json.Marshal(note)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	// Event ids are unique, so JetStream dedupes redelivered publishes.
	if _, err := n.js.Publish(ctx, Subject(note.Kind), data, jetstream.WithMsgID(note.EventID)); err != nil {
		return fmt.Errorf("publish %s: %w", Subject(note.Kind), err)
	}
	return nil
}

func (n *JetStreamNotifier) Close() {
	n.nc.Close()
}

// LogNotifier writes notifications to a slog logger. Used when no NATS URL
// is configured.
type LogNotifier struct {
	Logger *slog.Logger
}

func (l LogNotifier) Notify(_ context.Context, note Notification) error {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("hook", "subject", Subject(note.Kind), "rule", note.Rule, "event_id", note.EventID, "user_id", note.UserID, "item_id", note.ItemID)
	return nil
}
