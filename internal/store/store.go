package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/gyaneshwarpardhi/eventrelay/internal/event"
)

var ErrNotFound = errors.New("event not found")

// ErrTimestampRange rejects timestamps that cannot be stored as Unix nanoseconds.
var ErrTimestampRange = errors.New("timestamp out of storable range")

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// Store is the durable outbox: events plus their delivery state.
type Store struct {
	db      *sql.DB
	dialect Dialect

	nowFn   func() time.Time
	newIDFn func() string
}

// New wraps an opened database.
func New(db *sql.DB, dialect Dialect) *Store {
	return &Store{
		db:      db,
		dialect: dialect,
		nowFn:   func() time.Time { return time.Now().UTC() },
		newIDFn: func() string { return ulid.Make().String() },
	}
}

// SetClock overrides the store's notion of now.
func (s *Store) SetClock(now func() time.Time) {
	s.nowFn = now
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) exec(ctx context.Context, q string, args ...any) (sql.Result, error) {
	var res sql.Result
	err := withBusyRetry(ctx, func() error {
		var err error
		res, err = s.db.ExecContext(ctx, s.dialect.rebind(q), args...)
		return err
	})
	return res, err
}

// Create persists drafts as pending events in one transaction. Either every
// draft is stored or none is.
func (s *Store) Create(ctx context.Context, drafts ...event.Draft) ([]event.Event, error) {
	if len(drafts) == 0 {
		return nil, nil
	}
	now := s.nowFn()
	created := make([]event.Event, 0, len(drafts))
	for i, d := range drafts {
		if !event.Representable(d.Timestamp) {
			return nil, fmt.Errorf("draft %d: timestamp %s: %w", i, d.Timestamp.Format(time.RFC3339), ErrTimestampRange)
		}
		created = append(created, event.Event{
			ID:            s.newIDFn(),
			UserID:        d.UserID,
			ItemID:        d.ItemID,
			Type:          d.Type,
			Value:         d.Value,
			Timestamp:     d.Timestamp.UTC(),
			Meta:          d.Meta,
			DeliveryState: event.StatePending,
			CreatedAt:     now,
			UpdatedAt:     now,
		})
	}

	insert := s.dialect.rebind(`INSERT INTO events (` + eventColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	err := withBusyRetry(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin create tx: %w", err)
		}
		defer func() {
			_ = tx.Rollback()
		}()
		for _, ev := range created {
			meta, err := encodeJSON(ev.Meta)
			if err != nil {
				return fmt.Errorf("encode meta: %w", err)
			}
			if _, err := tx.ExecContext(ctx, insert,
				ev.ID, ev.UserID, nullString(ev.ItemID), string(ev.Type), ev.Value,
				ev.Timestamp.UnixNano(), meta, string(ev.DeliveryState), nil,
				now.UnixNano(), now.UnixNano(),
			); err != nil {
				return fmt.Errorf("insert event: %w", err)
			}
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit create: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// Get returns a single event by id.
func (s *Store) Get(ctx context.Context, id string) (event.Event, error) {
	row := s.db.QueryRowContext(ctx, s.dialect.rebind(`SELECT `+eventColumns+` FROM events WHERE id = ?`), id)
	ev, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return event.Event{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return event.Event{}, fmt.Errorf("get event: %w", err)
	}
	return ev, nil
}

// Filter narrows List. Zero values mean "any".
type Filter struct {
	Type   event.Type
	UserID string
	ItemID string
	State  event.DeliveryState
	From   time.Time
	To     time.Time
	Limit  int
	Offset int
}

// Page is one slice of a List result.
type Page struct {
	Items []event.Event `json:"items"`
	Total int           `json:"total"`
}

// List browses events newest first. This ordering is for operators and is
// unrelated to delivery order.
func (s *Store) List(ctx context.Context, f Filter) (Page, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	offset := f.Offset
	if offset < 0 {
		offset = 0
	}

	var (
		where []string
		args  []any
	)
	if f.Type != "" {
		where = append(where, "type = ?")
		args = append(args, string(f.Type))
	}
	if f.UserID != "" {
		where = append(where, "user_id = ?")
		args = append(args, f.UserID)
	}
	if f.ItemID != "" {
		where = append(where, "item_id = ?")
		args = append(args, f.ItemID)
	}
	if f.State != "" {
		where = append(where, "delivery_state = ?")
		args = append(args, string(f.State))
	}
	if !f.From.IsZero() {
		where = append(where, "ts >= ?")
		args = append(args, clampNanos(f.From))
	}
	if !f.To.IsZero() {
		where = append(where, "ts <= ?")
		args = append(args, clampNanos(f.To))
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var page Page
	if err := s.db.QueryRowContext(ctx, s.dialect.rebind(`SELECT COUNT(*) FROM events`+clause), args...).Scan(&page.Total); err != nil {
		return Page{}, fmt.Errorf("count events: %w", err)
	}

	q := `SELECT ` + eventColumns + ` FROM events` + clause + ` ORDER BY ts DESC, id DESC LIMIT ? OFFSET ?`
	rows, err := s.db.QueryContext(ctx, s.dialect.rebind(q), append(args, limit, offset)...)
	if err != nil {
		return Page{}, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	page.Items = make([]event.Event, 0, limit)
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return Page{}, fmt.Errorf("scan event: %w", err)
		}
		page.Items = append(page.Items, ev)
	}
	if err := rows.Err(); err != nil {
		return Page{}, fmt.Errorf("iterate events: %w", err)
	}
	return page, nil
}

// CountByState reports how many events sit in each delivery state.
func (s *Store) CountByState(ctx context.Context) (map[event.DeliveryState]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT delivery_state, COUNT(*) FROM events GROUP BY delivery_state`)
	if err != nil {
		return nil, fmt.Errorf("count by state: %w", err)
	}
	defer rows.Close()

	out := make(map[event.DeliveryState]int)
	for rows.Next() {
		var state string
		var n int
		if err := rows.Scan(&state, &n); err != nil {
			return nil, fmt.Errorf("scan state count: %w", err)
		}
		out[event.DeliveryState(state)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate state counts: %w", err)
	}
	return out, nil
}
