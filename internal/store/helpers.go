package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/gyaneshwarpardhi/eventrelay/internal/event"
)

const eventColumns = `id, user_id, item_id, type, value, ts, meta, delivery_state, sent_at, created_at, updated_at`

// maxParams bounds the ids bound into one IN (...) list.
const maxParams = 500

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(row rowScanner) (event.Event, error) {
	var (
		ev                       event.Event
		itemID, meta             sql.NullString
		typ, state               string
		ts, createdAt, updatedAt int64
		sentAt                   sql.NullInt64
	)
	if err := row.Scan(&ev.ID, &ev.UserID, &itemID, &typ, &ev.Value, &ts, &meta, &state, &sentAt, &createdAt, &updatedAt); err != nil {
		return event.Event{}, err
	}
	ev.ItemID = itemID.String
	ev.Type = event.Type(typ)
	ev.DeliveryState = event.DeliveryState(state)
	ev.Timestamp = fromNanos(ts)
	ev.CreatedAt = fromNanos(createdAt)
	ev.UpdatedAt = fromNanos(updatedAt)
	ev.Meta = decodeJSONMap(meta.String)
	if sentAt.Valid {
		t := fromNanos(sentAt.Int64)
		ev.SentAt = &t
	}
	return ev, nil
}

// clampNanos pins filter bounds to the storable range so far-off bounds
// still compare correctly.
func clampNanos(t time.Time) int64 {
	switch {
	case t.Before(event.MinTime):
		return event.MinTime.UnixNano()
	case t.After(event.MaxTime):
		return event.MaxTime.UnixNano()
	}
	return t.UnixNano()
}

func fromNanos(n int64) time.Time {
	return time.Unix(0, n).UTC()
}

func encodeJSON(v map[string]any) (any, error) {
	if len(v) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func decodeJSONMap(v string) map[string]any {
	if v == "" {
		return nil
	}
	var out map[string]any
	if err := json.Unmarshal([]byte(v), &out); err != nil {
		return nil
	}
	return out
}

func nullString(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func stringArgs[T ~string](vals []T) []any {
	out := make([]any, len(vals))
	for i, v := range vals {
		out[i] = string(v)
	}
	return out
}

func chunks(ids []string, size int) [][]string {
	var out [][]string
	for len(ids) > size {
		out = append(out, ids[:size])
		ids = ids[size:]
	}
	if len(ids) > 0 {
		out = append(out, ids)
	}
	return out
}

// rebind rewrites ? placeholders into the dialect's native form.
func (d Dialect) rebind(query string) string {
	if d != DialectPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 16)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

// withBusyRetry retries fn while sqlite reports lock contention.
func withBusyRetry(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 0; attempt < 5; attempt++ {
		err = fn()
		if err == nil || !isBusyError(err) {
			return err
		}
		select {
		case <-ctx.Done():
			return err
		case <-time.After(time.Duration(25*(attempt+1)) * time.Millisecond):
		}
	}
	return err
}

func isBusyError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "SQLITE_BUSY")
}
