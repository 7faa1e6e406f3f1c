package normalize

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/gyaneshwarpardhi/eventrelay/internal/event"
)

// DefaultMaxBatch bounds how many events one create request may carry.
const DefaultMaxBatch = 1000

// NotesKey holds a meta string that could not be parsed as a JSON object.
const NotesKey = "notes"

var ErrInvalid = errors.New("invalid event payload")

// ValidationError describes why a create request was rejected. Index is the
// offending element (-1 for request-level problems).
type ValidationError struct {
	Index  int
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Index < 0 {
		return fmt.Sprintf("invalid payload: %s", e.Reason)
	}
	if e.Field == "" {
		return fmt.Sprintf("invalid event at index %d: %s", e.Index, e.Reason)
	}
	return fmt.Sprintf("invalid event at index %d: %s %s", e.Index, e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrInvalid }

// Normalizer turns raw client payloads into store-ready drafts.
type Normalizer struct {
	MaxBatch int
	Now      func() time.Time
}

// New returns a Normalizer with the given batch bound (DefaultMaxBatch when <= 0).
func New(maxBatch int) *Normalizer {
	if maxBatch <= 0 {
		maxBatch = DefaultMaxBatch
	}
	return &Normalizer{MaxBatch: maxBatch, Now: time.Now}
}

// Normalize accepts a single JSON object or an array of them. The request is
// admitted as a whole: one bad element rejects every element.
func (n *Normalizer) Normalize(body []byte) ([]event.Draft, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, &ValidationError{Index: -1, Reason: "empty body"}
	}

	var raws []json.RawMessage
	if trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &raws); err != nil {
			return nil, &ValidationError{Index: -1, Reason: fmt.Sprintf("malformed JSON array: %s", err)}
		}
		if len(raws) == 0 {
			return nil, &ValidationError{Index: -1, Reason: "batch must contain at least one event"}
		}
	} else {
		raws = []json.RawMessage{trimmed}
	}
	if len(raws) > n.MaxBatch {
		return nil, &ValidationError{Index: -1, Reason: fmt.Sprintf("batch size %d exceeds max %d", len(raws), n.MaxBatch)}
	}

	out := make([]event.Draft, 0, len(raws))
	for i, raw := range raws {
		var obj map[string]any
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.UseNumber()
		if err := dec.Decode(&obj); err != nil || obj == nil {
			return nil, &ValidationError{Index: i, Reason: "must be a JSON object"}
		}
		d, err := n.Draft(obj)
		if err != nil {
			var ve *ValidationError
			if errors.As(err, &ve) {
				ve.Index = i
			}
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

// Draft canonicalizes one decoded object.
func (n *Normalizer) Draft(obj map[string]any) (event.Draft, error) {
	userID, err := stringField(obj, "userId", "user_id")
	if err != nil {
		return event.Draft{}, err
	}
	if strings.TrimSpace(userID) == "" {
		return event.Draft{}, &ValidationError{Field: "userId", Reason: "is required"}
	}
	itemID, err := stringField(obj, "itemId", "item_id")
	if err != nil {
		return event.Draft{}, err
	}

	now := time.Now
	if n.Now != nil {
		now = n.Now
	}

	return event.Draft{
		UserID:    userID,
		ItemID:    itemID,
		Type:      canonicalType(obj["type"]),
		Value:     canonicalValue(obj["value"]),
		Timestamp: canonicalTime(first(obj, "timestamp", "ts"), now),
		Meta:      canonicalMeta(obj["meta"]),
	}, nil
}

func first(obj map[string]any, keys ...string) any {
	for _, k := range keys {
		if v, ok := obj[k]; ok && v != nil {
			return v
		}
	}
	return nil
}

// stringField accepts a string or a number (rendered in decimal).
func stringField(obj map[string]any, keys ...string) (string, error) {
	switch v := first(obj, keys...).(type) {
	case nil:
		return "", nil
	case string:
		return v, nil
	case json.Number:
		return v.String(), nil
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), nil
	default:
		return "", &ValidationError{Field: keys[0], Reason: fmt.Sprintf("must be a string, got %T", v)}
	}
}

func canonicalType(v any) event.Type {
	switch t := v.(type) {
	case string:
		if typ, ok := event.ParseType(t); ok {
			return typ
		}
	case json.Number:
		if code, err := t.Int64(); err == nil {
			if typ, ok := event.TypeFromCode(int(code)); ok {
				return typ
			}
		}
	case float64:
		if typ, ok := event.TypeFromCode(int(t)); ok && float64(int(t)) == t {
			return typ
		}
	}
	return event.TypeView
}

func canonicalValue(v any) float64 {
	var f float64
	switch n := v.(type) {
	case json.Number:
		parsed, err := n.Float64()
		if err != nil {
			return 1
		}
		f = parsed
	case float64:
		f = n
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 1
		}
		f = parsed
	default:
		return 1
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 1
	}
	return f
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// canonicalTime falls back to now for anything unparseable, including
// instants outside the range the store can hold.
func canonicalTime(v any, now func() time.Time) time.Time {
	var t time.Time
	switch raw := v.(type) {
	case string:
		s := strings.TrimSpace(raw)
		for _, layout := range timeLayouts {
			if parsed, err := time.Parse(layout, s); err == nil {
				t = parsed.UTC()
				break
			}
		}
	case json.Number:
		// epoch milliseconds
		if ms, err := raw.Int64(); err == nil && ms > 0 {
			t = time.UnixMilli(ms).UTC()
		}
	case float64:
		if raw > 0 && raw < maxEpochMillis {
			t = time.UnixMilli(int64(raw)).UTC()
		}
	}
	if t.IsZero() || !event.Representable(t) {
		return now().UTC()
	}
	return t
}

// maxEpochMillis keeps the float to int64 conversion in range.
const maxEpochMillis = float64(math.MaxInt64 / 1000)

func canonicalMeta(v any) map[string]any {
	switch m := v.(type) {
	case nil:
		return nil
	case map[string]any:
		return plainNumbers(m).(map[string]any)
	case string:
		if strings.TrimSpace(m) == "" {
			return nil
		}
		var parsed map[string]any
		if err := json.Unmarshal([]byte(m), &parsed); err == nil && parsed != nil {
			return parsed
		}
		return map[string]any{NotesKey: m}
	default:
		if b, err := json.Marshal(plainNumbers(m)); err == nil {
			return map[string]any{NotesKey: string(b)}
		}
		return map[string]any{NotesKey: fmt.Sprint(m)}
	}
}

// plainNumbers replaces json.Number values left by UseNumber with float64 so
// meta round-trips through the store like any other decoded JSON.
func plainNumbers(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, inner := range t {
			t[k] = plainNumbers(inner)
		}
		return t
	case []any:
		for i, inner := range t {
			t[i] = plainNumbers(inner)
		}
		return t
	case json.Number:
		if f, err := t.Float64(); err == nil {
			return f
		}
		return t.String()
	default:
		return v
	}
}
