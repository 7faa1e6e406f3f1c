package event

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

// Type is the kind of storefront interaction an event records.
type Type string

const (
	TypeView     Type = "view"
	TypeClick    Type = "click"
	TypeAdd      Type = "add"
	TypePurchase Type = "purchase"
	TypeCustom   Type = "custom"
)

var typeCodes = map[Type]int{
	TypeView:     0,
	TypeClick:    1,
	TypeAdd:      2,
	TypePurchase: 3,
	TypeCustom:   4,
}

// Types lists the known types in wire-code order.
var Types = []Type{TypeView, TypeClick, TypeAdd, TypePurchase, TypeCustom}

// Code returns the wire code (0..4) for t, or -1 if t is unknown.
func (t Type) Code() int {
	if c, ok := typeCodes[t]; ok {
		return c
	}
	return -1
}

// Valid reports whether t is one of the five known types.
func (t Type) Valid() bool {
	_, ok := typeCodes[t]
	return ok
}

// ParseType resolves a case-insensitive type name.
func ParseType(s string) (Type, bool) {
	t := Type(strings.ToLower(strings.TrimSpace(s)))
	return t, t.Valid()
}

// TypeFromCode resolves a wire code.
func TypeFromCode(code int) (Type, bool) {
	if code < 0 || code >= len(Types) {
		return "", false
	}
	return Types[code], true
}

// Stored timestamps are Unix nanoseconds, which bounds the instants an event
// can carry.
var (
	MinTime = time.Unix(0, math.MinInt64).UTC()
	MaxTime = time.Unix(0, math.MaxInt64).UTC()
)

// Representable reports whether t survives storage as Unix nanoseconds.
func Representable(t time.Time) bool {
	return !t.Before(MinTime) && !t.After(MaxTime)
}

// Event is a persisted interaction event together with its delivery state.
// ID doubles as the idempotency key sent downstream and never changes.
type Event struct {
	ID            string         `json:"id"`
	UserID        string         `json:"userId"`
	ItemID        string         `json:"itemId,omitempty"`
	Type          Type           `json:"type"`
	Value         float64        `json:"value"`
	Timestamp     time.Time      `json:"timestamp"`
	Meta          map[string]any `json:"meta,omitempty"`
	DeliveryState DeliveryState  `json:"deliveryState"`
	SentAt        *time.Time     `json:"sentAt,omitempty"`
	CreatedAt     time.Time      `json:"createdAt"`
	UpdatedAt     time.Time      `json:"updatedAt"`
}

// SourceEventID is the idempotency key carried by every delivery attempt.
func (e Event) SourceEventID() string { return e.ID }

// Draft is a normalized event that has not been persisted yet.
type Draft struct {
	UserID    string
	ItemID    string
	Type      Type
	Value     float64
	Timestamp time.Time
	Meta      map[string]any
}

// Wire is the canonical representation forwarded to the remote sink.
type Wire struct {
	UserID        string         `json:"user_id"`
	ItemID        string         `json:"item_id,omitempty"`
	Type          int            `json:"type"`
	Value         float64        `json:"value"`
	TS            string         `json:"ts"`
	Meta          map[string]any `json:"meta,omitempty"`
	SourceEventID string         `json:"source_event_id"`
}

// ToWire maps a stored event onto the wire contract.
func ToWire(e Event) Wire {
	return Wire{
		UserID:        e.UserID,
		ItemID:        e.ItemID,
		Type:          e.Type.Code(),
		Value:         e.Value,
		TS:            e.Timestamp.UTC().Format(time.RFC3339Nano),
		Meta:          e.Meta,
		SourceEventID: e.SourceEventID(),
	}
}

// ErrContract is wrapped by every wire contract violation.
var ErrContract = errors.New("wire contract violation")

// Validate checks w against the wire contract. A missing SourceEventID is
// allowed only when requireSourceID is false (capture-side payloads are
// validated before the server assigns an id).
func (w Wire) Validate(requireSourceID bool) error {
	switch {
	case strings.TrimSpace(w.UserID) == "":
		return fmt.Errorf("%w: user_id is required", ErrContract)
	case w.Type < 0 || w.Type >= len(Types):
		return fmt.Errorf("%w: type %d out of range", ErrContract, w.Type)
	case math.IsNaN(w.Value) || math.IsInf(w.Value, 0):
		return fmt.Errorf("%w: value must be finite", ErrContract)
	case requireSourceID && w.SourceEventID == "":
		return fmt.Errorf("%w: source_event_id is required", ErrContract)
	}
	if _, err := time.Parse(time.RFC3339Nano, w.TS); err != nil {
		return fmt.Errorf("%w: ts %q is not ISO-8601", ErrContract, w.TS)
	}
	return nil
}
