package event_test

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gyaneshwarpardhi/eventrelay/internal/event"
)

func TestCanTransition(t *testing.T) {
	all := []event.DeliveryState{
		event.StatePending, event.StateInFlight, event.StateSent,
		event.StateFailed, event.StateDeletedRemote,
	}
	allowed := map[[2]event.DeliveryState]bool{
		{event.StatePending, event.StateInFlight}:       true,
		{event.StatePending, event.StateDeletedRemote}:  true,
		{event.StateFailed, event.StateInFlight}:        true,
		{event.StateFailed, event.StateDeletedRemote}:   true,
		{event.StateInFlight, event.StateSent}:          true,
		{event.StateInFlight, event.StateFailed}:        true,
		{event.StateSent, event.StateDeletedRemote}:     true,
	}
	for _, from := range all {
		for _, to := range all {
			want := allowed[[2]event.DeliveryState{from, to}]
			assert.Equal(t, want, event.CanTransition(from, to), "%s -> %s", from, to)
		}
	}
	for _, from := range all {
		assert.False(t, event.CanTransition(from, event.StatePending), "%s must never return to pending", from)
	}
}

func TestSourcesFor(t *testing.T) {
	assert.ElementsMatch(t,
		[]event.DeliveryState{event.StatePending, event.StateFailed},
		event.SourcesFor(event.StateInFlight))
	assert.ElementsMatch(t,
		[]event.DeliveryState{event.StateInFlight},
		event.SourcesFor(event.StateSent))
	assert.Empty(t, event.SourcesFor(event.StatePending))
}

func TestTypeCodes(t *testing.T) {
	for i, typ := range event.Types {
		assert.Equal(t, i, typ.Code())
		back, ok := event.TypeFromCode(i)
		require.True(t, ok)
		assert.Equal(t, typ, back)
	}
	assert.Equal(t, -1, event.Type("bogus").Code())
	_, ok := event.TypeFromCode(5)
	assert.False(t, ok)

	typ, ok := event.ParseType(" Purchase ")
	assert.True(t, ok)
	assert.Equal(t, event.TypePurchase, typ)
}

func TestToWire(t *testing.T) {
	ts := time.Date(2026, 3, 1, 12, 0, 0, 500, time.FixedZone("CET", 3600))
	ev := event.Event{
		ID:        "01J0000000000000000000000A",
		UserID:    "U1",
		ItemID:    "P1",
		Type:      event.TypeAdd,
		Value:     2,
		Timestamp: ts,
		Meta:      map[string]any{"surface": "pdp"},
	}
	w := event.ToWire(ev)
	assert.Equal(t, "U1", w.UserID)
	assert.Equal(t, "P1", w.ItemID)
	assert.Equal(t, 2, w.Type)
	assert.Equal(t, 2.0, w.Value)
	assert.Equal(t, ev.ID, w.SourceEventID)
	assert.Equal(t, "2026-03-01T11:00:00.0000005Z", w.TS)
	require.NoError(t, w.Validate(true))
}

func TestWireValidate(t *testing.T) {
	good := event.Wire{UserID: "U1", Type: 0, Value: 1, TS: "2026-01-01T00:00:00Z", SourceEventID: "x"}
	require.NoError(t, good.Validate(true))

	cases := map[string]func(w *event.Wire){
		"missing user":   func(w *event.Wire) { w.UserID = " " },
		"type too large": func(w *event.Wire) { w.Type = 5 },
		"negative type":  func(w *event.Wire) { w.Type = -1 },
		"nan value":      func(w *event.Wire) { w.Value = math.NaN() },
		"bad ts":         func(w *event.Wire) { w.TS = "yesterday" },
		"no source id":   func(w *event.Wire) { w.SourceEventID = "" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			w := good
			mutate(&w)
			assert.ErrorIs(t, w.Validate(true), event.ErrContract)
		})
	}

	noID := good
	noID.SourceEventID = ""
	assert.NoError(t, noID.Validate(false))
}
