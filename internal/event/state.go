package event

import "errors"

// DeliveryState tracks an event through the outbox.
type DeliveryState string

const (
	StatePending       DeliveryState = "pending"
	StateInFlight      DeliveryState = "in_flight"
	StateSent          DeliveryState = "sent"
	StateFailed        DeliveryState = "failed"
	StateDeletedRemote DeliveryState = "deleted_remote"
)

// States lists every delivery state.
var States = []DeliveryState{StatePending, StateInFlight, StateSent, StateFailed, StateDeletedRemote}

var ErrInvalidTransition = errors.New("invalid delivery state transition")

// Valid reports whether s is a known delivery state.
func (s DeliveryState) Valid() bool {
	switch s {
	case StatePending, StateInFlight, StateSent, StateFailed, StateDeletedRemote:
		return true
	}
	return false
}

// Terminal reports whether no coordinator will ever move s again.
func (s DeliveryState) Terminal() bool {
	return s == StateSent || s == StateDeletedRemote
}

// CanTransition reports whether the outbox may move an event from one state to
// another. Nothing ever returns to pending, and in_flight is only entered
// through a claim.
func CanTransition(from, to DeliveryState) bool {
	switch from {
	case StatePending:
		return to == StateInFlight || to == StateDeletedRemote
	case StateFailed:
		return to == StateInFlight || to == StateDeletedRemote
	case StateInFlight:
		return to == StateSent || to == StateFailed
	case StateSent:
		return to == StateDeletedRemote
	default:
		return false
	}
}

// SourcesFor returns every state that may legally move to `to`.
func SourcesFor(to DeliveryState) []DeliveryState {
	var out []DeliveryState
	for _, from := range []DeliveryState{StatePending, StateInFlight, StateSent, StateFailed, StateDeletedRemote} {
		if CanTransition(from, to) {
			out = append(out, from)
		}
	}
	return out
}

// Deletable reports whether an operator hard delete may remove an event in s.
// In-flight rows belong to a coordinator until it resolves them.
func Deletable(s DeliveryState) bool {
	return s != StateInFlight
}
