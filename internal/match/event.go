package match

import (
	"github.com/gyaneshwarpardhi/eventrelay/internal/event"
)

// EventFields exposes an event to rule expressions. Top-level fields are
// type, user_id, item_id, value and state; meta.* walks the metadata map.
// camelCase aliases are accepted for the id fields.
func EventFields(ev event.Event) Resolver {
	return eventResolver{ev}
}

type eventResolver struct {
	ev event.Event
}

func (r eventResolver) Resolve(path []string) (any, bool) {
	if len(path) == 0 {
		return nil, false
	}
	switch path[0] {
	case "type":
		return string(r.ev.Type), len(path) == 1
	case "user_id", "userId":
		return r.ev.UserID, len(path) == 1
	case "item_id", "itemId":
		if r.ev.ItemID == "" {
			return nil, false
		}
		return r.ev.ItemID, len(path) == 1
	case "value":
		return r.ev.Value, len(path) == 1
	case "state":
		return string(r.ev.DeliveryState), len(path) == 1
	case "meta":
		return walk(r.ev.Meta, path[1:])
	}
	return nil, false
}

func walk(m map[string]any, path []string) (any, bool) {
	if len(path) == 0 {
		return m, m != nil
	}
	v, ok := m[path[0]]
	if !ok {
		return nil, false
	}
	if len(path) == 1 {
		return v, true
	}
	sub, ok := v.(map[string]any)
	if !ok {
		return nil, false
	}
	return walk(sub, path[1:])
}
