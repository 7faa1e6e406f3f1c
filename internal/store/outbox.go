package store

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/gyaneshwarpardhi/eventrelay/internal/event"
)

// TransitionError reports a state change that the delivery graph does not
// allow, or one that applied to fewer events than requested because some of
// them were no longer in an eligible state.
type TransitionError struct {
	From      event.DeliveryState
	To        event.DeliveryState
	Requested int
	Applied   int
}

func (e *TransitionError) Error() string {
	if e.From != "" {
		return fmt.Sprintf("invalid delivery state transition: %s -> %s", e.From, e.To)
	}
	return fmt.Sprintf("transition to %s applied to %d of %d events", e.To, e.Applied, e.Requested)
}

func (e *TransitionError) Unwrap() error {
	return event.ErrInvalidTransition
}

// Claim atomically moves up to n of the oldest events in state from (pending
// or failed) to in_flight and returns them oldest first. Selection and marking
// happen in a single conditional UPDATE, so concurrent claimers never share a
// row.
func (s *Store) Claim(ctx context.Context, n int, from event.DeliveryState) ([]event.Event, error) {
	if !event.CanTransition(from, event.StateInFlight) {
		return nil, &TransitionError{From: from, To: event.StateInFlight}
	}
	if n <= 0 {
		return nil, nil
	}

	lock := ""
	if s.dialect == DialectPostgres {
		lock = " FOR UPDATE SKIP LOCKED"
	}
	q := s.dialect.rebind(`
		UPDATE events SET delivery_state = ?, updated_at = ?
		WHERE delivery_state = ? AND id IN (
			SELECT id FROM events WHERE delivery_state = ? ORDER BY ts ASC, id ASC LIMIT ?` + lock + `
		)
		RETURNING ` + eventColumns)

	var claimed []event.Event
	err := withBusyRetry(ctx, func() error {
		claimed = claimed[:0]
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin claim tx: %w", err)
		}
		defer func() {
			_ = tx.Rollback()
		}()

		rows, err := tx.QueryContext(ctx, q,
			string(event.StateInFlight), s.nowFn().UnixNano(), string(from), string(from), n)
		if err != nil {
			return fmt.Errorf("claim %s events: %w", from, err)
		}
		for rows.Next() {
			ev, err := scanEvent(rows)
			if err != nil {
				rows.Close()
				return fmt.Errorf("scan claimed event: %w", err)
			}
			claimed = append(claimed, ev)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return fmt.Errorf("iterate claimed events: %w", err)
		}
		rows.Close()

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit claim: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	// RETURNING order is unspecified.
	sort.SliceStable(claimed, func(i, j int) bool {
		if claimed[i].Timestamp.Equal(claimed[j].Timestamp) {
			return claimed[i].ID < claimed[j].ID
		}
		return claimed[i].Timestamp.Before(claimed[j].Timestamp)
	})
	return claimed, nil
}

// MarkDelivered moves in_flight events to sent.
func (s *Store) MarkDelivered(ctx context.Context, ids []string, sentAt time.Time) (int, error) {
	return s.transition(ctx, ids, event.StateSent, &sentAt)
}

// MarkFailed moves in_flight events to failed, where a later retry picks them up.
func (s *Store) MarkFailed(ctx context.Context, ids []string) (int, error) {
	return s.transition(ctx, ids, event.StateFailed, nil)
}

// MarkDeletedRemote records a confirmed remote deletion.
func (s *Store) MarkDeletedRemote(ctx context.Context, ids []string) (int, error) {
	return s.transition(ctx, ids, event.StateDeletedRemote, nil)
}

func (s *Store) transition(ctx context.Context, ids []string, to event.DeliveryState, sentAt *time.Time) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	froms := event.SourcesFor(to)
	now := s.nowFn().UnixNano()

	applied := 0
	for _, chunk := range chunks(ids, maxParams) {
		args := []any{string(to), now}
		set := "delivery_state = ?, updated_at = ?"
		if sentAt != nil {
			set += ", sent_at = ?"
			args = append(args, sentAt.UTC().UnixNano())
		}
		args = append(args, stringArgs(chunk)...)
		args = append(args, stringArgs(froms)...)

		q := `UPDATE events SET ` + set +
			` WHERE id IN (` + placeholders(len(chunk)) + `) AND delivery_state IN (` + placeholders(len(froms)) + `)`
		res, err := s.exec(ctx, q, args...)
		if err != nil {
			return applied, fmt.Errorf("mark %s: %w", to, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return applied, fmt.Errorf("mark %s rows affected: %w", to, err)
		}
		applied += int(n)
	}
	if applied < len(ids) {
		return applied, &TransitionError{To: to, Requested: len(ids), Applied: applied}
	}
	return applied, nil
}

// RecoverStale fails in_flight events claimed before cutoff. A coordinator
// that died mid-forward leaves its batch behind; this hands it to the retry path.
func (s *Store) RecoverStale(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := s.exec(ctx,
		`UPDATE events SET delivery_state = ?, updated_at = ? WHERE delivery_state = ? AND updated_at < ?`,
		string(event.StateFailed), s.nowFn().UnixNano(), string(event.StateInFlight), cutoff.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("recover stale claims: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("recover stale rows affected: %w", err)
	}
	return int(n), nil
}

// DeleteByIDs hard-deletes events regardless of delivery outcome. Events
// currently in_flight are skipped.
func (s *Store) DeleteByIDs(ctx context.Context, ids []string) (int, error) {
	deleted := 0
	for _, chunk := range chunks(ids, maxParams) {
		args := append(stringArgs(chunk), string(event.StateInFlight))
		res, err := s.exec(ctx,
			`DELETE FROM events WHERE id IN (`+placeholders(len(chunk))+`) AND delivery_state != ?`, args...)
		if err != nil {
			return deleted, fmt.Errorf("delete events: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return deleted, fmt.Errorf("delete events rows affected: %w", err)
		}
		deleted += int(n)
	}
	return deleted, nil
}

// DeleteByState hard-deletes every event in state.
func (s *Store) DeleteByState(ctx context.Context, state event.DeliveryState) (int, error) {
	if !state.Valid() || !event.Deletable(state) {
		return 0, fmt.Errorf("cannot hard delete events in state %q", state)
	}
	res, err := s.exec(ctx, `DELETE FROM events WHERE delivery_state = ?`, string(state))
	if err != nil {
		return 0, fmt.Errorf("delete %s events: %w", state, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete %s rows affected: %w", state, err)
	}
	return int(n), nil
}
