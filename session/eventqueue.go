package session

import "github.com/shrtyk/raft-fsm/api"

// EventQueue is the per-session ordered queue of unacknowledged event
// batches awaiting delivery to the client (spec.md §3, §4.3). It holds
// every batch the client has not yet acked — dropping one here would
// permanently break that client's previousIndex chain, since a dropped
// batch can never be resent and every later batch's previousIndex still
// points at it (invariant 4). While the session is live, the only thing
// that shrinks it is Prune, called once the engine learns (via
// KEEP_ALIVE's reported EventIndex) that the client has acked past a
// given point; Clear empties it when the session is drained on removal
// (Session.Drain). The initial
// capacity is sized from the engine's config.EventQueueSize ambient
// tunable (SPEC_FULL §10) purely to avoid reallocation churn; it is not a
// cap.
type EventQueue struct {
	batches []api.EventBatch
}

func NewEventQueue(capacityHint int) *EventQueue {
	if capacityHint <= 0 {
		capacityHint = 1
	}
	return &EventQueue{batches: make([]api.EventBatch, 0, capacityHint)}
}

func (q *EventQueue) Push(b api.EventBatch) {
	q.batches = append(q.batches, b)
}

// Prune discards every batch whose EventIndex is <= ackedEventIndex: the
// client has confirmed delivery of everything up to and including it, so
// it can never need a resend of those batches again.
func (q *EventQueue) Prune(ackedEventIndex api.Index) {
	kept := q.batches[:0]
	for _, b := range q.batches {
		if b.EventIndex > ackedEventIndex {
			kept = append(kept, b)
		}
	}
	q.batches = kept
}

// Since returns every batch whose EventIndex is strictly greater than
// ackedEventIndex, in enqueue order.
func (q *EventQueue) Since(ackedEventIndex api.Index) []api.EventBatch {
	out := make([]api.EventBatch, 0, len(q.batches))
	for _, b := range q.batches {
		if b.EventIndex > ackedEventIndex {
			out = append(out, b)
		}
	}
	return out
}

func (q *EventQueue) All() []api.EventBatch {
	out := make([]api.EventBatch, len(q.batches))
	copy(out, q.batches)
	return out
}

func (q *EventQueue) Len() int { return len(q.batches) }

func (q *EventQueue) Clear() { q.batches = nil }
