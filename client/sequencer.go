// Package client implements the event sequencer (C3, spec.md §2) and the
// inbound publish-request handler (spec.md §6 "Inbound on client side"):
// the client-side half of the event-publication pipeline that starts with
// engine.Engine's api.EventPublisher hook.
package client

import (
	"container/heap"
	"log/slog"
	"sync"

	"github.com/shrtyk/raft-fsm/api"
)

// ErrUnknownSession mirrors api.ErrUnknownSession's meaning on the client
// side: a publish request named a session this sequencer isn't tracking.
var ErrUnknownSession = api.ErrUnknownSession

// Handler receives sequenced events, one batch's worth at a time, strictly
// in index order. It runs on whatever goroutine calls Sequencer.Handle,
// with the sequencer's lock held; it must not block indefinitely.
type Handler func(events [][]byte)

// Sequencer orders server-published event batches by index before handing
// them to the user's Handler, per spec.md §6 step 4 ("sequence the event
// batch: client-side sequencer ensures delivery in index order").
// Batches that arrive out of order (previousIndex ahead of what has been
// seen) are buffered in a min-heap keyed by PreviousIndex until the gap
// closes.
//
// A Sequencer is bound to exactly one session id for its lifetime; a new
// session (after REGISTER or reconnect-with-new-session) needs a new
// Sequencer.
type Sequencer struct {
	log *slog.Logger

	mu         sync.Mutex
	sessionID  api.SessionID
	eventIndex api.Index
	pending    pendingHeap
	handler    Handler
}

// NewSequencer constructs a Sequencer for sessionID, starting from
// eventIndex 0 (a freshly registered session has delivered nothing yet).
func NewSequencer(log *slog.Logger, sessionID api.SessionID, handler Handler) *Sequencer {
	return &Sequencer{
		log:       log,
		sessionID: sessionID,
		handler:   handler,
	}
}

// EventIndex returns the highest index this sequencer has fully delivered.
func (s *Sequencer) EventIndex() api.Index {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.eventIndex
}

// Handle implements the publish-request handler algorithm verbatim
// (spec.md §6): given (sessionID, previousIndex, eventIndex, events), it
// either delivers immediately, acks an already-seen batch idempotently, or
// signals the gap that needs resending, returning the ack index the caller
// should send back upstream and an error for the first two failure paths.
func (s *Sequencer) Handle(batch api.EventBatch) (ackIndex api.Index, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if batch.SessionID != s.sessionID {
		return 0, ErrUnknownSession
	}
	if batch.EventIndex <= s.eventIndex {
		// Already delivered; idempotent ack (step 2).
		return s.eventIndex, nil
	}
	if batch.PreviousIndex != s.eventIndex {
		// Gap: buffer it and tell the caller to resend from eventIndex+1
		// (step 3). We still hold onto the batch in case the missing
		// predecessor arrives on its own and closes the gap.
		heap.Push(&s.pending, batch)
		return s.eventIndex, errGap{local: s.eventIndex}
	}

	s.deliverLocked(batch)
	s.drainPendingLocked()
	return s.eventIndex, nil
}

// deliverLocked advances eventIndex and invokes handler. Caller holds mu.
func (s *Sequencer) deliverLocked(batch api.EventBatch) {
	s.eventIndex = batch.EventIndex
	if len(batch.Events) > 0 && s.handler != nil {
		s.handler(batch.Events)
	}
}

// drainPendingLocked delivers any buffered batches that now form a
// contiguous chain from eventIndex.
func (s *Sequencer) drainPendingLocked() {
	for s.pending.Len() > 0 && s.pending[0].PreviousIndex == s.eventIndex {
		next := heap.Pop(&s.pending).(api.EventBatch)
		s.deliverLocked(next)
	}
	if s.pending.Len() > 0 {
		s.log.Debug("event sequencer waiting on gap",
			slog.Int64("session_id", int64(s.sessionID)),
			slog.Int64("local_event_index", s.eventIndex),
			slog.Int("buffered_batches", s.pending.Len()),
		)
	}
}

// errGap is returned by Handle when a batch arrived ahead of a gap; the
// caller is expected to resend, e.g. via a KEEP_ALIVE, and is never itself
// treated as a fatal client error.
type errGap struct{ local api.Index }

func (e errGap) Error() string { return "client: event batch arrived out of order" }

// LocalIndex is the eventIndex the resend request should be issued from.
func (e errGap) LocalIndex() api.Index { return e.local }

// pendingHeap orders buffered out-of-order batches by PreviousIndex so the
// lowest gap-closing candidate surfaces first.
type pendingHeap []api.EventBatch

func (h pendingHeap) Len() int            { return len(h) }
func (h pendingHeap) Less(i, j int) bool  { return h[i].PreviousIndex < h[j].PreviousIndex }
func (h pendingHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *pendingHeap) Push(x any)         { *h = append(*h, x.(api.EventBatch)) }
func (h *pendingHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
