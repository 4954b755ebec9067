// Package session implements the session registry and per-session state
// described in spec.md §3 ("Session") and §4.2 (C1/C2): sequence numbers,
// the response cache, the pending-event queue, and the
// OPEN/SUSPICIOUS/INACTIVE/EXPIRED/CLOSED lifecycle.
//
// Within the engine, sessions are mutated on the engine's dispatch
// goroutine, or on the application-context goroutine (see package appctx)
// while the dispatch goroutine waits for it; nothing here is safe for
// concurrent use from multiple goroutines, by design.
package session

import (
	"github.com/shrtyk/raft-fsm/api"
)

// State is a session's lifecycle state.
type State uint32

const (
	_ State = iota
	Open
	Suspicious
	Inactive
	Expired
	Closed
)

func (s State) String() string {
	switch s {
	case Open:
		return "open"
	case Suspicious:
		return "suspicious"
	case Inactive:
		return "inactive"
	case Expired:
		return "expired"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// Active reports whether commands/queries/keep-alives may still be
// accepted for a session in this state.
func (s State) Active() bool {
	return s == Open || s == Suspicious
}

// Session is the server-side handle for a client's conversational state.
// Its zero value is not valid; use New.
type Session struct {
	id       api.SessionID
	clientID api.ClientID
	timeout  int64 // milliseconds, on the deterministic clock
	timestamp int64

	state State

	commandSequence api.Sequence // highest command sequence applied
	requestSequence api.Sequence // highest sequence acknowledged by client
	eventIndex      api.Index    // index at which the last event batch was published
	completeIndex   api.Index    // highest index whose events the client has acked

	cache    *ResponseCache
	pending  *EventQueue

	lastKeepAliveEntry *api.Entry
	lastConnectEntry   *api.Entry
}

// New creates a session for a REGISTER entry. id must equal the REGISTER
// entry's index (spec.md §3).
func New(id api.SessionID, clientID api.ClientID, timeout int64, timestamp int64, queueSize int) *Session {
	return &Session{
		id:        id,
		clientID:  clientID,
		timeout:   timeout,
		timestamp: timestamp,
		state:     Open,
		cache:     NewResponseCache(),
		pending:   NewEventQueue(queueSize),
	}
}

func (s *Session) ID() api.SessionID       { return s.id }
func (s *Session) ClientID() api.ClientID  { return s.clientID }
func (s *Session) Timestamp() int64        { return s.timestamp }
func (s *Session) State() State            { return s.state }
func (s *Session) CommandSequence() api.Sequence { return s.commandSequence }
func (s *Session) RequestSequence() api.Sequence { return s.requestSequence }
func (s *Session) EventIndex() api.Index   { return s.eventIndex }
func (s *Session) CompleteIndex() api.Index { return s.completeIndex }
func (s *Session) Timeout() int64          { return s.timeout }

// SetTimestamp bumps the session's view of the deterministic clock. Called
// on the session's KEEP_ALIVE and CONNECT entries and, via INITIALIZE, on
// every session unconditionally.
func (s *Session) SetTimestamp(t int64) {
	s.timestamp = t
}

// SetCompleteIndex advances the index up to which the client has
// acknowledged event delivery. Never moves backward.
func (s *Session) SetCompleteIndex(i api.Index) {
	if i > s.completeIndex {
		s.completeIndex = i
	}
}

// PruneAcked discards every pending event batch the client has confirmed
// receiving, per the KEEP_ALIVE-reported EventIndex. This is what keeps
// the pending-event queue bounded by outstanding acks instead of an
// arbitrary count.
func (s *Session) PruneAcked(ackedEventIndex api.Index) {
	s.pending.Prune(ackedEventIndex)
}

// Suspect transitions OPEN -> SUSPICIOUS when the deterministic clock has
// advanced further than the session's timeout since its last observed
// activity. It is idempotent and never touches any state but OPEN — per
// spec.md §4.2, only a leader-committed UNREGISTER may move a session to
// EXPIRED or CLOSED, so Suspect must never do that itself.
func (s *Session) Suspect(now int64) {
	if s.state == Open && now-s.timestamp > s.timeout {
		s.state = Suspicious
	}
}

// Trust returns a SUSPICIOUS session to OPEN on an observed keep-alive or
// connect. A no-op for any other state.
func (s *Session) Trust() {
	if s.state == Suspicious {
		s.state = Open
	}
}

// MarkOpen marks a freshly registered session live. Only valid immediately
// after New.
func (s *Session) MarkOpen() {
	s.state = Open
}

// MarkExpired/MarkClosed implement the only two state transitions a
// committed UNREGISTER may drive (spec.md §4.2).
func (s *Session) MarkExpired() { s.state = Expired }
func (s *Session) MarkClosed()  { s.state = Closed }

// RecordCommand caches result under sequence and advances
// commandSequence. Sequence 0 (the "no sequence" sentinel used by some
// internal entries) is never cached.
func (s *Session) RecordCommand(sequence api.Sequence, result api.Result) {
	if sequence > 0 {
		s.cache.Put(sequence, result)
		if sequence > s.commandSequence {
			s.commandSequence = sequence
		}
	}
}

// CachedResult returns the cached result for sequence, if any.
func (s *Session) CachedResult(sequence api.Sequence) (api.Result, bool) {
	return s.cache.Get(sequence)
}

// ClearResults evicts every cached result with sequence < clearedSequence,
// called from KEEP_ALIVE handling (spec.md §4.2).
func (s *Session) ClearResults(clearedSequence api.Sequence) {
	s.cache.EvictBelow(clearedSequence)
}

// SetRequestSequence records the highest sequence the client has
// acknowledged receiving a response for.
func (s *Session) SetRequestSequence(seq api.Sequence) {
	if seq > s.requestSequence {
		s.requestSequence = seq
	}
}

// PublishEvent enqueues a new batch and advances eventIndex to
// currentIndex, per spec.md §4.3: "session.eventIndex advances to
// currentIndex only after the batch is enqueued."
func (s *Session) PublishEvent(currentIndex api.Index, events [][]byte) {
	if len(events) == 0 {
		return
	}
	batch := api.EventBatch{
		SessionID:     s.id,
		PreviousIndex: s.eventIndex,
		EventIndex:    currentIndex,
		Events:        events,
	}
	s.pending.Push(batch)
	s.eventIndex = currentIndex
}

// ResendEvents returns every pending batch with EventIndex > ackedEventIndex,
// in order, for KEEP_ALIVE-driven redelivery (spec.md §4.6).
func (s *Session) ResendEvents(ackedEventIndex api.Index) []api.EventBatch {
	return s.pending.Since(ackedEventIndex)
}

// PendingEvents returns every batch still queued for delivery.
func (s *Session) PendingEvents() []api.EventBatch {
	return s.pending.All()
}

// HasPendingEvents reports whether the session has any unacknowledged
// event batch outstanding — used by the snapshot coordinator's
// lastCompleted floor (SPEC_FULL §12 item 4).
func (s *Session) HasPendingEvents() bool {
	return s.pending.Len() > 0
}

// SetLastKeepAliveEntry/SetLastConnectEntry hold the single live reference
// per session to the entry that most recently kept it alive, releasing
// the previous one via its recorded compaction mode (spec.md §9
// "Ownership of entries").
func (s *Session) SetLastKeepAliveEntry(e *api.Entry) {
	prev := s.lastKeepAliveEntry
	s.lastKeepAliveEntry = e
	s.releaseIfUnused(prev)
}

func (s *Session) SetLastConnectEntry(e *api.Entry) {
	prev := s.lastConnectEntry
	s.lastConnectEntry = e
	s.releaseIfUnused(prev)
}

func (s *Session) releaseIfUnused(e *api.Entry) {
	if e == nil {
		return
	}
	if e == s.lastKeepAliveEntry || e == s.lastConnectEntry {
		return
	}
	if _, released := e.CompactionMode(); !released {
		e.Compact(api.CompactQuorum)
	}
}

// Drain empties the pending-event queue, returning whatever was still
// outstanding. Called by the Registry when a session is expired or
// unregistered (SPEC_FULL §12 item 3: "expired-session event queues are
// drained, not dropped").
func (s *Session) Drain() []api.EventBatch {
	batches := s.pending.All()
	s.pending.Clear()
	return batches
}
