package session

import (
	"log/slog"

	"github.com/shrtyk/raft-fsm/api"
)

// Registry owns every live Session and fans lifecycle transitions out to
// the engine's configured api.SessionListener chain, in the order the
// listeners were added (spec.md §3 "Session registry", §4.6 lifecycle
// handlers). Like Session, a Registry is owned by a single goroutine.
type Registry struct {
	log       *slog.Logger
	listeners []api.SessionListener

	byID     map[api.SessionID]*Session
	byClient map[api.ClientID]*Session
}

func NewRegistry(log *slog.Logger, listeners ...api.SessionListener) *Registry {
	return &Registry{
		log:       log,
		listeners: listeners,
		byID:      make(map[api.SessionID]*Session),
		byClient:  make(map[api.ClientID]*Session),
	}
}

// Register creates and stores a new session, then notifies listeners.
// Re-registering a known client id is the engine handler's responsibility
// to detect; Register always creates a fresh entry.
func (r *Registry) Register(id api.SessionID, clientID api.ClientID, timeout int64, timestamp int64, queueSize int) *Session {
	s := New(id, clientID, timeout, timestamp, queueSize)
	r.byID[id] = s
	r.byClient[clientID] = s

	for _, l := range r.listeners {
		l.Register(s)
	}
	return s
}

// Lookup returns the session for id, if one is still registered.
func (r *Registry) Lookup(id api.SessionID) (*Session, bool) {
	s, ok := r.byID[id]
	return s, ok
}

// LookupByClient returns the session last registered for clientID.
func (r *Registry) LookupByClient(clientID api.ClientID) (*Session, bool) {
	s, ok := r.byClient[clientID]
	return s, ok
}

// Unregister removes a session that closed gracefully (an explicit client
// UNREGISTER, not a timeout), notifying listeners of Unregister and then
// Close, and draining whatever event batches it still held queued
// (SPEC_FULL §12 item 3) before the Close notification.
func (r *Registry) Unregister(id api.SessionID) {
	s, ok := r.byID[id]
	if !ok {
		return
	}
	s.MarkClosed()
	for _, l := range r.listeners {
		l.Unregister(s)
	}
	s.Drain()
	for _, l := range r.listeners {
		l.Close(s)
	}
	r.remove(s)
}

// Expire removes a session the engine decided is gone (UNREGISTER with
// Expired=true), notifying listeners of an Expire rather than Unregister
// transition, and draining whatever event batches it still held queued
// (SPEC_FULL §12 item 3) before the final Close notification.
func (r *Registry) Expire(id api.SessionID) {
	s, ok := r.byID[id]
	if !ok {
		return
	}
	s.MarkExpired()
	for _, l := range r.listeners {
		l.Expire(s)
	}
	drained := s.Drain()
	if len(drained) > 0 && r.log != nil {
		r.log.Debug("draining pending events for expired session",
			slog.Int64("session_id", int64(s.ID())),
			slog.Int("pending_batches", len(drained)),
		)
	}
	for _, l := range r.listeners {
		l.Close(s)
	}
	r.remove(s)
}

func (r *Registry) remove(s *Session) {
	delete(r.byID, s.ID())
	if cur, ok := r.byClient[s.ClientID()]; ok && cur == s {
		delete(r.byClient, s.ClientID())
	}
}

// Suspect runs Session.Suspect(now) over every registered session. Per
// SPEC_FULL §12 item 1, the engine runs this sweep (as SuspectExcept) on
// every entry applied, not only lifecycle entries, so suspicion tracks the
// deterministic clock as closely as the log allows.
func (r *Registry) Suspect(now int64) {
	r.SuspectExcept(0, now)
}

// SuspectExcept is Suspect but skips exclude (spec.md §4.6
// "suspectSessions(exclude, t)"): the session a REGISTER/KEEP_ALIVE/
// UNREGISTER/COMMAND entry is itself acting on is excluded because its
// timestamp has not yet been (or is not going to be) updated to t at the
// point the sweep runs, and would otherwise be judged suspicious off a
// stale value.
func (r *Registry) SuspectExcept(exclude api.SessionID, now int64) {
	for id, s := range r.byID {
		if id == exclude {
			continue
		}
		s.Suspect(now)
	}
}

// Len reports how many sessions are currently registered.
func (r *Registry) Len() int { return len(r.byID) }

// Each calls fn once per registered session. fn must not mutate the
// registry.
func (r *Registry) Each(fn func(*Session)) {
	for _, s := range r.byID {
		fn(s)
	}
}

// MinCompleteIndex returns the minimum CompleteIndex across every
// registered session, or fallback if there are no sessions. A session
// with no pending events contributes no floor at all (SPEC_FULL §12 item
// 4: an empty pendingEvents queue counts as caught up).
func (r *Registry) MinCompleteIndex(fallback api.Index) api.Index {
	min := fallback
	seen := false
	for _, s := range r.byID {
		if !s.HasPendingEvents() {
			continue
		}
		if !seen || s.CompleteIndex() < min {
			min = s.CompleteIndex()
			seen = true
		}
	}
	return min
}
