package api

import "errors"

// Sentinel errors for the taxonomy in spec.md §7. UNKNOWN_SESSION and
// LOG_CLOSED are surfaced to callers and do not indicate replica
// divergence. INCONSISTENT_INDEX and INTERNAL are fatal: the engine that
// observes them must stop applying rather than let replicas diverge.
var (
	// ErrUnknownSession: session id absent or in a non-active state.
	ErrUnknownSession = errors.New("raft-fsm: unknown session")

	// ErrInconsistentIndex: the dispatcher read an entry whose index
	// disagrees with the index it was asked to apply. Fatal.
	ErrInconsistentIndex = errors.New("raft-fsm: inconsistent index")

	// ErrLogClosed: an engine operation was attempted while the log is
	// closed.
	ErrLogClosed = errors.New("raft-fsm: log closed")

	// ErrInternal: a cache miss on a replayed sequence, an unknown entry
	// type, or another invariant violation. Fatal.
	ErrInternal = errors.New("raft-fsm: internal invariant violation")

	// ErrEngineStopped is returned by Engine methods after Stop has been
	// called.
	ErrEngineStopped = errors.New("raft-fsm: engine stopped")
)
