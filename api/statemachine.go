package api

import "io"

// StateMachine is the application's business logic. The engine guarantees
// committed commands and queries are delivered to it in linearizable
// order, each within its own Init/Commit scope (see AppContext in
// package appctx). The engine never calls these methods concurrently with
// each other.
type StateMachine interface {
	// Apply executes a committed command and returns its output bytes.
	// An error returned here is captured into Result.Err (USER_ERROR) — it
	// is a deterministic outcome, not a replica fault, and must be
	// reproduced identically on every replica.
	Apply(ctx Context, index Index, cmd []byte) ([]byte, error)

	// Read executes a query against the state as of the scope's index. It
	// must not publish events; any Publish call made from a query scope is
	// discarded and logged by the engine.
	Read(ctx Context, index Index, query []byte) ([]byte, error)

	// Snapshottable reports whether the state machine currently supports
	// Snapshot/Install. A state machine may return false early in its
	// lifecycle (e.g. before its first command) to suppress the snapshot
	// coordinator's Take phase.
	Snapshottable() bool

	// Snapshot serializes the current state as of lastApplied to w.
	Snapshot(w io.Writer) error

	// Install replaces the current state with what r contains. Only ever
	// called when the coordinator's index invariants (spec.md §4.7) hold.
	Install(r io.Reader) error
}

// Context is the capability a StateMachine callback receives: the
// deterministic clock value for the scope and the ability to publish
// events to the session whose command or query is being executed.
//
// Context is only valid for the duration of the Apply/Read call it was
// passed to — scopes never nest and are never retained past Commit.
type Context interface {
	// Now returns the scope's deterministic timestamp: max(t_prev, t_raw)
	// as of entry into this scope.
	Now() int64

	// Publish queues event for delivery to the session the active scope
	// belongs to. Calling Publish from a Read (QUERY) scope is a no-op;
	// the engine logs the attempt and discards the event.
	Publish(event []byte)

	// SessionID is the session the active scope was entered on behalf of.
	SessionID() SessionID
}

// SessionListener is notified, in construction order, of session
// lifecycle transitions. All methods run on the application context.
type SessionListener interface {
	Register(s SessionView)
	Unregister(s SessionView)
	Expire(s SessionView)
	Close(s SessionView)
}

// SessionView is the read-only capability a StateMachine or
// SessionListener borrows during a callback. It never outlives the
// callback it was handed to.
type SessionView interface {
	ID() SessionID
	ClientID() ClientID
	Timestamp() int64
}
