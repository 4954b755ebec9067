package api

import "context"

// Engine is the public interface of the replicated state-machine
// application engine (spec.md §4.1 "Entry Dispatcher").
//
// All three apply forms execute on the engine's single-threaded execution
// context; concurrent callers observe strict FIFO of submissions.
type Engine interface {
	// ApplyAll advances the log cursor to upto, applying every entry along
	// the way. Fire-and-forget: errors are logged, not returned, except
	// fatal ones (ErrInconsistentIndex, ErrInternal) which also close the
	// engine.
	ApplyAll(ctx context.Context, upto Index)

	// Apply reads and applies entries up to and including index, then
	// awaits and returns the Result bound to index. Returns
	// ErrInconsistentIndex if the entry actually read at index disagrees,
	// or ErrLogClosed if the log is closed.
	Apply(ctx context.Context, index Index) (Result, error)

	// ApplyEntry applies an already-read entry directly, bypassing the log
	// reader. Used by hosts that read entries themselves.
	ApplyEntry(ctx context.Context, entry *Entry) (Result, error)

	// Query admits a read-only query once LastApplied() >= minIndex, then
	// executes it against the state as of the (possibly later) current
	// LastApplied value.
	Query(ctx context.Context, sessionID SessionID, sequence Sequence, minIndex Index, query []byte) (Result, error)

	// LastApplied is the highest entry index applied so far.
	LastApplied() Index

	// LastCompleted is the minimum, across all sessions, of per-session
	// completeIndex, floored at LastApplied.
	LastCompleted() Index

	Start() error
	Stop() error
}
