package api

import "io"

// Snapshot is a single point-in-time capture of the state machine, keyed
// by the applied index it represents. It is written but not exposed to
// readers (Complete) until the coordinator has proven every event produced
// at or below Index has been acknowledged.
type Snapshot interface {
	Index() Index
	Writer() (io.WriteCloser, error)
	Reader() (io.ReadCloser, error)
	// Complete finalizes the snapshot, making it visible to
	// SnapshotStore.Current. It must not be called more than once.
	Complete() error
}

// SnapshotStore is the external persistence layer for snapshots. A
// default, sqlite-backed implementation lives in
// github.com/shrtyk/raft-fsm/pkg/storage.
type SnapshotStore interface {
	// Current returns the most recently completed snapshot, or nil if
	// none has ever been completed.
	Current() (Snapshot, error)

	// Create allocates a new, not-yet-completed snapshot at index. The
	// coordinator calls this exactly once per Take phase.
	Create(index Index) (Snapshot, error)
}
