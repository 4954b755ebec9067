// Package api defines the public interfaces and data types of the
// replicated state-machine application engine: the subsystem that consumes
// committed log entries in index order and applies them deterministically
// to a user-supplied state machine.
//
// # Mandatory user implementations
//
// To embed this engine, a host must provide:
//
//   - StateMachine: the application's command/query logic.
//   - Log: read access to the committed, already-durable entry stream.
//   - SnapshotStore: storage for point-in-time state machine snapshots.
//
// A default, sqlite-backed SnapshotStore is provided in
// github.com/shrtyk/raft-fsm/pkg/storage, and a default gRPC-based event
// transport for the client-side sequencer (C3) is provided in
// github.com/shrtyk/raft-fsm/pkg/transport.
package api

import (
	"time"

	"github.com/google/uuid"
)

// Index identifies a position in the committed log. Indices handed to the
// engine are strictly increasing with no gaps except those elided by
// compaction.
type Index = int64

// Term is the Raft term under which an entry was proposed.
type Term = int64

// SessionID equals the index of the REGISTER entry that created the session.
type SessionID = int64

// Sequence is a per-session, per-client monotonic command or query counter.
type Sequence = int64

// ClientID uniquely identifies a connecting client across reconnects.
type ClientID = uuid.UUID

// EntryKind tags the payload carried by a committed Entry.
type EntryKind uint8

const (
	_ EntryKind = iota
	EntryRegister
	EntryKeepAlive
	EntryUnregister
	EntryConnect
	EntryCommand
	EntryQuery
	EntryInitialize
	EntryConfiguration
)

func (k EntryKind) String() string {
	switch k {
	case EntryRegister:
		return "REGISTER"
	case EntryKeepAlive:
		return "KEEP_ALIVE"
	case EntryUnregister:
		return "UNREGISTER"
	case EntryConnect:
		return "CONNECT"
	case EntryCommand:
		return "COMMAND"
	case EntryQuery:
		return "QUERY"
	case EntryInitialize:
		return "INITIALIZE"
	case EntryConfiguration:
		return "CONFIGURATION"
	default:
		return "UNKNOWN"
	}
}

// CompactionMode is the retention hint a handler attaches to an entry it is
// done with. It is consumed by the external Log abstraction (§6); the
// engine never removes entries itself.
type CompactionMode uint8

const (
	_ CompactionMode = iota
	// CompactSequential allows removal once superseded in log order.
	CompactSequential
	// CompactQuorum retains the entry until it has replicated to a quorum.
	CompactQuorum
	// CompactFull retains the entry until every session it could affect is gone.
	CompactFull
	// CompactExpiring retains the entry until the session it belongs to expires.
	CompactExpiring
)

// RegisterPayload opens a new session for clientID with the given
// suspicion timeout.
type RegisterPayload struct {
	ClientID ClientID
	Timeout  time.Duration
}

// KeepAlivePayload acknowledges a session is alive, advances its clock, and
// reports the client's view of (commandSequence, eventIndex) so the server
// can prune the response cache and resend unacknowledged events.
type KeepAlivePayload struct {
	SessionID       SessionID
	CommandSequence Sequence
	EventIndex      Index
}

// UnregisterPayload closes a session, either by explicit client request
// (Expired=false) or because the leader decided it timed out (Expired=true).
type UnregisterPayload struct {
	SessionID SessionID
	Expired   bool
}

// ConnectPayload associates a new physical connection with an existing
// session located by ClientID. Connections are keep-alives.
type ConnectPayload struct {
	ClientID ClientID
}

// CommandPayload is a linearizable, log-traversing state mutation.
type CommandPayload struct {
	SessionID SessionID
	Sequence  Sequence
	Bytes     []byte
}

// QueryPayload is a non-mutating read. Queries never traverse the log as
// entries in the strict sense used by the dispatcher — they are admitted
// directly through Engine.Query once the engine's lastApplied index
// reaches MinIndex.
type QueryPayload struct {
	SessionID SessionID
	Sequence  Sequence
	MinIndex  Index
	Bytes     []byte
}

// Entry is an immutable committed log record. Entries borrowed by a handler
// must be released via Compact (declaring a retention mode) before the
// handler returns, unless they are retained in a session's
// lastKeepAliveEntry/lastConnectEntry slot.
type Entry struct {
	Index     Index
	Term      Term
	Timestamp time.Time
	Kind      EntryKind

	Register   *RegisterPayload
	KeepAlive  *KeepAlivePayload
	Unregister *UnregisterPayload
	Connect    *ConnectPayload
	Command    *CommandPayload
	Query      *QueryPayload
	Tombstone  bool // true if this index was elided by compaction

	compactMode CompactionMode
	released    bool
}

// Compact releases the entry back to the Log with the given retention
// hint. It is a no-op placeholder here: the concrete Log implementation
// (external, §6) is the one that actually tracks compaction eligibility;
// the engine calls this purely to make the release point explicit at every
// handler's return, matching the "borrowed unless declared otherwise"
// ownership rule from spec.md §9.
func (e *Entry) Compact(mode CompactionMode) {
	if e == nil {
		return
	}
	e.compactMode = mode
	e.released = true
}

func (e *Entry) CompactionMode() (CompactionMode, bool) {
	if e == nil || !e.released {
		return 0, false
	}
	return e.compactMode, true
}
