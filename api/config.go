package api

import (
	"time"

	"github.com/shrtyk/raft-fsm/pkg/logger"
)

// EngineConfig groups the engine's tunables, mirroring the teacher's
// RaftConfig/DefaultConfig/TestsConfig split (see engine.DefaultConfig and
// engine.TestsConfig).
type EngineConfig struct {
	Log       LoggerCfg
	Sessions  SessionsCfg
	Snapshots SnapshotsCfg

	// EventQueueSize is an initial-capacity hint for a session's pending
	// event queue, sized to the expected steady-state number of
	// unacknowledged batches between keep-alives. It is not a cap: the
	// queue holds every batch a client has not yet acked, however many
	// that is, since dropping one would permanently break that client's
	// event chain.
	EventQueueSize int

	// ShutdownTimeout bounds how long Stop waits for the monitoring server
	// to shut down. Stop waits for the dispatcher and application-context
	// goroutines without a bound.
	ShutdownTimeout time.Duration

	// MonitoringAddr, if non-empty, is the address engine.StatusHandler
	// is served on. Left empty, no monitoring listener is started.
	MonitoringAddr string
}

type LoggerCfg struct {
	Env logger.Enviroment
}

// SessionsCfg controls suspicion/expiry defaults used when a REGISTER
// entry doesn't specify its own timeout.
type SessionsCfg struct {
	DefaultTimeout time.Duration
}

// SnapshotsCfg holds a snapshot check interval and a minimum log growth
// threshold. The snapshot coordinator reads neither field: it is driven by
// lastApplied/lastCompleted changes and takes a snapshot whenever its Take
// conditions hold, regardless of elapsed time or log size.
type SnapshotsCfg struct {
	CheckInterval  time.Duration
	ThresholdBytes int
}
