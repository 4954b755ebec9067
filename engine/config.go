package engine

import (
	"time"

	"github.com/shrtyk/raft-fsm/api"
	"github.com/shrtyk/raft-fsm/pkg/logger"
)

// DefaultConfig returns the tunables a production host should start from,
// mirroring the teacher's raft.DefaultConfig/TestsConfig split.
func DefaultConfig() *api.EngineConfig {
	return &api.EngineConfig{
		Log: api.LoggerCfg{
			Env: logger.Prod,
		},
		Sessions: api.SessionsCfg{
			DefaultTimeout: 10 * time.Second,
		},
		Snapshots: api.SnapshotsCfg{
			CheckInterval:  30 * time.Second,
			ThresholdBytes: 64 << 20,
		},
		EventQueueSize:  256,
		ShutdownTimeout: 3 * time.Second,
		MonitoringAddr:  "",
	}
}

// TestsConfig trims timeouts and thresholds for fast, deterministic tests.
func TestsConfig() *api.EngineConfig {
	return &api.EngineConfig{
		Log: api.LoggerCfg{
			Env: logger.Dev,
		},
		Sessions: api.SessionsCfg{
			DefaultTimeout: 1 * time.Second,
		},
		Snapshots: api.SnapshotsCfg{
			CheckInterval:  time.Second,
			ThresholdBytes: 0,
		},
		EventQueueSize:  8,
		ShutdownTimeout: time.Second,
	}
}
