package engine

import (
	"errors"
	"log/slog"

	"github.com/shrtyk/raft-fsm/api"
	"github.com/shrtyk/raft-fsm/pkg/logger"
)

// engineBuilder is the concrete api.EngineBuilder, mirroring the teacher's
// nodeBuilder: required collaborators are constructor arguments, optional
// ones default sensibly in Build().
type engineBuilder struct {
	lg    api.Log
	sm    api.StateMachine
	store api.SnapshotStore

	cfg       *api.EngineConfig
	log       *slog.Logger
	listeners []api.SessionListener
	publisher api.EventPublisher
}

// NewEngineBuilder starts construction of an Engine around its three
// required collaborators: the committed log, the host's state machine, and
// the snapshot store.
func NewEngineBuilder(lg api.Log, sm api.StateMachine, store api.SnapshotStore) api.EngineBuilder {
	return &engineBuilder{
		lg:    lg,
		sm:    sm,
		store: store,
		cfg:   DefaultConfig(),
	}
}

func (b *engineBuilder) Build() (api.Engine, error) {
	if b.lg == nil || b.sm == nil || b.store == nil {
		return nil, errors.New("engine: log, state machine and snapshot store are required")
	}
	log := b.log
	if log == nil {
		log = logger.NewLogger(b.cfg.Log.Env, false)
	}
	e := New(b.cfg, log, b.lg, b.sm, b.store, b.publisher, b.listeners...)
	return e, nil
}

func (b *engineBuilder) WithConfig(cfg *api.EngineConfig) api.EngineBuilder {
	b.cfg = cfg
	return b
}

func (b *engineBuilder) WithLogger(l *slog.Logger) api.EngineBuilder {
	b.log = l
	return b
}

func (b *engineBuilder) WithListeners(listeners ...api.SessionListener) api.EngineBuilder {
	b.listeners = append(b.listeners, listeners...)
	return b
}

func (b *engineBuilder) WithEventPublisher(p api.EventPublisher) api.EngineBuilder {
	b.publisher = p
	return b
}
