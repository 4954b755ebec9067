package api

import "log/slog"

// EngineBuilder constructs an Engine, mirroring the teacher's NodeBuilder:
// required collaborators are constructor arguments, optional ones default
// sensibly in Build().
type EngineBuilder interface {
	// Build constructs and returns a new Engine. It returns an error if a
	// required collaborator is missing or a default one fails to
	// initialize.
	Build() (Engine, error)

	// WithConfig sets the engine configuration. If not provided,
	// engine.DefaultConfig() is used.
	WithConfig(*EngineConfig) EngineBuilder

	// WithLogger sets a custom slog.Logger. If not provided, a default
	// logger based on EngineConfig.Log.Env is used.
	WithLogger(*slog.Logger) EngineBuilder

	// WithListeners appends session listeners, called in the order added.
	WithListeners(...SessionListener) EngineBuilder

	// WithEventPublisher sets the outbound event-publication hook. If not
	// provided, published events only accumulate in session.pendingEvents
	// and are never actively pushed anywhere.
	WithEventPublisher(EventPublisher) EngineBuilder
}
