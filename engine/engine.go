// Package engine implements the entry dispatcher (C6), the command and
// query executors (C7), and the session lifecycle handlers (C8) — the
// engine-side ("E") half of spec.md §5's two cooperative execution
// contexts. The application-side half lives in package appctx.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/shrtyk/raft-fsm/api"
	"github.com/shrtyk/raft-fsm/appctx"
	"github.com/shrtyk/raft-fsm/pkg/logger"
	"github.com/shrtyk/raft-fsm/session"
	"github.com/shrtyk/raft-fsm/snapshot"
)

// Engine is the concrete api.Engine implementation.
type Engine struct {
	cfg *api.EngineConfig
	log *slog.Logger

	lg    api.Log
	sm    api.StateMachine
	store api.SnapshotStore

	registry    *session.Registry
	app         *appctx.App
	coordinator *snapshot.Coordinator
	publisher   api.EventPublisher

	reader api.LogReader

	mu           sync.RWMutex
	lastApplied  api.Index
	lastComplete api.Index
	fatalErr     error

	waitersMu sync.Mutex
	waiters   []*waiter

	jobs    chan func()
	done    chan struct{}
	fatalCh chan struct{}
	wg      sync.WaitGroup

	monitoringServer *http.Server

	started bool
	stopped bool
}

type waiter struct {
	index api.Index
	ch    chan struct{}
}

// New constructs an Engine. Use NewEngineBuilder for the fluent,
// optional-collaborator construction path hosts are expected to use.
func New(cfg *api.EngineConfig, log *slog.Logger, lg api.Log, sm api.StateMachine, store api.SnapshotStore, publisher api.EventPublisher, listeners ...api.SessionListener) *Engine {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if log == nil {
		log = logger.NewLogger(cfg.Log.Env, false)
	}
	if publisher == nil {
		publisher = noopPublisher{}
	}

	registry := session.NewRegistry(log, listeners...)
	app := appctx.New(log)

	e := &Engine{
		cfg:       cfg,
		log:       log,
		lg:        lg,
		sm:        sm,
		store:     store,
		registry:  registry,
		app:       app,
		publisher: publisher,
		jobs:      make(chan func(), 64),
		done:      make(chan struct{}),
		fatalCh:   make(chan struct{}),
	}
	e.coordinator = snapshot.NewCoordinator(log, sm, store, lg.Compactor())
	return e
}

type noopPublisher struct{}

func (noopPublisher) Publish(api.SessionID, api.EventBatch) {}

// Start opens the log reader at index 1 and launches the application and
// engine execution goroutines.
func (e *Engine) Start() error {
	if e.started {
		return nil
	}
	reader, err := e.lg.CreateReader(1, api.ReadCommits)
	if err != nil {
		return fmt.Errorf("engine: failed to open log reader: %w", err)
	}
	e.reader = reader

	e.app.Start()
	e.wg.Add(1)
	go e.run()
	e.startMonitoringServer()
	e.started = true
	return nil
}

// Stop halts the engine's execution goroutine and the application
// goroutine, releasing the log reader. Idempotent.
func (e *Engine) Stop() error {
	if e.stopped {
		return nil
	}
	e.stopped = true
	close(e.done)

	if e.monitoringServer != nil {
		sctx, scancel := context.WithTimeout(context.Background(), e.cfg.ShutdownTimeout)
		if err := e.monitoringServer.Shutdown(sctx); err != nil {
			e.log.Warn("monitoring server shutdown failed", logger.ErrAttr(err))
		}
		scancel()
	}

	e.wg.Wait()
	e.app.Stop()

	e.mu.Lock()
	if e.fatalErr == nil {
		e.fatalErr = api.ErrEngineStopped
		close(e.fatalCh)
	}
	e.mu.Unlock()

	if e.reader != nil {
		return e.reader.Close()
	}
	return nil
}

// startMonitoringServer starts the engine's /status HTTP endpoint if
// cfg.MonitoringAddr is configured, mirroring the teacher's
// raft.Raft.startMonitoringServer.
func (e *Engine) startMonitoringServer() {
	if e.cfg.MonitoringAddr == "" {
		return
	}

	e.log.Info("starting monitoring server", "addr", e.cfg.MonitoringAddr)

	mux := http.NewServeMux()
	mux.Handle("/status", &StatusHandler{Engine: e})

	e.monitoringServer = &http.Server{
		Addr:    e.cfg.MonitoringAddr,
		Handler: mux,
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		if err := e.monitoringServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			e.log.Error("monitoring server failed", logger.ErrAttr(err))
		}
	}()
}

func (e *Engine) run() {
	defer e.wg.Done()
	for {
		select {
		case <-e.done:
			return
		case job := <-e.jobs:
			// After a fatal error nothing more is applied; callers blocked
			// in exec observe fatalCh instead of a reply.
			if e.fatalError() != nil {
				continue
			}
			job()
		}
	}
}

// exec submits fn to run on the engine's single-threaded execution
// context and blocks until it completes, unless ctx is canceled or the
// engine has failed fatally first.
func (e *Engine) exec(ctx context.Context, fn func()) error {
	reply := make(chan struct{})
	job := func() {
		fn()
		close(reply)
	}
	select {
	case e.jobs <- job:
	case <-ctx.Done():
		return ctx.Err()
	case <-e.fatalCh:
		return e.fatalError()
	}

	select {
	case <-reply:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-e.fatalCh:
		return e.fatalError()
	}
}

func (e *Engine) fatalError() error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.fatalErr
}

// LastApplied returns the highest applied index, safe for concurrent
// callers.
func (e *Engine) LastApplied() api.Index {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.lastApplied
}

// LastCompleted returns the minimum per-session completeIndex, floored at
// lastApplied.
func (e *Engine) LastCompleted() api.Index {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.lastComplete
}
