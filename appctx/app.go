// Package appctx implements the application execution context (C4):
// the single goroutine that owns the deterministic clock, the tick
// scheduler, and every call into the user state machine and session
// listeners. It is the "A" context of spec.md §5; the engine package is
// "E". The two are bridged exactly the way spec.md §9's design note asks
// for — "a message-driven loop with explicit typed mailboxes; handoffs
// become enqueue operations, completions become replies" — grounded on
// the teacher's applier/queuer goroutine-plus-channel shape.
package appctx

import (
	"log/slog"
	"sync"

	"github.com/shrtyk/raft-fsm/api"
)

// App runs exactly one goroutine. Every exported method hands work to
// that goroutine and blocks for its completion; nothing here is meant to
// be called concurrently with itself from the engine side beyond what
// the engine's own single-threaded dispatch already guarantees.
type App struct {
	log *slog.Logger

	clock     clock
	scheduler scheduler

	jobs chan func()
	done chan struct{}
	wg   sync.WaitGroup
}

func New(log *slog.Logger) *App {
	return &App{
		log:  log,
		jobs: make(chan func(), 64),
		done: make(chan struct{}),
	}
}

// Start launches the application goroutine. Safe to call once.
func (a *App) Start() {
	a.wg.Add(1)
	go a.run()
}

// Stop signals the application goroutine to exit and waits for it.
// Callers must not invoke Submit/WithCommandScope/WithQueryScope
// concurrently with Stop.
func (a *App) Stop() {
	close(a.done)
	a.wg.Wait()
}

func (a *App) run() {
	defer a.wg.Done()
	for {
		select {
		case <-a.done:
			return
		case job := <-a.jobs:
			job()
		}
	}
}

// Submit enqueues fn on the application goroutine and blocks until it has
// run. fn must not block on anything the application goroutine itself
// owns.
func (a *App) Submit(fn func()) {
	reply := make(chan struct{})
	a.jobs <- func() {
		fn()
		close(reply)
	}
	<-reply
}

// CommandResult is what a COMMAND scope produces: the user output (or
// error), the event batch gathered during the scope, and a count of
// Publish calls discarded because they came from a QUERY scope (always
// zero here; WithQueryScope reports its own discards as a bool).
type CommandResult struct {
	Output    []byte
	Err       error
	Events    [][]byte
	Discarded int
}

// WithCommandScope advances the deterministic clock to t, runs the tick
// scheduler, then executes fn inside a COMMAND scope at index, returning
// whatever fn published (spec.md §4.3, §4.4, §4.6). fn runs on the
// application goroutine.
func (a *App) WithCommandScope(index api.Index, t int64, sessionID api.SessionID, fn func(ctx api.Context) ([]byte, error)) CommandResult {
	var res CommandResult
	a.Submit(func() {
		now := a.clock.advance(t)
		a.scheduler.tick(now)
		sc := &scope{kind: Command, index: index, now: now, sessionID: sessionID}
		res.Output, res.Err = fn(sc)
		res.Events = sc.events
		res.Discarded = sc.discarded
	})
	return res
}

// WithCommandEffect is WithCommandScope for callers with no output/error
// to report — the session lifecycle handlers (§4.6), which call listener
// methods rather than StateMachine.Apply.
func (a *App) WithCommandEffect(index api.Index, t int64, sessionID api.SessionID, fn func(ctx api.Context)) CommandResult {
	return a.WithCommandScope(index, t, sessionID, func(ctx api.Context) ([]byte, error) {
		fn(ctx)
		return nil, nil
	})
}

// QueryResult is what a QUERY scope produces.
type QueryResult struct {
	Output []byte
	Err    error
}

// WithQueryScope executes fn inside a QUERY scope at index using the
// clock's current value (queries never advance it or run the scheduler;
// spec.md §4.5: "execute within a QUERY scope at lastApplied"). Any
// Publish call fn makes is discarded and logged by the caller via
// Discarded on the underlying scope — exposed here as a bool.
func (a *App) WithQueryScope(index api.Index, sessionID api.SessionID, fn func(ctx api.Context) ([]byte, error)) (QueryResult, bool) {
	var res QueryResult
	var discarded bool
	a.Submit(func() {
		sc := &scope{kind: Query, index: index, now: a.clock.now(), sessionID: sessionID}
		res.Output, res.Err = fn(sc)
		discarded = sc.discarded > 0
	})
	return res, discarded
}

// CurrentTime returns the clock's current value without advancing it.
func (a *App) CurrentTime() int64 {
	var now int64
	a.Submit(func() { now = a.clock.now() })
	return now
}

// AdvanceClock folds raw into the deterministic clock (t = max(t_prev,
// t_raw)) and returns the resulting value, without running a scope or the
// tick scheduler. Exposed so the dispatcher can establish "now" ahead of
// a session-suspicion sweep that precedes a scope (spec.md §4.6).
func (a *App) AdvanceClock(raw int64) int64 {
	var now int64
	a.Submit(func() { now = a.clock.advance(raw) })
	return now
}

// Schedule registers fn to run the next time the clock reaches deadline.
// Exposed for hosts that need deadline-ordered bookkeeping tied to the
// deterministic clock rather than wall time.
func (a *App) Schedule(deadline int64, fn func(now int64)) {
	a.Submit(func() { a.scheduler.schedule(deadline, fn) })
}
