package engine

import (
	"context"
	"log/slog"

	"github.com/shrtyk/raft-fsm/api"
	"github.com/shrtyk/raft-fsm/pkg/logger"
)

// ApplyAll advances the log cursor to upto, applying every entry along the
// way. Fire-and-forget from the caller's perspective (spec.md §4.1): it
// still executes on the engine's single-threaded context, so it is
// strictly ordered relative to every other Apply/ApplyEntry/Query
// submission, but the caller does not wait for it to finish.
func (e *Engine) ApplyAll(ctx context.Context, upto api.Index) {
	select {
	case e.jobs <- func() { e.applyUpTo(upto) }:
	case <-ctx.Done():
	case <-e.fatalCh:
	}
}

// Apply reads and applies entries up to and including index, then returns
// the Result bound to index.
func (e *Engine) Apply(ctx context.Context, index api.Index) (api.Result, error) {
	if !e.lg.IsOpen() {
		return api.Result{}, api.ErrLogClosed
	}
	var res api.Result
	var applyErr error
	err := e.exec(ctx, func() {
		res, applyErr = e.applyUpToAndReturn(index)
	})
	if err != nil {
		return api.Result{}, err
	}
	return res, applyErr
}

// ApplyEntry applies an already-read entry directly, bypassing the log
// reader.
func (e *Engine) ApplyEntry(ctx context.Context, entry *api.Entry) (api.Result, error) {
	var res api.Result
	var applyErr error
	err := e.exec(ctx, func() {
		res, applyErr = e.applyOne(entry)
	})
	if err != nil {
		return api.Result{}, err
	}
	return res, applyErr
}

// Query admits a read-only query once lastApplied >= minIndex.
func (e *Engine) Query(ctx context.Context, sessionID api.SessionID, sequence api.Sequence, minIndex api.Index, query []byte) (api.Result, error) {
	if err := e.awaitApplied(ctx, minIndex); err != nil {
		return api.Result{}, err
	}

	var res api.Result
	var queryErr error
	err := e.exec(ctx, func() {
		res, queryErr = e.executeQuery(sessionID, query)
	})
	if err != nil {
		return api.Result{}, err
	}
	return res, queryErr
}

// applyUpTo reads and applies entries until the reader's next index would
// exceed upto, stopping early on a fatal error. Runs on the engine goroutine.
func (e *Engine) applyUpTo(upto api.Index) {
	for e.reader.NextIndex() <= upto {
		entry, err := e.reader.Read(context.Background())
		if err != nil {
			e.fatal("failed to read entry", err)
			return
		}
		if _, err := e.applyOne(entry); err != nil {
			if e.isFatal(err) {
				return
			}
			e.log.Warn("entry applied with error", slog.Int64("index", entry.Index), logger.ErrAttr(err))
		}
	}
}

// applyUpToAndReturn applies every entry up to target, then returns the
// Result produced at exactly target (spec.md §4.1).
func (e *Engine) applyUpToAndReturn(target api.Index) (api.Result, error) {
	for e.reader.NextIndex() < target {
		entry, err := e.reader.Read(context.Background())
		if err != nil {
			e.fatal("failed to read entry", err)
			return api.Result{}, err
		}
		if _, err := e.applyOne(entry); err != nil && e.isFatal(err) {
			return api.Result{}, err
		}
	}

	entry, err := e.reader.Read(context.Background())
	if err != nil {
		e.fatal("failed to read entry", err)
		return api.Result{}, err
	}
	if entry.Index != target {
		err := api.ErrInconsistentIndex
		e.fatal("entry index disagrees with requested index", err)
		return api.Result{}, err
	}
	return e.applyOne(entry)
}

// applyOne applies a single entry, updates lastApplied regardless of
// outcome (even a tombstone still advances the cursor), and routes it by
// kind.
func (e *Engine) applyOne(entry *api.Entry) (api.Result, error) {
	if entry.Tombstone {
		e.setLastApplied(entry.Index)
		return api.Result{}, nil
	}

	now := e.app.AdvanceClock(entry.Timestamp.UnixMilli())
	e.registry.SuspectExcept(e.suspectExclusion(entry), now)

	var res api.Result
	var err error
	switch entry.Kind {
	case api.EntryRegister:
		res, err = e.handleRegister(entry)
	case api.EntryKeepAlive:
		res, err = e.handleKeepAlive(entry)
	case api.EntryUnregister:
		res, err = e.handleUnregister(entry)
	case api.EntryConnect:
		res, err = e.handleConnect(entry)
	case api.EntryCommand:
		res, err = e.executeCommand(entry)
	case api.EntryInitialize:
		res, err = e.handleInitialize(entry)
	case api.EntryConfiguration:
		entry.Compact(api.CompactSequential)
	case api.EntryQuery:
		// Queries are admitted through Engine.Query, not the log; an entry
		// tagged QUERY reaching the dispatcher indicates a host bug.
		err = api.ErrInternal
		e.fatal("query entry reached the dispatcher", err)
	default:
		err = api.ErrInternal
		e.fatal("unknown entry kind", err)
	}

	e.setLastApplied(entry.Index)
	return res, err
}

// setLastApplied advances lastApplied to index and wakes every query
// waiter whose minIndex has now been reached — including waiters on
// indices that were compacted away, per the Open Question decision
// recorded for spec.md §9 (such a query would otherwise hang forever).
// It then gives the snapshot coordinator a chance to take or install.
func (e *Engine) setLastApplied(index api.Index) {
	e.mu.Lock()
	if index > e.lastApplied {
		e.lastApplied = index
	}
	applied := e.lastApplied
	e.mu.Unlock()

	e.notifyWaiters(applied)
	e.coordinator.OnApplied(applied)
	e.recomputeLastCompleted()
}

// recomputeLastCompleted recomputes lastCompleted as the minimum
// completeIndex across sessions with outstanding events, floored at
// lastApplied when there is nothing to floor it at (Open Question
// decision 2).
func (e *Engine) recomputeLastCompleted() {
	e.mu.Lock()
	applied := e.lastApplied
	e.mu.Unlock()

	min := e.registry.MinCompleteIndex(applied)

	e.mu.Lock()
	if min > e.lastComplete {
		e.lastComplete = min
	}
	complete := e.lastComplete
	e.mu.Unlock()

	e.coordinator.OnCompleted(complete)
}

// suspectExclusion returns the session id the per-entry suspicion sweep
// (SPEC_FULL §12 item 1) must skip: the entry's own session, whose
// timestamp is about to be (or, for COMMAND, conceptually already was)
// brought current by this very entry. REGISTER has no existing session to
// exclude.
func (e *Engine) suspectExclusion(entry *api.Entry) api.SessionID {
	switch entry.Kind {
	case api.EntryKeepAlive:
		return entry.KeepAlive.SessionID
	case api.EntryUnregister:
		return entry.Unregister.SessionID
	case api.EntryCommand:
		return entry.Command.SessionID
	case api.EntryConnect:
		if s, ok := e.registry.LookupByClient(entry.Connect.ClientID); ok {
			return s.ID()
		}
	}
	return 0
}

func (e *Engine) notifyWaiters(applied api.Index) {
	e.waitersMu.Lock()
	remaining := e.waiters[:0]
	for _, w := range e.waiters {
		if w.index <= applied {
			close(w.ch)
		} else {
			remaining = append(remaining, w)
		}
	}
	e.waiters = remaining
	e.waitersMu.Unlock()
}

// awaitApplied blocks until lastApplied >= minIndex, ctx is canceled, or
// the engine fails fatally. It deliberately does not run on the engine
// goroutine: blocking there would stall every other apply that could
// advance lastApplied past minIndex in the first place.
func (e *Engine) awaitApplied(ctx context.Context, minIndex api.Index) error {
	for {
		e.mu.RLock()
		cur := e.lastApplied
		fatalErr := e.fatalErr
		e.mu.RUnlock()
		if fatalErr != nil {
			return fatalErr
		}
		if cur >= minIndex {
			return nil
		}

		w := &waiter{index: minIndex, ch: make(chan struct{})}
		e.waitersMu.Lock()
		e.waiters = append(e.waiters, w)
		e.waitersMu.Unlock()

		select {
		case <-w.ch:
		case <-ctx.Done():
			return ctx.Err()
		case <-e.fatalCh:
			return e.fatalError()
		}
	}
}
