package engine

import (
	"log/slog"

	"github.com/shrtyk/raft-fsm/api"
)

// executeCommand implements the command executor (C7, spec.md §4.4).
func (e *Engine) executeCommand(entry *api.Entry) (api.Result, error) {
	cmd := entry.Command
	s, ok := e.registry.Lookup(cmd.SessionID)
	if !ok {
		entry.Compact(api.CompactQuorum)
		return api.Result{}, api.ErrUnknownSession
	}
	if !s.State().Active() {
		entry.Compact(api.CompactQuorum)
		return api.Result{}, api.ErrUnknownSession
	}

	// SPEC_FULL §12 item 2: a command is a replay whenever its sequence is
	// <= the session's highest applied sequence, not only strictly less.
	if cmd.Sequence > 0 && cmd.Sequence <= s.CommandSequence() {
		cached, ok := s.CachedResult(cmd.Sequence)
		if !ok {
			err := api.ErrInternal
			e.fatal("response cache miss on replayed command sequence", err)
			return api.Result{}, err
		}
		return cached, nil
	}

	eventIndexAtEntry := s.EventIndex()
	scoped := e.app.WithCommandScope(entry.Index, entry.Timestamp.UnixMilli(), s.ID(), func(ctx api.Context) ([]byte, error) {
		return e.sm.Apply(ctx, entry.Index, cmd.Bytes)
	})

	if len(scoped.Events) > 0 {
		s.PublishEvent(entry.Index, scoped.Events)
		e.publisher.Publish(s.ID(), api.EventBatch{
			SessionID:     s.ID(),
			PreviousIndex: eventIndexAtEntry,
			EventIndex:    entry.Index,
			Events:        scoped.Events,
		})
	}

	res := api.Result{Index: entry.Index, EventIndex: eventIndexAtEntry}
	if scoped.Err != nil {
		res.Err = scoped.Err.Error()
	} else {
		res.Output = scoped.Output
	}

	s.RecordCommand(cmd.Sequence, res)
	entry.Compact(api.CompactSequential)
	return res, nil
}

// executeQuery implements the query executor (C7, spec.md §4.5). It must
// be called only after awaitApplied has confirmed lastApplied reached the
// query's minIndex.
func (e *Engine) executeQuery(sessionID api.SessionID, query []byte) (api.Result, error) {
	s, ok := e.registry.Lookup(sessionID)
	if !ok || !s.State().Active() {
		return api.Result{}, api.ErrUnknownSession
	}

	applied := e.LastApplied()
	res, discarded := e.app.WithQueryScope(applied, sessionID, func(ctx api.Context) ([]byte, error) {
		return e.sm.Read(ctx, applied, query)
	})
	if discarded {
		e.log.Warn("query scope attempted to publish events; discarded",
			slog.Int64("session_id", int64(sessionID)))
	}

	out := api.Result{Index: applied, EventIndex: s.EventIndex()}
	if res.Err != nil {
		out.Err = res.Err.Error()
	} else {
		out.Output = res.Output
	}
	return out, nil
}
