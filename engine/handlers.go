package engine

import (
	"encoding/binary"

	"github.com/shrtyk/raft-fsm/api"
	"github.com/shrtyk/raft-fsm/session"
)

// handleRegister implements REGISTER (spec.md §4.6): a new session is
// created with id equal to this entry's own index, registered, and every
// listener's Register is called on the application thread within the
// scope. The new session id is returned as the command's output, 8 bytes
// big-endian.
func (e *Engine) handleRegister(entry *api.Entry) (api.Result, error) {
	p := entry.Register
	timeout := p.Timeout.Milliseconds()
	if timeout <= 0 {
		timeout = e.cfg.Sessions.DefaultTimeout.Milliseconds()
	}

	sid := entry.Index
	e.app.WithCommandEffect(entry.Index, entry.Timestamp.UnixMilli(), sid, func(ctx api.Context) {
		e.registry.Register(sid, p.ClientID, timeout, ctx.Now(), e.cfg.EventQueueSize)
	})

	return api.Result{Index: entry.Index, Output: encodeSessionID(sid)}, nil
}

// handleKeepAlive implements KEEP_ALIVE (spec.md §4.6).
func (e *Engine) handleKeepAlive(entry *api.Entry) (api.Result, error) {
	p := entry.KeepAlive
	s, ok := e.registry.Lookup(p.SessionID)
	if !ok || !s.State().Active() {
		entry.Compact(api.CompactQuorum)
		return api.Result{}, api.ErrUnknownSession
	}

	s.Trust()

	var resend []api.EventBatch
	e.app.WithCommandEffect(entry.Index, entry.Timestamp.UnixMilli(), s.ID(), func(ctx api.Context) {
		s.SetTimestamp(ctx.Now())
		s.ClearResults(p.CommandSequence)
		resend = s.ResendEvents(p.EventIndex)
		s.SetRequestSequence(p.CommandSequence)
		// The client reports the event index it has acked; spec.md §4.7's
		// Complete phase can only finalize a snapshot once every session's
		// completeIndex has caught up past it (S4, invariant 5).
		s.SetCompleteIndex(p.EventIndex)
		s.PruneAcked(p.EventIndex)
	})
	s.SetLastKeepAliveEntry(entry)

	for _, batch := range resend {
		e.publisher.Publish(s.ID(), batch)
	}

	return api.Result{Index: entry.Index, EventIndex: s.EventIndex()}, nil
}

// handleUnregister implements UNREGISTER (spec.md §4.6): it is the only
// entry kind allowed to move a session to EXPIRED or CLOSED.
func (e *Engine) handleUnregister(entry *api.Entry) (api.Result, error) {
	p := entry.Unregister
	s, ok := e.registry.Lookup(p.SessionID)
	if !ok || !s.State().Active() {
		return api.Result{}, api.ErrUnknownSession
	}

	e.app.WithCommandEffect(entry.Index, entry.Timestamp.UnixMilli(), s.ID(), func(ctx api.Context) {
		if p.Expired {
			e.registry.Expire(s.ID())
		} else {
			e.registry.Unregister(s.ID())
		}
	})

	return api.Result{Index: entry.Index}, nil
}

// handleConnect implements CONNECT (spec.md §4.6): associates a new
// physical connection with an existing session, treating it as a
// keep-alive. No user callback runs.
func (e *Engine) handleConnect(entry *api.Entry) (api.Result, error) {
	p := entry.Connect
	s, ok := e.registry.LookupByClient(p.ClientID)
	if !ok || !s.State().Active() {
		entry.Compact(api.CompactQuorum)
		return api.Result{}, api.ErrUnknownSession
	}

	s.Trust()
	s.SetTimestamp(e.app.AdvanceClock(entry.Timestamp.UnixMilli()))
	s.SetLastConnectEntry(entry)
	s.SetLastKeepAliveEntry(entry)

	return api.Result{Index: entry.Index, EventIndex: s.EventIndex()}, nil
}

// handleInitialize implements INITIALIZE (spec.md §4.6): bumps every
// session's timestamp so a leadership change does not starve live
// sessions into false suspicion.
func (e *Engine) handleInitialize(entry *api.Entry) (api.Result, error) {
	now := e.app.AdvanceClock(entry.Timestamp.UnixMilli())
	e.registry.Each(func(s *session.Session) {
		s.SetTimestamp(now)
	})
	entry.Compact(api.CompactSequential)
	return api.Result{Index: entry.Index}, nil
}

func encodeSessionID(sid api.SessionID) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(sid))
	return b
}
