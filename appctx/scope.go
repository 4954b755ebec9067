package appctx

import "github.com/shrtyk/raft-fsm/api"

// Kind tags a scope as mutating or read-only (spec.md §4.3).
type Kind uint8

const (
	_ Kind = iota
	Command
	Query
)

// scope implements api.Context for the duration of a single init->commit
// triple. It is never retained past commit (spec.md §9: "scopes never
// nest" and are only valid for the call they were passed to).
type scope struct {
	kind      Kind
	index     api.Index
	now       int64
	sessionID api.SessionID

	events    [][]byte
	discarded int
}

func (s *scope) Now() int64                 { return s.now }
func (s *scope) SessionID() api.SessionID   { return s.sessionID }

// Publish appends event to the scope's batch. A QUERY scope must not
// produce events (spec.md §4.3); such calls are counted in discarded so
// the caller can log them, and the event itself is dropped.
func (s *scope) Publish(event []byte) {
	if s.kind == Query {
		s.discarded++
		return
	}
	s.events = append(s.events, event)
}
