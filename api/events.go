package api

// EventPublisher is the engine's outbound hook for the event-publication
// pipeline spec.md §1 describes ("ties server-side state changes to
// client-visible notifications"): every time a command produces a fresh
// batch, or a KEEP_ALIVE triggers a resend, the engine hands the batch
// here. A default gRPC-based implementation lives in
// github.com/shrtyk/raft-fsm/pkg/transport; engines built without one
// simply never publish (batches still accumulate in each session's
// pendingEvents for a later subscriber to drain).
type EventPublisher interface {
	Publish(sessionID SessionID, batch EventBatch)
}
