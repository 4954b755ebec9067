package transport

import (
	"github.com/shrtyk/raft-fsm/api"
	"github.com/shrtyk/raft-fsm/session"
)

// registryResendSource adapts session.Registry to ResendSource, letting
// the event server answer a client's gap-closing resend request straight
// from the session's own retained, unacknowledged event batches rather
// than re-deriving them some other way.
type registryResendSource struct {
	registry *session.Registry
}

// NewRegistryResendSource is the default ResendSource, backed by the same
// session.Registry the engine applies REGISTER/KEEP_ALIVE/UNREGISTER
// entries against.
func NewRegistryResendSource(registry *session.Registry) ResendSource {
	return registryResendSource{registry: registry}
}

func (r registryResendSource) ResendEvents(sessionID api.SessionID, fromIndex api.Index) ([]api.EventBatch, bool) {
	s, ok := r.registry.Lookup(sessionID)
	if !ok || !s.State().Active() {
		return nil, false
	}
	return s.ResendEvents(fromIndex), true
}
