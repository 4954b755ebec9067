package engine

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/shrtyk/raft-fsm/api"
	"github.com/shrtyk/raft-fsm/pkg/logger"
)

// Status is a point-in-time snapshot of the engine's health, served by
// StatusHandler for operators and liveness probes.
type Status struct {
	LastApplied   api.Index `json:"lastApplied"`
	LastCompleted api.Index `json:"lastCompleted"`
	Sessions      int       `json:"sessions"`
	Fatal         string    `json:"fatal,omitempty"`
}

// Status collects a snapshot: the session count is read through the
// engine's own single-threaded execution context (registry.Len isn't
// otherwise safe for outside callers), the applied/completed indices
// through their own locked accessors. If the engine has already failed
// fatally or ctx expires, the session count is simply left at zero and
// Fatal still reports why.
func (e *Engine) Status(ctx context.Context) Status {
	var sessions int
	_ = e.exec(ctx, func() { sessions = e.registry.Len() })

	s := Status{
		LastApplied:   e.LastApplied(),
		LastCompleted: e.LastCompleted(),
		Sessions:      sessions,
	}
	if ferr := e.fatalError(); ferr != nil {
		s.Fatal = ferr.Error()
	}
	return s
}

// StatusHandler serves the engine's Status as JSON on GET, mirroring the
// teacher's Raft node status endpoint.
type StatusHandler struct {
	Engine *Engine
}

func (h *StatusHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	s := h.Engine.Status(ctx)
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s); err != nil {
		h.Engine.log.Warn("failed to encode status for monitoring", logger.ErrAttr(err))
		http.Error(w, "failed to encode status", http.StatusInternalServerError)
	}
}
