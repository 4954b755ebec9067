package engine

import (
	"log/slog"

	"github.com/shrtyk/raft-fsm/api"
	"github.com/shrtyk/raft-fsm/pkg/logger"
)

// fatal records cause as the engine's terminal error and closes fatalCh so
// every blocked caller (in-flight exec/awaitApplied) observes it
// immediately. Unlike the teacher's handlePersistenceError, this never
// panics: spec.md §7 requires INCONSISTENT_INDEX/INTERNAL to halt
// application, not crash the host process the engine is embedded in — a
// host may want to log the failure, alert, and restart the replica on its
// own terms.
func (e *Engine) fatal(msg string, cause error) {
	e.mu.Lock()
	if e.fatalErr != nil {
		e.mu.Unlock()
		return
	}
	e.fatalErr = cause
	e.mu.Unlock()
	close(e.fatalCh)

	e.log.Error(msg, slog.String("severity", "fatal"), logger.ErrAttr(cause))

	e.waitersMu.Lock()
	for _, w := range e.waiters {
		close(w.ch)
	}
	e.waiters = nil
	e.waitersMu.Unlock()
}

// isFatal reports whether err is one of the two structural error kinds
// that must halt application (spec.md §7): INCONSISTENT_INDEX and
// INTERNAL. UNKNOWN_SESSION and USER_ERROR are surfaced to callers and
// never fatal.
func (e *Engine) isFatal(err error) bool {
	return err == api.ErrInconsistentIndex || err == api.ErrInternal
}
