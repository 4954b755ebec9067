package cbreaker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

var (
	ErrOpenState = errors.New("circuit breaker is in open state")
)

type state int

const (
	_ state = iota
	closedState
	open
	halfOpen
)

func (s state) String() string {
	switch s {
	case closedState:
		return "closed"
	case open:
		return "open"
	case halfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreaker gates a retryable call behind consecutive-failure/success
// counters, logging every state transition through the caller's own
// logger so a breaker tripping open shows up alongside the rest of that
// caller's structured logs instead of silently changing behavior.
type CircuitBreaker struct {
	mu    sync.RWMutex
	state state

	consecutiveFailures  int
	consecutiveSuccesses int

	failureThreshold int
	successThreshold int

	resetTimeout time.Duration
	nextProbeAt  time.Time

	name string
	log  *slog.Logger
}

// NewCircuitBreaker constructs a breaker identified by name (used only in
// its log lines) that logs state transitions through log. A nil log
// discards them.
func NewCircuitBreaker(name string, failureThreshold, successThreshold int, resetTimeout time.Duration, log *slog.Logger) *CircuitBreaker {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &CircuitBreaker{
		state:            closedState,
		failureThreshold: failureThreshold,
		successThreshold: successThreshold,
		resetTimeout:     resetTimeout,
		name:             name,
		log:              log,
	}
}

type rpcCall[Response any] func(context.Context) (Response, error)

// Do runs the given rpcCall protected by the circuit breaker.
func Do[Response any](ctx context.Context, cb *CircuitBreaker, req rpcCall[Response]) (resp Response, err error) {
	cb.mu.Lock()
	if cb.state == open {
		if time.Now().Before(cb.nextProbeAt) {
			cb.mu.Unlock()
			return resp, ErrOpenState
		}
		cb.transition(halfOpen)
		cb.consecutiveSuccesses = 0
	}
	cb.mu.Unlock()

	resp, err = req(ctx)

	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err != nil {
		cb.consecutiveSuccesses = 0
		if cb.state == halfOpen {
			cb.open()
		} else {
			cb.consecutiveFailures++
			if cb.consecutiveFailures >= cb.failureThreshold {
				cb.open()
			}
		}
		return
	}

	if cb.state == halfOpen {
		cb.consecutiveSuccesses++
		if cb.consecutiveSuccesses >= cb.successThreshold {
			cb.reset()
		}
	} else {
		cb.consecutiveFailures = 0
	}

	return
}

func (cb *CircuitBreaker) IsClosed() bool {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.state == closedState || cb.state == halfOpen
}

// State reports the breaker's current state for status/health reporting.
func (cb *CircuitBreaker) State() string {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.state.String()
}

func (cb *CircuitBreaker) open() {
	cb.transition(open)
	cb.nextProbeAt = time.Now().Add(cb.resetTimeout)
	cb.consecutiveFailures = 0
	cb.consecutiveSuccesses = 0
}

func (cb *CircuitBreaker) reset() {
	cb.transition(closedState)
	cb.consecutiveFailures = 0
	cb.consecutiveSuccesses = 0
}

// transition assumes cb.mu is held.
func (cb *CircuitBreaker) transition(to state) {
	if cb.state == to {
		return
	}
	from := cb.state
	cb.state = to
	cb.log.Warn("circuit breaker state change",
		slog.String("breaker", cb.name),
		slog.String("from", from.String()),
		slog.String("to", to.String()))
}
