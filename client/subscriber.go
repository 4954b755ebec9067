package client

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/shrtyk/raft-fsm/api"
	"github.com/shrtyk/raft-fsm/internal/cbreaker"
	"github.com/shrtyk/raft-fsm/pkg/logger"
)

// Stream is a single connected event-publication stream: one Recv per
// server-pushed batch. A default gRPC-backed implementation lives in
// github.com/shrtyk/raft-fsm/pkg/transport.
type Stream interface {
	Recv() (api.EventBatch, error)
	// Resend asks the server to redeliver every batch after fromIndex,
	// used when the Sequencer detects a gap.
	Resend(ctx context.Context, sessionID api.SessionID, fromIndex api.Index) error
	Close() error
}

// Dialer opens a new Stream for sessionID, e.g. by starting a gRPC server
// stream. Subscriber calls it once per connection attempt.
type Dialer func(ctx context.Context, sessionID api.SessionID) (Stream, error)

// BreakerConfig tunes the dial-side circuit breaker independent of
// RetryPolicy's own backoff pacing (SPEC_FULL §10's ambient-config
// threading pattern, applied here instead of hardcoding the thresholds).
type BreakerConfig struct {
	// FailureThreshold consecutive dial failures trip the breaker open.
	FailureThreshold int
	// SuccessThreshold consecutive successful probes close it again.
	SuccessThreshold int
	// ResetTimeout is how long the breaker stays open before allowing a
	// half-open probe dial.
	ResetTimeout time.Duration
}

// DefaultBreakerConfig trips after 5 consecutive dial failures and probes
// again every 30 seconds, recovering after 2 consecutive successes.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{FailureThreshold: 5, SuccessThreshold: 2, ResetTimeout: 30 * time.Second}
}

// Subscriber owns the reconnect loop around a Stream, feeding every
// received batch through a Sequencer and reconnecting with backoff on any
// stream error, mirroring the teacher's Client retry-and-reconnect shape
// (client.go's retryLoop) but for a long-lived server push stream instead
// of a request/response RPC.
type Subscriber struct {
	log    *slog.Logger
	dial   Dialer
	seq    *Sequencer
	policy RetryPolicy
	cb     *cbreaker.CircuitBreaker
}

// NewSubscriber constructs a Subscriber for sessionID's event stream,
// delivering ordered batches to handler. Dial attempts run through a
// circuit breaker so a server that is down hard doesn't get hammered with
// a fresh dial every backoff interval forever — after enough consecutive
// dial failures it opens and fails fast until its reset timeout passes,
// independent of (and in addition to) the backoff policy's own pacing. A
// zero BreakerConfig falls back to DefaultBreakerConfig; the breaker logs
// its own state transitions through log.
func NewSubscriber(log *slog.Logger, dial Dialer, sessionID api.SessionID, handler Handler, policy RetryPolicy, breaker BreakerConfig) *Subscriber {
	if log == nil {
		log = logger.NewLogger(logger.Prod, false)
	}
	if policy == nil {
		policy = DefaultRetryPolicy{}
	}
	if breaker == (BreakerConfig{}) {
		breaker = DefaultBreakerConfig()
	}
	return &Subscriber{
		log:    log,
		dial:   dial,
		seq:    NewSequencer(log, sessionID, handler),
		policy: policy,
		cb: cbreaker.NewCircuitBreaker("event-stream-dial",
			breaker.FailureThreshold, breaker.SuccessThreshold, breaker.ResetTimeout, log),
	}
}

// EventIndex returns the sequencer's current delivered index.
func (s *Subscriber) EventIndex() api.Index {
	return s.seq.EventIndex()
}

// Run blocks, dialing and redialing the stream until ctx is canceled.
// Every batch it receives is fed to the Sequencer; gaps trigger a Resend
// call on the current stream before continuing to read.
func (s *Subscriber) Run(ctx context.Context, sessionID api.SessionID) error {
	for retrynum := uint(0); ; retrynum++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		stream, err := cbreaker.Do(ctx, s.cb, func(ctx context.Context) (Stream, error) {
			return s.dial(ctx, sessionID)
		})
		if err != nil {
			if !s.policy.ShouldRetry(retrynum, err) {
				return err
			}
			s.log.Warn("failed to open event stream", logger.ErrAttr(err))
			if !sleepBackoff(ctx, s.policy.GetTimeout(retrynum)) {
				return ctx.Err()
			}
			continue
		}

		err = s.readLoop(ctx, sessionID, stream)
		stream.Close()
		if err == nil || errors.Is(err, context.Canceled) {
			return err
		}
		s.log.Warn("event stream closed, reconnecting", logger.ErrAttr(err))
		if !sleepBackoff(ctx, s.policy.GetTimeout(retrynum)) {
			return ctx.Err()
		}
	}
}

func (s *Subscriber) readLoop(ctx context.Context, sessionID api.SessionID, stream Stream) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		batch, err := stream.Recv()
		if err != nil {
			return err
		}

		_, handleErr := s.seq.Handle(batch)
		var gap errGap
		if errors.As(handleErr, &gap) {
			if err := stream.Resend(ctx, sessionID, gap.LocalIndex()); err != nil {
				return err
			}
			continue
		}
		if handleErr != nil {
			return handleErr
		}
	}
}

// sleepBackoff waits for d or ctx cancellation, reporting which happened.
func sleepBackoff(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
