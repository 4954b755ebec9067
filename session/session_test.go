package session

import (
	"testing"

	"github.com/google/uuid"
	"github.com/shrtyk/raft-fsm/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSession() *Session {
	return New(1, uuid.New(), 1000, 0, 4)
}

func TestSessionSuspectTrust(t *testing.T) {
	s := newTestSession()
	require.Equal(t, Open, s.State())

	s.Suspect(500)
	assert.Equal(t, Open, s.State(), "well within timeout, should stay open")

	s.Suspect(1501)
	assert.Equal(t, Suspicious, s.State())

	s.Trust()
	assert.Equal(t, Open, s.State())

	// Trust is a no-op outside SUSPICIOUS.
	s.Trust()
	assert.Equal(t, Open, s.State())
}

func TestSessionSuspectIgnoresNonOpen(t *testing.T) {
	s := newTestSession()
	s.MarkExpired()
	s.Suspect(10_000)
	assert.Equal(t, Expired, s.State(), "Suspect must never touch a non-OPEN session")
}

func TestSessionResponseCache(t *testing.T) {
	s := newTestSession()
	res := api.Result{Index: 5, Output: []byte("ok")}

	s.RecordCommand(1, res)
	got, ok := s.CachedResult(1)
	require.True(t, ok)
	assert.Equal(t, res, got)
	assert.Equal(t, api.Sequence(1), s.CommandSequence())

	// Sequence 0 is the "no sequence" sentinel and is never cached.
	s.RecordCommand(0, res)
	_, ok = s.CachedResult(0)
	assert.False(t, ok)

	s.RecordCommand(2, res)
	s.ClearResults(2)
	_, ok = s.CachedResult(1)
	assert.False(t, ok, "sequence below clearedSequence must be evicted")
	_, ok = s.CachedResult(2)
	assert.True(t, ok, "sequence equal to clearedSequence survives")
}

func TestSessionPublishAndResendEvents(t *testing.T) {
	s := newTestSession()

	s.PublishEvent(10, [][]byte{[]byte("e1")})
	s.PublishEvent(20, [][]byte{[]byte("e2")})

	assert.Equal(t, api.Index(20), s.EventIndex())
	assert.True(t, s.HasPendingEvents())

	resend := s.ResendEvents(10)
	require.Len(t, resend, 1)
	assert.Equal(t, api.Index(20), resend[0].EventIndex)
	assert.Equal(t, api.Index(10), resend[0].PreviousIndex)

	all := s.ResendEvents(0)
	assert.Len(t, all, 2)
}

func TestSessionDrain(t *testing.T) {
	s := newTestSession()
	s.PublishEvent(5, [][]byte{[]byte("e1")})

	drained := s.Drain()
	require.Len(t, drained, 1)
	assert.False(t, s.HasPendingEvents())

	// Draining twice is safe and returns nothing the second time.
	assert.Empty(t, s.Drain())
}

func TestSessionCompleteIndexNeverRegresses(t *testing.T) {
	s := newTestSession()
	s.SetCompleteIndex(10)
	s.SetCompleteIndex(5)
	assert.Equal(t, api.Index(10), s.CompleteIndex())
}

func TestSessionPruneAckedDropsOnlyConfirmedBatches(t *testing.T) {
	s := newTestSession()
	s.PublishEvent(10, [][]byte{[]byte("e1")})
	s.PublishEvent(20, [][]byte{[]byte("e2")})
	s.PublishEvent(30, [][]byte{[]byte("e3")})

	s.PruneAcked(20)
	remaining := s.ResendEvents(0)
	require.Len(t, remaining, 1, "batches acked at or below 20 must be gone, the rest kept")
	assert.Equal(t, api.Index(30), remaining[0].EventIndex)
	assert.Equal(t, api.Index(20), remaining[0].PreviousIndex, "chain is untouched by pruning")
}
