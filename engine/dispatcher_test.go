package engine

import (
	"context"
	"encoding/binary"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shrtyk/raft-fsm/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEngine(t *testing.T) (*Engine, *fakeLog, *fakeSM, *recordingPublisher) {
	t.Helper()
	lg := newFakeLog()
	sm := &fakeSM{}
	pub := &recordingPublisher{}
	e := New(TestsConfig(), nil, lg, sm, fakeStore{}, pub)
	require.NoError(t, e.Start())
	t.Cleanup(func() { _ = e.Stop() })
	return e, lg, sm, pub
}

func registerEntry(clientID api.ClientID, ts int64) *api.Entry {
	return &api.Entry{
		Timestamp: time.UnixMilli(ts),
		Kind:      api.EntryRegister,
		Register:  &api.RegisterPayload{ClientID: clientID, Timeout: 10 * time.Second},
	}
}

func commandEntry(sid api.SessionID, seq api.Sequence, body []byte, ts int64) *api.Entry {
	return &api.Entry{
		Timestamp: time.UnixMilli(ts),
		Kind:      api.EntryCommand,
		Command:   &api.CommandPayload{SessionID: sid, Sequence: seq, Bytes: body},
	}
}

func TestRegisterAssignsSessionIDFromIndex(t *testing.T) {
	e, lg, _, _ := newTestEngine(t)
	ctx := context.Background()

	entry := registerEntry(uuid.New(), 100)
	lg.Append(entry)

	res, err := e.Apply(ctx, entry.Index)
	require.NoError(t, err)
	sid := int64(binary.BigEndian.Uint64(res.Output))
	assert.Equal(t, entry.Index, sid)
	assert.Equal(t, 1, func() int {
		n := 0
		e.exec(ctx, func() { n = e.registry.Len() })
		return n
	}())
}

func TestCommandAppliesAndPublishesEvent(t *testing.T) {
	e, lg, sm, pub := newTestEngine(t)
	ctx := context.Background()

	reg := registerEntry(uuid.New(), 100)
	lg.Append(reg)
	res, err := e.Apply(ctx, reg.Index)
	require.NoError(t, err)
	sid := api.SessionID(binary.BigEndian.Uint64(res.Output))

	cmd := commandEntry(sid, 1, []byte("hello"), 200)
	lg.Append(cmd)
	out, err := e.Apply(ctx, cmd.Index)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), out.Output)
	assert.Equal(t, [][]byte{[]byte("hello")}, sm.applied)

	batches := pub.all()
	require.Len(t, batches, 1)
	assert.Equal(t, sid, batches[0].SessionID)
	assert.Equal(t, cmd.Index, batches[0].EventIndex)
}

func TestCommandReplayReturnsCachedResult(t *testing.T) {
	e, lg, sm, pub := newTestEngine(t)
	ctx := context.Background()

	reg := registerEntry(uuid.New(), 100)
	lg.Append(reg)
	regRes, err := e.Apply(ctx, reg.Index)
	require.NoError(t, err)
	sid := api.SessionID(binary.BigEndian.Uint64(regRes.Output))

	cmd := commandEntry(sid, 1, []byte("once"), 200)
	lg.Append(cmd)
	first, err := e.Apply(ctx, cmd.Index)
	require.NoError(t, err)

	// Re-apply the same entry directly (simulating a replayed log record):
	// the cached result must come back unchanged and the state machine and
	// publisher must not be invoked again.
	second, err := e.ApplyEntry(ctx, cmd)
	require.NoError(t, err)
	assert.Equal(t, first.Output, second.Output)
	assert.Len(t, sm.applied, 1)
	assert.Len(t, pub.all(), 1)
}

func TestUnknownSessionCommandIsRejected(t *testing.T) {
	e, lg, _, _ := newTestEngine(t)
	ctx := context.Background()

	cmd := commandEntry(999, 1, []byte("x"), 100)
	lg.Append(cmd)
	_, err := e.Apply(ctx, cmd.Index)
	assert.ErrorIs(t, err, api.ErrUnknownSession)
}

func TestKeepAliveResendsUnacknowledgedEvents(t *testing.T) {
	e, lg, _, pub := newTestEngine(t)
	ctx := context.Background()

	reg := registerEntry(uuid.New(), 100)
	lg.Append(reg)
	regRes, err := e.Apply(ctx, reg.Index)
	require.NoError(t, err)
	sid := api.SessionID(binary.BigEndian.Uint64(regRes.Output))

	cmd := commandEntry(sid, 1, []byte("evt"), 200)
	lg.Append(cmd)
	_, err = e.Apply(ctx, cmd.Index)
	require.NoError(t, err)
	pub.batches = nil

	ka := &api.Entry{
		Timestamp: time.UnixMilli(300),
		Kind:      api.EntryKeepAlive,
		KeepAlive: &api.KeepAlivePayload{SessionID: sid, CommandSequence: 1, EventIndex: 0},
	}
	lg.Append(ka)
	_, err = e.Apply(ctx, ka.Index)
	require.NoError(t, err)

	batches := pub.all()
	require.Len(t, batches, 1)
	assert.Equal(t, cmd.Index, batches[0].EventIndex)
}

// TestKeepAliveAdvancesCompleteIndex is spec.md §8's S4 scenario
// end-to-end: a keep-alive reporting the client's acked event index must
// advance the session's completeIndex, which is what lets
// engine.lastCompleted (and in turn snapshot.Coordinator's Complete
// phase) ever move past 0 while the session still has other events
// outstanding.
func TestKeepAliveAdvancesCompleteIndex(t *testing.T) {
	e, lg, _, _ := newTestEngine(t)
	ctx := context.Background()

	reg := registerEntry(uuid.New(), 100)
	lg.Append(reg)
	regRes, err := e.Apply(ctx, reg.Index)
	require.NoError(t, err)
	sid := api.SessionID(binary.BigEndian.Uint64(regRes.Output))

	cmd1 := commandEntry(sid, 1, []byte("evt1"), 200)
	lg.Append(cmd1)
	_, err = e.Apply(ctx, cmd1.Index)
	require.NoError(t, err)

	cmd2 := commandEntry(sid, 2, []byte("evt2"), 250)
	lg.Append(cmd2)
	_, err = e.Apply(ctx, cmd2.Index)
	require.NoError(t, err)

	ka := &api.Entry{
		Timestamp: time.UnixMilli(300),
		Kind:      api.EntryKeepAlive,
		KeepAlive: &api.KeepAlivePayload{SessionID: sid, CommandSequence: 2, EventIndex: cmd1.Index},
	}
	lg.Append(ka)
	_, err = e.Apply(ctx, ka.Index)
	require.NoError(t, err)

	var completeIndex api.Index
	var remaining int
	e.exec(ctx, func() {
		s, ok := e.registry.Lookup(sid)
		require.True(t, ok)
		completeIndex = s.CompleteIndex()
		remaining = len(s.ResendEvents(0))
	})

	assert.Equal(t, cmd1.Index, completeIndex)
	assert.Equal(t, 1, remaining, "only the batch acked at cmd1 should be pruned, cmd2's batch stays queued")
	assert.Equal(t, cmd1.Index, e.LastCompleted())
}

func TestUnregisterClosesSession(t *testing.T) {
	e, lg, _, _ := newTestEngine(t)
	ctx := context.Background()

	reg := registerEntry(uuid.New(), 100)
	lg.Append(reg)
	regRes, err := e.Apply(ctx, reg.Index)
	require.NoError(t, err)
	sid := api.SessionID(binary.BigEndian.Uint64(regRes.Output))

	unreg := &api.Entry{
		Timestamp:  time.UnixMilli(400),
		Kind:       api.EntryUnregister,
		Unregister: &api.UnregisterPayload{SessionID: sid, Expired: false},
	}
	lg.Append(unreg)
	_, err = e.Apply(ctx, unreg.Index)
	require.NoError(t, err)

	cmd := commandEntry(sid, 2, []byte("late"), 500)
	lg.Append(cmd)
	_, err = e.Apply(ctx, cmd.Index)
	assert.ErrorIs(t, err, api.ErrUnknownSession)
}

func TestQueryAwaitsLastApplied(t *testing.T) {
	e, lg, _, _ := newTestEngine(t)
	ctx := context.Background()

	reg := registerEntry(uuid.New(), 100)
	lg.Append(reg)
	regRes, err := e.Apply(ctx, reg.Index)
	require.NoError(t, err)
	sid := api.SessionID(binary.BigEndian.Uint64(regRes.Output))

	cmd := commandEntry(sid, 1, []byte("seen"), 200)
	lg.Append(cmd)

	done := make(chan struct{})
	var res api.Result
	var qerr error
	go func() {
		res, qerr = e.Query(ctx, sid, 1, cmd.Index, []byte("q"))
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("query returned before its minIndex was applied")
	case <-time.After(20 * time.Millisecond):
	}

	e.ApplyAll(ctx, cmd.Index)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("query never unblocked after minIndex was applied")
	}
	require.NoError(t, qerr)
	assert.Equal(t, []byte("seen"), res.Output)
}

func TestInconsistentIndexIsFatal(t *testing.T) {
	e, lg, _, _ := newTestEngine(t)
	ctx := context.Background()

	corrupt := registerEntry(uuid.New(), 100)
	lg.AppendCorrupt(corrupt, 99)

	_, err := e.Apply(ctx, 1)
	assert.ErrorIs(t, err, api.ErrInconsistentIndex)

	_, err = e.Apply(ctx, 1)
	require.Error(t, err)
}
