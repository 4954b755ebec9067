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

func TestConnectRebindsExistingSessionByClientID(t *testing.T) {
	e, lg, _, _ := newTestEngine(t)
	ctx := context.Background()

	clientID := uuid.New()
	reg := registerEntry(clientID, 100)
	lg.Append(reg)
	regRes, err := e.Apply(ctx, reg.Index)
	require.NoError(t, err)
	sid := api.SessionID(binary.BigEndian.Uint64(regRes.Output))

	conn := &api.Entry{
		Timestamp: time.UnixMilli(9000),
		Kind:      api.EntryConnect,
		Connect:   &api.ConnectPayload{ClientID: clientID},
	}
	lg.Append(conn)
	res, err := e.Apply(ctx, conn.Index)
	require.NoError(t, err)
	assert.Equal(t, api.Index(0), res.EventIndex)

	var timestamp int64
	e.exec(ctx, func() {
		s, ok := e.registry.Lookup(sid)
		require.True(t, ok)
		timestamp = s.Timestamp()
	})
	assert.Equal(t, int64(9000), timestamp)
}

func TestConnectUnknownClientIsRejected(t *testing.T) {
	e, lg, _, _ := newTestEngine(t)
	ctx := context.Background()

	conn := &api.Entry{
		Timestamp: time.UnixMilli(100),
		Kind:      api.EntryConnect,
		Connect:   &api.ConnectPayload{ClientID: uuid.New()},
	}
	lg.Append(conn)
	_, err := e.Apply(ctx, conn.Index)
	assert.ErrorIs(t, err, api.ErrUnknownSession)
}

func TestInitializeBumpsEverySessionTimestamp(t *testing.T) {
	e, lg, _, _ := newTestEngine(t)
	ctx := context.Background()

	reg1 := registerEntry(uuid.New(), 100)
	lg.Append(reg1)
	res1, err := e.Apply(ctx, reg1.Index)
	require.NoError(t, err)
	sid1 := api.SessionID(binary.BigEndian.Uint64(res1.Output))

	reg2 := registerEntry(uuid.New(), 100)
	lg.Append(reg2)
	res2, err := e.Apply(ctx, reg2.Index)
	require.NoError(t, err)
	sid2 := api.SessionID(binary.BigEndian.Uint64(res2.Output))

	init := &api.Entry{Timestamp: time.UnixMilli(5000), Kind: api.EntryInitialize}
	lg.Append(init)
	_, err = e.Apply(ctx, init.Index)
	require.NoError(t, err)

	e.exec(ctx, func() {
		s1, _ := e.registry.Lookup(sid1)
		s2, _ := e.registry.Lookup(sid2)
		assert.Equal(t, int64(5000), s1.Timestamp())
		assert.Equal(t, int64(5000), s2.Timestamp())
	})
}

func TestSuspicionSweepExcludesActingSession(t *testing.T) {
	e, lg, _, _ := newTestEngine(t)
	ctx := context.Background()

	reg1 := registerEntry(uuid.New(), 0)
	lg.Append(reg1)
	res1, err := e.Apply(ctx, reg1.Index)
	require.NoError(t, err)
	sid1 := api.SessionID(binary.BigEndian.Uint64(res1.Output))

	// A KEEP_ALIVE from a second session, far in the future, sweeps every
	// OTHER session into suspicion but must not itself be judged off its
	// own not-yet-updated timestamp.
	reg2 := registerEntry(uuid.New(), 0)
	lg.Append(reg2)
	res2, err := e.Apply(ctx, reg2.Index)
	require.NoError(t, err)
	sid2 := api.SessionID(binary.BigEndian.Uint64(res2.Output))

	ka := &api.Entry{
		Timestamp: time.UnixMilli(1_000_000),
		Kind:      api.EntryKeepAlive,
		KeepAlive: &api.KeepAlivePayload{SessionID: sid2, CommandSequence: 0, EventIndex: 0},
	}
	lg.Append(ka)
	_, err = e.Apply(ctx, ka.Index)
	require.NoError(t, err)

	e.exec(ctx, func() {
		s1, _ := e.registry.Lookup(sid1)
		s2, _ := e.registry.Lookup(sid2)
		assert.Equal(t, "suspicious", s1.State().String())
		assert.Equal(t, "open", s2.State().String())
	})
}
