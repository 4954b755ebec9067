package transport

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/shrtyk/raft-fsm/api"
	"github.com/shrtyk/raft-fsm/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

type fakeResendSource struct {
	backlog map[api.SessionID][]api.EventBatch
}

func (f fakeResendSource) ResendEvents(sessionID api.SessionID, fromIndex api.Index) ([]api.EventBatch, bool) {
	b, ok := f.backlog[sessionID]
	return b, ok
}

func startEventServer(t *testing.T, resend ResendSource) (*EventServer, string) {
	t.Helper()
	lis, err := net.Listen("tcp", ":0")
	require.NoError(t, err)

	_, log := logger.NewTestLogger()
	es := NewEventServer(log, resend)
	gs := grpc.NewServer()
	es.Register(gs)
	go func() { _ = gs.Serve(lis) }()
	t.Cleanup(gs.GracefulStop)

	return es, lis.Addr().String()
}

func dialEvents(t *testing.T, addr string) *grpc.ClientConn {
	t.Helper()
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestEventServerPublishDeliversToSubscribedStream(t *testing.T) {
	es, addr := startEventServer(t, nil)
	conn := dialEvents(t, addr)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	stream, err := NewDialer(conn)(ctx, 7)
	require.NoError(t, err)
	defer stream.Close()

	// Give the server a moment to register the subscription before
	// publishing, since subscribing happens asynchronously server-side.
	time.Sleep(50 * time.Millisecond)

	batch := api.EventBatch{SessionID: 7, PreviousIndex: 0, EventIndex: 3, Events: [][]byte{[]byte("hi")}}
	es.Publish(7, batch)

	got, err := stream.Recv()
	require.NoError(t, err)
	assert.Equal(t, batch, got)
}

func TestEventServerSendsBacklogOnSubscribe(t *testing.T) {
	backlog := []api.EventBatch{
		{SessionID: 9, PreviousIndex: 0, EventIndex: 2, Events: [][]byte{[]byte("a")}},
	}
	resend := fakeResendSource{backlog: map[api.SessionID][]api.EventBatch{9: backlog}}
	_, addr := startEventServer(t, resend)
	conn := dialEvents(t, addr)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	stream, err := NewDialer(conn)(ctx, 9)
	require.NoError(t, err)
	defer stream.Close()

	got, err := stream.Recv()
	require.NoError(t, err)
	assert.Equal(t, backlog[0], got)
}

func TestStreamResendTriggersBacklogDelivery(t *testing.T) {
	resend := fakeResendSource{backlog: map[api.SessionID][]api.EventBatch{}}
	_, addr := startEventServer(t, resend)
	conn := dialEvents(t, addr)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	stream, err := NewDialer(conn)(ctx, 5)
	require.NoError(t, err)
	defer stream.Close()

	resend.backlog[5] = []api.EventBatch{
		{SessionID: 5, PreviousIndex: 0, EventIndex: 1, Events: [][]byte{[]byte("resend")}},
	}
	require.NoError(t, stream.Resend(ctx, 5, 0))

	got, err := stream.Recv()
	require.NoError(t, err)
	assert.Equal(t, resend.backlog[5][0], got)
}
