// default_grpc.go provides the default event-publication transport: the
// server-side api.EventPublisher that fans committed batches out over gRPC,
// and the client-side client.Dialer that opens the matching stream.
package transport

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/shrtyk/raft-fsm/api"
	"github.com/shrtyk/raft-fsm/client"
	"github.com/shrtyk/raft-fsm/pkg/logger"
	"google.golang.org/grpc"
)

// ResendSource answers a client-triggered resend: redeliver sessionID's
// buffered event batches from fromIndex onward. The default wiring backs
// this with session.Registry; see NewRegistryResendSource.
type ResendSource interface {
	ResendEvents(sessionID api.SessionID, fromIndex api.Index) ([]api.EventBatch, bool)
}

type subscription struct {
	send chan []byte
}

// EventServer is the default api.EventPublisher: a gRPC service that fans
// committed event batches out to every client stream subscribed to the
// originating session, and answers client-triggered resends (the
// Sequencer's gap-closing signal) from a ResendSource.
type EventServer struct {
	log    *slog.Logger
	resend ResendSource

	mu   sync.Mutex
	subs map[api.SessionID]map[uint64]*subscription

	nextID atomic.Uint64
}

var _ api.EventPublisher = (*EventServer)(nil)

// NewEventServer constructs an EventServer. resend may be nil for a
// deployment that never needs mid-stream gap recovery (KEEP_ALIVE's own
// resend path still works without it).
func NewEventServer(log *slog.Logger, resend ResendSource) *EventServer {
	if log == nil {
		log = logger.NewLogger(logger.Prod, false)
	}
	return &EventServer{
		log:    log,
		resend: resend,
		subs:   make(map[api.SessionID]map[uint64]*subscription),
	}
}

// Register installs the event stream service on a *grpc.Server.
func (s *EventServer) Register(gs *grpc.Server) {
	gs.RegisterService(&serviceDesc, s)
}

// Publish implements api.EventPublisher, encoding batch and delivering it
// to every stream currently subscribed to sessionID. A subscriber slow
// enough to fill its send buffer is dropped rather than allowed to stall
// the caller — the engine's own goroutine calls this through the publisher
// hook and must never block on a slow network peer.
func (s *EventServer) Publish(sessionID api.SessionID, batch api.EventBatch) {
	payload, err := batch.Encode()
	if err != nil {
		s.log.Error("encode event batch failed", logger.ErrAttr(err))
		return
	}

	s.mu.Lock()
	subs := make([]*subscription, 0, len(s.subs[sessionID]))
	for _, sub := range s.subs[sessionID] {
		subs = append(subs, sub)
	}
	s.mu.Unlock()

	for _, sub := range subs {
		select {
		case sub.send <- payload:
		default:
			s.log.Warn("event subscriber backpressure, dropping batch",
				slog.Int64("session_id", int64(sessionID)))
		}
	}
}

func (s *EventServer) addSub(sessionID api.SessionID) (uint64, *subscription) {
	id := s.nextID.Add(1)
	sub := &subscription{send: make(chan []byte, 64)}
	s.mu.Lock()
	if s.subs[sessionID] == nil {
		s.subs[sessionID] = make(map[uint64]*subscription)
	}
	s.subs[sessionID][id] = sub
	s.mu.Unlock()
	return id, sub
}

func (s *EventServer) removeSub(sessionID api.SessionID, id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.subs[sessionID], id)
	if len(s.subs[sessionID]) == 0 {
		delete(s.subs, sessionID)
	}
}

// handleStream is the grpc.StreamDesc handler: its first inbound message
// subscribes a session (and seeds it with any backlog from fromIndex),
// after which it both forwards further client resend requests and drains
// Publish-delivered batches onto the wire until the stream ends.
func (s *EventServer) handleStream(stream grpc.ServerStream) error {
	raw, err := recvEnvelope(stream)
	if err != nil {
		return err
	}
	req, err := decodeResend(raw)
	if err != nil {
		return err
	}
	sessionID := api.SessionID(req.SessionID)

	if err := s.sendBacklog(stream, sessionID, api.Index(req.FromIndex)); err != nil {
		return err
	}

	subID, sub := s.addSub(sessionID)
	defer s.removeSub(sessionID, subID)

	ctx := stream.Context()
	errCh := make(chan error, 1)
	go s.readResends(stream, sessionID, sub, errCh)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-errCh:
			return err
		case payload := <-sub.send:
			if err := sendEnvelope(stream, payload); err != nil {
				return err
			}
		}
	}
}

func (s *EventServer) sendBacklog(stream grpc.ServerStream, sessionID api.SessionID, fromIndex api.Index) error {
	if s.resend == nil {
		return nil
	}
	backlog, ok := s.resend.ResendEvents(sessionID, fromIndex)
	if !ok {
		return nil
	}
	for _, batch := range backlog {
		payload, err := batch.Encode()
		if err != nil {
			return err
		}
		if err := sendEnvelope(stream, payload); err != nil {
			return err
		}
	}
	return nil
}

// readResends loops over inbound client messages (further Resend calls
// triggered by the Sequencer detecting a gap) and queues the resulting
// backlog onto sub.send for the main loop to write out.
func (s *EventServer) readResends(stream grpc.ServerStream, sessionID api.SessionID, sub *subscription, errCh chan<- error) {
	for {
		raw, err := recvEnvelope(stream)
		if err != nil {
			if errors.Is(err, io.EOF) {
				errCh <- nil
			} else {
				errCh <- err
			}
			return
		}
		req, err := decodeResend(raw)
		if err != nil {
			errCh <- err
			return
		}
		if s.resend == nil {
			continue
		}
		backlog, ok := s.resend.ResendEvents(sessionID, api.Index(req.FromIndex))
		if !ok {
			continue
		}
		for _, batch := range backlog {
			payload, encErr := batch.Encode()
			if encErr != nil {
				continue
			}
			select {
			case sub.send <- payload:
			default:
			}
		}
	}
}

// GRPCStream implements client.Stream over a live gRPC bidi stream.
type GRPCStream struct {
	stream grpc.ClientStream
}

var _ client.Stream = (*GRPCStream)(nil)

func (g *GRPCStream) Recv() (api.EventBatch, error) {
	raw, err := recvEnvelope(g.stream)
	if err != nil {
		return api.EventBatch{}, err
	}
	return api.DecodeEventBatch(raw)
}

func (g *GRPCStream) Resend(ctx context.Context, sessionID api.SessionID, fromIndex api.Index) error {
	payload, err := encodeResend(resendRequest{SessionID: int64(sessionID), FromIndex: int64(fromIndex)})
	if err != nil {
		return err
	}
	return sendEnvelope(g.stream, payload)
}

func (g *GRPCStream) Close() error {
	return g.stream.CloseSend()
}

// NewDialer builds a client.Dialer opening the event stream over conn. The
// stream's first message subscribes from index 0; a reconnecting
// Subscriber keeps its Sequencer, which acks batches it has already
// delivered idempotently, so re-requesting the full backlog on every
// (re)connect is correct, if occasionally redundant for a client that lost
// nothing.
func NewDialer(conn *grpc.ClientConn) client.Dialer {
	return func(ctx context.Context, sessionID api.SessionID) (client.Stream, error) {
		cs, err := conn.NewStream(ctx, &serviceDesc.Streams[0], streamMethod)
		if err != nil {
			return nil, err
		}
		payload, err := encodeResend(resendRequest{SessionID: int64(sessionID), FromIndex: 0})
		if err != nil {
			return nil, err
		}
		if err := sendEnvelope(cs, payload); err != nil {
			return nil, err
		}
		return &GRPCStream{stream: cs}, nil
	}
}
