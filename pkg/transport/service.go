package transport

import (
	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// serviceName and streamName identify the bidirectional event-publication
// stream. There is no .proto file and no protoc run behind this: the wire
// envelope is wrapperspb.BytesValue, a well-known protobuf message that
// ships pre-generated with google.golang.org/protobuf, carrying a
// msgpack-encoded api.EventBatch or resendRequest as its payload. Framing
// the envelope in real protobuf keeps this a genuine gRPC service (HTTP/2,
// flow control, deadlines) without hand-authoring generated code.
const (
	serviceName = "raftfsm.transport.EventTransport"
	streamName  = "EventStream"
	streamMethod = "/" + serviceName + "/" + streamName
)

// serviceDesc is the hand-written grpc.ServiceDesc a generated _grpc.pb.go
// would normally provide. eventStreamHandler is installed as the stream
// handler; it type-asserts srv back to *EventServer.
var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*any)(nil),
	Streams: []grpc.StreamDesc{
		{
			StreamName:    streamName,
			Handler:       eventStreamHandler,
			ServerStreams: true,
			ClientStreams: true,
		},
	},
	Metadata: "pkg/transport/service.go",
}

func eventStreamHandler(srv any, stream grpc.ServerStream) error {
	return srv.(*EventServer).handleStream(stream)
}

// sendEnvelope and recvEnvelope wrap the raw BytesValue Send/Recv calls
// shared by both the client and server halves of the stream.
func sendEnvelope(stream grpc.Stream, payload []byte) error {
	return stream.SendMsg(&wrapperspb.BytesValue{Value: payload})
}

func recvEnvelope(stream grpc.Stream) ([]byte, error) {
	var env wrapperspb.BytesValue
	if err := stream.RecvMsg(&env); err != nil {
		return nil, err
	}
	return env.Value, nil
}
