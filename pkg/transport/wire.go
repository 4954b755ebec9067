package transport

import (
	"github.com/ugorji/go/codec"
)

var msgpackHandle = &codec.MsgpackHandle{}

// resendRequest is what a client-side Stream.Resend (or the initial
// subscribe call) sends upstream: "start delivering this session's events
// from FromIndex". It travels msgpack-encoded inside a wrapperspb.BytesValue
// so the wire envelope stays a single, pre-generated protobuf well-known
// type rather than requiring a protoc run for a bespoke message.
type resendRequest struct {
	SessionID int64
	FromIndex int64
}

func encodeResend(r resendRequest) ([]byte, error) {
	var buf []byte
	enc := codec.NewEncoderBytes(&buf, msgpackHandle)
	if err := enc.Encode(r); err != nil {
		return nil, err
	}
	return buf, nil
}

func decodeResend(raw []byte) (resendRequest, error) {
	var r resendRequest
	dec := codec.NewDecoderBytes(raw, msgpackHandle)
	if err := dec.Decode(&r); err != nil {
		return resendRequest{}, err
	}
	return r, nil
}
