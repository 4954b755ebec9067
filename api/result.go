package api

import (
	"github.com/ugorji/go/codec"
)

var msgpackHandle = &codec.MsgpackHandle{}

// Result is what a COMMAND or QUERY application produces. It is cached per
// (session, sequence) for commands so a retried command returns the exact
// same bytes rather than re-applying — the load-bearing invariant behind
// linearizability under client retries.
type Result struct {
	Index      Index
	EventIndex Index
	Output     []byte
	Err        string // non-empty iff the state machine returned a USER_ERROR
}

// resultWire is the on-the-wire shape of Result, kept distinct from Result
// itself so adding engine-only fields later doesn't change the cached
// bytes' layout.
type resultWire struct {
	Index      Index
	EventIndex Index
	Output     []byte
	Err        string
}

// Encode serializes the result deterministically. Two calls to Encode on
// equal Results always produce identical bytes, which is what invariant 3
// in spec.md §8 ("response idempotence") actually checks.
func (r Result) Encode() ([]byte, error) {
	var buf []byte
	enc := codec.NewEncoderBytes(&buf, msgpackHandle)
	if err := enc.Encode(resultWire(r)); err != nil {
		return nil, err
	}
	return buf, nil
}

// DecodeResult deserializes bytes produced by Result.Encode.
func DecodeResult(b []byte) (Result, error) {
	var w resultWire
	dec := codec.NewDecoderBytes(b, msgpackHandle)
	if err := dec.Decode(&w); err != nil {
		return Result{}, err
	}
	return Result(w), nil
}

// IsError reports whether the result carries a captured user-state-machine
// error rather than a successful output.
func (r Result) IsError() bool {
	return r.Err != ""
}

// EventBatch is the set of publications produced by a single command
// scope, stamped so that across all batches delivered to one client,
// PreviousIndex[n] == EventIndex[n-1] and EventIndex[n] > EventIndex[n-1].
type EventBatch struct {
	SessionID     SessionID
	PreviousIndex Index
	EventIndex    Index
	Events        [][]byte
}

// Encode/Decode mirror Result's: msgpack, used by the default gRPC event
// transport's wire envelope.
func (b EventBatch) Encode() ([]byte, error) {
	var buf []byte
	enc := codec.NewEncoderBytes(&buf, msgpackHandle)
	if err := enc.Encode(b); err != nil {
		return nil, err
	}
	return buf, nil
}

func DecodeEventBatch(raw []byte) (EventBatch, error) {
	var b EventBatch
	dec := codec.NewDecoderBytes(raw, msgpackHandle)
	if err := dec.Decode(&b); err != nil {
		return EventBatch{}, err
	}
	return b, nil
}
