package engine

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/shrtyk/raft-fsm/api"
)

// fakeLog is an in-memory api.Log the dispatcher tests append entries to
// directly, bypassing any consensus machinery.
type fakeLog struct {
	mu      sync.Mutex
	entries []*api.Entry
	open    bool
}

func newFakeLog() *fakeLog {
	return &fakeLog{open: true, entries: []*api.Entry{nil}} // index 0 unused
}

func (l *fakeLog) Append(e *api.Entry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e.Index = int64(len(l.entries))
	l.entries = append(l.entries, e)
}

// AppendCorrupt appends e at the next log position but stamps it with a
// wrong Index, simulating a corrupted record for ErrInconsistentIndex
// tests.
func (l *fakeLog) AppendCorrupt(e *api.Entry, wrongIndex api.Index) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e.Index = wrongIndex
	l.entries = append(l.entries, e)
}

func (l *fakeLog) CreateReader(from api.Index, mode api.ReadMode) (api.LogReader, error) {
	return &fakeReader{log: l, next: from}, nil
}

func (l *fakeLog) Compactor() api.Compactor { return &fakeCompactor{} }
func (l *fakeLog) IsOpen() bool             { return l.open }

type fakeReader struct {
	log  *fakeLog
	next api.Index
}

func (r *fakeReader) NextIndex() api.Index { return r.next }

func (r *fakeReader) Read(ctx context.Context) (*api.Entry, error) {
	for {
		r.log.mu.Lock()
		if int(r.next) < len(r.log.entries) {
			e := r.log.entries[r.next]
			r.next++
			r.log.mu.Unlock()
			return e, nil
		}
		r.log.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Millisecond):
		}
	}
}

func (r *fakeReader) Close() error { return nil }

type fakeCompactor struct {
	mu            sync.Mutex
	snapshotIndex api.Index
	minorIndex    api.Index
	compacted     int
}

func (c *fakeCompactor) CompactIndex() api.Index { return 0 }
func (c *fakeCompactor) SnapshotIndex() api.Index {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotIndex
}
func (c *fakeCompactor) SetSnapshotIndex(i api.Index) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.snapshotIndex = i
}
func (c *fakeCompactor) SetMinorIndex(i api.Index) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.minorIndex = i
}
func (c *fakeCompactor) Compact() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.compacted++
}

// fakeSM is a trivial echo state machine: Apply appends cmd to a running
// log and publishes it as an event; Read returns the accumulated bytes.
type fakeSM struct {
	mu      sync.Mutex
	applied [][]byte
	failNil bool
}

func (m *fakeSM) Apply(ctx api.Context, index api.Index, cmd []byte) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.applied = append(m.applied, cmd)
	ctx.Publish(cmd)
	return cmd, nil
}

func (m *fakeSM) Read(ctx api.Context, index api.Index, query []byte) ([]byte, error) {
	ctx.Publish(query) // should be discarded by the engine
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.applied) == 0 {
		return nil, nil
	}
	return m.applied[len(m.applied)-1], nil
}

func (m *fakeSM) Snapshottable() bool         { return false }
func (m *fakeSM) Snapshot(w io.Writer) error  { return nil }
func (m *fakeSM) Install(r io.Reader) error   { return nil }

// fakeStore is a no-op api.SnapshotStore; the dispatcher tests don't
// exercise the snapshot coordinator's Take/Install paths directly.
type fakeStore struct{}

func (fakeStore) Current() (api.Snapshot, error)        { return nil, nil }
func (fakeStore) Create(index api.Index) (api.Snapshot, error) { return nil, nil }

// recordingPublisher captures every published batch for assertions.
type recordingPublisher struct {
	mu      sync.Mutex
	batches []api.EventBatch
}

func (p *recordingPublisher) Publish(sessionID api.SessionID, batch api.EventBatch) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.batches = append(p.batches, batch)
}

func (p *recordingPublisher) all() []api.EventBatch {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]api.EventBatch, len(p.batches))
	copy(out, p.batches)
	return out
}
