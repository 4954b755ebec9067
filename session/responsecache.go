package session

import "github.com/shrtyk/raft-fsm/api"

// ResponseCache holds one cached api.Result per command sequence number,
// so a retried command is answered from cache rather than reapplied
// (spec.md §4.4 "response idempotence", SPEC_FULL §12 item 2: entries are
// replayed verbatim whenever q <= session.commandSequence).
type ResponseCache struct {
	entries map[api.Sequence]api.Result
}

func NewResponseCache() *ResponseCache {
	return &ResponseCache{entries: make(map[api.Sequence]api.Result)}
}

func (c *ResponseCache) Put(sequence api.Sequence, result api.Result) {
	c.entries[sequence] = result
}

func (c *ResponseCache) Get(sequence api.Sequence) (api.Result, bool) {
	r, ok := c.entries[sequence]
	return r, ok
}

// EvictBelow discards every cached result with sequence < clearedSequence.
// A client's KEEP_ALIVE carries the sequence below which it has observed
// every response, so the server is free to forget them.
func (c *ResponseCache) EvictBelow(clearedSequence api.Sequence) {
	for seq := range c.entries {
		if seq < clearedSequence {
			delete(c.entries, seq)
		}
	}
}

func (c *ResponseCache) Len() int { return len(c.entries) }
