package transport

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shrtyk/raft-fsm/internal/retry"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Dial opens a connection to the first address in addrs that accepts one,
// tried in order. Event-publication clients are handed a small set of
// candidate server addresses rather than performing leader discovery —
// that routing concern belongs to the consensus layer, out of scope here
// (spec.md §1) — so failing over sequentially through a static list is as
// much resilience as this package owns. Each address gets a few quick,
// bounded attempts of its own (a transient resolver hiccup shouldn't fail
// an address over to the next one in the list) before moving on; the
// unbounded reconnect loop for a stream that's already up lives one layer
// higher, in client.Subscriber.
func Dial(ctx context.Context, addrs []string) (*grpc.ClientConn, error) {
	if len(addrs) == 0 {
		return nil, errors.New("transport: no addresses to dial")
	}

	var joined error
	for _, addr := range addrs {
		var conn *grpc.ClientConn
		err := retry.Do(ctx, func(ctx context.Context) error {
			c, dialErr := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
			if dialErr != nil {
				return dialErr
			}
			conn = c
			return nil
		}, retry.WithMaxAttempts(3), retry.WithBaseDelay(50*time.Millisecond))
		if err != nil {
			joined = errors.Join(joined, fmt.Errorf("dial %s: %w", addr, err))
			continue
		}
		return conn, nil
	}
	return nil, joined
}
