package client

import "time"

// RetryPolicy governs how the subscriber's reconnect loop paces itself
// between attempts to re-establish the event stream, mirroring the
// teacher's client.RetryPolicy shape.
type RetryPolicy interface {
	GetTimeout(retrynum uint) time.Duration
	ShouldRetry(retrynum uint, err error) bool
}

// DefaultRetryPolicy backs off exponentially starting at one second and
// retries indefinitely; the subscriber only ever stops on context
// cancellation.
type DefaultRetryPolicy struct {
	// MaxBackoff caps GetTimeout's growth. Zero means 30 seconds.
	MaxBackoff time.Duration
}

func (p DefaultRetryPolicy) GetTimeout(retrynum uint) time.Duration {
	max := p.MaxBackoff
	if max == 0 {
		max = 30 * time.Second
	}
	d := (1 << retrynum) * time.Second
	if d > max || d <= 0 {
		return max
	}
	return d
}

func (DefaultRetryPolicy) ShouldRetry(retrynum uint, err error) bool {
	return err != nil
}
