package broker

import (
	"context"
	"errors"
	"time"
)

// ErrReceiveTimeout reports that a poll slice elapsed with nothing to
// deliver. Listeners treat it as a normal idle tick.
var ErrReceiveTimeout = errors.New("broker: receive timed out")

// Transport is the external durable pub/sub fabric that carries events
// between processes.
type Transport interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (TransportSub, error)
	Close() error
}

// TransportSub is one live transport-side subscription. Receive blocks for
// at most timeout and returns ErrReceiveTimeout when no message arrived.
type TransportSub interface {
	Receive(ctx context.Context, timeout time.Duration) ([]byte, error)
	Close() error
}
