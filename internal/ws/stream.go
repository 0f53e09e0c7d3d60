package ws

import (
	"bytes"
	"context"
	"time"

	"github.com/jonboulle/clockwork"
)

// Subscriber receives pushed frames.
type Subscriber interface {
	Send(payload []byte) error
}

// Heartbeater is implemented by subscribers that can signal liveness
// without a data frame.
type Heartbeater interface {
	Heartbeat() error
}

// Producer yields the next frame. done reports that the frame is the last one.
type Producer func(ctx context.Context) (payload []byte, done bool, err error)

// Stream pushes frames from next to the subscriber every interval, starting
// immediately, until next reports done or fails, a send fails, or ctx ends.
// A frame identical to the previous one is replaced by a heartbeat when the
// subscriber supports it.
func Stream(ctx context.Context, sub Subscriber, clock clockwork.Clock, interval time.Duration, next Producer) error {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	var last []byte
	for {
		payload, done, err := next(ctx)
		if err != nil {
			return err
		}
		if err := push(sub, last, payload, done); err != nil {
			return err
		}
		last = payload
		if done {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-clock.After(interval):
		}
	}
}

func push(sub Subscriber, last, payload []byte, done bool) error {
	if !done && last != nil && bytes.Equal(last, payload) {
		if hb, ok := sub.(Heartbeater); ok {
			return hb.Heartbeat()
		}
		return nil
	}
	return sub.Send(payload)
}
