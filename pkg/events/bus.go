package events

import (
	"context"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// subscriptionBuffer bounds the local delivery channel handed to each
// subscriber. When a subscriber lags, the oldest buffered event is dropped;
// event production never blocks on subscriber code.
const subscriptionBuffer = 64

// Bus publishes discussion events and hands observers per-session
// subscription channels. The transport is watermill: an in-process
// gochannel pub/sub by default, Redis Streams when configured.
type Bus struct {
	pub message.Publisher
	sub message.Subscriber
}

// NewInMemoryBus builds a bus on watermill's gochannel transport.
func NewInMemoryBus() *Bus {
	ps := gochannel.NewGoChannel(
		gochannel.Config{OutputChannelBuffer: subscriptionBuffer},
		NewWatermillLogger(log.Logger),
	)
	return &Bus{pub: ps, sub: ps}
}

// NewBus wraps an existing publisher/subscriber pair.
func NewBus(pub message.Publisher, sub message.Subscriber) (*Bus, error) {
	if pub == nil || sub == nil {
		return nil, errors.New("events: publisher and subscriber are required")
	}
	return &Bus{pub: pub, sub: sub}, nil
}

// Publish emits one event onto the session's topic.
func (b *Bus) Publish(_ context.Context, e Event) error {
	if b == nil || b.pub == nil {
		return errors.New("events: bus is not initialized")
	}
	payload, err := e.Marshal()
	if err != nil {
		return errors.Wrap(err, "events: marshal")
	}
	msg := message.NewMessage(watermill.NewUUID(), payload)
	return errors.Wrap(b.pub.Publish(Topic(e.SessionID), msg), "events: publish")
}

// Subscribe returns a channel of events for one session. The channel closes
// when ctx is cancelled or the bus shuts down. Delivery is drop-oldest: a
// slow consumer loses old events instead of stalling the producer.
func (b *Bus) Subscribe(ctx context.Context, sessionID string) (<-chan Event, error) {
	if b == nil || b.sub == nil {
		return nil, errors.New("events: bus is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	msgs, err := b.sub.Subscribe(ctx, Topic(sessionID))
	if err != nil {
		return nil, errors.Wrap(err, "events: subscribe")
	}
	out := make(chan Event, subscriptionBuffer)
	go func() {
		defer close(out)
		for msg := range msgs {
			e, err := Unmarshal(msg.Payload)
			if err != nil {
				log.Warn().
					Str("component", "events").
					Str("session_id", sessionID).
					Err(err).
					Msg("dropping undecodable event")
				msg.Ack()
				continue
			}
			for {
				select {
				case out <- e:
				default:
					// Full buffer: evict the oldest and retry.
					select {
					case <-out:
					default:
					}
					continue
				}
				break
			}
			msg.Ack()
		}
	}()
	return out, nil
}

// Close shuts the transport down.
func (b *Bus) Close() error {
	if b == nil {
		return nil
	}
	var firstErr error
	if b.pub != nil {
		if err := b.pub.Close(); err != nil {
			firstErr = err
		}
	}
	if b.sub != nil && any(b.sub) != any(b.pub) {
		if err := b.sub.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
