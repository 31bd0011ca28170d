package events

import (
	"context"
	"strings"

	rstream "github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// RedisSettings holds Redis Streams transport configuration.
type RedisSettings struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Group    string `yaml:"group"`
	Consumer string `yaml:"consumer"`
}

// DefaultRedisSettings returns the disabled default configuration.
func DefaultRedisSettings() RedisSettings {
	return RedisSettings{
		Addr:     "localhost:6379",
		Group:    "agora-observers",
		Consumer: "observer-1",
	}
}

// NewBusFromSettings builds a Redis Streams bus when enabled, otherwise the
// in-process gochannel bus.
func NewBusFromSettings(ctx context.Context, s RedisSettings) (*Bus, error) {
	if !s.Enabled {
		return NewInMemoryBus(), nil
	}
	return NewRedisBus(ctx, s)
}

// NewRedisBus builds a bus on watermill's Redis Streams transport.
func NewRedisBus(ctx context.Context, s RedisSettings) (*Bus, error) {
	if strings.TrimSpace(s.Addr) == "" {
		return nil, errors.New("events: redis addr is empty")
	}
	client := redis.NewClient(&redis.Options{Addr: s.Addr})
	marshaler := rstream.DefaultMarshallerUnmarshaller{}
	logger := NewWatermillLogger(log.Logger)

	pub, err := rstream.NewPublisher(rstream.PublisherConfig{
		Client:     client,
		Marshaller: marshaler,
	}, logger)
	if err != nil {
		return nil, errors.Wrap(err, "events: redis publisher")
	}

	sub, err := rstream.NewSubscriber(rstream.SubscriberConfig{
		Client:        client,
		Unmarshaller:  marshaler,
		ConsumerGroup: s.Group,
		Consumer:      s.Consumer,
	}, logger)
	if err != nil {
		_ = pub.Close()
		return nil, errors.Wrap(err, "events: redis subscriber")
	}

	log.Info().
		Str("component", "events").
		Str("addr", s.Addr).
		Str("group", s.Group).
		Msg("using redis streams event transport")
	return &Bus{pub: pub, sub: sub}, nil
}

// EnsureGroupAtTail creates the consumer group for a session's stream at the
// tail if it does not exist yet, preventing a full historical replay on the
// first subscribe.
func EnsureGroupAtTail(ctx context.Context, addr, sessionID, group string) error {
	client := redis.NewClient(&redis.Options{Addr: addr})
	defer func() { _ = client.Close() }()
	err := client.XGroupCreateMkStream(ctx, Topic(sessionID), group, "$").Err()
	if err != nil {
		if strings.Contains(err.Error(), "BUSYGROUP") {
			return nil
		}
		return errors.Wrap(err, "events: create consumer group")
	}
	log.Info().
		Str("component", "events").
		Str("stream", Topic(sessionID)).
		Str("group", group).
		Msg("created redis consumer group at tail")
	return nil
}
