package redisstream

import (
	"context"
	"strings"

	"github.com/ThreeDotsLabs/watermill/message"
	rstream "github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// Subscriber is a Redis Streams subscriber that owns its redis client.
type Subscriber struct {
	message.Subscriber
	client *redis.Client
	group  string
}

// NewSubscriber connects to Redis and returns a subscriber bound to the
// configured consumer group, or a fan-out subscriber when no group is set.
func NewSubscriber(ctx context.Context, s Settings) (*Subscriber, error) {
	client := redis.NewClient(&redis.Options{Addr: s.Addr})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.Wrapf(err, "connect to redis at %s", s.Addr)
	}

	sub, err := rstream.NewSubscriber(rstream.SubscriberConfig{
		Client:        client,
		Unmarshaller:  rstream.DefaultMarshallerUnmarshaller{},
		ConsumerGroup: s.Group,
		Consumer:      s.Consumer,
	}, NewWatermillLogger(log.Logger))
	if err != nil {
		_ = client.Close()
		return nil, errors.Wrap(err, "create redis stream subscriber")
	}
	return &Subscriber{Subscriber: sub, client: client, group: s.Group}, nil
}

// Subscribe creates the consumer group at the stream tail before subscribing,
// so a new group does not replay the whole stream.
func (s *Subscriber) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	if s.group != "" {
		if err := EnsureGroupAtTail(ctx, s.client, topic, s.group); err != nil {
			return nil, err
		}
	}
	return s.Subscriber.Subscribe(ctx, topic)
}

func (s *Subscriber) Close() error {
	err := s.Subscriber.Close()
	if cerr := s.client.Close(); err == nil {
		err = cerr
	}
	return err
}

// EnsureGroupAtTail creates group on stream starting at "$". An existing group is left as is.
func EnsureGroupAtTail(ctx context.Context, client redis.UniversalClient, stream, group string) error {
	err := client.XGroupCreateMkStream(ctx, stream, group, "$").Err()
	if err != nil {
		// BUSYGROUP: group already exists
		if strings.Contains(err.Error(), "BUSYGROUP") {
			return nil
		}
		return errors.Wrapf(err, "create consumer group %s on %s", group, stream)
	}
	log.Info().Str("stream", stream).Str("group", group).Msg("created redis consumer group at $ (tail)")
	return nil
}
