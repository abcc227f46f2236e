package publish

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"gas-price-alerts/internal/config"
	"gas-price-alerts/internal/storage"
)

// Envelope is the JSON message sent on the channel for every committed record.
type Envelope struct {
	ID          string         `json:"id"`
	PublishedAt time.Time      `json:"published_at"`
	Record      storage.Record `json:"record"`
}

// Encode wraps rec in an envelope.
func Encode(rec storage.Record, at time.Time) ([]byte, error) {
	payload, err := json.Marshal(Envelope{
		ID:          uuid.NewString(),
		PublishedAt: at.UTC(),
		Record:      rec,
	})
	if err != nil {
		return nil, fmt.Errorf("encode record: %w", err)
	}
	return payload, nil
}

// Decode parses a channel message.
func Decode(payload []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return Envelope{}, fmt.Errorf("decode record: %w", err)
	}
	return env, nil
}

func newClient(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redis addr is required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", cfg.Addr, err)
	}
	return client, nil
}

// Publisher pushes records to a Redis channel.
type Publisher struct {
	client  *redis.Client
	channel string
	logger  zerolog.Logger
	now     func() time.Time
}

// NewPublisher connects to Redis and verifies the connection.
func NewPublisher(ctx context.Context, cfg config.RedisConfig, logger zerolog.Logger) (*Publisher, error) {
	client, err := newClient(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &Publisher{
		client:  client,
		channel: cfg.Channel,
		logger:  logger.With().Str("component", "publisher").Str("channel", cfg.Channel).Logger(),
		now:     time.Now,
	}, nil
}

// Publish sends one record.
func (p *Publisher) Publish(ctx context.Context, rec storage.Record) error {
	payload, err := Encode(rec, p.now())
	if err != nil {
		return err
	}
	receivers, err := p.client.Publish(ctx, p.channel, payload).Result()
	if err != nil {
		return fmt.Errorf("publish to %s: %w", p.channel, err)
	}
	p.logger.Debug().Int64("receivers", receivers).Int("last_gas", rec.Readings.LastGas).Msg("record published")
	return nil
}

// Run publishes every record read from records until the channel closes or ctx ends.
// Publish failures are logged and the loop continues.
func (p *Publisher) Run(ctx context.Context, records <-chan storage.Record) {
	for {
		select {
		case <-ctx.Done():
			return
		case rec, ok := <-records:
			if !ok {
				return
			}
			if err := p.Publish(ctx, rec); err != nil {
				p.logger.Warn().Err(err).Msg("failed to publish record")
			}
		}
	}
}

// Close releases the Redis connection.
func (p *Publisher) Close() error {
	return p.client.Close()
}

// Subscriber reads records from the channel.
type Subscriber struct {
	client *redis.Client
	pubsub *redis.PubSub
	logger zerolog.Logger
}

// NewSubscriber subscribes to cfg.Channel and waits for the confirmation.
func NewSubscriber(ctx context.Context, cfg config.RedisConfig, logger zerolog.Logger) (*Subscriber, error) {
	client, err := newClient(ctx, cfg)
	if err != nil {
		return nil, err
	}
	pubsub := client.Subscribe(ctx, cfg.Channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		_ = client.Close()
		return nil, fmt.Errorf("subscribe %s: %w", cfg.Channel, err)
	}

	logger = logger.With().Str("component", "subscriber").Str("channel", cfg.Channel).Logger()
	logger.Info().Msg("subscribed to record channel")
	return &Subscriber{client: client, pubsub: pubsub, logger: logger}, nil
}

// Next blocks until a record arrives. Undecodable messages are logged and skipped.
func (s *Subscriber) Next(ctx context.Context) (Envelope, error) {
	for {
		msg, err := s.pubsub.ReceiveMessage(ctx)
		if err != nil {
			return Envelope{}, err
		}
		env, err := Decode([]byte(msg.Payload))
		if err != nil {
			s.logger.Warn().Err(err).Msg("skip malformed message")
			continue
		}
		return env, nil
	}
}

// Close ends the subscription.
func (s *Subscriber) Close() error {
	return errors.Join(s.pubsub.Close(), s.client.Close())
}
