package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// RedisConfig holds connection and stream settings for the Redis bus.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int

	// Stream is the Redis Stream key events are appended to.
	Stream string

	// Buffer is the per-group delivery channel size.
	Buffer int

	// Block is how long a read waits for new entries before re-checking
	// for shutdown.
	Block time.Duration
}

// Redis is a Bus backed by a Redis Stream with one consumer group per
// subscriber group. Stream entries are strictly ordered; unacked entries
// stay in a group's pending list and are re-read on the next Subscribe, which
// is what makes delivery at-least-once.
type Redis struct {
	client *redis.Client
	stream string
	buffer int
	block  time.Duration
	log    zerolog.Logger

	mu     sync.Mutex
	wg     sync.WaitGroup
	closed bool
}

// NewRedis connects to Redis and verifies the connection.
func NewRedis(ctx context.Context, cfg RedisConfig, log zerolog.Logger) (*Redis, error) {
	if cfg.Stream == "" {
		cfg.Stream = "position-changes"
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = defaultMemoryBuffer
	}
	if cfg.Block <= 0 {
		cfg.Block = 5 * time.Second
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &Redis{
		client: client,
		stream: cfg.Stream,
		buffer: cfg.Buffer,
		block:  cfg.Block,
		log:    log,
	}, nil
}

// Publish appends the event to the stream as a JSON payload.
func (r *Redis) Publish(ctx context.Context, ev PositionChanged) error {
	if ev.EventID == "" {
		ev.EventID = uuid.New().String()
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	err = r.client.XAdd(ctx, &redis.XAddArgs{
		Stream: r.stream,
		Values: map[string]interface{}{"payload": payload},
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to append event to stream: %w", err)
	}
	return nil
}

// Subscribe creates (or rejoins) the consumer group and starts a reader
// goroutine feeding the returned channel. Entries left pending by a previous
// instance of the group are delivered first.
func (r *Redis) Subscribe(ctx context.Context, group string) (<-chan Delivery, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrBusClosed
	}
	r.wg.Add(1)
	r.mu.Unlock()

	err := r.client.XGroupCreateMkStream(ctx, r.stream, group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		r.wg.Done()
		return nil, fmt.Errorf("failed to create consumer group %q: %w", group, err)
	}

	ch := make(chan Delivery, r.buffer)
	consumer := group + "-" + uuid.New().String()[:8]
	go r.consume(ctx, group, consumer, ch)
	return ch, nil
}

// consume reads the group's pending entries ("0") first, then tails new
// entries (">").
func (r *Redis) consume(ctx context.Context, group, consumer string, ch chan<- Delivery) {
	defer r.wg.Done()
	defer close(ch)

	cursor := "0"
	for {
		if ctx.Err() != nil {
			return
		}

		streams, err := r.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    group,
			Consumer: consumer,
			Streams:  []string{r.stream, cursor},
			Count:    64,
			Block:    r.block,
		}).Result()
		if err == redis.Nil {
			// Pending backlog drained; switch to tailing new entries.
			cursor = ">"
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			r.log.Error().Err(err).Str("group", group).Msg("Stream read failed")
			time.Sleep(time.Second)
			continue
		}

		delivered := 0
		for _, stream := range streams {
			for _, msg := range stream.Messages {
				delivered++
				if cursor != ">" {
					cursor = msg.ID
				}
				d, err := r.delivery(group, msg)
				if err != nil {
					// Malformed entry: surface it and ack so the group
					// is not wedged replaying it forever.
					r.log.Error().Err(err).Str("group", group).Str("id", msg.ID).Msg("Discarding malformed stream entry")
					_ = r.client.XAck(ctx, r.stream, group, msg.ID).Err()
					continue
				}
				select {
				case ch <- d:
				case <-ctx.Done():
					return
				}
			}
		}
		// An empty pending read means the backlog is drained; switch to
		// tailing new entries.
		if cursor != ">" && delivered == 0 {
			cursor = ">"
		}
	}
}

func (r *Redis) delivery(group string, msg redis.XMessage) (Delivery, error) {
	payload, ok := msg.Values["payload"].(string)
	if !ok {
		return Delivery{}, fmt.Errorf("stream entry %s has no payload", msg.ID)
	}
	var ev PositionChanged
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		return Delivery{}, fmt.Errorf("failed to unmarshal stream entry %s: %w", msg.ID, err)
	}
	id := msg.ID
	return Delivery{
		Event: ev,
		Ack: func(ctx context.Context) error {
			return r.client.XAck(ctx, r.stream, group, id).Err()
		},
	}, nil
}

// Close waits for readers to stop and closes the client. Callers must cancel
// the contexts passed to Subscribe first.
func (r *Redis) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.mu.Unlock()

	r.wg.Wait()
	return r.client.Close()
}
