package bus

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"transient-alerts/internal/config"
	"transient-alerts/internal/logging"
)

const (
	// payloadField holds the packet bytes inside a stream entry.
	payloadField = "data"
	keyField     = "key"

	streamRefreshInterval = 30 * time.Second
)

// RedisSource reads packets from Redis Streams whose key matches the topic
// pattern, using one consumer group across all of them.
type RedisSource struct {
	client   *redis.Client
	group    string
	consumer string
	pattern  *regexp.Regexp
	start    string
	count    int64
	block    time.Duration
	logger   zerolog.Logger

	mu         sync.Mutex
	streams    []string
	known      map[string]bool
	recovering map[string]bool
	scannedAt  time.Time
}

// NewRedisSource connects to the first address in cfg.Addresses.
func NewRedisSource(ctx context.Context, cfg config.BusConfig, pattern *regexp.Regexp, logger zerolog.Logger) (*RedisSource, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addresses[0],
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return NewRedisSourceWithClient(client, cfg, pattern, logger), nil
}

// NewRedisSourceWithClient wraps an existing client. Close closes it.
func NewRedisSourceWithClient(client *redis.Client, cfg config.BusConfig, pattern *regexp.Regexp, logger zerolog.Logger) *RedisSource {
	consumer := cfg.ConsumerName
	if consumer == "" {
		consumer = "alertingest-" + uuid.NewString()
	}
	start := "$"
	if cfg.StartAtOldest {
		start = "0"
	}
	count := int64(cfg.BatchSize)
	if count <= 0 {
		count = 100
	}
	block := cfg.PollTimeout
	if block <= 0 {
		block = 5 * time.Second
	}

	return &RedisSource{
		client:     client,
		group:      cfg.ConsumerGroup,
		consumer:   consumer,
		pattern:    pattern,
		start:      start,
		count:      count,
		block:      block,
		logger:     logging.Component(logger, "bus.redis").With().Str("consumer", consumer).Logger(),
		known:      make(map[string]bool),
		recovering: make(map[string]bool),
	}
}

// Poll reads new entries, or this consumer's pending entries for streams
// that were rewound.
func (r *RedisSource) Poll(ctx context.Context) ([]Message, error) {
	streams, err := r.refreshStreams(ctx)
	if err != nil {
		return nil, err
	}
	if len(streams) == 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(r.block):
			return nil, nil
		}
	}

	r.mu.Lock()
	args := readArgs(streams, r.recovering)
	r.mu.Unlock()

	res, err := r.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    r.group,
		Consumer: r.consumer,
		Streams:  args,
		Count:    r.count,
		Block:    r.block,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			r.clearRecovering(streams, nil)
			return nil, nil
		}
		if errors.Is(err, redis.ErrClosed) {
			return nil, ErrClosed
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("xreadgroup: %w", err)
	}

	out := make([]Message, 0)
	seen := make(map[string]bool, len(res))
	for _, stream := range res {
		if len(stream.Messages) > 0 {
			seen[stream.Stream] = true
		}
		for _, entry := range stream.Messages {
			msg, ok := fromEntry(stream.Stream, entry)
			if !ok {
				// Pending entries deleted from the stream come back without fields.
				r.client.XAck(ctx, stream.Stream, r.group, entry.ID)
				continue
			}
			out = append(out, msg)
		}
	}
	r.clearRecovering(streams, seen)
	return out, nil
}

// Commit acknowledges entries so they leave the pending list.
func (r *RedisSource) Commit(ctx context.Context, msgs ...Message) error {
	for stream, ids := range groupIDs(msgs) {
		if err := r.client.XAck(ctx, stream, r.group, ids...).Err(); err != nil {
			return fmt.Errorf("xack %s: %w", stream, err)
		}
	}
	return nil
}

// Rewind switches the affected streams to pending-list reads; unacknowledged
// entries come back on the next Poll.
func (r *RedisSource) Rewind(_ context.Context, msgs ...Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.recovering[m.Topic] = true
	}
	return nil
}

// Close releases the connection pool.
func (r *RedisSource) Close() error {
	return r.client.Close()
}

func (r *RedisSource) refreshStreams(ctx context.Context) ([]string, error) {
	r.mu.Lock()
	fresh := time.Since(r.scannedAt) < streamRefreshInterval
	streams := r.streams
	r.mu.Unlock()
	if fresh {
		return streams, nil
	}

	var keys []string
	var cursor uint64
	for {
		batch, next, err := r.client.ScanType(ctx, cursor, "*", 100, "stream").Result()
		if err != nil {
			return nil, fmt.Errorf("scan streams: %w", err)
		}
		keys = append(keys, batch...)
		cursor = next
		if cursor == 0 {
			break
		}
	}

	matched := matchStreams(keys, r.pattern)
	for _, stream := range matched {
		if r.known[stream] {
			continue
		}
		if err := r.ensureGroup(ctx, stream); err != nil {
			return nil, err
		}
		r.known[stream] = true
		// Entries delivered to this consumer before a restart are still pending.
		r.mu.Lock()
		r.recovering[stream] = true
		r.mu.Unlock()
		r.logger.Info().Str("stream", stream).Msg("subscribed to stream")
	}

	r.mu.Lock()
	r.streams = matched
	r.scannedAt = time.Now()
	r.mu.Unlock()
	return matched, nil
}

func (r *RedisSource) ensureGroup(ctx context.Context, stream string) error {
	err := r.client.XGroupCreateMkStream(ctx, stream, r.group, r.start).Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("create consumer group for %s: %w", stream, err)
	}
	return nil
}

func (r *RedisSource) clearRecovering(streams []string, seen map[string]bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range streams {
		if r.recovering[s] && !seen[s] {
			delete(r.recovering, s)
		}
	}
}

func matchStreams(keys []string, pattern *regexp.Regexp) []string {
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if pattern.MatchString(k) {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}

// readArgs lays out XREADGROUP STREAMS arguments: keys first, then ids.
func readArgs(streams []string, recovering map[string]bool) []string {
	args := make([]string, 0, 2*len(streams))
	args = append(args, streams...)
	for _, s := range streams {
		if recovering[s] {
			args = append(args, "0")
		} else {
			args = append(args, ">")
		}
	}
	return args
}

func fromEntry(stream string, entry redis.XMessage) (Message, bool) {
	raw, ok := entry.Values[payloadField]
	if !ok {
		return Message{}, false
	}
	msg := Message{Topic: stream, ID: entry.ID, Timestamp: entryTime(entry.ID)}
	switch v := raw.(type) {
	case string:
		msg.Value = []byte(v)
	case []byte:
		msg.Value = v
	default:
		return Message{}, false
	}
	if key, ok := entry.Values[keyField].(string); ok {
		msg.Key = []byte(key)
	}
	return msg, true
}

// entryTime extracts the millisecond timestamp prefix of a stream id.
func entryTime(id string) time.Time {
	ms, _, ok := strings.Cut(id, "-")
	if !ok {
		return time.Time{}
	}
	var v int64
	if _, err := fmt.Sscanf(ms, "%d", &v); err != nil {
		return time.Time{}
	}
	return time.UnixMilli(v).UTC()
}

func groupIDs(msgs []Message) map[string][]string {
	out := make(map[string][]string)
	for _, m := range msgs {
		if m.ID == "" {
			continue
		}
		out[m.Topic] = append(out[m.Topic], m.ID)
	}
	return out
}

var _ Source = (*RedisSource)(nil)
