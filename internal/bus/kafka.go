package bus

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/twmb/franz-go/pkg/kgo"

	"transient-alerts/internal/config"
	"transient-alerts/internal/logging"
)

// KafkaClient is the subset of *kgo.Client used by KafkaSource.
type KafkaClient interface {
	PollRecords(ctx context.Context, maxPollRecords int) kgo.Fetches
	CommitRecords(ctx context.Context, rs ...*kgo.Record) error
	SetOffsets(setOffsets map[string]map[int32]kgo.EpochOffset)
	Close()
}

// KafkaSource subscribes to every topic matching the configured pattern
// within one consumer group. Offsets are committed only through Commit.
type KafkaSource struct {
	client    KafkaClient
	batchSize int
	logger    zerolog.Logger
}

// NewKafkaSource connects to the brokers in cfg.Addresses.
func NewKafkaSource(cfg config.BusConfig, logger zerolog.Logger) (*KafkaSource, error) {
	opts := []kgo.Opt{
		kgo.SeedBrokers(cfg.Addresses...),
		kgo.ConsumerGroup(cfg.ConsumerGroup),
		kgo.ConsumeRegex(),
		kgo.ConsumeTopics(cfg.TopicPattern),
		kgo.DisableAutoCommit(),
	}
	if cfg.StartAtOldest {
		opts = append(opts, kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()))
	}
	if cfg.PollTimeout > 0 {
		opts = append(opts, kgo.FetchMaxWait(cfg.PollTimeout))
	}

	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}
	return NewKafkaSourceWithClient(client, cfg.BatchSize, logger), nil
}

// NewKafkaSourceWithClient wraps an existing client.
func NewKafkaSourceWithClient(client KafkaClient, batchSize int, logger zerolog.Logger) *KafkaSource {
	if batchSize <= 0 {
		batchSize = 100
	}
	return &KafkaSource{
		client:    client,
		batchSize: batchSize,
		logger:    logging.Component(logger, "bus.kafka"),
	}
}

// Poll blocks until records arrive or ctx ends. Per-partition fetch errors
// are logged; the client retries them internally.
func (k *KafkaSource) Poll(ctx context.Context) ([]Message, error) {
	fetches := k.client.PollRecords(ctx, k.batchSize)
	if fetches.IsClientClosed() {
		return nil, ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	fetches.EachError(func(topic string, partition int32, err error) {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return
		}
		k.logger.Warn().Err(err).Str("topic", topic).Int32("partition", partition).Msg("fetch error")
	})

	out := make([]Message, 0, fetches.NumRecords())
	fetches.EachRecord(func(r *kgo.Record) {
		out = append(out, fromRecord(r))
	})
	return out, nil
}

// Commit stores the offsets following msgs for the group.
func (k *KafkaSource) Commit(ctx context.Context, msgs ...Message) error {
	records := make([]*kgo.Record, 0, len(msgs))
	for _, m := range msgs {
		r, ok := m.ref.(*kgo.Record)
		if !ok {
			return fmt.Errorf("commit %s: message not read from kafka", m)
		}
		records = append(records, r)
	}
	if len(records) == 0 {
		return nil
	}
	if err := k.client.CommitRecords(ctx, records...); err != nil {
		return fmt.Errorf("commit offsets: %w", err)
	}
	return nil
}

// Rewind moves each affected partition back to the earliest offset in msgs.
func (k *KafkaSource) Rewind(_ context.Context, msgs ...Message) error {
	offsets := rewindOffsets(msgs)
	if len(offsets) == 0 {
		return nil
	}
	k.client.SetOffsets(offsets)
	return nil
}

// Close leaves the group and closes broker connections.
func (k *KafkaSource) Close() error {
	k.client.Close()
	return nil
}

func fromRecord(r *kgo.Record) Message {
	return Message{
		Topic:     r.Topic,
		Partition: r.Partition,
		Offset:    r.Offset,
		Key:       r.Key,
		Value:     r.Value,
		Timestamp: r.Timestamp,
		ref:       r,
	}
}

func rewindOffsets(msgs []Message) map[string]map[int32]kgo.EpochOffset {
	out := make(map[string]map[int32]kgo.EpochOffset)
	for _, m := range msgs {
		parts, ok := out[m.Topic]
		if !ok {
			parts = make(map[int32]kgo.EpochOffset)
			out[m.Topic] = parts
		}
		if cur, ok := parts[m.Partition]; ok && cur.Offset <= m.Offset {
			continue
		}
		epoch := int32(-1)
		if r, ok := m.ref.(*kgo.Record); ok {
			epoch = r.LeaderEpoch
		}
		parts[m.Partition] = kgo.EpochOffset{Epoch: epoch, Offset: m.Offset}
	}
	return out
}

var _ Source = (*KafkaSource)(nil)
