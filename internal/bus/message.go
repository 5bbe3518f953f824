// Package bus adapts the inbound alert streams to a single pull interface so
// the consumer loop does not care which broker delivers packets.
package bus

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/rs/zerolog"

	"transient-alerts/internal/config"
)

// ErrClosed is returned by Poll once the source has been closed.
var ErrClosed = errors.New("bus: source closed")

// Message is one packet as delivered by the bus.
type Message struct {
	Topic     string
	Partition int32
	Offset    int64
	// ID is the broker-native message id (Redis stream entry id).
	ID        string
	Key       []byte
	Value     []byte
	Timestamp time.Time

	ref any
}

// String identifies the message position in logs.
func (m Message) String() string {
	if m.ID != "" {
		return fmt.Sprintf("%s/%s", m.Topic, m.ID)
	}
	return fmt.Sprintf("%s/%d@%d", m.Topic, m.Partition, m.Offset)
}

// Source is a pull-based consumer-group subscription.
//
// Commit acknowledges messages so the group never sees them again. Rewind
// moves the read position back so the given messages, and anything after
// them on the same partition, are delivered again by a later Poll.
type Source interface {
	Poll(ctx context.Context) ([]Message, error)
	Commit(ctx context.Context, msgs ...Message) error
	Rewind(ctx context.Context, msgs ...Message) error
	Close() error
}

// Open builds the Source selected by cfg.Driver.
func Open(ctx context.Context, cfg config.BusConfig, logger zerolog.Logger) (Source, error) {
	pattern, err := regexp.Compile(cfg.TopicPattern)
	if err != nil {
		return nil, fmt.Errorf("compile topic pattern: %w", err)
	}

	switch cfg.Driver {
	case "kafka":
		return NewKafkaSource(cfg, logger)
	case "redis":
		return NewRedisSource(ctx, cfg, pattern, logger)
	default:
		return nil, fmt.Errorf("unknown bus driver %q", cfg.Driver)
	}
}
