// Package consumer drives packets from a bus subscription through the
// ingestion pipeline and decides, per message, whether its offset may be
// committed.
package consumer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"transient-alerts/internal/bus"
	"transient-alerts/internal/logging"
	"transient-alerts/internal/packet"
	"transient-alerts/internal/service"
)

// ErrRunning is returned by Start when the loop is already active.
var ErrRunning = errors.New("consumer: already running")

// Processor ingests one raw packet.
type Processor interface {
	Process(ctx context.Context, raw []byte) ([]service.Result, error)
}

// Options tune the consumer loop.
type Options struct {
	// MessageTimeout bounds the processing of one message, including the
	// drain of the in-flight message on Stop.
	MessageTimeout time.Duration
	BackoffInitial time.Duration
	BackoffMax     time.Duration
}

// Stats counts consumer outcomes since construction.
type Stats struct {
	Messages            int64
	Stored              int64
	Duplicates          int64
	DecodeFailures      int64
	PersistenceFailures int64
}

// Consumer is a single sequential loop over one bus subscription.
type Consumer struct {
	source bus.Source
	proc   Processor
	opts   Options
	logger zerolog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}

	messages            atomic.Int64
	stored              atomic.Int64
	duplicates          atomic.Int64
	decodeFailures      atomic.Int64
	persistenceFailures atomic.Int64
}

// New constructs a consumer.
func New(source bus.Source, proc Processor, opts Options, logger zerolog.Logger) *Consumer {
	if opts.MessageTimeout <= 0 {
		opts.MessageTimeout = 30 * time.Second
	}
	if opts.BackoffInitial <= 0 {
		opts.BackoffInitial = time.Second
	}
	if opts.BackoffMax < opts.BackoffInitial {
		opts.BackoffMax = 30 * opts.BackoffInitial
	}
	return &Consumer{
		source: source,
		proc:   proc,
		opts:   opts,
		logger: logging.Component(logger, "consumer"),
	}
}

// Start polls and processes messages until ctx ends or Stop is called. It
// returns nil on a clean shutdown.
func (c *Consumer) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.cancel != nil {
		c.mu.Unlock()
		return ErrRunning
	}
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	c.cancel, c.done = cancel, done
	c.mu.Unlock()

	defer func() {
		cancel()
		c.logStats()
		c.mu.Lock()
		c.cancel, c.done = nil, nil
		c.mu.Unlock()
		close(done)
	}()

	c.logger.Info().Msg("consumer started")

	backoff := c.opts.BackoffInitial
	for {
		if ctx.Err() != nil {
			return nil
		}

		msgs, err := c.source.Poll(ctx)
		if err != nil {
			if errors.Is(err, bus.ErrClosed) || ctx.Err() != nil {
				return nil
			}
			c.logger.Error().Err(err).Dur("backoff", backoff).Msg("poll failed")
			if !sleep(ctx, backoff) {
				return nil
			}
			backoff = c.nextBackoff(backoff)
			continue
		}

		if c.handleBatch(ctx, msgs) {
			c.logger.Warn().Dur("backoff", backoff).Msg("message withheld; waiting before redelivery")
			if !sleep(ctx, backoff) {
				return nil
			}
			backoff = c.nextBackoff(backoff)
			continue
		}
		backoff = c.opts.BackoffInitial
	}
}

// Stop ends polling and waits for the in-flight message to finish. When ctx
// ends first Stop returns ctx.Err without waiting further.
func (c *Consumer) Stop(ctx context.Context) error {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.mu.Unlock()
	if cancel == nil {
		return nil
	}

	cancel()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats returns a snapshot of the outcome counters.
func (c *Consumer) Stats() Stats {
	return Stats{
		Messages:            c.messages.Load(),
		Stored:              c.stored.Load(),
		Duplicates:          c.duplicates.Load(),
		DecodeFailures:      c.decodeFailures.Load(),
		PersistenceFailures: c.persistenceFailures.Load(),
	}
}

// handleBatch processes msgs in order and reports whether one was withheld.
// The withheld message and everything after it are rewound for redelivery.
func (c *Consumer) handleBatch(ctx context.Context, msgs []bus.Message) bool {
	for i, msg := range msgs {
		if ctx.Err() != nil {
			c.rewind(msgs[i:])
			return false
		}
		if err := c.handle(ctx, msg); err != nil {
			c.rewind(msgs[i:])
			return true
		}
	}
	return false
}

func (c *Consumer) handle(ctx context.Context, msg bus.Message) error {
	// The in-flight message outlives Stop, bounded by MessageTimeout.
	mctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.opts.MessageTimeout)
	defer cancel()

	c.messages.Add(1)
	logger := c.logger.With().
		Str("topic", msg.Topic).
		Int32("partition", msg.Partition).
		Int64("offset", msg.Offset).
		Str("id", msg.ID).
		Logger()

	results, err := c.proc.Process(mctx, msg.Value)
	switch {
	case err == nil:
		c.count(results)
		for _, r := range results {
			logger.Info().Int64("candid", r.Candid).Str("object_id", r.ObjectID).Stringer("outcome", r.Outcome).Msg("alert ingested")
		}
	case packet.IsDecodeError(err):
		c.decodeFailures.Add(1)
		logger.Warn().Err(err).Int("bytes", len(msg.Value)).Msg("dropping malformed packet")
	default:
		c.count(results)
		c.persistenceFailures.Add(1)
		logger.Error().Err(err).Msg("persist failed; offset withheld")
		return err
	}

	if err := c.source.Commit(mctx, msg); err != nil {
		logger.Error().Err(err).Msg("commit failed")
		return fmt.Errorf("commit %s: %w", msg, err)
	}
	return nil
}

func (c *Consumer) count(results []service.Result) {
	for _, r := range results {
		switch r.Outcome {
		case service.Stored:
			c.stored.Add(1)
		case service.Duplicate:
			c.duplicates.Add(1)
		}
	}
}

func (c *Consumer) rewind(msgs []bus.Message) {
	if len(msgs) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), c.opts.MessageTimeout)
	defer cancel()
	if err := c.source.Rewind(ctx, msgs...); err != nil {
		c.logger.Error().Err(err).Stringer("from", msgs[0]).Msg("rewind failed")
	}
}

func (c *Consumer) nextBackoff(d time.Duration) time.Duration {
	d *= 2
	if d > c.opts.BackoffMax {
		d = c.opts.BackoffMax
	}
	return d
}

func (c *Consumer) logStats() {
	s := c.Stats()
	c.logger.Info().
		Int64("messages", s.Messages).
		Int64("stored", s.Stored).
		Int64("duplicates", s.Duplicates).
		Int64("decode_failures", s.DecodeFailures).
		Int64("persistence_failures", s.PersistenceFailures).
		Msg("consumer stopped")
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
