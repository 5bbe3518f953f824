// Package archive copies raw alert packets to object storage off the
// ingestion critical path. Nothing here ever returns an error to the caller
// of Archive: failures are logged and dropped.
package archive

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/sethvargo/go-retry"

	"transient-alerts/internal/logging"
)

// Archiver accepts raw packets for best-effort upload.
type Archiver interface {
	Archive(raw []byte, fileName string, jd float64)
	Close(ctx context.Context) error
}

// Error describes an upload that exhausted its retries.
type Error struct {
	Key string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("archive %s: %v", e.Key, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Options tune the async archiver.
type Options struct {
	Workers    int
	QueueSize  int
	MaxRetries int
	RetryBase  time.Duration
	Timeout    time.Duration
}

// Stats counts archiver outcomes.
type Stats struct {
	Uploaded int64
	Failed   int64
	Dropped  int64
}

type job struct {
	key  string
	body []byte
}

// AsyncArchiver uploads from a bounded queue with a fixed worker pool.
type AsyncArchiver struct {
	uploader Uploader
	opts     Options
	logger   zerolog.Logger

	queue  chan job
	wg     sync.WaitGroup
	cancel context.CancelFunc

	mu     sync.RWMutex
	closed bool

	uploaded atomic.Int64
	failed   atomic.Int64
	dropped  atomic.Int64
}

// New starts an archiver. Workers keep running until Close; cancelling ctx
// does not abort uploads already queued.
func New(ctx context.Context, uploader Uploader, opts Options, logger zerolog.Logger) *AsyncArchiver {
	if opts.Workers <= 0 {
		opts.Workers = 2
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 256
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.RetryBase <= 0 {
		opts.RetryBase = 200 * time.Millisecond
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}

	base, cancel := context.WithCancel(context.WithoutCancel(ctx))
	a := &AsyncArchiver{
		uploader: uploader,
		opts:     opts,
		logger:   logging.Component(logger, "archiver"),
		queue:    make(chan job, opts.QueueSize),
		cancel:   cancel,
	}

	for i := 0; i < opts.Workers; i++ {
		a.wg.Add(1)
		go a.work(base)
	}
	return a
}

// Archive enqueues raw for upload under the observation-date partition. It
// never blocks: a full queue drops the packet.
func (a *AsyncArchiver) Archive(raw []byte, fileName string, jd float64) {
	key := Key(fileName, jd)

	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		a.dropped.Add(1)
		a.logger.Warn().Str("key", key).Msg("archiver closed; packet not archived")
		return
	}

	select {
	case a.queue <- job{key: key, body: raw}:
	default:
		a.dropped.Add(1)
		a.logger.Warn().Str("key", key).Int("queue_size", a.opts.QueueSize).Msg("archive queue full; packet not archived")
	}
}

// Close stops accepting packets and waits for queued uploads. When ctx ends
// first, in-flight uploads are cancelled and ctx.Err is returned.
func (a *AsyncArchiver) Close(ctx context.Context) error {
	a.mu.Lock()
	if !a.closed {
		a.closed = true
		close(a.queue)
	}
	a.mu.Unlock()

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		a.cancel()
		a.logStats()
		return nil
	case <-ctx.Done():
		a.cancel()
		<-done
		a.logStats()
		return ctx.Err()
	}
}

// Stats returns a snapshot of outcome counters.
func (a *AsyncArchiver) Stats() Stats {
	return Stats{
		Uploaded: a.uploaded.Load(),
		Failed:   a.failed.Load(),
		Dropped:  a.dropped.Load(),
	}
}

func (a *AsyncArchiver) work(ctx context.Context) {
	defer a.wg.Done()
	for j := range a.queue {
		if err := a.upload(ctx, j); err != nil {
			a.failed.Add(1)
			a.logger.Error().Err(err).Str("key", j.key).Msg("archive upload failed")
			continue
		}
		a.uploaded.Add(1)
		a.logger.Debug().Str("key", j.key).Int("bytes", len(j.body)).Msg("packet archived")
	}
}

func (a *AsyncArchiver) upload(ctx context.Context, j job) error {
	backoff := retry.WithMaxRetries(uint64(a.opts.MaxRetries), retry.NewExponential(a.opts.RetryBase))

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attemptCtx, cancel := context.WithTimeout(ctx, a.opts.Timeout)
		defer cancel()
		if err := a.uploader.Upload(attemptCtx, j.key, j.body); err != nil {
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		return &Error{Key: j.key, Err: err}
	}
	return nil
}

func (a *AsyncArchiver) logStats() {
	s := a.Stats()
	a.logger.Info().
		Int64("uploaded", s.Uploaded).
		Int64("failed", s.Failed).
		Int64("dropped", s.Dropped).
		Msg("archiver stopped")
}

// Nop discards every packet. It stands in when archival is disabled.
type Nop struct{}

// Archive does nothing.
func (Nop) Archive([]byte, string, float64) {}

// Close does nothing.
func (Nop) Close(context.Context) error { return nil }

var (
	_ Archiver = (*AsyncArchiver)(nil)
	_ Archiver = Nop{}
)
