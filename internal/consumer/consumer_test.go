package consumer

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"transient-alerts/internal/archive"
	"transient-alerts/internal/bus"
	"transient-alerts/internal/config"
	"transient-alerts/internal/packet"
	"transient-alerts/internal/packet/packettest"
	"transient-alerts/internal/service"
	"transient-alerts/internal/storage"
)

type fakeSource struct {
	mu        sync.Mutex
	pending   []bus.Message
	committed []bus.Message
	rewound   [][]bus.Message
}

func (f *fakeSource) Poll(ctx context.Context) ([]bus.Message, error) {
	f.mu.Lock()
	if len(f.pending) > 0 {
		batch := f.pending
		f.pending = nil
		f.mu.Unlock()
		return batch, nil
	}
	f.mu.Unlock()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(time.Millisecond):
		return nil, nil
	}
}

func (f *fakeSource) Commit(_ context.Context, msgs ...bus.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.committed = append(f.committed, msgs...)
	return nil
}

func (f *fakeSource) Rewind(_ context.Context, msgs ...bus.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	again := append([]bus.Message(nil), msgs...)
	f.rewound = append(f.rewound, again)
	f.pending = append(again, f.pending...)
	return nil
}

func (f *fakeSource) Close() error { return nil }

func (f *fakeSource) committedValues() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.committed))
	for _, m := range f.committed {
		out = append(out, string(m.Value))
	}
	return out
}

type processorFunc func(ctx context.Context, raw []byte) ([]service.Result, error)

func (p processorFunc) Process(ctx context.Context, raw []byte) ([]service.Result, error) {
	return p(ctx, raw)
}

func messages(values ...string) []bus.Message {
	out := make([]bus.Message, 0, len(values))
	for i, v := range values {
		out = append(out, bus.Message{Topic: "ztf_20240101_programid1", Offset: int64(i), Value: []byte(v)})
	}
	return out
}

func fastOptions() Options {
	return Options{MessageTimeout: time.Second, BackoffInitial: time.Millisecond, BackoffMax: 4 * time.Millisecond}
}

func start(t *testing.T, c *Consumer) {
	t.Helper()
	errCh := make(chan error, 1)
	go func() { errCh <- c.Start(context.Background()) }()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		require.NoError(t, c.Stop(ctx))
		require.NoError(t, <-errCh)
	})
}

func stored(candid int64) []service.Result {
	return []service.Result{{Candid: candid, Outcome: service.Stored}}
}

func TestDecodeFailureIsCommitted(t *testing.T) {
	src := &fakeSource{pending: messages("bad", "ok")}
	proc := processorFunc(func(_ context.Context, raw []byte) ([]service.Result, error) {
		if string(raw) == "bad" {
			return nil, &packet.DecodeError{Reason: "not an avro container"}
		}
		return stored(1), nil
	})
	c := New(src, proc, fastOptions(), zerolog.Nop())
	start(t, c)

	require.Eventually(t, func() bool { return len(src.committedValues()) == 2 }, time.Second, time.Millisecond)
	assert.Equal(t, []string{"bad", "ok"}, src.committedValues())
	assert.Empty(t, src.rewound)
	assert.Equal(t, int64(1), c.Stats().DecodeFailures)
	assert.Equal(t, int64(1), c.Stats().Stored)
}

func TestPersistenceErrorWithholdsCommitAndRedelivers(t *testing.T) {
	src := &fakeSource{pending: messages("a", "b", "c")}
	var failures atomic.Int64
	proc := processorFunc(func(_ context.Context, raw []byte) ([]service.Result, error) {
		if string(raw) == "b" && failures.Add(1) == 1 {
			return nil, &storage.PersistenceError{Op: "insert alert", Candid: 2, Err: errors.New("connection reset")}
		}
		return stored(1), nil
	})
	c := New(src, proc, fastOptions(), zerolog.Nop())
	start(t, c)

	require.Eventually(t, func() bool { return len(src.committedValues()) == 3 }, time.Second, time.Millisecond)
	assert.Equal(t, []string{"a", "b", "c"}, src.committedValues())

	src.mu.Lock()
	require.Len(t, src.rewound, 1)
	assert.Len(t, src.rewound[0], 2)
	assert.Equal(t, "b", string(src.rewound[0][0].Value))
	src.mu.Unlock()

	assert.Equal(t, int64(1), c.Stats().PersistenceFailures)
}

func TestDuplicateIsCommitted(t *testing.T) {
	src := &fakeSource{pending: messages("dup")}
	proc := processorFunc(func(context.Context, []byte) ([]service.Result, error) {
		return []service.Result{{Candid: 1001, Outcome: service.Duplicate}}, nil
	})
	c := New(src, proc, fastOptions(), zerolog.Nop())
	start(t, c)

	require.Eventually(t, func() bool { return len(src.committedValues()) == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, int64(1), c.Stats().Duplicates)
}

type unavailableBucket struct{}

func (unavailableBucket) Upload(context.Context, string, []byte) error {
	return errors.New("bucket unavailable")
}

func TestArchiveFailureStillCommits(t *testing.T) {
	store := storage.NewMemoryStore()
	arch := archive.New(context.Background(), unavailableBucket{}, archive.Options{Workers: 1, RetryBase: time.Millisecond}, zerolog.Nop())
	cfg := &config.Config{Calibration: config.CalibrationConfig{HistoryRadiusArcsec: 1.5}}
	svc := service.New(cfg, store, arch, zerolog.Nop())

	raw := packettest.Encode(t, packettest.Alert("TEST01", 1001))
	src := &fakeSource{pending: []bus.Message{{Topic: "ztf_20240101_programid1", Offset: 9, Value: raw}}}
	c := New(src, svc, fastOptions(), zerolog.Nop())
	start(t, c)

	require.Eventually(t, func() bool { return len(src.committedValues()) == 1 }, time.Second, time.Millisecond)
	require.NoError(t, arch.Close(context.Background()))

	assert.Equal(t, 1, store.Len())
	assert.Equal(t, int64(1), arch.Stats().Failed)
}

func TestStopDrainsInFlightMessage(t *testing.T) {
	src := &fakeSource{pending: messages("slow", "next")}
	entered := make(chan struct{})
	release := make(chan struct{})
	proc := processorFunc(func(ctx context.Context, raw []byte) ([]service.Result, error) {
		if string(raw) == "slow" {
			close(entered)
			select {
			case <-release:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		return stored(1), nil
	})
	c := New(src, proc, fastOptions(), zerolog.Nop())

	errCh := make(chan error, 1)
	go func() { errCh <- c.Start(context.Background()) }()
	<-entered

	stopped := make(chan error, 1)
	go func() { stopped <- c.Stop(context.Background()) }()

	time.Sleep(10 * time.Millisecond)
	close(release)

	require.NoError(t, <-stopped)
	require.NoError(t, <-errCh)

	assert.Equal(t, []string{"slow"}, src.committedValues())
	src.mu.Lock()
	defer src.mu.Unlock()
	require.Len(t, src.rewound, 1)
	assert.Equal(t, "next", string(src.rewound[0][0].Value))
}

func TestStartTwice(t *testing.T) {
	src := &fakeSource{}
	c := New(src, processorFunc(func(context.Context, []byte) ([]service.Result, error) { return nil, nil }), fastOptions(), zerolog.Nop())
	start(t, c)

	require.Eventually(t, func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		return c.cancel != nil
	}, time.Second, time.Millisecond)
	assert.ErrorIs(t, c.Start(context.Background()), ErrRunning)
}

func TestNextBackoffCaps(t *testing.T) {
	c := New(&fakeSource{}, nil, Options{BackoffInitial: time.Second, BackoffMax: 30 * time.Second}, zerolog.Nop())
	d := time.Second
	for i := 0; i < 10; i++ {
		d = c.nextBackoff(d)
	}
	assert.Equal(t, 30*time.Second, d)
}
