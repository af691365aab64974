package jobs

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/diffpilot/diffpilot/internal/core"
)

type countingJob struct {
	mu   sync.Mutex
	seen []string
}

func (j *countingJob) Run(_ context.Context, event *core.PrefetchEvent) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.seen = append(j.seen, event.ReviewID)
	return nil
}

func TestDispatcherProcessesAllEvents(t *testing.T) {
	defer goleak.VerifyNone(t)

	job := &countingJob{}
	d := NewDispatcher(job, 3, slog.New(slog.DiscardHandler))

	for i := 0; i < 10; i++ {
		err := d.Dispatch(context.Background(), &core.PrefetchEvent{ReviewID: string(rune('a' + i))})
		require.NoError(t, err)
	}
	d.Stop()

	job.mu.Lock()
	defer job.mu.Unlock()
	assert.Len(t, job.seen, 10)
}

func TestDispatcherStopWaitsForWorkers(t *testing.T) {
	defer goleak.VerifyNone(t)

	var running atomic.Int32
	job := jobFunc(func(context.Context, *core.PrefetchEvent) error {
		running.Add(1)
		time.Sleep(20 * time.Millisecond)
		running.Add(-1)
		return nil
	})

	d := NewDispatcher(job, 2, slog.New(slog.DiscardHandler))
	for range 4 {
		require.NoError(t, d.Dispatch(context.Background(), &core.PrefetchEvent{ReviewID: "x"}))
	}
	d.Stop()
	assert.Zero(t, running.Load(), "Stop returns only after in-flight jobs finish")
}

type jobFunc func(ctx context.Context, event *core.PrefetchEvent) error

func (f jobFunc) Run(ctx context.Context, event *core.PrefetchEvent) error { return f(ctx, event) }

func TestDispatcherDefaultsToOneWorker(t *testing.T) {
	defer goleak.VerifyNone(t)

	job := &countingJob{}
	d := NewDispatcher(job, 0, slog.New(slog.DiscardHandler))
	require.NoError(t, d.Dispatch(context.Background(), &core.PrefetchEvent{ReviewID: "only"}))
	d.Stop()

	assert.Equal(t, []string{"only"}, job.seen)
}
