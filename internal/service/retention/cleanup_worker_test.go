package retention

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/checkout/internal/storage/memory"
)

// scriptedSweeper возвращает заранее заданные результаты по очереди, потом 0.
type scriptedSweeper struct {
	results []int
	err     error
	calls   atomic.Int32
}

func (s *scriptedSweeper) DeleteExpired(context.Context, time.Time, int) (int, error) {
	i := int(s.calls.Add(1)) - 1
	if s.err != nil {
		return 0, s.err
	}
	if i < len(s.results) {
		return s.results[i], nil
	}
	return 0, nil
}

func TestCleanupWorker_SweepsInFullBatches(t *testing.T) {
	t.Parallel()

	sweeper := &scriptedSweeper{results: []int{2, 2, 1}}
	worker := NewCleanupWorker(WithTarget("batches", sweeper), WithBatchSize(2))

	deleted, err := worker.DeleteExpired(context.Background(), time.Time{})
	require.NoError(t, err)
	require.Equal(t, 5, deleted)
	require.EqualValues(t, 3, sweeper.calls.Load(), "a short batch ends the sweep")

	var metric dto.Metric
	require.NoError(t, sweptRecords.WithLabelValues("batches").Write(&metric))
	require.Equal(t, float64(5), metric.GetCounter().GetValue())
}

func TestCleanupWorker_FailingTargetDoesNotBlockOthers(t *testing.T) {
	t.Parallel()

	broken := &scriptedSweeper{err: errors.New("connection reset")}
	healthy := &scriptedSweeper{results: []int{3}}
	worker := NewCleanupWorker(
		WithTarget("broken-store", broken),
		WithTarget("healthy-store", healthy),
		WithBatchSize(10),
	)

	deleted, err := worker.DeleteExpired(context.Background(), time.Now().UTC())
	require.ErrorContains(t, err, "broken-store: connection reset")
	require.Equal(t, 3, deleted)
	require.EqualValues(t, 1, healthy.calls.Load())
}

func TestCleanupWorker_SweepsMemoryStores(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	keys := memory.NewIdempotencyRepository()
	_, err := keys.CreateProcessing(ctx, "expired", "h1", time.Now().Add(-time.Minute))
	require.NoError(t, err)
	_, err = keys.CreateProcessing(ctx, "alive", "h2", time.Now().Add(time.Hour))
	require.NoError(t, err)

	guard := memory.NewDeliveryGuard(time.Millisecond)
	require.NoError(t, guard.MarkProcessed(ctx, "fake:payment:1"))

	worker := NewCleanupWorker(
		WithTarget("idempotency", keys),
		WithTarget("webhook-guard", guard),
		WithTarget("missing", nil),
	)
	require.Equal(t, []string{"idempotency", "webhook-guard"}, worker.Targets())

	deleted, err := worker.DeleteExpired(ctx, time.Now().Add(time.Second))
	require.NoError(t, err)
	require.Equal(t, 2, deleted)

	_, err = keys.Get(ctx, "alive")
	require.NoError(t, err)
}

func TestCleanupWorker_RunLoop(t *testing.T) {
	t.Parallel()

	t.Run("repeats until cancelled", func(t *testing.T) {
		sweeper := &scriptedSweeper{}
		worker := NewCleanupWorker(WithTarget("loop", sweeper), WithInterval(5*time.Millisecond))

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan struct{})
		go func() {
			defer close(done)
			worker.Run(ctx)
		}()

		require.Eventually(t, func() bool { return sweeper.calls.Load() >= 2 }, time.Second, 5*time.Millisecond)
		cancel()
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("worker did not stop on context cancel")
		}
	})

	t.Run("no targets", func(t *testing.T) {
		done := make(chan struct{})
		go func() {
			defer close(done)
			NewCleanupWorker().Run(context.Background())
		}()
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("worker without targets must return immediately")
		}
	})
}

func TestNewCleanupWorker_Defaults(t *testing.T) {
	t.Parallel()

	w := NewCleanupWorker(WithInterval(-time.Second), WithBatchSize(0))
	require.Equal(t, defaultCleanupInterval, w.interval)
	require.Equal(t, defaultCleanupBatchSize, w.batchSize)
	require.NotNil(t, w.logger)
}
