// Package retention вычищает записи с истёкшим TTL: ключи идемпотентности и пометки доставки вебхуков.
package retention

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"
)

const (
	defaultCleanupInterval  = 10 * time.Minute
	defaultCleanupBatchSize = 500
)

var (
	sweepRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "checkout_retention_sweep_runs_total",
		Help: "Retention sweeps by target and result.",
	}, []string{"target", "result"})
	sweptRecords = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "checkout_retention_swept_records_total",
		Help: "Expired records removed by target.",
	}, []string{"target"})
	lastSwept = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "checkout_retention_last_swept_records",
		Help: "Expired records removed by the last sweep of a target.",
	}, []string{"target"})
)

// Sweeper удаляет не больше limit записей с TTL <= before и возвращает число удалённых.
type Sweeper interface {
	DeleteExpired(ctx context.Context, before time.Time, limit int) (int, error)
}

type target struct {
	name    string
	sweeper Sweeper
}

// CleanupOption настраивает CleanupWorker.
type CleanupOption func(*CleanupWorker)

// WithLogger задаёт logger.
func WithLogger(logger *log.Entry) CleanupOption {
	return func(w *CleanupWorker) { w.logger = logger }
}

// WithInterval задаёт паузу между проходами.
func WithInterval(interval time.Duration) CleanupOption {
	return func(w *CleanupWorker) { w.interval = interval }
}

// WithBatchSize задаёт limit одного вызова DeleteExpired.
func WithBatchSize(size int) CleanupOption {
	return func(w *CleanupWorker) { w.batchSize = size }
}

// WithTarget подключает хранилище под именем name; nil игнорируется.
func WithTarget(name string, sweeper Sweeper) CleanupOption {
	return func(w *CleanupWorker) {
		if sweeper != nil {
			w.targets = append(w.targets, target{name: name, sweeper: sweeper})
		}
	}
}

// CleanupWorker периодически обходит все подключённые хранилища.
type CleanupWorker struct {
	targets   []target
	logger    *log.Entry
	interval  time.Duration
	batchSize int
}

// NewCleanupWorker создаёт воркер; невалидные значения заменяются значениями по умолчанию.
func NewCleanupWorker(opts ...CleanupOption) *CleanupWorker {
	w := &CleanupWorker{interval: defaultCleanupInterval, batchSize: defaultCleanupBatchSize}
	for _, opt := range opts {
		opt(w)
	}
	if w.logger == nil {
		w.logger = log.WithField("component", "retention-worker")
	}
	if w.interval <= 0 {
		w.interval = defaultCleanupInterval
	}
	if w.batchSize <= 0 {
		w.batchSize = defaultCleanupBatchSize
	}
	return w
}

// Targets возвращает имена подключённых хранилищ в порядке подключения.
func (w *CleanupWorker) Targets() []string {
	names := make([]string, len(w.targets))
	for i, t := range w.targets {
		names[i] = t.name
	}
	return names
}

// Run делает проход сразу и затем каждые interval, до отмены ctx.
func (w *CleanupWorker) Run(ctx context.Context) {
	if len(w.targets) == 0 {
		w.logger.Warn("retention worker has no targets, not starting")
		return
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		w.pass(ctx, time.Now().UTC())
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (w *CleanupWorker) pass(ctx context.Context, before time.Time) {
	for _, t := range w.targets {
		n, err := w.sweep(ctx, t, before)
		switch {
		case ctx.Err() != nil:
			return
		case err != nil:
			sweepRuns.WithLabelValues(t.name, "error").Inc()
			w.logger.WithError(err).WithField("target", t.name).Warn("retention sweep failed")
			continue
		}

		sweepRuns.WithLabelValues(t.name, "ok").Inc()
		lastSwept.WithLabelValues(t.name).Set(float64(n))
		if n > 0 {
			w.logger.WithFields(log.Fields{"target": t.name, "deleted": n}).Info("expired records removed")
		}
	}
}

// DeleteExpired синхронно очищает все хранилища. Ошибка одного хранилища не прерывает остальные.
func (w *CleanupWorker) DeleteExpired(ctx context.Context, before time.Time) (int, error) {
	if before.IsZero() {
		before = time.Now().UTC()
	}

	var (
		total int
		errs  []error
	)
	for _, t := range w.targets {
		n, err := w.sweep(ctx, t, before)
		total += n
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", t.name, err))
		}
	}
	return total, errors.Join(errs...)
}

// sweep вызывает DeleteExpired пачками, пока пачка заполняется целиком.
func (w *CleanupWorker) sweep(ctx context.Context, t target, before time.Time) (int, error) {
	var total int
	for ctx.Err() == nil {
		n, err := t.sweeper.DeleteExpired(ctx, before, w.batchSize)
		if err != nil {
			return total, err
		}
		total += n
		sweptRecords.WithLabelValues(t.name).Add(float64(n))
		if n < w.batchSize {
			return total, nil
		}
	}
	return total, ctx.Err()
}
