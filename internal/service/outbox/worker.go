// Package outbox публикует события заказов из transactional outbox в брокер.
package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

const (
	defaultPollInterval   = time.Second
	defaultBatchSize      = 100
	defaultMaxAttempts    = 3
	defaultRetryBaseDelay = 50 * time.Millisecond
	defaultMaxRetryDelay  = 5 * time.Second
)

var (
	publishResults = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "checkout_outbox_publish_total",
		Help: "Outbox publish outcomes by event type.",
	}, []string{"event_type", "result"})
	pendingRecords = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "checkout_outbox_pending_records",
		Help: "Current number of pending records in transactional outbox.",
	})
	oldestPendingAge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "checkout_outbox_oldest_pending_age_seconds",
		Help: "Age in seconds of the oldest pending outbox record.",
	})
)

// Результаты публикации для метрик.
const (
	resultSent         = "sent"
	resultRetry        = "retry"
	resultDeadLettered = "dead_lettered"
	resultDLQFailed    = "dlq_failed"
	resultHeld         = "held"
)

// Option настраивает Worker.
type Option func(*Worker)

// WithLogger задаёт logger для воркера.
func WithLogger(logger *log.Entry) Option {
	return func(w *Worker) { w.logger = logger }
}

// WithDLQPublisher задаёт publisher для событий, исчерпавших попытки.
func WithDLQPublisher(publisher domain.OutboxPublisher) Option {
	return func(w *Worker) { w.dlq = publisher }
}

// WithPollInterval задаёт частоту опроса outbox.
func WithPollInterval(interval time.Duration) Option {
	return func(w *Worker) { w.pollInterval = interval }
}

// WithBatchSize задаёт размер батча.
func WithBatchSize(size int) Option {
	return func(w *Worker) { w.batchSize = size }
}

// WithMaxAttempts задаёт число попыток публикации до DLQ.
func WithMaxAttempts(attempts int) Option {
	return func(w *Worker) { w.maxAttempts = attempts }
}

// WithRetryBaseDelay задаёт первую задержку экспоненциального backoff; 0 отключает ожидание.
func WithRetryBaseDelay(delay time.Duration) Option {
	return func(w *Worker) { w.baseDelay = delay }
}

// WithMaxRetryDelay ограничивает задержку между попытками.
func WithMaxRetryDelay(delay time.Duration) Option {
	return func(w *Worker) { w.maxDelay = delay }
}

// Worker публикует pending-события outbox. События одного заказа уходят в порядке записи:
// если событие заказа ушло в DLQ, его более поздние события в этом батче откладываются до следующего опроса.
type Worker struct {
	repo         domain.OutboxRepository
	publisher    domain.OutboxPublisher
	dlq          domain.OutboxPublisher
	logger       *log.Entry
	pollInterval time.Duration
	batchSize    int
	maxAttempts  int
	baseDelay    time.Duration
	maxDelay     time.Duration
}

// BatchResult: итог одного опроса.
type BatchResult struct {
	Sent         int
	DeadLettered int
	Held         int
}

// NewWorker создаёт outbox worker.
func NewWorker(repo domain.OutboxRepository, publisher domain.OutboxPublisher, opts ...Option) *Worker {
	w := &Worker{
		repo:         repo,
		publisher:    publisher,
		pollInterval: defaultPollInterval,
		batchSize:    defaultBatchSize,
		maxAttempts:  defaultMaxAttempts,
		baseDelay:    defaultRetryBaseDelay,
		maxDelay:     defaultMaxRetryDelay,
	}
	for _, opt := range opts {
		opt(w)
	}

	if w.logger == nil {
		w.logger = log.WithField("component", "outbox-worker")
	}
	if w.pollInterval <= 0 {
		w.pollInterval = defaultPollInterval
	}
	if w.batchSize <= 0 {
		w.batchSize = defaultBatchSize
	}
	if w.maxAttempts <= 0 {
		w.maxAttempts = defaultMaxAttempts
	}
	w.baseDelay = max(w.baseDelay, 0)
	if w.maxDelay <= 0 {
		w.maxDelay = defaultMaxRetryDelay
	}
	return w
}

// Run опрашивает outbox до отмены ctx.
func (w *Worker) Run(ctx context.Context) {
	if w.repo == nil || w.publisher == nil {
		w.logger.Warn("outbox worker is disabled: repo or publisher is nil")
		return
	}

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		w.ProcessBatch(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// ProcessOnce выполняет один опрос и возвращает число отправленных событий.
func (w *Worker) ProcessOnce(ctx context.Context) int {
	return w.ProcessBatch(ctx).Sent
}

// ProcessBatch выполняет один опрос outbox.
func (w *Worker) ProcessBatch(ctx context.Context) BatchResult {
	var result BatchResult
	if ctx.Err() != nil {
		return result
	}
	defer w.refreshBacklog(ctx)

	events, err := w.repo.PullPending(ctx, w.batchSize)
	if err != nil {
		w.logger.WithError(err).Warn("failed to pull pending outbox messages")
		return result
	}

	blocked := make(map[string]bool)
	for _, event := range events {
		if ctx.Err() != nil {
			break
		}
		logger := w.logger.WithFields(log.Fields{
			"outbox_id":  event.ID,
			"event_type": event.EventType,
			"order_id":   event.AggregateID,
		})

		if blocked[event.AggregateID] {
			result.Held++
			publishResults.WithLabelValues(event.EventType, resultHeld).Inc()
			logger.Debug("outbox event held behind a dead-lettered event of the same order")
			continue
		}

		if err := w.publishWithRetry(ctx, event); err != nil {
			if ctx.Err() != nil {
				break
			}
			blocked[event.AggregateID] = true
			result.DeadLettered++
			w.deadLetter(ctx, event, err, logger)
			continue
		}

		result.Sent++
		if err := w.repo.MarkSent(ctx, event.ID); err != nil {
			logger.WithError(err).Warn("failed to mark outbox as sent")
		}
	}

	if result.DeadLettered > 0 || result.Held > 0 {
		w.logger.WithFields(log.Fields{
			"sent":          result.Sent,
			"dead_lettered": result.DeadLettered,
			"held":          result.Held,
		}).Warn("outbox batch finished with failures")
	}
	return result
}

func (w *Worker) publishWithRetry(ctx context.Context, event domain.OutboxMessage) error {
	var lastErr error
	for attempt := 1; attempt <= w.maxAttempts; attempt++ {
		if lastErr = w.publisher.Publish(event); lastErr == nil {
			publishResults.WithLabelValues(event.EventType, resultSent).Inc()
			return nil
		}
		publishResults.WithLabelValues(event.EventType, resultRetry).Inc()

		if attempt == w.maxAttempts {
			break
		}
		if delay := w.backoff(attempt); delay > 0 {
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}
	}
	return fmt.Errorf("publish failed after %d attempts: %w", w.maxAttempts, lastErr)
}

// backoff удваивает базовую задержку на каждую попытку, не выходя за maxDelay.
func (w *Worker) backoff(attempt int) time.Duration {
	if w.baseDelay <= 0 {
		return 0
	}
	delay := w.baseDelay
	for i := 1; i < attempt && delay < w.maxDelay; i++ {
		delay *= 2
	}
	return min(delay, w.maxDelay)
}

// deadLetterRecord совпадает по JSON с kafka.DeadLetter, который читает dlq-replay.
type deadLetterRecord struct {
	OutboxID       string          `json:"outbox_id"`
	AggregateType  string          `json:"aggregate_type"`
	AggregateID    string          `json:"aggregate_id"`
	EventType      string          `json:"event_type"`
	Payload        json.RawMessage `json:"payload"`
	PublishError   string          `json:"publish_error"`
	DLQPublishedAt string          `json:"dlq_published_at"`
}

func (w *Worker) deadLetter(ctx context.Context, event domain.OutboxMessage, publishErr error, logger *log.Entry) {
	logger.WithError(publishErr).Error("outbox publish failed after retries")
	publishResults.WithLabelValues(event.EventType, resultDeadLettered).Inc()

	if w.dlq != nil {
		if err := w.publishDeadLetter(event, publishErr); err != nil {
			logger.WithError(err).Warn("failed to publish to DLQ")
			publishResults.WithLabelValues(event.EventType, resultDLQFailed).Inc()
		}
	}
	if err := w.repo.MarkFailed(ctx, event.ID); err != nil {
		logger.WithError(err).Warn("failed to mark outbox as failed")
	}
}

func (w *Worker) publishDeadLetter(event domain.OutboxMessage, publishErr error) error {
	payload, err := json.Marshal(deadLetterRecord{
		OutboxID:       event.ID,
		AggregateType:  event.AggregateType,
		AggregateID:    event.AggregateID,
		EventType:      event.EventType,
		Payload:        json.RawMessage(event.Payload),
		PublishError:   publishErr.Error(),
		DLQPublishedAt: time.Now().UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return fmt.Errorf("marshal dead letter: %w", err)
	}

	dead := event
	dead.Payload = payload
	if err := w.dlq.Publish(dead); err != nil {
		return fmt.Errorf("publish to dlq: %w", err)
	}
	return nil
}

func (w *Worker) refreshBacklog(ctx context.Context) {
	stats, err := w.repo.Stats(ctx)
	if err != nil {
		w.logger.WithError(err).Warn("failed to collect outbox backlog stats")
		return
	}

	pendingRecords.Set(float64(stats.PendingCount))
	if stats.PendingCount == 0 || stats.OldestPendingAt.IsZero() {
		oldestPendingAge.Set(0)
		return
	}
	oldestPendingAge.Set(max(time.Since(stats.OldestPendingAt).Seconds(), 0))
}
