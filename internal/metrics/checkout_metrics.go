package metrics

import (
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// CheckoutMetrics содержит метрики оформления и подтверждения заказов.
// Методы безопасны для nil-получателя: сервисы в тестах создаются без метрик.
type CheckoutMetrics struct {
	// оформление
	sessions *prometheus.CounterVec

	// подтверждение оплаты
	confirmations        *prometheus.CounterVec
	confirmationDuration *prometheus.HistogramVec
	stockDecrements      *prometheus.CounterVec
	decrementFailures    prometheus.Counter
	unresolvedItems      *prometheus.CounterVec

	// вебхуки шлюза
	webhookNotifications *prometheus.CounterVec

	timelineEvents prometheus.Counter
	outboxEvents   prometheus.Counter
}

// NewCheckoutMetrics создаёт метрики в DefaultRegisterer.
func NewCheckoutMetrics() *CheckoutMetrics {
	return NewCheckoutMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewCheckoutMetricsWithRegisterer создаёт метрики в заданном реестре; повторная регистрация
// возвращает уже существующие коллекторы.
func NewCheckoutMetricsWithRegisterer(registerer prometheus.Registerer) *CheckoutMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &CheckoutMetrics{
		sessions: register(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "checkout_sessions_total",
			Help: "Checkout session attempts grouped by result.",
		}, []string{"result"})),
		confirmations: register(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "checkout_confirmations_total",
			Help: "Payment confirmation attempts grouped by trigger and result.",
		}, []string{"trigger", "result"})),
		confirmationDuration: register(registerer, prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "checkout_confirmation_duration_seconds",
			Help:    "Duration of payment confirmation in seconds.",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		}, []string{"trigger"})),
		stockDecrements: register(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "checkout_stock_decrements_total",
			Help: "Applied stock decrements grouped by resolution path.",
		}, []string{"path"})),
		decrementFailures: register(registerer, prometheus.NewCounter(prometheus.CounterOpts{
			Name: "checkout_stock_decrement_failures_total",
			Help: "Stock decrements that failed after the order was marked paid.",
		})),
		unresolvedItems: register(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "checkout_unresolved_line_items_total",
			Help: "Line items that could not be matched to an inventory variant.",
		}, []string{"policy"})),
		webhookNotifications: register(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "checkout_webhook_notifications_total",
			Help: "Payment gateway notifications grouped by handling result.",
		}, []string{"provider", "result"})),
		timelineEvents: register(registerer, prometheus.NewCounter(prometheus.CounterOpts{
			Name: "checkout_timeline_events_total",
			Help: "Total number of timeline events recorded.",
		})),
		outboxEvents: register(registerer, prometheus.NewCounter(prometheus.CounterOpts{
			Name: "checkout_outbox_events_total",
			Help: "Total number of outbox events enqueued.",
		})),
	}
}

// register регистрирует коллектор или возвращает ранее зарегистрированный того же типа.
func register[T prometheus.Collector](registerer prometheus.Registerer, collector T) T {
	if err := registerer.Register(collector); err != nil {
		var alreadyRegistered prometheus.AlreadyRegisteredError
		if errors.As(err, &alreadyRegistered) {
			existing, ok := alreadyRegistered.ExistingCollector.(T)
			if !ok {
				panic(fmt.Sprintf("collector already registered with unexpected type %T", alreadyRegistered.ExistingCollector))
			}
			return existing
		}
		panic(fmt.Sprintf("register collector: %v", err))
	}
	return collector
}

// RecordSession учитывает попытку открыть платёжную сессию.
func (m *CheckoutMetrics) RecordSession(result string) {
	if m == nil {
		return
	}
	m.sessions.WithLabelValues(result).Inc()
}

// RecordConfirmation учитывает исход подтверждения и его длительность.
func (m *CheckoutMetrics) RecordConfirmation(trigger, result string, duration time.Duration) {
	if m == nil {
		return
	}
	m.confirmations.WithLabelValues(trigger, result).Inc()
	m.confirmationDuration.WithLabelValues(trigger).Observe(duration.Seconds())
}

// RecordStockDecrement учитывает применённое списание.
func (m *CheckoutMetrics) RecordStockDecrement(path string) {
	if m == nil {
		return
	}
	m.stockDecrements.WithLabelValues(path).Inc()
}

// RecordStockDecrementFailure учитывает списание, которое не удалось выполнить.
func (m *CheckoutMetrics) RecordStockDecrementFailure() {
	if m == nil {
		return
	}
	m.decrementFailures.Inc()
}

// RecordUnresolvedItem учитывает несопоставленную позицию.
func (m *CheckoutMetrics) RecordUnresolvedItem(policy string) {
	if m == nil {
		return
	}
	m.unresolvedItems.WithLabelValues(policy).Inc()
}

// RecordWebhook учитывает результат обработки уведомления шлюза.
func (m *CheckoutMetrics) RecordWebhook(provider, result string) {
	if m == nil {
		return
	}
	m.webhookNotifications.WithLabelValues(provider, result).Inc()
}

// RecordTimelineEvent увеличивает счётчик событий timeline.
func (m *CheckoutMetrics) RecordTimelineEvent() {
	if m == nil {
		return
	}
	m.timelineEvents.Inc()
}

// RecordOutboxEvent увеличивает счётчик событий outbox.
func (m *CheckoutMetrics) RecordOutboxEvent() {
	if m == nil {
		return
	}
	m.outboxEvents.Inc()
}
