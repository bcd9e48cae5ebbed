package confirmation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
	"github.com/vladislavdragonenkov/checkout/internal/metrics"
	"github.com/vladislavdragonenkov/checkout/internal/service/inventory"
)

const (
	defaultConfirmTimeout   = 10 * time.Second
	defaultDecrementTimeout = 15 * time.Second
)

// Trigger: источник вызова подтверждения.
type Trigger string

const (
	// TriggerClientCallback: браузер покупателя после редиректа со страницы оплаты.
	TriggerClientCallback Trigger = "client_callback"
	// TriggerWebhook: асинхронное уведомление шлюза, статус уже перепроверен.
	TriggerWebhook Trigger = "webhook"
)

// Status: итог подтверждения.
type Status string

const (
	StatusConfirmed   Status = "confirmed"
	StatusAlreadyPaid Status = "alreadyPaid"
	// StatusRejected: PolicyReject остановил переход из-за несопоставленных позиций.
	StatusRejected Status = "rejected"
)

// Request: входные данные подтверждения.
type Request struct {
	OrderID string
	// PaymentReference заполняется только на пути вебхука.
	PaymentReference string
	Trigger          Trigger
}

// ItemOutcome: что произошло с позицией при подтверждении.
type ItemOutcome struct {
	Index      int                 `json:"index"`
	ProductID  string              `json:"productId"`
	Quantity   int                 `json:"quantity"`
	Resolved   bool                `json:"resolved"`
	Path       inventory.MatchPath `json:"path,omitempty"`
	VariantID  string              `json:"variantId,omitempty"`
	StockAfter *int                `json:"stockAfter,omitempty"`
	SizeLabel  string              `json:"sizeLabel,omitempty"`
	Candidates []string            `json:"candidates,omitempty"`
	Error      string              `json:"error,omitempty"`
}

// Outcome: результат подтверждения заказа.
type Outcome struct {
	OrderID string        `json:"orderId"`
	Status  Status        `json:"status"`
	Items   []ItemOutcome `json:"items,omitempty"`
}

// Options задаёт параметры Reconciler.
type Options struct {
	Logger           *log.Entry
	Metrics          *metrics.CheckoutMetrics
	Outbox           domain.OutboxRepository
	Timeline         domain.TimelineRepository
	Policy           UnresolvedPolicy
	ConfirmTimeout   time.Duration
	DecrementTimeout time.Duration
	Now              func() time.Time
}

// Option настраивает Reconciler.
type Option func(*Options)

// WithLogger задаёт logger.
func WithLogger(logger *log.Entry) Option {
	return func(opts *Options) { opts.Logger = logger }
}

// WithMetrics задаёт метрики.
func WithMetrics(m *metrics.CheckoutMetrics) Option {
	return func(opts *Options) { opts.Metrics = m }
}

// WithOutbox включает публикацию событий через transactional outbox.
func WithOutbox(repo domain.OutboxRepository) Option {
	return func(opts *Options) { opts.Outbox = repo }
}

// WithTimeline включает запись истории заказа.
func WithTimeline(repo domain.TimelineRepository) Option {
	return func(opts *Options) { opts.Timeline = repo }
}

// WithPolicy задаёт политику для несопоставленных позиций.
func WithPolicy(policy UnresolvedPolicy) Option {
	return func(opts *Options) { opts.Policy = policy }
}

// WithConfirmTimeout ограничивает фазу до перехода в paid.
func WithConfirmTimeout(timeout time.Duration) Option {
	return func(opts *Options) { opts.ConfirmTimeout = timeout }
}

// WithDecrementTimeout ограничивает списание склада после выигранного перехода.
func WithDecrementTimeout(timeout time.Duration) Option {
	return func(opts *Options) { opts.DecrementTimeout = timeout }
}

// WithClock подменяет источник времени (для тестов).
func WithClock(now func() time.Time) Option {
	return func(opts *Options) { opts.Now = now }
}

// Reconciler идемпотентно переводит заказ в paid и списывает склад.
// Списание выполняет только тот вызов, который выиграл атомарный переход pending -> paid.
type Reconciler struct {
	orders           domain.OrderRepository
	stock            domain.InventoryRepository
	resolver         *inventory.Resolver
	outbox           domain.OutboxRepository
	timeline         domain.TimelineRepository
	metrics          *metrics.CheckoutMetrics
	logger           *log.Entry
	policy           UnresolvedPolicy
	confirmTimeout   time.Duration
	decrementTimeout time.Duration
	now              func() time.Time
}

// NewReconciler создаёт Reconciler.
func NewReconciler(orders domain.OrderRepository, stock domain.InventoryRepository, options ...Option) *Reconciler {
	opts := Options{
		Policy:           PolicyContinue,
		ConfirmTimeout:   defaultConfirmTimeout,
		DecrementTimeout: defaultDecrementTimeout,
		Now:              func() time.Time { return time.Now().UTC() },
	}
	for _, option := range options {
		option(&opts)
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.WithField("component", "confirmation")
	}
	if opts.Policy == "" {
		opts.Policy = PolicyContinue
	}
	if opts.ConfirmTimeout <= 0 {
		opts.ConfirmTimeout = defaultConfirmTimeout
	}
	if opts.DecrementTimeout <= 0 {
		opts.DecrementTimeout = defaultDecrementTimeout
	}

	return &Reconciler{
		orders:           orders,
		stock:            stock,
		resolver:         inventory.NewResolver(stock),
		outbox:           opts.Outbox,
		timeline:         opts.Timeline,
		metrics:          opts.Metrics,
		logger:           logger,
		policy:           opts.Policy,
		confirmTimeout:   opts.ConfirmTimeout,
		decrementTimeout: opts.DecrementTimeout,
		now:              opts.Now,
	}
}

// Policy возвращает действующую политику несопоставленных позиций.
func (r *Reconciler) Policy() UnresolvedPolicy {
	return r.policy
}

// Confirm подтверждает оплату заказа. Отсутствующий заказ: domain.ErrOrderNotFound;
// при PolicyReject и несопоставленных позициях: Outcome{Status: StatusRejected} и
// domain.ErrUnresolvedLineItem.
func (r *Reconciler) Confirm(ctx context.Context, req Request) (Outcome, error) {
	start := time.Now()
	logger := r.logger.WithFields(log.Fields{
		"order_id": req.OrderID,
		"trigger":  req.Trigger,
	})
	if req.PaymentReference != "" {
		logger = logger.WithField("payment_id", req.PaymentReference)
	}

	outcome, err := r.confirm(ctx, req, logger)
	r.metrics.RecordConfirmation(string(req.Trigger), resultLabel(outcome, err), time.Since(start))
	return outcome, err
}

func (r *Reconciler) confirm(ctx context.Context, req Request, logger *log.Entry) (Outcome, error) {
	if req.OrderID == "" {
		return Outcome{}, domain.ErrOrderIDRequired
	}

	checkCtx, cancel := context.WithTimeout(ctx, r.confirmTimeout)
	defer cancel()

	order, err := r.orders.Get(checkCtx, req.OrderID)
	if err != nil {
		if errors.Is(err, domain.ErrOrderNotFound) {
			logger.Warn("confirmation for unknown order")
		}
		return Outcome{}, err
	}
	if order.IsPaid() {
		logger.Debug("order already paid")
		return Outcome{OrderID: order.ID, Status: StatusAlreadyPaid}, nil
	}

	plan, err := r.plan(checkCtx, order)
	if err != nil {
		return Outcome{}, fmt.Errorf("resolve line items of order %s: %w", order.ID, err)
	}

	unresolved := plan.unresolved()
	for _, idx := range unresolved {
		item := order.Items[idx]
		logger.WithFields(log.Fields{
			"item_index": idx,
			"product_id": item.ProductID,
			"variant_id": item.VariantID,
			"size_label": item.SizeLabel,
			"candidates": plan[idx].Candidates,
			"policy":     r.policy,
		}).Warn("line item does not match any inventory variant")
		r.metrics.RecordUnresolvedItem(string(r.policy))
	}

	if len(unresolved) > 0 && r.policy == PolicyReject {
		return Outcome{
			OrderID: order.ID,
			Status:  StatusRejected,
			Items:   plan.outcomes(order),
		}, fmt.Errorf("order %s: %d item(s): %w", order.ID, len(unresolved), domain.ErrUnresolvedLineItem)
	}

	paidAt := r.now()
	won, err := r.orders.MarkPaid(checkCtx, order.ID, req.PaymentReference, paidAt)
	if err != nil {
		return Outcome{}, fmt.Errorf("mark order %s paid: %w", order.ID, err)
	}
	if !won {
		logger.Info("order was confirmed concurrently, skipping stock decrement")
		return Outcome{OrderID: order.ID, Status: StatusAlreadyPaid}, nil
	}

	// Переход выигран: дальше работаем без отмены со стороны клиента, но с собственным лимитом,
	// иначе обрыв соединения оставит оплаченный заказ без списания.
	applyCtx, cancelApply := context.WithTimeout(context.WithoutCancel(ctx), r.decrementTimeout)
	defer cancelApply()

	items := r.apply(applyCtx, order, plan, logger)
	r.recordPaid(applyCtx, order, req, paidAt, items, logger)

	logger.WithFields(log.Fields{
		"items":      len(items),
		"unresolved": len(unresolved),
	}).Info("order confirmed")

	return Outcome{OrderID: order.ID, Status: StatusConfirmed, Items: items}, nil
}

// resolutionPlan: результат сопоставления по индексам позиций.
type resolutionPlan []inventory.Resolution

func (r *Reconciler) plan(ctx context.Context, order domain.Order) (resolutionPlan, error) {
	plan := make(resolutionPlan, len(order.Items))
	for i, item := range order.Items {
		res, err := r.resolver.Resolve(ctx, item)
		if err != nil {
			return nil, fmt.Errorf("item %d: %w", i, err)
		}
		plan[i] = res
	}
	return plan, nil
}

func (p resolutionPlan) unresolved() []int {
	var idx []int
	for i, res := range p {
		if !res.Matched {
			idx = append(idx, i)
		}
	}
	return idx
}

func (p resolutionPlan) outcomes(order domain.Order) []ItemOutcome {
	result := make([]ItemOutcome, len(order.Items))
	for i, item := range order.Items {
		result[i] = newItemOutcome(i, item, p[i])
	}
	return result
}

func newItemOutcome(index int, item domain.LineItem, res inventory.Resolution) ItemOutcome {
	outcome := ItemOutcome{
		Index:     index,
		ProductID: item.ProductID,
		Quantity:  item.Quantity,
		Resolved:  res.Matched,
		Path:      res.Path,
	}
	if res.Matched {
		outcome.VariantID = res.Variant.ID
		return outcome
	}
	outcome.VariantID = item.VariantID
	outcome.SizeLabel = item.SizeLabel
	outcome.Candidates = res.Candidates
	return outcome
}

// apply списывает склад по сопоставленным позициям. Ошибка одной позиции не прерывает остальные.
func (r *Reconciler) apply(ctx context.Context, order domain.Order, plan resolutionPlan, logger *log.Entry) []ItemOutcome {
	items := plan.outcomes(order)
	for i := range items {
		if !items[i].Resolved {
			continue
		}

		itemLogger := logger.WithFields(log.Fields{
			"item_index": i,
			"product_id": items[i].ProductID,
			"variant_id": items[i].VariantID,
		})

		change, err := r.stock.DecrementStock(ctx, items[i].VariantID, items[i].Quantity)
		if err != nil {
			items[i].Error = err.Error()
			r.metrics.RecordStockDecrementFailure()
			itemLogger.WithError(err).Error("stock decrement failed after order was marked paid")
			continue
		}

		after := change.After
		items[i].StockAfter = &after
		r.metrics.RecordStockDecrement(string(items[i].Path))
		itemLogger.WithFields(log.Fields{
			"stock_before": change.Before,
			"stock_after":  change.After,
		}).Debug("stock decremented")
	}
	return items
}

type orderPaidPayload struct {
	OrderID          string        `json:"order_id"`
	PaymentReference string        `json:"payment_reference,omitempty"`
	Trigger          Trigger       `json:"trigger"`
	Total            string        `json:"total"`
	Currency         string        `json:"currency"`
	PaidAt           time.Time     `json:"paid_at"`
	Items            []ItemOutcome `json:"items"`
}

type unresolvedItemPayload struct {
	OrderID    string   `json:"order_id"`
	ItemIndex  int      `json:"item_index"`
	ProductID  string   `json:"product_id"`
	VariantID  string   `json:"variant_id,omitempty"`
	SizeLabel  string   `json:"size_label,omitempty"`
	Quantity   int      `json:"quantity"`
	Candidates []string `json:"candidates"`
}

func (r *Reconciler) recordPaid(ctx context.Context, order domain.Order, req Request, paidAt time.Time, items []ItemOutcome, logger *log.Entry) {
	r.appendTimeline(ctx, order.ID, domain.TimelineOrderPaid, fmt.Sprintf("trigger=%s payment=%s", req.Trigger, req.PaymentReference), paidAt, logger)

	for _, item := range items {
		switch {
		case item.Resolved && item.Error == "" && item.StockAfter != nil:
			r.appendTimeline(ctx, order.ID, domain.TimelineStockDecremented,
				fmt.Sprintf("variant=%s qty=%d stock_after=%d", item.VariantID, item.Quantity, *item.StockAfter), paidAt, logger)
		case !item.Resolved:
			r.appendTimeline(ctx, order.ID, domain.TimelineLineItemUnresolved,
				fmt.Sprintf("item=%d product=%s label=%q", item.Index, item.ProductID, item.SizeLabel), paidAt, logger)
			if r.policy == PolicyQueue {
				r.enqueue(ctx, order.ID, domain.EventLineItemUnresolved, unresolvedItemPayload{
					OrderID:    order.ID,
					ItemIndex:  item.Index,
					ProductID:  item.ProductID,
					VariantID:  item.VariantID,
					SizeLabel:  item.SizeLabel,
					Quantity:   item.Quantity,
					Candidates: item.Candidates,
				}, logger)
			}
		}
	}

	r.enqueue(ctx, order.ID, domain.EventOrderPaid, orderPaidPayload{
		OrderID:          order.ID,
		PaymentReference: req.PaymentReference,
		Trigger:          req.Trigger,
		Total:            order.TotalAmount.String(),
		Currency:         order.Currency,
		PaidAt:           paidAt,
		Items:            items,
	}, logger)
}

func (r *Reconciler) appendTimeline(ctx context.Context, orderID, eventType, reason string, at time.Time, logger *log.Entry) {
	if r.timeline == nil {
		return
	}
	event := domain.TimelineEvent{OrderID: orderID, Type: eventType, Reason: reason, Occurred: at}
	if err := r.timeline.Append(ctx, event); err != nil {
		logger.WithError(err).WithField("event", eventType).Warn("failed to append timeline event")
		return
	}
	r.metrics.RecordTimelineEvent()
}

func (r *Reconciler) enqueue(ctx context.Context, orderID, eventType string, payload any, logger *log.Entry) {
	if r.outbox == nil {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		logger.WithError(err).WithField("event_type", eventType).Error("failed to encode outbox payload")
		return
	}
	if _, err := r.outbox.Enqueue(ctx, domain.OutboxMessage{
		AggregateType: domain.AggregateOrder,
		AggregateID:   orderID,
		EventType:     eventType,
		Payload:       data,
	}); err != nil {
		logger.WithError(err).WithField("event_type", eventType).Warn("failed to enqueue outbox event")
		return
	}
	r.metrics.RecordOutboxEvent()
}

func resultLabel(outcome Outcome, err error) string {
	switch {
	case errors.Is(err, domain.ErrOrderNotFound):
		return "not_found"
	case errors.Is(err, domain.ErrUnresolvedLineItem):
		return "rejected_unresolved"
	case domain.IsValidation(err):
		return "invalid"
	case err != nil:
		return "error"
	case outcome.Status == StatusAlreadyPaid:
		return "already_paid"
	default:
		return "confirmed"
	}
}
