// Command dlq-replay возвращает события заказов из DLQ-топика обратно в топик событий.
// По умолчанию работает в режиме dry-run и только перечисляет кандидатов.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"slices"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/checkout/internal/messaging/kafka"
)

const (
	defaultReplayLimit = 100
	defaultIdleTimeout = 2 * time.Second
)

type config struct {
	brokers     []string
	sourceTopic string
	targetTopic string
	limit       int
	execute     bool
	fromNewest  bool
	idleTimeout time.Duration
}

type replayMessage struct {
	topic   string
	key     string
	value   []byte
	headers map[string]string
}

type offsetClient interface {
	GetOffset(topic string, partition int32, time int64) (int64, error)
	Partitions(topic string) ([]int32, error)
	Close() error
}

type partitionConsumer interface {
	Messages() <-chan *sarama.ConsumerMessage
	Errors() <-chan *sarama.ConsumerError
	Close() error
}

type partitionConsumerSource interface {
	ConsumePartition(topic string, partition int32, offset int64) (partitionConsumer, error)
	Close() error
}

// replayProducer: подмножество kafka.Producer, нужное для повторной публикации.
type replayProducer interface {
	Publish(topic, key string, value []byte, headers map[string]string) error
	Close() error
}

type saramaConsumerAdapter struct {
	consumer sarama.Consumer
}

func (a saramaConsumerAdapter) ConsumePartition(topic string, partition int32, offset int64) (partitionConsumer, error) {
	pc, err := a.consumer.ConsumePartition(topic, partition, offset)
	if err != nil {
		return nil, err
	}
	return pc, nil
}

func (a saramaConsumerAdapter) Close() error {
	if a.consumer == nil {
		return nil
	}
	return a.consumer.Close()
}

var newReplayDependencies = func(cfg config) (offsetClient, partitionConsumerSource, replayProducer, error) {
	consumerConfig := sarama.NewConfig()
	consumerConfig.ClientID = "checkout-dlq-replay"
	consumerConfig.Consumer.Return.Errors = true

	client, err := sarama.NewClient(cfg.brokers, consumerConfig)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("create kafka client: %w", err)
	}

	rawConsumer, err := sarama.NewConsumerFromClient(client)
	if err != nil {
		_ = client.Close()
		return nil, nil, nil, fmt.Errorf("create kafka consumer: %w", err)
	}
	consumer := saramaConsumerAdapter{consumer: rawConsumer}

	if !cfg.execute {
		return client, consumer, nil, nil
	}

	producer, err := kafka.NewProducer(cfg.brokers, kafka.WithClientID("checkout-dlq-replay"))
	if err != nil {
		_ = consumer.Close()
		_ = client.Close()
		return nil, nil, nil, err
	}

	return client, consumer, producer, nil
}

func main() {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	log.SetLevel(log.InfoLevel)

	cfg, err := parseConfig(os.Args[1:], os.Getenv)
	if err != nil {
		fail("%v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		fail("dlq replay failed: %v", err)
	}
}

// parseConfig разбирает флаги; пустой -brokers берётся из CHECKOUT_KAFKA_BROKERS.
func parseConfig(args []string, getenv func(string) string) (config, error) {
	fs := flag.NewFlagSet("dlq-replay", flag.ContinueOnError)
	var (
		brokersRaw string
		cfg        config
	)
	fs.StringVar(&brokersRaw, "brokers", "", "Kafka brokers as comma-separated list (fallback: CHECKOUT_KAFKA_BROKERS)")
	fs.StringVar(&cfg.sourceTopic, "source-topic", kafka.TopicDeadLetterQueue, "DLQ source topic")
	fs.StringVar(&cfg.targetTopic, "target-topic", kafka.TopicOrderEvents, "target topic when the message has no x-original-topic header")
	fs.IntVar(&cfg.limit, "limit", defaultReplayLimit, "max number of messages to scan/replay")
	fs.BoolVar(&cfg.execute, "execute", false, "execute replay; default is dry-run")
	fs.BoolVar(&cfg.fromNewest, "from-newest", false, "scan latest messages first (bounded by limit)")
	fs.DurationVar(&cfg.idleTimeout, "idle-timeout", defaultIdleTimeout, "idle timeout per partition")
	if err := fs.Parse(args); err != nil {
		return config{}, err
	}

	if strings.TrimSpace(brokersRaw) == "" {
		brokersRaw = getenv("CHECKOUT_KAFKA_BROKERS")
	}
	cfg.brokers = parseBrokers(brokersRaw)

	switch {
	case len(cfg.brokers) == 0:
		return config{}, errors.New("kafka brokers are required (-brokers or CHECKOUT_KAFKA_BROKERS)")
	case strings.TrimSpace(cfg.sourceTopic) == "":
		return config{}, errors.New("source-topic is required")
	case strings.TrimSpace(cfg.targetTopic) == "":
		return config{}, errors.New("target-topic is required")
	case cfg.limit <= 0:
		return config{}, errors.New("limit must be > 0")
	case cfg.idleTimeout <= 0:
		return config{}, errors.New("idle-timeout must be > 0")
	}
	return cfg, nil
}

func parseBrokers(raw string) []string {
	var brokers []string
	for _, chunk := range strings.Split(raw, ",") {
		if broker := strings.TrimSpace(chunk); broker != "" {
			brokers = append(brokers, broker)
		}
	}
	return brokers
}

func run(ctx context.Context, cfg config) error {
	offsets, source, producer, err := newReplayDependencies(cfg)
	if err != nil {
		return err
	}
	defer func() {
		for _, c := range []interface{ Close() error }{producer, source, offsets} {
			if c != nil {
				_ = c.Close()
			}
		}
	}()

	r, err := newReplayer(cfg, offsets, source, producer)
	if err != nil {
		return err
	}
	_, err = r.replayAll(ctx)
	return err
}

// replayStats: счётчики прохода по DLQ.
type replayStats struct {
	scanned  int
	replayed int
	skipped  int
}

func (s *replayStats) add(other replayStats) {
	s.scanned += other.scanned
	s.replayed += other.replayed
	s.skipped += other.skipped
}

// replayer читает DLQ-топик по партициям и переотправляет восстановленные события.
type replayer struct {
	cfg      config
	offsets  offsetClient
	source   partitionConsumerSource
	producer replayProducer
	logger   *log.Entry
	now      func() time.Time
}

func newReplayer(cfg config, offsets offsetClient, source partitionConsumerSource, producer replayProducer) (*replayer, error) {
	if offsets == nil || source == nil {
		return nil, errors.New("kafka client and consumer are required")
	}
	if cfg.execute && producer == nil {
		return nil, errors.New("producer is required in execute mode")
	}

	mode := "dry-run"
	if cfg.execute {
		mode = "execute"
	}
	return &replayer{
		cfg:      cfg,
		offsets:  offsets,
		source:   source,
		producer: producer,
		logger: log.WithFields(log.Fields{
			"source_topic": cfg.sourceTopic,
			"mode":         mode,
		}),
		now: time.Now,
	}, nil
}

// replayAll обходит партиции по возрастанию номера, пока не исчерпан лимит.
func (r *replayer) replayAll(ctx context.Context) (replayStats, error) {
	var total replayStats

	partitions, err := r.offsets.Partitions(r.cfg.sourceTopic)
	if err != nil {
		return total, fmt.Errorf("get partitions for topic %s: %w", r.cfg.sourceTopic, err)
	}
	if len(partitions) == 0 {
		r.logger.Warn("source topic has no partitions")
		return total, nil
	}
	slices.Sort(partitions)

	r.logger.WithFields(log.Fields{
		"partitions":  len(partitions),
		"limit":       r.cfg.limit,
		"from_newest": r.cfg.fromNewest,
	}).Info("starting dlq replay")

	for _, partition := range partitions {
		budget := r.cfg.limit - total.scanned
		if budget <= 0 {
			break
		}
		stats, err := r.drainPartition(ctx, partition, budget)
		total.add(stats)
		if err != nil {
			return total, err
		}
	}

	r.logger.WithFields(log.Fields{
		"scanned":  total.scanned,
		"replayed": total.replayed,
		"skipped":  total.skipped,
	}).Info("dlq replay finished")
	return total, nil
}

// window возвращает смещение начала чтения и верхнюю границу партиции на момент запуска.
func (r *replayer) window(partition int32, budget int) (start, end int64, err error) {
	oldest, err := r.offsets.GetOffset(r.cfg.sourceTopic, partition, sarama.OffsetOldest)
	if err != nil {
		return 0, 0, fmt.Errorf("get oldest offset for partition %d: %w", partition, err)
	}
	end, err = r.offsets.GetOffset(r.cfg.sourceTopic, partition, sarama.OffsetNewest)
	if err != nil {
		return 0, 0, fmt.Errorf("get newest offset for partition %d: %w", partition, err)
	}
	start = oldest
	if r.cfg.fromNewest {
		start = max(end-int64(budget), oldest)
	}
	return start, end, nil
}

// drainPartition читает партицию до верхней границы, лимита или простоя idleTimeout.
func (r *replayer) drainPartition(ctx context.Context, partition int32, budget int) (replayStats, error) {
	var stats replayStats

	start, end, err := r.window(partition, budget)
	if err != nil || end <= start {
		return stats, err
	}

	pc, err := r.source.ConsumePartition(r.cfg.sourceTopic, partition, start)
	if err != nil {
		return stats, fmt.Errorf("consume partition %d: %w", partition, err)
	}
	defer func() { _ = pc.Close() }()

	idle := time.NewTimer(r.cfg.idleTimeout)
	defer idle.Stop()

	for stats.scanned < budget {
		select {
		case <-ctx.Done():
			return stats, ctx.Err()
		case <-idle.C:
			return stats, nil
		case cerr := <-pc.Errors():
			if cerr != nil {
				return stats, fmt.Errorf("partition %d consumer error: %w", partition, cerr)
			}
		case msg, ok := <-pc.Messages():
			if !ok || msg == nil || msg.Offset >= end {
				return stats, nil
			}
			idle.Reset(r.cfg.idleTimeout)

			stats.scanned++
			replayed, err := r.handle(msg)
			if err != nil {
				return stats, err
			}
			if replayed {
				stats.replayed++
			} else {
				stats.skipped++
			}
			if msg.Offset+1 >= end {
				return stats, nil
			}
		}
	}
	return stats, nil
}

// handle переотправляет одно сообщение; нераспознанные сообщения пропускаются.
func (r *replayer) handle(msg *sarama.ConsumerMessage) (bool, error) {
	logger := r.logger.WithFields(log.Fields{"partition": msg.Partition, "offset": msg.Offset})

	replay, ok, err := extractReplayMessage(msg, r.cfg.targetTopic, r.now())
	if err != nil {
		logger.WithError(err).Warn("skip unsupported dlq message")
		return false, nil
	}
	if !ok {
		return false, nil
	}

	if !r.cfg.execute {
		logger.WithFields(log.Fields{
			"target_topic": replay.topic,
			"key":          replay.key,
			"event_type":   replay.headers[kafka.HeaderEventType],
		}).Info("dlq replay candidate")
		return true, nil
	}
	if err := r.producer.Publish(replay.topic, replay.key, replay.value, replay.headers); err != nil {
		return false, fmt.Errorf("publish replay message: %w", err)
	}
	return true, nil
}

// extractReplayMessage восстанавливает исходное событие из DLQ-конверта.
// ok=false: сообщение не похоже на DLQ outbox и пропускается без ошибки.
func extractReplayMessage(msg *sarama.ConsumerMessage, defaultTopic string, now time.Time) (replayMessage, bool, error) {
	var envelope kafka.Envelope
	if err := json.Unmarshal(msg.Value, &envelope); err != nil || len(envelope.Payload) == 0 {
		return replayMessage{}, false, nil
	}

	var dead kafka.DeadLetter
	if err := json.Unmarshal(envelope.Payload, &dead); err != nil {
		return replayMessage{}, false, fmt.Errorf("decode dead letter: %w", err)
	}
	if len(dead.Payload) == 0 {
		return replayMessage{}, false, errors.New("dead letter does not contain original event payload")
	}

	replay := dead.Replay(now)
	replay.ID = firstNonEmpty(replay.ID, envelope.ID)
	replay.AggregateType = firstNonEmpty(replay.AggregateType, envelope.AggregateType)
	replay.AggregateID = firstNonEmpty(replay.AggregateID, envelope.AggregateID)
	replay.EventType = firstNonEmpty(replay.EventType, envelope.EventType)

	encoded, err := json.Marshal(replay)
	if err != nil {
		return replayMessage{}, false, fmt.Errorf("encode replay envelope: %w", err)
	}

	retries, _ := strconv.Atoi(header(msg, kafka.HeaderRetryCount))
	return replayMessage{
		topic: firstNonEmpty(header(msg, kafka.HeaderOriginalTopic), defaultTopic),
		key:   replay.Key(),
		value: encoded,
		headers: map[string]string{
			kafka.HeaderEventType:     replay.EventType,
			kafka.HeaderAggregateType: replay.AggregateType,
			kafka.HeaderOutboxID:      replay.ID,
			kafka.HeaderRetryCount:    strconv.Itoa(retries + 1),
		},
	}, true, nil
}

func header(msg *sarama.ConsumerMessage, key string) string {
	for _, h := range msg.Headers {
		if h != nil && string(h.Key) == key {
			return string(h.Value)
		}
	}
	return ""
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}

func fail(format string, args ...any) {
	_, _ = fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
