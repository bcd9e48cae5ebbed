package kafka

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"
)

const defaultClientID = "checkout-service"

// Producer публикует сообщения синхронно: Publish возвращается только после ack от всех in-sync реплик.
type Producer struct {
	sync   sarama.SyncProducer
	logger *log.Entry
	now    func() time.Time
}

type ProducerOption func(*producerSettings)

type producerSettings struct {
	clientID string
	logger   *log.Entry
}

// WithClientID задаёт client.id; пустое значение игнорируется.
func WithClientID(id string) ProducerOption {
	return func(s *producerSettings) {
		if id != "" {
			s.clientID = id
		}
	}
}

func WithLogger(logger *log.Entry) ProducerOption {
	return func(s *producerSettings) { s.logger = logger }
}

// NewConfig: идемпотентный sync producer. Idempotent требует acks=all и одного запроса в полёте.
func NewConfig(clientID string) *sarama.Config {
	cfg := sarama.NewConfig()
	cfg.ClientID = clientID
	cfg.Net.MaxOpenRequests = 1
	cfg.Producer.Idempotent = true
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Return.Successes = true
	cfg.Producer.Retry.Max = 5
	cfg.Producer.Compression = sarama.CompressionSnappy
	return cfg
}

func NewProducer(brokers []string, opts ...ProducerOption) (*Producer, error) {
	settings := producerSettings{clientID: defaultClientID}
	for _, opt := range opts {
		opt(&settings)
	}

	syncProducer, err := sarama.NewSyncProducer(brokers, NewConfig(settings.clientID))
	if err != nil {
		return nil, fmt.Errorf("create kafka producer for %v: %w", brokers, err)
	}
	return NewProducerFromSync(syncProducer, settings.logger), nil
}

// NewProducerFromSync оборачивает готовый sarama.SyncProducer, в тестах это mocks.SyncProducer.
func NewProducerFromSync(syncProducer sarama.SyncProducer, logger *log.Entry) *Producer {
	if logger == nil {
		logger = log.WithField("component", "kafka-producer")
	}
	return &Producer{sync: syncProducer, logger: logger, now: time.Now}
}

func (p *Producer) PublishJSON(topic, key string, value any, headers map[string]string) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s message %s: %w", topic, key, err)
	}
	return p.Publish(topic, key, data, headers)
}

func (p *Producer) Publish(topic, key string, value []byte, headers map[string]string) error {
	fields := log.Fields{"topic": topic, "key": key}

	partition, offset, err := p.sync.SendMessage(p.message(topic, key, value, headers))
	if err != nil {
		p.logger.WithError(err).WithFields(fields).Error("kafka send failed")
		return fmt.Errorf("send %s message %s: %w", topic, key, err)
	}

	fields["partition"], fields["offset"] = partition, offset
	p.logger.WithFields(fields).Debug("kafka message acknowledged")
	return nil
}

// message собирает ProducerMessage; заголовки идут в порядке ключей, чтобы запись была воспроизводимой.
func (p *Producer) message(topic, key string, value []byte, headers map[string]string) *sarama.ProducerMessage {
	msg := &sarama.ProducerMessage{
		Topic:     topic,
		Key:       sarama.StringEncoder(key),
		Value:     sarama.ByteEncoder(value),
		Timestamp: p.now(),
		Headers:   make([]sarama.RecordHeader, 0, len(headers)),
	}
	for _, name := range slices.Sorted(maps.Keys(headers)) {
		msg.Headers = append(msg.Headers, sarama.RecordHeader{Key: []byte(name), Value: []byte(headers[name])})
	}
	return msg
}

func (p *Producer) Close() error {
	if p.sync == nil {
		return nil
	}
	if err := p.sync.Close(); err != nil {
		return fmt.Errorf("close kafka producer: %w", err)
	}
	return nil
}
