package app

import (
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
	"github.com/vladislavdragonenkov/checkout/internal/messaging/kafka"
)

// initKafkaProducer инициализирует Kafka producer если brokers не пустой.
// Возвращает nil, nil если brokers пустой.
func initKafkaProducer(brokers string, logger *log.Entry) (*kafka.Producer, error) {
	if strings.TrimSpace(brokers) == "" {
		return nil, nil
	}

	brokerList := Config{KafkaBrokers: brokers}.kafkaBrokerList()
	producer, err := kafka.NewProducer(brokerList, kafka.WithLogger(logger.WithField("component", "kafka-producer")))
	if err != nil {
		logger.WithError(err).Warn("failed to create kafka producer, continuing without kafka")
		return nil, err
	}

	logger.WithField("brokers", brokerList).Info("kafka producer initialized")
	return producer, nil
}

// closeKafka закрывает Kafka producer если он не nil.
func closeKafka(producer *kafka.Producer, logger *log.Entry) {
	if producer == nil {
		return
	}

	if err := producer.Close(); err != nil {
		logger.WithError(err).Warn("failed to close kafka producer")
	} else {
		logger.Info("kafka producer closed")
	}
}

// outboxPublishers возвращает publisher событий и DLQ; без Kafka события только логируются.
func outboxPublishers(cfg Config, producer *kafka.Producer, logger *log.Entry) (domain.OutboxPublisher, domain.OutboxPublisher) {
	if producer == nil {
		return logPublisher{logger: logger.WithField("component", "outbox-log")}, nil
	}
	return kafka.NewOutboxPublisher(producer, cfg.KafkaTopic),
		kafka.NewDLQPublisher(producer, cfg.KafkaDLQTopic, cfg.KafkaTopic)
}

// logPublisher подтверждает события записью в лог: локальный запуск без брокера.
type logPublisher struct {
	logger *log.Entry
}

func (p logPublisher) Publish(event domain.OutboxMessage) error {
	p.logger.WithFields(log.Fields{
		"outbox_id":    event.ID,
		"aggregate_id": event.AggregateID,
		"event_type":   event.EventType,
	}).Info("outbox event (kafka disabled)")
	return nil
}
