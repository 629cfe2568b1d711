// Package events publishes fired alerts to Kafka so downstream consumers
// (digests, audit, delivery retries) can react without touching the checker.
package events

import (
	"encoding/json"

	"cryptoalerter/internal/logger"
	"cryptoalerter/internal/models"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"go.uber.org/zap"
)

// Publisher produces alert records onto a Kafka topic.
type Publisher struct {
	producer *kafka.Producer
	topic    string
}

// NewPublisher creates a Kafka producer for the given brokers and topic.
func NewPublisher(brokers, topic string) (*Publisher, error) {
	p, err := kafka.NewProducer(&kafka.ConfigMap{"bootstrap.servers": brokers})
	if err != nil {
		return nil, err
	}
	return &Publisher{producer: p, topic: topic}, nil
}

// PublishAlert produces one alert record, keyed by subscription so one
// subscriber's alerts stay ordered within a partition.
func (p *Publisher) PublishAlert(alert models.AlertRecord) error {
	value, err := json.Marshal(alert)
	if err != nil {
		return err
	}

	err = p.producer.Produce(&kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &p.topic, Partition: kafka.PartitionAny},
		Key:            []byte(alert.SubscriptionID),
		Value:          value,
	}, nil)
	if err != nil {
		logger.Log.Error("Failed to produce alert event",
			zap.String("alert_id", alert.ID),
			zap.Error(err),
		)
		return err
	}
	return nil
}

// Close flushes pending messages and shuts the producer down.
func (p *Publisher) Close() {
	p.producer.Flush(5000)
	p.producer.Close()
}
