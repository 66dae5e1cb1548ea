// Package ingest carries provider availability reports onto the location
// topic, from which cmd/consumer folds them into the directory.
package ingest

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/example/roadside-dispatch/internal/models"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type KafkaProducer struct {
	writer messageWriter
}

func NewKafkaProducer(brokers []string, topic string) *KafkaProducer {
	w := kafka.NewWriter(kafka.WriterConfig{Brokers: brokers, Topic: topic, Balancer: &kafka.Hash{}, BatchTimeout: 10 * time.Millisecond})
	return &KafkaProducer{writer: w}
}

// PublishAvailability keys the message by provider id so one provider's
// reports stay ordered.
func (k *KafkaProducer) PublishAvailability(ctx context.Context, u models.AvailabilityUpdate) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	b, err := json.Marshal(u)
	if err != nil {
		return err
	}
	return k.writer.WriteMessages(ctx, kafka.Message{Key: []byte(u.ProviderID), Value: b})
}

// Decode parses one location-topic message.
func Decode(msg kafka.Message) (models.AvailabilityUpdate, error) {
	var u models.AvailabilityUpdate
	if err := json.Unmarshal(msg.Value, &u); err != nil {
		return u, err
	}
	if u.ProviderID == "" {
		u.ProviderID = string(msg.Key)
	}
	return u, nil
}

func (k *KafkaProducer) Close() error {
	if k.writer == nil {
		return nil
	}
	return k.writer.Close()
}
