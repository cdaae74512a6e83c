package event

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/segmentio/kafka-go"
)

// Producer publishes events to one Kafka topic. Messages with the same key
// hash to the same partition, which is what preserves per-requester
// ordering downstream.
type Producer struct {
	writer *kafka.Writer
}

func NewProducer(brokers []string, topic string) *Producer {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
	}
	return &Producer{writer: writer}
}

func (p *Producer) Publish(ctx context.Context, key string, event any) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(key),
		Value: data,
		Time:  time.Now(),
	})
}

func (p *Producer) Close() error {
	return p.writer.Close()
}

// Notifier forwards slot events to collaborators. It is strictly
// best-effort: a publish failure is logged and swallowed, never allowed to
// travel back into an allocation decision.
type Notifier struct {
	producer *Producer
}

func NewNotifier(producer *Producer) *Notifier {
	return &Notifier{producer: producer}
}

// Emit publishes the event keyed by requester id.
func (n *Notifier) Emit(ctx context.Context, ev SlotEvent) {
	if n == nil || n.producer == nil {
		return
	}
	if err := n.producer.Publish(ctx, ev.RequesterID, ev); err != nil {
		log.Printf("[Notifier] Failed to publish %s for slot %s (corr %s): %v",
			ev.EventType, ev.SlotID, ev.CorrelationID, err)
	}
}
