package events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
)

const (
	kafkaMaxRetries   = 3
	kafkaBaseBackoff  = 100 * time.Millisecond
	kafkaFlushTimeout = 10 * time.Second
)

type kafkaProducer interface {
	Produce(msg *kafka.Message, deliveryChan chan kafka.Event) error
	Flush(timeoutMs int) int
	Close()
}

var newKafkaProducer = func(cfg *kafka.ConfigMap) (kafkaProducer, error) {
	p, err := kafka.NewProducer(cfg)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// KafkaPublisher produces SessionCompleted events keyed by session id.
// Delivery reports are consumed on a background goroutine.
type KafkaPublisher struct {
	producer   kafkaProducer
	topic      string
	deliveries chan kafka.Event

	sent   atomic.Int64
	acked  atomic.Int64
	failed atomic.Int64

	wg        sync.WaitGroup
	done      chan struct{}
	closeOnce sync.Once
}

func NewKafkaPublisher(bootstrap, topic string) (*KafkaPublisher, error) {
	if bootstrap == "" || topic == "" {
		return nil, errors.New("kafka bootstrap servers and topic are required")
	}
	p, err := newKafkaProducer(&kafka.ConfigMap{
		"bootstrap.servers":   bootstrap,
		"acks":                "all",
		"enable.idempotence":  true,
		"linger.ms":           5,
		"request.timeout.ms":  30000,
		"delivery.timeout.ms": 120000,
	})
	if err != nil {
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}

	kp := &KafkaPublisher{
		producer:   p,
		topic:      topic,
		deliveries: make(chan kafka.Event, 1024),
		done:       make(chan struct{}),
	}
	kp.wg.Add(1)
	go kp.handleDeliveryReports()

	slog.Info("kafka publisher ready", "topic", topic, "servers", bootstrap)
	return kp, nil
}

func (kp *KafkaPublisher) handleDeliveryReports() {
	defer kp.wg.Done()
	for {
		select {
		case <-kp.done:
			return
		case e := <-kp.deliveries:
			m, ok := e.(*kafka.Message)
			if !ok {
				continue
			}
			if m.TopicPartition.Error != nil {
				kp.failed.Add(1)
				slog.Warn("kafka delivery failed", "key", string(m.Key), "error", m.TopicPartition.Error)
				continue
			}
			kp.acked.Add(1)
			slog.Debug("kafka event delivered", "key", string(m.Key), "partition", m.TopicPartition.Partition)
		}
	}
}

func (kp *KafkaPublisher) Publish(ctx context.Context, event SessionCompleted) error {
	payload, err := event.ToJSON()
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}

	msg := &kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &kp.topic, Partition: kafka.PartitionAny},
		Key:            []byte(event.SessionID),
		Value:          payload,
		Headers: []kafka.Header{
			{Key: "status", Value: []byte(event.Status)},
		},
	}

	var lastErr error
	for attempt := 0; attempt <= kafkaMaxRetries; attempt++ {
		if attempt > 0 {
			backoff := kafkaBaseBackoff * time.Duration(1<<uint(attempt-1))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}

		err := kp.producer.Produce(msg, kp.deliveries)
		if err == nil {
			kp.sent.Add(1)
			return nil
		}
		lastErr = err

		var kerr kafka.Error
		if errors.As(err, &kerr) && !kerr.IsRetriable() {
			break
		}
	}

	kp.failed.Add(1)
	return fmt.Errorf("publish session %s: %w", event.SessionID, lastErr)
}

type KafkaStats struct {
	Sent   int64
	Acked  int64
	Failed int64
}

func (kp *KafkaPublisher) Stats() KafkaStats {
	return KafkaStats{
		Sent:   kp.sent.Load(),
		Acked:  kp.acked.Load(),
		Failed: kp.failed.Load(),
	}
}

// Close flushes pending messages before stopping the delivery handler.
func (kp *KafkaPublisher) Close() {
	kp.closeOnce.Do(func() {
		if remaining := kp.producer.Flush(int(kafkaFlushTimeout.Milliseconds())); remaining > 0 {
			slog.Warn("kafka messages still queued after flush", "remaining", remaining)
		}
		close(kp.done)
		kp.wg.Wait()
		kp.producer.Close()

		stats := kp.Stats()
		slog.Info("kafka publisher closed", "sent", stats.Sent, "acked", stats.Acked, "failed", stats.Failed)
	})
}
