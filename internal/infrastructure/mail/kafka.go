package mail

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"storefront-backend/internal/infrastructure/breaker"
)

// KafkaMailer hands messages to the notification pipeline by publishing
// them to a topic. Delivery to the mailbox happens downstream.
type KafkaMailer struct {
	producer sarama.SyncProducer
	topic    string
	breaker  *breaker.Breaker
	logger   *zap.Logger
	now      func() time.Time
}

type envelope struct {
	EventType string    `json:"event_type"`
	Message   Message   `json:"message"`
	QueuedAt  time.Time `json:"queued_at"`
}

func NewProducer(brokers []string) (sarama.SyncProducer, error) {
	config := sarama.NewConfig()
	config.Producer.Return.Successes = true
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 5
	producer, err := sarama.NewSyncProducer(brokers, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka producer: %w", err)
	}
	return producer, nil
}

func NewKafkaMailer(producer sarama.SyncProducer, topic string, logger *zap.Logger) *KafkaMailer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &KafkaMailer{
		producer: producer,
		topic:    topic,
		breaker:  breaker.New(5, 30*time.Second),
		logger:   logger,
		now:      time.Now,
	}
}

func (k *KafkaMailer) Send(ctx context.Context, m Message) error {
	raw, err := json.Marshal(envelope{EventType: string(m.Kind), Message: m, QueuedAt: k.now().UTC()})
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	msg := &sarama.ProducerMessage{
		Topic: k.topic,
		Key:   sarama.StringEncoder(m.To),
		Value: sarama.ByteEncoder(raw),
	}
	carrier := make(headerCarrier, 0)
	otel.GetTextMapPropagator().Inject(ctx, &carrier)
	msg.Headers = []sarama.RecordHeader(carrier)

	return k.breaker.Execute(ctx, func(context.Context) error {
		partition, offset, err := k.producer.SendMessage(msg)
		if err != nil {
			return fmt.Errorf("failed to send message: %w", err)
		}
		k.logger.Debug("mail event published",
			zap.String("topic", k.topic),
			zap.String("kind", string(m.Kind)),
			zap.Int32("partition", partition),
			zap.Int64("offset", offset),
		)
		return nil
	})
}

func (k *KafkaMailer) Close() error {
	return k.producer.Close()
}

// headerCarrier adapts Kafka record headers to the otel TextMapCarrier.
type headerCarrier []sarama.RecordHeader

func (c headerCarrier) Get(key string) string {
	for _, h := range c {
		if string(h.Key) == key {
			return string(h.Value)
		}
	}
	return ""
}

func (c *headerCarrier) Set(key, value string) {
	*c = append(*c, sarama.RecordHeader{Key: []byte(key), Value: []byte(value)})
}

func (c headerCarrier) Keys() []string {
	keys := make([]string, len(c))
	for i, h := range c {
		keys[i] = string(h.Key)
	}
	return keys
}
