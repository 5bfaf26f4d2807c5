package kafka_client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/confluentinc/confluent-kafka-go/kafka"
	"github.com/spacesedan/reviewguard/config"
	"github.com/spacesedan/reviewguard/internal/models"
)

// Producer publishes moderation requests and dead letters through an
// idempotent producer, waiting for each delivery report.
type Producer struct {
	producer   *kafka.Producer
	topic      string
	deadLetter string
}

func NewProducer(cfg config.KafkaConfig) (*Producer, error) {
	slog.Info("[KafkaClient] Initializing Kafka Producer...",
		slog.String("broker", cfg.Broker))

	p, err := kafka.NewProducer(producerConfigMap(cfg))
	if err != nil {
		return nil, fmt.Errorf("[KafkaClient] Failed to create producer: %w", err)
	}

	slog.Info("[KafkaClient] Kafka Producer initialized successfully")
	return &Producer{
		producer:   p,
		topic:      ModerationTopic(cfg),
		deadLetter: topicOrDefault(cfg.DeadLetterTopic, KAFKA_TOPIC_REVIEW_MODERATION_DLQ),
	}, nil
}

func (p *Producer) Close() {
	slog.Info("[KafkaClient] Shutting down Kafka producer...")
	if p == nil || p.producer == nil {
		return
	}
	if remaining := p.producer.Flush(FLUSH_TIMEOUT_MS); remaining > 0 {
		slog.Warn("[KafkaClient] Not all messages were delivered before shutdown",
			slog.Int("remaining", remaining))
	}
	p.producer.Close()
	slog.Info("[KafkaClient] Kafka producer shut down")
}

// ScheduleReview enqueues one moderation request keyed by the review id.
func (p *Producer) ScheduleReview(ctx context.Context, reviewID int64) error {
	msg, err := NewModerationMessage(p.topic, reviewID)
	if err != nil {
		return err
	}
	if err := p.publish(ctx, msg); err != nil {
		return err
	}

	slog.Info("[KafkaClient] Scheduled review for moderation",
		slog.String("topic", p.topic),
		slog.Int64("review_id", reviewID))
	return nil
}

// PublishDeadLetter copies a message that could not be processed onto the
// dead letter topic, annotated with the failure.
func (p *Producer) PublishDeadLetter(ctx context.Context, msg *kafka.Message, attempts int, cause error) error {
	dead := NewDeadLetterMessage(p.deadLetter, msg, attempts, cause)
	if err := p.publish(ctx, dead); err != nil {
		return err
	}

	slog.Warn("[KafkaClient] Published message to dead letter topic",
		slog.String("topic", p.deadLetter),
		slog.String("key", string(msg.Key)),
		slog.Int("attempts", attempts))
	return nil
}

func (p *Producer) publish(ctx context.Context, msg *kafka.Message) error {
	var err error
	for i := 0; i < MAX_PRODUCE_TRIES; i++ {
		if err = p.produceAndWait(ctx, msg); err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return err
		}
		slog.Warn("[KafkaClient] Failed to produce message, retrying...",
			slog.Int("attempt", i+1),
			slog.String("error", err.Error()))
	}
	return err
}

func (p *Producer) produceAndWait(ctx context.Context, msg *kafka.Message) error {
	delivery := make(chan kafka.Event, 1)
	if err := p.producer.Produce(msg, delivery); err != nil {
		return fmt.Errorf("[KafkaClient] failed to enqueue message: %w", err)
	}

	timer := time.NewTimer(DELIVERY_WAIT)
	defer timer.Stop()

	select {
	case ev := <-delivery:
		m, ok := ev.(*kafka.Message)
		if !ok {
			return fmt.Errorf("[KafkaClient] unexpected delivery event: %v", ev)
		}
		if m.TopicPartition.Error != nil {
			return fmt.Errorf("[KafkaClient] delivery failed: %w", m.TopicPartition.Error)
		}
		return nil
	case <-timer.C:
		return errors.New("[KafkaClient] timed out waiting for delivery report")
	case <-ctx.Done():
		return ctx.Err()
	}
}

// NewModerationMessage builds the request message for one review.
func NewModerationMessage(topic string, reviewID int64) (*kafka.Message, error) {
	value, err := json.Marshal(models.ReviewModerationRequest{ReviewID: reviewID})
	if err != nil {
		return nil, fmt.Errorf("[KafkaClient] failed to serialize request: %w", err)
	}
	return &kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &topic, Partition: kafka.PartitionAny},
		Key:            []byte(strconv.FormatInt(reviewID, 10)),
		Value:          value,
	}, nil
}

// NewDeadLetterMessage keeps the original key, value and headers and appends
// the failure details.
func NewDeadLetterMessage(topic string, msg *kafka.Message, attempts int, cause error) *kafka.Message {
	headers := make([]kafka.Header, 0, len(msg.Headers)+3)
	headers = append(headers, msg.Headers...)

	reason := "unknown"
	if cause != nil {
		reason = cause.Error()
	}
	source := ""
	if msg.TopicPartition.Topic != nil {
		source = *msg.TopicPartition.Topic
	}
	headers = append(headers,
		kafka.Header{Key: HEADER_ERROR, Value: []byte(reason)},
		kafka.Header{Key: HEADER_SOURCE_TOPIC, Value: []byte(source)},
		kafka.Header{Key: HEADER_ATTEMPTS, Value: []byte(strconv.Itoa(attempts))},
	)

	return &kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &topic, Partition: kafka.PartitionAny},
		Key:            msg.Key,
		Value:          msg.Value,
		Headers:        headers,
	}
}

// DecodeModerationRequest parses a request message value.
func DecodeModerationRequest(value []byte) (models.ReviewModerationRequest, error) {
	var req models.ReviewModerationRequest
	if err := json.Unmarshal(value, &req); err != nil {
		return req, fmt.Errorf("[KafkaClient] failed to deserialize request: %w", err)
	}
	if req.ReviewID <= 0 {
		return req, fmt.Errorf("[KafkaClient] invalid review id %d", req.ReviewID)
	}
	return req, nil
}
