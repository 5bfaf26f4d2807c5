package consumers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/confluentinc/confluent-kafka-go/kafka"
	"github.com/spacesedan/reviewguard/internal/clients/kafka_client"
	"github.com/spacesedan/reviewguard/internal/metrics"
)

const (
	MAX_ATTEMPTS       = 5
	UNHEALTHY_WAIT     = 5 * time.Second
	DEAD_LETTER_PERIOD = 5 * time.Second
)

type Runner interface {
	Run(ctx context.Context, reviewID int64) error
}

type DeadLetterPublisher interface {
	PublishDeadLetter(ctx context.Context, msg *kafka.Message, attempts int, cause error) error
}

type MessageIterator interface {
	Next() (*kafka.Message, error)
}

type Committer interface {
	Commit(msg *kafka.Message) error
}

// ModerationConsumer runs the orchestrator once per moderation request.
// Messages are handled one at a time and committed only after a verdict was
// stored or the message went to the dead letter topic.
type ModerationConsumer struct {
	runner     Runner
	deadLetter DeadLetterPublisher
	logger     *slog.Logger

	newBackOff     func() backoff.BackOff
	deadLetterWait time.Duration
	unhealthyWait  time.Duration
}

func NewModerationConsumer(runner Runner, deadLetter DeadLetterPublisher, logger *slog.Logger) *ModerationConsumer {
	if logger == nil {
		logger = slog.Default()
	}
	return &ModerationConsumer{
		runner:     runner,
		deadLetter: deadLetter,
		logger:     logger,
		newBackOff: func() backoff.BackOff {
			return backoff.WithMaxRetries(backoff.NewExponentialBackOff(), MAX_ATTEMPTS-1)
		},
		deadLetterWait: DEAD_LETTER_PERIOD,
		unhealthyWait:  UNHEALTHY_WAIT,
	}
}

// Start matches ConsumerFunc.
func (mc *ModerationConsumer) Start(ctx context.Context, consumer *kafka.Consumer, health ...*atomic.Bool) {
	mc.consume(ctx,
		kafka_client.NewKafkaMessageIterator(ctx, consumer),
		kafka_client.NewCommitHandler(ctx, consumer),
		health...)
}

func (mc *ModerationConsumer) consume(ctx context.Context, iterator MessageIterator, committer Committer, health ...*atomic.Bool) {
	mc.logger.Info("[ModerationConsumer] Listening for messages...")

	for {
		select {
		case <-ctx.Done():
			mc.logger.Warn("[ModerationConsumer] Stopping consumer...")
			return
		default:
		}

		if !allHealthy(health) {
			mc.logger.Warn("[ModerationConsumer] Verdict store unhealthy, pausing consumption")
			select {
			case <-ctx.Done():
			case <-time.After(mc.unhealthyWait):
			}
			continue
		}

		msg, err := iterator.Next()
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			mc.logger.Error("[ModerationConsumer] Kafka Consumer Error",
				slog.String("error", err.Error()))
			continue
		}

		if !mc.handle(ctx, msg) {
			// leave the offset where it is so the message is redelivered
			continue
		}
		if err := committer.Commit(msg); err != nil {
			mc.logger.Warn("[ModerationConsumer] Failed to commit offset",
				slog.String("error", err.Error()))
		}
	}
}

// handle processes msg and reports whether its offset may be committed.
func (mc *ModerationConsumer) handle(ctx context.Context, msg *kafka.Message) bool {
	attempts, err := mc.processMessage(ctx, msg)
	if err == nil {
		metrics.DispatchTotal.WithLabelValues("processed").Inc()
		return true
	}
	if ctx.Err() != nil {
		mc.logger.Warn("[ModerationConsumer] Shutdown during processing, message will be redelivered",
			slog.String("key", string(msg.Key)))
		return false
	}

	mc.logger.Error("[ModerationConsumer] Giving up on message",
		slog.String("key", string(msg.Key)),
		slog.Int("attempts", attempts),
		slog.Bool("permanent", IsPermanent(err)),
		slog.String("error", err.Error()))

	if !mc.publishDeadLetter(ctx, msg, attempts, err) {
		return false
	}
	metrics.DispatchTotal.WithLabelValues("dead_lettered").Inc()
	return true
}

// processMessage decodes msg and runs the orchestrator with retries. It returns
// the number of orchestrator attempts made.
func (mc *ModerationConsumer) processMessage(ctx context.Context, msg *kafka.Message) (int, error) {
	req, err := kafka_client.DecodeModerationRequest(msg.Value)
	if err != nil {
		return 0, Permanent(err)
	}

	attempts := 0
	operation := func() error {
		attempts++
		err := mc.runSafely(ctx, req.ReviewID)
		if err == nil {
			return nil
		}
		if IsPermanent(err) {
			return backoff.Permanent(err)
		}
		mc.logger.Warn("[ModerationConsumer] Orchestration failed, retrying...",
			slog.Int64("review_id", req.ReviewID),
			slog.Int("attempt", attempts),
			slog.String("error", err.Error()))
		metrics.DispatchTotal.WithLabelValues("retried").Inc()
		return err
	}

	err = backoff.Retry(operation, backoff.WithContext(mc.newBackOff(), ctx))
	return attempts, err
}

func (mc *ModerationConsumer) runSafely(ctx context.Context, reviewID int64) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = Permanent(fmt.Errorf("orchestrator panicked: %v", r))
		}
	}()
	return mc.runner.Run(ctx, reviewID)
}

func (mc *ModerationConsumer) publishDeadLetter(ctx context.Context, msg *kafka.Message, attempts int, cause error) bool {
	if mc.deadLetter == nil {
		mc.logger.Error("[ModerationConsumer] No dead letter topic configured, dropping message",
			slog.String("key", string(msg.Key)))
		return true
	}

	bo := backoff.WithContext(backoff.NewConstantBackOff(mc.deadLetterWait), ctx)
	err := backoff.Retry(func() error {
		err := mc.deadLetter.PublishDeadLetter(ctx, msg, attempts, cause)
		if err != nil {
			mc.logger.Warn("[ModerationConsumer] Failed to publish dead letter, retrying...",
				slog.String("error", err.Error()))
		}
		return err
	}, bo)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			mc.logger.Error("[ModerationConsumer] Dead letter publishing aborted",
				slog.String("error", err.Error()))
		}
		return false
	}
	return true
}
