package consumers

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/confluentinc/confluent-kafka-go/kafka"
	"github.com/spacesedan/reviewguard/internal/clients/kafka_client"
	"github.com/spacesedan/reviewguard/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptedRunner struct {
	errs  map[int64][]error
	calls map[int64]int
	panic bool
}

func (s *scriptedRunner) Run(_ context.Context, reviewID int64) error {
	if s.calls == nil {
		s.calls = map[int64]int{}
	}
	s.calls[reviewID]++
	if s.panic {
		panic("boom")
	}
	queue := s.errs[reviewID]
	if len(queue) == 0 {
		return nil
	}
	err := queue[0]
	s.errs[reviewID] = queue[1:]
	return err
}

type recordingDLQ struct {
	messages []*kafka.Message
	attempts []int
	causes   []error
	failures int
}

func (r *recordingDLQ) PublishDeadLetter(_ context.Context, msg *kafka.Message, attempts int, cause error) error {
	if r.failures > 0 {
		r.failures--
		return errors.New("broker unavailable")
	}
	r.messages = append(r.messages, msg)
	r.attempts = append(r.attempts, attempts)
	r.causes = append(r.causes, cause)
	return nil
}

type sliceIterator struct {
	messages []*kafka.Message
	cancel   context.CancelFunc
}

func (s *sliceIterator) Next() (*kafka.Message, error) {
	if len(s.messages) == 0 {
		s.cancel()
		return nil, context.Canceled
	}
	msg := s.messages[0]
	s.messages = s.messages[1:]
	return msg, nil
}

type recordingCommitter struct {
	committed []*kafka.Message
}

func (r *recordingCommitter) Commit(msg *kafka.Message) error {
	r.committed = append(r.committed, msg)
	return nil
}

func newTestConsumer(runner Runner, dlq DeadLetterPublisher) *ModerationConsumer {
	mc := NewModerationConsumer(runner, dlq, logging.Discard())
	mc.newBackOff = func() backoff.BackOff {
		return backoff.WithMaxRetries(&backoff.ZeroBackOff{}, MAX_ATTEMPTS-1)
	}
	mc.deadLetterWait = time.Millisecond
	mc.unhealthyWait = time.Millisecond
	return mc
}

func requestMessage(t *testing.T, reviewID int64) *kafka.Message {
	t.Helper()
	msg, err := kafka_client.NewModerationMessage(kafka_client.KAFKA_TOPIC_REVIEW_MODERATION, reviewID)
	require.NoError(t, err)
	return msg
}

func TestProcessMessageRetriesTransientFailures(t *testing.T) {
	runner := &scriptedRunner{errs: map[int64][]error{
		3: {errors.New("db timeout"), errors.New("db timeout")},
	}}
	mc := newTestConsumer(runner, &recordingDLQ{})

	attempts, err := mc.processMessage(context.Background(), requestMessage(t, 3))

	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
	assert.Equal(t, 3, runner.calls[3])
}

func TestProcessMessageUndecodableIsPermanent(t *testing.T) {
	runner := &scriptedRunner{}
	mc := newTestConsumer(runner, &recordingDLQ{})

	attempts, err := mc.processMessage(context.Background(), &kafka.Message{Value: []byte("not json")})

	assert.True(t, IsPermanent(err))
	assert.Zero(t, attempts)
	assert.Empty(t, runner.calls)
}

func TestProcessMessagePanicIsPermanent(t *testing.T) {
	mc := newTestConsumer(&scriptedRunner{panic: true}, &recordingDLQ{})

	attempts, err := mc.processMessage(context.Background(), requestMessage(t, 4))

	assert.True(t, IsPermanent(err))
	assert.Equal(t, 1, attempts)
}

func TestConsumeCommitsProcessedAndDeadLettered(t *testing.T) {
	failing := make([]error, MAX_ATTEMPTS)
	for i := range failing {
		failing[i] = errors.New("database unavailable")
	}
	runner := &scriptedRunner{errs: map[int64][]error{2: failing}}
	dlq := &recordingDLQ{failures: 1}
	mc := newTestConsumer(runner, dlq)

	ok := requestMessage(t, 1)
	bad := requestMessage(t, 2)
	garbage := &kafka.Message{Key: []byte("x"), Value: []byte(`{"review_id": "x"}`)}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	iterator := &sliceIterator{messages: []*kafka.Message{ok, bad, garbage}, cancel: cancel}
	committer := &recordingCommitter{}

	mc.consume(ctx, iterator, committer)

	assert.Equal(t, []*kafka.Message{ok, bad, garbage}, committer.committed)
	assert.Equal(t, 1, runner.calls[1])
	assert.Equal(t, MAX_ATTEMPTS, runner.calls[2])

	require.Len(t, dlq.messages, 2)
	assert.Same(t, bad, dlq.messages[0])
	assert.Equal(t, MAX_ATTEMPTS, dlq.attempts[0])
	assert.EqualError(t, dlq.causes[0], "database unavailable")
	assert.Same(t, garbage, dlq.messages[1])
	assert.True(t, IsPermanent(dlq.causes[1]))
}

func TestConsumeDoesNotCommitOnShutdown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	runner := &cancelingRunner{cancel: cancel}
	mc := newTestConsumer(runner, &recordingDLQ{})

	iterator := &sliceIterator{messages: []*kafka.Message{requestMessage(t, 1)}, cancel: cancel}
	committer := &recordingCommitter{}

	mc.consume(ctx, iterator, committer)

	assert.Empty(t, committer.committed)
}

type cancelingRunner struct {
	cancel context.CancelFunc
}

func (c *cancelingRunner) Run(ctx context.Context, _ int64) error {
	c.cancel()
	return ctx.Err()
}

func TestConsumePausesWhileUnhealthy(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	healthy := &atomic.Bool{}
	runner := &scriptedRunner{}
	mc := newTestConsumer(runner, &recordingDLQ{})
	iterator := &sliceIterator{messages: []*kafka.Message{requestMessage(t, 1)}, cancel: cancel}
	committer := &recordingCommitter{}

	done := make(chan struct{})
	go func() {
		mc.consume(ctx, iterator, committer, healthy)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	assert.Len(t, iterator.messages, 1, "no reads while unhealthy")

	healthy.Store(true)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("consumer did not resume")
	}
	assert.Len(t, committer.committed, 1)
}

func TestPermanentError(t *testing.T) {
	assert.Nil(t, Permanent(nil))

	base := errors.New("bad payload")
	err := Permanent(base)
	assert.ErrorIs(t, err, base)
	assert.True(t, IsPermanent(err))
	assert.False(t, IsPermanent(base))
	assert.Equal(t, "bad payload", err.Error())
}
