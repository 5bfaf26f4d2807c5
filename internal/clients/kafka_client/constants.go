package kafka_client

import "time"

const (
	KAFKA_TOPIC_REVIEW_MODERATION     = "review-moderation"     // one message per review awaiting a verdict
	KAFKA_TOPIC_REVIEW_MODERATION_DLQ = "review-moderation-dlq" // messages that exhausted their retries
)

const (
	HEADER_ERROR        = "x-error"
	HEADER_SOURCE_TOPIC = "x-source-topic"
	HEADER_ATTEMPTS     = "x-attempts"
)

const (
	POLL_TIMEOUT      = 500 * time.Millisecond
	DELIVERY_WAIT     = 10 * time.Second
	FLUSH_TIMEOUT_MS  = 5000
	MAX_RETRIES       = 5
	MAX_PRODUCE_TRIES = 3
	RETRY_DELAY       = 2 * time.Second
)
