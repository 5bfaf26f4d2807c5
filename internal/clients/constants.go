package clients

import "time"

const (
	DEFAULT_CLASSIFIER_TIMEOUT = 10 * time.Second
	MAX_RESPONSE_BYTES         = 1 << 20
	MAX_ERROR_BODY_BYTES       = 4 << 10
	USER_AGENT                 = "reviewguard-client/1.0 (+https://github.com/spacesedan/reviewguard)"
)
