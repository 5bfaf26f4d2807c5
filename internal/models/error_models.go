package models

import "time"

type ClassifierService string

const (
	ServiceModeration    ClassifierService = "moderation"
	ServiceSpamDetection ClassifierService = "spam_detection"
)

func (s ClassifierService) Valid() bool {
	return s == ServiceModeration || s == ServiceSpamDetection
}

// ErrorRecord is an append-only record of a failed classifier call.
type ErrorRecord struct {
	ID           string            `json:"id" dynamodbav:"id"`
	Service      ClassifierService `json:"service" dynamodbav:"service"`
	InputText    string            `json:"input_text" dynamodbav:"input_text"`
	ErrorMessage string            `json:"error_message" dynamodbav:"error_message"`
	StatusCode   *int              `json:"status_code,omitempty" dynamodbav:"status_code,omitempty"`
	Timestamp    time.Time         `json:"timestamp" dynamodbav:"timestamp"`
}
