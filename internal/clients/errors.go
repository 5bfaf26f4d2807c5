package clients

import (
	"context"
	"fmt"

	"github.com/spacesedan/reviewguard/internal/models"
)

// ErrorRecorder is the error log sink as seen by the classifier clients.
type ErrorRecorder interface {
	Record(ctx context.Context, service models.ClassifierService, inputText string, err error, statusCode *int) *models.ErrorRecord
}

// ResponseError is a non-2xx answer from a classifier. It exposes the status and
// body to the error log sink.
type ResponseError struct {
	Service    string
	StatusCode int
	Body       string
	Err        error
}

func (e *ResponseError) Error() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s returned status %d", e.Service, e.StatusCode)
}

func (e *ResponseError) Unwrap() error { return e.Err }

func (e *ResponseError) ResponseStatus() int  { return e.StatusCode }
func (e *ResponseError) ResponseBody() string { return e.Body }
