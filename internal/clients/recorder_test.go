package clients

import (
	"context"
	"sync"

	"github.com/spacesedan/reviewguard/internal/errorlog"
	"github.com/spacesedan/reviewguard/internal/models"
)

type recordedError struct {
	service models.ClassifierService
	input   string
	message string
	status  *int
}

// fakeRecorder mirrors the sink's message/status handling without a store.
type fakeRecorder struct {
	mu      sync.Mutex
	records []recordedError
}

func (f *fakeRecorder) Record(_ context.Context, service models.ClassifierService, input string, err error, status *int) *models.ErrorRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	message, status := errorlog.Describe(err, status)
	f.records = append(f.records, recordedError{service: service, input: input, message: message, status: status})
	return &models.ErrorRecord{Service: service, InputText: input, ErrorMessage: message, StatusCode: status}
}

func (f *fakeRecorder) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.records)
}
