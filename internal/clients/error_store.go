package clients

import (
	"context"
	"log/slog"

	"github.com/spacesedan/reviewguard/config"
	"github.com/spacesedan/reviewguard/internal/db"
	"github.com/spacesedan/reviewguard/internal/errorlog"
)

// NewErrorStore picks the error log backend named by ERROR_LOG_BACKEND.
func NewErrorStore(ctx context.Context, cfg *config.Config, pool db.DBTX) (errorlog.Store, error) {
	if cfg.ErrorLogBackend != config.ErrorLogBackendDynamo {
		return db.NewErrorLogStore(pool), nil
	}

	client, err := NewDynamoDBClient(ctx, cfg.Dynamo)
	if err != nil {
		return nil, err
	}
	slog.Info("[ErrorStore] Recording classifier errors in DynamoDB",
		slog.String("table", cfg.Dynamo.ErrorTable))
	return db.NewDynamoErrorLog(client, cfg.Dynamo.ErrorTable), nil
}
