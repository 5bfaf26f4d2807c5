package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/spacesedan/reviewguard/internal/errorlog"
	"github.com/spacesedan/reviewguard/internal/models"
)

const (
	insertErrorQuery = `
        INSERT INTO ai_service_errors (id, service, input_text, error_message, status_code, timestamp)
        VALUES ($1, $2, $3, $4, $5, $6)
    `
	selectErrorColumns = `
        SELECT id::text, service, input_text, error_message, status_code, timestamp
        FROM ai_service_errors
    `
)

// ErrorLogStore keeps error records in Postgres.
type ErrorLogStore struct {
	db DBTX
}

func NewErrorLogStore(db DBTX) *ErrorLogStore {
	return &ErrorLogStore{db: db}
}

func (s *ErrorLogStore) InsertError(ctx context.Context, rec *models.ErrorRecord) error {
	_, err := s.db.Exec(ctx, insertErrorQuery,
		rec.ID, string(rec.Service), rec.InputText, rec.ErrorMessage, rec.StatusCode, rec.Timestamp)
	if err != nil {
		return fmt.Errorf("failed to insert error record: %w", err)
	}
	return nil
}

func (s *ErrorLogStore) ListErrors(ctx context.Context, service models.ClassifierService, limit int) ([]models.ErrorRecord, error) {
	var (
		rows pgx.Rows
		err  error
	)
	if service == "" {
		rows, err = s.db.Query(ctx, selectErrorColumns+" ORDER BY timestamp DESC LIMIT $1", limit)
	} else {
		rows, err = s.db.Query(ctx, selectErrorColumns+" WHERE service = $1 ORDER BY timestamp DESC LIMIT $2", string(service), limit)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list error records: %w", err)
	}
	defer rows.Close()

	records := []models.ErrorRecord{}
	for rows.Next() {
		rec, err := scanErrorRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read error records: %w", err)
	}
	return records, nil
}

func (s *ErrorLogStore) GetError(ctx context.Context, id string) (*models.ErrorRecord, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, errorlog.ErrRecordNotFound
	}

	rec, err := scanErrorRecord(s.db.QueryRow(ctx, selectErrorColumns+" WHERE id = $1", id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errorlog.ErrRecordNotFound
	}
	return rec, err
}

func scanErrorRecord(row pgx.Row) (*models.ErrorRecord, error) {
	var (
		rec     models.ErrorRecord
		service string
	)
	if err := row.Scan(&rec.ID, &service, &rec.InputText, &rec.ErrorMessage, &rec.StatusCode, &rec.Timestamp); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan error record: %w", err)
	}
	rec.Service = models.ClassifierService(service)
	return &rec, nil
}
