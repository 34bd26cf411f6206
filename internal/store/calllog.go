// internal/store/calllog.go
package store

import (
	"context"
	"database/sql"
	"encoding/json"

	"formsync/internal/common/errors"
	"formsync/internal/models"
)

// CallLogStore appends one row per upstream HTTP attempt. The table is an
// audit trail for quota disputes; rows are never updated.
type CallLogStore struct {
	db *sql.DB
}

func NewCallLogStore(db *sql.DB) *CallLogStore {
	return &CallLogStore{db: db}
}

func (s *CallLogStore) Record(ctx context.Context, entry models.CallLogEntry) error {
	var limitLeft interface{}
	if entry.LimitLeft >= 0 {
		limitLeft = entry.LimitLeft
	}

	var metadata interface{}
	if len(entry.Metadata) > 0 {
		payload, err := json.Marshal(entry.Metadata)
		if err == nil {
			metadata = string(payload)
		}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO call_log
			(endpoint, success, status_code, duration_ms, limit_left, error, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7, NOW())`,
		entry.Endpoint, entry.Success, entry.StatusCode, entry.DurationMs,
		limitLeft, entry.Error, metadata)
	if err != nil {
		return errors.NewQueryFailedError("record call log entry", err)
	}
	return nil
}
