// internal/migrate/migrator.go

// Package migrate copies externally-hosted files into internal object
// storage. Migration is best-effort: failures are reported in the Result,
// never propagated, and the caller keeps the original URL as fallback.
package migrate

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	"formsync/internal/common/errors"
	"formsync/internal/common/logger"
	"formsync/internal/common/metrics"
	"formsync/internal/formapi"
	"formsync/internal/models"
)

// Uploader is the slice of the storage layer the migrator needs.
type Uploader interface {
	Upload(ctx context.Context, objectKey string, reader io.Reader, size int64, contentType string, overwrite bool) (string, error)
}

// CallLogger records one row per migration attempt, alongside the upstream
// API attempts. Recording failures never abort the migration.
type CallLogger interface {
	Record(ctx context.Context, entry models.CallLogEntry) error
}

// Result reports one migration attempt.
type Result struct {
	OK          bool
	StoragePath string
	Err         error
}

type Migrator struct {
	uploader   Uploader
	httpClient *http.Client
	callLog    CallLogger
	logger     logger.Logger
	now        func() time.Time
}

func New(uploader Uploader, callLog CallLogger, log logger.Logger) *Migrator {
	return &Migrator{
		uploader: uploader,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
		callLog: callLog,
		logger:  log.WithFields(map[string]interface{}{"component": "migrate"}),
		now:     time.Now,
	}
}

// Migrate downloads sourceURL and stores it under
// {ownerKey}/{ownerKey}_{unixMillis}.{ext}. A non-2xx download response is a
// migration failure and is not retried here; the caller decides whether to
// keep the original URL. Every attempt is recorded in the call log.
func (m *Migrator) Migrate(ctx context.Context, sourceURL, ownerKey string) Result {
	started := time.Now()
	res := m.migrate(ctx, sourceURL, ownerKey)
	m.record(ctx, sourceURL, ownerKey, res, time.Since(started))
	return res
}

func (m *Migrator) migrate(ctx context.Context, sourceURL, ownerKey string) Result {
	body, contentType, err := m.download(ctx, sourceURL)
	if err != nil {
		return m.fail(sourceURL, err)
	}

	objectKey := fmt.Sprintf("%s/%s_%d%s", ownerKey, ownerKey, m.now().UnixMilli(), extensionOf(sourceURL))

	storagePath, err := m.uploader.Upload(ctx, objectKey, bytes.NewReader(body), int64(len(body)), contentType, false)
	if err != nil {
		return m.fail(sourceURL, err)
	}

	metrics.FilesMigrated.WithLabelValues("success").Inc()
	m.logger.Info("file migrated", map[string]interface{}{
		"sourceUrl":   sourceURL,
		"storagePath": storagePath,
		"bytes":       len(body),
	})
	return Result{OK: true, StoragePath: storagePath}
}

func (m *Migrator) download(ctx context.Context, sourceURL string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sourceURL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("build download request: %w", err)
	}

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("download failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, "", fmt.Errorf("download failed with status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("read download body: %w", err)
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = http.DetectContentType(body)
	}
	return body, contentType, nil
}

func (m *Migrator) record(ctx context.Context, sourceURL, ownerKey string, res Result, elapsed time.Duration) {
	if m.callLog == nil {
		return
	}
	entry := models.CallLogEntry{
		Endpoint:   sourceURL,
		Success:    res.OK,
		DurationMs: elapsed.Milliseconds(),
		LimitLeft:  -1,
		Metadata: map[string]interface{}{
			"operation": "file_migration",
			"ownerKey":  ownerKey,
		},
	}
	if res.StoragePath != "" {
		entry.Metadata["storagePath"] = res.StoragePath
	}
	if cycleID := formapi.CycleID(ctx); cycleID != "" {
		entry.Metadata["syncId"] = cycleID
	}
	if res.Err != nil {
		entry.Error = res.Err.Error()
	}
	if err := m.callLog.Record(ctx, entry); err != nil {
		m.logger.Warn("call log insert failed", map[string]interface{}{
			"sourceUrl": sourceURL,
			"error":     err,
		})
	}
}

func (m *Migrator) fail(sourceURL string, err error) Result {
	metrics.FilesMigrated.WithLabelValues("failure").Inc()
	stdErr := errors.NewMigrationFailedError(sourceURL, err)
	m.logger.Warn("file migration failed", map[string]interface{}{
		"sourceUrl": sourceURL,
		"error":     err.Error(),
	})
	return Result{Err: stdErr}
}

// extensionOf extracts the file extension from the URL path, defaulting to a
// generic binary extension.
func extensionOf(sourceURL string) string {
	trimmed := sourceURL
	if idx := strings.IndexAny(trimmed, "?#"); idx >= 0 {
		trimmed = trimmed[:idx]
	}
	ext := path.Ext(trimmed)
	if ext == "" || len(ext) > 8 {
		return ".bin"
	}
	return ext
}
