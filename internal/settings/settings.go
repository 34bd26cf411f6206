// internal/settings/settings.go

// Package settings reads operator-managed key/value configuration from the
// settings table, fronted by a short-lived Redis cache. Credentials and form
// ids live here rather than in environment config so operators can rotate
// them without a redeploy; every sync cycle re-reads them.
package settings

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"formsync/internal/common/errors"
	"formsync/internal/common/logger"
)

const cacheKey = "settings:all"

// Well-known settings keys.
const (
	KeyFormAPIKey        = "form_api_key"
	KeyApplicationFormID = "application_form_id"
)

type Provider struct {
	db     *sql.DB
	cache  *redis.Client
	ttl    time.Duration
	logger logger.Logger
}

func NewProvider(db *sql.DB, cache *redis.Client, ttl time.Duration, log logger.Logger) *Provider {
	if ttl <= 0 {
		ttl = 60 * time.Second
	}
	return &Provider{
		db:     db,
		cache:  cache,
		ttl:    ttl,
		logger: log.WithFields(map[string]interface{}{"component": "settings"}),
	}
}

// Values returns every settings row as a map. Cache failures are absorbed:
// Redis being down degrades to a database read, never to an error.
func (p *Provider) Values(ctx context.Context) (map[string]string, error) {
	if p.cache != nil {
		if cached, err := p.cache.Get(ctx, cacheKey).Result(); err == nil {
			var values map[string]string
			if err := json.Unmarshal([]byte(cached), &values); err == nil {
				return values, nil
			}
			p.logger.Warn("discarding malformed settings cache entry", nil)
		}
	}

	values, err := p.load(ctx)
	if err != nil {
		return nil, err
	}

	if p.cache != nil {
		payload, _ := json.Marshal(values)
		if err := p.cache.Set(ctx, cacheKey, payload, p.ttl).Err(); err != nil {
			p.logger.Warn("failed to cache settings", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}
	return values, nil
}

// Invalidate drops the cached settings so the next read hits the database.
func (p *Provider) Invalidate(ctx context.Context) {
	if p.cache == nil {
		return
	}
	if err := p.cache.Del(ctx, cacheKey).Err(); err != nil {
		p.logger.Warn("failed to invalidate settings cache", map[string]interface{}{
			"error": err.Error(),
		})
	}
}

func (p *Provider) load(ctx context.Context) (map[string]string, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT key, value FROM settings`)
	if err != nil {
		return nil, errors.NewQueryFailedError("load settings", err)
	}
	defer rows.Close()

	values := make(map[string]string)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, errors.NewQueryFailedError("scan settings row", err)
		}
		values[key] = value
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewQueryFailedError("iterate settings rows", err)
	}
	return values, nil
}
