// internal/storage/storage.go

// Package storage wraps object storage for migrated applicant files.
package storage

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"formsync/internal/common/config"
)

// Storage wraps MinIO/S3 interactions for migrated files.
type Storage struct {
	client        *minio.Client
	bucket        string
	region        string
	urlTTL        time.Duration
	externalHosts []string
}

// New creates a MinIO client from the Config.
func New(cfg config.StorageConfig) (*Storage, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("init minio: %w", err)
	}
	return &Storage{
		client:        client,
		bucket:        cfg.Bucket,
		region:        cfg.Region,
		urlTTL:        time.Duration(cfg.SignedURLTTL) * time.Second,
		externalHosts: cfg.ExternalHosts,
	}, nil
}

// EnsureBucket makes sure the file bucket exists before use.
func (s *Storage) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", s.bucket, err)
	}
	if !exists {
		if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{Region: s.region}); err != nil {
			return fmt.Errorf("make bucket %s: %w", s.bucket, err)
		}
	}
	return nil
}

// Upload writes one object. With overwrite=false an existing object at the
// same key is an error; a migrated file is never silently clobbered.
func (s *Storage) Upload(ctx context.Context, objectKey string, reader io.Reader, size int64, contentType string, overwrite bool) (string, error) {
	if !overwrite {
		if _, err := s.client.StatObject(ctx, s.bucket, objectKey, minio.StatObjectOptions{}); err == nil {
			return "", fmt.Errorf("object %s already exists", objectKey)
		}
	}

	opts := minio.PutObjectOptions{ContentType: contentType}
	if _, err := s.client.PutObject(ctx, s.bucket, objectKey, reader, size, opts); err != nil {
		return "", fmt.Errorf("upload object %s: %w", objectKey, err)
	}
	return objectKey, nil
}

// SignedURL returns a time-limited GET URL for a stored object.
func (s *Storage) SignedURL(ctx context.Context, objectKey string) (string, error) {
	u, err := s.client.PresignedGetObject(ctx, s.bucket, objectKey, s.urlTTL, url.Values{})
	if err != nil {
		return "", fmt.Errorf("presign object %s: %w", objectKey, err)
	}
	return u.String(), nil
}

// IsExternalHostedURL reports whether a URL still points at the upstream
// CDN. This predicate is the single source of truth for needs-migration
// decisions.
func (s *Storage) IsExternalHostedURL(raw string) bool {
	return IsExternalHostedURL(raw, s.externalHosts)
}

// IsExternalHostedURL matches a URL's hostname against the known CDN hosts,
// including their subdomains.
func IsExternalHostedURL(raw string, hosts []string) bool {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return false
	}
	host := strings.ToLower(u.Hostname())
	for _, h := range hosts {
		h = strings.ToLower(h)
		if host == h || strings.HasSuffix(host, "."+h) {
			return true
		}
	}
	return false
}
