package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/eriker75/onenglish-sub002/internal/config"
	"github.com/minio/minio-go/v7"
)

// ObjectClient is the subset of the S3 API the backend needs.
type ObjectClient interface {
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	GetObject(ctx context.Context, bucketName, objectName string, opts minio.GetObjectOptions) (io.ReadCloser, error)
	StatObject(ctx context.Context, bucketName, objectName string, opts minio.StatObjectOptions) (minio.ObjectInfo, error)
	RemoveObject(ctx context.Context, bucketName, objectName string, opts minio.RemoveObjectOptions) error
	BucketExists(ctx context.Context, bucketName string) (bool, error)
	PresignedGetObject(ctx context.Context, bucketName, objectName string, expiry time.Duration, params url.Values) (*url.URL, error)
}

// ObjectStore keeps each (category, storedName) under the key
// "{category}/{storedName}" in a single bucket.
type ObjectStore struct {
	client ObjectClient
	cfg    config.S3Config
}

// NewObjectStore constructs the backend over client.
func NewObjectStore(client ObjectClient, cfg config.S3Config) *ObjectStore {
	return &ObjectStore{client: client, cfg: cfg}
}

// Put uploads sourcePath with a single PUT, so the object is either fully
// visible or absent.
func (s *ObjectStore) Put(ctx context.Context, category, storedName, sourcePath, contentType string) (string, error) {
	if err := validateKey(category, storedName); err != nil {
		return "", err
	}
	key := ObjectKey(category, storedName)

	f, err := os.Open(sourcePath)
	if err != nil {
		return "", fmt.Errorf("open source: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", fmt.Errorf("stat source: %w", err)
	}

	if contentType == "" {
		contentType = "application/octet-stream"
	}
	if _, err := s.client.PutObject(ctx, s.cfg.Bucket, key, f, info.Size(), minio.PutObjectOptions{
		ContentType: contentType,
	}); err != nil {
		return "", fmt.Errorf("put object %s: %w", key, err)
	}
	return key, nil
}

// Open streams the object. Caller must close the returned ReadCloser.
func (s *ObjectStore) Open(ctx context.Context, category, storedName string) (io.ReadCloser, error) {
	if err := validateKey(category, storedName); err != nil {
		return nil, err
	}
	key := ObjectKey(category, storedName)

	rc, err := s.client.GetObject(ctx, s.cfg.Bucket, key, minio.GetObjectOptions{})
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%w: %s", ErrObjectNotFound, key)
		}
		return nil, fmt.Errorf("get object %s: %w", key, err)
	}
	return rc, nil
}

// Delete removes the object. A missing key is success.
func (s *ObjectStore) Delete(ctx context.Context, category, storedName string) error {
	if err := validateKey(category, storedName); err != nil {
		return err
	}
	key := ObjectKey(category, storedName)

	if err := s.client.RemoveObject(ctx, s.cfg.Bucket, key, minio.RemoveObjectOptions{}); err != nil {
		if isNotFound(err) {
			return nil
		}
		return fmt.Errorf("remove object %s: %w", key, err)
	}
	return nil
}

// Exists reports whether the key is present.
func (s *ObjectStore) Exists(ctx context.Context, category, storedName string) (bool, error) {
	if err := validateKey(category, storedName); err != nil {
		return false, err
	}
	key := ObjectKey(category, storedName)

	if _, err := s.client.StatObject(ctx, s.cfg.Bucket, key, minio.StatObjectOptions{}); err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("stat object %s: %w", key, err)
	}
	return true, nil
}

// PublicURL derives the object's URL from the configured addressing mode:
//
//	global    https://{bucket}.s3.amazonaws.com/{key}
//	regional  https://{bucket}.s3.{region}.amazonaws.com/{key}
//	custom    {scheme}://{endpoint}/{bucket}/{key}   (path style)
//	          {scheme}://{bucket}.{endpoint}/{key}   (virtual-hosted)
func (s *ObjectStore) PublicURL(category, storedName string) string {
	key := escapeKey(ObjectKey(category, storedName))
	bucket := s.cfg.Bucket

	switch s.cfg.URLStyle {
	case config.URLStyleRegional:
		return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", bucket, s.cfg.Region, key)
	case config.URLStyleCustom:
		scheme := "http"
		if s.cfg.UseSSL {
			scheme = "https"
		}
		endpoint := stripScheme(s.cfg.Endpoint)
		if s.cfg.ForcePathStyle {
			return fmt.Sprintf("%s://%s/%s/%s", scheme, endpoint, bucket, key)
		}
		return fmt.Sprintf("%s://%s.%s/%s", scheme, bucket, endpoint, key)
	default:
		return fmt.Sprintf("https://%s.s3.amazonaws.com/%s", bucket, key)
	}
}

// PresignGet returns a time-limited download URL for private buckets.
func (s *ObjectStore) PresignGet(ctx context.Context, category, storedName string, ttl time.Duration) (string, error) {
	if err := validateKey(category, storedName); err != nil {
		return "", err
	}
	if ttl <= 0 {
		ttl = s.cfg.PresignTTL
	}
	u, err := s.client.PresignedGetObject(ctx, s.cfg.Bucket, ObjectKey(category, storedName), ttl, url.Values{})
	if err != nil {
		return "", fmt.Errorf("presign object: %w", err)
	}
	return u.String(), nil
}

// Ping checks that the bucket is reachable.
func (s *ObjectStore) Ping(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.cfg.Bucket)
	if err != nil {
		return fmt.Errorf("check bucket: %w", err)
	}
	if !exists {
		return fmt.Errorf("bucket %q does not exist", s.cfg.Bucket)
	}
	return nil
}

// isNotFound folds every S3 "missing" response into one answer.
func isNotFound(err error) bool {
	var resp minio.ErrorResponse
	if !errors.As(err, &resp) {
		return false
	}
	switch resp.Code {
	case "NoSuchKey", "NotFound":
		return true
	}
	return resp.StatusCode == http.StatusNotFound && resp.Code != "NoSuchBucket"
}

func escapeKey(key string) string {
	parts := strings.Split(key, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return strings.Join(parts, "/")
}
