package storage

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/eriker75/onenglish-sub002/internal/config"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

const defaultObjectStoreTimeout = 5 * time.Second

// NewMinIOClient builds an S3 client for the configured URL style.
func NewMinIOClient(cfg config.S3Config) (*minio.Client, error) {
	endpoint, secure := s3Endpoint(cfg)

	lookup := minio.BucketLookupDNS
	if cfg.ForcePathStyle {
		lookup = minio.BucketLookupPath
	} else if cfg.URLStyle == config.URLStyleCustom {
		lookup = minio.BucketLookupAuto
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:        credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure:       secure,
		Region:       cfg.Region,
		BucketLookup: lookup,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	return client, nil
}

// EnsureBucket ensures the target bucket exists, creating it if necessary.
func EnsureBucket(ctx context.Context, client *minio.Client, bucket, region string) error {
	ctx, cancel := context.WithTimeout(ctx, defaultObjectStoreTimeout)
	defer cancel()

	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return fmt.Errorf("check bucket existence: %w", err)
	}

	if exists {
		return nil
	}

	if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{Region: region}); err != nil {
		return fmt.Errorf("create bucket %q: %w", bucket, err)
	}

	return nil
}

// s3Endpoint returns the host the client talks to and whether TLS is used.
func s3Endpoint(cfg config.S3Config) (string, bool) {
	switch cfg.URLStyle {
	case config.URLStyleRegional:
		return fmt.Sprintf("s3.%s.amazonaws.com", cfg.Region), true
	case config.URLStyleCustom:
		return stripScheme(cfg.Endpoint), cfg.UseSSL
	default:
		return "s3.amazonaws.com", true
	}
}

func stripScheme(endpoint string) string {
	endpoint = strings.TrimPrefix(endpoint, "https://")
	endpoint = strings.TrimPrefix(endpoint, "http://")
	return strings.TrimRight(endpoint, "/")
}

// MinIOClient adapts minio.Client to ObjectClient.
type MinIOClient struct {
	client *minio.Client
}

// NewMinIOAdapter wraps a minio client.
func NewMinIOAdapter(client *minio.Client) *MinIOClient {
	return &MinIOClient{client: client}
}

func (m *MinIOClient) PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error) {
	return m.client.PutObject(ctx, bucketName, objectName, reader, objectSize, opts)
}

// GetObject stats the object before returning so a missing key fails here and
// not on the first Read.
func (m *MinIOClient) GetObject(ctx context.Context, bucketName, objectName string, opts minio.GetObjectOptions) (io.ReadCloser, error) {
	obj, err := m.client.GetObject(ctx, bucketName, objectName, opts)
	if err != nil {
		return nil, err
	}
	if _, err := obj.Stat(); err != nil {
		obj.Close()
		return nil, err
	}
	return obj, nil
}

func (m *MinIOClient) StatObject(ctx context.Context, bucketName, objectName string, opts minio.StatObjectOptions) (minio.ObjectInfo, error) {
	return m.client.StatObject(ctx, bucketName, objectName, opts)
}

func (m *MinIOClient) RemoveObject(ctx context.Context, bucketName, objectName string, opts minio.RemoveObjectOptions) error {
	return m.client.RemoveObject(ctx, bucketName, objectName, opts)
}

func (m *MinIOClient) BucketExists(ctx context.Context, bucketName string) (bool, error) {
	return m.client.BucketExists(ctx, bucketName)
}

func (m *MinIOClient) PresignedGetObject(ctx context.Context, bucketName, objectName string, expiry time.Duration, params url.Values) (*url.URL, error) {
	return m.client.PresignedGetObject(ctx, bucketName, objectName, expiry, params)
}
