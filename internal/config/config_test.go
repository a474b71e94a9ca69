package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("STORAGE_MODE", "local")
	t.Setenv("METADATA_DRIVER", "postgres")
	t.Setenv("STORAGE_DEFER_OLD_DELETE", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, StorageModeLocal, cfg.Storage.Mode)
	assert.Equal(t, DriverPostgres, cfg.Metadata.Driver)
	assert.True(t, cfg.Storage.DeferOldDelete)
	assert.Equal(t, int64(100*1024*1024), cfg.Storage.MaxUploadSize)
	assert.Equal(t, 30*time.Second, cfg.Storage.OperationTimeout)
	assert.Equal(t, "0.0.0.0:8080", cfg.Server.Address())
}

func TestLoadS3Settings(t *testing.T) {
	t.Setenv("STORAGE_MODE", "S3")
	t.Setenv("S3_BUCKET", "course-media")
	t.Setenv("S3_URL_STYLE", "custom")
	t.Setenv("S3_ENDPOINT", "minio.internal:9000")
	t.Setenv("S3_FORCE_PATH_STYLE", "yes")
	t.Setenv("S3_USE_SSL", "false")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, StorageModeS3, cfg.Storage.Mode)
	assert.Equal(t, "course-media", cfg.S3.Bucket)
	assert.Equal(t, URLStyleCustom, cfg.S3.URLStyle)
	assert.True(t, cfg.S3.ForcePathStyle)
	assert.False(t, cfg.S3.UseSSL)
}

func TestLoadRejectsInvalidSettings(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{
			name: "unknown mode",
			env:  map[string]string{"STORAGE_MODE": "ftp"},
			want: "unknown STORAGE_MODE",
		},
		{
			name: "s3 without bucket",
			env:  map[string]string{"STORAGE_MODE": "s3", "S3_BUCKET": ""},
			want: "S3_BUCKET is required",
		},
		{
			name: "custom style without endpoint",
			env:  map[string]string{"STORAGE_MODE": "s3", "S3_BUCKET": "b", "S3_URL_STYLE": "custom", "S3_ENDPOINT": ""},
			want: "S3_ENDPOINT is required",
		},
		{
			name: "unknown driver",
			env:  map[string]string{"STORAGE_MODE": "local", "METADATA_DRIVER": "mongo"},
			want: "unknown METADATA_DRIVER",
		},
		{
			name: "zero sweep interval",
			env:  map[string]string{"STORAGE_MODE": "local", "STORAGE_SWEEP_INTERVAL": "0s"},
			want: "STORAGE_SWEEP_INTERVAL must be positive",
		},
		{
			name: "negative sweep ttl",
			env:  map[string]string{"STORAGE_MODE": "local", "STORAGE_SWEEP_TTL": "-1h"},
			want: "STORAGE_SWEEP_TTL must be positive",
		},
		{
			name: "auth without secret",
			env:  map[string]string{"STORAGE_MODE": "local", "AUTH_ENABLED": "true", "AUTH_JWT_SECRET": ""},
			want: "AUTH_JWT_SECRET is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
