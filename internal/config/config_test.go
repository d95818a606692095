package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
server:
  port: 9090
  host: "0.0.0.0"

cors:
  allowed_origins: ["https://app.example.com"]

log:
  level: debug
  redact_pii: false

store:
  backend: postgres
  database_url: "postgres://localhost/mailer?sslmode=disable"

tracking:
  base_url: "https://track.example.com/"

dispatch:
  concurrency: 8

uploads:
  s3_bucket: "mailer-uploads"
`
	err := os.WriteFile(configPath, []byte(configContent), 0644)
	require.NoError(t, err)

	cfg, err := Load(configPath)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, []string{"https://app.example.com"}, cfg.CORS.AllowedOrigins)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.False(t, cfg.Log.Redact())
	assert.Equal(t, BackendPostgres, cfg.Store.Backend)
	assert.Equal(t, "https://track.example.com", cfg.Tracking.BaseURL)
	assert.Equal(t, 8, cfg.Dispatch.Concurrency)
	assert.Equal(t, "mailer-uploads", cfg.Uploads.S3Bucket)
	assert.NoError(t, cfg.Validate())
}

func TestDefaults(t *testing.T) {
	cfg := Default()

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "localhost", cfg.Server.Host)
	assert.Equal(t, BackendMemory, cfg.Store.Backend)
	assert.Equal(t, "us-west-2", cfg.SES.Region)
	assert.Equal(t, 30, cfg.SES.TimeoutSeconds)
	assert.Equal(t, "http://localhost:8080", cfg.Tracking.BaseURL)
	assert.Equal(t, 1, cfg.Dispatch.Concurrency)
	assert.Equal(t, int64(32<<20), cfg.Uploads.MaxBytes())
	assert.Equal(t, 20, cfg.Events.WaitSeconds)
	assert.True(t, cfg.Log.Redact())
	assert.False(t, cfg.Redis.Enabled())
	assert.NoError(t, cfg.Validate())
}

func TestLoadNonExistentFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	assert.Error(t, err)
}

func TestLoadInvalidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "invalid.yaml")

	err := os.WriteFile(configPath, []byte("invalid: yaml: content: ["), 0644)
	require.NoError(t, err)

	_, err = Load(configPath)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.Store.Backend = "cassandra"
	assert.ErrorContains(t, cfg.Validate(), "unknown store.backend")

	cfg = Default()
	cfg.Store.Backend = BackendPostgres
	assert.ErrorContains(t, cfg.Validate(), "database_url")

	cfg = Default()
	cfg.Store.Backend = BackendMongo
	assert.ErrorContains(t, cfg.Validate(), "mongo_uri")
	cfg.Store.MongoURI = "mongodb://localhost:27017"
	assert.NoError(t, cfg.Validate())
	assert.Equal(t, "campaign_mailer", cfg.Store.MongoDB)

	cfg = Default()
	cfg.Events.WaitSeconds = 30
	assert.Error(t, cfg.Validate())
}

func TestLoadFromEnvOverrides(t *testing.T) {
	t.Setenv("STORE_BACKEND", "dynamodb")
	t.Setenv("TRACKING_BASE_URL", "https://api.example.com/")
	t.Setenv("DISPATCH_CONCURRENCY", "4")
	t.Setenv("REDIS_ADDR", "localhost:6379")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example.com, https://b.example.com")

	cfg, err := LoadFromEnv("")
	require.NoError(t, err)

	assert.Equal(t, BackendDynamoDB, cfg.Store.Backend)
	assert.Equal(t, "https://api.example.com", cfg.Tracking.BaseURL)
	assert.Equal(t, 4, cfg.Dispatch.Concurrency)
	assert.True(t, cfg.Redis.Enabled())
	assert.Equal(t, []string{"https://a.example.com", "https://b.example.com"}, cfg.CORS.AllowedOrigins)
}

func TestServerHostOverrides(t *testing.T) {
	t.Setenv("ECS_CONTAINER_METADATA_URI", "")
	t.Setenv("AWS_EXECUTION_ENV", "")
	t.Setenv("SERVER_HOST", "")
	cfg := ServerConfig{Host: "localhost", Port: 8080}
	assert.Equal(t, "localhost:8080", cfg.Addr())

	t.Setenv("SERVER_HOST", "127.0.0.1")
	assert.Equal(t, "127.0.0.1", cfg.GetHost())

	t.Setenv("ECS_CONTAINER_METADATA_URI", "http://169.254.170.2/v4")
	assert.Equal(t, "0.0.0.0", cfg.GetHost())
}
