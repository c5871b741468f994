package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"templater/internal/pkg/errors"
	"templater/internal/pkg/logger"
)

// load builds a Config without touching any .env in the working directory.
func load(t *testing.T) (*Config, error) {
	t.Helper()
	v, err := New(filepath.Join(t.TempDir(), "absent.env"))
	require.NoError(t, err)
	return FromViper(v)
}

func TestDefaults(t *testing.T) {
	cfg, err := load(t)
	require.NoError(t, err)

	assert.Equal(t, "./templates", cfg.TemplatesPath)
	assert.Equal(t, "./assets", cfg.AssetsPath)
	assert.False(t, cfg.MayOutputToFile)
	assert.Equal(t, "0.0.0.0:8080", cfg.HTTP.Addr)
	assert.Zero(t, cfg.HTTP.ShutdownTimeout)
	assert.Equal(t, "context", cfg.Compiler.Command)
	assert.Zero(t, cfg.Compiler.Timeout)
	assert.Zero(t, cfg.UploadTimeout)
	assert.Equal(t, QueueRedis, cfg.Queue.Backend)
	assert.Equal(t, "templater:jobs", cfg.Queue.Name)
	assert.Equal(t, 5, cfg.Queue.Concurrency)
	assert.False(t, cfg.Queue.Configured())
	assert.False(t, cfg.Storage.GDrive.Complete())
	assert.Empty(t, cfg.DatabaseURL)
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv("TEMPLATES_PATH", "/srv/templates")
	t.Setenv("ASSETS_PATH", "/srv/assets")
	t.Setenv("HTTP_ADDR", "127.0.0.1:9000")
	t.Setenv("SHUTDOWN_TIMEOUT", "30")
	t.Setenv("COMPILE_TIMEOUT", "2m")
	t.Setenv("UPLOAD_TIMEOUT", "45s")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example.com, https://b.example.com")
	t.Setenv("QUEUE_BACKEND", "SQS")
	t.Setenv("WORKER_CONCURRENCY", "12")
	t.Setenv("GDRIVE_CLIENT_ID", "id")
	t.Setenv("GDRIVE_CLIENT_SECRET", "secret")
	t.Setenv("GDRIVE_REFRESH_TOKEN", "refresh")
	t.Setenv("GDRIVE_FOLDER_ID", "folder")

	cfg, err := load(t)
	require.NoError(t, err)

	assert.Equal(t, "/srv/templates", cfg.TemplatesPath)
	assert.Equal(t, "/srv/assets", cfg.AssetsPath)
	assert.Equal(t, "127.0.0.1:9000", cfg.HTTP.Addr)
	assert.Equal(t, 30*time.Second, cfg.HTTP.ShutdownTimeout)
	assert.Equal(t, 2*time.Minute, cfg.Compiler.Timeout)
	assert.Equal(t, 45*time.Second, cfg.UploadTimeout)
	assert.Equal(t, []string{"https://a.example.com", "https://b.example.com"}, cfg.HTTP.AllowedOrigins)
	assert.Equal(t, QueueSQS, cfg.Queue.Backend)
	assert.Equal(t, 12, cfg.Queue.Concurrency)
	assert.True(t, cfg.Storage.GDrive.Complete())
}

func TestMayOutputToFile(t *testing.T) {
	tests := []struct {
		value string
		want  bool
	}{
		{"", true},
		{"1", true},
		{"true", true},
		{"yes", true},
		{"0", false},
		{"false", false},
		{"Off", false},
		{"no", false},
	}
	for _, tt := range tests {
		tt := tt
		t.Run("value="+tt.value, func(t *testing.T) {
			t.Setenv("MAY_OUTPUT_TO_FILE", tt.value)
			cfg, err := load(t)
			require.NoError(t, err)
			assert.Equal(t, tt.want, cfg.MayOutputToFile)
		})
	}
}

func TestInvalidValues(t *testing.T) {
	t.Run("duration", func(t *testing.T) {
		t.Setenv("UPLOAD_TIMEOUT", "soon")
		_, err := load(t)
		require.Error(t, err)
		assert.True(t, errors.IsCode(err, errors.CodeValidation))
	})

	t.Run("negative duration", func(t *testing.T) {
		t.Setenv("COMPILE_TIMEOUT", "-5")
		_, err := load(t)
		require.Error(t, err)
	})

	t.Run("queue backend", func(t *testing.T) {
		t.Setenv("QUEUE_BACKEND", "kafka")
		_, err := load(t)
		require.Error(t, err)
		assert.True(t, errors.IsCode(err, errors.CodeValidation))
	})

	t.Run("concurrency", func(t *testing.T) {
		t.Setenv("WORKER_CONCURRENCY", "0")
		_, err := load(t)
		require.Error(t, err)
	})
}

func TestDotEnvFile(t *testing.T) {
	t.Cleanup(func() { os.Unsetenv("ASSETS_PATH") })
	os.Unsetenv("ASSETS_PATH")

	envFile := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(envFile, []byte("ASSETS_PATH=/from/dotenv\n"), 0o600))

	v, err := New(envFile)
	require.NoError(t, err)
	cfg, err := FromViper(v)
	require.NoError(t, err)
	assert.Equal(t, "/from/dotenv", cfg.AssetsPath)
}

func TestConfigFile(t *testing.T) {
	file := filepath.Join(t.TempDir(), "templater.yaml")
	require.NoError(t, os.WriteFile(file, []byte("templates_path: /etc/templater/templates\nworker_concurrency: 3\n"), 0o600))
	t.Setenv("CONFIG_FILE", file)

	cfg, err := load(t)
	require.NoError(t, err)
	assert.Equal(t, "/etc/templater/templates", cfg.TemplatesPath)
	assert.Equal(t, 3, cfg.Queue.Concurrency)
}

func TestLoggerSettingsFromConfigFile(t *testing.T) {
	for _, key := range []string{"LOG_LEVEL", "LOG_FORMAT", "LOG_SOURCE"} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
	file := filepath.Join(t.TempDir(), "templater.yaml")
	require.NoError(t, os.WriteFile(file, []byte("log_level: debug\nlog_format: text\nlog_source: true\n"), 0o600))
	t.Setenv("CONFIG_FILE", file)

	cfg, err := load(t)
	require.NoError(t, err)

	var buf bytes.Buffer
	lc := cfg.Log.Logger("templater-test", &buf)
	assert.Equal(t, "debug", lc.Level)
	assert.Equal(t, "text", lc.Format)
	assert.True(t, lc.AddSource)
	assert.Equal(t, "templater-test", lc.ServiceName)

	logger.New(lc).Debug("visible")
	assert.Contains(t, buf.String(), "msg=visible")
}

func TestMissingConfigFile(t *testing.T) {
	t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "nope.yaml"))

	_, err := load(t)
	require.Error(t, err)
}

func TestQueueConfigured(t *testing.T) {
	assert.False(t, QueueConfig{Backend: QueueRedis}.Configured())
	assert.True(t, QueueConfig{Backend: QueueRedis, RedisAddr: "localhost:6379"}.Configured())
	assert.False(t, QueueConfig{Backend: QueueSQS, RedisAddr: "localhost:6379"}.Configured())
	assert.True(t, QueueConfig{Backend: QueueSQS, SQSQueueURL: "https://sqs.eu-west-1.amazonaws.com/1/jobs"}.Configured())
}
