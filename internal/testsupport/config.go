package testsupport

import (
	"path/filepath"
	"testing"

	"muxd/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*config.Config)

// NewConfig produces a config seeded with unique temp directories per test.
// It defaults common fields and applies any provided options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths.ScratchDir = filepath.Join(base, "scratch")
	cfg.Paths.LogDir = filepath.Join(base, "logs")
	cfg.Paths.APIBind = "127.0.0.1:0"
	cfg.Storage.Endpoint = "minio.test:9000"
	cfg.Storage.AccessKey = "test"
	cfg.Storage.SecretKey = "test"
	cfg.Storage.Bucket = "media"
	cfg.Storage.UseSSL = false

	for _, opt := range opts {
		opt(&cfg)
	}

	return &cfg
}

// WithWorkerCount overrides the worker pool size on the test config.
func WithWorkerCount(n int) ConfigOption {
	return func(c *config.Config) {
		c.Workflow.WorkerCount = n
	}
}

// WithFetchRetries overrides the transient fetch retry budget.
func WithFetchRetries(n int) ConfigOption {
	return func(c *config.Config) {
		c.Fetch.Retries = n
	}
}
