package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and bind address configuration.
type Paths struct {
	ScratchDir string `toml:"scratch_dir"`
	LogDir     string `toml:"log_dir"`
	APIBind    string `toml:"api_bind"`
	APIKey     string `toml:"api_key"`
}

// Storage contains configuration for the S3-compatible object store that
// holds published merge results.
type Storage struct {
	Endpoint      string `toml:"endpoint"`
	AccessKey     string `toml:"access_key"`
	SecretKey     string `toml:"secret_key"`
	Bucket        string `toml:"bucket"`
	UseSSL        bool   `toml:"use_ssl"`
	Prefix        string `toml:"prefix"`
	PublicBaseURL string `toml:"public_base_url"`
	UploadTimeout int    `toml:"upload_timeout"`
	UploadRetries int    `toml:"upload_retries"`
}

// Fetch bounds remote media downloads.
type Fetch struct {
	MaxDownloadMiB int `toml:"max_download_mib"`
	Timeout        int `toml:"timeout"`
	Retries        int `toml:"retries"`
	RetryDelay     int `toml:"retry_delay"`
}

// Encode contains subprocess limits and merge defaults.
type Encode struct {
	FFmpegBinary   string `toml:"ffmpeg_binary"`
	FFprobeBinary  string `toml:"ffprobe_binary"`
	Timeout        int    `toml:"timeout"`
	DefaultMode    string `toml:"default_mode"`
	DefaultFormat  string `toml:"default_format"`
	MinOutputBytes int64  `toml:"min_output_bytes"`
}

// Workflow contains daemon timing, pool sizing, and retention settings.
type Workflow struct {
	WorkerCount        int `toml:"worker_count"`
	QueuePollInterval  int `toml:"queue_poll_interval"`
	ErrorRetryInterval int `toml:"error_retry_interval"`
	HeartbeatInterval  int `toml:"heartbeat_interval"`
	HeartbeatTimeout   int `toml:"heartbeat_timeout"`
	RetentionHours     int `toml:"retention_hours"`
}

// Callback controls webhook completion notifications to submitters.
type Callback struct {
	RequestTimeout int `toml:"request_timeout"`
}

// Notifications contains configuration for ntfy operator push notifications.
type Notifications struct {
	NtfyTopic      string `toml:"ntfy_topic"`
	RequestTimeout int    `toml:"request_timeout"`
	Errors         bool   `toml:"errors"`
	Queue          bool   `toml:"queue"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for muxd.
//
// Configuration sections by subsystem:
//   - Paths: scratch/log directories, API bind address and key
//   - Storage: S3-compatible object store for published results
//   - Fetch: download size/time bounds and transient retry policy
//   - Encode: ffmpeg/ffprobe binaries and subprocess limits
//   - Workflow: worker pool sizing, polling, heartbeats, retention
//   - Callback: webhook delivery settings
//   - Notifications: ntfy operator push settings
//   - Logging: log format and level
type Config struct {
	Paths         Paths         `toml:"paths"`
	Storage       Storage       `toml:"storage"`
	Fetch         Fetch         `toml:"fetch"`
	Encode        Encode        `toml:"encode"`
	Workflow      Workflow      `toml:"workflow"`
	Callback      Callback      `toml:"callback"`
	Notifications Notifications `toml:"notifications"`
	Logging       Logging       `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/muxd/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned
// config has all path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("muxd.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.ScratchDir, c.Paths.LogDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// FetchTimeout returns the per-download deadline.
func (c *Config) FetchTimeout() time.Duration {
	return time.Duration(c.Fetch.Timeout) * time.Second
}

// MaxDownloadBytes returns the download size cap in bytes.
func (c *Config) MaxDownloadBytes() int64 {
	return int64(c.Fetch.MaxDownloadMiB) * 1024 * 1024
}

// EncodeTimeout returns the ffmpeg subprocess deadline.
func (c *Config) EncodeTimeout() time.Duration {
	return time.Duration(c.Encode.Timeout) * time.Second
}

// UploadTimeout returns the per-attempt object store deadline.
func (c *Config) UploadTimeout() time.Duration {
	return time.Duration(c.Storage.UploadTimeout) * time.Second
}

// RetentionWindow returns how long terminal jobs are kept before purge.
func (c *Config) RetentionWindow() time.Duration {
	return time.Duration(c.Workflow.RetentionHours) * time.Hour
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

func (c *Config) normalize() error {
	var err error
	if c.Paths.ScratchDir, err = expandPath(c.Paths.ScratchDir); err != nil {
		return err
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return err
	}
	c.Paths.APIBind = strings.TrimSpace(c.Paths.APIBind)
	c.Paths.APIKey = strings.TrimSpace(c.Paths.APIKey)
	c.Storage.Endpoint = strings.TrimSpace(c.Storage.Endpoint)
	c.Storage.Bucket = strings.TrimSpace(c.Storage.Bucket)
	c.Storage.Prefix = strings.Trim(strings.TrimSpace(c.Storage.Prefix), "/")
	c.Storage.PublicBaseURL = strings.TrimRight(strings.TrimSpace(c.Storage.PublicBaseURL), "/")
	c.Encode.DefaultMode = strings.ToLower(strings.TrimSpace(c.Encode.DefaultMode))
	c.Encode.DefaultFormat = strings.ToLower(strings.TrimSpace(c.Encode.DefaultFormat))
	if strings.TrimSpace(c.Encode.FFmpegBinary) == "" {
		c.Encode.FFmpegBinary = "ffmpeg"
	}
	if strings.TrimSpace(c.Encode.FFprobeBinary) == "" {
		c.Encode.FFprobeBinary = "ffprobe"
	}
	return nil
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
