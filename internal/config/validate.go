package config

import (
	"errors"
	"fmt"
)

var knownMergeModes = map[string]struct{}{
	"replace": {},
	"mix":     {},
}

var knownContainerFormats = map[string]struct{}{
	"mp4": {},
	"mkv": {},
}

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validateStorage(); err != nil {
		return err
	}
	if err := c.validateFetch(); err != nil {
		return err
	}
	if err := c.validateEncode(); err != nil {
		return err
	}
	if err := c.validateWorkflow(); err != nil {
		return err
	}
	if err := c.validateNotifications(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validatePaths() error {
	if c.Paths.ScratchDir == "" {
		return errors.New("paths.scratch_dir must be set")
	}
	if c.Paths.LogDir == "" {
		return errors.New("paths.log_dir must be set")
	}
	return nil
}

func (c *Config) validateStorage() error {
	if c.Storage.Endpoint == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			defaultPath = "~/.config/muxd/config.toml"
		}
		return fmt.Errorf("storage.endpoint is required. Edit %s (create with 'muxd config init')", defaultPath)
	}
	if c.Storage.Bucket == "" {
		return errors.New("storage.bucket must be set")
	}
	return ensurePositiveMap(map[string]int{
		"storage.upload_timeout": c.Storage.UploadTimeout,
		"storage.upload_retries": c.Storage.UploadRetries,
	})
}

func (c *Config) validateFetch() error {
	if err := ensurePositiveMap(map[string]int{
		"fetch.max_download_mib": c.Fetch.MaxDownloadMiB,
		"fetch.timeout":          c.Fetch.Timeout,
		"fetch.retry_delay":      c.Fetch.RetryDelay,
	}); err != nil {
		return err
	}
	if c.Fetch.Retries < 0 {
		return errors.New("fetch.retries must not be negative")
	}
	return nil
}

func (c *Config) validateEncode() error {
	if c.Encode.Timeout <= 0 {
		return errors.New("encode.timeout must be positive (seconds)")
	}
	if _, ok := knownMergeModes[c.Encode.DefaultMode]; !ok {
		return fmt.Errorf("encode.default_mode must be one of replace, mix (got %q)", c.Encode.DefaultMode)
	}
	if _, ok := knownContainerFormats[c.Encode.DefaultFormat]; !ok {
		return fmt.Errorf("encode.default_format must be one of mp4, mkv (got %q)", c.Encode.DefaultFormat)
	}
	if c.Encode.MinOutputBytes < 0 {
		return errors.New("encode.min_output_bytes must not be negative")
	}
	return nil
}

func (c *Config) validateWorkflow() error {
	if err := ensurePositiveMap(map[string]int{
		"workflow.worker_count":         c.Workflow.WorkerCount,
		"workflow.queue_poll_interval":  c.Workflow.QueuePollInterval,
		"workflow.error_retry_interval": c.Workflow.ErrorRetryInterval,
		"workflow.retention_hours":      c.Workflow.RetentionHours,
		"callback.request_timeout":      c.Callback.RequestTimeout,
	}); err != nil {
		return err
	}
	if c.Workflow.HeartbeatInterval <= 0 {
		return errors.New("workflow.heartbeat_interval must be positive")
	}
	if c.Workflow.HeartbeatTimeout <= 0 {
		return errors.New("workflow.heartbeat_timeout must be positive")
	}
	if c.Workflow.HeartbeatTimeout <= c.Workflow.HeartbeatInterval {
		return errors.New("workflow.heartbeat_timeout must be greater than workflow.heartbeat_interval")
	}
	return nil
}

func (c *Config) validateNotifications() error {
	if c.Notifications.RequestTimeout <= 0 {
		return errors.New("notifications.request_timeout must be positive (seconds)")
	}
	return nil
}

func ensurePositiveMap(values map[string]int) error {
	for name, value := range values {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", name)
		}
	}
	return nil
}
