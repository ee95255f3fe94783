package config

const (
	defaultScratchDir         = "~/.local/share/muxd/scratch"
	defaultLogDir             = "~/.local/share/muxd/logs"
	defaultAPIBind            = "127.0.0.1:7586"
	defaultStoragePrefix      = "merged"
	defaultUploadTimeout      = 120
	defaultUploadRetries      = 3
	defaultMaxDownloadMiB     = 2048
	defaultFetchTimeout       = 300
	defaultFetchRetries       = 2
	defaultFetchRetryDelay    = 2
	defaultEncodeTimeout      = 1800
	defaultMergeMode          = "replace"
	defaultContainerFormat    = "mp4"
	defaultMinOutputBytes     = 1024
	defaultWorkerCount        = 2
	defaultQueuePollInterval  = 5
	defaultErrorRetryInterval = 10
	defaultHeartbeatInterval  = 15
	defaultHeartbeatTimeout   = 120
	defaultRetentionHours     = 72
	defaultCallbackTimeout    = 15
	defaultNtfyTimeout        = 10
	defaultLogFormat          = "auto"
	defaultLogLevel           = "info"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			ScratchDir: defaultScratchDir,
			LogDir:     defaultLogDir,
			APIBind:    defaultAPIBind,
		},
		Storage: Storage{
			Prefix:        defaultStoragePrefix,
			UploadTimeout: defaultUploadTimeout,
			UploadRetries: defaultUploadRetries,
		},
		Fetch: Fetch{
			MaxDownloadMiB: defaultMaxDownloadMiB,
			Timeout:        defaultFetchTimeout,
			Retries:        defaultFetchRetries,
			RetryDelay:     defaultFetchRetryDelay,
		},
		Encode: Encode{
			FFmpegBinary:   "ffmpeg",
			FFprobeBinary:  "ffprobe",
			Timeout:        defaultEncodeTimeout,
			DefaultMode:    defaultMergeMode,
			DefaultFormat:  defaultContainerFormat,
			MinOutputBytes: defaultMinOutputBytes,
		},
		Workflow: Workflow{
			WorkerCount:        defaultWorkerCount,
			QueuePollInterval:  defaultQueuePollInterval,
			ErrorRetryInterval: defaultErrorRetryInterval,
			HeartbeatInterval:  defaultHeartbeatInterval,
			HeartbeatTimeout:   defaultHeartbeatTimeout,
			RetentionHours:     defaultRetentionHours,
		},
		Callback: Callback{
			RequestTimeout: defaultCallbackTimeout,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNtfyTimeout,
			Errors:         true,
			Queue:          true,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
