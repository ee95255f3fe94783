// Package encode drives ffmpeg to merge an audio track into a video while
// preserving the video stream untouched. The output duration always matches
// the video: longer audio is truncated, shorter audio is padded with silence.
package encode

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"muxd/internal/config"
	"muxd/internal/ffprobe"
	"muxd/internal/logging"
	"muxd/internal/services"
)

// MergeRequest describes one merge invocation over local scratch files.
type MergeRequest struct {
	VideoPath  string
	AudioPaths []string
	OutputPath string
	// Mode is "replace" or "mix". Empty means replace.
	Mode string
}

// MergeResult reports what the encoder produced.
type MergeResult struct {
	OutputPath  string
	OutputBytes int64
	Duration    time.Duration
}

type probeFunc func(ctx context.Context, binary, path string) (ffprobe.Result, error)

// Encoder wraps the ffmpeg/ffprobe binaries configured for the daemon.
type Encoder struct {
	runner         commandRunner
	probe          probeFunc
	ffmpegBinary   string
	ffprobeBinary  string
	timeout        time.Duration
	minOutputBytes int64
	logger         *slog.Logger
}

// New builds an Encoder from configuration.
func New(cfg *config.Config, logger *slog.Logger) *Encoder {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Encoder{
		runner:         execRunner{},
		probe:          ffprobe.Inspect,
		ffmpegBinary:   cfg.Encode.FFmpegBinary,
		ffprobeBinary:  cfg.Encode.FFprobeBinary,
		timeout:        cfg.EncodeTimeout(),
		minOutputBytes: cfg.Encode.MinOutputBytes,
		logger:         logger.With(logging.String(logging.FieldComponent, "encode")),
	}
}

// Merge runs the merge and validates the output. Partial output files are
// removed on any failure so a failed job never leaves artifacts behind.
func (e *Encoder) Merge(ctx context.Context, req MergeRequest) (MergeResult, error) {
	result, err := e.merge(ctx, req)
	if err != nil {
		os.Remove(req.OutputPath)
		return MergeResult{}, err
	}
	return result, nil
}

func (e *Encoder) merge(ctx context.Context, req MergeRequest) (MergeResult, error) {
	if err := validateRequest(req); err != nil {
		return MergeResult{}, err
	}

	videoProbe, err := e.probe(ctx, e.ffprobeBinary, req.VideoPath)
	if err != nil {
		return MergeResult{}, services.Wrap(services.ErrPermanent, "encode", "probe", "inspect video input", err)
	}
	if videoProbe.VideoStreamCount() == 0 {
		return MergeResult{}, services.Wrap(services.ErrPermanent, "encode", "probe", "input has no video stream", nil)
	}
	videoDuration, ok := videoProbe.Duration()
	if !ok {
		return MergeResult{}, services.Wrap(services.ErrPermanent, "encode", "probe", "video input has no readable duration", nil)
	}

	for _, audioPath := range req.AudioPaths {
		audioProbe, err := e.probe(ctx, e.ffprobeBinary, audioPath)
		if err != nil {
			return MergeResult{}, services.Wrap(services.ErrPermanent, "encode", "probe", "inspect audio input", err)
		}
		if audioProbe.AudioStreamCount() == 0 {
			return MergeResult{}, services.Wrap(services.ErrPermanent, "encode", "probe", "audio input has no audio stream", nil)
		}
	}

	args, err := buildMergeArgs(req, videoDuration, videoProbe.AudioStreamCount() > 0)
	if err != nil {
		return MergeResult{}, err
	}

	runCtx := ctx
	var cancel context.CancelFunc
	if e.timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	start := time.Now()
	output, runErr := e.runner.Run(runCtx, e.ffmpegBinary, args...)
	elapsed := time.Since(start)

	if runErr != nil {
		return MergeResult{}, e.classifyRunError(ctx, runCtx, runErr, output)
	}

	e.logger.Debug("merge subprocess finished",
		logging.Duration("elapsed", elapsed),
		logging.Int("args", len(args)))

	return e.validateOutput(ctx, req.OutputPath, videoDuration)
}

func validateRequest(req MergeRequest) error {
	if strings.TrimSpace(req.VideoPath) == "" {
		return services.Wrap(services.ErrValidation, "encode", "validate", "missing video path", nil)
	}
	if len(req.AudioPaths) == 0 {
		return services.Wrap(services.ErrValidation, "encode", "validate", "missing audio paths", nil)
	}
	if strings.TrimSpace(req.OutputPath) == "" {
		return services.Wrap(services.ErrValidation, "encode", "validate", "missing output path", nil)
	}
	switch req.Mode {
	case "", "replace", "mix":
	default:
		return services.Wrap(services.ErrValidation, "encode", "validate", fmt.Sprintf("unknown merge mode %q", req.Mode), nil)
	}
	return nil
}

// classifyRunError maps a subprocess failure onto the error taxonomy: timeout,
// cancellation, unsupported input, or crash.
func (e *Encoder) classifyRunError(ctx, runCtx context.Context, runErr error, output []byte) error {
	stderr := strings.TrimSpace(string(output))
	if len(stderr) > 2048 {
		stderr = stderr[len(stderr)-2048:]
	}

	switch {
	case errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil:
		return services.Wrap(services.ErrTimeout, "encode", "ffmpeg",
			fmt.Sprintf("merge exceeded %s limit", e.timeout), runErr)
	case services.IsCancellation(ctx.Err()):
		return services.Wrap(services.ErrCancelled, "encode", "ffmpeg", "merge cancelled", runErr)
	case looksUnsupported(stderr):
		return services.Wrap(services.ErrPermanent, "encode", "ffmpeg", "unsupported input media: "+stderr, runErr)
	}
	return services.Wrap(services.ErrExternalTool, "encode", "ffmpeg", "ffmpeg failed: "+stderr, runErr)
}

// looksUnsupported checks stderr for markers that indicate the input media is
// the problem rather than the encoder.
func looksUnsupported(stderr string) bool {
	lowered := strings.ToLower(stderr)
	for _, marker := range []string{
		"invalid data found",
		"could not find codec",
		"decoder not found",
		"unsupported codec",
		"does not contain any stream",
		"invalid argument",
		"moov atom not found",
	} {
		if strings.Contains(lowered, marker) {
			return true
		}
	}
	return false
}

// validateOutput checks the merged file is plausible before it is published.
func (e *Encoder) validateOutput(ctx context.Context, outputPath string, videoDuration time.Duration) (MergeResult, error) {
	info, err := os.Stat(outputPath)
	if err != nil {
		return MergeResult{}, services.Wrap(services.ErrExternalTool, "encode", "validate", "missing output file", err)
	}
	if info.Size() < e.minOutputBytes {
		return MergeResult{}, services.Wrap(services.ErrExternalTool, "encode", "validate",
			fmt.Sprintf("output file is %d bytes, below %d byte minimum", info.Size(), e.minOutputBytes), nil)
	}

	probe, err := e.probe(ctx, e.ffprobeBinary, outputPath)
	if err != nil {
		return MergeResult{}, services.Wrap(services.ErrExternalTool, "encode", "validate", "inspect output file", err)
	}
	if probe.VideoStreamCount() == 0 || probe.AudioStreamCount() == 0 {
		return MergeResult{}, services.Wrap(services.ErrExternalTool, "encode", "validate",
			"output is missing a video or audio stream", nil)
	}

	duration, _ := probe.Duration()
	return MergeResult{
		OutputPath:  outputPath,
		OutputBytes: info.Size(),
		Duration:    duration,
	}, nil
}

const durationSecondsFormat = "%.3f"

// buildMergeArgs constructs the ffmpeg argument list for a merge. The video
// stream is always copied, supplied audio is re-encoded to AAC, and the
// output is clamped to the video's duration with silence padding so short
// audio never truncates the picture.
func buildMergeArgs(req MergeRequest, videoDuration time.Duration, videoHasAudio bool) ([]string, error) {
	mode := req.Mode
	if mode == "" {
		mode = "replace"
	}

	args := []string{"-y", "-hide_banner", "-nostdin", "-i", req.VideoPath}
	for _, audioPath := range req.AudioPaths {
		args = append(args, "-i", audioPath)
	}

	durationArg := fmt.Sprintf(durationSecondsFormat, videoDuration.Seconds())

	switch mode {
	case "replace":
		args = append(args, "-map", "0:v:0")
		for i := range req.AudioPaths {
			args = append(args, "-map", fmt.Sprintf("%d:a:0", i+1))
		}
		args = append(args, "-af", "apad")
	case "mix":
		labels := make([]string, 0, len(req.AudioPaths)+1)
		if videoHasAudio {
			labels = append(labels, "[0:a:0]")
		}
		for i := range req.AudioPaths {
			labels = append(labels, fmt.Sprintf("[%d:a:0]", i+1))
		}
		if len(labels) == 1 {
			// Nothing to mix against; pad the lone track instead.
			args = append(args, "-map", "0:v:0", "-map", strings.Trim(labels[0], "[]"), "-af", "apad")
		} else {
			filter := fmt.Sprintf("%samix=inputs=%d:duration=longest,apad[aout]", strings.Join(labels, ""), len(labels))
			args = append(args, "-filter_complex", filter, "-map", "0:v:0", "-map", "[aout]")
		}
	default:
		return nil, services.Wrap(services.ErrValidation, "encode", "validate", fmt.Sprintf("unknown merge mode %q", mode), nil)
	}

	args = append(args,
		"-c:v", "copy",
		"-c:a", "aac",
		"-t", durationArg,
		req.OutputPath,
	)
	return args, nil
}
