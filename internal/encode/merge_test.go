package encode

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"muxd/internal/ffprobe"
	"muxd/internal/logging"
	"muxd/internal/services"
)

// fakeRunner records the ffmpeg invocation and optionally writes an output
// file in place of a real encode.
type fakeRunner struct {
	args        []string
	outputBytes []byte
	err         error
	stderr      []byte
}

func (f *fakeRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	f.args = args
	if f.err != nil {
		return f.stderr, f.err
	}
	if len(f.outputBytes) > 0 {
		outputPath := args[len(args)-1]
		if err := os.WriteFile(outputPath, f.outputBytes, 0o644); err != nil {
			return nil, err
		}
	}
	return nil, nil
}

func fakeProbe(results map[string]ffprobe.Result) probeFunc {
	return func(ctx context.Context, binary, path string) (ffprobe.Result, error) {
		return results[path], nil
	}
}

func newFakeEncoder(runner *fakeRunner, probe probeFunc) *Encoder {
	return &Encoder{
		runner:         runner,
		probe:          probe,
		ffmpegBinary:   "ffmpeg",
		ffprobeBinary:  "ffprobe",
		timeout:        time.Minute,
		minOutputBytes: 8,
		logger:         logging.NewNop(),
	}
}

func TestMergeSuccess(t *testing.T) {
	dir := t.TempDir()
	videoPath := filepath.Join(dir, "video.mp4")
	audioPath := filepath.Join(dir, "audio.mp3")
	outputPath := filepath.Join(dir, "output.mp4")

	results := map[string]ffprobe.Result{
		videoPath: {
			Streams: []ffprobe.Stream{{CodecType: "video", CodecName: "h264"}},
			Format:  ffprobe.Format{Duration: "42.000000"},
		},
		audioPath: {
			Streams: []ffprobe.Stream{{CodecType: "audio", CodecName: "mp3"}},
			Format:  ffprobe.Format{Duration: "60.000000"},
		},
		outputPath: {
			Streams: []ffprobe.Stream{
				{CodecType: "video", CodecName: "h264"},
				{CodecType: "audio", CodecName: "aac"},
			},
			Format: ffprobe.Format{Duration: "42.000000"},
		},
	}

	runner := &fakeRunner{outputBytes: []byte("merged-container-bytes")}
	enc := newFakeEncoder(runner, fakeProbe(results))

	result, err := enc.Merge(context.Background(), MergeRequest{
		VideoPath:  videoPath,
		AudioPaths: []string{audioPath},
		OutputPath: outputPath,
		Mode:       "replace",
	})
	if err != nil {
		t.Fatalf("Merge failed: %v", err)
	}

	if result.OutputPath != outputPath {
		t.Fatalf("unexpected output path %s", result.OutputPath)
	}
	if result.OutputBytes != int64(len(runner.outputBytes)) {
		t.Fatalf("unexpected output size %d", result.OutputBytes)
	}
	if result.Duration != 42*time.Second {
		t.Fatalf("unexpected duration %v", result.Duration)
	}
	if !strings.Contains(strings.Join(runner.args, " "), "-t 42.000") {
		t.Fatalf("expected output clamped to video duration, args: %v", runner.args)
	}
}

func TestMergeRejectsVideoWithoutVideoStream(t *testing.T) {
	dir := t.TempDir()
	videoPath := filepath.Join(dir, "video.mp4")
	audioPath := filepath.Join(dir, "audio.mp3")

	results := map[string]ffprobe.Result{
		videoPath: {
			Streams: []ffprobe.Stream{{CodecType: "audio", CodecName: "aac"}},
			Format:  ffprobe.Format{Duration: "10.0"},
		},
	}

	enc := newFakeEncoder(&fakeRunner{}, fakeProbe(results))
	_, err := enc.Merge(context.Background(), MergeRequest{
		VideoPath:  videoPath,
		AudioPaths: []string{audioPath},
		OutputPath: filepath.Join(dir, "output.mp4"),
	})
	if err == nil {
		t.Fatal("expected error for input without a video stream")
	}
	if services.IsTransient(err) {
		t.Fatalf("expected permanent classification: %v", err)
	}
}

func TestMergeDiscardsUndersizedOutput(t *testing.T) {
	dir := t.TempDir()
	videoPath := filepath.Join(dir, "video.mp4")
	audioPath := filepath.Join(dir, "audio.mp3")
	outputPath := filepath.Join(dir, "output.mp4")

	results := map[string]ffprobe.Result{
		videoPath: {
			Streams: []ffprobe.Stream{{CodecType: "video"}},
			Format:  ffprobe.Format{Duration: "10.0"},
		},
		audioPath: {
			Streams: []ffprobe.Stream{{CodecType: "audio"}},
		},
	}

	runner := &fakeRunner{outputBytes: []byte("x")}
	enc := newFakeEncoder(runner, fakeProbe(results))

	_, err := enc.Merge(context.Background(), MergeRequest{
		VideoPath:  videoPath,
		AudioPaths: []string{audioPath},
		OutputPath: outputPath,
	})
	if err == nil {
		t.Fatal("expected error for undersized output")
	}
	if _, statErr := os.Stat(outputPath); !os.IsNotExist(statErr) {
		t.Fatal("expected partial output to be removed")
	}
}

func TestMergeSubprocessFailureRemovesOutput(t *testing.T) {
	dir := t.TempDir()
	videoPath := filepath.Join(dir, "video.mp4")
	audioPath := filepath.Join(dir, "audio.mp3")
	outputPath := filepath.Join(dir, "output.mp4")

	results := map[string]ffprobe.Result{
		videoPath: {
			Streams: []ffprobe.Stream{{CodecType: "video"}},
			Format:  ffprobe.Format{Duration: "10.0"},
		},
		audioPath: {
			Streams: []ffprobe.Stream{{CodecType: "audio"}},
		},
	}

	if err := os.WriteFile(outputPath, []byte("partial"), 0o644); err != nil {
		t.Fatalf("seed partial output: %v", err)
	}

	runner := &fakeRunner{err: errExit, stderr: []byte("segfault")}
	enc := newFakeEncoder(runner, fakeProbe(results))

	_, err := enc.Merge(context.Background(), MergeRequest{
		VideoPath:  videoPath,
		AudioPaths: []string{audioPath},
		OutputPath: outputPath,
	})
	if err == nil {
		t.Fatal("expected subprocess failure to propagate")
	}
	if _, statErr := os.Stat(outputPath); !os.IsNotExist(statErr) {
		t.Fatal("expected partial output to be removed")
	}
}
