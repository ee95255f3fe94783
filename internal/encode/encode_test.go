package encode

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"muxd/internal/services"
)

var errExit = errors.New("exit status 1")

func TestBuildMergeArgsReplace(t *testing.T) {
	args, err := buildMergeArgs(MergeRequest{
		VideoPath:  "/tmp/job/video.mp4",
		AudioPaths: []string{"/tmp/job/audio-0.mp3"},
		OutputPath: "/tmp/job/output.mp4",
		Mode:       "replace",
	}, 90*time.Second, true)
	if err != nil {
		t.Fatalf("buildMergeArgs failed: %v", err)
	}

	joined := strings.Join(args, " ")
	for _, want := range []string{
		"-i /tmp/job/video.mp4",
		"-i /tmp/job/audio-0.mp3",
		"-map 0:v:0",
		"-map 1:a:0",
		"-c:v copy",
		"-c:a aac",
		"-af apad",
		"-t 90.000",
	} {
		if !strings.Contains(joined, want) {
			t.Fatalf("expected args to contain %q, got: %s", want, joined)
		}
	}
	if args[len(args)-1] != "/tmp/job/output.mp4" {
		t.Fatalf("expected output path last, got %s", args[len(args)-1])
	}
}

func TestBuildMergeArgsReplaceDefaultsMode(t *testing.T) {
	args, err := buildMergeArgs(MergeRequest{
		VideoPath:  "v.mp4",
		AudioPaths: []string{"a.mp3"},
		OutputPath: "out.mp4",
	}, time.Second, false)
	if err != nil {
		t.Fatalf("buildMergeArgs failed: %v", err)
	}
	if !strings.Contains(strings.Join(args, " "), "-map 1:a:0") {
		t.Fatal("expected empty mode to behave as replace")
	}
}

func TestBuildMergeArgsMix(t *testing.T) {
	args, err := buildMergeArgs(MergeRequest{
		VideoPath:  "v.mp4",
		AudioPaths: []string{"a.mp3"},
		OutputPath: "out.mp4",
		Mode:       "mix",
	}, 30*time.Second, true)
	if err != nil {
		t.Fatalf("buildMergeArgs failed: %v", err)
	}

	joined := strings.Join(args, " ")
	if !strings.Contains(joined, "amix=inputs=2") {
		t.Fatalf("expected amix over video and supplied audio, got: %s", joined)
	}
	if !strings.Contains(joined, "-map [aout]") {
		t.Fatalf("expected mixed audio mapping, got: %s", joined)
	}
	if !strings.Contains(joined, "-c:v copy") {
		t.Fatal("mix must still copy the video stream")
	}
}

func TestBuildMergeArgsMixWithoutOriginalAudio(t *testing.T) {
	args, err := buildMergeArgs(MergeRequest{
		VideoPath:  "v.mp4",
		AudioPaths: []string{"a.mp3"},
		OutputPath: "out.mp4",
		Mode:       "mix",
	}, 30*time.Second, false)
	if err != nil {
		t.Fatalf("buildMergeArgs failed: %v", err)
	}

	joined := strings.Join(args, " ")
	if strings.Contains(joined, "amix") {
		t.Fatalf("expected no amix when the video has no audio track, got: %s", joined)
	}
	if !strings.Contains(joined, "-map 1:a:0") {
		t.Fatalf("expected the supplied track mapped directly, got: %s", joined)
	}
}

func TestBuildMergeArgsRejectsUnknownMode(t *testing.T) {
	_, err := buildMergeArgs(MergeRequest{
		VideoPath:  "v.mp4",
		AudioPaths: []string{"a.mp3"},
		OutputPath: "out.mp4",
		Mode:       "overdub",
	}, time.Second, true)
	if err == nil {
		t.Fatal("expected error for unknown mode")
	}
}

func TestValidateRequest(t *testing.T) {
	cases := []struct {
		name string
		req  MergeRequest
	}{
		{"missing video", MergeRequest{AudioPaths: []string{"a"}, OutputPath: "o"}},
		{"missing audio", MergeRequest{VideoPath: "v", OutputPath: "o"}},
		{"missing output", MergeRequest{VideoPath: "v", AudioPaths: []string{"a"}}},
		{"bad mode", MergeRequest{VideoPath: "v", AudioPaths: []string{"a"}, OutputPath: "o", Mode: "swap"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := validateRequest(tc.req); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestClassifyRunErrorTimeout(t *testing.T) {
	enc := &Encoder{timeout: time.Millisecond}

	runCtx, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
	defer cancel()
	<-runCtx.Done()

	err := enc.classifyRunError(context.Background(), runCtx, context.DeadlineExceeded, nil)
	if !strings.Contains(err.Error(), "limit") {
		t.Fatalf("expected timeout classification, got: %v", err)
	}
	if !errors.Is(err, services.ErrTimeout) {
		t.Fatalf("expected ErrTimeout marker, got: %v", err)
	}
}

func TestClassifyRunErrorCancelled(t *testing.T) {
	enc := &Encoder{timeout: time.Minute}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := enc.classifyRunError(ctx, ctx, context.Canceled, nil)
	if !services.IsCancellation(err) {
		t.Fatalf("expected cancellation classification, got: %v", err)
	}
}

func TestClassifyRunErrorUnsupported(t *testing.T) {
	enc := &Encoder{timeout: time.Minute}

	stderr := []byte("file.mp4: Invalid data found when processing input")
	err := enc.classifyRunError(context.Background(), context.Background(), errExit, stderr)
	if services.IsTransient(err) {
		t.Fatalf("expected permanent classification, got: %v", err)
	}
	if !errors.Is(err, services.ErrPermanent) {
		t.Fatalf("expected ErrPermanent marker, got: %v", err)
	}
}

func TestClassifyRunErrorCrash(t *testing.T) {
	enc := &Encoder{timeout: time.Minute}

	err := enc.classifyRunError(context.Background(), context.Background(), errExit, []byte("segfault"))
	if !errors.Is(err, services.ErrExternalTool) {
		t.Fatalf("expected ErrExternalTool marker, got: %v", err)
	}
}
