package ffprobe

import (
	"testing"
	"time"
)

func TestResultDuration(t *testing.T) {
	result := Result{Format: Format{Duration: "12.500000"}}

	duration, ok := result.Duration()
	if !ok {
		t.Fatal("expected duration to parse")
	}
	if duration != 12500*time.Millisecond {
		t.Fatalf("unexpected duration %v", duration)
	}
}

func TestResultDurationMissing(t *testing.T) {
	result := Result{}
	if _, ok := result.Duration(); ok {
		t.Fatal("expected missing duration to report false")
	}
}

func TestResultDurationInvalid(t *testing.T) {
	result := Result{Format: Format{Duration: "N/A"}}
	if _, ok := result.Duration(); ok {
		t.Fatal("expected invalid duration to report false")
	}
}

func TestStreamCounts(t *testing.T) {
	result := Result{Streams: []Stream{
		{CodecType: "video", CodecName: "h264"},
		{CodecType: "audio", CodecName: "aac"},
		{CodecType: "audio", CodecName: "mp3"},
		{CodecType: "subtitle", CodecName: "subrip"},
	}}

	if got := result.VideoStreamCount(); got != 1 {
		t.Fatalf("expected 1 video stream, got %d", got)
	}
	if got := result.AudioStreamCount(); got != 2 {
		t.Fatalf("expected 2 audio streams, got %d", got)
	}
}
