package testsupport

import (
	"context"
	"testing"

	"muxd/internal/config"
	"muxd/internal/queue"
)

// MustOpenStore opens a job store against the test config and registers
// cleanup on test completion.
func MustOpenStore(t testing.TB, cfg *config.Config) *queue.Store {
	t.Helper()

	store, err := queue.Open(cfg)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})
	return store
}

// MustNewJob inserts a queued merge job with one video and one audio input.
func MustNewJob(t testing.TB, store *queue.Store, opts ...func(*queue.NewJobParams)) *queue.Job {
	t.Helper()

	params := queue.NewJobParams{
		Inputs: []queue.InputRef{
			{URL: "https://media.test/video.mp4", Role: queue.RoleVideo},
			{URL: "https://media.test/audio.mp3", Role: queue.RoleAudio},
		},
		Options: queue.MergeOptions{Mode: "replace", Format: "mp4"},
	}
	for _, opt := range opts {
		opt(&params)
	}

	job, err := store.NewJob(context.Background(), params)
	if err != nil {
		t.Fatalf("new job: %v", err)
	}
	return job
}
