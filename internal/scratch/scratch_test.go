package scratch

import (
	"os"
	"path/filepath"
	"testing"
)

func TestCreateAndCleanup(t *testing.T) {
	base := t.TempDir()

	ws, err := Create(base, "job-123")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if _, err := os.Stat(ws.Root()); err != nil {
		t.Fatalf("workspace directory missing: %v", err)
	}

	inputPath := ws.InputPath("video.mp4")
	if err := os.WriteFile(inputPath, []byte("data"), 0o644); err != nil {
		t.Fatalf("write input: %v", err)
	}

	if err := ws.Cleanup(); err != nil {
		t.Fatalf("Cleanup failed: %v", err)
	}
	if _, err := os.Stat(ws.Root()); !os.IsNotExist(err) {
		t.Fatal("expected workspace to be removed")
	}
}

func TestCreateRejectsEmptyInputs(t *testing.T) {
	if _, err := Create("", "job"); err == nil {
		t.Fatal("expected error for empty scratch dir")
	}
	if _, err := Create(t.TempDir(), " "); err == nil {
		t.Fatal("expected error for empty job id")
	}
}

func TestOutputPathDefaultsFormat(t *testing.T) {
	ws, err := Create(t.TempDir(), "job-456")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	defer ws.Cleanup()

	if got := filepath.Base(ws.OutputPath("")); got != "output.mp4" {
		t.Fatalf("unexpected default output name %s", got)
	}
	if got := filepath.Base(ws.OutputPath("mkv")); got != "output.mkv" {
		t.Fatalf("unexpected output name %s", got)
	}
}

func TestSweepPreservesActiveJobs(t *testing.T) {
	base := t.TempDir()

	for _, id := range []string{"active-job", "stale-job"} {
		if err := os.MkdirAll(filepath.Join(base, id), 0o755); err != nil {
			t.Fatalf("mkdir %s: %v", id, err)
		}
	}

	active := map[string]struct{}{"active-job": {}}
	if err := Sweep(base, active); err != nil {
		t.Fatalf("Sweep failed: %v", err)
	}

	if _, err := os.Stat(filepath.Join(base, "active-job")); err != nil {
		t.Fatal("expected active workspace to survive sweep")
	}
	if _, err := os.Stat(filepath.Join(base, "stale-job")); !os.IsNotExist(err) {
		t.Fatal("expected stale workspace to be removed")
	}
}

func TestSweepMissingDirectory(t *testing.T) {
	if err := Sweep(filepath.Join(t.TempDir(), "missing"), nil); err != nil {
		t.Fatalf("expected missing directory to be ignored: %v", err)
	}
}
