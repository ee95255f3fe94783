package encode

import (
	"context"
	"os/exec"
)

// commandRunner abstracts subprocess execution so merge command construction
// can be tested without a real ffmpeg binary.
type commandRunner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	return cmd.CombinedOutput()
}
