package services_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"muxd/internal/services"
)

func TestWrapIncludesStageContext(t *testing.T) {
	base := errors.New("connection reset")
	err := services.Wrap(services.ErrTransient, "fetch", "download", "remote closed early", base)
	if !errors.Is(err, services.ErrTransient) {
		t.Fatal("expected transient marker to survive wrapping")
	}
	if !errors.Is(err, base) {
		t.Fatal("expected original error to survive wrapping")
	}
	for _, fragment := range []string{"fetch", "download", "remote closed early"} {
		if !strings.Contains(err.Error(), fragment) {
			t.Fatalf("error %q missing fragment %q", err, fragment)
		}
	}
}

func TestWrapDefaultsToTransient(t *testing.T) {
	err := services.Wrap(nil, "publish", "upload", "", nil)
	if !errors.Is(err, services.ErrTransient) {
		t.Fatalf("expected default transient marker, got %v", err)
	}
}

func TestIsTransient(t *testing.T) {
	transient := services.Wrap(services.ErrTransient, "fetch", "download", "", nil)
	if !services.IsTransient(transient) {
		t.Fatal("expected transient classification")
	}
	permanent := services.Wrap(services.ErrPermanent, "fetch", "download", "oversize", nil)
	if services.IsTransient(permanent) {
		t.Fatal("permanent failure must not classify as transient")
	}
}

func TestIsCancellation(t *testing.T) {
	if !services.IsCancellation(context.Canceled) {
		t.Fatal("context.Canceled should classify as cancellation")
	}
	wrapped := services.Wrap(services.ErrCancelled, "encode", "merge", "cancel requested", nil)
	if !services.IsCancellation(wrapped) {
		t.Fatal("ErrCancelled should classify as cancellation")
	}
	if services.IsCancellation(errors.New("boom")) {
		t.Fatal("arbitrary errors must not classify as cancellation")
	}
}

func TestContextRoundTrip(t *testing.T) {
	ctx := services.WithJobID(context.Background(), "job-1")
	ctx = services.WithStage(ctx, "encoding")
	ctx = services.WithRequestID(ctx, "req-9")

	if id, ok := services.JobIDFromContext(ctx); !ok || id != "job-1" {
		t.Fatalf("job id round trip failed: %q %v", id, ok)
	}
	if stage, ok := services.StageFromContext(ctx); !ok || stage != "encoding" {
		t.Fatalf("stage round trip failed: %q %v", stage, ok)
	}
	if rid, ok := services.RequestIDFromContext(ctx); !ok || rid != "req-9" {
		t.Fatalf("request id round trip failed: %q %v", rid, ok)
	}
}
