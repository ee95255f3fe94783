package fetch

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"muxd/internal/queue"
	"muxd/internal/services"
	"muxd/internal/testsupport"
)

// mp4Payload is a minimal ISO BMFF header followed by filler.
var mp4Payload = append([]byte{0x00, 0x00, 0x00, 0x18, 'f', 't', 'y', 'p', 'i', 's', 'o', 'm', 0x00, 0x00, 0x02, 0x00}, make([]byte, 64)...)

func newTestFetcher(t *testing.T) *Fetcher {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	fetcher, err := New(cfg, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return fetcher
}

func TestDownloadHTTPSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(mp4Payload)
	}))
	defer server.Close()

	fetcher := newTestFetcher(t)
	dest := filepath.Join(t.TempDir(), "video.mp4")

	written, err := fetcher.Download(context.Background(), queue.InputRef{URL: server.URL, Role: queue.RoleVideo}, dest)
	if err != nil {
		t.Fatalf("Download failed: %v", err)
	}
	if written != int64(len(mp4Payload)) {
		t.Fatalf("expected %d bytes written, got %d", len(mp4Payload), written)
	}

	data, err := os.ReadFile(dest)
	if err != nil {
		t.Fatalf("read destination: %v", err)
	}
	if len(data) != len(mp4Payload) {
		t.Fatalf("destination file has %d bytes, want %d", len(data), len(mp4Payload))
	}
}

func TestDownloadNotFoundIsPermanent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer server.Close()

	fetcher := newTestFetcher(t)
	dest := filepath.Join(t.TempDir(), "video.mp4")

	_, err := fetcher.Download(context.Background(), queue.InputRef{URL: server.URL, Role: queue.RoleVideo}, dest)
	if err == nil {
		t.Fatal("expected error for 404 response")
	}
	if services.IsTransient(err) {
		t.Fatalf("expected permanent classification, got transient: %v", err)
	}
	if _, statErr := os.Stat(dest); !os.IsNotExist(statErr) {
		t.Fatal("expected no destination file after failure")
	}
}

func TestDownloadServerErrorIsTransient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "busy", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	fetcher := newTestFetcher(t)
	dest := filepath.Join(t.TempDir(), "video.mp4")

	_, err := fetcher.Download(context.Background(), queue.InputRef{URL: server.URL, Role: queue.RoleVideo}, dest)
	if err == nil {
		t.Fatal("expected error for 503 response")
	}
	if !services.IsTransient(err) {
		t.Fatalf("expected transient classification: %v", err)
	}
}

func TestDownloadEnforcesSizeCap(t *testing.T) {
	payload := append(append([]byte{}, mp4Payload...), make([]byte, 4096)...)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(payload)
	}))
	defer server.Close()

	fetcher := newTestFetcher(t)
	fetcher.maxBytes = 128

	dest := filepath.Join(t.TempDir(), "video.mp4")
	_, err := fetcher.Download(context.Background(), queue.InputRef{URL: server.URL, Role: queue.RoleVideo}, dest)
	if err == nil {
		t.Fatal("expected error once cap exceeded")
	}
	if services.IsTransient(err) {
		t.Fatalf("expected permanent classification for oversize download: %v", err)
	}
	if !strings.Contains(err.Error(), "cap") {
		t.Fatalf("expected cap violation message, got: %v", err)
	}
}

func TestDownloadTimeoutIsPermanent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(mp4Payload)
		if flusher, ok := w.(http.Flusher); ok {
			flusher.Flush()
		}
		// Hold the body open until the client gives up.
		<-r.Context().Done()
	}))
	defer server.Close()

	fetcher := newTestFetcher(t)
	fetcher.timeout = 50 * time.Millisecond

	dest := filepath.Join(t.TempDir(), "video.mp4")
	_, err := fetcher.Download(context.Background(), queue.InputRef{URL: server.URL, Role: queue.RoleVideo}, dest)
	if err == nil {
		t.Fatal("expected error once the duration bound elapsed")
	}
	if !errors.Is(err, services.ErrPermanent) {
		t.Fatalf("expected permanent classification for timed-out download: %v", err)
	}
	if services.IsTransient(err) {
		t.Fatalf("timed-out download must not be retried: %v", err)
	}
	if _, statErr := os.Stat(dest); !os.IsNotExist(statErr) {
		t.Fatal("expected partial file to be removed")
	}
}

func TestDownloadRejectsWrongSignature(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html><body>not media</body></html>"))
	}))
	defer server.Close()

	fetcher := newTestFetcher(t)
	dest := filepath.Join(t.TempDir(), "video.mp4")

	_, err := fetcher.Download(context.Background(), queue.InputRef{URL: server.URL, Role: queue.RoleVideo}, dest)
	if err == nil {
		t.Fatal("expected error for non-media payload")
	}
	if services.IsTransient(err) {
		t.Fatalf("expected permanent classification: %v", err)
	}
	if _, statErr := os.Stat(dest); !os.IsNotExist(statErr) {
		t.Fatal("expected rejected file to be removed")
	}
}

func TestDownloadRejectsUnsupportedScheme(t *testing.T) {
	fetcher := newTestFetcher(t)
	dest := filepath.Join(t.TempDir(), "video.mp4")

	_, err := fetcher.Download(context.Background(), queue.InputRef{URL: "ftp://example.com/video.mp4", Role: queue.RoleVideo}, dest)
	if err == nil {
		t.Fatal("expected error for unsupported scheme")
	}
	if services.IsTransient(err) {
		t.Fatalf("expected permanent classification: %v", err)
	}
}

func TestDetectContainer(t *testing.T) {
	cases := []struct {
		name   string
		header []byte
		want   Container
	}{
		{"mp4", mp4Payload[:16], ContainerMP4},
		{"matroska", []byte{0x1A, 0x45, 0xDF, 0xA3, 0x00, 0x00}, ContainerMatroska},
		{"mp3 id3", []byte("ID3\x04\x00\x00"), ContainerMP3},
		{"mp3 frame sync", []byte{0xFF, 0xFB, 0x90, 0x00}, ContainerMP3},
		{"wav", []byte("RIFF\x24\x00\x00\x00WAVEfmt "), ContainerWAV},
		{"flac", []byte("fLaC\x00\x00\x00\x22"), ContainerFLAC},
		{"ogg", []byte("OggS\x00\x02"), ContainerOgg},
		{"adts", []byte{0xFF, 0xF1, 0x50, 0x80}, ContainerADTS},
		{"html", []byte("<html>"), ContainerUnknown},
		{"empty", nil, ContainerUnknown},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := DetectContainer(tc.header); got != tc.want {
				t.Fatalf("DetectContainer = %s, want %s", got, tc.want)
			}
		})
	}
}

func TestAcceptableForRole(t *testing.T) {
	if !AcceptableForRole(ContainerMP4, queue.RoleVideo) {
		t.Fatal("mp4 should be valid video")
	}
	if AcceptableForRole(ContainerMP3, queue.RoleVideo) {
		t.Fatal("mp3 should not be valid video")
	}
	if !AcceptableForRole(ContainerMP3, queue.RoleAudio) {
		t.Fatal("mp3 should be valid audio")
	}
	if AcceptableForRole(ContainerUnknown, queue.RoleAudio) {
		t.Fatal("unknown container should not be valid audio")
	}
}
