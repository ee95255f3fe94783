// Package fetch downloads remote media sources into a job's scratch
// workspace, enforcing size and time bounds and verifying that what arrived
// matches the declared input role.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"muxd/internal/config"
	"muxd/internal/logging"
	"muxd/internal/queue"
	"muxd/internal/services"
)

// Fetcher retrieves remote media over http(s) or from an S3-compatible
// object store.
type Fetcher struct {
	httpClient *http.Client
	s3Client   *minio.Client
	maxBytes   int64
	timeout    time.Duration
	logger     *slog.Logger
}

// New builds a Fetcher from configuration. The S3 client is constructed
// eagerly so credential problems surface at startup, not mid-job.
func New(cfg *config.Config, logger *slog.Logger) (*Fetcher, error) {
	if logger == nil {
		logger = logging.NewNop()
	}

	s3Client, err := minio.New(cfg.Storage.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.Storage.AccessKey, cfg.Storage.SecretKey, ""),
		Secure: cfg.Storage.UseSSL,
	})
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "fetch", "init", "create object store client", err)
	}

	// The duration bound is enforced through a per-download context in
	// Download so it covers the s3 path too, not just http.
	return &Fetcher{
		httpClient: &http.Client{},
		s3Client:   s3Client,
		maxBytes:   cfg.MaxDownloadBytes(),
		timeout:    cfg.FetchTimeout(),
		logger:     logger.With(logging.String(logging.FieldComponent, "fetch")),
	}, nil
}

// Download retrieves the referenced media into destPath and returns the
// number of bytes written. Failures are tagged transient or permanent so the
// caller can decide whether a retry is worthwhile. A source that cannot be
// fetched within the configured duration bound is permanent, same as one
// exceeding the size cap. A partial file is removed before returning an
// error.
func (f *Fetcher) Download(ctx context.Context, ref queue.InputRef, destPath string) (int64, error) {
	parsed, err := url.Parse(strings.TrimSpace(ref.URL))
	if err != nil {
		return 0, services.Wrap(services.ErrPermanent, "fetch", "parse", "invalid source URL", err)
	}

	dlCtx := ctx
	if f.timeout > 0 {
		var cancel context.CancelFunc
		dlCtx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}

	var written int64
	switch strings.ToLower(parsed.Scheme) {
	case "http", "https":
		written, err = f.downloadHTTP(dlCtx, parsed.String(), destPath)
	case "s3":
		written, err = f.downloadS3(dlCtx, parsed, destPath)
	default:
		return 0, services.Wrap(services.ErrPermanent, "fetch", "parse", fmt.Sprintf("unsupported URL scheme %q", parsed.Scheme), nil)
	}
	if err != nil {
		os.Remove(destPath)
		if errors.Is(dlCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return 0, services.Wrap(services.ErrPermanent, "fetch", "download",
				fmt.Sprintf("download did not complete within %s", f.timeout), err)
		}
		return 0, err
	}

	if err := f.verifyRole(destPath, ref.Role); err != nil {
		os.Remove(destPath)
		return 0, err
	}

	f.logger.Debug("downloaded media source",
		logging.String("url", redactURL(parsed)),
		logging.String("role", string(ref.Role)),
		logging.Int64("bytes", written))
	return written, nil
}

func (f *Fetcher) downloadHTTP(ctx context.Context, rawURL, destPath string) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return 0, services.Wrap(services.ErrPermanent, "fetch", "request", "build request", err)
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		if services.IsCancellation(ctx.Err()) {
			return 0, services.Wrap(services.ErrCancelled, "fetch", "request", "download cancelled", err)
		}
		return 0, services.Wrap(services.ErrTransient, "fetch", "request", "perform request", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		marker := services.ErrPermanent
		if isTransientStatus(resp.StatusCode) {
			marker = services.ErrTransient
		}
		return 0, services.Wrap(marker, "fetch", "request", fmt.Sprintf("unexpected status %d", resp.StatusCode), nil)
	}

	if resp.ContentLength > 0 && resp.ContentLength > f.maxBytes {
		return 0, services.Wrap(services.ErrPermanent, "fetch", "request",
			fmt.Sprintf("content length %d exceeds download cap %d", resp.ContentLength, f.maxBytes), nil)
	}

	return f.writeCapped(resp.Body, destPath)
}

func (f *Fetcher) downloadS3(ctx context.Context, parsed *url.URL, destPath string) (int64, error) {
	bucket := parsed.Host
	key := strings.TrimPrefix(parsed.Path, "/")
	if bucket == "" || key == "" {
		return 0, services.Wrap(services.ErrPermanent, "fetch", "request", "s3 URL must be s3://bucket/key", nil)
	}

	object, err := f.s3Client.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return 0, services.Wrap(services.ErrTransient, "fetch", "request", "open object", err)
	}
	defer object.Close()

	// GetObject is lazy; a missing object only surfaces on first read, so
	// stat up front to classify it cleanly.
	if _, err := object.Stat(); err != nil {
		switch minio.ToErrorResponse(err).Code {
		case "NoSuchKey", "NoSuchBucket", "AccessDenied":
			return 0, services.Wrap(services.ErrPermanent, "fetch", "request", "object not accessible", err)
		}
		return 0, services.Wrap(services.ErrTransient, "fetch", "request", "stat object", err)
	}

	return f.writeCapped(object, destPath)
}

// writeCapped streams body into destPath, failing once the configured
// download cap is exceeded.
func (f *Fetcher) writeCapped(body io.Reader, destPath string) (int64, error) {
	out, err := os.Create(destPath)
	if err != nil {
		return 0, services.Wrap(services.ErrPermanent, "fetch", "write", "create destination file", err)
	}
	defer out.Close()

	written, err := io.Copy(out, io.LimitReader(body, f.maxBytes+1))
	if err != nil {
		return written, services.Wrap(services.ErrTransient, "fetch", "write", "stream body", err)
	}
	if written > f.maxBytes {
		return written, services.Wrap(services.ErrPermanent, "fetch", "write",
			fmt.Sprintf("download exceeds cap of %d bytes", f.maxBytes), nil)
	}
	if err := out.Sync(); err != nil {
		return written, services.Wrap(services.ErrTransient, "fetch", "write", "sync destination file", err)
	}
	return written, nil
}

// verifyRole sniffs the downloaded file's signature and rejects media that
// does not plausibly match the declared role. A response body that turns out
// to be an HTML error page fails here instead of deep in the encoder.
func (f *Fetcher) verifyRole(path string, role queue.InputRole) error {
	file, err := os.Open(path)
	if err != nil {
		return services.Wrap(services.ErrTransient, "fetch", "verify", "open downloaded file", err)
	}
	defer file.Close()

	header := make([]byte, headerSniffLen)
	n, err := io.ReadFull(file, header)
	if err != nil && err != io.ErrUnexpectedEOF {
		return services.Wrap(services.ErrPermanent, "fetch", "verify", "downloaded file is empty", err)
	}

	container := DetectContainer(header[:n])
	if !AcceptableForRole(container, role) {
		return services.Wrap(services.ErrPermanent, "fetch", "verify",
			fmt.Sprintf("downloaded media (%s) is not valid for role %s", container, role), nil)
	}
	return nil
}

// isTransientStatus reports whether an HTTP status is worth retrying.
func isTransientStatus(status int) bool {
	switch status {
	case http.StatusRequestTimeout, http.StatusTooManyRequests:
		return true
	}
	return status >= 500
}

// redactURL strips credentials and query strings before logging.
func redactURL(parsed *url.URL) string {
	clean := *parsed
	clean.User = nil
	clean.RawQuery = ""
	return clean.String()
}
