// Package publish uploads merged output to the configured S3-compatible
// object store and delivers webhook callbacks to submitters.
package publish

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"muxd/internal/config"
	"muxd/internal/logging"
	"muxd/internal/queue"
	"muxd/internal/services"
)

// objectUploader is the slice of the minio client the publisher needs,
// extracted so tests can swap in a fake.
type objectUploader interface {
	FPutObject(ctx context.Context, bucketName, objectName, filePath string, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

// Publisher writes merge results to object storage and reports a stable
// result URL for each published job.
type Publisher struct {
	uploader      objectUploader
	bucket        string
	prefix        string
	publicBaseURL string
	endpoint      string
	useSSL        bool
	uploadTimeout time.Duration
	uploadRetries int
	retryDelay    time.Duration
	logger        *slog.Logger
}

// New builds a Publisher from configuration.
func New(cfg *config.Config, logger *slog.Logger) (*Publisher, error) {
	if logger == nil {
		logger = logging.NewNop()
	}

	client, err := minio.New(cfg.Storage.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.Storage.AccessKey, cfg.Storage.SecretKey, ""),
		Secure: cfg.Storage.UseSSL,
	})
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "publish", "init", "create object store client", err)
	}

	return &Publisher{
		uploader:      client,
		bucket:        cfg.Storage.Bucket,
		prefix:        strings.Trim(cfg.Storage.Prefix, "/"),
		publicBaseURL: strings.TrimRight(cfg.Storage.PublicBaseURL, "/"),
		endpoint:      cfg.Storage.Endpoint,
		useSSL:        cfg.Storage.UseSSL,
		uploadTimeout: cfg.UploadTimeout(),
		uploadRetries: cfg.Storage.UploadRetries,
		retryDelay:    2 * time.Second,
		logger:        logger.With(logging.String(logging.FieldComponent, "publish")),
	}, nil
}

// Publish uploads the merged file and returns the result URL callers can
// fetch it from. Transient upload failures are retried with a linear delay
// before giving up.
func (p *Publisher) Publish(ctx context.Context, job *queue.Job, outputPath string) (string, error) {
	if _, err := os.Stat(outputPath); err != nil {
		return "", services.Wrap(services.ErrPermanent, "publish", "upload", "output file missing", err)
	}

	key := p.ObjectKey(job)
	opts := minio.PutObjectOptions{ContentType: contentTypeFor(job.Options.Format)}

	attempts := p.uploadRetries + 1
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return "", services.Wrap(services.ErrCancelled, "publish", "upload", "publish cancelled", err)
		}

		uploadCtx := ctx
		var cancel context.CancelFunc
		if p.uploadTimeout > 0 {
			uploadCtx, cancel = context.WithTimeout(ctx, p.uploadTimeout)
		}
		_, err := p.uploader.FPutObject(uploadCtx, p.bucket, key, outputPath, opts)
		if cancel != nil {
			cancel()
		}
		if err == nil {
			resultURL := p.ResultURL(key)
			p.logger.Info("published merge result",
				logging.String(logging.FieldJobID, job.ID),
				logging.String("object_key", key),
				logging.String("result_url", resultURL))
			return resultURL, nil
		}

		lastErr = err
		p.logger.Warn("upload attempt failed",
			logging.String(logging.FieldJobID, job.ID),
			logging.Int("attempt", attempt),
			logging.Error(err))

		if attempt < attempts {
			select {
			case <-time.After(p.retryDelay):
			case <-ctx.Done():
				return "", services.Wrap(services.ErrCancelled, "publish", "upload", "publish cancelled", ctx.Err())
			}
		}
	}

	return "", services.Wrap(services.ErrTransient, "publish", "upload",
		fmt.Sprintf("upload failed after %d attempts", attempts), lastErr)
}

// ObjectKey returns the object store key for a job's result.
func (p *Publisher) ObjectKey(job *queue.Job) string {
	format := strings.TrimSpace(job.Options.Format)
	if format == "" {
		format = "mp4"
	}
	name := job.ID + "." + format
	if p.prefix == "" {
		return name
	}
	return path.Join(p.prefix, name)
}

// ResultURL builds the stable URL for a published object. A configured public
// base URL wins over the raw endpoint address.
func (p *Publisher) ResultURL(key string) string {
	if p.publicBaseURL != "" {
		return p.publicBaseURL + "/" + key
	}
	scheme := "http"
	if p.useSSL {
		scheme = "https"
	}
	u := url.URL{Scheme: scheme, Host: p.endpoint, Path: "/" + p.bucket + "/" + key}
	return u.String()
}

func contentTypeFor(format string) string {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "mkv":
		return "video/x-matroska"
	default:
		return "video/mp4"
	}
}
