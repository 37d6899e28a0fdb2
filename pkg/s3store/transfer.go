package s3store

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/eunmann/sharkspotter/pkg/logging"
)

// TransferConfig configures the S3 transfer managers.
type TransferConfig struct {
	// Concurrency is the number of parts moved in parallel.
	// Default: NumCPU clamped to [4, 16].
	Concurrency int

	// PartSize is the size of each part in bytes. Default: 16MB.
	// Filters are 512MB, so they always travel as multipart transfers.
	PartSize int64
}

// DefaultTransferConfig returns sensible defaults based on the current machine.
func DefaultTransferConfig() TransferConfig {
	return TransferConfig{
		Concurrency: min(max(runtime.NumCPU(), 4), 16),
		PartSize:    16 * 1024 * 1024,
	}
}

func (c TransferConfig) withDefaults() TransferConfig {
	def := DefaultTransferConfig()
	if c.Concurrency <= 0 {
		c.Concurrency = def.Concurrency
	}
	if c.PartSize <= 0 {
		c.PartSize = def.PartSize
	}
	return c
}

// API is the subset of the S3 client the transfer managers use.
type API interface {
	manager.UploadAPIClient
	manager.DownloadAPIClient
}

// Store uploads and downloads whole files.
type Store struct {
	uploader   *manager.Uploader
	downloader *manager.Downloader
	config     TransferConfig
}

// New creates a Store backed by client, usually an *s3.Client.
func New(client API, cfg TransferConfig) *Store {
	cfg = cfg.withDefaults()
	return &Store{
		uploader: manager.NewUploader(client, func(u *manager.Uploader) {
			u.Concurrency = cfg.Concurrency
			u.PartSize = cfg.PartSize
		}),
		downloader: manager.NewDownloader(client, func(d *manager.Downloader) {
			d.Concurrency = cfg.Concurrency
			d.PartSize = cfg.PartSize
		}),
		config: cfg,
	}
}

// Config returns the transfer configuration.
func (s *Store) Config() TransferConfig {
	return s.config
}

// TransferResult describes a completed transfer.
type TransferResult struct {
	Location Location
	Bytes    int64
	Duration time.Duration
}

// UploadFile uploads the file at localPath to dst. A prefix destination
// keeps the file's base name.
func (s *Store) UploadFile(ctx context.Context, localPath string, dst Location) (*TransferResult, error) {
	start := time.Now()
	dst = dst.ObjectFor(localPath)

	f, err := os.Open(localPath)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", localPath, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", localPath, err)
	}

	_, err = s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(dst.Bucket),
		Key:    aws.String(dst.Key),
		Body:   f,
	})
	if err != nil {
		return nil, fmt.Errorf("upload %s to %s: %w", localPath, dst, err)
	}

	res := &TransferResult{Location: dst, Bytes: info.Size(), Duration: time.Since(start)}
	logging.PhaseComplete(logging.WithPhase("upload"), "upload", res.Duration).
		Str("path", localPath).
		Str("dest", dst.String()).
		Count("bytes", res.Bytes).
		Log("uploaded file")
	return res, nil
}

// DownloadFile downloads src to destPath. A failed download removes the
// partial file.
func (s *Store) DownloadFile(ctx context.Context, src Location, destPath string) (*TransferResult, error) {
	start := time.Now()

	f, err := os.Create(destPath)
	if err != nil {
		return nil, fmt.Errorf("create destination file: %w", err)
	}

	n, err := s.downloader.Download(ctx, f, &s3.GetObjectInput{
		Bucket: aws.String(src.Bucket),
		Key:    aws.String(src.Key),
	})
	if err != nil {
		f.Close()
		os.Remove(destPath)
		return nil, fmt.Errorf("download %s: %w", src, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(destPath)
		return nil, fmt.Errorf("close %s: %w", destPath, err)
	}

	res := &TransferResult{Location: src, Bytes: n, Duration: time.Since(start)}
	logging.PhaseComplete(logging.WithPhase("download"), "download", res.Duration).
		Str("source", src.String()).
		Str("path", destPath).
		Count("bytes", n).
		Log("downloaded file")
	return res, nil
}
