// Package archive compresses day containers that have aged past the
// staleness horizon and optionally ships them to S3.
//
// The archiver never touches a day the aggregation worker can still write
// to, so the store's single-writer rule is preserved. Archived files keep
// their name with a ".gz" suffix and stay readable through the store.
package archive

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/klauspost/compress/gzip"

	"github.com/xtxerr/statbot/internal/logging"
)

var log = logging.Component("archive")

// objectPutter is the slice of the S3 client the archiver uses.
type objectPutter interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Options configures an Archiver.
type Options struct {
	// DataDir is the directory swept for eligible containers.
	DataDir string

	// AfterDays is the minimum age, by modification time, before a
	// container is archived.
	AfterDays int

	// Interval is how often the sweep runs.
	Interval time.Duration

	// S3 upload settings; upload is skipped when Bucket is empty.
	Region string
	Bucket string
	Prefix string

	// UploadRetries is the number of upload attempts per file.
	UploadRetries int

	// UploadTimeout bounds a single PutObject call.
	UploadTimeout time.Duration
}

// Archiver sweeps the data directory in the background.
type Archiver struct {
	opts   Options
	client objectPutter

	running atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	archived atomic.Int64
	uploaded atomic.Int64
}

// New creates an archiver. When an S3 bucket is configured the AWS client
// is initialized from the default credential chain.
func New(opts Options) (*Archiver, error) {
	if opts.AfterDays <= 0 {
		return nil, fmt.Errorf("after_days must be positive")
	}
	if opts.UploadRetries == 0 {
		opts.UploadRetries = 3
	}
	if opts.UploadTimeout == 0 {
		opts.UploadTimeout = 30 * time.Second
	}

	a := &Archiver{opts: opts}

	if opts.Bucket != "" {
		awsCfg, err := awsconfig.LoadDefaultConfig(
			context.Background(),
			awsconfig.WithRegion(opts.Region),
		)
		if err != nil {
			return nil, fmt.Errorf("load AWS config: %w", err)
		}
		a.client = s3.NewFromConfig(awsCfg)
	}

	a.ctx, a.cancel = context.WithCancel(context.Background())
	return a, nil
}

// Start launches the sweep loop.
func (a *Archiver) Start() error {
	if !a.running.CompareAndSwap(false, true) {
		return fmt.Errorf("archiver already running")
	}

	a.wg.Add(1)
	go a.sweepLoop()

	return nil
}

// Stop terminates the sweep loop and waits for the sweep in flight.
func (a *Archiver) Stop() error {
	if !a.running.CompareAndSwap(true, false) {
		return nil
	}
	a.cancel()
	a.wg.Wait()
	return nil
}

func (a *Archiver) sweepLoop() {
	defer a.wg.Done()

	ticker := time.NewTicker(a.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-a.ctx.Done():
			return
		case <-ticker.C:
			a.Sweep()
		}
	}
}

// Sweep archives every eligible container file once. Per-file failures are
// logged and skipped; the sweep continues.
func (a *Archiver) Sweep() {
	cutoff := time.Now().AddDate(0, 0, -a.opts.AfterDays)

	entries, err := os.ReadDir(a.opts.DataDir)
	if err != nil {
		log.Error("read data dir", "dir", a.opts.DataDir, "error", err)
		return
	}

	for _, entry := range entries {
		if entry.IsDir() || strings.HasSuffix(entry.Name(), ".gz") {
			continue
		}
		// Leftovers from interrupted atomic writes are not containers.
		if strings.Contains(entry.Name(), ".tmp") {
			continue
		}

		info, err := entry.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}

		path := filepath.Join(a.opts.DataDir, entry.Name())
		if err := a.archiveFile(path); err != nil {
			log.Error("archive failed", "path", path, "error", err)
			continue
		}
		a.archived.Add(1)
		log.Info("container archived", "path", path)
	}
}

// archiveFile gzips a container, uploads the compressed form when S3 is
// configured, and removes the plain file only after both succeed.
func (a *Archiver) archiveFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	gz, err := gzip.NewWriterLevel(&buf, gzip.BestCompression)
	if err != nil {
		return err
	}
	if _, err := gz.Write(data); err != nil {
		gz.Close()
		return err
	}
	if err := gz.Close(); err != nil {
		return err
	}

	dst := path + ".gz"
	tmp := dst + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, dst); err != nil {
		os.Remove(tmp)
		return err
	}

	if a.client != nil {
		key := filepath.Base(dst)
		if a.opts.Prefix != "" {
			key = strings.TrimSuffix(a.opts.Prefix, "/") + "/" + key
		}
		if err := a.upload(key, buf.Bytes()); err != nil {
			// Keep both local files so the next sweep retries the upload.
			return fmt.Errorf("upload: %w", err)
		}
		a.uploaded.Add(1)
	}

	return os.Remove(path)
}

// upload puts the archived bytes with retry and exponential backoff. The
// reader is recreated per attempt.
func (a *Archiver) upload(key string, body []byte) error {
	var lastErr error
	backoff := 200 * time.Millisecond

	for attempt := 0; attempt < a.opts.UploadRetries; attempt++ {
		select {
		case <-a.ctx.Done():
			return a.ctx.Err()
		default:
		}

		ctx, cancel := context.WithTimeout(a.ctx, a.opts.UploadTimeout)
		_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:        aws.String(a.opts.Bucket),
			Key:           aws.String(key),
			Body:          bytes.NewReader(body),
			ContentLength: aws.Int64(int64(len(body))),
		})
		cancel()

		if err == nil {
			return nil
		}
		lastErr = err

		select {
		case <-a.ctx.Done():
			return a.ctx.Err()
		case <-time.After(backoff):
			backoff *= 2
			if backoff > 2*time.Second {
				backoff = 2 * time.Second
			}
		}
	}

	return lastErr
}

// Stats returns the number of containers archived and uploaded since start.
func (a *Archiver) Stats() (archived, uploaded int64) {
	return a.archived.Load(), a.uploaded.Load()
}
