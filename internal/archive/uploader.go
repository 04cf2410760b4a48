package archive

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/oszuidwest/zwfm-voicerecorder/internal/eventlog"
	"github.com/oszuidwest/zwfm-voicerecorder/internal/recording"
	"github.com/oszuidwest/zwfm-voicerecorder/internal/types"
	"github.com/oszuidwest/zwfm-voicerecorder/internal/util"
)

// MaxUploadRetryAge is the maximum age for retrying uploads.
const MaxUploadRetryAge = 24 * time.Hour

// Retry delays for failed uploads.
const (
	InitialRetryDelay = 30000 * time.Millisecond
	MaxRetryDelay     = 30 * time.Minute
)

// uploadQueueSize is the capacity of the upload queue.
const uploadQueueSize = 100

// wavContentType is the MIME type of uploaded recordings.
const wavContentType = "audio/wav"

// ErrQueueFull is returned when the upload queue cannot accept more files.
var ErrQueueFull = errors.New("upload queue full")

// EventLogger records archive events.
type EventLogger interface {
	LogArchive(eventType eventlog.EventType, message string, details *eventlog.ArchiveDetails) error
}

// uploadRequest represents a file to be uploaded to S3.
type uploadRequest struct {
	localPath string
	s3Key     string
	fileSize  int64
}

// pendingUpload tracks a failed upload for retry.
type pendingUpload struct {
	request      uploadRequest
	firstAttempt time.Time
	retryCount   int
	lastError    string
}

// Uploader uploads finished recordings in the background.
type Uploader struct {
	cfg    Config
	store  objectStore
	events EventLogger
	now    func() time.Time

	queue   chan uploadRequest
	stopCh  chan struct{}
	wg      sync.WaitGroup
	backoff *util.Backoff

	mu         sync.Mutex
	running    bool
	retryQueue []pendingUpload
	lastUpload time.Time
	lastErr    string
}

// UploaderOption configures an Uploader.
type UploaderOption func(*Uploader)

// WithEventLogger records upload events.
func WithEventLogger(l EventLogger) UploaderOption {
	return func(u *Uploader) {
		u.events = l
	}
}

// withStore replaces the S3 client.
func withStore(store objectStore) UploaderOption {
	return func(u *Uploader) {
		u.store = store
	}
}

// NewUploader creates an uploader. S3 must be configured when the storage mode uploads.
func NewUploader(cfg Config, opts ...UploaderOption) (*Uploader, error) {
	u := &Uploader{
		cfg:     cfg,
		now:     time.Now,
		queue:   make(chan uploadRequest, uploadQueueSize),
		stopCh:  make(chan struct{}),
		backoff: util.NewBackoff(InitialRetryDelay, MaxRetryDelay),
	}
	for _, opt := range opts {
		opt(u)
	}

	if cfg.UsesS3() {
		if !cfg.S3.IsConfigured() {
			return nil, fmt.Errorf("storage mode %s: %w", cfg.StorageMode, ErrNotConfigured)
		}
		if u.store == nil {
			u.store = NewS3Client(&cfg.S3)
		}
	}
	return u, nil
}

// Start starts the upload worker.
func (u *Uploader) Start() {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.running {
		return
	}
	u.running = true
	u.stopCh = make(chan struct{})
	u.wg.Add(1)
	go u.worker()
}

// Stop stops the worker after uploading everything still queued.
func (u *Uploader) Stop() {
	u.mu.Lock()
	if !u.running {
		u.mu.Unlock()
		return
	}
	u.running = false
	close(u.stopCh)
	u.mu.Unlock()

	u.wg.Wait()
}

// HandleFinished queues the recording of a finished session.
func (u *Uploader) HandleFinished(result recording.Result) {
	if !result.HasPath() {
		return
	}
	if err := u.Enqueue(result.Path); err != nil {
		slog.Warn("failed to queue recording for upload", "session_id", result.SessionID, "error", err)
	}
}

// Enqueue adds a completed file to the upload queue.
func (u *Uploader) Enqueue(filePath string) error {
	if !u.cfg.UsesS3() {
		slog.Info("local storage mode, file saved", "path", filePath)
		return nil
	}

	info, err := os.Stat(filePath)
	if err != nil {
		return util.WrapError("stat recording file", err)
	}

	req := uploadRequest{
		localPath: filePath,
		s3Key:     u.cfg.S3.KeyPrefix() + filepath.Base(filePath),
		fileSize:  info.Size(),
	}

	select {
	case u.queue <- req:
		slog.Info("queued file for upload", "file", filepath.Base(filePath))
		u.logEvent(eventlog.UploadQueued, &eventlog.ArchiveDetails{Filename: filepath.Base(filePath), S3Key: req.s3Key})
		return nil
	default:
		return ErrQueueFull
	}
}

// Status returns the current uploader status.
func (u *Uploader) Status() types.ArchiveStatus {
	u.mu.Lock()
	defer u.mu.Unlock()
	return types.ArchiveStatus{
		StorageMode: u.cfg.StorageMode,
		Pending:     len(u.queue),
		Retrying:    len(u.retryQueue),
		LastUpload:  u.lastUpload,
		LastError:   u.lastErr,
	}
}

// worker processes the upload queue, draining remaining items on shutdown.
func (u *Uploader) worker() {
	defer u.wg.Done()

	retry := time.NewTimer(time.Hour)
	retry.Stop()
	defer retry.Stop()

	for {
		select {
		case <-u.stopCh:
			for {
				select {
				case req := <-u.queue:
					if err := u.upload(req); err != nil {
						u.addToRetryQueue(req, err.Error())
					}
				default:
					return
				}
			}
		case req := <-u.queue:
			if err := u.upload(req); err != nil {
				u.addToRetryQueue(req, err.Error())
				retry.Reset(u.backoff.Next())
			}
		case <-retry.C:
			if remaining := u.processRetryQueue(); remaining > 0 {
				retry.Reset(u.backoff.Next())
			} else {
				u.backoff.Reset()
			}
		}
	}
}

// upload uploads a single file and removes the local copy in S3-only mode.
func (u *Uploader) upload(req uploadRequest) error {
	ctx, cancel := context.WithTimeoutCause(
		context.Background(),
		5*time.Minute,
		errors.New("s3 upload timeout"),
	)
	defer cancel()

	filename := filepath.Base(req.localPath)

	file, err := os.Open(req.localPath)
	if err != nil {
		if os.IsNotExist(err) {
			slog.Warn("upload file no longer exists", "path", req.localPath)
			return nil
		}
		return err
	}
	defer func() {
		if err := file.Close(); err != nil {
			slog.Warn("failed to close file after upload", "error", err)
		}
	}()

	_, err = u.store.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(u.cfg.S3.Bucket),
		Key:           aws.String(req.s3Key),
		Body:          file,
		ContentLength: aws.Int64(req.fileSize),
		ContentType:   aws.String(wavContentType),
	})
	if err != nil {
		u.mu.Lock()
		u.lastErr = err.Error()
		u.mu.Unlock()
		slog.Error("upload failed", "s3_key", req.s3Key, "error", err)
		u.logEvent(eventlog.UploadFailed, &eventlog.ArchiveDetails{Filename: filename, S3Key: req.s3Key, Error: err.Error()})
		return err
	}

	u.mu.Lock()
	u.lastUpload = u.now()
	u.lastErr = ""
	u.mu.Unlock()

	slog.Info("upload completed", "s3_key", req.s3Key)
	u.logEvent(eventlog.UploadCompleted, &eventlog.ArchiveDetails{Filename: filename, S3Key: req.s3Key})

	if !u.cfg.KeepsLocal() {
		if err := os.Remove(req.localPath); err != nil {
			slog.Warn("failed to delete local file after upload", "path", req.localPath, "error", err)
		} else {
			slog.Debug("deleted local file after upload", "path", req.localPath)
		}
	}
	return nil
}

// addToRetryQueue adds a failed upload to the retry queue.
func (u *Uploader) addToRetryQueue(req uploadRequest, errMsg string) {
	u.mu.Lock()
	defer u.mu.Unlock()

	for _, p := range u.retryQueue {
		if p.request.localPath == req.localPath {
			return
		}
	}

	u.retryQueue = append(u.retryQueue, pendingUpload{
		request:      req,
		firstAttempt: u.now(),
		lastError:    errMsg,
	})

	slog.Info("upload queued for retry", "file", filepath.Base(req.localPath))
}

// processRetryQueue attempts to upload all pending files and returns how many remain.
func (u *Uploader) processRetryQueue() int {
	u.mu.Lock()
	pending := u.retryQueue
	u.retryQueue = nil
	u.mu.Unlock()

	now := u.now()
	var failed []pendingUpload

	for i := range pending {
		p := &pending[i]
		filename := filepath.Base(p.request.localPath)

		if now.Sub(p.firstAttempt) > MaxUploadRetryAge {
			slog.Warn("upload abandoned after 24h", "file", filename, "attempts", p.retryCount+1)
			u.logEvent(eventlog.UploadAbandoned, &eventlog.ArchiveDetails{
				Filename:   filename,
				S3Key:      p.request.s3Key,
				RetryCount: p.retryCount,
				Error:      "exceeded 24h retry limit",
			})
			continue
		}

		p.retryCount++
		slog.Info("retrying upload", "file", filename, "attempt", p.retryCount)
		u.logEvent(eventlog.UploadRetry, &eventlog.ArchiveDetails{Filename: filename, S3Key: p.request.s3Key, RetryCount: p.retryCount})

		if err := u.upload(p.request); err != nil {
			p.lastError = err.Error()
			failed = append(failed, *p)
		}
	}

	u.mu.Lock()
	defer u.mu.Unlock()
	u.retryQueue = append(failed, u.retryQueue...)
	return len(u.retryQueue)
}

func (u *Uploader) logEvent(eventType eventlog.EventType, details *eventlog.ArchiveDetails) {
	if u.events == nil {
		return
	}
	if err := u.events.LogArchive(eventType, "", details); err != nil {
		slog.Warn("failed to log archive event", "type", eventType, "error", err)
	}
}
