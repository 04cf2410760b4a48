package archive

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/oszuidwest/zwfm-voicerecorder/internal/eventlog"
	"github.com/oszuidwest/zwfm-voicerecorder/internal/recording"
	"github.com/oszuidwest/zwfm-voicerecorder/internal/util"
	cronlib "github.com/robfig/cron/v3"
)

// DefaultCleanupSchedule runs the cleanup daily at 03:00.
const DefaultCleanupSchedule = "0 3 * * *"

// CleanupResult summarizes a cleanup run.
type CleanupResult struct {
	LocalDeleted int `json:"local_deleted"`
	S3Deleted    int `json:"s3_deleted"`
}

// Cleaner removes recordings older than the retention period.
type Cleaner struct {
	cfg    Config
	store  objectStore
	events EventLogger
	now    func() time.Time
	busy   func(path string) bool
}

// CleanerOption configures a Cleaner.
type CleanerOption func(*Cleaner)

// WithCleanupEvents records cleanup events.
func WithCleanupEvents(l EventLogger) CleanerOption {
	return func(c *Cleaner) {
		c.events = l
	}
}

// WithBusyCheck skips files for which busy returns true, such as the file
// currently being recorded.
func WithBusyCheck(busy func(path string) bool) CleanerOption {
	return func(c *Cleaner) {
		c.busy = busy
	}
}

// withCleanerStore replaces the S3 client.
func withCleanerStore(store objectStore) CleanerOption {
	return func(c *Cleaner) {
		c.store = store
	}
}

// NewCleaner creates a cleaner for the given archive configuration.
func NewCleaner(cfg Config, opts ...CleanerOption) *Cleaner {
	c := &Cleaner{
		cfg: cfg,
		now: time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.store == nil && cfg.UsesS3() && cfg.S3.IsConfigured() {
		c.store = NewS3Client(&cfg.S3)
	}
	return c
}

// filePrefix is the sanitized prefix shared by all recording filenames.
func (c *Cleaner) filePrefix() string {
	prefix := c.cfg.FilePrefix
	if prefix == "" {
		prefix = recording.DefaultFilePrefix
	}
	return recording.SanitizeFilename(prefix) + "-"
}

// Run deletes expired recordings. A retention of zero keeps everything.
func (c *Cleaner) Run(ctx context.Context) (CleanupResult, error) {
	var result CleanupResult
	if c.cfg.RetentionDays <= 0 {
		return result, nil
	}

	cutoff := c.now().AddDate(0, 0, -c.cfg.RetentionDays)
	slog.Info("cleanup: starting", "retention_days", c.cfg.RetentionDays, "cutoff", cutoff.Format(time.DateOnly))

	var errs []error
	if c.cfg.KeepsLocal() || !c.cfg.UsesS3() {
		n, err := c.cleanupLocalFiles(cutoff)
		result.LocalDeleted = n
		if err != nil {
			errs = append(errs, err)
		}
		c.logEvent("local", n, err)
	}

	if c.cfg.UsesS3() {
		n, err := c.cleanupS3Files(ctx, cutoff)
		result.S3Deleted = n
		if err != nil {
			errs = append(errs, err)
		}
		c.logEvent("s3", n, err)
	}

	slog.Info("cleanup: completed", "local_deleted", result.LocalDeleted, "s3_deleted", result.S3Deleted)
	return result, errors.Join(errs...)
}

// cleanupLocalFiles removes local files older than the cutoff.
func (c *Cleaner) cleanupLocalFiles(cutoff time.Time) (int, error) {
	dir := c.cfg.LocalPath
	if dir == "" {
		dir = os.TempDir()
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, util.WrapError("read local directory", err)
	}

	prefix := c.filePrefix()
	var deleted int
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		name := entry.Name()
		if !strings.HasPrefix(name, prefix) {
			continue
		}

		fileDate, ok := util.ExtractDateFromFilename(name)
		if !ok || !fileDate.Before(cutoff) {
			continue
		}

		filePath := filepath.Join(dir, name)
		if c.busy != nil && c.busy(filePath) {
			continue
		}

		if err := os.Remove(filePath); err != nil {
			slog.Warn("cleanup: failed to delete local file", "path", filePath, "error", err)
		} else {
			deleted++
			slog.Debug("cleanup: deleted local file", "file", name)
		}
	}

	return deleted, nil
}

// cleanupS3Files removes S3 objects older than the cutoff.
func (c *Cleaner) cleanupS3Files(ctx context.Context, cutoff time.Time) (int, error) {
	if c.store == nil {
		return 0, ErrNotConfigured
	}

	ctx, cancel := context.WithTimeoutCause(ctx, 5*time.Minute, errors.New("s3 cleanup timeout"))
	defer cancel()

	bucket := c.cfg.S3.Bucket
	prefix := c.cfg.S3.KeyPrefix() + c.filePrefix()

	var deleted int
	var continuationToken *string

	for {
		output, err := c.store.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(bucket),
			Prefix:            aws.String(prefix),
			ContinuationToken: continuationToken,
		})
		if err != nil {
			return deleted, util.WrapError("list S3 objects", err)
		}

		for _, obj := range output.Contents {
			key := aws.ToString(obj.Key)

			fileDate, ok := util.ExtractDateFromFilename(filepath.Base(key))
			if !ok || !fileDate.Before(cutoff) {
				continue
			}

			_, err := c.store.DeleteObject(ctx, &s3.DeleteObjectInput{
				Bucket: aws.String(bucket),
				Key:    obj.Key,
			})
			if err != nil {
				slog.Warn("cleanup: failed to delete S3 object", "key", key, "error", err)
			} else {
				deleted++
				slog.Debug("cleanup: deleted S3 object", "key", key)
			}
		}

		if !aws.ToBool(output.IsTruncated) {
			break
		}
		continuationToken = output.NextContinuationToken
	}

	return deleted, nil
}

func (c *Cleaner) logEvent(storage string, deleted int, err error) {
	if c.events == nil {
		return
	}
	details := &eventlog.ArchiveDetails{FilesDeleted: deleted, StorageType: storage}
	if err != nil {
		details.Error = err.Error()
	}
	if logErr := c.events.LogArchive(eventlog.CleanupCompleted, "", details); logErr != nil {
		slog.Warn("failed to log cleanup event", "error", logErr)
	}
}

// Scheduler runs a Cleaner on a cron schedule.
type Scheduler struct {
	mu      sync.Mutex
	cleaner *Cleaner
	cron    *cronlib.Cron
	running bool
}

// NewScheduler creates a scheduler that runs the cleaner on the given cron
// expression. An empty expression uses DefaultCleanupSchedule.
func NewScheduler(cleaner *Cleaner, schedule string) (*Scheduler, error) {
	if schedule == "" {
		schedule = DefaultCleanupSchedule
	}

	s := &Scheduler{
		cleaner: cleaner,
		cron:    cronlib.New(),
	}

	if _, err := s.cron.AddFunc(schedule, s.run); err != nil {
		return nil, fmt.Errorf("invalid cleanup schedule %q: %w", schedule, err)
	}
	return s, nil
}

// Start begins scheduling cleanup runs.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	s.cron.Start()

	if entries := s.cron.Entries(); len(entries) > 0 {
		slog.Info("cleanup scheduler: next run scheduled", "at", entries[0].Next.Format(time.DateTime))
	}
}

// Stop stops the scheduler and waits for a running cleanup to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	<-s.cron.Stop().Done()
	slog.Info("cleanup scheduler stopped")
}

func (s *Scheduler) run() {
	if _, err := s.cleaner.Run(context.Background()); err != nil {
		slog.Warn("cleanup: run failed", "error", err)
	}
}
