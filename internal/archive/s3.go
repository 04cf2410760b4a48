// Package archive uploads finished recordings to S3-compatible storage and
// removes recordings that are older than the retention period.
package archive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/oszuidwest/zwfm-voicerecorder/internal/types"
	"github.com/oszuidwest/zwfm-voicerecorder/internal/util"
)

// ErrNotConfigured is returned when S3 settings are incomplete.
var ErrNotConfigured = errors.New("S3 is not configured")

// DefaultKeyPrefix is the object key prefix for uploaded recordings.
const DefaultKeyPrefix = "recordings/"

// DefaultRetentionDays is the default number of days to keep recordings.
const DefaultRetentionDays = 90

// S3Config holds S3-compatible storage configuration.
type S3Config struct {
	Endpoint        string `json:"endpoint,omitempty"`          // Custom S3 endpoint (empty for AWS)
	Region          string `json:"region,omitempty"`            // Region, "auto" when empty
	Bucket          string `json:"bucket,omitempty"`            // S3 bucket name
	AccessKeyID     string `json:"access_key_id,omitempty"`     // AWS access key ID
	SecretAccessKey string `json:"secret_access_key,omitempty"` // AWS secret access key
	Prefix          string `json:"prefix,omitempty"`            // Object key prefix, DefaultKeyPrefix when empty
}

// IsConfigured returns true if S3 settings are configured.
func (c *S3Config) IsConfigured() bool {
	return util.IsConfigured(c.Bucket, c.AccessKeyID, c.SecretAccessKey)
}

// KeyPrefix returns the object key prefix, ending in a slash.
func (c *S3Config) KeyPrefix() string {
	if c.Prefix == "" {
		return DefaultKeyPrefix
	}
	if c.Prefix[len(c.Prefix)-1] != '/' {
		return c.Prefix + "/"
	}
	return c.Prefix
}

// Config configures where finished recordings are kept.
type Config struct {
	StorageMode   types.StorageMode `json:"storage_mode"`
	LocalPath     string            `json:"local_path"` // Directory holding local recordings
	FilePrefix    string            `json:"file_prefix"`
	RetentionDays int               `json:"retention_days"` // 0 keeps recordings forever
	S3            S3Config          `json:"s3"`
}

// UsesS3 reports whether recordings are uploaded.
func (c *Config) UsesS3() bool {
	return c.StorageMode == types.StorageS3 || c.StorageMode == types.StorageBoth
}

// KeepsLocal reports whether local copies are kept after upload.
func (c *Config) KeepsLocal() bool {
	return c.StorageMode == types.StorageLocal || c.StorageMode == types.StorageBoth
}

// objectStore is the subset of the S3 API used by this package.
type objectStore interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// NewS3Client creates an S3 client with the given configuration.
func NewS3Client(cfg *S3Config) *s3.Client {
	creds := credentials.NewStaticCredentialsProvider(
		cfg.AccessKeyID,
		cfg.SecretAccessKey,
		"",
	)

	region := cfg.Region
	if region == "" {
		region = "auto"
	}

	options := []func(*s3.Options){
		func(o *s3.Options) {
			o.Credentials = creds
			o.Region = region
		},
	}

	if cfg.Endpoint != "" {
		options = append(options, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		})
	}

	return s3.New(s3.Options{}, options...)
}

// TestConnection tests connectivity to an S3 bucket by uploading and deleting a test file.
func TestConnection(ctx context.Context, cfg *S3Config) error {
	if !cfg.IsConfigured() {
		return ErrNotConfigured
	}
	return testConnection(ctx, NewS3Client(cfg), cfg)
}

func testConnection(ctx context.Context, store objectStore, cfg *S3Config) error {
	ctx, cancel := context.WithTimeout(ctx, 30000*time.Millisecond)
	defer cancel()

	testKey := fmt.Sprintf("%stest-connection-%d.txt", cfg.KeyPrefix(), time.Now().UnixNano())
	testContent := []byte("ZuidWest FM voice recorder connection test")

	_, err := store.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(cfg.Bucket),
		Key:           aws.String(testKey),
		Body:          bytes.NewReader(testContent),
		ContentLength: aws.Int64(int64(len(testContent))),
	})
	if err != nil {
		return util.WrapError("upload test file", err)
	}

	_, err = store.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(cfg.Bucket),
		Key:    aws.String(testKey),
	})
	if err != nil {
		slog.Warn("failed to delete test file", "key", testKey, "error", err)
	}

	return nil
}
