// Package config provides application configuration management.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/oszuidwest/zwfm-voicerecorder/internal/archive"
	"github.com/oszuidwest/zwfm-voicerecorder/internal/eventlog"
	"github.com/oszuidwest/zwfm-voicerecorder/internal/recording"
	"github.com/oszuidwest/zwfm-voicerecorder/internal/types"
	"github.com/oszuidwest/zwfm-voicerecorder/internal/util"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix of environment variables overriding the config file.
const EnvPrefix = "VOICEREC"

// Configuration defaults are used when values are not specified.
const (
	DefaultListen     = "127.0.0.1:8080"
	DefaultConfigName = "voicerecorder.yaml"
)

// ErrConfigExists is returned when a config file would be overwritten.
var ErrConfigExists = errors.New("config file already exists")

// SystemConfig holds system-level settings.
type SystemConfig struct {
	FFmpegPath string `mapstructure:"ffmpeg_path" yaml:"ffmpeg_path" json:"ffmpeg_path"` // Path to FFmpeg binary (empty = use PATH)
	Device     string `mapstructure:"device" yaml:"device" json:"device"`                // Capture device identifier (empty = platform default)
}

// RecordingConfig holds recording session settings.
type RecordingConfig struct {
	SilenceThreshold   float64 `mapstructure:"silence_threshold" yaml:"silence_threshold" json:"silence_threshold" validate:"gt=0,lt=1"`
	SilenceTimeoutMs   int64   `mapstructure:"silence_timeout_ms" yaml:"silence_timeout_ms" json:"silence_timeout_ms" validate:"gt=0"`
	TotalTimeoutMs     int64   `mapstructure:"total_timeout_ms" yaml:"total_timeout_ms" json:"total_timeout_ms" validate:"gt=0"`
	StopOnSilence      bool    `mapstructure:"stop_on_silence" yaml:"stop_on_silence" json:"stop_on_silence"`
	StopOnTotalTimeout bool    `mapstructure:"stop_on_total_timeout" yaml:"stop_on_total_timeout" json:"stop_on_total_timeout"`
	SampleRate         int     `mapstructure:"sample_rate" yaml:"sample_rate" json:"sample_rate" validate:"min=8000,max=192000"`
	Channels           int     `mapstructure:"channels" yaml:"channels" json:"channels" validate:"min=1,max=2"`
	BitsPerSample      int     `mapstructure:"bits_per_sample" yaml:"bits_per_sample" json:"bits_per_sample" validate:"oneof=8 16"`
	OutputDir          string  `mapstructure:"output_dir" yaml:"output_dir" json:"output_dir"` // Empty = system temp directory
	FilePrefix         string  `mapstructure:"file_prefix" yaml:"file_prefix" json:"file_prefix" validate:"max=64"`
	StreamingHeader    bool    `mapstructure:"streaming_header" yaml:"streaming_header" json:"streaming_header"` // Unknown-length header for non-seekable sinks
	KeepSilent         bool    `mapstructure:"keep_silent" yaml:"keep_silent" json:"keep_silent"`                // Keep files without detected audio
}

// ServerConfig holds monitor server settings.
type ServerConfig struct {
	Listen string `mapstructure:"listen" yaml:"listen" json:"listen" validate:"required,hostname_port"`
}

// WebhookConfig holds webhook notification settings.
type WebhookConfig struct {
	URL string `mapstructure:"url" yaml:"url" json:"url" validate:"omitempty,url,max=2048"`
}

// NotificationsConfig holds all notification channel settings.
type NotificationsConfig struct {
	Webhook WebhookConfig `mapstructure:"webhook" yaml:"webhook" json:"webhook"`
}

// EventLogConfig holds event log settings.
type EventLogConfig struct {
	Path string `mapstructure:"path" yaml:"path" json:"path"` // Empty = platform default
}

// S3Config holds S3-compatible storage settings.
type S3Config struct {
	Endpoint        string `mapstructure:"endpoint" yaml:"endpoint" json:"endpoint" validate:"omitempty,url"`
	Region          string `mapstructure:"region" yaml:"region" json:"region"`
	Bucket          string `mapstructure:"bucket" yaml:"bucket" json:"bucket" validate:"omitempty,max=63"`
	AccessKeyID     string `mapstructure:"access_key_id" yaml:"access_key_id" json:"access_key_id" validate:"omitempty,max=128"`
	SecretAccessKey string `mapstructure:"secret_access_key" yaml:"secret_access_key" json:"secret_access_key" validate:"omitempty,max=256"`
	Prefix          string `mapstructure:"prefix" yaml:"prefix" json:"prefix" validate:"max=256"`
}

// ArchiveConfig holds upload and retention settings.
type ArchiveConfig struct {
	StorageMode     types.StorageMode `mapstructure:"storage_mode" yaml:"storage_mode" json:"storage_mode" validate:"oneof=local s3 both"`
	RetentionDays   int               `mapstructure:"retention_days" yaml:"retention_days" json:"retention_days" validate:"min=0,max=3650"` // 0 keeps recordings forever
	CleanupSchedule string            `mapstructure:"cleanup_schedule" yaml:"cleanup_schedule" json:"cleanup_schedule"`                    // Cron expression
	S3              S3Config          `mapstructure:"s3" yaml:"s3" json:"s3"`
}

// Config holds all application configuration.
type Config struct {
	System        SystemConfig        `mapstructure:"system" yaml:"system" json:"system"`
	Recording     RecordingConfig     `mapstructure:"recording" yaml:"recording" json:"recording"`
	Server        ServerConfig        `mapstructure:"server" yaml:"server" json:"server"`
	Notifications NotificationsConfig `mapstructure:"notifications" yaml:"notifications" json:"notifications"`
	EventLog      EventLogConfig      `mapstructure:"event_log" yaml:"event_log" json:"event_log"`
	Archive       ArchiveConfig       `mapstructure:"archive" yaml:"archive" json:"archive"`

	filePath string
}

// Default returns the configuration used when no file or override is present.
func Default() *Config {
	rec := recording.DefaultConfig()
	return &Config{
		Recording: RecordingConfig{
			SilenceThreshold:   rec.SilenceThreshold,
			SilenceTimeoutMs:   rec.SilenceTimeout.Milliseconds(),
			TotalTimeoutMs:     rec.TotalTimeout.Milliseconds(),
			StopOnSilence:      rec.StopOnSilence,
			StopOnTotalTimeout: rec.StopOnTotalTimeout,
			SampleRate:         rec.SampleRate,
			Channels:           rec.Channels,
			BitsPerSample:      rec.BitsPerSample,
			FilePrefix:         recording.DefaultFilePrefix,
			StreamingHeader:    true,
		},
		Server: ServerConfig{
			Listen: DefaultListen,
		},
		Archive: ArchiveConfig{
			StorageMode:     types.StorageLocal,
			RetentionDays:   archive.DefaultRetentionDays,
			CleanupSchedule: archive.DefaultCleanupSchedule,
		},
	}
}

// setDefaults registers every key with viper so environment overrides apply.
func setDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("system.ffmpeg_path", d.System.FFmpegPath)
	v.SetDefault("system.device", d.System.Device)

	v.SetDefault("recording.silence_threshold", d.Recording.SilenceThreshold)
	v.SetDefault("recording.silence_timeout_ms", d.Recording.SilenceTimeoutMs)
	v.SetDefault("recording.total_timeout_ms", d.Recording.TotalTimeoutMs)
	v.SetDefault("recording.stop_on_silence", d.Recording.StopOnSilence)
	v.SetDefault("recording.stop_on_total_timeout", d.Recording.StopOnTotalTimeout)
	v.SetDefault("recording.sample_rate", d.Recording.SampleRate)
	v.SetDefault("recording.channels", d.Recording.Channels)
	v.SetDefault("recording.bits_per_sample", d.Recording.BitsPerSample)
	v.SetDefault("recording.output_dir", d.Recording.OutputDir)
	v.SetDefault("recording.file_prefix", d.Recording.FilePrefix)
	v.SetDefault("recording.streaming_header", d.Recording.StreamingHeader)
	v.SetDefault("recording.keep_silent", d.Recording.KeepSilent)

	v.SetDefault("server.listen", d.Server.Listen)

	v.SetDefault("notifications.webhook.url", d.Notifications.Webhook.URL)

	v.SetDefault("event_log.path", d.EventLog.Path)

	v.SetDefault("archive.storage_mode", string(d.Archive.StorageMode))
	v.SetDefault("archive.retention_days", d.Archive.RetentionDays)
	v.SetDefault("archive.cleanup_schedule", d.Archive.CleanupSchedule)
	v.SetDefault("archive.s3.endpoint", "")
	v.SetDefault("archive.s3.region", "")
	v.SetDefault("archive.s3.bucket", "")
	v.SetDefault("archive.s3.access_key_id", "")
	v.SetDefault("archive.s3.secret_access_key", "")
	v.SetDefault("archive.s3.prefix", "")
}

// DefaultPath returns the default config file location.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return DefaultConfigName
	}
	return filepath.Join(home, ".config", DefaultConfigName)
}

// Load reads the config file at path, applies environment overrides and
// validates the result. An empty path uses DefaultPath; a missing default
// file yields the defaults, a missing explicit file is an error.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	explicit := path != ""
	if !explicit {
		path = DefaultPath()
	}
	v.SetConfigFile(path)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		missing := errors.As(err, &notFound) || errors.Is(err, fs.ErrNotExist)
		if !missing || explicit {
			return nil, util.WrapError("read config", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, util.WrapError("parse config", err)
	}
	if v.ConfigFileUsed() != "" {
		if _, err := os.Stat(v.ConfigFileUsed()); err == nil {
			cfg.filePath = v.ConfigFileUsed()
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Path returns the config file that was loaded, or "" when only defaults and
// environment variables were used.
func (c *Config) Path() string {
	return c.filePath
}

// Validate checks all configuration fields. It returns a *types.ValidationError on failure.
func (c *Config) Validate() error {
	var verr *types.ValidationError
	if err := types.Validate(c); err != nil {
		if !errors.As(err, &verr) {
			return err
		}
	}
	if verr == nil {
		verr = types.NewValidationError()
	}

	if c.Recording.OutputDir != "" {
		if err := util.ValidatePath("recording.output_dir", c.Recording.OutputDir); err != nil {
			verr.Add("recording.output_dir", "path cannot contain '..'", c.Recording.OutputDir)
		}
	}

	archiveCfg := c.ArchiveConfig()
	if archiveCfg.UsesS3() && !archiveCfg.S3.IsConfigured() {
		verr.Add("archive.s3", fmt.Sprintf("bucket and credentials are required for storage mode %s", c.Archive.StorageMode), nil)
	}

	if verr.HasErrors() {
		return verr
	}
	return nil
}

// SessionConfig returns the recording session configuration.
func (c *Config) SessionConfig() recording.Config {
	r := c.Recording
	return recording.Config{
		SilenceThreshold:   r.SilenceThreshold,
		SilenceTimeout:     time.Duration(r.SilenceTimeoutMs) * time.Millisecond,
		TotalTimeout:       time.Duration(r.TotalTimeoutMs) * time.Millisecond,
		StopOnSilence:      r.StopOnSilence,
		StopOnTotalTimeout: r.StopOnTotalTimeout,
		SampleRate:         r.SampleRate,
		Channels:           r.Channels,
		BitsPerSample:      r.BitsPerSample,
	}
}

// SessionOptions returns the session options for output placement.
func (c *Config) SessionOptions() []recording.Option {
	return []recording.Option{
		recording.WithOutputDir(c.Recording.OutputDir),
		recording.WithFilePrefix(c.Recording.FilePrefix),
		recording.WithStreamingHeader(c.Recording.StreamingHeader),
		recording.WithKeepSilent(c.Recording.KeepSilent),
	}
}

// ArchiveConfig returns the upload and retention configuration.
func (c *Config) ArchiveConfig() archive.Config {
	return archive.Config{
		StorageMode:   c.Archive.StorageMode,
		LocalPath:     c.Recording.OutputDir,
		FilePrefix:    c.Recording.FilePrefix,
		RetentionDays: c.Archive.RetentionDays,
		S3: archive.S3Config{
			Endpoint:        c.Archive.S3.Endpoint,
			Region:          c.Archive.S3.Region,
			Bucket:          c.Archive.S3.Bucket,
			AccessKeyID:     c.Archive.S3.AccessKeyID,
			SecretAccessKey: c.Archive.S3.SecretAccessKey,
			Prefix:          c.Archive.S3.Prefix,
		},
	}
}

// EventLogPath returns the event log file path.
func (c *Config) EventLogPath() string {
	if c.EventLog.Path != "" {
		return c.EventLog.Path
	}
	return eventlog.DefaultLogPath()
}

// HasWebhook reports whether webhook notifications are configured.
func (c *Config) HasWebhook() bool {
	return util.IsConfigured(c.Notifications.Webhook.URL)
}

// Settings returns the recording settings shown to monitor clients.
func (c *Config) Settings() types.RecordingSettings {
	r := c.Recording
	return types.RecordingSettings{
		SilenceThreshold:   r.SilenceThreshold,
		SilenceTimeoutMs:   r.SilenceTimeoutMs,
		TotalTimeoutMs:     r.TotalTimeoutMs,
		StopOnSilence:      r.StopOnSilence,
		StopOnTotalTimeout: r.StopOnTotalTimeout,
		SampleRate:         r.SampleRate,
		Channels:           r.Channels,
		BitsPerSample:      r.BitsPerSample,
	}
}

// Redacted returns a copy with secrets masked.
func (c *Config) Redacted() *Config {
	cp := *c
	if cp.Archive.S3.SecretAccessKey != "" {
		cp.Archive.S3.SecretAccessKey = "********"
	}
	return &cp
}

// Marshal encodes the configuration as YAML.
func (c *Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}

// WriteDefault writes the default configuration to path. It refuses to
// overwrite an existing file unless force is set.
func WriteDefault(path string, force bool) error {
	if path == "" {
		path = DefaultPath()
	}

	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%w: %s", ErrConfigExists, path)
		}
	}

	data, err := Default().Marshal()
	if err != nil {
		return util.WrapError("encode config", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil { //nolint:gosec // Config directory needs to be traversable
		return util.WrapError("create config directory", err)
	}

	// Write to temp file first, then rename for atomic operation
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o600); err != nil {
		return util.WrapError("write config", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath) // Best effort cleanup
		return util.WrapError("save config", err)
	}
	return nil
}
