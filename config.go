package mediakit

import (
	"os"
	"path/filepath"
	"time"
)

// Config holds the settings shared by every Kit operation.
type Config struct {
	OutputDir string `mapstructure:"output_dir"`
	TempDir   string `mapstructure:"temp_dir"`

	FrameRate               int `mapstructure:"frame_rate"`
	BitrateBps              int `mapstructure:"bitrate_bps"`
	KeyframeIntervalSeconds int `mapstructure:"keyframe_interval_seconds"`

	FrameWaitTimeout time.Duration `mapstructure:"frame_wait_timeout"`
	DrainTimeout     time.Duration `mapstructure:"drain_timeout"`
	MaxFlushRetries  int           `mapstructure:"max_flush_retries"`
	FragmentDuration time.Duration `mapstructure:"fragment_duration"`

	WatermarkFontSize float64 `mapstructure:"watermark_font_size"`
	WatermarkMargin   int     `mapstructure:"watermark_margin"`

	MaxConcurrentJobs int           `mapstructure:"max_concurrent_jobs"`
	HTTPTimeout       time.Duration `mapstructure:"http_timeout"`

	Provider string `mapstructure:"provider"`
	LogLevel string `mapstructure:"log_level"`
	LogJSON  bool   `mapstructure:"log_json"`
}

// DefaultConfig returns the built-in settings.
func DefaultConfig() Config {
	return Config{
		OutputDir:               filepath.Join(os.TempDir(), "mediakit", "out"),
		TempDir:                 os.TempDir(),
		FrameRate:               DefaultFrameRate,
		BitrateBps:              DefaultBitrateBps,
		KeyframeIntervalSeconds: DefaultKeyframeIntervalSeconds,
		FrameWaitTimeout:        DefaultFrameWaitTimeout,
		DrainTimeout:            DefaultDrainTimeout,
		MaxFlushRetries:         DefaultMaxFlushRetries,
		FragmentDuration:        defaultFragmentDuration,
		WatermarkFontSize:       DefaultWatermarkFontSize,
		MaxConcurrentJobs:       1,
		HTTPTimeout:             time.Minute,
		Provider:                ProviderAuto.String(),
		LogLevel:                "info",
	}
}

// withDefaults fills zero fields from DefaultConfig.
func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.OutputDir == "" {
		c.OutputDir = def.OutputDir
	}
	if c.TempDir == "" {
		c.TempDir = def.TempDir
	}
	if c.FrameRate <= 0 {
		c.FrameRate = def.FrameRate
	}
	if c.BitrateBps <= 0 {
		c.BitrateBps = def.BitrateBps
	}
	if c.KeyframeIntervalSeconds <= 0 {
		c.KeyframeIntervalSeconds = def.KeyframeIntervalSeconds
	}
	if c.FrameWaitTimeout <= 0 {
		c.FrameWaitTimeout = def.FrameWaitTimeout
	}
	if c.DrainTimeout <= 0 {
		c.DrainTimeout = def.DrainTimeout
	}
	if c.MaxFlushRetries <= 0 {
		c.MaxFlushRetries = def.MaxFlushRetries
	}
	if c.FragmentDuration <= 0 {
		c.FragmentDuration = def.FragmentDuration
	}
	if c.WatermarkFontSize <= 0 {
		c.WatermarkFontSize = def.WatermarkFontSize
	}
	if c.WatermarkMargin < 0 {
		c.WatermarkMargin = 0
	}
	if c.MaxConcurrentJobs <= 0 {
		c.MaxConcurrentJobs = def.MaxConcurrentJobs
	}
	if c.HTTPTimeout <= 0 {
		c.HTTPTimeout = def.HTTPTimeout
	}
	if c.Provider == "" {
		c.Provider = def.Provider
	}
	if c.LogLevel == "" {
		c.LogLevel = def.LogLevel
	}
	return c
}
