// Package config loads mediakit settings. MEDIAKIT_* environment
// variables override mediakit.yaml, which overrides built-in defaults.
package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/adrg/xdg"
	"github.com/pkg/errors"
	"github.com/spf13/viper"

	"github.com/thesyncim/mediakit"
)

const (
	appName    = "mediakit"
	envPrefix  = "MEDIAKIT"
	configName = "mediakit"
)

// Dir returns the directory searched for mediakit.yaml.
func Dir() string {
	return filepath.Join(xdg.ConfigHome, appName)
}

// DefaultOutputDir is where results are written unless configured.
func DefaultOutputDir() string {
	if xdg.UserDirs.Videos != "" {
		return filepath.Join(xdg.UserDirs.Videos, appName)
	}
	return filepath.Join(xdg.DataHome, appName, "out")
}

// DefaultTempDir holds downloads and merge intermediates.
func DefaultTempDir() string {
	return filepath.Join(xdg.CacheHome, appName)
}

func setDefaults(v *viper.Viper) {
	def := mediakit.DefaultConfig()
	v.SetDefault("output_dir", DefaultOutputDir())
	v.SetDefault("temp_dir", DefaultTempDir())
	v.SetDefault("frame_rate", def.FrameRate)
	v.SetDefault("bitrate_bps", def.BitrateBps)
	v.SetDefault("keyframe_interval_seconds", def.KeyframeIntervalSeconds)
	v.SetDefault("frame_wait_timeout", def.FrameWaitTimeout)
	v.SetDefault("drain_timeout", def.DrainTimeout)
	v.SetDefault("max_flush_retries", def.MaxFlushRetries)
	v.SetDefault("fragment_duration", def.FragmentDuration)
	v.SetDefault("watermark_font_size", def.WatermarkFontSize)
	v.SetDefault("watermark_margin", def.WatermarkMargin)
	v.SetDefault("max_concurrent_jobs", def.MaxConcurrentJobs)
	v.SetDefault("http_timeout", def.HTTPTimeout)
	v.SetDefault("provider", def.Provider)
	v.SetDefault("log_level", def.LogLevel)
	v.SetDefault("log_json", def.LogJSON)
}

// Load reads the configuration. An explicit path must exist; otherwise
// mediakit.yaml is looked up in the working directory and Dir, and a
// missing file means defaults.
func Load(path string) (mediakit.Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(configName)
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath(Dir())
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return mediakit.Config{}, errors.Wrap(err, "read config")
		}
	}

	var cfg mediakit.Config
	if err := v.Unmarshal(&cfg); err != nil {
		return mediakit.Config{}, errors.Wrap(err, "decode config")
	}
	return cfg, nil
}

// EnsureDirs creates the output and temp directories of cfg.
func EnsureDirs(cfg mediakit.Config) error {
	for _, dir := range []string{cfg.OutputDir, cfg.TempDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errors.Wrapf(err, "create %s", dir)
		}
	}
	return nil
}
