package main

import (
	"github.com/spf13/cobra"

	"github.com/thesyncim/mediakit"
	"github.com/thesyncim/mediakit/config"
)

// globalOptions are the persistent flags shared by every command.
type globalOptions struct {
	ConfigPath string
	OutputDir  string
	LogLevel   string
	JSON       bool

	cfg mediakit.Config
}

func newRootCommand() *cobra.Command {
	opts := &globalOptions{}

	cmd := &cobra.Command{
		Use:   "mediakit",
		Short: "Hardware accelerated video synthesis and editing",
		Long: `mediakit turns still images into videos, burns text watermarks into videos,
merges videos of differing encodings and splits videos into segments.
Outputs are always MP4.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.load()
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&opts.ConfigPath, "config", "", "Config file (default: mediakit.yaml in the working or config directory)")
	flags.StringVarP(&opts.OutputDir, "output-dir", "o", "", "Directory for results")
	flags.StringVar(&opts.LogLevel, "log-level", "", "Log level (trace, debug, info, warn, error)")
	flags.BoolVar(&opts.JSON, "json", false, "Print the raw JSON result")

	cmd.AddCommand(
		newInfoCommand(opts),
		newImageToVideoCommand(opts),
		newMergeCommand(opts),
		newSplitCommand(opts),
		newWatermarkCommand(opts),
		newProvidersCommand(opts),
		newServeCommand(opts),
	)
	return cmd
}

// load reads the config and applies flag overrides.
func (o *globalOptions) load() error {
	cfg, err := config.Load(o.ConfigPath)
	if err != nil {
		return err
	}
	if o.OutputDir != "" {
		cfg.OutputDir = o.OutputDir
	}
	if o.LogLevel != "" {
		cfg.LogLevel = o.LogLevel
	}
	if err := config.EnsureDirs(cfg); err != nil {
		return err
	}
	mediakit.SetLogger(mediakit.NewLogger("mediakit", cfg.LogLevel, cfg.LogJSON))
	o.cfg = cfg
	return nil
}

func (o *globalOptions) newKit() (*mediakit.Kit, error) {
	return mediakit.NewKit(o.cfg)
}
