package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/fatih/color"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/thesyncim/mediakit"
)

func newInfoCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "info <uri>",
		Short: "Show container, track and size information",
		Example: `  mediakit info clip.mp4
  mediakit info https://example.com/still.png --json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runJob(cmd, opts, "Probing", func(ctx context.Context, k *mediakit.Kit) *mediakit.Future {
				return k.GetMediaInfo(ctx, args[0])
			})
		},
	}
}

func newImageToVideoCommand(opts *globalOptions) *cobra.Command {
	var duration float64
	cmd := &cobra.Command{
		Use:     "image2video <image>",
		Short:   "Render a still image into a video",
		Example: `  mediakit image2video cover.jpg --duration 5`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runJob(cmd, opts, "Rendering", func(ctx context.Context, k *mediakit.Kit) *mediakit.Future {
				return k.ConvertImageToVideo(ctx, args[0], duration)
			})
		},
	}
	cmd.Flags().Float64VarP(&duration, "duration", "d", 5, "Video length in seconds")
	return cmd
}

func newMergeCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "merge <uri>...",
		Short:   "Concatenate videos, re-encoding those that differ from the majority",
		Example: `  mediakit merge intro.mp4 main.mp4 outro.mp4`,
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runJob(cmd, opts, "Merging", func(ctx context.Context, k *mediakit.Kit) *mediakit.Future {
				return k.MergeVideos(ctx, args)
			})
		},
	}
}

func newSplitCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "split <uri> <start-end>...",
		Short: "Cut a video into segments given in milliseconds",
		Long: `Cut a video into one MP4 per segment without re-encoding. Each segment is
START-END in milliseconds; cuts snap back to the previous keyframe.`,
		Example: `  mediakit split talk.mp4 0-30000 30000-60000`,
		Args:    cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			segments := make([]mediakit.Segment, 0, len(args)-1)
			for _, arg := range args[1:] {
				seg, err := parseSegment(arg)
				if err != nil {
					return err
				}
				segments = append(segments, seg)
			}
			return runJob(cmd, opts, "Splitting", func(ctx context.Context, k *mediakit.Kit) *mediakit.Future {
				return k.SplitVideo(ctx, args[0], segments)
			})
		},
	}
}

// parseSegment reads "START-END" in milliseconds.
func parseSegment(s string) (mediakit.Segment, error) {
	start, end, ok := strings.Cut(s, "-")
	if !ok {
		return mediakit.Segment{}, errors.Errorf("segment %q: want START-END", s)
	}
	startMs, err := strconv.ParseInt(strings.TrimSpace(start), 10, 64)
	if err != nil {
		return mediakit.Segment{}, errors.Wrapf(err, "segment %q start", s)
	}
	endMs, err := strconv.ParseInt(strings.TrimSpace(end), 10, 64)
	if err != nil {
		return mediakit.Segment{}, errors.Wrapf(err, "segment %q end", s)
	}
	return mediakit.Segment{StartMs: startMs, EndMs: endMs}, nil
}

func newWatermarkCommand(opts *globalOptions) *cobra.Command {
	var (
		text     string
		position string
	)
	cmd := &cobra.Command{
		Use:     "watermark <uri>",
		Short:   "Burn a text watermark into a video",
		Example: `  mediakit watermark clip.mp4 --text "© ACME" --position bottom-right`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runJob(cmd, opts, "Watermarking", func(ctx context.Context, k *mediakit.Kit) *mediakit.Future {
				return k.WatermarkVideo(ctx, args[0], text, position)
			})
		},
	}
	cmd.Flags().StringVarP(&text, "text", "t", "", "Watermark text")
	cmd.Flags().StringVarP(&position, "position", "p", "bottom-right", "top-left, top-right, bottom-left, bottom-right or center")
	_ = cmd.MarkFlagRequired("text")
	_ = cmd.RegisterFlagCompletionFunc("position", func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
		return []string{"top-left", "top-right", "bottom-left", "bottom-right", "center"}, cobra.ShellCompDirectiveNoFileComp
	})
	return cmd
}

func newProvidersCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "providers",
		Short: "List platform media providers and their availability",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			providers := mediakit.Providers()
			if opts.JSON {
				return printJSON(cmd.OutOrStdout(), providers)
			}
			w := cmd.OutOrStdout()
			for _, p := range providers {
				status := color.New(color.Faint).Sprint("unavailable")
				if p.Available {
					status = color.GreenString("available")
				}
				def := ""
				if p.Default {
					def = color.CyanString(" (default)")
				}
				fmt.Fprintf(w, "%-12s %s%s\n", p.Name, status, def)
			}
			return nil
		},
	}
}
