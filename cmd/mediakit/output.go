package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/thesyncim/mediakit"
)

// runJob starts one Kit operation, waits for it with a spinner and prints
// the result. A failed result is returned as the command error.
func runJob(cmd *cobra.Command, opts *globalOptions, label string, start func(ctx context.Context, k *mediakit.Kit) *mediakit.Future) error {
	k, err := opts.newKit()
	if err != nil {
		return err
	}

	var sp *spinner.Spinner
	if !opts.JSON {
		sp = spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(cmd.ErrOrStderr()))
		sp.Prefix = "  "
		sp.Suffix = " " + label
		sp.Start()
	}
	res, err := start(cmd.Context(), k).Wait(cmd.Context())
	if sp != nil {
		sp.Stop()
	}
	if err != nil {
		return err
	}

	if opts.JSON {
		if err := printJSON(cmd.OutOrStdout(), res); err != nil {
			return err
		}
	} else {
		printResult(cmd.OutOrStdout(), res)
	}
	return res.Err()
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// printResult writes a human readable summary of res.
func printResult(w io.Writer, res *mediakit.Result) {
	if !res.OK {
		fmt.Fprintf(w, "%s %s: %s\n", color.RedString("✗"), res.Error.Code, res.Error.Message)
		return
	}
	fmt.Fprintf(w, "%s %s\n", color.GreenString("✓"), res.Operation)
	if res.OutputURI != "" {
		fmt.Fprintf(w, "  output:   %s\n", color.CyanString(res.OutputURI))
	}
	for i, seg := range res.Segments {
		fmt.Fprintf(w, "  segment %d: %s\n", i, color.CyanString(seg))
	}
	if m := res.Media; m != nil {
		fmt.Fprintf(w, "  type:     %s\n", res.MediaType)
		fmt.Fprintf(w, "  format:   %s\n", m.Format)
		fmt.Fprintf(w, "  size:     %dx%d\n", m.Width, m.Height)
		if res.MediaType == mediakit.MediaTypeVideo {
			fmt.Fprintf(w, "  duration: %s\n", time.Duration(m.DurationMs)*time.Millisecond)
			fmt.Fprintf(w, "  fps:      %.2f\n", m.FPS)
			fmt.Fprintf(w, "  tracks:   %d video, %d audio\n", m.VideoTracks, m.AudioTracks)
		}
		fmt.Fprintf(w, "  bytes:    %d\n", m.SizeBytes)
	}
	for _, warn := range res.Warnings {
		fmt.Fprintf(w, "  %s %s: %s\n", color.YellowString("!"), warn.Code, warn.Message)
	}
}
