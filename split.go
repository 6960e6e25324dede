package mediakit

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
)

// Segment is a time range of a source in milliseconds.
type Segment struct {
	StartMs int64 `json:"startMs"`
	EndMs   int64 `json:"endMs"`
}

// SplitOptions configures a Splitter.
type SplitOptions struct {
	OutputDir        string
	Prefix           string // Output name prefix (default: a random UUID)
	FragmentDuration time.Duration
	Logger           hclog.Logger
}

// SplitReport lists the written segment files in request order.
type SplitReport struct {
	Outputs  []string
	Warnings []Warning
}

// Splitter cuts a source into segments by passthrough copy. Video cuts
// snap back to the nearest keyframe at or before each segment start.
type Splitter struct {
	opts SplitOptions
	log  hclog.Logger
}

// NewSplitter creates a splitter.
func NewSplitter(opts SplitOptions) *Splitter {
	if opts.Prefix == "" {
		opts.Prefix = uuid.NewString()
	}
	return &Splitter{opts: opts, log: loggerOr(opts.Logger).Named("split")}
}

// sourceDuration is the longest track duration of r.
func sourceDuration(r Reader) time.Duration {
	var d time.Duration
	for _, t := range r.Tracks() {
		d = max(d, t.Duration)
	}
	return d
}

// validateSegments checks every segment against the source duration and
// clamps ends that run past it.
func validateSegments(segments []Segment, duration time.Duration) ([]Segment, []Warning, error) {
	const op = "split.Validate"
	if len(segments) == 0 {
		return nil, nil, newError(KindInvalidArgument, op, "no segments")
	}
	durMs := duration.Milliseconds()
	out := make([]Segment, len(segments))
	var warnings []Warning
	for i, s := range segments {
		switch {
		case s.StartMs < 0:
			return nil, nil, newError(KindInvalidArgument, op, "segment %d: negative start %dms", i, s.StartMs)
		case s.EndMs <= s.StartMs:
			return nil, nil, newError(KindInvalidArgument, op, "segment %d: end %dms not after start %dms", i, s.EndMs, s.StartMs)
		case s.StartMs >= durMs:
			return nil, nil, newError(KindInvalidArgument, op, "segment %d: start %dms beyond duration %dms", i, s.StartMs, durMs)
		}
		if s.EndMs > durMs {
			warnings = append(warnings, Warning{
				Code:    WarnSegmentClamped,
				Message: fmt.Sprintf("segment %d end %dms clamped to %dms", i, s.EndMs, durMs),
			})
			s.EndMs = durMs
		}
		out[i] = s
	}
	return out, warnings, nil
}

// Split writes one MP4 per segment. On failure every file written so far
// is removed.
func (s *Splitter) Split(ctx context.Context, path string, segments []Segment) (*SplitReport, error) {
	r, err := OpenReader(path)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	segments, warnings, err := validateSegments(segments, sourceDuration(r))
	if err != nil {
		return nil, err
	}
	if FindTrack(r, KindVideo) < 0 {
		return nil, newError(KindFormat, "split.Split", "no video track in %s", path)
	}

	report := &SplitReport{Warnings: warnings}
	for i, seg := range segments {
		if err := ctx.Err(); err != nil {
			s.removeOutputs(report.Outputs)
			return nil, &Error{Kind: KindExportCancelled, Op: "split.Split", Err: err}
		}
		out := filepath.Join(s.opts.OutputDir, fmt.Sprintf("%s_%03d.mp4", s.opts.Prefix, i))
		if err := s.writeSegment(r, seg, out); err != nil {
			s.removeOutputs(append(report.Outputs, out))
			return nil, err
		}
		report.Outputs = append(report.Outputs, out)
	}
	s.log.Info("split finished", "source", path, "segments", len(report.Outputs))
	return report, nil
}

// writeSegment copies the video track, and the audio track over the same
// source range, into out.
func (s *Splitter) writeSegment(r Reader, seg Segment, out string) error {
	video := FindTrack(r, KindVideo)
	audio := FindTrack(r, KindAudio)
	tracks := r.Tracks()

	res := jobResources{muxer: NewMuxer(out, MuxerConfig{FragmentDuration: s.opts.FragmentDuration, Logger: s.log})}
	defer res.teardown(s.log)
	m := res.muxer

	vOut, err := m.AddTrack(tracks[video])
	if err != nil {
		return err
	}
	aOut := -1
	if audio >= 0 {
		if aOut, err = m.AddTrack(tracks[audio]); err != nil {
			s.log.Warn("audio cannot be copied, dropping it", "error", err)
			aOut = -1
		}
	}
	if err := m.Start(); err != nil {
		return err
	}

	startUs, endUs := seg.StartMs*1000, seg.EndMs*1000
	var vn TimestampNormalizer
	if _, err := copyTrack(r, video, m, vOut, &vn, copyOptions{Seek: true, StartUs: startUs, EndUs: endUs}); err != nil {
		return err
	}

	// Audio starts where the video cut landed so both stay aligned.
	if aOut >= 0 {
		an := TimestampNormalizer{}
		cut := startUs
		if err := r.SelectTrack(video); err == nil && r.SeekToNearestSyncBefore(startUs) == nil {
			if first, err := r.ReadSample(); err == nil {
				cut = first.PTS
			}
		}
		if _, err := copyTrack(r, audio, m, aOut, &an, copyOptions{Seek: true, StartUs: cut, EndUs: endUs}); err != nil {
			return err
		}
	}

	if err := m.Stop(); err != nil {
		return err
	}
	s.log.Debug("segment written", "output", out, "start_ms", seg.StartMs, "end_ms", seg.EndMs, "duration", m.TrackDuration(vOut))
	return nil
}

func (s *Splitter) removeOutputs(paths []string) {
	res := jobResources{tempFiles: paths}
	res.teardown(s.log)
}
