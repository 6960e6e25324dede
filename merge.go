package mediakit

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
	"github.com/samber/lo"
)

// MergeDecision is how one merge source reaches the output.
type MergeDecision uint8

const (
	MergePassthrough MergeDecision = iota // Samples are copied as they are
	MergeReencode                         // The source is transcoded to the target first
)

func (d MergeDecision) String() string {
	if d == MergeReencode {
		return "reencode"
	}
	return "passthrough"
}

// WarnAudioSkipped reports a source whose audio could not join the output
// audio track.
const WarnAudioSkipped = "AUDIO_SKIPPED"

// MergePlan is the reconciled view of a merge: one signature and one
// decision per source, the shared target and the running output offset.
type MergePlan struct {
	Sources    []string
	Signatures []Signature
	Target     Signature
	Decisions  []MergeDecision
	Offset     time.Duration
}

// Reencodes returns the number of sources that need a transcode.
func (p *MergePlan) Reencodes() int {
	return lo.Count(p.Decisions, MergeReencode)
}

// MergeOptions configures a Merger.
type MergeOptions struct {
	Output  string
	TempDir string // Re-encoded intermediates (default os.TempDir)

	BitrateBps              int
	KeyframeIntervalSeconds int

	FrameWaitTimeout time.Duration
	DrainTimeout     time.Duration
	MaxFlushRetries  int
	FragmentDuration time.Duration

	Logger hclog.Logger
}

// Merger concatenates videos into one MP4. Sources that do not match the
// majority signature are transcoded to it first, one at a time.
type Merger struct {
	platform Platform
	opts     MergeOptions
	log      hclog.Logger
}

// NewMerger creates a merger. platform may be nil when every source is
// known to match; a needed re-encode then fails with a capability error.
func NewMerger(platform Platform, opts MergeOptions) *Merger {
	if opts.TempDir == "" {
		opts.TempDir = os.TempDir()
	}
	return &Merger{
		platform: platform,
		opts:     opts,
		log:      loggerOr(opts.Logger).Named("merge"),
	}
}

// Plan opens every source, computes its signature and decides whether it
// is copied or re-encoded.
func (m *Merger) Plan(paths []string) (*MergePlan, error) {
	const op = "merge.Plan"
	if len(paths) == 0 {
		return nil, newError(KindInvalidArgument, op, "no videos to merge")
	}
	plan := &MergePlan{Sources: paths}
	for _, path := range paths {
		r, err := OpenReader(path)
		if err != nil {
			return nil, err
		}
		sig, err := ComputeSignature(r)
		r.Close()
		if err != nil {
			return nil, wrapError(KindFormat, op, err)
		}
		plan.Signatures = append(plan.Signatures, sig)
	}

	target, err := TargetSignature(plan.Signatures)
	if err != nil {
		return nil, err
	}
	plan.Target = target
	plan.Decisions = lo.Map(plan.Signatures, func(s Signature, _ int) MergeDecision {
		if s == target {
			return MergePassthrough
		}
		return MergeReencode
	})
	return plan, nil
}

// mergeSource is one prepared input of the concatenation.
type mergeSource struct {
	path   string
	reader Reader
	video  int
	audio  int
}

// Merge plans the merge, re-encodes mismatched sources and concatenates
// everything into the output.
func (m *Merger) Merge(ctx context.Context, paths []string) (*JobReport, error) {
	plan, err := m.Plan(paths)
	if err != nil {
		return nil, err
	}
	m.log.Info("merge planned", "sources", len(paths), "target", plan.Target.String(), "reencodes", plan.Reencodes())

	var (
		res      jobResources
		sources  []*mergeSource
		warnings []Warning
		frames   int
	)
	cleanup := func() {
		for _, s := range sources {
			if s.reader != nil {
				s.reader.Close()
			}
		}
		res.teardown(m.log)
	}

	prepared := make([]string, len(paths))
	for i, path := range paths {
		if plan.Decisions[i] == MergePassthrough {
			prepared[i] = path
			continue
		}
		tmp := filepath.Join(m.opts.TempDir, "merge-"+uuid.NewString()+".mp4")
		res.tempFiles = append(res.tempFiles, tmp)
		report, err := m.reencode(ctx, path, tmp, plan.Target)
		if err != nil {
			cleanup()
			return nil, err
		}
		frames += report.Frames
		warnings = append(warnings, report.Warnings...)
		prepared[i] = tmp
	}

	for _, path := range prepared {
		r, err := OpenReader(path)
		if err != nil {
			cleanup()
			return nil, err
		}
		sources = append(sources, &mergeSource{
			path:   path,
			reader: r,
			video:  FindTrack(r, KindVideo),
			audio:  FindTrack(r, KindAudio),
		})
	}

	res.muxer = NewMuxer(m.opts.Output, MuxerConfig{FragmentDuration: m.opts.FragmentDuration, Logger: m.log})
	report, err := m.concat(plan, sources, res.muxer)
	if err != nil {
		res.tempFiles = append(res.tempFiles, m.opts.Output)
		cleanup()
		return nil, err
	}
	report.Frames = frames
	report.Warnings = append(warnings, report.Warnings...)
	cleanup()
	return report, nil
}

// reencode transcodes one source to the target signature.
func (m *Merger) reencode(ctx context.Context, src, dst string, target Signature) (*JobReport, error) {
	if m.platform == nil {
		return nil, newError(KindCapability, "merge.Reencode", "source %s needs a re-encode but no platform is available", src)
	}
	m.log.Info("re-encoding source", "source", src, "width", target.Width, "height", target.Height, "fps", target.FrameRate)
	job := NewTranscodeJob(m.platform, TranscodeOptions{
		Source:                  src,
		Output:                  dst,
		Width:                   target.Width,
		Height:                  target.Height,
		Codec:                   target.Codec,
		BitrateBps:              m.opts.BitrateBps,
		FrameRate:               int(target.FrameRate + 0.5),
		KeyframeIntervalSeconds: m.opts.KeyframeIntervalSeconds,
		FrameWaitTimeout:        m.opts.FrameWaitTimeout,
		DrainTimeout:            m.opts.DrainTimeout,
		MaxFlushRetries:         m.opts.MaxFlushRetries,
		FragmentDuration:        m.opts.FragmentDuration,
		Logger:                  m.log,
	})
	return job.Run(ctx)
}

// concat copies every source into the muxer. The video format comes from
// the first source matching the target, the audio format from the first
// source carrying audio.
func (m *Merger) concat(plan *MergePlan, sources []*mergeSource, mux *Muxer) (*JobReport, error) {
	const op = "merge.Concat"
	lead := 0
	for i, d := range plan.Decisions {
		if d == MergePassthrough {
			lead = i
			break
		}
	}
	videoDesc := sources[lead].reader.Tracks()[sources[lead].video]
	vOut, err := mux.AddTrack(videoDesc)
	if err != nil {
		return nil, err
	}

	aOut := -1
	var audioDesc TrackDescriptor
	if s, ok := lo.Find(sources, func(s *mergeSource) bool { return s.audio >= 0 }); ok {
		audioDesc = s.reader.Tracks()[s.audio]
		if aOut, err = mux.AddTrack(audioDesc); err != nil {
			m.log.Warn("audio cannot be muxed, dropping it", "codec", audioDesc.CodecName(), "error", err)
			aOut = -1
		}
	}
	if err := mux.Start(); err != nil {
		return nil, err
	}

	report := &JobReport{Output: mux.Path(), Width: videoDesc.Width, Height: videoDesc.Height}
	var vn, an TimestampNormalizer
	for i, s := range sources {
		offset := plan.Offset.Microseconds()

		vn.Rebase(offset)
		opts := copyOptions{}
		desc := s.reader.Tracks()[s.video]
		if desc.VideoCodec.LengthPrefixed() && !desc.Config.Equal(videoDesc.Config) {
			cfg := desc.Config
			opts.Config = &cfg
		}
		vd, err := copyTrack(s.reader, s.video, mux, vOut, &vn, opts)
		if err != nil {
			return nil, wrapError(KindIO, op, err)
		}

		var ad time.Duration
		if aOut >= 0 && s.audio >= 0 {
			src := s.reader.Tracks()[s.audio]
			if compatibleAudio(src, audioDesc) {
				an.Rebase(offset)
				if ad, err = copyTrack(s.reader, s.audio, mux, aOut, &an, copyOptions{}); err != nil {
					return nil, wrapError(KindIO, op, err)
				}
			} else {
				report.Warnings = append(report.Warnings, Warning{
					Code:    WarnAudioSkipped,
					Message: "audio of " + filepath.Base(plan.Sources[i]) + " differs from the output audio track",
				})
			}
		}

		plan.Offset += max(vd, ad)
		m.log.Debug("source appended", "index", i, "decision", plan.Decisions[i], "video", vd, "audio", ad, "offset", plan.Offset)
	}

	if err := mux.Stop(); err != nil {
		return nil, err
	}
	report.Duration = mux.TrackDuration(vOut)
	m.log.Info("merge finished", "output", mux.Path(), "duration", report.Duration)
	return report, nil
}

// compatibleAudio reports whether src samples can be written to a track
// created from dst.
func compatibleAudio(src, dst TrackDescriptor) bool {
	return src.AudioCodec == dst.AudioCodec &&
		src.SampleRate == dst.SampleRate &&
		src.Channels == dst.Channels &&
		src.Config.Equal(dst.Config)
}
