package mediakit

import (
	"context"
	"io"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/pkg/errors"
)

// Defaults for the render loop.
const (
	DefaultDrainTimeout    = 10 * time.Millisecond
	DefaultMaxFlushRetries = 100
)

// TranscodeOptions configures a decode, render and encode pass over one
// source.
type TranscodeOptions struct {
	Source string
	Output string

	Width  int        // Output size; 0 keeps the source display size
	Height int
	Codec  VideoCodec // Output codec (0 = H.264)

	BitrateBps              int
	FrameRate               int
	KeyframeIntervalSeconds int

	Overlay       *OverlayAsset // Optional overlay blended on every frame
	OverlayAnchor Anchor
	OverlayMargin int

	SkipAudio bool // Drop the source audio instead of copying it

	FrameWaitTimeout time.Duration
	DrainTimeout     time.Duration
	MaxFlushRetries  int
	FragmentDuration time.Duration

	Logger hclog.Logger
}

func (o TranscodeOptions) withDefaults() TranscodeOptions {
	if o.Codec == VideoCodecUnknown {
		o.Codec = VideoCodecH264
	}
	if o.FrameWaitTimeout <= 0 {
		o.FrameWaitTimeout = DefaultFrameWaitTimeout
	}
	if o.DrainTimeout <= 0 {
		o.DrainTimeout = DefaultDrainTimeout
	}
	if o.MaxFlushRetries <= 0 {
		o.MaxFlushRetries = DefaultMaxFlushRetries
	}
	return o
}

// JobReport summarizes a finished render job.
type JobReport struct {
	Output   string
	Frames   int
	Duration time.Duration
	Width    int
	Height   int
	Warnings []Warning
}

// TranscodeJob runs the decode, composite, encode and mux loop for one
// source. A job runs once.
type TranscodeJob struct {
	platform Platform
	opts     TranscodeOptions
	log      hclog.Logger

	machine jobMachine
	res     jobResources

	videoIn   TrackDescriptor
	audioIn   int
	outWidth  int
	outHeight int
	overlayX  int
	overlayY  int

	audioOut int
	enc      *encodeSession

	frames   int
	duration time.Duration
	warnings []Warning
}

// NewTranscodeJob prepares a job. Nothing is opened until Run.
func NewTranscodeJob(platform Platform, opts TranscodeOptions) *TranscodeJob {
	opts = opts.withDefaults()
	log := loggerOr(opts.Logger).Named("transcode")
	return &TranscodeJob{
		platform: platform,
		opts:     opts,
		log:      log,
		machine:  jobMachine{log: log},
		audioIn:  -1,
		audioOut: -1,
	}
}

// State returns the job's current state.
func (j *TranscodeJob) State() JobState { return j.machine.state }

// Run executes the job. On failure every resource is torn down and the
// partial output is removed.
func (j *TranscodeJob) Run(ctx context.Context) (*JobReport, error) {
	if j.machine.state != JobInit {
		return nil, newError(KindInternal, "transcode.Run", "job already ran")
	}
	err := j.run(ctx)
	if err != nil {
		j.log.Error("job failed", "state", j.machine.state, "error", err)
		j.machine.transition(JobError)
		j.res.tempFiles = append(j.res.tempFiles, j.opts.Output)
		j.res.teardown(j.log)
		return nil, err
	}
	if err := j.res.teardown(j.log); err != nil {
		j.log.Warn("release after success failed", "error", err)
	}
	return &JobReport{
		Output:   j.opts.Output,
		Frames:   j.frames,
		Duration: j.duration,
		Width:    j.outWidth,
		Height:   j.outHeight,
		Warnings: append(j.warnings, j.enc.warnings...),
	}, nil
}

func (j *TranscodeJob) run(ctx context.Context) error {
	if err := j.setup(); err != nil {
		return err
	}
	if err := j.machine.transition(JobFeedingDecoder); err != nil {
		return err
	}
	if err := j.decodeLoop(ctx); err != nil {
		return err
	}
	if err := j.machine.transition(JobDrainingEncoder); err != nil {
		return err
	}
	if err := j.enc.flush(j.opts.DrainTimeout, j.opts.MaxFlushRetries); err != nil {
		return err
	}
	if err := j.machine.transition(JobMuxFinalize); err != nil {
		return err
	}
	if err := j.finalize(); err != nil {
		return err
	}
	return j.machine.transition(JobDone)
}

func (j *TranscodeJob) setup() error {
	const op = "transcode.Setup"
	if j.platform == nil {
		return newError(KindCapability, op, "no platform")
	}

	reader, err := OpenReader(j.opts.Source)
	if err != nil {
		return err
	}
	j.res.reader = reader

	videoIdx := FindTrack(reader, KindVideo)
	if videoIdx < 0 {
		return newError(KindFormat, op, "no video track in %s", j.opts.Source)
	}
	j.videoIn = reader.Tracks()[videoIdx]
	if !j.opts.SkipAudio {
		j.audioIn = FindTrack(reader, KindAudio)
	}

	j.outWidth, j.outHeight = j.opts.Width, j.opts.Height
	if j.outWidth <= 0 || j.outHeight <= 0 {
		w, h := j.videoIn.DisplaySize()
		j.outWidth, j.outHeight = w&^1, h&^1
	}
	caps, err := j.platform.EncoderCapabilities(j.opts.Codec)
	if err != nil {
		return wrapError(KindCapability, op, err)
	}
	if !caps.IsSizeSupported(j.outWidth, j.outHeight) {
		return newError(KindCapability, op, "encoder does not support %dx%d", j.outWidth, j.outHeight)
	}

	frameRate := j.opts.FrameRate
	if frameRate <= 0 && j.videoIn.FrameRate > 0 {
		frameRate = int(j.videoIn.FrameRate + 0.5)
	}
	encoder, err := j.platform.NewEncoder(j.opts.Codec)
	if err != nil {
		return wrapError(KindCapability, op, err)
	}
	j.res.encoder = encoder
	cfg := EncoderConfig{
		Codec:                   j.opts.Codec,
		Width:                   j.outWidth,
		Height:                  j.outHeight,
		BitrateBps:              j.opts.BitrateBps,
		FrameRate:               frameRate,
		KeyframeIntervalSeconds: j.opts.KeyframeIntervalSeconds,
	}.withDefaults()
	if err := encoder.Configure(cfg); err != nil {
		return wrapError(KindCapability, op, err)
	}

	backend, err := j.platform.NewRenderBackend()
	if err != nil {
		return wrapError(KindSurface, op, err)
	}
	compositor, err := NewCompositor(backend, encoder.InputSurface(), CompositorConfig{
		Width:        j.outWidth,
		Height:       j.outHeight,
		FrameTimeout: j.opts.FrameWaitTimeout,
		Logger:       j.log,
	})
	if err != nil {
		return err
	}
	j.res.compositor = compositor

	if ov := j.opts.Overlay; ov != nil {
		if err := compositor.SetOverlay(ov); err != nil {
			return err
		}
		j.overlayX, j.overlayY = ResolveOverlayPosition(j.opts.OverlayAnchor,
			j.outWidth, j.outHeight, ov.Width, ov.Height, j.opts.OverlayMargin)
		j.log.Debug("overlay placed", "x", j.overlayX, "y", j.overlayY, "anchor", j.opts.OverlayAnchor)
	}

	window, err := compositor.FrameInput(j.videoIn.Width, j.videoIn.Height)
	if err != nil {
		return err
	}
	decoder, err := j.platform.NewDecoder(j.videoIn)
	if err != nil {
		return wrapError(KindCapability, op, err)
	}
	j.res.decoder = decoder
	if err := decoder.Configure(j.videoIn, window); err != nil {
		return wrapError(KindCapability, op, err)
	}

	if err := reader.SelectTrack(j.videoIn.Index); err != nil {
		return err
	}
	j.res.muxer = NewMuxer(j.opts.Output, MuxerConfig{
		FragmentDuration: j.opts.FragmentDuration,
		Logger:           j.log,
	})
	j.enc = newEncodeSession(encoder, j.res.muxer, j.log)
	j.enc.onFormat = j.addSourceAudio

	j.log.Info("transcode started",
		"source", j.opts.Source,
		"codec", j.videoIn.CodecName(),
		"in", [2]int{j.videoIn.Width, j.videoIn.Height},
		"out", [2]int{j.outWidth, j.outHeight})
	return nil
}

// decodeLoop alternates feeding compressed samples to the decoder and
// rendering its output into the encoder until the decoder reports end of
// stream.
func (j *TranscodeJob) decodeLoop(ctx context.Context) error {
	var (
		pending   *Sample
		inputDone bool
		idle      int
	)
	for {
		if err := j.machine.transition(JobFeedingDecoder); err != nil {
			return err
		}
		if !inputDone {
			if pending == nil {
				s, err := j.res.reader.ReadSample()
				switch {
				case errors.Is(err, io.EOF):
					pending = EndOfStreamSample(0)
				case err != nil:
					return err
				default:
					pending = s
				}
			}
			accepted, err := j.res.decoder.QueueInput(pending)
			if err != nil {
				return wrapError(KindFormat, "transcode.QueueInput", err)
			}
			if accepted {
				inputDone = pending.IsEndOfStream()
				pending = nil
			}
		}

		if err := j.machine.transition(JobDrainingDecoder); err != nil {
			return err
		}
		decoderDone, produced, err := j.drainDecoder(ctx)
		if err != nil {
			return err
		}
		if _, err := j.enc.drain(0); err != nil {
			return err
		}
		if decoderDone {
			break
		}

		// Once input is exhausted the decoder must reach end of stream
		// within the flush bound.
		if inputDone && !produced {
			idle++
			if idle >= j.opts.MaxFlushRetries {
				j.warnings = append(j.warnings, Warning{
					Code:    WarnDecoderFlushIncomplete,
					Message: "decoder did not signal end of stream",
				})
				j.log.Warn("decoder flush incomplete", "retries", idle)
				break
			}
		} else {
			idle = 0
		}
	}

	if err := j.res.encoder.SignalEndOfInput(); err != nil {
		return wrapError(KindExportCancelled, "transcode.SignalEndOfInput", err)
	}
	return j.machine.transition(JobEncoderEOSSignaled)
}

// drainDecoder handles one decoder output. It reports whether the
// end-of-stream buffer has been released and whether any output arrived.
func (j *TranscodeJob) drainDecoder(ctx context.Context) (done, produced bool, err error) {
	out, err := j.res.decoder.DrainOutput(j.opts.DrainTimeout)
	if err != nil {
		return false, false, wrapError(KindFormat, "transcode.DrainDecoder", err)
	}
	switch out.Kind {
	case DecoderTryAgain:
		return false, false, nil
	case DecoderFormatChanged:
		j.log.Debug("decoder output format changed")
		return false, true, nil
	}

	render := ShouldRender(out)
	if err := j.res.decoder.ReleaseOutput(out, render); err != nil {
		return false, true, wrapError(KindSurface, "transcode.ReleaseOutput", err)
	}
	if render {
		var ts int64
		if j.opts.Overlay != nil {
			ts, err = j.res.compositor.RenderVideoFrameWithOverlay(ctx, j.overlayX, j.overlayY)
		} else {
			ts, err = j.res.compositor.RenderVideoFrame(ctx)
		}
		if err != nil {
			return false, true, err
		}
		if err := j.res.compositor.Commit(ts * 1000); err != nil {
			return false, true, err
		}
		j.frames++
	}
	return out.IsEndOfStream(), true, nil
}

// finalize copies the source audio and closes the output.
func (j *TranscodeJob) finalize() error {
	m := j.res.muxer
	if m.State() != MuxerStarted {
		return newError(KindExportCancelled, "transcode.Finalize", "encoder produced no output")
	}
	if j.audioOut >= 0 {
		var n TimestampNormalizer
		if _, err := copyTrack(j.res.reader, j.audioIn, m, j.audioOut, &n, copyOptions{}); err != nil {
			return err
		}
	}
	if err := m.Stop(); err != nil {
		return err
	}
	j.duration = m.TrackDuration(j.enc.videoOut)
	j.log.Info("transcode finished", "frames", j.frames, "duration", j.duration)
	return nil
}

// addSourceAudio joins the source audio track to the output before the
// muxer starts. Audio the container cannot carry is dropped.
func (j *TranscodeJob) addSourceAudio(TrackDescriptor) error {
	if j.audioIn < 0 {
		return nil
	}
	idx, err := j.res.muxer.AddTrack(j.res.reader.Tracks()[j.audioIn])
	if err != nil {
		j.log.Warn("source audio cannot be copied, dropping it", "error", err)
		j.audioIn = -1
		return nil
	}
	j.audioOut = idx
	return nil
}
