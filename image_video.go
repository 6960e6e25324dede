package mediakit

import (
	"context"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"math"
	"os"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/pkg/errors"
	_ "golang.org/x/image/webp"
)

// ImageVideoOptions configures a still image to video job.
type ImageVideoOptions struct {
	Image           string
	Output          string
	DurationSeconds float64

	Codec                   VideoCodec
	BitrateBps              int
	FrameRate               int
	KeyframeIntervalSeconds int

	DrainTimeout     time.Duration
	MaxFlushRetries  int
	FragmentDuration time.Duration

	Logger hclog.Logger
}

// imageFrameCount is the number of frames rendered for a still image:
// the duration at the frame rate, and never fewer than two.
func imageFrameCount(durationSeconds float64, fps int) int {
	return max(2, int(math.Round(durationSeconds*float64(fps))))
}

// ImageVideoJob renders one still image repeatedly into an encoder.
type ImageVideoJob struct {
	platform Platform
	opts     ImageVideoOptions
	log      hclog.Logger

	machine jobMachine
	res     jobResources
	enc     *encodeSession

	width  int
	height int
	frames int
}

// NewImageVideoJob prepares a job. Nothing is opened until Run.
func NewImageVideoJob(platform Platform, opts ImageVideoOptions) *ImageVideoJob {
	if opts.Codec == VideoCodecUnknown {
		opts.Codec = VideoCodecH264
	}
	if opts.FrameRate <= 0 {
		opts.FrameRate = DefaultFrameRate
	}
	if opts.DrainTimeout <= 0 {
		opts.DrainTimeout = DefaultDrainTimeout
	}
	if opts.MaxFlushRetries <= 0 {
		opts.MaxFlushRetries = DefaultMaxFlushRetries
	}
	log := loggerOr(opts.Logger).Named("image2video")
	return &ImageVideoJob{
		platform: platform,
		opts:     opts,
		log:      log,
		machine:  jobMachine{log: log},
	}
}

// State returns the job's current state.
func (j *ImageVideoJob) State() JobState { return j.machine.state }

// Run executes the job. On failure every resource is torn down and the
// partial output is removed.
func (j *ImageVideoJob) Run(ctx context.Context) (*JobReport, error) {
	if j.machine.state != JobInit {
		return nil, newError(KindInternal, "image2video.Run", "job already ran")
	}
	if err := j.run(ctx); err != nil {
		j.log.Error("job failed", "state", j.machine.state, "error", err)
		j.machine.transition(JobError)
		j.res.tempFiles = append(j.res.tempFiles, j.opts.Output)
		j.res.teardown(j.log)
		return nil, err
	}

	duration := j.res.muxer.TrackDuration(j.enc.videoOut)
	if err := j.res.teardown(j.log); err != nil {
		j.log.Warn("release after success failed", "error", err)
	}
	return &JobReport{
		Output:   j.opts.Output,
		Frames:   j.frames,
		Duration: duration,
		Width:    j.width,
		Height:   j.height,
		Warnings: j.enc.warnings,
	}, nil
}

func (j *ImageVideoJob) run(ctx context.Context) error {
	const op = "image2video.Run"
	if j.opts.DurationSeconds <= 0 || math.IsNaN(j.opts.DurationSeconds) || math.IsInf(j.opts.DurationSeconds, 0) {
		return newError(KindInvalidArgument, op, "duration must be positive, got %v", j.opts.DurationSeconds)
	}
	if j.platform == nil {
		return newError(KindCapability, op, "no platform")
	}

	img, err := decodeImageFile(j.opts.Image)
	if err != nil {
		return err
	}
	caps, err := j.platform.EncoderCapabilities(j.opts.Codec)
	if err != nil {
		return wrapError(KindCapability, op, err)
	}
	b := img.Bounds()
	j.width, j.height, err = ChooseEncoderSize(caps, b.Dx(), b.Dy())
	if err != nil {
		return err
	}

	encoder, err := j.platform.NewEncoder(j.opts.Codec)
	if err != nil {
		return wrapError(KindCapability, op, err)
	}
	j.res.encoder = encoder
	cfg := EncoderConfig{
		Codec:                   j.opts.Codec,
		Width:                   j.width,
		Height:                  j.height,
		BitrateBps:              j.opts.BitrateBps,
		FrameRate:               j.opts.FrameRate,
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
		Width:  j.width,
		Height: j.height,
		Logger: j.log,
	})
	if err != nil {
		return err
	}
	j.res.compositor = compositor
	if err := compositor.LoadStaticImage(img); err != nil {
		return err
	}

	j.res.muxer = NewMuxer(j.opts.Output, MuxerConfig{
		FragmentDuration: j.opts.FragmentDuration,
		Logger:           j.log,
	})
	j.enc = newEncodeSession(encoder, j.res.muxer, j.log)

	total := imageFrameCount(j.opts.DurationSeconds, j.opts.FrameRate)
	j.log.Info("rendering still image", "image", j.opts.Image, "width", j.width, "height", j.height, "frames", total)

	if err := j.machine.transition(JobDrainingDecoder); err != nil {
		return err
	}
	var n TimestampNormalizer
	for i := 0; i < total; i++ {
		if err := compositor.RenderStaticImage(); err != nil {
			return err
		}
		pts := n.Next(int64(i) * 1_000_000 / int64(j.opts.FrameRate))
		if err := compositor.Commit(pts * 1000); err != nil {
			return err
		}
		j.frames++
		if _, err := j.enc.drain(0); err != nil {
			return err
		}
	}

	if err := encoder.SignalEndOfInput(); err != nil {
		return wrapError(KindExportCancelled, op, err)
	}
	if err := j.machine.transition(JobEncoderEOSSignaled); err != nil {
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
	if j.res.muxer.State() != MuxerStarted {
		return newError(KindExportCancelled, op, "encoder produced no output")
	}
	if err := j.res.muxer.Stop(); err != nil {
		return err
	}
	return j.machine.transition(JobDone)
}

// decodeImageFile reads a PNG, JPEG, GIF or WebP image.
func decodeImageFile(path string) (image.Image, error) {
	const op = "image.Decode"
	f, err := os.Open(path)
	if err != nil {
		return nil, &Error{Kind: KindIO, Op: op, Err: err}
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	if err != nil {
		return nil, &Error{Kind: KindFormat, Op: op, Err: errors.Wrapf(err, "decode %s", path)}
	}
	return img, nil
}
