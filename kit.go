package mediakit

import (
	"context"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
	"github.com/pkg/errors"
	"golang.org/x/sync/semaphore"
)

// Kit runs media operations in the background. Every call returns a
// Future at once; jobs run on their own goroutine, at most
// Config.MaxConcurrentJobs at a time.
type Kit struct {
	cfg      Config
	log      hclog.Logger
	sem      *semaphore.Weighted
	resolver *Resolver
	wg       sync.WaitGroup

	// openPlatform returns the render platform of one job.
	openPlatform func() (Platform, error)
}

// KitOption customizes a Kit.
type KitOption func(*Kit)

// WithPlatform makes every job use p instead of opening the configured
// provider.
func WithPlatform(p Platform) KitOption {
	return func(k *Kit) {
		k.openPlatform = func() (Platform, error) { return p, nil }
	}
}

// WithLogger sets the logger jobs derive theirs from.
func WithLogger(l hclog.Logger) KitOption {
	return func(k *Kit) { k.log = l }
}

// NewKit creates a Kit and its output directory.
func NewKit(cfg Config, opts ...KitOption) (*Kit, error) {
	cfg = cfg.withDefaults()
	if err := os.MkdirAll(cfg.OutputDir, 0o755); err != nil {
		return nil, &Error{Kind: KindIO, Op: "kit.New", Err: errors.Wrapf(err, "create output dir %s", cfg.OutputDir)}
	}
	provider := ParseProvider(cfg.Provider)
	k := &Kit{
		cfg: cfg,
		sem: semaphore.NewWeighted(int64(cfg.MaxConcurrentJobs)),
		openPlatform: func() (Platform, error) {
			return OpenPlatform(provider)
		},
	}
	for _, opt := range opts {
		opt(k)
	}
	if k.log == nil {
		k.log = Logger()
	}
	k.resolver = &Resolver{TempDir: cfg.TempDir, Timeout: cfg.HTTPTimeout, Logger: k.log}
	return k, nil
}

// Config returns the effective configuration.
func (k *Kit) Config() Config { return k.cfg }

// Wait blocks until every started job has finished.
func (k *Kit) Wait() { k.wg.Wait() }

// jobFunc does the work of one operation and fills in res.
type jobFunc func(ctx context.Context, log hclog.Logger, res *Result) error

// start runs fn in the background. The job ignores cancellation of ctx;
// only its values are kept.
func (k *Kit) start(ctx context.Context, op Operation, input string, fn jobFunc) *Future {
	f := newFuture()
	jobID := uuid.NewString()
	log := k.log.Named(string(op)).With("job_id", jobID)
	ctx = context.WithoutCancel(ctx)

	k.wg.Add(1)
	go func() {
		defer k.wg.Done()
		res := &Result{Operation: op, MediaType: MediaTypeVideo, InputURI: input}
		if err := k.sem.Acquire(ctx, 1); err != nil {
			res.fail(&Error{Kind: KindInternal, Op: string(op), Err: err})
			f.complete(res)
			return
		}
		defer k.sem.Release(1)

		log.Info("job started", "input", input)
		if err := fn(ctx, log, res); err != nil {
			log.Error("job failed", "error", err)
			res.fail(err)
		} else {
			res.OK = true
			log.Info("job finished", "output", res.OutputURI, "warnings", len(res.Warnings))
		}
		f.complete(res)
	}()
	return f
}

// outputPath returns a fresh UUID-named MP4 path in the output directory.
func (k *Kit) outputPath() string {
	return filepath.Join(k.cfg.OutputDir, uuid.NewString()+".mp4")
}

// platform opens the job's platform, or returns nil with the reason when
// none is available.
func (k *Kit) platform() (Platform, error) {
	p, err := k.openPlatform()
	if err != nil {
		return nil, wrapError(KindCapability, "kit.Platform", err)
	}
	return p, nil
}

// describeOutput inspects a written output. A failure here only costs the
// media section of the result.
func describeOutput(log hclog.Logger, path string) *MediaInfo {
	info, err := InspectMedia(path)
	if err != nil {
		log.Warn("failed to inspect output", "path", path, "error", err)
		return nil
	}
	return info
}

// GetMediaInfo inspects a local or remote input.
func (k *Kit) GetMediaInfo(ctx context.Context, uri string) *Future {
	return k.start(ctx, OpGetMediaInfo, uri, func(ctx context.Context, log hclog.Logger, res *Result) error {
		path, cleanup, err := k.resolver.Resolve(ctx, uri)
		defer cleanup()
		if err != nil {
			return err
		}
		info, err := InspectMedia(path)
		if err != nil {
			return err
		}
		res.MediaType = info.Type
		res.Media = info
		return nil
	})
}

// ConvertImageToVideo renders a still image into a video of the given
// length.
func (k *Kit) ConvertImageToVideo(ctx context.Context, image string, durationSeconds float64) *Future {
	return k.start(ctx, OpConvertImageToVideo, image, func(ctx context.Context, log hclog.Logger, res *Result) error {
		path, cleanup, err := k.resolver.Resolve(ctx, image)
		defer cleanup()
		if err != nil {
			return err
		}
		p, err := k.platform()
		if err != nil {
			return err
		}
		out := k.outputPath()
		report, err := NewImageVideoJob(p, ImageVideoOptions{
			Image:                   path,
			Output:                  out,
			DurationSeconds:         durationSeconds,
			BitrateBps:              k.cfg.BitrateBps,
			FrameRate:               k.cfg.FrameRate,
			KeyframeIntervalSeconds: k.cfg.KeyframeIntervalSeconds,
			DrainTimeout:            k.cfg.DrainTimeout,
			MaxFlushRetries:         k.cfg.MaxFlushRetries,
			FragmentDuration:        k.cfg.FragmentDuration,
			Logger:                  log,
		}).Run(ctx)
		if err != nil {
			return err
		}
		res.OutputURI = out
		res.Warnings = report.Warnings
		res.Media = describeOutput(log, out)
		return nil
	})
}

// WatermarkVideo re-encodes a video with text blended at position
// ("top-left", "top-right", "bottom-left", "bottom-right" or "center").
func (k *Kit) WatermarkVideo(ctx context.Context, uri, text, position string) *Future {
	return k.start(ctx, OpWatermarkVideo, uri, func(ctx context.Context, log hclog.Logger, res *Result) error {
		overlay, err := RenderTextOverlay(text, k.cfg.WatermarkFontSize)
		if err != nil {
			return err
		}
		path, cleanup, err := k.resolver.Resolve(ctx, uri)
		defer cleanup()
		if err != nil {
			return err
		}
		p, err := k.platform()
		if err != nil {
			return err
		}
		out := k.outputPath()
		report, err := NewTranscodeJob(p, TranscodeOptions{
			Source:                  path,
			Output:                  out,
			BitrateBps:              k.cfg.BitrateBps,
			FrameRate:               0, // keep the source rate
			KeyframeIntervalSeconds: k.cfg.KeyframeIntervalSeconds,
			Overlay:                 overlay,
			OverlayAnchor:           ParseAnchor(position),
			OverlayMargin:           k.cfg.WatermarkMargin,
			FrameWaitTimeout:        k.cfg.FrameWaitTimeout,
			DrainTimeout:            k.cfg.DrainTimeout,
			MaxFlushRetries:         k.cfg.MaxFlushRetries,
			FragmentDuration:        k.cfg.FragmentDuration,
			Logger:                  log,
		}).Run(ctx)
		if err != nil {
			return err
		}
		res.OutputURI = out
		res.Warnings = report.Warnings
		res.Media = describeOutput(log, out)
		return nil
	})
}

// MergeVideos concatenates videos in order. Sources that differ from the
// majority encoding are re-encoded first.
func (k *Kit) MergeVideos(ctx context.Context, uris []string) *Future {
	input := ""
	if len(uris) > 0 {
		input = uris[0]
	}
	return k.start(ctx, OpMergeVideos, input, func(ctx context.Context, log hclog.Logger, res *Result) error {
		paths, cleanup, err := k.resolveAll(ctx, uris)
		defer cleanup()
		if err != nil {
			return err
		}
		// Passthrough merges need no platform; a missing one only fails
		// the merge when a re-encode is planned.
		p, err := k.platform()
		if err != nil {
			log.Debug("no platform for re-encodes", "error", err)
			p = nil
		}
		out := k.outputPath()
		report, err := NewMerger(p, MergeOptions{
			Output:                  out,
			TempDir:                 k.cfg.TempDir,
			BitrateBps:              k.cfg.BitrateBps,
			KeyframeIntervalSeconds: k.cfg.KeyframeIntervalSeconds,
			FrameWaitTimeout:        k.cfg.FrameWaitTimeout,
			DrainTimeout:            k.cfg.DrainTimeout,
			MaxFlushRetries:         k.cfg.MaxFlushRetries,
			FragmentDuration:        k.cfg.FragmentDuration,
			Logger:                  log,
		}).Merge(ctx, paths)
		if err != nil {
			return err
		}
		res.OutputURI = out
		res.Warnings = report.Warnings
		res.Media = describeOutput(log, out)
		return nil
	})
}

// SplitVideo cuts a video into one output per segment.
func (k *Kit) SplitVideo(ctx context.Context, uri string, segments []Segment) *Future {
	return k.start(ctx, OpSplitVideo, uri, func(ctx context.Context, log hclog.Logger, res *Result) error {
		path, cleanup, err := k.resolver.Resolve(ctx, uri)
		defer cleanup()
		if err != nil {
			return err
		}
		report, err := NewSplitter(SplitOptions{
			OutputDir:        k.cfg.OutputDir,
			FragmentDuration: k.cfg.FragmentDuration,
			Logger:           log,
		}).Split(ctx, path, segments)
		if err != nil {
			return err
		}
		res.Segments = report.Outputs
		res.Warnings = report.Warnings
		return nil
	})
}

// resolveAll resolves every uri. The returned cleanup removes all
// downloads.
func (k *Kit) resolveAll(ctx context.Context, uris []string) ([]string, func(), error) {
	var cleanups []func()
	cleanup := func() {
		for _, c := range cleanups {
			c()
		}
	}
	paths := make([]string, 0, len(uris))
	for _, uri := range uris {
		path, c, err := k.resolver.Resolve(ctx, uri)
		cleanups = append(cleanups, c)
		if err != nil {
			return nil, cleanup, err
		}
		paths = append(paths, path)
	}
	return paths, cleanup, nil
}
