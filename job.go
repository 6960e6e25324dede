package mediakit

import (
	"os"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
)

// JobState is a stage of a render job.
type JobState uint8

const (
	JobInit JobState = iota
	JobFeedingDecoder
	JobDrainingDecoder
	JobEncoderEOSSignaled
	JobDrainingEncoder
	JobMuxFinalize
	JobDone
	JobError
)

func (s JobState) String() string {
	switch s {
	case JobInit:
		return "init"
	case JobFeedingDecoder:
		return "feeding-decoder"
	case JobDrainingDecoder:
		return "draining-decoder"
	case JobEncoderEOSSignaled:
		return "encoder-eos-signaled"
	case JobDrainingEncoder:
		return "draining-encoder"
	case JobMuxFinalize:
		return "mux-finalize"
	case JobDone:
		return "done"
	case JobError:
		return "error"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transition is possible.
func (s JobState) Terminal() bool { return s == JobDone || s == JobError }

// isValidTransition enforces the allowed job state machine edges. Still
// image jobs have no decoder and go from init straight to rendering.
func isValidTransition(from, to JobState) bool {
	if to == JobError {
		return !from.Terminal()
	}
	switch from {
	case JobInit:
		return to == JobFeedingDecoder || to == JobDrainingDecoder
	case JobFeedingDecoder:
		return to == JobDrainingDecoder || to == JobEncoderEOSSignaled
	case JobDrainingDecoder:
		return to == JobFeedingDecoder || to == JobEncoderEOSSignaled
	case JobEncoderEOSSignaled:
		return to == JobDrainingEncoder
	case JobDrainingEncoder:
		return to == JobMuxFinalize
	case JobMuxFinalize:
		return to == JobDone
	default:
		return false
	}
}

// Warning is a non-fatal condition reported with a result.
type Warning struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Warning codes.
const (
	WarnEncoderFlushIncomplete = "ENCODER_FLUSH_INCOMPLETE"
	WarnDecoderFlushIncomplete = "DECODER_FLUSH_INCOMPLETE"
	WarnSegmentClamped         = "SEGMENT_CLAMPED"
)

// jobMachine tracks the state of one job.
type jobMachine struct {
	state JobState
	log   hclog.Logger
}

// transition moves to the next state. An edge outside the state machine
// is a programming error.
func (m *jobMachine) transition(to JobState) error {
	if m.state == to {
		return nil
	}
	if !isValidTransition(m.state, to) {
		return newError(KindInternal, "job.Transition", "invalid transition: %s -> %s", m.state, to)
	}
	m.log.Trace("state", "from", m.state, "to", to)
	m.state = to
	return nil
}

// jobResources holds everything a job must release, in teardown order.
type jobResources struct {
	compositor *Compositor
	decoder    Decoder
	encoder    Encoder
	muxer      *Muxer
	reader     Reader
	tempFiles  []string
}

// teardown releases the compositor, decoder, encoder, muxer and reader in
// that order, then removes temp files. Every step runs regardless of
// earlier failures; failures are logged and returned together.
func (r *jobResources) teardown(log hclog.Logger) error {
	var result *multierror.Error
	step := func(name string, fn func() error) {
		if err := fn(); err != nil {
			result = multierror.Append(result, errors.Wrap(err, name))
		}
	}

	if r.compositor != nil {
		step("compositor", r.compositor.Release)
		r.compositor = nil
	}
	if r.decoder != nil {
		step("decoder", r.decoder.Release)
		r.decoder = nil
	}
	if r.encoder != nil {
		step("encoder", r.encoder.Release)
		r.encoder = nil
	}
	if r.muxer != nil {
		step("muxer", r.muxer.Release)
		r.muxer = nil
	}
	if r.reader != nil {
		step("reader", r.reader.Close)
		r.reader = nil
	}
	for _, path := range r.tempFiles {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			log.Warn("temp file cleanup failed", "path", path, "error", err)
		}
	}
	r.tempFiles = nil

	err := result.ErrorOrNil()
	if err != nil {
		log.Warn("teardown failed", "error", err)
	}
	return err
}

// encodeSession routes encoder output into a muxer: the first format
// change adds the video track and starts the muxer, samples pass through
// a normalizer, and codec-config or empty end-of-stream buffers are never
// written.
type encodeSession struct {
	encoder    Encoder
	muxer      *Muxer
	normalizer TimestampNormalizer
	log        hclog.Logger

	formatSeen bool
	done       bool
	videoOut   int
	samples    int
	warnings   []Warning

	// onFormat runs after the video track is added and before the muxer
	// starts, so further tracks can join.
	onFormat func(TrackDescriptor) error
}

func newEncodeSession(encoder Encoder, muxer *Muxer, log hclog.Logger) *encodeSession {
	return &encodeSession{encoder: encoder, muxer: muxer, log: log, videoOut: -1}
}

// drain handles one encoder output. It reports whether anything was
// produced.
func (e *encodeSession) drain(timeout time.Duration) (bool, error) {
	if e.done {
		return false, nil
	}
	out, err := e.encoder.DrainOutput(timeout)
	if err != nil {
		return false, wrapError(KindExportCancelled, "encoder.Drain", err)
	}
	return e.handle(out)
}

// handle applies one encoder output. A second format change is a muxer
// state error.
func (e *encodeSession) handle(out EncoderOutput) (bool, error) {
	const op = "encoder.Output"
	switch out.Kind {
	case EncoderTryAgain:
		return false, nil

	case EncoderFormatChanged:
		if e.formatSeen {
			return false, newError(KindMuxerState, op, "encoder output format changed after muxer start")
		}
		e.formatSeen = true
		idx, err := e.muxer.AddTrack(out.Format)
		if err != nil {
			return false, err
		}
		e.videoOut = idx
		if e.onFormat != nil {
			if err := e.onFormat(out.Format); err != nil {
				return false, err
			}
		}
		if err := e.muxer.Start(); err != nil {
			return false, err
		}
		e.log.Debug("encoder format", "codec", out.Format.CodecName(), "width", out.Format.Width, "height", out.Format.Height)
		return true, nil

	case EncoderSample:
		s := out.Sample
		if s == nil || s.IsCodecConfig() {
			return true, nil
		}
		if len(s.Data) > 0 {
			if !e.formatSeen {
				return false, newError(KindMuxerState, op, "encoded sample before output format")
			}
			w := *s
			w.Flags &^= SampleFlagEndOfStream
			w.PTS = e.normalizer.Next(s.PTS)
			if err := e.muxer.WriteSample(e.videoOut, &w); err != nil {
				return false, err
			}
			e.samples++
		}
		if s.IsEndOfStream() {
			e.done = true
		}
		return true, nil
	}
	return false, newError(KindInternal, op, "unknown encoder output %s", out.Kind)
}

// flush drains the encoder after end of input. Consecutive empty polls
// are bounded by maxRetries; exhausting them records a warning instead of
// failing.
func (e *encodeSession) flush(timeout time.Duration, maxRetries int) error {
	retries := 0
	for !e.done {
		produced, err := e.drain(timeout)
		if err != nil {
			return err
		}
		if produced {
			retries = 0
			continue
		}
		retries++
		if retries >= maxRetries {
			e.warnings = append(e.warnings, Warning{
				Code:    WarnEncoderFlushIncomplete,
				Message: "encoder did not signal end of stream; output may miss trailing frames",
			})
			e.log.Warn("encoder flush incomplete", "retries", retries)
			return nil
		}
	}
	return nil
}
