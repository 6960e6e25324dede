package mediakit

import "time"

// DecoderOutputKind classifies a decoder drain result.
type DecoderOutputKind uint8

const (
	DecoderTryAgain      DecoderOutputKind = iota // Nothing ready within the timeout
	DecoderFormatChanged                          // Output format changed, no buffer attached
	DecoderFrameReady                             // A buffer is ready to release
)

func (k DecoderOutputKind) String() string {
	switch k {
	case DecoderTryAgain:
		return "try-again"
	case DecoderFormatChanged:
		return "format-changed"
	case DecoderFrameReady:
		return "frame-ready"
	default:
		return "unknown"
	}
}

// DecoderOutput is one result of Decoder.DrainOutput. For FrameReady the
// buffer must be handed back through ReleaseOutput exactly once.
type DecoderOutput struct {
	Kind  DecoderOutputKind
	Index int         // Platform buffer index
	Size  int         // Payload size in bytes
	PTS   int64       // Presentation timestamp in microseconds
	Flags SampleFlags // Keyframe, codec-config and end-of-stream markers
}

// IsEndOfStream reports whether the output carries the end-of-stream flag.
func (o DecoderOutput) IsEndOfStream() bool { return o.Flags.Has(SampleFlagEndOfStream) }

// ShouldRender reports whether a ready output holds a real picture. Empty
// end-of-stream buffers and codec-config buffers are released without
// rendering.
func ShouldRender(out DecoderOutput) bool {
	if out.Kind != DecoderFrameReady {
		return false
	}
	if out.Flags.Has(SampleFlagCodecConfig) {
		return false
	}
	if out.IsEndOfStream() && out.Size == 0 {
		return false
	}
	return true
}

// Decoder is a hardware video decoder that renders into a native window.
type Decoder interface {
	// Configure prepares the decoder for track and binds its output to
	// target. The decoder is started on success.
	Configure(track TrackDescriptor, target NativeWindow) error

	// QueueInput submits one compressed sample. End of stream is a
	// zero-length sample flagged SampleFlagEndOfStream. accepted is false
	// when no input buffer was free; the caller retries the same sample.
	QueueInput(s *Sample) (accepted bool, err error)

	// DrainOutput waits up to timeout for the next output event.
	DrainOutput(timeout time.Duration) (DecoderOutput, error)

	// ReleaseOutput returns a FrameReady buffer, rendering it to the
	// target window when render is set.
	ReleaseOutput(out DecoderOutput, render bool) error

	// Release stops the decoder and frees it. Safe to call repeatedly.
	Release() error
}
