package mediakit

import "time"

// SampleFlags describes the role of a compressed sample.
type SampleFlags uint32

const (
	SampleFlagKeyframe    SampleFlags = 1 << iota // Sync sample, decodable on its own
	SampleFlagCodecConfig                         // Out-of-band configuration, never rendered or muxed
	SampleFlagEndOfStream                         // Terminal marker, may carry no payload
)

// Has returns true if all specified flags are set.
func (f SampleFlags) Has(flag SampleFlags) bool { return f&flag == flag }

func (f SampleFlags) String() string {
	s := ""
	add := func(name string) {
		if s != "" {
			s += "|"
		}
		s += name
	}
	if f.Has(SampleFlagKeyframe) {
		add("key")
	}
	if f.Has(SampleFlagCodecConfig) {
		add("config")
	}
	if f.Has(SampleFlagEndOfStream) {
		add("eos")
	}
	if s == "" {
		return "none"
	}
	return s
}

// Sample is a single compressed unit, either read from a container or
// produced by an encoder.
// H.264 and H.265 payloads carry 4-byte length-prefixed NAL units.
type Sample struct {
	Data  []byte      // Compressed payload
	PTS   int64       // Presentation timestamp in microseconds
	Flags SampleFlags // Keyframe / codec-config / end-of-stream

	// CompositionOffset is PTS minus the decode timestamp, in
	// microseconds. It is zero unless frames are reordered (B-frames).
	CompositionOffset int64
}

// DTS returns the decode timestamp in microseconds.
func (s *Sample) DTS() int64 { return s.PTS - s.CompositionOffset }

// IsKeyframe returns true if the sample is a sync sample.
func (s *Sample) IsKeyframe() bool { return s.Flags.Has(SampleFlagKeyframe) }

// IsEndOfStream returns true if the sample terminates its stream.
func (s *Sample) IsEndOfStream() bool { return s.Flags.Has(SampleFlagEndOfStream) }

// IsCodecConfig returns true if the sample only carries configuration.
func (s *Sample) IsCodecConfig() bool { return s.Flags.Has(SampleFlagCodecConfig) }

// Clone creates a deep copy of the sample.
func (s *Sample) Clone() *Sample {
	return &Sample{
		Data:  cloneBytes(s.Data),
		PTS:   s.PTS,
		Flags: s.Flags,

		CompositionOffset: s.CompositionOffset,
	}
}

// EndOfStreamSample returns the terminal marker queued into a decoder.
func EndOfStreamSample(pts int64) *Sample {
	return &Sample{PTS: pts, Flags: SampleFlagEndOfStream}
}

// TrackDescriptor describes one elementary stream of a container.
// Descriptors are immutable once read.
type TrackDescriptor struct {
	Index int
	Kind  MediaKind

	VideoCodec VideoCodec
	AudioCodec AudioCodec

	Width     int     // Coded width in pixels
	Height    int     // Coded height in pixels
	FrameRate float64 // Average frames per second
	Rotation  int     // Display rotation in degrees (0, 90, 180, 270)

	SampleRate int
	Channels   int

	Config   CodecConfig
	Duration time.Duration
}

// IsVideo returns true for video tracks.
func (t TrackDescriptor) IsVideo() bool { return t.Kind == KindVideo }

// IsAudio returns true for audio tracks.
func (t TrackDescriptor) IsAudio() bool { return t.Kind == KindAudio }

// DisplaySize returns the frame size with rotation applied.
func (t TrackDescriptor) DisplaySize() (width, height int) {
	if t.Rotation == 90 || t.Rotation == 270 {
		return t.Height, t.Width
	}
	return t.Width, t.Height
}

// CodecName returns the codec name of the track regardless of its kind.
func (t TrackDescriptor) CodecName() string {
	if t.Kind == KindAudio {
		return t.AudioCodec.String()
	}
	return t.VideoCodec.String()
}
