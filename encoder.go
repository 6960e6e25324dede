package mediakit

import (
	"time"

	"github.com/pkg/errors"
)

// Encoder defaults.
const (
	DefaultBitrateBps              = 2_000_000
	DefaultFrameRate               = 30
	DefaultKeyframeIntervalSeconds = 1
)

// EncoderConfig configures a surface-input video encoder.
type EncoderConfig struct {
	Codec    VideoCodec // Codec type (H264, H265, VP9)
	Provider Provider   // Provider to use (ProviderAuto = library chooses)

	Width      int // Frame width
	Height     int // Frame height
	BitrateBps int // Target bitrate in bits per second
	FrameRate  int // Target framerate

	KeyframeIntervalSeconds int // Seconds between sync frames
}

// DefaultEncoderConfig returns a default H.264 configuration for a size.
func DefaultEncoderConfig(width, height int) EncoderConfig {
	return EncoderConfig{
		Codec:                   VideoCodecH264,
		Provider:                ProviderAuto,
		Width:                   width,
		Height:                  height,
		BitrateBps:              DefaultBitrateBps,
		FrameRate:               DefaultFrameRate,
		KeyframeIntervalSeconds: DefaultKeyframeIntervalSeconds,
	}
}

// withDefaults fills unset rate fields.
func (c EncoderConfig) withDefaults() EncoderConfig {
	if c.Codec == VideoCodecUnknown {
		c.Codec = VideoCodecH264
	}
	if c.BitrateBps <= 0 {
		c.BitrateBps = DefaultBitrateBps
	}
	if c.FrameRate <= 0 {
		c.FrameRate = DefaultFrameRate
	}
	if c.KeyframeIntervalSeconds <= 0 {
		c.KeyframeIntervalSeconds = DefaultKeyframeIntervalSeconds
	}
	return c
}

// Validate rejects sizes no encoder accepts.
func (c EncoderConfig) Validate() error {
	if c.Width <= 0 || c.Height <= 0 {
		return newError(KindInvalidArgument, "encoder.Configure", "invalid size %dx%d", c.Width, c.Height)
	}
	if !c.Codec.Muxable() {
		return newError(KindCapability, "encoder.Configure", "codec %s cannot be encoded for mp4 output", c.Codec)
	}
	return nil
}

// EncoderOutputKind classifies an encoder drain result.
type EncoderOutputKind uint8

const (
	EncoderTryAgain      EncoderOutputKind = iota // Nothing ready within the timeout
	EncoderFormatChanged                          // Output format is known; Format is set
	EncoderSample                                 // Sample is set
)

func (k EncoderOutputKind) String() string {
	switch k {
	case EncoderTryAgain:
		return "try-again"
	case EncoderFormatChanged:
		return "format-changed"
	case EncoderSample:
		return "sample"
	default:
		return "unknown"
	}
}

// EncoderOutput is one result of Encoder.DrainOutput.
type EncoderOutput struct {
	Kind   EncoderOutputKind
	Format TrackDescriptor // Valid for EncoderFormatChanged
	Sample *Sample         // Valid for EncoderSample
}

// Encoder is a hardware video encoder fed through a native window.
// Codec-config outputs are consumed internally and surface only through
// the FormatChanged descriptor.
type Encoder interface {
	// Configure prepares and starts the encoder.
	Configure(cfg EncoderConfig) error

	// InputSurface returns the window the compositor renders into. Valid
	// after Configure.
	InputSurface() NativeWindow

	// SignalEndOfInput marks the end of the frame stream.
	SignalEndOfInput() error

	// DrainOutput waits up to timeout for the next output event. Samples
	// carry length-prefixed payloads for H.264/H.265.
	DrainOutput(timeout time.Duration) (EncoderOutput, error)

	// Release stops the encoder and frees it. Safe to call repeatedly.
	Release() error
}

// EncoderCapabilities describes the size constraints of an encoder.
type EncoderCapabilities struct {
	Codec           VideoCodec
	WidthAlignment  int
	HeightAlignment int
	MinWidth        int
	MinHeight       int
	MaxWidth        int
	MaxHeight       int
}

// DefaultEncoderCapabilities is a conservative constraint set used when a
// platform cannot report its own.
func DefaultEncoderCapabilities(codec VideoCodec) EncoderCapabilities {
	return EncoderCapabilities{
		Codec:           codec,
		WidthAlignment:  2,
		HeightAlignment: 2,
		MinWidth:        2,
		MinHeight:       2,
		MaxWidth:        1920,
		MaxHeight:       1088,
	}
}

func (c EncoderCapabilities) alignments() (int, int) {
	wa, ha := c.WidthAlignment, c.HeightAlignment
	if wa <= 0 {
		wa = 1
	}
	if ha <= 0 {
		ha = 1
	}
	return wa, ha
}

// IsSizeSupported reports whether the encoder accepts width x height.
func (c EncoderCapabilities) IsSizeSupported(width, height int) bool {
	wa, ha := c.alignments()
	if width <= 0 || height <= 0 || width%wa != 0 || height%ha != 0 {
		return false
	}
	if width < c.MinWidth || height < c.MinHeight {
		return false
	}
	if c.MaxWidth > 0 && width > c.MaxWidth {
		return false
	}
	if c.MaxHeight > 0 && height > c.MaxHeight {
		return false
	}
	return true
}

// standardResolutions are tried in order when encoding a still image.
var standardResolutions = [][2]int{
	{1920, 1080},
	{1280, 720},
	{640, 480},
}

// ChooseEncoderSize picks the first standard resolution whose
// aspect-adjusted, aligned size the encoder supports. Landscape sources
// keep the standard width, portrait sources the standard height.
func ChooseEncoderSize(caps EncoderCapabilities, srcWidth, srcHeight int) (int, int, error) {
	const op = "encoder.ChooseSize"
	if srcWidth <= 0 || srcHeight <= 0 {
		return 0, 0, newError(KindInvalidArgument, op, "invalid source size %dx%d", srcWidth, srcHeight)
	}
	wa, ha := caps.alignments()
	aspect := float64(srcWidth) / float64(srcHeight)

	for _, std := range standardResolutions {
		width := std[0] - std[0]%wa
		height := std[1] - std[1]%ha
		if aspect >= 1 {
			height = int(float64(width) / aspect)
			height -= height % ha
		} else {
			width = int(float64(height) * aspect)
			width -= width % wa
		}
		if caps.IsSizeSupported(width, height) {
			return width, height, nil
		}
	}
	return 0, 0, &Error{Kind: KindCapability, Op: op,
		Err: errors.Errorf("no supported standard resolution for %dx%d source", srcWidth, srcHeight)}
}
