//go:build android

package mediakit

import (
	"sync"
	"time"
	"unsafe"

	"github.com/pkg/errors"
)

// AMediaFormat keys.
const (
	formatKeyMime           = "mime"
	formatKeyWidth          = "width"
	formatKeyHeight         = "height"
	formatKeyBitrate        = "bitrate"
	formatKeyFrameRate      = "frame-rate"
	formatKeyIFrameInterval = "i-frame-interval"
	formatKeyColorFormat    = "color-format"
	formatKeyCSD0           = "csd-0"
	formatKeyCSD1           = "csd-1"
)

// mediaCodecPlatform is the Platform backed by NDK MediaCodec, EGL and
// GLES.
type mediaCodecPlatform struct{}

func (p *mediaCodecPlatform) Provider() Provider { return ProviderMediaCodec }

func (p *mediaCodecPlatform) NewDecoder(track TrackDescriptor) (Decoder, error) {
	mime := track.VideoCodec.MimeType()
	if mime == "" {
		return nil, newError(KindCapability, "mediacodec.NewDecoder", "no decoder for codec %s", track.VideoCodec)
	}
	codec := amediaCodecCreateDecoderByType(mime)
	if codec == 0 {
		return nil, newError(KindCapability, "mediacodec.NewDecoder", "no decoder for %s", mime)
	}
	return &mediaCodecDecoder{codec: codec, videoCodec: track.VideoCodec}, nil
}

func (p *mediaCodecPlatform) NewEncoder(codec VideoCodec) (Encoder, error) {
	mime := codec.MimeType()
	if mime == "" {
		return nil, newError(KindCapability, "mediacodec.NewEncoder", "no encoder for codec %s", codec)
	}
	handle := amediaCodecCreateEncoderByType(mime)
	if handle == 0 {
		return nil, newError(KindCapability, "mediacodec.NewEncoder", "no encoder for %s", mime)
	}
	return &mediaCodecEncoder{codec: handle, videoCodec: codec}, nil
}

func (p *mediaCodecPlatform) NewRenderBackend() (RenderBackend, error) {
	return &eglBackend{}, nil
}

// EncoderCapabilities reports the conservative defaults. The NDK exposes
// per-codec size ranges only from API level 36 (AMediaCodecInfo).
func (p *mediaCodecPlatform) EncoderCapabilities(codec VideoCodec) (EncoderCapabilities, error) {
	if codec.MimeType() == "" {
		return EncoderCapabilities{}, newError(KindCapability, "mediacodec.EncoderCapabilities", "unsupported codec %s", codec)
	}
	return DefaultEncoderCapabilities(codec), nil
}

// statusError converts a media_status_t into an error.
func statusError(kind Kind, op string, status int32) error {
	if status == amediaOK {
		return nil
	}
	return newError(kind, op, "media status %d", status)
}

// bufferBytes views size bytes of native memory at ptr.
func bufferBytes(ptr uintptr, size int) []byte {
	if ptr == 0 || size <= 0 {
		return nil
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(ptr)), size)
}

// setFormatBuffer copies data into a format key.
func setFormatBuffer(format uintptr, key string, data []byte) {
	if len(data) == 0 {
		return
	}
	amediaFormatSetBuffer(format, key, &data[0], uintptr(len(data)))
}

// formatBuffer returns a copy of a format key's buffer, or nil.
func formatBuffer(format uintptr, key string) []byte {
	var ptr, size uintptr
	if !amediaFormatGetBuffer(format, key, &ptr, &size) {
		return nil
	}
	return cloneBytes(bufferBytes(ptr, int(size)))
}

// --- Decoder ---

type mediaCodecDecoder struct {
	codec      uintptr
	videoCodec VideoCodec
	started    bool

	releaseOnce sync.Once
}

func (d *mediaCodecDecoder) Configure(track TrackDescriptor, target NativeWindow) error {
	const op = "mediacodec.DecoderConfigure"
	format := amediaFormatNew()
	if format == 0 {
		return newError(KindInternal, op, "AMediaFormat_new failed")
	}
	defer amediaFormatDelete(format)

	amediaFormatSetString(format, formatKeyMime, track.VideoCodec.MimeType())
	amediaFormatSetInt32(format, formatKeyWidth, int32(track.Width))
	amediaFormatSetInt32(format, formatKeyHeight, int32(track.Height))
	switch track.VideoCodec {
	case VideoCodecH264:
		setFormatBuffer(format, formatKeyCSD0, withStartCode(track.Config.SPS))
		setFormatBuffer(format, formatKeyCSD1, withStartCode(track.Config.PPS))
	case VideoCodecH265:
		setFormatBuffer(format, formatKeyCSD0, withStartCode(track.Config.VPS, track.Config.SPS, track.Config.PPS))
	}

	if status := amediaCodecConfigure(d.codec, format, uintptr(target), 0, 0); status != amediaOK {
		return statusError(KindCapability, op, status)
	}
	if status := amediaCodecStart(d.codec); status != amediaOK {
		return statusError(KindCapability, op, status)
	}
	d.started = true
	return nil
}

func (d *mediaCodecDecoder) QueueInput(s *Sample) (bool, error) {
	const op = "mediacodec.QueueInput"
	idx := amediaCodecDequeueInputBuffer(d.codec, 0)
	if idx < 0 {
		return false, nil
	}

	payload := s.Data
	if d.videoCodec.LengthPrefixed() && len(payload) > 0 {
		converted, err := lengthPrefixedToAnnexB(payload)
		if err != nil {
			return false, wrapError(KindFormat, op, err)
		}
		payload = converted
	}

	var capacity uintptr
	ptr := amediaCodecGetInputBuffer(d.codec, uintptr(idx), &capacity)
	if ptr == 0 {
		return false, newError(KindInternal, op, "no input buffer at index %d", idx)
	}
	if len(payload) > int(capacity) {
		return false, newError(KindFormat, op, "sample of %d bytes exceeds input buffer of %d", len(payload), capacity)
	}
	copy(bufferBytes(ptr, int(capacity)), payload)

	pts := s.PTS
	if pts < 0 {
		pts = 0
	}
	status := amediaCodecQueueInputBuffer(d.codec, uintptr(idx), 0, uintptr(len(payload)), uint64(pts), bufferFlags(s.Flags))
	if status != amediaOK {
		return false, statusError(KindIO, op, status)
	}
	return true, nil
}

func (d *mediaCodecDecoder) DrainOutput(timeout time.Duration) (DecoderOutput, error) {
	var info amediaCodecBufferInfo
	idx := amediaCodecDequeueOutputBuffer(d.codec, &info, timeout.Microseconds())
	switch {
	case idx >= 0:
		return DecoderOutput{
			Kind:  DecoderFrameReady,
			Index: idx,
			Size:  int(info.Size),
			PTS:   info.PresentationTimeUs,
			Flags: flagsFromBuffer(info.Flags),
		}, nil
	case idx == amediacodecInfoOutputFormatChanged:
		return DecoderOutput{Kind: DecoderFormatChanged}, nil
	case idx == amediacodecInfoTryAgainLater, idx == amediacodecInfoOutputBuffersChanged:
		return DecoderOutput{Kind: DecoderTryAgain}, nil
	}
	return DecoderOutput{}, newError(KindIO, "mediacodec.DecoderDrain", "dequeue output failed: %d", idx)
}

func (d *mediaCodecDecoder) ReleaseOutput(out DecoderOutput, render bool) error {
	if out.Kind != DecoderFrameReady {
		return nil
	}
	status := amediaCodecReleaseOutputBuffer(d.codec, uintptr(out.Index), render)
	return statusError(KindIO, "mediacodec.ReleaseOutput", status)
}

func (d *mediaCodecDecoder) Release() error {
	d.releaseOnce.Do(func() {
		if d.started {
			amediaCodecStop(d.codec)
		}
		amediaCodecDelete(d.codec)
	})
	return nil
}

// --- Encoder ---

type mediaCodecEncoder struct {
	codec      uintptr
	videoCodec VideoCodec
	cfg        EncoderConfig
	window     uintptr
	started    bool

	// pendingFormat holds an output format whose codec configuration
	// arrives later as a codec-config buffer.
	pendingFormat *TrackDescriptor

	releaseOnce sync.Once
}

func (e *mediaCodecEncoder) Configure(cfg EncoderConfig) error {
	const op = "mediacodec.EncoderConfigure"
	cfg = cfg.withDefaults()
	cfg.Codec = e.videoCodec
	if err := cfg.Validate(); err != nil {
		return err
	}
	e.cfg = cfg

	format := amediaFormatNew()
	if format == 0 {
		return newError(KindInternal, op, "AMediaFormat_new failed")
	}
	defer amediaFormatDelete(format)

	amediaFormatSetString(format, formatKeyMime, cfg.Codec.MimeType())
	amediaFormatSetInt32(format, formatKeyWidth, int32(cfg.Width))
	amediaFormatSetInt32(format, formatKeyHeight, int32(cfg.Height))
	amediaFormatSetInt32(format, formatKeyBitrate, int32(cfg.BitrateBps))
	amediaFormatSetInt32(format, formatKeyFrameRate, int32(cfg.FrameRate))
	amediaFormatSetInt32(format, formatKeyIFrameInterval, int32(cfg.KeyframeIntervalSeconds))
	amediaFormatSetInt32(format, formatKeyColorFormat, colorFormatSurface)

	if status := amediaCodecConfigure(e.codec, format, 0, 0, amediacodecConfigureFlagEncode); status != amediaOK {
		return &Error{Kind: KindCapability, Op: op,
			Err: errors.Errorf("configure %dx%d %s: media status %d", cfg.Width, cfg.Height, cfg.Codec, status)}
	}
	if status := amediaCodecCreateInputSurface(e.codec, &e.window); status != amediaOK {
		return statusError(KindSurface, op, status)
	}
	if status := amediaCodecStart(e.codec); status != amediaOK {
		return statusError(KindCapability, op, status)
	}
	e.started = true
	return nil
}

func (e *mediaCodecEncoder) InputSurface() NativeWindow { return NativeWindow(e.window) }

func (e *mediaCodecEncoder) SignalEndOfInput() error {
	return statusError(KindIO, "mediacodec.SignalEndOfInput", amediaCodecSignalEndOfInputStream(e.codec))
}

func (e *mediaCodecEncoder) DrainOutput(timeout time.Duration) (EncoderOutput, error) {
	const op = "mediacodec.EncoderDrain"
	var info amediaCodecBufferInfo
	idx := amediaCodecDequeueOutputBuffer(e.codec, &info, timeout.Microseconds())
	switch {
	case idx == amediacodecInfoTryAgainLater, idx == amediacodecInfoOutputBuffersChanged:
		return EncoderOutput{Kind: EncoderTryAgain}, nil
	case idx == amediacodecInfoOutputFormatChanged:
		return e.formatChanged()
	case idx < 0:
		return EncoderOutput{}, newError(KindIO, op, "dequeue output failed: %d", idx)
	}

	var size uintptr
	ptr := amediaCodecGetOutputBuffer(e.codec, uintptr(idx), &size)
	var data []byte
	if ptr != 0 && info.Size > 0 {
		end := int(info.Offset) + int(info.Size)
		if end > int(size) {
			amediaCodecReleaseOutputBuffer(e.codec, uintptr(idx), false)
			return EncoderOutput{}, newError(KindFormat, op, "output buffer overrun: %d > %d", end, size)
		}
		data = cloneBytes(bufferBytes(ptr, end)[info.Offset:end])
	}
	if status := amediaCodecReleaseOutputBuffer(e.codec, uintptr(idx), false); status != amediaOK {
		return EncoderOutput{}, statusError(KindIO, op, status)
	}

	flags := flagsFromBuffer(info.Flags)
	if flags.Has(SampleFlagCodecConfig) {
		return e.codecConfig(data)
	}

	if e.videoCodec.LengthPrefixed() && len(data) > 0 {
		converted, err := annexBToLengthPrefixed(data)
		if err != nil {
			return EncoderOutput{}, wrapError(KindFormat, op, err)
		}
		data = converted
	}
	if len(data) > 0 && !flags.Has(SampleFlagKeyframe) && videoKeyframe(e.videoCodec, data) {
		flags |= SampleFlagKeyframe
	}
	return EncoderOutput{Kind: EncoderSample, Sample: &Sample{
		Data:  data,
		PTS:   info.PresentationTimeUs,
		Flags: flags,
	}}, nil
}

// formatChanged reads the output format. H.264/H.265 formats without
// csd buffers are held back until the codec-config buffer arrives.
func (e *mediaCodecEncoder) formatChanged() (EncoderOutput, error) {
	format := amediaCodecGetOutputFormat(e.codec)
	if format == 0 {
		return EncoderOutput{}, newError(KindIO, "mediacodec.OutputFormat", "no output format")
	}
	defer amediaFormatDelete(format)

	desc := TrackDescriptor{
		Kind:       KindVideo,
		VideoCodec: e.videoCodec,
		Width:      e.cfg.Width,
		Height:     e.cfg.Height,
		FrameRate:  float64(e.cfg.FrameRate),
	}
	var v int32
	if amediaFormatGetInt32(format, formatKeyWidth, &v) && v > 0 {
		desc.Width = int(v)
	}
	if amediaFormatGetInt32(format, formatKeyHeight, &v) && v > 0 {
		desc.Height = int(v)
	}

	csd := append(formatBuffer(format, formatKeyCSD0), formatBuffer(format, formatKeyCSD1)...)
	if e.videoCodec.LengthPrefixed() {
		if len(csd) == 0 {
			e.pendingFormat = &desc
			return EncoderOutput{Kind: EncoderTryAgain}, nil
		}
		cfg, err := configFromAnnexB(e.videoCodec, csd)
		if err != nil {
			return EncoderOutput{}, err
		}
		desc.Config = cfg
	}
	return EncoderOutput{Kind: EncoderFormatChanged, Format: desc}, nil
}

// codecConfig completes a held-back format, or passes the config buffer
// through for the caller to skip.
func (e *mediaCodecEncoder) codecConfig(data []byte) (EncoderOutput, error) {
	if e.pendingFormat == nil {
		return EncoderOutput{Kind: EncoderSample, Sample: &Sample{Data: data, Flags: SampleFlagCodecConfig}}, nil
	}
	cfg, err := configFromAnnexB(e.videoCodec, data)
	if err != nil {
		return EncoderOutput{}, err
	}
	desc := *e.pendingFormat
	desc.Config = cfg
	e.pendingFormat = nil
	return EncoderOutput{Kind: EncoderFormatChanged, Format: desc}, nil
}

func (e *mediaCodecEncoder) Release() error {
	e.releaseOnce.Do(func() {
		if e.started {
			amediaCodecStop(e.codec)
		}
		amediaCodecDelete(e.codec)
	})
	return nil
}
