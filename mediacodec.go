package mediakit

// MediaCodec buffer protocol shared by the NDK adapters. Kept free of
// native calls so it builds and tests on every platform.

// AMediaCodec constants.
const (
	amediacodecConfigureFlagEncode = 1

	amediacodecBufferFlagKeyFrame    = 1
	amediacodecBufferFlagCodecConfig = 2
	amediacodecBufferFlagEndOfStream = 4

	amediacodecInfoOutputBuffersChanged = -3
	amediacodecInfoOutputFormatChanged  = -2
	amediacodecInfoTryAgainLater        = -1

	colorFormatSurface = 0x7F000789
)

var annexBStartCode = []byte{0, 0, 0, 1}

// withStartCode prefixes a raw NAL unit with an Annex-B start code.
func withStartCode(nalus ...[]byte) []byte {
	var out []byte
	for _, n := range nalus {
		if len(n) == 0 {
			continue
		}
		out = append(out, annexBStartCode...)
		out = append(out, n...)
	}
	return out
}

// flagsFromBuffer maps MediaCodec buffer flags to sample flags.
func flagsFromBuffer(flags uint32) SampleFlags {
	var f SampleFlags
	if flags&amediacodecBufferFlagKeyFrame != 0 {
		f |= SampleFlagKeyframe
	}
	if flags&amediacodecBufferFlagCodecConfig != 0 {
		f |= SampleFlagCodecConfig
	}
	if flags&amediacodecBufferFlagEndOfStream != 0 {
		f |= SampleFlagEndOfStream
	}
	return f
}

// bufferFlags maps sample flags to MediaCodec buffer flags.
func bufferFlags(f SampleFlags) uint32 {
	var flags uint32
	if f.Has(SampleFlagKeyframe) {
		flags |= amediacodecBufferFlagKeyFrame
	}
	if f.Has(SampleFlagCodecConfig) {
		flags |= amediacodecBufferFlagCodecConfig
	}
	if f.Has(SampleFlagEndOfStream) {
		flags |= amediacodecBufferFlagEndOfStream
	}
	return flags
}

// configFromAnnexB extracts parameter sets from Annex-B codec data.
func configFromAnnexB(codec VideoCodec, data []byte) (CodecConfig, error) {
	const op = "mediacodec.CodecConfig"
	avcc, err := annexBToLengthPrefixed(data)
	if err != nil {
		return CodecConfig{}, wrapError(KindFormat, op, err)
	}
	nalus, err := splitLengthPrefixed(avcc)
	if err != nil {
		return CodecConfig{}, wrapError(KindFormat, op, err)
	}
	cfg, _ := parameterSets(codec, nalus)
	if len(cfg.SPS) == 0 || len(cfg.PPS) == 0 {
		return CodecConfig{}, newError(KindFormat, op, "codec config lacks SPS or PPS")
	}
	return cfg, nil
}
