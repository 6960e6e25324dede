package mediakit

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
)

// MediaKind distinguishes the elementary stream kinds a container can hold.
type MediaKind int

const (
	KindUnknown MediaKind = iota
	KindVideo
	KindAudio
)

func (k MediaKind) String() string {
	switch k {
	case KindVideo:
		return "video"
	case KindAudio:
		return "audio"
	default:
		return "unknown"
	}
}

// VideoCodec identifies the video codec type.
type VideoCodec int

const (
	VideoCodecUnknown VideoCodec = iota
	VideoCodecVP8
	VideoCodecVP9
	VideoCodecH264
	VideoCodecH265
	VideoCodecAV1
)

func (c VideoCodec) String() string {
	switch c {
	case VideoCodecVP8:
		return "VP8"
	case VideoCodecVP9:
		return "VP9"
	case VideoCodecH264:
		return "H264"
	case VideoCodecH265:
		return "H265"
	case VideoCodecAV1:
		return "AV1"
	default:
		return "Unknown"
	}
}

// MimeType returns the MIME type hardware codec APIs use for this codec.
func (c VideoCodec) MimeType() string {
	switch c {
	case VideoCodecVP8:
		return "video/x-vnd.on2.vp8"
	case VideoCodecVP9:
		return "video/x-vnd.on2.vp9"
	case VideoCodecH264:
		return "video/avc"
	case VideoCodecH265:
		return "video/hevc"
	case VideoCodecAV1:
		return "video/av01"
	default:
		return ""
	}
}

// Muxable reports whether the codec can be stored in an MP4 track.
func (c VideoCodec) Muxable() bool {
	switch c {
	case VideoCodecH264, VideoCodecH265, VideoCodecVP9:
		return true
	default:
		return false
	}
}

// LengthPrefixed reports whether in-pipeline payloads of this codec are
// NAL units with 4-byte length prefixes.
func (c VideoCodec) LengthPrefixed() bool {
	return c == VideoCodecH264 || c == VideoCodecH265
}

// ParseVideoCodec maps a codec name to a VideoCodec.
func ParseVideoCodec(name string) VideoCodec {
	switch name {
	case "vp8", "VP8":
		return VideoCodecVP8
	case "vp9", "VP9":
		return VideoCodecVP9
	case "h264", "H264", "avc":
		return VideoCodecH264
	case "h265", "H265", "hevc":
		return VideoCodecH265
	case "av1", "AV1":
		return VideoCodecAV1
	default:
		return VideoCodecUnknown
	}
}

// AudioCodec identifies the audio codec type.
type AudioCodec int

const (
	AudioCodecUnknown AudioCodec = iota
	AudioCodecOpus
	AudioCodecAAC
)

func (c AudioCodec) String() string {
	switch c {
	case AudioCodecOpus:
		return "Opus"
	case AudioCodecAAC:
		return "AAC"
	default:
		return "Unknown"
	}
}

// MimeType returns the MIME type for this codec.
func (c AudioCodec) MimeType() string {
	switch c {
	case AudioCodecOpus:
		return "audio/opus"
	case AudioCodecAAC:
		return "audio/mp4a-latm"
	default:
		return ""
	}
}

// CodecConfig carries the out-of-band decoder configuration of a track.
// Parameter sets are raw NAL units without start codes or length prefixes.
type CodecConfig struct {
	VPS []byte
	SPS []byte
	PPS []byte

	// AudioSpecificConfig is the MPEG-4 audio config (AAC) or the codec
	// private header for other audio codecs.
	AudioSpecificConfig []byte
}

// Empty reports whether no configuration is present.
func (c CodecConfig) Empty() bool {
	return len(c.VPS) == 0 && len(c.SPS) == 0 && len(c.PPS) == 0 && len(c.AudioSpecificConfig) == 0
}

// Equal reports whether both configs carry identical bytes.
func (c CodecConfig) Equal(o CodecConfig) bool {
	return c.Fingerprint() == o.Fingerprint()
}

// Fingerprint returns a stable hex digest of the configuration.
func (c CodecConfig) Fingerprint() string {
	h := sha256.New()
	var n [4]byte
	for _, part := range [][]byte{c.VPS, c.SPS, c.PPS, c.AudioSpecificConfig} {
		binary.BigEndian.PutUint32(n[:], uint32(len(part)))
		h.Write(n[:])
		h.Write(part)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Clone returns a deep copy.
func (c CodecConfig) Clone() CodecConfig {
	return CodecConfig{
		VPS:                 cloneBytes(c.VPS),
		SPS:                 cloneBytes(c.SPS),
		PPS:                 cloneBytes(c.PPS),
		AudioSpecificConfig: cloneBytes(c.AudioSpecificConfig),
	}
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
