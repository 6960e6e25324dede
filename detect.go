package mediakit

import (
	"encoding/binary"

	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"
	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h265"
	"github.com/pkg/errors"
)

// DetectVideoCodec detects the video codec of a raw elementary stream
// from its first bytes. Annex-B streams are classified by the type of
// their first NAL unit; IVF files by their FourCC.
//
// Returns VideoCodecUnknown if the codec cannot be determined.
func DetectVideoCodec(data []byte) VideoCodec {
	if len(data) >= 32 && string(data[0:4]) == "DKIF" {
		switch string(data[8:12]) {
		case "VP80":
			return VideoCodecVP8
		case "VP90":
			return VideoCodecVP9
		case "AV01":
			return VideoCodecAV1
		}
		return VideoCodecUnknown
	}

	if !isAnnexBStartCode(data) {
		return VideoCodecUnknown
	}
	header := data[startCodeLen(data):]
	if len(header) < 2 {
		return VideoCodecUnknown
	}
	// H.265 streams open with a VPS/SPS/PPS (types 32-34), layer 0,
	// temporal id 1.
	switch header[0] {
	case 0x40, 0x42, 0x44:
		if header[1] == 0x01 {
			return VideoCodecH265
		}
	}
	if isH264NALType(header[0] & 0x1F) {
		return VideoCodecH264
	}
	return VideoCodecUnknown
}

// isAnnexBStartCode checks for H.264/H.265 Annex-B start codes.
// Per ITU-T H.264 Annex B, NAL units are prefixed with either
// 0x00000001 or 0x000001.
func isAnnexBStartCode(data []byte) bool {
	if len(data) < 4 {
		return false
	}
	if data[0] == 0 && data[1] == 0 && data[2] == 0 && data[3] == 1 {
		return true
	}
	return data[0] == 0 && data[1] == 0 && data[2] == 1
}

func startCodeLen(data []byte) int {
	if len(data) >= 4 && data[2] == 0 {
		return 4
	}
	return 3
}

// isH264NALType checks if NAL type is valid H.264 (ITU-T H.264 Table 7-1).
func isH264NALType(nalType byte) bool {
	return (nalType >= 1 && nalType <= 12) || (nalType >= 19 && nalType <= 21)
}

// isVP8Keyframe checks the frame tag of a VP8 frame (RFC 6386 Section 9.1).
// Keyframes have bit 0 clear and carry the 0x9D012A start code.
func isVP8Keyframe(data []byte) bool {
	if len(data) < 6 {
		return false
	}
	if data[0]&0x01 != 0 {
		return false
	}
	return data[3] == 0x9D && data[4] == 0x01 && data[5] == 0x2A
}

// isVP9Keyframe parses the start of the VP9 uncompressed header
// (VP9 Bitstream Specification Section 6.2).
func isVP9Keyframe(data []byte) bool {
	if len(data) < 1 {
		return false
	}
	b := data[0]
	if (b>>6)&0x03 != 0x02 { // frame_marker
		return false
	}
	profile := (b>>5)&0x01 | ((b>>4)&0x01)<<1
	bit := 3
	if profile == 3 {
		bit-- // reserved_zero
	}
	if (b>>bit)&0x01 == 1 { // show_existing_frame
		return false
	}
	bit--
	return (b>>bit)&0x01 == 0 // frame_type: 0 = KEY_FRAME
}

// isAV1Keyframe reports whether a temporal unit starts a coded video
// sequence, i.e. carries a sequence header OBU (AV1 Section 5.3.2).
func isAV1Keyframe(data []byte) bool {
	for len(data) > 0 {
		header := data[0]
		if header&0x80 != 0 {
			return false
		}
		obuType := (header >> 3) & 0x0F
		if obuType == 1 {
			return true
		}
		n := 1
		if header&0x04 != 0 { // obu_extension_flag
			n++
		}
		if header&0x02 == 0 { // no obu_has_size_field, last OBU
			return false
		}
		size, used := readLEB128(data[n:])
		if used == 0 {
			return false
		}
		next := n + used + int(size)
		if next <= 0 || next > len(data) {
			return false
		}
		data = data[next:]
	}
	return false
}

func readLEB128(data []byte) (uint64, int) {
	var v uint64
	for i := 0; i < 8 && i < len(data); i++ {
		v |= uint64(data[i]&0x7F) << (7 * i)
		if data[i]&0x80 == 0 {
			return v, i + 1
		}
	}
	return 0, 0
}

// annexBToLengthPrefixed converts an Annex-B access unit into 4-byte
// length-prefixed NAL units.
func annexBToLengthPrefixed(data []byte) ([]byte, error) {
	var au h264.AnnexB
	if err := au.Unmarshal(data); err != nil {
		return nil, errors.Wrap(err, "unmarshal annex-b")
	}
	out, err := h264.AVCC(au).Marshal()
	if err != nil {
		return nil, errors.Wrap(err, "marshal avcc")
	}
	return out, nil
}

// lengthPrefixedToAnnexB converts 4-byte length-prefixed NAL units into an
// Annex-B access unit, as hardware decoders expect.
func lengthPrefixedToAnnexB(data []byte) ([]byte, error) {
	nalus, err := splitLengthPrefixed(data)
	if err != nil {
		return nil, err
	}
	out, err := h264.AnnexB(nalus).Marshal()
	if err != nil {
		return nil, errors.Wrap(err, "marshal annex-b")
	}
	return out, nil
}

// splitLengthPrefixed splits 4-byte length-prefixed NAL units.
func splitLengthPrefixed(data []byte) ([][]byte, error) {
	var nalus [][]byte
	for off := 0; off < len(data); {
		if off+4 > len(data) {
			return nil, errors.Errorf("truncated length prefix at %d", off)
		}
		n := int(binary.BigEndian.Uint32(data[off:]))
		off += 4
		if n < 0 || off+n > len(data) {
			return nil, errors.Errorf("nal unit of %d bytes overruns sample", n)
		}
		nalus = append(nalus, data[off:off+n])
		off += n
	}
	return nalus, nil
}

// joinLengthPrefixed is the inverse of splitLengthPrefixed.
func joinLengthPrefixed(nalus [][]byte) []byte {
	size := 0
	for _, n := range nalus {
		size += 4 + len(n)
	}
	out := make([]byte, 0, size)
	for _, n := range nalus {
		out = binary.BigEndian.AppendUint32(out, uint32(len(n)))
		out = append(out, n...)
	}
	return out
}

// parameterSets partitions NAL units into codec configuration and the
// remaining picture data.
func parameterSets(codec VideoCodec, nalus [][]byte) (CodecConfig, [][]byte) {
	var cfg CodecConfig
	rest := make([][]byte, 0, len(nalus))
	for _, n := range nalus {
		if len(n) == 0 {
			continue
		}
		switch codec {
		case VideoCodecH264:
			switch h264.NALUType(n[0] & 0x1F) {
			case h264.NALUTypeSPS:
				cfg.SPS = cloneBytes(n)
				continue
			case h264.NALUTypePPS:
				cfg.PPS = cloneBytes(n)
				continue
			}
		case VideoCodecH265:
			switch h265.NALUType((n[0] >> 1) & 0x3F) {
			case h265.NALUType_VPS_NUT:
				cfg.VPS = cloneBytes(n)
				continue
			case h265.NALUType_SPS_NUT:
				cfg.SPS = cloneBytes(n)
				continue
			case h265.NALUType_PPS_NUT:
				cfg.PPS = cloneBytes(n)
				continue
			}
		}
		rest = append(rest, n)
	}
	return cfg, rest
}

// isRandomAccess reports whether length-prefixed NAL units contain an IDR
// (H.264) or IRAP (H.265) picture.
func isRandomAccess(codec VideoCodec, nalus [][]byte) bool {
	for _, n := range nalus {
		if len(n) == 0 {
			continue
		}
		switch codec {
		case VideoCodecH264:
			if h264.NALUType(n[0]&0x1F) == h264.NALUTypeIDR {
				return true
			}
		case VideoCodecH265:
			if t := (n[0] >> 1) & 0x3F; t >= 16 && t <= 21 {
				return true
			}
		}
	}
	return false
}

// prependParameterSets puts the configuration in-band in front of a
// length-prefixed keyframe so a decoder can reconfigure mid-stream.
func prependParameterSets(sample []byte, cfg CodecConfig) []byte {
	sets := make([][]byte, 0, 3)
	for _, ps := range [][]byte{cfg.VPS, cfg.SPS, cfg.PPS} {
		if len(ps) > 0 {
			sets = append(sets, ps)
		}
	}
	if len(sets) == 0 || len(sample) == 0 {
		return sample
	}
	head := joinLengthPrefixed(sets)
	out := make([]byte, 0, len(head)+len(sample))
	out = append(out, head...)
	return append(out, sample...)
}

// videoKeyframe classifies a compressed payload of the given codec.
func videoKeyframe(codec VideoCodec, data []byte) bool {
	switch codec {
	case VideoCodecH264, VideoCodecH265:
		nalus, err := splitLengthPrefixed(data)
		if err != nil {
			return false
		}
		return isRandomAccess(codec, nalus)
	case VideoCodecVP8:
		return isVP8Keyframe(data)
	case VideoCodecVP9:
		return isVP9Keyframe(data)
	case VideoCodecAV1:
		return isAV1Keyframe(data)
	default:
		return false
	}
}
