package mediakit

import (
	"bytes"
	"testing"
)

func TestDetectVideoCodec(t *testing.T) {
	ivf := func(fourcc string) []byte {
		h := make([]byte, 32)
		copy(h, "DKIF")
		copy(h[8:], fourcc)
		return h
	}

	tests := []struct {
		name     string
		data     []byte
		expected VideoCodec
	}{
		{"H264 4-byte start code with SPS", []byte{0x00, 0x00, 0x00, 0x01, 0x67, 0x42, 0x00, 0x1e}, VideoCodecH264},
		{"H264 4-byte start code with IDR", []byte{0x00, 0x00, 0x00, 0x01, 0x65, 0x00, 0x00, 0x00}, VideoCodecH264},
		{"H264 3-byte start code with slice", []byte{0x00, 0x00, 0x01, 0x41, 0x9a, 0x00, 0x00, 0x00}, VideoCodecH264},
		{"H264 access unit delimiter", []byte{0x00, 0x00, 0x00, 0x01, 0x09, 0xf0, 0x00, 0x00}, VideoCodecH264},
		{"H265 VPS", []byte{0x00, 0x00, 0x00, 0x01, 0x40, 0x01, 0x0c, 0x01}, VideoCodecH265},
		{"H265 SPS", []byte{0x00, 0x00, 0x01, 0x42, 0x01, 0x01, 0x01, 0x60}, VideoCodecH265},
		{"IVF VP8", ivf("VP80"), VideoCodecVP8},
		{"IVF VP9", ivf("VP90"), VideoCodecVP9},
		{"IVF AV1", ivf("AV01"), VideoCodecAV1},
		{"IVF unknown fourcc", ivf("XXXX"), VideoCodecUnknown},
		{"MP4 ftyp", []byte{0x00, 0x00, 0x00, 0x18, 'f', 't', 'y', 'p'}, VideoCodecUnknown},
		{"too short", []byte{0x00, 0x00}, VideoCodecUnknown},
		{"empty", nil, VideoCodecUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DetectVideoCodec(tt.data)
			if got != tt.expected {
				t.Errorf("DetectVideoCodec() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestIsAnnexBStartCode(t *testing.T) {
	tests := []struct {
		data     []byte
		expected bool
	}{
		{[]byte{0x00, 0x00, 0x00, 0x01}, true},
		{[]byte{0x00, 0x00, 0x01, 0x67}, true},
		{[]byte{0x00, 0x00, 0x02, 0x67}, false},
		{[]byte{0x00, 0x00, 0x01}, false},
	}

	for _, tt := range tests {
		if got := isAnnexBStartCode(tt.data); got != tt.expected {
			t.Errorf("isAnnexBStartCode(%x) = %v, want %v", tt.data, got, tt.expected)
		}
	}
}

func TestIsVP8Keyframe(t *testing.T) {
	tests := []struct {
		name     string
		data     []byte
		expected bool
	}{
		{"valid keyframe", []byte{0x00, 0x00, 0x00, 0x9D, 0x01, 0x2A, 0x00, 0x00, 0x00, 0x00}, true},
		{"interframe (bit 0 set)", []byte{0x01, 0x00, 0x00, 0x9D, 0x01, 0x2A, 0x00, 0x00, 0x00, 0x00}, false},
		{"wrong start code", []byte{0x00, 0x00, 0x00, 0x9E, 0x01, 0x2A, 0x00, 0x00, 0x00, 0x00}, false},
		{"too short", []byte{0x00, 0x00, 0x00, 0x9D, 0x01}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isVP8Keyframe(tt.data); got != tt.expected {
				t.Errorf("isVP8Keyframe() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestIsVP9Keyframe(t *testing.T) {
	tests := []struct {
		name     string
		data     []byte
		expected bool
	}{
		{"profile 0 keyframe", []byte{0x82, 0x49, 0x83}, true},
		{"profile 0 interframe", []byte{0x86, 0x00, 0x00}, false},
		{"show existing frame", []byte{0x88, 0x00, 0x00}, false},
		{"profile 3 keyframe", []byte{0xB0, 0x00, 0x00}, true},
		{"profile 3 interframe", []byte{0xB2, 0x00, 0x00}, false},
		{"bad frame marker", []byte{0x42, 0x00, 0x00}, false},
		{"empty", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isVP9Keyframe(tt.data); got != tt.expected {
				t.Errorf("isVP9Keyframe() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestIsAV1Keyframe(t *testing.T) {
	tests := []struct {
		name     string
		data     []byte
		expected bool
	}{
		{"temporal delimiter then sequence header", []byte{0x12, 0x00, 0x0A, 0x01, 0xAA}, true},
		{"temporal delimiter then frame", []byte{0x12, 0x00, 0x32, 0x01, 0x00}, false},
		{"forbidden bit", []byte{0x8A, 0x00}, false},
		{"size overruns", []byte{0x12, 0x05, 0x00}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isAV1Keyframe(tt.data); got != tt.expected {
				t.Errorf("isAV1Keyframe() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestAnnexBLengthPrefixedConversion(t *testing.T) {
	annexB := []byte{0x00, 0x00, 0x00, 0x01, 0x67, 0x42, 0x00, 0x00, 0x00, 0x01, 0x68, 0xCE}
	avcc := []byte{0x00, 0x00, 0x00, 0x02, 0x67, 0x42, 0x00, 0x00, 0x00, 0x02, 0x68, 0xCE}

	got, err := annexBToLengthPrefixed(annexB)
	if err != nil {
		t.Fatalf("annexBToLengthPrefixed() error = %v", err)
	}
	if !bytes.Equal(got, avcc) {
		t.Errorf("annexBToLengthPrefixed() = %x, want %x", got, avcc)
	}

	back, err := lengthPrefixedToAnnexB(avcc)
	if err != nil {
		t.Fatalf("lengthPrefixedToAnnexB() error = %v", err)
	}
	if !bytes.Equal(back, annexB) {
		t.Errorf("lengthPrefixedToAnnexB() = %x, want %x", back, annexB)
	}

	if _, err := splitLengthPrefixed([]byte{0x00, 0x00, 0x00, 0x09, 0x65}); err == nil {
		t.Error("splitLengthPrefixed() accepted an overrunning length")
	}
}

func TestParameterSetsAndRandomAccess(t *testing.T) {
	sps := []byte{0x67, 0x42, 0xC0, 0x1E}
	pps := []byte{0x68, 0xCE, 0x3C, 0x80}
	idr := []byte{0x65, 0x88, 0x84}
	slice := []byte{0x41, 0x9A, 0x02}

	cfg, rest := parameterSets(VideoCodecH264, [][]byte{sps, pps, idr})
	if !bytes.Equal(cfg.SPS, sps) || !bytes.Equal(cfg.PPS, pps) {
		t.Errorf("parameterSets() = %+v, want SPS/PPS split out", cfg)
	}
	if len(rest) != 1 || !bytes.Equal(rest[0], idr) {
		t.Errorf("parameterSets() rest = %x, want only the IDR slice", rest)
	}

	if !isRandomAccess(VideoCodecH264, [][]byte{idr}) {
		t.Error("isRandomAccess(IDR) = false, want true")
	}
	if isRandomAccess(VideoCodecH264, [][]byte{slice}) {
		t.Error("isRandomAccess(non-IDR) = true, want false")
	}

	key := joinLengthPrefixed([][]byte{idr})
	withSets := prependParameterSets(key, cfg)
	nalus, err := splitLengthPrefixed(withSets)
	if err != nil {
		t.Fatalf("splitLengthPrefixed() error = %v", err)
	}
	if len(nalus) != 3 || !bytes.Equal(nalus[0], sps) || !bytes.Equal(nalus[2], idr) {
		t.Errorf("prependParameterSets() nal units = %x", nalus)
	}
	if !videoKeyframe(VideoCodecH264, withSets) {
		t.Error("videoKeyframe() = false for IDR access unit")
	}
	if got := prependParameterSets(key, CodecConfig{}); !bytes.Equal(got, key) {
		t.Error("prependParameterSets() with empty config modified the sample")
	}
}
