package mediakit

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// 1920x1080 baseline SPS.
var testSPS = []byte{
	0x67, 0x42, 0xc0, 0x28, 0xd9, 0x00, 0x78, 0x02,
	0x27, 0xe5, 0x84, 0x00, 0x00, 0x03, 0x00, 0x04,
	0x00, 0x00, 0x03, 0x00, 0xf0, 0x3c, 0x60, 0xc9,
	0x20,
}

var testPPS = []byte{0x68, 0xce, 0x38, 0x80}

var testIDR = []byte{0x65, 0x88, 0x84, 0x00, 0x10}

var testPFrame = []byte{0x41, 0x9a, 0x24, 0x8c, 0x09}

// AAC-LC, 48 kHz, stereo.
var testASC = []byte{0x11, 0x90}

func testVideoTrack() TrackDescriptor {
	return TrackDescriptor{
		Kind:       KindVideo,
		VideoCodec: VideoCodecH264,
		Width:      1920,
		Height:     1080,
		FrameRate:  30,
		Config:     CodecConfig{SPS: testSPS, PPS: testPPS},
	}
}

func testAudioTrack() TrackDescriptor {
	return TrackDescriptor{
		Kind:       KindAudio,
		AudioCodec: AudioCodecAAC,
		SampleRate: 48000,
		Channels:   2,
		Config:     CodecConfig{AudioSpecificConfig: testASC},
	}
}

func videoSample(i int, key bool) *Sample {
	nalu := testPFrame
	flags := SampleFlags(0)
	if key {
		nalu = testIDR
		flags = SampleFlagKeyframe
	}
	return &Sample{
		Data:  joinLengthPrefixed([][]byte{nalu}),
		PTS:   int64(i) * 1_000_000 / 30,
		Flags: flags,
	}
}

func audioSample(i int) *Sample {
	return &Sample{
		Data: []byte{0x21, 0x10, 0x04, 0x60, 0x8c, 0x1c},
		PTS:  int64(i) * 1024 * 1_000_000 / 48000,
	}
}

// writeTestMP4 muxes frames of video (keyframe every gop) and audio
// covering the same span into a file under dir.
func writeTestMP4(t *testing.T, dir, name string, frames, gop int, withAudio bool) string {
	t.Helper()
	return writeTestMP4With(t, dir, name, testVideoTrack(), frames, gop, withAudio)
}

// videoTrackSized is the test video track at another resolution.
func videoTrackSized(width, height int) TrackDescriptor {
	desc := testVideoTrack()
	desc.Width, desc.Height = width, height
	desc.Config.SPS = buildTestSPS(width, height)
	return desc
}

// writeTestMP4With is writeTestMP4 with a custom video track.
func writeTestMP4With(t *testing.T, dir, name string, video TrackDescriptor, frames, gop int, withAudio bool) string {
	t.Helper()
	path := filepath.Join(dir, name)
	m := NewMuxer(path, MuxerConfig{FragmentDuration: 500 * time.Millisecond})
	v, err := m.AddTrack(video)
	require.NoError(t, err)
	a := -1
	if withAudio {
		a, err = m.AddTrack(testAudioTrack())
		require.NoError(t, err)
	}
	require.NoError(t, m.Start())

	audioFrames := 0
	if withAudio {
		audioFrames = frames * 48000 / 30 / 1024
	}
	ai := 0
	for i := 0; i < frames; i++ {
		vs := videoSample(i, i%gop == 0)
		for ai < audioFrames && audioSample(ai).PTS <= vs.PTS {
			require.NoError(t, m.WriteSample(a, audioSample(ai)))
			ai++
		}
		require.NoError(t, m.WriteSample(v, vs))
	}
	for ; ai < audioFrames; ai++ {
		require.NoError(t, m.WriteSample(a, audioSample(ai)))
	}
	require.NoError(t, m.Stop())
	require.NoError(t, m.Release())
	return path
}

// writeTestIVF writes a VP8 IVF file with a keyframe every gop frames.
func writeTestIVF(t *testing.T, path string, frames, gop int) {
	t.Helper()
	buf := make([]byte, ivfFileHeaderSize)
	copy(buf, "DKIF")
	binary.LittleEndian.PutUint16(buf[4:], 0)
	binary.LittleEndian.PutUint16(buf[6:], ivfFileHeaderSize)
	copy(buf[8:], "VP80")
	binary.LittleEndian.PutUint16(buf[12:], 640)
	binary.LittleEndian.PutUint16(buf[14:], 480)
	binary.LittleEndian.PutUint32(buf[16:], 30) // timebase denominator
	binary.LittleEndian.PutUint32(buf[20:], 1)  // timebase numerator
	binary.LittleEndian.PutUint32(buf[24:], uint32(frames))

	for i := 0; i < frames; i++ {
		frame := []byte{0x01, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00}
		if i%gop == 0 {
			frame = []byte{0x00, 0x00, 0x00, 0x9D, 0x01, 0x2A, 0x80, 0x02, 0xE0, 0x01}
		}
		hdr := make([]byte, ivfFrameHeaderSize)
		binary.LittleEndian.PutUint32(hdr[0:], uint32(len(frame)))
		binary.LittleEndian.PutUint64(hdr[4:], uint64(i))
		buf = append(buf, hdr...)
		buf = append(buf, frame...)
	}
	require.NoError(t, os.WriteFile(path, buf, 0o644))
}

// writeTestAnnexB writes a raw H.264 stream of frames access units.
func writeTestAnnexB(t *testing.T, path string, frames, gop int) {
	t.Helper()
	sc := []byte{0x00, 0x00, 0x00, 0x01}
	var buf []byte
	for i := 0; i < frames; i++ {
		if i%gop == 0 {
			buf = append(append(buf, sc...), testSPS...)
			buf = append(append(buf, sc...), testPPS...)
			buf = append(append(buf, sc...), testIDR...)
		} else {
			buf = append(append(buf, sc...), testPFrame...)
		}
	}
	require.NoError(t, os.WriteFile(path, buf, 0o644))
}
