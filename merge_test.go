package mediakit

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTargetSignature(t *testing.T) {
	a := Signature{Codec: VideoCodecH264, Width: 1920, Height: 1080, FrameRate: 30, ConfigFingerprint: "a"}
	b := Signature{Codec: VideoCodecH264, Width: 1280, Height: 720, FrameRate: 30, ConfigFingerprint: "b"}
	vp8 := Signature{Codec: VideoCodecVP8, Width: 640, Height: 480, FrameRate: 25}

	tests := []struct {
		name string
		sigs []Signature
		want Signature
	}{
		{"majority", []Signature{a, a, b}, a},
		{"majority last", []Signature{a, b, b}, b},
		{"tie goes to first seen", []Signature{b, a}, b},
		{"single", []Signature{a}, a},
		{"unmuxable majority", []Signature{vp8, vp8, a}, Signature{Codec: VideoCodecH264, Width: 640, Height: 480, FrameRate: 25}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := TargetSignature(tt.sigs)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := TargetSignature(nil)
	assert.True(t, errors.Is(err, ErrInvalidArgument))
}

func TestComputeSignature(t *testing.T) {
	dir := t.TempDir()
	r, err := OpenReader(writeTestMP4(t, dir, "a.mp4", 30, 10, true))
	require.NoError(t, err)
	defer r.Close()

	sig, err := ComputeSignature(r)
	require.NoError(t, err)
	assert.Equal(t, VideoCodecH264, sig.Codec)
	assert.Equal(t, 1920, sig.Width)
	assert.Equal(t, 1080, sig.Height)
	assert.InDelta(t, 30, sig.FrameRate, 0.01)
	assert.Equal(t, CodecConfig{SPS: testSPS, PPS: testPPS}.Fingerprint(), sig.ConfigFingerprint)

	ivf := filepath.Join(dir, "v.ivf")
	writeTestIVF(t, ivf, 30, 10)
	r2, err := OpenReader(ivf)
	require.NoError(t, err)
	defer r2.Close()
	sig2, err := ComputeSignature(r2)
	require.NoError(t, err)
	assert.Equal(t, VideoCodecVP8, sig2.Codec)
	assert.NotEqual(t, sig, sig2)
}

func TestMerge_Passthrough(t *testing.T) {
	dir := t.TempDir()
	a := writeTestMP4(t, dir, "a.mp4", 30, 10, true)
	out := filepath.Join(dir, "merged.mp4")

	m := NewMerger(nil, MergeOptions{Output: out, TempDir: dir})
	report, err := m.Merge(context.Background(), []string{a, a})
	require.NoError(t, err)
	assert.Empty(t, report.Warnings)
	assert.Zero(t, report.Frames)
	assert.InDelta(t, 2*time.Second, report.Duration, float64(100*time.Millisecond))

	r, err := OpenReader(out)
	require.NoError(t, err)
	defer r.Close()
	require.Len(t, r.Tracks(), 2)
	assert.Equal(t, 60, countSamples(t, r, 0))
	assert.Equal(t, 2*(30*48000/30/1024), countSamples(t, r, 1))
}

func TestMerge_ReencodesMinority(t *testing.T) {
	dir := t.TempDir()
	tmp := t.TempDir()
	a := writeTestMP4(t, dir, "a.mp4", 30, 10, true)
	b := writeTestMP4With(t, dir, "b.mp4", videoTrackSized(1280, 720), 30, 10, true)
	out := filepath.Join(dir, "merged.mp4")

	p := newFakePlatform()
	m := NewMerger(p, MergeOptions{
		Output:          out,
		TempDir:         tmp,
		DrainTimeout:    time.Millisecond,
		MaxFlushRetries: 5,
	})

	plan, err := m.Plan([]string{a, a, b})
	require.NoError(t, err)
	assert.Equal(t, plan.Signatures[0], plan.Target)
	assert.Equal(t, []MergeDecision{MergePassthrough, MergePassthrough, MergeReencode}, plan.Decisions)
	assert.Equal(t, 1, plan.Reencodes())

	report, err := m.Merge(context.Background(), []string{a, a, b})
	require.NoError(t, err)
	assert.Equal(t, 30, report.Frames)
	assert.Equal(t, 1920, report.Width)
	assert.Equal(t, 1080, report.Height)
	assert.InDelta(t, 3*time.Second, report.Duration, float64(100*time.Millisecond))
	require.Len(t, p.encoders, 1)
	assert.Equal(t, 1920, p.encoders[0].cfg.Width)
	assert.Equal(t, 1080, p.encoders[0].cfg.Height)

	entries, err := os.ReadDir(tmp)
	require.NoError(t, err)
	assert.Empty(t, entries, "re-encoded intermediates are removed")

	r, err := OpenReader(out)
	require.NoError(t, err)
	defer r.Close()
	videoTracks := 0
	for _, tr := range r.Tracks() {
		if tr.IsVideo() {
			videoTracks++
		}
	}
	assert.Equal(t, 1, videoTracks)
	sig, err := ComputeSignature(r)
	require.NoError(t, err)
	assert.Equal(t, plan.Target.Width, sig.Width)
	assert.Equal(t, plan.Target.Height, sig.Height)
	assert.Equal(t, plan.Target.ConfigFingerprint, sig.ConfigFingerprint)

	// The re-encoded segment carries its own parameter sets in-band.
	require.NoError(t, r.SelectTrack(0))
	var samples []*Sample
	for {
		s, err := r.ReadSample()
		if err != nil {
			break
		}
		samples = append(samples, s)
	}
	require.Len(t, samples, 90)
	first, err := splitLengthPrefixed(samples[0].Data)
	require.NoError(t, err)
	assert.Len(t, first, 1, "passthrough segment is untouched")
	joined, err := splitLengthPrefixed(samples[60].Data)
	require.NoError(t, err)
	require.Len(t, joined, 3)
	assert.Equal(t, buildTestSPS(1920, 1080), joined[0])
	for i := 1; i < len(samples); i++ {
		assert.Greater(t, samples[i].PTS, samples[i-1].PTS)
	}
}

func TestMerge_Errors(t *testing.T) {
	dir := t.TempDir()
	a := writeTestMP4(t, dir, "a.mp4", 10, 5, false)
	b := writeTestMP4With(t, dir, "b.mp4", videoTrackSized(640, 480), 10, 5, false)
	out := filepath.Join(dir, "merged.mp4")

	_, err := NewMerger(nil, MergeOptions{Output: out}).Merge(context.Background(), nil)
	assert.True(t, errors.Is(err, ErrInvalidArgument))

	_, err = NewMerger(nil, MergeOptions{Output: out}).Merge(context.Background(), []string{a, filepath.Join(dir, "missing.mp4")})
	assert.True(t, errors.Is(err, ErrIO))

	_, err = NewMerger(nil, MergeOptions{Output: out, TempDir: dir}).Merge(context.Background(), []string{a, b})
	assert.True(t, errors.Is(err, ErrCapability))
	assertNoFile(t, out)
}
