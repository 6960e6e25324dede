package mediakit

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// reorderedFrame is one sample in decode order with its presentation slot.
type reorderedFrame struct {
	slot int
	key  bool
}

// I P B P B P: each P is presented after the B decoded right after it.
var reorderedGOP = []reorderedFrame{
	{0, true}, {2, false}, {1, false}, {4, false}, {3, false}, {5, false},
}

const reorderedFrameUs = 40_000

func writeReorderedMP4(t *testing.T, path string) {
	t.Helper()
	m := NewMuxer(path, MuxerConfig{})
	idx, err := m.AddTrack(testVideoTrack())
	require.NoError(t, err)
	require.NoError(t, m.Start())
	for i, f := range reorderedGOP {
		s := videoSample(0, f.key)
		dts := int64(i) * reorderedFrameUs
		s.PTS = int64(f.slot+1) * reorderedFrameUs
		s.CompositionOffset = s.PTS - dts
		require.NoError(t, m.WriteSample(idx, s))
	}
	require.NoError(t, m.Stop())
	require.NoError(t, m.Release())
}

func readVideoSamples(t *testing.T, path string) []*Sample {
	t.Helper()
	r, err := OpenReader(path)
	require.NoError(t, err)
	defer r.Close()
	require.NoError(t, r.SelectTrack(FindTrack(r, KindVideo)))

	var out []*Sample
	for {
		s, err := r.ReadSample()
		if err != nil {
			break
		}
		out = append(out, s)
	}
	return out
}

func TestCopyTrack_KeepsCompositionOffsets(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.mp4")
	writeReorderedMP4(t, src)

	source := readVideoSamples(t, src)
	require.Len(t, source, len(reorderedGOP))
	for i, s := range source {
		assert.Equal(t, int64(i)*reorderedFrameUs, s.DTS(), "source dts %d", i)
		assert.Equal(t, int64(reorderedGOP[i].slot+1)*reorderedFrameUs, s.PTS, "source pts %d", i)
	}

	r, err := OpenReader(src)
	require.NoError(t, err)
	defer r.Close()

	dst := filepath.Join(dir, "dst.mp4")
	m := NewMuxer(dst, MuxerConfig{})
	idx, err := m.AddTrack(r.Tracks()[FindTrack(r, KindVideo)])
	require.NoError(t, err)
	require.NoError(t, m.Start())

	var n TimestampNormalizer
	span, err := copyTrack(r, FindTrack(r, KindVideo), m, idx, &n, copyOptions{})
	require.NoError(t, err)
	require.NoError(t, m.Stop())
	require.NoError(t, m.Release())
	assert.Equal(t, int64(len(reorderedGOP))*reorderedFrameUs, span.Microseconds())

	copied := readVideoSamples(t, dst)
	require.Len(t, copied, len(source))
	prev := int64(-1)
	for i, s := range copied {
		assert.Greater(t, s.DTS(), prev, "dts %d increases", i)
		prev = s.DTS()
		assert.Equal(t, source[i].CompositionOffset, s.CompositionOffset, "offset %d", i)
		assert.Equal(t, source[i].PTS-source[0].DTS(), s.PTS, "pts %d", i)
		assert.Equal(t, source[i].IsKeyframe(), s.IsKeyframe())
	}
}

func TestSample_DTS(t *testing.T) {
	tests := []struct {
		name string
		s    Sample
		want int64
	}{
		{"in order", Sample{PTS: 40_000}, 40_000},
		{"reordered", Sample{PTS: 120_000, CompositionOffset: 80_000}, 40_000},
		{"negative offset", Sample{PTS: 0, CompositionOffset: -40_000}, 40_000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.s.DTS())
			assert.Equal(t, tt.s.CompositionOffset, tt.s.Clone().CompositionOffset)
		})
	}
}
