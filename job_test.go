package mediakit

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/hashicorp/go-hclog"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsValidTransition(t *testing.T) {
	tests := []struct {
		from, to JobState
		want     bool
	}{
		{JobInit, JobFeedingDecoder, true},
		{JobInit, JobDrainingDecoder, true},
		{JobInit, JobDone, false},
		{JobFeedingDecoder, JobDrainingDecoder, true},
		{JobDrainingDecoder, JobFeedingDecoder, true},
		{JobDrainingDecoder, JobEncoderEOSSignaled, true},
		{JobEncoderEOSSignaled, JobDrainingEncoder, true},
		{JobEncoderEOSSignaled, JobFeedingDecoder, false},
		{JobDrainingEncoder, JobMuxFinalize, true},
		{JobMuxFinalize, JobDone, true},
		{JobMuxFinalize, JobError, true},
		{JobDone, JobError, false},
		{JobError, JobInit, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, isValidTransition(tt.from, tt.to), "%s -> %s", tt.from, tt.to)
	}
}

func TestJobMachine_InvalidTransition(t *testing.T) {
	m := jobMachine{log: hclog.NewNullLogger()}
	require.NoError(t, m.transition(JobFeedingDecoder))
	require.NoError(t, m.transition(JobFeedingDecoder), "staying put is allowed")

	err := m.transition(JobMuxFinalize)
	require.Error(t, err)
	assert.Equal(t, KindInternal, KindOf(err))
	assert.Equal(t, JobFeedingDecoder, m.state)

	require.NoError(t, m.transition(JobError))
	assert.True(t, m.state.Terminal())
	assert.Equal(t, "error", m.state.String())
}

func TestJobResources_Teardown(t *testing.T) {
	p := newFakePlatform()
	c, _ := newTestCompositor(t, p, 640, 480, 0)
	dec := &fakeDecoder{platform: p}
	enc, err := p.NewEncoder(VideoCodecH264)
	require.NoError(t, err)

	dir := t.TempDir()
	tmp := filepath.Join(dir, "partial.mp4")
	require.NoError(t, os.WriteFile(tmp, []byte("partial"), 0o644))

	res := jobResources{
		compositor: c,
		decoder:    dec,
		encoder:    enc,
		muxer:      NewMuxer(filepath.Join(dir, "never-started.mp4"), MuxerConfig{}),
		tempFiles:  []string{tmp, filepath.Join(dir, "missing.mp4")},
	}
	require.NoError(t, res.teardown(hclog.NewNullLogger()))

	assert.Equal(t, []string{"compositor.release", "decoder.release", "encoder.release"}, p.log.list())
	assertNoFile(t, tmp)
	assert.Nil(t, res.compositor)
	assert.Nil(t, res.muxer)

	// A second teardown has nothing left to release.
	require.NoError(t, res.teardown(hclog.NewNullLogger()))
	assert.Len(t, p.log.list(), 3)
}

// failingEncoder reports a release failure.
type failingEncoder struct{ fakeEncoder }

func (e *failingEncoder) Release() error { return errors.New("codec stuck") }

func TestJobResources_TeardownCollectsErrors(t *testing.T) {
	p := newFakePlatform()
	res := jobResources{
		decoder: &fakeDecoder{platform: p},
		encoder: &failingEncoder{fakeEncoder{platform: p}},
	}
	err := res.teardown(hclog.NewNullLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "encoder: codec stuck")
	assert.Equal(t, []string{"decoder.release"}, p.log.list())
}

func TestEncodeSession(t *testing.T) {
	newSession := func(t *testing.T) (*encodeSession, *Muxer) {
		m := NewMuxer(filepath.Join(t.TempDir(), "out.mp4"), MuxerConfig{})
		t.Cleanup(func() { m.Release() })
		return newEncodeSession(&fakeEncoder{}, m, hclog.NewNullLogger()), m
	}
	format := EncoderOutput{Kind: EncoderFormatChanged, Format: testVideoTrack()}

	t.Run("sample before format", func(t *testing.T) {
		s, _ := newSession(t)
		_, err := s.handle(EncoderOutput{Kind: EncoderSample, Sample: videoSample(0, true)})
		assert.True(t, errors.Is(err, ErrMuxerState))
	})

	t.Run("second format change", func(t *testing.T) {
		s, m := newSession(t)
		_, err := s.handle(format)
		require.NoError(t, err)
		assert.Equal(t, MuxerStarted, m.State())
		_, err = s.handle(format)
		assert.True(t, errors.Is(err, ErrMuxerState))
	})

	t.Run("config and eos", func(t *testing.T) {
		s, m := newSession(t)
		_, err := s.handle(format)
		require.NoError(t, err)
		_, err = s.handle(EncoderOutput{Kind: EncoderSample, Sample: &Sample{Data: testSPS, Flags: SampleFlagCodecConfig}})
		require.NoError(t, err)
		for i := 0; i < 3; i++ {
			_, err = s.handle(EncoderOutput{Kind: EncoderSample, Sample: videoSample(i, i == 0)})
			require.NoError(t, err)
		}
		_, err = s.handle(EncoderOutput{Kind: EncoderSample, Sample: &Sample{Flags: SampleFlagEndOfStream}})
		require.NoError(t, err)
		assert.True(t, s.done)
		assert.Equal(t, 3, s.samples)
		require.NoError(t, m.Stop())
	})

	t.Run("onFormat joins before start", func(t *testing.T) {
		s, m := newSession(t)
		s.onFormat = func(TrackDescriptor) error {
			assert.Equal(t, MuxerIdle, m.State())
			_, err := m.AddTrack(testAudioTrack())
			return err
		}
		_, err := s.handle(format)
		require.NoError(t, err)
		assert.Equal(t, MuxerStarted, m.State())
	})

	t.Run("flush bound", func(t *testing.T) {
		s, _ := newSession(t)
		require.NoError(t, s.flush(0, 3))
		require.Len(t, s.warnings, 1)
		assert.Equal(t, WarnEncoderFlushIncomplete, s.warnings[0].Code)
	})
}
