package mediakit

import (
	"context"
	"image"
	"image/color"
	"image/draw"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestCompositor binds a compositor to a configured fake encoder.
func newTestCompositor(t *testing.T, p *fakePlatform, width, height int, timeout time.Duration) (*Compositor, *fakeBackend) {
	t.Helper()
	enc, err := p.NewEncoder(VideoCodecH264)
	require.NoError(t, err)
	require.NoError(t, enc.Configure(EncoderConfig{Codec: VideoCodecH264, Width: width, Height: height}.withDefaults()))
	rb, err := p.NewRenderBackend()
	require.NoError(t, err)
	c, err := NewCompositor(rb, enc.InputSurface(), CompositorConfig{Width: width, Height: height, FrameTimeout: timeout})
	require.NoError(t, err)
	t.Cleanup(func() { c.Release() })
	return c, rb.(*fakeBackend)
}

func TestOverlayUniforms(t *testing.T) {
	tests := []struct {
		name             string
		x, y, ow, oh     int
		vw, vh           int
		wantPos, wantSiz [2]float32
	}{
		{"top-left", 0, 0, 100, 50, 1000, 500, [2]float32{0, 0.9}, [2]float32{0.1, 0.1}},
		{"bottom-right", 900, 450, 100, 50, 1000, 500, [2]float32{0.9, 0}, [2]float32{0.1, 0.1}},
		{"full frame", 0, 0, 640, 480, 640, 480, [2]float32{0, 0}, [2]float32{1, 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pos, size := overlayUniforms(tt.x, tt.y, tt.ow, tt.oh, tt.vw, tt.vh)
			assert.InDelta(t, tt.wantPos[0], pos[0], 1e-6)
			assert.InDelta(t, tt.wantPos[1], pos[1], 1e-6)
			assert.InDelta(t, tt.wantSiz[0], size[0], 1e-6)
			assert.InDelta(t, tt.wantSiz[1], size[1], 1e-6)
		})
	}
}

func TestCompositor_RenderWithOverlay(t *testing.T) {
	p := newFakePlatform()
	c, rb := newTestCompositor(t, p, 1920, 1080, 0)

	asset := &OverlayAsset{Image: image.NewRGBA(image.Rect(0, 0, 200, 50)), Width: 200, Height: 50}
	require.NoError(t, c.SetOverlay(asset))

	window, err := c.FrameInput(1920, 1080)
	require.NoError(t, err)
	surface := p.lookup(window).(*fakeFrameSurface)
	surface.push(40_000_000)

	x, y := ResolveOverlayPosition(AnchorBottomRight, 1920, 1080, 200, 50, 0)
	ts, err := c.RenderVideoFrameWithOverlay(context.Background(), x, y)
	require.NoError(t, err)
	assert.Equal(t, int64(40_000), ts)

	wantPos, wantSize := overlayUniforms(x, y, 200, 50, 1920, 1080)
	assert.Equal(t, wantPos, rb.gl.uniform2["uOverlayPos"])
	assert.Equal(t, wantSize, rb.gl.uniform2["uOverlaySize"])
	assert.Equal(t, int32(1), rb.gl.uniform1["uHasOverlay"])
	assert.InDelta(t, 0, wantPos[1], 1e-6, "bottom anchor maps to the bottom edge")
}

func TestCompositor_RenderWithoutOverlaySet(t *testing.T) {
	c, _ := newTestCompositor(t, newFakePlatform(), 640, 480, 0)
	_, err := c.RenderVideoFrameWithOverlay(context.Background(), 0, 0)
	require.Error(t, err)
}

func TestCompositor_FrameTimeout(t *testing.T) {
	c, _ := newTestCompositor(t, newFakePlatform(), 640, 480, 20*time.Millisecond)
	_, err := c.FrameInput(640, 480)
	require.NoError(t, err)

	start := time.Now()
	_, err = c.RenderVideoFrame(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrFrameTimeout))
	assert.Less(t, time.Since(start), time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	c2, _ := newTestCompositor(t, newFakePlatform(), 640, 480, time.Minute)
	_, err = c2.FrameInput(640, 480)
	require.NoError(t, err)
	_, err = c2.RenderVideoFrame(ctx)
	assert.True(t, errors.Is(err, ErrFrameTimeout))
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestCompositor_CallbackBurstCollapses(t *testing.T) {
	p := newFakePlatform()
	c, _ := newTestCompositor(t, p, 640, 480, 20*time.Millisecond)
	window, err := c.FrameInput(640, 480)
	require.NoError(t, err)
	surface := p.lookup(window).(*fakeFrameSurface)

	// Three callbacks fired before anyone waits leave one pending signal.
	surface.push(1000)
	surface.push(2000)
	surface.push(3000)
	_, err = c.RenderVideoFrame(context.Background())
	require.NoError(t, err)
	_, err = c.RenderVideoFrame(context.Background())
	assert.True(t, errors.Is(err, ErrFrameTimeout))
}

func TestCompositor_CommitOrder(t *testing.T) {
	p := newFakePlatform()
	c, rb := newTestCompositor(t, p, 640, 480, 0)
	img := image.NewRGBA(image.Rect(0, 0, 64, 48))
	draw.Draw(img, img.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
	require.NoError(t, c.LoadStaticImage(img))
	require.NoError(t, c.RenderStaticImage())
	require.NoError(t, c.Commit(33_333_000))

	assert.Equal(t, []string{"pts", "finish", "swap"}, p.log.list())
	assert.Equal(t, int64(33_333_000), rb.ptsNs)
	assert.Equal(t, 1, rb.encoder.frames)
}

func TestCompositor_StaticImageRequired(t *testing.T) {
	c, _ := newTestCompositor(t, newFakePlatform(), 640, 480, 0)
	require.Error(t, c.RenderStaticImage())
	assert.True(t, errors.Is(c.LoadStaticImage(nil), ErrInvalidArgument))
}

func TestCompositor_ReleaseIdempotent(t *testing.T) {
	p := newFakePlatform()
	c, rb := newTestCompositor(t, p, 640, 480, 0)
	_, err := c.FrameInput(640, 480)
	require.NoError(t, err)

	require.NoError(t, c.Release())
	require.NoError(t, c.Release())
	assert.Equal(t, 1, rb.releasedCount)
	assert.Equal(t, 1, p.log.count("surface.release"))
	assert.Positive(t, rb.gl.deleted)
}

func TestCompositor_BindFailure(t *testing.T) {
	p := newFakePlatform()
	p.bindErr = errors.New("eglCreateWindowSurface failed")
	rb, err := p.NewRenderBackend()
	require.NoError(t, err)

	_, err = NewCompositor(rb, 0x42, CompositorConfig{Width: 640, Height: 480})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrSurface))
	assert.Equal(t, 1, rb.(*fakeBackend).releasedCount)
}

func TestCompositor_SetupGLError(t *testing.T) {
	p := newFakePlatform()
	enc, err := p.NewEncoder(VideoCodecH264)
	require.NoError(t, err)
	require.NoError(t, enc.Configure(EncoderConfig{Codec: VideoCodecH264, Width: 640, Height: 480}.withDefaults()))
	rb, err := p.NewRenderBackend()
	require.NoError(t, err)
	rb.(*fakeBackend).gl.errCode = 0x0505

	_, err = NewCompositor(rb, enc.InputSurface(), CompositorConfig{Width: 640, Height: 480})
	assert.True(t, errors.Is(err, ErrSurface))
}
