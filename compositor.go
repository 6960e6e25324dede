package mediakit

import (
	"context"
	"image"
	"image/draw"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
)

// DefaultFrameWaitTimeout bounds how long a render waits for the decoder
// to deliver a frame.
const DefaultFrameWaitTimeout = 1500 * time.Millisecond

// CompositorConfig configures a Compositor.
type CompositorConfig struct {
	Width        int           // Viewport width, fixed for the compositor's life
	Height       int           // Viewport height
	FrameTimeout time.Duration // Wait bound for a decoded frame (0 = DefaultFrameWaitTimeout)
	Logger       hclog.Logger
}

// glProgram is a linked program plus the locations the compositor uses.
type glProgram struct {
	id        uint32
	aPosition int32
	aTexCoord int32
	uniforms  map[string]int32
}

// Compositor renders decoded video frames, still images and a text
// overlay into an encoder's input window. All methods except the
// frame-available callback must be called from the goroutine that created
// the compositor, which owns the EGL context.
type Compositor struct {
	config  CompositorConfig
	backend RenderBackend
	gl      GL
	log     hclog.Logger

	videoTex uint32 // GL_TEXTURE_EXTERNAL_OES
	imageTex uint32 // GL_TEXTURE_2D, static image or overlay
	vbo      uint32

	videoProgram *glProgram
	imageProgram *glProgram

	frames     FrameSurface
	frameReady chan struct{}

	overlay     *OverlayAsset
	imageLoaded bool

	releaseOnce sync.Once
	releaseErr  error
}

// NewCompositor binds backend to target and builds the GL resources. Any
// failure releases what was built and returns a surface error.
func NewCompositor(backend RenderBackend, target NativeWindow, config CompositorConfig) (*Compositor, error) {
	const op = "compositor.Create"
	if backend == nil {
		return nil, newError(KindSurface, op, "no render backend")
	}
	if config.Width <= 0 || config.Height <= 0 {
		return nil, newError(KindInvalidArgument, op, "invalid viewport %dx%d", config.Width, config.Height)
	}
	if config.FrameTimeout <= 0 {
		config.FrameTimeout = DefaultFrameWaitTimeout
	}

	c := &Compositor{
		config:     config,
		backend:    backend,
		log:        loggerOr(config.Logger).Named("compositor"),
		frameReady: make(chan struct{}, 1),
	}

	if err := backend.Bind(target, config.Width, config.Height); err != nil {
		c.Release()
		return nil, &Error{Kind: KindSurface, Op: op, Err: err}
	}
	c.gl = backend.GL()
	if err := c.setup(); err != nil {
		c.Release()
		return nil, &Error{Kind: KindSurface, Op: op, Err: err}
	}
	return c, nil
}

func (c *Compositor) setup() error {
	gl := c.gl

	var err error
	if c.videoProgram, err = buildProgram(gl, vertexShaderSource, videoFragmentShaderSource,
		"uTexMatrix", "uVideo", "uOverlay", "uHasOverlay", "uOverlayPos", "uOverlaySize"); err != nil {
		return errors.Wrap(err, "video program")
	}
	if c.imageProgram, err = buildProgram(gl, vertexShaderSource, imageFragmentShaderSource,
		"uTexMatrix", "uImage"); err != nil {
		return errors.Wrap(err, "image program")
	}

	c.videoTex = gl.CreateTexture()
	gl.BindTexture(glTextureExternalOES, c.videoTex)
	setTextureParams(gl, glTextureExternalOES)

	c.imageTex = gl.CreateTexture()
	gl.BindTexture(glTexture2D, c.imageTex)
	setTextureParams(gl, glTexture2D)

	c.vbo = gl.CreateBuffer()
	gl.BindBuffer(glArrayBuffer, c.vbo)
	gl.BufferData(glArrayBuffer, quadData(), glStaticDraw)

	gl.Viewport(0, 0, int32(c.config.Width), int32(c.config.Height))
	if code := gl.GetError(); code != glNoError {
		return errors.Errorf("gl error 0x%x during setup", code)
	}
	return nil
}

func setTextureParams(gl GL, target uint32) {
	gl.TexParameteri(target, glTextureMinFilter, glLinear)
	gl.TexParameteri(target, glTextureMagFilter, glLinear)
	gl.TexParameteri(target, glTextureWrapS, glClampToEdge)
	gl.TexParameteri(target, glTextureWrapT, glClampToEdge)
}

func compileShader(gl GL, typ uint32, source string) (uint32, error) {
	shader := gl.CreateShader(typ)
	if shader == 0 {
		return 0, errors.Errorf("create shader 0x%x failed", typ)
	}
	gl.ShaderSource(shader, source)
	gl.CompileShader(shader)
	if gl.GetShaderiv(shader, glCompileStatus) == 0 {
		info := gl.GetShaderInfoLog(shader)
		gl.DeleteShader(shader)
		return 0, errors.Errorf("compile shader: %s", info)
	}
	return shader, nil
}

func buildProgram(gl GL, vertexSource, fragmentSource string, uniforms ...string) (*glProgram, error) {
	vs, err := compileShader(gl, glVertexShader, vertexSource)
	if err != nil {
		return nil, err
	}
	defer gl.DeleteShader(vs)
	fs, err := compileShader(gl, glFragmentShader, fragmentSource)
	if err != nil {
		return nil, err
	}
	defer gl.DeleteShader(fs)

	id := gl.CreateProgram()
	if id == 0 {
		return nil, errors.New("create program failed")
	}
	gl.AttachShader(id, vs)
	gl.AttachShader(id, fs)
	gl.LinkProgram(id)
	if gl.GetProgramiv(id, glLinkStatus) == 0 {
		info := gl.GetProgramInfoLog(id)
		gl.DeleteProgram(id)
		return nil, errors.Errorf("link program: %s", info)
	}

	p := &glProgram{
		id:        id,
		aPosition: gl.GetAttribLocation(id, "aPosition"),
		aTexCoord: gl.GetAttribLocation(id, "aTexCoord"),
		uniforms:  make(map[string]int32, len(uniforms)),
	}
	for _, name := range uniforms {
		p.uniforms[name] = gl.GetUniformLocation(id, name)
	}
	return p, nil
}

// Size returns the viewport size.
func (c *Compositor) Size() (int, int) { return c.config.Width, c.config.Height }

// FrameInput creates the surface a decoder renders into. Frame-available
// notifications land in a single-slot channel consumed by the render
// calls, so a burst of callbacks collapses into one pending signal.
func (c *Compositor) FrameInput(width, height int) (NativeWindow, error) {
	const op = "compositor.FrameInput"
	if c.frames != nil {
		return c.frames.Window(), nil
	}
	fs, err := c.backend.CreateFrameSurface(width, height)
	if err != nil {
		return 0, wrapError(KindSurface, op, err)
	}
	ready := c.frameReady
	fs.SetOnFrameAvailable(func() {
		select {
		case ready <- struct{}{}:
		default:
		}
	})
	c.frames = fs
	return fs.Window(), nil
}

// LoadStaticImage uploads img as the still frame drawn by
// RenderStaticImage. It replaces any overlay.
func (c *Compositor) LoadStaticImage(img image.Image) error {
	if img == nil {
		return newError(KindInvalidArgument, "compositor.LoadStaticImage", "nil image")
	}
	c.uploadImage(toRGBA(img))
	c.imageLoaded = true
	c.overlay = nil
	return nil
}

// SetOverlay uploads the overlay bitmap blended by
// RenderVideoFrameWithOverlay. A nil asset disables the overlay.
func (c *Compositor) SetOverlay(asset *OverlayAsset) error {
	if asset == nil || asset.Image == nil {
		c.overlay = nil
		return nil
	}
	c.uploadImage(asset.Image)
	c.overlay = asset
	c.imageLoaded = false
	return nil
}

func (c *Compositor) uploadImage(img *image.RGBA) {
	b := img.Bounds()
	pix := img.Pix
	if img.Stride != 4*b.Dx() {
		pix = make([]byte, 0, 4*b.Dx()*b.Dy())
		for y := b.Min.Y; y < b.Max.Y; y++ {
			off := img.PixOffset(b.Min.X, y)
			pix = append(pix, img.Pix[off:off+4*b.Dx()]...)
		}
	}
	c.gl.ActiveTexture(glTexture1)
	c.gl.BindTexture(glTexture2D, c.imageTex)
	c.gl.TexImage2D(glTexture2D, 0, glRGBA, int32(b.Dx()), int32(b.Dy()), glRGBA, glUnsignedByte, pix)
}

func toRGBA(img image.Image) *image.RGBA {
	if rgba, ok := img.(*image.RGBA); ok {
		return rgba
	}
	b := img.Bounds()
	rgba := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(rgba, rgba.Bounds(), img, b.Min, draw.Src)
	return rgba
}

// awaitFrame waits for the next decoded frame and latches it.
func (c *Compositor) awaitFrame(ctx context.Context) (int64, [16]float32, error) {
	const op = "compositor.RenderVideoFrame"
	if c.frames == nil {
		return 0, identityMatrix, newError(KindInternal, op, "no frame input surface")
	}

	timer := time.NewTimer(c.config.FrameTimeout)
	defer timer.Stop()
	select {
	case <-c.frameReady:
	case <-timer.C:
		return 0, identityMatrix, newError(KindFrameTimeout, op, "no frame within %s", c.config.FrameTimeout)
	case <-ctx.Done():
		return 0, identityMatrix, &Error{Kind: KindFrameTimeout, Op: op, Err: ctx.Err()}
	}

	ts, transform, err := c.frames.Latch(c.videoTex)
	if err != nil {
		return 0, identityMatrix, wrapError(KindSurface, op, err)
	}
	return ts, transform, nil
}

// RenderVideoFrame waits for a decoded frame, draws it and returns its
// source timestamp in microseconds.
func (c *Compositor) RenderVideoFrame(ctx context.Context) (int64, error) {
	ts, transform, err := c.awaitFrame(ctx)
	if err != nil {
		return 0, err
	}
	c.drawVideo(transform, false, 0, 0)
	return ts / 1000, nil
}

// RenderVideoFrameWithOverlay is RenderVideoFrame with the overlay blended
// at (x, y), a top-left-origin pixel position in the viewport.
func (c *Compositor) RenderVideoFrameWithOverlay(ctx context.Context, x, y int) (int64, error) {
	if c.overlay == nil {
		return 0, newError(KindInternal, "compositor.RenderVideoFrameWithOverlay", "no overlay set")
	}
	ts, transform, err := c.awaitFrame(ctx)
	if err != nil {
		return 0, err
	}
	c.drawVideo(transform, true, x, y)
	return ts / 1000, nil
}

// overlayUniforms converts a top-left-origin pixel rectangle into the
// normalized bottom-left-origin position and size the shader expects.
func overlayUniforms(x, y, overlayW, overlayH, viewW, viewH int) (pos, size [2]float32) {
	vw, vh := float32(viewW), float32(viewH)
	pos = [2]float32{float32(x) / vw, 1 - float32(y+overlayH)/vh}
	size = [2]float32{float32(overlayW) / vw, float32(overlayH) / vh}
	return pos, size
}

func (c *Compositor) drawVideo(transform [16]float32, withOverlay bool, x, y int) {
	gl := c.gl
	p := c.videoProgram
	gl.UseProgram(p.id)

	gl.ActiveTexture(glTexture0)
	gl.BindTexture(glTextureExternalOES, c.videoTex)
	gl.Uniform1i(p.uniforms["uVideo"], 0)
	gl.UniformMatrix4fv(p.uniforms["uTexMatrix"], transform)

	if withOverlay {
		pos, size := overlayUniforms(x, y, c.overlay.Width, c.overlay.Height, c.config.Width, c.config.Height)
		gl.ActiveTexture(glTexture1)
		gl.BindTexture(glTexture2D, c.imageTex)
		gl.Uniform1i(p.uniforms["uOverlay"], 1)
		gl.Uniform1i(p.uniforms["uHasOverlay"], 1)
		gl.Uniform2f(p.uniforms["uOverlayPos"], pos[0], pos[1])
		gl.Uniform2f(p.uniforms["uOverlaySize"], size[0], size[1])
	} else {
		gl.Uniform1i(p.uniforms["uHasOverlay"], 0)
	}
	c.drawQuad(p)
}

// RenderStaticImage draws the loaded still image over the whole viewport.
func (c *Compositor) RenderStaticImage() error {
	if !c.imageLoaded {
		return newError(KindInternal, "compositor.RenderStaticImage", "no image loaded")
	}
	gl := c.gl
	p := c.imageProgram
	gl.UseProgram(p.id)
	gl.ActiveTexture(glTexture1)
	gl.BindTexture(glTexture2D, c.imageTex)
	gl.Uniform1i(p.uniforms["uImage"], 1)
	gl.UniformMatrix4fv(p.uniforms["uTexMatrix"], identityMatrix)
	c.drawQuad(p)
	return nil
}

func (c *Compositor) drawQuad(p *glProgram) {
	gl := c.gl
	gl.ClearColor(0, 0, 0, 1)
	gl.Clear(glColorBufferBit)

	gl.BindBuffer(glArrayBuffer, c.vbo)
	if p.aPosition >= 0 {
		gl.EnableVertexAttribArray(uint32(p.aPosition))
		gl.VertexAttribPointer(uint32(p.aPosition), 2, glFloat, false, quadStride, 0)
	}
	if p.aTexCoord >= 0 {
		gl.EnableVertexAttribArray(uint32(p.aTexCoord))
		gl.VertexAttribPointer(uint32(p.aTexCoord), 2, glFloat, false, quadStride, 8)
	}
	gl.DrawArrays(glTriangleStrip, 0, 4)
}

// Commit stamps the drawn frame with ptsNs, waits for the GPU and hands
// the frame to the encoder.
func (c *Compositor) Commit(ptsNs int64) error {
	const op = "compositor.Commit"
	if err := c.backend.SetPresentationTime(ptsNs); err != nil {
		return wrapError(KindSurface, op, err)
	}
	c.gl.Finish()
	if err := c.backend.SwapBuffers(); err != nil {
		return wrapError(KindSurface, op, err)
	}
	return nil
}

// Release frees GL objects, the frame surface and the backend. It is safe
// on a partially built compositor and on repeated calls.
func (c *Compositor) Release() error {
	c.releaseOnce.Do(func() {
		var result *multierror.Error
		if c.gl != nil {
			gl := c.gl
			if c.videoProgram != nil {
				gl.DeleteProgram(c.videoProgram.id)
			}
			if c.imageProgram != nil {
				gl.DeleteProgram(c.imageProgram.id)
			}
			if c.videoTex != 0 {
				gl.DeleteTexture(c.videoTex)
			}
			if c.imageTex != 0 {
				gl.DeleteTexture(c.imageTex)
			}
			if c.vbo != 0 {
				gl.DeleteBuffer(c.vbo)
			}
		}
		if c.frames != nil {
			c.frames.SetOnFrameAvailable(nil)
			if err := c.frames.Release(); err != nil {
				result = multierror.Append(result, errors.Wrap(err, "frame surface"))
			}
		}
		if err := c.backend.Release(); err != nil {
			result = multierror.Append(result, errors.Wrap(err, "backend"))
		}
		c.releaseErr = result.ErrorOrNil()
		if c.releaseErr != nil {
			c.log.Warn("release failed", "error", c.releaseErr)
		}
	})
	return c.releaseErr
}
