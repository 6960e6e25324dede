package mediakit

// GLES 2.0 enums used by the compositor.
const (
	glNoError            = 0
	glTriangleStrip      = 0x0005
	glSrcAlpha           = 0x0302
	glOneMinusSrcAlpha   = 0x0303
	glTexture2D          = 0x0DE1
	glBlend              = 0x0BE2
	glUnsignedByte       = 0x1401
	glFloat              = 0x1406
	glRGBA               = 0x1908
	glLinear             = 0x2601
	glTextureMagFilter   = 0x2800
	glTextureMinFilter   = 0x2801
	glTextureWrapS       = 0x2802
	glTextureWrapT       = 0x2803
	glColorBufferBit     = 0x4000
	glClampToEdge        = 0x812F
	glTexture0           = 0x84C0
	glTexture1           = 0x84C1
	glArrayBuffer        = 0x8892
	glStaticDraw         = 0x88E4
	glFragmentShader     = 0x8B30
	glVertexShader       = 0x8B31
	glCompileStatus      = 0x8B81
	glLinkStatus         = 0x8B82
	glTextureExternalOES = 0x8D65
)

// GL is the subset of OpenGL ES 2.0 the compositor draws with. The
// production implementation calls libGLESv2 on the thread that owns the
// current EGL context.
type GL interface {
	GetError() uint32
	Viewport(x, y, width, height int32)
	ClearColor(r, g, b, a float32)
	Clear(mask uint32)
	Enable(capability uint32)
	Disable(capability uint32)
	BlendFunc(sfactor, dfactor uint32)
	Finish()

	CreateTexture() uint32
	DeleteTexture(texture uint32)
	ActiveTexture(unit uint32)
	BindTexture(target, texture uint32)
	TexParameteri(target, pname uint32, param int32)
	TexImage2D(target uint32, level, internalFormat, width, height int32, format, typ uint32, pixels []byte)

	CreateShader(typ uint32) uint32
	ShaderSource(shader uint32, source string)
	CompileShader(shader uint32)
	GetShaderiv(shader, pname uint32) int32
	GetShaderInfoLog(shader uint32) string
	DeleteShader(shader uint32)

	CreateProgram() uint32
	AttachShader(program, shader uint32)
	LinkProgram(program uint32)
	GetProgramiv(program, pname uint32) int32
	GetProgramInfoLog(program uint32) string
	UseProgram(program uint32)
	DeleteProgram(program uint32)
	GetAttribLocation(program uint32, name string) int32
	GetUniformLocation(program uint32, name string) int32

	Uniform1i(location, v int32)
	Uniform2f(location int32, x, y float32)
	UniformMatrix4fv(location int32, m [16]float32)

	CreateBuffer() uint32
	DeleteBuffer(buffer uint32)
	BindBuffer(target, buffer uint32)
	BufferData(target uint32, data []float32, usage uint32)
	EnableVertexAttribArray(index uint32)
	VertexAttribPointer(index uint32, size int32, typ uint32, normalized bool, stride int32, offset uintptr)
	DrawArrays(mode uint32, first, count int32)
}

// FrameSurface receives decoded frames from a decoder and exposes the
// newest one as an external texture.
type FrameSurface interface {
	// Window is the native window the decoder renders into.
	Window() NativeWindow

	// SetOnFrameAvailable installs the callback fired, possibly on a
	// platform thread, whenever a new frame has been queued.
	SetOnFrameAvailable(fn func())

	// Latch binds the newest frame to texture (GL_TEXTURE_EXTERNAL_OES) and
	// returns its timestamp in nanoseconds and its texture transform.
	Latch(texture uint32) (timestampNs int64, transform [16]float32, err error)

	Release() error
}

// RenderBackend owns the EGL display, context and window surface a
// compositor draws through.
type RenderBackend interface {
	// Bind creates a context and a window surface on target and makes
	// them current.
	Bind(target NativeWindow, width, height int) error

	// GL returns the function table for the bound context.
	GL() GL

	// CreateFrameSurface creates a decoder target of the given size.
	CreateFrameSurface(width, height int) (FrameSurface, error)

	// SetPresentationTime stamps the next swap.
	SetPresentationTime(ns int64) error

	SwapBuffers() error

	// Release destroys the surface and context. Safe on a partially bound
	// backend and safe to repeat.
	Release() error
}

var identityMatrix = [16]float32{
	1, 0, 0, 0,
	0, 1, 0, 0,
	0, 0, 1, 0,
	0, 0, 0, 1,
}
