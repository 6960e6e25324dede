//go:build android

package mediakit

import "runtime"

// glesFuncs implements GL over libGLESv2.
type glesFuncs struct{}

const glInfoLogLength = 0x8B84

func (glesFuncs) GetError() uint32 {
	return glGetError()
}

func (glesFuncs) Viewport(x, y, width, height int32) {
	glViewport(x, y, width, height)
}

func (glesFuncs) ClearColor(r, g, b, a float32) {
	glClearColor(r, g, b, a)
}

func (glesFuncs) Clear(mask uint32) {
	glClear(mask)
}

func (glesFuncs) Enable(capability uint32) {
	glEnable(capability)
}

func (glesFuncs) Disable(capability uint32) {
	glDisable(capability)
}

func (glesFuncs) BlendFunc(sfactor, dfactor uint32) {
	glBlendFunc(sfactor, dfactor)
}

func (glesFuncs) Finish() {
	glFinish()
}

func (glesFuncs) ActiveTexture(unit uint32) {
	glActiveTexture(unit)
}

func (glesFuncs) BindTexture(target, texture uint32) {
	glBindTexture(target, texture)
}

func (glesFuncs) CompileShader(shader uint32) {
	glCompileShader(shader)
}

func (glesFuncs) DeleteShader(shader uint32) {
	glDeleteShader(shader)
}

func (glesFuncs) CreateProgram() uint32 {
	return glCreateProgram()
}

func (glesFuncs) AttachShader(program, shader uint32) {
	glAttachShader(program, shader)
}

func (glesFuncs) LinkProgram(program uint32) {
	glLinkProgram(program)
}

func (glesFuncs) UseProgram(program uint32) {
	glUseProgram(program)
}

func (glesFuncs) DeleteProgram(program uint32) {
	glDeleteProgram(program)
}

func (glesFuncs) Uniform1i(location, v int32) {
	glUniform1i(location, v)
}

func (glesFuncs) Uniform2f(location int32, x, y float32) {
	glUniform2f(location, x, y)
}

func (glesFuncs) BindBuffer(target, buffer uint32) {
	glBindBuffer(target, buffer)
}

func (glesFuncs) EnableVertexAttribArray(index uint32) {
	glEnableVertexAttribArray(index)
}

func (glesFuncs) DrawArrays(mode uint32, first, count int32) {
	glDrawArrays(mode, first, count)
}

func (glesFuncs) CreateShader(typ uint32) uint32 {
	return glCreateShader(typ)
}

func (glesFuncs) TexParameteri(target, pname uint32, param int32) {
	glTexParameteri(target, pname, param)
}

func (glesFuncs) CreateTexture() uint32 {
	var tex uint32
	glGenTextures(1, &tex)
	return tex
}

func (glesFuncs) DeleteTexture(texture uint32) {
	glDeleteTextures(1, &texture)
}

func (glesFuncs) TexImage2D(target uint32, level, internalFormat, width, height int32, format, typ uint32, pixels []byte) {
	var ptr *byte
	if len(pixels) > 0 {
		ptr = &pixels[0]
	}
	glTexImage2D(target, level, internalFormat, width, height, 0, format, typ, ptr)
}

func (glesFuncs) ShaderSource(shader uint32, source string) {
	buf, ptr := cStringPtr(source)
	glShaderSource(shader, 1, &ptr, nil)
	runtime.KeepAlive(buf)
}

func (glesFuncs) GetShaderiv(shader, pname uint32) int32 {
	var v int32
	glGetShaderiv(shader, pname, &v)
	return v
}

func (g glesFuncs) GetShaderInfoLog(shader uint32) string {
	n := g.GetShaderiv(shader, glInfoLogLength)
	if n <= 1 {
		return ""
	}
	buf := make([]byte, n)
	var length int32
	glGetShaderInfoLog(shader, n, &length, &buf[0])
	return string(buf[:length])
}

func (glesFuncs) GetProgramiv(program, pname uint32) int32 {
	var v int32
	glGetProgramiv(program, pname, &v)
	return v
}

func (g glesFuncs) GetProgramInfoLog(program uint32) string {
	n := g.GetProgramiv(program, glInfoLogLength)
	if n <= 1 {
		return ""
	}
	buf := make([]byte, n)
	var length int32
	glGetProgramInfoLog(program, n, &length, &buf[0])
	return string(buf[:length])
}

func (glesFuncs) GetAttribLocation(program uint32, name string) int32 {
	return glGetAttribLocation(program, name)
}

func (glesFuncs) GetUniformLocation(program uint32, name string) int32 {
	return glGetUniformLocation(program, name)
}

func (glesFuncs) UniformMatrix4fv(location int32, m [16]float32) {
	glUniformMatrix4fv(location, 1, false, &m[0])
}

func (glesFuncs) CreateBuffer() uint32 {
	var buf uint32
	glGenBuffers(1, &buf)
	return buf
}

func (glesFuncs) DeleteBuffer(buffer uint32) {
	glDeleteBuffers(1, &buffer)
}

func (glesFuncs) BufferData(target uint32, data []float32, usage uint32) {
	if len(data) == 0 {
		return
	}
	glBufferData(target, len(data)*4, &data[0], usage)
}

func (glesFuncs) VertexAttribPointer(index uint32, size int32, typ uint32, normalized bool, stride int32, offset uintptr) {
	glVertexAttribPointer(index, size, typ, normalized, stride, offset)
}
