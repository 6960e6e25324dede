//go:build android

// NDK bindings via purego: libmediandk (AMediaCodec, AMediaFormat,
// AImageReader), libEGL and libGLESv2.

package mediakit

import (
	"sync"

	"github.com/ebitengine/purego"
	"github.com/pkg/errors"
)

var (
	ndkOnce    sync.Once
	ndkInitErr error

	mediaNDKHandle uintptr
	eglHandle      uintptr
	glesHandle     uintptr
)

// media_status_t values.
const (
	amediaOK                      = 0
	amediaImgReaderNoBufferAvail  = -30001
	amediaImgReaderMaxImagesAcqrd = -30002
)

// AImageReader constants.
const (
	aimageFormatPrivate            = 0x22
	ahardwarebufferUsageGPUSampled = 1 << 8
	imageReaderMaxImages           = 4
)

// amediaCodecBufferInfo mirrors AMediaCodecBufferInfo.
type amediaCodecBufferInfo struct {
	Offset             int32
	Size               int32
	PresentationTimeUs int64
	Flags              uint32
	_                  uint32
}

// aimageReaderImageListener mirrors AImageReader_ImageListener.
type aimageReaderImageListener struct {
	Context          uintptr
	OnImageAvailable uintptr
}

// libmediandk function pointers
var (
	amediaCodecCreateDecoderByType    func(mime string) uintptr
	amediaCodecCreateEncoderByType    func(mime string) uintptr
	amediaCodecConfigure              func(codec, format, surface, crypto uintptr, flags uint32) int32
	amediaCodecStart                  func(codec uintptr) int32
	amediaCodecStop                   func(codec uintptr) int32
	amediaCodecDelete                 func(codec uintptr) int32
	amediaCodecDequeueInputBuffer     func(codec uintptr, timeoutUs int64) int
	amediaCodecGetInputBuffer         func(codec uintptr, idx uintptr, outSize *uintptr) uintptr
	amediaCodecQueueInputBuffer       func(codec uintptr, idx uintptr, offset int64, size uintptr, timeUs uint64, flags uint32) int32
	amediaCodecDequeueOutputBuffer    func(codec uintptr, info *amediaCodecBufferInfo, timeoutUs int64) int
	amediaCodecGetOutputBuffer        func(codec uintptr, idx uintptr, outSize *uintptr) uintptr
	amediaCodecGetOutputFormat        func(codec uintptr) uintptr
	amediaCodecReleaseOutputBuffer    func(codec uintptr, idx uintptr, render bool) int32
	amediaCodecCreateInputSurface     func(codec uintptr, surface *uintptr) int32
	amediaCodecSignalEndOfInputStream func(codec uintptr) int32
	amediaFormatNew                   func() uintptr
	amediaFormatDelete                func(format uintptr) int32
	amediaFormatSetInt32              func(format uintptr, name string, value int32)
	amediaFormatSetFloat              func(format uintptr, name string, value float32)
	amediaFormatSetString             func(format uintptr, name string, value string)
	amediaFormatSetBuffer             func(format uintptr, name string, data *byte, size uintptr)
	amediaFormatGetInt32              func(format uintptr, name string, out *int32) bool
	amediaFormatGetBuffer             func(format uintptr, name string, data *uintptr, size *uintptr) bool
	aimageReaderNewWithUsage          func(width, height, format int32, usage uint64, maxImages int32, reader *uintptr) int32
	aimageReaderGetWindow             func(reader uintptr, window *uintptr) int32
	aimageReaderSetImageListener      func(reader uintptr, listener *aimageReaderImageListener) int32
	aimageReaderAcquireLatestImage    func(reader uintptr, image *uintptr) int32
	aimageReaderDelete                func(reader uintptr)
	aimageGetTimestamp                func(image uintptr, ts *int64) int32
	aimageGetHardwareBuffer           func(image uintptr, buffer *uintptr) int32
	aimageDelete                      func(image uintptr)
)

// libEGL function pointers
var (
	eglGetDisplay          func(nativeDisplay uintptr) uintptr
	eglInitialize          func(display uintptr, major, minor *int32) uint32
	eglChooseConfig        func(display uintptr, attribs *int32, configs *uintptr, configSize int32, numConfig *int32) uint32
	eglCreateContext       func(display, config, share uintptr, attribs *int32) uintptr
	eglCreateWindowSurface func(display, config, window uintptr, attribs *int32) uintptr
	eglMakeCurrent         func(display, draw, read, context uintptr) uint32
	eglSwapBuffers         func(display, surface uintptr) uint32
	eglDestroySurface      func(display, surface uintptr) uint32
	eglDestroyContext      func(display, context uintptr) uint32
	eglReleaseThread       func() uint32
	eglGetError            func() int32
	eglGetProcAddress      func(name string) uintptr

	// Extensions, resolved through eglGetProcAddress.
	eglPresentationTimeANDROID      func(display, surface uintptr, ns int64) uint32
	eglGetNativeClientBufferANDROID func(buffer uintptr) uintptr
	eglCreateImageKHR               func(display, context uintptr, target uint32, buffer uintptr, attribs *int32) uintptr
	eglDestroyImageKHR              func(display, image uintptr) uint32
	glEGLImageTargetTexture2DOES    func(target uint32, image uintptr)
)

// libGLESv2 function pointers
var (
	glGetError                func() uint32
	glViewport                func(x, y, width, height int32)
	glClearColor              func(r, g, b, a float32)
	glClear                   func(mask uint32)
	glEnable                  func(capability uint32)
	glDisable                 func(capability uint32)
	glBlendFunc               func(sfactor, dfactor uint32)
	glFinish                  func()
	glGenTextures             func(n int32, textures *uint32)
	glDeleteTextures          func(n int32, textures *uint32)
	glActiveTexture           func(unit uint32)
	glBindTexture             func(target, texture uint32)
	glTexParameteri           func(target, pname uint32, param int32)
	glTexImage2D              func(target uint32, level, internalFormat, width, height, border int32, format, typ uint32, pixels *byte)
	glCreateShader            func(typ uint32) uint32
	glShaderSource            func(shader uint32, count int32, sources **byte, lengths *int32)
	glCompileShader           func(shader uint32)
	glGetShaderiv             func(shader, pname uint32, out *int32)
	glGetShaderInfoLog        func(shader uint32, bufSize int32, length *int32, log *byte)
	glDeleteShader            func(shader uint32)
	glCreateProgram           func() uint32
	glAttachShader            func(program, shader uint32)
	glLinkProgram             func(program uint32)
	glGetProgramiv            func(program, pname uint32, out *int32)
	glGetProgramInfoLog       func(program uint32, bufSize int32, length *int32, log *byte)
	glUseProgram              func(program uint32)
	glDeleteProgram           func(program uint32)
	glGetAttribLocation       func(program uint32, name string) int32
	glGetUniformLocation      func(program uint32, name string) int32
	glUniform1i               func(location, v int32)
	glUniform2f               func(location int32, x, y float32)
	glUniformMatrix4fv        func(location, count int32, transpose bool, value *float32)
	glGenBuffers              func(n int32, buffers *uint32)
	glDeleteBuffers           func(n int32, buffers *uint32)
	glBindBuffer              func(target, buffer uint32)
	glBufferData              func(target uint32, size int, data *float32, usage uint32)
	glEnableVertexAttribArray func(index uint32)
	glVertexAttribPointer     func(index uint32, size int32, typ uint32, normalized bool, stride int32, offset uintptr)
	glDrawArrays              func(mode uint32, first, count int32)
)

func loadNDK() error {
	ndkOnce.Do(func() {
		ndkInitErr = loadNDKLibs()
	})
	return ndkInitErr
}

func loadNDKLibs() error {
	var err error
	if mediaNDKHandle, err = dlopenFirst("libmediandk.so"); err != nil {
		return err
	}
	if eglHandle, err = dlopenFirst("libEGL.so"); err != nil {
		return err
	}
	if glesHandle, err = dlopenFirst("libGLESv2.so"); err != nil {
		return err
	}

	if err := registerLibFuncs(mediaNDKHandle, map[string]any{
		"AMediaCodec_createDecoderByType":    &amediaCodecCreateDecoderByType,
		"AMediaCodec_createEncoderByType":    &amediaCodecCreateEncoderByType,
		"AMediaCodec_configure":              &amediaCodecConfigure,
		"AMediaCodec_start":                  &amediaCodecStart,
		"AMediaCodec_stop":                   &amediaCodecStop,
		"AMediaCodec_delete":                 &amediaCodecDelete,
		"AMediaCodec_dequeueInputBuffer":     &amediaCodecDequeueInputBuffer,
		"AMediaCodec_getInputBuffer":         &amediaCodecGetInputBuffer,
		"AMediaCodec_queueInputBuffer":       &amediaCodecQueueInputBuffer,
		"AMediaCodec_dequeueOutputBuffer":    &amediaCodecDequeueOutputBuffer,
		"AMediaCodec_getOutputBuffer":        &amediaCodecGetOutputBuffer,
		"AMediaCodec_getOutputFormat":        &amediaCodecGetOutputFormat,
		"AMediaCodec_releaseOutputBuffer":    &amediaCodecReleaseOutputBuffer,
		"AMediaCodec_createInputSurface":     &amediaCodecCreateInputSurface,
		"AMediaCodec_signalEndOfInputStream": &amediaCodecSignalEndOfInputStream,
		"AMediaFormat_new":                   &amediaFormatNew,
		"AMediaFormat_delete":                &amediaFormatDelete,
		"AMediaFormat_setInt32":              &amediaFormatSetInt32,
		"AMediaFormat_setFloat":              &amediaFormatSetFloat,
		"AMediaFormat_setString":             &amediaFormatSetString,
		"AMediaFormat_setBuffer":             &amediaFormatSetBuffer,
		"AMediaFormat_getInt32":              &amediaFormatGetInt32,
		"AMediaFormat_getBuffer":             &amediaFormatGetBuffer,
		"AImageReader_newWithUsage":          &aimageReaderNewWithUsage,
		"AImageReader_getWindow":             &aimageReaderGetWindow,
		"AImageReader_setImageListener":      &aimageReaderSetImageListener,
		"AImageReader_acquireLatestImage":    &aimageReaderAcquireLatestImage,
		"AImageReader_delete":                &aimageReaderDelete,
		"AImage_getTimestamp":                &aimageGetTimestamp,
		"AImage_getHardwareBuffer":           &aimageGetHardwareBuffer,
		"AImage_delete":                      &aimageDelete,
	}); err != nil {
		return errors.Wrap(err, "libmediandk")
	}

	if err := registerLibFuncs(eglHandle, map[string]any{
		"eglGetDisplay":          &eglGetDisplay,
		"eglInitialize":          &eglInitialize,
		"eglChooseConfig":        &eglChooseConfig,
		"eglCreateContext":       &eglCreateContext,
		"eglCreateWindowSurface": &eglCreateWindowSurface,
		"eglMakeCurrent":         &eglMakeCurrent,
		"eglSwapBuffers":         &eglSwapBuffers,
		"eglDestroySurface":      &eglDestroySurface,
		"eglDestroyContext":      &eglDestroyContext,
		"eglReleaseThread":       &eglReleaseThread,
		"eglGetError":            &eglGetError,
		"eglGetProcAddress":      &eglGetProcAddress,
	}); err != nil {
		return errors.Wrap(err, "libEGL")
	}

	if err := registerLibFuncs(glesHandle, map[string]any{
		"glGetError":                &glGetError,
		"glViewport":                &glViewport,
		"glClearColor":              &glClearColor,
		"glClear":                   &glClear,
		"glEnable":                  &glEnable,
		"glDisable":                 &glDisable,
		"glBlendFunc":               &glBlendFunc,
		"glFinish":                  &glFinish,
		"glGenTextures":             &glGenTextures,
		"glDeleteTextures":          &glDeleteTextures,
		"glActiveTexture":           &glActiveTexture,
		"glBindTexture":             &glBindTexture,
		"glTexParameteri":           &glTexParameteri,
		"glTexImage2D":              &glTexImage2D,
		"glCreateShader":            &glCreateShader,
		"glShaderSource":            &glShaderSource,
		"glCompileShader":           &glCompileShader,
		"glGetShaderiv":             &glGetShaderiv,
		"glGetShaderInfoLog":        &glGetShaderInfoLog,
		"glDeleteShader":            &glDeleteShader,
		"glCreateProgram":           &glCreateProgram,
		"glAttachShader":            &glAttachShader,
		"glLinkProgram":             &glLinkProgram,
		"glGetProgramiv":            &glGetProgramiv,
		"glGetProgramInfoLog":       &glGetProgramInfoLog,
		"glUseProgram":              &glUseProgram,
		"glDeleteProgram":           &glDeleteProgram,
		"glGetAttribLocation":       &glGetAttribLocation,
		"glGetUniformLocation":      &glGetUniformLocation,
		"glUniform1i":               &glUniform1i,
		"glUniform2f":               &glUniform2f,
		"glUniformMatrix4fv":        &glUniformMatrix4fv,
		"glGenBuffers":              &glGenBuffers,
		"glDeleteBuffers":           &glDeleteBuffers,
		"glBindBuffer":              &glBindBuffer,
		"glBufferData":              &glBufferData,
		"glEnableVertexAttribArray": &glEnableVertexAttribArray,
		"glVertexAttribPointer":     &glVertexAttribPointer,
		"glDrawArrays":              &glDrawArrays,
	}); err != nil {
		return errors.Wrap(err, "libGLESv2")
	}

	return loadEGLExtensions()
}

// loadEGLExtensions resolves the Android EGL and GLES extensions the
// render backend depends on.
func loadEGLExtensions() error {
	exts := []struct {
		name string
		fptr any
	}{
		{"eglPresentationTimeANDROID", &eglPresentationTimeANDROID},
		{"eglGetNativeClientBufferANDROID", &eglGetNativeClientBufferANDROID},
		{"eglCreateImageKHR", &eglCreateImageKHR},
		{"eglDestroyImageKHR", &eglDestroyImageKHR},
		{"glEGLImageTargetTexture2DOES", &glEGLImageTargetTexture2DOES},
	}
	for _, ext := range exts {
		addr := eglGetProcAddress(ext.name)
		if addr == 0 {
			return errors.Errorf("egl extension %s unavailable", ext.name)
		}
		purego.RegisterFunc(ext.fptr, addr)
	}
	return nil
}

func init() {
	registerPlatform(ProviderMediaCodec, func() (Platform, error) {
		if err := loadNDK(); err != nil {
			return nil, err
		}
		return &mediaCodecPlatform{}, nil
	})
	if loadNDK() == nil {
		setProviderAvailable(ProviderMediaCodec)
	}
}
