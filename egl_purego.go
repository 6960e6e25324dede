//go:build android

package mediakit

import (
	"runtime"
	"sync"
)

// EGL constants.
const (
	eglFalse                = 0
	eglTrue                 = 1
	eglSuccess              = 0x3000
	eglAlphaSize            = 0x3021
	eglBlueSize             = 0x3022
	eglGreenSize            = 0x3023
	eglRedSize              = 0x3024
	eglSurfaceType          = 0x3033
	eglNone                 = 0x3038
	eglRenderableType       = 0x3040
	eglContextClientVersion = 0x3098
	eglRecordableAndroid    = 0x3142
	eglWindowBit            = 0x0004
	eglOpenGLES2Bit         = 0x0004
)

// eglBackend is the RenderBackend over EGL with a recordable window
// surface. Bind locks the calling goroutine to its OS thread until
// Release, since the context is current on that thread only.
type eglBackend struct {
	display uintptr
	config  uintptr
	context uintptr
	surface uintptr
	gl      glesFuncs

	locked      bool
	releaseOnce sync.Once
}

func (b *eglBackend) Bind(target NativeWindow, width, height int) error {
	const op = "egl.Bind"
	runtime.LockOSThread()
	b.locked = true

	b.display = eglGetDisplay(0)
	if b.display == 0 {
		return newError(KindSurface, op, "eglGetDisplay failed")
	}
	var major, minor int32
	if eglInitialize(b.display, &major, &minor) == eglFalse {
		return newError(KindSurface, op, "eglInitialize failed: 0x%x", eglGetError())
	}

	attribs := []int32{
		eglRedSize, 8,
		eglGreenSize, 8,
		eglBlueSize, 8,
		eglAlphaSize, 8,
		eglRenderableType, eglOpenGLES2Bit,
		eglRecordableAndroid, eglTrue,
		eglSurfaceType, eglWindowBit,
		eglNone,
	}
	var numConfigs int32
	if eglChooseConfig(b.display, &attribs[0], &b.config, 1, &numConfigs) == eglFalse || numConfigs == 0 {
		return newError(KindSurface, op, "no recordable RGBA8888 ES2 config: 0x%x", eglGetError())
	}

	ctxAttribs := []int32{eglContextClientVersion, 2, eglNone}
	b.context = eglCreateContext(b.display, b.config, 0, &ctxAttribs[0])
	if b.context == 0 {
		return newError(KindSurface, op, "eglCreateContext failed: 0x%x", eglGetError())
	}

	surfAttribs := []int32{eglNone}
	b.surface = eglCreateWindowSurface(b.display, b.config, uintptr(target), &surfAttribs[0])
	if b.surface == 0 {
		return newError(KindSurface, op, "eglCreateWindowSurface failed: 0x%x", eglGetError())
	}
	if eglMakeCurrent(b.display, b.surface, b.surface, b.context) == eglFalse {
		return newError(KindSurface, op, "eglMakeCurrent failed: 0x%x", eglGetError())
	}
	glViewport(0, 0, int32(width), int32(height))
	return nil
}

func (b *eglBackend) GL() GL { return b.gl }

func (b *eglBackend) CreateFrameSurface(width, height int) (FrameSurface, error) {
	return newImageReaderSurface(b, width, height)
}

func (b *eglBackend) SetPresentationTime(ns int64) error {
	if eglPresentationTimeANDROID(b.display, b.surface, ns) == eglFalse {
		return newError(KindSurface, "egl.SetPresentationTime", "eglPresentationTimeANDROID failed: 0x%x", eglGetError())
	}
	return nil
}

func (b *eglBackend) SwapBuffers() error {
	if eglSwapBuffers(b.display, b.surface) == eglFalse {
		return newError(KindSurface, "egl.SwapBuffers", "eglSwapBuffers failed: 0x%x", eglGetError())
	}
	return nil
}

func (b *eglBackend) Release() error {
	b.releaseOnce.Do(func() {
		if b.display != 0 {
			eglMakeCurrent(b.display, 0, 0, 0)
			if b.surface != 0 {
				eglDestroySurface(b.display, b.surface)
			}
			if b.context != 0 {
				eglDestroyContext(b.display, b.context)
			}
			eglReleaseThread()
		}
		b.surface, b.context = 0, 0
		if b.locked {
			runtime.UnlockOSThread()
			b.locked = false
		}
	})
	return nil
}
