//go:build android

package mediakit

import (
	"sync"
	"sync/atomic"

	"github.com/ebitengine/purego"
)

// EGLImage constants.
const (
	eglNativeBufferAndroid = 0x3140
	eglImagePreservedKHR   = 0x30D2
)

// Image listeners run on an NDK thread and find their surface through the
// listener context key.
var (
	imageSurfaces   sync.Map // uintptr -> *imageReaderSurface
	imageSurfaceKey atomic.Uintptr

	imageCallbackOnce sync.Once
	imageCallbackPtr  uintptr
)

func onImageAvailable(context uintptr, reader uintptr) {
	v, ok := imageSurfaces.Load(context)
	if !ok {
		return
	}
	v.(*imageReaderSurface).notify()
}

func imageAvailableCallback() uintptr {
	imageCallbackOnce.Do(func() {
		imageCallbackPtr = purego.NewCallback(onImageAvailable)
	})
	return imageCallbackPtr
}

// imageReaderSurface is a FrameSurface over AImageReader. Latched images
// reach GL as EGLImages created from their hardware buffers.
type imageReaderSurface struct {
	backend *eglBackend
	reader  uintptr
	window  uintptr
	key     uintptr

	mu       sync.Mutex
	onFrame  func()
	image    uintptr // currently latched AImage
	eglImage uintptr

	releaseOnce sync.Once
}

func newImageReaderSurface(b *eglBackend, width, height int) (*imageReaderSurface, error) {
	const op = "imagereader.New"
	s := &imageReaderSurface{backend: b}
	status := aimageReaderNewWithUsage(int32(width), int32(height), aimageFormatPrivate,
		ahardwarebufferUsageGPUSampled, imageReaderMaxImages, &s.reader)
	if status != amediaOK || s.reader == 0 {
		return nil, newError(KindSurface, op, "AImageReader_newWithUsage %dx%d: status %d", width, height, status)
	}
	if status := aimageReaderGetWindow(s.reader, &s.window); status != amediaOK || s.window == 0 {
		aimageReaderDelete(s.reader)
		return nil, newError(KindSurface, op, "AImageReader_getWindow: status %d", status)
	}

	s.key = imageSurfaceKey.Add(1)
	imageSurfaces.Store(s.key, s)
	listener := aimageReaderImageListener{Context: s.key, OnImageAvailable: imageAvailableCallback()}
	if status := aimageReaderSetImageListener(s.reader, &listener); status != amediaOK {
		imageSurfaces.Delete(s.key)
		aimageReaderDelete(s.reader)
		return nil, newError(KindSurface, op, "AImageReader_setImageListener: status %d", status)
	}
	return s, nil
}

func (s *imageReaderSurface) Window() NativeWindow { return NativeWindow(s.window) }

func (s *imageReaderSurface) SetOnFrameAvailable(fn func()) {
	s.mu.Lock()
	s.onFrame = fn
	s.mu.Unlock()
}

func (s *imageReaderSurface) notify() {
	s.mu.Lock()
	fn := s.onFrame
	s.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// Latch acquires the newest image and binds it to texture. The previously
// latched image stays alive until the next latch.
func (s *imageReaderSurface) Latch(texture uint32) (int64, [16]float32, error) {
	const op = "imagereader.Latch"
	var img uintptr
	status := aimageReaderAcquireLatestImage(s.reader, &img)
	if status == amediaImgReaderNoBufferAvail {
		return 0, identityMatrix, newError(KindFrameTimeout, op, "no image available")
	}
	if status != amediaOK || img == 0 {
		return 0, identityMatrix, newError(KindSurface, op, "AImageReader_acquireLatestImage: status %d", status)
	}

	var ts int64
	if status := aimageGetTimestamp(img, &ts); status != amediaOK {
		aimageDelete(img)
		return 0, identityMatrix, newError(KindSurface, op, "AImage_getTimestamp: status %d", status)
	}
	var hwBuffer uintptr
	if status := aimageGetHardwareBuffer(img, &hwBuffer); status != amediaOK || hwBuffer == 0 {
		aimageDelete(img)
		return 0, identityMatrix, newError(KindSurface, op, "AImage_getHardwareBuffer: status %d", status)
	}

	clientBuffer := eglGetNativeClientBufferANDROID(hwBuffer)
	attribs := []int32{eglImagePreservedKHR, eglTrue, eglNone}
	eglImage := eglCreateImageKHR(s.backend.display, 0, eglNativeBufferAndroid, clientBuffer, &attribs[0])
	if eglImage == 0 {
		aimageDelete(img)
		return 0, identityMatrix, newError(KindSurface, op, "eglCreateImageKHR failed: 0x%x", eglGetError())
	}

	glBindTexture(glTextureExternalOES, texture)
	glEGLImageTargetTexture2DOES(glTextureExternalOES, eglImage)

	s.mu.Lock()
	s.dropLatched()
	s.image = img
	s.eglImage = eglImage
	s.mu.Unlock()

	return ts, identityMatrix, nil
}

// dropLatched frees the latched image. Callers hold s.mu.
func (s *imageReaderSurface) dropLatched() {
	if s.eglImage != 0 {
		eglDestroyImageKHR(s.backend.display, s.eglImage)
		s.eglImage = 0
	}
	if s.image != 0 {
		aimageDelete(s.image)
		s.image = 0
	}
}

func (s *imageReaderSurface) Release() error {
	s.releaseOnce.Do(func() {
		imageSurfaces.Delete(s.key)
		s.mu.Lock()
		s.onFrame = nil
		s.dropLatched()
		s.mu.Unlock()
		aimageReaderDelete(s.reader)
	})
	return nil
}
