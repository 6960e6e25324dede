package mediakit

// NativeWindow is an opaque native window handle (ANativeWindow*). A
// decoder renders into one, an encoder exposes one as its input surface
// and a render backend binds its EGL window surface to one.
type NativeWindow uintptr

// Platform bundles the hardware facilities a job needs: codec adapters,
// a GPU render backend and encoder capability queries.
type Platform interface {
	// Provider reports which provider backs the platform.
	Provider() Provider

	// NewDecoder creates an unconfigured decoder for the track's codec.
	NewDecoder(track TrackDescriptor) (Decoder, error)

	// NewEncoder creates an unconfigured surface-input encoder.
	NewEncoder(codec VideoCodec) (Encoder, error)

	// NewRenderBackend creates an unbound EGL/GLES backend.
	NewRenderBackend() (RenderBackend, error)

	// EncoderCapabilities reports size constraints of the encoder for codec.
	EncoderCapabilities(codec VideoCodec) (EncoderCapabilities, error)
}
