// Package mediakit processes local and remote media files on top of the
// device's hardware codecs and GPU.
//
// Key pieces include:
//   - Kit, the background job runner behind every operation
//   - Readers for MP4, fragmented MP4, IVF and Annex-B elementary streams
//   - Decoder/Encoder adapters and a GLES compositor for re-encodes
//   - A fragmented MP4 muxer with per-track timestamp normalization
//   - Passthrough merge and keyframe-aligned split
//
// # Architecture
//
//	Re-encode:   Reader -> Decoder -> Compositor (+overlay) -> Encoder -> Normalizer -> Muxer
//	Still image: Image -> Compositor -> Encoder -> Normalizer -> Muxer
//	Passthrough: Reader -> Normalizer -> Muxer
//
// Payloads of H.264 and H.265 tracks are 4-byte length-prefixed NAL units
// and timestamps are microseconds throughout the pipeline.
//
// # Platforms
//
// Hardware access sits behind the Platform interface. On Android the
// mediacodec provider binds libmediandk, libEGL and libGLESv2 at runtime
// via purego; set MEDIAKIT_NDK_LIB_PATH to load them from a specific
// directory. Elsewhere no provider is available and operations that need
// a re-encode fail with a capability error, while info, passthrough merge
// and split keep working.
package mediakit
