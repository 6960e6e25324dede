package mediakit

// Full-viewport quad as a triangle strip. Texture coordinates put v=0 at
// the top edge so image rows upload top-down.
var (
	quadVertices = []float32{
		-1, -1,
		1, -1,
		-1, 1,
		1, 1,
	}
	quadTexCoords = []float32{
		0, 1,
		1, 1,
		0, 0,
		1, 0,
	}
)

// quadData interleaves position and texture coordinate per vertex.
func quadData() []float32 {
	out := make([]float32, 0, len(quadVertices)*2)
	for i := 0; i < len(quadVertices)/2; i++ {
		out = append(out,
			quadVertices[2*i], quadVertices[2*i+1],
			quadTexCoords[2*i], quadTexCoords[2*i+1])
	}
	return out
}

const quadStride = 4 * 4 // two vec2 of float32

const vertexShaderSource = `
attribute vec4 aPosition;
attribute vec2 aTexCoord;
uniform mat4 uTexMatrix;
varying vec2 vTexCoord;
varying vec2 vVideoCoord;
varying vec2 vScreenCoord;
void main() {
    gl_Position = aPosition;
    vTexCoord = aTexCoord;
    vVideoCoord = (uTexMatrix * vec4(aTexCoord, 0.0, 1.0)).xy;
    vScreenCoord = (aPosition.xy + 1.0) * 0.5;
}
`

// videoFragmentShaderSource samples the decoded frame and, when enabled,
// blends the overlay over it. uOverlayPos and uOverlaySize are in
// normalized viewport units with a bottom-left origin; texels outside the
// overlay rectangle keep the video color.
const videoFragmentShaderSource = `
#extension GL_OES_EGL_image_external : require
precision mediump float;
varying vec2 vTexCoord;
varying vec2 vVideoCoord;
varying vec2 vScreenCoord;
uniform samplerExternalOES uVideo;
uniform sampler2D uOverlay;
uniform int uHasOverlay;
uniform vec2 uOverlayPos;
uniform vec2 uOverlaySize;
void main() {
    vec4 base = texture2D(uVideo, vVideoCoord);
    if (uHasOverlay == 1) {
        vec2 oc = (vScreenCoord - uOverlayPos) / uOverlaySize;
        if (oc.x >= 0.0 && oc.x <= 1.0 && oc.y >= 0.0 && oc.y <= 1.0) {
            vec4 overlay = texture2D(uOverlay, vec2(oc.x, 1.0 - oc.y));
            base = mix(base, overlay, overlay.a);
        }
    }
    gl_FragColor = base;
}
`

const imageFragmentShaderSource = `
precision mediump float;
varying vec2 vTexCoord;
uniform sampler2D uImage;
void main() {
    gl_FragColor = texture2D(uImage, vTexCoord);
}
`
