package mediakit

import (
	"image"
	"image/color"
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/gobold"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"
)

// DefaultWatermarkFontSize is the text size used for watermarks, in pixels.
const DefaultWatermarkFontSize = 64

var (
	overlayFontOnce sync.Once
	overlayFont     *opentype.Font
	overlayFontErr  error
)

func loadOverlayFont() (*opentype.Font, error) {
	overlayFontOnce.Do(func() {
		overlayFont, overlayFontErr = opentype.Parse(gobold.TTF)
	})
	return overlayFont, overlayFontErr
}

// RenderTextOverlay rasterizes text in white on a transparent background.
// The bitmap is cropped to the glyphs' ink bounds.
func RenderTextOverlay(text string, fontSize float64) (*OverlayAsset, error) {
	const op = "overlay.RenderText"
	if text == "" {
		return nil, newError(KindInvalidArgument, op, "empty overlay text")
	}
	if fontSize <= 0 {
		fontSize = DefaultWatermarkFontSize
	}

	f, err := loadOverlayFont()
	if err != nil {
		return nil, &Error{Kind: KindInternal, Op: op, Err: errors.Wrap(err, "parse font")}
	}
	face, err := opentype.NewFace(f, &opentype.FaceOptions{
		Size:    fontSize,
		DPI:     72,
		Hinting: font.HintingFull,
	})
	if err != nil {
		return nil, &Error{Kind: KindInternal, Op: op, Err: errors.Wrap(err, "create face")}
	}
	defer face.Close()

	bounds, _ := font.BoundString(face, text)
	width := max((bounds.Max.X - bounds.Min.X).Ceil(), 1)
	height := max((bounds.Max.Y - bounds.Min.Y).Ceil(), 1)

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(color.White),
		Face: face,
		Dot:  fixed.Point26_6{X: -bounds.Min.X, Y: -bounds.Min.Y},
	}
	d.DrawString(text)

	return &OverlayAsset{Image: img, Width: width, Height: height}, nil
}
