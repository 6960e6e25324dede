package mediakit

import (
	"image"
	"strings"
)

// OverlayAsset is a rendered overlay bitmap and its pixel size.
type OverlayAsset struct {
	Image  *image.RGBA
	Width  int
	Height int
}

// Anchor names where an overlay sits in the frame.
type Anchor uint8

const (
	AnchorCenter Anchor = iota
	AnchorTopLeft
	AnchorTopRight
	AnchorBottomLeft
	AnchorBottomRight
)

func (a Anchor) String() string {
	switch a {
	case AnchorTopLeft:
		return "top-left"
	case AnchorTopRight:
		return "top-right"
	case AnchorBottomLeft:
		return "bottom-left"
	case AnchorBottomRight:
		return "bottom-right"
	default:
		return "center"
	}
}

// ParseAnchor maps a position name to an Anchor. Matching ignores case;
// unknown names mean center.
func ParseAnchor(name string) Anchor {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "top-left":
		return AnchorTopLeft
	case "top-right":
		return AnchorTopRight
	case "bottom-left":
		return AnchorBottomLeft
	case "bottom-right":
		return AnchorBottomRight
	default:
		return AnchorCenter
	}
}

// ResolveOverlayPosition returns the top-left pixel of an overlayW x
// overlayH overlay placed at anchor inside a frameW x frameH frame, with
// the origin at the frame's top-left corner. Edge anchors keep margin
// pixels from their edges. Both coordinates are clamped to
// [0, frameDim-overlayDim]; an overlay larger than the frame pins to 0.
func ResolveOverlayPosition(anchor Anchor, frameW, frameH, overlayW, overlayH, margin int) (x, y int) {
	maxX := frameW - overlayW
	maxY := frameH - overlayH

	switch anchor {
	case AnchorTopLeft:
		x, y = margin, margin
	case AnchorTopRight:
		x, y = maxX-margin, margin
	case AnchorBottomLeft:
		x, y = margin, maxY-margin
	case AnchorBottomRight:
		x, y = maxX-margin, maxY-margin
	default:
		x, y = maxX/2, maxY/2
	}
	return clampOffset(x, maxX), clampOffset(y, maxY)
}

func clampOffset(v, upper int) int {
	if upper < 0 {
		return 0
	}
	return min(max(v, 0), upper)
}
