package mediakit

import (
	"fmt"

	"github.com/samber/lo"
)

// Signature is the exact-match encoding key of a video source. Two sources
// with equal signatures can be concatenated without re-encoding.
type Signature struct {
	Codec             VideoCodec `json:"codec"`
	Width             int        `json:"width"`
	Height            int        `json:"height"`
	FrameRate         float64    `json:"fps"`
	ConfigFingerprint string     `json:"configFingerprint,omitempty"`
}

func (s Signature) String() string {
	fp := s.ConfigFingerprint
	if len(fp) > 12 {
		fp = fp[:12]
	}
	return fmt.Sprintf("%s %dx%d@%.2f [%s]", s.Codec, s.Width, s.Height, s.FrameRate, fp)
}

// ComputeSignature returns the signature of the reader's first video
// track.
func ComputeSignature(r Reader) (Signature, error) {
	idx := FindTrack(r, KindVideo)
	if idx < 0 {
		return Signature{}, newError(KindFormat, "merge.Signature", "no video track")
	}
	t := r.Tracks()[idx]
	return Signature{
		Codec:             t.VideoCodec,
		Width:             t.Width,
		Height:            t.Height,
		FrameRate:         roundRate(t.FrameRate),
		ConfigFingerprint: t.Config.Fingerprint(),
	}, nil
}

// TargetSignature picks the most frequent signature; the first seen wins
// ties. A target whose codec cannot be stored in MP4 becomes H.264 at the
// same size and rate, which matches no source.
func TargetSignature(sigs []Signature) (Signature, error) {
	if len(sigs) == 0 {
		return Signature{}, newError(KindInvalidArgument, "merge.Target", "no sources")
	}
	counts := lo.CountValues(sigs)
	target := lo.MaxBy(lo.Uniq(sigs), func(a, b Signature) bool {
		return counts[a] > counts[b]
	})
	if !target.Codec.Muxable() {
		target = Signature{
			Codec:     VideoCodecH264,
			Width:     target.Width,
			Height:    target.Height,
			FrameRate: target.FrameRate,
		}
	}
	return target, nil
}
