package mediakit

import (
	"io"
	"time"

	"github.com/pkg/errors"
)

// copyOptions bounds a passthrough track copy.
type copyOptions struct {
	Seek    bool  // Start from the nearest sync sample at or before StartUs
	StartUs int64 // Source timestamp to seek to
	EndUs   int64 // Stop before this source timestamp (0 = end of track)

	// Config, when set, is prepended in-band to every video keyframe. It
	// carries parameter sets that differ from the output track's.
	Config *CodecConfig
}

// copyTrack forwards one track from r to the muxer without re-encoding.
// Decode timestamps pass through n and composition offsets are kept, so
// reordered frames keep their presentation order. Video copying starts at
// the first keyframe.
// It returns the span of the copied samples on the output timeline,
// including the duration of the last sample.
func copyTrack(r Reader, track int, m *Muxer, muxTrack int, n *TimestampNormalizer, opts copyOptions) (time.Duration, error) {
	const op = "copy.Track"
	if err := r.SelectTrack(track); err != nil {
		return 0, err
	}
	desc := r.Tracks()[track]
	if opts.Seek {
		if err := r.SeekToNearestSyncBefore(opts.StartUs); err != nil {
			return 0, err
		}
	}

	var (
		first, last, delta int64
		count              int
		seenKey            bool
	)
	for {
		s, err := r.ReadSample()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return 0, wrapError(KindIO, op, err)
		}
		if opts.EndUs > 0 && s.DTS() >= opts.EndUs {
			break
		}
		if desc.IsVideo() && !seenKey {
			if !s.IsKeyframe() {
				continue
			}
			seenKey = true
		}
		if desc.IsVideo() && opts.Config != nil && s.IsKeyframe() {
			s.Data = prependParameterSets(s.Data, *opts.Config)
		}

		dts := n.Next(s.DTS())
		s.PTS = dts + s.CompositionOffset
		if err := m.WriteSample(muxTrack, s); err != nil {
			return 0, err
		}

		if count == 0 {
			first = dts
		} else {
			delta = dts - last
		}
		last = dts
		count++
	}

	if count == 0 {
		return 0, nil
	}
	if delta <= 0 {
		delta = nominalSampleDuration(desc)
	}
	return time.Duration(last-first+delta) * time.Microsecond, nil
}

// nominalSampleDuration is the expected spacing of a track's samples in
// microseconds.
func nominalSampleDuration(desc TrackDescriptor) int64 {
	if desc.IsAudio() {
		rate := desc.SampleRate
		if rate <= 0 {
			rate = 48000
		}
		frame := int64(1024)
		if desc.AudioCodec == AudioCodecOpus {
			frame = 960
			rate = 48000
		}
		return frame * 1_000_000 / int64(rate)
	}
	fps := desc.FrameRate
	if fps <= 0 {
		fps = DefaultFrameRate
	}
	return int64(1e6/fps + 0.5)
}
