package mediakit

import (
	"bytes"
	"io"
	"os"
	"time"

	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"
	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h265"
	"github.com/bluenviron/mediacommon/v2/pkg/formats/fmp4"
	"github.com/bluenviron/mediacommon/v2/pkg/formats/mp4"
	"github.com/pkg/errors"
)

// openFragmentedMP4 reads an initialization segment followed by
// moof/mdat fragments, as written by Muxer. Payloads are held in memory.
func openFragmentedMP4(f *os.File, firstMoof int64) (Reader, error) {
	const op = "fmp4.Open"
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, &Error{Kind: KindIO, Op: op, Err: err}
	}
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, &Error{Kind: KindIO, Op: op, Err: err}
	}
	if firstMoof <= 0 || firstMoof > int64(len(data)) {
		return nil, newError(KindFormat, op, "fragment offset %d outside file", firstMoof)
	}

	var init fmp4.Init
	if err := init.Unmarshal(bytes.NewReader(data[:firstMoof])); err != nil {
		return nil, &Error{Kind: KindFormat, Op: op, Err: errors.Wrap(err, "init segment")}
	}
	var parts fmp4.Parts
	if err := parts.Unmarshal(data[firstMoof:]); err != nil {
		return nil, &Error{Kind: KindFormat, Op: op, Err: errors.Wrap(err, "fragments")}
	}

	type fragTrack struct {
		desc      TrackDescriptor
		timescale uint32
		table     []sampleEntry
		end       uint64
	}
	byID := make(map[int]*fragTrack, len(init.Tracks))
	order := make([]*fragTrack, 0, len(init.Tracks))
	for _, it := range init.Tracks {
		desc, ok := describeFMP4Track(it.Codec)
		if !ok || it.TimeScale == 0 {
			continue
		}
		ft := &fragTrack{desc: desc, timescale: it.TimeScale}
		byID[it.ID] = ft
		order = append(order, ft)
	}

	for _, part := range parts {
		for _, pt := range part.Tracks {
			ft, ok := byID[pt.ID]
			if !ok {
				continue
			}
			dts := pt.BaseTime
			for _, s := range pt.Samples {
				dtsUs := int64(dts) * 1_000_000 / int64(ft.timescale)
				ptsUs := (int64(dts) + int64(s.PTSOffset)) * 1_000_000 / int64(ft.timescale)
				ft.table = append(ft.table, sampleEntry{
					size:    uint32(len(s.Payload)),
					payload: s.Payload,
					pts:     ptsUs,
					cto:     ptsUs - dtsUs,
					sync:    !s.IsNonSyncSample,
				})
				dts += uint64(s.Duration)
			}
			if dts > ft.end {
				ft.end = dts
			}
		}
	}

	r := newTableReader(f)
	for _, ft := range order {
		ft.desc.Duration = time.Duration(ft.end) * time.Second / time.Duration(ft.timescale)
		if ft.desc.IsVideo() && ft.desc.Duration > 0 {
			ft.desc.FrameRate = roundRate(float64(len(ft.table)) / ft.desc.Duration.Seconds())
		}
		r.addTrack(ft.desc, ft.table)
	}
	return r, nil
}

func describeFMP4Track(codec mp4.Codec) (TrackDescriptor, bool) {
	var desc TrackDescriptor
	switch c := codec.(type) {
	case *mp4.CodecH264:
		desc.Kind, desc.VideoCodec = KindVideo, VideoCodecH264
		desc.Config = CodecConfig{SPS: cloneBytes(c.SPS), PPS: cloneBytes(c.PPS)}
		var sps h264.SPS
		if err := sps.Unmarshal(c.SPS); err == nil {
			desc.Width, desc.Height = sps.Width(), sps.Height()
		}
	case *mp4.CodecH265:
		desc.Kind, desc.VideoCodec = KindVideo, VideoCodecH265
		desc.Config = CodecConfig{VPS: cloneBytes(c.VPS), SPS: cloneBytes(c.SPS), PPS: cloneBytes(c.PPS)}
		var sps h265.SPS
		if err := sps.Unmarshal(c.SPS); err == nil {
			desc.Width, desc.Height = sps.Width(), sps.Height()
		}
	case *mp4.CodecVP9:
		desc.Kind, desc.VideoCodec = KindVideo, VideoCodecVP9
		desc.Width, desc.Height = c.Width, c.Height
	case *mp4.CodecMPEG4Audio:
		desc.Kind, desc.AudioCodec = KindAudio, AudioCodecAAC
		asc, err := c.Config.Marshal()
		if err != nil {
			return desc, false
		}
		desc.Config.AudioSpecificConfig = asc
		desc.SampleRate, desc.Channels = c.Config.SampleRate, c.Config.ChannelCount
	case *mp4.CodecOpus:
		desc.Kind, desc.AudioCodec = KindAudio, AudioCodecOpus
		desc.SampleRate, desc.Channels = 48000, c.ChannelCount
	default:
		return desc, false
	}
	return desc, true
}
