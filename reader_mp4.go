package mediakit

import (
	"io"
	"os"
	"time"

	amp4 "github.com/abema/go-mp4"
	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"
	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h265"
	"github.com/bluenviron/mediacommon/v2/pkg/codecs/mpeg4audio"
	"github.com/pkg/errors"
)

func init() {
	registerContainer(ContainerMP4, openMP4)
}

// openMP4 builds sample tables for a progressive MP4. Fragmented files are
// handed to the fMP4 reader.
func openMP4(f *os.File) (Reader, error) {
	moofs, err := amp4.ExtractBox(f, nil, amp4.BoxPath{amp4.BoxTypeMoof()})
	if err != nil {
		return nil, &Error{Kind: KindFormat, Op: "mp4.Open", Err: errors.Wrap(err, "scan boxes")}
	}
	if len(moofs) > 0 {
		return openFragmentedMP4(f, int64(moofs[0].Offset))
	}

	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	info, err := amp4.Probe(f)
	if err != nil {
		return nil, &Error{Kind: KindFormat, Op: "mp4.Open", Err: errors.Wrap(err, "read boxes")}
	}
	traks, err := amp4.ExtractBox(f, nil, amp4.BoxPath{amp4.BoxTypeMoov(), amp4.BoxTypeTrak()})
	if err != nil {
		return nil, &Error{Kind: KindFormat, Op: "mp4.Open", Err: errors.Wrap(err, "extract trak")}
	}

	r := newTableReader(f)
	for i, track := range info.Tracks {
		if track.Encrypted || track.Timescale == 0 || i >= len(traks) {
			continue
		}
		boxes, err := readTrakBoxes(f, traks[i])
		if err != nil {
			return nil, err
		}
		desc, ok := describeMP4Track(track, boxes)
		if !ok {
			continue
		}
		table := buildSampleTable(track, boxes.syncSamples)
		r.addTrack(desc, table)
	}
	return r, nil
}

// trakBoxes holds the boxes of one trak the Probe summary does not expose.
type trakBoxes struct {
	tkhd        *amp4.Tkhd
	avcC        *amp4.AVCDecoderConfiguration
	hvcC        *amp4.HvcC
	esds        *amp4.Esds
	syncSamples map[uint32]bool // nil when every sample is a sync sample
}

func readTrakBoxes(f *os.File, trak *amp4.BoxInfo) (*trakBoxes, error) {
	stbl := []amp4.BoxType{amp4.BoxTypeMdia(), amp4.BoxTypeMinf(), amp4.BoxTypeStbl()}
	stsd := append(append([]amp4.BoxType{}, stbl...), amp4.BoxTypeStsd())
	path := func(types ...amp4.BoxType) amp4.BoxPath {
		return append(append(amp4.BoxPath{}, stsd...), types...)
	}

	boxes, err := amp4.ExtractBoxesWithPayload(f, trak, []amp4.BoxPath{
		{amp4.BoxTypeTkhd()},
		append(append(amp4.BoxPath{}, stbl...), amp4.BoxTypeStss()),
		path(amp4.BoxTypeAvc1(), amp4.BoxTypeAvcC()),
		path(amp4.BoxTypeHvc1(), amp4.BoxTypeHvcC()),
		path(amp4.BoxTypeHev1(), amp4.BoxTypeHvcC()),
		path(amp4.BoxTypeMp4a(), amp4.BoxTypeEsds()),
	})
	if err != nil {
		return nil, &Error{Kind: KindFormat, Op: "mp4.Open", Err: errors.Wrap(err, "extract track boxes")}
	}

	out := &trakBoxes{}
	for _, b := range boxes {
		switch p := b.Payload.(type) {
		case *amp4.Tkhd:
			out.tkhd = p
		case *amp4.Stss:
			out.syncSamples = make(map[uint32]bool, len(p.SampleNumber))
			for _, n := range p.SampleNumber {
				out.syncSamples[n] = true
			}
		case *amp4.AVCDecoderConfiguration:
			out.avcC = p
		case *amp4.HvcC:
			out.hvcC = p
		case *amp4.Esds:
			out.esds = p
		}
	}
	return out, nil
}

// describeMP4Track builds a descriptor for the codecs the pipeline
// understands. Other tracks are skipped.
func describeMP4Track(track *amp4.Track, boxes *trakBoxes) (TrackDescriptor, bool) {
	desc := TrackDescriptor{
		Duration: time.Duration(track.Duration) * time.Second / time.Duration(track.Timescale),
	}
	if boxes.tkhd != nil {
		desc.Rotation = rotationFromMatrix(boxes.tkhd.Matrix)
	}

	switch {
	case track.Codec == amp4.CodecAVC1 && boxes.avcC != nil:
		desc.Kind = KindVideo
		desc.VideoCodec = VideoCodecH264
		if len(boxes.avcC.SequenceParameterSets) > 0 {
			desc.Config.SPS = cloneBytes(boxes.avcC.SequenceParameterSets[0].NALUnit)
		}
		if len(boxes.avcC.PictureParameterSets) > 0 {
			desc.Config.PPS = cloneBytes(boxes.avcC.PictureParameterSets[0].NALUnit)
		}
		var sps h264.SPS
		if err := sps.Unmarshal(desc.Config.SPS); err == nil {
			desc.Width, desc.Height = sps.Width(), sps.Height()
		} else if track.AVC != nil {
			desc.Width, desc.Height = int(track.AVC.Width), int(track.AVC.Height)
		}
	case boxes.hvcC != nil:
		desc.Kind = KindVideo
		desc.VideoCodec = VideoCodecH265
		for _, arr := range boxes.hvcC.NaluArrays {
			if len(arr.Nalus) == 0 {
				continue
			}
			nalu := cloneBytes(arr.Nalus[0].NALUnit)
			switch h265.NALUType(arr.NaluType) {
			case h265.NALUType_VPS_NUT:
				desc.Config.VPS = nalu
			case h265.NALUType_SPS_NUT:
				desc.Config.SPS = nalu
			case h265.NALUType_PPS_NUT:
				desc.Config.PPS = nalu
			}
		}
		var sps h265.SPS
		if err := sps.Unmarshal(desc.Config.SPS); err == nil {
			desc.Width, desc.Height = sps.Width(), sps.Height()
		}
	case track.Codec == amp4.CodecMP4A:
		desc.Kind = KindAudio
		desc.AudioCodec = AudioCodecAAC
		desc.Config.AudioSpecificConfig = decoderSpecificInfo(boxes.esds)
		var asc mpeg4audio.AudioSpecificConfig
		if err := asc.Unmarshal(desc.Config.AudioSpecificConfig); err == nil {
			desc.SampleRate, desc.Channels = asc.SampleRate, asc.ChannelCount
		} else if track.MP4A != nil {
			desc.Channels = int(track.MP4A.ChannelCount)
			desc.SampleRate = int(track.Timescale)
		}
	default:
		return desc, false
	}

	if desc.IsVideo() {
		var ticks uint64
		for _, s := range track.Samples {
			ticks += uint64(s.TimeDelta)
		}
		if ticks > 0 {
			desc.FrameRate = roundRate(float64(len(track.Samples)) * float64(track.Timescale) / float64(ticks))
		}
	}
	return desc, true
}

// decoderSpecificInfo digs the AudioSpecificConfig out of an esds box.
func decoderSpecificInfo(esds *amp4.Esds) []byte {
	if esds == nil {
		return nil
	}
	for _, d := range esds.Descriptors {
		if d.Tag == amp4.DecSpecificInfoTag {
			return cloneBytes(d.Data)
		}
	}
	return nil
}

// buildSampleTable lays out sample offsets chunk by chunk and converts
// decode times plus composition offsets into presentation microseconds.
func buildSampleTable(track *amp4.Track, syncSamples map[uint32]bool) []sampleEntry {
	table := make([]sampleEntry, 0, len(track.Samples))
	var dts int64
	idx := 0
	for _, chunk := range track.Chunks {
		offset := int64(chunk.DataOffset)
		for i := uint32(0); i < chunk.SamplesPerChunk && idx < len(track.Samples); i++ {
			s := track.Samples[idx]
			dtsUs := dts * 1_000_000 / int64(track.Timescale)
			ptsUs := (dts + s.CompositionTimeOffset) * 1_000_000 / int64(track.Timescale)
			table = append(table, sampleEntry{
				offset: offset,
				size:   s.Size,
				pts:    ptsUs,
				cto:    ptsUs - dtsUs,
				sync:   syncSamples == nil || syncSamples[uint32(idx+1)],
			})
			offset += int64(s.Size)
			dts += int64(s.TimeDelta)
			idx++
		}
	}
	return table
}

// rotationFromMatrix reads the display rotation from a tkhd matrix
// (16.16 fixed point a, b, c, d at indices 0, 1, 3, 4).
func rotationFromMatrix(m [9]int32) int {
	a, b, c, d := m[0], m[1], m[3], m[4]
	switch {
	case a == 0 && b > 0 && c < 0 && d == 0:
		return 90
	case a < 0 && b == 0 && c == 0 && d < 0:
		return 180
	case a == 0 && b < 0 && c > 0 && d == 0:
		return 270
	default:
		return 0
	}
}
