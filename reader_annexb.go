package mediakit

import (
	"bufio"
	"io"
	"os"
	"time"

	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"
	"github.com/pion/webrtc/v4/pkg/media/h264reader"
	"github.com/pkg/errors"
)

// defaultElementaryFrameRate is assumed when a raw stream carries no
// timing information.
const defaultElementaryFrameRate = 30.0

func init() {
	registerContainer(ContainerAnnexB, openAnnexB)
}

// openAnnexB indexes a raw H.264 stream. NAL units are grouped into access
// units, converted to length-prefixed form and timestamped at the frame
// rate signalled in the SPS.
func openAnnexB(f *os.File) (Reader, error) {
	const op = "annexb.Open"
	nr, err := h264reader.NewReader(bufio.NewReader(f))
	if err != nil {
		return nil, &Error{Kind: KindFormat, Op: op, Err: err}
	}

	var (
		cfg      CodecConfig
		units    [][][]byte
		current  [][]byte
		hasSlice bool
	)
	flush := func() {
		if len(current) > 0 && hasSlice {
			units = append(units, current)
		}
		current, hasSlice = nil, false
	}

	for {
		nal, err := nr.NextNAL()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, &Error{Kind: KindFormat, Op: op, Err: err}
		}
		if len(nal.Data) == 0 {
			continue
		}
		switch nal.UnitType {
		case h264reader.NalUnitTypeSPS:
			if hasSlice {
				flush()
			}
			cfg.SPS = cloneBytes(nal.Data)
			continue
		case h264reader.NalUnitTypePPS:
			if hasSlice {
				flush()
			}
			cfg.PPS = cloneBytes(nal.Data)
			continue
		case h264reader.NalUnitTypeAUD:
			flush()
			continue
		case h264reader.NalUnitTypeSEI:
			if hasSlice {
				flush()
			}
		case h264reader.NalUnitTypeCodedSliceIdr, h264reader.NalUnitTypeCodedSliceNonIdr:
			// first_mb_in_slice == 0 opens a new picture.
			if hasSlice && len(nal.Data) > 1 && nal.Data[1]&0x80 != 0 {
				flush()
			}
			hasSlice = true
		}
		current = append(current, cloneBytes(nal.Data))
	}
	flush()

	if len(cfg.SPS) == 0 || len(cfg.PPS) == 0 {
		return nil, newError(KindFormat, op, "stream carries no SPS/PPS")
	}
	var sps h264.SPS
	if err := sps.Unmarshal(cfg.SPS); err != nil {
		return nil, &Error{Kind: KindFormat, Op: op, Err: errors.Wrap(err, "parse SPS")}
	}
	fps := sps.FPS()
	if fps <= 0 {
		fps = defaultElementaryFrameRate
	}

	table := make([]sampleEntry, 0, len(units))
	for i, au := range units {
		payload := joinLengthPrefixed(au)
		table = append(table, sampleEntry{
			size:    uint32(len(payload)),
			payload: payload,
			pts:     int64(float64(i) * 1e6 / fps),
			sync:    isRandomAccess(VideoCodecH264, au),
		})
	}

	r := newTableReader(f)
	r.addTrack(TrackDescriptor{
		Kind:       KindVideo,
		VideoCodec: VideoCodecH264,
		Width:      sps.Width(),
		Height:     sps.Height(),
		FrameRate:  roundRate(fps),
		Config:     cfg,
		Duration:   time.Duration(float64(len(units)) / fps * float64(time.Second)),
	}, table)
	return r, nil
}
