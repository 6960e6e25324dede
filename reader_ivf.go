package mediakit

import (
	"encoding/binary"
	"io"
	"os"
	"time"

	"github.com/pion/webrtc/v4/pkg/media/ivfreader"
	"github.com/pkg/errors"
)

const (
	ivfFileHeaderSize  = 32
	ivfFrameHeaderSize = 12
)

func init() {
	registerContainer(ContainerIVF, openIVF)
}

// openIVF indexes an IVF file. Frame payloads stay on disk and are read
// by offset.
func openIVF(f *os.File) (Reader, error) {
	const op = "ivf.Open"
	ir, header, err := ivfreader.NewWith(f)
	if err != nil {
		return nil, &Error{Kind: KindFormat, Op: op, Err: err}
	}

	var codec VideoCodec
	switch header.FourCC {
	case "VP80":
		codec = VideoCodecVP8
	case "VP90":
		codec = VideoCodecVP9
	case "AV01":
		codec = VideoCodecAV1
	default:
		return nil, newError(KindFormat, op, "unsupported fourcc %q", header.FourCC)
	}
	if header.TimebaseDenominator == 0 || header.TimebaseNumerator == 0 {
		return nil, newError(KindFormat, op, "invalid timebase %d/%d", header.TimebaseNumerator, header.TimebaseDenominator)
	}

	var (
		table  []sampleEntry
		offset = int64(ivfFileHeaderSize)
	)
	for {
		payload, fh, err := ir.ParseNextFrame()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			// A truncated trailing frame ends the stream.
			if len(table) > 0 && errors.Is(err, io.ErrUnexpectedEOF) {
				break
			}
			return nil, &Error{Kind: KindFormat, Op: op, Err: err}
		}
		pts, err := ivfFramePTS(f, offset)
		if err != nil {
			return nil, &Error{Kind: KindFormat, Op: op, Err: err}
		}
		offset += ivfFrameHeaderSize
		us := int64(pts) * int64(header.TimebaseNumerator) * 1_000_000 / int64(header.TimebaseDenominator)
		table = append(table, sampleEntry{
			offset: offset,
			size:   fh.FrameSize,
			pts:    us,
			sync:   videoKeyframe(codec, payload),
		})
		offset += int64(fh.FrameSize)
	}

	desc := TrackDescriptor{
		Kind:       KindVideo,
		VideoCodec: codec,
		Width:      int(header.Width),
		Height:     int(header.Height),
	}
	if n := len(table); n > 0 {
		step := int64(header.TimebaseNumerator) * 1_000_000 / int64(header.TimebaseDenominator)
		if n > 1 {
			step = (table[n-1].pts - table[0].pts) / int64(n-1)
		}
		if step > 0 {
			desc.Duration = time.Duration(table[n-1].pts-table[0].pts+step) * time.Microsecond
			desc.FrameRate = roundRate(1e6 / float64(step))
		}
	}

	r := newTableReader(f)
	r.addTrack(desc, table)
	return r, nil
}

// ivfFramePTS reads the raw timebase pts of the frame header at offset.
// The parsed header's Timestamp is already rescaled by the reader and
// cannot be used as-is.
func ivfFramePTS(f *os.File, offset int64) (uint64, error) {
	var hdr [ivfFrameHeaderSize]byte
	if _, err := f.ReadAt(hdr[:], offset); err != nil {
		return 0, errors.Wrapf(err, "read frame header at %d", offset)
	}
	return binary.LittleEndian.Uint64(hdr[4:12]), nil
}
