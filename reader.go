package mediakit

import (
	"io"
	"os"
	"sync"

	"github.com/pkg/errors"
)

// ContainerKind identifies the layout of a media file.
type ContainerKind int

const (
	ContainerUnknown ContainerKind = iota
	ContainerMP4                   // ISO BMFF, progressive or fragmented
	ContainerAnnexB                // Raw H.264 elementary stream
	ContainerIVF                   // IVF (VP8/VP9/AV1)
)

func (k ContainerKind) String() string {
	switch k {
	case ContainerMP4:
		return "MP4"
	case ContainerAnnexB:
		return "AnnexB"
	case ContainerIVF:
		return "IVF"
	default:
		return "Unknown"
	}
}

// Reader extracts compressed samples from a container.
//
// A track must be selected before samples are read. Samples of the
// selected track are returned in decode order with presentation
// timestamps in microseconds. ReadSample returns io.EOF at the end of the
// track.
type Reader interface {
	io.Closer

	// Tracks lists the usable tracks of the container.
	Tracks() []TrackDescriptor

	// SelectTrack chooses the track subsequent reads return and rewinds
	// it to its first sample.
	SelectTrack(index int) error

	// SeekToNearestSyncBefore positions the selected track on the last
	// sync sample at or before the given time.
	SeekToNearestSyncBefore(us int64) error

	// ReadSample returns the next sample of the selected track.
	ReadSample() (*Sample, error)
}

// containerOpener builds a Reader over an opened file.
type containerOpener func(f *os.File) (Reader, error)

var (
	containersMu sync.RWMutex
	containers   = make(map[ContainerKind]containerOpener)
)

// registerContainer registers the opener for a container kind (called by
// init() in the reader implementations).
func registerContainer(kind ContainerKind, open containerOpener) {
	containersMu.Lock()
	defer containersMu.Unlock()
	containers[kind] = open
}

// SniffContainer classifies a file from its first bytes.
func SniffContainer(header []byte) ContainerKind {
	if len(header) >= 8 {
		switch string(header[4:8]) {
		case "ftyp", "styp", "moov", "moof", "mdat", "free", "skip", "wide":
			return ContainerMP4
		}
	}
	if len(header) >= 4 && string(header[0:4]) == "DKIF" {
		return ContainerIVF
	}
	if DetectVideoCodec(header) == VideoCodecH264 {
		return ContainerAnnexB
	}
	return ContainerUnknown
}

// OpenReader opens a media file and enumerates its tracks. It fails with a
// format error when the container is not recognized or holds no usable
// track.
func OpenReader(path string) (Reader, error) {
	const op = "reader.Open"
	f, err := os.Open(path)
	if err != nil {
		return nil, &Error{Kind: KindIO, Op: op, Err: err}
	}

	header := make([]byte, 64)
	n, err := io.ReadFull(f, header)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		f.Close()
		return nil, &Error{Kind: KindIO, Op: op, Err: err}
	}
	kind := SniffContainer(header[:n])

	containersMu.RLock()
	open := containers[kind]
	containersMu.RUnlock()
	if open == nil {
		f.Close()
		return nil, newError(KindFormat, op, "unrecognized container in %s", path)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		f.Close()
		return nil, &Error{Kind: KindIO, Op: op, Err: err}
	}

	r, err := open(f)
	if err != nil {
		f.Close()
		return nil, wrapError(KindFormat, op, err)
	}
	if len(r.Tracks()) == 0 {
		r.Close()
		return nil, newError(KindFormat, op, "no parseable tracks in %s", path)
	}
	return r, nil
}

// FindTrack returns the index of the first track of the given kind, or -1.
func FindTrack(r Reader, kind MediaKind) int {
	for i, t := range r.Tracks() {
		if t.Kind == kind {
			return i
		}
	}
	return -1
}

// sampleEntry is one row of a track's sample table.
type sampleEntry struct {
	offset  int64
	size    uint32
	payload []byte // set when the sample is held in memory
	pts     int64  // microseconds
	cto     int64  // pts minus decode time, microseconds
	sync    bool
}

// tableReader serves samples from per-track tables built when the
// container is opened. Payloads are read lazily from the file unless the
// table already holds them.
type tableReader struct {
	src    io.ReaderAt
	closer io.Closer

	tracks []TrackDescriptor
	tables [][]sampleEntry

	selected int
	pos      int
}

func newTableReader(f *os.File) *tableReader {
	return &tableReader{src: f, closer: f, selected: -1}
}

// addTrack appends a track and its sample table. Tracks without samples
// are dropped.
func (r *tableReader) addTrack(desc TrackDescriptor, table []sampleEntry) {
	if len(table) == 0 {
		return
	}
	desc.Index = len(r.tracks)
	r.tracks = append(r.tracks, desc)
	r.tables = append(r.tables, table)
}

func (r *tableReader) Tracks() []TrackDescriptor {
	out := make([]TrackDescriptor, len(r.tracks))
	copy(out, r.tracks)
	return out
}

func (r *tableReader) SelectTrack(index int) error {
	if index < 0 || index >= len(r.tracks) {
		return newError(KindInvalidArgument, "reader.SelectTrack", "track %d out of range [0,%d)", index, len(r.tracks))
	}
	r.selected = index
	r.pos = 0
	return nil
}

func (r *tableReader) SeekToNearestSyncBefore(us int64) error {
	if r.selected < 0 {
		return newError(KindInternal, "reader.Seek", "no track selected")
	}
	table := r.tables[r.selected]
	r.pos = 0
	for i, e := range table {
		if e.sync && e.pts <= us {
			r.pos = i
		}
	}
	return nil
}

func (r *tableReader) ReadSample() (*Sample, error) {
	if r.selected < 0 {
		return nil, newError(KindInternal, "reader.ReadSample", "no track selected")
	}
	table := r.tables[r.selected]
	if r.pos >= len(table) {
		return nil, io.EOF
	}
	e := table[r.pos]
	r.pos++

	data := e.payload
	if data == nil {
		data = make([]byte, e.size)
		if _, err := r.src.ReadAt(data, e.offset); err != nil {
			return nil, &Error{Kind: KindIO, Op: "reader.ReadSample", Err: errors.Wrapf(err, "sample at offset %d", e.offset)}
		}
	}
	s := &Sample{Data: data, PTS: e.pts, CompositionOffset: e.cto}
	if e.sync {
		s.Flags |= SampleFlagKeyframe
	}
	return s, nil
}

func (r *tableReader) Close() error {
	if r.closer == nil {
		return nil
	}
	err := r.closer.Close()
	r.closer = nil
	return err
}

// roundRate rounds a frame rate to two decimals so identical encodes
// compare equal.
func roundRate(fps float64) float64 {
	if fps <= 0 {
		return 0
	}
	return float64(int64(fps*100+0.5)) / 100
}
