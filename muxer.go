package mediakit

import (
	"os"
	"time"

	"github.com/bluenviron/mediacommon/v2/pkg/codecs/mpeg4audio"
	"github.com/bluenviron/mediacommon/v2/pkg/formats/fmp4"
	"github.com/bluenviron/mediacommon/v2/pkg/formats/fmp4/seekablebuffer"
	"github.com/bluenviron/mediacommon/v2/pkg/formats/mp4"
	"github.com/hashicorp/go-hclog"
	"github.com/pkg/errors"
)

const (
	videoTimescale          = 90000
	defaultFragmentDuration = time.Second
)

// MuxerState is the lifecycle state of a Muxer.
type MuxerState int

const (
	MuxerIdle     MuxerState = iota // Accepting tracks
	MuxerStarted                    // Track set frozen, accepting samples
	MuxerStopped                    // Final fragment written
	MuxerReleased                   // File closed
)

func (s MuxerState) String() string {
	switch s {
	case MuxerIdle:
		return "idle"
	case MuxerStarted:
		return "started"
	case MuxerStopped:
		return "stopped"
	case MuxerReleased:
		return "released"
	default:
		return "unknown"
	}
}

// MuxerConfig configures a Muxer.
type MuxerConfig struct {
	FragmentDuration time.Duration // Minimum span of a fragment before it is cut on a keyframe
	Logger           hclog.Logger
}

// muxerTrack is the per-track state of the muxer.
type muxerTrack struct {
	id        int
	desc      TrackDescriptor
	codec     mp4.Codec
	timescale uint32

	baseline int64 // first timestamp written, microseconds
	last     int64 // last timestamp written, microseconds
	started  bool

	pending      []*pendingSample
	lastDuration uint32
	written      int
}

type pendingSample struct {
	ticks     int64 // decode time
	ptsOffset int32
	duration  uint32
	sync      bool
	payload   []byte
}

// Muxer writes encoded tracks into a fragmented MP4 file.
//
// Tracks are added before Start; Start writes the initialization segment
// and freezes the track set. Samples must be written with strictly
// increasing decode timestamps per track. Stop and Release are no-ops when Start
// was never reached.
type Muxer struct {
	path   string
	config MuxerConfig
	log    hclog.Logger

	state  MuxerState
	file   *os.File
	tracks []*muxerTrack
	video  int // index of the first video track, -1 if none
	seq    uint32
}

// NewMuxer creates a muxer that will write to path once started.
func NewMuxer(path string, config MuxerConfig) *Muxer {
	if config.FragmentDuration <= 0 {
		config.FragmentDuration = defaultFragmentDuration
	}
	return &Muxer{
		path:   path,
		config: config,
		log:    loggerOr(config.Logger).Named("muxer"),
		video:  -1,
	}
}

// Path returns the output file path.
func (m *Muxer) Path() string { return m.path }

// State returns the current lifecycle state.
func (m *Muxer) State() MuxerState { return m.state }

// AddTrack registers an output track and returns its index.
func (m *Muxer) AddTrack(desc TrackDescriptor) (int, error) {
	if m.state != MuxerIdle {
		return -1, newError(KindMuxerState, "muxer.AddTrack", "cannot add track in state %s", m.state)
	}
	codec, err := mp4CodecFor(desc)
	if err != nil {
		return -1, err
	}
	t := &muxerTrack{
		id:        len(m.tracks) + 1,
		desc:      desc,
		codec:     codec,
		timescale: timescaleFor(desc),
	}
	t.lastDuration = defaultSampleDuration(desc, t.timescale)
	m.tracks = append(m.tracks, t)
	idx := len(m.tracks) - 1
	if desc.IsVideo() && m.video < 0 {
		m.video = idx
	}
	m.log.Debug("track added", "index", idx, "kind", desc.Kind, "codec", desc.CodecName(), "timescale", t.timescale)
	return idx, nil
}

// Start creates the output file and writes the initialization segment.
func (m *Muxer) Start() error {
	if m.state != MuxerIdle {
		return newError(KindMuxerState, "muxer.Start", "already %s", m.state)
	}
	if len(m.tracks) == 0 {
		return newError(KindMuxerState, "muxer.Start", "no tracks registered")
	}

	init := &fmp4.Init{}
	for _, t := range m.tracks {
		init.Tracks = append(init.Tracks, &fmp4.InitTrack{
			ID:        t.id,
			TimeScale: t.timescale,
			Codec:     t.codec,
		})
	}
	var buf seekablebuffer.Buffer
	if err := init.Marshal(&buf); err != nil {
		return &Error{Kind: KindFormat, Op: "muxer.Start", Err: errors.Wrap(err, "marshal init segment")}
	}

	f, err := os.Create(m.path)
	if err != nil {
		return &Error{Kind: KindIO, Op: "muxer.Start", Err: errors.Wrap(err, "create output")}
	}
	if _, err := f.Write(buf.Bytes()); err != nil {
		f.Close()
		os.Remove(m.path)
		return &Error{Kind: KindIO, Op: "muxer.Start", Err: errors.Wrap(err, "write init segment")}
	}
	m.file = f
	m.state = MuxerStarted
	m.log.Debug("started", "path", m.path, "tracks", len(m.tracks))
	return nil
}

// WriteSample appends a sample to a track. Its decode timestamp must
// already be normalized and greater than the previous one on the same
// track. The composition offset is written as the sample's PTS offset.
// Codec-config and empty end-of-stream samples are dropped.
func (m *Muxer) WriteSample(track int, s *Sample) error {
	if m.state != MuxerStarted {
		return newError(KindMuxerState, "muxer.WriteSample", "write in state %s", m.state)
	}
	if track < 0 || track >= len(m.tracks) {
		return newError(KindMuxerState, "muxer.WriteSample", "unknown track %d", track)
	}
	if s.IsCodecConfig() || len(s.Data) == 0 {
		return nil
	}
	t := m.tracks[track]
	dts := s.DTS()
	if t.started && dts <= t.last {
		return newError(KindMuxerState, "muxer.WriteSample",
			"track %d timestamp %d not after %d", track, dts, t.last)
	}
	if !t.started {
		t.baseline = dts
		t.started = true
	}
	t.last = dts

	ticks := scaleTimestamp(dts, t.timescale)
	ptsOffset := scaleTimestamp(s.PTS, t.timescale) - ticks
	sync := s.IsKeyframe() || !t.desc.IsVideo()

	// A keyframe on the lead video track closes the running fragment once
	// it spans long enough.
	if track == m.video && sync && len(t.pending) > 0 {
		span := ticks - t.pending[0].ticks
		if span >= scaleTimestamp(m.config.FragmentDuration.Microseconds(), t.timescale) {
			t.append(ticks, 0, false, nil)
			if err := m.flush(false); err != nil {
				return err
			}
		}
	}
	t.append(ticks, ptsOffset, sync, s.Data)
	return nil
}

// append records a new sample and completes the duration of the previous
// one. A nil payload only closes the previous sample.
func (t *muxerTrack) append(ticks, ptsOffset int64, sync bool, payload []byte) {
	if n := len(t.pending); n > 0 {
		prev := t.pending[n-1]
		if prev.duration == 0 {
			d := ticks - prev.ticks
			if d <= 0 {
				d = 1
			}
			prev.duration = uint32(d)
			t.lastDuration = prev.duration
		}
	}
	if payload == nil {
		return
	}
	t.pending = append(t.pending, &pendingSample{ticks: ticks, ptsOffset: int32(ptsOffset), sync: sync, payload: payload})
}

// flush writes every sample with a known duration as one fragment. With
// final set, held-back samples get the last observed duration.
func (m *Muxer) flush(final bool) error {
	part := &fmp4.Part{SequenceNumber: m.seq}
	for _, t := range m.tracks {
		n := len(t.pending)
		if n == 0 {
			continue
		}
		ready := n
		if !final && t.pending[n-1].duration == 0 {
			ready = n - 1
		}
		if ready == 0 {
			continue
		}
		pt := &fmp4.PartTrack{
			ID:       t.id,
			BaseTime: uint64(t.pending[0].ticks),
		}
		for _, p := range t.pending[:ready] {
			if p.duration == 0 {
				p.duration = t.lastDuration
			}
			pt.Samples = append(pt.Samples, &fmp4.Sample{
				Duration:        p.duration,
				PTSOffset:       p.ptsOffset,
				IsNonSyncSample: !p.sync,
				Payload:         p.payload,
			})
		}
		part.Tracks = append(part.Tracks, pt)
		t.written += ready
		t.pending = append(t.pending[:0], t.pending[ready:]...)
	}
	if len(part.Tracks) == 0 {
		return nil
	}

	var buf seekablebuffer.Buffer
	if err := part.Marshal(&buf); err != nil {
		return &Error{Kind: KindFormat, Op: "muxer.flush", Err: errors.Wrap(err, "marshal fragment")}
	}
	if _, err := m.file.Write(buf.Bytes()); err != nil {
		return &Error{Kind: KindIO, Op: "muxer.flush", Err: errors.Wrap(err, "write fragment")}
	}
	m.seq++
	return nil
}

// Stop writes the remaining samples and syncs the file.
func (m *Muxer) Stop() error {
	if m.state != MuxerStarted {
		return nil
	}
	m.state = MuxerStopped
	if err := m.flush(true); err != nil {
		return err
	}
	if err := m.file.Sync(); err != nil {
		return &Error{Kind: KindIO, Op: "muxer.Stop", Err: errors.Wrap(err, "sync output")}
	}
	for i, t := range m.tracks {
		m.log.Debug("track finalized", "index", i, "samples", t.written, "duration", m.TrackDuration(i))
	}
	return nil
}

// Release closes the output file. Calling it more than once, or before
// Start, is a no-op.
func (m *Muxer) Release() error {
	if m.file == nil {
		m.state = MuxerReleased
		return nil
	}
	err := m.file.Close()
	m.file = nil
	m.state = MuxerReleased
	if err != nil {
		return &Error{Kind: KindIO, Op: "muxer.Release", Err: err}
	}
	return nil
}

// TrackDuration returns the span written to a track so far, including the
// duration of its last sample.
func (m *Muxer) TrackDuration(track int) time.Duration {
	if track < 0 || track >= len(m.tracks) {
		return 0
	}
	t := m.tracks[track]
	if !t.started {
		return 0
	}
	lastUs := int64(t.lastDuration) * 1_000_000 / int64(t.timescale)
	return time.Duration(t.last-t.baseline+lastUs) * time.Microsecond
}

// mp4CodecFor maps a track descriptor onto an MP4 sample entry.
func mp4CodecFor(desc TrackDescriptor) (mp4.Codec, error) {
	const op = "muxer.AddTrack"
	switch desc.Kind {
	case KindVideo:
		cfg := desc.Config
		switch desc.VideoCodec {
		case VideoCodecH264:
			if len(cfg.SPS) == 0 || len(cfg.PPS) == 0 {
				return nil, newError(KindFormat, op, "h264 track without SPS/PPS")
			}
			return &mp4.CodecH264{SPS: cfg.SPS, PPS: cfg.PPS}, nil
		case VideoCodecH265:
			if len(cfg.VPS) == 0 || len(cfg.SPS) == 0 || len(cfg.PPS) == 0 {
				return nil, newError(KindFormat, op, "h265 track without VPS/SPS/PPS")
			}
			return &mp4.CodecH265{VPS: cfg.VPS, SPS: cfg.SPS, PPS: cfg.PPS}, nil
		case VideoCodecVP9:
			return &mp4.CodecVP9{
				Width:             desc.Width,
				Height:            desc.Height,
				Profile:           0,
				BitDepth:          8,
				ChromaSubsampling: 1,
			}, nil
		}
		return nil, newError(KindFormat, op, "video codec %s cannot be stored in mp4", desc.VideoCodec)
	case KindAudio:
		switch desc.AudioCodec {
		case AudioCodecAAC:
			var asc mpeg4audio.AudioSpecificConfig
			if err := asc.Unmarshal(desc.Config.AudioSpecificConfig); err != nil {
				return nil, &Error{Kind: KindFormat, Op: op, Err: errors.Wrap(err, "aac config")}
			}
			return &mp4.CodecMPEG4Audio{Config: asc}, nil
		case AudioCodecOpus:
			channels := desc.Channels
			if channels == 0 {
				channels = 2
			}
			return &mp4.CodecOpus{ChannelCount: channels}, nil
		}
		return nil, newError(KindFormat, op, "audio codec %s cannot be stored in mp4", desc.AudioCodec)
	}
	return nil, newError(KindFormat, op, "unsupported track kind %s", desc.Kind)
}

func timescaleFor(desc TrackDescriptor) uint32 {
	if desc.IsAudio() {
		if desc.AudioCodec == AudioCodecOpus {
			return 48000
		}
		if desc.SampleRate > 0 {
			return uint32(desc.SampleRate)
		}
		return 48000
	}
	return videoTimescale
}

func defaultSampleDuration(desc TrackDescriptor, timescale uint32) uint32 {
	if desc.IsAudio() {
		if desc.AudioCodec == AudioCodecOpus {
			return 960
		}
		return 1024
	}
	fps := desc.FrameRate
	if fps <= 0 {
		fps = 30
	}
	return uint32(float64(timescale)/fps + 0.5)
}

// scaleTimestamp converts microseconds to timescale ticks.
func scaleTimestamp(us int64, timescale uint32) int64 {
	return us * int64(timescale) / 1_000_000
}
