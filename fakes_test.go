package mediakit

import (
	"math/bits"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// buildTestSPS returns a baseline H.264 SPS describing a width x height
// picture, cropped from whole macroblocks when needed.
func buildTestSPS(width, height int) []byte {
	var w bitWriter
	mbw, mbh := (width+15)/16, (height+15)/16

	w.writeBits(66, 8)   // profile_idc: baseline
	w.writeBits(0xc0, 8) // constraint_set0/1
	w.writeBits(0x28, 8) // level 4.0
	w.ue(0)              // seq_parameter_set_id
	w.ue(0)              // log2_max_frame_num_minus4
	w.ue(2)              // pic_order_cnt_type
	w.ue(1)              // max_num_ref_frames
	w.writeBits(0, 1)    // gaps_in_frame_num_value_allowed_flag
	w.ue(uint(mbw - 1))
	w.ue(uint(mbh - 1))
	w.writeBits(1, 1) // frame_mbs_only_flag
	w.writeBits(1, 1) // direct_8x8_inference_flag
	if mbw*16 != width || mbh*16 != height {
		w.writeBits(1, 1)
		w.ue(0)
		w.ue(uint(mbw*16-width) / 2)
		w.ue(0)
		w.ue(uint(mbh*16-height) / 2)
	} else {
		w.writeBits(0, 1)
	}
	w.writeBits(0, 1) // vui_parameters_present_flag
	w.writeBits(1, 1) // rbsp_stop_one_bit

	out := []byte{0x67}
	zeros := 0
	for _, b := range w.buf {
		if zeros == 2 && b <= 3 {
			out = append(out, 0x03)
			zeros = 0
		}
		out = append(out, b)
		if b == 0 {
			zeros++
		} else {
			zeros = 0
		}
	}
	return out
}

type bitWriter struct {
	buf []byte
	n   int
}

func (w *bitWriter) writeBits(v uint, n int) {
	for i := n - 1; i >= 0; i-- {
		if w.n%8 == 0 {
			w.buf = append(w.buf, 0)
		}
		if (v>>uint(i))&1 != 0 {
			w.buf[len(w.buf)-1] |= 0x80 >> uint(w.n%8)
		}
		w.n++
	}
}

func (w *bitWriter) ue(v uint) {
	v++
	n := bits.Len(v)
	w.writeBits(0, n-1)
	w.writeBits(v, n)
}

// callLog records calls across fakes so tests can check ordering.
type callLog struct {
	mu    sync.Mutex
	calls []string
}

func (l *callLog) add(call string) {
	l.mu.Lock()
	l.calls = append(l.calls, call)
	l.mu.Unlock()
}

func (l *callLog) list() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.calls...)
}

// indexOf returns the position of the first matching call, or -1.
func (l *callLog) indexOf(call string) int {
	for i, c := range l.list() {
		if c == call {
			return i
		}
	}
	return -1
}

func (l *callLog) count(call string) int {
	n := 0
	for _, c := range l.list() {
		if c == call {
			n++
		}
	}
	return n
}

// fakeEncoderOptions tune the fake encoder's misbehavior.
type fakeEncoderOptions struct {
	// FormatChangeAfter queues a second format change after this many
	// frames (0 = never).
	FormatChangeAfter int
	// NeverEOS drops the end-of-stream buffer.
	NeverEOS bool
	// EmitCodecConfig queues an SPS/PPS codec-config sample after the
	// first format change.
	EmitCodecConfig bool
	// GOP is the keyframe interval in frames (0 = every 30).
	GOP int
}

// fakeDecoderOptions tune the fake decoder's misbehavior.
type fakeDecoderOptions struct {
	NeverEOS bool
}

// fakePlatform wires fake codecs and a fake render backend through a
// registry of native windows, the way a real platform routes frames from
// decoder to surface texture and from EGL swaps into the encoder.
type fakePlatform struct {
	mu      sync.Mutex
	windows map[NativeWindow]any
	next    NativeWindow

	caps       EncoderCapabilities
	capsErr    error
	encoderErr error
	bindErr    error
	encOpts    fakeEncoderOptions
	decOpts    fakeDecoderOptions

	log      *callLog
	encoders []*fakeEncoder
	decoders []*fakeDecoder
	backends []*fakeBackend
}

func newFakePlatform() *fakePlatform {
	return &fakePlatform{
		windows: make(map[NativeWindow]any),
		next:    0x1000,
		caps:    DefaultEncoderCapabilities(VideoCodecH264),
		log:     &callLog{},
	}
}

func (p *fakePlatform) register(v any) NativeWindow {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.next += 0x10
	p.windows[p.next] = v
	return p.next
}

func (p *fakePlatform) lookup(w NativeWindow) any {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.windows[w]
}

func (p *fakePlatform) Provider() Provider { return ProviderMediaCodec }

func (p *fakePlatform) NewDecoder(track TrackDescriptor) (Decoder, error) {
	d := &fakeDecoder{platform: p, opts: p.decOpts}
	p.decoders = append(p.decoders, d)
	return d, nil
}

func (p *fakePlatform) NewEncoder(codec VideoCodec) (Encoder, error) {
	if p.encoderErr != nil {
		return nil, p.encoderErr
	}
	e := &fakeEncoder{platform: p, opts: p.encOpts}
	p.encoders = append(p.encoders, e)
	return e, nil
}

func (p *fakePlatform) NewRenderBackend() (RenderBackend, error) {
	b := &fakeBackend{platform: p, gl: newFakeGL(p.log), bindErr: p.bindErr}
	p.backends = append(p.backends, b)
	return b, nil
}

func (p *fakePlatform) EncoderCapabilities(codec VideoCodec) (EncoderCapabilities, error) {
	if p.capsErr != nil {
		return EncoderCapabilities{}, p.capsErr
	}
	caps := p.caps
	caps.Codec = codec
	return caps, nil
}

// fakeFrameSurface queues frame timestamps rendered by a decoder.
type fakeFrameSurface struct {
	mu       sync.Mutex
	window   NativeWindow
	queue    []int64
	onFrame  func()
	log      *callLog
	released bool
}

func (s *fakeFrameSurface) Window() NativeWindow { return s.window }

func (s *fakeFrameSurface) SetOnFrameAvailable(fn func()) {
	s.mu.Lock()
	s.onFrame = fn
	s.mu.Unlock()
}

// push queues a frame and fires the frame-available callback.
func (s *fakeFrameSurface) push(ns int64) {
	s.mu.Lock()
	s.queue = append(s.queue, ns)
	fn := s.onFrame
	s.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (s *fakeFrameSurface) Latch(texture uint32) (int64, [16]float32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		return 0, identityMatrix, errors.New("no frame queued")
	}
	ts := s.queue[0]
	s.queue = s.queue[1:]
	return ts, identityMatrix, nil
}

func (s *fakeFrameSurface) Release() error {
	s.log.add("surface.release")
	s.released = true
	return nil
}

// fakeDecoder turns every queued sample into one ready output and renders
// released outputs into its target surface.
type fakeDecoder struct {
	platform *fakePlatform
	opts     fakeDecoderOptions
	surface  *fakeFrameSurface
	pending  []DecoderOutput

	configured    bool
	formatSent    bool
	queued        int
	rendered      int
	renderedEOS   bool
	releasedCount int
}

func (d *fakeDecoder) Configure(track TrackDescriptor, target NativeWindow) error {
	s, ok := d.platform.lookup(target).(*fakeFrameSurface)
	if !ok {
		return errors.Errorf("unknown decoder target %#x", target)
	}
	d.surface = s
	d.configured = true
	return nil
}

func (d *fakeDecoder) QueueInput(s *Sample) (bool, error) {
	if !d.configured {
		return false, errors.New("decoder not configured")
	}
	d.queued++
	if s.IsEndOfStream() {
		if !d.opts.NeverEOS {
			d.pending = append(d.pending, DecoderOutput{Kind: DecoderFrameReady, Index: d.queued, PTS: s.PTS, Flags: SampleFlagEndOfStream})
		}
		return true, nil
	}
	if !d.formatSent {
		d.formatSent = true
		d.pending = append(d.pending, DecoderOutput{Kind: DecoderFormatChanged})
	}
	d.pending = append(d.pending, DecoderOutput{
		Kind:  DecoderFrameReady,
		Index: d.queued,
		Size:  len(s.Data),
		PTS:   s.PTS,
		Flags: s.Flags &^ SampleFlagKeyframe,
	})
	return true, nil
}

func (d *fakeDecoder) DrainOutput(timeout time.Duration) (DecoderOutput, error) {
	if len(d.pending) == 0 {
		return DecoderOutput{Kind: DecoderTryAgain}, nil
	}
	out := d.pending[0]
	d.pending = d.pending[1:]
	return out, nil
}

func (d *fakeDecoder) ReleaseOutput(out DecoderOutput, render bool) error {
	if render {
		if out.IsEndOfStream() && out.Size == 0 {
			d.renderedEOS = true
		}
		d.rendered++
		d.surface.push(out.PTS * 1000)
	}
	return nil
}

func (d *fakeDecoder) Release() error {
	d.releasedCount++
	d.platform.log.add("decoder.release")
	return nil
}

// fakeEncoder produces one H.264 sample per swapped frame.
type fakeEncoder struct {
	platform *fakePlatform
	opts     fakeEncoderOptions
	cfg      EncoderConfig
	window   NativeWindow
	pending  []EncoderOutput

	frames        int
	eosSignaled   bool
	releasedCount int
}

func (e *fakeEncoder) Configure(cfg EncoderConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	e.cfg = cfg
	e.window = e.platform.register(e)
	return nil
}

func (e *fakeEncoder) InputSurface() NativeWindow { return e.window }

func (e *fakeEncoder) format() TrackDescriptor {
	return TrackDescriptor{
		Kind:       KindVideo,
		VideoCodec: VideoCodecH264,
		Width:      e.cfg.Width,
		Height:     e.cfg.Height,
		FrameRate:  float64(e.cfg.FrameRate),
		Config:     CodecConfig{SPS: buildTestSPS(e.cfg.Width, e.cfg.Height), PPS: testPPS},
	}
}

// onFrame is called by the render backend on every swap.
func (e *fakeEncoder) onFrame(ptsNs int64) {
	if e.eosSignaled {
		return
	}
	if e.frames == 0 {
		e.pending = append(e.pending, EncoderOutput{Kind: EncoderFormatChanged, Format: e.format()})
		if e.opts.EmitCodecConfig {
			f := e.format()
			e.pending = append(e.pending, EncoderOutput{Kind: EncoderSample, Sample: &Sample{
				Data:  joinLengthPrefixed([][]byte{f.Config.SPS, f.Config.PPS}),
				Flags: SampleFlagCodecConfig,
			}})
		}
	}
	if e.opts.FormatChangeAfter > 0 && e.frames == e.opts.FormatChangeAfter {
		e.pending = append(e.pending, EncoderOutput{Kind: EncoderFormatChanged, Format: e.format()})
	}
	gop := e.opts.GOP
	if gop <= 0 {
		gop = 30
	}
	s := &Sample{Data: joinLengthPrefixed([][]byte{testPFrame}), PTS: ptsNs / 1000}
	if e.frames%gop == 0 {
		s.Data = joinLengthPrefixed([][]byte{testIDR})
		s.Flags = SampleFlagKeyframe
	}
	e.pending = append(e.pending, EncoderOutput{Kind: EncoderSample, Sample: s})
	e.frames++
}

func (e *fakeEncoder) SignalEndOfInput() error {
	e.eosSignaled = true
	if !e.opts.NeverEOS {
		e.pending = append(e.pending, EncoderOutput{Kind: EncoderSample, Sample: &Sample{Flags: SampleFlagEndOfStream}})
	}
	return nil
}

func (e *fakeEncoder) DrainOutput(timeout time.Duration) (EncoderOutput, error) {
	if len(e.pending) == 0 {
		return EncoderOutput{Kind: EncoderTryAgain}, nil
	}
	out := e.pending[0]
	e.pending = e.pending[1:]
	return out, nil
}

func (e *fakeEncoder) Release() error {
	e.releasedCount++
	e.platform.log.add("encoder.release")
	return nil
}

// fakeBackend stands in for EGL: swaps deliver the frame to the encoder
// bound to the target window.
type fakeBackend struct {
	platform *fakePlatform
	gl       *fakeGL
	bindErr  error
	encoder  *fakeEncoder
	surfaces []*fakeFrameSurface

	ptsNs         int64
	swaps         int
	releasedCount int
}

func (b *fakeBackend) Bind(target NativeWindow, width, height int) error {
	if b.bindErr != nil {
		return b.bindErr
	}
	enc, ok := b.platform.lookup(target).(*fakeEncoder)
	if !ok {
		return errors.Errorf("unknown window %#x", target)
	}
	b.encoder = enc
	return nil
}

func (b *fakeBackend) GL() GL { return b.gl }

func (b *fakeBackend) CreateFrameSurface(width, height int) (FrameSurface, error) {
	s := &fakeFrameSurface{log: b.platform.log}
	s.window = b.platform.register(s)
	b.surfaces = append(b.surfaces, s)
	return s, nil
}

func (b *fakeBackend) SetPresentationTime(ns int64) error {
	b.platform.log.add("pts")
	b.ptsNs = ns
	return nil
}

func (b *fakeBackend) SwapBuffers() error {
	b.platform.log.add("swap")
	b.swaps++
	if b.encoder != nil {
		b.encoder.onFrame(b.ptsNs)
	}
	return nil
}

func (b *fakeBackend) Release() error {
	b.releasedCount++
	b.platform.log.add("compositor.release")
	return nil
}

// fakeGL accepts every call and remembers uniform values by name.
type fakeGL struct {
	log      *callLog
	nextID   uint32
	errCode  uint32
	names    map[int32]string
	uniform2 map[string][2]float32
	uniform1 map[string]int32
	deleted  int
	draws    int
}

func newFakeGL(log *callLog) *fakeGL {
	return &fakeGL{
		log:      log,
		names:    make(map[int32]string),
		uniform2: make(map[string][2]float32),
		uniform1: make(map[string]int32),
	}
}

func (g *fakeGL) id() uint32 {
	g.nextID++
	return g.nextID
}

func (g *fakeGL) GetError() uint32 { return g.errCode }
func (g *fakeGL) Viewport(x, y, width, height int32) {}
func (g *fakeGL) ClearColor(r, gr, b, a float32) {}
func (g *fakeGL) Clear(mask uint32) {}
func (g *fakeGL) Enable(capability uint32) {}
func (g *fakeGL) Disable(capability uint32) {}
func (g *fakeGL) BlendFunc(sfactor, dfactor uint32) {}
func (g *fakeGL) Finish() { g.log.add("finish") }
func (g *fakeGL) CreateTexture() uint32 { return g.id() }
func (g *fakeGL) DeleteTexture(texture uint32) { g.deleted++ }
func (g *fakeGL) ActiveTexture(unit uint32) {}
func (g *fakeGL) BindTexture(target, texture uint32) {}
func (g *fakeGL) TexParameteri(target, pname uint32, param int32) {}
func (g *fakeGL) CreateShader(typ uint32) uint32 { return g.id() }
func (g *fakeGL) ShaderSource(shader uint32, source string) {}
func (g *fakeGL) CompileShader(shader uint32) {}
func (g *fakeGL) GetShaderiv(shader, pname uint32) int32 { return 1 }
func (g *fakeGL) GetShaderInfoLog(shader uint32) string { return "" }
func (g *fakeGL) DeleteShader(shader uint32) {}
func (g *fakeGL) CreateProgram() uint32 { return g.id() }
func (g *fakeGL) AttachShader(program, shader uint32) {}
func (g *fakeGL) LinkProgram(program uint32) {}
func (g *fakeGL) GetProgramiv(program, pname uint32) int32 { return 1 }
func (g *fakeGL) GetProgramInfoLog(program uint32) string { return "" }
func (g *fakeGL) UseProgram(program uint32) {}
func (g *fakeGL) DeleteProgram(program uint32) { g.deleted++ }
func (g *fakeGL) GetAttribLocation(program uint32, name string) int32 { return 0 }
func (g *fakeGL) CreateBuffer() uint32 { return g.id() }
func (g *fakeGL) DeleteBuffer(buffer uint32) { g.deleted++ }
func (g *fakeGL) BindBuffer(target, buffer uint32) {}
func (g *fakeGL) BufferData(target uint32, data []float32, usage uint32) {}
func (g *fakeGL) EnableVertexAttribArray(index uint32) {}
func (g *fakeGL) DrawArrays(mode uint32, first, count int32) { g.draws++ }

func (g *fakeGL) TexImage2D(target uint32, level, internalFormat, width, height int32, format, typ uint32, pixels []byte) {
}

func (g *fakeGL) VertexAttribPointer(index uint32, size int32, typ uint32, normalized bool, stride int32, offset uintptr) {
}

func (g *fakeGL) GetUniformLocation(program uint32, name string) int32 {
	loc := int32(g.id())
	g.names[loc] = name
	return loc
}

func (g *fakeGL) Uniform1i(location, v int32) { g.uniform1[g.names[location]] = v }

func (g *fakeGL) Uniform2f(location int32, x, y float32) {
	g.uniform2[g.names[location]] = [2]float32{x, y}
}

func (g *fakeGL) UniformMatrix4fv(location int32, m [16]float32) {}
