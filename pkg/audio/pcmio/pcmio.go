// Package pcmio adapts raw PCM16 byte streams to the device interfaces in
// package audio, so the voice pipeline can run against files, pipes or
// external players such as `arecord`/`aplay` and `sox`.
//
//   - [Clock] is a wall-clock audio clock anchored at construction time.
//   - [Sink] writes each scheduled buffer to an [io.Writer] at its start time,
//     converted to the writer's [audio.Format].
//   - [Microphone] reads fixed-format PCM16 from a file path (or "-" for
//     stdin) and optionally paces blocks in real time.
package pcmio

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/MrWong99/careercompass/pkg/audio"
)

var (
	_ audio.Clock       = (*Clock)(nil)
	_ audio.Sink        = (*Sink)(nil)
	_ audio.Microphone  = (*Microphone)(nil)
	_ audio.InputStream = (*inputStream)(nil)
)

// ── Clock ─────────────────────────────────────────────────────────────────────

// Clock reports time elapsed since it was created, using the monotonic
// reading of time.Now.
type Clock struct {
	origin time.Time
}

// NewClock returns a Clock starting at zero.
func NewClock() *Clock {
	return &Clock{origin: time.Now()}
}

// Now implements [audio.Clock].
func (c *Clock) Now() time.Duration {
	return time.Since(c.origin)
}

// ── Sink ──────────────────────────────────────────────────────────────────────

// Sink writes scheduled buffers to w when their start time arrives. Writes are
// serialised; onEnded fires once the buffer's duration has elapsed after it
// was written.
type Sink struct {
	clock audio.Clock
	conv  audio.FormatConverter
	log   *slog.Logger

	mu sync.Mutex
	w  io.Writer
}

// NewSink returns a Sink writing PCM16 in format out to w, timed by clock.
func NewSink(w io.Writer, clock audio.Clock, out audio.Format, log *slog.Logger) *Sink {
	if log == nil {
		log = slog.Default()
	}
	return &Sink{clock: clock, conv: audio.FormatConverter{Target: out}, w: w, log: log}
}

// Schedule implements [audio.Sink].
func (s *Sink) Schedule(samples []float32, sampleRate int, at time.Duration, onEnded func()) audio.Voice {
	v := &voice{}
	frame := s.conv.Convert(audio.AudioFrame{
		Data:       audio.Quantize(samples),
		SampleRate: sampleRate,
		Channels:   1,
	})
	dur := audio.SamplesDuration(len(samples), sampleRate)

	delay := max(at-s.clock.Now(), 0)
	v.mu.Lock()
	v.timer = time.AfterFunc(delay, func() {
		if v.isStopped() {
			return
		}
		s.write(frame.Data)
		v.mu.Lock()
		defer v.mu.Unlock()
		if v.stopped {
			return
		}
		v.timer = time.AfterFunc(dur, func() {
			if v.isStopped() {
				return
			}
			if onEnded != nil {
				onEnded()
			}
		})
	})
	v.mu.Unlock()
	return v
}

func (s *Sink) write(pcm []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.w.Write(pcm); err != nil {
		s.log.Warn("pcmio: write playback", "err", err)
	}
}

type voice struct {
	mu      sync.Mutex
	timer   *time.Timer
	stopped bool
}

func (v *voice) Stop() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.stopped = true
	if v.timer != nil {
		v.timer.Stop()
	}
}

func (v *voice) isStopped() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.stopped
}

// ── Microphone ────────────────────────────────────────────────────────────────

// readChunk is the most a pump reads from its source in one call.
const readChunk = 32 << 10

// Microphone reads interleaved little-endian PCM16 from Path. Path "" or "-"
// reads standard input. Multi-channel input is downmixed to mono.
//
// Standard input (or Reader) outlives a session: it is read by one pump
// goroutine per Microphone, bytes a closed stream did not consume are handed
// to the next one, and it is never closed.
type Microphone struct {
	Path       string
	SampleRate int
	Channels   int

	// Reader replaces standard input when set. Path is then ignored.
	Reader io.Reader

	// Realtime paces Read so each block is returned no sooner than its
	// duration after the previous one. Leave false for live devices that
	// block on their own.
	Realtime bool

	sharedOnce sync.Once
	shared     *pump
}

// Open implements [audio.Microphone]. Refused file access is reported as
// [audio.ErrPermissionDenied].
func (m *Microphone) Open(ctx context.Context) (audio.InputStream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if m.SampleRate <= 0 {
		return nil, fmt.Errorf("pcmio: invalid sample rate %d", m.SampleRate)
	}

	var (
		src    *pump
		closer io.Closer
	)
	if m.Reader != nil || m.Path == "" || m.Path == "-" {
		m.sharedOnce.Do(func() {
			r := m.Reader
			if r == nil {
				r = os.Stdin
			}
			m.shared = startPump(r, nil)
		})
		src = m.shared
	} else {
		f, err := os.Open(m.Path)
		if err != nil {
			if errors.Is(err, fs.ErrPermission) {
				return nil, fmt.Errorf("%w: %w", audio.ErrPermissionDenied, err)
			}
			return nil, fmt.Errorf("pcmio: open %s: %w", m.Path, err)
		}
		quit := make(chan struct{})
		src = startPump(f, quit)
		closer = closeFunc(func() error {
			close(quit)
			return f.Close()
		})
	}
	return &inputStream{
		src:      src,
		closer:   closer,
		rate:     m.SampleRate,
		channels: max(m.Channels, 1),
		realtime: m.Realtime,
		closed:   make(chan struct{}),
	}, nil
}

type closeFunc func() error

func (f closeFunc) Close() error { return f() }

// pump moves bytes from a blocking reader onto a channel so that readers can
// give up waiting without closing the source.
type pump struct {
	chunks chan []byte

	// err is set before chunks is closed.
	err error

	// mu guards pending, the bytes received from chunks but not yet consumed.
	mu      sync.Mutex
	pending []byte
}

// startPump reads r until it fails. A nil quit means the pump lives as long as
// the process.
func startPump(r io.Reader, quit <-chan struct{}) *pump {
	p := &pump{chunks: make(chan []byte)}
	go func() {
		for {
			buf := make([]byte, readChunk)
			n, err := r.Read(buf)
			if n > 0 {
				select {
				case p.chunks <- buf[:n]:
				case <-quit:
					return
				}
			}
			if err != nil {
				p.err = err
				close(p.chunks)
				return
			}
		}
	}()
	return p
}

// fill copies into buf until it is full, the source ends or closed fires. It
// returns the number of bytes copied. On closed the copied bytes are put back
// so the next reader sees them.
func (p *pump) fill(buf []byte, closed <-chan struct{}) (int, error) {
	p.mu.Lock()
	n := copy(buf, p.pending)
	p.pending = p.pending[n:]
	p.mu.Unlock()

	for n < len(buf) {
		select {
		case <-closed:
			p.unread(buf[:n])
			return 0, io.EOF
		case chunk, ok := <-p.chunks:
			if !ok {
				err := p.err
				if err == nil {
					err = io.EOF
				}
				return n, err
			}
			c := copy(buf[n:], chunk)
			n += c
			if c < len(chunk) {
				p.mu.Lock()
				p.pending = append(p.pending, chunk[c:]...)
				p.mu.Unlock()
			}
		}
	}
	return n, nil
}

func (p *pump) unread(b []byte) {
	if len(b) == 0 {
		return
	}
	p.mu.Lock()
	p.pending = append(append([]byte(nil), b...), p.pending...)
	p.mu.Unlock()
}

type inputStream struct {
	src      *pump
	closer   io.Closer
	rate     int
	channels int
	realtime bool

	buf       []byte
	last      time.Time
	closed    chan struct{}
	closeOnce sync.Once
}

func (s *inputStream) SampleRate() int { return s.rate }

func (s *inputStream) Read(block []float32) (int, error) {
	select {
	case <-s.closed:
		return 0, io.EOF
	default:
	}

	frameBytes := 2 * s.channels
	need := len(block) * frameBytes
	if cap(s.buf) < need {
		s.buf = make([]byte, need)
	}
	buf := s.buf[:need]

	n, err := s.src.fill(buf, s.closed)
	frames := n / frameBytes
	for i := range frames {
		var sum int32
		for c := range s.channels {
			sum += int32(int16(binary.LittleEndian.Uint16(buf[(i*s.channels+c)*2:])))
		}
		block[i] = float32(sum) / float32(s.channels) / 32768
	}
	if err != nil && !errors.Is(err, io.EOF) {
		return frames, fmt.Errorf("pcmio: read: %w", err)
	}
	if err == nil && s.realtime {
		s.pace(audio.SamplesDuration(frames, s.rate))
	}
	return frames, err
}

// pace sleeps until d has elapsed since the previous block was returned.
func (s *inputStream) pace(d time.Duration) {
	now := time.Now()
	if s.last.IsZero() {
		s.last = now
		return
	}
	s.last = s.last.Add(d)
	wait := s.last.Sub(now)
	if wait <= 0 {
		s.last = now
		return
	}
	t := time.NewTimer(wait)
	defer t.Stop()
	select {
	case <-t.C:
	case <-s.closed:
	}
}

// Close ends the stream and wakes a pending Read. Shared sources stay open.
func (s *inputStream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.closed)
		if s.closer != nil {
			err = s.closer.Close()
		}
	})
	return err
}
