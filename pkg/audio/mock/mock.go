// Package mock provides in-memory implementations of the [audio.Clock],
// [audio.Sink] and [audio.Microphone] interfaces for use in unit tests.
//
// All mocks are safe for concurrent use. They record every call so tests can
// assert on what was scheduled or opened, and they expose exported fields that
// tests set to control behaviour.
//
// Typical usage:
//
//	clock := &mock.Clock{}
//	sink := mock.NewSink()
//	sched := playback.New(clock, sink)
//	_ = sched.Enqueue(payload)
//	clock.Advance(sink.Voices()[0].Duration())
//	sink.Finish(0)
package mock

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/MrWong99/careercompass/pkg/audio"
)

// ─── Clock ────────────────────────────────────────────────────────────────────

// Clock is a manually advanced [audio.Clock]. The zero value starts at 0.
type Clock struct {
	mu  sync.Mutex
	now time.Duration
}

// Now implements [audio.Clock].
func (c *Clock) Now() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now += d
}

// Set moves the clock to t. Tests are responsible for keeping it monotonic.
func (c *Clock) Set(t time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// ─── Sink ─────────────────────────────────────────────────────────────────────

// Voice records one [Sink.Schedule] call.
type Voice struct {
	Samples    []float32
	SampleRate int
	At         time.Duration

	sink    *Sink
	onEnded func()
	stopped bool
	ended   bool
}

// Duration reports how long the scheduled buffer renders.
func (v *Voice) Duration() time.Duration {
	return audio.SamplesDuration(len(v.Samples), v.SampleRate)
}

// End reports the scheduled end time (At + Duration).
func (v *Voice) End() time.Duration {
	return v.At + v.Duration()
}

// Stop implements [audio.Voice].
func (v *Voice) Stop() {
	v.sink.mu.Lock()
	defer v.sink.mu.Unlock()
	v.stopped = true
}

// Stopped reports whether Stop was called.
func (v *Voice) Stopped() bool {
	v.sink.mu.Lock()
	defer v.sink.mu.Unlock()
	return v.stopped
}

// Sink is a recording [audio.Sink]. Nothing renders on its own; tests call
// [Sink.Finish] to simulate natural completion of a scheduled voice.
type Sink struct {
	mu        sync.Mutex
	voices    []*Voice
	scheduled chan struct{}
}

// NewSink returns an empty Sink.
func NewSink() *Sink {
	return &Sink{scheduled: make(chan struct{}, 64)}
}

// Schedule implements [audio.Sink].
func (s *Sink) Schedule(samples []float32, sampleRate int, at time.Duration, onEnded func()) audio.Voice {
	v := &Voice{Samples: samples, SampleRate: sampleRate, At: at, sink: s, onEnded: onEnded}
	s.mu.Lock()
	s.voices = append(s.voices, v)
	s.mu.Unlock()
	select {
	case s.scheduled <- struct{}{}:
	default:
	}
	return v
}

// Voices returns a snapshot of every voice scheduled so far, in order.
func (s *Sink) Voices() []*Voice {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Voice, len(s.voices))
	copy(out, s.voices)
	return out
}

// Scheduled is signalled (best effort) after each Schedule call.
func (s *Sink) Scheduled() <-chan struct{} { return s.scheduled }

// Finish simulates natural completion of the i-th scheduled voice by invoking
// its onEnded callback on the calling goroutine. Stopped or already finished
// voices are ignored. Reports whether the callback ran.
func (s *Sink) Finish(i int) bool {
	s.mu.Lock()
	if i < 0 || i >= len(s.voices) {
		s.mu.Unlock()
		return false
	}
	v := s.voices[i]
	if v.stopped || v.ended {
		s.mu.Unlock()
		return false
	}
	v.ended = true
	cb := v.onEnded
	s.mu.Unlock()
	if cb != nil {
		cb()
	}
	return true
}

// ─── Microphone ───────────────────────────────────────────────────────────────

// Microphone is a mock [audio.Microphone]. Each Open returns a fresh
// [InputStream] fed from Blocks.
type Microphone struct {
	mu sync.Mutex

	// OpenErr, if non-nil, is returned by Open (e.g. audio.ErrPermissionDenied).
	OpenErr error

	// Block, if non-nil, makes Open wait until it is closed or ctx is done.
	Block chan struct{}

	// Rate is the native sample rate reported by streams. Default 48000.
	Rate int

	// Blocks are delivered by Read in order. After they are exhausted Read
	// blocks until the stream is closed, then returns io.EOF.
	Blocks [][]float32

	// Streams records every stream handed out by Open.
	Streams []*InputStream

	// OpenCalls counts Open invocations.
	OpenCalls int
}

// Open implements [audio.Microphone].
func (m *Microphone) Open(ctx context.Context) (audio.InputStream, error) {
	m.mu.Lock()
	m.OpenCalls++
	block := m.Block
	openErr := m.OpenErr
	m.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if openErr != nil {
		return nil, openErr
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	rate := m.Rate
	if rate == 0 {
		rate = 48000
	}
	blocks := make(chan []float32, len(m.Blocks))
	for _, b := range m.Blocks {
		blocks <- b
	}
	s := &InputStream{rate: rate, blocks: blocks, closed: make(chan struct{})}
	m.Streams = append(m.Streams, s)
	return s, nil
}

// OpenStreams reports how many streams are open (not yet closed).
func (m *Microphone) OpenStreams() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, s := range m.Streams {
		if !s.IsClosed() {
			n++
		}
	}
	return n
}

// InputStream is the stream returned by [Microphone.Open].
type InputStream struct {
	rate      int
	blocks    chan []float32
	closed    chan struct{}
	closeOnce sync.Once
}

// SampleRate implements [audio.InputStream].
func (s *InputStream) SampleRate() int { return s.rate }

// Read implements [audio.InputStream]. Each queued block is returned whole
// (truncated to len(block)).
func (s *InputStream) Read(block []float32) (int, error) {
	select {
	case <-s.closed:
		return 0, io.EOF
	default:
	}
	select {
	case b := <-s.blocks:
		return copy(block, b), nil
	case <-s.closed:
		return 0, io.EOF
	}
}

// Close implements [audio.InputStream].
func (s *InputStream) Close() error {
	s.closeOnce.Do(func() { close(s.closed) })
	return nil
}

// IsClosed reports whether Close was called.
func (s *InputStream) IsClosed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}
