// Package playback renders synthesised speech chunks gaplessly and in arrival
// order against an audio clock.
//
// A [Scheduler] owns a FIFO of decoded chunks and a playback cursor (the next
// eligible start time). Only one chunk is handed to the sink at a time; when
// it ends naturally the next queued chunk is scheduled at
// max(clock.Now(), cursor), and the cursor advances by the chunk's duration.
// The cursor therefore never decreases, so chunks neither overlap nor leave
// gaps beyond scheduling jitter.
//
// All exported methods are safe for concurrent use.
package playback

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/careercompass/pkg/audio"
)

// ErrDecode wraps every failure to turn an inbound payload into samples. The
// offending chunk is dropped; the queue keeps draining.
var ErrDecode = errors.New("playback: undecodable audio chunk")

// Option configures a [Scheduler] during construction.
type Option func(*Scheduler)

// WithSampleRate sets the rate of inbound PCM. Default [audio.WireSampleRate].
func WithSampleRate(rate int) Option {
	return func(s *Scheduler) {
		if rate > 0 {
			s.sampleRate = rate
		}
	}
}

// WithOnSpeaking registers a callback invoked with true when playback goes
// from idle to active and false when the queue drains and the last chunk ends.
// It runs with the scheduler's lock held so edges are delivered in order; it
// must not block or call back into the Scheduler.
func WithOnSpeaking(fn func(speaking bool)) Option {
	return func(s *Scheduler) { s.onSpeaking = fn }
}

// WithOnScheduled registers a callback invoked for every chunk handed to the
// sink, with the clock time it will start at.
func WithOnScheduled(fn func(c audio.Chunk, start time.Duration)) Option {
	return func(s *Scheduler) { s.onScheduled = fn }
}

// WithOnDecodeError registers a callback invoked for every dropped chunk.
func WithOnDecodeError(fn func(error)) Option {
	return func(s *Scheduler) { s.onDecodeError = fn }
}

// WithLogger sets the logger. Default slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) { s.log = l }
}

// Scheduler queues decoded chunks and plays them back to back.
type Scheduler struct {
	clock      audio.Clock
	sink       audio.Sink
	sampleRate int
	log        *slog.Logger

	onSpeaking    func(bool)
	onScheduled   func(audio.Chunk, time.Duration)
	onDecodeError func(error)

	mu       sync.Mutex
	queue    []audio.Chunk
	seq      uint64
	next     time.Duration // eligible start time for the next chunk
	current  audio.Voice   // chunk rendering now, or nil
	gen      uint64        // bumped by Reset to orphan in-flight callbacks
	speaking bool
}

// New creates a Scheduler that renders on sink, timed by clock.
func New(clock audio.Clock, sink audio.Sink, opts ...Option) *Scheduler {
	s := &Scheduler{
		clock:      clock,
		sink:       sink,
		sampleRate: audio.WireSampleRate,
		log:        slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Enqueue decodes one base64 PCM16 payload and appends it to the queue. If
// nothing is playing, the chunk is scheduled immediately. A payload that
// cannot be decoded is dropped and an error wrapping [ErrDecode] is returned;
// previously queued chunks are unaffected.
func (s *Scheduler) Enqueue(payload string) error {
	samples, err := audio.DecodeBase64Chunk(payload)
	if err == nil && len(samples) == 0 {
		err = errors.New("empty payload")
	}
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrDecode, err)
		s.log.Warn("playback: dropping chunk", "err", err)
		if s.onDecodeError != nil {
			s.onDecodeError(err)
		}
		return err
	}

	s.mu.Lock()
	s.seq++
	s.queue = append(s.queue, audio.Chunk{Seq: s.seq, Samples: samples, SampleRate: s.sampleRate})
	s.setSpeakingLocked(true)
	var scheduled *audio.Chunk
	var start time.Duration
	if s.current == nil {
		scheduled, start = s.drainLocked()
	}
	s.mu.Unlock()

	s.notifyScheduled(scheduled, start)
	return nil
}

// Reset clears the queue, rewinds the cursor to the clock origin and stops
// any chunk that is rendering. Callbacks from the stopped chunk are ignored.
// Safe to call at any time, including mid-chunk and repeatedly.
func (s *Scheduler) Reset() {
	s.mu.Lock()
	s.gen++
	s.queue = nil
	s.next = 0
	cur := s.current
	s.current = nil
	s.setSpeakingLocked(false)
	s.mu.Unlock()

	if cur != nil {
		cur.Stop()
	}
}

// Speaking reports whether a chunk is queued or rendering.
func (s *Scheduler) Speaking() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.speaking
}

// NextStart returns the current playback cursor.
func (s *Scheduler) NextStart() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.next
}

// Pending returns the number of chunks waiting behind the one rendering.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// drainLocked pops the oldest chunk and hands it to the sink. Must be called
// with s.mu held and s.current == nil.
func (s *Scheduler) drainLocked() (*audio.Chunk, time.Duration) {
	if len(s.queue) == 0 {
		return nil, 0
	}
	c := s.queue[0]
	s.queue[0] = audio.Chunk{}
	s.queue = s.queue[1:]

	start := max(s.clock.Now(), s.next)
	s.next = start + c.Duration()

	gen := s.gen
	s.current = s.sink.Schedule(c.Samples, c.SampleRate, start, func() { s.ended(gen) })
	return &c, start
}

// ended runs when the current chunk finishes rendering naturally.
func (s *Scheduler) ended(gen uint64) {
	s.mu.Lock()
	if gen != s.gen || s.current == nil {
		s.mu.Unlock()
		return
	}
	s.current = nil
	scheduled, start := s.drainLocked()
	if scheduled == nil {
		s.setSpeakingLocked(false)
	}
	s.mu.Unlock()

	s.notifyScheduled(scheduled, start)
}

// setSpeakingLocked updates the speaking flag and reports edges. Must be
// called with s.mu held.
func (s *Scheduler) setSpeakingLocked(v bool) {
	if s.speaking == v {
		return
	}
	s.speaking = v
	if s.onSpeaking != nil {
		s.onSpeaking(v)
	}
}

func (s *Scheduler) notifyScheduled(c *audio.Chunk, start time.Duration) {
	if c != nil && s.onScheduled != nil {
		s.onScheduled(*c, start)
	}
}
