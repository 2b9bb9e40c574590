package pcmio

import (
	"sync"
	"time"

	"github.com/MrWong99/careercompass/pkg/audio"
)

var (
	_ audio.Clock = (*PullSink)(nil)
	_ audio.Sink  = (*PullSink)(nil)
)

// PullSink renders scheduled buffers into a PCM16 stream that a consumer
// pulls with Read, typically an output device's player. The clock is the
// number of frames read so far, so it only advances while the consumer
// pulls and always agrees with the rendered stream. Silence is produced when
// nothing is scheduled; overlapping voices are summed.
type PullSink struct {
	out audio.Format

	mu     sync.Mutex
	frame  int64
	voices []*pullVoice
}

type pullVoice struct {
	sink    *PullSink
	samples []float32
	start   int64
	pos     int
	onEnded func()
	stopped bool
}

// NewPullSink returns a sink producing interleaved little-endian PCM16 in
// format out. Mono buffers are copied to every channel.
func NewPullSink(out audio.Format) *PullSink {
	if out.SampleRate <= 0 {
		out.SampleRate = audio.WireSampleRate
	}
	out.Channels = max(out.Channels, 1)
	return &PullSink{out: out}
}

// Format reports the format of the bytes returned by Read.
func (s *PullSink) Format() audio.Format { return s.out }

// Now implements [audio.Clock].
func (s *PullSink) Now() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frameTime(s.frame)
}

func (s *PullSink) frameTime(f int64) time.Duration {
	return time.Duration(f) * time.Second / time.Duration(s.out.SampleRate)
}

// Schedule implements [audio.Sink]. A start time already read past begins at
// the next frame.
func (s *PullSink) Schedule(samples []float32, sampleRate int, at time.Duration, onEnded func()) audio.Voice {
	v := &pullVoice{
		sink:    s,
		samples: audio.ResampleFloat(samples, sampleRate, s.out.SampleRate),
		onEnded: onEnded,
	}
	start := int64(at) * int64(s.out.SampleRate) / int64(time.Second)

	s.mu.Lock()
	v.start = max(start, s.frame)
	if len(v.samples) == 0 {
		s.mu.Unlock()
		s.finish([]*pullVoice{v})
		return v
	}
	s.voices = append(s.voices, v)
	s.mu.Unlock()
	return v
}

// Read fills p with whole frames of the mix and advances the clock. It never
// blocks and never fails.
func (s *PullSink) Read(p []byte) (int, error) {
	frameBytes := 2 * s.out.Channels
	frames := len(p) / frameBytes
	if frames == 0 {
		return 0, nil
	}
	mix := make([]float32, frames)

	s.mu.Lock()
	base := s.frame
	var done []*pullVoice
	live := s.voices[:0]
	for _, v := range s.voices {
		first := max(v.start-base, 0)
		for i := first; i < int64(frames) && v.pos < len(v.samples); i++ {
			mix[i] += v.samples[v.pos]
			v.pos++
		}
		if v.pos >= len(v.samples) {
			done = append(done, v)
		} else {
			live = append(live, v)
		}
	}
	clear(s.voices[len(live):])
	s.voices = live
	s.frame += int64(frames)
	s.mu.Unlock()

	pcm := audio.Quantize(mix)
	for i := range frames {
		for c := range s.out.Channels {
			copy(p[i*frameBytes+c*2:], pcm[i*2:i*2+2])
		}
	}
	s.finish(done)
	return frames * frameBytes, nil
}

// finish fires the end callbacks of voices that rendered completely.
func (s *PullSink) finish(done []*pullVoice) {
	for _, v := range done {
		if v.onEnded == nil {
			continue
		}
		go func() {
			s.mu.Lock()
			stopped := v.stopped
			s.mu.Unlock()
			if !stopped {
				v.onEnded()
			}
		}()
	}
}

// Stop implements [audio.Voice].
func (v *pullVoice) Stop() {
	s := v.sink
	s.mu.Lock()
	defer s.mu.Unlock()
	v.stopped = true
	for i, other := range s.voices {
		if other == v {
			s.voices = append(s.voices[:i], s.voices[i+1:]...)
			break
		}
	}
}
