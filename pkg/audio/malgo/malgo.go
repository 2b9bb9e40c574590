// Package malgo captures microphone audio from the system's default input
// device through miniaudio.
package malgo

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"

	ma "github.com/gen2brain/malgo"

	"github.com/MrWong99/careercompass/pkg/audio"
)

var (
	_ audio.Microphone  = (*Microphone)(nil)
	_ audio.InputStream = (*inputStream)(nil)
)

// maxBuffered caps captured bytes waiting for Read. Older audio is dropped
// first when the reader falls behind.
const maxBuffered = 1 << 20

// Microphone opens the default capture device in signed 16-bit format.
type Microphone struct {
	// SampleRate requested from the device. miniaudio converts when the
	// hardware runs at another rate.
	SampleRate int

	// Channels requested from the device; downmixed to mono on Read.
	Channels int

	// PeriodMS is the device callback period. Default 20.
	PeriodMS int
}

// Open implements [audio.Microphone]. A refused device is reported as
// [audio.ErrPermissionDenied].
func (m *Microphone) Open(ctx context.Context) (audio.InputStream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if m.SampleRate <= 0 {
		return nil, fmt.Errorf("malgo: invalid sample rate %d", m.SampleRate)
	}
	channels := max(m.Channels, 1)
	period := m.PeriodMS
	if period <= 0 {
		period = 20
	}

	mctx, err := ma.InitContext(nil, ma.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("malgo: init context: %w", err)
	}

	s := &inputStream{
		mctx:     mctx,
		rate:     m.SampleRate,
		channels: channels,
		ready:    make(chan struct{}, 1),
		closed:   make(chan struct{}),
	}

	cfg := ma.DefaultDeviceConfig(ma.Capture)
	cfg.Capture.Format = ma.FormatS16
	cfg.Capture.Channels = uint32(channels)
	cfg.SampleRate = uint32(m.SampleRate)
	cfg.PeriodSizeInMilliseconds = uint32(period)

	dev, err := ma.InitDevice(mctx.Context, cfg, ma.DeviceCallbacks{Data: s.onData})
	if err != nil {
		s.releaseContext()
		if errors.Is(err, ma.ErrAccessDenied) {
			return nil, fmt.Errorf("%w: %w", audio.ErrPermissionDenied, err)
		}
		return nil, fmt.Errorf("malgo: init capture device: %w", err)
	}
	s.dev = dev
	if err := dev.Start(); err != nil {
		dev.Uninit()
		s.releaseContext()
		return nil, fmt.Errorf("malgo: start capture device: %w", err)
	}
	return s, nil
}

type inputStream struct {
	mctx     *ma.AllocatedContext
	dev      *ma.Device
	rate     int
	channels int

	mu      sync.Mutex
	buf     []byte
	dropped int

	// ready holds a token while buf may have grown since the last Read.
	ready     chan struct{}
	closed    chan struct{}
	closeOnce sync.Once
}

// onData runs on the device thread and must not block.
func (s *inputStream) onData(_, input []byte, _ uint32) {
	s.mu.Lock()
	s.buf = append(s.buf, input...)
	if over := len(s.buf) - maxBuffered; over > 0 {
		over += over % (2 * s.channels)
		s.buf = s.buf[over:]
		s.dropped += over
	}
	s.mu.Unlock()
	select {
	case s.ready <- struct{}{}:
	default:
	}
}

func (s *inputStream) SampleRate() int { return s.rate }

func (s *inputStream) Read(block []float32) (int, error) {
	frameBytes := 2 * s.channels
	need := len(block) * frameBytes
	raw := make([]byte, 0, need)

	for len(raw) < need {
		s.mu.Lock()
		n := min(need-len(raw), len(s.buf))
		raw = append(raw, s.buf[:n]...)
		s.buf = s.buf[n:]
		s.mu.Unlock()
		if len(raw) == need {
			break
		}
		select {
		case <-s.closed:
			return 0, io.EOF
		case <-s.ready:
		}
	}

	for i := range block {
		var sum int32
		for c := range s.channels {
			sum += int32(int16(binary.LittleEndian.Uint16(raw[(i*s.channels+c)*2:])))
		}
		block[i] = float32(sum) / float32(s.channels) / 32768
	}
	return len(block), nil
}

// Close stops and releases the device, waking a pending Read.
func (s *inputStream) Close() error {
	s.closeOnce.Do(func() {
		close(s.closed)
		if s.dev != nil {
			_ = s.dev.Stop()
			s.dev.Uninit()
		}
		s.releaseContext()
	})
	return nil
}

func (s *inputStream) releaseContext() {
	_ = s.mctx.Uninit()
	s.mctx.Free()
}
