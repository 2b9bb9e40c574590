// Package capture taps a microphone in fixed-size blocks and streams each
// block, converted to the wire format, to a send function.
//
// Every block is resampled to [audio.WireSampleRate], quantised to PCM16 and
// handed to send in the same iteration that read it. Nothing is buffered
// between blocks: if send is slow the next Read simply happens later, and the
// device's own buffering absorbs (or drops) the difference.
package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/MrWong99/careercompass/pkg/audio"
)

// DefaultBlockSize is the number of native-rate samples per tap block.
const DefaultBlockSize = 4096

// ErrRunning is returned by Start when the pipeline is already capturing.
var ErrRunning = errors.New("capture: pipeline already running")

// SendFunc receives one wire-format PCM16 frame. It must not retain frame.
type SendFunc func(frame []byte)

// Option configures a [Pipeline].
type Option func(*Pipeline)

// WithBlockSize sets the number of samples read per block.
func WithBlockSize(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.blockSize = n
		}
	}
}

// WithOnFrame registers a callback invoked after each frame is sent, with the
// frame size in bytes.
func WithOnFrame(fn func(bytes int)) Option {
	return func(p *Pipeline) { p.onFrame = fn }
}

// WithLogger sets the logger. Default slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) { p.log = l }
}

// Pipeline owns at most one acquired microphone stream at a time.
type Pipeline struct {
	blockSize int
	onFrame   func(int)
	log       *slog.Logger

	mu      sync.Mutex
	running bool
	stream  audio.InputStream
	cancel  context.CancelFunc
	done    chan struct{}
}

// New returns an idle Pipeline.
func New(opts ...Option) *Pipeline {
	p := &Pipeline{
		blockSize: DefaultBlockSize,
		log:       slog.Default(),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Start acquires mic and begins streaming blocks to send. It returns once the
// device is open; the tap runs on its own goroutine until [Pipeline.Stop] or
// the end of the stream. Errors from Open are returned wrapped, so
// errors.Is(err, audio.ErrPermissionDenied) holds for a refused device.
func (p *Pipeline) Start(ctx context.Context, mic audio.Microphone, send SendFunc) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return ErrRunning
	}
	p.running = true
	p.mu.Unlock()

	stream, err := mic.Open(ctx)
	if err == nil && ctx.Err() != nil {
		_ = stream.Close()
		err = ctx.Err()
	}
	if err != nil {
		p.mu.Lock()
		p.running = false
		p.mu.Unlock()
		return fmt.Errorf("capture: open microphone: %w", err)
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	p.mu.Lock()
	p.stream = stream
	p.cancel = cancel
	p.done = done
	p.mu.Unlock()

	p.log.Debug("capture: started", "native_rate", stream.SampleRate(), "block_size", p.blockSize)
	go p.run(loopCtx, stream, send, done)
	return nil
}

// Stop releases the microphone and waits for the tap goroutine to exit.
// Safe to call when idle and more than once.
func (p *Pipeline) Stop() {
	p.mu.Lock()
	stream, cancel, done := p.stream, p.cancel, p.done
	p.stream, p.cancel, p.done = nil, nil, nil
	p.running = false
	p.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if stream != nil {
		if err := stream.Close(); err != nil {
			p.log.Warn("capture: close microphone", "err", err)
		}
	}
	if done != nil {
		<-done
	}
}

// Running reports whether a microphone is currently held.
func (p *Pipeline) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

func (p *Pipeline) run(ctx context.Context, stream audio.InputStream, send SendFunc, done chan struct{}) {
	defer close(done)

	rate := stream.SampleRate()
	block := make([]float32, p.blockSize)
	for {
		n, err := stream.Read(block)
		if ctx.Err() != nil {
			return
		}
		if n > 0 {
			frame := audio.EncodeWire(block[:n], rate)
			if len(frame) > 0 {
				send(frame)
				if p.onFrame != nil {
					p.onFrame(len(frame))
				}
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				p.log.Warn("capture: read failed", "err", err)
			}
			return
		}
	}
}
