// Package oto plays synthesised speech on the system's default output device.
//
// The device pulls a continuous PCM16 stream from a [pcmio.PullSink]; the
// sink's frame counter doubles as the audio clock, so scheduling follows what
// the device has actually consumed.
package oto

import (
	"fmt"
	"sync"
	"time"

	eoto "github.com/ebitengine/oto/v3"

	"github.com/MrWong99/careercompass/pkg/audio"
	"github.com/MrWong99/careercompass/pkg/audio/pcmio"
)

var (
	_ audio.Clock = (*Speaker)(nil)
	_ audio.Sink  = (*Speaker)(nil)
)

// DefaultBufferSize is the device buffer. Smaller values cut latency at the
// risk of underruns.
const DefaultBufferSize = 100 * time.Millisecond

// Speaker is an [audio.Sink] and [audio.Clock] backed by the output device.
// Only one Speaker may exist per process.
type Speaker struct {
	*pcmio.PullSink

	player    *eoto.Player
	closeOnce sync.Once
}

// Open initialises the output device in format out and starts pulling
// silence from it. bufferSize <= 0 means [DefaultBufferSize].
func Open(out audio.Format, bufferSize time.Duration) (*Speaker, error) {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	sink := pcmio.NewPullSink(out)
	f := sink.Format()

	ctx, ready, err := eoto.NewContext(&eoto.NewContextOptions{
		SampleRate:   f.SampleRate,
		ChannelCount: f.Channels,
		Format:       eoto.FormatSignedInt16LE,
		BufferSize:   bufferSize,
	})
	if err != nil {
		return nil, fmt.Errorf("oto: init output device: %w", err)
	}
	<-ready

	player := ctx.NewPlayer(sink)
	player.Play()
	return &Speaker{PullSink: sink, player: player}, nil
}

// Close stops playback. The device context itself lives until the process
// exits.
func (s *Speaker) Close() error {
	var err error
	s.closeOnce.Do(func() {
		err = s.player.Close()
	})
	return err
}
