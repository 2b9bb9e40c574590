package audio

import (
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// ErrOddLength is returned when a PCM16 buffer does not hold a whole number of
// samples.
var ErrOddLength = errors.New("audio: odd byte count in PCM16 data")

// Quantize converts normalised float samples into little-endian int16 PCM.
// Samples are scaled by 32768, the same factor [Dequantize] divides by, and
// rounded to the nearest step. Out-of-range input saturates at the int16
// extremes instead of wrapping, so a round trip is off by at most one step.
func Quantize(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(quantizeSample(s)))
	}
	return out
}

func quantizeSample(s float32) int16 {
	switch {
	case s != s: // NaN
		return 0
	case s <= -1:
		return math.MinInt16
	case s >= 1:
		return math.MaxInt16
	}
	return int16(min(math.Round(float64(s)*32768), math.MaxInt16))
}

// Dequantize converts little-endian int16 PCM into normalised floats by
// dividing each sample by 32768. It returns [ErrOddLength] when pcm cannot be
// split into whole samples.
func Dequantize(pcm []byte) ([]float32, error) {
	if len(pcm)%2 != 0 {
		return nil, fmt.Errorf("%w: %d bytes", ErrOddLength, len(pcm))
	}
	out := make([]float32, len(pcm)/2)
	for i := range out {
		out[i] = float32(int16(binary.LittleEndian.Uint16(pcm[i*2:]))) / 32768
	}
	return out, nil
}

// ResampleFloat converts mono float samples from srcRate to dstRate using
// linear interpolation. The output holds floor(len(samples)*dstRate/srcRate)
// samples. If the rates match (or either is invalid) the input is returned
// unchanged.
func ResampleFloat(samples []float32, srcRate, dstRate int) []float32 {
	if srcRate <= 0 || dstRate <= 0 || srcRate == dstRate || len(samples) == 0 {
		return samples
	}
	n := int(int64(len(samples)) * int64(dstRate) / int64(srcRate))
	if n == 0 {
		return nil
	}

	out := make([]float32, n)
	ratio := float64(srcRate) / float64(dstRate)
	last := len(samples) - 1
	for i := range n {
		pos := float64(i) * ratio
		idx := int(pos)
		if idx >= last {
			out[i] = samples[last]
			continue
		}
		frac := float32(pos - float64(idx))
		out[i] = samples[idx]*(1-frac) + samples[idx+1]*frac
	}
	return out
}

// EncodeWire resamples one captured block from its native rate to the wire
// rate and quantises it to PCM16.
func EncodeWire(samples []float32, nativeRate int) []byte {
	return Quantize(ResampleFloat(samples, nativeRate, WireSampleRate))
}

// EncodeBase64 returns the transport representation of a PCM16 buffer.
func EncodeBase64(pcm []byte) string {
	return base64.StdEncoding.EncodeToString(pcm)
}

// DecodeBase64Chunk decodes one base64 PCM16 payload received from the speech
// service into normalised samples at the wire rate.
func DecodeBase64Chunk(payload string) ([]float32, error) {
	pcm, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("audio: decode base64: %w", err)
	}
	return Dequantize(pcm)
}
