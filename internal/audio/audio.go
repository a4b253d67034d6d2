// Package audio decodes uploaded audio blobs into the mono float32 PCM the
// speech engine consumes.
package audio

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/go-audio/wav"
	mp3 "github.com/hajimehoshi/go-mp3"
)

// EngineSampleRate is the sample rate the speech engine expects.
const EngineSampleRate = 16000

// ErrUnsupportedFormat is returned when a blob is neither MP3 nor WAV.
var ErrUnsupportedFormat = errors.New("unsupported audio format")

// Decode sniffs the container format and returns mono float32 samples with
// their native sample rate.
func Decode(b []byte) ([]float32, int, error) {
	switch {
	case len(b) >= 4 && string(b[:4]) == "RIFF":
		return DecodeWAV(b)
	case isMP3(b):
		return DecodeMP3(b)
	default:
		return nil, 0, ErrUnsupportedFormat
	}
}

func isMP3(b []byte) bool {
	if len(b) < 3 {
		return false
	}
	if string(b[:3]) == "ID3" {
		return true
	}
	// bare frame sync
	return b[0] == 0xFF && b[1]&0xE0 == 0xE0
}

// DecodeMP3 decodes an MP3 blob. go-mp3 always emits 16-bit stereo; channels
// are averaged down to mono.
func DecodeMP3(b []byte) ([]float32, int, error) {
	dec, err := mp3.NewDecoder(bytes.NewReader(b))
	if err != nil {
		return nil, 0, fmt.Errorf("decode mp3: %w", err)
	}
	pcm, err := io.ReadAll(dec)
	if err != nil {
		return nil, 0, fmt.Errorf("read mp3 stream: %w", err)
	}
	// 4 bytes per stereo frame: L16 R16
	frames := len(pcm) / 4
	out := make([]float32, frames)
	for i := 0; i < frames; i++ {
		l := int16(uint16(pcm[4*i]) | uint16(pcm[4*i+1])<<8)
		r := int16(uint16(pcm[4*i+2]) | uint16(pcm[4*i+3])<<8)
		out[i] = (float32(l) + float32(r)) / 2 / 32768.0
	}
	return out, dec.SampleRate(), nil
}

// DecodeWAV decodes a WAV blob into float32 samples normalized to [-1,1].
// Multi-channel data is averaged down to mono.
func DecodeWAV(b []byte) ([]float32, int, error) {
	dec := wav.NewDecoder(bytes.NewReader(b))
	if !dec.IsValidFile() {
		return nil, 0, errors.New("invalid wav file")
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil && err != io.EOF {
		return nil, 0, fmt.Errorf("decode wav: %w", err)
	}
	if buf == nil || len(buf.Data) == 0 {
		return nil, 0, errors.New("empty wav buffer")
	}

	bitDepth := buf.SourceBitDepth
	if bitDepth <= 0 {
		bitDepth = 16
	}
	scale := float32(int(1) << (bitDepth - 1))

	channels := 1
	if buf.Format != nil && buf.Format.NumChannels > 1 {
		channels = buf.Format.NumChannels
	}
	frames := len(buf.Data) / channels
	out := make([]float32, frames)
	for i := 0; i < frames; i++ {
		var sum float32
		for ch := 0; ch < channels; ch++ {
			sum += float32(buf.Data[i*channels+ch])
		}
		out[i] = sum / float32(channels) / scale
	}

	sr := int(dec.SampleRate)
	if sr == 0 && buf.Format != nil {
		sr = buf.Format.SampleRate
	}
	if sr == 0 {
		sr = EngineSampleRate
	}
	return out, sr, nil
}

// DecodePCM16 converts little-endian PCM16 bytes into float32 samples.
func DecodePCM16(b []byte) ([]float32, error) {
	if len(b)%2 != 0 {
		return nil, errors.New("pcm16 length must be even")
	}
	out := make([]float32, len(b)/2)
	for i := range out {
		v := int16(uint16(b[2*i]) | uint16(b[2*i+1])<<8)
		out[i] = float32(v) / 32768.0
	}
	return out, nil
}

// Resample converts samples from inRate to outRate with linear
// interpolation. Same-rate input is returned as a copy.
func Resample(samples []float32, inRate, outRate int) []float32 {
	if inRate <= 0 || outRate <= 0 || len(samples) == 0 || inRate == outRate {
		return append([]float32(nil), samples...)
	}
	ratio := float64(outRate) / float64(inRate)
	outLen := int(float64(len(samples)) * ratio)
	if outLen < 1 {
		outLen = 1
	}
	out := make([]float32, outLen)
	for i := range out {
		srcPos := float64(i) / ratio
		i0 := int(srcPos)
		if i0 >= len(samples)-1 {
			out[i] = samples[len(samples)-1]
			continue
		}
		frac := float32(srcPos - float64(i0))
		out[i] = samples[i0] + (samples[i0+1]-samples[i0])*frac
	}
	return out
}

// Duration returns the length in seconds of samples at the given rate.
func Duration(sampleCount, rate int) float64 {
	if rate <= 0 {
		return 0
	}
	return float64(sampleCount) / float64(rate)
}
