package domain

import (
	"encoding/binary"
	"time"
)

// AudioFormat describes raw PCM produced by the capture pipeline.
type AudioFormat struct {
	SampleRate int `json:"sampleRate"`
	Channels   int `json:"channels"`
	BitDepth   int `json:"bitDepth"`
}

// DefaultAudioFormat is 16 kHz mono signed 16-bit.
func DefaultAudioFormat() AudioFormat {
	return AudioFormat{SampleRate: 16000, Channels: 1, BitDepth: 16}
}

// Normalize fills zero fields with the defaults.
func (f AudioFormat) Normalize() AudioFormat {
	def := DefaultAudioFormat()
	if f.SampleRate <= 0 {
		f.SampleRate = def.SampleRate
	}
	if f.Channels <= 0 {
		f.Channels = def.Channels
	}
	if f.BitDepth <= 0 {
		f.BitDepth = def.BitDepth
	}
	return f
}

func (f AudioFormat) BytesPerSample() int { return f.BitDepth / 8 * f.Channels }

func (f AudioFormat) BytesPerSecond() int { return f.SampleRate * f.BytesPerSample() }

// AudioSegment is the audio captured between one press and its release. It is
// not modified after capture stops.
type AudioSegment struct {
	Format  AudioFormat
	Samples []int16
}

// NewAudioSegment decodes little-endian s16 PCM. A trailing odd byte is dropped.
func NewAudioSegment(format AudioFormat, pcm []byte) *AudioSegment {
	samples := make([]int16, len(pcm)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(pcm[i*2:]))
	}
	return &AudioSegment{Format: format.Normalize(), Samples: samples}
}

// Duration derives the play time from the sample count.
func (s *AudioSegment) Duration() time.Duration {
	if s == nil || len(s.Samples) == 0 {
		return 0
	}
	format := s.Format.Normalize()
	frames := len(s.Samples) / format.Channels
	return time.Duration(frames) * time.Second / time.Duration(format.SampleRate)
}

// PCM encodes the samples back to little-endian s16.
func (s *AudioSegment) PCM() []byte {
	if s == nil {
		return nil
	}
	out := make([]byte, len(s.Samples)*2)
	for i, v := range s.Samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(v))
	}
	return out
}

func (s *AudioSegment) Empty() bool {
	return s == nil || len(s.Samples) == 0
}
