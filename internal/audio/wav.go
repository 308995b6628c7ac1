package audio

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	riffwav "github.com/youpy/go-wav"

	"speak2type/internal/domain"
)

const wavFormatPCM = 1

// EncodeWAV renders a segment as a 16-bit PCM RIFF/WAVE file in memory.
func EncodeWAV(segment *domain.AudioSegment) ([]byte, error) {
	if segment == nil {
		return nil, errors.New("no audio segment")
	}
	out := &memWriteSeeker{}
	if err := writeWAV(out, segment); err != nil {
		return nil, err
	}
	return out.buf, nil
}

// WriteWAVFile writes a segment to path as a 16-bit PCM WAV file.
func WriteWAVFile(path string, segment *domain.AudioSegment) error {
	if segment == nil {
		return errors.New("no audio segment")
	}
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create wav failed: %w", err)
	}
	if err := writeWAV(file, segment); err != nil {
		_ = file.Close()
		_ = os.Remove(path)
		return err
	}
	return file.Close()
}

func writeWAV(w io.WriteSeeker, segment *domain.AudioSegment) error {
	format := segment.Format.Normalize()
	enc := wav.NewEncoder(w, format.SampleRate, 16, format.Channels, 1)

	data := make([]int, len(segment.Samples))
	for i, v := range segment.Samples {
		data[i] = int(v)
	}
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: format.Channels, SampleRate: format.SampleRate},
		Data:           data,
		SourceBitDepth: 16,
	}
	if err := enc.Write(buf); err != nil {
		_ = enc.Close()
		return fmt.Errorf("wav write failed: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("wav close failed: %w", err)
	}
	return nil
}

// DecodeWAV reads a 16-bit PCM WAV file (mono or stereo) into a segment.
func DecodeWAV(data []byte) (*domain.AudioSegment, error) {
	reader := riffwav.NewReader(bytes.NewReader(data))
	format, err := reader.Format()
	if err != nil {
		return nil, fmt.Errorf("invalid wav header: %w", err)
	}
	if format.AudioFormat != wavFormatPCM || format.BitsPerSample != 16 {
		return nil, fmt.Errorf("unsupported wav encoding (format=%d, bits=%d)", format.AudioFormat, format.BitsPerSample)
	}
	channels := int(format.NumChannels)
	if channels < 1 || channels > 2 {
		return nil, fmt.Errorf("unsupported channel count %d", channels)
	}

	segment := &domain.AudioSegment{
		Format: domain.AudioFormat{SampleRate: int(format.SampleRate), Channels: channels, BitDepth: 16},
	}
	for {
		batch, err := reader.ReadSamples(4096)
		for _, sample := range batch {
			for ch := 0; ch < channels; ch++ {
				segment.Samples = append(segment.Samples, int16(sample.Values[ch]))
			}
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read wav samples: %w", err)
		}
	}
	return segment, nil
}

// memWriteSeeker is the in-memory target the WAV encoder needs to patch its
// header after the data chunk is written.
type memWriteSeeker struct {
	buf []byte
	pos int
}

func (m *memWriteSeeker) Write(p []byte) (int, error) {
	if end := m.pos + len(p); end > len(m.buf) {
		m.buf = append(m.buf, make([]byte, end-len(m.buf))...)
	}
	n := copy(m.buf[m.pos:], p)
	m.pos += n
	return n, nil
}

func (m *memWriteSeeker) Seek(offset int64, whence int) (int64, error) {
	var next int64
	switch whence {
	case io.SeekStart:
		next = offset
	case io.SeekCurrent:
		next = int64(m.pos) + offset
	case io.SeekEnd:
		next = int64(len(m.buf)) + offset
	default:
		return 0, fmt.Errorf("invalid whence %d", whence)
	}
	if next < 0 {
		return 0, errors.New("negative seek position")
	}
	m.pos = int(next)
	return next, nil
}
