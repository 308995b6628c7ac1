//go:build portaudio

package audio

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"sync"

	"github.com/gordonklaus/portaudio"

	"speak2type/internal/ports"
)

// PortAudioCapture reads the default input device through PortAudio.
type PortAudioCapture struct {
	framesPerBuffer int
}

func NewPortAudioCapture() *PortAudioCapture {
	return &PortAudioCapture{framesPerBuffer: 1024}
}

func (c *PortAudioCapture) Start(ctx context.Context, cfg ports.AudioConfig) (ports.AudioSession, error) {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 16000
	}
	if cfg.Channels <= 0 {
		cfg.Channels = 1
	}

	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("portaudio init failed: %w", err)
	}

	in := make([]int16, c.framesPerBuffer*cfg.Channels)
	stream, err := portaudio.OpenDefaultStream(cfg.Channels, 0, float64(cfg.SampleRate), c.framesPerBuffer, in)
	if err != nil {
		_ = portaudio.Terminate()
		return nil, fmt.Errorf("open stream failed: %w", err)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		_ = portaudio.Terminate()
		return nil, fmt.Errorf("start stream failed: %w", err)
	}

	reader, writer := io.Pipe()
	session := &portAudioSession{
		stream: stream,
		reader: reader,
		writer: writer,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go session.loop(ctx, in)
	return session, nil
}

type portAudioSession struct {
	stream *portaudio.Stream
	reader *io.PipeReader
	writer *io.PipeWriter

	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

func (s *portAudioSession) loop(ctx context.Context, in []int16) {
	defer close(s.done)
	defer func() {
		_ = s.stream.Stop()
		_ = s.stream.Close()
		_ = portaudio.Terminate()
	}()

	out := make([]byte, len(in)*2)
	for {
		select {
		case <-s.stop:
			_ = s.writer.Close()
			return
		case <-ctx.Done():
			_ = s.writer.CloseWithError(ctx.Err())
			return
		default:
		}

		if err := s.stream.Read(); err != nil {
			_ = s.writer.CloseWithError(fmt.Errorf("stream read failed: %w", err))
			return
		}
		for i, v := range in {
			binary.LittleEndian.PutUint16(out[i*2:], uint16(v))
		}
		if _, err := s.writer.Write(out); err != nil {
			return
		}
	}
}

func (s *portAudioSession) Read(p []byte) (int, error) {
	return s.reader.Read(p)
}

func (s *portAudioSession) Close() error {
	return s.Stop()
}

func (s *portAudioSession) Stop() error {
	s.stopOnce.Do(func() {
		close(s.stop)
		_ = s.reader.Close()
	})
	<-s.done
	return nil
}
