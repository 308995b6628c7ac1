package audio

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"speak2type/internal/domain"
	"speak2type/internal/ports"
)

// PipelineConfig sizes the pipeline's queues and buffer.
type PipelineConfig struct {
	Audio       ports.AudioConfig
	ChunkSize   int
	FrameQueue  int
	MaxBuffered time.Duration
}

// Pipeline keeps one capture stream running for the enabled period. A single
// drain goroutine reads every chunk the recorder produces so the stream never
// stalls. Frames reach the ring buffer only while buffering is on.
type Pipeline struct {
	capture ports.AudioCapture
	cfg     PipelineConfig
	format  domain.AudioFormat

	frames chan []byte
	faults chan error

	mu        sync.Mutex
	stream    *liveStream
	buffering bool
	ring      *sampleRing
	carry     []byte
}

type liveStream struct {
	session  ports.AudioSession
	cancel   context.CancelFunc
	stopping chan struct{}
	done     chan struct{}
}

func NewPipeline(capture ports.AudioCapture, cfg PipelineConfig) *Pipeline {
	if cfg.ChunkSize < 256 {
		cfg.ChunkSize = 4096
	}
	if cfg.FrameQueue <= 0 {
		cfg.FrameQueue = 64
	}
	if cfg.MaxBuffered <= 0 {
		cfg.MaxBuffered = 2 * time.Minute
	}
	format := domain.AudioFormat{SampleRate: cfg.Audio.SampleRate, Channels: cfg.Audio.Channels}.Normalize()
	capacity := int(cfg.MaxBuffered.Seconds() * float64(format.SampleRate*format.Channels))

	return &Pipeline{
		capture: capture,
		cfg:     cfg,
		format:  format,
		frames:  make(chan []byte, cfg.FrameQueue),
		faults:  make(chan error, 1),
		ring:    newSampleRing(capacity),
	}
}

// Setup starts the capture stream. Calling it on a running pipeline is a no-op.
func (p *Pipeline) Setup(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stream != nil {
		return nil
	}

	streamCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	session, err := p.capture.Start(streamCtx, p.cfg.Audio)
	if err != nil {
		cancel()
		return fmt.Errorf("failed to start audio capture: %w", err)
	}

	p.flushFrames()
	stream := &liveStream{
		session:  session,
		cancel:   cancel,
		stopping: make(chan struct{}),
		done:     make(chan struct{}),
	}
	p.stream = stream
	go p.drain(stream)

	slog.Debug("audio pipeline started", "sampleRate", p.format.SampleRate, "channels", p.format.Channels)
	return nil
}

// Teardown stops the capture stream and discards any buffered audio.
func (p *Pipeline) Teardown() error {
	p.mu.Lock()
	stream := p.stream
	p.stream = nil
	p.buffering = false
	p.ring.Reset()
	p.carry = nil
	p.mu.Unlock()

	if stream == nil {
		return nil
	}

	close(stream.stopping)
	err := stream.session.Stop()
	stream.cancel()
	<-stream.done
	slog.Debug("audio pipeline stopped")
	return err
}

func (p *Pipeline) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stream != nil
}

// BeginBuffering drops frames queued before the press and starts a fresh buffer.
func (p *Pipeline) BeginBuffering() {
	p.flushFrames()

	p.mu.Lock()
	defer p.mu.Unlock()
	p.ring.Reset()
	p.carry = nil
	p.buffering = true
}

// EndBuffering absorbs frames already queued and returns the captured segment,
// or nil when nothing was captured.
func (p *Pipeline) EndBuffering() *domain.AudioSegment {
pending:
	for {
		select {
		case frame := <-p.frames:
			p.Accept(frame)
		default:
			break pending
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.buffering {
		return nil
	}
	p.buffering = false
	p.carry = nil
	if dropped := p.ring.Dropped(); dropped > 0 {
		slog.Warn("audio buffer overflowed, oldest samples dropped", "samples", dropped)
	}
	samples := p.ring.Snapshot()
	p.ring.Reset()
	if len(samples) == 0 {
		return nil
	}
	return &domain.AudioSegment{Format: p.format, Samples: samples}
}

// Accept appends a frame to the buffer when buffering is on.
func (p *Pipeline) Accept(frame []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.buffering || len(frame) == 0 {
		return
	}

	if len(p.carry) > 0 {
		frame = append(p.carry, frame...)
		p.carry = nil
	}
	if len(frame)%2 == 1 {
		p.carry = []byte{frame[len(frame)-1]}
		frame = frame[:len(frame)-1]
	}

	samples := make([]int16, len(frame)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(frame[i*2:]))
	}
	p.ring.Write(samples)
}

func (p *Pipeline) Frames() <-chan []byte { return p.frames }

func (p *Pipeline) Faults() <-chan error { return p.faults }

func (p *Pipeline) drain(stream *liveStream) {
	defer close(stream.done)

	buf := make([]byte, p.cfg.ChunkSize)
	for {
		n, err := stream.session.Read(buf)
		if n > 0 {
			p.push(append([]byte(nil), buf[:n]...))
		}
		if err != nil {
			select {
			case <-stream.stopping:
				return
			default:
			}
			if errors.Is(err, io.EOF) {
				err = errors.New("recorder exited")
			}
			p.fault(fmt.Errorf("audio capture stopped: %w", err))
			return
		}
	}
}

// push enqueues a frame, dropping the oldest queued frame when the loop lags.
func (p *Pipeline) push(frame []byte) {
	for {
		select {
		case p.frames <- frame:
			return
		default:
		}
		select {
		case <-p.frames:
		default:
		}
	}
}

func (p *Pipeline) fault(err error) {
	slog.Error("audio pipeline fault", "error", err)
	select {
	case p.faults <- err:
	default:
	}
}

func (p *Pipeline) flushFrames() {
	for {
		select {
		case <-p.frames:
		default:
			return
		}
	}
}
