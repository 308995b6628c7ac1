package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"speak2type/internal/ports"
)

// Source kinds understood by CommandCapture.
const (
	SourceAuto     = "auto"
	SourcePipeWire = "pipewire"
	SourcePulse    = "pulse"
	SourceALSA     = "alsa"
)

// CommandCapture streams microphone PCM from an external recorder process:
// pw-record for PipeWire, ffmpeg for PulseAudio and ALSA.
type CommandCapture struct {
	ffmpeg   string
	pwRecord string

	lookPath     func(string) (string, error)
	startupGrace time.Duration
	stopGrace    time.Duration
}

func NewCommandCapture(ffmpeg string, pwRecord string) *CommandCapture {
	if ffmpeg == "" {
		ffmpeg = "ffmpeg"
	}
	if pwRecord == "" {
		pwRecord = "pw-record"
	}
	return &CommandCapture{
		ffmpeg:       ffmpeg,
		pwRecord:     pwRecord,
		lookPath:     exec.LookPath,
		startupGrace: 250 * time.Millisecond,
		stopGrace:    1200 * time.Millisecond,
	}
}

func (c *CommandCapture) Start(ctx context.Context, cfg ports.AudioConfig) (ports.AudioSession, error) {
	name, args, err := c.command(cfg)
	if err != nil {
		return nil, err
	}

	cmd := exec.CommandContext(ctx, name, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create recorder stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start %s: %w", name, err)
	}

	waitErr := make(chan error, 1)
	go func() {
		waitErr <- cmd.Wait()
		close(waitErr)
	}()

	select {
	case err := <-waitErr:
		if err != nil {
			return nil, fmt.Errorf("%s exited before capture started: %w: %s", name, err, stringsTrimSpaceSafe(stderr.String()))
		}
		return nil, fmt.Errorf("%s exited before capture started", name)
	case <-time.After(c.startupGrace):
	}

	return &processSession{
		stdout:    stdout,
		stderr:    &stderr,
		process:   cmd.Process,
		waitErr:   waitErr,
		stopGrace: c.stopGrace,
	}, nil
}

// command resolves the recorder binary and its arguments for cfg.
func (c *CommandCapture) command(cfg ports.AudioConfig) (string, []string, error) {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 16000
	}
	if cfg.Channels <= 0 {
		cfg.Channels = 1
	}

	kind := strings.ToLower(strings.TrimSpace(cfg.SourceKind))
	if kind == "" || kind == SourceAuto {
		kind = SourcePulse
		if _, err := c.lookPath(c.pwRecord); err == nil {
			kind = SourcePipeWire
		}
	}

	switch kind {
	case SourcePipeWire:
		args := []string{
			"--rate", strconv.Itoa(cfg.SampleRate),
			"--channels", strconv.Itoa(cfg.Channels),
			"--format", "s16",
		}
		if cfg.InputDevice != "" && cfg.InputDevice != "default" {
			args = append(args, "--target", cfg.InputDevice)
		}
		return c.pwRecord, append(args, "-"), nil
	case SourcePulse, SourceALSA:
		format := cfg.InputFormat
		if format == "" {
			format = kind
		}
		device := cfg.InputDevice
		if device == "" {
			device = "default"
		}
		return c.ffmpeg, []string{
			"-nostdin",
			"-hide_banner",
			"-loglevel", "warning",
			"-f", format,
			"-i", device,
			"-ac", strconv.Itoa(cfg.Channels),
			"-ar", strconv.Itoa(cfg.SampleRate),
			"-f", "s16le",
			"-",
		}, nil
	default:
		return "", nil, fmt.Errorf("unknown audio source kind %q", cfg.SourceKind)
	}
}

type processSession struct {
	stdout io.ReadCloser
	stderr *bytes.Buffer

	process   *os.Process
	waitErr   <-chan error
	stopGrace time.Duration

	stopOnce sync.Once
	stopErr  error
}

func (s *processSession) Read(p []byte) (int, error) {
	return s.stdout.Read(p)
}

func (s *processSession) Close() error {
	return s.Stop()
}

func (s *processSession) Stop() error {
	s.stopOnce.Do(func() {
		if s.process != nil {
			_ = s.process.Signal(os.Interrupt)
		}

		select {
		case err, ok := <-s.waitErr:
			if ok {
				s.stopErr = normalizeStopErr(err)
			}
		case <-time.After(s.stopGrace):
			if s.process != nil {
				_ = s.process.Kill()
			}
			err, ok := <-s.waitErr
			if ok {
				s.stopErr = normalizeStopErr(err)
			}
		}

		if closeErr := s.stdout.Close(); closeErr != nil && !errors.Is(closeErr, os.ErrClosed) {
			if s.stopErr == nil {
				s.stopErr = closeErr
			}
		}

		if s.stopErr != nil && s.stderr != nil && s.stderr.Len() > 0 {
			s.stopErr = fmt.Errorf("%w: %s", s.stopErr, stringsTrimSpaceSafe(s.stderr.String()))
		}
	})

	return s.stopErr
}

func normalizeStopErr(err error) error {
	if err == nil {
		return nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return nil
	}
	return err
}

func stringsTrimSpaceSafe(input string) string {
	if input == "" {
		return input
	}
	return string(bytes.TrimSpace([]byte(input)))
}
