package deepgram

import (
	"context"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"speak2type/internal/domain"
	"speak2type/internal/ports"
)

const (
	BackendID      = "deepgram"
	defaultBaseURL = "https://api.deepgram.com/v1"
)

// Config controls Deepgram websocket settings.
type Config struct {
	APIKey          string
	APIBaseURL      string
	Model           string
	Language        string
	SmartFormat     bool
	ChunkSize       int
	FinalizeTimeout time.Duration
	Timeout         time.Duration
}

// Backend transcribes a finished segment by replaying it through a Deepgram
// live session and collecting the final results.
type Backend struct {
	cfg    Config
	dialer *websocket.Dialer
	stream ports.StreamingProvider
}

var (
	_ ports.Backend           = (*Backend)(nil)
	_ ports.StreamingProvider = (*Backend)(nil)
)

func New(cfg Config) *Backend {
	if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = defaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = "nova-2"
	}
	if cfg.ChunkSize < 256 {
		cfg.ChunkSize = 8192
	}
	if cfg.FinalizeTimeout <= 0 {
		cfg.FinalizeTimeout = 4 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	b := &Backend{cfg: cfg, dialer: websocket.DefaultDialer}
	b.stream = b
	return b
}

func (b *Backend) Descriptor() domain.BackendDescriptor {
	return domain.BackendDescriptor{
		ID:           BackendID,
		Name:         "Deepgram",
		Capabilities: domain.CapabilityNetwork | domain.CapabilityStreaming,
	}
}

func (b *Backend) Available() bool {
	return strings.TrimSpace(b.cfg.APIKey) != ""
}

func (b *Backend) Transcribe(ctx context.Context, segment *domain.AudioSegment, localeHint string, _ ports.TranscribeOptions) domain.TranscriptResult {
	if segment.Empty() {
		return domain.FailedResult(domain.ErrorCodeNoAudio, "empty audio segment")
	}

	ctx, cancel := context.WithTimeout(ctx, b.cfg.Timeout)
	defer cancel()

	session, err := b.stream.StartStreaming(ctx, ports.StreamingConfig{
		SampleRate: segment.Format.SampleRate,
		Channels:   segment.Format.Channels,
		Encoding:   "linear16",
		Language:   streamingLanguage(localeHint),
	})
	if err != nil {
		return domain.FailedResult(domain.ErrorCodeBackendFailed, err.Error())
	}

	aggregator := newTranscriptAggregator()
	collected := make(chan struct{})
	go collectTranscript(session, aggregator, collected)

	pcm := segment.PCM()
	for start := 0; start < len(pcm); start += b.cfg.ChunkSize {
		end := min(start+b.cfg.ChunkSize, len(pcm))
		if err := session.SendAudio(pcm[start:end]); err != nil {
			break
		}
	}
	_ = session.CloseSend()

	streamErr := waitForStream(session, b.cfg.FinalizeTimeout)
	<-collected

	raw := aggregator.Raw()
	if raw == "" && streamErr != nil {
		return domain.FailedResult(domain.ErrorCodeBackendFailed, streamErr.Error())
	}
	result := domain.TranscriptResult{Text: raw}
	if len(localeHint) >= 2 {
		result.Language = strings.ToLower(localeHint[:2])
	}
	return result
}

// streamingLanguage converts a POSIX locale such as en_US.UTF-8 to en-US.
func streamingLanguage(localeHint string) string {
	locale, _, _ := strings.Cut(localeHint, ".")
	return strings.ReplaceAll(locale, "_", "-")
}

func waitForStream(session ports.StreamingSession, timeout time.Duration) error {
	done := make(chan error, 1)
	go func() {
		done <- session.Wait()
	}()

	select {
	case err := <-done:
		return err
	case <-time.After(timeout):
		_ = session.Close()
		return <-done
	}
}
