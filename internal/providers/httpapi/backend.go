package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/net/http2"

	"speak2type/internal/audio"
	"speak2type/internal/domain"
	"speak2type/internal/ports"
)

// Dialect selects the request shape spoken by the remote service.
type Dialect string

const (
	DialectGeneric Dialect = "generic"
	DialectOpenAI  Dialect = "openai"
)

const BackendID = "http"

// Config controls the HTTP transcription backend.
type Config struct {
	Endpoint       string
	Dialect        Dialect
	AuthHeader     string
	Model          string
	Timeout        time.Duration
	MaxRetries     int
	RetryBaseDelay time.Duration
	EnableHTTP2    bool
}

// Backend uploads a segment as WAV to a remote transcription service.
type Backend struct {
	cfg    Config
	client *http.Client
	sleep  func(ctx context.Context, d time.Duration) error
}

func New(cfg Config) (*Backend, error) {
	if cfg.Dialect == "" {
		cfg.Dialect = DialectGeneric
	}
	if cfg.Dialect != DialectGeneric && cfg.Dialect != DialectOpenAI {
		return nil, fmt.Errorf("unknown http dialect %q", cfg.Dialect)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 1
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = 500 * time.Millisecond
	}
	if cfg.Model == "" && cfg.Dialect == DialectOpenAI {
		cfg.Model = "whisper-1"
	}
	cfg.Endpoint = strings.TrimRight(strings.TrimSpace(cfg.Endpoint), "/")
	if cfg.Endpoint != "" {
		if err := ValidateEndpoint(cfg.Endpoint, cfg.AuthHeader); err != nil {
			return nil, err
		}
	}

	client, err := newHTTPClient(cfg.Timeout, cfg.EnableHTTP2)
	if err != nil {
		return nil, err
	}
	return &Backend{cfg: cfg, client: client, sleep: sleepContext}, nil
}

// ValidateEndpoint checks the scheme and host and refuses to send credentials
// in clear text to anything but the local machine.
func ValidateEndpoint(endpoint string, authHeader string) error {
	parsed, err := url.Parse(endpoint)
	if err != nil {
		return fmt.Errorf("invalid endpoint URL: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("invalid endpoint URL scheme %q: must be http or https", parsed.Scheme)
	}
	if parsed.Host == "" {
		return fmt.Errorf("invalid endpoint URL: missing host in %q", endpoint)
	}
	if authHeader != "" && parsed.Scheme != "https" && !isLoopback(parsed.Hostname()) {
		return fmt.Errorf("https required when using authentication with remote endpoint %q", endpoint)
	}
	return nil
}

func isLoopback(host string) bool {
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func newHTTPClient(timeout time.Duration, enableHTTP2 bool) (*http.Client, error) {
	tr := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        4,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}
	if enableHTTP2 {
		if err := http2.ConfigureTransport(tr); err != nil {
			return nil, fmt.Errorf("configure http2 transport: %w", err)
		}
	}
	return &http.Client{Transport: tr, Timeout: timeout}, nil
}

func (b *Backend) Descriptor() domain.BackendDescriptor {
	return domain.BackendDescriptor{
		ID:           BackendID,
		Name:         fmt.Sprintf("HTTP (%s)", b.cfg.Dialect),
		Capabilities: domain.CapabilityNetwork | domain.CapabilityTimestamps,
	}
}

func (b *Backend) Available() bool {
	return b.cfg.Endpoint != ""
}

func (b *Backend) Transcribe(ctx context.Context, segment *domain.AudioSegment, localeHint string, opts ports.TranscribeOptions) domain.TranscriptResult {
	if !b.Available() {
		return domain.FailedResult(domain.ErrorCodeBackendFailed, "http endpoint is not configured")
	}
	if segment.Empty() {
		return domain.FailedResult(domain.ErrorCodeNoAudio, "empty audio segment")
	}

	wav, err := audio.EncodeWAV(segment)
	if err != nil {
		return domain.FailedResult(domain.ErrorCodeBackendFailed, err.Error())
	}

	delay := b.cfg.RetryBaseDelay
	for attempt := 1; ; attempt++ {
		body, status, err := b.upload(ctx, wav, localeHint, opts)
		if err == nil && status == http.StatusOK {
			return b.parse(body, localeHint)
		}

		reason := describeFailure(err, status, body)
		if !retryable(ctx, err, status) || attempt >= b.cfg.MaxRetries {
			return domain.FailedResult(domain.ErrorCodeBackendFailed, reason)
		}
		slog.Warn("transcription upload failed, retrying", "attempt", attempt, "reason", reason, "delay", delay)
		if err := b.sleep(ctx, delay); err != nil {
			return domain.FailedResult(domain.ErrorCodeBackendFailed, reason)
		}
		delay *= 2
	}
}

func (b *Backend) url() string {
	if b.cfg.Dialect == DialectOpenAI {
		return b.cfg.Endpoint + "/v1/audio/transcriptions"
	}
	return b.cfg.Endpoint + "/transcribe"
}

func (b *Backend) upload(ctx context.Context, wav []byte, localeHint string, opts ports.TranscribeOptions) ([]byte, int, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	fileField := "audio"
	if b.cfg.Dialect == DialectOpenAI {
		fileField = "file"
	}
	part, err := writer.CreateFormFile(fileField, "audio.wav")
	if err != nil {
		return nil, 0, fmt.Errorf("create form file: %w", err)
	}
	if _, err := part.Write(wav); err != nil {
		return nil, 0, fmt.Errorf("write form file: %w", err)
	}

	for k, v := range b.formFields(localeHint, opts) {
		_ = writer.WriteField(k, v)
	}
	_ = writer.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.url(), body)
	if err != nil {
		return nil, 0, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("User-Agent", "speak2type/1.0")
	if b.cfg.AuthHeader != "" {
		req.Header.Set("Authorization", b.cfg.AuthHeader)
	}

	start := time.Now()
	resp, err := b.client.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()
	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	slog.Debug("transcription upload finished", "url", b.url(), "status", resp.StatusCode, "elapsed", time.Since(start))
	return respBody, resp.StatusCode, err
}

func (b *Backend) formFields(localeHint string, opts ports.TranscribeOptions) map[string]string {
	fields := map[string]string{}
	if opts.Prompt != "" {
		fields["prompt"] = opts.Prompt
	}
	if b.cfg.Dialect == DialectOpenAI {
		fields["model"] = b.cfg.Model
		fields["response_format"] = "json"
		if opts.Timestamps {
			fields["response_format"] = "verbose_json"
		}
		if len(localeHint) >= 2 {
			fields["language"] = strings.ToLower(localeHint[:2])
		}
		return fields
	}
	fields["locale"] = localeHint
	if b.cfg.Model != "" {
		fields["model"] = b.cfg.Model
	}
	if opts.Timestamps {
		fields["timestamps"] = "true"
	}
	return fields
}

type transcriptionResponse struct {
	Text     string `json:"text"`
	Language string `json:"language"`
	Segments []struct {
		Text  string  `json:"text"`
		Start float64 `json:"start"`
		End   float64 `json:"end"`
	} `json:"segments"`
}

func (b *Backend) parse(body []byte, localeHint string) domain.TranscriptResult {
	var payload transcriptionResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return domain.FailedResult(domain.ErrorCodeBackendFailed, "invalid response: "+formatResponse(body))
	}

	result := domain.TranscriptResult{Text: strings.TrimSpace(payload.Text), Language: payload.Language}
	if result.Language == "" && b.cfg.Dialect == DialectOpenAI && len(localeHint) >= 2 {
		result.Language = localeHint[:2]
	}
	for _, seg := range payload.Segments {
		result.Segments = append(result.Segments, domain.TranscriptSegment{
			Text:  strings.TrimSpace(seg.Text),
			Start: time.Duration(seg.Start * float64(time.Second)),
			End:   time.Duration(seg.End * float64(time.Second)),
		})
	}
	return result
}

func retryable(ctx context.Context, err error, status int) bool {
	if ctx.Err() != nil {
		return false
	}
	if err != nil {
		return !errors.Is(err, context.Canceled)
	}
	return status >= 500 || status == http.StatusTooManyRequests
}

func describeFailure(err error, status int, body []byte) string {
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return "request timed out"
		}
		return fmt.Sprintf("request failed: %v", err)
	}
	return fmt.Sprintf("http status %d: %s", status, formatResponse(body))
}

func formatResponse(b []byte) string {
	if len(b) == 0 {
		return "<empty>"
	}
	const maxText = 300
	if !utf8.Valid(b) {
		return fmt.Sprintf("<binary %d bytes>", len(b))
	}
	s := strings.TrimSpace(string(b))
	if len(s) > maxText {
		return s[:maxText] + "..."
	}
	return s
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
