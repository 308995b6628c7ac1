package whispercpp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"speak2type/internal/audio"
	"speak2type/internal/domain"
	"speak2type/internal/ports"
)

const BackendID = "whisper"

// Config points at a whisper.cpp command line binary and a ggml model.
type Config struct {
	Binary  string
	Model   string
	Threads int
	TempDir string
}

// Backend runs whisper.cpp once per segment over a temporary WAV file.
type Backend struct {
	cfg      Config
	lookPath func(string) (string, error)
}

func New(cfg Config) *Backend {
	if cfg.Binary == "" {
		cfg.Binary = "whisper-cli"
	}
	if cfg.TempDir == "" {
		cfg.TempDir = os.TempDir()
	}
	return &Backend{cfg: cfg, lookPath: exec.LookPath}
}

func (b *Backend) Descriptor() domain.BackendDescriptor {
	return domain.BackendDescriptor{
		ID:           BackendID,
		Name:         "Whisper (whisper.cpp)",
		Capabilities: domain.CapabilityOffline | domain.CapabilityTimestamps,
	}
}

func (b *Backend) Available() bool {
	if b.cfg.Model == "" {
		return false
	}
	if _, err := os.Stat(b.cfg.Model); err != nil {
		return false
	}
	_, err := b.lookPath(b.cfg.Binary)
	return err == nil
}

func (b *Backend) Transcribe(ctx context.Context, segment *domain.AudioSegment, localeHint string, opts ports.TranscribeOptions) domain.TranscriptResult {
	if segment.Empty() {
		return domain.FailedResult(domain.ErrorCodeNoAudio, "empty audio segment")
	}

	wavPath := filepath.Join(b.cfg.TempDir, "speak2type_"+strings.ReplaceAll(uuid.New().String(), "-", "")[:16]+".wav")
	if err := audio.WriteWAVFile(wavPath, segment); err != nil {
		return domain.FailedResult(domain.ErrorCodeBackendFailed, err.Error())
	}
	defer os.Remove(wavPath)

	cmd := exec.CommandContext(ctx, b.cfg.Binary, b.args(wavPath, localeHint, opts)...)
	slog.Debug("executing whisper command", "args", cmd.Args)

	start := time.Now()
	output, err := cmd.Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return domain.FailedResult(domain.ErrorCodeBackendFailed,
				fmt.Sprintf("whisper exited with code %d: %s", exitErr.ExitCode(), lastLine(string(exitErr.Stderr))))
		}
		return domain.FailedResult(domain.ErrorCodeBackendFailed, fmt.Sprintf("whisper execution failed: %v", err))
	}
	slog.Debug("whisper finished", "elapsed", time.Since(start), "outputLength", len(output))

	result := domain.TranscriptResult{Language: language(localeHint)}
	if opts.Timestamps {
		result.Segments = parseTimedLines(string(output))
		texts := make([]string, 0, len(result.Segments))
		for _, seg := range result.Segments {
			texts = append(texts, seg.Text)
		}
		result.Text = strings.Join(texts, " ")
		return result
	}
	result.Text = extractText(string(output))
	return result
}

func (b *Backend) args(wavPath string, localeHint string, opts ports.TranscribeOptions) []string {
	args := []string{"-m", b.cfg.Model, "-f", wavPath, "-np", "-l", language(localeHint)}
	if !opts.Timestamps {
		args = append(args, "-nt")
	}
	if b.cfg.Threads > 0 {
		args = append(args, "-t", strconv.Itoa(b.cfg.Threads))
	}
	if opts.Prompt != "" {
		args = append(args, "--prompt", opts.Prompt)
	}
	return args
}

func language(localeHint string) string {
	if len(localeHint) < 2 {
		return "auto"
	}
	return strings.ToLower(localeHint[:2])
}

// nonSpeech matches whole-line annotations such as [BLANK_AUDIO] or (music).
var nonSpeech = regexp.MustCompile(`^\s*(\[[^\]]*\]|\([^)]*\)|\*[^*]*\*)\s*$`)

func extractText(output string) string {
	var builder strings.Builder
	for _, line := range strings.Split(output, "\n") {
		text := strings.TrimSpace(line)
		if text == "" || nonSpeech.MatchString(text) {
			continue
		}
		if builder.Len() > 0 {
			builder.WriteString(" ")
		}
		builder.WriteString(text)
	}
	return strings.TrimSpace(builder.String())
}

var timedLine = regexp.MustCompile(`^\[(\d+):(\d+):(\d+)[.,](\d+) --> (\d+):(\d+):(\d+)[.,](\d+)\]\s*(.*)$`)

func parseTimedLines(output string) []domain.TranscriptSegment {
	var segments []domain.TranscriptSegment
	for _, line := range strings.Split(output, "\n") {
		m := timedLine.FindStringSubmatch(strings.TrimSpace(line))
		if m == nil {
			continue
		}
		text := strings.TrimSpace(m[9])
		if text == "" || nonSpeech.MatchString(text) {
			continue
		}
		segments = append(segments, domain.TranscriptSegment{
			Start: clock(m[1], m[2], m[3], m[4]),
			End:   clock(m[5], m[6], m[7], m[8]),
			Text:  text,
		})
	}
	return segments
}

func clock(h, m, s, ms string) time.Duration {
	atoi := func(v string) time.Duration {
		n, _ := strconv.Atoi(v)
		return time.Duration(n)
	}
	return atoi(h)*time.Hour + atoi(m)*time.Minute + atoi(s)*time.Second + atoi(ms)*time.Millisecond
}

func lastLine(stderr string) string {
	lines := strings.Split(strings.TrimSpace(stderr), "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}
