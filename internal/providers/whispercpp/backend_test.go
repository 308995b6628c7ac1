package whispercpp

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"speak2type/internal/domain"
	"speak2type/internal/ports"
)

func TestExtractTextSkipsNonSpeech(t *testing.T) {
	t.Parallel()

	output := "\n [BLANK_AUDIO]\n Hello there.\n(music)\n  General Kenobi. \n*laughs*\n"
	if got := extractText(output); got != "Hello there. General Kenobi." {
		t.Fatalf("unexpected text %q", got)
	}
}

func TestParseTimedLines(t *testing.T) {
	t.Parallel()

	output := "[00:00:00.000 --> 00:00:01.500]   Hello\n[00:00:01.500 --> 00:00:02.000]   [BLANK_AUDIO]\n[00:01:02.250 --> 00:01:03.000]  world\n"
	segments := parseTimedLines(output)
	if len(segments) != 2 {
		t.Fatalf("expected 2 segments, got %+v", segments)
	}
	if segments[0].End != 1500*time.Millisecond || segments[1].Start != 62250*time.Millisecond {
		t.Fatalf("unexpected timings %+v", segments)
	}
}

func TestBackendTranscribeRunsBinary(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	model := filepath.Join(dir, "ggml-base.bin")
	if err := os.WriteFile(model, []byte("model"), 0o600); err != nil {
		t.Fatalf("write model: %v", err)
	}
	argsFile := filepath.Join(dir, "args")
	script := writeScript(t, dir, "#!/usr/bin/env bash\necho \"$@\" > "+argsFile+"\nprintf ' [BLANK_AUDIO]\\n Dictated text.\\n'\n")

	backend := New(Config{Binary: script, Model: model, TempDir: dir, Threads: 2})
	if !backend.Available() {
		t.Fatalf("expected backend to be available")
	}

	result := backend.Transcribe(context.Background(), testSegment(), "en_GB", ports.TranscribeOptions{})
	if result.Failed() {
		t.Fatalf("unexpected failure: %v", result.Err)
	}
	if result.Text != "Dictated text." || result.Language != "en" {
		t.Fatalf("unexpected result %+v", result)
	}

	args, _ := os.ReadFile(argsFile)
	for _, want := range []string{"-m " + model, "-l en", "-nt", "-t 2"} {
		if !strings.Contains(string(args), want) {
			t.Fatalf("expected %q in args %q", want, string(args))
		}
	}

	leftovers, _ := filepath.Glob(filepath.Join(dir, "speak2type_*.wav"))
	if len(leftovers) != 0 {
		t.Fatalf("temporary wav files not removed: %v", leftovers)
	}
}

func TestBackendTranscribeFailureCarriesNoText(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	script := writeScript(t, dir, "#!/usr/bin/env bash\necho 'partial output'\necho 'model load failed' 1>&2\nexit 3\n")
	backend := New(Config{Binary: script, Model: "unused", TempDir: dir})

	result := backend.Transcribe(context.Background(), testSegment(), "", ports.TranscribeOptions{})
	if !result.Failed() || result.Text != "" {
		t.Fatalf("expected failure without text, got %+v", result)
	}
	if !strings.Contains(result.Err.Reason, "code 3") || !strings.Contains(result.Err.Reason, "model load failed") {
		t.Fatalf("unexpected reason %q", result.Err.Reason)
	}
}

func TestBackendUnavailable(t *testing.T) {
	t.Parallel()

	backend := New(Config{Model: filepath.Join(t.TempDir(), "missing.bin")})
	if backend.Available() {
		t.Fatalf("missing model must be unavailable")
	}

	dir := t.TempDir()
	model := filepath.Join(dir, "model.bin")
	_ = os.WriteFile(model, nil, 0o600)
	backend = New(Config{Model: model})
	backend.lookPath = func(string) (string, error) { return "", errors.New("not found") }
	if backend.Available() {
		t.Fatalf("missing binary must be unavailable")
	}
}

func TestLanguageFromLocale(t *testing.T) {
	t.Parallel()

	if language("") != "auto" || language("fr_FR") != "fr" || language("EN") != "en" {
		t.Fatalf("unexpected language mapping")
	}
}

func testSegment() *domain.AudioSegment {
	return &domain.AudioSegment{Format: domain.DefaultAudioFormat(), Samples: make([]int16, 4800)}
}

func writeScript(t *testing.T, dir string, contents string) string {
	t.Helper()
	path := filepath.Join(dir, "whisper.sh")
	if err := os.WriteFile(path, []byte(contents), 0o700); err != nil {
		t.Fatalf("failed to write script: %v", err)
	}
	return path
}
