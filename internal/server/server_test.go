package server

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"speak2type/internal/audio"
	"speak2type/internal/domain"
	"speak2type/internal/ports"
	"speak2type/internal/providers/httpapi"
)

func TestHealth(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(New(&fakeSource{backend: &fakeBackend{}}, 0))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	defer resp.Body.Close()

	var body map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if body["status"] != "ok" || body["backend"] != "fake" {
		t.Fatalf("unexpected health %v", body)
	}
}

func TestGenericEndpointRoundTripsThroughHTTPBackend(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{result: domain.TranscriptResult{
		Text:     "hello world",
		Language: "en",
		Segments: []domain.TranscriptSegment{{Text: "hello world", Start: 0, End: 1500 * time.Millisecond}},
	}}
	srv := httptest.NewServer(New(&fakeSource{backend: backend}, 0))
	defer srv.Close()

	client, err := httpapi.New(httpapi.Config{Endpoint: srv.URL})
	if err != nil {
		t.Fatalf("client failed: %v", err)
	}
	segment := toneSegment(16000)
	result := client.Transcribe(context.Background(), segment, "de_DE", ports.TranscribeOptions{Timestamps: true})

	if result.Failed() || result.Text != "hello world" || result.Language != "en" {
		t.Fatalf("unexpected result %+v", result)
	}
	if len(result.Segments) != 1 || result.Segments[0].End != 1500*time.Millisecond {
		t.Fatalf("unexpected segments %+v", result.Segments)
	}

	got := backend.last()
	if got.locale != "de_DE" || !got.opts.Timestamps {
		t.Fatalf("unexpected backend call %+v", got)
	}
	if len(got.segment.Samples) != len(segment.Samples) || got.segment.Format.SampleRate != 16000 {
		t.Fatalf("audio did not survive upload: %d samples at %d Hz", len(got.segment.Samples), got.segment.Format.SampleRate)
	}
}

func TestOpenAIEndpointRoundTripsThroughHTTPBackend(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{result: domain.TranscriptResult{Text: "bonjour"}}
	srv := httptest.NewServer(New(&fakeSource{backend: backend}, 0))
	defer srv.Close()

	client, err := httpapi.New(httpapi.Config{Endpoint: srv.URL, Dialect: httpapi.DialectOpenAI})
	if err != nil {
		t.Fatalf("client failed: %v", err)
	}
	result := client.Transcribe(context.Background(), toneSegment(8000), "fr_FR", ports.TranscribeOptions{})

	if result.Failed() || result.Text != "bonjour" || result.Language != "fr" {
		t.Fatalf("unexpected result %+v", result)
	}
	if got := backend.last().locale; got != "fr" {
		t.Fatalf("expected language passed as locale, got %q", got)
	}
}

func TestRejectsUnsupportedResponseFormat(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(New(&fakeSource{backend: &fakeBackend{}}, 0))
	defer srv.Close()

	resp := postAudio(t, srv.URL+"/v1/audio/transcriptions", "file", map[string]string{"response_format": "srt"})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestFailureStatuses(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		source *fakeSource
		field  string
		want   int
	}{
		{name: "no backend", source: &fakeSource{}, field: "audio", want: http.StatusServiceUnavailable},
		{name: "backend failure", source: &fakeSource{backend: &fakeBackend{result: domain.FailedResult(domain.ErrorCodeBackendFailed, "model crashed")}}, field: "audio", want: http.StatusBadGateway},
		{name: "missing field", source: &fakeSource{backend: &fakeBackend{}}, field: "wrong", want: http.StatusBadRequest},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			srv := httptest.NewServer(New(tc.source, 0))
			defer srv.Close()

			resp := postAudio(t, srv.URL+"/transcribe", tc.field, nil)
			defer resp.Body.Close()
			if resp.StatusCode != tc.want {
				t.Fatalf("expected %d, got %d", tc.want, resp.StatusCode)
			}
			var body map[string]string
			_ = json.NewDecoder(resp.Body).Decode(&body)
			if body["error"] == "" {
				t.Fatalf("expected error message in body")
			}
		})
	}
}

func TestRawPCMUploadFallsBack(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{result: domain.TranscriptResult{Text: "raw"}}
	srv := httptest.NewServer(New(&fakeSource{backend: backend}, 0))
	defer srv.Close()

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, _ := writer.CreateFormFile("audio", "audio.raw")
	_, _ = part.Write(make([]byte, 3200))
	_ = writer.Close()

	resp, err := http.Post(srv.URL+"/transcribe", writer.FormDataContentType(), body)
	if err != nil {
		t.Fatalf("post failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if got := backend.last().segment; len(got.Samples) != 1600 || got.Format.SampleRate != 16000 {
		t.Fatalf("unexpected raw segment %d samples", len(got.Samples))
	}
}

func postAudio(t *testing.T, url string, field string, fields map[string]string) *http.Response {
	t.Helper()

	wav, err := audio.EncodeWAV(toneSegment(1600))
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, _ := writer.CreateFormFile(field, "audio.wav")
	_, _ = part.Write(wav)
	for k, v := range fields {
		_ = writer.WriteField(k, v)
	}
	_ = writer.Close()

	resp, err := http.Post(url, writer.FormDataContentType(), body)
	if err != nil {
		t.Fatalf("post failed: %v", err)
	}
	return resp
}

func toneSegment(n int) *domain.AudioSegment {
	samples := make([]int16, n)
	for i := range samples {
		samples[i] = int16((i % 64) * 256)
	}
	return &domain.AudioSegment{Format: domain.DefaultAudioFormat(), Samples: samples}
}

type fakeSource struct {
	backend ports.Backend
}

func (f *fakeSource) Current() (ports.Backend, bool) {
	return f.backend, f.backend != nil
}

type transcribeCall struct {
	segment *domain.AudioSegment
	locale  string
	opts    ports.TranscribeOptions
}

type fakeBackend struct {
	mu     sync.Mutex
	result domain.TranscriptResult
	calls  []transcribeCall
}

func (f *fakeBackend) Descriptor() domain.BackendDescriptor {
	return domain.BackendDescriptor{ID: "fake", Name: "Fake"}
}

func (f *fakeBackend) Available() bool { return true }

func (f *fakeBackend) Transcribe(_ context.Context, segment *domain.AudioSegment, localeHint string, opts ports.TranscribeOptions) domain.TranscriptResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, transcribeCall{segment: segment, locale: localeHint, opts: opts})
	return f.result
}

func (f *fakeBackend) last() transcribeCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[len(f.calls)-1]
}
