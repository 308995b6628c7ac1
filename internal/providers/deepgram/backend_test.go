package deepgram

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"

	"speak2type/internal/domain"
	"speak2type/internal/ports"
)

func TestBackendTranscribeCollectsFinals(t *testing.T) {
	t.Parallel()

	received := make(chan int, 1)
	server := fakeDeepgram(t, func(conn *websocket.Conn) {
		total := 0
		for {
			kind, payload, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if kind == websocket.BinaryMessage {
				total += len(payload)
				continue
			}
			if strings.Contains(string(payload), "CloseStream") {
				break
			}
		}
		received <- total
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"Results","is_final":true,"channel":{"alternatives":[{"transcript":"hello"}]}}`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"Results","is_final":false,"channel":{"alternatives":[{"transcript":"hello wor"}]}}`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"Results","speech_final":true,"channel":{"alternatives":[{"transcript":"world"}]}}`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"Metadata"}`))
	})
	defer server.Close()

	backend := New(Config{APIKey: "key", APIBaseURL: server.URL, ChunkSize: 1024})
	segment := &domain.AudioSegment{Format: domain.DefaultAudioFormat(), Samples: make([]int16, 3000)}

	result := backend.Transcribe(context.Background(), segment, "en_US.UTF-8", ports.TranscribeOptions{})
	if result.Failed() {
		t.Fatalf("unexpected failure: %v", result.Err)
	}
	if result.Text != "hello world" || result.Language != "en" {
		t.Fatalf("unexpected result %+v", result)
	}
	if got := <-received; got != 6000 {
		t.Fatalf("expected all 6000 bytes of audio, got %d", got)
	}
}

func TestBackendTranscribeThroughStreamingProvider(t *testing.T) {
	t.Parallel()

	session := newFakeStreamingSession()
	session.events <- domain.TranscriptEvent{Kind: domain.TranscriptKindFinal, Text: "hallo welt"}
	provider := &fakeStreamingProvider{session: session}

	backend := New(Config{APIKey: "key"})
	backend.stream = provider
	segment := &domain.AudioSegment{Format: domain.DefaultAudioFormat(), Samples: make([]int16, 1600)}

	result := backend.Transcribe(context.Background(), segment, "de_DE", ports.TranscribeOptions{})
	if result.Failed() || result.Text != "hallo welt" || result.Language != "de" {
		t.Fatalf("unexpected result %+v", result)
	}
	if got := provider.cfg; got.Language != "de-DE" || got.SampleRate != 16000 || got.Encoding != "linear16" {
		t.Fatalf("unexpected streaming config %+v", got)
	}
}

func TestBackendTranscribeProviderError(t *testing.T) {
	t.Parallel()

	server := fakeDeepgram(t, func(conn *websocket.Conn) {
		_, _, _ = conn.ReadMessage()
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"Error","message":"invalid audio"}`))
	})
	defer server.Close()

	backend := New(Config{APIKey: "key", APIBaseURL: server.URL})
	segment := &domain.AudioSegment{Format: domain.DefaultAudioFormat(), Samples: make([]int16, 100)}

	result := backend.Transcribe(context.Background(), segment, "", ports.TranscribeOptions{})
	if !result.Failed() || result.Text != "" {
		t.Fatalf("expected failure without text, got %+v", result)
	}
	if !strings.Contains(result.Err.Reason, "invalid audio") {
		t.Fatalf("unexpected reason %q", result.Err.Reason)
	}
}

func TestBackendTranscribeEmptySegment(t *testing.T) {
	t.Parallel()

	result := New(Config{APIKey: "key"}).Transcribe(context.Background(), nil, "", ports.TranscribeOptions{})
	if !result.Failed() || result.Err.Code != domain.ErrorCodeNoAudio {
		t.Fatalf("expected no-audio failure, got %+v", result)
	}
}

func TestStreamingLanguage(t *testing.T) {
	t.Parallel()

	if got := streamingLanguage("pt_BR.UTF-8"); got != "pt-BR" {
		t.Fatalf("unexpected language %q", got)
	}
	if got := streamingLanguage(""); got != "" {
		t.Fatalf("unexpected language %q", got)
	}
}

func fakeDeepgram(t *testing.T, handle func(conn *websocket.Conn)) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/listen" || r.Header.Get("Authorization") != "Token key" {
			http.Error(w, "unexpected request", http.StatusBadRequest)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		handle(conn)
	}))
}

type fakeStreamingProvider struct {
	session ports.StreamingSession
	cfg     ports.StreamingConfig
}

func (f *fakeStreamingProvider) StartStreaming(_ context.Context, cfg ports.StreamingConfig) (ports.StreamingSession, error) {
	f.cfg = cfg
	return f.session, nil
}
