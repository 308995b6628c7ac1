package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"speak2type/internal/audio"
	"speak2type/internal/domain"
	"speak2type/internal/ports"
)

const (
	maxUploadBytes = 64 << 20
	version        = "0.1.0"
)

// Server exposes the selected backend over the generic and OpenAI-compatible
// transcription endpoints the HTTP backend speaks.
type Server struct {
	backends ports.BackendSource
	router   *mux.Router
	timeout  time.Duration
}

func New(backends ports.BackendSource, timeout time.Duration) *Server {
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	s := &Server{backends: backends, router: mux.NewRouter(), timeout: timeout}
	s.router.HandleFunc("/", s.handleHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/transcribe", s.handleGeneric).Methods(http.MethodPost)
	s.router.HandleFunc("/v1/audio/transcriptions", s.handleOpenAI).Methods(http.MethodPost)
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Run listens on addr until ctx is done.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	slog.Info("transcription server listening", "addr", addr)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

type segmentResponse struct {
	Text  string  `json:"text"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

type transcriptionResponse struct {
	Text     string            `json:"text"`
	Segments []segmentResponse `json:"segments,omitempty"`
	Language string            `json:"language,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	id := ""
	if backend, ok := s.backends.Current(); ok {
		id = backend.Descriptor().ID
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "backend": id, "version": version})
}

func (s *Server) handleGeneric(w http.ResponseWriter, r *http.Request) {
	segment, ok := s.readAudio(w, r, "audio")
	if !ok {
		return
	}
	locale := strings.TrimSpace(r.FormValue("locale"))
	if locale == "" {
		locale = "en_US"
	}

	result, status := s.transcribe(r.Context(), segment, locale, ports.TranscribeOptions{
		Timestamps: r.FormValue("timestamps") == "true",
		Prompt:     r.FormValue("prompt"),
	})
	if result.Failed() {
		writeError(w, status, result.Err.Error())
		return
	}
	writeJSON(w, http.StatusOK, toResponse(result, true))
}

func (s *Server) handleOpenAI(w http.ResponseWriter, r *http.Request) {
	segment, ok := s.readAudio(w, r, "file")
	if !ok {
		return
	}

	format := r.FormValue("response_format")
	if format == "" {
		format = "json"
	}
	if format != "json" && format != "verbose_json" {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unsupported response_format %q", format))
		return
	}

	locale := "en_US"
	if language := strings.TrimSpace(r.FormValue("language")); language != "" {
		locale = language
	}

	result, status := s.transcribe(r.Context(), segment, locale, ports.TranscribeOptions{
		Timestamps: format == "verbose_json",
		Prompt:     r.FormValue("prompt"),
	})
	if result.Failed() {
		writeError(w, status, result.Err.Error())
		return
	}
	writeJSON(w, http.StatusOK, toResponse(result, format == "verbose_json"))
}

func (s *Server) transcribe(ctx context.Context, segment *domain.AudioSegment, locale string, opts ports.TranscribeOptions) (domain.TranscriptResult, int) {
	backend, ok := s.backends.Current()
	if !ok {
		return domain.FailedResult(domain.ErrorCodeNoBackend, "no speech backend configured"), http.StatusServiceUnavailable
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	result := backend.Transcribe(ctx, segment, locale, opts)
	slog.Info("transcription served",
		"backend", backend.Descriptor().ID,
		"audio", segment.Duration(),
		"elapsed", time.Since(start),
		"failed", result.Failed())

	if result.Failed() {
		if result.Err.Code == domain.ErrorCodeNoAudio {
			return result, http.StatusBadRequest
		}
		return result, http.StatusBadGateway
	}
	return result, http.StatusOK
}

// readAudio accepts a WAV upload and falls back to raw 16 kHz mono PCM.
func (s *Server) readAudio(w http.ResponseWriter, r *http.Request, field string) (*domain.AudioSegment, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(8 << 20); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid multipart form: %v", err))
		return nil, false
	}
	file, _, err := r.FormFile(field)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("missing %q file field", field))
		return nil, false
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("failed to read audio: %v", err))
		return nil, false
	}

	segment, err := audio.DecodeWAV(data)
	if err != nil {
		slog.Warn("upload is not a PCM wav, assuming raw 16 kHz PCM", "error", err)
		segment = domain.NewAudioSegment(domain.DefaultAudioFormat(), data)
	}
	return segment, true
}

func toResponse(result domain.TranscriptResult, withSegments bool) transcriptionResponse {
	resp := transcriptionResponse{Text: result.Text, Language: result.Language}
	if !withSegments {
		return resp
	}
	for _, seg := range result.Segments {
		resp.Segments = append(resp.Segments, segmentResponse{
			Text:  seg.Text,
			Start: seg.Start.Seconds(),
			End:   seg.End.Seconds(),
		})
	}
	return resp
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.Debug("failed to write response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
