package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"speak2type/internal/domain"
	"speak2type/internal/ports"
)

func TestWorkerDeliversCompletion(t *testing.T) {
	t.Parallel()

	worker := NewWorker()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go worker.Run(ctx)

	backend := newFakeBackend(domain.TranscriptResult{Text: "hi"}, false)
	if err := worker.Submit(transcriptionJob{sessionID: "s1", backend: backend, segment: segmentOf(time.Second)}); err != nil {
		t.Fatalf("submit failed: %v", err)
	}

	select {
	case completion := <-worker.Results():
		if completion.SessionID != "s1" || completion.Result.Text != "hi" {
			t.Fatalf("unexpected completion %+v", completion)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for completion")
	}
}

func TestWorkerRejectsSecondPendingJob(t *testing.T) {
	t.Parallel()

	worker := NewWorker()
	job := transcriptionJob{sessionID: "s1", backend: newFakeBackend(domain.TranscriptResult{}, false)}

	if err := worker.Submit(job); err != nil {
		t.Fatalf("first submit failed: %v", err)
	}
	if err := worker.Submit(job); !errors.Is(err, ErrWorkerBusy) {
		t.Fatalf("expected ErrWorkerBusy, got %v", err)
	}
}

func TestWorkerRecoversBackendPanic(t *testing.T) {
	t.Parallel()

	completion := NewWorker().execute(context.Background(), transcriptionJob{sessionID: "s1", backend: panickingBackend{}})
	if !completion.Result.Failed() || completion.Result.Err.Code != domain.ErrorCodeBackendFailed {
		t.Fatalf("expected failed result, got %+v", completion.Result)
	}
	if completion.SessionID != "s1" {
		t.Fatalf("unexpected session id %q", completion.SessionID)
	}
}

func TestWorkerStripsTextFromFailedResult(t *testing.T) {
	t.Parallel()

	backend := newFakeBackend(domain.TranscriptResult{
		Text: "Error: model missing",
		Err:  &domain.TranscriptError{Code: domain.ErrorCodeBackendFailed},
	}, false)

	completion := NewWorker().execute(context.Background(), transcriptionJob{backend: backend, segment: segmentOf(time.Second)})
	if completion.Result.Text != "" {
		t.Fatalf("failed result leaked text %q", completion.Result.Text)
	}
}

type panickingBackend struct{}

func (panickingBackend) Descriptor() domain.BackendDescriptor {
	return domain.BackendDescriptor{ID: "panic"}
}

func (panickingBackend) Available() bool { return true }

func (panickingBackend) Transcribe(context.Context, *domain.AudioSegment, string, ports.TranscribeOptions) domain.TranscriptResult {
	panic("model exploded")
}
