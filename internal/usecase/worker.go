package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"speak2type/internal/domain"
	"speak2type/internal/ports"
)

var ErrWorkerBusy = errors.New("transcription worker is busy")

// transcriptionJob is one segment bound to the backend snapshotted when its
// session started.
type transcriptionJob struct {
	sessionID string
	backend   ports.Backend
	segment   *domain.AudioSegment
	locale    string
	opts      ports.TranscribeOptions
}

// Completion is delivered back to the dispatch loop for every submitted job.
type Completion struct {
	SessionID string
	Result    domain.TranscriptResult
	Elapsed   time.Duration
}

// Worker runs backend calls off the dispatch loop, one at a time.
type Worker struct {
	jobs    chan transcriptionJob
	results chan Completion
}

func NewWorker() *Worker {
	return &Worker{
		jobs:    make(chan transcriptionJob, 1),
		results: make(chan Completion, 1),
	}
}

// Submit queues a job without blocking.
func (w *Worker) Submit(job transcriptionJob) error {
	select {
	case w.jobs <- job:
		return nil
	default:
		return ErrWorkerBusy
	}
}

func (w *Worker) Results() <-chan Completion {
	return w.results
}

// Run executes jobs until ctx is done.
func (w *Worker) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-w.jobs:
			completion := w.execute(ctx, job)
			select {
			case w.results <- completion:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (w *Worker) execute(ctx context.Context, job transcriptionJob) (completion Completion) {
	started := time.Now()
	completion.SessionID = job.sessionID

	defer func() {
		if recovered := recover(); recovered != nil {
			slog.Error("backend panicked", "backend", job.backend.Descriptor().ID, "panic", recovered)
			completion.Result = domain.FailedResult(domain.ErrorCodeBackendFailed, fmt.Sprintf("backend panic: %v", recovered))
		}
		completion.Elapsed = time.Since(started)
	}()

	result := job.backend.Transcribe(ctx, job.segment, job.locale, job.opts)
	if result.Failed() {
		result.Text = ""
	}
	completion.Result = result

	slog.Debug("transcription finished",
		"backend", job.backend.Descriptor().ID,
		"audio", job.segment.Duration(),
		"elapsed", time.Since(started),
		"failed", result.Failed(),
	)
	return completion
}
