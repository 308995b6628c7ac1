package usecase

import (
	"context"
	"log/slog"

	"speak2type/internal/domain"
	"speak2type/internal/ports"
)

// transcriptCommitter hands a finished transcript to exactly one sink.
type transcriptCommitter struct {
	inserter  ports.TextInserter
	clipboard ports.Clipboard
	events    ports.EventSink
}

func newTranscriptCommitter(inserter ports.TextInserter, clipboard ports.Clipboard, events ports.EventSink) transcriptCommitter {
	return transcriptCommitter{inserter: inserter, clipboard: clipboard, events: events}
}

// Commit inserts at the focused input when possible and otherwise hands the
// text to the clipboard without waiting for it.
func (f transcriptCommitter) Commit(ctx context.Context, text string, focused bool, leaked int) domain.StateReason {
	if focused && f.inserter != nil {
		err := f.inserter.Insert(text)
		if err == nil {
			f.events.Committed(domain.CommitInsert, text)
			return domain.ReasonTextInserted
		}
		slog.Warn("insert at cursor failed, falling back to clipboard", "error", err)
	}

	if f.clipboard == nil {
		f.events.Error(domain.ErrorCodeCommit, "no clipboard sink available")
		return domain.ReasonTranscriptionFailed
	}

	f.events.Committed(domain.CommitClipboard, text)
	go func() {
		if err := f.clipboard.Deliver(ctx, text, leaked); err != nil {
			slog.Warn("clipboard delivery failed", "error", err)
			f.events.Error(domain.ErrorCodeCommit, "transcript ready but clipboard write failed")
		}
	}()
	return domain.ReasonTextCopied
}
