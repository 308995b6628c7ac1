package deepgram

import (
	"log/slog"
	"strings"
	"sync"

	"speak2type/internal/domain"
	"speak2type/internal/ports"
)

// transcriptAggregator merges final results, falling back to the last spoken
// text when the stream ends before a final arrives.
type transcriptAggregator struct {
	mu         sync.Mutex
	finals     []string
	lastSpoken string
}

func newTranscriptAggregator() *transcriptAggregator {
	return &transcriptAggregator{}
}

func (a *transcriptAggregator) Add(event domain.TranscriptEvent) {
	a.mu.Lock()
	defer a.mu.Unlock()

	text := strings.TrimSpace(event.Text)
	if text == "" {
		return
	}
	a.lastSpoken = text
	if event.Kind == domain.TranscriptKindFinal {
		a.finals = append(a.finals, text)
	}
}

func (a *transcriptAggregator) Raw() string {
	a.mu.Lock()
	defer a.mu.Unlock()

	joined := strings.TrimSpace(strings.Join(a.finals, " "))
	if joined == "" {
		return a.lastSpoken
	}
	if a.lastSpoken == "" || strings.HasSuffix(joined, a.lastSpoken) {
		return joined
	}
	if len(a.lastSpoken) > len(joined) {
		return strings.TrimSpace(joined + " " + a.lastSpoken)
	}
	return joined
}

// collectTranscript feeds every event of a session into the aggregator until
// the provider closes its event channel.
func collectTranscript(session ports.StreamingSession, aggregator *transcriptAggregator, done chan struct{}) {
	defer close(done)

	for event := range session.Events() {
		if strings.TrimSpace(event.Text) == "" {
			continue
		}
		aggregator.Add(event)
		if event.Kind == domain.TranscriptKindPartial {
			slog.Debug("deepgram partial transcript", "text", event.Text)
		}
	}
}
