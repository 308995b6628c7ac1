package deepgram

import (
	"testing"

	"speak2type/internal/domain"
)

func TestTranscriptAggregatorUsesFinalsAndLastSpokenFallback(t *testing.T) {
	t.Parallel()

	agg := newTranscriptAggregator()
	agg.Add(domain.TranscriptEvent{Kind: domain.TranscriptKindPartial, Text: "hello"})
	agg.Add(domain.TranscriptEvent{Kind: domain.TranscriptKindFinal, Text: "hello world"})
	agg.Add(domain.TranscriptEvent{Kind: domain.TranscriptKindPartial, Text: "hello world again"})

	if got := agg.Raw(); got != "hello world hello world again" {
		t.Fatalf("unexpected transcript: %q", got)
	}
}

func TestTranscriptAggregatorPartialOnly(t *testing.T) {
	t.Parallel()

	agg := newTranscriptAggregator()
	agg.Add(domain.TranscriptEvent{Kind: domain.TranscriptKindPartial, Text: " only partial "})
	if got := agg.Raw(); got != "only partial" {
		t.Fatalf("unexpected transcript: %q", got)
	}
}

func TestTranscriptAggregatorIgnoresEmpty(t *testing.T) {
	t.Parallel()

	agg := newTranscriptAggregator()
	agg.Add(domain.TranscriptEvent{Kind: domain.TranscriptKindPartial, Text: "   "})
	if got := agg.Raw(); got != "" {
		t.Fatalf("expected empty, got %q", got)
	}
}

func TestCollectTranscriptDrainsSession(t *testing.T) {
	t.Parallel()

	session := newFakeStreamingSession()
	session.events <- domain.TranscriptEvent{Kind: domain.TranscriptKindFinal, Text: "one"}
	session.events <- domain.TranscriptEvent{Kind: domain.TranscriptKindFinal, Text: ""}
	session.events <- domain.TranscriptEvent{Kind: domain.TranscriptKindFinal, Text: "two"}
	_ = session.CloseSend()

	agg := newTranscriptAggregator()
	done := make(chan struct{})
	go collectTranscript(session, agg, done)
	<-done

	if got := agg.Raw(); got != "one two" {
		t.Fatalf("unexpected transcript: %q", got)
	}
}
