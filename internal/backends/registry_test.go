package backends

import (
	"context"
	"errors"
	"testing"

	"speak2type/internal/domain"
	"speak2type/internal/ports"
)

func TestRegistryRegisterAndLookup(t *testing.T) {
	t.Parallel()

	registry := NewRegistry()
	if err := registry.Register(&stubBackend{id: "http", available: true}); err != nil {
		t.Fatalf("register failed: %v", err)
	}
	if err := registry.Register(&stubBackend{id: "whisper"}); err != nil {
		t.Fatalf("register failed: %v", err)
	}

	if _, ok := registry.Lookup("http"); !ok {
		t.Fatalf("expected http backend")
	}
	if _, ok := registry.Lookup("nope"); ok {
		t.Fatalf("unexpected lookup hit")
	}

	descriptors := registry.Descriptors()
	if len(descriptors) != 2 || descriptors[0].ID != "http" || descriptors[1].ID != "whisper" {
		t.Fatalf("unexpected descriptors %+v", descriptors)
	}
	if ids := registry.AvailableIDs(); len(ids) != 1 || ids[0] != "http" {
		t.Fatalf("unexpected available ids %v", ids)
	}
}

func TestRegistryRejectsDuplicates(t *testing.T) {
	t.Parallel()

	registry := NewRegistry()
	_ = registry.Register(&stubBackend{id: "http"})
	if err := registry.Register(&stubBackend{id: "http"}); !errors.Is(err, ErrDuplicateBackend) {
		t.Fatalf("expected ErrDuplicateBackend, got %v", err)
	}
}

func TestRegistrySealed(t *testing.T) {
	t.Parallel()

	registry := NewRegistry()
	registry.Seal()
	if err := registry.Register(&stubBackend{id: "late"}); !errors.Is(err, ErrRegistrySealed) {
		t.Fatalf("expected ErrRegistrySealed, got %v", err)
	}
}

func TestRegistrySelectFailsClosed(t *testing.T) {
	t.Parallel()

	registry := NewRegistry()
	_ = registry.Register(&stubBackend{id: "http", available: true})
	_ = registry.Register(&stubBackend{id: "offline"})

	if err := registry.Select("http"); err != nil {
		t.Fatalf("select failed: %v", err)
	}
	if backend, ok := registry.Current(); !ok || backend.Descriptor().ID != "http" {
		t.Fatalf("expected http selected")
	}

	if err := registry.Select("missing"); !errors.Is(err, ErrUnknownBackend) {
		t.Fatalf("expected ErrUnknownBackend, got %v", err)
	}
	if _, ok := registry.Current(); ok {
		t.Fatalf("unknown selection must clear the current backend")
	}

	_ = registry.Select("http")
	if err := registry.Select("offline"); !errors.Is(err, ErrBackendUnavailable) {
		t.Fatalf("expected ErrBackendUnavailable, got %v", err)
	}
	if registry.CurrentID() != "" {
		t.Fatalf("unavailable selection must clear the current backend")
	}
}

type stubBackend struct {
	id        string
	available bool
}

func (s *stubBackend) Descriptor() domain.BackendDescriptor {
	return domain.BackendDescriptor{ID: s.id, Name: s.id}
}

func (s *stubBackend) Available() bool { return s.available }

func (s *stubBackend) Transcribe(_ context.Context, _ *domain.AudioSegment, _ string, _ ports.TranscribeOptions) domain.TranscriptResult {
	return domain.TranscriptResult{Text: s.id}
}
