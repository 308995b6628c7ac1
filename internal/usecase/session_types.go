package usecase

import (
	"time"

	"speak2type/internal/domain"
	"speak2type/internal/ports"
)

// pttSession is the single in-flight dictation. It is owned by the dispatch
// loop and never shared with the worker.
type pttSession struct {
	id         string
	source     domain.KeySource
	chord      domain.KeyChord
	mode       domain.RecordMode
	started    time.Time
	backend    ports.Backend
	hasBackend bool

	// repeats counts chord presses seen while recording; each one may have
	// leaked a character into an unfocused window.
	repeats  int
	released bool
}
