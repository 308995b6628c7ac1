//go:build !portaudio

package audio

import (
	"context"
	"errors"

	"speak2type/internal/ports"
)

// PortAudioCapture is unavailable unless built with -tags portaudio.
type PortAudioCapture struct{}

func NewPortAudioCapture() *PortAudioCapture {
	return &PortAudioCapture{}
}

func (c *PortAudioCapture) Start(_ context.Context, _ ports.AudioConfig) (ports.AudioSession, error) {
	return nil, errors.New("portaudio capture not supported in this build (rebuild with -tags portaudio)")
}
