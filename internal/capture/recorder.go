// Package capture records microphone audio to files for upload.
package capture

import (
	"context"
	"errors"
	"time"
)

// ErrNotRecording is returned by Stop and Cancel when no capture is active.
var ErrNotRecording = errors.New("capture: not recording")

// ErrAlreadyRecording is returned by Start when a capture is in flight.
var ErrAlreadyRecording = errors.New("capture: already recording")

// Artifact describes one finished capture on disk.
type Artifact struct {
	Path     string
	Duration time.Duration
}

// Recorder records one capture at a time. Start begins recording, Stop
// finalizes the file and returns it, Cancel discards the capture without
// producing an artifact.
type Recorder interface {
	Start(ctx context.Context) error
	Stop() (Artifact, error)
	Cancel() error
}
