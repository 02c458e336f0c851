package capture

import (
	"context"
	"sync"
	"time"
)

// FakeRecorder is an in-memory Recorder for tests. StopArtifact is
// returned by Stop; StartErr forces Start to fail.
type FakeRecorder struct {
	mu           sync.Mutex
	recording    bool
	StartErr     error
	StopArtifact Artifact
	Starts       int
	Stops        int
	Cancels      int
}

func (f *FakeRecorder) Start(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.StartErr != nil {
		return f.StartErr
	}
	if f.recording {
		return ErrAlreadyRecording
	}
	f.recording = true
	f.Starts++
	return nil
}

func (f *FakeRecorder) Stop() (Artifact, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.recording {
		return Artifact{}, ErrNotRecording
	}
	f.recording = false
	f.Stops++
	art := f.StopArtifact
	if art.Path == "" {
		art.Path = "/tmp/fake-capture.wav"
	}
	if art.Duration == 0 {
		art.Duration = 2 * time.Second
	}
	return art, nil
}

func (f *FakeRecorder) Cancel() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.recording {
		return ErrNotRecording
	}
	f.recording = false
	f.Cancels++
	return nil
}
