// Package pipeline drives the capture, upload, generation, and playback
// flow. A Controller owns the processing state machine; at most one run
// is in flight at a time.
package pipeline

import (
	"context"
	"errors"

	"github.com/aria-voice/aria/internal/store"
)

// State is the controller's processing state.
type State string

const (
	StateIdle         State = "idle"
	StateRecording    State = "recording"
	StateUploading    State = "uploading"
	StateTranscribing State = "transcribing"
	StateProcessing   State = "processing"
)

// ErrBusy is returned when an operation needs the controller idle.
var ErrBusy = errors.New("pipeline: a run is already in progress")

// ErrNotRecording is returned by StopRecording outside the recording state.
var ErrNotRecording = errors.New("pipeline: not recording")

// Transcriber converts a captured audio file to text. An empty result is
// reported as transcribe.ErrEmptyTranscript by the real client.
type Transcriber interface {
	Transcribe(ctx context.Context, path, model, language string) (string, error)
}

// Notifier receives pipeline events for the UI feed. Implementations
// must not block; calls may come from the controller's run goroutine.
type Notifier interface {
	StateChanged(state State)
	Notice(severity, text string)
	UserMessage(msg store.Message)
	AssistantDelta(conversationID, delta string)
	AssistantMessage(msg store.Message, partial bool)
	DispatchResult(target, command string, delivered bool)
	ErrorEvent(code, source, detail string)
}

// NopNotifier discards all events.
type NopNotifier struct{}

func (NopNotifier) StateChanged(State)                   {}
func (NopNotifier) Notice(string, string)                {}
func (NopNotifier) UserMessage(store.Message)            {}
func (NopNotifier) AssistantDelta(string, string)        {}
func (NopNotifier) AssistantMessage(store.Message, bool) {}
func (NopNotifier) DispatchResult(string, string, bool)  {}
func (NopNotifier) ErrorEvent(string, string, string)    {}

// Snapshot is the externally visible controller state.
type Snapshot struct {
	State          State  `json:"state"`
	ConversationID string `json:"conversation_id"`
	PendingText    string `json:"pending_text,omitempty"`
}
