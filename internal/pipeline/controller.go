package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aria-voice/aria/internal/assistant"
	"github.com/aria-voice/aria/internal/capture"
	"github.com/aria-voice/aria/internal/dispatch"
	"github.com/aria-voice/aria/internal/observability"
	"github.com/aria-voice/aria/internal/privacy"
	"github.com/aria-voice/aria/internal/speech"
	"github.com/aria-voice/aria/internal/store"
	"github.com/aria-voice/aria/internal/transcribe"
)

// Options wires a Controller's collaborators.
type Options struct {
	Recorder    capture.Recorder
	Transcriber Transcriber
	Querier     assistant.Querier
	Synthesizer speech.Synthesizer
	Dispatcher  dispatch.Dispatcher
	Store       store.Store
	Notifier    Notifier
	Metrics     *observability.Metrics

	STTModel          string
	LMModel           string
	Language          string
	MinRecordDuration time.Duration
	ScrubStoredPII    bool
}

// Controller owns the processing state machine. All entry points are
// safe for concurrent use; at most one run is active at a time, and
// StopProcessing is the single cancellation path for every stage.
type Controller struct {
	recorder    capture.Recorder
	transcriber Transcriber
	querier     assistant.Querier
	player      *speech.ChunkPlayer
	dispatcher  dispatch.Dispatcher
	messages    store.Store
	notifier    Notifier
	metrics     *observability.Metrics

	sttModel  string
	lmModel   string
	language  string
	minRecord time.Duration
	scrubPII  bool

	mu             sync.Mutex
	state          State
	conversationID string
	recordStart    time.Time
	run            *run
}

// run tracks one query through generation and playback. Partial text
// accumulates as chunks arrive so cancellation can persist what was
// already received.
type run struct {
	ctx     context.Context
	cancel  context.CancelFunc
	trigger string
	started time.Time

	drained      chan struct{}
	drainOnce    sync.Once
	finalizeOnce sync.Once

	mu      sync.Mutex
	partial strings.Builder
}

func (r *run) appendText(s string) {
	r.mu.Lock()
	r.partial.WriteString(s)
	r.mu.Unlock()
}

func (r *run) text() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.partial.String()
}

func (r *run) signalDrain() {
	r.drainOnce.Do(func() { close(r.drained) })
}

func NewController(opts Options) *Controller {
	c := &Controller{
		recorder:       opts.Recorder,
		transcriber:    opts.Transcriber,
		querier:        opts.Querier,
		dispatcher:     opts.Dispatcher,
		messages:       opts.Store,
		notifier:       opts.Notifier,
		metrics:        opts.Metrics,
		sttModel:       opts.STTModel,
		lmModel:        opts.LMModel,
		language:       opts.Language,
		minRecord:      opts.MinRecordDuration,
		scrubPII:       opts.ScrubStoredPII,
		state:          StateIdle,
		conversationID: uuid.NewString(),
	}
	if c.notifier == nil {
		c.notifier = NopNotifier{}
	}
	if c.minRecord <= 0 {
		c.minRecord = time.Second
	}
	c.player = speech.NewChunkPlayer(opts.Synthesizer, c.playbackDrained)
	c.player.SetQueueGauge(func(depth int) {
		if c.metrics != nil {
			c.metrics.SpeechQueueDepth.Set(float64(depth))
		}
	})
	return c
}

// Snapshot reports the current state, conversation, and any partial
// assistant text from an in-flight run.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	snap := Snapshot{State: c.state, ConversationID: c.conversationID}
	r := c.run
	c.mu.Unlock()
	if r != nil {
		snap.PendingText = r.text()
	}
	return snap
}

// StartRecording begins a capture. Only valid when idle.
func (c *Controller) StartRecording(ctx context.Context) error {
	if !c.casState(StateIdle, StateRecording) {
		return ErrBusy
	}
	if err := c.recorder.Start(ctx); err != nil {
		c.setState(StateIdle)
		c.notifier.ErrorEvent("capture_failed", "recorder", err.Error())
		c.countFailure("record")
		return fmt.Errorf("start recording: %w", err)
	}
	c.mu.Lock()
	c.recordStart = time.Now()
	c.mu.Unlock()
	return nil
}

// StopRecording finalizes the capture and starts a voice run. Captures
// shorter than the configured minimum are discarded with a notice.
func (c *Controller) StopRecording() error {
	if !c.casState(StateRecording, StateUploading) {
		return ErrNotRecording
	}
	c.mu.Lock()
	started := c.recordStart
	c.mu.Unlock()
	c.metrics.ObserveStage("record", time.Since(started))

	artifact, err := c.recorder.Stop()
	if err != nil {
		c.setState(StateIdle)
		c.notifier.ErrorEvent("capture_failed", "recorder", err.Error())
		c.countFailure("record")
		return fmt.Errorf("stop recording: %w", err)
	}
	if artifact.Duration < c.minRecord {
		_ = os.Remove(artifact.Path)
		c.setState(StateIdle)
		c.notifier.Notice("info", "Recording too short, try holding the button a bit longer.")
		return nil
	}

	r := c.newRun("voice")
	go c.runVoice(r, artifact)
	return nil
}

// SendTextMessage starts a text run, bypassing capture and transcription.
func (c *Controller) SendTextMessage(text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return errors.New("pipeline: empty message")
	}
	if !c.casState(StateIdle, StateProcessing) {
		return ErrBusy
	}
	r := c.newRun("text")
	go func() {
		defer c.endRun(r)
		c.process(r, text)
	}()
	return nil
}

// StopProcessing cancels whatever is in flight: an active capture is
// discarded, a run's stream is torn down, playback stops immediately,
// and any partial assistant text is persisted. Idempotent; calling it
// when idle is a no-op.
func (c *Controller) StopProcessing() {
	c.mu.Lock()
	r := c.run
	state := c.state
	c.mu.Unlock()

	if state == StateRecording {
		if err := c.recorder.Cancel(); err != nil && !errors.Is(err, capture.ErrNotRecording) {
			log.Printf("pipeline: cancel recording: %v", err)
		}
		c.setState(StateIdle)
		c.notifier.Notice("info", "Recording canceled.")
		return
	}
	if r == nil {
		c.player.ForceStop()
		c.setState(StateIdle)
		return
	}

	r.cancel()
	c.player.ForceStop()
	r.signalDrain()
	c.finalizeRun(r, true)
	c.endRun(r)
}

// ConversationID returns the conversation this controller appends to.
func (c *Controller) ConversationID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conversationID
}

func (c *Controller) runVoice(r *run, artifact capture.Artifact) {
	defer c.endRun(r)

	c.setState(StateTranscribing)
	uploadStart := time.Now()
	text, err := c.transcriber.Transcribe(r.ctx, artifact.Path, c.sttModel, c.language)
	_ = os.Remove(artifact.Path)
	c.metrics.ObserveStage("upload_transcribe", time.Since(uploadStart))

	switch {
	case errors.Is(err, transcribe.ErrEmptyTranscript):
		c.notifier.Notice("info", "I didn't catch that. Please try again.")
		return
	case err != nil:
		if r.ctx.Err() != nil {
			return
		}
		c.notifier.ErrorEvent("transcribe_failed", "transcriber", err.Error())
		c.countFailure("transcribe")
		return
	}

	c.process(r, text)
}

// process runs one query end to end: persist the user message, issue the
// query, and route the result by kind.
func (c *Controller) process(r *run, text string) {
	c.setState(StateProcessing)

	userMsg := store.Message{
		ConversationID: c.ConversationID(),
		Role:           store.RoleUser,
		Content:        c.storedContent(text),
	}
	persistCtx, cancelPersist := context.WithTimeout(context.Background(), 5*time.Second)
	id, err := c.messages.CreateMessage(persistCtx, userMsg)
	cancelPersist()
	if err != nil {
		log.Printf("pipeline: persist user message: %v", err)
	} else {
		userMsg.ID = id
		c.notifier.UserMessage(userMsg)
	}

	queryStart := time.Now()
	result, err := c.querier.Query(r.ctx, text, c.lmModel)
	if err != nil {
		if r.ctx.Err() != nil {
			return
		}
		c.notifier.ErrorEvent("query_failed", "assistant", err.Error())
		c.notifier.Notice("error", "The assistant is unreachable right now.")
		c.countFailure("query")
		return
	}

	switch result.Kind {
	case assistant.ResultStreaming:
		c.consumeStream(r, result, queryStart)
	case assistant.ResultStructured:
		c.handleStructured(r, result.Response)
	case assistant.ResultError:
		c.notifier.ErrorEvent("assistant_error", "assistant", result.ErrMessage)
		c.notifier.Notice("error", result.ErrMessage)
		c.countFailure("assistant")
	}
}

func (c *Controller) countRun(trigger string) {
	if c.metrics != nil {
		c.metrics.PipelineRuns.WithLabelValues(trigger).Inc()
	}
}

func (c *Controller) countFailure(stage string) {
	if c.metrics != nil {
		c.metrics.PipelineFailures.WithLabelValues(stage).Inc()
	}
}

func (c *Controller) countStreamEvent(kind string) {
	if c.metrics != nil {
		c.metrics.StreamEvents.WithLabelValues(kind).Inc()
	}
}

func (c *Controller) countDispatch(delivered bool) {
	if c.metrics == nil {
		return
	}
	outcome := "delivered"
	if !delivered {
		outcome = "failed"
	}
	c.metrics.DispatchResults.WithLabelValues(outcome).Inc()
}

func (c *Controller) newRun(trigger string) *run {
	ctx, cancel := context.WithCancel(context.Background())
	r := &run{
		ctx:     ctx,
		cancel:  cancel,
		trigger: trigger,
		started: time.Now(),
		drained: make(chan struct{}),
	}
	c.mu.Lock()
	c.run = r
	c.mu.Unlock()
	c.countRun(trigger)
	return r
}

// endRun retires r if it is still the active run and returns the
// controller to idle. A run superseded by StopProcessing leaves the
// controller alone so a newer run's state is never clobbered.
func (c *Controller) endRun(r *run) {
	c.mu.Lock()
	if c.run != r {
		c.mu.Unlock()
		return
	}
	c.run = nil
	c.mu.Unlock()

	r.cancel()
	c.metrics.ObserveStage("run_total", time.Since(r.started))
	c.setState(StateIdle)
}

// finalizeRun persists whatever assistant text the run accumulated.
// Exactly one caller wins; both the run goroutine and StopProcessing
// may race to call it.
func (c *Controller) finalizeRun(r *run, partial bool) {
	r.finalizeOnce.Do(func() {
		content := strings.TrimSpace(r.text())
		if content == "" {
			return
		}
		msg := store.Message{
			ConversationID: c.ConversationID(),
			Role:           store.RoleAssistant,
			Content:        c.storedContent(content),
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		id, err := c.messages.CreateMessage(ctx, msg)
		if err != nil {
			log.Printf("pipeline: persist assistant message: %v", err)
			return
		}
		if err := c.messages.UpdateConversation(ctx, store.Conversation{
			ID:            msg.ConversationID,
			LastMessageAt: time.Now().UTC(),
		}); err != nil {
			log.Printf("pipeline: touch conversation: %v", err)
		}
		msg.ID = id
		c.notifier.AssistantMessage(msg, partial)
	})
}

// storedContent applies PII scrubbing to text headed for the store
// when the feature is enabled.
func (c *Controller) storedContent(text string) string {
	if !c.scrubPII {
		return text
	}
	scrubbed, _ := privacy.Scrub(text)
	return scrubbed
}

// playbackDrained is the speech player's drain callback.
func (c *Controller) playbackDrained() {
	c.mu.Lock()
	r := c.run
	c.mu.Unlock()
	if r != nil {
		r.signalDrain()
	}
}

func (c *Controller) casState(from, to State) bool {
	c.mu.Lock()
	if c.state != from {
		c.mu.Unlock()
		return false
	}
	c.state = to
	c.mu.Unlock()
	c.observeState(to)
	return true
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	if c.state == s {
		c.mu.Unlock()
		return
	}
	c.state = s
	c.mu.Unlock()
	c.observeState(s)
}

func (c *Controller) observeState(s State) {
	if c.metrics != nil {
		c.metrics.StateTransitions.WithLabelValues(string(s)).Inc()
	}
	c.notifier.StateChanged(s)
}
