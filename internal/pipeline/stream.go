package pipeline

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/aria-voice/aria/internal/assistant"
	"github.com/aria-voice/aria/internal/speech"
)

// consumeStream applies server events in arrival order: status events
// surface progress, data chunks accumulate and feed the speech queue,
// and the stream outcome decides how the run is finalized.
func (c *Controller) consumeStream(r *run, result assistant.Result, queryStart time.Time) {
	defer result.Cancel()

	c.player.StartStreamMode()

	var (
		complete   bool
		streamErr  string
		sawChunk   bool
		convID     = c.ConversationID()
		streamFrom = time.Now()
	)

events:
	for ev := range result.Events {
		c.countStreamEvent(string(ev.Type))
		switch ev.Type {
		case assistant.EventStatus:
			info := assistant.DecodeStatus(ev.Payload)
			switch info.Status {
			case assistant.StatusTranscribing:
				c.notifier.Notice("info", "Transcribing...")
			case assistant.StatusGenerating:
				if info.Transcription != "" {
					c.notifier.Notice("info", "Heard: "+info.Transcription)
				}
			}
		case assistant.EventData:
			chunk := assistant.DecodeChunk(ev.Payload)
			if chunk == "" {
				continue
			}
			if !sawChunk {
				sawChunk = true
				c.metrics.ObserveStage("query_to_first_chunk", time.Since(queryStart))
				if c.metrics != nil {
					c.metrics.ObserveFirstChunkLatency(time.Since(queryStart))
					c.metrics.SpeechChunks.Inc()
				}
			} else if c.metrics != nil {
				c.metrics.SpeechChunks.Inc()
			}
			r.appendText(chunk)
			c.player.PushChunk(chunk)
			c.notifier.AssistantDelta(convID, chunk)
		case assistant.EventError:
			streamErr = assistant.DecodeErrorMessage(ev.Payload)
			break events
		case assistant.EventDone:
			complete = true
			break events
		default:
			log.Printf("pipeline: ignoring %s stream event", ev.Type)
		}
	}

	c.metrics.ObserveStage("stream_total", time.Since(streamFrom))

	if r.ctx.Err() != nil {
		// StopProcessing already force-stopped playback and finalized.
		return
	}

	if streamErr != "" {
		c.notifier.ErrorEvent("stream_failed", "assistant", streamErr)
		c.notifier.Notice("error", streamErr)
		c.countFailure("stream")
		// A server failure invalidates the text received so far: stop
		// playback now and drop the in-progress message. Consume the
		// finalizer so a racing cancellation cannot persist it either.
		c.player.ForceStop()
		r.finalizeOnce.Do(func() {})
		return
	}
	if !complete {
		c.notifier.ErrorEvent("stream_interrupted", "assistant", "stream ended without completion")
		c.countFailure("stream")
	}

	// Let queued speech finish before going idle, even on a truncated
	// stream: what was heard should match what was received.
	c.player.EndStreamMode()
	select {
	case <-r.drained:
	case <-r.ctx.Done():
	case <-time.After(2 * time.Minute):
		// Kill a wedged utterance so later runs can speak.
		c.player.ForceStop()
	}

	c.finalizeRun(r, !complete)
}

// handleStructured routes a non-streaming response. Device-control
// responses go to the dispatcher and are never spoken; anything else is
// voiced as a single utterance.
func (c *Controller) handleStructured(r *run, resp *assistant.Response) {
	if resp.HasError() {
		c.notifier.ErrorEvent(resp.Error.Code, "assistant", resp.Error.Message)
		c.notifier.Notice("error", resp.Error.Message)
		c.countFailure("assistant")
		return
	}

	if resp.IsDeviceControl() {
		ctx, cancel := context.WithTimeout(r.ctx, 10*time.Second)
		defer cancel()
		err := c.dispatcher.Route(ctx, resp)
		delivered := err == nil
		c.countDispatch(delivered)
		c.notifier.DispatchResult(resp.TargetDevice, resp.Command(), delivered)
		if err != nil {
			c.notifier.ErrorEvent("dispatch_failed", "dispatch", err.Error())
		}

		summary := fmt.Sprintf("Sent %s to %s.", resp.Command(), resp.TargetDevice)
		if !delivered {
			summary = fmt.Sprintf("Could not deliver %s to %s.", resp.Command(), resp.TargetDevice)
		}
		r.appendText(summary)
		c.finalizeRun(r, false)
		return
	}

	text := resp.Output.GeneratedOutput
	if text == "" {
		c.notifier.Notice("info", "The assistant returned an empty response.")
		return
	}
	r.appendText(text)
	c.finalizeRun(r, false)

	done := make(chan struct{})
	if err := c.player.Say(text, func(speech.SpeakResult) { close(done) }); err != nil {
		c.notifier.ErrorEvent("speech_failed", "speech", err.Error())
		return
	}
	select {
	case <-done:
	case <-r.ctx.Done():
	}
}
