// Package speech turns assistant text into audible output. ChunkPlayer
// queues stream chunks and voices them in arrival order while more
// chunks are still coming in.
package speech

import (
	"log"
	"sync"
)

// SpeakResult reports how one utterance finished.
type SpeakResult struct {
	Err error
}

// Synthesizer voices one piece of text at a time. Speak returns once the
// utterance is accepted and invokes done when playback ends; Stop
// interrupts the current utterance immediately.
type Synthesizer interface {
	Speak(text string, done func(SpeakResult)) error
	Stop()
}

// ChunkPlayer serializes utterances through a Synthesizer. In stream
// mode it plays chunks strictly in push order and keeps playing until
// the producer signals the end of the stream and the queue drains.
type ChunkPlayer struct {
	synth     Synthesizer
	onDrained func()

	mu              sync.Mutex
	onDepth         func(int)
	queue           []string
	streamMode      bool
	stopWhenDrained bool
	processing      bool
	workerID        uint64
}

// NewChunkPlayer builds a player over synth. onDrained is invoked, off
// the player's lock, each time a playback session fully drains; it may
// be nil.
func NewChunkPlayer(synth Synthesizer, onDrained func()) *ChunkPlayer {
	return &ChunkPlayer{synth: synth, onDrained: onDrained}
}

// SetQueueGauge registers fn to receive the queue depth after every
// change. Called outside the player's lock; fn may be nil.
func (p *ChunkPlayer) SetQueueGauge(fn func(int)) {
	p.mu.Lock()
	p.onDepth = fn
	p.mu.Unlock()
}

// StartStreamMode begins a playback session fed by PushChunk. Any
// leftover queue from a previous session is discarded, and a worker
// stranded by that session loses ownership so this one can start fresh.
func (p *ChunkPlayer) StartStreamMode() {
	p.mu.Lock()
	p.queue = p.queue[:0]
	p.streamMode = true
	p.stopWhenDrained = false
	p.processing = false
	report := p.onDepth
	p.mu.Unlock()

	if report != nil {
		report(0)
	}
}

// PushChunk sanitizes and enqueues one chunk for playback. Chunks are
// voiced in push order; pushes outside a stream session and chunks that
// are empty after sanitizing are dropped.
func (p *ChunkPlayer) PushChunk(text string) {
	clean := SanitizeChunk(text)

	p.mu.Lock()
	if !p.streamMode || clean == "" {
		p.mu.Unlock()
		return
	}
	p.queue = append(p.queue, clean)
	depth := len(p.queue)
	report := p.onDepth
	startWorker := !p.processing
	if startWorker {
		p.processing = true
		p.workerID++
	}
	id := p.workerID
	p.mu.Unlock()

	if report != nil {
		report(depth)
	}
	if startWorker {
		go p.advance(id)
	}
}

// EndStreamMode marks the stream complete. Queued chunks keep playing;
// the session ends when the queue drains.
func (p *ChunkPlayer) EndStreamMode() {
	p.mu.Lock()
	p.stopWhenDrained = true
	finished := p.streamMode && !p.processing && len(p.queue) == 0
	if finished {
		p.streamMode = false
		p.stopWhenDrained = false
	}
	p.mu.Unlock()

	if finished && p.onDrained != nil {
		p.onDrained()
	}
}

// ForceStop interrupts playback immediately and discards the queue.
// In-flight completion callbacks from the interrupted utterance are
// ignored. Safe to call at any time, including when idle.
func (p *ChunkPlayer) ForceStop() {
	p.mu.Lock()
	wasActive := p.streamMode || p.processing
	p.queue = nil
	p.streamMode = false
	p.stopWhenDrained = false
	p.processing = false
	report := p.onDepth
	p.mu.Unlock()

	if report != nil {
		report(0)
	}
	if wasActive {
		p.synth.Stop()
	}
}

// Say voices a single standalone utterance outside stream mode.
func (p *ChunkPlayer) Say(text string, done func(SpeakResult)) error {
	clean := SanitizeText(text)
	if clean == "" {
		if done != nil {
			done(SpeakResult{})
		}
		return nil
	}
	return p.synth.Speak(clean, func(res SpeakResult) {
		if done != nil {
			done(res)
		}
	})
}

// Active reports whether a stream session or utterance is in flight.
func (p *ChunkPlayer) Active() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.streamMode || p.processing
}

// advance voices the queue head until the queue empties. Exactly one
// worker owns the queue at a time: id must match workerID on every lock
// acquisition, so a worker superseded while blocked in an utterance
// exits instead of touching a newer session's state. Speak is always
// called outside the lock so synchronous callbacks cannot deadlock.
func (p *ChunkPlayer) advance(id uint64) {
	for {
		p.mu.Lock()
		if p.workerID != id {
			p.mu.Unlock()
			return
		}
		if len(p.queue) == 0 {
			p.processing = false
			finished := p.streamMode && p.stopWhenDrained
			if finished {
				p.streamMode = false
				p.stopWhenDrained = false
			}
			p.mu.Unlock()
			if finished && p.onDrained != nil {
				p.onDrained()
			}
			return
		}
		next := p.queue[0]
		p.queue = p.queue[1:]
		depth := len(p.queue)
		report := p.onDepth
		p.mu.Unlock()

		if report != nil {
			report(depth)
		}

		done := make(chan struct{})
		err := p.synth.Speak(next, func(res SpeakResult) {
			if res.Err != nil {
				log.Printf("speech: utterance failed: %v", res.Err)
			}
			close(done)
		})
		if err != nil {
			log.Printf("speech: synthesizer rejected chunk: %v", err)
		} else {
			<-done
		}
	}
}
