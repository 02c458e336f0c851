package speech

import (
	"strings"
	"testing"
	"time"
)

func waitSignal(t *testing.T, ch <-chan struct{}, what string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
	}
}

func TestChunkPlayerSpeaksInPushOrder(t *testing.T) {
	synth := &MockSynthesizer{}
	drained := make(chan struct{})
	player := NewChunkPlayer(synth, func() { close(drained) })

	player.StartStreamMode()
	player.PushChunk("Hel")
	player.PushChunk("lo, ")
	player.PushChunk("world")
	player.EndStreamMode()

	waitSignal(t, drained, "drain")

	got := strings.Join(synth.Spoken(), "")
	if got != "Hello, world" {
		t.Errorf("spoken = %q, want %q", got, "Hello, world")
	}
	if player.Active() {
		t.Error("player still active after drain")
	}
}

func TestChunkPlayerDrainsQueueAfterEndStreamMode(t *testing.T) {
	synth := &MockSynthesizer{Manual: true}
	drained := make(chan struct{})
	player := NewChunkPlayer(synth, func() { close(drained) })

	player.StartStreamMode()
	player.PushChunk("first")
	player.PushChunk("second")
	player.EndStreamMode()

	select {
	case <-drained:
		t.Fatal("drained before queued chunks played")
	case <-time.After(50 * time.Millisecond):
	}

	deadline := time.Now().Add(2 * time.Second)
drain:
	for {
		select {
		case <-drained:
			break drain
		default:
			if time.Now().After(deadline) {
				t.Fatal("timed out draining queue")
			}
			synth.Finish()
			time.Sleep(5 * time.Millisecond)
		}
	}

	spoken := synth.Spoken()
	if len(spoken) != 2 || spoken[0] != "first" || spoken[1] != "second" {
		t.Errorf("spoken = %v", spoken)
	}
}

func TestChunkPlayerForceStopDiscardsQueue(t *testing.T) {
	synth := &MockSynthesizer{Manual: true}
	player := NewChunkPlayer(synth, func() {
		t.Error("onDrained fired after force stop")
	})

	player.StartStreamMode()
	player.PushChunk("one")
	player.PushChunk("two")
	player.PushChunk("three")

	// Wait for the first chunk to reach the synthesizer.
	deadline := time.Now().Add(2 * time.Second)
	for len(synth.Spoken()) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("first chunk never spoken")
		}
		time.Sleep(5 * time.Millisecond)
	}

	player.ForceStop()

	// Completion of the interrupted utterance must not resume the queue.
	time.Sleep(100 * time.Millisecond)
	if got := synth.Spoken(); len(got) != 1 {
		t.Errorf("spoken after force stop = %v, want only the first chunk", got)
	}
	if synth.Stops() == 0 {
		t.Error("synthesizer Stop not called")
	}
	if player.Active() {
		t.Error("player active after force stop")
	}
}

func TestChunkPlayerCleansChunksBeforeSpeaking(t *testing.T) {
	synth := &MockSynthesizer{}
	drained := make(chan struct{})
	player := NewChunkPlayer(synth, func() { close(drained) })

	player.StartStreamMode()
	player.PushChunk("**Lights** are on ")
	player.PushChunk("* * *")
	player.PushChunk("https://example.com/x")
	player.EndStreamMode()

	waitSignal(t, drained, "drain")

	spoken := synth.Spoken()
	if len(spoken) != 1 {
		t.Fatalf("spoken = %v, want the markup-only chunks dropped", spoken)
	}
	if spoken[0] != "Lights are on " {
		t.Errorf("spoken = %q, want %q", spoken[0], "Lights are on ")
	}
}

func TestChunkPlayerRestartRecoversStalledWorker(t *testing.T) {
	synth := &MockSynthesizer{Manual: true}
	player := NewChunkPlayer(synth, nil)

	player.StartStreamMode()
	player.PushChunk("first")

	deadline := time.Now().Add(2 * time.Second)
	for len(synth.Spoken()) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("first chunk never spoken")
		}
		time.Sleep(5 * time.Millisecond)
	}

	// A new session while the first utterance is still in flight must
	// not leave the queue without a worker.
	player.StartStreamMode()
	player.PushChunk("second")

	deadline = time.Now().Add(2 * time.Second)
	for {
		spoken := synth.Spoken()
		if len(spoken) == 2 && spoken[1] == "second" {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("second session never spoke, got %v", spoken)
		}
		time.Sleep(5 * time.Millisecond)
	}

	synth.Finish()
	synth.Finish()
}

func TestChunkPlayerDropsPushesOutsideStreamMode(t *testing.T) {
	synth := &MockSynthesizer{}
	player := NewChunkPlayer(synth, nil)

	player.PushChunk("ignored")
	time.Sleep(20 * time.Millisecond)
	if got := synth.Spoken(); len(got) != 0 {
		t.Errorf("spoken = %v, want none", got)
	}
}

func TestChunkPlayerEndWithEmptyQueueFinishesImmediately(t *testing.T) {
	synth := &MockSynthesizer{}
	drained := make(chan struct{})
	player := NewChunkPlayer(synth, func() { close(drained) })

	player.StartStreamMode()
	player.EndStreamMode()
	waitSignal(t, drained, "drain")
}

func TestChunkPlayerForceStopWhenIdleIsNoOp(t *testing.T) {
	synth := &MockSynthesizer{}
	player := NewChunkPlayer(synth, nil)
	player.ForceStop()
	if synth.Stops() != 0 {
		t.Error("Stop called on idle player")
	}
}

func TestSayStripsMarkup(t *testing.T) {
	synth := &MockSynthesizer{}
	player := NewChunkPlayer(synth, nil)

	doneCh := make(chan struct{})
	err := player.Say("**Lights** are `on` now! https://example.com/x", func(SpeakResult) { close(doneCh) })
	if err != nil {
		t.Fatalf("Say: %v", err)
	}
	waitSignal(t, doneCh, "say completion")

	spoken := synth.Spoken()
	if len(spoken) != 1 {
		t.Fatalf("spoken = %v", spoken)
	}
	if strings.ContainsAny(spoken[0], "*`") || strings.Contains(spoken[0], "http") {
		t.Errorf("markup leaked into speech: %q", spoken[0])
	}
}
