package audio

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestProbeDurationRoundTrip(t *testing.T) {
	// Two seconds of silence at 16 kHz mono PCM16.
	pcm := make([]byte, 16000*2*2)
	path := filepath.Join(t.TempDir(), "probe.wav")
	if err := WriteWAVPCM16LEFile(path, pcm, 16000); err != nil {
		t.Fatalf("write wav: %v", err)
	}

	d, err := ProbeDuration(path)
	if err != nil {
		t.Fatalf("ProbeDuration: %v", err)
	}
	if d != 2*time.Second {
		t.Errorf("duration = %v, want 2s", d)
	}
}

func TestProbeDurationRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "garbage.bin")
	if err := os.WriteFile(path, []byte("not audio at all"), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}
	if _, err := ProbeDuration(path); !errors.Is(err, ErrNotWAV) {
		t.Errorf("err = %v, want ErrNotWAV", err)
	}
}

func TestProbeDurationSubSecond(t *testing.T) {
	pcm := make([]byte, 8000*2)
	path := filepath.Join(t.TempDir(), "half.wav")
	if err := WriteWAVPCM16LEFile(path, pcm, 16000); err != nil {
		t.Fatalf("write wav: %v", err)
	}

	d, err := ProbeDuration(path)
	if err != nil {
		t.Fatalf("ProbeDuration: %v", err)
	}
	if d != 500*time.Millisecond {
		t.Errorf("duration = %v, want 500ms", d)
	}
}
