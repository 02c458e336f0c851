package speech

import (
	"bytes"
	"fmt"
	"os/exec"
	"strings"
	"sync"
)

// ExecSynthesizer voices text by running a local TTS command per
// utterance, one process at a time. The text is written to the
// command's stdin so shell quoting never touches it.
type ExecSynthesizer struct {
	command string
	args    []string

	mu      sync.Mutex
	current *exec.Cmd
}

// NewExecSynthesizer builds a synthesizer around commandLine, a
// space-separated command plus fixed arguments, e.g. "espeak-ng --stdin"
// or "piper --model en.onnx --output-raw". voice, when set, is appended
// as "-v <voice>".
func NewExecSynthesizer(commandLine, voice string) (*ExecSynthesizer, error) {
	fields := strings.Fields(commandLine)
	if len(fields) == 0 {
		return nil, fmt.Errorf("speech: empty TTS command")
	}
	args := fields[1:]
	if voice != "" {
		args = append(args, "-v", voice)
	}
	return &ExecSynthesizer{command: fields[0], args: args}, nil
}

func (s *ExecSynthesizer) Speak(text string, done func(SpeakResult)) error {
	cmd := exec.Command(s.command, s.args...)
	cmd.Stdin = strings.NewReader(text)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	s.mu.Lock()
	if s.current != nil {
		s.mu.Unlock()
		return fmt.Errorf("speech: utterance already in progress")
	}
	if err := cmd.Start(); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("start TTS command: %w", err)
	}
	s.current = cmd
	s.mu.Unlock()

	go func() {
		err := cmd.Wait()

		s.mu.Lock()
		interrupted := s.current != cmd
		if s.current == cmd {
			s.current = nil
		}
		s.mu.Unlock()

		if interrupted {
			// Stop killed the process; the caller already moved on.
			done(SpeakResult{})
			return
		}
		if err != nil && stderr.Len() > 0 {
			err = fmt.Errorf("%w: %s", err, bytes.TrimSpace(stderr.Bytes()))
		}
		done(SpeakResult{Err: err})
	}()
	return nil
}

func (s *ExecSynthesizer) Stop() {
	s.mu.Lock()
	cmd := s.current
	s.current = nil
	s.mu.Unlock()

	if cmd != nil && cmd.Process != nil {
		_ = cmd.Process.Kill()
	}
}
