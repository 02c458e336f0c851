package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aria-voice/aria/internal/audio"
)

// FFmpegRecorder captures microphone audio with an ffmpeg subprocess,
// writing a 16 kHz mono WAV file per capture.
type FFmpegRecorder struct {
	command    string
	device     string
	format     string
	sampleRate int
	dir        string

	mu      sync.Mutex
	active  *ffmpegRun
	started time.Time
}

type ffmpegRun struct {
	cmd     *exec.Cmd
	stderr  *bytes.Buffer
	path    string
	waitErr chan error
}

// Options configures an FFmpegRecorder. Zero values fall back to the
// ffmpeg binary on PATH, the pulse default source, 16 kHz, and the
// system temp directory.
type Options struct {
	Command    string
	Device     string
	Format     string
	SampleRate int
	Dir        string
}

func NewFFmpegRecorder(opts Options) *FFmpegRecorder {
	if opts.Command == "" {
		opts.Command = "ffmpeg"
	}
	if opts.Device == "" {
		opts.Device = "default"
	}
	if opts.Format == "" {
		opts.Format = "pulse"
	}
	if opts.SampleRate <= 0 {
		opts.SampleRate = 16000
	}
	if opts.Dir == "" {
		opts.Dir = os.TempDir()
	}
	return &FFmpegRecorder{
		command:    opts.Command,
		device:     opts.Device,
		format:     opts.Format,
		sampleRate: opts.SampleRate,
		dir:        opts.Dir,
	}
}

func (r *FFmpegRecorder) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active != nil {
		return ErrAlreadyRecording
	}

	path := filepath.Join(r.dir, "capture-"+uuid.NewString()+".wav")
	args := []string{
		"-nostdin",
		"-hide_banner",
		"-loglevel", "warning",
		"-f", r.format,
		"-i", r.device,
		"-ac", "1",
		"-ar", strconv.Itoa(r.sampleRate),
		"-y", path,
	}

	cmd := exec.CommandContext(ctx, r.command, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start ffmpeg: %w", err)
	}

	waitErr := make(chan error, 1)
	go func() {
		waitErr <- cmd.Wait()
		close(waitErr)
	}()

	// Let ffmpeg fail fast on a bad device instead of reporting a
	// started capture that produced nothing.
	select {
	case err := <-waitErr:
		_ = os.Remove(path)
		if err != nil {
			return fmt.Errorf("ffmpeg exited before capture started: %w: %s", err, bytes.TrimSpace(stderr.Bytes()))
		}
		return errors.New("ffmpeg exited before capture started")
	case <-time.After(250 * time.Millisecond):
	}

	r.active = &ffmpegRun{cmd: cmd, stderr: &stderr, path: path, waitErr: waitErr}
	r.started = time.Now()
	return nil
}

func (r *FFmpegRecorder) Stop() (Artifact, error) {
	r.mu.Lock()
	run := r.active
	started := r.started
	r.active = nil
	r.mu.Unlock()

	if run == nil {
		return Artifact{}, ErrNotRecording
	}
	if err := finishRun(run); err != nil {
		_ = os.Remove(run.path)
		return Artifact{}, err
	}

	// Prefer the duration the file actually holds; ffmpeg startup eats
	// into wall-clock time.
	duration := time.Since(started)
	if probed, err := audio.ProbeDuration(run.path); err == nil {
		duration = probed
	}
	return Artifact{Path: run.path, Duration: duration}, nil
}

func (r *FFmpegRecorder) Cancel() error {
	r.mu.Lock()
	run := r.active
	r.active = nil
	r.mu.Unlock()

	if run == nil {
		return ErrNotRecording
	}
	err := finishRun(run)
	_ = os.Remove(run.path)
	return err
}

// finishRun asks ffmpeg to flush and exit, escalating to a kill if it
// does not finalize the file in time.
func finishRun(run *ffmpegRun) error {
	if run.cmd.Process != nil {
		_ = run.cmd.Process.Signal(os.Interrupt)
	}

	var err error
	select {
	case waitErr, ok := <-run.waitErr:
		if ok {
			err = normalizeExit(waitErr)
		}
	case <-time.After(1200 * time.Millisecond):
		if run.cmd.Process != nil {
			_ = run.cmd.Process.Kill()
		}
		waitErr, ok := <-run.waitErr
		if ok {
			err = normalizeExit(waitErr)
		}
	}

	if err != nil && run.stderr.Len() > 0 {
		err = fmt.Errorf("%w: %s", err, bytes.TrimSpace(run.stderr.Bytes()))
	}
	return err
}

// normalizeExit drops the exit-status error ffmpeg reports when it is
// interrupted mid-capture; the output file is still valid.
func normalizeExit(err error) error {
	if err == nil {
		return nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return nil
	}
	return err
}
