// Package transcribe uploads captured audio to the speech-to-text
// endpoint and returns the recognized text.
package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aria-voice/aria/internal/reliability"
)

// ErrEmptyTranscript means the audio contained no recognizable speech.
// Callers should treat it as a benign outcome, not a failure.
var ErrEmptyTranscript = errors.New("transcribe: empty transcription")

const maxRetries = 2

// Client talks to the server's /stt/transcribe endpoint.
type Client struct {
	baseURL    string
	deviceMAC  string
	httpClient *http.Client
}

func NewClient(baseURL, deviceMAC string, timeout time.Duration) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		deviceMAC:  deviceMAC,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Transcribe uploads the audio file at path and returns the transcription.
// model selects the STT model; language may be empty for auto-detect.
// Transient failures are retried with capped backoff.
func (c *Client) Transcribe(ctx context.Context, path, model, language string) (string, error) {
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(reliability.ExponentialBackoff(attempt-1, 200*time.Millisecond, 2*time.Second)):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}
		text, retryable, err := c.upload(ctx, path, model, language)
		if err == nil {
			return text, nil
		}
		if !retryable {
			return "", err
		}
		lastErr = err
	}
	return "", lastErr
}

func (c *Client) upload(ctx context.Context, path, model, language string) (string, bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", false, fmt.Errorf("open audio file: %w", err)
	}
	defer f.Close()

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("audio", filepath.Base(path))
	if err != nil {
		return "", false, fmt.Errorf("build multipart form: %w", err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return "", false, fmt.Errorf("read audio file: %w", err)
	}
	if model != "" {
		if err := writer.WriteField("stt_model_name", model); err != nil {
			return "", false, fmt.Errorf("build multipart form: %w", err)
		}
	}
	if language != "" {
		if err := writer.WriteField("language", language); err != nil {
			return "", false, fmt.Errorf("build multipart form: %w", err)
		}
	}
	if err := writer.Close(); err != nil {
		return "", false, fmt.Errorf("build multipart form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/stt/transcribe", &buf)
	if err != nil {
		return "", false, fmt.Errorf("build transcribe request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	if c.deviceMAC != "" {
		req.Header.Set("X-Device-MAC", c.deviceMAC)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", reliability.IsTransientNetErr(err), fmt.Errorf("transcribe upload: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", true, fmt.Errorf("read transcribe response: %w", err)
	}

	var body struct {
		Status        string `json:"status"`
		Transcription string `json:"transcription"`
		Error         string `json:"error"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return "", false, fmt.Errorf("decode transcribe response (status %d): %w", resp.StatusCode, err)
	}

	if resp.StatusCode != http.StatusOK {
		if strings.Contains(strings.ToLower(body.Error), "empty transcription") {
			return "", false, ErrEmptyTranscript
		}
		retryable := reliability.IsRetryableHTTPStatus(resp.StatusCode)
		if body.Error != "" {
			return "", retryable, fmt.Errorf("transcribe failed: %s", body.Error)
		}
		return "", retryable, fmt.Errorf("transcribe failed with status %d", resp.StatusCode)
	}

	text := strings.TrimSpace(body.Transcription)
	if text == "" {
		return "", false, ErrEmptyTranscript
	}
	return text, false, nil
}
