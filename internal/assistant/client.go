package assistant

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Client talks to the assistant server's /lm/query endpoint. Streaming
// responses are surfaced as a channel of ServerEvents; structured
// responses come back whole.
type Client struct {
	baseURL    string
	sourceMAC  string
	httpClient *http.Client
}

// NewClient builds a client for the given server base URL. timeout bounds
// the whole request including stream consumption; zero means no limit.
func NewClient(baseURL, sourceMAC string, timeout time.Duration) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		sourceMAC:  sourceMAC,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type queryRequest struct {
	UserQuery       string `json:"user_query"`
	SourceDeviceMAC string `json:"source_device_mac"`
	LMModel         string `json:"lm_model,omitempty"`
}

type queryEnvelope struct {
	Status string         `json:"status"`
	Result *Response      `json:"result"`
	Error  *ResponseError `json:"error"`
}

// Query submits text to the server and classifies the reply. A
// text/event-stream response yields ResultStreaming with a live Events
// channel; a JSON body yields ResultStructured or ResultError.
func (c *Client) Query(ctx context.Context, text, model string) (Result, error) {
	body, err := json.Marshal(queryRequest{
		UserQuery:       text,
		SourceDeviceMAC: c.sourceMAC,
		LMModel:         model,
	})
	if err != nil {
		return Result{}, fmt.Errorf("encode query: %w", err)
	}

	streamCtx, cancel := context.WithCancel(ctx)
	req, err := http.NewRequestWithContext(streamCtx, http.MethodPost, c.baseURL+"/lm/query", bytes.NewReader(body))
	if err != nil {
		cancel()
		return Result{}, fmt.Errorf("build query request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream, application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		cancel()
		return Result{}, fmt.Errorf("assistant query: %w", err)
	}

	if isEventStream(resp.Header.Get("Content-Type")) {
		events := make(chan ServerEvent, 16)
		go consumeStream(resp.Body, events)
		return Result{Kind: ResultStreaming, Events: events, Cancel: cancel}, nil
	}

	defer resp.Body.Close()
	defer cancel()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Result{}, fmt.Errorf("read assistant response: %w", err)
	}

	var envelope queryEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		if resp.StatusCode >= 400 {
			return Result{Kind: ResultError, ErrMessage: fmt.Sprintf("server returned %d", resp.StatusCode)}, nil
		}
		return Result{}, fmt.Errorf("decode assistant response: %w", err)
	}

	if envelope.Error != nil || strings.EqualFold(envelope.Status, "error") {
		msg := "assistant request failed"
		if envelope.Error != nil && envelope.Error.Message != "" {
			msg = envelope.Error.Message
		}
		return Result{Kind: ResultError, ErrMessage: msg}, nil
	}
	if envelope.Result == nil {
		return Result{Kind: ResultError, ErrMessage: "assistant response had no result"}, nil
	}
	return Result{Kind: ResultStructured, Response: envelope.Result}, nil
}

func isEventStream(contentType string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(contentType)), "text/event-stream")
}

// consumeStream reads SSE frames off the wire and forwards them as
// ServerEvents. It owns rc and closes both it and out when the stream
// ends, whether by done event, EOF, or cancellation.
func consumeStream(rc io.ReadCloser, out chan<- ServerEvent) {
	defer close(out)
	defer rc.Close()

	scanner := bufio.NewScanner(rc)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	eventType := EventUnknown
	var data strings.Builder
	flush := func() bool {
		if data.Len() == 0 && eventType == EventUnknown {
			return true
		}
		ev := ServerEvent{Type: eventType, Payload: data.String()}
		if ev.Type == EventUnknown && ev.Payload != "" {
			// Bare data frames without an event line are text chunks.
			ev.Type = EventData
		}
		out <- ev
		done := ev.Type == EventDone
		eventType = EventUnknown
		data.Reset()
		return !done
	}

	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if !flush() {
				return
			}
		case strings.HasPrefix(line, "event:"):
			eventType = parseEventType(strings.TrimSpace(line[len("event:"):]))
		case strings.HasPrefix(line, "data:"):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimSpace(line[len("data:"):]))
		case strings.HasPrefix(line, ":"):
			// comment frame, keepalive
		}
	}
	flush()
}

func parseEventType(name string) EventType {
	switch strings.ToLower(name) {
	case "status":
		return EventStatus
	case "data":
		return EventData
	case "error":
		return EventError
	case "done":
		return EventDone
	default:
		return EventUnknown
	}
}
