package assistant

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestQueryStreamingEvents(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/lm/query" {
			t.Errorf("path = %q, want /lm/query", r.URL.Path)
		}
		var req queryRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.UserQuery != "what time is it" {
			t.Errorf("user_query = %q", req.UserQuery)
		}
		if req.SourceDeviceMAC != "aa:bb:cc:dd:ee:ff" {
			t.Errorf("source_device_mac = %q", req.SourceDeviceMAC)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("event: status\ndata: {\"status\": \"transcribing\"}\n\n"))
		_, _ = w.Write([]byte("event: status\ndata: {\"status\": \"generating\", \"transcription\": \"what time is it\"}\n\n"))
		_, _ = w.Write([]byte("event: data\ndata: {\"chunk\": \"It is \"}\n\n"))
		_, _ = w.Write([]byte("event: data\ndata: {\"chunk\": \"noon.\"}\n\n"))
		_, _ = w.Write([]byte("event: done\ndata: {\"status\": \"complete\"}\n\n"))
	}))
	defer server.Close()

	client := NewClient(server.URL, "aa:bb:cc:dd:ee:ff", 5*time.Second)
	result, err := client.Query(context.Background(), "what time is it", "test-model")
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if result.Kind != ResultStreaming {
		t.Fatalf("kind = %q, want streaming", result.Kind)
	}
	defer result.Cancel()

	var events []ServerEvent
	for ev := range result.Events {
		events = append(events, ev)
	}
	if len(events) != 5 {
		t.Fatalf("got %d events, want 5: %+v", len(events), events)
	}
	if events[0].Type != EventStatus || events[2].Type != EventData || events[4].Type != EventDone {
		t.Errorf("unexpected event types: %+v", events)
	}
	if got := DecodeChunk(events[2].Payload) + DecodeChunk(events[3].Payload); got != "It is noon." {
		t.Errorf("assembled chunks = %q", got)
	}
	info := DecodeStatus(events[1].Payload)
	if info.Status != StatusGenerating || info.Transcription != "what time is it" {
		t.Errorf("status info = %+v", info)
	}
}

func TestQueryStructuredResult(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"status": "success",
			"result": {
				"task": "bt-control",
				"user-data": "turn on the lamp",
				"source-device": "aa:bb:cc:dd:ee:ff",
				"target-device": "11:22:33:44:55:66",
				"output": {"generated_output": "LIGHT_ON"}
			}
		}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, "aa:bb:cc:dd:ee:ff", 5*time.Second)
	result, err := client.Query(context.Background(), "turn on the lamp", "")
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if result.Kind != ResultStructured {
		t.Fatalf("kind = %q, want structured", result.Kind)
	}
	resp := result.Response
	if !resp.IsDeviceControl() {
		t.Error("IsDeviceControl() = false")
	}
	if got := resp.Command(); got != "LIGHT_ON" {
		t.Errorf("Command() = %q", got)
	}
	if resp.TargetDevice != "11:22:33:44:55:66" {
		t.Errorf("target device = %q", resp.TargetDevice)
	}
	if resp.HasError() {
		t.Error("HasError() = true for clean response")
	}
}

func TestQueryErrorEnvelope(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"status": "error", "error": {"code": "LM_UNAVAILABLE", "message": "model offline"}}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, "aa:bb:cc:dd:ee:ff", 5*time.Second)
	result, err := client.Query(context.Background(), "hello", "")
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if result.Kind != ResultError {
		t.Fatalf("kind = %q, want error", result.Kind)
	}
	if result.ErrMessage != "model offline" {
		t.Errorf("error message = %q", result.ErrMessage)
	}
}

func TestQueryCancelStopsStream(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("event: data\ndata: {\"chunk\": \"partial\"}\n\n"))
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
		<-release
	}))
	defer server.Close()
	defer close(release)

	client := NewClient(server.URL, "aa:bb:cc:dd:ee:ff", 0)
	result, err := client.Query(context.Background(), "hello", "")
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	first, ok := <-result.Events
	if !ok || DecodeChunk(first.Payload) != "partial" {
		t.Fatalf("first event = %+v ok=%v", first, ok)
	}
	result.Cancel()

	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, open := <-result.Events:
			if !open {
				return
			}
		case <-deadline:
			t.Fatal("events channel not closed after cancel")
		}
	}
}
