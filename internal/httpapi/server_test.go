package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/aria-voice/aria/internal/config"
	"github.com/aria-voice/aria/internal/pipeline"
	"github.com/aria-voice/aria/internal/store"
)

type fakePipe struct {
	mu       sync.Mutex
	state    pipeline.State
	busy     bool
	starts   int
	stops    int
	cancels  int
	texts    []string
	convID   string
}

func newFakePipe() *fakePipe {
	return &fakePipe{state: pipeline.StateIdle, convID: "conv-1"}
}

func (f *fakePipe) StartRecording(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.busy {
		return pipeline.ErrBusy
	}
	f.starts++
	f.state = pipeline.StateRecording
	return nil
}

func (f *fakePipe) StopRecording() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != pipeline.StateRecording {
		return pipeline.ErrNotRecording
	}
	f.stops++
	f.state = pipeline.StateIdle
	return nil
}

func (f *fakePipe) SendTextMessage(text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.busy {
		return pipeline.ErrBusy
	}
	f.texts = append(f.texts, text)
	return nil
}

func (f *fakePipe) StopProcessing() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancels++
	f.state = pipeline.StateIdle
}

func (f *fakePipe) Snapshot() pipeline.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return pipeline.Snapshot{State: f.state, ConversationID: f.convID}
}

func (f *fakePipe) ConversationID() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.convID
}

func newTestServer(t *testing.T, pipe Pipeline, messages store.Store) (*httptest.Server, *Hub) {
	t.Helper()
	if messages == nil {
		messages = store.NewInMemoryStore()
	}
	hub := NewHub(nil)
	server := New(config.Config{AllowAnyOrigin: true}, pipe, messages, hub, nil)
	ts := httptest.NewServer(server.Router())
	t.Cleanup(ts.Close)
	return ts, hub
}

func TestTextEndpoint(t *testing.T) {
	pipe := newFakePipe()
	ts, _ := newTestServer(t, pipe, nil)

	resp, err := http.Post(ts.URL+"/v1/pipeline/text", "application/json",
		bytes.NewBufferString(`{"text": "hello there"}`))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", resp.StatusCode)
	}
	if len(pipe.texts) != 1 || pipe.texts[0] != "hello there" {
		t.Errorf("texts = %v", pipe.texts)
	}

	resp2, err := http.Post(ts.URL+"/v1/pipeline/text", "application/json",
		bytes.NewBufferString(`{"text": "   "}`))
	if err != nil {
		t.Fatalf("post blank: %v", err)
	}
	defer resp2.Body.Close()
	if resp2.StatusCode != http.StatusBadRequest {
		t.Errorf("blank text status = %d, want 400", resp2.StatusCode)
	}
}

func TestBusyPipelineReturnsConflict(t *testing.T) {
	pipe := newFakePipe()
	pipe.busy = true
	ts, _ := newTestServer(t, pipe, nil)

	resp, err := http.Post(ts.URL+"/v1/pipeline/record/start", "application/json", nil)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("status = %d, want 409", resp.StatusCode)
	}
}

func TestRecordLifecycleEndpoints(t *testing.T) {
	pipe := newFakePipe()
	ts, _ := newTestServer(t, pipe, nil)

	resp, err := http.Post(ts.URL+"/v1/pipeline/record/start", "application/json", nil)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("start status = %d", resp.StatusCode)
	}

	resp, err = http.Post(ts.URL+"/v1/pipeline/record/stop", "application/json", nil)
	if err != nil {
		t.Fatalf("stop: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("stop status = %d", resp.StatusCode)
	}

	// Stop without an active recording conflicts.
	resp, err = http.Post(ts.URL+"/v1/pipeline/record/stop", "application/json", nil)
	if err != nil {
		t.Fatalf("second stop: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("second stop status = %d, want 409", resp.StatusCode)
	}

	if pipe.starts != 1 || pipe.stops != 1 {
		t.Errorf("starts = %d stops = %d", pipe.starts, pipe.stops)
	}
}

func TestMessagesEndpoint(t *testing.T) {
	pipe := newFakePipe()
	messages := store.NewInMemoryStore()
	ctx := context.Background()
	if _, err := messages.CreateMessage(ctx, store.Message{
		ConversationID: "conv-1", Role: store.RoleUser, Content: "hi",
	}); err != nil {
		t.Fatalf("seed store: %v", err)
	}
	if _, err := messages.CreateMessage(ctx, store.Message{
		ConversationID: "conv-1", Role: store.RoleAssistant, Content: "hello!",
	}); err != nil {
		t.Fatalf("seed store: %v", err)
	}

	ts, _ := newTestServer(t, pipe, messages)
	resp, err := http.Get(ts.URL + "/v1/conversation/messages?limit=10")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()

	var body struct {
		ConversationID string          `json:"conversation_id"`
		Messages       []store.Message `json:"messages"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.ConversationID != "conv-1" {
		t.Errorf("conversation_id = %q", body.ConversationID)
	}
	if len(body.Messages) != 2 || body.Messages[0].Content != "hi" {
		t.Errorf("messages = %+v", body.Messages)
	}
}

func TestEventsWSReceivesBroadcasts(t *testing.T) {
	pipe := newFakePipe()
	ts, hub := newTestServer(t, pipe, nil)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/events/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// First frame is the state snapshot for late joiners.
	var first map[string]any
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if err := conn.ReadJSON(&first); err != nil {
		t.Fatalf("read snapshot: %v", err)
	}
	if first["type"] != "state_changed" || first["state"] != "idle" {
		t.Fatalf("snapshot frame = %v", first)
	}

	deadline := time.Now().Add(2 * time.Second)
	for hub.SubscriberCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("subscriber never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}
	hub.Notice("info", "Transcribing...")

	var second map[string]any
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if err := conn.ReadJSON(&second); err != nil {
		t.Fatalf("read notice: %v", err)
	}
	if second["type"] != "notice" || second["text"] != "Transcribing..." {
		t.Errorf("notice frame = %v", second)
	}
}

func TestWSControlDrivesPipeline(t *testing.T) {
	pipe := newFakePipe()
	ts, _ := newTestServer(t, pipe, nil)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/events/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(map[string]string{"type": "client_control", "action": "record_start"}); err != nil {
		t.Fatalf("write control: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		pipe.mu.Lock()
		starts := pipe.starts
		pipe.mu.Unlock()
		if starts == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("record_start never reached the pipeline")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
