// Package httpapi exposes the daemon's control surface: pipeline
// operations over HTTP and a websocket event feed for UIs.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/aria-voice/aria/internal/config"
	"github.com/aria-voice/aria/internal/observability"
	"github.com/aria-voice/aria/internal/pipeline"
	"github.com/aria-voice/aria/internal/protocol"
	"github.com/aria-voice/aria/internal/store"
)

// Pipeline is the controller surface the API drives.
type Pipeline interface {
	StartRecording(ctx context.Context) error
	StopRecording() error
	SendTextMessage(text string) error
	StopProcessing()
	Snapshot() pipeline.Snapshot
	ConversationID() string
}

type Server struct {
	cfg      config.Config
	pipe     Pipeline
	messages store.Store
	metrics  *observability.Metrics
	hub      *Hub
	upgrader websocket.Upgrader
}

func New(cfg config.Config, pipe Pipeline, messages store.Store, hub *Hub, metrics *observability.Metrics) *Server {
	return &Server{
		cfg:      cfg,
		pipe:     pipe,
		messages: messages,
		metrics:  metrics,
		hub:      hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Only same-origin browsers may drive the pipeline unless
				// the daemon is explicitly opened up.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Non-browser clients often omit Origin. Allow them.
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Post("/v1/pipeline/record/start", s.handleRecordStart)
	r.Post("/v1/pipeline/record/stop", s.handleRecordStop)
	r.Post("/v1/pipeline/cancel", s.handleCancel)
	r.Post("/v1/pipeline/text", s.handleText)
	r.Get("/v1/pipeline/state", s.handleState)
	r.Get("/v1/conversation/messages", s.handleMessages)
	r.Get("/v1/events/ws", s.handleEventsWS)
	r.Get("/v1/perf/latency", s.handlePerfLatency)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
	})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":      "ready",
		"state":       s.pipe.Snapshot().State,
		"subscribers": s.hub.SubscriberCount(),
	})
}

func (s *Server) handleRecordStart(w http.ResponseWriter, r *http.Request) {
	if err := s.pipe.StartRecording(r.Context()); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, pipeline.ErrBusy) {
			status = http.StatusConflict
		}
		respondError(w, status, "record_start_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, s.pipe.Snapshot())
}

func (s *Server) handleRecordStop(w http.ResponseWriter, _ *http.Request) {
	if err := s.pipe.StopRecording(); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, pipeline.ErrNotRecording) {
			status = http.StatusConflict
		}
		respondError(w, status, "record_stop_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, s.pipe.Snapshot())
}

func (s *Server) handleCancel(w http.ResponseWriter, _ *http.Request) {
	s.pipe.StopProcessing()
	respondJSON(w, http.StatusOK, s.pipe.Snapshot())
}

func (s *Server) handleText(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Text string `json:"text"`
	}
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "text is required")
		return
	}
	if err := s.pipe.SendTextMessage(req.Text); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, pipeline.ErrBusy) {
			status = http.StatusConflict
		}
		respondError(w, status, "text_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusAccepted, s.pipe.Snapshot())
}

func (s *Server) handleState(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, s.pipe.Snapshot())
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 || parsed > 500 {
			respondError(w, http.StatusBadRequest, "invalid_limit", "limit must be between 1 and 500")
			return
		}
		limit = parsed
	}

	msgs, err := s.messages.RecentMessages(r.Context(), s.pipe.ConversationID(), limit)
	if err != nil && !errors.Is(err, store.ErrConversationNotFound) {
		respondError(w, http.StatusInternalServerError, "store_error", err.Error())
		return
	}
	if msgs == nil {
		msgs = []store.Message{}
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"conversation_id": s.pipe.ConversationID(),
		"messages":        msgs,
	})
}

func (s *Server) handlePerfLatency(w http.ResponseWriter, _ *http.Request) {
	if s.metrics == nil {
		respondJSON(w, http.StatusOK, map[string]any{
			"generated_at": "",
			"window_size":  0,
			"stages":       []any{},
		})
		return
	}
	respondJSON(w, http.StatusOK, s.metrics.StageSnapshot())
}

func (s *Server) handleEventsWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	events, unsubscribe := s.hub.Subscribe()
	defer unsubscribe()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// Late joiners get the current state immediately.
	snap := s.pipe.Snapshot()
	_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	_ = conn.WriteJSON(protocol.StateChanged{
		Type:  protocol.TypeStateChanged,
		State: string(snap.State),
		TSMs:  time.Now().UnixMilli(),
	})

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-events:
				if !ok {
					return
				}
				_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
				if err := conn.WriteJSON(msg); err != nil {
					cancel()
					return
				}
			}
		}
	}()

	conn.SetReadLimit(1 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
		return nil
	})

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		if msgType != websocket.TextMessage {
			continue
		}
		parsed, err := protocol.ParseClientMessage(data)
		if err != nil {
			continue
		}
		control, ok := parsed.(protocol.ClientControl)
		if !ok {
			continue
		}
		if s.metrics != nil {
			s.metrics.WSMessages.WithLabelValues("inbound", string(protocol.TypeClientControl)).Inc()
		}
		s.applyControl(ctx, control)
	}

	cancel()
	<-writerDone
}

// applyControl maps websocket control actions onto pipeline operations.
// Failures surface on the event feed rather than the socket.
func (s *Server) applyControl(ctx context.Context, control protocol.ClientControl) {
	var err error
	switch control.Action {
	case "record_start":
		err = s.pipe.StartRecording(ctx)
	case "record_stop":
		err = s.pipe.StopRecording()
	case "cancel":
		s.pipe.StopProcessing()
	default:
		s.hub.ErrorEvent("unknown_action", "gateway", "unknown control action: "+control.Action)
		return
	}
	if err != nil {
		s.hub.ErrorEvent("control_failed", "gateway", err.Error())
	}
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}
