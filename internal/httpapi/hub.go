package httpapi

import (
	"sync"
	"time"

	"github.com/aria-voice/aria/internal/observability"
	"github.com/aria-voice/aria/internal/pipeline"
	"github.com/aria-voice/aria/internal/protocol"
	"github.com/aria-voice/aria/internal/store"
)

// Hub fans pipeline events out to connected websocket clients. It
// implements pipeline.Notifier; broadcasts never block the pipeline, a
// slow subscriber just loses messages.
type Hub struct {
	metrics *observability.Metrics

	mu   sync.Mutex
	subs map[int]chan any
	next int
}

func NewHub(metrics *observability.Metrics) *Hub {
	return &Hub{metrics: metrics, subs: make(map[int]chan any)}
}

// Subscribe registers a new event consumer. The returned cancel func
// must be called when the consumer goes away.
func (h *Hub) Subscribe() (<-chan any, func()) {
	ch := make(chan any, 256)
	h.mu.Lock()
	id := h.next
	h.next++
	h.subs[id] = ch
	h.mu.Unlock()

	return ch, func() {
		h.mu.Lock()
		if sub, ok := h.subs[id]; ok {
			delete(h.subs, id)
			close(sub)
		}
		h.mu.Unlock()
	}
}

// SubscriberCount reports connected consumers.
func (h *Hub) SubscriberCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

func (h *Hub) broadcast(msgType protocol.MessageType, msg any) {
	h.mu.Lock()
	for _, sub := range h.subs {
		select {
		case sub <- msg:
			if h.metrics != nil {
				h.metrics.WSMessages.WithLabelValues("outbound", string(msgType)).Inc()
			}
		default:
			if h.metrics != nil {
				h.metrics.WSMessages.WithLabelValues("dropped", string(msgType)).Inc()
			}
		}
	}
	h.mu.Unlock()
}

func (h *Hub) StateChanged(state pipeline.State) {
	h.broadcast(protocol.TypeStateChanged, protocol.StateChanged{
		Type:  protocol.TypeStateChanged,
		State: string(state),
		TSMs:  time.Now().UnixMilli(),
	})
}

func (h *Hub) Notice(severity, text string) {
	h.broadcast(protocol.TypeNotice, protocol.Notice{
		Type:     protocol.TypeNotice,
		Severity: severity,
		Text:     text,
	})
}

func (h *Hub) UserMessage(msg store.Message) {
	h.broadcast(protocol.TypeUserMessage, protocol.UserMessage{
		Type:           protocol.TypeUserMessage,
		MessageID:      msg.ID,
		ConversationID: msg.ConversationID,
		Content:        msg.Content,
	})
}

func (h *Hub) AssistantDelta(conversationID, delta string) {
	h.broadcast(protocol.TypeAssistantDelta, protocol.AssistantDelta{
		Type:           protocol.TypeAssistantDelta,
		ConversationID: conversationID,
		TextDelta:      delta,
	})
}

func (h *Hub) AssistantMessage(msg store.Message, partial bool) {
	h.broadcast(protocol.TypeAssistantMessage, protocol.AssistantMessage{
		Type:           protocol.TypeAssistantMessage,
		MessageID:      msg.ID,
		ConversationID: msg.ConversationID,
		Content:        msg.Content,
		Partial:        partial,
	})
}

func (h *Hub) DispatchResult(target, command string, delivered bool) {
	h.broadcast(protocol.TypeDispatchResult, protocol.DispatchResult{
		Type:         protocol.TypeDispatchResult,
		TargetDevice: target,
		Command:      command,
		Delivered:    delivered,
	})
}

func (h *Hub) ErrorEvent(code, source, detail string) {
	h.broadcast(protocol.TypeErrorEvent, protocol.ErrorEvent{
		Type:   protocol.TypeErrorEvent,
		Code:   code,
		Source: source,
		Detail: detail,
	})
}
