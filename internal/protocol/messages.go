package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// MessageType identifies websocket payload variants on the UI event feed.
type MessageType string

const (
	TypeClientControl    MessageType = "client_control"
	TypeStateChanged     MessageType = "state_changed"
	TypeNotice           MessageType = "notice"
	TypeUserMessage      MessageType = "user_message"
	TypeAssistantDelta   MessageType = "assistant_delta"
	TypeAssistantMessage MessageType = "assistant_message"
	TypeDispatchResult   MessageType = "dispatch_result"
	TypeErrorEvent       MessageType = "error_event"
)

var ErrUnsupportedType = errors.New("unsupported message type")

type Envelope struct {
	Type MessageType `json:"type"`
}

// ClientControl is the only UI-to-daemon websocket message; pipeline
// operations themselves go through the HTTP API.
type ClientControl struct {
	Type   MessageType `json:"type"`
	Action string      `json:"action"`
}

type StateChanged struct {
	Type  MessageType `json:"type"`
	State string      `json:"state"`
	TSMs  int64       `json:"ts_ms"`
}

// Notice is a short-lived user-visible message (toast).
type Notice struct {
	Type     MessageType `json:"type"`
	Severity string      `json:"severity"`
	Text     string      `json:"text"`
}

type UserMessage struct {
	Type           MessageType `json:"type"`
	MessageID      string      `json:"message_id"`
	ConversationID string      `json:"conversation_id"`
	Content        string      `json:"content"`
}

type AssistantDelta struct {
	Type           MessageType `json:"type"`
	ConversationID string      `json:"conversation_id"`
	TextDelta      string      `json:"text_delta"`
}

type AssistantMessage struct {
	Type           MessageType `json:"type"`
	MessageID      string      `json:"message_id"`
	ConversationID string      `json:"conversation_id"`
	Content        string      `json:"content"`
	Partial        bool        `json:"partial"`
}

type DispatchResult struct {
	Type         MessageType `json:"type"`
	TargetDevice string      `json:"target_device"`
	Command      string      `json:"command"`
	Delivered    bool        `json:"delivered"`
}

type ErrorEvent struct {
	Type   MessageType `json:"type"`
	Code   string      `json:"code"`
	Source string      `json:"source"`
	Detail string      `json:"detail"`
}

func ParseClientMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeClientControl:
		var msg ClientControl
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.Action == "" {
			return nil, errors.New("invalid client_control")
		}
		return msg, nil
	default:
		return nil, ErrUnsupportedType
	}
}
