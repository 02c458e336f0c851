package assistant

import (
	"encoding/json"
	"strings"
)

// EventType names the server-sent event kinds on a streaming response.
type EventType string

const (
	EventStatus  EventType = "status"
	EventData    EventType = "data"
	EventError   EventType = "error"
	EventDone    EventType = "done"
	EventUnknown EventType = "unknown"
)

// ServerEvent is one decoded event from the generation stream. Payload is
// the raw data line; the Decode* helpers interpret it per event type.
type ServerEvent struct {
	Type    EventType
	Payload string
}

// Status phases reported over the stream while a query runs.
const (
	StatusTranscribing = "transcribing"
	StatusGenerating   = "generating"
	StatusComplete     = "complete"
)

// StatusInfo is the decoded form of a status event.
type StatusInfo struct {
	Status        string
	Transcription string
}

// DecodeStatus interprets a status payload. Current servers send JSON
// objects; older ones send plain text like "Transcribing with small" or
// "Transcription complete: turn on the lamp", so both are recognized.
func DecodeStatus(payload string) StatusInfo {
	trimmed := strings.TrimSpace(payload)
	if strings.HasPrefix(trimmed, "{") {
		var body struct {
			Status        string `json:"status"`
			Transcription string `json:"transcription"`
		}
		if err := json.Unmarshal([]byte(trimmed), &body); err == nil && body.Status != "" {
			return StatusInfo{Status: strings.ToLower(body.Status), Transcription: body.Transcription}
		}
	}
	lower := strings.ToLower(trimmed)
	switch {
	case strings.HasPrefix(lower, "transcription complete:"):
		text := strings.TrimSpace(trimmed[len("transcription complete:"):])
		return StatusInfo{Status: StatusGenerating, Transcription: text}
	case strings.HasPrefix(lower, "transcribing"):
		return StatusInfo{Status: StatusTranscribing}
	case strings.Contains(lower, "generating"):
		return StatusInfo{Status: StatusGenerating}
	}
	return StatusInfo{Status: lower}
}

// DecodeChunk extracts the text delta from a data payload. JSON bodies
// carry {"chunk": "..."}; anything else, including a JSON object with
// no chunk key, is treated as the literal delta so no data event is
// silently lost.
func DecodeChunk(payload string) string {
	trimmed := strings.TrimSpace(payload)
	if strings.HasPrefix(trimmed, "{") {
		var body struct {
			Chunk *string `json:"chunk"`
		}
		if err := json.Unmarshal([]byte(trimmed), &body); err == nil && body.Chunk != nil {
			return *body.Chunk
		}
	}
	return payload
}

// DecodeErrorMessage extracts a human-readable message from an error payload.
func DecodeErrorMessage(payload string) string {
	trimmed := strings.TrimSpace(payload)
	if strings.HasPrefix(trimmed, "{") {
		var body struct {
			Error  string `json:"error"`
			Detail string `json:"detail"`
		}
		if err := json.Unmarshal([]byte(trimmed), &body); err == nil {
			if body.Error != "" {
				return body.Error
			}
			if body.Detail != "" {
				return body.Detail
			}
		}
	}
	return trimmed
}
