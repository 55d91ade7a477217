package realtime

import (
	"encoding/json"
	"fmt"
)

// ServerEvent is the envelope common to every inbound event.
type ServerEvent struct {
	EventID string `json:"event_id"`
	Type    string `json:"type"`
}

// ErrorDetail describes an endpoint-reported error.
type ErrorDetail struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Param   string `json:"param,omitempty"`
}

// ErrorEvent reports a request or session error. Some codes are expected
// races during interruption handling; Benign reports those.
type ErrorEvent struct {
	ServerEvent
	Error ErrorDetail `json:"error"`
}

// Benign reports whether the error is an expected consequence of normal
// barge-in handling rather than a real failure.
func (e *ErrorEvent) Benign() bool {
	switch e.Error.Code {
	case "response_cancel_not_active", "item_truncate_invalid", "decimal_below_min_value":
		return true
	}
	return false
}

// SessionCreatedEvent confirms the endpoint session exists.
type SessionCreatedEvent struct {
	ServerEvent
	Session SessionInfo `json:"session"`
}

// SessionUpdatedEvent acknowledges a session.update.
type SessionUpdatedEvent struct {
	ServerEvent
	Session SessionInfo `json:"session"`
}

// SessionInfo is the endpoint's view of the session after create/update.
type SessionInfo struct {
	ID                string     `json:"id"`
	Model             string     `json:"model"`
	Voice             string     `json:"voice"`
	InputAudioFormat  string     `json:"input_audio_format"`
	OutputAudioFormat string     `json:"output_audio_format"`
	TurnDetection     *VADConfig `json:"turn_detection"`
	Tools             []ToolDef  `json:"tools"`
}

// SpeechStartedEvent signals the caller began speaking. While a response is
// active this is the barge-in trigger.
type SpeechStartedEvent struct {
	ServerEvent
	AudioStartMs int    `json:"audio_start_ms"`
	ItemID       string `json:"item_id"`
}

// SpeechStoppedEvent signals the caller stopped speaking.
type SpeechStoppedEvent struct {
	ServerEvent
	AudioEndMs int    `json:"audio_end_ms"`
	ItemID     string `json:"item_id"`
}

// InputTranscriptionCompletedEvent carries the transcript of caller speech.
type InputTranscriptionCompletedEvent struct {
	ServerEvent
	ItemID     string `json:"item_id"`
	Transcript string `json:"transcript"`
}

// InputTranscriptionFailedEvent signals caller speech could not be
// transcribed.
type InputTranscriptionFailedEvent struct {
	ServerEvent
	ItemID string      `json:"item_id"`
	Error  ErrorDetail `json:"error"`
}

// ResponseCreatedEvent signals a new assistant response began.
type ResponseCreatedEvent struct {
	ServerEvent
	Response ResponseInfo `json:"response"`
}

// ResponseInfo identifies and summarizes one response.
type ResponseInfo struct {
	ID     string             `json:"id"`
	Status string             `json:"status"`
	Output []ConversationItem `json:"output"`
}

// AudioDeltaEvent carries one base64 chunk of assistant audio.
type AudioDeltaEvent struct {
	ServerEvent
	ResponseID string `json:"response_id"`
	ItemID     string `json:"item_id"`
	Delta      string `json:"delta"`
}

// TranscriptDeltaEvent streams the assistant transcript as it is spoken.
type TranscriptDeltaEvent struct {
	ServerEvent
	ResponseID string `json:"response_id"`
	ItemID     string `json:"item_id"`
	Delta      string `json:"delta"`
}

// TranscriptDoneEvent carries the full assistant transcript for a response.
type TranscriptDoneEvent struct {
	ServerEvent
	ResponseID string `json:"response_id"`
	ItemID     string `json:"item_id"`
	Transcript string `json:"transcript"`
}

// FunctionCallDoneEvent delivers a complete tool invocation request.
type FunctionCallDoneEvent struct {
	ServerEvent
	ResponseID string `json:"response_id"`
	ItemID     string `json:"item_id"`
	CallID     string `json:"call_id"`
	Name       string `json:"name"`
	Arguments  string `json:"arguments"`
}

// ResponseDoneEvent closes out a response, successful or cancelled.
type ResponseDoneEvent struct {
	ServerEvent
	Response ResponseInfo `json:"response"`
}

// ParseServerEvent decodes one inbound message into its typed event. Types
// the bridge does not consume come back as the bare *ServerEvent envelope so
// the dispatch switch can skip them without failing.
func ParseServerEvent(data []byte) (interface{}, error) {
	var base ServerEvent
	if err := json.Unmarshal(data, &base); err != nil {
		return nil, fmt.Errorf("realtime: bad server event: %w", err)
	}
	switch base.Type {
	case "error":
		var e ErrorEvent
		return &e, json.Unmarshal(data, &e)
	case "session.created":
		var e SessionCreatedEvent
		return &e, json.Unmarshal(data, &e)
	case "session.updated":
		var e SessionUpdatedEvent
		return &e, json.Unmarshal(data, &e)
	case "input_audio_buffer.speech_started":
		var e SpeechStartedEvent
		return &e, json.Unmarshal(data, &e)
	case "input_audio_buffer.speech_stopped":
		var e SpeechStoppedEvent
		return &e, json.Unmarshal(data, &e)
	case "conversation.item.input_audio_transcription.completed":
		var e InputTranscriptionCompletedEvent
		return &e, json.Unmarshal(data, &e)
	case "conversation.item.input_audio_transcription.failed":
		var e InputTranscriptionFailedEvent
		return &e, json.Unmarshal(data, &e)
	case "response.created":
		var e ResponseCreatedEvent
		return &e, json.Unmarshal(data, &e)
	case "response.audio.delta":
		var e AudioDeltaEvent
		return &e, json.Unmarshal(data, &e)
	case "response.audio_transcript.delta":
		var e TranscriptDeltaEvent
		return &e, json.Unmarshal(data, &e)
	case "response.audio_transcript.done":
		var e TranscriptDoneEvent
		return &e, json.Unmarshal(data, &e)
	case "response.function_call_arguments.done":
		var e FunctionCallDoneEvent
		return &e, json.Unmarshal(data, &e)
	case "response.done":
		var e ResponseDoneEvent
		return &e, json.Unmarshal(data, &e)
	default:
		return &base, nil
	}
}
