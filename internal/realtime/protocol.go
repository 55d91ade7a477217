// Package realtime implements the client side of the speech-to-speech AI
// endpoint: session configuration, the outbound command messages, the typed
// inbound event stream and the websocket connection that carries both.
package realtime

// VADConfig is the server-side voice-activity turn detection block. The
// bridge swaps between two parameter sets at runtime: a normal one while the
// assistant is quiet and a less sensitive one while it is speaking, so the
// assistant's own audio bleeding back through the handset does not trip the
// detector.
type VADConfig struct {
	Type              string  `json:"type"`
	Threshold         float64 `json:"threshold,omitempty"`
	PrefixPaddingMs   int     `json:"prefix_padding_ms,omitempty"`
	SilenceDurationMs int     `json:"silence_duration_ms,omitempty"`
}

// NormalVAD is the detection profile used while the caller has the floor.
func NormalVAD() *VADConfig {
	return &VADConfig{Type: "server_vad", Threshold: 0.5, PrefixPaddingMs: 300, SilenceDurationMs: 500}
}

// AssistantSpeakingVAD is the desensitized profile applied while assistant
// audio is being played to the caller.
func AssistantSpeakingVAD() *VADConfig {
	return &VADConfig{Type: "server_vad", Threshold: 0.8, PrefixPaddingMs: 300, SilenceDurationMs: 800}
}

// ToolDef declares one callable function in the session tool menu.
type ToolDef struct {
	Type        string                 `json:"type"`
	Name        string                 `json:"name"`
	Description string                 `json:"description,omitempty"`
	Parameters  map[string]interface{} `json:"parameters,omitempty"`
}

// SessionConfig is the payload of session.update. TurnDetection carries no
// omitempty so an explicit null can disable server VAD.
type SessionConfig struct {
	Modalities         []string             `json:"modalities,omitempty"`
	Instructions       string               `json:"instructions,omitempty"`
	Voice              string               `json:"voice,omitempty"`
	InputAudioFormat   string               `json:"input_audio_format,omitempty"`
	OutputAudioFormat  string               `json:"output_audio_format,omitempty"`
	InputTranscription *TranscriptionConfig `json:"input_audio_transcription,omitempty"`
	TurnDetection      *VADConfig           `json:"turn_detection"`
	Tools              []ToolDef            `json:"tools,omitempty"`
	Temperature        float64              `json:"temperature,omitempty"`
}

// TranscriptionConfig enables caller-speech transcription.
type TranscriptionConfig struct {
	Model string `json:"model"`
}

// clientEvent is the envelope common to every outbound message.
type clientEvent struct {
	EventID string `json:"event_id,omitempty"`
	Type    string `json:"type"`
}

type sessionUpdateEvent struct {
	clientEvent
	Session SessionConfig `json:"session"`
}

type audioAppendEvent struct {
	clientEvent
	Audio string `json:"audio"`
}

type responseCancelEvent struct {
	clientEvent
}

type responseCreateEvent struct {
	clientEvent
}

type itemCreateEvent struct {
	clientEvent
	Item ConversationItem `json:"item"`
}

// ConversationItem is a conversation entry in either direction: a message,
// a function call or a function-call output.
type ConversationItem struct {
	ID        string        `json:"id,omitempty"`
	Type      string        `json:"type"`
	Status    string        `json:"status,omitempty"`
	Role      string        `json:"role,omitempty"`
	Content   []ItemContent `json:"content,omitempty"`
	CallID    string        `json:"call_id,omitempty"`
	Output    string        `json:"output,omitempty"`
	Name      string        `json:"name,omitempty"`
	Arguments string        `json:"arguments,omitempty"`
}

// ItemContent is one content block inside a conversation item.
type ItemContent struct {
	Type       string `json:"type"`
	Text       string `json:"text,omitempty"`
	Audio      string `json:"audio,omitempty"`
	Transcript string `json:"transcript,omitempty"`
}

// UserTextItem builds a plain user message item.
func UserTextItem(text string) ConversationItem {
	return ConversationItem{
		Type:    "message",
		Role:    "user",
		Content: []ItemContent{{Type: "input_text", Text: text}},
	}
}

// FunctionOutputItem builds the structured result of a dispatched tool call.
func FunctionOutputItem(callID, output string) ConversationItem {
	return ConversationItem{
		Type:   "function_call_output",
		CallID: callID,
		Output: output,
	}
}
