// Package telephony implements the Twilio side of the bridge: the Media
// Streams websocket protocol, the per-call stream connection, and the REST
// call-control client used for hangup and operator redirect.
package telephony

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// Media Streams event names.
const (
	EventConnected = "connected"
	EventStart     = "start"
	EventMedia     = "media"
	EventStop      = "stop"
	EventDTMF      = "dtmf"
	EventMark      = "mark"
	EventClear     = "clear"
)

// MediaFormat describes the audio encoding declared in the start event.
// Twilio always sends audio/x-mulaw at 8000Hz mono for phone calls.
type MediaFormat struct {
	Encoding   string `json:"encoding"`
	SampleRate int    `json:"sampleRate"`
	Channels   int    `json:"channels"`
}

// StartPayload carries the call identity for the stream.
type StartPayload struct {
	AccountSID       string            `json:"accountSid"`
	StreamSID        string            `json:"streamSid"`
	CallSID          string            `json:"callSid"`
	Tracks           []string          `json:"tracks"`
	MediaFormat      MediaFormat       `json:"mediaFormat"`
	CustomParameters map[string]string `json:"customParameters"`
}

// MediaPayload carries one base64 mu-law chunk.
type MediaPayload struct {
	Track     string `json:"track,omitempty"`
	Chunk     string `json:"chunk,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   string `json:"payload"`
}

// DTMFPayload carries one touch-tone digit.
type DTMFPayload struct {
	Track string `json:"track,omitempty"`
	Digit string `json:"digit"`
}

// MarkPayload names a playback checkpoint previously sent by us.
type MarkPayload struct {
	Name string `json:"name"`
}

// StopPayload closes out the stream.
type StopPayload struct {
	AccountSID string `json:"accountSid"`
	CallSID    string `json:"callSid"`
}

// Message is the envelope for every Media Streams frame in either direction.
// Only the sub-struct matching Event is populated.
type Message struct {
	Event          string        `json:"event"`
	SequenceNumber string        `json:"sequenceNumber,omitempty"`
	StreamSID      string        `json:"streamSid,omitempty"`
	Start          *StartPayload `json:"start,omitempty"`
	Media          *MediaPayload `json:"media,omitempty"`
	DTMF           *DTMFPayload  `json:"dtmf,omitempty"`
	Mark           *MarkPayload  `json:"mark,omitempty"`
	Stop           *StopPayload  `json:"stop,omitempty"`
}

// ParseMessage decodes one inbound Media Streams frame.
func ParseMessage(data []byte) (*Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("telephony: bad media-stream message: %w", err)
	}
	if m.Event == "" {
		return nil, fmt.Errorf("telephony: media-stream message without event")
	}
	return &m, nil
}

// AudioBytes decodes the base64 payload of a media event.
func (m *Message) AudioBytes() ([]byte, error) {
	if m.Media == nil {
		return nil, fmt.Errorf("telephony: %s message has no media payload", m.Event)
	}
	b, err := base64.StdEncoding.DecodeString(m.Media.Payload)
	if err != nil {
		return nil, fmt.Errorf("telephony: bad media payload: %w", err)
	}
	return b, nil
}

// OutboundMedia builds a media message carrying frame toward the caller.
func OutboundMedia(streamSID string, frame []byte) *Message {
	return &Message{
		Event:     EventMedia,
		StreamSID: streamSID,
		Media:     &MediaPayload{Payload: base64.StdEncoding.EncodeToString(frame)},
	}
}

// OutboundMark builds a playback checkpoint message. Twilio echoes the mark
// back once everything queued before it has been played to the caller.
func OutboundMark(streamSID, name string) *Message {
	return &Message{
		Event:     EventMark,
		StreamSID: streamSID,
		Mark:      &MarkPayload{Name: name},
	}
}

// OutboundClear builds the message that drops Twilio's own buffered audio for
// the stream. Sent together with a pacer clear on barge-in.
func OutboundClear(streamSID string) *Message {
	return &Message{Event: EventClear, StreamSID: streamSID}
}
