package realtime

import (
	"encoding/json"
	"testing"
)

func TestParseSpeechStarted(t *testing.T) {
	raw := []byte(`{"event_id":"ev1","type":"input_audio_buffer.speech_started","audio_start_ms":1250,"item_id":"item_1"}`)
	ev, err := ParseServerEvent(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	s, ok := ev.(*SpeechStartedEvent)
	if !ok {
		t.Fatalf("wrong type %T", ev)
	}
	if s.AudioStartMs != 1250 || s.ItemID != "item_1" {
		t.Fatalf("fields not parsed: %+v", s)
	}
}

func TestParseAudioDelta(t *testing.T) {
	raw := []byte(`{"event_id":"ev2","type":"response.audio.delta","response_id":"resp_1","item_id":"item_2","delta":"base64here"}`)
	ev, err := ParseServerEvent(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	d, ok := ev.(*AudioDeltaEvent)
	if !ok {
		t.Fatalf("wrong type %T", ev)
	}
	if d.ResponseID != "resp_1" || d.Delta != "base64here" {
		t.Fatalf("fields not parsed: %+v", d)
	}
}

func TestParseFunctionCallDone(t *testing.T) {
	raw := []byte(`{"type":"response.function_call_arguments.done","response_id":"resp_1","call_id":"call_9","name":"lookup_knowledge","arguments":"{\"query\":\"hours\"}"}`)
	ev, err := ParseServerEvent(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	f, ok := ev.(*FunctionCallDoneEvent)
	if !ok {
		t.Fatalf("wrong type %T", ev)
	}
	if f.Name != "lookup_knowledge" || f.CallID != "call_9" {
		t.Fatalf("fields not parsed: %+v", f)
	}
	var args map[string]string
	if err := json.Unmarshal([]byte(f.Arguments), &args); err != nil || args["query"] != "hours" {
		t.Fatalf("arguments not usable: %v %v", err, args)
	}
}

func TestParseUnknownTypeFallsBack(t *testing.T) {
	raw := []byte(`{"event_id":"ev3","type":"rate_limits.updated","rate_limits":[]}`)
	ev, err := ParseServerEvent(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	base, ok := ev.(*ServerEvent)
	if !ok {
		t.Fatalf("unknown type should fall back to envelope, got %T", ev)
	}
	if base.Type != "rate_limits.updated" {
		t.Fatalf("envelope type: %s", base.Type)
	}
}

func TestErrorBenignClassification(t *testing.T) {
	raw := []byte(`{"type":"error","error":{"type":"invalid_request_error","code":"response_cancel_not_active","message":"no active response"}}`)
	ev, err := ParseServerEvent(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	e := ev.(*ErrorEvent)
	if !e.Benign() {
		t.Fatal("cancel-without-active-response must classify as benign")
	}

	e2 := &ErrorEvent{Error: ErrorDetail{Code: "invalid_api_key"}}
	if e2.Benign() {
		t.Fatal("auth errors are not benign")
	}
}

func TestSessionConfigTurnDetectionAlwaysPresent(t *testing.T) {
	data, err := json.Marshal(SessionConfig{Instructions: "hi", TurnDetection: nil})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	raw, ok := m["turn_detection"]
	if !ok {
		t.Fatal("turn_detection must serialize even when nil")
	}
	if string(raw) != "null" {
		t.Fatalf("nil detection should serialize as null, got %s", raw)
	}
}

func TestVADProfiles(t *testing.T) {
	n, a := NormalVAD(), AssistantSpeakingVAD()
	if n.Threshold >= a.Threshold {
		t.Fatalf("assistant-speaking profile must be less sensitive: %v vs %v", n.Threshold, a.Threshold)
	}
	if n.SilenceDurationMs >= a.SilenceDurationMs {
		t.Fatalf("assistant-speaking profile must require longer silence: %d vs %d", n.SilenceDurationMs, a.SilenceDurationMs)
	}
	if n.Type != "server_vad" || a.Type != "server_vad" {
		t.Fatal("both profiles use server VAD")
	}
}
