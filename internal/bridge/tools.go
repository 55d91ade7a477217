package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/voicebridge-lab/internal/logging"
	"github.com/voicebridge-lab/internal/metrics"
	"github.com/voicebridge-lab/internal/realtime"
)

const toolTimeout = 15 * time.Second

// ToolHandler is one collaborator-backed capability callable by the AI
// endpoint. Handle returns the JSON-encoded result string sent back as the
// function-call output.
type ToolHandler interface {
	Definition() realtime.ToolDef
	Handle(ctx context.Context, args json.RawMessage) (string, error)
}

// ToolFunc adapts a function to ToolHandler.
type ToolFunc struct {
	Def realtime.ToolDef
	Fn  func(ctx context.Context, args json.RawMessage) (string, error)
}

func (t ToolFunc) Definition() realtime.ToolDef { return t.Def }
func (t ToolFunc) Handle(ctx context.Context, args json.RawMessage) (string, error) {
	return t.Fn(ctx, args)
}

// Dispatcher routes tool-call requests to registered handlers. One
// dispatcher per session; Dispatch serializes executions so handlers never
// overlap within a call.
type Dispatcher struct {
	mu       sync.Mutex
	handlers map[string]ToolHandler
}

// NewDispatcher builds a dispatcher over the given handlers.
func NewDispatcher(handlers ...ToolHandler) *Dispatcher {
	d := &Dispatcher{handlers: make(map[string]ToolHandler)}
	for _, h := range handlers {
		d.handlers[h.Definition().Name] = h
	}
	return d
}

// Register adds or replaces a handler.
func (d *Dispatcher) Register(h ToolHandler) {
	d.mu.Lock()
	d.handlers[h.Definition().Name] = h
	d.mu.Unlock()
}

// Definitions returns the tool menu for session configuration.
func (d *Dispatcher) Definitions() []realtime.ToolDef {
	d.mu.Lock()
	defer d.mu.Unlock()
	defs := make([]realtime.ToolDef, 0, len(d.handlers))
	for _, h := range d.handlers {
		defs = append(defs, h.Definition())
	}
	return defs
}

// Dispatch invokes the named handler and returns the structured output to
// send back. Unknown names and handler failures produce an error result, not
// a dispatch failure, so the conversation stays alive.
func (d *Dispatcher) Dispatch(ctx context.Context, sessionID, name string, args string) string {
	d.mu.Lock()
	defer d.mu.Unlock()

	h, ok := d.handlers[name]
	if !ok {
		logging.Warnw("bridge: unknown tool requested", "session.id", sessionID, "tool", name)
		metrics.RecordToolCall(name, "unknown")
		return errorResult(fmt.Sprintf("unknown function %q", name))
	}

	ctx, cancel := context.WithTimeout(ctx, toolTimeout)
	defer cancel()
	out, err := h.Handle(ctx, json.RawMessage(args))
	if err != nil {
		logging.Warnw("bridge: tool handler failed", "session.id", sessionID, "tool", name, "err", err)
		metrics.RecordToolCall(name, "error")
		return errorResult(err.Error())
	}
	metrics.RecordToolCall(name, "success")
	logging.Debugw("bridge: tool dispatched", "session.id", sessionID, "tool", name)
	return out
}

func errorResult(msg string) string {
	b, _ := json.Marshal(map[string]string{"error": msg})
	return string(b)
}

// EndCallTool builds the handler that lets the assistant end the call. It
// only sets the session's deferred-close flag; actual teardown waits for the
// closing turn's audio to pace out.
func EndCallTool(requestClose func()) ToolHandler {
	return ToolFunc{
		Def: realtime.ToolDef{
			Type:        "function",
			Name:        "end_call",
			Description: "End the phone call after saying goodbye to the caller.",
			Parameters: map[string]interface{}{
				"type":       "object",
				"properties": map[string]interface{}{},
			},
		},
		Fn: func(ctx context.Context, args json.RawMessage) (string, error) {
			requestClose()
			return `{"status":"call will end after this message"}`, nil
		},
	}
}

// UpdateContactTool builds the handler that validates and records caller
// contact info into the session's collected state.
func UpdateContactTool(record func(field, value string)) ToolHandler {
	return ToolFunc{
		Def: realtime.ToolDef{
			Type:        "function",
			Name:        "update_contact_info",
			Description: "Record or correct the caller's contact information.",
			Parameters: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"field": map[string]interface{}{
						"type": "string",
						"enum": []string{"name", "phone", "email"},
					},
					"value": map[string]interface{}{"type": "string"},
				},
				"required": []string{"field", "value"},
			},
		},
		Fn: func(ctx context.Context, args json.RawMessage) (string, error) {
			var in struct {
				Field string `json:"field"`
				Value string `json:"value"`
			}
			if err := json.Unmarshal(args, &in); err != nil {
				return "", fmt.Errorf("bad arguments: %w", err)
			}
			switch in.Field {
			case "name", "phone", "email":
			default:
				return "", fmt.Errorf("unsupported contact field %q", in.Field)
			}
			if in.Value == "" {
				return "", fmt.Errorf("empty value for %s", in.Field)
			}
			record(in.Field, in.Value)
			return `{"status":"recorded"}`, nil
		},
	}
}
