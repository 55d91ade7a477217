package bridge

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/voicebridge-lab/internal/realtime"
)

// ToolBackend is the collaborator surface the MCP-backed handlers call.
// *mcp.Collaborator satisfies it.
type ToolBackend interface {
	CallTool(ctx context.Context, name string, args map[string]interface{}) (string, error)
}

func backendCall(ctx context.Context, backend ToolBackend, tool string, args json.RawMessage) (string, error) {
	var m map[string]interface{}
	if len(args) > 0 {
		if err := json.Unmarshal(args, &m); err != nil {
			return "", fmt.Errorf("bad arguments: %w", err)
		}
	}
	text, err := backend.CallTool(ctx, tool, m)
	if err != nil {
		return "", err
	}
	b, _ := json.Marshal(map[string]string{"result": text})
	return string(b), nil
}

// KnowledgeLookupTool answers caller questions from the tenant knowledge
// base via the collaborator.
func KnowledgeLookupTool(backend ToolBackend) ToolHandler {
	return ToolFunc{
		Def: realtime.ToolDef{
			Type:        "function",
			Name:        "lookup_knowledge",
			Description: "Look up an answer to the caller's question in the knowledge base.",
			Parameters: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"query": map[string]interface{}{"type": "string"},
				},
				"required": []string{"query"},
			},
		},
		Fn: func(ctx context.Context, args json.RawMessage) (string, error) {
			return backendCall(ctx, backend, "lookup_knowledge", args)
		},
	}
}

// ScheduleTool books or reschedules an appointment via the collaborator.
func ScheduleTool(backend ToolBackend) ToolHandler {
	return ToolFunc{
		Def: realtime.ToolDef{
			Type:        "function",
			Name:        "schedule_appointment",
			Description: "Book, move or cancel an appointment for the caller.",
			Parameters: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"action": map[string]interface{}{
						"type": "string",
						"enum": []string{"book", "move", "cancel"},
					},
					"datetime": map[string]interface{}{"type": "string"},
					"service":  map[string]interface{}{"type": "string"},
				},
				"required": []string{"action"},
			},
		},
		Fn: func(ctx context.Context, args json.RawMessage) (string, error) {
			return backendCall(ctx, backend, "schedule_appointment", args)
		},
	}
}
