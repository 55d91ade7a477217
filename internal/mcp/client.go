// Package mcp wraps the Model Context Protocol client used to reach the
// collaborator server backing the knowledge-lookup and scheduling tools.
package mcp

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	sdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/voicebridge-lab/internal/logging"
)

// Collaborator is one client session against the collaborator MCP server.
type Collaborator struct {
	client  *sdk.Client
	session *sdk.ClientSession
}

// NewCollaborator creates an unconnected collaborator with the given
// client identity.
func NewCollaborator(name, version string) *Collaborator {
	impl := &sdk.Implementation{Name: name, Version: version}
	return &Collaborator{client: sdk.NewClient(impl, nil)}
}

// Connect dials the collaborator websocket endpoint and opens the MCP
// session. A background ping keeps the connection warm until ctx ends.
func (c *Collaborator) Connect(ctx context.Context, rawurl string) error {
	u, err := url.Parse(rawurl)
	if err != nil {
		return fmt.Errorf("mcp: bad collaborator url: %w", err)
	}
	switch u.Scheme {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return fmt.Errorf("mcp: unsupported scheme %q", u.Scheme)
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("mcp: dial collaborator: %w", err)
	}
	sess, err := c.client.Connect(ctx, newWebSocketTransport(conn), nil)
	if err != nil {
		conn.Close()
		return fmt.Errorf("mcp: connect session: %w", err)
	}
	c.session = sess

	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				_ = sess.Ping(context.Background(), nil)
			}
		}
	}()
	logging.Infow("mcp: collaborator connected", "url", u.String())
	return nil
}

// CallTool invokes a named tool on the collaborator and returns the joined
// text content of the result.
func (c *Collaborator) CallTool(ctx context.Context, name string, args map[string]interface{}) (string, error) {
	if c.session == nil {
		return "", errors.New("mcp: collaborator not connected")
	}
	res, err := c.session.CallTool(ctx, &sdk.CallToolParams{Name: name, Arguments: args})
	if err != nil {
		return "", fmt.Errorf("mcp: call %s: %w", name, err)
	}
	var parts []string
	for _, content := range res.Content {
		if tc, ok := content.(*sdk.TextContent); ok {
			parts = append(parts, tc.Text)
		}
	}
	if res.IsError {
		return "", fmt.Errorf("mcp: %s reported error: %s", name, strings.Join(parts, " "))
	}
	return strings.Join(parts, "\n"), nil
}

// Close tears the session down. Safe when never connected.
func (c *Collaborator) Close() error {
	if c.session != nil {
		return c.session.Close()
	}
	return nil
}
