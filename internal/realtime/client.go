package realtime

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/voicebridge-lab/internal/logging"
)

const (
	defaultEndpoint = "wss://api.openai.com/v1/realtime"
	dialTimeout     = 10 * time.Second
	sendTimeout     = 5 * time.Second
)

// ErrConnClosed is returned once the endpoint connection is gone.
var ErrConnClosed = errors.New("realtime: connection closed")

// Credentials carries what the dial needs. Endpoint is overridable for
// tests; empty selects the production API.
type Credentials struct {
	APIKey   string
	Model    string
	Endpoint string
}

// Client is one websocket connection to the AI endpoint. Reads have a single
// caller (the session's event loop); writes are serialized internally.
type Client struct {
	conn *websocket.Conn

	writeMu sync.Mutex

	mu     sync.Mutex
	closed bool
}

// Dial opens the endpoint connection with provider credentials. A handshake
// failure or timeout is fatal to session creation, never retried here.
func Dial(ctx context.Context, creds Credentials) (*Client, error) {
	if creds.APIKey == "" {
		return nil, errors.New("realtime: missing API key")
	}
	endpoint := creds.Endpoint
	if endpoint == "" {
		endpoint = defaultEndpoint
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("realtime: bad endpoint: %w", err)
	}
	if creds.Model != "" {
		q := u.Query()
		q.Set("model", creds.Model)
		u.RawQuery = q.Encode()
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+creds.APIKey)
	header.Set("OpenAI-Beta", "realtime=v1")

	dialer := websocket.Dialer{HandshakeTimeout: dialTimeout}
	conn, resp, err := dialer.DialContext(ctx, u.String(), header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("realtime: dial failed with status %d: %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("realtime: dial failed: %w", err)
	}
	logging.Debugw("realtime: connected", "endpoint", u.Host, "model", creds.Model)
	return &Client{conn: conn}, nil
}

// NewClient wraps an already-established websocket. Used by tests.
func NewClient(conn *websocket.Conn) *Client {
	return &Client{conn: conn}
}

// ReadEvent blocks for the next typed server event.
func (c *Client) ReadEvent() (interface{}, error) {
	_, data, err := c.conn.ReadMessage()
	if err != nil {
		if c.isClosed() || isClosedErr(err) {
			return nil, ErrConnClosed
		}
		return nil, err
	}
	return ParseServerEvent(data)
}

// UpdateSession sends session.update with the full configuration block.
func (c *Client) UpdateSession(cfg SessionConfig) error {
	return c.send(sessionUpdateEvent{clientEvent: c.envelope("session.update"), Session: cfg})
}

// AppendAudio forwards caller audio to the endpoint's input buffer. The
// endpoint runs its own VAD on the stream so no commit is sent here.
func (c *Client) AppendAudio(mulaw []byte) error {
	return c.send(audioAppendEvent{
		clientEvent: c.envelope("input_audio_buffer.append"),
		Audio:       base64.StdEncoding.EncodeToString(mulaw),
	})
}

// CancelResponse asks the endpoint to stop the in-flight response.
func (c *Client) CancelResponse() error {
	return c.send(responseCancelEvent{clientEvent: c.envelope("response.cancel")})
}

// CreateItem appends an item to the endpoint-side conversation.
func (c *Client) CreateItem(item ConversationItem) error {
	return c.send(itemCreateEvent{clientEvent: c.envelope("conversation.item.create"), Item: item})
}

// CreateResponse asks the endpoint to produce its next turn.
func (c *Client) CreateResponse() error {
	return c.send(responseCreateEvent{clientEvent: c.envelope("response.create")})
}

// Close shuts the connection down. Safe to call more than once.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.writeMu.Lock()
	c.conn.SetWriteDeadline(time.Now().Add(time.Second))
	c.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	c.writeMu.Unlock()
	return c.conn.Close()
}

func (c *Client) envelope(typ string) clientEvent {
	return clientEvent{EventID: uuid.NewString(), Type: typ}
}

func (c *Client) send(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("realtime: marshal client event: %w", err)
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.isClosed() {
		return ErrConnClosed
	}
	c.conn.SetWriteDeadline(time.Now().Add(sendTimeout))
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		if isClosedErr(err) {
			return ErrConnClosed
		}
		return err
	}
	return nil
}

func (c *Client) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func isClosedErr(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, websocket.ErrCloseSent) || errors.Is(err, net.ErrClosed) {
		return true
	}
	return websocket.IsCloseError(err,
		websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseAbnormalClosure)
}
