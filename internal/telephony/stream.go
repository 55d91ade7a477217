package telephony

import (
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/voicebridge-lab/internal/audio"
	"github.com/voicebridge-lab/internal/logging"
)

const writeTimeout = 5 * time.Second

// Upgrader accepts the Twilio media-stream websocket. Subprotocols lists
// what we are willing to echo back; Twilio works with or without one.
var Upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	Subprotocols:    []string{"audio.twilio.com"},
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// StreamConn is one live media-stream websocket. Gorilla allows a single
// concurrent writer, so all outbound messages go through the write lock; the
// read side has exactly one caller (the bridge's inbound loop).
type StreamConn struct {
	conn *websocket.Conn

	writeMu sync.Mutex

	mu        sync.Mutex
	streamSID string
	closed    bool
}

// Upgrade performs the websocket handshake for an incoming media stream.
func Upgrade(w http.ResponseWriter, r *http.Request) (*StreamConn, error) {
	conn, err := Upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}
	logging.Debugw("telephony: media stream connected",
		"remote", conn.RemoteAddr().String(), "subprotocol", conn.Subprotocol())
	return &StreamConn{conn: conn}, nil
}

// NewStreamConn wraps an already-established websocket. Used by tests.
func NewStreamConn(conn *websocket.Conn) *StreamConn {
	return &StreamConn{conn: conn}
}

// SetStreamSID records the stream identifier from the start event. Outbound
// messages are addressed with it from then on.
func (s *StreamConn) SetStreamSID(sid string) {
	s.mu.Lock()
	s.streamSID = sid
	s.mu.Unlock()
}

// StreamSID returns the recorded stream identifier, empty before start.
func (s *StreamConn) StreamSID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.streamSID
}

// ReadMessage blocks for the next inbound protocol message.
func (s *StreamConn) ReadMessage() (*Message, error) {
	_, data, err := s.conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	return ParseMessage(data)
}

// WriteMessage sends one protocol message under the write lock.
func (s *StreamConn) WriteMessage(m *Message) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	err := s.conn.WriteJSON(m)
	if isClosedErr(err) {
		return audio.ErrWriterClosed
	}
	return err
}

// WriteFrame satisfies audio.FrameWriter: one mu-law frame toward the caller.
func (s *StreamConn) WriteFrame(frame []byte) error {
	sid := s.StreamSID()
	if sid == "" {
		return errors.New("telephony: write before stream start")
	}
	return s.WriteMessage(OutboundMedia(sid, frame))
}

// SendMark queues a playback checkpoint after the audio already written.
func (s *StreamConn) SendMark(name string) error {
	return s.WriteMessage(OutboundMark(s.StreamSID(), name))
}

// SendClear tells Twilio to drop its buffered outbound audio for the stream.
func (s *StreamConn) SendClear() error {
	return s.WriteMessage(OutboundClear(s.StreamSID()))
}

// Close shuts the websocket down. Safe to call more than once.
func (s *StreamConn) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.writeMu.Lock()
	s.conn.SetWriteDeadline(time.Now().Add(time.Second))
	s.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	s.writeMu.Unlock()
	return s.conn.Close()
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
