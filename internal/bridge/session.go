package bridge

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/voicebridge-lab/internal/audio"
	"github.com/voicebridge-lab/internal/realtime"
)

// Session lifecycle states.
const (
	StateConnecting int32 = iota
	StateConfiguring
	StateActive
	StateClosing
	StateClosed
)

// aiConn is the endpoint connection surface the orchestrator drives.
// *realtime.Client satisfies it; tests substitute fakes.
type aiConn interface {
	UpdateSession(realtime.SessionConfig) error
	AppendAudio(mulaw []byte) error
	CancelResponse() error
	CreateItem(item realtime.ConversationItem) error
	CreateResponse() error
	ReadEvent() (interface{}, error)
	Close() error
}

// callerConn is the telephony-side surface. *telephony.StreamConn satisfies
// it.
type callerConn interface {
	audio.FrameWriter
	SendClear() error
	SendMark(name string) error
	Close() error
}

// Session is one live call. Its mutable turn state is shared by three
// activities (inbound relay, endpoint event loop, pacer loop) and guarded by
// mu; nothing here ever takes a process-wide lock.
type Session struct {
	ID           string
	CallSID      string
	StreamSID    string
	CallerNumber string
	CalledNumber string
	Tenant       *TenantConfig

	ai         aiConn
	caller     callerConn
	pacer      *audio.Pacer
	dispatcher *Dispatcher

	state        int32
	lastActivity int64
	startedAt    time.Time

	mu                  sync.Mutex
	responding          bool
	activeResponseID    string
	cancelledResponseID string
	suppressed          bool
	deferredClose       bool
	vadAssistant        bool
	lastTranscriptChars int
	revertTimer         *time.Timer
	outcome             string
	transcript          []TranscriptEntry
	contact             map[string]string
}

// State returns the current lifecycle state.
func (s *Session) State() int32 { return atomic.LoadInt32(&s.state) }

func (s *Session) setState(st int32) { atomic.StoreInt32(&s.state, st) }

// Touch records activity for the idle sweep.
func (s *Session) Touch() { atomic.StoreInt64(&s.lastActivity, time.Now().UnixNano()) }

// IdleSince returns how long the session has gone without caller activity.
func (s *Session) IdleSince(now time.Time) time.Duration {
	return now.Sub(time.Unix(0, atomic.LoadInt64(&s.lastActivity)))
}

// RequestClose sets the deferred-close flag. Teardown happens once the
// current turn's audio has paced out, checked in the response-done handler.
func (s *Session) RequestClose() {
	s.mu.Lock()
	s.deferredClose = true
	s.mu.Unlock()
}

// RecordContact stores one collected contact field.
func (s *Session) RecordContact(field, value string) {
	s.mu.Lock()
	if s.contact == nil {
		s.contact = make(map[string]string)
	}
	s.contact[field] = value
	s.mu.Unlock()
}

// appendTranscript adds one turn to the conversation history.
func (s *Session) appendTranscript(role, text string) {
	if text == "" {
		return
	}
	s.mu.Lock()
	s.transcript = append(s.transcript, TranscriptEntry{Role: role, Text: text, At: time.Now()})
	s.mu.Unlock()
}

// summary snapshots the session for the post-call notifier.
func (s *Session) summary(outcome string) *CallSummary {
	s.mu.Lock()
	defer s.mu.Unlock()
	contact := make(map[string]string, len(s.contact))
	for k, v := range s.contact {
		contact[k] = v
	}
	return &CallSummary{
		SessionID:   s.ID,
		CallSID:     s.CallSID,
		TenantID:    s.Tenant.TenantID,
		Caller:      s.CallerNumber,
		Called:      s.CalledNumber,
		StartedAt:   s.startedAt,
		EndedAt:     time.Now(),
		Outcome:     outcome,
		Transcript:  append([]TranscriptEntry(nil), s.transcript...),
		ContactInfo: contact,
	}
}

// Table is the process-wide session registry. Removal is the idempotency
// point for close: whichever caller removes the session runs teardown.
type Table struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewTable creates an empty registry.
func NewTable() *Table {
	return &Table{sessions: make(map[string]*Session)}
}

// Add registers a session.
func (t *Table) Add(s *Session) {
	t.mu.Lock()
	t.sessions[s.ID] = s
	t.mu.Unlock()
}

// Remove unregisters and returns the session. The second return reports
// whether this caller won the removal.
func (t *Table) Remove(id string) (*Session, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.sessions[id]
	if ok {
		delete(t.sessions, id)
	}
	return s, ok
}

// Get looks a session up by id.
func (t *Table) Get(id string) (*Session, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s, ok := t.sessions[id]
	return s, ok
}

// Len returns the number of registered sessions.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.sessions)
}

// Snapshot returns the current sessions without holding the lock during
// per-session work.
func (t *Table) Snapshot() []*Session {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*Session, 0, len(t.sessions))
	for _, s := range t.sessions {
		out = append(out, s)
	}
	return out
}
