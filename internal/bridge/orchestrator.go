package bridge

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/voicebridge-lab/internal/audio"
	"github.com/voicebridge-lab/internal/logging"
	"github.com/voicebridge-lab/internal/metrics"
	"github.com/voicebridge-lab/internal/realtime"
)

const defaultGreeting = "The call has just connected. Greet the caller and ask how you can help."

// CallController is the call-control surface the orchestrator uses for
// hangup and operator transfer. *telephony.CallControl satisfies it.
type CallController interface {
	Hangup(ctx context.Context, callSID string) error
	Redirect(ctx context.Context, callSID, twimlURL string) error
	Forget(callSID string)
}

// Options configures an Orchestrator.
type Options struct {
	Store       TenantConfigStore
	Notifier    Notifier
	CallControl CallController
	Credentials realtime.Credentials
	ToolBackend ToolBackend
	IdleTimeout time.Duration
}

// Orchestrator owns the session table and runs the per-call state machine:
// connecting, configuring, active, closing, closed.
type Orchestrator struct {
	sessions    *Table
	store       TenantConfigStore
	notifier    Notifier
	callctl     CallController
	creds       realtime.Credentials
	backend     ToolBackend
	idleTimeout time.Duration

	// dial is swapped out by tests.
	dial func(ctx context.Context, creds realtime.Credentials) (aiConn, error)

	// pacerInterval is zero for the default cadence.
	pacerInterval time.Duration
}

// New builds an orchestrator.
func New(opts Options) *Orchestrator {
	n := opts.Notifier
	if n == nil {
		n = NoopNotifier{}
	}
	idle := opts.IdleTimeout
	if idle <= 0 {
		idle = 5 * time.Minute
	}
	return &Orchestrator{
		sessions:    NewTable(),
		store:       opts.Store,
		notifier:    n,
		callctl:     opts.CallControl,
		creds:       opts.Credentials,
		backend:     opts.ToolBackend,
		idleTimeout: idle,
		dial: func(ctx context.Context, creds realtime.Credentials) (aiConn, error) {
			return realtime.Dial(ctx, creds)
		},
	}
}

// Sessions exposes the table for handlers and the sweep.
func (o *Orchestrator) Sessions() *Table { return o.sessions }

// CreateSession opens the AI-endpoint connection for one call, applies the
// tenant behavior configuration, seeds the greeting turn and registers the
// session. Configuration errors are fatal before any transport is opened.
func (o *Orchestrator) CreateSession(ctx context.Context, caller callerConn, callSID, streamSID, tenantID string) (*Session, error) {
	cfg, err := o.store.Lookup(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &Session{
		ID:        uuid.NewString(),
		CallSID:   callSID,
		StreamSID: streamSID,
		Tenant:    cfg,
		caller:    caller,
		startedAt: time.Now(),
	}
	s.setState(StateConnecting)
	s.Touch()

	handlers := []ToolHandler{
		EndCallTool(s.RequestClose),
		UpdateContactTool(s.RecordContact),
	}
	if o.backend != nil {
		handlers = append(handlers, KnowledgeLookupTool(o.backend), ScheduleTool(o.backend))
	}
	s.dispatcher = NewDispatcher(handlers...)

	ai, err := o.dial(ctx, o.creds)
	if err != nil {
		return nil, fmt.Errorf("bridge: open ai connection: %w", err)
	}
	s.ai = ai
	s.setState(StateConfiguring)

	tools := append(s.dispatcher.Definitions(), cfg.Tools...)
	if err := ai.UpdateSession(realtime.SessionConfig{
		Modalities:         []string{"text", "audio"},
		Instructions:       cfg.Instructions,
		Voice:              cfg.Voice,
		InputAudioFormat:   "g711_ulaw",
		OutputAudioFormat:  "g711_ulaw",
		InputTranscription: &realtime.TranscriptionConfig{Model: "whisper-1"},
		TurnDetection:      realtime.NormalVAD(),
		Tools:              tools,
		Temperature:        cfg.Temperature,
	}); err != nil {
		ai.Close()
		return nil, fmt.Errorf("bridge: configure session: %w", err)
	}

	greeting := cfg.Greeting
	if greeting == "" {
		greeting = defaultGreeting
	}
	if err := ai.CreateItem(realtime.UserTextItem(greeting)); err != nil {
		ai.Close()
		return nil, fmt.Errorf("bridge: seed greeting: %w", err)
	}
	if err := ai.CreateResponse(); err != nil {
		ai.Close()
		return nil, fmt.Errorf("bridge: request greeting: %w", err)
	}

	s.pacer = audio.NewPacer(s.ID, caller, o.pacerInterval)
	s.pacer.Start(context.Background())

	o.sessions.Add(s)
	metrics.CallStarted()
	logging.Infow("bridge: session created",
		logging.SessionFields(s.ID, cfg.TenantID)...)

	go o.runEvents(s)
	return s, nil
}

// HandleCallerAudio relays one chunk of caller audio to the AI endpoint. No
// buffering here; the endpoint runs its own voice-activity detection.
func (o *Orchestrator) HandleCallerAudio(s *Session, mulaw []byte) {
	if s.State() >= StateClosing {
		return
	}
	s.Touch()
	if err := s.ai.AppendAudio(mulaw); err != nil {
		if errors.Is(err, realtime.ErrConnClosed) {
			o.CloseSession(s, "error")
			return
		}
		logging.Warnw("bridge: audio relay failed", "session.id", s.ID, "err", err)
	}
}

// HandleDTMF reacts to a touch-tone digit. Zero transfers the caller to the
// tenant's operator endpoint.
func (o *Orchestrator) HandleDTMF(ctx context.Context, s *Session, digit string) {
	s.Touch()
	if digit != "0" || s.Tenant.OperatorURL == "" || o.callctl == nil {
		logging.Debugw("bridge: dtmf ignored", "session.id", s.ID, "digit", digit)
		return
	}
	s.mu.Lock()
	s.outcome = "redirected"
	s.mu.Unlock()
	if err := o.callctl.Redirect(ctx, s.CallSID, s.Tenant.OperatorURL); err != nil {
		logging.Errorw("bridge: operator redirect failed", "session.id", s.ID, "err", err)
		s.mu.Lock()
		s.outcome = ""
		s.mu.Unlock()
		return
	}
	o.CloseSession(s, "redirected")
}

// runEvents is the session's endpoint event loop.
func (o *Orchestrator) runEvents(s *Session) {
	for {
		ev, err := s.ai.ReadEvent()
		if err != nil {
			if errors.Is(err, realtime.ErrConnClosed) || s.State() >= StateClosing {
				o.CloseSession(s, "completed")
			} else {
				logging.Errorw("bridge: ai connection lost", "session.id", s.ID, "err", err)
				o.CloseSession(s, "error")
			}
			return
		}
		o.dispatchEvent(s, ev)
	}
}

// dispatchEvent routes one typed endpoint event.
func (o *Orchestrator) dispatchEvent(s *Session, ev interface{}) {
	switch e := ev.(type) {
	case *realtime.SessionCreatedEvent:
		logging.Debugw("bridge: ai session created", "session.id", s.ID, "model", e.Session.Model)
	case *realtime.SessionUpdatedEvent:
		if s.State() == StateConfiguring {
			s.setState(StateActive)
			logging.Debugw("bridge: session active", "session.id", s.ID)
		}
	case *realtime.SpeechStartedEvent:
		o.handleSpeechStarted(s)
	case *realtime.SpeechStoppedEvent:
		logging.Debugw("bridge: caller speech stopped", "session.id", s.ID)
	case *realtime.InputTranscriptionCompletedEvent:
		s.appendTranscript("caller", e.Transcript)
	case *realtime.InputTranscriptionFailedEvent:
		o.handleTranscriptionFailed(s)
	case *realtime.ResponseCreatedEvent:
		o.handleResponseCreated(s, e)
	case *realtime.AudioDeltaEvent:
		o.handleAudioDelta(s, e)
	case *realtime.TranscriptDoneEvent:
		s.appendTranscript("assistant", e.Transcript)
		s.mu.Lock()
		s.lastTranscriptChars = utf8.RuneCountInString(e.Transcript)
		s.mu.Unlock()
	case *realtime.FunctionCallDoneEvent:
		go o.handleToolCall(s, e)
	case *realtime.ResponseDoneEvent:
		o.handleResponseDone(s, e)
	case *realtime.ErrorEvent:
		o.handleError(s, e)
	default:
		// Event types the bridge does not consume.
	}
}

// handleSpeechStarted is the barge-in path: cancel the in-flight response,
// wipe queued audio on both sides, suppress stale deltas and put voice
// detection back to the normal profile immediately.
func (o *Orchestrator) handleSpeechStarted(s *Session) {
	s.mu.Lock()
	wasResponding := s.responding && s.activeResponseID != ""
	if wasResponding {
		s.cancelledResponseID = s.activeResponseID
		s.activeResponseID = ""
		s.responding = false
	}
	s.suppressed = true
	revert := s.vadAssistant
	s.vadAssistant = false
	if s.revertTimer != nil {
		s.revertTimer.Stop()
		s.revertTimer = nil
	}
	s.mu.Unlock()

	if wasResponding {
		if err := s.ai.CancelResponse(); err != nil {
			logging.Warnw("bridge: response cancel failed", "session.id", s.ID, "err", err)
		}
		metrics.RecordBargeIn()
		logging.Infow("bridge: caller barge-in", "session.id", s.ID)
	}
	s.pacer.Clear()
	if err := s.caller.SendClear(); err != nil {
		logging.Debugw("bridge: stream clear failed", "session.id", s.ID, "err", err)
	}
	if revert {
		o.setVAD(s, realtime.NormalVAD())
	}
}

// handleResponseCreated records the new active response id. The endpoint
// never overlaps responses, so an existing id here means a missed done event.
func (o *Orchestrator) handleResponseCreated(s *Session, ev *realtime.ResponseCreatedEvent) {
	s.mu.Lock()
	if s.responding && s.activeResponseID != "" && s.activeResponseID != ev.Response.ID {
		logging.Warnw("bridge: replacing stale active response",
			"session.id", s.ID, "stale", s.activeResponseID, "new", ev.Response.ID)
	}
	s.activeResponseID = ev.Response.ID
	s.responding = true
	s.mu.Unlock()
}

// handleAudioDelta feeds assistant audio to the pacer. The first delta of a
// new response lifts suppression and flips voice detection to the
// assistant-speaking profile.
func (o *Orchestrator) handleAudioDelta(s *Session, ev *realtime.AudioDeltaEvent) {
	payload, err := base64.StdEncoding.DecodeString(ev.Delta)
	if err != nil {
		logging.Warnw("bridge: bad audio delta", "session.id", s.ID, "err", err)
		return
	}

	s.mu.Lock()
	if s.suppressed {
		if ev.ResponseID == s.cancelledResponseID {
			// Residual audio from the cancelled response, still in flight
			// when the cancel was requested.
			s.mu.Unlock()
			return
		}
		s.suppressed = false
	}
	if ev.ResponseID != "" && s.activeResponseID != ev.ResponseID {
		s.activeResponseID = ev.ResponseID
		s.responding = true
	}
	flipVAD := !s.vadAssistant
	s.vadAssistant = true
	if s.revertTimer != nil {
		s.revertTimer.Stop()
		s.revertTimer = nil
	}
	s.mu.Unlock()

	if flipVAD {
		o.setVAD(s, realtime.AssistantSpeakingVAD())
	}
	s.pacer.Enqueue(payload)
}

// handleToolCall dispatches one tool invocation and feeds the result back.
// Runs off the event loop so a slow collaborator never stalls audio.
func (o *Orchestrator) handleToolCall(s *Session, ev *realtime.FunctionCallDoneEvent) {
	out := s.dispatcher.Dispatch(context.Background(), s.ID, ev.Name, ev.Arguments)
	if err := s.ai.CreateItem(realtime.FunctionOutputItem(ev.CallID, out)); err != nil {
		logging.Warnw("bridge: tool output send failed", "session.id", s.ID, "err", err)
		return
	}
	if err := s.ai.CreateResponse(); err != nil {
		logging.Warnw("bridge: post-tool response request failed", "session.id", s.ID, "err", err)
	}
}

// handleResponseDone closes out the turn: schedules the voice-detection
// reversion after the estimated playback time, or runs the deferred close
// once the goodbye has paced out.
func (o *Orchestrator) handleResponseDone(s *Session, ev *realtime.ResponseDoneEvent) {
	chars := transcriptChars(ev.Response)

	s.mu.Lock()
	if ev.Response.ID == "" || s.activeResponseID == ev.Response.ID {
		s.activeResponseID = ""
		s.responding = false
	}
	if ev.Response.Status == "cancelled" {
		// A late done for an interrupted response. Its transcript length must
		// not drive the reversion timer; the successor turn owns that, and
		// any deferred close waits for a turn that actually played out.
		s.mu.Unlock()
		return
	}
	if chars == 0 {
		chars = s.lastTranscriptChars
	}
	deferred := s.deferredClose
	delay := PlaybackEstimate(chars)
	if !deferred && s.vadAssistant {
		if s.revertTimer != nil {
			s.revertTimer.Stop()
		}
		s.revertTimer = time.AfterFunc(delay, func() { o.revertVAD(s) })
	}
	s.mu.Unlock()

	if deferred {
		if err := s.caller.SendMark("farewell"); err == nil {
			logging.Debugw("bridge: farewell mark queued", "session.id", s.ID)
		}
		time.AfterFunc(delay, func() { o.CloseSession(s, "completed") })
	}
}

// handleTranscriptionFailed makes the assistant re-prompt honestly instead
// of guessing at what the caller said.
func (o *Orchestrator) handleTranscriptionFailed(s *Session) {
	s.mu.Lock()
	busy := s.responding
	s.mu.Unlock()
	if busy {
		return
	}
	logging.Debugw("bridge: caller audio did not transcribe", "session.id", s.ID)
	if err := s.ai.CreateItem(realtime.UserTextItem(
		"The last thing the caller said could not be understood. Tell them so and ask them to repeat it.")); err != nil {
		return
	}
	s.ai.CreateResponse()
}

// handleError filters benign interruption races and surfaces the rest.
func (o *Orchestrator) handleError(s *Session, ev *realtime.ErrorEvent) {
	if ev.Benign() {
		logging.Debugw("bridge: benign ai error",
			"session.id", s.ID, "code", ev.Error.Code, "msg", ev.Error.Message)
		return
	}
	logging.Errorw("bridge: ai error",
		"session.id", s.ID, "code", ev.Error.Code, "msg", ev.Error.Message)
	switch ev.Error.Code {
	case "invalid_api_key", "session_expired":
		o.CloseSession(s, "error")
	}
}

// revertVAD returns voice detection to the normal profile once the caller
// has plausibly finished hearing the reply.
func (o *Orchestrator) revertVAD(s *Session) {
	s.mu.Lock()
	if !s.vadAssistant {
		s.mu.Unlock()
		return
	}
	s.vadAssistant = false
	s.revertTimer = nil
	s.mu.Unlock()
	o.setVAD(s, realtime.NormalVAD())
}

func (o *Orchestrator) setVAD(s *Session, profile *realtime.VADConfig) {
	if err := s.ai.UpdateSession(realtime.SessionConfig{TurnDetection: profile}); err != nil {
		logging.Warnw("bridge: vad update failed", "session.id", s.ID, "err", err)
	}
}

// CloseSession tears one session down. Removal from the table is the
// idempotency point: whichever caller wins runs the side effects exactly
// once, every later call is a no-op.
func (o *Orchestrator) CloseSession(s *Session, outcome string) {
	if _, ok := o.sessions.Remove(s.ID); !ok {
		return
	}
	s.setState(StateClosing)

	s.mu.Lock()
	if s.revertTimer != nil {
		s.revertTimer.Stop()
		s.revertTimer = nil
	}
	if s.outcome != "" {
		outcome = s.outcome
	}
	s.mu.Unlock()

	s.pacer.Stop()
	metrics.RecordFrames("sent", int(s.pacer.SentFrames()))
	metrics.RecordFrames("cleared", int(s.pacer.ClearedFrames()))
	metrics.RecordFrames("failed", int(s.pacer.WriteFailures()))
	s.ai.Close()
	s.caller.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if o.callctl != nil && s.CallSID != "" {
		if err := o.callctl.Hangup(ctx, s.CallSID); err != nil {
			logging.Warnw("bridge: hangup failed", "session.id", s.ID, "err", err)
		}
		o.callctl.Forget(s.CallSID)
	}

	if err := o.notifier.Notify(ctx, s.summary(outcome)); err != nil {
		logging.Warnw("bridge: post-call notify failed", "session.id", s.ID, "err", err)
	}

	metrics.CallEnded(outcome, time.Since(s.startedAt).Seconds())
	s.setState(StateClosed)
	logging.Infow("bridge: session closed", "session.id", s.ID, "outcome", outcome)
}

// StartSweeper reclaims sessions idle past the configured timeout.
func (o *Orchestrator) StartSweeper(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				for _, s := range o.sessions.Snapshot() {
					if s.IdleSince(now) > o.idleTimeout {
						logging.Infow("bridge: closing idle session", "session.id", s.ID)
						o.CloseSession(s, "idle")
					}
				}
			}
		}
	}()
}

// PlaybackEstimate approximates how long the caller will hear a reply of the
// given transcript length: 25 characters per second of speech plus a half
// second margin, floored at one second.
func PlaybackEstimate(chars int) time.Duration {
	secs := float64(chars)/25.0 + 0.5
	if secs < 1.0 {
		secs = 1.0
	}
	return time.Duration(secs * float64(time.Second))
}

// transcriptChars counts the spoken characters of a response. Runes, not
// bytes; the playback estimate is characters-per-second of speech.
func transcriptChars(r realtime.ResponseInfo) int {
	n := 0
	for _, item := range r.Output {
		for _, c := range item.Content {
			n += utf8.RuneCountInString(c.Transcript) + utf8.RuneCountInString(c.Text)
		}
	}
	return n
}
