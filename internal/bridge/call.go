package bridge

import (
	"net/http"

	"github.com/voicebridge-lab/internal/logging"
	"github.com/voicebridge-lab/internal/telephony"
)

// HandleMediaStream is the websocket endpoint for one inbound call. It owns
// the inbound relay: lifecycle events drive session creation and teardown,
// media events flow straight through to the AI endpoint.
func (o *Orchestrator) HandleMediaStream(w http.ResponseWriter, r *http.Request) {
	conn, err := telephony.Upgrade(w, r)
	if err != nil {
		logging.Warnw("bridge: media stream upgrade failed", "err", err)
		return
	}

	var s *Session
	defer func() {
		if s != nil {
			o.CloseSession(s, "completed")
		} else {
			conn.Close()
		}
	}()

	for {
		msg, err := conn.ReadMessage()
		if err != nil {
			if s != nil {
				logging.Debugw("bridge: media stream ended", "session.id", s.ID, "err", err)
			}
			return
		}
		switch msg.Event {
		case telephony.EventConnected:
			logging.Debugw("bridge: media stream handshake")
		case telephony.EventStart:
			if msg.Start == nil || s != nil {
				continue
			}
			conn.SetStreamSID(msg.Start.StreamSID)
			tenant := msg.Start.CustomParameters["tenant"]
			s, err = o.CreateSession(r.Context(), conn, msg.Start.CallSID, msg.Start.StreamSID, tenant)
			if err != nil {
				logging.Errorw("bridge: session creation failed",
					"call.sid", msg.Start.CallSID, "tenant.id", tenant, "err", err)
				return
			}
			s.CallerNumber = msg.Start.CustomParameters["from"]
			s.CalledNumber = msg.Start.CustomParameters["to"]
			logging.Infow("bridge: call started",
				logging.CallFields(msg.Start.CallSID, msg.Start.StreamSID)...)
		case telephony.EventMedia:
			if s == nil {
				continue
			}
			payload, perr := msg.AudioBytes()
			if perr != nil {
				logging.Warnw("bridge: bad media payload", "session.id", s.ID, "err", perr)
				continue
			}
			o.HandleCallerAudio(s, payload)
		case telephony.EventDTMF:
			if s != nil && msg.DTMF != nil {
				o.HandleDTMF(r.Context(), s, msg.DTMF.Digit)
			}
		case telephony.EventMark:
			if s != nil && msg.Mark != nil {
				logging.Debugw("bridge: playback mark reached",
					"session.id", s.ID, "mark", msg.Mark.Name)
			}
		case telephony.EventStop:
			logging.Debugw("bridge: stop event received")
			return
		}
	}
}
