package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/voicebridge-lab/internal/logging"
)

// TranscriptEntry is one turn of the conversation as heard or spoken.
type TranscriptEntry struct {
	Role string    `json:"role"` // "caller" or "assistant"
	Text string    `json:"text"`
	At   time.Time `json:"at"`
}

// CallSummary is handed to the notifier exactly once per completed session.
type CallSummary struct {
	SessionID   string            `json:"session_id"`
	CallSID     string            `json:"call_sid"`
	TenantID    string            `json:"tenant_id"`
	Caller      string            `json:"caller,omitempty"`
	Called      string            `json:"called,omitempty"`
	StartedAt   time.Time         `json:"started_at"`
	EndedAt     time.Time         `json:"ended_at"`
	Outcome     string            `json:"outcome"`
	Transcript  []TranscriptEntry `json:"transcript"`
	ContactInfo map[string]string `json:"contact_info,omitempty"`
}

// Notifier receives the post-call summary. Delivery internals are the
// collaborator's concern, not the bridge's.
type Notifier interface {
	Notify(ctx context.Context, summary *CallSummary) error
}

// NoopNotifier discards summaries. Used when no notify endpoint is set.
type NoopNotifier struct{}

func (NoopNotifier) Notify(ctx context.Context, summary *CallSummary) error { return nil }

// WebhookNotifier posts the summary as JSON to a configured endpoint.
type WebhookNotifier struct {
	URL       string
	AuthToken string
	Client    *http.Client
}

// Notify implements Notifier. Failures are reported but the call teardown
// has already happened, so the caller only logs them.
func (n *WebhookNotifier) Notify(ctx context.Context, summary *CallSummary) error {
	body, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("bridge: marshal call summary: %w", err)
	}
	resp, err := postWithRetries(n.Client, n.URL, body, n.AuthToken, 5000, 3, summary.SessionID)
	if err != nil {
		return fmt.Errorf("bridge: notify webhook: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode >= 300 {
		return fmt.Errorf("bridge: notify webhook status %d", resp.StatusCode)
	}
	logging.Debugw("bridge: call summary delivered",
		"session.id", summary.SessionID, "entries", len(summary.Transcript))
	return nil
}
