package telephony

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/voicebridge-lab/internal/logging"
)

// Error classification for call-control requests. Transient failures get one
// retry; permanent ones are reported immediately.
var (
	ErrTransient = errors.New("transient call-control error")
	ErrPermanent = errors.New("permanent call-control error")
)

const defaultAPIBase = "https://api.twilio.com"

// CallControl drives in-progress calls over the provider REST API: hangup
// and redirect-to-operator. It also arbitrates between the two, since a call
// being redirected must not be hung up by the session-close path.
type CallControl struct {
	accountSID string
	authToken  string
	baseURL    string
	client     *http.Client

	mu         sync.Mutex
	redirected map[string]bool
}

// NewCallControl builds a client from account credentials. baseURL is
// overridable for tests; empty selects the production API.
func NewCallControl(accountSID, authToken, baseURL string) *CallControl {
	if baseURL == "" {
		baseURL = defaultAPIBase
	}
	return &CallControl{
		accountSID: accountSID,
		authToken:  authToken,
		baseURL:    strings.TrimRight(baseURL, "/"),
		client:     &http.Client{Timeout: 10 * time.Second},
		redirected: make(map[string]bool),
	}
}

// Redirect hands the call off to the TwiML at twimlURL and marks the call so
// a later Hangup becomes a no-op.
func (c *CallControl) Redirect(ctx context.Context, callSID, twimlURL string) error {
	c.mu.Lock()
	c.redirected[callSID] = true
	c.mu.Unlock()

	err := c.updateCall(ctx, callSID, url.Values{"Url": {twimlURL}, "Method": {"POST"}})
	if err != nil {
		c.mu.Lock()
		delete(c.redirected, callSID)
		c.mu.Unlock()
		return err
	}
	logging.Infow("telephony: call redirected", "call.sid", callSID, "url", twimlURL)
	return nil
}

// Hangup completes the call unless it has been redirected to an operator.
func (c *CallControl) Hangup(ctx context.Context, callSID string) error {
	c.mu.Lock()
	skip := c.redirected[callSID]
	c.mu.Unlock()
	if skip {
		logging.Debugw("telephony: hangup skipped, call redirected", "call.sid", callSID)
		return nil
	}
	if err := c.updateCall(ctx, callSID, url.Values{"Status": {"completed"}}); err != nil {
		return err
	}
	logging.Infow("telephony: call hung up", "call.sid", callSID)
	return nil
}

// Forget releases redirect bookkeeping for a finished call.
func (c *CallControl) Forget(callSID string) {
	c.mu.Lock()
	delete(c.redirected, callSID)
	c.mu.Unlock()
}

// updateCall posts a call-resource update, retrying once on transient
// failure.
func (c *CallControl) updateCall(ctx context.Context, callSID string, form url.Values) error {
	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Calls/%s.json",
		c.baseURL, c.accountSID, callSID)

	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(250 * time.Millisecond):
			}
		}
		lastErr = c.post(ctx, endpoint, form)
		if lastErr == nil || !errors.Is(lastErr, ErrTransient) {
			return lastErr
		}
		logging.Warnw("telephony: call-control retry", "call.sid", callSID, "err", lastErr)
	}
	return lastErr
}

func (c *CallControl) post(ctx context.Context, endpoint string, form url.Values) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint,
		strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPermanent, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(c.accountSID, c.authToken)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTransient, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		io.Copy(io.Discard, resp.Body)
		return nil
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%w: status %d", ErrTransient, resp.StatusCode)
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: status %d: %s", ErrPermanent, resp.StatusCode, strings.TrimSpace(string(body)))
	}
}
