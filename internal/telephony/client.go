// Package telephony is the outbound half of the telephony adapter: a
// REST client that issues call-control commands (play prompt, gather
// speech/DTMF, transfer, hang up, originate a new call) against the
// carrier's HTTP API, plus the pending-action correlation needed
// because the carrier reports call progress asynchronously over the
// inbound webhook rather than as a synchronous HTTP response.
package telephony

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/carebridge/shiftcover/pkg/apperr"
	"github.com/carebridge/shiftcover/pkg/logger"
)

type Config struct {
	OriginateBaseURL string
	CallTimeout      time.Duration
}

// CallEvent is what the inbound webhook decodes progress reports
// into, and what AwaitEvent hands back to a blocked caller.
type CallEvent struct {
	CallID string `json:"callId"`
	Type   string `json:"type"` // "answered", "no-answer", "dtmf", "hangup", "error"
	Digits string `json:"digits,omitempty"`
	Reason string `json:"reason,omitempty"`
}

type Client struct {
	http *http.Client
	cfg  Config

	mu      sync.Mutex
	pending map[string]chan CallEvent
}

func NewClient(cfg Config) *Client {
	if cfg.CallTimeout == 0 {
		cfg.CallTimeout = 30 * time.Second
	}
	return &Client{
		http:    &http.Client{Timeout: cfg.CallTimeout},
		cfg:     cfg,
		pending: make(map[string]chan CallEvent),
	}
}

func (c *Client) post(ctx context.Context, path string, body interface{}) error {
	data, err := json.Marshal(body)
	if err != nil {
		return apperr.Wrap(err, apperr.ErrConfigInvalid, "failed to marshal telephony command")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.OriginateBaseURL+path, bytes.NewReader(data))
	if err != nil {
		return apperr.Wrap(err, apperr.ErrConfigInvalid, "failed to build telephony request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return apperr.Wrap(err, apperr.ErrBackendUnavailable, "telephony command failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return apperr.New(apperr.ErrBackendUnavailable, fmt.Sprintf("telephony API returned %d", resp.StatusCode))
	}
	if resp.StatusCode >= 400 {
		return apperr.New(apperr.ErrFatal, fmt.Sprintf("telephony API rejected command: %d", resp.StatusCode))
	}
	return nil
}

// PlayText asks the carrier to speak a prompt on an in-progress call.
func (c *Client) PlayText(ctx context.Context, callID, text string) error {
	return c.post(ctx, "/calls/"+callID+"/play", map[string]string{"text": text})
}

// GatherSpeech asks the carrier to record and transcribe the caller's
// next utterance, delivered back via the webhook's speech event.
func (c *Client) GatherSpeech(ctx context.Context, callID string, maxSeconds int) error {
	return c.post(ctx, "/calls/"+callID+"/gather-speech", map[string]int{"maxSeconds": maxSeconds})
}

// GatherDTMF asks the carrier to collect up to maxDigits keypresses.
func (c *Client) GatherDTMF(ctx context.Context, callID string, maxDigits int) error {
	return c.post(ctx, "/calls/"+callID+"/gather-dtmf", map[string]int{"maxDigits": maxDigits})
}

// TransferTo bridges the call to a live human number.
func (c *Client) TransferTo(ctx context.Context, callID, number string) error {
	return c.post(ctx, "/calls/"+callID+"/transfer", map[string]string{"number": number})
}

// HangUp ends the call.
func (c *Client) HangUp(ctx context.Context, callID string) error {
	return c.post(ctx, "/calls/"+callID+"/hangup", nil)
}

// PlaceCall originates a new outbound call and returns its call id.
// webhookURL is where the carrier should POST subsequent events for
// this call.
func (c *Client) PlaceCall(ctx context.Context, toNumber, fromNumber, webhookURL string) (string, error) {
	clientRef := uuid.New().String()
	data, err := json.Marshal(map[string]string{
		"to": toNumber, "from": fromNumber, "webhookUrl": webhookURL, "clientRef": clientRef,
	})
	if err != nil {
		return "", apperr.Wrap(err, apperr.ErrConfigInvalid, "failed to marshal originate request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.OriginateBaseURL+"/calls", bytes.NewReader(data))
	if err != nil {
		return "", apperr.Wrap(err, apperr.ErrConfigInvalid, "failed to build originate request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", apperr.Wrap(err, apperr.ErrBackendUnavailable, "failed to originate call")
	}
	defer resp.Body.Close()

	var out struct {
		CallID string `json:"callId"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", apperr.Wrap(err, apperr.ErrBackendUnavailable, "failed to decode originate response")
	}
	if out.CallID == "" {
		return "", apperr.New(apperr.ErrBackendUnavailable, "originate response missing call id")
	}
	return out.CallID, nil
}

// AwaitEvent blocks until the webhook delivers an event for callID,
// ctx is cancelled, or timeout elapses — the correlation primitive the
// Outbound Caller needs to turn an async dial into a synchronous
// "did they answer and press 1 or 2" call.
func (c *Client) AwaitEvent(ctx context.Context, callID string, timeout time.Duration) (CallEvent, error) {
	ch := make(chan CallEvent, 1)

	c.mu.Lock()
	c.pending[callID] = ch
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, callID)
		c.mu.Unlock()
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case ev := <-ch:
		return ev, nil
	case <-timer.C:
		return CallEvent{}, apperr.New(apperr.ErrBackendUnavailable, "timed out waiting for call event").WithContext("callId", callID)
	case <-ctx.Done():
		return CallEvent{}, ctx.Err()
	}
}

// ResolveEvent delivers a webhook-reported event to whatever is
// blocked in AwaitEvent for its call id, if anything; called from the
// inbound webhook handler.
func (c *Client) ResolveEvent(ev CallEvent) {
	c.mu.Lock()
	ch, ok := c.pending[ev.CallID]
	c.mu.Unlock()

	if !ok {
		return
	}
	select {
	case ch <- ev:
	default:
		logger.WithField("callId", ev.CallID).Warn("dropped telephony event, no receiver waiting")
	}
}
