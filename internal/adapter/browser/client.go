// Package browser owns the authenticated ERP browser sessions: an HTTP
// client for the bot-runner sidecar (the headless-browser service that
// drives Archibald) and a pool leasing one session per agent.
package browser

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	backoff "github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/H4tholdir/archibaldblackant-sub012/internal/adapter/observability"
	"github.com/H4tholdir/archibaldblackant-sub012/internal/domain"
)

var (
	// ErrRunnerUnavailable is returned without touching the network while
	// the breaker is open.
	ErrRunnerUnavailable = errors.New("bot runner unavailable")
	// ErrSessionExpired marks calls against a session the runner no longer
	// holds (HTTP 410). Callers discard the session and log in again.
	ErrSessionExpired = errors.New("browser session expired")
)

// maxResponseBytes caps runner response reads; PDFs stay well under this.
const maxResponseBytes = 32 << 20

// ClientConfig tunes the bot-runner HTTP client.
type ClientConfig struct {
	BaseURL            string
	RequestTimeout     time.Duration // per attempt, default 30s
	RetryMaxElapsed    time.Duration // total retry budget, default 20s
	BreakerMaxFailures int
	BreakerCooldown    time.Duration
}

// Client talks to the bot-runner sidecar. Transient failures (network, 5xx,
// 429) are retried with exponential backoff; 4xx are permanent; consecutive
// failed calls open a circuit breaker so jobs fail fast while the sidecar is
// down.
type Client struct {
	baseURL         string
	hc              *http.Client
	breaker         *Breaker
	retryMaxElapsed time.Duration
}

// NewClient constructs a Client with sensible timeouts and an otel-traced
// transport.
func NewClient(cfg ClientConfig) *Client {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	maxElapsed := cfg.RetryMaxElapsed
	if maxElapsed <= 0 {
		maxElapsed = 20 * time.Second
	}
	return &Client{
		baseURL:         strings.TrimRight(cfg.BaseURL, "/"),
		hc:              &http.Client{Timeout: timeout, Transport: otelhttp.NewTransport(http.DefaultTransport)},
		breaker:         NewBreaker(cfg.BreakerMaxFailures, cfg.BreakerCooldown),
		retryMaxElapsed: maxElapsed,
	}
}

type openSessionRequest struct {
	UserID string `json:"user_id"`
}

type openSessionResponse struct {
	SessionID string `json:"session_id"`
}

type actionRequest struct {
	Action string `json:"action"`
	Params any    `json:"params,omitempty"`
}

type actionResponse struct {
	Result json.RawMessage `json:"result"`
}

func snippet(b []byte) string {
	if len(b) > 512 {
		b = b[:512]
	}
	return string(b)
}

// attempt classifies one HTTP exchange for the backoff loop: 410 means the
// session is gone (permanent, typed), other 4xx are permanent, everything
// else is retryable.
func (c *Client) attempt(ctx domain.Context, method, path string, payload []byte, out any) error {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return backoff.Permanent(err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return err
	}
	switch {
	case resp.StatusCode == http.StatusGone:
		return backoff.Permanent(fmt.Errorf("%w: %s", ErrSessionExpired, snippet(respBody)))
	case resp.StatusCode == http.StatusTooManyRequests:
		slog.Warn("bot runner rate limited", slog.String("path", path))
		return fmt.Errorf("runner status %d", resp.StatusCode)
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return backoff.Permanent(fmt.Errorf("runner status %d: %s", resp.StatusCode, snippet(respBody)))
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		slog.Warn("bot runner non-2xx",
			slog.String("path", path),
			slog.Int("status", resp.StatusCode),
			slog.String("body", snippet(respBody)))
		return fmt.Errorf("runner status %d", resp.StatusCode)
	}
	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return backoff.Permanent(fmt.Errorf("decode response: %w", err))
		}
	}
	return nil
}

func (c *Client) retryPolicy(ctx domain.Context) backoff.BackOff {
	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = 250 * time.Millisecond
	expo.MaxInterval = 2 * time.Second
	expo.MaxElapsedTime = c.retryMaxElapsed
	return backoff.WithContext(expo, ctx)
}

func (c *Client) call(ctx domain.Context, method, path string, reqBody, out any) error {
	if !c.breaker.Allow() {
		return ErrRunnerUnavailable
	}
	var payload []byte
	if reqBody != nil {
		b, err := json.Marshal(reqBody)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		payload = b
	}
	err := backoff.Retry(func() error {
		return c.attempt(ctx, method, path, payload, out)
	}, c.retryPolicy(ctx))
	if err != nil {
		c.breaker.RecordFailure()
		return err
	}
	c.breaker.RecordSuccess()
	return nil
}

// Ping reports whether the runner answers its health endpoint. Single
// attempt; readiness probes must not trigger retries.
func (c *Client) Ping(ctx domain.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/healthz", nil)
	if err != nil {
		return fmt.Errorf("op=browser.ping: %w", err)
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		return fmt.Errorf("op=browser.ping: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("op=browser.ping: status %d", resp.StatusCode)
	}
	return nil
}

// OpenSession logs the agent into the ERP and returns the session id.
func (c *Client) OpenSession(ctx domain.Context, userID string) (string, error) {
	var out openSessionResponse
	if err := c.call(ctx, http.MethodPost, "/v1/sessions", openSessionRequest{UserID: userID}, &out); err != nil {
		observability.BrowserLogin("failure")
		return "", fmt.Errorf("op=browser.open_session: %w", err)
	}
	if out.SessionID == "" {
		observability.BrowserLogin("failure")
		return "", fmt.Errorf("op=browser.open_session: runner returned empty session id")
	}
	observability.BrowserLogin("success")
	return out.SessionID, nil
}

// CloseSession tears the session down. A session the runner already dropped
// is not an error.
func (c *Client) CloseSession(ctx domain.Context, sessionID string) error {
	err := c.call(ctx, http.MethodDelete, "/v1/sessions/"+url.PathEscape(sessionID), nil, nil)
	if errors.Is(err, ErrSessionExpired) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("op=browser.close_session: %w", err)
	}
	return nil
}

// KeepAlive pings the session so the ERP authentication stays warm.
func (c *Client) KeepAlive(ctx domain.Context, sessionID string) error {
	if err := c.call(ctx, http.MethodPost, "/v1/sessions/"+url.PathEscape(sessionID)+"/keepalive", nil, nil); err != nil {
		return fmt.Errorf("op=browser.keepalive: %w", err)
	}
	return nil
}

// Do executes one named browser action within the session and returns the
// raw result document.
func (c *Client) Do(ctx domain.Context, sessionID, action string, params any) (json.RawMessage, error) {
	var out actionResponse
	err := c.call(ctx, http.MethodPost, "/v1/sessions/"+url.PathEscape(sessionID)+"/actions", actionRequest{Action: action, Params: params}, &out)
	if err != nil {
		return nil, fmt.Errorf("op=browser.do: action %s: %w", action, err)
	}
	return out.Result, nil
}

// FetchPDF downloads a rendered document (docType "ddt" or "invoice") and
// returns the raw bytes. Callers verify the content type.
func (c *Client) FetchPDF(ctx domain.Context, sessionID, docType, docNumber string) ([]byte, error) {
	if !c.breaker.Allow() {
		return nil, fmt.Errorf("op=browser.fetch_pdf: %w", ErrRunnerUnavailable)
	}
	path := "/v1/sessions/" + url.PathEscape(sessionID) + "/documents/" + url.PathEscape(docType) + "/" + url.PathEscape(docNumber)
	var pdf []byte
	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		resp, err := c.hc.Do(req)
		if err != nil {
			return err
		}
		defer func() { _ = resp.Body.Close() }()
		body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
		if err != nil {
			return err
		}
		switch {
		case resp.StatusCode == http.StatusGone:
			return backoff.Permanent(fmt.Errorf("%w: %s", ErrSessionExpired, snippet(body)))
		case resp.StatusCode >= 400 && resp.StatusCode < 500:
			return backoff.Permanent(fmt.Errorf("runner status %d: %s", resp.StatusCode, snippet(body)))
		case resp.StatusCode < 200 || resp.StatusCode >= 300:
			return fmt.Errorf("runner status %d", resp.StatusCode)
		}
		pdf = body
		return nil
	}
	if err := backoff.Retry(op, c.retryPolicy(ctx)); err != nil {
		c.breaker.RecordFailure()
		return nil, fmt.Errorf("op=browser.fetch_pdf: %w", err)
	}
	c.breaker.RecordSuccess()
	return pdf, nil
}
