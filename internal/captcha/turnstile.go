// Package captcha verifies human-challenge tokens with Cloudflare Turnstile.
package captcha

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"
)

const defaultTimeout = 5 * time.Second

// ErrUnavailable wraps every failure to reach a verdict
var ErrUnavailable = errors.New("CAPTCHA verification service unavailable")

// Result is the verdict on one token
type Result struct {
	Success bool
	Reason  string
}

// Verifier checks a challenge token for the requesting IP
type Verifier interface {
	Verify(ctx context.Context, token, remoteIP string) (Result, error)
}

// Turnstile is a Verifier backed by the siteverify endpoint
type Turnstile struct {
	url    string
	secret string
	http   *http.Client
}

var _ Verifier = (*Turnstile)(nil)

type siteverifyRequest struct {
	Secret   string `json:"secret"`
	Response string `json:"response"`
	RemoteIP string `json:"remoteip,omitempty"`
}

type siteverifyResponse struct {
	Success    bool     `json:"success"`
	ErrorCodes []string `json:"error-codes"`
}

// NewTurnstile creates a client for the siteverify endpoint at url
func NewTurnstile(url, secret string, timeout time.Duration) *Turnstile {
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   timeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        20,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: timeout,
	}

	return &Turnstile{
		url:    url,
		secret: secret,
		http:   &http.Client{Timeout: timeout, Transport: transport},
	}
}

// Verify forwards token and remoteIP. A rejected token is a Result with
// Success false; network errors and non-2xx replies return ErrUnavailable.
func (t *Turnstile) Verify(ctx context.Context, token, remoteIP string) (Result, error) {
	payload, err := json.Marshal(siteverifyRequest{Secret: t.secret, Response: token, RemoteIP: remoteIP})
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url, bytes.NewReader(payload))
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.http.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return Result{}, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}

	var body siteverifyResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&body); err != nil {
		return Result{}, fmt.Errorf("%w: decode response: %v", ErrUnavailable, err)
	}

	if !body.Success {
		reason := strings.Join(body.ErrorCodes, ", ")
		if reason == "" {
			reason = "CAPTCHA verification failed"
		}
		return Result{Reason: reason}, nil
	}
	return Result{Success: true}, nil
}
