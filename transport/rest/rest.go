// Package rest is a minimal net/http implementation of swrcache.Transport.
// It normalizes every failure into *swrcache.APIError: HTTP error statuses
// carry the status code and any server-provided message/code; transport
// failures (no response at all) carry status 0.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/unkn0wn-root/swrcache"
)

const maxErrorBody = 64 << 10 // error payloads past this are truncated, not trusted

type Config struct {
	// BaseURL is prepended to every path, e.g. "https://dash.example.com/api".
	BaseURL string
	// HTTPClient defaults to a client with a 30s timeout.
	HTTPClient *http.Client
	// Authorize, if set, is called on every outgoing request
	// (typically to attach a bearer token).
	Authorize func(*http.Request)
}

type Client struct {
	base      string
	hc        *http.Client
	authorize func(*http.Request)
}

var _ swrcache.Transport = (*Client)(nil)

func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("rest: base url is required")
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		base:      strings.TrimRight(cfg.BaseURL, "/"),
		hc:        hc,
		authorize: cfg.Authorize,
	}, nil
}

func (c *Client) Fetch(ctx context.Context, path string, params map[string]string) ([]byte, error) {
	u := c.base + path
	if len(params) > 0 {
		q := url.Values{}
		for k, v := range params {
			q.Set(k, v)
		}
		u += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, &swrcache.APIError{Message: err.Error()}
	}
	return c.do(req)
}

func (c *Client) Write(ctx context.Context, path string, body any) ([]byte, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, &swrcache.APIError{Message: "encode request body: " + err.Error()}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPatch, c.base+path, bytes.NewReader(payload))
	if err != nil {
		return nil, &swrcache.APIError{Message: err.Error()}
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req)
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	if c.authorize != nil {
		c.authorize(req)
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		// no response at all
		return nil, &swrcache.APIError{Message: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		b, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, &swrcache.APIError{Message: "read response: " + err.Error()}
		}
		return b, nil
	}

	ae := &swrcache.APIError{Status: resp.StatusCode, Message: resp.Status}
	var fail struct {
		Message string `json:"message"`
		Code    string `json:"code"`
	}
	b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if json.Unmarshal(b, &fail) == nil {
		if fail.Message != "" {
			ae.Message = fail.Message
		}
		ae.Code = fail.Code
	}
	return nil, ae
}
