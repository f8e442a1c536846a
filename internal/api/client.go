// Package api is the HTTP client for the remote aggregation API. It
// implements the sync engine's Remote interface: bearer-authenticated JSON
// requests, envelope decoding that keeps each record's raw JSON as its
// payload, status-code to error mapping, and a 3-attempt exponential-backoff
// [Retry] helper for transient failures.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

var (
	// ErrNotFound is returned for 404 responses.
	ErrNotFound = errors.New("remote resource not found")
	// ErrUnauthorized is returned for 401 responses.
	ErrUnauthorized = errors.New("unauthorized: check api_token")
)

// StatusError is returned for any other non-2xx response.
type StatusError struct {
	Code   int
	Method string
	Path   string
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: HTTP %d: %s", e.Method, e.Path, e.Code, e.Body)
}

// transportError marks a request that failed before a response arrived.
type transportError struct{ err error }

func (e *transportError) Error() string { return e.err.Error() }
func (e *transportError) Unwrap() error { return e.err }

// Client talks to the aggregation API.
type Client struct {
	baseURL     string
	token       string
	hc          *http.Client
	maxAttempts int
	log         *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.hc = hc }
}

// WithMaxAttempts sets how often a transient failure is tried.
func WithMaxAttempts(n int) Option {
	return func(c *Client) { c.maxAttempts = n }
}

// New creates a Client for the API at baseURL. Each request is bounded by
// timeout.
func New(baseURL, token string, timeout time.Duration, logger *slog.Logger, opts ...Option) *Client {
	c := &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		token:       token,
		hc:          &http.Client{Timeout: timeout},
		maxAttempts: defaultMaxAttempts,
		log:         logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// envelope is the wrapper around every response body.
type envelope struct {
	Data   json.RawMessage `json:"data"`
	Paging *struct {
		Cursors struct {
			Before string `json:"before"`
			After  string `json:"after"`
		} `json:"cursors"`
		Total int `json:"total"`
	} `json:"paging,omitempty"`
}

// do sends one request, retrying transient failures, and decodes the
// response envelope. body, when non-nil, is sent as JSON.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body any) (*envelope, error) {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return nil, fmt.Errorf("encoding %s %s body: %w", method, path, err)
		}
	}

	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var env *envelope
	err := Retry(ctx, c.maxAttempts, func() error {
		var err error
		env, err = c.roundTrip(ctx, method, endpoint, path, payload)
		if err != nil && IsTransient(err) {
			c.log.Warn("API request failed, retrying", "method", method, "path", path, "error", err)
		}
		return err
	})
	return env, err
}

func (c *Client) roundTrip(ctx context.Context, method, endpoint, path string, payload []byte) (*envelope, error) {
	var rd io.Reader
	if payload != nil {
		rd = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, rd)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &transportError{fmt.Errorf("%s %s: %w", method, path, err)}
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &transportError{fmt.Errorf("reading %s %s: %w", method, path, err)}
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%s %s: %w", method, path, ErrNotFound)
	case resp.StatusCode == http.StatusUnauthorized:
		return nil, fmt.Errorf("%s %s: %w", method, path, ErrUnauthorized)
	case resp.StatusCode >= 300:
		return nil, &StatusError{Code: resp.StatusCode, Method: method, Path: path, Body: strings.TrimSpace(string(raw))}
	}

	env := &envelope{}
	if len(bytes.TrimSpace(raw)) == 0 {
		return env, nil
	}
	if err := json.Unmarshal(raw, env); err != nil {
		return nil, fmt.Errorf("decoding %s %s: %w", method, path, err)
	}
	return env, nil
}

// decodeOne decodes the envelope data as a single record, handing its raw
// JSON to attach.
func decodeOne[T any](env *envelope, attach func(*T, json.RawMessage)) (*T, error) {
	var v T
	if len(env.Data) == 0 || string(env.Data) == "null" {
		return nil, fmt.Errorf("empty response data")
	}
	if err := json.Unmarshal(env.Data, &v); err != nil {
		return nil, fmt.Errorf("decoding record: %w", err)
	}
	attach(&v, env.Data)
	return &v, nil
}

// decodeList decodes the envelope data as an array of records.
func decodeList[T any](env *envelope, attach func(*T, json.RawMessage)) ([]T, error) {
	if len(env.Data) == 0 || string(env.Data) == "null" {
		return nil, nil
	}
	var raws []json.RawMessage
	if err := json.Unmarshal(env.Data, &raws); err != nil {
		return nil, fmt.Errorf("decoding record list: %w", err)
	}
	out := make([]T, len(raws))
	for i, raw := range raws {
		if err := json.Unmarshal(raw, &out[i]); err != nil {
			return nil, fmt.Errorf("decoding record %d: %w", i, err)
		}
		attach(&out[i], raw)
	}
	return out, nil
}

// noPayload is the attach function for records without a payload column.
func noPayload[T any](*T, json.RawMessage) {}
