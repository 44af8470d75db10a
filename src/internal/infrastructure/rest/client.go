// Package rest performs authenticated JSON exchanges and classifies their failures.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/kodflow/ddi-simulator/src/internal/infrastructure/security"
	"github.com/kodflow/ddi-simulator/src/internal/version"
)

// maxErrorBody caps how much of an error response is read for its message.
const maxErrorBody = 64 * 1024

// HTTPDoer describes the HTTP client used for every exchange.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client sends requests relative to a base URL with one authenticator attached.
// It never retries.
type Client struct {
	baseURL string
	doer    HTTPDoer
	auth    security.Authenticator
	timeout time.Duration
	log     *logrus.Entry
}

// NewClient creates a client. A zero timeout disables the per-request deadline.
func NewClient(baseURL string, doer HTTPDoer, auth security.Authenticator, timeout time.Duration, log *logrus.Entry) *Client {
	if doer == nil {
		doer = http.DefaultClient
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		doer:    doer,
		auth:    auth,
		timeout: timeout,
		log:     log,
	}
}

// BaseURL returns the normalized base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Do sends body (JSON-encoded when non-nil) and decodes the response into out when non-nil.
func (c *Client) Do(ctx context.Context, op, method, path string, query url.Values, body, out any) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	resp, err := c.send(ctx, op, method, path, query, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if out == nil || resp.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
		c.log.WithFields(logrus.Fields{"op": op, "error": err}).Error("Failed to decode response")
		return fmt.Errorf("%s: decode response: %w", op, err)
	}
	return nil
}

// Stream sends a GET and returns the raw response body. The caller closes it.
func (c *Client) Stream(ctx context.Context, op, path string) (io.ReadCloser, error) {
	ctx, cancel := c.withTimeout(ctx)

	resp, err := c.send(ctx, op, http.MethodGet, path, nil, nil)
	if err != nil {
		cancel()
		return nil, err
	}
	return &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}, nil
}

func (c *Client) send(ctx context.Context, op, method, path string, query url.Values, body any) (*http.Response, error) {
	req, err := c.newRequest(ctx, method, path, query, body)
	if err != nil {
		reqErr := &RequestError{Op: op, Err: err}
		c.log.WithFields(logrus.Fields{"op": op, "error": err}).Error("Failed to build request")
		return nil, reqErr
	}

	resp, err := c.doer.Do(req)
	if err != nil {
		c.log.WithFields(logrus.Fields{"op": op, "url": req.URL.String(), "error": err}).Error("No response from server")
		return nil, &TransportError{Op: op, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		httpErr := &HTTPError{Op: op, StatusCode: resp.StatusCode, Message: readErrorMessage(resp.Body)}
		c.log.WithFields(logrus.Fields{
			"op":      op,
			"status":  resp.StatusCode,
			"message": httpErr.Message,
		}).Error("Server rejected request")
		return nil, httpErr
	}

	return resp, nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, query url.Values, body any) (*http.Request, error) {
	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/hal+json, application/json")
	req.Header.Set("User-Agent", version.UserAgent())
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.auth != nil {
		c.auth.Apply(req)
	}
	return req, nil
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.timeout)
}

// readErrorMessage extracts the server message from an error body.
func readErrorMessage(body io.Reader) string {
	raw, err := io.ReadAll(io.LimitReader(body, maxErrorBody))
	if err != nil || len(raw) == 0 {
		return ""
	}

	var info struct {
		Message   string `json:"message"`
		ErrorCode string `json:"errorCode"`
		Error     string `json:"error"`
	}
	if json.Unmarshal(raw, &info) == nil {
		switch {
		case info.Message != "":
			return info.Message
		case info.ErrorCode != "":
			return info.ErrorCode
		case info.Error != "":
			return info.Error
		}
	}
	return strings.TrimSpace(string(raw))
}

type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelOnClose) Close() error {
	defer c.cancel()
	return c.ReadCloser.Close()
}
