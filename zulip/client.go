// Package zulip contains the minimal Zulip REST client the bot needs: event
// queue registration and long-polling, message lookup, replies, and upload
// retrieval. Every call authenticates with the bot's email and API key.
package zulip

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// DefaultPollTimeout bounds one long-poll request. Zulip sends a heartbeat
// well before this elapses on a healthy queue.
const DefaultPollTimeout = 90 * time.Second

// Client talks to one Zulip realm.
type Client struct {
	BaseURL     string // realm URL without trailing slash, e.g. https://example.zulipchat.com
	Email       string
	APIKey      string
	HTTPClient  *http.Client
	PollTimeout time.Duration
	// Limiter throttles outbound requests; nil means unlimited.
	Limiter *rate.Limiter
}

func (c *Client) http() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return http.DefaultClient
}

func (c *Client) pollTimeout() time.Duration {
	if c.PollTimeout > 0 {
		return c.PollTimeout
	}
	return DefaultPollTimeout
}

// envelope is the common part of every Zulip API response.
type envelope struct {
	Result string `json:"result"`
	Msg    string `json:"msg"`
	Code   string `json:"code"`
}

func (c *Client) newRequest(ctx context.Context, method, path string, params url.Values) (*http.Request, error) {
	u := c.BaseURL + "/api/v1" + path
	var body io.Reader
	if method == http.MethodGet {
		if len(params) > 0 {
			u += "?" + params.Encode()
		}
	} else {
		body = strings.NewReader(params.Encode())
	}
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, err
	}
	if method != http.MethodGet {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	req.SetBasicAuth(c.Email, c.APIKey)
	return req, nil
}

func (c *Client) wait(ctx context.Context) error {
	if c.Limiter == nil {
		return nil
	}
	return c.Limiter.Wait(ctx)
}

// call performs one API request and decodes a successful response into out.
func (c *Client) call(ctx context.Context, method, path string, params url.Values, out any) error {
	if err := c.wait(ctx); err != nil {
		return err
	}
	req, err := c.newRequest(ctx, method, path, params)
	if err != nil {
		return err
	}
	resp, err := c.http().Do(req)
	if err != nil {
		return err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read %s response: %w", path, err)
	}
	if resp.StatusCode == http.StatusUnauthorized {
		return fmt.Errorf("%s: %w", path, ErrUnauthorized)
	}
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		if resp.StatusCode != http.StatusOK {
			return &APIError{Status: resp.StatusCode, Msg: strings.TrimSpace(string(raw))}
		}
		return fmt.Errorf("%w: %s: %v", ErrMalformedResponse, path, err)
	}
	if env.Result != "success" {
		return &APIError{Status: resp.StatusCode, Code: env.Code, Msg: env.Msg}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrMalformedResponse, path, err)
	}
	return nil
}
