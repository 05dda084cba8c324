// Package kite is a minimal client for the broker's REST API: session
// token exchange, account probes, and the instrument dump download.
package kite

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	defaultBaseURL = "https://api.kite.trade"
	kiteVersion    = "3"
	userAgent      = "kitefeed/0.1"

	requestTimeout = 30 * time.Second

	// The instrument dump is a few MB of CSV; cap reads well above that.
	maxBodySize = 64 << 20
)

// Client talks to the REST API. AccessToken may be empty for the endpoints
// that run before a session exists, such as the token exchange.
type Client struct {
	BaseURL string
	HTTP    *http.Client

	apiKey      string
	accessToken string
}

func NewClient(apiKey, accessToken string) *Client {
	return &Client{
		BaseURL:     defaultBaseURL,
		HTTP:        &http.Client{Timeout: requestTimeout},
		apiKey:      apiKey,
		accessToken: accessToken,
	}
}

// Profile fetches the authenticated user's profile. Useful as a credential
// probe: a TokenException here means the access token is dead.
func (c *Client) Profile(ctx context.Context) (UserProfile, error) {
	var out UserProfile
	if err := c.get(ctx, "/user/profile", &out); err != nil {
		return UserProfile{}, err
	}
	return out, nil
}

// Holdings fetches the portfolio holdings.
func (c *Client) Holdings(ctx context.Context) ([]Holding, error) {
	var out []Holding
	if err := c.get(ctx, "/portfolio/holdings", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// InstrumentsCSV downloads the full instrument dump.
func (c *Client) InstrumentsCSV(ctx context.Context) ([]byte, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/instruments", nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch instruments: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("read instruments: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(body))}
	}
	return body, nil
}

// ExchangeRequestToken completes the login flow: it trades the request
// token from the redirect callback for an access token, authenticated by
// checksum rather than a session header.
func (c *Client) ExchangeRequestToken(ctx context.Context, apiSecret, requestToken string) (SessionToken, error) {
	form := url.Values{}
	form.Set("api_key", c.apiKey)
	form.Set("request_token", requestToken)
	form.Set("checksum", checksum(c.apiKey, requestToken, apiSecret))

	var out SessionToken
	if err := c.postForm(ctx, "/session/token", form, &out); err != nil {
		return SessionToken{}, err
	}
	return out, nil
}

func (c *Client) get(ctx context.Context, path string, out interface{}) error {
	req, err := c.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) postForm(ctx context.Context, path string, form url.Values, out interface{}) error {
	req, err := c.newRequest(ctx, http.MethodPost, path, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return c.do(req, out)
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("X-Kite-Version", kiteVersion)
	req.Header.Set("User-Agent", userAgent)
	if c.accessToken != "" {
		req.Header.Set("Authorization", "token "+c.apiKey+":"+c.accessToken)
	}
	return req, nil
}

// do runs the request and unwraps the response envelope into out.
func (c *Client) do(req *http.Request, out interface{}) error {
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return &APIError{
			StatusCode: resp.StatusCode,
			Message:    strings.TrimSpace(string(body)),
		}
	}

	if env.Status != "success" {
		return &APIError{
			StatusCode: resp.StatusCode,
			ErrorType:  env.ErrorType,
			Message:    env.Message,
		}
	}
	if out == nil {
		return nil
	}
	if len(env.Data) == 0 {
		return &APIError{StatusCode: resp.StatusCode, Message: "missing data in response"}
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("decode response data: %w", err)
	}
	return nil
}
