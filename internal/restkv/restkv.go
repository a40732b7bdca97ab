// Package restkv is a minimal client for the Upstash Redis REST API: plain
// HTTPS calls with a bearer token, one path segment per command. It exists
// because the pack's Redis client (github.com/redis/go-redis/v9) speaks the
// RESP wire protocol over TCP, not this REST dialect -- there is no
// ecosystem client for the REST flavor in the retrieved examples, so this
// is a deliberately small hand-rolled surface, not a stand-in for one.
package restkv

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Client talks to one Upstash REST endpoint.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// New returns a Client, or nil if baseURL or token is empty.
func New(baseURL, token string) *Client {
	if baseURL == "" || token == "" {
		return nil
	}
	return &Client{
		baseURL:    baseURL,
		token:      token,
		httpClient: &http.Client{Timeout: 5 * time.Second},
	}
}

type commandResponse struct {
	Result json.RawMessage `json:"result"`
	Error  string          `json:"error"`
}

func (c *Client) do(segments ...string) (json.RawMessage, error) {
	encoded := make([]string, len(segments))
	for i, s := range segments {
		encoded[i] = url.PathEscape(s)
	}
	target := c.baseURL + "/" + strings.Join(encoded, "/")

	req, err := http.NewRequest(http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("restkv: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("restkv: request failed: %w", err)
	}
	defer resp.Body.Close()

	var parsed commandResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("restkv: decode response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("restkv: status %d: %s", resp.StatusCode, parsed.Error)
	}
	if parsed.Error != "" {
		return nil, fmt.Errorf("restkv: %s", parsed.Error)
	}
	return parsed.Result, nil
}

// Get returns the string value for key, and false if the key is absent.
func (c *Client) Get(key string) (string, bool, error) {
	raw, err := c.do("get", key)
	if err != nil {
		return "", false, err
	}
	var v *string
	if err := json.Unmarshal(raw, &v); err != nil {
		return "", false, fmt.Errorf("restkv: unmarshal get result: %w", err)
	}
	if v == nil {
		return "", false, nil
	}
	return *v, true, nil
}

// Set writes key=value with no expiry.
func (c *Client) Set(key, value string) error {
	_, err := c.do("set", key, value)
	return err
}

// SetEX writes key=value expiring after ttl.
func (c *Client) SetEX(key, value string, ttl time.Duration) error {
	seconds := int64(ttl.Seconds())
	if seconds < 1 {
		seconds = 1
	}
	_, err := c.do("setex", key, strconv.FormatInt(seconds, 10), value)
	return err
}

// Del removes key.
func (c *Client) Del(key string) error {
	_, err := c.do("del", key)
	return err
}
