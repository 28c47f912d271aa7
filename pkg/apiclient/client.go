// Package apiclient talks to the eventhub HTTP API from command line tools.
package apiclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"eventhub/pkg/event"
	"eventhub/pkg/tokencache"
)

const (
	defaultTimeout = 15 * time.Second
	maxBodyBytes   = 1 << 20
	tokenSkew      = 10 * time.Second
)

type Client struct {
	baseURL string
	http    *http.Client
	logger  *slog.Logger
	now     func() time.Time

	mu      sync.Mutex
	visitor tokencache.CachedToken
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid api base url %q", baseURL)
	}
	c := &Client{
		baseURL: strings.TrimRight(u.String(), "/"),
		http:    &http.Client{Timeout: defaultTimeout},
		logger:  slog.Default(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

type tokenResponse struct {
	Token     string `json:"token"`
	ExpiresAt int64  `json:"expires_at"`
}

// VisitorToken returns the shared visitor token, fetching a new one from
// the API once the held token is within a few seconds of expiry.
func (c *Client) VisitorToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.visitor.Fresh(c.now(), tokenSkew) {
		return c.visitor.Value, nil
	}

	var resp tokenResponse
	if err := c.get(ctx, "/api/token/visitor", &resp); err != nil {
		return "", err
	}
	if resp.Token == "" {
		return "", fmt.Errorf("visitor token response carried no token")
	}
	c.visitor = tokencache.CachedToken{Value: resp.Token, ExpiresAt: resp.ExpiresAt}
	c.logger.Debug("visitor token fetched", "expires_at", resp.ExpiresAt)
	return resp.Token, nil
}

func (c *Client) Attendees(ctx context.Context, eventID string) ([]event.Attendee, error) {
	if err := event.ValidateID(eventID); err != nil {
		return nil, err
	}
	out := []event.Attendee{}
	if err := c.get(ctx, "/api/events/"+eventID+"/attendees", &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	target := c.baseURL + path
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	c.logger.Debug("api request", "url", target, "status", resp.Status)

	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if resp.StatusCode >= 400 {
		c.logger.Warn("api request failed", "url", target, "status", resp.Status, "response", string(data))
		return &HTTPStatusError{StatusCode: resp.StatusCode, Status: resp.Status}
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}
