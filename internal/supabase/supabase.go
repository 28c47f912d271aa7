// Package supabase adapts the supabase-go SDK to the interfaces the rest of
// the server depends on.
package supabase

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	supa "github.com/supabase-community/supabase-go"
)

var ErrInvalidURL = errors.New("invalid supabase url")

// Factory builds SDK clients for one project. Clients are cheap and carry
// the bearer token they were created with, so one is built per token.
type Factory struct {
	url     string
	anonKey string
}

func NewFactory(projectURL, anonKey string) *Factory {
	return &Factory{url: strings.TrimRight(projectURL, "/"), anonKey: anonKey}
}

// WithToken returns a client whose requests are authorized as token. An
// empty token authorizes as the anon key.
func (f *Factory) WithToken(token string) (*supa.Client, error) {
	opts := &supa.ClientOptions{Headers: map[string]string{}}
	if token != "" {
		opts.Headers["Authorization"] = "Bearer " + token
	}
	client, err := supa.NewClient(f.url, f.anonKey, opts)
	if err != nil {
		return nil, fmt.Errorf("create supabase client: %w", err)
	}
	return client, nil
}

// RealtimeURL is the websocket endpoint of the project's realtime service.
func RealtimeURL(projectURL, anonKey string) (string, error) {
	u, err := url.Parse(strings.TrimRight(projectURL, "/"))
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidURL, err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	default:
		return "", fmt.Errorf("%w: scheme %q", ErrInvalidURL, u.Scheme)
	}
	u.Path += "/realtime/v1/websocket"
	q := url.Values{}
	q.Set("apikey", anonKey)
	q.Set("vsn", "1.0.0")
	u.RawQuery = q.Encode()
	return u.String(), nil
}
