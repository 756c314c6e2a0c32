package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
)

// Default participant configuration values.
const (
	DefaultServer = "ws://localhost:8080/ws"
	DefaultSTUN   = "stun:stun.l.google.com:19302"
)

// Client holds participant-side configuration.
type Client struct {
	// ServerURL is the relay's WebSocket endpoint.
	ServerURL string

	// UserID is sent in the identity header the relay trusts.
	UserID string
	Name   string

	// ICE servers for the peer connection
	STUNServer string
	TURNServer string
	TURNUser   string
	TURNPass   string

	// ForceRelay restricts ICE to TURN candidates.
	ForceRelay bool
}

// Options carries CLI flag overrides.
type Options struct {
	ServerURL  string
	UserID     string
	Name       string
	STUNServer string
	TURNServer string
	TURNUser   string
	TURNPass   string
	ForceRelay bool
}

// first returns the first non-empty value.
func first(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// LoadClient reads configuration with the following priority:
// 1. CLI flags (passed via Options) - highest priority
// 2. Environment variables
// 3. Hardcoded defaults - lowest priority
func LoadClient(opts Options) (*Client, error) {
	c := &Client{
		ServerURL:  first(opts.ServerURL, os.Getenv("LIVEROOM_SERVER"), DefaultServer),
		UserID:     first(opts.UserID, os.Getenv("LIVEROOM_USER_ID")),
		STUNServer: first(opts.STUNServer, os.Getenv("STUN_SERVER"), DefaultSTUN),
		TURNServer: first(opts.TURNServer, os.Getenv("TURN_SERVER")),
		TURNUser:   first(opts.TURNUser, os.Getenv("TURN_USERNAME")),
		TURNPass:   first(opts.TURNPass, os.Getenv("TURN_PASSWORD")),
		ForceRelay: opts.ForceRelay || os.Getenv("LIVEROOM_FORCE_RELAY") == "1",
	}
	c.Name = first(opts.Name, os.Getenv("LIVEROOM_NAME"), c.UserID)

	if c.UserID == "" {
		return nil, fmt.Errorf("user id is required (--user or LIVEROOM_USER_ID)")
	}
	u, err := url.Parse(c.ServerURL)
	if err != nil {
		return nil, fmt.Errorf("invalid server url %q: %w", c.ServerURL, err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, fmt.Errorf("server url %q must use ws or wss", c.ServerURL)
	}
	return c, nil
}

// STUNServers returns STUN server URLs.
func (c *Client) STUNServers() []string {
	if c.STUNServer == "" {
		return nil
	}
	return []string{c.STUNServer}
}

// TURNServers returns TURN server URLs if configured. A bare host expands
// into the usual udp, tcp and tls variants.
func (c *Client) TURNServers() []string {
	if c.TURNServer == "" {
		return nil
	}
	if strings.Contains(strings.TrimPrefix(c.TURNServer, "turn:"), ":") {
		return []string{c.TURNServer}
	}
	host := strings.TrimPrefix(c.TURNServer, "turn:")
	return []string{
		fmt.Sprintf("turn:%s:3478?transport=udp", host),
		fmt.Sprintf("turn:%s:3478?transport=tcp", host),
		fmt.Sprintf("turns:%s:5349?transport=tcp", host),
	}
}

// TURNCredentials returns TURN username and password.
func (c *Client) TURNCredentials() (string, string) {
	return c.TURNUser, c.TURNPass
}

// HTTPBase returns the relay's HTTP origin derived from the WebSocket URL.
func (c *Client) HTTPBase() string {
	u, err := url.Parse(c.ServerURL)
	if err != nil {
		return ""
	}
	if u.Scheme == "wss" {
		u.Scheme = "https"
	} else {
		u.Scheme = "http"
	}
	u.Path, u.RawQuery = "", ""
	return u.String()
}
