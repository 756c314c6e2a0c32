// Package dns resolves the relay host, falling back to public resolvers
// when the system resolver fails (captive or broken local DNS).
package dns

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"
)

// publicDNS are raced when the system lookup fails.
var publicDNS = []string{
	"1.1.1.1",                // Cloudflare
	"1.0.0.1",                // Cloudflare
	"[2606:4700:4700::1111]", // Cloudflare
	"8.8.8.8",                // Google
	"8.8.4.4",                // Google
	"[2001:4860:4860::8888]", // Google
	"9.9.9.9",                // Quad9
	"149.112.112.112",        // Quad9
	"208.67.222.222",         // Cisco OpenDNS
}

var errNoAddress = errors.New("no IP addresses found")

// Resolver looks up hosts with a fallback.
type Resolver struct {
	// Servers overrides the fallback list, as bare IPs or [v6] literals.
	Servers      []string
	LocalTimeout time.Duration
	RaceTimeout  time.Duration

	system func(ctx context.Context, host string) ([]string, error)
	remote func(ctx context.Context, host, server string) ([]string, error)
}

// Default is the resolver used by Lookup.
var Default = &Resolver{}

// Lookup resolves host with the default resolver.
func Lookup(ctx context.Context, host string) (string, error) {
	return Default.Lookup(ctx, host)
}

// Lookup returns one address for host, preferring IPv4. IP literals are
// returned unchanged.
func (r *Resolver) Lookup(ctx context.Context, host string) (string, error) {
	if ip := net.ParseIP(host); ip != nil {
		return host, nil
	}

	localTimeout := r.LocalTimeout
	if localTimeout <= 0 {
		localTimeout = time.Second
	}
	lctx, cancel := context.WithTimeout(ctx, localTimeout)
	ips, err := r.systemLookup(lctx, host)
	cancel()
	if err == nil {
		if ip, err := pick(ips); err == nil {
			return ip, nil
		}
	}
	return r.race(ctx, host)
}

func (r *Resolver) systemLookup(ctx context.Context, host string) ([]string, error) {
	if r.system != nil {
		return r.system(ctx, host)
	}
	return (&net.Resolver{}).LookupHost(ctx, host)
}

func (r *Resolver) remoteLookup(ctx context.Context, host, server string) ([]string, error) {
	if r.remote != nil {
		return r.remote(ctx, host, server)
	}
	res := &net.Resolver{
		PreferGo: true,
		Dial: func(ctx context.Context, network, _ string) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, network, net.JoinHostPort(trimBrackets(server), "53"))
		},
	}
	return res.LookupHost(ctx, host)
}

// race queries every fallback server at once and takes the first answer.
func (r *Resolver) race(ctx context.Context, host string) (string, error) {
	servers := r.Servers
	if len(servers) == 0 {
		servers = publicDNS
	}
	raceTimeout := r.RaceTimeout
	if raceTimeout <= 0 {
		raceTimeout = 2 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, raceTimeout)
	defer cancel()

	type result struct {
		ip  string
		err error
	}
	results := make(chan result, len(servers))
	for _, server := range servers {
		go func(server string) {
			ips, err := r.remoteLookup(ctx, host, server)
			if err != nil {
				results <- result{err: err}
				return
			}
			ip, err := pick(ips)
			results <- result{ip: ip, err: err}
		}(server)
	}

	failures := 0
	for range servers {
		select {
		case res := <-results:
			if res.err == nil {
				return res.ip, nil
			}
			failures++
		case <-ctx.Done():
			return "", fmt.Errorf("resolve %s: public DNS race timed out", host)
		}
	}
	return "", fmt.Errorf("resolve %s: all %d public DNS servers failed", host, failures)
}

func pick(ips []string) (string, error) {
	if len(ips) == 0 {
		return "", errNoAddress
	}
	for _, ip := range ips {
		if parsed := net.ParseIP(ip); parsed != nil && parsed.To4() != nil {
			return ip, nil
		}
	}
	return ips[0], nil
}

func trimBrackets(s string) string {
	if len(s) > 1 && s[0] == '[' && s[len(s)-1] == ']' {
		return s[1 : len(s)-1]
	}
	return s
}
