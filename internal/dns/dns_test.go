package dns

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestLookupLiteral(t *testing.T) {
	ip, err := (&Resolver{}).Lookup(context.Background(), "10.0.0.1")
	if err != nil || ip != "10.0.0.1" {
		t.Fatalf("Lookup=%q err=%v", ip, err)
	}
}

func TestLookupPrefersIPv4FromSystem(t *testing.T) {
	r := &Resolver{
		system: func(context.Context, string) ([]string, error) {
			return []string{"2001:db8::1", "192.0.2.7"}, nil
		},
	}
	if ip, err := r.Lookup(context.Background(), "relay.example"); err != nil || ip != "192.0.2.7" {
		t.Fatalf("Lookup=%q err=%v", ip, err)
	}
}

func TestLookupFallsBackToRace(t *testing.T) {
	r := &Resolver{
		Servers: []string{"a", "b", "c"},
		system: func(context.Context, string) ([]string, error) {
			return nil, errors.New("no such host")
		},
		remote: func(ctx context.Context, _, server string) ([]string, error) {
			if server == "b" {
				return []string{"198.51.100.1"}, nil
			}
			return nil, errors.New("refused")
		},
	}
	if ip, err := r.Lookup(context.Background(), "relay.example"); err != nil || ip != "198.51.100.1" {
		t.Fatalf("Lookup=%q err=%v", ip, err)
	}
}

func TestLookupAllFail(t *testing.T) {
	r := &Resolver{
		Servers:     []string{"a", "b"},
		RaceTimeout: time.Second,
		system: func(context.Context, string) ([]string, error) {
			return nil, errors.New("no such host")
		},
		remote: func(context.Context, string, string) ([]string, error) {
			return nil, errors.New("refused")
		},
	}
	if _, err := r.Lookup(context.Background(), "relay.example"); err == nil {
		t.Fatalf("Lookup succeeded")
	}
}
