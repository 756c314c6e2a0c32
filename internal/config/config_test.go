package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadServerDefaults(t *testing.T) {
	cfg, err := LoadServer(t.TempDir())
	if err != nil {
		t.Fatalf("LoadServer: %v", err)
	}
	if cfg.Addr != ":8080" || cfg.Session.Duration != 20*time.Minute || cfg.Room.GracePeriod != 2*time.Minute {
		t.Fatalf("defaults=%+v", cfg)
	}
	if cfg.Room.MaxPoints != 5000 || cfg.WebSocket.SendBuffer != 256 || cfg.Auth.UserHeader != "X-User-ID" {
		t.Fatalf("defaults=%+v", cfg)
	}
}

func TestLoadServerFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	yaml := "addr: \":9000\"\nsession:\n  duration: 5m\nroom:\n  ephemeral: true\n"
	if err := os.WriteFile(filepath.Join(dir, FileName), []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("LIVEROOM_ADDR", ":9100")

	cfg, err := LoadServer(dir)
	if err != nil {
		t.Fatalf("LoadServer: %v", err)
	}
	if cfg.Addr != ":9100" {
		t.Fatalf("Addr=%q, want env override", cfg.Addr)
	}
	if cfg.Session.Duration != 5*time.Minute {
		t.Fatalf("Duration=%v", cfg.Session.Duration)
	}
	if cfg.Room.Grace() != 0 {
		t.Fatalf("Grace=%v, want 0 for ephemeral rooms", cfg.Room.Grace())
	}
}

func TestLoadServerRejectsBadStore(t *testing.T) {
	t.Setenv("LIVEROOM_SESSION_STORE", "redis")
	if _, err := LoadServer(t.TempDir()); err == nil {
		t.Fatalf("LoadServer accepted store=redis")
	}
}

func TestLoadClientPriority(t *testing.T) {
	t.Setenv("LIVEROOM_SERVER", "wss://env.example/ws")
	t.Setenv("LIVEROOM_USER_ID", "env-user")

	cfg, err := LoadClient(Options{UserID: "flag-user"})
	if err != nil {
		t.Fatalf("LoadClient: %v", err)
	}
	if cfg.ServerURL != "wss://env.example/ws" || cfg.UserID != "flag-user" || cfg.Name != "flag-user" {
		t.Fatalf("cfg=%+v", cfg)
	}
	if cfg.HTTPBase() != "https://env.example" {
		t.Fatalf("HTTPBase=%q", cfg.HTTPBase())
	}
}

func TestLoadClientValidation(t *testing.T) {
	t.Setenv("LIVEROOM_USER_ID", "")
	if _, err := LoadClient(Options{}); err == nil {
		t.Fatalf("missing user id accepted")
	}
	if _, err := LoadClient(Options{UserID: "u", ServerURL: "http://x/ws"}); err == nil {
		t.Fatalf("http scheme accepted")
	}
}

func TestTURNServers(t *testing.T) {
	c := &Client{TURNServer: "turn.example"}
	if got := c.TURNServers(); len(got) != 3 || got[0] != "turn:turn.example:3478?transport=udp" {
		t.Fatalf("TURNServers=%v", got)
	}
	c.TURNServer = "turn:turn.example:3478"
	if got := c.TURNServers(); len(got) != 1 {
		t.Fatalf("TURNServers=%v", got)
	}
}
