// Package config loads server and participant configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/kkyr/fig"
)

// EnvPrefix prefixes every server environment variable, e.g.
// LIVEROOM_ADDR or LIVEROOM_SESSION_DURATION.
const EnvPrefix = "LIVEROOM"

// FileName is the server config file searched for in the config dirs.
const FileName = "liveroom.yaml"

type Server struct {
	Addr     string `fig:"addr" default:":8080"`
	LogLevel string `fig:"log_level" default:"info"`

	// AllowedOrigins restricts WebSocket upgrades. Empty allows any origin.
	AllowedOrigins []string `fig:"allowed_origins"`

	Auth      Auth      `fig:"auth"`
	Room      Room      `fig:"room"`
	Session   Session   `fig:"session"`
	WebSocket WebSocket `fig:"websocket"`
	Mongo     Mongo     `fig:"mongo"`
}

type Auth struct {
	// UserHeader carries the user id set by the authenticating proxy.
	UserHeader string `fig:"user_header" default:"X-User-ID"`
	// AllowAnonymous falls back to the userId query parameter. Development only.
	AllowAnonymous bool `fig:"allow_anonymous"`
}

type Room struct {
	GracePeriod time.Duration `fig:"grace_period" default:"2m"`
	// Ephemeral tears a room down as soon as its last participant leaves.
	// fig cannot tell an explicit zero grace_period from an unset one.
	Ephemeral     bool          `fig:"ephemeral"`
	SweepInterval time.Duration `fig:"sweep_interval" default:"1s"`
	MaxPoints     int           `fig:"max_points" default:"5000"`
	MaxStrokes    int           `fig:"max_strokes" default:"10000"`
	MaxChatLength int           `fig:"max_chat_length" default:"2000"`
	ChatHistory   int           `fig:"chat_history" default:"200"`
}

type Session struct {
	Duration time.Duration `fig:"duration" default:"20m"`
	// Store is "memory" or "mongo".
	Store string `fig:"store" default:"memory"`
	// RequireRecord makes the memory store reject unknown room ids
	// instead of creating a scheduled record for them.
	RequireRecord  bool          `fig:"require_record"`
	RetryAttempts  int           `fig:"retry_attempts" default:"4"`
	RetryBackoff   time.Duration `fig:"retry_backoff" default:"200ms"`
	PersistTimeout time.Duration `fig:"persist_timeout" default:"10s"`
}

type WebSocket struct {
	MaxMessageSize int64         `fig:"max_message_size" default:"65536"`
	SendBuffer     int           `fig:"send_buffer" default:"256"`
	WriteWait      time.Duration `fig:"write_wait" default:"10s"`
	PongWait       time.Duration `fig:"pong_wait" default:"60s"`
}

type Mongo struct {
	URI        string        `fig:"uri" default:"mongodb://localhost:27017"`
	Database   string        `fig:"database" default:"skillbridge"`
	Collection string        `fig:"collection" default:"sessions"`
	Timeout    time.Duration `fig:"timeout" default:"5s"`
}

// LoadServer reads liveroom.yaml from dir (or the default locations when
// dir is empty) and applies LIVEROOM_* environment overrides. A missing
// file is not an error; defaults and env still apply.
func LoadServer(dir string) (*Server, error) {
	dirs := []string{dir}
	if dir == "" {
		dirs = []string{".", "configs", "/etc/liveroom"}
		if home, err := os.UserHomeDir(); err == nil {
			dirs = append(dirs, home+"/.liveroom")
		}
	}

	var cfg Server
	err := fig.Load(&cfg, fig.File(FileName), fig.Dirs(dirs...), fig.UseEnv(EnvPrefix))
	if errors.Is(err, fig.ErrFileNotFound) {
		cfg = Server{}
		err = fig.Load(&cfg, fig.IgnoreFile(), fig.UseEnv(EnvPrefix))
	}
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Grace returns the effective empty-room grace period.
func (r Room) Grace() time.Duration {
	if r.Ephemeral {
		return 0
	}
	return r.GracePeriod
}

// Validate rejects settings the relay cannot run with.
func (s *Server) Validate() error {
	switch {
	case s.Session.Duration <= 0:
		return fmt.Errorf("session.duration must be positive")
	case s.Room.GracePeriod < 0:
		return fmt.Errorf("room.grace_period must not be negative")
	case s.Room.SweepInterval <= 0:
		return fmt.Errorf("room.sweep_interval must be positive")
	case s.WebSocket.SendBuffer < 1:
		return fmt.Errorf("websocket.send_buffer must be at least 1")
	case s.Session.Store != "memory" && s.Session.Store != "mongo":
		return fmt.Errorf("session.store must be memory or mongo, got %q", s.Session.Store)
	}
	return nil
}
