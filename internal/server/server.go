// Package server wires the room services behind the relay's HTTP surface.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/skillbridge/liveroom/internal/chat"
	"github.com/skillbridge/liveroom/internal/config"
	"github.com/skillbridge/liveroom/internal/metrics"
	"github.com/skillbridge/liveroom/internal/room"
	"github.com/skillbridge/liveroom/internal/session"
	"github.com/skillbridge/liveroom/internal/signaling"
	"github.com/skillbridge/liveroom/internal/whiteboard"
)

const shutdownTimeout = 10 * time.Second

// Server is one relay instance.
type Server struct {
	cfg     *config.Server
	log     *slog.Logger
	metrics *metrics.Metrics

	Rooms *room.Registry
	Timer *session.Authority
	Hub   *signaling.Hub

	handler http.Handler
}

// Options carries optional dependencies, mostly for tests.
type Options struct {
	Logger *slog.Logger
	Now    func() time.Time
	Auth   Authenticator
}

// New builds a relay around store.
func New(cfg *config.Server, store session.Store, opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Auth == nil {
		opts.Auth = HeaderAuthenticator{UserHeader: cfg.Auth.UserHeader, AllowAnonymous: cfg.Auth.AllowAnonymous}
	}
	log := opts.Logger
	m := metrics.New()

	rooms := room.NewRegistry(room.Options{
		GracePeriod: cfg.Room.Grace(),
		Now:         opts.Now,
		Logger:      log.With("component", "rooms"),
	})
	board := whiteboard.NewStore(rooms, whiteboard.Limits{
		MaxPoints:  cfg.Room.MaxPoints,
		MaxStrokes: cfg.Room.MaxStrokes,
	})
	chatRelay := chat.NewRelay(rooms, chat.Options{
		MaxLength:  cfg.Room.MaxChatLength,
		MaxHistory: cfg.Room.ChatHistory,
		Now:        opts.Now,
	})
	timer := session.NewAuthority(store, session.Options{
		Duration: cfg.Session.Duration,
		Retry: session.Retry{
			Attempts: cfg.Session.RetryAttempts,
			Initial:  cfg.Session.RetryBackoff,
			Factor:   2,
		},
		Now:    opts.Now,
		Logger: log.With("component", "timer"),
	})
	hub := signaling.NewHub(signaling.Config{
		Rooms:          rooms,
		Board:          board,
		Chat:           chatRelay,
		Timer:          timer,
		Metrics:        m,
		Logger:         log.With("component", "hub"),
		SweepInterval:  cfg.Room.SweepInterval,
		PersistTimeout: cfg.Session.PersistTimeout,
	})

	clientOpts := signaling.ClientOptions{
		WriteWait:      cfg.WebSocket.WriteWait,
		PongWait:       cfg.WebSocket.PongWait,
		MaxMessageSize: cfg.WebSocket.MaxMessageSize,
		SendBuffer:     cfg.WebSocket.SendBuffer,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", healthCheckHandler)
	mux.HandleFunc("/ws", ServeWs(hub, opts.Auth, Upgrader(cfg.AllowedOrigins), clientOpts))
	mux.HandleFunc("/rooms", roomsHandler(rooms, timer))
	mux.Handle("/metrics", m.Handler())

	return &Server{
		cfg:     cfg,
		log:     log,
		metrics: m,
		Rooms:   rooms,
		Timer:   timer,
		Hub:     hub,
		handler: mux,
	}
}

// Handler is the relay's HTTP handler.
func (s *Server) Handler() http.Handler { return s.handler }

// Metrics returns the relay's collectors.
func (s *Server) Metrics() *metrics.Metrics { return s.metrics }

// Run serves on the configured address until ctx is cancelled, then drains.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	hubCtx, stopHub := context.WithCancel(context.Background())
	defer stopHub()
	go s.Hub.Run(hubCtx)

	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		s.log.Info("starting signaling server", "addr", ln.Addr().String())
		errc <- srv.Serve(ln)
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.log.Info("shutting down signaling server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	// Hijacked websocket connections are not tracked by Shutdown.
	s.Hub.Close()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}
