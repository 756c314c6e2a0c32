package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/skillbridge/liveroom/internal/protocol"
	"github.com/skillbridge/liveroom/internal/room"
	"github.com/skillbridge/liveroom/internal/session"
	"github.com/skillbridge/liveroom/internal/signaling"
)

var ErrUnauthenticated = errors.New("no trusted user id on request")

// Authenticator resolves the trusted identity of an upgrade request.
type Authenticator interface {
	Authenticate(r *http.Request) (userID, name string, err error)
}

// HeaderAuthenticator trusts a header set by the authenticating proxy in
// front of the relay.
type HeaderAuthenticator struct {
	UserHeader string
	NameHeader string
	// AllowAnonymous accepts ?userId= when the header is missing.
	AllowAnonymous bool
}

func (a HeaderAuthenticator) Authenticate(r *http.Request) (string, string, error) {
	userHeader := a.UserHeader
	if userHeader == "" {
		userHeader = "X-User-ID"
	}
	nameHeader := a.NameHeader
	if nameHeader == "" {
		nameHeader = "X-User-Name"
	}

	userID := strings.TrimSpace(r.Header.Get(userHeader))
	name := strings.TrimSpace(r.Header.Get(nameHeader))
	if userID == "" && a.AllowAnonymous {
		userID = strings.TrimSpace(r.URL.Query().Get("userId"))
		if name == "" {
			name = r.URL.Query().Get("name")
		}
	}
	if userID == "" {
		return "", "", ErrUnauthenticated
	}
	return userID, name, nil
}

// Upgrader builds the websocket upgrader. An empty allowed list accepts any
// origin.
func Upgrader(allowedOrigins []string) *websocket.Upgrader {
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[strings.TrimRight(strings.ToLower(o), "/")] = true
	}
	return &websocket.Upgrader{
		ReadBufferSize:  64 * 1024, // 64 KB
		WriteBufferSize: 64 * 1024, // 64 KB
		Subprotocols:    protocol.Subprotocols(),
		CheckOrigin: func(r *http.Request) bool {
			if len(allowed) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			if origin == "" {
				// Non-browser clients send no Origin.
				return true
			}
			u, err := url.Parse(origin)
			if err != nil {
				return false
			}
			return allowed[strings.ToLower(u.Scheme+"://"+u.Host)]
		},
	}
}

// ServeWs returns an http.HandlerFunc that handles websocket requests.
func ServeWs(hub *signaling.Hub, auth Authenticator, upgrader *websocket.Upgrader, opts signaling.ClientOptions) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, name, err := auth.Authenticate(r)
		if err != nil {
			slog.Info("rejected websocket upgrade", "remote", r.RemoteAddr, "error", err)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			slog.Warn("failed to upgrade connection", "remote", r.RemoteAddr, "error", err)
			return
		}

		codec := protocol.CodecFor(conn.Subprotocol())
		client := signaling.NewClient(hub, conn, codec, userID, name, opts)
		hub.Register(client)

		go client.WritePump()
		go client.ReadPump()
	}
}

// healthCheckHandler reports liveness.
func healthCheckHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("Signaling server is healthy."))
}

// RoomView is one row of the /rooms listing.
type RoomView struct {
	room.Info
	Timer *protocol.TimerState `json:"timer"`
}

// roomsHandler lists live rooms for operators.
func roomsHandler(rooms *room.Registry, timer *session.Authority) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snap := rooms.Snapshot()
		out := make([]RoomView, len(snap))
		for i, info := range snap {
			out[i] = RoomView{Info: info, Timer: timer.State(info.ID)}
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(out); err != nil {
			slog.Warn("failed to write rooms listing", "error", err)
		}
	}
}
