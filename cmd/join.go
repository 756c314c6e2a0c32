package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/skillbridge/liveroom/internal/client"
	"github.com/skillbridge/liveroom/internal/config"
	"github.com/skillbridge/liveroom/internal/logging"
	"github.com/skillbridge/liveroom/internal/peer"
	"github.com/skillbridge/liveroom/internal/protocol"
	"github.com/skillbridge/liveroom/internal/ui"
)

var (
	flagJoinServer   string
	flagJoinUser     string
	flagJoinName     string
	flagJoinSTUN     string
	flagJoinTURN     string
	flagJoinTURNUser string
	flagJoinTURNPass string
	flagJoinRelay    bool
	flagJoinCamera   string
	flagJoinMic      string
	flagJoinJSON     bool
)

var joinCmd = &cobra.Command{
	Use:     "join <room-id|url>",
	Aliases: []string{"j"},
	Short:   "Join a live session room",
	Long: `Join a room as one of its two participants. The session view shows
the remaining time, the other participant, chat and the whiteboard.

Type a line to chat, or use /draw, /clear, /share, /unshare and /quit.

Examples:
  liveroom join 64f1c2a9e4b0a1b2c3d4e5f6 --user mentor-42
  liveroom join https://app.example.com/room/64f1c2a9e4b0a1b2c3d4e5f6
  liveroom join ROOM --user mentee-7 --turn turn.example.com --relay`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		roomID, err := parseRoomInput(args[0])
		if err != nil {
			return err
		}
		return joinSession(roomID)
	},
}

func joinSession(roomID string) error {
	cfg, err := config.LoadClient(config.Options{
		ServerURL:  flagJoinServer,
		UserID:     flagJoinUser,
		Name:       flagJoinName,
		STUNServer: flagJoinSTUN,
		TURNServer: flagJoinTURN,
		TURNUser:   flagJoinTURNUser,
		TURNPass:   flagJoinTURNPass,
		ForceRelay: flagJoinRelay,
	})
	if err != nil {
		return err
	}
	if cfg.ForceRelay && cfg.TURNServers() == nil {
		return fmt.Errorf("cannot force relay mode without TURN server configured")
	}

	// The session view owns the terminal; only errors go to stderr.
	log := logging.Init(slog.LevelError)
	pion := logging.NewPionFactory(log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	codec := protocol.Msgpack
	if flagJoinJSON {
		codec = protocol.JSON
	}

	step := ui.StartStep("Connecting to relay")
	c := client.NewClient(cfg.ServerURL, cfg.UserID, cfg.Name, codec)
	err = c.Connect(ctx)
	step.Done(err)
	if err != nil {
		return err
	}

	p := client.NewParticipant(c, client.ParticipantOptions{
		RoomID: roomID,
		Media:  peer.DeviceSource{Camera: flagJoinCamera, Microphone: flagJoinMic},
		NewConn: func() (peer.Connection, error) {
			pc, err := peer.NewPeerConnection(cfg, pion)
			if err != nil {
				return nil, err
			}
			return peer.Wrap(pc), nil
		},
		Logger: log,
	})

	runErr := make(chan error, 1)
	go func() { runErr <- p.Run(ctx) }()

	model := ui.NewSessionModel(p, p.Events(), roomID, cfg.Name)
	if _, err := tea.NewProgram(model).Run(); err != nil {
		cancel()
		<-runErr
		return fmt.Errorf("session view: %w", err)
	}
	cancel()
	err = <-runErr

	reason := model.Ended()
	switch {
	case errors.Is(err, client.ErrSessionEnded):
		reason = "session time is up"
	case err != nil && !errors.Is(err, context.Canceled):
		var devErr *peer.DeviceError
		if errors.As(err, &devErr) {
			return errors.New(devErr.Hint())
		}
		return err
	case reason == "":
		reason = "left"
	}

	fmt.Println()
	ui.PrintSuccessf("Left room %s", roomID)
	fmt.Println(ui.SessionSummaryView(ui.SessionSummary{
		Room:     roomID,
		Peer:     p.Peer(),
		Duration: model.Elapsed(),
		Strokes:  len(p.Strokes()),
		Messages: len(p.Chat()),
		Reason:   reason,
	}))
	return nil
}

// parseRoomInput accepts a bare room id or a link ending in /room/<id>
// or /r/<id>.
func parseRoomInput(input string) (string, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return "", fmt.Errorf("room ID cannot be empty")
	}
	if !strings.Contains(input, "://") {
		return input, nil
	}

	u, err := url.Parse(input)
	if err != nil {
		return "", fmt.Errorf("parse room URL: %w", err)
	}
	parts := strings.Split(strings.TrimSuffix(u.Path, "/"), "/")
	for i, part := range parts {
		if (part == "room" || part == "r") && i+1 < len(parts) && parts[i+1] != "" {
			return parts[i+1], nil
		}
	}
	return "", fmt.Errorf("could not extract room ID from URL: %s", input)
}

func init() {
	rootCmd.AddCommand(joinCmd)

	joinCmd.Flags().StringVar(&flagJoinServer, "server", "", "Relay WebSocket URL")
	joinCmd.Flags().StringVarP(&flagJoinUser, "user", "u", "", "Your user id")
	joinCmd.Flags().StringVarP(&flagJoinName, "name", "n", "", "Display name for chat")
	joinCmd.Flags().StringVarP(&flagJoinSTUN, "stun", "s", "", "Custom STUN server")
	joinCmd.Flags().StringVarP(&flagJoinTURN, "turn", "t", "", "Custom TURN server")
	joinCmd.Flags().StringVar(&flagJoinTURNUser, "turn-user", "", "TURN username")
	joinCmd.Flags().StringVar(&flagJoinTURNPass, "turn-pass", "", "TURN password")
	joinCmd.Flags().BoolVarP(&flagJoinRelay, "relay", "r", false, "Force relay mode")
	joinCmd.Flags().StringVar(&flagJoinCamera, "camera", "", "Camera device to check before joining, e.g. /dev/video0")
	joinCmd.Flags().StringVar(&flagJoinMic, "mic", "", "Microphone device to check before joining")
	joinCmd.Flags().BoolVar(&flagJoinJSON, "json", false, "Use the JSON wire format instead of msgpack")
}
