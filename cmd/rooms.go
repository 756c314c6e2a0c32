package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/skillbridge/liveroom/internal/config"
	"github.com/skillbridge/liveroom/internal/server"
	"github.com/skillbridge/liveroom/internal/ui"
)

var flagRoomsServer string

var roomsCmd = &cobra.Command{
	Use:   "rooms",
	Short: "List the relay's live rooms",
	Long: `List every room the relay currently holds, with participants,
whiteboard and chat sizes, and the remaining session time.

Examples:
  liveroom rooms
  liveroom rooms --server wss://relay.example.com/ws`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadClient(config.Options{ServerURL: flagRoomsServer, UserID: "operator"})
		if err != nil {
			return err
		}
		views, err := fetchRooms(cmd.Context(), cfg.HTTPBase())
		if err != nil {
			return err
		}
		if len(views) == 0 {
			ui.PrintInfo("No rooms")
			return nil
		}
		fmt.Println(ui.RoomsTable(roomRows(views), time.Now()))
		return nil
	},
}

func fetchRooms(ctx context.Context, base string) ([]server.RoomView, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimSuffix(base, "/")+"/rooms", nil)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch rooms: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch rooms: %s", resp.Status)
	}

	var views []server.RoomView
	if err := json.NewDecoder(resp.Body).Decode(&views); err != nil {
		return nil, fmt.Errorf("decode rooms: %w", err)
	}
	return views, nil
}

func roomRows(views []server.RoomView) []ui.RoomRow {
	rows := make([]ui.RoomRow, 0, len(views))
	for _, v := range views {
		row := ui.RoomRow{
			ID:           v.ID,
			Participants: v.Participants,
			Strokes:      v.Strokes,
			ChatMessages: v.ChatMessages,
			CreatedAt:    v.CreatedAt,
			Ended:        v.Ended,
		}
		if t := v.Timer; t != nil {
			row.Started = t.Started
			row.Remaining = time.Duration(t.RemainingSeconds) * time.Second
			row.Synced = t.Synced
		}
		rows = append(rows, row)
	}
	return rows
}

func init() {
	rootCmd.AddCommand(roomsCmd)

	roomsCmd.Flags().StringVar(&flagRoomsServer, "server", "", "Relay WebSocket URL (default $LIVEROOM_SERVER or "+config.DefaultServer+")")
}
