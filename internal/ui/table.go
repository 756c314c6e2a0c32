package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/jedib0t/go-pretty/v6/text"

	prettytable "github.com/jedib0t/go-pretty/v6/table"
)

// RoomRow is one line of the operator room listing.
type RoomRow struct {
	ID           string
	Participants []string
	Strokes      int
	ChatMessages int
	CreatedAt    time.Time
	Ended        bool
	Started      bool
	Remaining    time.Duration
	Synced       bool
}

// RoomsTable renders the relay's rooms for a terminal.
func RoomsTable(rows []RoomRow, now time.Time) string {
	t := prettytable.NewWriter()
	t.SetStyle(prettytable.StyleRounded)
	t.AppendHeader(prettytable.Row{"Room", "Participants", "Strokes", "Chat", "Age", "Timer", "Status"})

	for _, r := range rows {
		participants := strings.Join(r.Participants, ", ")
		if participants == "" {
			participants = "-"
		}

		timer := "not started"
		if r.Started {
			timer = FormatClock(r.Remaining)
			if !r.Synced {
				timer += " (unsynced)"
			}
		}

		status := "live"
		switch {
		case r.Ended:
			status = "ended"
		case len(r.Participants) == 0:
			status = "idle"
		}

		t.AppendRow(prettytable.Row{
			Truncate(r.ID, 36),
			participants,
			r.Strokes,
			r.ChatMessages,
			FormatTimeDuration(now.Sub(r.CreatedAt)),
			timer,
			status,
		})
	}
	t.SetColumnConfigs([]prettytable.ColumnConfig{
		{Number: 3, Align: text.AlignRight},
		{Number: 4, Align: text.AlignRight},
	})
	t.AppendFooter(prettytable.Row{fmt.Sprintf("%d rooms", len(rows))})
	return t.Render()
}

// SessionSummary is shown when a session view exits.
type SessionSummary struct {
	Room     string
	Peer     string
	Duration time.Duration
	Strokes  int
	Messages int
	Reason   string
}

func SessionSummaryView(s SessionSummary) string {
	peer := s.Peer
	if peer == "" {
		peer = "-"
	}
	rows := [][]string{
		{"Room", s.Room},
		{"Peer", peer},
		{"Time in session", FormatTimeDuration(s.Duration)},
		{"Strokes", fmt.Sprintf("%d", s.Strokes)},
		{"Chat messages", fmt.Sprintf("%d", s.Messages)},
		{"Ended", s.Reason},
	}

	tbl := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(Accent)).
		Headers("Metric", "Value").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return TableHeaderStyle
			case row%2 == 0:
				return TableRowStyle
			default:
				return TableRowAltStyle
			}
		})

	return tbl.Render()
}
