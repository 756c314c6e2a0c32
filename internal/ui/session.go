package ui

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/skillbridge/liveroom/internal/client"
	"github.com/skillbridge/liveroom/internal/peer"
	"github.com/skillbridge/liveroom/internal/protocol"
)

// Controller is what the session view needs from a participant.
type Controller interface {
	Draw(s protocol.Stroke) error
	Clear() error
	Say(name, text string) error
	ShareScreen() error
	StopSharing() error
	SetAudioMuted(muted bool) error
	SetVideoOff(off bool) error
	Sharing() bool
	Muted() bool
	VideoOff() bool
	Remaining() (time.Duration, bool, bool)
	State() peer.State
	Peer() string
	Chat() []protocol.ChatMessage
	Strokes() []protocol.Stroke
}

// CommandKind is a parsed input line.
type CommandKind int

const (
	CmdChat CommandKind = iota
	CmdDraw
	CmdClear
	CmdShare
	CmdUnshare
	CmdMute
	CmdVideo
	CmdQuit
)

type Command struct {
	Kind   CommandKind
	Text   string
	Stroke protocol.Stroke
}

var errUsage = errors.New("usage: /draw [x1 y1 x2 y2] | /clear | /share | /unshare | /mute | /video | /quit")

// ParseCommand interprets a line typed in the session view. Anything that
// is not a slash command is chat.
func ParseCommand(line string) (Command, error) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "/") {
		return Command{Kind: CmdChat, Text: line}, nil
	}
	fields := strings.Fields(line)
	switch fields[0] {
	case "/draw":
		stroke := protocol.Stroke{
			Points: []protocol.Point{{X: 0, Y: 0}, {X: 100, Y: 100}},
			Color:  "#22d3ee",
			Width:  2,
		}
		if len(fields) == 5 {
			var coords [4]float64
			for i, f := range fields[1:] {
				v, err := strconv.ParseFloat(f, 64)
				if err != nil {
					return Command{}, errUsage
				}
				coords[i] = v
			}
			stroke.Points = []protocol.Point{{X: coords[0], Y: coords[1]}, {X: coords[2], Y: coords[3]}}
		} else if len(fields) != 1 {
			return Command{}, errUsage
		}
		return Command{Kind: CmdDraw, Stroke: stroke}, nil
	case "/clear":
		return Command{Kind: CmdClear}, nil
	case "/share":
		return Command{Kind: CmdShare}, nil
	case "/unshare":
		return Command{Kind: CmdUnshare}, nil
	case "/mute":
		return Command{Kind: CmdMute}, nil
	case "/video":
		return Command{Kind: CmdVideo}, nil
	case "/quit", "/exit":
		return Command{Kind: CmdQuit}, nil
	}
	return Command{}, errUsage
}

type eventMsg client.Event

type eventsClosedMsg struct{}

type tickMsg time.Time

// SessionModel is the live session view.
type SessionModel struct {
	ctl     Controller
	events  <-chan client.Event
	room    string
	name    string
	input   textinput.Model
	spinner spinner.Model
	status  string
	lastErr string
	ended   bool
	reason  string
	started time.Time
	width   int
}

// NewSessionModel builds the view for room, reading updates from events.
func NewSessionModel(ctl Controller, events <-chan client.Event, room, name string) *SessionModel {
	ti := textinput.New()
	ti.Placeholder = "message or /draw, /clear, /share, /unshare, /mute, /video, /quit"
	ti.CharLimit = 2000
	ti.Focus()

	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = SpinnerStyle

	return &SessionModel{
		ctl:     ctl,
		events:  events,
		room:    room,
		name:    name,
		input:   ti,
		spinner: s,
		status:  "Waiting for the other participant...",
		started: time.Now(),
	}
}

func (m *SessionModel) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.spinner.Tick, m.listen(), tick())
}

func (m *SessionModel) listen() tea.Cmd {
	return func() tea.Msg {
		e, ok := <-m.events
		if !ok {
			return eventsClosedMsg{}
		}
		return eventMsg(e)
	}
}

func tick() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) })
}

// Ended reports why the view closed, empty if the user quit.
func (m *SessionModel) Ended() string { return m.reason }

// Elapsed is how long the view has been open.
func (m *SessionModel) Elapsed() time.Duration { return time.Since(m.started) }

func (m *SessionModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC:
			return m, tea.Quit
		case tea.KeyEnter:
			line := m.input.Value()
			m.input.SetValue("")
			if strings.TrimSpace(line) == "" {
				return m, nil
			}
			return m, m.run(line)
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.input.Width = max(20, msg.Width-4)
		return m, nil

	case eventMsg:
		m.apply(client.Event(msg))
		if m.ended {
			return m, tea.Quit
		}
		return m, m.listen()

	case eventsClosedMsg:
		m.ended = true
		if m.reason == "" {
			m.reason = "disconnected"
		}
		return m, tea.Quit

	case tickMsg:
		return m, tick()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *SessionModel) run(line string) tea.Cmd {
	cmd, err := ParseCommand(line)
	if err != nil {
		m.lastErr = err.Error()
		return nil
	}
	m.lastErr = ""

	switch cmd.Kind {
	case CmdQuit:
		m.reason = "left"
		return tea.Quit
	case CmdChat:
		err = m.ctl.Say(m.name, cmd.Text)
	case CmdDraw:
		err = m.ctl.Draw(cmd.Stroke)
	case CmdClear:
		err = m.ctl.Clear()
	case CmdShare:
		err = m.ctl.ShareScreen()
	case CmdUnshare:
		err = m.ctl.StopSharing()
	case CmdMute:
		err = m.ctl.SetAudioMuted(!m.ctl.Muted())
	case CmdVideo:
		err = m.ctl.SetVideoOff(!m.ctl.VideoOff())
	}
	if err != nil {
		m.lastErr = err.Error()
	}
	return nil
}

func (m *SessionModel) apply(e client.Event) {
	switch e.Kind {
	case client.EventJoined:
		m.status = "Joined. Waiting for the other participant..."
	case client.EventPeerJoined:
		m.status = fmt.Sprintf("%s joined", e.Peer)
	case client.EventPeerLeft:
		m.status = fmt.Sprintf("%s left", e.Peer)
	case client.EventNegotiation:
		m.status = "Connection: " + e.State.String()
	case client.EventSessionEnded:
		m.ended = true
		m.reason = "session time is up"
	case client.EventError:
		if e.Err != nil {
			m.lastErr = e.Err.Error()
		}
	}
}

// mediaBadges flags what the peer is not getting the usual way.
func (m *SessionModel) mediaBadges() string {
	var out string
	if m.ctl.Sharing() {
		out += " " + BadgeStyle.Render(IconScreen+" sharing")
	}
	if m.ctl.Muted() {
		out += " " + BadgeStyle.Render(IconMuted+" muted")
	}
	if m.ctl.VideoOff() {
		out += " " + BadgeStyle.Render(IconVideoOff+" video off")
	}
	return out
}

func (m *SessionModel) View() string {
	var b strings.Builder

	b.WriteString(HeaderStyle.Render(fmt.Sprintf("%s Room %s", IconRoom, m.room)))
	b.WriteString("\n")

	remaining, started, synced := m.ctl.Remaining()
	clock := "--:--"
	if started {
		clock = FormatClock(remaining)
	}
	timer := fmt.Sprintf("%s %s", IconTime, ClockStyle.Render(clock))
	if started && !synced {
		timer += " " + WarnStyle.Render("unsynced")
	}
	b.WriteString(timer + "\n")

	peerLine := DimStyle.Render("nobody else here yet")
	if p := m.ctl.Peer(); p != "" {
		peerLine = fmt.Sprintf("%s (%s)", p, m.ctl.State())
	}
	b.WriteString(fmt.Sprintf("%s %s%s\n", IconPeer, peerLine, m.mediaBadges()))
	b.WriteString(fmt.Sprintf("%s %d strokes\n", IconBoard, len(m.ctl.Strokes())))

	state := m.ctl.State()
	if state != peer.Connected && state != peer.Closed {
		b.WriteString(fmt.Sprintf("%s %s\n", m.spinner.View(), m.status))
	} else {
		b.WriteString(DimStyle.Render(m.status) + "\n")
	}

	chat := m.ctl.Chat()
	if n := len(chat); n > 10 {
		chat = chat[n-10:]
	}
	var lines []string
	for _, c := range chat {
		name := c.SenderName
		if name == "" {
			name = c.SenderID
		}
		lines = append(lines, fmt.Sprintf("%s %s: %s",
			DimStyle.Render(c.Timestamp.Local().Format("15:04")),
			ChatNameStyle.Render(name),
			c.Text))
	}
	if len(lines) == 0 {
		lines = []string{DimStyle.Render(IconChat + " no messages yet")}
	}
	b.WriteString(ChatBoxStyle.Render(strings.Join(lines, "\n")))
	b.WriteString("\n")

	if m.lastErr != "" {
		b.WriteString(ErrorStyle.Render(IconError+" "+m.lastErr) + "\n")
	}
	b.WriteString(m.input.View())
	b.WriteString("\n" + FooterStyle.Render("Enter to send, ctrl+c to leave"))
	return b.String()
}
