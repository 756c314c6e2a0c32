package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/skillbridge/liveroom/internal/chat"
	"github.com/skillbridge/liveroom/internal/peer"
	"github.com/skillbridge/liveroom/internal/protocol"
	"github.com/skillbridge/liveroom/internal/whiteboard"
)

var (
	ErrDisconnected = errors.New("disconnected from relay")
	ErrSessionEnded = errors.New("session ended")
	ErrNoPeer       = errors.New("no peer connection")
)

// RelayError is an error message sent by the relay.
type RelayError struct {
	Code    string
	Message string
}

func (e *RelayError) Error() string {
	return fmt.Sprintf("relay: %s: %s", e.Code, e.Message)
}

type EventKind int

const (
	EventJoined EventKind = iota
	EventPeerJoined
	EventPeerLeft
	EventNegotiation
	EventBoard
	EventChat
	EventTimer
	EventSessionEnded
	EventError
)

// Event tells the UI something changed.
type Event struct {
	Kind  EventKind
	Peer  string
	State peer.State
	Chat  *protocol.ChatMessage
	Timer *protocol.TimerState
	Err   error
}

type ParticipantOptions struct {
	RoomID string
	// Media is acquired before joining. Nil sends no tracks.
	Media peer.Source
	// NewConn opens a peer connection per negotiation. Nil disables
	// negotiation (chat and whiteboard only).
	NewConn func() (peer.Connection, error)
	// PollInterval is how often the timer is re-read from the relay.
	PollInterval time.Duration
	// MaxChatLength mirrors the relay's limit in runes.
	MaxChatLength int
	Logger        *slog.Logger
	Now           func() time.Time
}

// Participant drives one user's session in a room.
type Participant struct {
	client  *Client
	handler *Handler
	opts    ParticipantOptions
	log     *slog.Logger
	board   whiteboard.Board
	media   *peer.Media
	events  chan Event
	// stop ends Run once the current message is handled. Only the Run
	// goroutine touches it.
	stop error

	mu      sync.Mutex
	machine *peer.Machine
	peerID  string
	chat    []protocol.ChatMessage
	timer   *protocol.TimerState
	timerAt time.Time
	joined  bool
}

// NewParticipant wraps a connected client.
func NewParticipant(c *Client, opts ParticipantOptions) *Participant {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 5 * time.Second
	}
	if opts.MaxChatLength <= 0 {
		opts.MaxChatLength = 2000
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	p := &Participant{
		client: c,
		opts:   opts,
		log:    log.With("room", opts.RoomID, "user", c.UserID()),
		events: make(chan Event, 128),
	}
	p.handler = &Handler{
		Joined:       p.joinAcked,
		PeerJoined:   p.peerJoined,
		PeerLeft:     p.peerLeft,
		Negotiation:  p.negotiate,
		Board:        p.boardMessage,
		Chat:         p.chatReceived,
		Timer:        p.timerReceived,
		SessionEnded: p.sessionEnded,
		Error:        p.relayError,
	}
	return p
}

// Events streams changes for display. Events are dropped if nobody reads.
func (p *Participant) Events() <-chan Event { return p.events }

// Run joins the room and handles relay traffic until ctx is done, the
// session ends or the connection drops.
func (p *Participant) Run(ctx context.Context) error {
	defer close(p.events)
	defer p.shutdown()

	if p.opts.Media != nil {
		media, err := p.opts.Media.Acquire(ctx)
		if err != nil {
			return err
		}
		p.media = media
	}

	if err := p.client.Send(&protocol.Message{Type: protocol.TypeJoinRoom, RoomID: p.opts.RoomID, UserID: p.client.UserID()}); err != nil {
		return err
	}

	ticker := time.NewTicker(p.opts.PollInterval)
	defer ticker.Stop()

	// One loop reads the connection and handles each message before the
	// next, so negotiation sees peer arrivals and departures in relay order.
	incoming := p.client.Incoming()
	for {
		select {
		case <-ctx.Done():
			p.client.Send(&protocol.Message{Type: protocol.TypeLeaveRoom, RoomID: p.opts.RoomID})
			return ctx.Err()

		case msg, ok := <-incoming:
			if !ok {
				return ErrDisconnected
			}
			p.handler.Route(msg)
			if p.stop != nil {
				return p.stop
			}

		case <-ticker.C:
			if p.isJoined() {
				p.client.Send(&protocol.Message{Type: protocol.TypeGetTimer, RoomID: p.opts.RoomID})
			}
		}
	}
}

func (p *Participant) isJoined() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.joined
}

func (p *Participant) joinAcked(msg *protocol.Message) {
	if p.isJoined() {
		// A repeated join is acknowledged again; nothing changes.
		p.log.Debug("join acknowledged again", "peers", msg.Peers)
		return
	}
	p.mu.Lock()
	p.joined = true
	p.chat = append(p.chat[:0], msg.History...)
	if len(msg.Peers) > 0 {
		p.peerID = msg.Peers[0]
	}
	p.mu.Unlock()
	if msg.Timer != nil {
		p.setTimer(msg.Timer)
	}
	p.log.Info("joined room", "peers", msg.Peers)
	p.emit(Event{Kind: EventJoined, Timer: msg.Timer})

	if err := p.client.Send(&protocol.Message{Type: protocol.TypeGetWhiteboard, RoomID: p.opts.RoomID}); err != nil {
		p.stop = err
	}
}

func (p *Participant) boardMessage(msg *protocol.Message) {
	if p.board.Apply(msg) {
		p.emit(Event{Kind: EventBoard})
	}
}

func (p *Participant) chatReceived(m protocol.ChatMessage) {
	p.mu.Lock()
	p.chat = append(p.chat, m)
	p.mu.Unlock()
	p.emit(Event{Kind: EventChat, Chat: &m})
}

func (p *Participant) timerReceived(t *protocol.TimerState) {
	p.setTimer(t)
	p.emit(Event{Kind: EventTimer, Timer: t})
}

func (p *Participant) sessionEnded(t *protocol.TimerState) {
	if t != nil {
		p.setTimer(t)
	}
	p.emit(Event{Kind: EventSessionEnded, Timer: t})
	p.stop = ErrSessionEnded
}

// relayError ends the session when the join was refused or the session is
// over; anything else is shown and the session goes on.
func (p *Participant) relayError(e *protocol.ErrorPayload) {
	err := &RelayError{Code: e.Code, Message: e.Message}
	p.log.Warn("relay error", "code", e.Code, "message", e.Message)
	if !p.isJoined() || e.Code == protocol.CodeSessionEnded {
		p.stop = err
		return
	}
	p.emit(Event{Kind: EventError, Err: err})
}

func (p *Participant) peerJoined(id string) {
	p.mu.Lock()
	p.peerID = id
	p.mu.Unlock()
	p.emit(Event{Kind: EventPeerJoined, Peer: id})

	m, err := p.freshMachine()
	if err != nil || m == nil {
		p.report(err)
		return
	}
	if err := m.PeerJoined(id); err != nil {
		p.report(err)
	}
}

func (p *Participant) peerLeft(id string) {
	p.mu.Lock()
	m := p.machine
	if p.peerID == id {
		p.peerID = ""
	}
	p.mu.Unlock()
	if m != nil {
		m.PeerLeft(id)
	}
	p.emit(Event{Kind: EventPeerLeft, Peer: id})
}

func (p *Participant) negotiate(n protocol.Negotiation) {
	var (
		m   *peer.Machine
		err error
	)
	if n.Kind == protocol.KindOffer {
		m, err = p.freshMachine()
	} else {
		m, err = p.currentMachine()
	}
	if err != nil || m == nil {
		p.report(err)
		return
	}

	switch n.Kind {
	case protocol.KindOffer:
		p.mu.Lock()
		p.peerID = n.From
		p.mu.Unlock()
		err = m.HandleOffer(n.From, n.Data)
	case protocol.KindAnswer:
		err = m.HandleAnswer(n.From, n.Data)
	case protocol.KindCandidate:
		err = m.HandleCandidate(n.From, n.Data)
	}
	p.report(err)
}

// freshMachine returns an Idle machine, replacing a used one. A peer that
// reconnects needs a new handshake.
func (p *Participant) freshMachine() (*peer.Machine, error) {
	p.mu.Lock()
	old := p.machine
	p.mu.Unlock()
	if old != nil && old.State() == peer.Idle {
		return old, nil
	}
	if old != nil {
		old.Close()
	}
	return p.newMachine()
}

// currentMachine returns the live machine, creating one if candidates
// overtake the offer.
func (p *Participant) currentMachine() (*peer.Machine, error) {
	p.mu.Lock()
	m := p.machine
	p.mu.Unlock()
	if m != nil && m.State() != peer.Closed {
		return m, nil
	}
	return p.newMachine()
}

func (p *Participant) newMachine() (*peer.Machine, error) {
	if p.opts.NewConn == nil {
		return nil, nil
	}
	conn, err := p.opts.NewConn()
	if err != nil {
		return nil, err
	}
	m, err := peer.NewMachine(conn, p, peer.Options{
		Media:  p.media,
		Logger: p.log,
		OnStateChange: func(s peer.State) {
			p.emit(Event{Kind: EventNegotiation, State: s})
		},
	})
	if err != nil {
		conn.Close()
		return nil, err
	}
	p.mu.Lock()
	p.machine = m
	p.mu.Unlock()
	return m, nil
}

func (p *Participant) report(err error) {
	if err == nil {
		return
	}
	p.log.Warn("negotiation", "error", err)
	p.emit(Event{Kind: EventError, Err: err})
}

func (p *Participant) emit(e Event) {
	select {
	case p.events <- e:
	default:
	}
}

func (p *Participant) setTimer(t *protocol.TimerState) {
	p.mu.Lock()
	p.timer = t
	p.timerAt = p.opts.Now()
	p.mu.Unlock()
}

func (p *Participant) shutdown() {
	p.mu.Lock()
	m := p.machine
	p.mu.Unlock()
	if m != nil {
		m.Close()
	}
	p.client.Close()
}

func (p *Participant) send(kind protocol.NegotiationKind, to string, data protocol.Payload) error {
	n := protocol.Negotiation{Kind: kind, From: p.client.UserID(), To: to, Data: data}
	return p.client.Send(n.Message(p.opts.RoomID))
}

func (p *Participant) SendOffer(to string, sdp protocol.Payload) error {
	return p.send(protocol.KindOffer, to, sdp)
}

func (p *Participant) SendAnswer(to string, sdp protocol.Payload) error {
	return p.send(protocol.KindAnswer, to, sdp)
}

func (p *Participant) SendCandidate(to string, candidate protocol.Payload) error {
	return p.send(protocol.KindCandidate, to, candidate)
}

// Draw adds a stroke locally and sends it to the peer.
func (p *Participant) Draw(s protocol.Stroke) error {
	if err := s.Validate(0); err != nil {
		return err
	}
	if err := p.board.Draw(s); err != nil {
		return err
	}
	return p.client.Send(&protocol.Message{Type: protocol.TypeDrawStroke, RoomID: p.opts.RoomID, Stroke: &s})
}

// Clear asks the relay to clear the board. The local replica is cleared
// when the relay echoes it back.
func (p *Participant) Clear() error {
	return p.client.Send(&protocol.Message{Type: protocol.TypeClearBoard, RoomID: p.opts.RoomID})
}

// Say sends a chat line and records it locally; the relay does not echo
// it back to the sender. The line is trimmed and checked the way the
// relay does, so the local log matches what the peer receives.
func (p *Participant) Say(name, text string) error {
	text, err := chat.Normalize(text, p.opts.MaxChatLength)
	if err != nil {
		return err
	}
	msg := protocol.ChatMessage{
		SenderID:   p.client.UserID(),
		SenderName: name,
		Text:       text,
		Timestamp:  p.opts.Now().UTC(),
	}
	if msg.SenderName == "" {
		msg.SenderName = msg.SenderID
	}
	if err := p.client.Send(&protocol.Message{Type: protocol.TypeSendMessage, RoomID: p.opts.RoomID, Chat: &msg}); err != nil {
		return err
	}
	p.mu.Lock()
	p.chat = append(p.chat, msg)
	p.mu.Unlock()
	return nil
}

// SetAudioMuted holds back or resumes the microphone.
func (p *Participant) SetAudioMuted(muted bool) error {
	m := p.liveMachine()
	if m == nil {
		return ErrNoPeer
	}
	return m.SetAudioMuted(muted)
}

// SetVideoOff holds back or resumes outgoing video.
func (p *Participant) SetVideoOff(off bool) error {
	m := p.liveMachine()
	if m == nil {
		return ErrNoPeer
	}
	return m.SetVideoOff(off)
}

// Muted reports whether the microphone is held back.
func (p *Participant) Muted() bool {
	m := p.liveMachine()
	return m != nil && m.Muted()
}

// VideoOff reports whether outgoing video is held back.
func (p *Participant) VideoOff() bool {
	m := p.liveMachine()
	return m != nil && m.VideoOff()
}

// Sharing reports whether the screen is being sent.
func (p *Participant) Sharing() bool {
	m := p.liveMachine()
	return m != nil && m.Sharing()
}

func (p *Participant) liveMachine() *peer.Machine {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.machine
}

func (p *Participant) ShareScreen() error {
	m := p.liveMachine()
	if m == nil {
		return ErrNoPeer
	}
	return m.ShareScreen()
}

func (p *Participant) StopSharing() error {
	m := p.liveMachine()
	if m == nil {
		return ErrNoPeer
	}
	return m.StopSharing()
}

// Strokes is the current whiteboard replica.
func (p *Participant) Strokes() []protocol.Stroke { return p.board.Strokes() }

// BoardSynced reports whether the initial whiteboard state arrived.
func (p *Participant) BoardSynced() bool { return p.board.Synced() }

// Chat returns the chat lines seen so far.
func (p *Participant) Chat() []protocol.ChatMessage {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]protocol.ChatMessage, len(p.chat))
	copy(out, p.chat)
	return out
}

// Peer is the other participant, if present.
func (p *Participant) Peer() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.peerID
}

// State is the negotiation state with the peer.
func (p *Participant) State() peer.State {
	p.mu.Lock()
	m := p.machine
	p.mu.Unlock()
	if m == nil {
		return peer.Idle
	}
	return m.State()
}

// Remaining is the time left as last reported by the relay, counted
// down locally between polls.
func (p *Participant) Remaining() (remaining time.Duration, started, synced bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.timer == nil {
		return 0, false, false
	}
	t := p.timer
	if !t.Started {
		return time.Duration(t.DurationSeconds) * time.Second, false, t.Synced
	}
	remaining = time.Duration(t.RemainingSeconds)*time.Second - p.opts.Now().Sub(p.timerAt)
	if remaining < 0 {
		remaining = 0
	}
	return remaining, true, t.Synced
}
