// Package peer drives one participant's side of connection setup with the
// other participant in a room.
package peer

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/skillbridge/liveroom/internal/protocol"
)

// State is a step of the negotiation.
type State int

const (
	Idle State = iota
	Offering
	AwaitingAnswer
	AnsweringOffer
	Connected
	Closed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Offering:
		return "offering"
	case AwaitingAnswer:
		return "awaiting-answer"
	case AnsweringOffer:
		return "answering-offer"
	case Connected:
		return "connected"
	case Closed:
		return "closed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Signaler carries negotiation payloads to the other participant.
type Signaler interface {
	SendOffer(to string, sdp protocol.Payload) error
	SendAnswer(to string, sdp protocol.Payload) error
	SendCandidate(to string, candidate protocol.Payload) error
}

type Options struct {
	// Media is attached before the first offer or answer. Nil means
	// receive-only.
	Media         *Media
	Logger        *slog.Logger
	OnStateChange func(State)
}

// Machine is the negotiation state machine for one peer connection.
//
// The participant that receives user-connected offers; the joiner answers.
// Remote candidates that arrive before both descriptions are set are held
// and applied once they are.
type Machine struct {
	conn Connection
	sig  Signaler
	log  *slog.Logger

	// opMu serializes operations so a handshake step is never interleaved.
	opMu sync.Mutex

	mu        sync.Mutex
	state     State
	peer      string
	localSet  bool
	remoteSet bool
	pending   []webrtc.ICECandidateInit
	gathered  []webrtc.ICECandidateInit
	audio     TrackSender
	video     TrackSender
	media     *Media
	sharing   bool
	muted     bool
	videoOff  bool
	onState   func(State)
	err       error
	done      chan struct{}
}

// NewMachine attaches media to conn and returns an Idle machine.
func NewMachine(conn Connection, sig Signaler, opts Options) (*Machine, error) {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	m := &Machine{
		conn:    conn,
		sig:     sig,
		log:     log,
		media:   opts.Media,
		onState: opts.OnStateChange,
		done:    make(chan struct{}),
	}

	if media := opts.Media; media != nil {
		if media.Audio != nil {
			sender, err := conn.AddTrack(media.Audio)
			if err != nil {
				return nil, NewError("add audio track", err)
			}
			m.audio = sender
		}
		if media.Camera != nil {
			sender, err := conn.AddTrack(media.Camera)
			if err != nil {
				return nil, NewError("add camera track", err)
			}
			m.video = sender
		}
	}

	conn.OnICECandidate(m.localCandidate)
	conn.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		switch s {
		case webrtc.PeerConnectionStateFailed:
			m.fail(NewError("connection", ErrNegotiationFailed))
		case webrtc.PeerConnectionStateClosed:
			m.fail(ErrClosed)
		}
	})
	return m, nil
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Peer returns the user id of the other participant, once known.
func (m *Machine) Peer() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.peer
}

// Done is closed when the machine reaches Closed.
func (m *Machine) Done() <-chan struct{} {
	return m.done
}

// Err is the reason the machine closed, nil while open or after Close.
func (m *Machine) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.err
}

// PeerJoined starts the handshake as the offering side.
func (m *Machine) PeerJoined(peerID string) error {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	if err := m.begin(Idle, Offering, peerID, "peer joined"); err != nil {
		return err
	}

	offer, err := m.conn.CreateOffer()
	if err != nil {
		return m.abort(NewError("create offer", err))
	}
	if err := m.conn.SetLocalDescription(offer); err != nil {
		return m.abort(NewError("set local description", err))
	}
	m.mu.Lock()
	m.localSet = true
	m.mu.Unlock()

	payload, err := json.Marshal(offer)
	if err != nil {
		return m.abort(NewError("encode offer", err))
	}
	m.transition(AwaitingAnswer)
	if err := m.sig.SendOffer(peerID, payload); err != nil {
		return m.abort(NewError("send offer", err))
	}
	m.flushGathered()
	return nil
}

// HandleOffer answers an offer from the other participant.
func (m *Machine) HandleOffer(from string, sdp protocol.Payload) error {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	offer, err := decodeDescription(sdp, webrtc.SDPTypeOffer)
	if err != nil {
		return err
	}
	if err := m.begin(Idle, AnsweringOffer, from, "offer"); err != nil {
		return err
	}

	if err := m.conn.SetRemoteDescription(offer); err != nil {
		return m.abort(NewError("set remote description", err))
	}
	m.mu.Lock()
	m.remoteSet = true
	m.mu.Unlock()

	answer, err := m.conn.CreateAnswer()
	if err != nil {
		return m.abort(NewError("create answer", err))
	}
	if err := m.conn.SetLocalDescription(answer); err != nil {
		return m.abort(NewError("set local description", err))
	}
	m.mu.Lock()
	m.localSet = true
	m.mu.Unlock()

	payload, err := json.Marshal(answer)
	if err != nil {
		return m.abort(NewError("encode answer", err))
	}
	if err := m.sig.SendAnswer(from, payload); err != nil {
		return m.abort(NewError("send answer", err))
	}
	m.transition(Connected)
	m.flushGathered()
	return m.flushPending()
}

// HandleAnswer completes the handshake on the offering side.
func (m *Machine) HandleAnswer(from string, sdp protocol.Payload) error {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	answer, err := decodeDescription(sdp, webrtc.SDPTypeAnswer)
	if err != nil {
		return err
	}

	m.mu.Lock()
	switch {
	case m.state == Closed:
		m.mu.Unlock()
		return ErrClosed
	case m.state != AwaitingAnswer || from != m.peer:
		state := m.state
		m.mu.Unlock()
		return WrapError("answer", ErrUnexpectedSignal, state.String())
	}
	m.mu.Unlock()

	if err := m.conn.SetRemoteDescription(answer); err != nil {
		return m.abort(NewError("set remote description", err))
	}
	m.mu.Lock()
	m.remoteSet = true
	m.mu.Unlock()

	m.transition(Connected)
	return m.flushPending()
}

// HandleCandidate applies a remote candidate, or holds it until both
// descriptions are in place.
func (m *Machine) HandleCandidate(from string, candidate protocol.Payload) error {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	var c webrtc.ICECandidateInit
	if err := json.Unmarshal(candidate, &c); err != nil {
		return WrapError("candidate", ErrBadPayload, err.Error())
	}

	m.mu.Lock()
	if m.state == Closed {
		m.mu.Unlock()
		return ErrClosed
	}
	if m.peer != "" && from != m.peer {
		m.mu.Unlock()
		return WrapError("candidate", ErrUnexpectedSignal, "from "+from)
	}
	if !m.localSet || !m.remoteSet {
		m.pending = append(m.pending, c)
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	if err := m.conn.AddICECandidate(c); err != nil {
		return NewError("add ICE candidate", err)
	}
	return nil
}

// Pending is the number of remote candidates waiting on descriptions.
func (m *Machine) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

// PeerLeft closes the machine because the other participant went away.
func (m *Machine) PeerLeft(peerID string) {
	m.mu.Lock()
	known := m.peer
	m.mu.Unlock()
	if known != "" && peerID != known {
		return
	}
	m.fail(ErrPeerLeft)
}

// ShareScreen swaps the outgoing camera for the screen track. The
// negotiation state is unchanged. While video is off the share only takes
// effect once video comes back.
func (m *Machine) ShareScreen() error {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == Closed {
		return ErrClosed
	}
	if m.media == nil || m.media.Screen == nil {
		return ErrNoScreen
	}
	if m.video == nil {
		return WrapError("share screen", ErrNoScreen, "no outgoing video")
	}
	m.sharing = true
	if err := m.video.ReplaceTrack(m.videoTrack()); err != nil {
		m.sharing = false
		return NewError("share screen", err)
	}
	return nil
}

// StopSharing puts the camera back, or nothing while video is off.
func (m *Machine) StopSharing() error {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == Closed {
		return ErrClosed
	}
	if !m.sharing {
		return nil
	}
	m.sharing = false
	if err := m.video.ReplaceTrack(m.videoTrack()); err != nil {
		m.sharing = true
		return NewError("stop sharing", err)
	}
	return nil
}

// Sharing reports whether the screen is being sent.
func (m *Machine) Sharing() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sharing
}

// SetAudioMuted stops or resumes sending the microphone on the existing
// sender, without renegotiating.
func (m *Machine) SetAudioMuted(muted bool) error {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == Closed {
		return ErrClosed
	}
	if m.audio == nil {
		return ErrNoAudio
	}
	if muted == m.muted {
		return nil
	}
	var track webrtc.TrackLocal
	if !muted {
		track = m.media.Audio
	}
	if err := m.audio.ReplaceTrack(track); err != nil {
		return NewError("mute audio", err)
	}
	m.muted = muted
	return nil
}

// SetVideoOff stops or resumes the outgoing video. A screen share that is
// running when video comes back on resumes too.
func (m *Machine) SetVideoOff(off bool) error {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == Closed {
		return ErrClosed
	}
	if m.video == nil {
		return ErrNoVideo
	}
	if off == m.videoOff {
		return nil
	}
	prev := m.videoOff
	m.videoOff = off
	if err := m.video.ReplaceTrack(m.videoTrack()); err != nil {
		m.videoOff = prev
		return NewError("video off", err)
	}
	return nil
}

// Muted reports whether the microphone is held back.
func (m *Machine) Muted() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.muted
}

// VideoOff reports whether outgoing video is held back.
func (m *Machine) VideoOff() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.videoOff
}

// videoTrack is what the video sender should carry. The caller holds mu.
func (m *Machine) videoTrack() webrtc.TrackLocal {
	switch {
	case m.videoOff:
		return nil
	case m.sharing:
		return m.media.Screen
	}
	return m.media.Camera
}

// Close tears down the connection.
func (m *Machine) Close() error {
	m.finish(nil)
	return m.conn.Close()
}

func (m *Machine) begin(from, to State, peerID, what string) error {
	m.mu.Lock()
	if m.state == Closed {
		m.mu.Unlock()
		return ErrClosed
	}
	if m.state != from {
		state := m.state
		m.mu.Unlock()
		return WrapError(what, ErrUnexpectedSignal, state.String())
	}
	if m.peer != "" && m.peer != peerID {
		m.mu.Unlock()
		return WrapError(what, ErrUnexpectedSignal, "from "+peerID)
	}
	m.peer = peerID
	m.mu.Unlock()
	m.transition(to)
	return nil
}

func (m *Machine) transition(to State) {
	m.mu.Lock()
	if m.state == Closed || m.state == to {
		m.mu.Unlock()
		return
	}
	from := m.state
	m.state = to
	cb := m.onState
	m.mu.Unlock()

	m.log.Debug("negotiation", "from", from.String(), "to", to.String())
	if cb != nil {
		cb(to)
	}
}

// abort closes the machine with err and returns it.
func (m *Machine) abort(err error) error {
	m.fail(err)
	return err
}

func (m *Machine) fail(err error) {
	if m.finish(err) {
		m.log.Warn("negotiation closed", "peer", m.Peer(), "error", err)
	}
}

// finish moves to Closed once. It reports whether this call did it.
func (m *Machine) finish(err error) bool {
	m.mu.Lock()
	if m.state == Closed {
		m.mu.Unlock()
		return false
	}
	m.state = Closed
	m.err = err
	m.pending = nil
	cb := m.onState
	close(m.done)
	m.mu.Unlock()

	if cb != nil {
		cb(Closed)
	}
	return true
}

func (m *Machine) flushPending() error {
	m.mu.Lock()
	pending := m.pending
	m.pending = nil
	m.mu.Unlock()

	for _, c := range pending {
		if err := m.conn.AddICECandidate(c); err != nil {
			return NewError("add ICE candidate", err)
		}
	}
	return nil
}

// localCandidate forwards a gathered candidate, holding it while the
// peer or the local description is not yet known.
func (m *Machine) localCandidate(c webrtc.ICECandidateInit) {
	m.mu.Lock()
	if m.state == Closed {
		m.mu.Unlock()
		return
	}
	if m.peer == "" || (m.state != AwaitingAnswer && m.state != Connected) {
		m.gathered = append(m.gathered, c)
		m.mu.Unlock()
		return
	}
	peerID := m.peer
	m.mu.Unlock()
	m.sendCandidate(peerID, c)
}

func (m *Machine) flushGathered() {
	m.mu.Lock()
	gathered := m.gathered
	m.gathered = nil
	peerID := m.peer
	m.mu.Unlock()

	for _, c := range gathered {
		m.sendCandidate(peerID, c)
	}
}

func (m *Machine) sendCandidate(to string, c webrtc.ICECandidateInit) {
	payload, err := json.Marshal(c)
	if err != nil {
		m.log.Warn("encode candidate", "error", err)
		return
	}
	if err := m.sig.SendCandidate(to, payload); err != nil {
		m.log.Warn("send candidate", "peer", to, "error", err)
	}
}

func decodeDescription(p protocol.Payload, want webrtc.SDPType) (webrtc.SessionDescription, error) {
	var desc webrtc.SessionDescription
	if err := json.Unmarshal(p, &desc); err != nil {
		return desc, WrapError(want.String(), ErrBadPayload, err.Error())
	}
	if desc.Type != want || desc.SDP == "" {
		return desc, WrapError(want.String(), ErrBadPayload, "type "+desc.Type.String())
	}
	return desc, nil
}
