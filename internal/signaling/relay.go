package signaling

import (
	"errors"
	"log/slog"

	"github.com/skillbridge/liveroom/internal/metrics"
	"github.com/skillbridge/liveroom/internal/protocol"
	"github.com/skillbridge/liveroom/internal/room"
)

var (
	// ErrTargetAbsent means the addressee is not attached. The message is
	// dropped; the sender is not told.
	ErrTargetAbsent = errors.New("target is not attached")
	ErrNotInRoom    = errors.New("sender is not attached to the room")
)

// Relay forwards negotiation payloads point to point inside a room without
// looking at them.
type Relay struct {
	rooms   *room.Registry
	metrics *metrics.Metrics
	log     *slog.Logger
}

func NewRelay(rooms *room.Registry, m *metrics.Metrics, log *slog.Logger) *Relay {
	if log == nil {
		log = slog.Default()
	}
	return &Relay{rooms: rooms, metrics: m, log: log}
}

// Join attaches conn to roomID. admit runs under the room lock before the
// other participant hears user-connected; see room.Registry.Join.
func (r *Relay) Join(roomID string, conn room.Conn, admit func(st *room.State)) (room.JoinResult, error) {
	return r.rooms.Join(roomID, conn, admit)
}

// Leave detaches conn if it still holds its slot; the remaining participant
// hears user-disconnected.
func (r *Relay) Leave(roomID string, conn room.Conn) bool {
	return r.rooms.Detach(roomID, conn)
}

func (r *Relay) SendOffer(roomID string, from room.Conn, to string, sdp protocol.Payload) error {
	return r.forward(roomID, from, protocol.Negotiation{Kind: protocol.KindOffer, To: to, Data: sdp})
}

func (r *Relay) SendAnswer(roomID string, from room.Conn, to string, sdp protocol.Payload) error {
	return r.forward(roomID, from, protocol.Negotiation{Kind: protocol.KindAnswer, To: to, Data: sdp})
}

func (r *Relay) SendIceCandidate(roomID string, from room.Conn, to string, candidate protocol.Payload) error {
	return r.forward(roomID, from, protocol.Negotiation{Kind: protocol.KindCandidate, To: to, Data: candidate})
}

// forward delivers n from the participant on from to n.To. Delivery happens
// under the room lock, so two payloads from the same sender arrive in the
// order they were forwarded.
func (r *Relay) forward(roomID string, from room.Conn, n protocol.Negotiation) error {
	n.From = from.UserID()
	rm, ok := r.rooms.Get(roomID)
	if !ok {
		r.log.Warn("negotiation for unknown room", "room", roomID, "from", n.From, "kind", n.Kind)
		r.count(n.Kind, metrics.UnknownRoom)
		return room.ErrNotFound
	}

	var err error
	rm.Do(func(st *room.State) {
		switch {
		case !st.Holds(from):
			err = ErrNotInRoom
		case n.To == n.From || !st.SendTo(n.To, n.Message(roomID)):
			err = ErrTargetAbsent
		}
	})

	switch {
	case err == nil:
		r.count(n.Kind, metrics.Delivered)
	case errors.Is(err, ErrTargetAbsent):
		r.log.Info("dropped negotiation for absent target", "room", roomID, "from", n.From, "to", n.To, "kind", n.Kind)
		r.count(n.Kind, metrics.Dropped)
	default:
		r.log.Warn("negotiation from outside the room", "room", roomID, "from", n.From, "conn", from.ID(), "kind", n.Kind)
		r.count(n.Kind, metrics.Dropped)
	}
	return err
}

func (r *Relay) count(kind protocol.NegotiationKind, outcome string) {
	if r.metrics != nil {
		r.metrics.Signals.WithLabelValues(kind.String(), outcome).Inc()
	}
}
