// Package whiteboard keeps each room's shared drawing surface and the
// participant-side replica that reconstructs it.
package whiteboard

import (
	"errors"
	"fmt"

	"github.com/skillbridge/liveroom/internal/protocol"
	"github.com/skillbridge/liveroom/internal/room"
)

var (
	ErrNotJoined = errors.New("author is not attached to the room")
	ErrFull      = errors.New("whiteboard is full")
)

// Limits bounds what a single room may hold.
type Limits struct {
	MaxPoints  int
	MaxStrokes int
}

// Store appends, clears and replays strokes. The strokes themselves live in
// the room state so they share its lock and its lifetime.
type Store struct {
	rooms  *room.Registry
	limits Limits
}

func NewStore(rooms *room.Registry, limits Limits) *Store {
	return &Store{rooms: rooms, limits: limits}
}

// GetState returns a copy of the ordered strokes of roomID.
func (s *Store) GetState(roomID string) ([]protocol.Stroke, error) {
	r, ok := s.rooms.Get(roomID)
	if !ok {
		return nil, room.ErrNotFound
	}
	var out []protocol.Stroke
	r.Do(func(st *room.State) { out = cloneStrokes(st.Strokes) })
	return out, nil
}

// ReplayTo sends whiteboard-state to to. The snapshot and its delivery
// happen under the room lock, so no stroke can slip between them.
func (s *Store) ReplayTo(roomID string, to room.Conn) error {
	r, ok := s.rooms.Get(roomID)
	if !ok {
		return room.ErrNotFound
	}
	var err error
	r.Do(func(st *room.State) {
		if !st.Holds(to) {
			err = ErrNotJoined
			return
		}
		to.Deliver(StateMessage(roomID, st.Strokes))
	})
	return err
}

// StateMessage builds the whiteboard-state message for strokes.
func StateMessage(roomID string, strokes []protocol.Stroke) *protocol.Message {
	return &protocol.Message{
		Type:    protocol.TypeWhiteboardState,
		RoomID:  roomID,
		Strokes: cloneStrokes(strokes),
	}
}

// AppendStroke stores stroke drawn by from and relays it to every other
// participant.
func (s *Store) AppendStroke(roomID string, from room.Conn, stroke protocol.Stroke) error {
	if err := stroke.Validate(s.limits.MaxPoints); err != nil {
		return err
	}
	r, ok := s.rooms.Get(roomID)
	if !ok {
		return room.ErrNotFound
	}

	stroke = stroke.Clone()
	author := from.UserID()
	var err error
	r.Do(func(st *room.State) {
		if !st.Holds(from) {
			err = ErrNotJoined
			return
		}
		if s.limits.MaxStrokes > 0 && len(st.Strokes) >= s.limits.MaxStrokes {
			err = fmt.Errorf("%w: %d strokes", ErrFull, len(st.Strokes))
			return
		}
		st.Strokes = append(st.Strokes, stroke)
		st.Broadcast(&protocol.Message{
			Type:   protocol.TypeDrawStroke,
			RoomID: roomID,
			UserID: author,
			Stroke: &stroke,
		}, author)
	})
	return err
}

// Clear empties the board and tells everyone, including by.
func (s *Store) Clear(roomID string, by room.Conn) error {
	r, ok := s.rooms.Get(roomID)
	if !ok {
		return room.ErrNotFound
	}
	var err error
	r.Do(func(st *room.State) {
		if !st.Holds(by) {
			err = ErrNotJoined
			return
		}
		st.Strokes = nil
		st.Broadcast(&protocol.Message{Type: protocol.TypeClearBoard, RoomID: roomID, UserID: by.UserID()}, "")
	})
	return err
}

func cloneStrokes(in []protocol.Stroke) []protocol.Stroke {
	out := make([]protocol.Stroke, len(in))
	for i, s := range in {
		out[i] = s.Clone()
	}
	return out
}
