package whiteboard

import (
	"errors"
	"sync"

	"github.com/skillbridge/liveroom/internal/protocol"
)

// ErrNotSynced is returned by Board.Draw before the initial state arrived.
var ErrNotSynced = errors.New("whiteboard not synced yet")

// Board is a participant's replica. Live draw-stroke and clear-board
// messages are ignored until whiteboard-state has been applied, which is
// what keeps a late joiner from seeing a stroke twice.
type Board struct {
	mu      sync.Mutex
	strokes []protocol.Stroke
	synced  bool
}

// Apply folds an incoming relay message into the replica and reports
// whether it changed anything.
func (b *Board) Apply(msg *protocol.Message) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch msg.Type {
	case protocol.TypeWhiteboardState:
		b.strokes = cloneStrokes(msg.Strokes)
		b.synced = true
		return true
	case protocol.TypeDrawStroke:
		if !b.synced || msg.Stroke == nil {
			return false
		}
		b.strokes = append(b.strokes, msg.Stroke.Clone())
		return true
	case protocol.TypeClearBoard:
		if !b.synced {
			return false
		}
		b.strokes = nil
		return true
	}
	return false
}

// Draw records a locally drawn stroke. The caller sends it to the relay,
// which echoes it to the peer but not back here.
func (b *Board) Draw(s protocol.Stroke) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.synced {
		return ErrNotSynced
	}
	b.strokes = append(b.strokes, s.Clone())
	return nil
}

// Strokes returns a copy of the replica.
func (b *Board) Strokes() []protocol.Stroke {
	b.mu.Lock()
	defer b.mu.Unlock()
	return cloneStrokes(b.strokes)
}

func (b *Board) Synced() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.synced
}

// Reset drops the replica, e.g. after a reconnect.
func (b *Board) Reset() {
	b.mu.Lock()
	b.strokes, b.synced = nil, false
	b.mu.Unlock()
}
