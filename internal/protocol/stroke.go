package protocol

import (
	"errors"
	"fmt"
	"math"
)

// Point is one sampled pointer position.
type Point struct {
	X float64 `json:"x" msgpack:"x"`
	Y float64 `json:"y" msgpack:"y"`
}

// Stroke is one pointer-down to pointer-up gesture.
type Stroke struct {
	Points []Point `json:"points" msgpack:"points"`
	Color  string  `json:"color" msgpack:"color"`
	Width  float64 `json:"size" msgpack:"size"`
}

var (
	ErrEmptyStroke   = errors.New("stroke has no points")
	ErrStrokeTooLong = errors.New("stroke has too many points")
	ErrStrokeColor   = errors.New("stroke color is required")
	ErrStrokeWidth   = errors.New("stroke width must be positive")
	ErrStrokePoint   = errors.New("stroke point is not finite")
)

// Validate checks s against maxPoints (0 disables the limit).
func (s *Stroke) Validate(maxPoints int) error {
	switch {
	case len(s.Points) == 0:
		return ErrEmptyStroke
	case maxPoints > 0 && len(s.Points) > maxPoints:
		return fmt.Errorf("%w: %d > %d", ErrStrokeTooLong, len(s.Points), maxPoints)
	case s.Color == "":
		return ErrStrokeColor
	case !(s.Width > 0):
		return ErrStrokeWidth
	}
	for _, p := range s.Points {
		if !finite(p.X) || !finite(p.Y) {
			return ErrStrokePoint
		}
	}
	return nil
}

// Clone returns a deep copy so stored strokes never alias caller memory.
func (s Stroke) Clone() Stroke {
	s.Points = append([]Point(nil), s.Points...)
	return s
}

func finite(f float64) bool { return !math.IsNaN(f) && !math.IsInf(f, 0) }
