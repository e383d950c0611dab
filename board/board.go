// Package board describes the hardware a carriage controller drives: two
// motor relay lines, one proximity sensor, a two-color indicator and the
// panel buttons.
package board

import (
	"context"
	"fmt"
)

// Level is a raw electrical level read from an input pin.
type Level bool

const (
	Low  Level = false
	High Level = true
)

func (l Level) String() string {
	if l {
		return "HIGH"
	}
	return "LOW"
}

// Line selects one of the two motor relay lines.
type Line int

const (
	// Forward moves the carriage right (retracts the actuator).
	Forward Line = iota
	// Reverse moves the carriage left (extends the actuator).
	Reverse
)

func (l Line) String() string {
	switch l {
	case Forward:
		return "FORWARD"
	case Reverse:
		return "REVERSE"
	}
	return fmt.Sprintf("Line(%d)", int(l))
}

// Opposite returns the complementary drive line.
func (l Line) Opposite() Line {
	if l == Forward {
		return Reverse
	}
	return Forward
}

type Color int

const (
	Off Color = iota
	Red
	Green
	Yellow
)

func (c Color) String() string {
	switch c {
	case Off:
		return "OFF"
	case Red:
		return "RED"
	case Green:
		return "GREEN"
	case Yellow:
		return "YELLOW"
	}
	return fmt.Sprintf("Color(%d)", int(c))
}

// RedGreen returns which of the two indicator LEDs are lit for c.
func (c Color) RedGreen() (red, green bool) {
	switch c {
	case Red:
		return true, false
	case Green:
		return false, true
	case Yellow:
		return true, true
	}
	return false, false
}

type Button int

const (
	// RedButton asks for one move to the left.
	RedButton Button = iota
	// GreenButton asks for one move to the right.
	GreenButton
)

func (b Button) String() string {
	switch b {
	case RedButton:
		return "RED"
	case GreenButton:
		return "GREEN"
	}
	return fmt.Sprintf("Button(%d)", int(b))
}

// EdgeCallback is invoked once per logic change on the sensor input.
type EdgeCallback func()

type Board interface {
	// SetLine asserts or releases a motor relay line.
	SetLine(line Line, on bool) error
	// Line reads back whether a motor relay line is asserted.
	Line(line Line) bool
	// SensorLevel samples the proximity sensor input. The sensor pulls
	// the input Low while it sees a stop point.
	SensorLevel() Level
	SetColor(c Color) error
	// Pressed reports whether a panel button is currently held.
	Pressed(b Button) bool
	// WatchEdges calls cb for sensor logic changes until ctx is done.
	// Calls are never concurrent with each other.
	WatchEdges(ctx context.Context, cb EdgeCallback) error
}

func (c Color) MarshalText() ([]byte, error) { return []byte(c.String()), nil }
