package carriage

import (
	"fmt"
	"log"

	"github.com/vacrouter/vacrouter/board"
	"go.uber.org/multierr"
)

// The interlock is the only code that asserts a drive line. A line is only
// asserted after reading back that the opposite one is released.

// DriveForward asserts the forward (right) line.
func (c *Controller) DriveForward() error {
	return c.drive(Right)
}

// DriveReverse asserts the reverse (left) line.
func (c *Controller) DriveReverse() error {
	return c.drive(Left)
}

func (c *Controller) drive(dir Direction) error {
	c.mu.Lock()
	err := c.driveLocked(dir)
	c.mu.Unlock()
	c.notifyStatus()
	return err
}

func (c *Controller) driveLocked(dir Direction) error {
	line := dir.line()
	if c.board.Line(line.Opposite()) {
		log.Printf("ERROR: drive %v ignored, %v already engaged. SOURCE: %v", line, line.Opposite(), c.state.Source)
		return fmt.Errorf("drive %v: %w", dir, ErrInterlock)
	}
	if !c.travelLegalLocked(dir) {
		log.Printf("ERROR: requested travel would exceed range. CPOS: %d SOURCE: %v", c.state.Position, c.state.Source)
		return fmt.Errorf("drive %v from %d: %w", dir, c.state.Position, ErrRange)
	}
	color := board.Red
	if c.state.Stage.Active() {
		color = board.Yellow
	}
	c.setColorLocked(color)
	if err := c.board.SetLine(line, true); err != nil {
		return fmt.Errorf("asserting %v: %w", line, err)
	}
	c.state.Halted = false
	return nil
}

// travelLegalLocked allows any travel while the position is unknown or a
// homing run is probing.
func (c *Controller) travelLegalLocked(dir Direction) bool {
	p := c.state.Position
	if !p.Known() || c.state.Stage.Active() {
		return true
	}
	if dir == Right {
		return p < maxPosition
	}
	return p > minPosition
}

// Stop releases both drive lines. It never waits for a command in flight;
// a move or homing run it interrupts ends with ErrHalted.
func (c *Controller) Stop() error {
	c.mu.Lock()
	if !c.motorStopped() {
		c.state.Halted = true
	}
	err := c.stopLocked()
	c.mu.Unlock()
	c.notifyStatus()
	return err
}

// release ends a drive the controller itself timed out.
func (c *Controller) release() error {
	c.mu.Lock()
	err := c.stopLocked()
	c.mu.Unlock()
	c.notifyStatus()
	return err
}

func (c *Controller) halted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.Halted
}

func (c *Controller) stopLocked() error {
	if !c.board.Line(board.Forward) && !c.board.Line(board.Reverse) {
		return nil
	}
	log.Printf("MOTOR: STOP ISSUED BY SOURCE: %v", c.state.Source)
	err := multierr.Combine(
		c.board.SetLine(board.Forward, false),
		c.board.SetLine(board.Reverse, false),
	)
	// A triggered sensor owns the indicator.
	if c.state.Sensor != Triggered {
		c.setColorLocked(board.Off)
	}
	return err
}

func (c *Controller) motorStopped() bool {
	return !c.board.Line(board.Forward) && !c.board.Line(board.Reverse)
}
