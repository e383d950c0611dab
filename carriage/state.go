// Package carriage positions the vacuum-hose carriage among its three
// outlets. The carriage has no encoder: its position is discovered by
// probing for stop points with the proximity sensor (homing) and tracked
// afterwards by counting full moves.
package carriage

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/vacrouter/vacrouter/board"
)

// Position is an outlet number, left to right, or Unknown.
type Position int

const (
	Unknown   Position = -1
	Workbench Position = 1
	ChopSaw   Position = 2
	CNC       Position = 3

	minPosition    = Workbench
	maxPosition    = CNC
	centerPosition = ChopSaw
)

// Known reports whether p names an outlet.
func (p Position) Known() bool {
	return p >= minPosition && p <= maxPosition
}

// Outlet returns the name of the tool served at p.
func (p Position) Outlet() string {
	switch p {
	case Workbench:
		return "WORKBENCH"
	case ChopSaw:
		return "CHOPSAW"
	case CNC:
		return "CNC"
	}
	return "UNKNOWN"
}

type SensorState int

const (
	Idle SensorState = iota
	Triggered
)

func (s SensorState) String() string {
	if s == Triggered {
		return "TRIGGERED"
	}
	return "IDLE"
}

func (s SensorState) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// sensorStateFor maps a raw sensor level. The sensor is active-low.
func sensorStateFor(l board.Level) SensorState {
	if l == board.Low {
		return Triggered
	}
	return Idle
}

type DriveState int

const (
	Stopped DriveState = iota
	DrivingForward
	DrivingReverse
)

func (d DriveState) String() string {
	switch d {
	case DrivingForward:
		return "FORWARD"
	case DrivingReverse:
		return "REVERSE"
	}
	return "STOPPED"
}

func (d DriveState) MarshalText() ([]byte, error) { return []byte(d.String()), nil }

// HomingStage counts through a homing run. It only increases within a run.
type HomingStage int

const (
	Inactive HomingStage = iota
	Stage1
	Stage2
	Stage3
	Stage4
	Resolved
)

func (s HomingStage) String() string {
	switch s {
	case Inactive:
		return "INACTIVE"
	case Resolved:
		return "RESOLVED"
	}
	return fmt.Sprintf("STAGE%d", int(s))
}

// Active reports whether a probing stage is in progress.
func (s HomingStage) Active() bool {
	return s >= Stage1 && s <= Stage4
}

type Direction int

const (
	Left Direction = iota
	Right
)

func (d Direction) String() string {
	if d == Right {
		return "RIGHT"
	}
	return "LEFT"
}

func (d Direction) MarshalText() ([]byte, error) { return []byte(d.String()), nil }

func (d Direction) Opposite() Direction {
	if d == Right {
		return Left
	}
	return Right
}

func (d Direction) line() board.Line {
	if d == Right {
		return board.Forward
	}
	return board.Reverse
}

func (d Direction) step() Position {
	if d == Right {
		return 1
	}
	return -1
}

func (d Direction) symbol() Symbol {
	if d == Right {
		return SymbolRight
	}
	return SymbolLeft
}

// Source records who started the action in flight. It only feeds
// diagnostics.
type Source int

const (
	SourceInit Source = iota
	SourceCommand
	SourceButton
	SourceSensor
)

func (s Source) String() string {
	switch s {
	case SourceInit:
		return "INIT"
	case SourceCommand:
		return "CLI"
	case SourceButton:
		return "BUTTON"
	case SourceSensor:
		return "SENSOR"
	}
	return fmt.Sprintf("Source(%d)", int(s))
}

func (s Source) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Timing holds every duration the controller waits on.
type Timing struct {
	// Debounce is how long a sensor change must hold before it counts.
	Debounce time.Duration
	// SensorFalloff is the override window opened when a move starts, so
	// the stop point being left does not halt the motor.
	SensorFalloff time.Duration
	// SafetyCutoff bounds a full move after the override window.
	SafetyCutoff time.Duration
	HomingLong   time.Duration
	HomingShort  time.Duration
	// ProbeSettle is the pause after some homing probes.
	ProbeSettle time.Duration
	// Poll is the longest single blocking sleep inside a wait.
	Poll          time.Duration
	AnimationStep time.Duration
	IdleBlink     time.Duration
	// Tick is the period of the idle indicator loop.
	Tick time.Duration
}

func DefaultTiming() Timing {
	falloff := 300 * time.Millisecond
	cutoff := 2000*time.Millisecond - falloff
	long := cutoff + 500*time.Millisecond
	return Timing{
		Debounce:      50 * time.Millisecond,
		SensorFalloff: falloff,
		SafetyCutoff:  cutoff,
		HomingLong:    long,
		HomingShort:   long / 2,
		ProbeSettle:   250 * time.Millisecond,
		Poll:          5 * time.Millisecond,
		AnimationStep: 333 * time.Millisecond,
		IdleBlink:     3 * time.Second,
		Tick:          100 * time.Millisecond,
	}
}

// ControllerState is the whole mutable state of the controller. It is
// shared between the sensor handler and command execution.
type ControllerState struct {
	Position         Position
	PreviousPosition Position
	Sensor           SensorState
	PreviousSensor   SensorState
	// OverrideUntil ends the sensor override window. Sensor edges
	// committed before it have no side effects.
	OverrideUntil time.Time
	Stage         HomingStage
	HomeDirection Direction
	TriggerOrder  Sequence
	Source        Source
	// Halted is set when Stop releases a drive that was still running.
	// The next command or drive clears it.
	Halted bool

	lastRaw    board.Level
	color      board.Color
	colorSet   bool
	blinkOn    bool
	blinkSince time.Time
}

// Status is a snapshot of the controller for reporting.
type Status struct {
	Position         Position
	PreviousPosition Position
	Outlet           string
	Sensor           SensorState
	Drive            DriveState
	Stage            HomingStage
	HomeDirection    Direction
	TriggerOrder     string
	Overridden       bool
	Halted           bool
	Indicator        board.Color
	Source           Source
}

type StatusCallback func(status Status)

// Report is the position pair reported after a move or a homing run.
type Report struct {
	Previous Position
	Current  Position
}

func (r Report) String() string {
	return fmt.Sprintf("PPOS: %d CPOS: %d", r.Previous, r.Current)
}

type Controller struct {
	board          board.Board
	clock          board.Clock
	timing         Timing
	statusCallback StatusCallback

	// cmdMu is held for the whole of a command. Stop does not take it.
	cmdMu sync.Mutex

	mu    sync.Mutex
	state ControllerState
}

// New returns a controller at an unknown position with the motor released.
// statusCallback may be nil.
func New(b board.Board, clock board.Clock, timing Timing, statusCallback StatusCallback) *Controller {
	c := &Controller{
		board:          b,
		clock:          clock,
		timing:         timing,
		statusCallback: statusCallback,
		state: ControllerState{
			Position:         Unknown,
			PreviousPosition: Unknown,
			Source:           SourceInit,
			blinkSince:       clock.Now(),
		},
	}
	raw := b.SensorLevel()
	c.state.lastRaw = raw
	c.state.Sensor = sensorStateFor(raw)
	c.state.PreviousSensor = c.state.Sensor
	c.mu.Lock()
	if err := c.stopLocked(); err != nil {
		log.Printf("MOTOR: releasing lines at init: %v", err)
	}
	c.mu.Unlock()
	log.Printf("SENSOR: %v (%v) at init", c.state.Sensor, raw)
	return c
}

// Status returns a snapshot of the current state.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.statusLocked()
}

func (c *Controller) statusLocked() Status {
	s := c.state
	return Status{
		Position:         s.Position,
		PreviousPosition: s.PreviousPosition,
		Outlet:           s.Position.Outlet(),
		Sensor:           s.Sensor,
		Drive:            c.driveState(),
		Stage:            s.Stage,
		HomeDirection:    s.HomeDirection,
		TriggerOrder:     s.TriggerOrder.String(),
		Overridden:       c.overriddenLocked(),
		Halted:           s.Halted,
		Indicator:        s.color,
		Source:           s.Source,
	}
}

func (c *Controller) notifyStatus() {
	if c.statusCallback == nil {
		return
	}
	c.statusCallback(c.Status())
}

func (c *Controller) driveState() DriveState {
	switch {
	case c.board.Line(board.Forward):
		return DrivingForward
	case c.board.Line(board.Reverse):
		return DrivingReverse
	}
	return Stopped
}

// Position returns the tracked outlet position.
func (c *Controller) Position() Position {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.Position
}

func (c *Controller) report() Report {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Report{Previous: c.state.PreviousPosition, Current: c.state.Position}
}

// begin serializes a command and attributes it to src. Call the returned
// func when the command is done.
func (c *Controller) begin(src Source) func() {
	c.cmdMu.Lock()
	c.mu.Lock()
	c.state.Source = src
	c.state.Halted = false
	c.mu.Unlock()
	return c.cmdMu.Unlock
}
