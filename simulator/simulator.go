// Package simulator models the carriage on its track so the controller can
// run without hardware.
package simulator

import (
	"context"
	"log"
	"math"
	"sync"
	"time"

	"github.com/vacrouter/vacrouter/board"
)

// Track describes the simulated rail. Distances are in arbitrary units.
type Track struct {
	// Stops are the positions of the stop points the sensor detects.
	Stops []float64
	// Min and Max are the mechanical ends of travel.
	Min, Max float64
	// Speed is the carriage speed in units per second.
	Speed float64
	// Window is how far from a stop point the sensor still sees it.
	Window float64
}

// DefaultTrack has three stop points 100 units apart, one full move
// taking 1.5s.
func DefaultTrack() Track {
	return Track{
		Stops:  []float64{0, 100, 200},
		Min:    -30,
		Max:    230,
		Speed:  100 / 1.5,
		Window: 5,
	}
}

// Discrete simulation step size for Run
const stepSize = 5 * time.Millisecond

// Simulator implements board.Board over a simulated carriage.
type Simulator struct {
	track Track

	mu      sync.Mutex
	pos     float64
	lines   [2]bool
	color   board.Color
	pressed [2]bool
	faults  int
	level   board.Level

	// edges holds at most one pending sensor change, like an interrupt
	// flag.
	edges chan struct{}
}

// New places the carriage at pos.
func New(track Track, pos float64) *Simulator {
	s := &Simulator{
		track: track,
		pos:   pos,
		edges: make(chan struct{}, 1),
	}
	s.level = s.levelAt(pos)
	return s
}

func (s *Simulator) levelAt(pos float64) board.Level {
	for _, stop := range s.track.Stops {
		if math.Abs(pos-stop) <= s.track.Window {
			return board.Low
		}
	}
	return board.High
}

// Step advances the simulation by dt.
func (s *Simulator) Step(dt time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fwd, rev := s.lines[board.Forward], s.lines[board.Reverse]
	switch {
	case fwd && rev:
		s.faults++
		return
	case fwd:
		s.pos += s.track.Speed * dt.Seconds()
	case rev:
		s.pos -= s.track.Speed * dt.Seconds()
	default:
		return
	}
	if s.pos > s.track.Max {
		s.pos = s.track.Max
	} else if s.pos < s.track.Min {
		s.pos = s.track.Min
	}
	if l := s.levelAt(s.pos); l != s.level {
		s.level = l
		select {
		case s.edges <- struct{}{}:
		default:
		}
	}
}

// Run steps the simulation in real time until ctx is done.
func (s *Simulator) Run(ctx context.Context) error {
	t := time.NewTicker(stepSize)
	defer t.Stop()
	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-t.C:
			s.Step(now.Sub(last))
			last = now
		}
	}
}

// Edges signals pending sensor changes. Changes that arrive while one is
// already pending are coalesced.
func (s *Simulator) Edges() <-chan struct{} {
	return s.edges
}

func (s *Simulator) SetLine(line board.Line, on bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if on && s.lines[line.Opposite()] {
		log.Printf("sim: %v asserted while %v engaged", line, line.Opposite())
		s.faults++
	}
	s.lines[line] = on
	return nil
}

func (s *Simulator) Line(line board.Line) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lines[line]
}

func (s *Simulator) SensorLevel() board.Level {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.level
}

func (s *Simulator) SetColor(c board.Color) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.color = c
	return nil
}

func (s *Simulator) Pressed(b board.Button) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pressed[b]
}

// Press holds or releases a panel button.
func (s *Simulator) Press(b board.Button, pressed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pressed[b] = pressed
}

// WatchEdges delivers pending sensor changes to cb, one at a time.
func (s *Simulator) WatchEdges(ctx context.Context, cb board.EdgeCallback) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.edges:
			cb()
		}
	}
}

// Position returns the carriage position on the track.
func (s *Simulator) Position() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pos
}

// NearestStop returns the index of the stop point closest to the carriage.
func (s *Simulator) NearestStop() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	best, bestDist := -1, math.Inf(1)
	for i, stop := range s.track.Stops {
		if d := math.Abs(s.pos - stop); d < bestDist {
			best, bestDist = i, d
		}
	}
	return best
}

func (s *Simulator) Color() board.Color {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.color
}

// Faults counts simulation steps and writes with both lines asserted.
func (s *Simulator) Faults() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.faults
}
