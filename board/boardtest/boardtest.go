// Package boardtest provides a virtual clock and a recording board for
// exercising controller logic without hardware or wall-clock waits.
package boardtest

import (
	"context"
	"sync"
	"time"

	"github.com/vacrouter/vacrouter/board"
)

// Clock is a virtual board.Clock. Sleep advances time in fixed steps and
// runs every registered hook after each step, in the sleeping goroutine.
// Hooks may themselves call Sleep.
type Clock struct {
	mu    sync.Mutex
	now   time.Time
	step  time.Duration
	hooks []func(dt time.Duration)
}

func NewClock() *Clock {
	return &Clock{
		now:  time.Date(2022, time.March, 14, 9, 0, 0, 0, time.UTC),
		step: time.Millisecond,
	}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *Clock) Sleep(d time.Duration) {
	for d > 0 {
		dt := c.step
		if d < dt {
			dt = d
		}
		c.mu.Lock()
		c.now = c.now.Add(dt)
		hooks := c.hooks
		c.mu.Unlock()
		d -= dt
		for _, h := range hooks {
			h(dt)
		}
	}
}

// OnStep registers h to run after every step of virtual time.
func (c *Clock) OnStep(h func(dt time.Duration)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hooks = append(c.hooks, h)
}

// Board records everything written to it. The sensor reads High (no stop
// point) until SetLevel says otherwise.
type Board struct {
	mu      sync.Mutex
	lines   [2]bool
	asserts [2]int
	faults  int
	level   board.Level
	color   board.Color
	colors  []board.Color
	pressed [2]bool
}

func NewBoard() *Board {
	return &Board{level: board.High}
}

func (b *Board) SetLine(line board.Line, on bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if on && b.lines[line.Opposite()] {
		b.faults++
	}
	if on && !b.lines[line] {
		b.asserts[line]++
	}
	b.lines[line] = on
	return nil
}

func (b *Board) Line(line board.Line) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lines[line]
}

func (b *Board) SensorLevel() board.Level {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.level
}

func (b *Board) SetLevel(l board.Level) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.level = l
}

func (b *Board) SetColor(c board.Color) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.color = c
	b.colors = append(b.colors, c)
	return nil
}

// Color returns the last color written.
func (b *Board) Color() board.Color {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.color
}

// Colors returns every color written, in order.
func (b *Board) Colors() []board.Color {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]board.Color(nil), b.colors...)
}

func (b *Board) Pressed(btn board.Button) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.pressed[btn]
}

func (b *Board) SetPressed(btn board.Button, pressed bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pressed[btn] = pressed
}

// Asserts counts how many times line went from released to asserted.
func (b *Board) Asserts(line board.Line) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.asserts[line]
}

// Faults counts writes that asserted a line while the other was asserted.
func (b *Board) Faults() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.faults
}

func (b *Board) WatchEdges(ctx context.Context, cb board.EdgeCallback) error {
	<-ctx.Done()
	return nil
}
