// Package buttons turns the panel push buttons into carriage moves: red
// moves one outlet left, green one outlet right.
package buttons

import (
	"context"
	"log"
	"time"

	"github.com/vacrouter/vacrouter/board"
	"github.com/vacrouter/vacrouter/carriage"
)

const (
	// Debounce is how long a reading must hold before it counts.
	Debounce = 50 * time.Millisecond
	// PollInterval is how often Run samples the buttons.
	PollInterval = 10 * time.Millisecond
)

type Buttons interface {
	Pressed(b board.Button) bool
}

type Mover interface {
	MoveLeft(src carriage.Source) (carriage.Report, error)
	MoveRight(src carriage.Source) (carriage.Report, error)
}

type input struct {
	reading    bool
	lastChange time.Time
	stable     bool
	presses    int
}

// Panel debounces the buttons with timestamps only; Poll never blocks on
// the debounce window.
type Panel struct {
	buttons Buttons
	clock   board.Clock
	mover   Mover
	inputs  [2]input
}

func New(buttons Buttons, clock board.Clock, mover Mover) *Panel {
	p := &Panel{buttons: buttons, clock: clock, mover: mover}
	now := clock.Now()
	for i := range p.inputs {
		p.inputs[i].lastChange = now
	}
	return p
}

// Poll samples both buttons once and runs the move for each button whose
// press has just become stable.
func (p *Panel) Poll() {
	for _, b := range []board.Button{board.RedButton, board.GreenButton} {
		if p.sample(b) {
			p.fire(b)
		}
	}
}

// sample reports whether b has just settled into the pressed state.
func (p *Panel) sample(b board.Button) bool {
	in := &p.inputs[b]
	reading := p.buttons.Pressed(b)
	if reading != in.reading {
		in.reading = reading
		in.lastChange = p.clock.Now()
		return false
	}
	if reading == in.stable || !board.Elapsed(p.clock, in.lastChange, Debounce) {
		return false
	}
	in.stable = reading
	if !reading {
		return false
	}
	in.presses++
	return true
}

func (p *Panel) fire(b board.Button) {
	move, dir := p.mover.MoveRight, "right"
	if b == board.RedButton {
		move, dir = p.mover.MoveLeft, "left"
	}
	log.Printf("BUTTON: %v pressed %d times, moving %s", b, p.inputs[b].presses, dir)
	r, err := move(carriage.SourceButton)
	if err != nil {
		log.Printf("BUTTON: %v: %v", b, err)
		return
	}
	log.Printf("OK %v", r)
}

// Presses counts accepted presses of b.
func (p *Panel) Presses(b board.Button) int {
	return p.inputs[b].presses
}

// Run polls the buttons until ctx is done. Moves run on the polling
// goroutine, so presses during a move are ignored.
func (p *Panel) Run(ctx context.Context) error {
	t := time.NewTicker(PollInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			p.Poll()
		}
	}
}
