package carriage

import (
	"context"
	"log"
	"time"

	"github.com/vacrouter/vacrouter/board"
	"golang.org/x/sync/errgroup"
)

// setColorLocked drives the indicator, skipping writes that would not
// change it.
func (c *Controller) setColorLocked(color board.Color) {
	if c.state.colorSet && c.state.color == color {
		return
	}
	if err := c.board.SetColor(color); err != nil {
		log.Printf("INDICATOR: setting %v: %v", color, err)
		return
	}
	c.state.color = color
	c.state.colorSet = true
}

func (c *Controller) setColor(color board.Color) {
	c.mu.Lock()
	c.setColorLocked(color)
	c.mu.Unlock()
	c.notifyStatus()
}

// animateCompletion flashes red, yellow, then green and turns the
// indicator off.
func (c *Controller) animateCompletion() {
	for _, color := range []board.Color{board.Red, board.Yellow, board.Green} {
		c.setColor(color)
		c.clock.Sleep(c.timing.AnimationStep)
	}
	c.setColor(board.Off)
}

// Tick updates the indicator when the controller is otherwise idle. Before
// the first homing run it blinks green; after homing, a stopped carriage
// shows green. It does nothing while a command is in flight.
func (c *Controller) Tick() {
	if !c.cmdMu.TryLock() {
		return
	}
	defer c.cmdMu.Unlock()

	c.mu.Lock()
	changed := false
	switch {
	case c.state.Stage == Inactive:
		now := c.clock.Now()
		if board.Elapsed(c.clock, c.state.blinkSince, c.timing.IdleBlink) {
			c.state.blinkOn = !c.state.blinkOn
			c.state.blinkSince = now
			color := board.Off
			if c.state.blinkOn {
				color = board.Green
			}
			c.setColorLocked(color)
			changed = true
		}
	case c.state.Stage == Resolved && c.state.Position.Known() && c.motorStopped() && c.state.color != board.Green:
		c.setColorLocked(board.Green)
		changed = true
	}
	c.mu.Unlock()
	if changed {
		c.notifyStatus()
	}
}

// Run services sensor edges and the idle indicator until ctx is done.
func (c *Controller) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return c.board.WatchEdges(ctx, c.SensorEdge)
	})
	g.Go(func() error {
		tick := c.timing.Tick
		if tick <= 0 {
			tick = 100 * time.Millisecond
		}
		t := time.NewTicker(tick)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-t.C:
				c.Tick()
			}
		}
	})
	return g.Wait()
}
