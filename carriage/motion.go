package carriage

import (
	"fmt"
	"log"
	"time"

	"github.com/vacrouter/vacrouter/board"
)

// MoveRight moves one outlet to the right.
func (c *Controller) MoveRight(src Source) (Report, error) {
	defer c.begin(src)()
	return c.move(Right)
}

// MoveLeft moves one outlet to the left.
func (c *Controller) MoveLeft(src Source) (Report, error) {
	defer c.begin(src)()
	return c.move(Left)
}

// NudgeRight drives right for the short nudge window. The tracked
// position does not change.
func (c *Controller) NudgeRight(src Source) error {
	defer c.begin(src)()
	return c.nudge(Right)
}

// NudgeLeft drives left for the short nudge window.
func (c *Controller) NudgeLeft(src Source) error {
	defer c.begin(src)()
	return c.nudge(Left)
}

// GoTo issues as many full moves as it takes to reach target.
func (c *Controller) GoTo(src Source, target Position) (Report, error) {
	defer c.begin(src)()
	if !target.Known() {
		return c.report(), fmt.Errorf("go to outlet %d: %w", target, ErrRange)
	}
	r := c.report()
	if !r.Current.Known() {
		log.Printf("ERROR: (GO%s) Machine not homed. SOURCE: %v", target.Outlet(), src)
		return r, fmt.Errorf("go to %s: %w", target.Outlet(), ErrNotHomed)
	}
	for r.Current != target {
		dir := Right
		if target < r.Current {
			dir = Left
		}
		var err error
		if r, err = c.move(dir); err != nil {
			return r, fmt.Errorf("go to %s: %w", target.Outlet(), err)
		}
	}
	return r, nil
}

func (c *Controller) GoWorkbench(src Source) (Report, error) { return c.GoTo(src, Workbench) }
func (c *Controller) GoChopSaw(src Source) (Report, error)   { return c.GoTo(src, ChopSaw) }
func (c *Controller) GoCNC(src Source) (Report, error)       { return c.GoTo(src, CNC) }

func (c *Controller) move(dir Direction) (Report, error) {
	c.mu.Lock()
	prev := c.state.Position
	err := c.driveLocked(dir)
	if err == nil {
		c.state.PreviousPosition = prev
	}
	c.mu.Unlock()
	c.notifyStatus()
	if err != nil {
		return c.report(), fmt.Errorf("move %v: %w", dir, err)
	}

	c.travel(c.timing.SensorFalloff, c.timing.SafetyCutoff)

	c.mu.Lock()
	halted := c.state.Halted
	if halted {
		c.state.Position = Unknown
	} else if next := c.state.Position + dir.step(); c.state.Position.Known() && next.Known() {
		c.state.Position = next
	}
	r := Report{Previous: c.state.PreviousPosition, Current: c.state.Position}
	c.mu.Unlock()
	c.notifyStatus()
	if halted {
		log.Printf("ERROR: move %v stopped between outlets, position unknown. SOURCE: %v", dir, c.source())
		return r, fmt.Errorf("move %v: %w", dir, ErrHalted)
	}
	log.Printf("OK %v", r)
	return r, nil
}

func (c *Controller) nudge(dir Direction) error {
	if err := c.drive(dir); err != nil {
		return fmt.Errorf("nudge %v: %w", dir, err)
	}
	c.travel(c.timing.SensorFalloff, c.timing.SensorFalloff)
	return nil
}

// travel runs an engaged motor: it opens the sensor override for window,
// then waits up to limit for the sensor to halt the motor, and finally
// releases both lines whatever happened.
func (c *Controller) travel(window, limit time.Duration) {
	start := c.clock.Now()
	c.mu.Lock()
	c.state.OverrideUntil = start.Add(window)
	c.mu.Unlock()

	c.wait(start, window, nil)
	c.wait(start.Add(window), limit, c.motorStopped)

	if err := c.release(); err != nil {
		log.Printf("MOTOR: safety stop: %v", err)
	}
}

// wait blocks until d has passed since the timestamp or done reports true,
// sleeping at most one poll interval at a time.
func (c *Controller) wait(since time.Time, d time.Duration, done func() bool) {
	for !board.Elapsed(c.clock, since, d) {
		if done != nil && done() {
			return
		}
		c.clock.Sleep(c.pollWithin(since, d))
	}
}

func (c *Controller) pollWithin(since time.Time, d time.Duration) time.Duration {
	left := d - c.clock.Now().Sub(since)
	if c.timing.Poll > 0 && left > c.timing.Poll {
		return c.timing.Poll
	}
	if left <= 0 {
		return 0
	}
	return left
}
