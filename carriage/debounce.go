package carriage

import (
	"log"

	"github.com/vacrouter/vacrouter/board"
)

// SensorEdge handles one logic change on the sensor input. It is the
// interrupt handler: it blocks for at most the debounce window and must not
// be called while a previous call is still running.
func (c *Controller) SensorEdge() {
	raw := c.board.SensorLevel()
	c.mu.Lock()
	c.state.lastRaw = raw
	candidate := sensorStateFor(raw)
	stable := c.state.Sensor
	c.mu.Unlock()
	if candidate == stable {
		return
	}
	if !c.settle(raw) {
		return
	}
	c.mu.Lock()
	c.commitSensorLocked(candidate)
	c.mu.Unlock()
	c.notifyStatus()
}

// settle samples the input through the debounce window and reports whether
// it held at raw the whole time.
func (c *Controller) settle(raw board.Level) bool {
	start := c.clock.Now()
	for !board.Elapsed(c.clock, start, c.timing.Debounce) {
		c.clock.Sleep(c.pollWithin(start, c.timing.Debounce))
		if c.board.SensorLevel() != raw {
			return false
		}
	}
	return true
}

func (c *Controller) commitSensorLocked(next SensorState) {
	prevSource := c.state.Source
	c.state.Source = SourceSensor
	defer func() { c.state.Source = prevSource }()

	c.state.PreviousSensor = c.state.Sensor
	c.state.Sensor = next
	if next != Triggered || c.overriddenLocked() {
		return
	}
	if err := c.stopLocked(); err != nil {
		log.Printf("SENSOR: stopping motor: %v", err)
	}
	if c.state.Stage.Active() {
		c.setColorLocked(board.Green)
		c.state.TriggerOrder.Append(c.state.HomeDirection.symbol())
	} else {
		c.setColorLocked(board.Yellow)
	}
}

func (c *Controller) overriddenLocked() bool {
	return c.clock.Now().Before(c.state.OverrideUntil)
}
