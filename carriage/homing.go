package carriage

import (
	"fmt"
	"log"
	"time"
)

// HomingResult describes a homing run or a single manual stage.
type HomingResult struct {
	// Order is the trigger order accumulated so far, in L/R/N notation.
	Order string
	// Start is the zone the run began in, once resolved.
	Start string
	// Resolved is the outlet the trigger order decoded to.
	Resolved Position
	// Report is the final position pair, after any recentering move.
	Report Report
	// NoContact lists the stages that found no stop point.
	NoContact []HomingStage
}

// Home runs all homing stages and resolves the carriage position.
func (c *Controller) Home(src Source) (HomingResult, error) {
	defer c.begin(src)()
	res := HomingResult{Resolved: Unknown}
	c.startHoming()
	for stage := c.stage(); stage.Active(); stage = c.stage() {
		if err := c.step(stage, &res); err != nil {
			return res, err
		}
	}
	return res, nil
}

// RunStage runs one homing stage by hand. Stage1 starts a new run; the
// others must be called in order.
func (c *Controller) RunStage(src Source, stage HomingStage) (HomingResult, error) {
	defer c.begin(src)()
	res := HomingResult{Resolved: Unknown}
	if stage == Stage1 {
		c.startHoming()
		if c.stage() != Stage1 {
			res.Order = c.triggerOrder().String()
			return res, nil
		}
	}
	err := c.step(stage, &res)
	if res.Order == "" {
		res.Order = c.triggerOrder().String()
	}
	return res, err
}

// startHoming begins a run. A carriage already sitting on a stop point has
// nothing to find in stages 1 and 2, so they exit at once and probing
// starts at stage 3.
func (c *Controller) startHoming() {
	c.mu.Lock()
	c.state.TriggerOrder.Reset()
	c.state.Stage = Stage1
	onStop := c.state.Sensor == Triggered
	c.mu.Unlock()
	c.notifyStatus()
	if onStop {
		log.Printf("HOMING: starting on a stop point, probing from stage 3")
		c.exitStage(Stage1)
		c.exitStage(Stage2)
	}
}

func (c *Controller) step(stage HomingStage, res *HomingResult) error {
	if cur := c.stage(); cur != stage {
		return fmt.Errorf("stage %d requested during stage %d: %w", stage, cur, ErrStageOrder)
	}
	var contact bool
	switch stage {
	case Stage1:
		contact = c.stage1()
	case Stage2:
		contact = c.stage2()
	case Stage3:
		contact = c.stage3()
	case Stage4:
		contact = c.stage4()
	}
	if c.halted() {
		c.abortHoming()
		return fmt.Errorf("homing stage %d: %w", stage, ErrHalted)
	}
	if !contact {
		res.NoContact = append(res.NoContact, stage)
		log.Printf("HOMING_%d: %v. SOURCE: %v", stage, ErrHomingNoContact, c.source())
	}
	c.exitStage(stage)
	if stage == Stage4 {
		return c.resolve(res)
	}
	return nil
}

// abortHoming abandons a run cut short by Stop. Nothing learned so far
// can be trusted.
func (c *Controller) abortHoming() {
	c.mu.Lock()
	c.state.TriggerOrder.Reset()
	c.state.Stage = Inactive
	c.state.PreviousPosition = c.state.Position
	c.state.Position = Unknown
	c.mu.Unlock()
	c.notifyStatus()
	log.Printf("ERROR: homing stopped, position unknown. SOURCE: %v", c.source())
}

// exitStage is the only way out of a stage: stages 1-3 record a boundary
// and advance by one, stage 4 resolves.
func (c *Controller) exitStage(stage HomingStage) {
	c.mu.Lock()
	if stage < Stage4 {
		c.state.TriggerOrder.Append(SymbolBoundary)
		c.state.Stage = stage + 1
	} else {
		c.state.Stage = Resolved
	}
	c.mu.Unlock()
	c.notifyStatus()
}

// stage1 looks for a first stop point from a start between stops: right,
// then back past the start to the left, then further right.
func (c *Controller) stage1() bool {
	if c.onStop() {
		return true
	}
	short := c.timing.HomingShort
	c.probe(Right, short, false)
	if !c.onStop() {
		c.probe(Left, 2*short, false)
		c.clock.Sleep(c.timing.ProbeSettle)
		if !c.onStop() {
			c.probe(Right, 3*short, false)
			c.clock.Sleep(c.timing.ProbeSettle)
		}
	}
	if !c.onStop() {
		return false
	}
	log.Printf("HOMING_1: first stop detected %v of start position, TRIGGER_ORDER: %v", c.homeDirection(), c.triggerOrder())
	return true
}

// stage2 seeks a second stop point the other way, unless stage 1 already
// left the carriage on one.
func (c *Controller) stage2() bool {
	if c.onStop() {
		return true
	}
	c.probe(c.homeDirection().Opposite(), 2*c.timing.HomingShort, true)
	return c.onStop()
}

// stage3 probes left, then right back to a stop point.
func (c *Controller) stage3() bool {
	long := c.timing.HomingLong
	c.probe(Left, long, true)
	if !c.onStop() {
		log.Printf("HOMING_3: no points detected left of first point. SOURCE: %v", c.source())
		c.clock.Sleep(c.timing.ProbeSettle)
	}
	c.probe(Right, long, true)
	return c.onStop()
}

// stage4 probes right, then left back to a stop point.
func (c *Controller) stage4() bool {
	long := c.timing.HomingLong
	c.probe(Right, long, true)
	if !c.onStop() {
		log.Printf("HOMING_4: moving RIGHT did not find a stop point, returning. SOURCE: %v", c.source())
	}
	c.probe(Left, long, true)
	return c.onStop()
}

// probe drives toward dir for up to timeout. With bypass the sensor
// override window comes first, for probes that start on a stop point.
func (c *Controller) probe(dir Direction, timeout time.Duration, bypass bool) {
	if c.halted() {
		return
	}
	c.mu.Lock()
	c.state.HomeDirection = dir
	err := c.driveLocked(dir)
	c.mu.Unlock()
	c.notifyStatus()
	if err != nil {
		log.Printf("HOMING: probe %v: %v", dir, err)
		return
	}
	var window time.Duration
	if bypass {
		window = c.timing.SensorFalloff
	}
	c.travel(window, timeout)
}

// resolve decodes the trigger order, recenters on the middle outlet and
// plays the completion animation.
func (c *Controller) resolve(res *HomingResult) error {
	c.mu.Lock()
	order := c.state.TriggerOrder
	c.state.TriggerOrder.Reset()
	entry, ok := lookupHomed(order)
	c.state.PreviousPosition = c.state.Position
	if ok {
		c.state.Position = entry.end
	} else {
		c.state.Position = Unknown
	}
	pos := c.state.Position
	c.mu.Unlock()
	c.notifyStatus()

	res.Order = order.String()
	var err error
	if !ok {
		err = fmt.Errorf("trigger order %q: %w", order, ErrHomingUnresolved)
		log.Printf("ERROR: HOMING_4: %v", err)
		res.Report = c.report()
	} else {
		res.Start = entry.start
		res.Resolved = entry.end
		log.Printf("HOMING_4: TRIGGER_ORDER: %v start zone %v, carriage at outlet %d", order, entry.start, pos)
		if pos == centerPosition {
			res.Report = c.report()
			log.Printf("OK %v", res.Report)
		} else {
			log.Printf("Calibration complete, moving to default/start position (%d). SOURCE: %v", centerPosition, c.source())
			dir := Right
			if pos > centerPosition {
				dir = Left
			}
			res.Report, err = c.move(dir)
		}
	}
	c.animateCompletion()
	return err
}

func (c *Controller) stage() HomingStage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.Stage
}

func (c *Controller) onStop() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.Sensor == Triggered
}

func (c *Controller) homeDirection() Direction {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.HomeDirection
}

func (c *Controller) triggerOrder() Sequence {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.TriggerOrder
}

func (c *Controller) source() Source {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.Source
}
