package command

import (
	"fmt"
	"io"
	"log"

	"github.com/vacrouter/vacrouter/carriage"
)

// Controller is the part of the carriage controller commands drive.
type Controller interface {
	Stop() error
	MoveRight(src carriage.Source) (carriage.Report, error)
	MoveLeft(src carriage.Source) (carriage.Report, error)
	NudgeRight(src carriage.Source) error
	NudgeLeft(src carriage.Source) error
	GoTo(src carriage.Source, target carriage.Position) (carriage.Report, error)
	RunStage(src carriage.Source, stage carriage.HomingStage) (carriage.HomingResult, error)
	Home(src carriage.Source) (carriage.HomingResult, error)
	Status() carriage.Status
}

type Dispatcher struct {
	c   Controller
	src carriage.Source
}

// NewDispatcher attributes every command it runs to the external command
// source.
func NewDispatcher(c Controller) *Dispatcher {
	return &Dispatcher{c: c, src: carriage.SourceCommand}
}

var gotoTargets = map[string]carriage.Position{
	ArgWorkbench: carriage.Workbench,
	ArgChopSaw:   carriage.ChopSaw,
	ArgCNC:       carriage.CNC,
}

var stages = map[string]carriage.HomingStage{
	"H1": carriage.Stage1,
	"H2": carriage.Stage2,
	"H3": carriage.Stage3,
	"H4": carriage.Stage4,
}

// Execute parses and runs one command line, writing its reply lines to w.
// The last reply line always starts with OK or ERROR. The returned error is
// the one reported in the ERROR line.
func (d *Dispatcher) Execute(w io.Writer, line string) error {
	cmd, err := Parse(line)
	if err != nil {
		reply(w, "ERROR: %v", err)
		return err
	}
	log.Printf("command: %v", cmd)
	if err := d.run(w, cmd); err != nil {
		reply(w, "ERROR: (%v) %v. SOURCE: %v", cmd, err, d.src)
		return err
	}
	return nil
}

func (d *Dispatcher) run(w io.Writer, cmd Command) error {
	switch cmd.Verb {
	case VerbHome:
		res, err := d.c.Home(d.src)
		warnNoContact(w, res)
		if err != nil {
			return err
		}
		reply(w, "OK %v", res.Report)
		return nil
	case VerbStatus:
		st := d.c.Status()
		reply(w, "STATUS: OUTLET: %s SENSOR: %v DRIVE: %v HOMING: %d TRIGGER_ORDER: %q",
			st.Outlet, st.Sensor, st.Drive, st.Stage, st.TriggerOrder)
		reply(w, "OK %v", carriage.Report{Previous: st.PreviousPosition, Current: st.Position})
		return nil
	}

	var (
		r   carriage.Report
		err error
	)
	switch cmd.Arg {
	case ArgStop:
		if err := d.c.Stop(); err != nil {
			return err
		}
		reply(w, "OK")
		return nil
	case ArgRightNudge, ArgLeftNudge:
		nudge := d.c.NudgeRight
		if cmd.Arg == ArgLeftNudge {
			nudge = d.c.NudgeLeft
		}
		if err := nudge(d.src); err != nil {
			return err
		}
		reply(w, "OK")
		return nil
	case ArgRight:
		r, err = d.c.MoveRight(d.src)
	case ArgLeft:
		r, err = d.c.MoveLeft(d.src)
	case ArgCNC, ArgChopSaw, ArgWorkbench:
		r, err = d.c.GoTo(d.src, gotoTargets[cmd.Arg])
	default:
		stage, ok := stages[cmd.Arg]
		if !ok {
			return fmt.Errorf("MOVE %s: %w", cmd.Arg, ErrUnknownCommand)
		}
		res, err := d.c.RunStage(d.src, stage)
		warnNoContact(w, res)
		if err != nil {
			return err
		}
		if stage == carriage.Stage4 {
			reply(w, "OK %v", res.Report)
		} else {
			reply(w, "OK TRIGGER_ORDER: %s", res.Order)
		}
		return nil
	}
	if err != nil {
		return err
	}
	reply(w, "OK %v", r)
	return nil
}

func warnNoContact(w io.Writer, res carriage.HomingResult) {
	for _, stage := range res.NoContact {
		reply(w, "WARN: HOMING_%d: %v", stage, carriage.ErrHomingNoContact)
	}
}

func reply(w io.Writer, format string, args ...interface{}) {
	if _, err := fmt.Fprintf(w, format+"\r\n", args...); err != nil {
		log.Printf("writing reply: %v", err)
	}
}
