package carriage

import (
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/vacrouter/vacrouter/board"
	"github.com/vacrouter/vacrouter/board/boardtest"
	"github.com/vacrouter/vacrouter/simulator"
)

// newSimController wires a controller to a simulated track in virtual
// time. Sensor edges are delivered from the clock, the way an interrupt
// preempts whatever the controller is doing.
func newSimController(start float64) (*Controller, *simulator.Simulator, *boardtest.Clock) {
	return newSimControllerOn(simulator.DefaultTrack(), start)
}

func newSimControllerOn(track simulator.Track, start float64) (*Controller, *simulator.Simulator, *boardtest.Clock) {
	clock := boardtest.NewClock()
	sim := simulator.New(track, start)
	c := New(sim, clock, DefaultTiming(), nil)
	inEdge := false
	clock.OnStep(func(dt time.Duration) {
		sim.Step(dt)
		if inEdge {
			return
		}
		select {
		case <-sim.Edges():
			inEdge = true
			c.SensorEdge()
			inEdge = false
		default:
		}
	})
	return c, sim, clock
}

func TestHome(t *testing.T) {
	for _, test := range []struct {
		name     string
		start    float64
		want     HomingResult
		wantStop int
	}{
		{
			name:  "on workbench",
			start: 0,
			want: HomingResult{
				Order: "NNRNRL", Start: "AA", Resolved: Workbench,
				Report: Report{Workbench, ChopSaw},
			},
			wantStop: 1,
		},
		{
			name:  "on chop saw",
			start: 100,
			want: HomingResult{
				Order: "NNLRNRL", Start: "BB", Resolved: ChopSaw,
				Report: Report{Unknown, ChopSaw},
			},
			wantStop: 1,
		},
		{
			name:  "on cnc",
			start: 200,
			want: HomingResult{
				Order: "NNLRNL", Start: "CC", Resolved: CNC,
				Report: Report{CNC, ChopSaw},
			},
			wantStop: 1,
		},
		{
			name:  "between workbench and chop saw",
			start: 50,
			want: HomingResult{
				Order: "RNNLRNRL", Start: "ABB", Resolved: ChopSaw,
				Report: Report{Unknown, ChopSaw},
			},
			wantStop: 1,
		},
		{
			name:  "left of workbench",
			start: -20,
			want: HomingResult{
				Order: "RNNRNRL", Start: "XA", Resolved: Workbench,
				Report: Report{Workbench, ChopSaw},
			},
			wantStop: 1,
		},
		{
			name:  "near workbench",
			start: 20,
			want: HomingResult{
				Order: "LNNRNRL", Start: "ABA", Resolved: Workbench,
				Report: Report{Workbench, ChopSaw},
			},
			wantStop: 1,
		},
		{
			name:  "right of chop saw",
			start: 120,
			want: HomingResult{
				Order: "LNNLRNRL", Start: "BB", Resolved: ChopSaw,
				Report: Report{Unknown, ChopSaw},
			},
			wantStop: 1,
		},
		{
			name:  "near cnc",
			start: 170,
			want: HomingResult{
				Order: "RNNLRNL", Start: "BCC", Resolved: CNC,
				Report: Report{CNC, ChopSaw},
			},
			wantStop: 1,
		},
		{
			name:  "right of cnc",
			start: 220,
			want: HomingResult{
				Order: "LNNLRNL", Start: "CC", Resolved: CNC,
				Report: Report{CNC, ChopSaw},
			},
			wantStop: 1,
		},
	} {
		t.Run(test.name, func(t *testing.T) {
			c, sim, _ := newSimController(test.start)
			res, err := c.Home(SourceCommand)
			if err != nil {
				t.Fatalf("Home() = %v", err)
			}
			if diff := cmp.Diff(test.want, res, cmpopts.IgnoreFields(HomingResult{}, "NoContact")); diff != "" {
				t.Errorf("unexpected result (-want +got):\n%s", diff)
			}
			if got := sim.NearestStop(); got != test.wantStop {
				t.Errorf("carriage ended near stop %d, want %d", got, test.wantStop)
			}
			st := c.Status()
			if st.Position != ChopSaw || st.Stage != Resolved || st.TriggerOrder != "" {
				t.Errorf("after homing: %+v", st)
			}
			if got := sim.Faults(); got != 0 {
				t.Errorf("both lines asserted %d times", got)
			}
		})
	}
}

func TestHomeNoContact(t *testing.T) {
	// A disconnected sensor never sees a stop point.
	track := simulator.DefaultTrack()
	track.Stops = nil
	c, sim, _ := newSimControllerOn(track, 50)
	res, err := c.Home(SourceCommand)
	if !errors.Is(err, ErrHomingUnresolved) {
		t.Errorf("Home() = %v, want ErrHomingUnresolved", err)
	}
	want := HomingResult{
		Order:     "NNN",
		Resolved:  Unknown,
		Report:    Report{Unknown, Unknown},
		NoContact: []HomingStage{Stage1, Stage2, Stage3, Stage4},
	}
	if diff := cmp.Diff(want, res); diff != "" {
		t.Errorf("unexpected result (-want +got):\n%s", diff)
	}
	if sim.Line(board.Forward) || sim.Line(board.Reverse) {
		t.Errorf("motor left engaged after failed homing")
	}
}

func TestRunStageManually(t *testing.T) {
	c, sim, _ := newSimController(100)
	var orders []string
	var res HomingResult
	for _, stage := range []HomingStage{Stage1, Stage3, Stage4} {
		var err error
		res, err = c.RunStage(SourceCommand, stage)
		if err != nil {
			t.Fatalf("RunStage(%d) = %v", stage, err)
		}
		orders = append(orders, res.Order)
	}
	if diff := cmp.Diff([]string{"NN", "NNLRN", "NNLRNRL"}, orders); diff != "" {
		t.Errorf("trigger orders (-want +got):\n%s", diff)
	}
	if res.Resolved != ChopSaw || sim.NearestStop() != 1 {
		t.Errorf("resolved %d, carriage near stop %d", res.Resolved, sim.NearestStop())
	}
	if _, err := c.RunStage(SourceCommand, Stage2); !errors.Is(err, ErrStageOrder) {
		t.Errorf("RunStage(2) after resolution = %v, want ErrStageOrder", err)
	}
}

func TestHomeThenMove(t *testing.T) {
	c, sim, _ := newSimController(100)
	if _, err := c.Home(SourceCommand); err != nil {
		t.Fatal(err)
	}
	r, err := c.GoTo(SourceCommand, CNC)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(Report{ChopSaw, CNC}, r); diff != "" {
		t.Errorf("unexpected report (-want +got):\n%s", diff)
	}
	if got := sim.NearestStop(); got != 2 {
		t.Errorf("carriage near stop %d, want 2", got)
	}
	if _, err := c.MoveRight(SourceCommand); !errors.Is(err, ErrRange) {
		t.Errorf("MoveRight at CNC = %v, want ErrRange", err)
	}
	r, err = c.MoveLeft(SourceButton)
	if err != nil {
		t.Fatal(err)
	}
	if r.Current != ChopSaw || sim.NearestStop() != 1 {
		t.Errorf("after left move: %+v near stop %d", r, sim.NearestStop())
	}
}

// stopAfter calls Stop once, d into virtual time from now.
func stopAfter(c *Controller, clock *boardtest.Clock, d time.Duration) {
	start := clock.Now()
	fired := false
	clock.OnStep(func(time.Duration) {
		if !fired && clock.Now().Sub(start) >= d {
			fired = true
			c.Stop()
		}
	})
}

func TestStopCutsMoveShort(t *testing.T) {
	c, sim, clock := newSimController(0)
	setPosition(c, Workbench)
	stopAfter(c, clock, 700*time.Millisecond)
	r, err := c.MoveRight(SourceCommand)
	if !errors.Is(err, ErrHalted) {
		t.Errorf("MoveRight() = %v, want ErrHalted", err)
	}
	if diff := cmp.Diff(Report{Workbench, Unknown}, r); diff != "" {
		t.Errorf("unexpected report (-want +got):\n%s", diff)
	}
	if got := sim.NearestStop(); got != 0 {
		t.Errorf("carriage near stop %d, want it short of stop 1", got)
	}
	if st := c.Status(); st.Position != Unknown || !st.Halted {
		t.Errorf("after halted move: %+v", st)
	}
	if _, err := c.GoTo(SourceCommand, CNC); !errors.Is(err, ErrNotHomed) {
		t.Errorf("GoTo() after halted move = %v, want ErrNotHomed", err)
	}

	res, err := c.Home(SourceCommand)
	if err != nil {
		t.Fatalf("Home() = %v", err)
	}
	if res.Resolved != ChopSaw || sim.NearestStop() != 1 || c.Position() != ChopSaw {
		t.Errorf("rehomed to %d near stop %d", res.Resolved, sim.NearestStop())
	}
	if c.Status().Halted {
		t.Errorf("halt still recorded after homing")
	}
}

func TestStopAbortsHoming(t *testing.T) {
	c, sim, clock := newSimController(100)
	stopAfter(c, clock, 500*time.Millisecond)
	_, err := c.Home(SourceCommand)
	if !errors.Is(err, ErrHalted) {
		t.Fatalf("Home() = %v, want ErrHalted", err)
	}
	st := c.Status()
	if st.Position != Unknown || st.Stage != Inactive || st.TriggerOrder != "" {
		t.Errorf("after halted homing: %+v", st)
	}
	if sim.Line(board.Forward) || sim.Line(board.Reverse) {
		t.Errorf("motor left engaged after halted homing")
	}
}
