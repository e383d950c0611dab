package carriage

import (
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/vacrouter/vacrouter/board"
	"github.com/vacrouter/vacrouter/board/boardtest"
)

func newTestController() (*Controller, *boardtest.Board, *boardtest.Clock) {
	b := boardtest.NewBoard()
	clock := boardtest.NewClock()
	return New(b, clock, DefaultTiming(), nil), b, clock
}

// setPosition puts a controller somewhere a finished homing run could
// have left it.
func setPosition(c *Controller, p Position) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.Position = p
	c.state.PreviousPosition = p
	c.state.Stage = Resolved
}

func TestInterlock(t *testing.T) {
	for _, test := range []struct {
		name          string
		first, second func(*Controller) error
		engaged       board.Line
	}{
		{"forward then reverse", (*Controller).DriveForward, (*Controller).DriveReverse, board.Forward},
		{"reverse then forward", (*Controller).DriveReverse, (*Controller).DriveForward, board.Reverse},
	} {
		t.Run(test.name, func(t *testing.T) {
			c, b, _ := newTestController()
			if err := test.first(c); err != nil {
				t.Fatalf("first drive: %v", err)
			}
			if err := test.second(c); !errors.Is(err, ErrInterlock) {
				t.Errorf("second drive = %v, want ErrInterlock", err)
			}
			if !b.Line(test.engaged) || b.Line(test.engaged.Opposite()) {
				t.Errorf("lines changed by refused drive")
			}
			if err := c.Stop(); err != nil {
				t.Fatalf("Stop: %v", err)
			}
			if err := test.second(c); err != nil {
				t.Errorf("drive after Stop: %v", err)
			}
			if got := b.Faults(); got != 0 {
				t.Errorf("both lines asserted %d times", got)
			}
		})
	}
}

func TestStopIsIdempotent(t *testing.T) {
	c, b, _ := newTestController()
	for i := 0; i < 3; i++ {
		if err := c.Stop(); err != nil {
			t.Fatalf("Stop #%d: %v", i, err)
		}
	}
	if b.Line(board.Forward) || b.Line(board.Reverse) {
		t.Errorf("lines asserted after Stop")
	}
}

func TestStopKeepsSensorColor(t *testing.T) {
	c, b, _ := newTestController()
	if err := c.DriveForward(); err != nil {
		t.Fatal(err)
	}
	c.mu.Lock()
	c.state.Sensor = Triggered
	c.setColorLocked(board.Yellow)
	c.mu.Unlock()
	c.Stop()
	if got := b.Color(); got != board.Yellow {
		t.Errorf("indicator after Stop = %v, want %v", got, board.Yellow)
	}
}

func TestStopDuringCommand(t *testing.T) {
	c, b, _ := newTestController()
	done := c.begin(SourceCommand)
	defer done()
	if err := c.DriveReverse(); err != nil {
		t.Fatal(err)
	}
	if err := c.Stop(); err != nil {
		t.Fatal(err)
	}
	if b.Line(board.Reverse) {
		t.Errorf("Stop did not release the reverse line")
	}
}

func TestMoveRoundTrip(t *testing.T) {
	for _, test := range []struct {
		start       Position
		first, back func(*Controller, Source) (Report, error)
	}{
		{Workbench, (*Controller).MoveRight, (*Controller).MoveLeft},
		{ChopSaw, (*Controller).MoveRight, (*Controller).MoveLeft},
		{ChopSaw, (*Controller).MoveLeft, (*Controller).MoveRight},
		{CNC, (*Controller).MoveLeft, (*Controller).MoveRight},
	} {
		c, b, _ := newTestController()
		setPosition(c, test.start)
		if _, err := test.first(c, SourceCommand); err != nil {
			t.Fatalf("first move from %d: %v", test.start, err)
		}
		r, err := test.back(c, SourceCommand)
		if err != nil {
			t.Fatalf("return move to %d: %v", test.start, err)
		}
		if r.Current != test.start {
			t.Errorf("round trip from %d ended at %d", test.start, r.Current)
		}
		if b.Line(board.Forward) || b.Line(board.Reverse) {
			t.Errorf("motor left engaged after moves from %d", test.start)
		}
	}
}

func TestMoveReport(t *testing.T) {
	c, _, clock := newTestController()
	setPosition(c, Workbench)
	start := clock.Now()
	r, err := c.MoveRight(SourceButton)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(Report{Previous: Workbench, Current: ChopSaw}, r); diff != "" {
		t.Errorf("unexpected report (-want +got):\n%s", diff)
	}
	timing := DefaultTiming()
	if got, want := clock.Now().Sub(start), timing.SensorFalloff+timing.SafetyCutoff; got != want {
		t.Errorf("move without sensor took %v, want safety cutoff %v", got, want)
	}
	if got := r.String(); got != "PPOS: 1 CPOS: 2" {
		t.Errorf("Report.String() = %q", got)
	}
}

func TestMoveOutOfRange(t *testing.T) {
	for _, test := range []struct {
		start Position
		move  func(*Controller, Source) (Report, error)
		line  board.Line
	}{
		{CNC, (*Controller).MoveRight, board.Forward},
		{Workbench, (*Controller).MoveLeft, board.Reverse},
	} {
		c, b, clock := newTestController()
		setPosition(c, test.start)
		start := clock.Now()
		r, err := test.move(c, SourceCommand)
		if !errors.Is(err, ErrRange) {
			t.Errorf("move at %d = %v, want ErrRange", test.start, err)
		}
		if r.Current != test.start || c.Position() != test.start {
			t.Errorf("position changed by refused move: %+v", r)
		}
		if b.Asserts(test.line) != 0 {
			t.Errorf("refused move asserted %v", test.line)
		}
		if clock.Now() != start {
			t.Errorf("refused move waited %v", clock.Now().Sub(start))
		}
	}
}

func TestMoveUnknownPosition(t *testing.T) {
	c, b, _ := newTestController()
	r, err := c.MoveRight(SourceCommand)
	if err != nil {
		t.Fatal(err)
	}
	if r.Current != Unknown {
		t.Errorf("move from unknown position reported %d", r.Current)
	}
	if b.Asserts(board.Forward) != 1 {
		t.Errorf("got %d forward asserts, want 1", b.Asserts(board.Forward))
	}
}

func TestNudge(t *testing.T) {
	c, b, clock := newTestController()
	setPosition(c, ChopSaw)
	start := clock.Now()
	if err := c.NudgeLeft(SourceCommand); err != nil {
		t.Fatal(err)
	}
	if got, want := clock.Now().Sub(start), 2*DefaultTiming().SensorFalloff; got != want {
		t.Errorf("nudge took %v, want %v", got, want)
	}
	if c.Position() != ChopSaw {
		t.Errorf("nudge changed position to %d", c.Position())
	}
	if b.Asserts(board.Reverse) != 1 || b.Line(board.Reverse) {
		t.Errorf("nudge did not drive and release the reverse line")
	}
}

func TestGoTo(t *testing.T) {
	for _, test := range []struct {
		name         string
		start        Position
		target       Position
		wantForward  int
		wantReverse  int
		wantErr      error
		wantPosition Position
	}{
		{"cnc from workbench", Workbench, CNC, 2, 0, nil, CNC},
		{"cnc from cnc", CNC, CNC, 0, 0, nil, CNC},
		{"workbench from cnc", CNC, Workbench, 0, 2, nil, Workbench},
		{"chopsaw from workbench", Workbench, ChopSaw, 1, 0, nil, ChopSaw},
		{"not homed", Unknown, CNC, 0, 0, ErrNotHomed, Unknown},
		{"bad target", ChopSaw, Position(7), 0, 0, ErrRange, ChopSaw},
	} {
		t.Run(test.name, func(t *testing.T) {
			c, b, _ := newTestController()
			if test.start != Unknown {
				setPosition(c, test.start)
			}
			_, err := c.GoTo(SourceCommand, test.target)
			if !errors.Is(err, test.wantErr) {
				t.Errorf("GoTo() = %v, want %v", err, test.wantErr)
			}
			if got := b.Asserts(board.Forward); got != test.wantForward {
				t.Errorf("got %d right moves, want %d", got, test.wantForward)
			}
			if got := b.Asserts(board.Reverse); got != test.wantReverse {
				t.Errorf("got %d left moves, want %d", got, test.wantReverse)
			}
			if got := c.Position(); got != test.wantPosition {
				t.Errorf("Position() = %d, want %d", got, test.wantPosition)
			}
		})
	}
}

func TestGoOutlets(t *testing.T) {
	c, _, _ := newTestController()
	setPosition(c, ChopSaw)
	for _, test := range []struct {
		gotoFn func(*Controller, Source) (Report, error)
		want   Report
	}{
		{(*Controller).GoCNC, Report{ChopSaw, CNC}},
		{(*Controller).GoWorkbench, Report{ChopSaw, Workbench}},
		{(*Controller).GoChopSaw, Report{Workbench, ChopSaw}},
	} {
		r, err := test.gotoFn(c, SourceCommand)
		if err != nil {
			t.Fatal(err)
		}
		if r != test.want {
			t.Errorf("got report %v, want %v", r, test.want)
		}
	}
}

func TestDebounceRejectsBounce(t *testing.T) {
	c, b, clock := newTestController()
	elapsed := time.Duration(0)
	clock.OnStep(func(dt time.Duration) {
		elapsed += dt
		switch elapsed {
		case 20 * time.Millisecond:
			b.SetLevel(board.High)
		case 40 * time.Millisecond:
			b.SetLevel(board.Low)
		}
	})
	b.SetLevel(board.Low)
	c.SensorEdge()
	if got := c.Status().Sensor; got != Idle {
		t.Errorf("bouncing input committed %v", got)
	}
	if elapsed >= DefaultTiming().Debounce {
		t.Errorf("rejected edge blocked for %v", elapsed)
	}
}

func TestDebounceCommits(t *testing.T) {
	c, b, clock := newTestController()
	if err := c.DriveForward(); err != nil {
		t.Fatal(err)
	}
	b.SetLevel(board.Low)
	start := clock.Now()
	c.SensorEdge()
	if got := clock.Now().Sub(start); got < DefaultTiming().Debounce {
		t.Errorf("committed after %v", got)
	}
	st := c.Status()
	if st.Sensor != Triggered || st.Drive != Stopped {
		t.Errorf("after sustained edge: sensor %v drive %v", st.Sensor, st.Drive)
	}
	if st.Indicator != board.Yellow {
		t.Errorf("indicator = %v, want %v", st.Indicator, board.Yellow)
	}

	b.SetLevel(board.High)
	c.SensorEdge()
	if got := c.Status(); got.Sensor != Idle || got.Indicator != board.Yellow {
		t.Errorf("release edge: sensor %v indicator %v", got.Sensor, got.Indicator)
	}
}

func TestSensorEdgeDuringHoming(t *testing.T) {
	c, b, _ := newTestController()
	c.mu.Lock()
	c.state.Stage = Stage3
	c.state.HomeDirection = Left
	c.state.TriggerOrder = mustSequence("NN")
	c.mu.Unlock()
	if err := c.DriveReverse(); err != nil {
		t.Fatal(err)
	}
	b.SetLevel(board.Low)
	c.SensorEdge()
	st := c.Status()
	if diff := cmp.Diff("NNL", st.TriggerOrder); diff != "" {
		t.Errorf("trigger order (-want +got):\n%s", diff)
	}
	if st.Indicator != board.Green || st.Drive != Stopped {
		t.Errorf("indicator %v drive %v, want GREEN STOPPED", st.Indicator, st.Drive)
	}
}

func TestSensorEdgeOverridden(t *testing.T) {
	c, b, clock := newTestController()
	c.mu.Lock()
	c.state.Stage = Stage4
	c.state.HomeDirection = Right
	c.state.OverrideUntil = clock.Now().Add(time.Second)
	c.mu.Unlock()
	if err := c.DriveForward(); err != nil {
		t.Fatal(err)
	}
	b.SetLevel(board.Low)
	c.SensorEdge()
	st := c.Status()
	if !b.Line(board.Forward) {
		t.Errorf("overridden edge stopped the motor")
	}
	if st.TriggerOrder != "" {
		t.Errorf("overridden edge appended to trigger order: %q", st.TriggerOrder)
	}
	if st.Sensor != Triggered || !st.Overridden {
		t.Errorf("sensor %v overridden %v", st.Sensor, st.Overridden)
	}
}

func TestResolve(t *testing.T) {
	for _, test := range []struct {
		order       string
		want        HomingResult
		wantForward int
		wantReverse int
		wantErr     error
	}{
		{
			order: "NNLRNRL",
			want:  HomingResult{Order: "NNLRNRL", Start: "BB", Resolved: ChopSaw, Report: Report{Unknown, ChopSaw}},
		},
		{
			order:       "RNNRNRL",
			want:        HomingResult{Order: "RNNRNRL", Start: "XA", Resolved: Workbench, Report: Report{Workbench, ChopSaw}},
			wantForward: 1,
		},
		{
			order:       "LNNLRNL",
			want:        HomingResult{Order: "LNNLRNL", Start: "CC", Resolved: CNC, Report: Report{CNC, ChopSaw}},
			wantReverse: 1,
		},
		{
			order:   "NNRNRR",
			want:    HomingResult{Order: "NNRNRR", Resolved: Unknown, Report: Report{Unknown, Unknown}},
			wantErr: ErrHomingUnresolved,
		},
	} {
		t.Run(test.order, func(t *testing.T) {
			c, b, _ := newTestController()
			c.mu.Lock()
			c.state.Stage = Resolved
			c.state.TriggerOrder = mustSequence(test.order)
			c.mu.Unlock()
			res := HomingResult{Resolved: Unknown}
			err := c.resolve(&res)
			if !errors.Is(err, test.wantErr) {
				t.Errorf("resolve() = %v, want %v", err, test.wantErr)
			}
			if diff := cmp.Diff(test.want, res); diff != "" {
				t.Errorf("unexpected result (-want +got):\n%s", diff)
			}
			if got := b.Asserts(board.Forward); got != test.wantForward {
				t.Errorf("got %d right moves, want %d", got, test.wantForward)
			}
			if got := b.Asserts(board.Reverse); got != test.wantReverse {
				t.Errorf("got %d left moves, want %d", got, test.wantReverse)
			}
			if got := c.Status().TriggerOrder; got != "" {
				t.Errorf("trigger order not cleared: %q", got)
			}
			colors := b.Colors()
			wantTail := []board.Color{board.Red, board.Yellow, board.Green, board.Off}
			if len(colors) < len(wantTail) {
				t.Fatalf("indicator history %v too short", colors)
			}
			if diff := cmp.Diff(wantTail, colors[len(colors)-len(wantTail):]); diff != "" {
				t.Errorf("completion animation (-want +got):\n%s", diff)
			}
		})
	}
}

func TestRunStageOutOfOrder(t *testing.T) {
	c, b, clock := newTestController()
	start := clock.Now()
	_, err := c.RunStage(SourceCommand, Stage3)
	if !errors.Is(err, ErrStageOrder) {
		t.Errorf("RunStage(3) = %v, want ErrStageOrder", err)
	}
	if b.Asserts(board.Forward)+b.Asserts(board.Reverse) != 0 || clock.Now() != start {
		t.Errorf("out of order stage had side effects")
	}
	if got := c.Status().Stage; got != Inactive {
		t.Errorf("stage = %d, want %d", got, Inactive)
	}
}

func TestTickBlinksBeforeHoming(t *testing.T) {
	c, b, clock := newTestController()
	var got []board.Color
	for i := 0; i < 3; i++ {
		clock.Sleep(DefaultTiming().IdleBlink)
		c.Tick()
		got = append(got, b.Color())
	}
	if diff := cmp.Diff([]board.Color{board.Green, board.Off, board.Green}, got); diff != "" {
		t.Errorf("blink (-want +got):\n%s", diff)
	}
}

func TestTickResolvedShowsGreen(t *testing.T) {
	c, b, _ := newTestController()
	setPosition(c, ChopSaw)
	c.Tick()
	if got := b.Color(); got != board.Green {
		t.Errorf("indicator = %v, want %v", got, board.Green)
	}
}

func TestStatusCallback(t *testing.T) {
	b := boardtest.NewBoard()
	var last Status
	calls := 0
	c := New(b, boardtest.NewClock(), DefaultTiming(), func(s Status) {
		last = s
		calls++
	})
	if err := c.DriveForward(); err != nil {
		t.Fatal(err)
	}
	if calls == 0 {
		t.Fatal("status callback not called")
	}
	want := Status{
		Position:         Unknown,
		PreviousPosition: Unknown,
		Outlet:           "UNKNOWN",
		Sensor:           Idle,
		Drive:            DrivingForward,
		Indicator:        board.Red,
		Source:           SourceInit,
	}
	if diff := cmp.Diff(want, last); diff != "" {
		t.Errorf("unexpected status (-want +got):\n%s", diff)
	}
}
