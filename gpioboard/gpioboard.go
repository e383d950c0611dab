// Package gpioboard drives the carriage hardware from native GPIO pins.
// The relay module and the indicator LEDs are active-low; the sensor and
// the buttons pull their inputs low when active.
package gpioboard

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/vacrouter/vacrouter/board"
	"go.uber.org/multierr"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"
)

// Config names the pins, e.g. "GPIO17".
type Config struct {
	Forward     string
	Reverse     string
	Sensor      string
	RedLED      string
	GreenLED    string
	RedButton   string
	GreenButton string
}

func DefaultConfig() Config {
	return Config{
		Forward:     "GPIO17",
		Reverse:     "GPIO27",
		Sensor:      "GPIO22",
		RedLED:      "GPIO23",
		GreenLED:    "GPIO24",
		RedButton:   "GPIO5",
		GreenButton: "GPIO6",
	}
}

// edgePoll bounds each WaitForEdge so WatchEdges notices cancellation.
const edgePoll = 100 * time.Millisecond

const (
	active   = gpio.Low
	inactive = gpio.High
)

type pins struct {
	lines   [2]gpio.PinIO
	sensor  gpio.PinIO
	red     gpio.PinIO
	green   gpio.PinIO
	buttons [2]gpio.PinIO
}

type Board struct {
	mu   sync.Mutex
	pins pins
}

// Open initializes the host drivers and claims the pins, leaving both
// relays released and the LEDs off.
func Open(cfg Config) (*Board, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("failed to init periph host: %w", err)
	}
	var p pins
	for _, pin := range []struct {
		dest *gpio.PinIO
		name string
	}{
		{&p.lines[board.Forward], cfg.Forward},
		{&p.lines[board.Reverse], cfg.Reverse},
		{&p.sensor, cfg.Sensor},
		{&p.red, cfg.RedLED},
		{&p.green, cfg.GreenLED},
		{&p.buttons[board.RedButton], cfg.RedButton},
		{&p.buttons[board.GreenButton], cfg.GreenButton},
	} {
		*pin.dest = gpioreg.ByName(pin.name)
		if *pin.dest == nil {
			return nil, fmt.Errorf("failed to open pin %s", pin.name)
		}
	}
	return newBoard(p)
}

func newBoard(p pins) (*Board, error) {
	err := multierr.Combine(
		p.lines[board.Forward].Out(inactive),
		p.lines[board.Reverse].Out(inactive),
		p.red.Out(inactive),
		p.green.Out(inactive),
		p.sensor.In(gpio.PullUp, gpio.BothEdges),
		p.buttons[board.RedButton].In(gpio.PullUp, gpio.NoEdge),
		p.buttons[board.GreenButton].In(gpio.PullUp, gpio.NoEdge),
	)
	if err != nil {
		return nil, fmt.Errorf("configuring pins: %w", err)
	}
	log.Printf("gpio: FORWARD on %v, REVERSE on %v, SENSOR on %v", p.lines[board.Forward], p.lines[board.Reverse], p.sensor)
	return &Board{pins: p}, nil
}

func level(on bool) gpio.Level {
	if on {
		return active
	}
	return inactive
}

func (b *Board) SetLine(line board.Line, on bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.pins.lines[line].Out(level(on)); err != nil {
		return fmt.Errorf("setting %v: %w", line, err)
	}
	return nil
}

// Line reads the output latch back from the pin.
func (b *Board) Line(line board.Line) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.pins.lines[line].Read() == active
}

func (b *Board) SensorLevel() board.Level {
	if b.pins.sensor.Read() == gpio.Low {
		return board.Low
	}
	return board.High
}

func (b *Board) SetColor(c board.Color) error {
	red, green := c.RedGreen()
	b.mu.Lock()
	defer b.mu.Unlock()
	return multierr.Combine(
		b.pins.red.Out(level(red)),
		b.pins.green.Out(level(green)),
	)
}

func (b *Board) Pressed(btn board.Button) bool {
	return b.pins.buttons[btn].Read() == gpio.Low
}

// WatchEdges waits for sensor edges in short slices until ctx is done.
func (b *Board) WatchEdges(ctx context.Context, cb board.EdgeCallback) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if b.pins.sensor.WaitForEdge(edgePoll) {
			cb()
		}
	}
}

// Close releases the relays, turns off the LEDs and halts every pin.
func (b *Board) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	p := b.pins
	return multierr.Combine(
		p.lines[board.Forward].Out(inactive),
		p.lines[board.Reverse].Out(inactive),
		p.red.Out(inactive),
		p.green.Out(inactive),
		p.lines[board.Forward].Halt(),
		p.lines[board.Reverse].Halt(),
		p.sensor.Halt(),
		p.red.Halt(),
		p.green.Halt(),
		p.buttons[board.RedButton].Halt(),
		p.buttons[board.GreenButton].Halt(),
	)
}
