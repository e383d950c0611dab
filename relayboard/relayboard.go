// Package relayboard drives the carriage through a modbus relay/IO module:
// two relays for the motor lines, two for the indicator LEDs, and discrete
// inputs for the sensor and the panel buttons.
package relayboard

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/vacrouter/vacrouter/board"
	"github.com/vacrouter/vacrouter/internal/modbus"
	"go.uber.org/multierr"
)

// Coils
const (
	CoilForward = iota
	CoilReverse
	CoilRedLED
	CoilGreenLED
	numCoils
)

// Discrete inputs
const (
	// InputSensor is set while the sensor pulls its line low.
	InputSensor = iota
	InputRedButton
	InputGreenButton
	numInputs
)

type Config struct {
	// Port and Baud select a local RTU serial device.
	Port string
	Baud int
	// URL selects a remote bridge instead.
	URL      string
	Password string
	SlaveID  byte
	// PollInterval spaces input polls.
	PollInterval time.Duration
}

// DefaultPollInterval keeps sensor latency well inside the debounce window.
const DefaultPollInterval = 5 * time.Millisecond

type coilClient interface {
	ReadCoils(address, quantity uint16) ([]byte, error)
	ReadDiscreteInputs(address, quantity uint16) ([]byte, error)
	WriteCoil(coil int, value bool) error
}

type Board struct {
	mu     sync.Mutex
	client coilClient
	coils  [numCoils]bool
	// inputs start clear, so the sensor reads High until the first poll.
	inputs [numInputs]bool

	conn  *modbus.Client
	edges chan struct{}
}

// Connect prepares the board; Run keeps it connected.
func Connect(cfg Config) *Board {
	if cfg.SlaveID == 0 {
		cfg.SlaveID = 1
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	conn := &modbus.Client{
		Port:     cfg.Port,
		BaudRate: cfg.Baud,
		SlaveId:  cfg.SlaveID,
		URL:      cfg.URL,
		Password: cfg.Password,
		Interval: cfg.PollInterval,
	}
	conn.Dial()
	b := newBoard(conn)
	b.conn = conn
	conn.Poll = b.pollOnce
	return b
}

func newBoard(client coilClient) *Board {
	return &Board{
		client: client,
		edges:  make(chan struct{}, 1),
	}
}

// Run polls the module and reconnects on failure until ctx is done.
func (b *Board) Run(ctx context.Context) error {
	return b.conn.Run(ctx)
}

func (b *Board) pollOnce() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	coils, err := b.client.ReadCoils(0, numCoils)
	if err != nil {
		return err
	}
	inputs, err := b.client.ReadDiscreteInputs(0, numInputs)
	if err != nil {
		return err
	}
	coilBits := modbus.BytesToBits(coils)
	inputBits := modbus.BytesToBits(inputs)
	if len(coilBits) < numCoils || len(inputBits) < numInputs {
		return fmt.Errorf("short read: %d coils, %d inputs", len(coilBits), len(inputBits))
	}
	prevSensor := b.inputs[InputSensor]
	copy(b.coils[:], coilBits)
	copy(b.inputs[:], inputBits)
	// The first poll counts too: a carriage parked on a stop point must
	// reach the controller, which read the cleared input at startup.
	if prevSensor != b.inputs[InputSensor] {
		select {
		case b.edges <- struct{}{}:
		default:
		}
	}
	return nil
}

func (b *Board) writeCoil(coil int, value bool) error {
	if err := b.client.WriteCoil(coil, value); err != nil {
		return fmt.Errorf("writing coil %d: %w", coil, err)
	}
	b.coils[coil] = value
	return nil
}

func (b *Board) SetLine(line board.Line, on bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	coil := CoilForward
	if line == board.Reverse {
		coil = CoilReverse
	}
	return b.writeCoil(coil, on)
}

// Line reports the relay state from the last write or poll.
func (b *Board) Line(line board.Line) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if line == board.Reverse {
		return b.coils[CoilReverse]
	}
	return b.coils[CoilForward]
}

func (b *Board) SensorLevel() board.Level {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.inputs[InputSensor] {
		return board.Low
	}
	return board.High
}

func (b *Board) SetColor(c board.Color) error {
	red, green := c.RedGreen()
	b.mu.Lock()
	defer b.mu.Unlock()
	return multierr.Combine(
		b.writeCoil(CoilRedLED, red),
		b.writeCoil(CoilGreenLED, green),
	)
}

func (b *Board) Pressed(btn board.Button) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if btn == board.RedButton {
		return b.inputs[InputRedButton]
	}
	return b.inputs[InputGreenButton]
}

// WatchEdges delivers sensor changes seen by the poll loop.
func (b *Board) WatchEdges(ctx context.Context, cb board.EdgeCallback) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-b.edges:
			cb()
		}
	}
}
