package command

import (
	"context"
	"log"
	"time"

	"github.com/tarm/serial"
)

// DefaultBaud is the line rate of the operator console.
const DefaultBaud = 115200

// SerialLink serves commands on a serial port, reopening it whenever it
// fails or disappears.
type SerialLink struct {
	Port string
	Baud int
	d    *Dispatcher
}

func (d *Dispatcher) SerialLink(port string, baud int) *SerialLink {
	if baud == 0 {
		baud = DefaultBaud
	}
	return &SerialLink{Port: port, Baud: baud, d: d}
}

// Run serves the port until ctx is done.
func (l *SerialLink) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(1 * time.Second):
		}
		c := &serial.Config{Name: l.Port, Baud: l.Baud}
		s, err := serial.OpenPort(c)
		if err != nil {
			log.Printf("opening %q: %v", l.Port, err)
			continue
		}
		log.Printf("opened %q", l.Port)
		l.serve(ctx, s)
	}
}

func (l *SerialLink) serve(ctx context.Context, s *serial.Port) {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
		case <-done:
		}
		s.Close()
	}()
	reply(s, "Vacrouter command console")
	if err := l.d.Serve(ctx, s); err != nil {
		log.Printf("serving %q: %v", l.Port, err)
	}
}
