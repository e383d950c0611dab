// Package modbus keeps a modbus RTU device connected, locally over serial
// or remotely through an HTTP bridge, and polls it while it is up.
package modbus

import (
	"context"
	"log"
	"time"

	"github.com/goburrow/modbus"
	"github.com/vacrouter/vacrouter/relayboard/modbushttp"
)

type modbusHandler interface {
	modbus.ClientHandler
	Connect() error
	Close() error
}

type Client struct {
	// Port and BaudRate create a local serial connection
	Port string
	// BaudRate defaults to 19200
	BaudRate int
	SlaveId  byte
	// URL creates a remote connection
	URL string
	// Password authenticates to the remote bridge
	Password string

	// Poll function to be called in a loop while the connection is active
	Poll func() error
	// Interval between polls; zero polls back to back
	Interval time.Duration

	handler modbusHandler
	modbus.Client
}

// Dial prepares the handler and the client. The connection itself is
// opened by Run.
func (c *Client) Dial() {
	if c.URL != "" {
		c.handler = modbushttp.NewClient(c.URL, c.Password, c.SlaveId)
	} else {
		baud := c.BaudRate
		if baud == 0 {
			baud = 19200
		}
		handler := modbus.NewRTUClientHandler(c.Port)
		handler.BaudRate = baud
		handler.DataBits = 8
		handler.Parity = "N"
		handler.StopBits = 1
		handler.Timeout = 1 * time.Second
		handler.SlaveId = c.SlaveId
		c.handler = handler
	}
	c.Client = modbus.NewClient(c.handler)
}

func (c *Client) addr() string {
	if c.URL != "" {
		return c.URL
	}
	return c.Port
}

// Run connects, polls until an error, and reconnects a second later, until
// ctx is done.
func (c *Client) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(1 * time.Second):
		}

		err := c.handler.Connect()
		if err != nil {
			log.Printf("opening %q: %v", c.addr(), err)
			continue
		}
		log.Printf("opened %q", c.addr())
		if err := c.watch(ctx); err != nil {
			log.Printf("watching %q: %v", c.addr(), err)
		}
	}
}

func (c *Client) watch(ctx context.Context) error {
	defer c.handler.Close()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.Interval):
		}
		if err := c.Poll(); err != nil {
			return err
		}
	}
}

func (c *Client) WriteCoil(coil int, value bool) error {
	var v uint16
	if value {
		v = 0xFF00
	}
	_, err := c.WriteSingleCoil(uint16(coil), v)
	return err
}

func BytesToBits(bs []byte) []bool {
	var out []bool
	for _, b := range bs {
		for i := 0; i < 8; i++ {
			out = append(out, (b>>uint(i)&1) == 1)
		}
	}
	return out
}
