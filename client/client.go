// Package client talks to the vacrouter command socket.
package client

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/vacrouter/vacrouter/carriage"
)

// ErrCommand is wrapped by errors returned when the controller answers a
// command with an ERROR line.
var ErrCommand = errors.New("command failed")

type Client struct {
	mu      sync.Mutex
	conn    io.ReadWriteCloser
	scanner *bufio.Scanner
}

// Dial connects to the command socket at addr.
func Dial(ctx context.Context, addr string) (*Client, error) {
	dialer := &net.Dialer{
		Timeout: time.Second,
	}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("opening %q: %w", addr, err)
	}
	return New(conn), nil
}

// New wraps an existing connection.
func New(conn io.ReadWriteCloser) *Client {
	return &Client{
		conn:    conn,
		scanner: bufio.NewScanner(conn),
	}
}

func (c *Client) Close() error {
	return c.conn.Close()
}

// Do sends one command line and collects its reply, up to and including
// the final OK or ERROR line. A reply ending in ERROR is returned along
// with an error wrapping ErrCommand.
func (c *Client) Do(ctx context.Context, line string) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			c.conn.Close()
		case <-done:
		}
	}()

	if _, err := io.WriteString(c.conn, line+"\r\n"); err != nil {
		return nil, err
	}
	var out []string
	for c.scanner.Scan() {
		text := strings.TrimRight(c.scanner.Text(), "\r")
		out = append(out, text)
		switch {
		case text == "OK" || strings.HasPrefix(text, "OK "):
			return out, nil
		case strings.HasPrefix(text, "ERROR"):
			return out, fmt.Errorf("%w: %s", ErrCommand, text)
		}
	}
	if err := ctx.Err(); err != nil {
		return out, err
	}
	if err := c.scanner.Err(); err != nil {
		return out, err
	}
	return out, io.ErrUnexpectedEOF
}

// Move sends a MOVE command and returns the position report from its reply.
func (c *Client) Move(ctx context.Context, arg string) (carriage.Report, error) {
	lines, err := c.Do(ctx, "MOVE "+arg)
	if err != nil {
		return carriage.Report{}, err
	}
	return ParseReport(lines[len(lines)-1])
}

// ParseReport reads the position report from a line such as
// "OK PPOS: 1 CPOS: 2".
func ParseReport(line string) (carriage.Report, error) {
	i := strings.Index(line, "PPOS:")
	if i < 0 {
		return carriage.Report{}, fmt.Errorf("no position report in %q", line)
	}
	var r carriage.Report
	if _, err := fmt.Sscanf(line[i:], "PPOS: %d CPOS: %d", &r.Previous, &r.Current); err != nil {
		return carriage.Report{}, fmt.Errorf("parsing %q: %w", line, err)
	}
	return r, nil
}
