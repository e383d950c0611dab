package command

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log"
	"net"
	"sync"

	"golang.org/x/sync/errgroup"
)

// queueDepth bounds how many commands may wait behind the one running.
const queueDepth = 4

type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *syncWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}

// Serve reads command lines from rw until it is exhausted or ctx is done.
// Commands run one at a time in arrival order, except MOVE STOP, which
// runs as soon as it is read.
func (d *Dispatcher) Serve(ctx context.Context, rw io.ReadWriter) error {
	out := &syncWriter{w: rw}
	queue := make(chan string, queueDepth)
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		for line := range queue {
			d.Execute(out, line)
		}
		return nil
	})
	g.Go(func() error {
		defer close(queue)
		scanner := bufio.NewScanner(rw)
		for scanner.Scan() {
			line := scanner.Text()
			cmd, err := Parse(line)
			switch {
			case err == ErrEmpty:
				continue
			case err == nil && cmd.IsStop():
				d.Execute(out, line)
				continue
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case queue <- line:
			default:
				reply(out, "ERROR: (%s) busy", line)
			}
		}
		if err := scanner.Err(); err != nil {
			return fmt.Errorf("reading commands: %w", err)
		}
		return nil
	})
	return g.Wait()
}

// Listen accepts command connections on addr until ctx is done. It returns
// once the socket is listening.
func (d *Dispatcher) Listen(ctx context.Context, addr string) (net.Addr, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	go func() {
		<-ctx.Done()
		log.Print("shutdown; closing command socket")
		ln.Close()
	}()
	go func() {
		for ctx.Err() == nil {
			conn, err := ln.Accept()
			if err != nil {
				if ctx.Err() == nil {
					log.Printf("failed to accept: %v", err)
				}
				continue
			}
			go d.handle(ctx, conn)
		}
	}()
	return ln.Addr(), nil
}

func (d *Dispatcher) handle(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	log.Printf("accepted connection from %v", conn.RemoteAddr())
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		<-ctx.Done()
		conn.Close()
	}()
	if err := d.Serve(ctx, conn); err != nil {
		log.Printf("serving %v: %v", conn.RemoteAddr(), err)
	}
}
