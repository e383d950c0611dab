package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/vacrouter/vacrouter/carriage"
	"github.com/vacrouter/vacrouter/command"
)

type Server struct {
	d *command.Dispatcher

	statusMu   sync.RWMutex
	statusCond *sync.Cond
	status     carriage.Status
	// seq counts status updates so waiters can tell a new one arrived.
	seq uint64
}

func NewServer() *Server {
	s := &Server{}
	s.statusCond = sync.NewCond(s.statusMu.RLocker())
	return s
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

func (s *Server) StatusHandler(w http.ResponseWriter, r *http.Request) {
	s.statusMu.RLock()
	status := s.status
	s.statusMu.RUnlock()
	w.Header().Set("Content-Type", "application/json")
	data, err := json.Marshal(status)
	if err != nil {
		log.Print(err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Write(data)
}

// CommandHandler runs the command line in the request body and answers
// with the reply lines.
func (s *Server) CommandHandler(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 256))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	var out bytes.Buffer
	err = s.d.Execute(&out, strings.TrimSpace(string(body)))
	w.Header().Set("Content-Type", "text/plain")
	if err != nil {
		w.WriteHeader(http.StatusConflict)
	}
	w.Write(out.Bytes())
}

type Command struct {
	Command string `json:"command"`
}

func (s *Server) StatusSocketHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Println(err)
		return
	}
	defer conn.Close()

	// Read and process incoming messages
	go func() {
		for {
			var msg Command
			if err := conn.ReadJSON(&msg); err != nil {
				cancel()
				return
			}
			// Commands run concurrently so a stop is not stuck behind
			// a move; the controller serializes the rest.
			go func(line string) {
				var out bytes.Buffer
				s.d.Execute(&out, line)
				log.Printf("ws %v: %s", r.RemoteAddr, strings.TrimSpace(out.String()))
			}(msg.Command)
		}
	}()
	go func() {
		<-ctx.Done()
		s.statusMu.Lock()
		s.statusCond.Broadcast()
		s.statusMu.Unlock()
	}()

	send := func(status carriage.Status) error {
		data, err := json.Marshal(status)
		if err != nil {
			return err
		}
		return conn.WriteMessage(websocket.TextMessage, data)
	}

	s.statusMu.RLock()
	status, seq := s.status, s.seq
	s.statusMu.RUnlock()
	if err := send(status); err != nil {
		log.Print(err)
		return
	}

	for {
		s.statusMu.RLock()
		for s.seq == seq && ctx.Err() == nil {
			s.statusCond.Wait()
		}
		status, seq = s.status, s.seq
		s.statusMu.RUnlock()
		if ctx.Err() != nil {
			return
		}
		if err := send(status); err != nil {
			log.Print(err)
			return
		}
	}
}

func (s *Server) statusCallback(status carriage.Status) {
	s.statusMu.Lock()
	defer s.statusMu.Unlock()
	s.status = status
	s.seq++
	s.statusCond.Broadcast()
}
