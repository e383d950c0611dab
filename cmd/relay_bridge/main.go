// Command relay_bridge exposes a relay module on a local serial port to a
// vacrouter running elsewhere, forwarding raw modbus frames over HTTP. It
// also reports the carriage relays and inputs by name for bench checks.
package main

import (
	"encoding/json"
	"flag"
	"io"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/goburrow/modbus"
	"github.com/gorilla/mux"
	imodbus "github.com/vacrouter/vacrouter/internal/modbus"
	"github.com/vacrouter/vacrouter/relayboard"
	"github.com/vacrouter/vacrouter/relayboard/modbushttp"
)

var (
	addr        = flag.String("addr", "127.0.0.1:8503", "address to listen on")
	password    = flag.String("password", "", "password to require on remote connections")
	relaySerial = flag.String("relay_serial", "", "relay module serial port name")
	relayBaud   = flag.Int("relay_baud", 19200, "relay module baud rate")
)

type sender interface {
	Send(aduRequest []byte) (aduResponse []byte, err error)
}

type moduleReader interface {
	ReadCoils(address, quantity uint16) ([]byte, error)
	ReadDiscreteInputs(address, quantity uint16) ([]byte, error)
}

type Server struct {
	// mu serializes use of the RTU bus between remote frames and status
	// reads.
	mu       sync.Mutex
	handler  sender
	module   moduleReader
	password string
}

// ModuleStatus names the relay module's coils and inputs the way the
// carriage uses them.
type ModuleStatus struct {
	Forward, Reverse       bool
	RedLED, GreenLED       bool
	Sensor                 bool
	RedButton, GreenButton bool
	Fault                  bool `json:",omitempty"`
}

func NewServer(port string, baud int, password string) *Server {
	handler := modbus.NewRTUClientHandler(port)
	handler.BaudRate = baud
	handler.DataBits = 8
	handler.Parity = "N"
	handler.StopBits = 1
	handler.Timeout = 1 * time.Second
	handler.SlaveId = 1
	return &Server{
		handler:  handler,
		module:   modbus.NewClient(handler),
		password: password,
	}
}

func (s *Server) authorized(w http.ResponseWriter, r *http.Request) bool {
	if _, pass, _ := r.BasicAuth(); pass != s.password {
		http.Error(w, "wrong password", http.StatusUnauthorized)
		return false
	}
	return true
}

func (s *Server) SendHandler(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(w, r) {
		return
	}
	err := func() error {
		aduRequest, err := io.ReadAll(r.Body)
		if err != nil {
			return err
		}
		s.mu.Lock()
		aduResponse, err := s.handler.Send(aduRequest)
		s.mu.Unlock()
		var errString string
		if err != nil {
			errString = err.Error()
		}
		body, err := json.Marshal(&modbushttp.SendResponse{
			ADUResponse: aduResponse,
			Error:       errString,
		})
		if err != nil {
			return err
		}
		_, err = w.Write(body)
		return err
	}()
	if err != nil {
		log.Printf("SendHandler: %v", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func (s *Server) readStatus() (ModuleStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	coilBytes, err := s.module.ReadCoils(0, 4)
	if err != nil {
		return ModuleStatus{}, err
	}
	inputBytes, err := s.module.ReadDiscreteInputs(0, 3)
	if err != nil {
		return ModuleStatus{}, err
	}
	coils := imodbus.BytesToBits(coilBytes)
	inputs := imodbus.BytesToBits(inputBytes)
	if len(coils) < 4 || len(inputs) < 3 {
		return ModuleStatus{}, io.ErrUnexpectedEOF
	}
	st := ModuleStatus{
		Forward:     coils[relayboard.CoilForward],
		Reverse:     coils[relayboard.CoilReverse],
		RedLED:      coils[relayboard.CoilRedLED],
		GreenLED:    coils[relayboard.CoilGreenLED],
		Sensor:      inputs[relayboard.InputSensor],
		RedButton:   inputs[relayboard.InputRedButton],
		GreenButton: inputs[relayboard.InputGreenButton],
	}
	st.Fault = st.Forward && st.Reverse
	return st, nil
}

// StatusHandler reports the carriage relays and inputs. Both motor relays
// closed at once is flagged as a fault.
func (s *Server) StatusHandler(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(w, r) {
		return
	}
	st, err := s.readStatus()
	if err != nil {
		log.Printf("StatusHandler: %v", err)
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	if st.Fault {
		log.Printf("FAULT: forward and reverse relays both closed")
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(st)
}

func main() {
	flag.Parse()
	server := NewServer(*relaySerial, *relayBaud, *password)
	r := mux.NewRouter()
	r.Handle("/api/send", http.HandlerFunc(server.SendHandler)).Methods("POST")
	r.Handle("/api/status", http.HandlerFunc(server.StatusHandler)).Methods("GET")
	srv := &http.Server{
		Handler:      r,
		Addr:         *addr,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 60 * time.Second,
	}
	log.Printf("Listening on %v", srv.Addr)
	log.Fatal(srv.ListenAndServe())
}
