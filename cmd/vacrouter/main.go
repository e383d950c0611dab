// Command vacrouter runs the vacuum-hose carriage controller. Commands are
// accepted on a serial console, a TCP line socket and HTTP; status is
// published as JSON over a websocket.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/gorilla/mux"
	"github.com/vacrouter/vacrouter/board"
	"github.com/vacrouter/vacrouter/buttons"
	"github.com/vacrouter/vacrouter/carriage"
	"github.com/vacrouter/vacrouter/command"
	"github.com/vacrouter/vacrouter/gpioboard"
	"github.com/vacrouter/vacrouter/relayboard"
	"github.com/vacrouter/vacrouter/simulator"
	"golang.org/x/sync/errgroup"
)

var (
	boardKind   = flag.String("board", "sim", "hardware backend: gpio, relay or sim")
	serialPort  = flag.String("serial", "", "serial console port name")
	serialBaud  = flag.Int("baud", command.DefaultBaud, "serial console baud rate")
	listenAddr  = flag.String("listen", "127.0.0.1:7373", "address for the command socket")
	httpAddr    = flag.String("http", "127.0.0.1:8502", "address for the HTTP API")
	homeOnStart = flag.Bool("home", false, "run homing at startup")
	usePanel    = flag.Bool("buttons", true, "poll the panel buttons")

	gpioForward     = flag.String("gpio_forward", gpioboard.DefaultConfig().Forward, "forward relay pin")
	gpioReverse     = flag.String("gpio_reverse", gpioboard.DefaultConfig().Reverse, "reverse relay pin")
	gpioSensor      = flag.String("gpio_sensor", gpioboard.DefaultConfig().Sensor, "proximity sensor pin")
	gpioRedLED      = flag.String("gpio_red_led", gpioboard.DefaultConfig().RedLED, "red LED pin")
	gpioGreenLED    = flag.String("gpio_green_led", gpioboard.DefaultConfig().GreenLED, "green LED pin")
	gpioRedButton   = flag.String("gpio_red_button", gpioboard.DefaultConfig().RedButton, "red button pin")
	gpioGreenButton = flag.String("gpio_green_button", gpioboard.DefaultConfig().GreenButton, "green button pin")

	relaySerial   = flag.String("relay_serial", "", "relay module serial port name")
	relayBaud     = flag.Int("relay_baud", 19200, "relay module baud rate")
	relayURL      = flag.String("relay_url", "", "relay bridge send URL, such as http://host:8503/api/send, instead of a local port")
	relayPassword = flag.String("relay_password", "", "relay bridge password")

	simStart = flag.Float64("sim_start", 50, "simulated carriage start position")
)

type runner interface {
	Run(ctx context.Context) error
}

// openBoard returns the board and, for backends that need one, the loop
// that keeps it running.
func openBoard() (board.Board, runner, func() error, error) {
	switch *boardKind {
	case "gpio":
		b, err := gpioboard.Open(gpioboard.Config{
			Forward:     *gpioForward,
			Reverse:     *gpioReverse,
			Sensor:      *gpioSensor,
			RedLED:      *gpioRedLED,
			GreenLED:    *gpioGreenLED,
			RedButton:   *gpioRedButton,
			GreenButton: *gpioGreenButton,
		})
		if err != nil {
			return nil, nil, nil, err
		}
		return b, nil, b.Close, nil
	case "relay":
		b := relayboard.Connect(relayboard.Config{
			Port:     *relaySerial,
			Baud:     *relayBaud,
			URL:      *relayURL,
			Password: *relayPassword,
		})
		return b, b, nil, nil
	case "sim":
		s := simulator.New(simulator.DefaultTrack(), *simStart)
		return s, s, nil, nil
	}
	return nil, nil, nil, fmt.Errorf("unknown board %q", *boardKind)
}

func main() {
	flag.Parse()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	b, boardLoop, closeBoard, err := openBoard()
	if err != nil {
		log.Fatal(err)
	}
	if closeBoard != nil {
		defer func() {
			if err := closeBoard(); err != nil {
				log.Printf("closing board: %v", err)
			}
		}()
	}

	server := NewServer()
	c := carriage.New(b, board.SystemClock, carriage.DefaultTiming(), server.statusCallback)
	server.d = command.NewDispatcher(c)

	g, ctx := errgroup.WithContext(ctx)
	if boardLoop != nil {
		g.Go(func() error { return boardLoop.Run(ctx) })
	}
	g.Go(func() error { return c.Run(ctx) })
	if *usePanel {
		panel := buttons.New(b, board.SystemClock, c)
		g.Go(func() error { return panel.Run(ctx) })
	}
	if *serialPort != "" {
		link := server.d.SerialLink(*serialPort, *serialBaud)
		g.Go(func() error { return link.Run(ctx) })
	}
	addr, err := server.d.Listen(ctx, *listenAddr)
	if err != nil {
		log.Fatal(err)
	}
	log.Printf("Command socket on %v", addr)

	r := mux.NewRouter()
	r.Handle("/api/status", http.HandlerFunc(server.StatusHandler)).Methods("GET")
	r.Handle("/api/command", http.HandlerFunc(server.CommandHandler)).Methods("POST")
	r.Handle("/api/ws", http.HandlerFunc(server.StatusSocketHandler))
	srv := &http.Server{
		Handler:     r,
		Addr:        *httpAddr,
		ReadTimeout: 15 * time.Second,
		// A homing run takes tens of seconds.
		WriteTimeout: 60 * time.Second,
	}
	g.Go(func() error {
		log.Printf("Listening on %v", srv.Addr)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if *homeOnStart {
		go func() {
			res, err := c.Home(carriage.SourceInit)
			if err != nil {
				log.Printf("homing at startup: %v", err)
				return
			}
			log.Printf("homed at startup: %v", res.Report)
		}()
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Print(err)
	}
	if err := c.Stop(); err != nil {
		log.Printf("releasing motor: %v", err)
	}
}
