// Command carryout exposes a Winegard Carryout antenna as a rotctld rotor
// for Gpredict and other hamlib clients.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/w1xm/carryout_interface/carryout"
	"github.com/w1xm/carryout_interface/config"
	"github.com/w1xm/carryout_interface/internal/logger"
	"github.com/w1xm/carryout_interface/rotator"
	"github.com/w1xm/carryout_interface/rotctld"
	"golang.org/x/sync/errgroup"
)

var (
	configPath = flag.String("config", "", "YAML config file; built-in defaults are used if empty")
	serialPort = flag.String("serial", "", "serial port name")
	serialBaud = flag.Int("baud", 0, "serial baud rate")
	listenAddr = flag.String("listen", "", "rotctld address to listen on")
	httpAddr   = flag.String("http", "", "address to serve status and metrics on")
	influxURL  = flag.String("influx_server", "", "InfluxDB server to log status to")
	debug      = flag.Bool("debug", false, "echo controller output while homing")
	logLevel   = flag.String("log_level", "", "log level")
)

// overrides holds flag values; zero values leave the config untouched.
type overrides struct {
	SerialPort string
	Baud       int
	Listen     string
	HTTP       string
	InfluxURL  string
	Debug      bool
	LogLevel   string
}

func applyOverrides(cfg *config.Config, o overrides) {
	if o.SerialPort != "" {
		cfg.Serial.Port = o.SerialPort
	}
	if o.Baud != 0 {
		cfg.Serial.Baud = o.Baud
	}
	if o.Listen != "" {
		cfg.Listen = o.Listen
	}
	if o.HTTP != "" {
		cfg.HTTP = o.HTTP
	}
	if o.InfluxURL != "" {
		cfg.Influx.URL = o.InfluxURL
	}
	if o.Debug {
		cfg.Debug = true
	}
	if o.LogLevel != "" {
		cfg.LogLevel = o.LogLevel
	}
}

func loadConfig() (*config.Config, error) {
	cfg := config.Default()
	if *configPath != "" {
		var err error
		if cfg, err = config.Load(*configPath); err != nil {
			return nil, err
		}
	}
	applyOverrides(cfg, overrides{
		SerialPort: *serialPort,
		Baud:       *serialBaud,
		Listen:     *listenAddr,
		HTTP:       *httpAddr,
		InfluxURL:  *influxURL,
		Debug:      *debug,
		LogLevel:   *logLevel,
	})
	if token := os.Getenv("INFLUX_TOKEN"); token != "" {
		cfg.Influx.Token = token
	}
	return cfg, cfg.Validate()
}

func main() {
	flag.Parse()
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(2)
	}
	log, err := logger.New(os.Stderr, cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "log_level: %v\n", err)
		os.Exit(2)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, log); err != nil {
		log.Fatal(err)
	}
}

var errSessionEnded = errors.New("session ended")

func fanout(cbs ...rotator.StatusCallback) rotator.StatusCallback {
	return func(status rotator.Status) {
		for _, cb := range cbs {
			cb(status.Clone())
		}
	}
}

func run(ctx context.Context, cfg *config.Config, log *logrus.Logger) error {
	ctrl, err := carryout.Open(cfg.Serial.Port, cfg.Serial.Baud, cfg.Controller(), log)
	if err != nil {
		return err
	}
	defer ctrl.Close()
	log.Printf("Carryout antenna connected on %s", cfg.Serial.Port)

	ln, err := net.Listen("tcp", cfg.Listen)
	if err != nil {
		return err
	}

	server := NewServer()
	callbacks := []rotator.StatusCallback{server.statusCallback}
	if cfg.Influx.URL != "" {
		sink := newInfluxSink(cfg.Influx, log)
		defer sink.Close()
		callbacks = append(callbacks, sink.statusCallback)
	}
	statusCallback := fanout(callbacks...)
	if cfg.Latitude != nil {
		statusCallback = rotator.NewTransformer(*cfg.Latitude, statusCallback).StatusCallback
	}
	bridge := rotctld.New(ctrl, cfg.Bridge(), log, statusCallback)

	g, ctx := errgroup.WithContext(ctx)
	if cfg.HTTP != "" {
		g.Go(func() error {
			return server.ListenAndServe(ctx, cfg.HTTP, log)
		})
	}
	g.Go(func() error {
		term, err := bridge.Run(ctx, ln)
		if err != nil {
			return err
		}
		log.WithField("reason", term).Print("rotctld session ended; exiting")
		return errSessionEnded
	})
	err = g.Wait()
	if errors.Is(err, errSessionEnded) || errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
