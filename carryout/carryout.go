// Package carryout drives the motor controller of a Winegard Carryout
// satellite antenna through its serial debug console.
package carryout

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/tarm/serial"
	"github.com/w1xm/carryout_interface/rotator"
)

var (
	// ErrClosed is returned once the serial stream has ended or been closed.
	ErrClosed = errors.New("controller connection closed")
	// ErrConvergenceTimeout is returned when Config.MaxWait elapses before
	// the controller reports the commanded angle.
	ErrConvergenceTimeout = errors.New("axis did not converge")
)

type Config struct {
	Limits rotator.Limits
	// Tolerance is how close, in degrees, a reported angle must be to the
	// target to count as arrived. The comparison is strict.
	Tolerance float64
	// ReadTimeout bounds a single telemetry read.
	ReadTimeout time.Duration
	// MaxWait bounds a whole convergence wait. Zero waits forever, which
	// is how the controller is normally driven: it always reports arrival.
	MaxWait      time.Duration
	HomedPattern string
	// Debug echoes every line read while homing at info level.
	Debug bool
}

func DefaultConfig() Config {
	return Config{
		Limits:       rotator.DefaultLimits,
		Tolerance:    0.01,
		ReadTimeout:  time.Second,
		HomedPattern: DefaultHomedPattern,
	}
}

// Controller is the line-oriented session with the motor controller.
// It is not safe for concurrent use, apart from Close.
type Controller struct {
	conn   io.ReadWriteCloser
	cfg    Config
	parser *Parser
	log    logrus.FieldLogger

	lines chan string
	// readErr is written by readLoop before lines is closed.
	readErr error

	closeOnce sync.Once
	closed    chan struct{}
	closeErr  error
}

var _ rotator.Rotator = (*Controller)(nil)

// Open opens the controller's serial port at baud, 8-N-1.
func Open(name string, baud int, cfg Config, log logrus.FieldLogger) (*Controller, error) {
	c := &serial.Config{
		Name:     name,
		Baud:     baud,
		Size:     8,
		Parity:   serial.ParityNone,
		StopBits: serial.Stop1,
	}
	s, err := serial.OpenPort(c)
	if err != nil {
		return nil, fmt.Errorf("opening %q: %w", name, err)
	}
	log.Printf("opened %q", name)
	ctrl, err := New(s, cfg, log)
	if err != nil {
		s.Close()
		return nil, err
	}
	return ctrl, nil
}

// New starts a session on an already open stream.
func New(conn io.ReadWriteCloser, cfg Config, log logrus.FieldLogger) (*Controller, error) {
	p, err := NewParser(cfg.HomedPattern)
	if err != nil {
		return nil, err
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = time.Second
	}
	c := &Controller{
		conn:   conn,
		cfg:    cfg,
		parser: p,
		log:    log,
		lines:  make(chan string),
		closed: make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

// scanLines splits on either CR or LF; the console uses both.
func scanLines(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		return i + 1, data[:i], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}

func (c *Controller) readLoop() {
	defer close(c.lines)
	scanner := bufio.NewScanner(c.conn)
	scanner.Split(scanLines)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		select {
		case c.lines <- line:
		case <-c.closed:
			c.readErr = ErrClosed
			return
		}
	}
	if err := scanner.Err(); err != nil {
		select {
		case <-c.closed:
			c.readErr = ErrClosed
		default:
			c.readErr = fmt.Errorf("reading controller: %w", err)
		}
		return
	}
	c.readErr = ErrClosed
}

// ReadLine waits up to timeout for one line of telemetry. On timeout it
// returns "" and a nil error; callers should keep reading.
func (c *Controller) ReadLine(timeout time.Duration) (string, error) {
	return c.readLine(context.Background(), timeout)
}

func (c *Controller) readLine(ctx context.Context, timeout time.Duration) (string, error) {
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case line, ok := <-c.lines:
		if !ok {
			return "", c.readErr
		}
		return line, nil
	case <-t.C:
		return "", nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// SendCommand writes one CR-terminated command line.
func (c *Controller) SendCommand(text string) error {
	c.log.WithField("command", text).Debug("sending")
	if _, err := io.WriteString(c.conn, text+"\r"); err != nil {
		return fmt.Errorf("writing %q: %w", text, err)
	}
	return nil
}

// Reset backs out of any submenu and clears a half-typed prompt left over
// from a previous session.
func (c *Controller) Reset() error {
	if err := c.SendCommand("q"); err != nil {
		return err
	}
	return c.SendCommand("")
}

func (c *Controller) EnterMotorMenu() error {
	return c.SendCommand("mot")
}

func (c *Controller) ExitMotorMenu() error {
	return c.SendCommand("q")
}

func (c *Controller) Close() error {
	c.closeOnce.Do(func() {
		close(c.closed)
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}

func formatAngle(angle float64) string {
	return strconv.FormatFloat(angle, 'f', -1, 64)
}
