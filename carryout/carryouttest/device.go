// Package carryouttest provides a fake Carryout motor controller for
// tests. It understands just enough of the console to home, open the motor
// menu and move one axis at a time, printing telemetry as it goes.
package carryouttest

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net"
	"regexp"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

const (
	// HomedLine is printed when homing finishes.
	HomedLine = "AZ - Angle: 1 Wrap: 0"

	homingSteps = 5
	idle        = -1
)

// Home is where the fake ends up after "h *".
var Home = [2]float64{0, 65}

type Device struct {
	// Step is the simulation period.
	Step time.Duration
	// Rate is how many degrees an axis moves per step.
	Rate float64

	conn io.ReadWriteCloser
	out  chan string

	mu       sync.Mutex
	commands []string
	inMotor  bool
	homing   int
	pos      [2]float64
	target   [2]float64
	moving   int
}

func New() (*Device, net.Conn) {
	a, b := net.Pipe()
	return &Device{
		Step:   5 * time.Millisecond,
		Rate:   5,
		conn:   a,
		out:    make(chan string, 1024),
		moving: idle,
	}, b
}

// Commands returns every command received so far, without the CR.
func (d *Device) Commands() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.commands...)
}

// Position returns the simulated azimuth and elevation.
func (d *Device) Position() (float64, float64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pos[0], d.pos[1]
}

// Run serves the console until ctx is done or the other end closes.
func (d *Device) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-ctx.Done()
		d.conn.Close()
		return nil
	})
	g.Go(func() error {
		t := time.NewTicker(d.Step)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-t.C:
			}
			d.step()
		}
	})
	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return nil
			case line := <-d.out:
				if _, err := fmt.Fprintf(d.conn, "%s\r\n", line); err != nil {
					return closedOK(err)
				}
			}
		}
	})
	g.Go(func() error {
		err := d.reader()
		// Stop the other goroutines once the bridge hangs up.
		return closedOK(err)
	})
	if err := g.Wait(); !errors.Is(err, errHangup) {
		return err
	}
	return nil
}

func closedOK(err error) error {
	if err == nil || errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) {
		return errHangup
	}
	return err
}

var errHangup = errors.New("hangup")

func scanCR(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexByte(data, '\r'); i >= 0 {
		return i + 1, data[:i], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}

func (d *Device) reader() error {
	scanner := bufio.NewScanner(d.conn)
	scanner.Split(scanCR)
	for scanner.Scan() {
		d.parseInput(scanner.Text())
	}
	return scanner.Err()
}

var moveRE = regexp.MustCompile(`^a\s+(\d+)\s+(\S+)$`)

func (d *Device) parseInput(input string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.commands = append(d.commands, input)
	switch {
	case input == "":
		d.send(d.prompt())
	case input == "q":
		d.inMotor = false
		d.send(d.prompt())
	case input == "mot":
		d.inMotor = true
		d.send(d.prompt())
	case input == "h *" && d.inMotor:
		d.homing = homingSteps
		d.moving = idle
	case d.inMotor && moveRE.MatchString(input):
		m := moveRE.FindStringSubmatch(input)
		axis, _ := strconv.Atoi(m[1])
		angle, err := strconv.ParseFloat(m[2], 64)
		if err != nil || axis > 1 {
			d.send("Invalid argument")
			return
		}
		d.target[axis] = angle
		d.moving = axis
	default:
		d.send(fmt.Sprintf("Unknown command: %q", input))
		d.send(d.prompt())
	}
}

func (d *Device) prompt() string {
	if d.inMotor {
		return "MOT>"
	}
	return "TRK>"
}

// send queues a line; callers hold mu. Lines are written by Run so that a
// slow reader on the other end never blocks command handling.
func (d *Device) send(line string) {
	select {
	case d.out <- line:
	default:
	}
}

func (d *Device) step() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.homing > 0 {
		d.homing--
		if d.homing > 0 {
			d.send(fmt.Sprintf("EL - Angle: %d Wrap: 0", homingSteps-d.homing))
			return
		}
		d.pos = Home
		d.send(HomedLine)
		return
	}
	if d.moving == idle {
		return
	}
	a := d.moving
	delta := d.target[a] - d.pos[a]
	if math.Abs(delta) <= d.Rate {
		d.pos[a] = d.target[a]
		d.moving = idle
	} else {
		d.pos[a] += math.Copysign(d.Rate, delta)
	}
	d.send(fmt.Sprintf("Angle = %.2f", d.pos[a]))
}
