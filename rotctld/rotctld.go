// Package rotctld serves a single hamlib rotctld client on behalf of a
// rotator that moves one axis at a time.
package rotctld

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/w1xm/carryout_interface/internal/metrics"
	"github.com/w1xm/carryout_interface/rotator"
)

type State int

const (
	AwaitingConnection State = iota
	Homing
	Serving
	Closed
)

func (s State) String() string {
	switch s {
	case AwaitingConnection:
		return "awaiting_connection"
	case Homing:
		return "homing"
	case Serving:
		return "serving"
	case Closed:
		return "closed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Termination says why Run returned.
type Termination int

const (
	// Aborted is returned together with a non-nil error.
	Aborted Termination = iota
	// Stopped means the client sent S.
	Stopped
	// ProtocolViolation means the client sent a command we do not handle.
	// Like Stopped, it ends the session.
	ProtocolViolation
	// PeerClosed means the client hung up.
	PeerClosed
)

func (t Termination) String() string {
	switch t {
	case Aborted:
		return "aborted"
	case Stopped:
		return "stopped"
	case ProtocolViolation:
		return "protocol violation"
	case PeerClosed:
		return "peer closed"
	}
	return fmt.Sprintf("termination(%d)", int(t))
}

type Config struct {
	Limits rotator.Limits
	// Reference is the attitude the rotator is assumed to be in after
	// homing. The Carryout does not report it, so it must be configured for
	// the unit at hand.
	Reference rotator.Position
}

// Status is the snapshot handed to the status callback.
type Status struct {
	State    string           `json:"state"`
	Position rotator.Position `json:"position"`
	Target   rotator.Position `json:"target"`
	Moving   bool             `json:"moving"`
}

func (s Status) Clone() rotator.Status {
	return s
}

func (s Status) AzimuthPosition() float64 {
	return s.Position.Azimuth
}

func (s Status) ElevationPosition() float64 {
	return s.Position.Elevation
}

// Bridge owns the rotator, the client connection and the believed position
// for the lifetime of one session.
type Bridge struct {
	r              rotator.Rotator
	cfg            Config
	log            logrus.FieldLogger
	statusCallback rotator.StatusCallback

	state    State
	position rotator.Position
	target   rotator.Position
	moving   bool
}

func New(r rotator.Rotator, cfg Config, log logrus.FieldLogger, statusCallback rotator.StatusCallback) *Bridge {
	return &Bridge{
		r:              r,
		cfg:            cfg,
		log:            log,
		statusCallback: statusCallback,
		state:          AwaitingConnection,
	}
}

func (b *Bridge) State() State {
	return b.state
}

func (b *Bridge) Position() rotator.Position {
	return b.position
}

func (b *Bridge) setState(s State) {
	b.log.WithField("state", s).Debug("state change")
	b.state = s
	b.notifyStatus()
}

func (b *Bridge) notifyStatus() {
	if b.statusCallback == nil {
		return
	}
	b.statusCallback(Status{
		State:    b.state.String(),
		Position: b.position,
		Target:   b.target,
		Moving:   b.moving,
	})
}

// closeOnDone closes c when ctx is done, until the returned func is called.
func closeOnDone(ctx context.Context, c io.Closer) func() {
	stop := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			c.Close()
		case <-stop:
		}
	}()
	return func() { close(stop) }
}

// Run homes the rotator, accepts exactly one client on ln and serves it
// until it stops, hangs up or sends something unknown. Run takes ownership
// of ln and closes it once the client is accepted. The rotator is left
// open for the caller to close.
func (b *Bridge) Run(ctx context.Context, ln net.Listener) (Termination, error) {
	defer b.setState(Closed)
	stop := closeOnDone(ctx, ln)
	defer stop()

	b.setState(Homing)
	if err := b.r.Reset(); err != nil {
		ln.Close()
		return Aborted, fmt.Errorf("resetting controller: %w", err)
	}
	b.log.Print("homing motors before accepting connections")
	if err := b.r.Home(ctx); err != nil {
		ln.Close()
		return Aborted, fmt.Errorf("homing: %w", err)
	}
	b.position = b.cfg.Reference
	b.target = b.cfg.Reference
	b.setState(Serving)

	b.log.Printf("listening for rotor commands on %v", ln.Addr())
	conn, err := ln.Accept()
	ln.Close()
	if err != nil {
		if ctx.Err() != nil {
			return Aborted, ctx.Err()
		}
		return Aborted, fmt.Errorf("accepting: %w", err)
	}
	return b.serve(ctx, conn)
}

// Command is one rotctld request line split into fields.
type Command struct {
	Name string
	Args []string
}

func ParseCommand(line string) Command {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return Command{}
	}
	return Command{Name: fields[0], Args: fields[1:]}
}

func (b *Bridge) serve(ctx context.Context, conn net.Conn) (Termination, error) {
	defer conn.Close()
	stop := closeOnDone(ctx, conn)
	defer stop()

	log := b.log.WithField("client", conn.RemoteAddr())
	log.Print("accepted connection")
	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		cmd := ParseCommand(line)
		log.WithField("args", cmd.Args).Debugf("command %q", cmd.Name)
		switch cmd.Name {
		case "p":
			metrics.Commands.WithLabelValues(cmd.Name).Inc()
			if _, err := fmt.Fprintf(conn, "%s\n%s\n", formatDegrees(b.position.Azimuth), formatDegrees(b.position.Elevation)); err != nil {
				return Aborted, fmt.Errorf("writing to %v: %w", conn.RemoteAddr(), err)
			}
		case "P":
			metrics.Commands.WithLabelValues(cmd.Name).Inc()
			if err := b.setPosition(ctx, conn, log, cmd.Args); err != nil {
				return Aborted, err
			}
		case "S":
			metrics.Commands.WithLabelValues(cmd.Name).Inc()
			log.Print("client sent stop; exiting")
			return Stopped, nil
		default:
			metrics.Commands.WithLabelValues("unknown").Inc()
			log.WithField("line", line).Warn("unrecognized command; exiting")
			return ProtocolViolation, nil
		}
	}
	if ctx.Err() != nil {
		return Aborted, ctx.Err()
	}
	if err := scanner.Err(); err != nil {
		return Aborted, fmt.Errorf("reading from %v: %w", conn.RemoteAddr(), err)
	}
	log.Print("client disconnected")
	return PeerClosed, nil
}

func (b *Bridge) parseTarget(args []string) (rotator.Position, error) {
	var p rotator.Position
	if len(args) != 2 {
		return p, fmt.Errorf("%w: want 2 arguments, got %d", rotator.ErrInvalidArgument, len(args))
	}
	for i, dest := range []*float64{&p.Azimuth, &p.Elevation} {
		v, err := strconv.ParseFloat(args[i], 64)
		if err != nil {
			return p, fmt.Errorf("%w: %v", rotator.ErrInvalidArgument, err)
		}
		*dest = v
	}
	return p, b.cfg.Limits.ValidatePosition(p)
}

// setPosition handles P. Bad targets get RPRT -22 and leave the device
// untouched; device failures are returned and end the session.
func (b *Bridge) setPosition(ctx context.Context, w io.Writer, log logrus.FieldLogger, args []string) error {
	target, err := b.parseTarget(args)
	if err != nil {
		log.WithError(err).Warn("rejecting set_pos")
		metrics.Moves.WithLabelValues("rejected").Inc()
		if _, err := io.WriteString(w, "RPRT -22\n"); err != nil {
			return fmt.Errorf("writing reply: %w", err)
		}
		return nil
	}
	log.Printf("move antenna to %g %g", target.Azimuth, target.Elevation)
	if err := b.moveTo(ctx, target); err != nil {
		metrics.Moves.WithLabelValues("failed").Inc()
		return err
	}
	metrics.Moves.WithLabelValues("ok").Inc()
	if _, err := io.WriteString(w, "RPRT 0\n "); err != nil {
		return fmt.Errorf("writing reply: %w", err)
	}
	if err := b.r.ExitMotorMenu(); err != nil {
		return fmt.Errorf("leaving motor menu: %w", err)
	}
	return nil
}

// moveTo drives azimuth to completion, then elevation. The controller can
// only run one axis at a time from the motor menu.
func (b *Bridge) moveTo(ctx context.Context, target rotator.Position) error {
	b.target = target
	b.moving = true
	b.notifyStatus()
	if err := b.r.EnterMotorMenu(); err != nil {
		return fmt.Errorf("entering motor menu: %w", err)
	}
	for _, axis := range []rotator.Axis{rotator.Azimuth, rotator.Elevation} {
		if err := b.r.MoveAxis(ctx, axis, target.Angle(axis)); err != nil {
			return fmt.Errorf("moving %v to %g: %w", axis, target.Angle(axis), err)
		}
	}
	b.position = target
	b.moving = false
	b.notifyStatus()
	return nil
}

// formatDegrees prints whole angles with a trailing ".0", as rotctld
// clients expect a float.
func formatDegrees(angle float64) string {
	s := strconv.FormatFloat(angle, 'f', -1, 64)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}
