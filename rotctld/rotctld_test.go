package rotctld

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"io/ioutil"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/w1xm/carryout_interface/carryout"
	"github.com/w1xm/carryout_interface/carryout/carryouttest"
	"github.com/w1xm/carryout_interface/internal/logger"
	"github.com/w1xm/carryout_interface/rotator"
)

type fakeRotator struct {
	mu      sync.Mutex
	calls   []string
	homed   chan struct{}
	moveErr error
}

func (f *fakeRotator) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

func (f *fakeRotator) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeRotator) Reset() error {
	f.record("reset")
	return nil
}

func (f *fakeRotator) Home(ctx context.Context) error {
	f.record("home")
	if f.homed != nil {
		select {
		case <-f.homed:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (f *fakeRotator) EnterMotorMenu() error {
	f.record("mot")
	return nil
}

func (f *fakeRotator) ExitMotorMenu() error {
	f.record("q")
	return nil
}

func (f *fakeRotator) MoveAxis(ctx context.Context, axis rotator.Axis, angle float64) error {
	f.record(fmt.Sprintf("a %d %g", int(axis), angle))
	return f.moveErr
}

func (f *fakeRotator) Close() error {
	f.record("close")
	return nil
}

var testConfig = Config{
	Limits:    rotator.DefaultLimits,
	Reference: rotator.Position{Azimuth: 0, Elevation: 65},
}

type result struct {
	term Termination
	err  error
}

// start runs a bridge on a loopback listener and dials it.
func start(t *testing.T, r rotator.Rotator, cb rotator.StatusCallback) (net.Conn, <-chan result) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	b := New(r, testConfig, logger.Discard(), cb)
	done := make(chan result, 1)
	go func() {
		term, err := b.Run(ctx, ln)
		done <- result{term, err}
	}()
	conn, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn, done
}

func wait(t *testing.T, done <-chan result) result {
	t.Helper()
	select {
	case res := <-done:
		return res
	case <-time.After(5 * time.Second):
		t.Fatal("bridge did not exit")
	}
	return result{}
}

func query(t *testing.T, conn net.Conn, br *bufio.Reader) string {
	t.Helper()
	_, err := io.WriteString(conn, "p\n")
	require.NoError(t, err)
	az, err := br.ReadString('\n')
	require.NoError(t, err)
	el, err := br.ReadString('\n')
	require.NoError(t, err)
	return az + el
}

func readN(t *testing.T, br *bufio.Reader, n int) string {
	t.Helper()
	buf := make([]byte, n)
	_, err := io.ReadFull(br, buf)
	require.NoError(t, err)
	return string(buf)
}

func TestQueryAndSet(t *testing.T) {
	r := &fakeRotator{}
	conn, done := start(t, r, nil)
	br := bufio.NewReader(conn)

	assert.Equal(t, "0.0\n65.0\n", query(t, conn, br))

	_, err := io.WriteString(conn, "P 90 30\n")
	require.NoError(t, err)
	assert.Equal(t, "RPRT 0\n ", readN(t, br, 8))

	assert.Equal(t, "90.0\n30.0\n", query(t, conn, br))

	_, err = io.WriteString(conn, "S\n")
	require.NoError(t, err)
	rest, err := ioutil.ReadAll(br)
	require.NoError(t, err)
	assert.Empty(t, rest)

	res := wait(t, done)
	require.NoError(t, res.err)
	assert.Equal(t, Stopped, res.term)

	want := []string{"reset", "home", "mot", "a 0 90", "a 1 30", "q"}
	if diff := cmp.Diff(r.Calls(), want); diff != "" {
		t.Errorf("unexpected rotator calls: got(-)/want(+):\n%s", diff)
	}
}

func TestUnknownCommand(t *testing.T) {
	conn, done := start(t, &fakeRotator{}, nil)
	_, err := io.WriteString(conn, "X\n")
	require.NoError(t, err)
	rest, err := ioutil.ReadAll(conn)
	require.NoError(t, err)
	assert.Empty(t, rest)

	res := wait(t, done)
	require.NoError(t, res.err)
	assert.Equal(t, ProtocolViolation, res.term)
}

func TestPeerClosed(t *testing.T) {
	conn, done := start(t, &fakeRotator{}, nil)
	br := bufio.NewReader(conn)
	query(t, conn, br)
	conn.Close()

	res := wait(t, done)
	require.NoError(t, res.err)
	assert.Equal(t, PeerClosed, res.term)
}

func TestRejectedTargets(t *testing.T) {
	r := &fakeRotator{}
	conn, done := start(t, r, nil)
	br := bufio.NewReader(conn)

	for _, cmd := range []string{"P 400 30", "P 90 10", "P 90", "P abc 30", "P"} {
		_, err := io.WriteString(conn, cmd+"\n")
		require.NoError(t, err)
		assert.Equal(t, "RPRT -22\n", readN(t, br, 9), cmd)
	}
	assert.Equal(t, "0.0\n65.0\n", query(t, conn, br))

	_, err := io.WriteString(conn, "S\n")
	require.NoError(t, err)
	wait(t, done)

	if diff := cmp.Diff(r.Calls(), []string{"reset", "home"}); diff != "" {
		t.Errorf("rejected targets reached the rotator: got(-)/want(+):\n%s", diff)
	}
}

func TestMoveFailure(t *testing.T) {
	r := &fakeRotator{moveErr: carryout.ErrClosed}
	conn, done := start(t, r, nil)
	_, err := io.WriteString(conn, "P 10 20\n")
	require.NoError(t, err)

	res := wait(t, done)
	assert.Equal(t, Aborted, res.term)
	assert.True(t, errors.Is(res.err, carryout.ErrClosed), "got %v", res.err)
}

func TestClientsWaitForHoming(t *testing.T) {
	r := &fakeRotator{homed: make(chan struct{})}
	conn, done := start(t, r, nil)
	br := bufio.NewReader(conn)

	_, err := io.WriteString(conn, "p\n")
	require.NoError(t, err)
	conn.SetReadDeadline(time.Now().Add(50 * time.Millisecond))
	_, err = br.ReadByte()
	var nerr net.Error
	require.True(t, errors.As(err, &nerr) && nerr.Timeout(), "answered while homing: %v", err)

	close(r.homed)
	conn.SetReadDeadline(time.Time{})
	assert.Equal(t, "0.0\n", readLine(t, br))
	assert.Equal(t, "65.0\n", readLine(t, br))

	conn.Close()
	wait(t, done)
}

func readLine(t *testing.T, br *bufio.Reader) string {
	t.Helper()
	s, err := br.ReadString('\n')
	require.NoError(t, err)
	return s
}

func TestSingleClient(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	b := New(&fakeRotator{}, testConfig, logger.Discard(), nil)
	done := make(chan result, 1)
	go func() {
		term, err := b.Run(ctx, ln)
		done <- result{term, err}
	}()
	first, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer first.Close()
	query(t, first, bufio.NewReader(first))

	if second, err := net.Dial("tcp", addr); err == nil {
		second.Close()
		t.Error("a second client connected")
	}
	cancel()
	res := wait(t, done)
	assert.Equal(t, Aborted, res.term)
	assert.True(t, errors.Is(res.err, context.Canceled), "got %v", res.err)
}

func TestStatusCallback(t *testing.T) {
	var mu sync.Mutex
	var states []string
	var last Status
	cb := func(s rotator.Status) {
		mu.Lock()
		defer mu.Unlock()
		st := s.(Status)
		if len(states) == 0 || states[len(states)-1] != st.State {
			states = append(states, st.State)
		}
		last = st
	}
	conn, done := start(t, &fakeRotator{}, cb)
	br := bufio.NewReader(conn)
	_, err := io.WriteString(conn, "P 120 40\n")
	require.NoError(t, err)
	readN(t, br, 8)
	_, err = io.WriteString(conn, "S\n")
	require.NoError(t, err)
	wait(t, done)

	mu.Lock()
	defer mu.Unlock()
	if diff := cmp.Diff(states, []string{"homing", "serving", "closed"}); diff != "" {
		t.Errorf("unexpected states: got(-)/want(+):\n%s", diff)
	}
	assert.Equal(t, 120.0, last.AzimuthPosition())
	assert.Equal(t, 40.0, last.ElevationPosition())
	assert.False(t, last.Moving)
}

func TestEndToEnd(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	dev, devConn := carryouttest.New()
	devDone := make(chan error, 1)
	go func() { devDone <- dev.Run(ctx) }()

	c, err := carryout.New(devConn, carryout.DefaultConfig(), logger.Discard())
	require.NoError(t, err)

	conn, done := start(t, c, nil)
	br := bufio.NewReader(conn)
	assert.Equal(t, "0.0\n65.0\n", query(t, conn, br))
	_, err = io.WriteString(conn, "P 90 30\n")
	require.NoError(t, err)
	assert.Equal(t, "RPRT 0\n ", readN(t, br, 8))
	assert.Equal(t, "90.0\n30.0\n", query(t, conn, br))
	_, err = io.WriteString(conn, "S\n")
	require.NoError(t, err)

	res := wait(t, done)
	require.NoError(t, res.err)
	assert.Equal(t, Stopped, res.term)

	require.NoError(t, c.Close())
	require.NoError(t, <-devDone)

	az, el := dev.Position()
	assert.Equal(t, 90.0, az)
	assert.Equal(t, 30.0, el)
	want := []string{"q", "", "mot", "h *", "mot", "a 0 90", "a 1 30", "q"}
	if diff := cmp.Diff(dev.Commands(), want); diff != "" {
		t.Errorf("unexpected controller commands: got(-)/want(+):\n%s", diff)
	}
}

func TestParseCommand(t *testing.T) {
	for _, test := range []struct {
		line string
		want Command
	}{
		{"p", Command{Name: "p", Args: []string{}}},
		{"P 90.00 30.00", Command{Name: "P", Args: []string{"90.00", "30.00"}}},
		{"  S  ", Command{Name: "S", Args: []string{}}},
		{"", Command{}},
	} {
		if diff := cmp.Diff(ParseCommand(test.line), test.want); diff != "" {
			t.Errorf("ParseCommand(%q): got(-)/want(+):\n%s", test.line, diff)
		}
	}
}

func TestFormatDegrees(t *testing.T) {
	for in, want := range map[float64]string{
		0:      "0.0",
		65:     "65.0",
		90.5:   "90.5",
		359.25: "359.25",
	} {
		if got := formatDegrees(in); got != want {
			t.Errorf("formatDegrees(%g) = %q, want %q", in, got, want)
		}
	}
}
