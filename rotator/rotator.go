package rotator

import (
	"context"
	"errors"
	"fmt"
)

// ErrInvalidArgument is returned for an unknown axis or an angle outside
// the axis limits. It is always returned before any device I/O.
var ErrInvalidArgument = errors.New("invalid argument")

type Axis int

const (
	Azimuth   Axis = 0
	Elevation Axis = 1
)

func (a Axis) Valid() bool {
	return a == Azimuth || a == Elevation
}

func (a Axis) String() string {
	switch a {
	case Azimuth:
		return "azimuth"
	case Elevation:
		return "elevation"
	}
	return fmt.Sprintf("axis(%d)", int(a))
}

// Rotator is an az/el positioner that moves one axis at a time and reports
// arrival synchronously.
type Rotator interface {
	// Reset returns the controller to a known menu state.
	Reset() error
	// Home runs the controller's homing routine and blocks until it is done.
	Home(ctx context.Context) error
	EnterMotorMenu() error
	ExitMotorMenu() error
	// MoveAxis commands one axis and blocks until it reports the target angle.
	MoveAxis(ctx context.Context, axis Axis, angle float64) error
	Close() error
}

type StatusCallback func(status Status)

type Status interface {
	AzimuthPosition() float64
	ElevationPosition() float64

	Clone() Status
}

// Position is an antenna attitude in decimal degrees.
type Position struct {
	Azimuth   float64 `json:"azimuth" yaml:"azimuth"`
	Elevation float64 `json:"elevation" yaml:"elevation"`
}

func (p Position) Clone() Status {
	return p
}

func (p Position) AzimuthPosition() float64 {
	return p.Azimuth
}

func (p Position) ElevationPosition() float64 {
	return p.Elevation
}

// Angle returns the component of p for axis.
func (p Position) Angle(axis Axis) float64 {
	if axis == Elevation {
		return p.Elevation
	}
	return p.Azimuth
}
