package rotator

import "fmt"

// Range is a closed interval of angles in degrees.
type Range struct {
	Min float64 `yaml:"min"`
	Max float64 `yaml:"max"`
}

func (r Range) Contains(angle float64) bool {
	return angle >= r.Min && angle <= r.Max
}

// Limits holds the hardware travel of both axes.
type Limits struct {
	Azimuth   Range `yaml:"azimuth"`
	Elevation Range `yaml:"elevation"`
}

// DefaultLimits is the travel of the Carryout G2+ controller.
var DefaultLimits = Limits{
	Azimuth:   Range{Min: 0, Max: 360},
	Elevation: Range{Min: 18, Max: 65},
}

func (l Limits) Range(axis Axis) Range {
	if axis == Elevation {
		return l.Elevation
	}
	return l.Azimuth
}

// Validate checks that axis exists and angle is within its travel.
func (l Limits) Validate(axis Axis, angle float64) error {
	if !axis.Valid() {
		return fmt.Errorf("%w: axis must be 0 or 1, got %d", ErrInvalidArgument, int(axis))
	}
	r := l.Range(axis)
	if !r.Contains(angle) {
		return fmt.Errorf("%w: %v angle must be %g-%g, got %g", ErrInvalidArgument, axis, r.Min, r.Max, angle)
	}
	return nil
}

// ValidatePosition checks both axes of p.
func (l Limits) ValidatePosition(p Position) error {
	if err := l.Validate(Azimuth, p.Azimuth); err != nil {
		return err
	}
	return l.Validate(Elevation, p.Elevation)
}
