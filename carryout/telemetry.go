package carryout

import (
	"fmt"
	"regexp"
	"strconv"
)

// DefaultHomedPattern matches the line the G2+ prints once the azimuth
// motor has found its index after "h *".
const DefaultHomedPattern = `AZ\s*-\s*Angle:\s*1\s*Wrap:\s*0`

var angleRE = regexp.MustCompile(`Angle\s*=\s*([-+]?\d+(?:\.\d+)?)`)

type Kind int

const (
	Unrecognized Kind = iota
	AngleReading
	HomedMarker
)

func (k Kind) String() string {
	switch k {
	case AngleReading:
		return "angle"
	case HomedMarker:
		return "homed"
	}
	return "unrecognized"
}

// Telemetry is one line of controller output after parsing.
type Telemetry struct {
	Kind Kind
	// Angle is set when Kind is AngleReading.
	Angle float64
	Raw   string
}

type Parser struct {
	homed *regexp.Regexp
}

func NewParser(homedPattern string) (*Parser, error) {
	if homedPattern == "" {
		homedPattern = DefaultHomedPattern
	}
	re, err := regexp.Compile(homedPattern)
	if err != nil {
		return nil, fmt.Errorf("homed pattern %q: %w", homedPattern, err)
	}
	return &Parser{homed: re}, nil
}

// Parse classifies a telemetry line. Lines that match neither shape, or
// whose number does not parse, are Unrecognized.
func (p *Parser) Parse(line string) Telemetry {
	t := Telemetry{Raw: line}
	if p.homed.MatchString(line) {
		t.Kind = HomedMarker
		return t
	}
	m := angleRE.FindStringSubmatch(line)
	if m == nil {
		return t
	}
	v, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return t
	}
	t.Kind = AngleReading
	t.Angle = v
	return t
}
