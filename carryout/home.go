package carryout

import (
	"context"

	"github.com/w1xm/carryout_interface/internal/metrics"
)

// Home runs "h *" from the motor menu and blocks until the homed marker is
// seen. The controller does not report where it ended up; callers must
// assume the unit's known post-home attitude.
func (c *Controller) Home(ctx context.Context) error {
	if err := c.EnterMotorMenu(); err != nil {
		return err
	}
	if err := c.SendCommand("h *"); err != nil {
		return err
	}
	for {
		line, err := c.readLine(ctx, c.cfg.ReadTimeout)
		if err != nil {
			return err
		}
		if line == "" {
			continue
		}
		if c.cfg.Debug {
			c.log.Printf("Carryout: %s", line)
		} else {
			c.log.WithField("line", line).Debug("homing")
		}
		t := c.parser.Parse(line)
		metrics.TelemetryLines.WithLabelValues(t.Kind.String()).Inc()
		if t.Kind == HomedMarker {
			return nil
		}
	}
}
