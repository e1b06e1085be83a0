package carryout

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/w1xm/carryout_interface/internal/metrics"
	"github.com/w1xm/carryout_interface/rotator"
)

// MoveAxis commands axis to angle and blocks until the controller reports
// it has arrived. The motor menu must already be open.
func (c *Controller) MoveAxis(ctx context.Context, axis rotator.Axis, angle float64) error {
	if err := c.cfg.Limits.Validate(axis, angle); err != nil {
		return err
	}
	if err := c.SendCommand(fmt.Sprintf("a %d %s", int(axis), formatAngle(angle))); err != nil {
		return err
	}
	return c.WaitForAngle(ctx, axis, angle)
}

// WaitForAngle reads telemetry until an "Angle = x" line is within
// Config.Tolerance of angle. Other lines are skipped. The controller only
// reports the axis it is currently moving, so axis is used for validation
// and accounting.
func (c *Controller) WaitForAngle(ctx context.Context, axis rotator.Axis, angle float64) error {
	if err := c.cfg.Limits.Validate(axis, angle); err != nil {
		return err
	}
	start := time.Now()
	err := c.waitForAngle(ctx, axis, angle)
	metrics.ObserveWait(axis.String(), err, start)
	return err
}

func (c *Controller) waitForAngle(ctx context.Context, axis rotator.Axis, angle float64) error {
	if c.cfg.MaxWait > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.MaxWait)
		defer cancel()
	}
	log := c.log.WithField("axis", axis.String())
	for {
		line, err := c.readLine(ctx, c.cfg.ReadTimeout)
		if err != nil {
			if c.cfg.MaxWait > 0 && errors.Is(err, context.DeadlineExceeded) {
				return fmt.Errorf("%w: %v not at %g after %v", ErrConvergenceTimeout, axis, angle, c.cfg.MaxWait)
			}
			return err
		}
		if line == "" {
			continue
		}
		t := c.parser.Parse(line)
		metrics.TelemetryLines.WithLabelValues(t.Kind.String()).Inc()
		if t.Kind != AngleReading {
			log.WithField("line", line).Debug("ignoring telemetry")
			continue
		}
		log.WithField("angle", t.Angle).Debug("telemetry")
		if math.Abs(t.Angle-angle) < c.cfg.Tolerance {
			return nil
		}
	}
}
