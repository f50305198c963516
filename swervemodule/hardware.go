package swervemodule

import (
	"context"
	"math"
)

// DrivingSink accepts the driving motor's closed-loop velocity setpoint.
type DrivingSink interface {
	SetVelocity(ctx context.Context, metersPerSecond float64) error
}

// TurningSink accepts the turning motor's closed-loop position setpoint. The controller
// wraps its error across [wrapMin, wrapMax).
type TurningSink interface {
	SetPosition(ctx context.Context, radians, wrapMin, wrapMax float64) error
}

// RawReadings are sensor values in motor-controller units.
type RawReadings struct {
	DrivePosition float64 // motor rotations
	DriveVelocity float64 // motor RPM
	TurnPosition  float64 // absolute encoder rotations
}

func (r RawReadings) finite() bool {
	for _, v := range []float64{r.DrivePosition, r.DriveVelocity, r.TurnPosition} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// Sensor supplies the latest raw readings of a module.
type Sensor interface {
	Readings(ctx context.Context) (RawReadings, error)
}

// Hardware is everything a module needs from its motor controllers.
type Hardware interface {
	DrivingSink
	TurningSink
	Sensor
}
