// Package fake implements swerve module hardware in memory.
package fake

import (
	"context"
	"math"
	"sync"

	"swerve/swervemodule"
)

// Hardware records setpoints and serves readings set by the caller. When Follow is set the
// turning encoder jumps straight to each position setpoint.
type Hardware struct {
	mu sync.Mutex

	Raw    swervemodule.RawReadings
	Follow bool

	ReadErr     error
	VelocityErr error
	PositionErr error

	Velocity  float64
	Position  float64
	WrapMin   float64
	WrapMax   float64
	Setpoints int
}

// SetVelocity records the velocity setpoint.
func (h *Hardware) SetVelocity(ctx context.Context, metersPerSecond float64) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.VelocityErr != nil {
		return h.VelocityErr
	}
	h.Velocity = metersPerSecond
	h.Setpoints++
	return nil
}

// SetPosition records the position setpoint.
func (h *Hardware) SetPosition(ctx context.Context, radians, wrapMin, wrapMax float64) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.PositionErr != nil {
		return h.PositionErr
	}
	h.Position, h.WrapMin, h.WrapMax = radians, wrapMin, wrapMax
	if h.Follow {
		h.Raw.TurnPosition = radians / (2 * math.Pi)
	}
	return nil
}

// Readings returns Raw.
func (h *Hardware) Readings(ctx context.Context) (swervemodule.RawReadings, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.ReadErr != nil {
		return swervemodule.RawReadings{}, h.ReadErr
	}
	return h.Raw, nil
}

// SetRaw replaces the readings.
func (h *Hardware) SetRaw(raw swervemodule.RawReadings) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.Raw = raw
}

// Last returns the last velocity and position setpoints.
func (h *Hardware) Last() (velocity, position float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.Velocity, h.Position
}
