// Package kinematics converts between chassis motion and per-module swerve states.
package kinematics

import (
	"fmt"
	"math"

	"github.com/pkg/errors"
)

// ErrNonFinite is returned when a speed, angle or position is NaN or infinite.
var ErrNonFinite = errors.New("non-finite value")

// ErrModuleCount is returned when the number of states does not match the kinematics.
var ErrModuleCount = errors.New("module count mismatch")

// ModuleState is the speed and heading of a single swerve module.
type ModuleState struct {
	SpeedMetersPerSecond float64
	// Angle is in radians, wrapped to (-pi, pi].
	Angle                float64
}

// NewModuleState returns a state with its angle wrapped.
func NewModuleState(speedMetersPerSecond, angle float64) ModuleState {
	return ModuleState{SpeedMetersPerSecond: speedMetersPerSecond, Angle: WrapAngle(angle)}
}

// ModuleStateFromDegrees is like NewModuleState but takes the angle in degrees.
func ModuleStateFromDegrees(speedMetersPerSecond, angleDeg float64) ModuleState {
	return NewModuleState(speedMetersPerSecond, angleDeg*math.Pi/180)
}

// Degrees returns the state's angle in degrees.
func (s ModuleState) Degrees() float64 {
	return s.Angle * 180 / math.Pi
}

// Finite reports whether both fields are finite.
func (s ModuleState) Finite() bool {
	return finite(s.SpeedMetersPerSecond) && finite(s.Angle)
}

func (s ModuleState) String() string {
	return fmt.Sprintf("ModuleState(speed: %.3f m/s, angle: %.2f deg)", s.SpeedMetersPerSecond, s.Degrees())
}

// ModulePosition is the accumulated wheel distance and chassis-relative heading of a module.
type ModulePosition struct {
	DistanceMeters float64
	Angle          float64
}

// ChassisSpeeds is a robot-relative velocity. X is forward, Y is left and Omega is
// counter-clockwise positive.
type ChassisSpeeds struct {
	Vx    float64
	Vy    float64
	Omega float64
}

// Finite reports whether all components are finite.
func (c ChassisSpeeds) Finite() bool {
	return finite(c.Vx) && finite(c.Vy) && finite(c.Omega)
}

// WrapAngle maps an angle in radians to (-pi, pi]. Angles already in range are returned
// unchanged so that WrapAngle is idempotent.
func WrapAngle(angle float64) float64 {
	if angle > -math.Pi && angle <= math.Pi {
		return angle
	}
	wrapped := math.Mod(angle+math.Pi, 2*math.Pi)
	if wrapped < 0 {
		wrapped += 2 * math.Pi
	}
	wrapped -= math.Pi
	if wrapped <= -math.Pi {
		return math.Pi
	}
	return wrapped
}

// WrapAnglePositive maps an angle in radians to [0, 2pi).
func WrapAnglePositive(angle float64) float64 {
	wrapped := math.Mod(angle, 2*math.Pi)
	if wrapped < 0 {
		wrapped += 2 * math.Pi
	}
	if wrapped >= 2*math.Pi {
		return 0
	}
	return wrapped
}

// Optimize returns the state that reaches the same wheel heading as desired while turning
// at most 90 degrees from current. When the short way round is the reverse heading the
// wheel is driven backwards instead.
func Optimize(desired ModuleState, current float64) ModuleState {
	delta := WrapAngle(desired.Angle - current)
	if math.Abs(delta) > math.Pi/2 {
		return ModuleState{
			SpeedMetersPerSecond: -desired.SpeedMetersPerSecond,
			Angle:                WrapAngle(desired.Angle + math.Pi),
		}
	}
	return ModuleState{SpeedMetersPerSecond: desired.SpeedMetersPerSecond, Angle: WrapAngle(desired.Angle)}
}

// DesaturateWheelSpeeds scales every state down by the same factor when any of them is
// faster than maxSpeed. The slice is left untouched otherwise.
func DesaturateWheelSpeeds(states []ModuleState, maxSpeed float64) {
	realMax := 0.0
	for _, s := range states {
		realMax = math.Max(realMax, math.Abs(s.SpeedMetersPerSecond))
	}
	if realMax <= maxSpeed {
		return
	}
	scale := maxSpeed / realMax
	for i := range states {
		states[i].SpeedMetersPerSecond *= scale
	}
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
