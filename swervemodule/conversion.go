package swervemodule

import (
	"math"

	"github.com/pkg/errors"
)

// MAXSwerve gearing and NEO motor properties.
const (
	NeoFreeSpeedRPM            = 5676.0
	DefaultWheelDiameterMeters = 0.0762
	DefaultPinionTeeth         = 12

	bevelGearTeeth      = 45.0
	firstStageSpurTeeth = 22.0
	bevelPinionTeeth    = 15.0
)

// Conversion holds the linear factors from raw motor-controller units (rotations and RPM)
// to meters, meters per second, radians and radians per second.
type Conversion struct {
	DrivingPositionFactor float64 // meters per motor rotation
	DrivingVelocityFactor float64 // meters per second per RPM
	TurningPositionFactor float64 // radians per encoder rotation
	TurningVelocityFactor float64 // radians per second per RPM
}

// DrivingMotorReduction is the motor-to-wheel reduction of a MAXSwerve module for the
// given pinion.
func DrivingMotorReduction(pinionTeeth int) float64 {
	return (bevelGearTeeth * firstStageSpurTeeth) / (float64(pinionTeeth) * bevelPinionTeeth)
}

// NewMAXSwerveConversion returns the factors for a MAXSwerve module. The module ships
// with a 12, 13 or 14 tooth pinion.
func NewMAXSwerveConversion(pinionTeeth int, wheelDiameterMeters float64) (Conversion, error) {
	if pinionTeeth < 12 || pinionTeeth > 14 {
		return Conversion{}, errors.Errorf("pinion must have 12, 13 or 14 teeth, not %d", pinionTeeth)
	}
	if !(wheelDiameterMeters > 0) || math.IsInf(wheelDiameterMeters, 0) {
		return Conversion{}, errors.Errorf("wheel diameter must be positive, not %v", wheelDiameterMeters)
	}
	position := wheelDiameterMeters * math.Pi / DrivingMotorReduction(pinionTeeth)
	return Conversion{
		DrivingPositionFactor: position,
		DrivingVelocityFactor: position / 60,
		TurningPositionFactor: 2 * math.Pi,
		TurningVelocityFactor: 2 * math.Pi / 60,
	}, nil
}

// Validate checks every factor is finite and non-zero.
func (c Conversion) Validate() error {
	for name, f := range map[string]float64{
		"driving position": c.DrivingPositionFactor,
		"driving velocity": c.DrivingVelocityFactor,
		"turning position": c.TurningPositionFactor,
		"turning velocity": c.TurningVelocityFactor,
	} {
		if f == 0 || math.IsNaN(f) || math.IsInf(f, 0) {
			return errors.Errorf("%s factor must be finite and non-zero, not %v", name, f)
		}
	}
	return nil
}

// DrivingDistance converts motor rotations to meters travelled.
func (c Conversion) DrivingDistance(rotations float64) float64 {
	return rotations * c.DrivingPositionFactor
}

// DrivingSpeed converts motor RPM to wheel surface speed.
func (c Conversion) DrivingSpeed(rpm float64) float64 {
	return rpm * c.DrivingVelocityFactor
}

// DrivingRPM converts a wheel surface speed to motor RPM.
func (c Conversion) DrivingRPM(metersPerSecond float64) float64 {
	return metersPerSecond / c.DrivingVelocityFactor
}

// TurningAngle converts absolute encoder rotations to radians.
func (c Conversion) TurningAngle(rotations float64) float64 {
	return rotations * c.TurningPositionFactor
}

// TurningRate converts absolute encoder RPM to radians per second.
func (c Conversion) TurningRate(rpm float64) float64 {
	return rpm * c.TurningVelocityFactor
}

// TurningRotations converts radians to absolute encoder rotations.
func (c Conversion) TurningRotations(radians float64) float64 {
	return radians / c.TurningPositionFactor
}

// DriveWheelFreeSpeed is the wheel surface speed at the motor's free speed.
func (c Conversion) DriveWheelFreeSpeed(motorFreeSpeedRPM float64) float64 {
	return c.DrivingSpeed(motorFreeSpeedRPM)
}
