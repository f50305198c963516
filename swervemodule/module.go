// Package swervemodule drives a single steerable wheel: it moves commanded states between
// the chassis frame and the module's sensor frame and picks the shorter steering solution.
package swervemodule

import (
	"context"
	"math"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
	"go.viam.com/rdk/logging"

	"swerve/kinematics"
)

// Geometry is where a module sits on the chassis and how its absolute encoder is rotated
// relative to the chassis frame.
type Geometry struct {
	Position             r2.Point
	ChassisAngularOffset float64
}

// Telemetry is handed to observers after every setpoint.
type Telemetry struct {
	Module               string
	// Commanded is the chassis-frame state that was asked for.
	Commanded            kinematics.ModuleState
	// Setpoint is the offset-corrected, optimized state sent to the motor controllers.
	Setpoint             kinematics.ModuleState
	// RawAngle is the turning encoder angle in radians.
	RawAngle             float64
	// RelativeAngleDegrees is the measured chassis-relative heading.
	RelativeAngleDegrees float64
}

// Option configures a Module.
type Option func(*Module)

// WithObserver registers a callback that receives telemetry on every setpoint. Observers
// run on the caller's goroutine.
func WithObserver(observer func(Telemetry)) Option {
	return func(m *Module) {
		m.observers = append(m.observers, observer)
	}
}

// Module is one swerve module. It is not safe for concurrent use; the drivetrain calls it
// from a single control loop.
type Module struct {
	name       string
	geometry   Geometry
	conversion Conversion
	hw         Hardware
	logger     logging.Logger
	observers  []func(Telemetry)

	desired      kinematics.ModuleState
	distanceZero float64
}

// New returns a module that holds its current heading at zero speed and reports zero
// distance travelled.
func New(
	ctx context.Context,
	name string,
	geometry Geometry,
	conversion Conversion,
	hw Hardware,
	logger logging.Logger,
	opts ...Option,
) (*Module, error) {
	if hw == nil {
		return nil, errors.Errorf("module %q has no hardware", name)
	}
	if math.IsNaN(geometry.ChassisAngularOffset) || math.IsInf(geometry.ChassisAngularOffset, 0) {
		return nil, errors.Wrapf(kinematics.ErrNonFinite, "module %q chassis angular offset", name)
	}
	if err := conversion.Validate(); err != nil {
		return nil, errors.Wrapf(err, "module %q", name)
	}

	m := &Module{
		name:       name,
		geometry:   geometry,
		conversion: conversion,
		hw:         hw,
		logger:     logger,
	}
	for _, opt := range opts {
		opt(m)
	}

	raw, err := m.readings(ctx)
	if err != nil {
		return nil, err
	}
	m.desired = kinematics.ModuleState{Angle: kinematics.WrapAngle(conversion.TurningAngle(raw.TurnPosition))}
	m.distanceZero = raw.DrivePosition
	return m, nil
}

// Name returns the module's name.
func (m *Module) Name() string {
	return m.name
}

// Geometry returns the module's mounting geometry.
func (m *Module) Geometry() Geometry {
	return m.geometry
}

// DesiredState returns the last setpoint sent to the motor controllers, in the module's
// sensor frame.
func (m *Module) DesiredState() kinematics.ModuleState {
	return m.desired
}

// State returns the measured speed and chassis-relative heading.
func (m *Module) State(ctx context.Context) (kinematics.ModuleState, error) {
	raw, err := m.readings(ctx)
	if err != nil {
		return kinematics.ModuleState{}, err
	}
	return kinematics.ModuleState{
		SpeedMetersPerSecond: m.conversion.DrivingSpeed(raw.DriveVelocity),
		Angle:                m.chassisAngle(raw),
	}, nil
}

// Position returns the distance travelled since the last reset and the chassis-relative
// heading.
func (m *Module) Position(ctx context.Context) (kinematics.ModulePosition, error) {
	raw, err := m.readings(ctx)
	if err != nil {
		return kinematics.ModulePosition{}, err
	}
	return kinematics.ModulePosition{
		DistanceMeters: m.conversion.DrivingDistance(raw.DrivePosition - m.distanceZero),
		Angle:          m.chassisAngle(raw),
	}, nil
}

// ResetEncoders zeroes the distance travelled. The heading is absolute and is not touched.
func (m *Module) ResetEncoders(ctx context.Context) error {
	raw, err := m.readings(ctx)
	if err != nil {
		return err
	}
	m.distanceZero = raw.DrivePosition
	return nil
}

// SetDesiredState commands a chassis-frame state. The state is rotated into the sensor
// frame and optimized against the measured heading on every call. The returned state is
// what was sent to the motor controllers.
func (m *Module) SetDesiredState(ctx context.Context, state kinematics.ModuleState) (kinematics.ModuleState, error) {
	if !state.Finite() {
		return kinematics.ModuleState{}, errors.Wrapf(kinematics.ErrNonFinite, "module %q desired %v", m.name, state)
	}
	raw, err := m.readings(ctx)
	if err != nil {
		return kinematics.ModuleState{}, err
	}

	corrected := kinematics.NewModuleState(state.SpeedMetersPerSecond, state.Angle+m.geometry.ChassisAngularOffset)
	current := m.conversion.TurningAngle(raw.TurnPosition)
	optimized := kinematics.Optimize(corrected, current)

	if err := m.send(ctx, optimized); err != nil {
		return kinematics.ModuleState{}, err
	}
	m.desired = optimized

	if len(m.observers) > 0 {
		telem := Telemetry{
			Module:               m.name,
			Commanded:            state,
			Setpoint:             optimized,
			RawAngle:             current,
			RelativeAngleDegrees: m.chassisAngle(raw) * 180 / math.Pi,
		}
		for _, observe := range m.observers {
			observe(telem)
		}
	}
	return optimized, nil
}

// Stop commands zero speed while holding the last commanded heading.
func (m *Module) Stop(ctx context.Context) error {
	held := kinematics.ModuleState{Angle: m.desired.Angle}
	if err := m.send(ctx, held); err != nil {
		return err
	}
	m.desired = held
	return nil
}

func (m *Module) send(ctx context.Context, setpoint kinematics.ModuleState) error {
	target := kinematics.WrapAnglePositive(setpoint.Angle)
	m.logger.Debugw("module setpoint", "module", m.name,
		"speed_mps", setpoint.SpeedMetersPerSecond, "angle_rad", target)
	// heading first; a failed turn must not latch a new speed
	if err := m.hw.SetPosition(ctx, target, 0, m.conversion.TurningPositionFactor); err != nil {
		return errors.Wrapf(err, "module %q turning setpoint", m.name)
	}
	return errors.Wrapf(m.hw.SetVelocity(ctx, setpoint.SpeedMetersPerSecond), "module %q driving setpoint", m.name)
}

func (m *Module) readings(ctx context.Context) (RawReadings, error) {
	raw, err := m.hw.Readings(ctx)
	if err != nil {
		return RawReadings{}, errors.Wrapf(err, "module %q sensor", m.name)
	}
	if !raw.finite() {
		return RawReadings{}, errors.Wrapf(kinematics.ErrNonFinite, "module %q sensor readings %+v", m.name, raw)
	}
	return raw, nil
}

func (m *Module) chassisAngle(raw RawReadings) float64 {
	return kinematics.WrapAngle(m.conversion.TurningAngle(raw.TurnPosition) - m.geometry.ChassisAngularOffset)
}
