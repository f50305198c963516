// Package drive turns operator intent into setpoints for every module of a swerve
// drivetrain.
package drive

import (
	"context"
	"math"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.viam.com/rdk/logging"

	"swerve/kinematics"
	"swerve/swervemodule"
)

var (
	// ErrInvalidInput is returned for operator input that is NaN or infinite.
	ErrInvalidInput               = errors.New("invalid drive input")
	// ErrConfigurationInconsistency is returned when the configured modules and the
	// supplied hardware do not line up.
	ErrConfigurationInconsistency = errors.New("inconsistent drivetrain configuration")
)

// Drivetrain owns the kinematics and the modules. Calls must come from one goroutine at a
// time, normally the periodic control loop.
type Drivetrain struct {
	cfg      Config
	kin      *kinematics.SwerveDriveKinematics
	modules  []*swervemodule.Module
	odometry *kinematics.Odometry
	logger   logging.Logger
}

// New builds one module per hardware entry, in configuration order. opts are applied to
// every module.
func New(
	ctx context.Context,
	cfg Config,
	hardware []swervemodule.Hardware,
	logger logging.Logger,
	opts ...swervemodule.Option,
) (*Drivetrain, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if len(hardware) != len(cfg.Modules) {
		return nil, errors.Wrapf(ErrConfigurationInconsistency,
			"%d modules configured but %d hardware modules given", len(cfg.Modules), len(hardware))
	}

	positions := make([]r2.Point, 0, len(cfg.Modules))
	for _, mc := range cfg.Modules {
		positions = append(positions, mc.Position)
	}
	kin, err := kinematics.NewSwerveDriveKinematics(positions...)
	if err != nil {
		return nil, err
	}

	dt := &Drivetrain{cfg: cfg, kin: kin, logger: logger}
	for i, mc := range cfg.Modules {
		m, err := swervemodule.New(ctx, mc.Name, mc.Geometry(), cfg.Conversion, hardware[i], logger, opts...)
		if err != nil {
			return nil, err
		}
		dt.modules = append(dt.modules, m)
	}

	positionsNow, err := dt.ModulePositions(ctx)
	if err != nil {
		return nil, err
	}
	// hold every wheel where it is until it is driven
	headings := make([]float64, len(positionsNow))
	for i, p := range positionsNow {
		headings[i] = p.Angle
	}
	if err := kin.ResetHeadings(headings...); err != nil {
		return nil, err
	}
	dt.odometry, err = kinematics.NewOdometry(kin, 0, positionsNow, kinematics.Pose{})
	if err != nil {
		return nil, err
	}
	return dt, nil
}

// Config returns the configuration the drivetrain was built with.
func (dt *Drivetrain) Config() Config {
	return dt.cfg
}

// Kinematics returns the drivetrain's kinematics.
func (dt *Drivetrain) Kinematics() *kinematics.SwerveDriveKinematics {
	return dt.kin
}

// Modules returns the modules in configuration order.
func (dt *Drivetrain) Modules() []*swervemodule.Module {
	return append([]*swervemodule.Module(nil), dt.modules...)
}

// Drive commands normalized forward, left and counter-clockwise rates, each in [-1, 1].
// Values outside the range are clamped; NaN and infinities are rejected.
func (dt *Drivetrain) Drive(ctx context.Context, xSpeed, ySpeed, rot float64) error {
	inputs := [3]float64{xSpeed, ySpeed, rot}
	for i, name := range [3]string{"x", "y", "rot"} {
		v := inputs[i]
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return errors.Wrapf(ErrInvalidInput, "%s speed %v", name, v)
		}
		if v > 1 || v < -1 {
			dt.logger.Warnw("drive input out of range, clamping", "input", name, "value", v)
			v = math.Max(-1, math.Min(1, v))
		}
		inputs[i] = applyDeadband(v, dt.cfg.Deadband)
	}

	return dt.DriveChassisSpeeds(ctx, kinematics.ChassisSpeeds{
		Vx:    inputs[0] * dt.cfg.MaxSpeedMetersPerSecond,
		Vy:    inputs[1] * dt.cfg.MaxSpeedMetersPerSecond,
		Omega: inputs[2] * dt.cfg.MaxAngularSpeed,
	})
}

// DriveChassisSpeeds commands a robot-relative velocity in physical units. Module speeds
// are scaled down together if any would exceed the max speed.
func (dt *Drivetrain) DriveChassisSpeeds(ctx context.Context, speeds kinematics.ChassisSpeeds) error {
	states, err := dt.kin.ToModuleStates(speeds)
	if err != nil {
		return multierr.Combine(ErrInvalidInput, err)
	}
	kinematics.DesaturateWheelSpeeds(states, dt.cfg.MaxSpeedMetersPerSecond)

	var errs error
	for i, m := range dt.modules {
		if _, err := m.SetDesiredState(ctx, states[i]); err != nil {
			errs = multierr.Append(errs, err)
		}
	}
	return errs
}

// SetAngleDegrees points one module at angle (chassis frame) with zero speed.
func (dt *Drivetrain) SetAngleDegrees(ctx context.Context, index int, angle float64) error {
	if index < 0 || index >= len(dt.modules) {
		return errors.Errorf("no module at index %d, have %d", index, len(dt.modules))
	}
	if math.IsNaN(angle) || math.IsInf(angle, 0) {
		return errors.Wrapf(ErrInvalidInput, "angle %v", angle)
	}
	_, err := dt.modules[index].SetDesiredState(ctx, kinematics.ModuleStateFromDegrees(0, angle))
	return err
}

// ModuleIndex returns the index of the named module.
func (dt *Drivetrain) ModuleIndex(name string) (int, bool) {
	for i, m := range dt.modules {
		if m.Name() == name {
			return i, true
		}
	}
	return -1, false
}

// Stop sets every module to zero speed, holding its heading.
func (dt *Drivetrain) Stop(ctx context.Context) error {
	var errs error
	for _, m := range dt.modules {
		errs = multierr.Append(errs, m.Stop(ctx))
	}
	return errs
}

// ResetEncoders zeroes the distance of every module.
func (dt *Drivetrain) ResetEncoders(ctx context.Context) error {
	var errs error
	for _, m := range dt.modules {
		errs = multierr.Append(errs, m.ResetEncoders(ctx))
	}
	return errs
}

// ModuleStates returns the measured state of every module.
func (dt *Drivetrain) ModuleStates(ctx context.Context) ([]kinematics.ModuleState, error) {
	states := make([]kinematics.ModuleState, 0, len(dt.modules))
	for _, m := range dt.modules {
		s, err := m.State(ctx)
		if err != nil {
			return nil, err
		}
		states = append(states, s)
	}
	return states, nil
}

// ModulePositions returns the measured position of every module.
func (dt *Drivetrain) ModulePositions(ctx context.Context) ([]kinematics.ModulePosition, error) {
	positions := make([]kinematics.ModulePosition, 0, len(dt.modules))
	for _, m := range dt.modules {
		p, err := m.Position(ctx)
		if err != nil {
			return nil, err
		}
		positions = append(positions, p)
	}
	return positions, nil
}

// DesiredStates returns the last setpoint of every module.
func (dt *Drivetrain) DesiredStates() []kinematics.ModuleState {
	states := make([]kinematics.ModuleState, len(dt.modules))
	for i, m := range dt.modules {
		states[i] = m.DesiredState()
	}
	return states
}

// ChassisSpeeds returns the measured robot-relative velocity.
func (dt *Drivetrain) ChassisSpeeds(ctx context.Context) (kinematics.ChassisSpeeds, error) {
	states, err := dt.ModuleStates(ctx)
	if err != nil {
		return kinematics.ChassisSpeeds{}, err
	}
	return dt.kin.ToChassisSpeeds(states...)
}

// UpdateOdometry integrates the module positions since the last update.
func (dt *Drivetrain) UpdateOdometry(ctx context.Context, heading float64) (kinematics.Pose, error) {
	positions, err := dt.ModulePositions(ctx)
	if err != nil {
		return dt.odometry.Pose(), err
	}
	return dt.odometry.Update(heading, positions)
}

// ResetOdometry sets the tracked pose.
func (dt *Drivetrain) ResetOdometry(ctx context.Context, heading float64, pose kinematics.Pose) error {
	positions, err := dt.ModulePositions(ctx)
	if err != nil {
		return err
	}
	return dt.odometry.Reset(heading, positions, pose)
}

// Pose returns the last odometry pose.
func (dt *Drivetrain) Pose() kinematics.Pose {
	return dt.odometry.Pose()
}

// applyDeadband zeroes inputs within deadband of zero and rescales the rest so the output
// still spans [-1, 1].
func applyDeadband(v, deadband float64) float64 {
	if deadband <= 0 {
		return v
	}
	if math.Abs(v) < deadband {
		return 0
	}
	return math.Copysign((math.Abs(v)-deadband)/(1-deadband), v)
}
