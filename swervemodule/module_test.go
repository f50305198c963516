package swervemodule_test

import (
	"context"
	"math"
	"testing"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
	"go.viam.com/rdk/logging"
	"go.viam.com/test"

	"swerve/kinematics"
	"swerve/swervemodule"
	"swerve/swervemodule/fake"
)

func testConversion(t *testing.T) swervemodule.Conversion {
	t.Helper()
	conv, err := swervemodule.NewMAXSwerveConversion(swervemodule.DefaultPinionTeeth, swervemodule.DefaultWheelDiameterMeters)
	test.That(t, err, test.ShouldBeNil)
	return conv
}

func newModule(t *testing.T, offset float64, hw *fake.Hardware, opts ...swervemodule.Option) *swervemodule.Module {
	t.Helper()
	m, err := swervemodule.New(
		context.Background(),
		"front_left",
		swervemodule.Geometry{Position: r2.Point{X: 0.4, Y: 0.4}, ChassisAngularOffset: offset},
		testConversion(t),
		hw,
		logging.NewTestLogger(t),
		opts...,
	)
	test.That(t, err, test.ShouldBeNil)
	return m
}

func TestConversion(t *testing.T) {
	conv := testConversion(t)
	test.That(t, swervemodule.DrivingMotorReduction(12), test.ShouldAlmostEqual, 5.5, 1e-12)
	test.That(t, conv.DrivingPositionFactor, test.ShouldAlmostEqual, 0.0762*math.Pi/5.5, 1e-12)
	test.That(t, conv.DrivingVelocityFactor, test.ShouldAlmostEqual, 0.0762*math.Pi/5.5/60, 1e-12)
	test.That(t, conv.TurningPositionFactor, test.ShouldEqual, 2*math.Pi)
	test.That(t, conv.TurningVelocityFactor, test.ShouldEqual, 2*math.Pi/60)

	test.That(t, conv.DrivingRPM(conv.DrivingSpeed(1234)), test.ShouldAlmostEqual, 1234, 1e-9)
	test.That(t, conv.TurningRotations(conv.TurningAngle(0.3)), test.ShouldAlmostEqual, 0.3, 1e-12)
	test.That(t, conv.TurningRate(60), test.ShouldAlmostEqual, 2*math.Pi, 1e-12)
	test.That(t, conv.DrivingDistance(5.5), test.ShouldAlmostEqual, 0.0762*math.Pi, 1e-12)
	test.That(t, conv.DriveWheelFreeSpeed(swervemodule.NeoFreeSpeedRPM), test.ShouldAlmostEqual,
		swervemodule.NeoFreeSpeedRPM/60*0.0762*math.Pi/5.5, 1e-9)

	fast, err := swervemodule.NewMAXSwerveConversion(14, 0.0762)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, fast.DrivingVelocityFactor, test.ShouldBeGreaterThan, conv.DrivingVelocityFactor)

	_, err = swervemodule.NewMAXSwerveConversion(11, 0.0762)
	test.That(t, err, test.ShouldNotBeNil)
	_, err = swervemodule.NewMAXSwerveConversion(12, 0)
	test.That(t, err, test.ShouldNotBeNil)
	_, err = swervemodule.NewMAXSwerveConversion(12, math.NaN())
	test.That(t, err, test.ShouldNotBeNil)

	test.That(t, conv.Validate(), test.ShouldBeNil)
	test.That(t, swervemodule.Conversion{}.Validate(), test.ShouldNotBeNil)
}

func TestNew(t *testing.T) {
	ctx := context.Background()
	logger := logging.NewTestLogger(t)
	conv := testConversion(t)

	t.Run("holds the measured heading", func(t *testing.T) {
		hw := &fake.Hardware{Raw: swervemodule.RawReadings{DrivePosition: 42, TurnPosition: 0.25}}
		m := newModule(t, 0, hw)
		test.That(t, m.Name(), test.ShouldEqual, "front_left")
		test.That(t, m.DesiredState().SpeedMetersPerSecond, test.ShouldEqual, 0.0)
		test.That(t, m.DesiredState().Angle, test.ShouldAlmostEqual, math.Pi/2, 1e-12)

		pos, err := m.Position(ctx)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, pos.DistanceMeters, test.ShouldEqual, 0.0)
	})

	t.Run("bad arguments", func(t *testing.T) {
		_, err := swervemodule.New(ctx, "m", swervemodule.Geometry{}, conv, nil, logger)
		test.That(t, err, test.ShouldNotBeNil)

		_, err = swervemodule.New(ctx, "m", swervemodule.Geometry{ChassisAngularOffset: math.NaN()}, conv, &fake.Hardware{}, logger)
		test.That(t, errors.Is(err, kinematics.ErrNonFinite), test.ShouldBeTrue)

		_, err = swervemodule.New(ctx, "m", swervemodule.Geometry{}, swervemodule.Conversion{}, &fake.Hardware{}, logger)
		test.That(t, err, test.ShouldNotBeNil)

		_, err = swervemodule.New(ctx, "m", swervemodule.Geometry{}, conv, &fake.Hardware{ReadErr: errors.New("no bus")}, logger)
		test.That(t, err, test.ShouldNotBeNil)
		test.That(t, err.Error(), test.ShouldContainSubstring, "no bus")
	})
}

func TestSetDesiredState(t *testing.T) {
	ctx := context.Background()

	t.Run("offset is added before commanding", func(t *testing.T) {
		// sensor reads 270 degrees, which is chassis-forward for a -90 degree offset
		hw := &fake.Hardware{Raw: swervemodule.RawReadings{TurnPosition: 0.75}}
		m := newModule(t, -math.Pi/2, hw)

		got, err := m.SetDesiredState(ctx, kinematics.NewModuleState(2, 0))
		test.That(t, err, test.ShouldBeNil)
		test.That(t, got.SpeedMetersPerSecond, test.ShouldEqual, 2.0)
		test.That(t, got.Angle, test.ShouldAlmostEqual, -math.Pi/2, 1e-12)

		velocity, position := hw.Last()
		test.That(t, velocity, test.ShouldEqual, 2.0)
		test.That(t, position, test.ShouldAlmostEqual, 3*math.Pi/2, 1e-12)
		test.That(t, hw.WrapMin, test.ShouldEqual, 0.0)
		test.That(t, hw.WrapMax, test.ShouldEqual, 2*math.Pi)
		test.That(t, m.DesiredState(), test.ShouldResemble, got)
	})

	t.Run("reverses instead of turning around", func(t *testing.T) {
		hw := &fake.Hardware{Raw: swervemodule.RawReadings{TurnPosition: 0.5}}
		m := newModule(t, 0, hw)

		got, err := m.SetDesiredState(ctx, kinematics.NewModuleState(1, 0))
		test.That(t, err, test.ShouldBeNil)
		test.That(t, got.SpeedMetersPerSecond, test.ShouldEqual, -1.0)
		test.That(t, got.Angle, test.ShouldAlmostEqual, math.Pi, 1e-12)

		velocity, position := hw.Last()
		test.That(t, velocity, test.ShouldEqual, -1.0)
		test.That(t, position, test.ShouldAlmostEqual, math.Pi, 1e-12)
	})

	t.Run("optimized against the live heading every call", func(t *testing.T) {
		hw := &fake.Hardware{Raw: swervemodule.RawReadings{TurnPosition: 0}}
		m := newModule(t, 0, hw)

		got, err := m.SetDesiredState(ctx, kinematics.ModuleStateFromDegrees(1, 120))
		test.That(t, err, test.ShouldBeNil)
		test.That(t, got.SpeedMetersPerSecond, test.ShouldEqual, -1.0)

		hw.SetRaw(swervemodule.RawReadings{TurnPosition: 100.0 / 360})
		got, err = m.SetDesiredState(ctx, kinematics.ModuleStateFromDegrees(1, 120))
		test.That(t, err, test.ShouldBeNil)
		test.That(t, got.SpeedMetersPerSecond, test.ShouldEqual, 1.0)
		test.That(t, got.Degrees(), test.ShouldAlmostEqual, 120, 1e-9)
	})

	t.Run("non-finite is rejected before anything is sent", func(t *testing.T) {
		hw := &fake.Hardware{}
		m := newModule(t, 0, hw)
		_, err := m.SetDesiredState(ctx, kinematics.ModuleState{SpeedMetersPerSecond: math.NaN()})
		test.That(t, errors.Is(err, kinematics.ErrNonFinite), test.ShouldBeTrue)
		_, err = m.SetDesiredState(ctx, kinematics.ModuleState{Angle: math.Inf(1)})
		test.That(t, errors.Is(err, kinematics.ErrNonFinite), test.ShouldBeTrue)
		test.That(t, hw.Setpoints, test.ShouldEqual, 0)
	})

	t.Run("non-finite sensor reading", func(t *testing.T) {
		hw := &fake.Hardware{}
		m := newModule(t, 0, hw)
		hw.SetRaw(swervemodule.RawReadings{TurnPosition: math.NaN()})
		_, err := m.SetDesiredState(ctx, kinematics.NewModuleState(1, 0))
		test.That(t, errors.Is(err, kinematics.ErrNonFinite), test.ShouldBeTrue)
		test.That(t, hw.Setpoints, test.ShouldEqual, 0)
	})

	t.Run("sink errors are returned", func(t *testing.T) {
		hw := &fake.Hardware{Raw: swervemodule.RawReadings{TurnPosition: 0.1}}
		m := newModule(t, 0, hw)
		before := m.DesiredState()

		hw.PositionErr = errors.New("bus off")
		_, err := m.SetDesiredState(ctx, kinematics.NewModuleState(1, 0.3))
		test.That(t, err, test.ShouldNotBeNil)
		test.That(t, err.Error(), test.ShouldContainSubstring, "bus off")
		test.That(t, m.DesiredState(), test.ShouldResemble, before)
		// no speed is latched while the heading is stale
		test.That(t, hw.Setpoints, test.ShouldEqual, 0)
		test.That(t, hw.Velocity, test.ShouldEqual, 0.0)

		hw.PositionErr = nil
		hw.VelocityErr = errors.New("no ack")
		_, err = m.SetDesiredState(ctx, kinematics.NewModuleState(1, 0.3))
		test.That(t, err.Error(), test.ShouldContainSubstring, "no ack")
		_, p := hw.Last()
		test.That(t, p, test.ShouldAlmostEqual, kinematics.WrapAnglePositive(0.3))
	})

	t.Run("observer sees every setpoint", func(t *testing.T) {
		var seen []swervemodule.Telemetry
		hw := &fake.Hardware{Raw: swervemodule.RawReadings{TurnPosition: 0.25}}
		m := newModule(t, math.Pi/2, hw, swervemodule.WithObserver(func(telem swervemodule.Telemetry) {
			seen = append(seen, telem)
		}))

		commanded := kinematics.NewModuleState(0.5, 0.2)
		got, err := m.SetDesiredState(ctx, commanded)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, len(seen), test.ShouldEqual, 1)
		test.That(t, seen[0].Module, test.ShouldEqual, "front_left")
		test.That(t, seen[0].Commanded, test.ShouldResemble, commanded)
		test.That(t, seen[0].Setpoint, test.ShouldResemble, got)
		test.That(t, seen[0].RawAngle, test.ShouldAlmostEqual, math.Pi/2, 1e-12)
		test.That(t, seen[0].RelativeAngleDegrees, test.ShouldAlmostEqual, 0, 1e-9)
	})
}

func TestStateAndPosition(t *testing.T) {
	ctx := context.Background()
	conv := testConversion(t)
	hw := &fake.Hardware{Raw: swervemodule.RawReadings{DrivePosition: 100, TurnPosition: 0.25}}
	m := newModule(t, math.Pi/2, hw)

	hw.SetRaw(swervemodule.RawReadings{DrivePosition: 110, DriveVelocity: 600, TurnPosition: 0.25})

	state, err := m.State(ctx)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, state.SpeedMetersPerSecond, test.ShouldAlmostEqual, 600*conv.DrivingVelocityFactor, 1e-12)
	test.That(t, state.Angle, test.ShouldAlmostEqual, 0, 1e-12)

	pos, err := m.Position(ctx)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, pos.DistanceMeters, test.ShouldAlmostEqual, 10*conv.DrivingPositionFactor, 1e-12)
	test.That(t, pos.Angle, test.ShouldAlmostEqual, 0, 1e-12)

	t.Run("reset zeroes distance only", func(t *testing.T) {
		test.That(t, m.ResetEncoders(ctx), test.ShouldBeNil)
		pos, err := m.Position(ctx)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, pos.DistanceMeters, test.ShouldEqual, 0.0)
		test.That(t, pos.Angle, test.ShouldAlmostEqual, 0, 1e-12)

		hw.SetRaw(swervemodule.RawReadings{DrivePosition: 105, TurnPosition: 0.25})
		pos, err = m.Position(ctx)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, pos.DistanceMeters, test.ShouldAlmostEqual, -5*conv.DrivingPositionFactor, 1e-12)
	})

	t.Run("stop holds the heading", func(t *testing.T) {
		_, err := m.SetDesiredState(ctx, kinematics.NewModuleState(3, 0.4))
		test.That(t, err, test.ShouldBeNil)
		angle := m.DesiredState().Angle

		test.That(t, m.Stop(ctx), test.ShouldBeNil)
		velocity, position := hw.Last()
		test.That(t, velocity, test.ShouldEqual, 0.0)
		test.That(t, position, test.ShouldAlmostEqual, kinematics.WrapAnglePositive(angle), 1e-12)
		test.That(t, m.DesiredState(), test.ShouldResemble, kinematics.ModuleState{Angle: angle})
	})
}
