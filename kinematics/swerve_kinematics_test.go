package kinematics

import (
	"math"
	"testing"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
	"go.viam.com/test"
)

// 32 inch square chassis
const halfBase = 0.4064

func squareKinematics(t *testing.T) *SwerveDriveKinematics {
	t.Helper()
	kin, err := NewSwerveDriveKinematics(
		r2.Point{X: halfBase, Y: halfBase},
		r2.Point{X: halfBase, Y: -halfBase},
		r2.Point{X: -halfBase, Y: halfBase},
		r2.Point{X: -halfBase, Y: -halfBase},
	)
	test.That(t, err, test.ShouldBeNil)
	return kin
}

func TestNewSwerveDriveKinematics(t *testing.T) {
	_, err := NewSwerveDriveKinematics()
	test.That(t, err, test.ShouldNotBeNil)

	_, err = NewSwerveDriveKinematics(r2.Point{X: math.NaN()})
	test.That(t, errors.Is(err, ErrNonFinite), test.ShouldBeTrue)

	kin := squareKinematics(t)
	test.That(t, kin.NumModules(), test.ShouldEqual, 4)
	positions := kin.Positions()
	positions[0] = r2.Point{}
	test.That(t, kin.Positions()[0], test.ShouldResemble, r2.Point{X: halfBase, Y: halfBase})
}

func TestToModuleStates(t *testing.T) {
	t.Run("straight ahead", func(t *testing.T) {
		states, err := squareKinematics(t).ToModuleStates(ChassisSpeeds{Vx: 1})
		test.That(t, err, test.ShouldBeNil)
		test.That(t, len(states), test.ShouldEqual, 4)
		for _, s := range states {
			test.That(t, s.Angle, test.ShouldAlmostEqual, 0, tolerance)
			test.That(t, s.SpeedMetersPerSecond, test.ShouldAlmostEqual, 1, tolerance)
			test.That(t, s.SpeedMetersPerSecond, test.ShouldBeGreaterThan, 0.0)
		}
	})

	t.Run("pure translation points every wheel the same way", func(t *testing.T) {
		kin := squareKinematics(t)
		for _, speeds := range []ChassisSpeeds{{Vx: 1, Vy: 1}, {Vx: -2, Vy: 0.5}, {Vx: 0, Vy: -3}} {
			states, err := kin.ToModuleStates(speeds)
			test.That(t, err, test.ShouldBeNil)
			for _, s := range states {
				test.That(t, s.Angle, test.ShouldAlmostEqual, math.Atan2(speeds.Vy, speeds.Vx), tolerance)
				test.That(t, s.SpeedMetersPerSecond, test.ShouldAlmostEqual, math.Hypot(speeds.Vx, speeds.Vy), tolerance)
			}
		}
	})

	t.Run("pure rotation is tangential", func(t *testing.T) {
		kin, err := NewSwerveDriveKinematics(
			r2.Point{X: 0.5, Y: 0.5},
			r2.Point{X: 1, Y: -0.25},
			r2.Point{X: -0.3, Y: 0.1},
		)
		test.That(t, err, test.ShouldBeNil)
		omega := 2.0
		states, err := kin.ToModuleStates(ChassisSpeeds{Omega: omega})
		test.That(t, err, test.ShouldBeNil)
		for i, p := range kin.Positions() {
			test.That(t, states[i].Angle, test.ShouldAlmostEqual, math.Atan2(p.X, -p.Y), tolerance)
			test.That(t, states[i].SpeedMetersPerSecond, test.ShouldAlmostEqual, omega*p.Norm(), tolerance)
		}
	})

	t.Run("stopping holds the last heading", func(t *testing.T) {
		kin := squareKinematics(t)
		_, err := kin.ToModuleStates(ChassisSpeeds{Vx: 1, Vy: 1})
		test.That(t, err, test.ShouldBeNil)

		states, err := kin.ToModuleStates(ChassisSpeeds{})
		test.That(t, err, test.ShouldBeNil)
		for _, s := range states {
			test.That(t, s.SpeedMetersPerSecond, test.ShouldEqual, 0.0)
			test.That(t, s.Angle, test.ShouldAlmostEqual, math.Pi/4, tolerance)
		}
	})

	t.Run("module on the centre of rotation holds", func(t *testing.T) {
		kin, err := NewSwerveDriveKinematics(r2.Point{}, r2.Point{X: 1})
		test.That(t, err, test.ShouldBeNil)
		test.That(t, kin.ResetHeadings(0.3, 0), test.ShouldBeNil)

		states, err := kin.ToModuleStates(ChassisSpeeds{Omega: 1})
		test.That(t, err, test.ShouldBeNil)
		test.That(t, states[0], test.ShouldResemble, ModuleState{Angle: 0.3})
		test.That(t, states[1].Angle, test.ShouldAlmostEqual, math.Pi/2, tolerance)
	})

	t.Run("non-finite speeds are rejected", func(t *testing.T) {
		kin := squareKinematics(t)
		_, err := kin.ToModuleStates(ChassisSpeeds{Vx: 1, Vy: 1})
		test.That(t, err, test.ShouldBeNil)

		_, err = kin.ToModuleStates(ChassisSpeeds{Vx: math.NaN()})
		test.That(t, errors.Is(err, ErrNonFinite), test.ShouldBeTrue)
		_, err = kin.ToModuleStates(ChassisSpeeds{Omega: math.Inf(-1)})
		test.That(t, errors.Is(err, ErrNonFinite), test.ShouldBeTrue)

		// held headings were not disturbed
		states, err := kin.ToModuleStates(ChassisSpeeds{})
		test.That(t, err, test.ShouldBeNil)
		test.That(t, states[0].Angle, test.ShouldAlmostEqual, math.Pi/4, tolerance)
	})
}

func TestResetHeadings(t *testing.T) {
	kin := squareKinematics(t)
	err := kin.ResetHeadings(1, 2)
	test.That(t, errors.Is(err, ErrModuleCount), test.ShouldBeTrue)
	err = kin.ResetHeadings(1, 2, math.NaN(), 4)
	test.That(t, errors.Is(err, ErrNonFinite), test.ShouldBeTrue)

	test.That(t, kin.ResetHeadings(1, 2, 3, 4), test.ShouldBeNil)
	states, err := kin.ToModuleStates(ChassisSpeeds{})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, states[3].Angle, test.ShouldAlmostEqual, WrapAngle(4), tolerance)
}

func TestToChassisSpeeds(t *testing.T) {
	kin := squareKinematics(t)

	t.Run("round trip", func(t *testing.T) {
		want := ChassisSpeeds{Vx: 1.2, Vy: -0.5, Omega: 0.7}
		states, err := kin.ToModuleStates(want)
		test.That(t, err, test.ShouldBeNil)

		got, err := kin.ToChassisSpeeds(states...)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, got.Vx, test.ShouldAlmostEqual, want.Vx, 1e-9)
		test.That(t, got.Vy, test.ShouldAlmostEqual, want.Vy, 1e-9)
		test.That(t, got.Omega, test.ShouldAlmostEqual, want.Omega, 1e-9)
	})

	t.Run("wrong count", func(t *testing.T) {
		_, err := kin.ToChassisSpeeds(ModuleState{})
		test.That(t, errors.Is(err, ErrModuleCount), test.ShouldBeTrue)
	})

	t.Run("non-finite state", func(t *testing.T) {
		_, err := kin.ToChassisSpeeds(ModuleState{}, ModuleState{}, ModuleState{}, ModuleState{Angle: math.NaN()})
		test.That(t, errors.Is(err, ErrNonFinite), test.ShouldBeTrue)
	})

	t.Run("single module cannot solve rotation", func(t *testing.T) {
		one, err := NewSwerveDriveKinematics(r2.Point{X: halfBase, Y: halfBase})
		test.That(t, err, test.ShouldBeNil)
		_, err = one.ToChassisSpeeds(ModuleState{SpeedMetersPerSecond: 1})
		test.That(t, err, test.ShouldNotBeNil)

		states, err := one.ToModuleStates(ChassisSpeeds{Vy: 2})
		test.That(t, err, test.ShouldBeNil)
		test.That(t, states[0].Angle, test.ShouldAlmostEqual, math.Pi/2, tolerance)
	})
}

func TestOdometry(t *testing.T) {
	kin := squareKinematics(t)
	zero := make([]ModulePosition, 4)

	t.Run("straight line", func(t *testing.T) {
		odom, err := NewOdometry(kin, 0, zero, Pose{})
		test.That(t, err, test.ShouldBeNil)

		moved := []ModulePosition{{1, 0}, {1, 0}, {1, 0}, {1, 0}}
		pose, err := odom.Update(0, moved)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, pose.Translation.X, test.ShouldAlmostEqual, 1, 1e-9)
		test.That(t, pose.Translation.Y, test.ShouldAlmostEqual, 0, 1e-9)
		test.That(t, pose.Heading, test.ShouldAlmostEqual, 0, 1e-9)
	})

	t.Run("gyro offset from starting pose", func(t *testing.T) {
		odom, err := NewOdometry(kin, 1, zero, Pose{Heading: math.Pi / 2})
		test.That(t, err, test.ShouldBeNil)

		// driving robot-forward while the field heading is 90 degrees moves along +Y
		moved := []ModulePosition{{2, 0}, {2, 0}, {2, 0}, {2, 0}}
		pose, err := odom.Update(1, moved)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, pose.Translation.X, test.ShouldAlmostEqual, 0, 1e-9)
		test.That(t, pose.Translation.Y, test.ShouldAlmostEqual, 2, 1e-9)
		test.That(t, pose.Heading, test.ShouldAlmostEqual, math.Pi/2, 1e-9)
	})

	t.Run("spin in place", func(t *testing.T) {
		odom, err := NewOdometry(kin, 0, zero, Pose{})
		test.That(t, err, test.ShouldBeNil)

		arc := math.Pi / 2 * math.Hypot(halfBase, halfBase)
		positions := make([]ModulePosition, 4)
		for i, p := range kin.Positions() {
			positions[i] = ModulePosition{DistanceMeters: arc, Angle: math.Atan2(p.X, -p.Y)}
		}
		pose, err := odom.Update(math.Pi/2, positions)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, pose.Translation.X, test.ShouldAlmostEqual, 0, 1e-9)
		test.That(t, pose.Translation.Y, test.ShouldAlmostEqual, 0, 1e-9)
		test.That(t, pose.Heading, test.ShouldAlmostEqual, math.Pi/2, 1e-9)
		test.That(t, odom.Pose(), test.ShouldResemble, pose)
	})

	t.Run("bad input", func(t *testing.T) {
		_, err := NewOdometry(kin, 0, zero[:2], Pose{})
		test.That(t, errors.Is(err, ErrModuleCount), test.ShouldBeTrue)

		odom, err := NewOdometry(kin, 0, zero, Pose{})
		test.That(t, err, test.ShouldBeNil)
		_, err = odom.Update(math.NaN(), zero)
		test.That(t, errors.Is(err, ErrNonFinite), test.ShouldBeTrue)
		_, err = odom.Update(0, zero[:3])
		test.That(t, errors.Is(err, ErrModuleCount), test.ShouldBeTrue)
	})
}
