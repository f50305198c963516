package drive

import (
	"math"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"

	"swerve/swervemodule"
)

// Driving limits and chassis layout of the competition robot. These are the allowed
// maximums, not what the hardware is capable of.
const (
	DefaultMaxSpeedMetersPerSecond = 4.8
	DefaultMaxAngularSpeed         = 2 * math.Pi // radians per second

	// distance between centres of the left and right wheels
	DefaultTrackWidthMeters = 32 * 0.0254
	// distance between centres of the front and back wheels
	DefaultWheelBaseMeters  = 32 * 0.0254
)

// ModuleConfig is the single source of a module's geometry. Both the kinematics and the
// module itself are built from it.
type ModuleConfig struct {
	Name                 string
	Position             r2.Point
	ChassisAngularOffset float64
}

// Geometry returns the module's mounting geometry.
func (mc ModuleConfig) Geometry() swervemodule.Geometry {
	return swervemodule.Geometry{Position: mc.Position, ChassisAngularOffset: mc.ChassisAngularOffset}
}

// Config describes a drivetrain. Module order is the order of hardware passed to New.
type Config struct {
	MaxSpeedMetersPerSecond float64
	MaxAngularSpeed         float64
	// Deadband is applied to normalized operator input before scaling. Zero, the default,
	// disables it.
	Deadband                float64
	Conversion              swervemodule.Conversion
	Modules                 []ModuleConfig
}

// DefaultConfig is the four-module MAXSwerve layout.
//
//	Front Left         Front Right
//	              x
//	Back Left          Back Right
func DefaultConfig() Config {
	conv, err := swervemodule.NewMAXSwerveConversion(swervemodule.DefaultPinionTeeth, swervemodule.DefaultWheelDiameterMeters)
	if err != nil {
		panic(err)
	}
	return Config{
		MaxSpeedMetersPerSecond: DefaultMaxSpeedMetersPerSecond,
		MaxAngularSpeed:         DefaultMaxAngularSpeed,
		Conversion:              conv,
		Modules:                 SquareLayout(DefaultWheelBaseMeters, DefaultTrackWidthMeters),
	}
}

// SquareLayout returns front-left, front-right, back-left and back-right modules with the
// MAXSwerve angular offsets.
func SquareLayout(wheelBase, trackWidth float64) []ModuleConfig {
	return []ModuleConfig{
		{Name: "front_left", Position: r2.Point{X: wheelBase / 2, Y: trackWidth / 2}, ChassisAngularOffset: -math.Pi},
		{Name: "front_right", Position: r2.Point{X: wheelBase / 2, Y: -trackWidth / 2}, ChassisAngularOffset: -math.Pi / 2},
		{Name: "back_left", Position: r2.Point{X: -wheelBase / 2, Y: trackWidth / 2}, ChassisAngularOffset: math.Pi / 2},
		{Name: "back_right", Position: r2.Point{X: -wheelBase / 2, Y: -trackWidth / 2}, ChassisAngularOffset: 0},
	}
}

// Validate checks limits, conversion factors and module names.
func (cfg Config) Validate() error {
	if !positiveFinite(cfg.MaxSpeedMetersPerSecond) {
		return errors.Errorf("max speed must be positive, not %v", cfg.MaxSpeedMetersPerSecond)
	}
	if !positiveFinite(cfg.MaxAngularSpeed) {
		return errors.Errorf("max angular speed must be positive, not %v", cfg.MaxAngularSpeed)
	}
	if !(cfg.Deadband >= 0 && cfg.Deadband < 1) {
		return errors.Errorf("deadband must be in [0, 1), not %v", cfg.Deadband)
	}
	if err := cfg.Conversion.Validate(); err != nil {
		return err
	}
	if len(cfg.Modules) == 0 {
		return errors.Wrap(ErrConfigurationInconsistency, "no modules configured")
	}
	seen := make(map[string]struct{}, len(cfg.Modules))
	for i, mc := range cfg.Modules {
		if mc.Name == "" {
			return errors.Errorf("module %d has no name", i)
		}
		if _, ok := seen[mc.Name]; ok {
			return errors.Wrapf(ErrConfigurationInconsistency, "module %q configured twice", mc.Name)
		}
		seen[mc.Name] = struct{}{}
	}
	return nil
}

func positiveFinite(v float64) bool {
	return v > 0 && !math.IsInf(v, 1)
}
