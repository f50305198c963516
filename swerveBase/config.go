package main

import (
	"math"
	"time"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
	goutils "go.viam.com/utils"

	"swerve/canmotor"
	"swerve/drive"
	"swerve/swervemodule"
)

const defaultStatusTimeout = 2 * time.Second

// ModuleAttrs is one module of the drivetrain: where it is, how its encoder is rotated,
// and which controllers drive it.
type ModuleAttrs struct {
	Name                        string  `json:"name"`
	XMeters                     float64 `json:"x_m"`
	YMeters                     float64 `json:"y_m"`
	ChassisAngularOffsetDegrees float64 `json:"chassis_angular_offset_degs"`
	canmotor.ModuleConfig
}

// Config is the base's attributes. Zero values fall back to the competition robot's
// constants.
type Config struct {
	Channel                   string        `json:"can_channel,omitempty"`
	MaxSpeedMetersPerSecond   float64       `json:"max_speed_mps,omitempty"`
	MaxAngularSpeedDegsPerSec float64       `json:"max_angular_speed_degs_per_sec,omitempty"`
	Deadband                  float64       `json:"deadband,omitempty"`
	PinionTeeth               int           `json:"pinion_teeth,omitempty"`
	WheelDiameterMeters       float64       `json:"wheel_diameter_m,omitempty"`
	StatusTimeoutMilliseconds int           `json:"status_timeout_ms,omitempty"`
	Modules                   []ModuleAttrs `json:"modules"`
}

// Validate ensures all parts of the config are valid.
func (cfg *Config) Validate(path string) ([]string, error) {
	if len(cfg.Modules) == 0 {
		return nil, goutils.NewConfigValidationFieldRequiredError(path, "modules")
	}
	ids := map[uint8]string{}
	for _, m := range cfg.Modules {
		if m.Name == "" {
			return nil, goutils.NewConfigValidationFieldRequiredError(path, "modules.name")
		}
		if err := m.ModuleConfig.Validate(); err != nil {
			return nil, goutils.NewConfigValidationError(path, err)
		}
		for _, id := range []uint8{m.DrivingID, m.TurningID} {
			if other, ok := ids[id]; ok {
				return nil, goutils.NewConfigValidationError(path,
					errors.Errorf("CAN id %d used by modules %q and %q", id, other, m.Name))
			}
			ids[id] = m.Name
		}
	}
	if cfg.StatusTimeoutMilliseconds < 0 {
		return nil, goutils.NewConfigValidationError(path, errors.New("status_timeout_ms must not be negative"))
	}

	dcfg, err := cfg.driveConfig()
	if err != nil {
		return nil, goutils.NewConfigValidationError(path, err)
	}
	if err := dcfg.Validate(); err != nil {
		return nil, goutils.NewConfigValidationError(path, err)
	}
	return nil, nil
}

func (cfg *Config) channel() string {
	if cfg.Channel == "" {
		return canmotor.DefaultChannel
	}
	return cfg.Channel
}

func (cfg *Config) statusTimeout() time.Duration {
	if cfg.StatusTimeoutMilliseconds == 0 {
		return defaultStatusTimeout
	}
	return time.Duration(cfg.StatusTimeoutMilliseconds) * time.Millisecond
}

// driveConfig fills in the defaults and builds the drivetrain configuration in module
// order.
func (cfg *Config) driveConfig() (drive.Config, error) {
	dcfg := drive.DefaultConfig()
	if cfg.MaxSpeedMetersPerSecond != 0 {
		dcfg.MaxSpeedMetersPerSecond = cfg.MaxSpeedMetersPerSecond
	}
	if cfg.MaxAngularSpeedDegsPerSec != 0 {
		dcfg.MaxAngularSpeed = cfg.MaxAngularSpeedDegsPerSec * math.Pi / 180
	}
	dcfg.Deadband = cfg.Deadband

	pinion, wheel := swervemodule.DefaultPinionTeeth, swervemodule.DefaultWheelDiameterMeters
	if cfg.PinionTeeth != 0 {
		pinion = cfg.PinionTeeth
	}
	if cfg.WheelDiameterMeters != 0 {
		wheel = cfg.WheelDiameterMeters
	}
	conv, err := swervemodule.NewMAXSwerveConversion(pinion, wheel)
	if err != nil {
		return drive.Config{}, err
	}
	dcfg.Conversion = conv

	dcfg.Modules = make([]drive.ModuleConfig, 0, len(cfg.Modules))
	for _, m := range cfg.Modules {
		dcfg.Modules = append(dcfg.Modules, drive.ModuleConfig{
			Name:                 m.Name,
			Position:             r2.Point{X: m.XMeters, Y: m.YMeters},
			ChassisAngularOffset: m.ChassisAngularOffsetDegrees * math.Pi / 180,
		})
	}
	return dcfg, nil
}
