package canmotor

import (
	"context"
	"sync"

	"github.com/pkg/errors"

	"swerve/swervemodule"
)

// ModuleConfig names the two controllers of one swerve module.
type ModuleConfig struct {
	DrivingID     uint8 `json:"driving_can_id"`
	TurningID     uint8 `json:"turning_can_id"`
	// InvertDriving flips the driving motor direction, for modules mounted mirrored.
	InvertDriving bool  `json:"invert_driving,omitempty"`
}

// Validate checks the IDs fit the protocol and differ.
func (cfg ModuleConfig) Validate() error {
	if cfg.DrivingID > MaxDeviceID || cfg.TurningID > MaxDeviceID {
		return errors.Errorf("CAN ids must be at most %d, got driving %d turning %d",
			MaxDeviceID, cfg.DrivingID, cfg.TurningID)
	}
	if cfg.DrivingID == cfg.TurningID {
		return errors.Errorf("driving and turning controllers share CAN id %d", cfg.DrivingID)
	}
	return nil
}

// Module is the hardware of one swerve module on a Bus.
type Module struct {
	bus        *Bus
	cfg        ModuleConfig
	conversion swervemodule.Conversion

	mu       sync.Mutex
	wrapSent bool
	wrapMin  float64
	wrapMax  float64
}

var _ swervemodule.Hardware = (*Module)(nil)

// Module returns the hardware for a module whose controllers are on this bus.
func (b *Bus) Module(cfg ModuleConfig, conversion swervemodule.Conversion) (*Module, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := conversion.Validate(); err != nil {
		return nil, err
	}
	return &Module{bus: b, cfg: cfg, conversion: conversion}, nil
}

// Config returns the module's CAN configuration.
func (m *Module) Config() ModuleConfig {
	return m.cfg
}

// SetVelocity sends a driving velocity setpoint in motor RPM.
func (m *Module) SetVelocity(ctx context.Context, metersPerSecond float64) error {
	rpm := m.conversion.DrivingRPM(metersPerSecond)
	if m.cfg.InvertDriving {
		rpm = -rpm
	}
	return m.bus.send(ctx, setpoint{
		api:     apiVelocitySetpoint,
		device:  m.cfg.DrivingID,
		value:   rpm,
		control: controlTypeVelocity,
	})
}

// SetPosition sends a turning position setpoint in encoder rotations, reconfiguring the
// controller's wrap range first if it changed.
func (m *Module) SetPosition(ctx context.Context, radians, wrapMin, wrapMax float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.wrapSent || wrapMin != m.wrapMin || wrapMax != m.wrapMax {
		if err := m.bus.send(ctx, wrapConfig{
			device: m.cfg.TurningID,
			min:    m.conversion.TurningRotations(wrapMin),
			max:    m.conversion.TurningRotations(wrapMax),
		}); err != nil {
			return err
		}
		m.wrapSent, m.wrapMin, m.wrapMax = true, wrapMin, wrapMax
	}

	return m.bus.send(ctx, setpoint{
		api:     apiPositionSetpoint,
		device:  m.cfg.TurningID,
		value:   m.conversion.TurningRotations(radians),
		control: controlTypePosition,
	})
}

// Readings returns the latest decoded status of both controllers.
func (m *Module) Readings(ctx context.Context) (swervemodule.RawReadings, error) {
	if err := ctx.Err(); err != nil {
		return swervemodule.RawReadings{}, err
	}
	drive := m.bus.status(m.cfg.DrivingID)
	if !drive.haveDrive {
		return swervemodule.RawReadings{}, errors.Wrapf(ErrNoStatus, "driving controller %d", m.cfg.DrivingID)
	}
	turn := m.bus.status(m.cfg.TurningID)
	if !turn.haveTurn {
		return swervemodule.RawReadings{}, errors.Wrapf(ErrNoStatus, "turning controller %d", m.cfg.TurningID)
	}

	raw := swervemodule.RawReadings{
		DrivePosition: drive.drivePosition,
		DriveVelocity: drive.driveVelocity,
		TurnPosition:  turn.turnPosition,
	}
	if m.cfg.InvertDriving {
		raw.DrivePosition, raw.DriveVelocity = -raw.DrivePosition, -raw.DriveVelocity
	}
	return raw, nil
}
