// Package main is a Viam module serving a swerve drivetrain as a base component.
package main

import (
	"context"
	"io"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	goutils "go.viam.com/utils"

	"go.viam.com/rdk/components/base"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/module"
	"go.viam.com/rdk/resource"
	"go.viam.com/rdk/spatialmath"

	"swerve/canmotor"
	"swerve/drive"
	"swerve/kinematics"
	"swerve/swervemodule"
)

var model = resource.NewModel("viam-labs", "swerve", "drivetrain")

// Version number
var version = "1.0.0"

func main() {
	goutils.ContextualMain(mainWithArgs, logging.NewDebugLogger("swerveBaseModule"))
}

func mainWithArgs(ctx context.Context, args []string, logger logging.Logger) (err error) {
	registerBase()
	swerveModule, err := module.NewModuleFromArgs(ctx, logger)
	if err != nil {
		return err
	}
	if err := swerveModule.AddModelFromRegistry(ctx, base.API, model); err != nil {
		return err
	}

	logger.Infow("starting swerve base module", "version", version)
	err = swerveModule.Start(ctx)
	defer swerveModule.Close(ctx)

	if err != nil {
		return err
	}
	<-ctx.Done()
	return nil
}

// helper function to add the base's constructor and metadata to the component registry, so that we can later construct it.
func registerBase() {
	resource.RegisterComponent(
		base.API,
		model,
		resource.Registration[base.Base, *Config]{Constructor: func(
			ctx context.Context,
			deps resource.Dependencies,
			conf resource.Config,
			logger logging.Logger,
		) (base.Base, error) {
			return newBase(ctx, conf, logger)
		}})
}

// newBase opens the CAN bus, waits for every controller to report and builds the
// drivetrain on top of it.
func newBase(ctx context.Context, conf resource.Config, logger logging.Logger) (base.Base, error) {
	cfg, err := resource.NativeConfig[*Config](conf)
	if err != nil {
		return nil, err
	}
	dcfg, err := cfg.driveConfig()
	if err != nil {
		return nil, err
	}

	devices := make([]uint8, 0, 2*len(cfg.Modules))
	for _, m := range cfg.Modules {
		devices = append(devices, m.DrivingID, m.TurningID)
	}
	bus, err := canmotor.Open(cfg.channel(), devices, logger)
	if err != nil {
		return nil, err
	}

	motors := make([]*canmotor.Module, 0, len(cfg.Modules))
	hardware := make([]swervemodule.Hardware, 0, len(cfg.Modules))
	for _, m := range cfg.Modules {
		motor, err := bus.Module(m.ModuleConfig, dcfg.Conversion)
		if err != nil {
			return nil, multierr.Combine(errors.Wrapf(err, "module %q", m.Name), bus.Close())
		}
		motors = append(motors, motor)
		hardware = append(hardware, motor)
	}

	waitCtx, cancel := context.WithTimeout(ctx, cfg.statusTimeout())
	defer cancel()
	if err := bus.WaitForStatus(waitCtx, motors...); err != nil {
		return nil, multierr.Combine(err, bus.Close())
	}

	return newSwerveBase(ctx, conf, cfg, hardware, bus, logger)
}

// telemetry keys
const (
	telemSpeed          = "speed_mps"
	telemAngle          = "angle_degs"
	telemDistance       = "distance_m"
	telemDesiredSpeed   = "desired_speed_mps"
	telemDesiredAngle   = "desired_angle_degs"
	telemCommandedSpeed = "commanded_speed_mps"
	telemCommandedAngle = "commanded_angle_degs"
	telemRawAngle       = "raw_angle_rad"
	telemRelativeAngle  = "relative_angle_degs"
	telemPose           = "pose"
	telemIsMoving       = "is_moving"

	poseX       = "x_m"
	poseY       = "y_m"
	poseHeading = "heading_degs"
	gyroHeading = "gyro_heading_degs"
)

const (
	commandSetAngle       = "set_angle_degrees"
	commandResetEncoders  = "reset_encoders"
	commandGetTelemetry   = "get_telemetry"
	commandResetOdometry  = "reset_odometry"
	commandUpdateOdometry = "update_odometry"

	commandProcessed = " command processed"
)

type swerveBase struct {
	resource.Named

	geometries []spatialmath.Geometry
	properties base.Properties
	logger     logging.Logger

	// mu serializes every call into the drivetrain.
	mu         sync.Mutex
	drivetrain *drive.Drivetrain
	bus        io.Closer
	isMoving   atomic.Bool

	telemetryLock sync.RWMutex
	telemetry     map[string]swervemodule.Telemetry
}

func newSwerveBase(
	ctx context.Context,
	conf resource.Config,
	cfg *Config,
	hardware []swervemodule.Hardware,
	bus io.Closer,
	logger logging.Logger,
) (*swerveBase, error) {
	geometries := []spatialmath.Geometry{}
	if conf.Frame != nil {
		frame, err := conf.Frame.ParseConfig()
		if err != nil {
			return nil, multierr.Combine(err, bus.Close())
		}
		geometries = append(geometries, frame.Geometry())
	}

	dcfg, err := cfg.driveConfig()
	if err != nil {
		return nil, multierr.Combine(err, bus.Close())
	}

	sb := &swerveBase{
		Named:      conf.ResourceName().AsNamed(),
		geometries: geometries,
		properties: properties(cfg, dcfg),
		logger:     logger,
		bus:        bus,
		telemetry:  map[string]swervemodule.Telemetry{},
	}
	sb.drivetrain, err = drive.New(ctx, dcfg, hardware, logger, swervemodule.WithObserver(sb.recordTelemetry))
	if err != nil {
		return nil, multierr.Combine(err, bus.Close())
	}
	return sb, nil
}

func properties(cfg *Config, dcfg drive.Config) base.Properties {
	minY, maxY := math.Inf(1), math.Inf(-1)
	for _, m := range dcfg.Modules {
		minY, maxY = math.Min(minY, m.Position.Y), math.Max(maxY, m.Position.Y)
	}
	wheel := cfg.WheelDiameterMeters
	if wheel == 0 {
		wheel = swervemodule.DefaultWheelDiameterMeters
	}
	return base.Properties{
		WidthMeters:              maxY - minY,
		WheelCircumferenceMeters: math.Pi * wheel,
	}
}

func (sb *swerveBase) recordTelemetry(telem swervemodule.Telemetry) {
	sb.telemetryLock.Lock()
	defer sb.telemetryLock.Unlock()
	sb.telemetry[telem.Module] = telem
}

func (sb *swerveBase) lastTelemetry(module string) (swervemodule.Telemetry, bool) {
	sb.telemetryLock.RLock()
	defer sb.telemetryLock.RUnlock()
	telem, ok := sb.telemetry[module]
	return telem, ok
}

// MoveStraight drives along the chassis x axis without turning until distanceMm is covered.
func (sb *swerveBase) MoveStraight(ctx context.Context, distanceMm int, mmPerSec float64, extra map[string]interface{}) error {
	if distanceMm == 0 || mmPerSec == 0 {
		return sb.Stop(ctx, extra)
	}
	speed := math.Abs(mmPerSec) / 1000
	if (distanceMm < 0) != (mmPerSec < 0) {
		speed = -speed
	}
	duration := time.Duration(math.Abs(float64(distanceMm)/mmPerSec) * float64(time.Second))
	return sb.runFor(ctx, kinematics.ChassisSpeeds{Vx: speed}, duration)
}

// Spin turns in place by angleDeg at degsPerSec.
func (sb *swerveBase) Spin(ctx context.Context, angleDeg, degsPerSec float64, extra map[string]interface{}) error {
	if angleDeg == 0 || degsPerSec == 0 {
		return sb.Stop(ctx, extra)
	}
	omega := math.Abs(degsPerSec) * math.Pi / 180
	if (angleDeg < 0) != (degsPerSec < 0) {
		omega = -omega
	}
	duration := time.Duration(math.Abs(angleDeg/degsPerSec) * float64(time.Second))
	return sb.runFor(ctx, kinematics.ChassisSpeeds{Omega: omega}, duration)
}

func (sb *swerveBase) runFor(ctx context.Context, speeds kinematics.ChassisSpeeds, duration time.Duration) error {
	if err := sb.driveChassisSpeeds(ctx, speeds); err != nil {
		return err
	}
	defer func() {
		// ctx may already be cancelled and the base must still stop
		if err := sb.stop(context.Background()); err != nil {
			sb.logger.Errorw("stop after timed move failed", "error", err)
		}
	}()

	if !goutils.SelectContextOrWait(ctx, duration) {
		return ctx.Err()
	}
	return nil
}

// SetPower sets the linear and angular [-1, 1] drive power. linear.Y is forward and
// linear.X is to the right.
func (sb *swerveBase) SetPower(ctx context.Context, linear, angular r3.Vector, extra map[string]interface{}) error {
	sb.logger.Debugw("SetPower",
		"linear.X", linear.X,
		"linear.Y", linear.Y,
		"angular.Z", angular.Z,
	)

	// Some vector components do not apply to a 2D base
	if linear.Z != 0 {
		sb.logger.Warnw("Linear Z command non-zero and has no effect")
	}
	if angular.X != 0 {
		sb.logger.Warnw("Angular X command non-zero and has no effect")
	}
	if angular.Y != 0 {
		sb.logger.Warnw("Angular Y command non-zero and has no effect")
	}

	sb.mu.Lock()
	defer sb.mu.Unlock()
	if err := sb.drivetrain.Drive(ctx, linear.Y, -linear.X, angular.Z); err != nil {
		sb.logger.Errorw("Error setting SetPower command", "error", err)
		return err
	}
	sb.isMoving.Store(linear.X != 0 || linear.Y != 0 || angular.Z != 0)
	return nil
}

// SetVelocity sets the linear (mmPerSec) and angular (degsPerSec) velocity.
func (sb *swerveBase) SetVelocity(ctx context.Context, linear, angular r3.Vector, extra map[string]interface{}) error {
	return sb.driveChassisSpeeds(ctx, kinematics.ChassisSpeeds{
		Vx:    linear.Y / 1000,
		Vy:    -linear.X / 1000,
		Omega: angular.Z * math.Pi / 180,
	})
}

func (sb *swerveBase) driveChassisSpeeds(ctx context.Context, speeds kinematics.ChassisSpeeds) error {
	sb.mu.Lock()
	defer sb.mu.Unlock()
	if err := sb.drivetrain.DriveChassisSpeeds(ctx, speeds); err != nil {
		sb.logger.Errorw("Error setting chassis speeds", "speeds", speeds, "error", err)
		return err
	}
	sb.isMoving.Store(speeds.Vx != 0 || speeds.Vy != 0 || speeds.Omega != 0)
	return nil
}

// Stop sets every module to zero speed. The modules hold their headings.
func (sb *swerveBase) Stop(ctx context.Context, extra map[string]interface{}) error {
	return sb.stop(ctx)
}

func (sb *swerveBase) stop(ctx context.Context) error {
	sb.mu.Lock()
	defer sb.mu.Unlock()
	sb.isMoving.Store(false)
	return sb.drivetrain.Stop(ctx)
}

// DoCommand executes additional commands beyond the Base{} interface.
func (sb *swerveBase) DoCommand(ctx context.Context, cmd map[string]interface{}) (map[string]interface{}, error) {
	name, ok := cmd["command"]
	if !ok {
		return nil, errors.New("missing 'command' value")
	}
	switch name {
	case commandSetAngle:
		index, err := sb.moduleIndex(cmd["module"])
		if err != nil {
			return nil, err
		}
		angle, ok := cmd["angle"].(float64)
		if !ok {
			return nil, errors.New("angle must be set to a number of degrees")
		}
		sb.mu.Lock()
		err = sb.drivetrain.SetAngleDegrees(ctx, index, angle)
		sb.mu.Unlock()
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{"return": commandSetAngle + commandProcessed}, nil

	case commandResetEncoders:
		sb.mu.Lock()
		err := sb.drivetrain.ResetEncoders(ctx)
		sb.mu.Unlock()
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{"return": commandResetEncoders + commandProcessed}, nil

	case commandGetTelemetry:
		return sb.telemetryAll(ctx)

	case commandResetOdometry:
		x, err := optionalFloat(cmd, poseX, 0)
		if err != nil {
			return nil, err
		}
		y, err := optionalFloat(cmd, poseY, 0)
		if err != nil {
			return nil, err
		}
		heading, err := optionalFloat(cmd, poseHeading, 0)
		if err != nil {
			return nil, err
		}
		gyro, err := optionalFloat(cmd, gyroHeading, heading)
		if err != nil {
			return nil, err
		}
		pose := kinematics.Pose{Translation: r2.Point{X: x, Y: y}, Heading: heading * math.Pi / 180}
		sb.mu.Lock()
		err = sb.drivetrain.ResetOdometry(ctx, gyro*math.Pi/180, pose)
		sb.mu.Unlock()
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{telemPose: poseMap(pose)}, nil

	case commandUpdateOdometry:
		gyro, ok := cmd[gyroHeading].(float64)
		if !ok {
			return nil, errors.Errorf("%s must be set to a number of degrees", gyroHeading)
		}
		sb.mu.Lock()
		pose, err := sb.drivetrain.UpdateOdometry(ctx, gyro*math.Pi/180)
		sb.mu.Unlock()
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{telemPose: poseMap(pose)}, nil

	default:
		return nil, errors.Errorf("no such command: %s", name)
	}
}

// moduleIndex accepts a module name or a zero-based index.
func (sb *swerveBase) moduleIndex(raw interface{}) (int, error) {
	switch v := raw.(type) {
	case string:
		index, ok := sb.drivetrain.ModuleIndex(v)
		if !ok {
			return 0, errors.Errorf("no module named %q", v)
		}
		return index, nil
	case float64:
		if v != math.Trunc(v) {
			return 0, errors.Errorf("module index must be a whole number, not %v", v)
		}
		return int(v), nil
	case nil:
		return 0, errors.New("module must be set to a module name or index")
	default:
		return 0, errors.Errorf("module must be a name or index but is type %T", raw)
	}
}

func (sb *swerveBase) telemetryAll(ctx context.Context) (map[string]interface{}, error) {
	sb.mu.Lock()
	defer sb.mu.Unlock()

	states, err := sb.drivetrain.ModuleStates(ctx)
	if err != nil {
		return nil, err
	}
	positions, err := sb.drivetrain.ModulePositions(ctx)
	if err != nil {
		return nil, err
	}
	desired := sb.drivetrain.DesiredStates()

	result := map[string]interface{}{
		telemPose:     poseMap(sb.drivetrain.Pose()),
		telemIsMoving: sb.isMoving.Load(),
	}
	for i, m := range sb.drivetrain.Modules() {
		entry := map[string]interface{}{
			telemSpeed:        states[i].SpeedMetersPerSecond,
			telemAngle:        states[i].Degrees(),
			telemDistance:     positions[i].DistanceMeters,
			telemDesiredSpeed: desired[i].SpeedMetersPerSecond,
			telemDesiredAngle: desired[i].Degrees(),
		}
		if telem, ok := sb.lastTelemetry(m.Name()); ok {
			entry[telemCommandedSpeed] = telem.Commanded.SpeedMetersPerSecond
			entry[telemCommandedAngle] = telem.Commanded.Degrees()
			entry[telemRawAngle] = telem.RawAngle
			entry[telemRelativeAngle] = telem.RelativeAngleDegrees
		}
		result[m.Name()] = entry
	}
	return result, nil
}

func optionalFloat(cmd map[string]interface{}, key string, fallback float64) (float64, error) {
	raw, ok := cmd[key]
	if !ok {
		return fallback, nil
	}
	v, ok := raw.(float64)
	if !ok {
		return 0, errors.Errorf("%s must be a number but is type %T", key, raw)
	}
	return v, nil
}

func poseMap(pose kinematics.Pose) map[string]interface{} {
	return map[string]interface{}{
		poseX:       pose.Translation.X,
		poseY:       pose.Translation.Y,
		poseHeading: pose.Heading * 180 / math.Pi,
	}
}

func (sb *swerveBase) Geometries(ctx context.Context, extra map[string]interface{}) ([]spatialmath.Geometry, error) {
	return sb.geometries, nil
}

func (sb *swerveBase) Reconfigure(ctx context.Context, deps resource.Dependencies, conf resource.Config) error {
	return resource.NewMustRebuildError(conf.ResourceName())
}

func (sb *swerveBase) Properties(ctx context.Context, extra map[string]interface{}) (base.Properties, error) {
	return sb.properties, nil
}

func (sb *swerveBase) IsMoving(ctx context.Context) (bool, error) {
	return sb.isMoving.Load(), nil
}

// Close stops the modules and closes the bus.
func (sb *swerveBase) Close(ctx context.Context) error {
	err := sb.stop(ctx)
	if err != nil {
		sb.logger.Errorw("stop on close failed", "error", err)
	}
	return multierr.Combine(err, sb.bus.Close())
}
