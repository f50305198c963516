package kinematics

import (
	"math"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
)

// Pose is a field-relative position and heading.
type Pose struct {
	Translation r2.Point
	Heading     float64
}

// Exp applies a robot-frame twist to the pose assuming constant curvature over the step.
func (p Pose) Exp(twist Twist) Pose {
	sinTheta, cosTheta := math.Sincos(twist.Dtheta)
	var s, c float64
	if math.Abs(twist.Dtheta) < 1e-9 {
		s = 1 - twist.Dtheta*twist.Dtheta/6
		c = twist.Dtheta / 2
	} else {
		s = sinTheta / twist.Dtheta
		c = (1 - cosTheta) / twist.Dtheta
	}
	local := r2.Point{
		X: twist.Dx*s - twist.Dy*c,
		Y: twist.Dx*c + twist.Dy*s,
	}
	return Pose{
		Translation: p.Translation.Add(rotate(local, p.Heading)),
		Heading:     WrapAngle(p.Heading + twist.Dtheta),
	}
}

func rotate(v r2.Point, angle float64) r2.Point {
	sin, cos := math.Sincos(angle)
	return r2.Point{X: v.X*cos - v.Y*sin, Y: v.X*sin + v.Y*cos}
}

// Odometry integrates module positions and a gyro heading into a field pose.
type Odometry struct {
	kin        *SwerveDriveKinematics
	pose       Pose
	gyroOffset float64
	prevGyro   float64
	previous   []ModulePosition
}

// NewOdometry starts tracking at the given pose. gyroAngle is the raw gyro heading, which
// need not match pose.Heading.
func NewOdometry(kin *SwerveDriveKinematics, gyroAngle float64, positions []ModulePosition, pose Pose) (*Odometry, error) {
	o := &Odometry{kin: kin}
	if err := o.Reset(gyroAngle, positions, pose); err != nil {
		return nil, err
	}
	return o, nil
}

// Reset moves the tracked pose without touching the gyro or encoders.
func (o *Odometry) Reset(gyroAngle float64, positions []ModulePosition, pose Pose) error {
	if len(positions) != o.kin.NumModules() {
		return errors.Wrapf(ErrModuleCount, "got %d positions for %d modules", len(positions), o.kin.NumModules())
	}
	o.pose = pose
	o.gyroOffset = pose.Heading - gyroAngle
	o.prevGyro = pose.Heading
	o.previous = append(o.previous[:0], positions...)
	return nil
}

// Pose returns the last computed pose.
func (o *Odometry) Pose() Pose {
	return o.pose
}

// Update advances the pose from the module distances travelled since the last call.
func (o *Odometry) Update(gyroAngle float64, positions []ModulePosition) (Pose, error) {
	if len(positions) != len(o.previous) {
		return o.pose, errors.Wrapf(ErrModuleCount, "got %d positions for %d modules", len(positions), len(o.previous))
	}
	if !finite(gyroAngle) {
		return o.pose, errors.Wrap(ErrNonFinite, "gyro angle")
	}

	deltas := make([]ModulePosition, len(positions))
	for i, p := range positions {
		deltas[i] = ModulePosition{
			DistanceMeters: p.DistanceMeters - o.previous[i].DistanceMeters,
			Angle:          p.Angle,
		}
	}
	twist, err := o.kin.ToTwist(deltas...)
	if err != nil {
		return o.pose, err
	}

	heading := WrapAngle(gyroAngle + o.gyroOffset)
	twist.Dtheta = WrapAngle(heading - o.prevGyro)
	next := o.pose.Exp(twist)

	o.pose = Pose{Translation: next.Translation, Heading: heading}
	o.prevGyro = heading
	copy(o.previous, positions)
	return o.pose, nil
}
