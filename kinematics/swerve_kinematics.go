package kinematics

import (
	"math"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// SwerveDriveKinematics maps chassis speeds to module states for a fixed set of module
// positions. The order of the positions defines the order of every state slice going in
// or out. It is not safe for concurrent use since it remembers each module's last heading.
type SwerveDriveKinematics struct {
	positions []r2.Point
	headings  []float64

	// inverse is the QR factorization of the 2N x 3 forward matrix, only present with
	// two or more modules.
	inverse  mat.QR
	solvable bool
}

// Twist is a change in pose expressed in the robot frame.
type Twist struct {
	Dx     float64
	Dy     float64
	Dtheta float64
}

// NewSwerveDriveKinematics builds kinematics for modules at the given offsets (meters)
// from the centre of rotation.
func NewSwerveDriveKinematics(positions ...r2.Point) (*SwerveDriveKinematics, error) {
	if len(positions) == 0 {
		return nil, errors.New("swerve kinematics needs at least one module")
	}
	forward := mat.NewDense(2*len(positions), 3, nil)
	for i, p := range positions {
		if !finite(p.X) || !finite(p.Y) {
			return nil, errors.Wrapf(ErrNonFinite, "module %d position %v", i, p)
		}
		forward.SetRow(2*i, []float64{1, 0, -p.Y})
		forward.SetRow(2*i+1, []float64{0, 1, p.X})
	}

	kin := &SwerveDriveKinematics{
		positions: append([]r2.Point(nil), positions...),
		headings:  make([]float64, len(positions)),
	}
	if len(positions) > 1 {
		kin.inverse.Factorize(forward)
		kin.solvable = true
	}
	return kin, nil
}

// NumModules returns the number of modules.
func (kin *SwerveDriveKinematics) NumModules() int {
	return len(kin.positions)
}

// Positions returns a copy of the module offsets in module order.
func (kin *SwerveDriveKinematics) Positions() []r2.Point {
	return append([]r2.Point(nil), kin.positions...)
}

// ResetHeadings sets the headings held by modules that are commanded to zero velocity.
func (kin *SwerveDriveKinematics) ResetHeadings(headings ...float64) error {
	if len(headings) != len(kin.headings) {
		return errors.Wrapf(ErrModuleCount, "got %d headings for %d modules", len(headings), len(kin.headings))
	}
	for i, h := range headings {
		if !finite(h) {
			return errors.Wrapf(ErrNonFinite, "heading %d", i)
		}
	}
	for i, h := range headings {
		kin.headings[i] = WrapAngle(h)
	}
	return nil
}

// ToModuleStates returns the state each module needs to produce the chassis speeds.
// A module with no resulting velocity keeps its previous heading.
func (kin *SwerveDriveKinematics) ToModuleStates(speeds ChassisSpeeds) ([]ModuleState, error) {
	if !speeds.Finite() {
		return nil, errors.Wrapf(ErrNonFinite, "chassis speeds %+v", speeds)
	}

	states := make([]ModuleState, len(kin.positions))
	for i, p := range kin.positions {
		vx := speeds.Vx - speeds.Omega*p.Y
		vy := speeds.Vy + speeds.Omega*p.X
		if vx == 0 && vy == 0 {
			states[i] = ModuleState{Angle: kin.headings[i]}
			continue
		}
		states[i] = ModuleState{
			SpeedMetersPerSecond: math.Hypot(vx, vy),
			Angle:                WrapAngle(math.Atan2(vy, vx)),
		}
		kin.headings[i] = states[i].Angle
	}
	return states, nil
}

// ToChassisSpeeds returns the least-squares chassis speeds for measured module states.
func (kin *SwerveDriveKinematics) ToChassisSpeeds(states ...ModuleState) (ChassisSpeeds, error) {
	if len(states) != len(kin.positions) {
		return ChassisSpeeds{}, errors.Wrapf(ErrModuleCount, "got %d states for %d modules", len(states), len(kin.positions))
	}
	b := mat.NewVecDense(2*len(states), nil)
	for i, s := range states {
		if !s.Finite() {
			return ChassisSpeeds{}, errors.Wrapf(ErrNonFinite, "module %d state %v", i, s)
		}
		b.SetVec(2*i, s.SpeedMetersPerSecond*math.Cos(s.Angle))
		b.SetVec(2*i+1, s.SpeedMetersPerSecond*math.Sin(s.Angle))
	}
	x, err := kin.solve(b)
	if err != nil {
		return ChassisSpeeds{}, err
	}
	return ChassisSpeeds{Vx: x[0], Vy: x[1], Omega: x[2]}, nil
}

// ToTwist returns the robot-frame motion for the given per-module distance deltas.
func (kin *SwerveDriveKinematics) ToTwist(deltas ...ModulePosition) (Twist, error) {
	if len(deltas) != len(kin.positions) {
		return Twist{}, errors.Wrapf(ErrModuleCount, "got %d deltas for %d modules", len(deltas), len(kin.positions))
	}
	b := mat.NewVecDense(2*len(deltas), nil)
	for i, d := range deltas {
		if !finite(d.DistanceMeters) || !finite(d.Angle) {
			return Twist{}, errors.Wrapf(ErrNonFinite, "module %d delta %+v", i, d)
		}
		b.SetVec(2*i, d.DistanceMeters*math.Cos(d.Angle))
		b.SetVec(2*i+1, d.DistanceMeters*math.Sin(d.Angle))
	}
	x, err := kin.solve(b)
	if err != nil {
		return Twist{}, err
	}
	return Twist{Dx: x[0], Dy: x[1], Dtheta: x[2]}, nil
}

func (kin *SwerveDriveKinematics) solve(b *mat.VecDense) ([]float64, error) {
	if !kin.solvable {
		return nil, errors.New("chassis motion needs at least two modules to solve")
	}
	var x mat.VecDense
	if err := kin.inverse.SolveVecTo(&x, false, b); err != nil {
		return nil, errors.Wrap(err, "cannot solve module geometry")
	}
	return []float64{x.AtVec(0), x.AtVec(1), x.AtVec(2)}, nil
}
