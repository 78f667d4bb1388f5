package spatialmath

import (
	"fmt"
	"math"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/num/quat"
)

// Pose is a rigid transform: a unit quaternion rotation followed by a translation. A Pose maps
// points from a child frame (a sensor, an object) into its parent frame (the world).
type Pose struct {
	orientation quat.Number
	point       r3.Vector
}

func vec(x, y, z float64) r3.Vector {
	return r3.Vector{X: x, Y: y, Z: z}
}

// NewZeroPose returns the identity pose.
func NewZeroPose() Pose {
	return Pose{orientation: quat.Number{Real: 1}}
}

// NewPose returns a pose with the given translation and rotation. The rotation is normalized.
func NewPose(point r3.Vector, orientation quat.Number) Pose {
	return Pose{orientation: Normalize(orientation), point: point}
}

// NewPoseFromPoint returns a pure translation.
func NewPoseFromPoint(point r3.Vector) Pose {
	return Pose{orientation: quat.Number{Real: 1}, point: point}
}

// NewPoseFromAxisAngle returns a pose rotating by theta radians about axis, then translating by point.
func NewPoseFromAxisAngle(point, axis r3.Vector, theta float64) Pose {
	aa := R4AA{Theta: theta, RX: axis.X, RY: axis.Y, RZ: axis.Z}
	return NewPose(point, aa.ToQuat())
}

// Point returns the translation of the pose.
func (p Pose) Point() r3.Vector {
	return p.point
}

// Orientation returns the unit quaternion of the pose.
func (p Pose) Orientation() quat.Number {
	if p.orientation == (quat.Number{}) {
		return quat.Number{Real: 1}
	}
	return p.orientation
}

// AxisAngles returns the rotation of the pose as an R4 axis angle.
func (p Pose) AxisAngles() R4AA {
	return QuatToR4AA(p.Orientation())
}

// Transform maps v from the pose's child frame into its parent frame.
func (p Pose) Transform(v r3.Vector) r3.Vector {
	return RotateVector(p.Orientation(), v).Add(p.point)
}

// Rotate applies only the rotation of the pose to v.
func (p Pose) Rotate(v r3.Vector) r3.Vector {
	return RotateVector(p.Orientation(), v)
}

// TransformAll maps every point in pts through the pose into a new slice.
func (p Pose) TransformAll(pts []r3.Vector) []r3.Vector {
	out := make([]r3.Vector, len(pts))
	for i, pt := range pts {
		out[i] = p.Transform(pt)
	}
	return out
}

// IsIdentity reports whether the pose is exactly the identity.
func (p Pose) IsIdentity() bool {
	q := p.Orientation()
	return p.point == (r3.Vector{}) && q == quat.Number{Real: 1}
}

// RotationMatrix returns the 3x3 rotation block of the pose.
func (p Pose) RotationMatrix() *mat.Dense {
	return QuatToRotationMatrix(p.Orientation())
}

// Matrix returns the homogeneous 4x4 form of the pose.
func (p Pose) Matrix() *mat.Dense {
	rot := p.RotationMatrix()
	m := mat.NewDense(4, 4, nil)
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			m.Set(i, j, rot.At(i, j))
		}
	}
	m.Set(0, 3, p.point.X)
	m.Set(1, 3, p.point.Y)
	m.Set(2, 3, p.point.Z)
	m.Set(3, 3, 1)
	return m
}

// RowMajor returns the 16 entries of Matrix in row-major order.
func (p Pose) RowMajor() []float64 {
	return mat.DenseCopyOf(p.Matrix()).RawMatrix().Data
}

func (p Pose) String() string {
	aa := p.AxisAngles()
	return fmt.Sprintf("{X:%.4f Y:%.4f Z:%.4f Theta:%.4f RX:%.3f RY:%.3f RZ:%.3f}",
		p.point.X, p.point.Y, p.point.Z, aa.Theta, aa.RX, aa.RY, aa.RZ)
}

// Compose returns a*b: the transform that first applies b and then a.
// The resulting rotation is re-normalized.
func Compose(a, b Pose) Pose {
	qa := a.Orientation()
	return Pose{
		orientation: Normalize(quat.Mul(qa, b.Orientation())),
		point:       RotateVector(qa, b.point).Add(a.point),
	}
}

// PoseInverse returns the inverse transform of p.
func PoseInverse(p Pose) Pose {
	inv := quat.Conj(p.Orientation())
	return Pose{
		orientation: Normalize(inv),
		point:       RotateVector(inv, p.point).Mul(-1),
	}
}

// PoseBetween returns the pose that takes a to b, i.e. a^-1 * b.
func PoseBetween(a, b Pose) Pose {
	return Compose(PoseInverse(a), b)
}

// Orthonormalize removes accumulated numerical drift from the rotation of p.
func Orthonormalize(p Pose) Pose {
	return Pose{orientation: Normalize(p.orientation), point: p.point}
}

// RotationDeviation is the angle in radians between the rotations of a and b.
func RotationDeviation(a, b Pose) float64 {
	return QuatAngleBetween(a.Orientation(), b.Orientation())
}

// PoseAlmostEqual returns whether two poses are equal within the given translation and
// rotation (radians) tolerance.
func PoseAlmostEqual(a, b Pose, epsilon float64) bool {
	return a.point.Sub(b.point).Norm() <= epsilon && RotationDeviation(a, b) <= epsilon
}

// IsOrthonormal reports whether the rotation block of p is orthonormal within epsilon.
func IsOrthonormal(p Pose, epsilon float64) bool {
	rot := p.RotationMatrix()
	var rrt mat.Dense
	rrt.Mul(rot, rot.T())
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			want := 0.
			if i == j {
				want = 1
			}
			if math.Abs(rrt.At(i, j)-want) > epsilon {
				return false
			}
		}
	}
	return math.Abs(mat.Det(rot)-1) <= epsilon
}
