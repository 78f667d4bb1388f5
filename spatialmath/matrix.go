package spatialmath

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/num/quat"
)

// QuatToRotationMatrix returns the 3x3 rotation matrix of the unit quaternion q.
func QuatToRotationMatrix(q quat.Number) *mat.Dense {
	w, x, y, z := q.Real, q.Imag, q.Jmag, q.Kmag
	return mat.NewDense(3, 3, []float64{
		1 - 2*(y*y+z*z), 2 * (x*y - z*w), 2 * (x*z + y*w),
		2 * (x*y + z*w), 1 - 2*(x*x+z*z), 2 * (y*z - x*w),
		2 * (x*z - y*w), 2 * (y*z + x*w), 1 - 2*(x*x+y*y),
	})
}

// RotationMatrixToQuat converts a rotation matrix to a unit quaternion using Shepperd's method.
func RotationMatrixToQuat(r mat.Matrix) quat.Number {
	r00, r01, r02 := r.At(0, 0), r.At(0, 1), r.At(0, 2)
	r10, r11, r12 := r.At(1, 0), r.At(1, 1), r.At(1, 2)
	r20, r21, r22 := r.At(2, 0), r.At(2, 1), r.At(2, 2)

	var q quat.Number
	trace := r00 + r11 + r22
	switch {
	case trace > 0:
		s := 0.5 / math.Sqrt(trace+1)
		q = quat.Number{Real: 0.25 / s, Imag: (r21 - r12) * s, Jmag: (r02 - r20) * s, Kmag: (r10 - r01) * s}
	case r00 > r11 && r00 > r22:
		s := 2 * math.Sqrt(1+r00-r11-r22)
		q = quat.Number{Real: (r21 - r12) / s, Imag: 0.25 * s, Jmag: (r01 + r10) / s, Kmag: (r02 + r20) / s}
	case r11 > r22:
		s := 2 * math.Sqrt(1+r11-r00-r22)
		q = quat.Number{Real: (r02 - r20) / s, Imag: (r01 + r10) / s, Jmag: 0.25 * s, Kmag: (r12 + r21) / s}
	default:
		s := 2 * math.Sqrt(1+r22-r00-r11)
		q = quat.Number{Real: (r10 - r01) / s, Imag: (r02 + r20) / s, Jmag: (r12 + r21) / s, Kmag: 0.25 * s}
	}
	return Normalize(q)
}

// OrthonormalizeRotation returns the rotation matrix closest to r in the Frobenius norm,
// computed as U*V^T from the singular value decomposition of r.
func OrthonormalizeRotation(r mat.Matrix) (*mat.Dense, error) {
	var svd mat.SVD
	if ok := svd.Factorize(r, mat.SVDFull); !ok {
		return nil, errors.New("failed to factorize rotation matrix")
	}
	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)

	var out mat.Dense
	out.Mul(&u, v.T())
	if mat.Det(&out) < 0 {
		for i := 0; i < 3; i++ {
			u.Set(i, 2, -u.At(i, 2))
		}
		out.Mul(&u, v.T())
	}
	return &out, nil
}

// NewPoseFromMatrix builds a pose from a homogeneous 4x4 (or 3x4) matrix. The rotation block is
// re-orthonormalized before it is converted so slightly drifted matrices are accepted.
func NewPoseFromMatrix(m mat.Matrix) (Pose, error) {
	rows, cols := m.Dims()
	if (rows != 4 && rows != 3) || cols != 4 {
		return Pose{}, errors.Errorf("expected a 4x4 transform matrix, got %dx%d", rows, cols)
	}
	if rows == 4 {
		if m.At(3, 0) != 0 || m.At(3, 1) != 0 || m.At(3, 2) != 0 || m.At(3, 3) != 1 {
			return Pose{}, errors.New("transform matrix bottom row must be [0 0 0 1]")
		}
	}
	rot := mat.NewDense(3, 3, nil)
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			rot.Set(i, j, m.At(i, j))
		}
	}
	ortho, err := OrthonormalizeRotation(rot)
	if err != nil {
		return Pose{}, err
	}
	return NewPose(
		vec(m.At(0, 3), m.At(1, 3), m.At(2, 3)),
		RotationMatrixToQuat(ortho),
	), nil
}

// NewPoseFromRowMajor builds a pose from the 16 entries of a row-major 4x4 transform.
func NewPoseFromRowMajor(values []float64) (Pose, error) {
	if len(values) != 16 {
		return Pose{}, errors.Errorf("expected 16 transform values, got %d", len(values))
	}
	return NewPoseFromMatrix(mat.NewDense(4, 4, values))
}
