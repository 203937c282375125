// Package pose converts tracker-space poses into local world space.
//
// A Matrix is a 4x4 rigid (or uniformly scaled) transform stored row-major,
// matching the layout used by the LiDAR pose code: translation lives at
// indices 3, 7 and 11 and the last row is [0 0 0 1].
package pose

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/num/quat"
)

// ErrSingular is returned when a matrix has no inverse.
var ErrSingular = errors.New("pose: singular matrix")

// Matrix is a row-major 4x4 transform.
type Matrix [16]float64

// Identity returns the identity transform.
func Identity() Matrix {
	return Matrix{
		1, 0, 0, 0,
		0, 1, 0, 0,
		0, 0, 1, 0,
		0, 0, 0, 1,
	}
}

// FromTranslation returns a pure translation.
func FromTranslation(x, y, z float64) Matrix {
	m := Identity()
	m[3], m[7], m[11] = x, y, z
	return m
}

// At returns the element at row r, column c.
func (m Matrix) At(r, c int) float64 { return m[r*4+c] }

// Translation returns the translation column.
func (m Matrix) Translation() (x, y, z float64) {
	return m[3], m[7], m[11]
}

// Dense returns a gonum copy of m.
func (m Matrix) Dense() *mat.Dense {
	data := make([]float64, 16)
	copy(data, m[:])
	return mat.NewDense(4, 4, data)
}

// FromDense copies a 4x4 gonum matrix into a Matrix.
// It panics if d is not 4x4.
func FromDense(d mat.Matrix) Matrix {
	r, c := d.Dims()
	if r != 4 || c != 4 {
		panic("pose: FromDense requires a 4x4 matrix")
	}
	var m Matrix
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			m[i*4+j] = d.At(i, j)
		}
	}
	return m
}

// Mul returns m * n.
func (m Matrix) Mul(n Matrix) Matrix {
	var out mat.Dense
	out.Mul(m.Dense(), n.Dense())
	return FromDense(&out)
}

// Inverse returns the inverse of m.
func (m Matrix) Inverse() (Matrix, error) {
	var inv mat.Dense
	if err := inv.Inverse(m.Dense()); err != nil {
		return Matrix{}, ErrSingular
	}
	return FromDense(&inv), nil
}

// Transform applies m to the point (x, y, z).
func (m Matrix) Transform(x, y, z float64) (wx, wy, wz float64) {
	wx = m[0]*x + m[1]*y + m[2]*z + m[3]
	wy = m[4]*x + m[5]*y + m[6]*z + m[7]
	wz = m[8]*x + m[9]*y + m[10]*z + m[11]
	return
}

// ToLocal converts a tracker-space pose into local world space. The 3x3
// rotation block is scaled uniformly and the translation is scaled
// independently, so metres in the real world become scale units locally.
func ToLocal(external Matrix, scale float64) Matrix {
	s := mat.NewDiagDense(4, []float64{scale, scale, scale, 1})
	var scaled mat.Dense
	scaled.Mul(external.Dense(), s)

	local := FromDense(&scaled)
	local[3] *= scale
	local[7] *= scale
	local[11] *= scale
	return local
}

// ToTracker maps a local world pose back into tracker space. The
// translation is divided by scale and the rotation block is normalised,
// so it inverts ToLocal for rigid tracker poses.
func ToTracker(local Matrix, scale float64) Matrix {
	x, y, z := local.Translation()
	return FromRotationTranslation(local.Rotation(), x/scale, y/scale, z/scale)
}

// Rotation returns the unit quaternion for the rotation block of m.
// Any uniform scale on the block is divided out first.
func (m Matrix) Rotation() quat.Number {
	sx := math.Sqrt(m[0]*m[0] + m[4]*m[4] + m[8]*m[8])
	if sx == 0 {
		return quat.Number{Real: 1}
	}
	r00, r01, r02 := m[0]/sx, m[1]/sx, m[2]/sx
	r10, r11, r12 := m[4]/sx, m[5]/sx, m[6]/sx
	r20, r21, r22 := m[8]/sx, m[9]/sx, m[10]/sx

	var q quat.Number
	trace := r00 + r11 + r22
	switch {
	case trace > 0:
		s := math.Sqrt(trace+1) * 2
		q = quat.Number{Real: s / 4, Imag: (r21 - r12) / s, Jmag: (r02 - r20) / s, Kmag: (r10 - r01) / s}
	case r00 > r11 && r00 > r22:
		s := math.Sqrt(1+r00-r11-r22) * 2
		q = quat.Number{Real: (r21 - r12) / s, Imag: s / 4, Jmag: (r01 + r10) / s, Kmag: (r02 + r20) / s}
	case r11 > r22:
		s := math.Sqrt(1+r11-r00-r22) * 2
		q = quat.Number{Real: (r02 - r20) / s, Imag: (r01 + r10) / s, Jmag: s / 4, Kmag: (r12 + r21) / s}
	default:
		s := math.Sqrt(1+r22-r00-r11) * 2
		q = quat.Number{Real: (r10 - r01) / s, Imag: (r02 + r20) / s, Jmag: (r12 + r21) / s, Kmag: s / 4}
	}
	return normalize(q)
}

// FromRotationTranslation builds a rigid transform from a quaternion and a
// translation.
func FromRotationTranslation(q quat.Number, x, y, z float64) Matrix {
	q = normalize(q)
	w, i, j, k := q.Real, q.Imag, q.Jmag, q.Kmag
	return Matrix{
		1 - 2*(j*j+k*k), 2 * (i*j - k*w), 2 * (i*k + j*w), x,
		2 * (i*j + k*w), 1 - 2*(i*i+k*k), 2 * (j*k - i*w), y,
		2 * (i*k - j*w), 2 * (j*k + i*w), 1 - 2*(i*i+j*j), z,
		0, 0, 0, 1,
	}
}

// AxisAngle returns the rotation of angle radians about the axis
// (x, y, z). The axis need not be normalised.
func AxisAngle(x, y, z, angle float64) quat.Number {
	n := math.Sqrt(x*x + y*y + z*z)
	if n == 0 {
		return quat.Number{Real: 1}
	}
	s := math.Sin(angle/2) / n
	return quat.Number{Real: math.Cos(angle / 2), Imag: x * s, Jmag: y * s, Kmag: z * s}
}

// Interpolate blends two rigid poses: translation linearly and rotation by
// spherical linear interpolation. t is clamped to [0, 1].
func Interpolate(a, b Matrix, t float64) Matrix {
	t = math.Max(0, math.Min(1, t))

	ax, ay, az := a.Translation()
	bx, by, bz := b.Translation()
	x := ax + (bx-ax)*t
	y := ay + (by-ay)*t
	z := az + (bz-az)*t

	return FromRotationTranslation(slerp(a.Rotation(), b.Rotation(), t), x, y, z)
}

func slerp(a, b quat.Number, t float64) quat.Number {
	dot := a.Real*b.Real + a.Imag*b.Imag + a.Jmag*b.Jmag + a.Kmag*b.Kmag
	if dot < 0 {
		b = quat.Scale(-1, b)
		dot = -dot
	}
	// Nearly parallel: fall back to normalised lerp.
	if dot > 0.9995 {
		return normalize(quat.Add(a, quat.Scale(t, quat.Sub(b, a))))
	}
	theta := math.Acos(dot)
	sinTheta := math.Sin(theta)
	wa := math.Sin((1-t)*theta) / sinTheta
	wb := math.Sin(t*theta) / sinTheta
	return quat.Add(quat.Scale(wa, a), quat.Scale(wb, b))
}

func normalize(q quat.Number) quat.Number {
	n := quat.Abs(q)
	if n == 0 {
		return quat.Number{Real: 1}
	}
	return quat.Scale(1/n, q)
}

// InPolygon reports whether (x, z) lies inside polygon, given as flattened
// x,z pairs in the plane's local frame. Uses the even-odd rule; points on
// an edge may fall either way.
func InPolygon(polygon []float64, x, z float64) bool {
	n := len(polygon) / 2
	if n < 3 {
		return false
	}
	inside := false
	for i, j := 0, n-1; i < n; j, i = i, i+1 {
		xi, zi := polygon[2*i], polygon[2*i+1]
		xj, zj := polygon[2*j], polygon[2*j+1]
		if (zi > z) != (zj > z) && x < (xj-xi)*(z-zi)/(zj-zi)+xi {
			inside = !inside
		}
	}
	return inside
}
