package instrument

import (
	"math"

	"gonum.org/v1/gonum/num/quat"
)

// Vec3 is a Cartesian direction.
type Vec3 [3]float64

var (
	XAxis = Vec3{1, 0, 0}
	YAxis = Vec3{0, 1, 0}
	ZAxis = Vec3{0, 0, 1}
)

// Rotation returns the unit quaternion rotating by angle radians about axis.
func Rotation(axis Vec3, angle float64) quat.Number {
	n := math.Sqrt(axis[0]*axis[0] + axis[1]*axis[1] + axis[2]*axis[2])
	if n == 0 {
		return quat.Number{Real: 1}
	}
	s := math.Sin(angle/2) / n
	return quat.Number{
		Real: math.Cos(angle / 2),
		Imag: axis[0] * s,
		Jmag: axis[1] * s,
		Kmag: axis[2] * s,
	}
}

// Rotate applies the rotation q to v.
func Rotate(q quat.Number, v Vec3) Vec3 {
	p := quat.Number{Imag: v[0], Jmag: v[1], Kmag: v[2]}
	r := quat.Mul(quat.Mul(q, p), quat.Conj(q))
	return Vec3{r.Imag, r.Jmag, r.Kmag}
}

// Normalize scales q to unit length.
func Normalize(q quat.Number) quat.Number {
	n := quat.Abs(q)
	if n == 0 {
		return quat.Number{Real: 1}
	}
	return quat.Scale(1/n, q)
}

func mulAll(qs ...quat.Number) quat.Number {
	out := quat.Number{Real: 1}
	for _, q := range qs {
		out = quat.Mul(out, q)
	}
	return out
}
