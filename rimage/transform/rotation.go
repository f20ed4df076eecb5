package transform

import (
	"math"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"
)

// RotationMatrix is a row-major 3x3 rotation.
type RotationMatrix [3][3]float64

// Apply rotates the vector.
func (r RotationMatrix) Apply(v r3.Vector) r3.Vector {
	return r3.Vector{
		X: r[0][0]*v.X + r[0][1]*v.Y + r[0][2]*v.Z,
		Y: r[1][0]*v.X + r[1][1]*v.Y + r[1][2]*v.Z,
		Z: r[2][0]*v.X + r[2][1]*v.Y + r[2][2]*v.Z,
	}
}

// Dense returns the rotation as a gonum matrix.
func (r RotationMatrix) Dense() *mat.Dense {
	m := mat.NewDense(3, 3, nil)
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			m.Set(i, j, r[i][j])
		}
	}
	return m
}

// RotationMatrixFromVector converts an axis-angle vector (direction is the axis, norm the angle
// in radians) to a rotation matrix with the Rodrigues formula.
func RotationMatrixFromVector(rvec r3.Vector) RotationMatrix {
	theta := rvec.Norm()
	if theta < 1e-12 {
		return RotationMatrix{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}}
	}
	k := rvec.Mul(1 / theta)
	c, s := math.Cos(theta), math.Sin(theta)
	t := 1 - c
	return RotationMatrix{
		{c + k.X*k.X*t, k.X*k.Y*t - k.Z*s, k.X*k.Z*t + k.Y*s},
		{k.Y*k.X*t + k.Z*s, c + k.Y*k.Y*t, k.Y*k.Z*t - k.X*s},
		{k.Z*k.X*t - k.Y*s, k.Z*k.Y*t + k.X*s, c + k.Z*k.Z*t},
	}
}

// Vector converts the rotation back to its axis-angle form with an angle in [0, pi].
func (r RotationMatrix) Vector() r3.Vector {
	cosTheta := (r[0][0] + r[1][1] + r[2][2] - 1) / 2
	cosTheta = math.Max(-1, math.Min(1, cosTheta))
	theta := math.Acos(cosTheta)
	axis := r3.Vector{X: r[2][1] - r[1][2], Y: r[0][2] - r[2][0], Z: r[1][0] - r[0][1]}

	switch {
	case theta < 1e-9:
		return axis.Mul(0.5)
	case math.Pi-theta < 1e-6:
		// sin(theta) vanishes, recover the axis from the symmetric part R = 2nn^T - I
		diag := []float64{r[0][0], r[1][1], r[2][2]}
		i := 0
		for j := 1; j < 3; j++ {
			if diag[j] > diag[i] {
				i = j
			}
		}
		var n [3]float64
		n[i] = math.Sqrt(math.Max(0, (diag[i]+1)/2))
		for j := 0; j < 3; j++ {
			if j != i {
				n[j] = (r[i][j] + r[j][i]) / (4 * n[i])
			}
		}
		return r3.Vector{X: n[0], Y: n[1], Z: n[2]}.Normalize().Mul(theta)
	default:
		return axis.Mul(theta / (2 * math.Sin(theta)))
	}
}

// NearestRotation returns the rotation closest in Frobenius norm to the 3x3 matrix m.
func NearestRotation(m mat.Matrix) (RotationMatrix, error) {
	u, v, _, err := performSVD(m)
	if err != nil {
		return RotationMatrix{}, err
	}
	var rot mat.Dense
	rot.Mul(u, v.T())
	if mat.Det(&rot) < 0 {
		// flip the last column of U so the result is proper
		for i := 0; i < 3; i++ {
			u.Set(i, 2, -u.At(i, 2))
		}
		rot.Mul(u, v.T())
	}
	var out RotationMatrix
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			out[i][j] = rot.At(i, j)
		}
	}
	return out, nil
}
