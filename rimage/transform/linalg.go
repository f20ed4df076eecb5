package transform

import (
	"math"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// normalizePoints translates the points so their centroid is the origin and scales them so the
// mean distance to the origin is sqrt(2). It returns the normalized points and the 3x3 transform.
func normalizePoints(pts []r2.Point) ([]r2.Point, *mat.Dense, error) {
	var center r2.Point
	for _, p := range pts {
		center = center.Add(p)
	}
	center = center.Mul(1 / float64(len(pts)))

	meanDist := 0.
	for _, p := range pts {
		meanDist += p.Sub(center).Norm()
	}
	meanDist /= float64(len(pts))
	if meanDist == 0 {
		return nil, nil, errors.New("cannot normalize coincident points")
	}
	scale := math.Sqrt2 / meanDist

	out := make([]r2.Point, len(pts))
	for i, p := range pts {
		out[i] = p.Sub(center).Mul(scale)
	}
	t := mat.NewDense(3, 3, []float64{
		scale, 0, -scale * center.X,
		0, scale, -scale * center.Y,
		0, 0, 1,
	})
	return out, t, nil
}

// performSVD factorizes m = U * S * Vt and returns U, V and the singular values in decreasing order.
func performSVD(m mat.Matrix) (*mat.Dense, *mat.Dense, []float64, error) {
	var svd mat.SVD
	if ok := svd.Factorize(m, mat.SVDFull); !ok {
		return nil, nil, nil, errors.New("svd factorization failed")
	}
	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)
	return &u, &v, svd.Values(nil), nil
}
