package calibrate

import (
	"math"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// lmProblem holds the parameter vector of a calibration: the intrinsics followed by six pose
// parameters (rotation vector then translation) per view.
type lmProblem struct {
	objectPoints [][]r3.Vector
	imagePoints  [][]r2.Point
	params       []float64
}

func (lp *lmProblem) setView(i int, rvec, tvec r3.Vector) {
	o := numIntrinsics + 6*i
	copy(lp.params[o:o+6], []float64{rvec.X, rvec.Y, rvec.Z, tvec.X, tvec.Y, tvec.Z})
}

func (lp *lmProblem) view(i int) (r3.Vector, r3.Vector) {
	return viewOf(lp.params, i)
}

func viewOf(params []float64, i int) (r3.Vector, r3.Vector) {
	o := numIntrinsics + 6*i
	return r3.Vector{X: params[o], Y: params[o+1], Z: params[o+2]},
		r3.Vector{X: params[o+3], Y: params[o+4], Z: params[o+5]}
}

// cost is the sum of squared reprojection errors.
func (lp *lmProblem) cost(params []float64) float64 {
	sum := 0.
	for i := range lp.objectPoints {
		rvec, tvec := viewOf(params, i)
		for k, p := range projectView(params, rvec, tvec, lp.objectPoints[i]) {
			d := p.Sub(lp.imagePoints[i][k])
			sum += d.Dot(d)
		}
	}
	return sum
}

func derivativeStep(v float64) float64 {
	return 1e-6 * math.Max(1, math.Abs(v))
}

// normalEquations builds JᵀJ and Jᵀr with a central difference Jacobian. Each residual only
// depends on the intrinsics and its own view, so the blocks are accumulated per point.
func (lp *lmProblem) normalEquations() (*mat.SymDense, *mat.VecDense) {
	n := len(lp.params)
	jtj := make([]float64, n*n)
	jtr := make([]float64, n)

	// d(projection)/d(intrinsic) for every point of every view
	intrinsicJac := make([][][numIntrinsics]r2.Point, len(lp.objectPoints))
	for i := range lp.objectPoints {
		intrinsicJac[i] = make([][numIntrinsics]r2.Point, len(lp.objectPoints[i]))
	}
	work := append([]float64(nil), lp.params...)
	for q := 0; q < numIntrinsics; q++ {
		h := derivativeStep(lp.params[q])
		work[q] = lp.params[q] + h
		plus := lp.projectAll(work)
		work[q] = lp.params[q] - h
		minus := lp.projectAll(work)
		work[q] = lp.params[q]
		for i := range plus {
			for k := range plus[i] {
				intrinsicJac[i][k][q] = plus[i][k].Sub(minus[i][k]).Mul(1 / (2 * h))
			}
		}
	}

	var idx [numIntrinsics + 6]int
	for q := 0; q < numIntrinsics; q++ {
		idx[q] = q
	}
	for i, obj := range lp.objectPoints {
		o := numIntrinsics + 6*i
		rvec, tvec := viewOf(lp.params, i)
		base := projectView(lp.params, rvec, tvec, obj)
		var viewJac [6][]r2.Point
		for q := 0; q < 6; q++ {
			h := derivativeStep(lp.params[o+q])
			work[o+q] = lp.params[o+q] + h
			r, t := viewOf(work, i)
			plus := projectView(work, r, t, obj)
			work[o+q] = lp.params[o+q] - h
			r, t = viewOf(work, i)
			minus := projectView(work, r, t, obj)
			work[o+q] = lp.params[o+q]
			viewJac[q] = make([]r2.Point, len(plus))
			for k := range plus {
				viewJac[q][k] = plus[k].Sub(minus[k]).Mul(1 / (2 * h))
			}
			idx[numIntrinsics+q] = o + q
		}

		var jx, jy [numIntrinsics + 6]float64
		for k := range base {
			res := base[k].Sub(lp.imagePoints[i][k])
			for q := 0; q < numIntrinsics; q++ {
				jx[q], jy[q] = intrinsicJac[i][k][q].X, intrinsicJac[i][k][q].Y
			}
			for q := 0; q < 6; q++ {
				jx[numIntrinsics+q], jy[numIntrinsics+q] = viewJac[q][k].X, viewJac[q][k].Y
			}
			for a, ia := range idx {
				jtr[ia] += jx[a]*res.X + jy[a]*res.Y
				for b, ib := range idx {
					jtj[ia*n+ib] += jx[a]*jx[b] + jy[a]*jy[b]
				}
			}
		}
	}
	return mat.NewSymDense(n, jtj), mat.NewVecDense(n, jtr)
}

func (lp *lmProblem) projectAll(params []float64) [][]r2.Point {
	out := make([][]r2.Point, len(lp.objectPoints))
	for i := range lp.objectPoints {
		rvec, tvec := viewOf(params, i)
		out[i] = projectView(params, rvec, tvec, lp.objectPoints[i])
	}
	return out
}

// solve runs Levenberg-Marquardt and returns the number of iterations used.
func (lp *lmProblem) solve(criteria TermCriteria) (int, error) {
	maxIter := criteria.MaxIter
	if maxIter <= 0 {
		maxIter = CalibrationCriteria.MaxIter
	}
	n := len(lp.params)
	lambda := 1e-3
	cost := lp.cost(lp.params)
	if math.IsNaN(cost) || math.IsInf(cost, 0) {
		return 0, errors.New("initial calibration estimate does not project")
	}

	iter := 0
	for iter < maxIter {
		iter++
		jtj, jtr := lp.normalEquations()

		accepted := false
		for attempt := 0; attempt < 10 && !accepted; attempt++ {
			damped := mat.NewDense(n, n, nil)
			damped.Copy(jtj)
			for d := 0; d < n; d++ {
				diag := jtj.At(d, d)
				if diag == 0 {
					diag = 1
				}
				damped.Set(d, d, diag*(1+lambda))
			}
			var step mat.VecDense
			if err := step.SolveVec(damped, jtr); err != nil {
				var cond mat.Condition
				if !errors.As(err, &cond) {
					lambda *= 10
					continue
				}
			}
			trial := make([]float64, n)
			for d := range trial {
				trial[d] = lp.params[d] - step.AtVec(d)
			}
			trialCost := lp.cost(trial)
			if math.IsNaN(trialCost) || trialCost >= cost {
				lambda *= 10
				continue
			}
			accepted = true
			change := relativeChange(lp.params, trial)
			lp.params = trial
			cost = trialCost
			lambda = math.Max(lambda/10, 1e-12)
			if change < criteria.Epsilon {
				return iter, nil
			}
		}
		if !accepted {
			// no downhill step left at any damping
			return iter, nil
		}
	}
	return iter, nil
}

// relativeChange is ‖b - a‖ / ‖a‖.
func relativeChange(a, b []float64) float64 {
	num, den := 0., 0.
	for i := range a {
		d := b[i] - a[i]
		num += d * d
		den += a[i] * a[i]
	}
	if den == 0 {
		return math.Sqrt(num)
	}
	return math.Sqrt(num / den)
}
