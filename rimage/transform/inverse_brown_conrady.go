package transform

// InverseBrownConrady applies the inverse of the Brown-Conrady distortion model.
// Given distorted points, it computes the corresponding undistorted points using
// an iterative Newton-Raphson method.
type InverseBrownConrady struct {
	Forward BrownConrady `json:"forward"`
}

// CheckValid checks if the fields for InverseBrownConrady have valid inputs.
func (ibc *InverseBrownConrady) CheckValid() error {
	if ibc == nil {
		return InvalidDistortionError("InverseBrownConrady shaped distortion_parameters not provided")
	}
	return ibc.Forward.CheckValid()
}

// NewInverseBrownConrady takes the forward k1, k2, p1, p2, k3 coefficients.
func NewInverseBrownConrady(inp []float64) (*InverseBrownConrady, error) {
	bc, err := NewBrownConrady(inp)
	if err != nil {
		return nil, err
	}
	return bc.Inverse(), nil
}

// ModelType returns the type of distortion model.
func (ibc *InverseBrownConrady) ModelType() DistortionType {
	return InverseBrownConradyDistortionType
}

// Parameters returns the forward coefficients as k1, k2, p1, p2, k3.
func (ibc *InverseBrownConrady) Parameters() []float64 {
	if ibc == nil {
		return []float64{}
	}
	return ibc.Forward.Parameters()
}

// Transform converts distorted normalized coordinates to undistorted ones, solving the forward
// model for (x_u, y_u) given (x_d, y_d).
func (ibc *InverseBrownConrady) Transform(xd, yd float64) (float64, float64) {
	if ibc == nil {
		return xd, yd
	}
	k1, k2, k3 := ibc.Forward.RadialK1, ibc.Forward.RadialK2, ibc.Forward.RadialK3
	p1, p2 := ibc.Forward.TangentialP1, ibc.Forward.TangentialP2

	// Start with the distorted point as initial guess
	xu, yu := xd, yd

	const maxIterations = 20
	const tolerance = 1e-10

	for i := 0; i < maxIterations; i++ {
		xdEst, ydEst := ibc.Forward.Transform(xu, yu)
		errX := xdEst - xd
		errY := ydEst - yd
		if errX*errX+errY*errY < tolerance*tolerance {
			break
		}

		r2 := xu*xu + yu*yu
		r4 := r2 * r2
		radDist := 1.0 + k1*r2 + k2*r4 + k3*r4*r2

		// J = [[dxd/dxu, dxd/dyu], [dyd/dxu, dyd/dyu]]
		dRad := 2.0 * (k1 + 2.0*k2*r2 + 3.0*k3*r4)
		dxdDxu := radDist + xu*xu*dRad + 2.0*p1*yu + 6.0*p2*xu
		dxdDyu := xu*yu*dRad + 2.0*p1*xu + 2.0*p2*yu
		dydDxu := xu*yu*dRad + 2.0*p1*xu + 2.0*p2*yu
		dydDyu := radDist + yu*yu*dRad + 6.0*p1*yu + 2.0*p2*xu

		det := dxdDxu*dydDyu - dxdDyu*dydDxu
		if det == 0 {
			break
		}

		// [xu, yu] -= J^-1 * [errX, errY]
		xu -= (dydDyu*errX - dxdDyu*errY) / det
		yu -= (-dydDxu*errX + dxdDxu*errY) / det
	}

	return xu, yu
}
