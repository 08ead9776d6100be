// Package cg solves symmetric positive definite systems A x = b with the
// preconditioned conjugate gradient method. Operators are plain functions
// over flat vectors so that callers can implement them in any basis.
package cg

import (
	"fmt"
	"io"
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
)

// ErrNotConverged is returned (possibly wrapped) when the iteration cap is
// reached before the tolerance.
var ErrNotConverged = errors.New("conjugate gradient did not converge")

// Operator applies a linear map to x and returns a new vector
type Operator func(x []float64) []float64

// Identity is the trivial preconditioner
func Identity(x []float64) []float64 {
	return append([]float64(nil), x...)
}

// Result reports the outcome of a solve. Err is the final value of the
// convergence measure r.z / r0.z0.
type Result struct {
	X          []float64
	Iterations int
	Err        float64
}

// Solve runs preconditioned CG for a x = b starting from x0 (zero when nil)
// until r.z / r0.z0 drops below tol, where r0 is the residual of x0. A start
// close to the solution therefore still takes at least one step unless it
// solves the system exactly. A nil m means no preconditioning. When maxIter is reached first the current
// iterate is returned together with ErrNotConverged. If trace is not nil one
// line per iteration is written to it.
func Solve(a, m Operator, b, x0 []float64, tol float64, maxIter int, trace io.Writer) (Result, error) {
	n := len(b)
	if m == nil {
		m = Identity
	}
	if x0 != nil && len(x0) != n {
		return Result{}, errors.Errorf("Start vector has length %d, need %d", len(x0), n)
	}
	if !(tol > 0 && tol < 1) {
		return Result{}, errors.Errorf("Invalid tolerance %g", tol)
	}
	if maxIter < 1 {
		return Result{}, errors.Errorf("Invalid iteration cap %d", maxIter)
	}

	x := make([]float64, n)
	if x0 != nil {
		copy(x, x0)
	}

	bMb := floats.Dot(b, m(b))
	if bMb == 0 {
		// b is zero: so is the solution
		for i := range x {
			x[i] = 0
		}
		return Result{X: x, Iterations: 0, Err: 0}, nil
	}
	if bMb < 0 || math.IsNaN(bMb) {
		return Result{}, errors.Errorf("Preconditioner is not positive definite (b.Mb = %g)", bMb)
	}

	// r = b - A x
	r := append([]float64(nil), b...)
	floats.Sub(r, a(x))
	z := m(r)
	p := append([]float64(nil), z...)
	rz := floats.Dot(r, z)
	if rz == 0 {
		// x0 is the solution
		return Result{X: x, Iterations: 0, Err: 0}, nil
	}
	if rz < 0 || math.IsNaN(rz) {
		return Result{}, errors.Errorf("Preconditioner is not positive definite (r.Mr = %g)", rz)
	}
	rz0 := rz

	res := Result{X: x, Err: 1}
	for res.Err > tol {
		if res.Iterations >= maxIter {
			return res, errors.Wrapf(ErrNotConverged, "err %.3e after %d iterations", res.Err, res.Iterations)
		}

		ap := a(p)
		pAp := floats.Dot(p, ap)
		if pAp <= 0 || math.IsNaN(pAp) {
			return res, errors.Errorf("Operator is not positive definite (p.Ap = %g at iteration %d)", pAp, res.Iterations)
		}
		alpha := rz / pAp
		floats.AddScaled(x, alpha, p)
		floats.AddScaled(r, -alpha, ap)

		z = m(r)
		rzNew := floats.Dot(r, z)
		beta := rzNew / rz
		rz = rzNew

		// p = z + beta p
		floats.Scale(beta, p)
		floats.Add(p, z)

		res.Iterations++
		res.Err = rz / rz0
		if trace != nil {
			fmt.Fprintf(trace, "%5d %15.7e\n", res.Iterations, res.Err)
		}
	}

	return res, nil
}
