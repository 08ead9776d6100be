package cg

import (
	"bytes"
	"math"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"gonum.org/v1/gonum/mat"
)

// spd returns a well defined symmetric positive definite test matrix
func spd(n int) *mat.SymDense {
	a := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		a.SetSym(i, i, float64(n+i))
		if i+1 < n {
			a.SetSym(i, i+1, 1)
		}
		if i+3 < n {
			a.SetSym(i, i+3, 0.5)
		}
	}
	return a
}

func matOp(a mat.Matrix) Operator {
	return func(x []float64) []float64 {
		var y mat.VecDense
		y.MulVec(a, mat.NewVecDense(len(x), append([]float64(nil), x...)))
		return y.RawVector().Data
	}
}

func TestSolveMatchesDirect(t *testing.T) {
	assert := assert.New(t)

	const n = 12
	a := spd(n)
	b := make([]float64, n)
	for i := range b {
		b[i] = float64(i%4) - 1.5
	}

	res, err := Solve(matOp(a), nil, b, nil, 1e-18, 100, nil)
	assert.NoError(err)
	assert.True(res.Iterations <= 2*n)

	var chol mat.Cholesky
	assert.True(chol.Factorize(a))
	var want mat.VecDense
	assert.NoError(chol.SolveVecTo(&want, mat.NewVecDense(n, b)))
	assert.InDeltaSlice(want.RawVector().Data, res.X, 1e-8)
}

func TestSolvePreconditioned(t *testing.T) {
	assert := assert.New(t)

	const n = 40
	a := spd(n)
	// Jacobi preconditioner
	jacobi := func(x []float64) []float64 {
		y := make([]float64, len(x))
		for i, v := range x {
			y[i] = v / a.At(i, i)
		}
		return y
	}
	b := make([]float64, n)
	for i := range b {
		b[i] = 1
	}

	plain, err := Solve(matOp(a), nil, b, nil, 1e-12, 500, nil)
	assert.NoError(err)
	prec, err := Solve(matOp(a), jacobi, b, nil, 1e-12, 500, nil)
	assert.NoError(err)
	assert.InDeltaSlice(plain.X, prec.X, 1e-5)
	assert.True(prec.Err <= 1e-12)
}

func TestSolveZeroRHS(t *testing.T) {
	assert := assert.New(t)

	a := spd(5)
	res, err := Solve(matOp(a), nil, make([]float64, 5), []float64{1, 2, 3, 4, 5}, 1e-6, 10, nil)
	assert.NoError(err)
	assert.Equal(0, res.Iterations)
	assert.Equal(make([]float64, 5), res.X)
}

func directSolve(t *testing.T, a *mat.SymDense, b []float64) []float64 {
	var chol mat.Cholesky
	if !chol.Factorize(a) {
		t.Fatalf("test matrix is not positive definite")
	}
	var x mat.VecDense
	if err := chol.SolveVecTo(&x, mat.NewVecDense(len(b), b)); err != nil {
		t.Fatalf("direct solve failed: %v", err)
	}
	return x.RawVector().Data
}

func TestSolveWarmStart(t *testing.T) {
	assert := assert.New(t)

	a := spd(8)
	b := []float64{1, 0, 2, 0, 3, 0, 4, 0}
	prev, err := Solve(matOp(a), nil, b, nil, 1e-14, 100, nil)
	assert.NoError(err)

	// Start the next system from the previous solution
	b2 := []float64{1, 0.5, 2, 0, 3, -0.5, 4, 0}
	warm, err := Solve(matOp(a), nil, b2, prev.X, 1e-14, 100, nil)
	assert.NoError(err)
	assert.True(warm.Iterations >= 1)
	assert.InDeltaSlice(directSolve(t, a, b2), warm.X, 1e-8)

	// A start with zero residual needs no step at all
	x0 := []float64{1, 2, 3, 4, 5, 6, 7, 8}
	exact, err := Solve(matOp(a), nil, matOp(a)(x0), x0, 1e-6, 100, nil)
	assert.NoError(err)
	assert.Equal(0, exact.Iterations)
	assert.Equal(x0, exact.X)
}

func TestSolveStartNearSolution(t *testing.T) {
	assert := assert.New(t)

	const n = 10
	a := spd(n)
	b := make([]float64, n)
	for i := range b {
		b[i] = 100 * float64(i+1)
	}
	want := directSolve(t, a, b)

	// The start is off in one entry by far less than the size of b: relative
	// to b it already looks converged, relative to its own residual it does
	// not.
	x0 := append([]float64(nil), want...)
	x0[3] += 1e-3
	res, err := Solve(matOp(a), nil, b, x0, 1e-6, 100, nil)
	assert.NoError(err)
	assert.True(res.Iterations >= 1)
	assert.True(math.Abs(res.X[3]-want[3]) < 1e-5, "error %g", res.X[3]-want[3])
}

func TestSolveNotConverged(t *testing.T) {
	assert := assert.New(t)

	a := spd(30)
	b := make([]float64, 30)
	for i := range b {
		b[i] = float64(i)
	}
	var trace bytes.Buffer
	res, err := Solve(matOp(a), nil, b, nil, 1e-30, 2, &trace)
	assert.Error(err)
	assert.True(errors.Is(err, ErrNotConverged))
	assert.Equal(2, res.Iterations)
	assert.Len(res.X, 30)
	assert.Equal(2, strings.Count(trace.String(), "\n"))
}

func TestSolveBadInput(t *testing.T) {
	assert := assert.New(t)

	a := spd(3)
	_, err := Solve(matOp(a), nil, []float64{1, 2, 3}, []float64{1}, 1e-6, 10, nil)
	assert.Error(err)
	_, err = Solve(matOp(a), nil, []float64{1, 2, 3}, nil, 1e-6, 0, nil)
	assert.Error(err)
	_, err = Solve(matOp(a), nil, []float64{1, 2, 3}, nil, 0, 10, nil)
	assert.Error(err)
	_, err = Solve(matOp(a), nil, []float64{1, 2, 3}, nil, 1, 10, nil)
	assert.Error(err)

	neg := func(x []float64) []float64 {
		y := make([]float64, len(x))
		for i, v := range x {
			y[i] = -v
		}
		return y
	}
	_, err = Solve(neg, nil, []float64{1, 2, 3}, nil, 1e-6, 10, nil)
	assert.Error(err)
}

func BenchmarkSolve(b *testing.B) {
	const n = 200
	a := spd(n)
	rhs := make([]float64, n)
	for i := range rhs {
		rhs[i] = float64(i % 7)
	}
	op := matOp(a)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := Solve(op, nil, rhs, nil, 1e-10, 1000, nil); err != nil {
			b.Fatalf("Solve failed: %v", err)
		}
	}
}
