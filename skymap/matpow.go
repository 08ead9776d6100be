package skymap

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// MatPow raises the n x n symmetric matrix m (row-major) to the power exp
// through its eigen decomposition. Non-positive eigenvalues contribute zero,
// so a singular covariance yields a pseudo power rather than infinities.
func MatPow(m []float64, n int, exp float64) []float64 {
	res := make([]float64, n*n)
	if n == 1 {
		res[0] = scalarPow(m[0], exp)
		return res
	}

	sym := mat.NewSymDense(n, append([]float64(nil), m...))
	var eig mat.EigenSym
	if ok := eig.Factorize(sym, true); !ok {
		return res
	}
	vals := eig.Values(nil)
	var vecs mat.Dense
	eig.VectorsTo(&vecs)

	for k, e := range vals {
		w := scalarPow(e, exp)
		if w == 0 {
			continue
		}
		for i := 0; i < n; i++ {
			vi := vecs.At(i, k) * w
			for j := 0; j < n; j++ {
				res[i*n+j] += vi * vecs.At(j, k)
			}
		}
	}
	return res
}

func scalarPow(v, exp float64) float64 {
	if v <= 0 || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	r := math.Pow(v, exp)
	if math.IsNaN(r) || math.IsInf(r, 0) {
		return 0
	}
	return r
}
