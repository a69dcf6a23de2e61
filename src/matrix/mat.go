package matrix

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

/*
Diagnostics for filter covariance matrices. The filter itself works on
fixed-size arrays; these helpers lift them into gonum types so the checks
can use the general decompositions.
*/

var ErrFactorize = errors.New("eigendecomposition did not converge")

// FromArray copies a 2x2 array into a SymDense, averaging the off-diagonal
// terms.
func FromArray(p [2][2]float64) *mat.SymDense {
	off := 0.5 * (p[0][1] + p[1][0])
	return mat.NewSymDense(2, []float64{
		p[0][0], off,
		off, p[1][1],
	})
}

// Dense copies a 2x2 array into a Dense without any symmetrisation.
func Dense(p [2][2]float64) *mat.Dense {
	return mat.NewDense(2, 2, []float64{
		p[0][0], p[0][1],
		p[1][0], p[1][1],
	})
}

// IsSymmetric reports whether m is square and m[i][j] matches m[j][i]
// within tol, scaled by the magnitude of the entries.
func IsSymmetric(m mat.Matrix, tol float64) bool {
	r, c := m.Dims()
	if r != c {
		return false
	}
	for i := 0; i < r; i++ {
		for j := i + 1; j < c; j++ {
			a, b := m.At(i, j), m.At(j, i)
			scale := math.Max(1, math.Max(math.Abs(a), math.Abs(b)))
			if math.Abs(a-b) > tol*scale {
				return false
			}
		}
	}
	return true
}

// Eigenvalues returns the eigenvalues of m in ascending order.
func Eigenvalues(m mat.Symmetric) ([]float64, error) {
	var eig mat.EigenSym
	if ok := eig.Factorize(m, false); !ok {
		return nil, ErrFactorize
	}
	return eig.Values(nil), nil
}

// IsPSD reports whether every eigenvalue of m is at least -tol.
func IsPSD(m mat.Symmetric, tol float64) (bool, error) {
	if m == nil {
		panic(fmt.Errorf("input matrix is nil"))
	}
	vals, err := Eigenvalues(m)
	if err != nil {
		return false, err
	}
	for _, v := range vals {
		if math.IsNaN(v) || v < -tol {
			return false, nil
		}
	}
	return true, nil
}

// Condition returns the 2-norm condition number of m. Singular matrices
// report +Inf.
func Condition(m mat.Matrix) float64 {
	return mat.Cond(m, 2)
}
