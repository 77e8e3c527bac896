package transformer

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// LayerNorm normalizes each column (one position) to zero mean and unit
// variance, then applies a learned affine gamma/beta. Gamma and beta live in
// the model's parameter registry; the struct only keeps their slots.
type LayerNorm struct {
	D   int
	Eps float64

	Gamma *mat.Dense // (d x 1)
	Beta  *mat.Dense // (d x 1)

	iGamma, iBeta int

	// caches from the last Forward
	xhat   *mat.Dense // (d x T)
	invStd []float64  // per column
}

func (ln *LayerNorm) Forward(X *mat.Dense) *mat.Dense {
	d, T := X.Dims()
	out := mat.NewDense(d, T, nil)
	xhat := mat.NewDense(d, T, nil)
	inv := make([]float64, T)
	for t := 0; t < T; t++ {
		mu := 0.0
		for i := 0; i < d; i++ {
			mu += X.At(i, t)
		}
		mu /= float64(d)
		var v float64
		for i := 0; i < d; i++ {
			diff := X.At(i, t) - mu
			v += diff * diff
		}
		v /= float64(d)
		istd := 1.0 / math.Sqrt(v+ln.Eps)
		inv[t] = istd
		for i := 0; i < d; i++ {
			n := (X.At(i, t) - mu) * istd
			xhat.Set(i, t, n)
			out.Set(i, t, ln.Gamma.At(i, 0)*n+ln.Beta.At(i, 0))
		}
	}
	ln.xhat = xhat
	ln.invStd = inv
	return out
}

// Backward accumulates gamma/beta gradients into g and returns dX.
func (ln *LayerNorm) Backward(dY *mat.Dense, g Grads) *mat.Dense {
	d, T := dY.Dims()
	dGamma := g[ln.iGamma]
	dBeta := g[ln.iBeta]
	for i := 0; i < d; i++ {
		sumDG := 0.0
		sumDB := 0.0
		for t := 0; t < T; t++ {
			sumDG += dY.At(i, t) * ln.xhat.At(i, t)
			sumDB += dY.At(i, t)
		}
		dGamma.Set(i, 0, dGamma.At(i, 0)+sumDG)
		dBeta.Set(i, 0, dBeta.At(i, 0)+sumDB)
	}

	dX := mat.NewDense(d, T, nil)
	for t := 0; t < T; t++ {
		istd := ln.invStd[t]
		sum1 := 0.0
		sum2 := 0.0
		for i := 0; i < d; i++ {
			gy := dY.At(i, t) * ln.Gamma.At(i, 0)
			sum1 += gy
			sum2 += gy * ln.xhat.At(i, t)
		}
		for i := 0; i < d; i++ {
			gy := dY.At(i, t) * ln.Gamma.At(i, 0)
			dxi := (float64(d)*gy - sum1 - ln.xhat.At(i, t)*sum2) * (istd / float64(d))
			dX.Set(i, t, dxi)
		}
	}
	return dX
}
