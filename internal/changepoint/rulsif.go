// Package changepoint scores abrupt distribution shifts between adjacent signal windows.
package changepoint

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// DefaultAlpha is the relative density-ratio mixing constant.
const DefaultAlpha = 0.1

// DefaultKernelNum caps the number of Gaussian kernel centres.
const DefaultKernelNum = 100

// Estimator computes a two-sample divergence of x against y. Rows are samples,
// columns are signal channels.
type Estimator interface {
	Divergence(x, y *mat.Dense) (float64, error)
}

// RuLSIF estimates the alpha-relative Pearson divergence with relative unconstrained
// least-squares importance fitting. Kernel width and regularisation are chosen by
// leave-one-out cross validation over SigmaRange x LambdaRange.
type RuLSIF struct {
	Alpha       float64
	SigmaRange  []float64
	LambdaRange []float64
	KernelNum   int
}

// NewRuLSIF returns an estimator with the grid used by the trained models:
// sigma and lambda both over logspace(-3, 1, 9).
func NewRuLSIF(alpha float64) *RuLSIF {
	return &RuLSIF{
		Alpha:       alpha,
		SigmaRange:  logspace(-3, 1, 9),
		LambdaRange: logspace(-3, 1, 9),
		KernelNum:   DefaultKernelNum,
	}
}

func logspace(start, stop float64, n int) []float64 {
	out := make([]float64, n)
	floats.LogSpan(out, math.Pow(10, start), math.Pow(10, stop))
	return out
}

// Divergence returns the alpha-relative PE divergence of x (numerator) against y.
func (r *RuLSIF) Divergence(x, y *mat.Dense) (float64, error) {
	nx, dx := x.Dims()
	ny, dy := y.Dims()
	if nx < 2 || ny < 2 {
		return 0, errors.New("rulsif: need at least two samples per side")
	}
	if dx != dy {
		return 0, fmt.Errorf("rulsif: dimension mismatch %d != %d", dx, dy)
	}
	if r.Alpha < 0 || r.Alpha >= 1 {
		return 0, fmt.Errorf("rulsif: alpha %v outside [0,1)", r.Alpha)
	}

	centers := r.centers(x)

	sigma, lambda := r.SigmaRange[0], r.LambdaRange[0]
	if len(r.SigmaRange) > 1 || len(r.LambdaRange) > 1 {
		var err error
		sigma, lambda, err = r.searchSigmaLambda(x, y, centers)
		if err != nil {
			return 0, err
		}
	}

	phiX := gaussianKernel(x, centers, sigma)
	phiY := gaussianKernel(y, centers, sigma)
	b, _ := centers.Dims()

	H := r.hMatrix(phiX, phiY)
	h := colMeans(phiX)

	for i := 0; i < b; i++ {
		H.Set(i, i, H.At(i, i)+lambda)
	}
	var theta mat.VecDense
	if err := solveVec(&theta, H, h); err != nil {
		return 0, fmt.Errorf("rulsif: solve theta: %w", err)
	}
	for i := 0; i < theta.Len(); i++ {
		if theta.AtVec(i) < 0 {
			theta.SetVec(i, 0)
		}
	}

	var gx, gy mat.VecDense
	gx.MulVec(phiX, &theta)
	gy.MulVec(phiY, &theta)

	gxs := gx.RawVector().Data
	gys := gy.RawVector().Data
	meanGx := floats.Sum(gxs) / float64(nx)
	meanGx2 := floats.Dot(gxs, gxs) / float64(nx)
	meanGy2 := floats.Dot(gys, gys) / float64(ny)

	return -r.Alpha*meanGx2/2 - (1-r.Alpha)*meanGy2/2 + meanGx - 0.5, nil
}

// centers picks kernel centres from x. All rows are used when they fit, otherwise
// rows are taken at an even stride so repeated calls agree.
func (r *RuLSIF) centers(x *mat.Dense) *mat.Dense {
	n, d := x.Dims()
	k := r.KernelNum
	if k <= 0 || k > n {
		k = n
	}
	if k == n {
		return mat.DenseCopyOf(x)
	}
	c := mat.NewDense(k, d, nil)
	for i := 0; i < k; i++ {
		c.SetRow(i, x.RawRowView(i*n/k))
	}
	return c
}

func (r *RuLSIF) hMatrix(phiX, phiY *mat.Dense) *mat.Dense {
	nx, b := phiX.Dims()
	ny, _ := phiY.Dims()

	var hx, hy mat.Dense
	hx.Mul(phiX.T(), phiX)
	hx.Scale(r.Alpha/float64(nx), &hx)
	hy.Mul(phiY.T(), phiY)
	hy.Scale((1-r.Alpha)/float64(ny), &hy)

	H := mat.NewDense(b, b, nil)
	H.Add(&hx, &hy)
	return H
}

// searchSigmaLambda runs closed-form leave-one-out cross validation.
func (r *RuLSIF) searchSigmaLambda(x, y, centers *mat.Dense) (float64, float64, error) {
	nx, _ := x.Dims()
	ny, _ := y.Dims()
	nMin := nx
	if ny < nMin {
		nMin = ny
	}
	b, _ := centers.Dims()
	fnx, fny := float64(nx), float64(ny)

	bestScore := math.Inf(1)
	bestSigma, bestLambda := r.SigmaRange[0], r.LambdaRange[0]

	for _, sigma := range r.SigmaRange {
		phiX := gaussianKernel(x, centers, sigma)
		phiY := gaussianKernel(y, centers, sigma)
		H := r.hMatrix(phiX, phiY)
		h := colMeans(phiX)

		// b x nMin views of the first nMin samples.
		px := mat.DenseCopyOf(phiX.Slice(0, nMin, 0, b).T())
		py := mat.DenseCopyOf(phiY.Slice(0, nMin, 0, b).T())

		hOnes := mat.NewDense(b, nMin, nil)
		for i := 0; i < b; i++ {
			for j := 0; j < nMin; j++ {
				hOnes.Set(i, j, h.AtVec(i))
			}
		}

		for _, lambda := range r.LambdaRange {
			B := mat.DenseCopyOf(H)
			for i := 0; i < b; i++ {
				B.Set(i, i, B.At(i, i)+lambda*(fny-1)/fny)
			}

			var bInvY mat.Dense
			if err := solveDense(&bInvY, B, py); err != nil {
				return 0, 0, fmt.Errorf("rulsif: loo solve: %w", err)
			}

			denom := make([]float64, nMin)
			hTerm := make([]float64, nMin)
			xTerm := make([]float64, nMin)
			for j := 0; j < nMin; j++ {
				var sy, sh, sx float64
				for k := 0; k < b; k++ {
					biy := bInvY.At(k, j)
					sy += py.At(k, j) * biy
					sh += h.AtVec(k) * biy
					sx += px.At(k, j) * biy
				}
				denom[j] = fny - sy
				hTerm[j] = sh / denom[j]
				xTerm[j] = sx / denom[j]
			}

			var b0, b1 mat.Dense
			if err := solveDense(&b0, B, hOnes); err != nil {
				return 0, 0, fmt.Errorf("rulsif: loo solve: %w", err)
			}
			if err := solveDense(&b1, B, px); err != nil {
				return 0, 0, fmt.Errorf("rulsif: loo solve: %w", err)
			}

			var score float64
			var sumRx float64
			for j := 0; j < nMin; j++ {
				var ry, rx float64
				for k := 0; k < b; k++ {
					v0 := b0.At(k, j) + bInvY.At(k, j)*hTerm[j]
					v1 := b1.At(k, j) + bInvY.At(k, j)*xTerm[j]
					v2 := (fny - 1) * (fnx*v0 - v1) / (fny * (fnx - 1))
					if v2 < 0 {
						v2 = 0
					}
					ry += py.At(k, j) * v2
					rx += px.At(k, j) * v2
				}
				score += ry * ry / 2
				sumRx += rx
			}
			score = (score - sumRx) / float64(nMin)

			if score < bestScore {
				bestScore, bestSigma, bestLambda = score, sigma, lambda
			}
		}
	}

	return bestSigma, bestLambda, nil
}

// gaussianKernel returns K[i][j] = exp(-|x_i - c_j|^2 / (2 sigma^2)).
func gaussianKernel(x, centers *mat.Dense, sigma float64) *mat.Dense {
	n, _ := x.Dims()
	b, _ := centers.Dims()
	k := mat.NewDense(n, b, nil)
	denom := 2 * sigma * sigma
	for i := 0; i < n; i++ {
		xi := x.RawRowView(i)
		for j := 0; j < b; j++ {
			cj := centers.RawRowView(j)
			var d2 float64
			for c := range xi {
				diff := xi[c] - cj[c]
				d2 += diff * diff
			}
			k.Set(i, j, math.Exp(-d2/denom))
		}
	}
	return k
}

func colMeans(m *mat.Dense) *mat.VecDense {
	n, c := m.Dims()
	out := mat.NewVecDense(c, nil)
	for j := 0; j < c; j++ {
		out.SetVec(j, mat.Sum(m.ColView(j))/float64(n))
	}
	return out
}

// solveDense and solveVec accept ill-conditioned systems; the regulariser keeps
// them positive definite, so only hard failures are reported.
func solveDense(dst *mat.Dense, a, b mat.Matrix) error {
	err := dst.Solve(a, b)
	var cond mat.Condition
	if errors.As(err, &cond) {
		return nil
	}
	return err
}

func solveVec(dst *mat.VecDense, a mat.Matrix, b mat.Vector) error {
	err := dst.SolveVec(a, b)
	var cond mat.Condition
	if errors.As(err, &cond) {
		return nil
	}
	return err
}
