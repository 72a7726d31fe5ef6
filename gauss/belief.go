package gauss

import (
	"math"
	"math/rand"

	"github.com/gonum/blas"
	"github.com/gonum/blas/blas64"
	"github.com/gonum/matrix/mat64"
)

// log2Pi is log(2π).
var log2Pi = math.Log(2 * math.Pi)

// Belief is a Gaussian likelihood message in the canonical form
//
//	exp(LogC − ½·xᵗ·Precision·x + Infoᵗ·x).
//
// The precision may be singular, in which case the belief carries no
// information on some of the directions.
type Belief struct {
	Precision *mat64.SymDense
	Info      []float64
	LogC      float64
}

// NodeBelief is a belief in the moment form.
type NodeBelief struct {
	// Mean is NaN for the dimensions without information.
	Mean      []float64
	Precision *mat64.SymDense
	// LogDet is the log-determinant of Precision, -Inf if it is
	// singular and +Inf for an observed tip.
	LogDet float64
}

func newBelief(dim int) Belief {
	return Belief{
		Precision: mat64.NewSymDense(dim, nil),
		Info:      make([]float64, dim),
	}
}

// add multiplies the belief by another one.
func (b *Belief) add(o Belief) {
	b.Precision.AddSym(b.Precision, o.Precision)
	for i, v := range o.Info {
		b.Info[i] += v
	}
	b.LogC += o.LogC
}

// isZero returns true if the belief does not depend on x.
func (b *Belief) isZero() bool {
	for _, v := range b.Info {
		if v != 0 {
			return false
		}
	}
	raw := b.Precision.RawSymmetric()
	for i := 0; i < raw.N; i++ {
		for _, v := range raw.Data[i*raw.Stride+i : i*raw.Stride+raw.N] {
			if v != 0 {
				return false
			}
		}
	}
	return true
}

// copySym returns a copy of a symmetric matrix.
func copySym(a *mat64.SymDense) *mat64.SymDense {
	c := mat64.NewSymDense(a.Symmetric(), nil)
	c.CopySym(a)
	return c
}

// copyBelief returns a deep copy of the belief.
func copyBelief(b Belief) Belief {
	n := len(b.Info)
	c := Belief{
		Precision: mat64.NewSymDense(n, nil),
		Info:      make([]float64, n),
		LogC:      b.LogC,
	}
	c.Precision.CopySym(b.Precision)
	copy(c.Info, b.Info)
	return c
}

// Moments converts the belief into the moment form. Dimensions with
// zero precision are excluded, their mean is NaN. The precision is a
// copy.
func (b Belief) Moments() NodeBelief {
	n := len(b.Info)
	nb := NodeBelief{
		Mean:      make([]float64, n),
		Precision: copySym(b.Precision),
		LogDet:    math.Inf(-1),
	}
	set := make([]int, 0, n)
	for i := 0; i < n; i++ {
		nb.Mean[i] = math.NaN()
		if b.Precision.At(i, i) > 0 {
			set = append(set, i)
		}
	}
	if len(set) == 0 {
		return nb
	}
	var sub mat64.SymDense
	sub.SubsetSym(b.Precision, set)
	f, ok := factorize(&sub)
	if !ok {
		return nb
	}
	info := make([]float64, len(set))
	for i, k := range set {
		info[i] = b.Info[k]
	}
	mean := f.solve(nil, info)
	for i, k := range set {
		nb.Mean[k] = mean[i]
	}
	if len(set) == n {
		nb.LogDet = f.logDet()
	}
	return nb
}

// Variance returns the covariance matrix of a belief with a positive
// definite precision.
func (nb NodeBelief) Variance() (*mat64.SymDense, error) {
	f, ok := factorize(nb.Precision)
	if !ok {
		return nil, ErrSingularPrecision
	}
	return f.inverse(), nil
}

// factor is a Cholesky factorization A = UᵗU.
type factor struct {
	chol mat64.Cholesky
	u    blas64.Triangular
}

// factorize computes the Cholesky factorization of a symmetric
// matrix. It returns false if the matrix is not positive definite.
func factorize(a mat64.Symmetric) (*factor, bool) {
	f := &factor{}
	if !f.chol.Factorize(a) {
		return nil, false
	}
	var u mat64.TriDense
	u.UFromCholesky(&f.chol)
	f.u = u.RawTriangular()
	return f, true
}

func (f *factor) logDet() float64 {
	return f.chol.LogDet()
}

// solve returns A⁻¹b. dst is allocated if nil.
func (f *factor) solve(dst, b []float64) []float64 {
	if dst == nil {
		dst = make([]float64, len(b))
	}
	copy(dst, b)
	x := blas64.Vector{Inc: 1, Data: dst}
	blas64.Trsv(blas.Trans, f.u, x)
	blas64.Trsv(blas.NoTrans, f.u, x)
	return dst
}

// inverse returns A⁻¹.
func (f *factor) inverse() *mat64.SymDense {
	var inv mat64.SymDense
	if err := inv.InverseCholesky(&f.chol); err != nil {
		log.Debugf("inverse of an ill-conditioned matrix: %v", err)
	}
	return &inv
}

// sampleWithPrecision adds to mean a draw from N(0, A⁻¹): x = mean + U⁻¹z.
func (f *factor) sampleWithPrecision(mean []float64, rng *rand.Rand) []float64 {
	z := make([]float64, len(mean))
	for i := range z {
		z[i] = rng.NormFloat64()
	}
	blas64.Trsv(blas.NoTrans, f.u, blas64.Vector{Inc: 1, Data: z})
	for i := range z {
		z[i] += mean[i]
	}
	return z
}

// sampleWithCovariance adds to mean a draw from N(0, scale²·A):
// x = mean + scale·Uᵗz.
func (f *factor) sampleWithCovariance(mean []float64, scale float64, rng *rand.Rand) []float64 {
	z := make([]float64, len(mean))
	for i := range z {
		z[i] = rng.NormFloat64()
	}
	blas64.Trmv(blas.Trans, f.u, blas64.Vector{Inc: 1, Data: z})
	for i := range z {
		z[i] = mean[i] + scale*z[i]
	}
	return z
}

// symMulVec returns a·x.
func symMulVec(a mat64.Symmetric, x []float64) []float64 {
	var v mat64.Vector
	v.MulVec(a, mat64.NewVector(len(x), x))
	res := make([]float64, len(x))
	for i := range res {
		res[i] = v.At(i, 0)
	}
	return res
}

// quadForm returns xᵗ·a·x.
func quadForm(a mat64.Symmetric, x []float64) float64 {
	return dot(x, symMulVec(a, x))
}

func dot(x, y []float64) float64 {
	return blas64.Dot(len(x), blas64.Vector{Inc: 1, Data: x}, blas64.Vector{Inc: 1, Data: y})
}

// mulSym returns a·b·a as a symmetric matrix.
func mulSym(a, b mat64.Symmetric) *mat64.SymDense {
	var tmp, res mat64.Dense
	tmp.Mul(b, a)
	res.Mul(a, &tmp)
	n, _ := res.Dims()
	s := mat64.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			s.SetSym(i, j, (res.At(i, j)+res.At(j, i))/2)
		}
	}
	return s
}
