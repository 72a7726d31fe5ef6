// Package basis decomposes a diffusion precision matrix into a basis
// where it becomes diagonal or block-diagonal.
//
// A matrix A is represented as A = R·D·R⁻¹. The diffusion is
// independent along the basis directions with precision D (the
// symmetric part of every 2×2 block for block-diagonal bases), so
// the process precision is R⁻ᵗ·D·R⁻¹ and the process covariance is
// R·D⁻¹·Rᵗ. For a symmetric A these are A and A⁻¹.
package basis

import (
	"math"

	"github.com/gonum/blas"
	"github.com/gonum/blas/blas64"
	"github.com/gonum/matrix/mat64"
)

// BlockStructure describes the partition of a block-diagonal matrix.
type BlockStructure struct {
	Starts []int
	Sizes  []int
}

// Basis is an immutable decomposition of a matrix parameter. It is
// safe to share between nodes and goroutines; the slices and
// matrices returned by its methods must not be modified.
type Basis struct {
	dim    int
	d      []float64
	r      []float64
	rinv   []float64
	blocks *BlockStructure

	// process precision and covariance for the unit branch
	precision *mat64.SymDense
	variance  *mat64.SymDense
	logDet    float64
}

// newBasis computes derived quantities and validates the basis. The
// slices are owned by the new Basis.
func newBasis(dim int, d, r, rinv []float64, blocks *BlockStructure) (*Basis, error) {
	b := &Basis{
		dim:    dim,
		d:      d,
		r:      r,
		rinv:   rinv,
		blocks: blocks,
	}

	dsym, dinv := b.symmetricD()
	var p, s mat64.Dense
	if r == nil {
		p.Clone(dsym)
		s.Clone(dinv)
	} else {
		// rotate -> rescale -> inverse-rotate
		rm := mat64.NewDense(dim, dim, r)
		rinvm := mat64.NewDense(dim, dim, rinv)
		var tmp mat64.Dense
		tmp.Mul(dsym, rinvm)
		p.Mul(rinvm.T(), &tmp)
		tmp.Reset()
		tmp.Mul(dinv, rm.T())
		s.Mul(rm, &tmp)
	}
	b.precision = symmetrize(&p)
	b.variance = symmetrize(&s)

	var chol mat64.Cholesky
	if !chol.Factorize(b.precision) {
		return nil, &SingularMatrixError{Cond: math.Inf(1)}
	}
	b.logDet = chol.LogDet()
	return b, nil
}

// symmetricD returns the (block-)diagonal precision in the basis
// coordinates and its inverse.
func (b *Basis) symmetricD() (dsym, dinv *mat64.Dense) {
	n := b.dim
	dsym = mat64.NewDense(n, n, nil)
	dinv = mat64.NewDense(n, n, nil)
	if b.blocks == nil {
		for i, v := range b.d {
			dsym.Set(i, i, v)
			dinv.Set(i, i, 1/v)
		}
		return
	}
	for k, start := range b.blocks.Starts {
		switch b.blocks.Sizes[k] {
		case 1:
			v := b.d[start]
			dsym.Set(start, start, v)
			dinv.Set(start, start, 1/v)
		case 2:
			a, c, off := symmetricBlock(b.d, n, start)
			det := a*c - off*off
			dsym.Set(start, start, a)
			dsym.Set(start+1, start+1, c)
			dsym.Set(start, start+1, off)
			dsym.Set(start+1, start, off)
			dinv.Set(start, start, c/det)
			dinv.Set(start+1, start+1, a/det)
			dinv.Set(start, start+1, -off/det)
			dinv.Set(start+1, start, -off/det)
		}
	}
	return
}

// symmetricBlock returns diagonal entries and the symmetrized
// off-diagonal entry of the 2×2 block starting at start in the
// compressed [diagonal | upper | lower] representation.
func symmetricBlock(d []float64, n, start int) (a, c, off float64) {
	upper := d[n+start]
	lower := d[2*n-1+start]
	return d[start], d[start+1], (upper + lower) / 2
}

// symmetrize returns (m+mᵗ)/2 as a symmetric matrix.
func symmetrize(m *mat64.Dense) *mat64.SymDense {
	n, _ := m.Dims()
	s := mat64.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			s.SetSym(i, j, (m.At(i, j)+m.At(j, i))/2)
		}
	}
	return s
}

// Dim returns the trait dimension.
func (b *Basis) Dim() int {
	return b.dim
}

// Values returns the compressed diagonal representation: the
// eigenvalues (diagonal values) of length Dim, or for block-diagonal
// bases [diagonal | upper | lower] of length 3·Dim−2.
func (b *Basis) Values() []float64 {
	return b.d
}

// Rotation returns the row-major rotation matrix R, nil for the
// identity.
func (b *Basis) Rotation() []float64 {
	return b.r
}

// InverseRotation returns the row-major matrix R⁻¹, nil for the
// identity.
func (b *Basis) InverseRotation() []float64 {
	return b.rinv
}

// BlockStructure returns the block partition, nil unless the basis
// is block-diagonal.
func (b *Basis) BlockStructure() *BlockStructure {
	return b.blocks
}

// IsIdentity returns true if the rotation is the identity.
func (b *Basis) IsIdentity() bool {
	return b.r == nil
}

// IsDiagonal returns true if the process precision is diagonal in
// the trait coordinates, i.e. every dimension evolves independently.
func (b *Basis) IsDiagonal() bool {
	return b.r == nil && b.blocks == nil
}

// UnitPrecision returns the process precision for a branch of unit
// variance.
func (b *Basis) UnitPrecision() *mat64.SymDense {
	return b.precision
}

// UnitVariance returns the process covariance for a branch of unit
// variance.
func (b *Basis) UnitVariance() *mat64.SymDense {
	return b.variance
}

// Precision returns the process precision for a branch with the
// variance scale v > 0.
func (b *Basis) Precision(v float64) *mat64.SymDense {
	p := mat64.NewSymDense(b.dim, nil)
	p.ScaleSym(1/v, b.precision)
	return p
}

// Variance returns the process covariance for a branch with the
// variance scale v.
func (b *Basis) Variance(v float64) *mat64.SymDense {
	s := mat64.NewSymDense(b.dim, nil)
	s.ScaleSym(v, b.variance)
	return s
}

// LogDetPrecision returns the log-determinant of Precision(v).
func (b *Basis) LogDetPrecision(v float64) float64 {
	return b.logDet - float64(b.dim)*math.Log(v)
}

// Rotate writes the basis coordinates R⁻¹·x of the trait vector x
// to dst and returns it. dst is allocated if nil.
func (b *Basis) Rotate(dst, x []float64) []float64 {
	return b.mulVec(dst, b.rinv, x)
}

// Unrotate converts the basis coordinates y back to the trait
// coordinates R·y. dst is allocated if nil.
func (b *Basis) Unrotate(dst, y []float64) []float64 {
	return b.mulVec(dst, b.r, y)
}

func (b *Basis) mulVec(dst, m, x []float64) []float64 {
	if len(x) != b.dim {
		panic("basis: vector dimension mismatch")
	}
	if dst == nil {
		dst = make([]float64, b.dim)
	}
	if m == nil {
		copy(dst, x)
		return dst
	}
	a := blas64.General{Rows: b.dim, Cols: b.dim, Stride: b.dim, Data: m}
	blas64.Gemv(blas.NoTrans, 1, a, blas64.Vector{Inc: 1, Data: x}, 0, blas64.Vector{Inc: 1, Data: dst})
	return dst
}

// Matrix reconstructs the decomposed matrix R·D·R⁻¹.
func (b *Basis) Matrix() *mat64.Dense {
	n := b.dim
	d := mat64.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		d.Set(i, i, b.d[i])
	}
	if b.blocks != nil {
		for k, start := range b.blocks.Starts {
			if b.blocks.Sizes[k] == 2 {
				d.Set(start, start+1, b.d[n+start])
				d.Set(start+1, start, b.d[2*n-1+start])
			}
		}
	}
	if b.r == nil {
		return d
	}
	var tmp, res mat64.Dense
	tmp.Mul(d, mat64.NewDense(n, n, b.rinv))
	res.Mul(mat64.NewDense(n, n, b.r), &tmp)
	return &res
}
