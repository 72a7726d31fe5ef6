package basis

import (
	"math"

	"github.com/gonum/matrix"
	"github.com/gonum/matrix/mat64"
)

// symmetryTolerance is the maximum deviation from orthonormality
// accepted for the eigenvectors of a symmetric decomposed matrix.
const symmetryTolerance = 1e-8

// Strategy decomposes matrix parameters of one structural kind. It is
// a stateless value; the zero value is the diagonal strategy.
type Strategy struct {
	Kind Kind
	// Symmetric selects the transpose (instead of the inverse) of
	// the eigenvectors for General and Decomposed strategies.
	Symmetric bool
}

// Predefined strategies.
var (
	DiagonalStrategy        = Strategy{Kind: Diagonal, Symmetric: true}
	BlockDiagonalStrategy   = Strategy{Kind: BlockDiagonal}
	SymmetricEigenStrategy  = Strategy{Kind: General, Symmetric: true}
	AsymmetricEigenStrategy = Strategy{Kind: General}
	SymmetricDecomposed     = Strategy{Kind: Decomposed, Symmetric: true}
	AsymmetricDecomposed    = Strategy{Kind: Decomposed}
)

// StrategyFor returns the cheapest strategy for the declared
// structure of a matrix parameter.
func StrategyFor(p *MatrixParameter) Strategy {
	switch p.Kind {
	case Diagonal:
		return DiagonalStrategy
	case BlockDiagonal:
		return BlockDiagonalStrategy
	}
	return Strategy{Kind: p.Kind, Symmetric: p.Symmetric}
}

// IsDiagonal returns true if the basis is always the identity.
func (s Strategy) IsDiagonal() bool {
	return s.Kind == Diagonal
}

// IsSymmetric returns true if the rotation is orthonormal.
func (s Strategy) IsSymmetric() bool {
	return s.Kind == Diagonal || s.Symmetric
}

// IsBlockDiagonal returns true for the block-diagonal strategy.
func (s Strategy) IsBlockDiagonal() bool {
	return s.Kind == BlockDiagonal
}

// String returns a strategy description.
func (s Strategy) String() string {
	switch {
	case s.Kind == Diagonal || s.Kind == BlockDiagonal:
		return s.Kind.String()
	case s.Symmetric:
		return "symmetric " + s.Kind.String()
	}
	return "asymmetric " + s.Kind.String()
}

// ComputeBasis decomposes the matrix parameter. It never modifies p
// and keeps no reference to its slices.
func (s Strategy) ComputeBasis(p *MatrixParameter) (*Basis, error) {
	if p.Kind != s.Kind {
		return nil, &StructuralMismatchError{Strategy: s.Kind, Matrix: p.Kind}
	}
	switch s.Kind {
	case Diagonal:
		return diagonalBasis(p)
	case BlockDiagonal:
		return blockDiagonalBasis(p)
	case General:
		return s.eigenBasis(p)
	case Decomposed:
		return s.decomposedBasis(p)
	}
	return nil, &StructuralMismatchError{Strategy: s.Kind, Matrix: p.Kind, Reason: "unknown structure"}
}

// diagonalBasis uses the diagonal values as they are. O(dim).
func diagonalBasis(p *MatrixParameter) (*Basis, error) {
	if len(p.Values) != p.Dim {
		return nil, &StructuralMismatchError{Strategy: Diagonal, Matrix: p.Kind, Reason: "wrong number of values"}
	}
	if err := checkPositive(p.Values); err != nil {
		return nil, err
	}
	d := make([]float64, p.Dim)
	copy(d, p.Values)
	return newBasis(p.Dim, d, nil, nil, nil)
}

// blockDiagonalBasis assembles the compressed representation and the
// rotation from the blocks. The inverse rotation is computed block by
// block, so entries outside of the blocks are exactly zero.
func blockDiagonalBasis(p *MatrixParameter) (*Basis, error) {
	n := p.Dim
	d := make([]float64, 3*n-2)
	r := make([]float64, n*n)
	rinv := make([]float64, n*n)
	bs := &BlockStructure{
		Starts: make([]int, len(p.Blocks)),
		Sizes:  make([]int, len(p.Blocks)),
	}

	start := 0
	for k := range p.Blocks {
		b := &p.Blocks[k]
		size := b.Size()
		if start+size > n {
			return nil, &StructuralMismatchError{Strategy: BlockDiagonal, Matrix: p.Kind, Reason: "blocks exceed dimension"}
		}
		bs.Starts[k] = start
		bs.Sizes[k] = size
		switch size {
		case 1:
			if !(b.Diagonal[0] > 0) {
				return nil, &InvalidSelectionMatrixError{
					Eigenvalues: []complex128{complex(b.Diagonal[0], 0)},
					Reason:      "non-positive diagonal block",
				}
			}
			d[start] = b.Diagonal[0]
			rot := 1.0
			if b.Rotation != nil {
				rot = b.Rotation[0]
			}
			if rot == 0 {
				return nil, &SingularMatrixError{Cond: math.Inf(1)}
			}
			r[start*n+start] = rot
			rinv[start*n+start] = 1 / rot
		case 2:
			if err := checkBlock(b); err != nil {
				return nil, err
			}
			d[start] = b.Diagonal[0]
			d[start+1] = b.Diagonal[1]
			d[n+start] = b.Upper
			d[2*n-1+start] = b.Lower
			rot := [4]float64{1, 0, 0, 1}
			if b.Rotation != nil {
				copy(rot[:], b.Rotation)
			}
			det := rot[0]*rot[3] - rot[1]*rot[2]
			if det == 0 {
				return nil, &SingularMatrixError{Cond: math.Inf(1)}
			}
			r[start*n+start] = rot[0]
			r[start*n+start+1] = rot[1]
			r[(start+1)*n+start] = rot[2]
			r[(start+1)*n+start+1] = rot[3]
			rinv[start*n+start] = rot[3] / det
			rinv[start*n+start+1] = -rot[1] / det
			rinv[(start+1)*n+start] = -rot[2] / det
			rinv[(start+1)*n+start+1] = rot[0] / det
		default:
			return nil, &StructuralMismatchError{Strategy: BlockDiagonal, Matrix: p.Kind, Reason: "unsupported block size"}
		}
		start += size
	}
	if start != n {
		return nil, &StructuralMismatchError{Strategy: BlockDiagonal, Matrix: p.Kind, Reason: "blocks do not cover dimension"}
	}
	return newBasis(n, d, r, rinv, bs)
}

// checkBlock checks that the symmetric part of a 2×2 block is
// positive definite, which implies eigenvalues with positive real
// parts.
func checkBlock(b *Block) error {
	a, c := b.Diagonal[0], b.Diagonal[1]
	off := (b.Upper + b.Lower) / 2
	if a > 0 && a*c-off*off > 0 {
		return nil
	}
	tr := a + c
	det := a*c - b.Upper*b.Lower
	disc := complexSqrt(tr*tr/4 - det)
	return &InvalidSelectionMatrixError{
		Eigenvalues: []complex128{complex(tr/2, 0) + disc, complex(tr/2, 0) - disc},
		Reason:      "block is not positive definite",
	}
}

func complexSqrt(x float64) complex128 {
	if x >= 0 {
		return complex(math.Sqrt(x), 0)
	}
	return complex(0, math.Sqrt(-x))
}

// eigenBasis performs the eigendecomposition of a dense matrix.
func (s Strategy) eigenBasis(p *MatrixParameter) (*Basis, error) {
	n := p.Dim
	if len(p.Values) != n*n {
		return nil, &StructuralMismatchError{Strategy: General, Matrix: p.Kind, Reason: "wrong number of values"}
	}
	if s.Symmetric {
		if !isSymmetric(n, p.Values) {
			return nil, &StructuralMismatchError{Strategy: General, Matrix: p.Kind, Reason: "matrix is not symmetric"}
		}
		data := make([]float64, n*n)
		copy(data, p.Values)
		var eig mat64.EigenSym
		if !eig.Factorize(mat64.NewSymDense(n, data), true) {
			return nil, &InvalidSelectionMatrixError{Reason: "eigendecomposition failed"}
		}
		values := eig.Values(nil)
		if err := checkPositive(values); err != nil {
			return nil, err
		}
		var vectors mat64.Dense
		vectors.EigenvectorsSym(&eig)
		r, rinv := orthonormalRotation(&vectors)
		return newBasis(n, values, r, rinv, nil)
	}

	var eig mat64.Eigen
	if !eig.Factorize(mat64.NewDense(n, n, p.Values), false, true) {
		return nil, &InvalidSelectionMatrixError{Reason: "eigendecomposition failed"}
	}
	cvalues := eig.Values(nil)
	values := make([]float64, n)
	for i, v := range cvalues {
		if imag(v) != 0 {
			return nil, &InvalidSelectionMatrixError{Eigenvalues: cvalues, Reason: "complex eigenvalue"}
		}
		if !(real(v) > 0) {
			return nil, &InvalidSelectionMatrixError{Eigenvalues: cvalues, Reason: "non-positive eigenvalue"}
		}
		values[i] = real(v)
	}
	r, rinv, err := invertRotation(eig.Vectors())
	if err != nil {
		return nil, err
	}
	return newBasis(n, values, r, rinv, nil)
}

// decomposedBasis uses the externally tracked eigenvalues and
// eigenvectors. Only the inverse rotation is computed.
func (s Strategy) decomposedBasis(p *MatrixParameter) (*Basis, error) {
	n := p.Dim
	if len(p.Values) != n || len(p.Vectors) != n*n {
		return nil, &StructuralMismatchError{Strategy: Decomposed, Matrix: p.Kind, Reason: "wrong number of values"}
	}
	if err := checkPositive(p.Values); err != nil {
		return nil, err
	}
	values := make([]float64, n)
	copy(values, p.Values)
	vectors := mat64.NewDense(n, n, nil)
	vectors.Copy(mat64.NewDense(n, n, p.Vectors))

	if s.Symmetric {
		var check mat64.Dense
		check.Mul(vectors.T(), vectors)
		for i := 0; i < n; i++ {
			for j := 0; j < n; j++ {
				want := 0.0
				if i == j {
					want = 1
				}
				if math.Abs(check.At(i, j)-want) > symmetryTolerance {
					return nil, &StructuralMismatchError{Strategy: Decomposed, Matrix: p.Kind, Reason: "eigenvectors are not orthonormal"}
				}
			}
		}
		r, rinv := orthonormalRotation(vectors)
		return newBasis(n, values, r, rinv, nil)
	}
	r, rinv, err := invertRotation(vectors)
	if err != nil {
		return nil, err
	}
	return newBasis(n, values, r, rinv, nil)
}

// orthonormalRotation returns the row-major rotation and its
// transpose. O(dim²).
func orthonormalRotation(v *mat64.Dense) (r, rinv []float64) {
	n, _ := v.Dims()
	r = make([]float64, n*n)
	rinv = make([]float64, n*n)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			r[i*n+j] = v.At(i, j)
			rinv[j*n+i] = v.At(i, j)
		}
	}
	return
}

// invertRotation returns the row-major rotation and its inverse.
// O(dim³).
func invertRotation(v *mat64.Dense) (r, rinv []float64, err error) {
	n, _ := v.Dims()
	var inv mat64.Dense
	if err := inv.Inverse(v); err != nil {
		cond := math.Inf(1)
		if c, ok := err.(matrix.Condition); ok {
			cond = float64(c)
		}
		return nil, nil, &SingularMatrixError{Cond: cond}
	}
	r = make([]float64, n*n)
	rinv = make([]float64, n*n)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			r[i*n+j] = v.At(i, j)
			rinv[i*n+j] = inv.At(i, j)
		}
	}
	return r, rinv, nil
}

// checkPositive checks that all the eigenvalues are strictly
// positive.
func checkPositive(values []float64) error {
	for _, v := range values {
		if !(v > 0) {
			cvalues := make([]complex128, len(values))
			for i, v := range values {
				cvalues[i] = complex(v, 0)
			}
			return &InvalidSelectionMatrixError{Eigenvalues: cvalues, Reason: "non-positive eigenvalue"}
		}
	}
	return nil
}
