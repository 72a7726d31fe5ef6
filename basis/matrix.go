package basis

import (
	"errors"
	"fmt"
)

// Kind is the declared structure of a matrix parameter.
type Kind int

// Matrix structures.
const (
	// Diagonal matrix, the basis is the identity.
	Diagonal Kind = iota
	// BlockDiagonal matrix with 1×1 and 2×2 blocks, each block
	// carries its own rotation.
	BlockDiagonal
	// General dense matrix which requires eigendecomposition.
	General
	// Decomposed matrix, eigenvalues and eigenvectors are
	// tracked by the parameter itself.
	Decomposed
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case Diagonal:
		return "diagonal"
	case BlockDiagonal:
		return "block-diagonal"
	case General:
		return "general"
	case Decomposed:
		return "decomposed"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// ParseKind converts a string produced by Kind.String back to Kind.
func ParseKind(s string) (Kind, error) {
	for k := Diagonal; k <= Decomposed; k++ {
		if k.String() == s {
			return k, nil
		}
	}
	return Diagonal, fmt.Errorf("unknown matrix kind: %q", s)
}

// Block is a diagonal block of a block-diagonal matrix. A 1×1 block
// has one diagonal value. A 2×2 block has two diagonal values and
// the off-diagonal Upper (row 0, column 1) and Lower (row 1, column 0)
// entries.
type Block struct {
	Diagonal []float64
	Upper    float64
	Lower    float64
	// Rotation is a row-major size×size block of the rotation
	// matrix, nil means identity.
	Rotation []float64
}

// Size returns the block size.
func (b *Block) Size() int {
	return len(b.Diagonal)
}

// MatrixParameter is a matrix tagged with its structure. Only the
// fields relevant to Kind are set:
//
//	Diagonal:      Values holds the diagonal.
//	BlockDiagonal: Blocks.
//	General:       Values holds the row-major Dim×Dim matrix.
//	Decomposed:    Values holds eigenvalues, Vectors the row-major
//	               matrix with eigenvectors in columns.
//
// The values are meant to be changed in place by the optimizers; a
// new Basis has to be computed after every change.
type MatrixParameter struct {
	Kind      Kind
	Dim       int
	Values    []float64
	Vectors   []float64
	Blocks    []Block
	Symmetric bool
}

// NewDiagonalMatrix creates a diagonal matrix parameter.
func NewDiagonalMatrix(values []float64) *MatrixParameter {
	return &MatrixParameter{
		Kind:      Diagonal,
		Dim:       len(values),
		Values:    values,
		Symmetric: true,
	}
}

// NewDenseMatrix creates a general matrix parameter from the
// row-major data.
func NewDenseMatrix(dim int, data []float64) (*MatrixParameter, error) {
	if dim <= 0 || len(data) != dim*dim {
		return nil, fmt.Errorf("dense matrix: expected %d×%d values, got %d", dim, dim, len(data))
	}
	return &MatrixParameter{
		Kind:      General,
		Dim:       dim,
		Values:    data,
		Symmetric: isSymmetric(dim, data),
	}, nil
}

// NewBlockDiagonalMatrix creates a block-diagonal matrix parameter.
func NewBlockDiagonalMatrix(blocks []Block) (*MatrixParameter, error) {
	dim := 0
	symmetric := true
	for i, b := range blocks {
		size := b.Size()
		if size != 1 && size != 2 {
			return nil, fmt.Errorf("block %d: unsupported block size %d", i, size)
		}
		if b.Rotation != nil && len(b.Rotation) != size*size {
			return nil, fmt.Errorf("block %d: rotation should have %d values", i, size*size)
		}
		if size == 2 && b.Upper != b.Lower {
			symmetric = false
		}
		if b.Rotation != nil {
			symmetric = false
		}
		dim += size
	}
	if dim == 0 {
		return nil, errors.New("block-diagonal matrix without blocks")
	}
	return &MatrixParameter{
		Kind:      BlockDiagonal,
		Dim:       dim,
		Blocks:    blocks,
		Symmetric: symmetric,
	}, nil
}

// NewDecomposedMatrix creates a matrix parameter from eigenvalues and
// eigenvectors (row-major, vectors in columns).
func NewDecomposedMatrix(values, vectors []float64, symmetric bool) (*MatrixParameter, error) {
	dim := len(values)
	if dim == 0 || len(vectors) != dim*dim {
		return nil, fmt.Errorf("decomposed matrix: expected %d×%d eigenvector values, got %d", dim, dim, len(vectors))
	}
	return &MatrixParameter{
		Kind:      Decomposed,
		Dim:       dim,
		Values:    values,
		Vectors:   vectors,
		Symmetric: symmetric,
	}, nil
}

// Copy returns a deep copy of the parameter.
func (p *MatrixParameter) Copy() *MatrixParameter {
	c := *p
	c.Values = append([]float64(nil), p.Values...)
	c.Vectors = append([]float64(nil), p.Vectors...)
	if p.Blocks != nil {
		c.Blocks = make([]Block, len(p.Blocks))
		for i, b := range p.Blocks {
			c.Blocks[i] = Block{
				Diagonal: append([]float64(nil), b.Diagonal...),
				Upper:    b.Upper,
				Lower:    b.Lower,
				Rotation: append([]float64(nil), b.Rotation...),
			}
		}
	}
	return &c
}

// isSymmetric checks the exact symmetry of a row-major matrix.
func isSymmetric(dim int, data []float64) bool {
	for i := 0; i < dim; i++ {
		for j := 0; j < i; j++ {
			if data[i*dim+j] != data[j*dim+i] {
				return false
			}
		}
	}
	return true
}
