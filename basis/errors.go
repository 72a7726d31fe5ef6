package basis

import (
	"fmt"
)

// StructuralMismatchError is returned when a strategy receives a
// matrix parameter with a structure it cannot decompose.
type StructuralMismatchError struct {
	Strategy Kind
	Matrix   Kind
	Reason   string
}

func (e *StructuralMismatchError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("%s strategy cannot decompose %s matrix: %s", e.Strategy, e.Matrix, e.Reason)
	}
	return fmt.Sprintf("%s strategy cannot decompose %s matrix", e.Strategy, e.Matrix)
}

// InvalidSelectionMatrixError is returned when the matrix is not a
// valid diffusion generator: an eigenvalue is complex or not strictly
// positive.
type InvalidSelectionMatrixError struct {
	Eigenvalues []complex128
	Reason      string
}

func (e *InvalidSelectionMatrixError) Error() string {
	return fmt.Sprintf("invalid selection matrix: %s (eigenvalues: %v)", e.Reason, e.Eigenvalues)
}

// SingularMatrixError is returned when the rotation matrix cannot be
// inverted.
type SingularMatrixError struct {
	// Cond is the condition number estimate, +Inf for an exactly
	// singular matrix.
	Cond float64
}

func (e *SingularMatrixError) Error() string {
	return fmt.Sprintf("singular rotation matrix (condition number %g)", e.Cond)
}
