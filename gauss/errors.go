package gauss

import (
	"errors"
	"fmt"
	"strings"
)

// ErrDegenerateBranch is returned when an observed tip sits on a
// zero-length branch: the likelihood of the observation is a point
// mass.
var ErrDegenerateBranch = errors.New("observed tip on a zero-length branch")

// ErrObservedRoot is returned when the root itself is a tip with
// observed values, as in a single-taxon tree: there is no branch to
// integrate over.
var ErrObservedRoot = errors.New("root is an observed tip")

// ErrObservedAttachment is returned when a restricted partial
// resolves to a tip with observed values.
var ErrObservedAttachment = errors.New("restricted partial attached to an observed tip")

// ErrSingularPrecision is returned when the variance of a belief with
// a singular precision is requested.
var ErrSingularPrecision = errors.New("belief precision is singular")

// NonPositiveDefiniteError is returned when a covariance or a
// precision matrix used for sampling is not positive definite.
type NonPositiveDefiniteError struct {
	Node int
}

func (e *NonPositiveDefiniteError) Error() string {
	return fmt.Sprintf("node %d: matrix is not positive definite", e.Node)
}

// UnidentifiableNodeError is returned when the combined precision at
// a node is singular: no data below it and no informative prior.
type UnidentifiableNodeError struct {
	Node int
}

func (e *UnidentifiableNodeError) Error() string {
	return fmt.Sprintf("node %d: trait value is not identifiable (singular precision)", e.Node)
}

// MissingAttachmentError is returned when a restricted partial
// cannot be attached to the tree.
type MissingAttachmentError struct {
	Taxa []string
	Err  error
}

func (e *MissingAttachmentError) Error() string {
	return fmt.Sprintf("cannot attach restricted partial {%s}: %v", strings.Join(e.Taxa, ","), e.Err)
}

func (e *MissingAttachmentError) Unwrap() error {
	return e.Err
}
