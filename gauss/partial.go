package gauss

import (
	"errors"
	"fmt"

	"bitbucket.org/Davydov/traitgauss/basis"
	"bitbucket.org/Davydov/traitgauss/tree"
)

// RestrictedPartial is a Gaussian belief about the trait value of the
// most recent common ancestor of a taxon set. The belief is
// N(Mean, Σ/PriorSampleSize) at the end of a pseudo-branch of length
// Height hanging from the ancestor, where Σ is the unit process
// covariance.
//
// The attachment node is resolved again every time the tree
// topology changes.
type RestrictedPartial struct {
	Name            string
	Taxa            []string
	Mean            []float64
	PriorSampleSize float64
	Height          float64

	node    int
	version int
}

// NewRestrictedPartial creates a restricted partial.
func NewRestrictedPartial(name string, taxa []string, mean []float64, sampleSize, height float64) (*RestrictedPartial, error) {
	if len(taxa) == 0 {
		return nil, errors.New("restricted partial without taxa")
	}
	if !(sampleSize > 0) {
		return nil, fmt.Errorf("restricted partial %s: sample size should be positive, got %v", name, sampleSize)
	}
	if height < 0 {
		return nil, fmt.Errorf("restricted partial %s: negative height %v", name, height)
	}
	return &RestrictedPartial{
		Name:            name,
		Taxa:            taxa,
		Mean:            mean,
		PriorSampleSize: sampleSize,
		Height:          height,
		node:            -1,
		version:         -1,
	}, nil
}

// Node returns the id of the attachment node, -1 if it has not been
// resolved.
func (rp *RestrictedPartial) Node() int {
	return rp.node
}

// resolve finds the attachment node in the tree.
func (rp *RestrictedPartial) resolve(t *tree.Tree) error {
	if rp.version == t.Version() && rp.node >= 0 {
		return nil
	}
	node, err := t.MRCA(rp.Taxa)
	if err != nil {
		rp.node = -1
		return &MissingAttachmentError{Taxa: rp.Taxa, Err: err}
	}
	rp.node = node.ID
	rp.version = t.Version()
	return nil
}

// variance returns the variance scale of the belief.
func (rp *RestrictedPartial) variance(rate float64) float64 {
	return 1/rp.PriorSampleSize + rp.Height*rate
}

// belief returns the normalized density of the partial as a
// function of the attachment node value.
func (rp *RestrictedPartial) belief(b *basis.Basis, rate float64) Belief {
	return densityBelief(b, rp.Mean, rp.variance(rate))
}

// densityBelief returns the canonical form of the normalized density
// N(x; mean, v·Σ).
func densityBelief(b *basis.Basis, mean []float64, v float64) Belief {
	q := b.Precision(v)
	h := symMulVec(q, mean)
	return Belief{
		Precision: q,
		Info:      h,
		LogC:      -float64(b.Dim())/2*log2Pi + b.LogDetPrecision(v)/2 - dot(mean, h)/2,
	}
}
