package gauss

import (
	"fmt"
	"math"

	"bitbucket.org/Davydov/traitgauss/missing"
)

// scalarBelief is a product of independent per-dimension beliefs in
// the moment form,
//
//	exp(logC)·∏ N(x_k; mean_k, 1/precision_k),
//
// where a zero precision makes the factor constant.
type scalarBelief struct {
	mean      []float64
	precision []float64
	logC      float64
	// mask selects the dimensions for the merge, nil for all
	mask []bool
}

func newScalarBelief(d int) scalarBelief {
	return scalarBelief{
		mean:      make([]float64, d),
		precision: make([]float64, d),
	}
}

// normLogPdf returns log N(x; 0, variance).
func normLogPdf(x, variance float64) float64 {
	return -(log2Pi+math.Log(variance))/2 - x*x/variance/2
}

// merge multiplies the belief by o. The normalizing constant of the
// product of two Gaussian densities goes to logC.
func (b *scalarBelief) merge(policy missing.Policy, o scalarBelief) {
	for k := range b.mean {
		if o.mask != nil && !o.mask[k] {
			continue
		}
		p0, p1 := b.precision[k], o.precision[k]
		if p0 > 0 && p1 > 0 {
			b.logC += normLogPdf(b.mean[k]-o.mean[k], 1/p0+1/p1)
		}
	}
	b.logC += o.logC
	policy.Merge(b.mean, b.precision, o.mean, o.precision, o.mask)
}

// canonical converts the belief into the canonical form.
func (b *scalarBelief) canonical() Belief {
	d := len(b.mean)
	c := newBelief(d)
	c.LogC = b.logC
	for k, p := range b.precision {
		if p == 0 {
			continue
		}
		m := b.mean[k]
		c.Precision.SetSym(k, k, p)
		c.Info[k] = p * m
		c.LogC += (-log2Pi + math.Log(p) - p*m*m) / 2
	}
	return c
}

// postOrderDiagonal merges the beliefs dimension by dimension. It is
// used when every dimension evolves independently.
func (p *Propagator) postOrderDiagonal(res *Result) error {
	d := p.Dim()
	// process precision per unit branch variance
	values := p.basis.Values()
	up := make([]scalarBelief, len(res.beliefs))
	for _, node := range p.tree.PostOrder() {
		v := p.branchVariance(node)
		if p.isDataTip(node) {
			mask, err := p.policy.Mask(node.LeafID)
			if err != nil {
				return err
			}
			if v == 0 {
				return fmt.Errorf("tip %s: %w", node.Name, ErrDegenerateBranch)
			}
			msg := newScalarBelief(d)
			msg.mask = mask
			y := p.tips[node.LeafID]
			for k, obs := range mask {
				if obs {
					msg.mean[k] = y[k]
					msg.precision[k] = values[k] / v
				}
			}
			up[node.ID] = msg
			continue
		}

		acc := newScalarBelief(d)
		for _, child := range node.ChildNodes() {
			acc.merge(p.policy, up[child.ID])
			up[child.ID] = scalarBelief{}
		}
		for _, rp := range p.attached[node.ID] {
			msg := newScalarBelief(d)
			pv := rp.variance(p.rate)
			for k := range msg.mean {
				msg.mean[k] = rp.Mean[k]
				msg.precision[k] = values[k] / pv
			}
			acc.merge(p.policy, msg)
		}
		res.beliefs[node.ID] = acc.canonical()

		if !node.IsRoot() && v > 0 {
			for k, prec := range acc.precision {
				if prec > 0 {
					acc.precision[k] = prec / (1 + prec*v/values[k])
				}
			}
		}
		up[node.ID] = acc
	}
	return nil
}
