package gauss

import (
	"errors"
	"fmt"
	"math"
	"math/rand"

	"github.com/gonum/matrix/mat64"

	"bitbucket.org/Davydov/traitgauss/tree"
)

// Mode selects how the pre-order pass assigns the node values.
type Mode int

const (
	// Draw samples the values from the conditional distributions.
	Draw Mode = iota
	// Mean uses the conditional means.
	Mean
)

func (m Mode) String() string {
	switch m {
	case Draw:
		return "draw"
	case Mean:
		return "mean"
	}
	return fmt.Sprintf("Mode(%d)", int(m))
}

// ErrOutdatedResult is returned if the tree topology has changed
// after the result was computed.
var ErrOutdatedResult = errors.New("tree topology changed after the likelihood computation")

// Sample assigns trait values to all the nodes given the tip data.
// The values are indexed by node id. Every node value is conditioned
// on the value of its parent and the data below the node. A node on
// a zero-length branch takes the parent value.
func (p *Propagator) Sample(res *Result, mode Mode, rng *rand.Rand) ([][]float64, error) {
	if res.version != p.tree.Version() {
		return nil, ErrOutdatedResult
	}
	nodes := p.tree.Nodes()
	values := make([][]float64, len(nodes))

	root := p.tree.Node
	rootMean := res.rootFactor.solve(nil, res.root.Info)
	if mode == Draw {
		values[root.ID] = res.rootFactor.sampleWithPrecision(rootMean, rng)
	} else {
		values[root.ID] = rootMean
	}

	for _, node := range p.tree.PreOrder() {
		if node.IsRoot() {
			continue
		}
		parent := values[node.Parent.ID]
		v := p.branchVariance(node)
		var err error
		if p.isDataTip(node) {
			values[node.ID], err = p.sampleTip(node, parent, v, mode, rng)
		} else {
			values[node.ID], err = p.sampleLatent(node, res.beliefs[node.ID], parent, v, mode, rng)
		}
		if err != nil {
			return nil, err
		}
	}
	return values, nil
}

// sampleLatent draws the node value from
// N(node; parent, v·Σ)·belief(node).
func (p *Propagator) sampleLatent(node *tree.Node, b Belief, parent []float64, v float64, mode Mode, rng *rand.Rand) ([]float64, error) {
	if v == 0 {
		return append([]float64(nil), parent...), nil
	}
	sinv := p.basis.Precision(v)
	var a mat64.SymDense
	a.AddSym(sinv, b.Precision)
	f, ok := factorize(&a)
	if !ok {
		return nil, &NonPositiveDefiniteError{Node: node.ID}
	}
	info := symMulVec(sinv, parent)
	for i, h := range b.Info {
		info[i] += h
	}
	mean := f.solve(nil, info)
	if mode == Mean {
		return mean, nil
	}
	return f.sampleWithPrecision(mean, rng), nil
}

// sampleTip fills in the missing values of a tip given the parent
// value and the observed values.
func (p *Propagator) sampleTip(node *tree.Node, parent []float64, v float64, mode Mode, rng *rand.Rand) ([]float64, error) {
	y := p.tips[node.LeafID]
	x := append([]float64(nil), y...)
	mask, err := p.policy.Mask(node.LeafID)
	if err != nil {
		return nil, err
	}
	var mis, obs []int
	for k, o := range mask {
		if o {
			obs = append(obs, k)
		} else {
			mis = append(mis, k)
		}
	}
	if len(mis) == 0 {
		return x, nil
	}
	if v == 0 {
		for _, k := range mis {
			x[k] = parent[k]
		}
		return x, nil
	}

	// conditional of the missing values given the observed ones
	// under N(parent, v·Σ), in the precision form
	k := p.basis.Precision(v)
	var kmm mat64.SymDense
	kmm.SubsetSym(k, mis)
	f, ok := factorize(&kmm)
	if !ok {
		return nil, &NonPositiveDefiniteError{Node: node.ID}
	}
	t := make([]float64, len(mis))
	for i, a := range mis {
		for _, b := range obs {
			t[i] += k.At(a, b) * (y[b] - parent[b])
		}
	}
	shift := f.solve(nil, t)
	mean := make([]float64, len(mis))
	for i, a := range mis {
		mean[i] = parent[a] - shift[i]
	}
	if mode == Draw {
		mean = f.sampleWithPrecision(mean, rng)
	}
	for i, a := range mis {
		x[a] = mean[i]
	}
	return x, nil
}

// Impute returns the tip values indexed by leaf id with the missing
// values replaced by the pre-order assignment.
func (p *Propagator) Impute(res *Result, mode Mode, rng *rand.Rand) ([][]float64, error) {
	values, err := p.Sample(res, mode, rng)
	if err != nil {
		return nil, err
	}
	leaves := p.tree.Leaves()
	tips := make([][]float64, len(leaves))
	for i, node := range leaves {
		tips[i] = values[node.ID]
	}
	return tips, nil
}

// Simulate draws trait values for all the nodes from the prior and
// the diffusion process, ignoring the data. With the flat prior the
// root takes the prior mean.
func (p *Propagator) Simulate(rng *rand.Rand) ([][]float64, error) {
	root := p.tree.Node
	f, ok := factorize(p.basis.UnitVariance())
	if !ok {
		return nil, &NonPositiveDefiniteError{Node: root.ID}
	}
	values := make([][]float64, len(p.tree.Nodes()))
	if p.prior.SampleSize > 0 {
		values[root.ID] = f.sampleWithCovariance(p.prior.Mean, math.Sqrt(1/p.prior.SampleSize), rng)
	} else {
		values[root.ID] = append([]float64(nil), p.prior.Mean...)
	}
	for _, node := range p.tree.PreOrder() {
		if node.IsRoot() {
			continue
		}
		parent := values[node.Parent.ID]
		v := p.branchVariance(node)
		if v == 0 {
			values[node.ID] = append([]float64(nil), parent...)
			continue
		}
		values[node.ID] = f.sampleWithCovariance(parent, math.Sqrt(v), rng)
	}
	return values, nil
}
