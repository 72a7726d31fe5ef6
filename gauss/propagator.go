// Package gauss propagates Gaussian trait beliefs over a phylogenetic
// tree.
//
// The post-order pass merges the beliefs of the children into the
// parent and produces the marginal likelihood of the tip values. The
// pre-order pass draws (or assigns the conditional means of) the
// trait values of every node given the parent value and the data
// below the node.
package gauss

import (
	"errors"
	"fmt"
	"math"

	"github.com/gonum/matrix/mat64"
	"github.com/op/go-logging"

	"bitbucket.org/Davydov/traitgauss/basis"
	"bitbucket.org/Davydov/traitgauss/missing"
	"bitbucket.org/Davydov/traitgauss/tree"
)

var log = logging.MustGetLogger("gauss")

// Prior is the root prior N(Mean, Σ/SampleSize), where Σ is the unit
// process covariance. SampleSize=0 is the improper flat prior.
type Prior struct {
	Mean       []float64
	SampleSize float64
}

// Propagator computes the trait likelihood and the node beliefs. It
// holds references to its inputs; the owner must invalidate the
// cache wrapping the propagator after changing any of them.
type Propagator struct {
	tree     *tree.Tree
	basis    *basis.Basis
	tips     [][]float64
	policy   missing.Policy
	prior    Prior
	rate     float64
	partials []*RestrictedPartial

	// attached partials by node id, rebuilt on topology change
	attached        map[int][]*RestrictedPartial
	attachedVersion int
}

// New creates a propagator. tips are indexed by leaf id, missing
// values are ignored as decided by the policy.
func New(t *tree.Tree, b *basis.Basis, tips [][]float64, policy missing.Policy, prior Prior) (*Propagator, error) {
	if len(tips) != t.NLeaves() {
		return nil, fmt.Errorf("expected values for %d tips, got %d", t.NLeaves(), len(tips))
	}
	if policy.Pattern().NTips() != len(tips) {
		return nil, errors.New("missing data pattern does not match the tips")
	}
	for i, v := range tips {
		if len(v) != b.Dim() {
			return nil, fmt.Errorf("tip %d: expected %d values, got %d", i, b.Dim(), len(v))
		}
	}
	p := &Propagator{
		tree:            t,
		basis:           b,
		tips:            tips,
		policy:          policy,
		rate:            1,
		attachedVersion: -1,
	}
	if err := p.SetPrior(prior); err != nil {
		return nil, err
	}
	return p, nil
}

// Tree returns the tree.
func (p *Propagator) Tree() *tree.Tree {
	return p.tree
}

// Basis returns the current basis.
func (p *Propagator) Basis() *basis.Basis {
	return p.basis
}

// Dim returns the trait dimension.
func (p *Propagator) Dim() int {
	return p.basis.Dim()
}

// SetBasis replaces the basis.
func (p *Propagator) SetBasis(b *basis.Basis) error {
	if b.Dim() != p.basis.Dim() {
		return fmt.Errorf("basis dimension %d, expected %d", b.Dim(), p.basis.Dim())
	}
	p.basis = b
	return nil
}

// SetRate sets the diffusion rate: the branch variance is the branch
// length multiplied by the rate.
func (p *Propagator) SetRate(rate float64) error {
	if !(rate > 0) {
		return fmt.Errorf("rate should be positive, got %v", rate)
	}
	p.rate = rate
	return nil
}

// Rate returns the diffusion rate.
func (p *Propagator) Rate() float64 {
	return p.rate
}

// SetPrior sets the root prior.
func (p *Propagator) SetPrior(prior Prior) error {
	if len(prior.Mean) != p.basis.Dim() {
		return fmt.Errorf("prior mean should have %d values, got %d", p.basis.Dim(), len(prior.Mean))
	}
	if prior.SampleSize < 0 || math.IsInf(prior.SampleSize, 0) || math.IsNaN(prior.SampleSize) {
		return fmt.Errorf("invalid prior sample size %v", prior.SampleSize)
	}
	p.prior = prior
	return nil
}

// Prior returns the root prior.
func (p *Propagator) Prior() Prior {
	return p.prior
}

// AddPartial adds a restricted partial.
func (p *Propagator) AddPartial(rp *RestrictedPartial) error {
	if len(rp.Mean) != p.basis.Dim() {
		return fmt.Errorf("restricted partial %s: expected %d values, got %d", rp.Name, p.basis.Dim(), len(rp.Mean))
	}
	p.partials = append(p.partials, rp)
	p.attachedVersion = -1
	return nil
}

// Partials returns the restricted partials.
func (p *Propagator) Partials() []*RestrictedPartial {
	return p.partials
}

// branchVariance returns the variance scale of the branch above the
// node.
func (p *Propagator) branchVariance(node *tree.Node) float64 {
	return node.BranchLength * p.rate
}

// isDataTip returns true if the node is a tip with at least one
// observed value.
func (p *Propagator) isDataTip(node *tree.Node) bool {
	return node.IsTerminal() && p.policy.Classify(node.LeafID) != missing.CompletelyMissing
}

// attach resolves restricted partials if the topology has changed.
func (p *Propagator) attach() error {
	if p.attachedVersion == p.tree.Version() && p.attached != nil {
		return nil
	}
	attached := make(map[int][]*RestrictedPartial)
	nodes := p.tree.Nodes()
	for _, rp := range p.partials {
		if err := rp.resolve(p.tree); err != nil {
			return err
		}
		if p.isDataTip(nodes[rp.node]) {
			return &MissingAttachmentError{Taxa: rp.Taxa, Err: ErrObservedAttachment}
		}
		attached[rp.node] = append(attached[rp.node], rp)
	}
	p.attached = attached
	p.attachedVersion = p.tree.Version()
	return nil
}

// Compute performs the post-order pass and returns the immutable
// result.
func (p *Propagator) Compute() (*Result, error) {
	if err := p.attach(); err != nil {
		return nil, err
	}
	if root := p.tree.Node; p.isDataTip(root) {
		return nil, fmt.Errorf("tip %s: %w", root.Name, ErrObservedRoot)
	}
	nodes := p.tree.Nodes()
	res := &Result{
		dim:     p.Dim(),
		beliefs: make([]Belief, len(nodes)),
		tips:    make([][]float64, len(nodes)),
		version: p.tree.Version(),
	}
	for _, node := range p.tree.Leaves() {
		if p.isDataTip(node) {
			res.tips[node.ID] = p.tips[node.LeafID]
		}
	}

	var err error
	if p.basis.IsDiagonal() {
		err = p.postOrderDiagonal(res)
	} else {
		err = p.postOrderDense(res)
	}
	if err != nil {
		return nil, err
	}
	if err := p.combineRoot(res); err != nil {
		return nil, err
	}
	return res, nil
}

// postOrderDense merges the beliefs using full matrices.
func (p *Propagator) postOrderDense(res *Result) error {
	d := p.Dim()
	up := make([]Belief, len(res.beliefs))
	for _, node := range p.tree.PostOrder() {
		v := p.branchVariance(node)
		if p.isDataTip(node) {
			msg, err := p.tipMessage(node, v)
			if err != nil {
				return err
			}
			up[node.ID] = msg
			continue
		}
		b := newBelief(d)
		for _, child := range node.ChildNodes() {
			b.add(up[child.ID])
			// messages are used once
			up[child.ID] = Belief{}
		}
		for _, rp := range p.attached[node.ID] {
			b.add(rp.belief(p.basis, p.rate))
		}
		res.beliefs[node.ID] = b
		if !node.IsRoot() {
			msg, err := p.branchMessage(node, b, v)
			if err != nil {
				return err
			}
			up[node.ID] = msg
		}
	}
	return nil
}

// tipMessage returns the likelihood of the observed tip values as a
// function of the parent value: the observed margin of
// N(parent, v·Σ).
func (p *Propagator) tipMessage(node *tree.Node, v float64) (Belief, error) {
	mask, err := p.policy.Mask(node.LeafID)
	if err != nil {
		return Belief{}, err
	}
	if v == 0 {
		return Belief{}, fmt.Errorf("tip %s: %w", node.Name, ErrDegenerateBranch)
	}
	d := p.Dim()
	y := p.tips[node.LeafID]
	obs := observedSet(mask)
	yo := make([]float64, len(obs))
	for i, k := range obs {
		yo[i] = y[k]
	}

	var s mat64.SymDense
	s.SubsetSym(p.basis.Variance(v), obs)
	f, ok := factorize(&s)
	if !ok {
		return Belief{}, &NonPositiveDefiniteError{Node: node.ID}
	}
	k := f.inverse()
	ky := symMulVec(k, yo)

	msg := newBelief(d)
	for i, a := range obs {
		msg.Info[a] = ky[i]
		for j := i; j < len(obs); j++ {
			msg.Precision.SetSym(a, obs[j], k.At(i, j))
		}
	}
	msg.LogC = -float64(len(obs))/2*log2Pi - f.logDet()/2 - dot(yo, ky)/2
	return msg, nil
}

// branchMessage integrates the node value out of the belief times the
// branch transition density N(node; parent, v·Σ).
func (p *Propagator) branchMessage(node *tree.Node, b Belief, v float64) (Belief, error) {
	if v == 0 || b.isZero() {
		return copyBelief(b), nil
	}
	sinv := p.basis.Precision(v)
	var a mat64.SymDense
	a.AddSym(sinv, b.Precision)
	f, ok := factorize(&a)
	if !ok {
		return Belief{}, &NonPositiveDefiniteError{Node: node.ID}
	}
	ainvh := f.solve(nil, b.Info)

	msg := Belief{
		Info: symMulVec(sinv, ainvh),
		LogC: b.LogC + p.basis.LogDetPrecision(v)/2 - f.logDet()/2 + dot(b.Info, ainvh)/2,
	}
	q := mulSym(sinv, f.inverse())
	q.ScaleSym(-1, q)
	q.AddSym(q, sinv)
	msg.Precision = q
	return msg, nil
}

// rootPrior returns the prior belief at the root.
func (p *Propagator) rootPrior() Belief {
	if p.prior.SampleSize == 0 {
		return newBelief(p.Dim())
	}
	return densityBelief(p.basis, p.prior.Mean, 1/p.prior.SampleSize)
}

// combineRoot multiplies the root belief by the prior and integrates
// the root value out.
func (p *Propagator) combineRoot(res *Result) error {
	root := p.tree.Node
	post := copyBelief(res.beliefs[root.ID])
	post.add(p.rootPrior())
	f, ok := factorize(post.Precision)
	if !ok {
		return &UnidentifiableNodeError{Node: root.ID}
	}
	res.root = post
	res.rootFactor = f
	d := float64(p.Dim())
	res.LogLikelihood = post.LogC + d/2*log2Pi - f.logDet()/2 + dot(post.Info, f.solve(nil, post.Info))/2
	log.Debugf("lnL=%v", res.LogLikelihood)
	return nil
}

// observedSet returns the indices of the true mask entries.
func observedSet(mask []bool) []int {
	set := make([]int, 0, len(mask))
	for i, o := range mask {
		if o {
			set = append(set, i)
		}
	}
	return set
}

// Result is an immutable snapshot of the post-order pass.
type Result struct {
	LogLikelihood float64

	dim int
	// beliefs are the merged subtree beliefs by node id; zero for
	// data tips
	beliefs []Belief
	// tips are observed values by node id
	tips       [][]float64
	root       Belief
	rootFactor *factor
	version    int
}

// Belief returns a copy of the merged belief of the subtree below
// the node. The belief of a tip with observed values has nil
// Precision.
func (r *Result) Belief(id int) Belief {
	b := r.beliefs[id]
	if b.Precision == nil {
		return b
	}
	return copyBelief(b)
}

// Node returns the merged subtree belief of the node in the moment
// form. Observed tip values have infinite precision. The returned
// values are copies and may be modified.
func (r *Result) Node(id int) NodeBelief {
	if y := r.tips[id]; y != nil {
		nb := NodeBelief{
			Mean:      make([]float64, r.dim),
			Precision: mat64.NewSymDense(r.dim, nil),
			LogDet:    math.Inf(1),
		}
		for i, v := range y {
			nb.Mean[i] = v
			if !math.IsNaN(v) {
				nb.Precision.SetSym(i, i, math.Inf(1))
			} else {
				nb.LogDet = math.Inf(-1)
			}
		}
		return nb
	}
	return r.beliefs[id].Moments()
}

// Root returns the posterior belief of the root value including the
// prior. The returned matrix is a copy and may be modified.
func (r *Result) Root() NodeBelief {
	nb := NodeBelief{
		Mean:      r.rootFactor.solve(nil, r.root.Info),
		Precision: copySym(r.root.Precision),
		LogDet:    r.rootFactor.logDet(),
	}
	return nb
}
