// Package model binds a tree, tip trait values and a diffusion
// matrix into a likelihood model which can be optimized or sampled.
package model

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/op/go-logging"
	"github.com/pkg/errors"

	"bitbucket.org/Davydov/traitgauss/basis"
	"bitbucket.org/Davydov/traitgauss/gauss"
	"bitbucket.org/Davydov/traitgauss/missing"
	"bitbucket.org/Davydov/traitgauss/optimize"
	"bitbucket.org/Davydov/traitgauss/tree"
)

var log = logging.MustGetLogger("model")

const (
	// Default value for the maximum branch length.
	defaultMaxBrLen = 100
	// Default value for the maximum absolute matrix entry.
	defaultMaxValue = 1000
)

// Partial describes a restricted partial: a belief about the trait
// value at the most recent common ancestor of Taxa.
type Partial struct {
	Name       string
	Taxa       []string
	Mean       []float64
	SampleSize float64
	Height     float64
}

// Model is the trait diffusion model. The likelihood is cached and
// recomputed only after a parameter change.
type Model struct {
	tree       *tree.Tree
	traits     []string
	tips       [][]float64
	matrix     *basis.MatrixParameter
	strategy   basis.Strategy
	policy     missing.Policy
	partials   []Partial
	prop       *gauss.Propagator
	cache      *gauss.Cache
	rate       float64
	priorMean  []float64
	sampleSize float64

	// basis state, the basis is recomputed lazily after a matrix
	// parameter change
	basisDone bool
	basisErr  error
	scalarErr error
	saved     *state

	// err is the error of the last likelihood computation
	err error

	optBranch  bool
	optRate    bool
	optPrior   bool
	maxBrLen   float64
	maxValue   float64
	as         *optimize.AdaptiveSettings
	parameters optimize.FloatParameters
}

// state is the part of the model saved by Checkpoint.
type state struct {
	basis     *basis.Basis
	basisDone bool
	basisErr  error
}

// New creates a model. tips are indexed by the tree leaf ids, NaN
// values are missing. policy is the missing data policy name.
func New(t *tree.Tree, traits []string, tips [][]float64, matrix *basis.MatrixParameter,
	policy string, prior gauss.Prior, partials []Partial) (*Model, error) {
	if len(traits) != matrix.Dim {
		return nil, fmt.Errorf("%d traits for a %d×%d matrix", len(traits), matrix.Dim, matrix.Dim)
	}
	pattern, err := missing.FromValues(matrix.Dim, tips)
	if err != nil {
		return nil, err
	}
	pol, err := missing.NewPolicy(policy, pattern)
	if err != nil {
		return nil, err
	}
	m := &Model{
		tree:       t,
		traits:     traits,
		tips:       tips,
		matrix:     matrix,
		strategy:   basis.StrategyFor(matrix),
		policy:     pol,
		partials:   partials,
		rate:       1,
		priorMean:  append([]float64(nil), prior.Mean...),
		sampleSize: prior.SampleSize,
		maxBrLen:   defaultMaxBrLen,
		maxValue:   defaultMaxValue,
	}
	b, err := m.strategy.ComputeBasis(matrix)
	if err != nil {
		return nil, errors.Wrap(err, "initial matrix")
	}
	m.basisDone = true
	m.prop, err = gauss.New(t, b, tips, pol, m.prior())
	if err != nil {
		return nil, err
	}
	for _, p := range partials {
		rp, err := gauss.NewRestrictedPartial(p.Name, p.Taxa, p.Mean, p.SampleSize, p.Height)
		if err != nil {
			return nil, err
		}
		if err := m.prop.AddPartial(rp); err != nil {
			return nil, err
		}
	}
	m.cache = gauss.NewCache(m.prop)
	m.setupParameters()
	return m, nil
}

// Copy creates an independent copy of the model. The tip values and
// the basis are immutable and shared.
func (m *Model) Copy() optimize.Optimizable {
	t := m.tree.Copy()
	newM := &Model{
		tree:       t,
		traits:     m.traits,
		tips:       m.tips,
		matrix:     m.matrix.Copy(),
		strategy:   m.strategy,
		policy:     m.policy,
		partials:   m.partials,
		rate:       m.rate,
		priorMean:  append([]float64(nil), m.priorMean...),
		sampleSize: m.sampleSize,
		basisDone:  m.basisDone,
		basisErr:   m.basisErr,
		scalarErr:  m.scalarErr,
		optBranch:  m.optBranch,
		optRate:    m.optRate,
		optPrior:   m.optPrior,
		maxBrLen:   m.maxBrLen,
		maxValue:   m.maxValue,
		as:         m.as,
	}
	var err error
	newM.prop, err = gauss.New(t, m.prop.Basis(), m.tips, m.policy, newM.prior())
	if err != nil {
		panic(err)
	}
	newM.prop.SetRate(m.prop.Rate())
	for _, p := range m.partials {
		rp, err := gauss.NewRestrictedPartial(p.Name, p.Taxa, p.Mean, p.SampleSize, p.Height)
		if err == nil {
			err = newM.prop.AddPartial(rp)
		}
		if err != nil {
			panic(err)
		}
	}
	newM.cache = gauss.NewCache(newM.prop)
	newM.setupParameters()
	return newM
}

func (m *Model) prior() gauss.Prior {
	return gauss.Prior{Mean: m.priorMean, SampleSize: m.sampleSize}
}

// Tree returns the tree.
func (m *Model) Tree() *tree.Tree {
	return m.tree
}

// Traits returns the trait names.
func (m *Model) Traits() []string {
	return m.traits
}

// Dim returns the number of traits.
func (m *Model) Dim() int {
	return m.matrix.Dim
}

// Matrix returns the matrix parameter.
func (m *Model) Matrix() *basis.MatrixParameter {
	return m.matrix
}

// Strategy returns the basis strategy.
func (m *Model) Strategy() basis.Strategy {
	return m.strategy
}

// Policy returns the missing data policy.
func (m *Model) Policy() missing.Policy {
	return m.policy
}

// Cache returns the likelihood cache.
func (m *Model) Cache() *gauss.Cache {
	return m.cache
}

// SetRate sets the diffusion rate.
func (m *Model) SetRate(rate float64) error {
	if err := m.prop.SetRate(rate); err != nil {
		return err
	}
	m.rate = rate
	m.cache.OnUpstreamModelChanged(m.prop)
	return nil
}

// updateBasis recomputes the basis after a matrix change.
func (m *Model) updateBasis() {
	m.basisDone = true
	b, err := m.strategy.ComputeBasis(m.matrix)
	m.basisErr = err
	if err != nil {
		return
	}
	if err := m.prop.SetBasis(b); err != nil {
		m.basisErr = err
	}
}

// Result returns the computed propagation result.
func (m *Model) Result() (*gauss.Result, error) {
	if !m.basisDone {
		m.updateBasis()
	}
	if m.basisErr != nil {
		return nil, m.basisErr
	}
	if m.scalarErr != nil {
		return nil, m.scalarErr
	}
	return m.cache.EnsureComputed()
}

// Likelihood computes the log likelihood of the tip values. On error
// the likelihood is -Inf and the error is available from Err.
func (m *Model) Likelihood() float64 {
	res, err := m.Result()
	m.err = err
	if err != nil {
		log.Debugf("Likelihood: %v", err)
		return math.Inf(-1)
	}
	return res.LogLikelihood
}

// Err returns the error of the last likelihood computation.
func (m *Model) Err() error {
	return m.err
}

// Checkpoint saves the computed state.
func (m *Model) Checkpoint() {
	m.saved = &state{
		basis:     m.prop.Basis(),
		basisDone: m.basisDone,
		basisErr:  m.basisErr,
	}
	m.cache.Checkpoint()
}

// Rollback restores the state saved by Checkpoint.
func (m *Model) Rollback() {
	if m.saved != nil {
		if err := m.prop.SetBasis(m.saved.basis); err != nil {
			log.Errorf("Restoring basis: %v", err)
		}
		m.basisDone = m.saved.basisDone
		m.basisErr = m.saved.basisErr
		m.saved = nil
	}
	m.cache.Rollback()
}

// Commit drops the saved state.
func (m *Model) Commit() {
	m.saved = nil
	m.cache.Commit()
}

// Sample assigns trait values to every node, indexed by node id.
func (m *Model) Sample(mode gauss.Mode, rng *rand.Rand) ([][]float64, error) {
	res, err := m.Result()
	if err != nil {
		return nil, err
	}
	return m.prop.Sample(res, mode, rng)
}

// Impute returns the tip values indexed by leaf id with the missing
// values filled in.
func (m *Model) Impute(mode gauss.Mode, rng *rand.Rand) ([][]float64, error) {
	res, err := m.Result()
	if err != nil {
		return nil, err
	}
	return m.prop.Impute(res, mode, rng)
}

// Simulate draws trait values for every node, indexed by node id,
// from the prior and the diffusion process.
func (m *Model) Simulate(rng *rand.Rand) ([][]float64, error) {
	if !m.basisDone {
		m.updateBasis()
	}
	if m.basisErr != nil {
		return nil, m.basisErr
	}
	return m.prop.Simulate(rng)
}
