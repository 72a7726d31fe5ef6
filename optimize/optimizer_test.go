package optimize

import (
	"bytes"
	"math"
	"math/rand"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// quadModel has the log likelihood -(x-1)²/2 - (y+2)²/2. The
// likelihood is cached and the cache supports checkpoints.
type quadModel struct {
	x, y       float64
	parameters FloatParameters
	known      bool
	cached     float64
	saved      *quadState
	computed   int
}

type quadState struct {
	known  bool
	cached float64
}

func newQuadModel(x, y float64, fpg FloatParameterGenerator) *quadModel {
	m := &quadModel{x: x, y: y}
	adaptive := fpg != nil
	if !adaptive {
		fpg = BasicFloatParameterGenerator
	}
	for _, p := range []struct {
		v    *float64
		name string
	}{{&m.x, "x"}, {&m.y, "y"}} {
		par := fpg(p.v, p.name)
		par.SetMin(-10)
		par.SetMax(10)
		par.SetPriorFunc(UniformPrior(-10, 10, true, true))
		if !adaptive {
			par.SetProposalFunc(NormalProposal(0.5))
		}
		par.SetOnChange(func() { m.known = false })
		m.parameters.Append(par)
	}
	return m
}

func (m *quadModel) GetFloatParameters() FloatParameters {
	return m.parameters
}

func (m *quadModel) Copy() Optimizable {
	return newQuadModel(m.x, m.y, nil)
}

func (m *quadModel) compute() float64 {
	return -(m.x-1)*(m.x-1)/2 - (m.y+2)*(m.y+2)/2
}

func (m *quadModel) Likelihood() float64 {
	if !m.known {
		m.cached = m.compute()
		m.known = true
		m.computed++
	}
	return m.cached
}

func (m *quadModel) Checkpoint() {
	m.saved = &quadState{known: m.known, cached: m.cached}
}

func (m *quadModel) Rollback() {
	if m.saved != nil {
		m.known, m.cached = m.saved.known, m.saved.cached
		m.saved = nil
	}
}

func (m *quadModel) Commit() {
	m.saved = nil
}

func TestNone(t *testing.T) {
	m := newQuadModel(1, -2, nil)
	opt := NewNone()
	var buf bytes.Buffer
	opt.SetOutput(&buf)
	opt.SetOptimizable(m)
	opt.Run(100)
	assert.Equal(t, 0.0, opt.GetMaxL())
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "iteration\tlikelihood\tx\ty", lines[0])
	s := opt.Summary()
	assert.Equal(t, "none", s.Method)
	assert.Equal(t, 1, s.LikelihoodCalls)
	assert.Equal(t, map[string]float64{"x": 1, "y": -2}, s.MaxLParameters)
}

func TestMHRollback(t *testing.T) {
	rand.Seed(1)
	m := newQuadModel(0, 0, nil)
	opt := NewMH(false, 0)
	opt.SetOptimizable(m)
	opt.SetReportPeriod(50)
	opt.Run(2000)

	// the cached value always matches the parameters
	assert.InDelta(t, m.compute(), m.Likelihood(), 1e-12)
	assert.InDelta(t, m.compute(), opt.GetL(), 1e-12)
	// rejected proposals are not recomputed
	assert.Equal(t, 2001, m.computed)
	assert.True(t, opt.AcceptanceRate() > 0 && opt.AcceptanceRate() < 1)
	assert.True(t, opt.GetMaxL() <= 0)
	assert.True(t, opt.GetMaxL() >= opt.Summary().StartingLnL)
	// every 50 iterations and the final state
	assert.Len(t, opt.Trace(), 41)
}

func TestAnnealing(t *testing.T) {
	rand.Seed(2)
	m := newQuadModel(5, 5, nil)
	opt := NewMH(true, 100)
	opt.SetOptimizable(m)
	opt.Run(3000)
	par := opt.GetMaxLParameters()
	assert.InDelta(t, 1, par["x"], 0.5)
	assert.InDelta(t, -2, par["y"], 0.5)
}

func TestAdaptiveMH(t *testing.T) {
	rand.Seed(3)
	as := NewAdaptiveSettings()
	as.Skip = 100
	as.MaxAdapt = 4000
	m := newQuadModel(0, 0, as.ParameterGenerator)
	opt := NewMH(false, 0)
	opt.SetOptimizable(m)
	opt.Run(5000)
	for _, par := range m.parameters {
		a := par.(*AdaptiveParameter)
		// learned from the unit variance target
		assert.True(t, a.ProposalSD() > as.SD*as.Lambda, "%s: %v", a.Name(), a.ProposalSD())
	}
	assert.InDelta(t, m.compute(), m.Likelihood(), 1e-12)
}

func TestSimplex(t *testing.T) {
	m := newQuadModel(4, 3, nil)
	opt := NewDS()
	opt.SetOptimizable(m)
	opt.Run(1000)
	assert.InDelta(t, 0, opt.GetMaxL(), 1e-6)
	assert.InDelta(t, 1, m.x, 1e-3)
	assert.InDelta(t, -2, m.y, 1e-3)
	assert.Equal(t, "simplex", opt.Summary().Method)
}

func TestLBFGSB(t *testing.T) {
	m := newQuadModel(4, 3, nil)
	opt := NewLBFGSB()
	opt.SetOptimizable(m)
	opt.Run(100)
	assert.InDelta(t, 0, opt.GetMaxL(), 1e-6)
	assert.InDelta(t, 1, m.x, 1e-3)
	assert.InDelta(t, -2, m.y, 1e-3)
	assert.False(t, math.IsNaN(opt.GetL()))
}
