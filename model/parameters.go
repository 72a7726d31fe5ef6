package model

import (
	"fmt"
	"strconv"

	"bitbucket.org/Davydov/traitgauss/basis"
	"bitbucket.org/Davydov/traitgauss/optimize"
)

// SetAdaptive enables adaptive mode (for adaptive MCMC).
func (m *Model) SetAdaptive(as *optimize.AdaptiveSettings) {
	m.as = as
	m.setupParameters()
}

// SetOptimizeBranchLengths enables branch-length optimization.
func (m *Model) SetOptimizeBranchLengths() {
	m.optBranch = true
	m.setupParameters()
}

// SetOptimizeRate enables diffusion rate optimization. The rate is
// confounded with the matrix scale, so it is only useful with a fixed
// matrix.
func (m *Model) SetOptimizeRate() {
	m.optRate = true
	m.setupParameters()
}

// SetOptimizePrior enables optimization of the root prior mean and
// sample size.
func (m *Model) SetOptimizePrior() {
	m.optPrior = true
	m.setupParameters()
}

// SetMaxBranchLength changes the maximum branch length for the
// optimization.
func (m *Model) SetMaxBranchLength(maxBrLen float64) {
	m.maxBrLen = maxBrLen
	m.setupParameters()
}

// SetMaxValue changes the maximum absolute value of the matrix
// entries for the optimization.
func (m *Model) SetMaxValue(maxValue float64) {
	m.maxValue = maxValue
	m.setupParameters()
}

// GetFloatParameters returns all the optimization parameters.
func (m *Model) GetFloatParameters() optimize.FloatParameters {
	return m.parameters
}

// setupParameters first deletes all the parameters and then adds
// them.
func (m *Model) setupParameters() {
	m.parameters = nil
	var fpg optimize.FloatParameterGenerator
	if m.as != nil {
		fpg = m.as.ParameterGenerator
	} else {
		fpg = optimize.BasicFloatParameterGenerator
	}
	m.addMatrixParameters(fpg)
	if m.optRate {
		m.addScalarParameter(fpg, &m.rate, "rate", 0, m.maxValue)
	}
	if m.optPrior {
		m.addScalarParameter(fpg, &m.sampleSize, "kappa", 0, m.maxValue)
		for i := range m.priorMean {
			m.addScalarParameter(fpg, &m.priorMean[i], "mu_"+m.traits[i], -m.maxValue, m.maxValue)
		}
	}
	m.addBranchParameters(fpg)
}

func entryName(i, j int) string {
	return fmt.Sprintf("a_%d_%d", i, j)
}

// addMatrixParameters adds the free entries of the matrix. The
// symmetric matrices have one parameter per pair of off-diagonal
// entries.
func (m *Model) addMatrixParameters(fpg optimize.FloatParameterGenerator) {
	p := m.matrix
	s := m.strategy
	switch {
	case s.IsDiagonal():
		for i := range p.Values {
			m.addMatrixParameter(fpg, &p.Values[i], entryName(i, i), true, nil)
		}
	case s.IsBlockDiagonal():
		start := 0
		for k := range p.Blocks {
			b := &p.Blocks[k]
			for d := range b.Diagonal {
				m.addMatrixParameter(fpg, &b.Diagonal[d], entryName(start+d, start+d), true, nil)
			}
			if b.Size() == 2 {
				if b.Upper == b.Lower && b.Rotation == nil {
					m.addMatrixParameter(fpg, &b.Upper, entryName(start, start+1), false, &b.Lower)
				} else {
					m.addMatrixParameter(fpg, &b.Upper, entryName(start, start+1), false, nil)
					m.addMatrixParameter(fpg, &b.Lower, entryName(start+1, start), false, nil)
				}
			}
			start += b.Size()
		}
	case p.Kind == basis.General:
		n := p.Dim
		sym := s.IsSymmetric()
		for i := 0; i < n; i++ {
			for j := 0; j < n; j++ {
				if sym && j < i {
					continue
				}
				var mirror *float64
				if sym && i != j {
					mirror = &p.Values[j*n+i]
				}
				m.addMatrixParameter(fpg, &p.Values[i*n+j], entryName(i, j), i == j, mirror)
			}
		}
	case p.Kind == basis.Decomposed:
		for i := range p.Values {
			m.addMatrixParameter(fpg, &p.Values[i], "lambda_"+strconv.Itoa(i), true, nil)
		}
	}
}

// addMatrixParameter adds a matrix entry. The mirror entry follows
// the parameter value.
func (m *Model) addMatrixParameter(fpg optimize.FloatParameterGenerator, v *float64, name string, positive bool, mirror *float64) {
	par := fpg(v, name)
	index := len(m.parameters)
	par.SetOnChange(func() {
		if mirror != nil {
			*mirror = *v
		}
		m.basisDone = false
		m.cache.OnUpstreamVariableChanged(m.matrix, index)
	})
	if positive {
		par.SetMin(0)
		par.SetPriorFunc(optimize.GammaPrior(1, 10, false))
	} else {
		par.SetMin(-m.maxValue)
		par.SetPriorFunc(optimize.UniformPrior(-m.maxValue, m.maxValue, true, true))
	}
	par.SetMax(m.maxValue)
	par.SetProposalFunc(optimize.NormalProposal(0.01))
	m.parameters.Append(par)
}

// addScalarParameter adds the rate or a prior parameter.
func (m *Model) addScalarParameter(fpg optimize.FloatParameterGenerator, v *float64, name string, min, max float64) {
	par := fpg(v, name)
	index := len(m.parameters)
	par.SetOnChange(func() {
		m.scalarErr = m.prop.SetRate(m.rate)
		if m.scalarErr == nil {
			m.scalarErr = m.prop.SetPrior(m.prior())
		}
		m.cache.OnUpstreamVariableChanged(m.prop, index)
	})
	par.SetMin(min)
	par.SetMax(max)
	par.SetPriorFunc(optimize.UniformPrior(min, max, true, true))
	par.SetProposalFunc(optimize.NormalProposal(0.01))
	m.parameters.Append(par)
}

// addBranchParameters adds the branch lengths. The root branch is not
// a parameter.
func (m *Model) addBranchParameters(fpg optimize.FloatParameterGenerator) {
	if !m.optBranch {
		return
	}
	for _, node := range m.tree.Nodes() {
		if node == nil || node.IsRoot() {
			continue
		}
		id := node.ID
		par := fpg(&node.BranchLength, "br"+strconv.Itoa(id))
		par.SetOnChange(func() {
			m.cache.OnUpstreamVariableChanged(m.tree, id)
		})
		par.SetPriorFunc(optimize.GammaPrior(1, 2, true))
		par.SetMin(0)
		par.SetMax(m.maxBrLen)
		par.SetProposalFunc(optimize.NormalProposal(0.01))
		m.parameters.Append(par)
	}
}
