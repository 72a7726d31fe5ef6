package optimize

import (
	"math"
	"math/rand"
)

// MH is a Metropolis-Hastings sampler. If the model is Transactional,
// the computed state is saved before every proposal and restored on
// rejection, so a rejected proposal costs one likelihood computation.
type MH struct {
	BaseOptimizer
	AccPeriod int
	annealing bool
	// iteration to skip before annealing
	annealingSkip int
	accepted      int
	rejected      int
}

// NewMH creates a new MH sampler.
func NewMH(annealing bool, annealingSkip int) (mcmc *MH) {
	mcmc = &MH{
		BaseOptimizer: BaseOptimizer{
			name:      "mh",
			repPeriod: 10,
		},
		AccPeriod:     10,
		annealing:     annealing,
		annealingSkip: annealingSkip,
	}
	if annealing {
		mcmc.name = "annealing"
	}
	return
}

// temperature returns the annealing temperature.
func (m *MH) temperature(iterations int) float64 {
	if !m.annealing || m.i < m.annealingSkip || iterations <= m.annealingSkip {
		return 1
	}
	return math.Pow(0.9, float64(m.i-m.annealingSkip)/float64(iterations-m.annealingSkip)*100)
}

// Run starts sampling.
func (m *MH) Run(iterations int) {
	m.SaveStart()
	m.PrintHeader()
	tr, _ := m.Optimizable.(Transactional)
	if tr == nil {
		log.Debug("Model cannot save its state, rejected proposals are recomputed")
	}
	accepted := 0
	lastReported := -1
	l := m.startL
	for ; m.i < iterations; m.i++ {
		T := m.temperature(iterations)
		if m.i > 0 && m.i%m.AccPeriod == 0 {
			log.Infof("Acceptance rate %.2f%%", 100*float64(accepted)/float64(m.AccPeriod))
			accepted = 0
		}

		m.PrintLine(l, m.repPeriod)
		if m.i%m.repPeriod == 0 {
			if m.annealing {
				log.Debugf("%d: L=%f, T=%f", m.i, l, T)
			} else {
				log.Debugf("%d: L=%f", m.i, l)
			}
			lastReported = m.i
		}

		par := m.parameters[rand.Intn(len(m.parameters))]
		if tr != nil {
			tr.Checkpoint()
		}
		par.Propose()
		newL := m.Likelihood()
		m.calls++

		var a float64
		if m.annealing {
			a = math.Exp((newL - l) / T)
		} else {
			a = math.Exp(par.Prior() - par.OldPrior() + newL - l)
		}

		if a > 1 || rand.Float64() < a {
			l = newL
			par.Accept(m.i)
			if tr != nil {
				tr.Commit()
			}
			accepted++
			m.accepted++
			m.saveMax(l)
		} else {
			par.Reject()
			if tr != nil {
				tr.Rollback()
			}
			m.rejected++
		}

		if m.signalled() {
			break
		}
	}

	if m.i != lastReported {
		m.PrintLine(l, 0)
	}
	m.l = l

	m.SaveCheckpoint(true)
	m.saveDeltaT()
}

// AcceptanceRate returns the proportion of accepted proposals.
func (m *MH) AcceptanceRate() float64 {
	n := m.accepted + m.rejected
	if n == 0 {
		return 0
	}
	return float64(m.accepted) / float64(n)
}
