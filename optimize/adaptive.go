// The adaptation follows the Robbins-Monro scheme for learning the
// proposal mean and variance from batches of accepted values.

package optimize

import (
	"math"
	"math/rand"
)

// AdaptiveParameter is a parameter of the adaptive MCMC. Its normal
// proposal variance is learned from the accepted values.
type AdaptiveParameter struct {
	*BasicFloatParameter
	t    int
	loct int

	// learned mean and variance
	mean     float64
	variance float64
	delta    bool

	// current batch
	bmean float64
	bm2   float64

	// window of the learned means for the convergence check
	window    []float64
	cmean     float64
	cm2       float64
	converged bool

	*AdaptiveSettings
}

// AdaptiveSettings are settings for an adaptive MCMC.
type AdaptiveSettings struct {
	// WSize window size to compute mean and variance.
	WSize int
	// K specifies how often Mu should be updated.
	K int
	// Skip is the number of iterations to skip before starting
	// adaptation.
	Skip int
	// MaxAdapt is the number of iterations to adapt.
	MaxAdapt int
	// MaxUpdate maximum number of update for a parameter.
	MaxUpdate int
	// Epsilon is the relative standard deviation of the window
	// below which the adaptation stops.
	Epsilon float64
	// C is a Robbins-Monro algorithm parameter
	C float64
	// Nu is a Robbins-Monro algorithm parameter
	Nu float64
	// Lambda is the proposal multiplier.
	Lambda float64
	// SD is initial standard deviation.
	SD float64
}

// NewAdaptiveSettings creates new settings for adaptive MCMC.
func NewAdaptiveSettings() *AdaptiveSettings {
	return &AdaptiveSettings{
		WSize:     10,
		K:         20,
		Skip:      500,
		MaxAdapt:  2000,
		MaxUpdate: 200,
		Epsilon:   5e-1,
		C:         1,
		Nu:        3,
		Lambda:    2.4,
		SD:        1e-2,
	}
}

// ParameterGenerator generates an adaptive MCMC parameter.
func (as *AdaptiveSettings) ParameterGenerator(par *float64, name string) FloatParameter {
	return NewAdaptiveParameter(par, name, as)
}

// NewAdaptiveParameter creates a new adaptive MCMC parameter.
func NewAdaptiveParameter(par *float64, name string, as *AdaptiveSettings) (a *AdaptiveParameter) {
	if as.SD <= 0 {
		panic("SD should be > 0")
	}
	if as.K < 2 {
		panic("K should be >= 2")
	}
	a = &AdaptiveParameter{
		BasicFloatParameter: NewBasicFloatParameter(par, name),
		AdaptiveSettings:    as,
		mean:                math.NaN(),
		variance:            as.SD * as.SD,
		window:              make([]float64, 0, as.WSize),
	}
	a.proposalFunc = a.adaptiveProposal
	return
}

// Accept is called if value is accepted.
func (a *AdaptiveParameter) Accept(iter int) {
	if iter >= a.Skip && iter < a.MaxAdapt {
		a.UpdateMu()
	}
}

// ProposalSD returns the current proposal standard deviation.
func (a *AdaptiveParameter) ProposalSD() float64 {
	return math.Sqrt(a.variance) * a.Lambda
}

// Converged returns true if the adaptation has stopped.
func (a *AdaptiveParameter) Converged() bool {
	return a.converged
}

// robbinsMonro returns the step size. The step decreases every
// time the batch mean crosses the learned mean.
func (a *AdaptiveParameter) robbinsMonro() float64 {
	delta := a.bmean - a.mean
	if (delta > 0 && !a.delta) || (delta < 0 && a.delta) {
		a.loct++
	}
	a.delta = delta > 0
	beta := 1 / math.Max(1, 1+a.Nu)
	return a.C / math.Pow(float64(a.loct+1), beta)
}

// checkConvergence adds the current value to the window and stops
// the adaptation if the window is stable.
func (a *AdaptiveParameter) checkConvergence() {
	v := *a.float64
	if len(a.window) == a.WSize {
		old := a.window[0]
		a.window = append(a.window[:0], a.window[1:]...)
		delta := old - a.cmean
		a.cmean -= delta / float64(len(a.window))
		a.cm2 -= delta * (old - a.cmean)
	}
	a.window = append(a.window, v)
	delta := v - a.cmean
	a.cmean += delta / float64(len(a.window))
	a.cm2 += delta * (v - a.cmean)

	if len(a.window) < a.WSize {
		return
	}
	sd := math.Sqrt(a.cm2 / float64(len(a.window)-1))
	switch {
	case sd/math.Abs(a.cmean) < a.Epsilon:
		a.converged = true
		log.Infof("%s converged, reason: SD/mean", a.Name())
	case a.t/a.K > a.MaxUpdate:
		a.converged = true
		log.Infof("%s converged, reason: max update", a.Name())
	}
}

// UpdateMu updates the learned mean and variance.
func (a *AdaptiveParameter) UpdateMu() {
	if a.converged {
		return
	}
	if math.IsNaN(a.mean) {
		a.mean = *a.float64
	}
	// index in batch 0 .. a.K-1
	bi := a.t % a.K

	if a.t > 0 && bi == 0 {
		gamma := a.robbinsMonro()
		bvariance := a.bm2 / float64(a.K-1)
		a.mean += gamma * (a.bmean - a.mean)
		a.variance += gamma * (bvariance - a.variance)
		a.checkConvergence()
		a.bmean = 0
		a.bm2 = 0
	}

	delta := *a.float64 - a.bmean
	a.bmean += delta / float64(bi+1)
	a.bm2 += delta * (*a.float64 - a.bmean)
	a.t++
}

func (a *AdaptiveParameter) adaptiveProposal(x float64) float64 {
	return x + rand.NormFloat64()*a.ProposalSD()
}
