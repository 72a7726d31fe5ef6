// Package dist implements the distribution functions used for the
// likelihood-ratio test and the credible intervals.
package dist

import (
	"fmt"
	"math"

	"github.com/gonum/mathext"
)

// Chi2Survival returns Prob{x>z} where x is Chi2 distributed with df
// degrees of freedom.
func Chi2Survival(z, df float64) float64 {
	if df <= 0 {
		return math.NaN()
	}
	if z <= 0 {
		return 1
	}
	return mathext.GammaIncComp(df/2, z/2)
}

// QuantileChi2 returns z so that Prob{x<z}=prob where x is Chi2
// distributed with df degrees of freedom.
func QuantileChi2(prob, df float64) float64 {
	if df <= 0 || prob < 0 || prob > 1 {
		return math.NaN()
	}
	return 2 * mathext.GammaIncInv(df/2, prob)
}

// QuantileNormal returns the quantile of the standard normal
// distribution.
func QuantileNormal(prob float64) float64 {
	if prob <= 0 {
		return math.Inf(-1)
	}
	if prob >= 1 {
		return math.Inf(1)
	}
	return mathext.NormalQuantile(prob)
}

// LRT is a likelihood-ratio test of a nested model L0 against L1.
type LRT struct {
	L0        float64 `json:"lnL0"`
	L1        float64 `json:"lnL1"`
	DF        int     `json:"df"`
	Statistic float64 `json:"statistic"`
	PValue    float64 `json:"pValue"`
}

// NewLRT computes the likelihood-ratio test. A negative statistic
// caused by an imperfect optimization is set to zero.
func NewLRT(l0, l1 float64, df int) (*LRT, error) {
	if df <= 0 {
		return nil, fmt.Errorf("wrong number of degrees of freedom: %d", df)
	}
	if math.IsNaN(l0) || math.IsNaN(l1) {
		return nil, fmt.Errorf("likelihood is NaN")
	}
	stat := 2 * (l1 - l0)
	if stat < 0 {
		stat = 0
	}
	return &LRT{
		L0:        l0,
		L1:        l1,
		DF:        df,
		Statistic: stat,
		PValue:    Chi2Survival(stat, float64(df)),
	}, nil
}

func (t *LRT) String() string {
	return fmt.Sprintf("2ΔlnL=%g, df=%d, p=%g", t.Statistic, t.DF, t.PValue)
}
