package model

import (
	"math"

	"bitbucket.org/Davydov/traitgauss/dist"
)

// Interval is a credible interval of a trait value.
type Interval struct {
	Trait string  `json:"trait"`
	Mean  float64 `json:"mean"`
	Lower float64 `json:"lower"`
	Upper float64 `json:"upper"`
}

// RootInterval returns the marginal posterior intervals of the root
// trait values with the given coverage level.
func (m *Model) RootInterval(level float64) ([]Interval, error) {
	res, err := m.Result()
	if err != nil {
		return nil, err
	}
	root := res.Root()
	v, err := root.Variance()
	if err != nil {
		return nil, err
	}
	z := dist.QuantileNormal(0.5 + level/2)
	ints := make([]Interval, m.Dim())
	for i := range ints {
		sd := math.Sqrt(v.At(i, i))
		mean := root.Mean[i]
		ints[i] = Interval{
			Trait: m.traits[i],
			Mean:  mean,
			Lower: mean - z*sd,
			Upper: mean + z*sd,
		}
	}
	return ints, nil
}

// Summary is the model state reported after a run.
type Summary struct {
	Matrix        string     `json:"matrix"`
	Strategy      string     `json:"strategy"`
	Policy        string     `json:"policy"`
	Rate          float64    `json:"rate"`
	LnL           float64    `json:"lnL"`
	Evaluations   int        `json:"evaluations"`
	Root          []Interval `json:"root,omitempty"`
	NParameters   int        `json:"nParameters"`
	ParameterList []string   `json:"parameters"`
}

// Summary returns the model summary. The root intervals are omitted
// if the root is not identifiable.
func (m *Model) Summary() Summary {
	s := Summary{
		Matrix:        m.matrix.Kind.String(),
		Strategy:      m.strategy.String(),
		Policy:        m.policy.String(),
		Rate:          m.prop.Rate(),
		LnL:           m.Likelihood(),
		Evaluations:   m.cache.Evaluations,
		NParameters:   len(m.parameters),
		ParameterList: m.parameters.Names(nil),
	}
	if root, err := m.RootInterval(0.95); err == nil {
		s.Root = root
	} else {
		log.Debugf("root interval: %v", err)
	}
	return s
}
