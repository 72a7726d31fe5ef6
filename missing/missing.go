// Package missing classifies tip trait vectors by their missing
// entries and provides the weighted average rule used to merge
// Gaussian beliefs.
package missing

import (
	"errors"
	"fmt"
	"math"
)

// ErrPartiallyMissing is returned by a policy which does not support
// tips with some (but not all) of the dimensions missing.
var ErrPartiallyMissing = errors.New("partially missing tip")

// Status is the observation status of a tip trait vector.
type Status int

// Tip statuses.
const (
	Observed Status = iota
	CompletelyMissing
	PartiallyMissing
)

// String returns the status name.
func (s Status) String() string {
	switch s {
	case Observed:
		return "observed"
	case CompletelyMissing:
		return "completely missing"
	case PartiallyMissing:
		return "partially missing"
	}
	return fmt.Sprintf("Status(%d)", int(s))
}

// Pattern is the tip-by-dimension observation pattern.
type Pattern struct {
	dim      int
	observed [][]bool
	status   []Status
}

// NewPattern creates a pattern from the per-tip observed flags.
func NewPattern(dim int, observed [][]bool) (*Pattern, error) {
	p := &Pattern{
		dim:      dim,
		observed: make([][]bool, len(observed)),
		status:   make([]Status, len(observed)),
	}
	for i, obs := range observed {
		if len(obs) != dim {
			return nil, fmt.Errorf("tip %d: expected %d dimensions, got %d", i, dim, len(obs))
		}
		p.observed[i] = append([]bool(nil), obs...)
		n := 0
		for _, o := range obs {
			if o {
				n++
			}
		}
		switch n {
		case dim:
			p.status[i] = Observed
		case 0:
			p.status[i] = CompletelyMissing
		default:
			p.status[i] = PartiallyMissing
		}
	}
	return p, nil
}

// FromValues creates a pattern where NaN values are missing.
func FromValues(dim int, values [][]float64) (*Pattern, error) {
	observed := make([][]bool, len(values))
	for i, v := range values {
		observed[i] = make([]bool, len(v))
		for j, x := range v {
			observed[i][j] = !math.IsNaN(x)
		}
	}
	return NewPattern(dim, observed)
}

// Dim returns the number of dimensions.
func (p *Pattern) Dim() int {
	return p.dim
}

// NTips returns the number of tips.
func (p *Pattern) NTips() int {
	return len(p.observed)
}

// Status returns the status of the tip.
func (p *Pattern) Status(tip int) Status {
	return p.status[tip]
}

// IsObserved returns true if the dimension of the tip is observed.
func (p *Pattern) IsObserved(tip, dim int) bool {
	return p.observed[tip][dim]
}

// NMissing returns the number of missing tip values.
func (p *Pattern) NMissing() (n int) {
	for _, obs := range p.observed {
		for _, o := range obs {
			if !o {
				n++
			}
		}
	}
	return
}
