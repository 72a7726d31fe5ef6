package optimize

import (
	"fmt"
	"math"
	"math/rand"
)

// Proposal draws a candidate value given the current one. All the
// proposals here are symmetric, so the Metropolis-Hastings ratio
// needs no correction term.
type Proposal func(x float64) float64

// closedUnit returns a uniform value from [0, 1]. Both ends are
// included so that the sliding window is centered on x.
func closedUnit() float64 {
	for {
		if r := rand.Float64(); r <= 0.999 {
			return r / 0.999
		}
	}
}

// NormalProposal adds a normal step with the standard deviation sd.
func NormalProposal(sd float64) Proposal {
	if !(sd > 0) {
		panic(fmt.Sprintf("normal proposal: sd should be positive, got %v", sd))
	}
	return func(x float64) float64 {
		return x + rand.NormFloat64()*sd
	}
}

// WindowProposal draws from the window of the given width centered on
// the current value.
func WindowProposal(width float64) Proposal {
	if !(width > 0) {
		panic(fmt.Sprintf("window proposal: width should be positive, got %v", width))
	}
	return func(x float64) float64 {
		return x + (closedUnit()-0.5)*width
	}
}

// IndependentProposal ignores the current value and draws from
// [min, max].
func IndependentProposal(min, max float64) Proposal {
	if !(max > min) {
		panic(fmt.Sprintf("independent proposal: empty range [%v, %v]", min, max))
	}
	return func(float64) float64 {
		return min + closedUnit()*(max-min)
	}
}

// reflectInto mirrors y at the bounds until it falls inside
// [min, max]. Either bound may be infinite.
func reflectInto(y, min, max float64) float64 {
	if math.IsNaN(y) || math.IsInf(y, 0) {
		return y
	}
	if math.IsInf(min, -1) && math.IsInf(max, 1) {
		return y
	}
	if math.IsInf(max, 1) {
		if y < min {
			return 2*min - y
		}
		return y
	}
	if math.IsInf(min, -1) {
		if y > max {
			return 2*max - y
		}
		return y
	}
	// the reflections repeat with the period of twice the width
	w := max - min
	if w <= 0 {
		return min
	}
	r := math.Mod(y-min, 2*w)
	if r < 0 {
		r += 2 * w
	}
	if r > w {
		r = 2*w - r
	}
	return min + r
}
