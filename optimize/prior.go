package optimize

import (
	"math"
)

// FlatPrior returns an improper flat log prior.
func FlatPrior() func(float64) float64 {
	return func(float64) float64 {
		return 0
	}
}

// UniformPrior returns the uniform log prior density. incmin and
// incmax control whether the boundaries are included.
func UniformPrior(min, max float64, incmin, incmax bool) func(float64) float64 {
	if max <= min {
		panic("max <= min")
	}
	return func(x float64) float64 {
		if (incmin && x < min) ||
			(!incmin && x <= min) ||
			(incmax && x > max) ||
			(!incmax && x >= max) {
			return math.Inf(-1)
		}
		return -math.Log(max - min)
	}
}

// GammaPrior returns the gamma log prior density.
func GammaPrior(shape, scale float64, inczero bool) func(float64) float64 {
	if shape <= 0 || scale <= 0 {
		panic("shape and scale of gamma distribution must be > 0")
	}
	g, _ := math.Lgamma(shape)
	return func(x float64) float64 {
		if x < 0 || (x == 0 && !inczero) {
			return math.Inf(-1)
		}
		return (shape-1)*math.Log(x) - x/scale - shape*math.Log(scale) - g
	}
}

// ExponentialPrior returns the exponential log prior density.
func ExponentialPrior(rate float64, inczero bool) func(float64) float64 {
	if rate <= 0 {
		panic("exponential rate should be > 0")
	}
	return func(x float64) float64 {
		if x < 0 || (x == 0 && !inczero) {
			return math.Inf(-1)
		}
		return math.Log(rate) - rate*x
	}
}

// NormalPrior returns the normal log prior density.
func NormalPrior(mean, sd float64) func(float64) float64 {
	if sd <= 0 {
		panic("sd should be > 0")
	}
	return func(x float64) float64 {
		z := (x - mean) / sd
		return -math.Log(sd) - math.Log(2*math.Pi)/2 - z*z/2
	}
}

// ProductPrior returns the log density of the product of two
// priors.
func ProductPrior(f, g func(float64) float64) func(float64) float64 {
	return func(x float64) float64 {
		return f(x) + g(x)
	}
}
