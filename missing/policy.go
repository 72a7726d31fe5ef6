package missing

import (
	"fmt"
	"math"
)

// Policy decides how tips with missing values take part in the
// propagation.
type Policy interface {
	// Classify returns the status of the tip.
	Classify(tip int) Status
	// Mask returns the dimensions of the tip which contribute to the
	// likelihood, or nil if the tip is excluded from the merge.
	Mask(tip int) ([]bool, error)
	// Merge accumulates the belief (mean1, precision1) into
	// (mean0, precision0) component-wise. Components with a false
	// mask entry keep the accumulated value. A nil mask selects all
	// the components.
	Merge(mean0, precision0, mean1, precision1 []float64, mask []bool)
	// Pattern returns the underlying observation pattern.
	Pattern() *Pattern
	String() string
}

// NewPolicy creates a policy by name: "complete" or "partial".
func NewPolicy(name string, p *Pattern) (Policy, error) {
	switch name {
	case "complete", "":
		return &CompletelyMissingPolicy{p}, nil
	case "partial":
		return &PartiallyMissingPolicy{p}, nil
	}
	return nil, fmt.Errorf("unknown missing data policy: %q", name)
}

// CompletelyMissingPolicy supports tips which are either fully
// observed or fully missing. Missing tips contribute nothing to the
// merge; their values are inferred by the pre-order pass.
type CompletelyMissingPolicy struct {
	pattern *Pattern
}

// NewCompletelyMissing creates a completely missing policy.
func NewCompletelyMissing(p *Pattern) *CompletelyMissingPolicy {
	return &CompletelyMissingPolicy{p}
}

// Classify returns the status of the tip.
func (c *CompletelyMissingPolicy) Classify(tip int) Status {
	return c.pattern.Status(tip)
}

// Mask returns the mask for an observed tip, nil for a missing tip
// and ErrPartiallyMissing for a partially missing tip.
func (c *CompletelyMissingPolicy) Mask(tip int) ([]bool, error) {
	switch c.pattern.Status(tip) {
	case CompletelyMissing:
		return nil, nil
	case PartiallyMissing:
		return nil, fmt.Errorf("tip %d: %w", tip, ErrPartiallyMissing)
	}
	return c.pattern.observed[tip], nil
}

// Merge accumulates the belief into (mean0, precision0). The mask is
// ignored.
func (c *CompletelyMissingPolicy) Merge(mean0, precision0, mean1, precision1 []float64, mask []bool) {
	for i := range mean0 {
		mean0[i], precision0[i] = WeightedAverage(mean0[i], precision0[i], mean1[i], precision1[i])
	}
}

// Pattern returns the observation pattern.
func (c *CompletelyMissingPolicy) Pattern() *Pattern {
	return c.pattern
}

func (c *CompletelyMissingPolicy) String() string {
	return "complete"
}

// PartiallyMissingPolicy masks the missing dimensions of every tip.
type PartiallyMissingPolicy struct {
	pattern *Pattern
}

// NewPartiallyMissing creates a partially missing policy.
func NewPartiallyMissing(p *Pattern) *PartiallyMissingPolicy {
	return &PartiallyMissingPolicy{p}
}

// Classify returns the status of the tip.
func (pm *PartiallyMissingPolicy) Classify(tip int) Status {
	return pm.pattern.Status(tip)
}

// Mask returns the observed dimensions of the tip, nil if none is
// observed.
func (pm *PartiallyMissingPolicy) Mask(tip int) ([]bool, error) {
	if pm.pattern.Status(tip) == CompletelyMissing {
		return nil, nil
	}
	return pm.pattern.observed[tip], nil
}

// Merge accumulates the belief on the masked components only.
func (pm *PartiallyMissingPolicy) Merge(mean0, precision0, mean1, precision1 []float64, mask []bool) {
	for i := range mean0 {
		if mask != nil && !mask[i] {
			continue
		}
		mean0[i], precision0[i] = WeightedAverage(mean0[i], precision0[i], mean1[i], precision1[i])
	}
}

// Pattern returns the observation pattern.
func (pm *PartiallyMissingPolicy) Pattern() *Pattern {
	return pm.pattern
}

func (pm *PartiallyMissingPolicy) String() string {
	return "partial"
}

// WeightedAverage merges two independent Gaussian beliefs about the
// same scalar. The merged precision is the sum of the precisions and
// the mean is the precision weighted average of the means.
//
// A belief with zero precision is uninformative and the other belief
// is returned unchanged. Merging two uninformative beliefs gives the
// uninformative belief (0, 0). An infinite precision fixes the mean.
func WeightedAverage(mean0, precision0, mean1, precision1 float64) (mean, precision float64) {
	switch {
	case precision0 == 0 && precision1 == 0:
		return 0, 0
	case precision1 == 0:
		return mean0, precision0
	case precision0 == 0:
		return mean1, precision1
	}
	inf0, inf1 := math.IsInf(precision0, 1), math.IsInf(precision1, 1)
	switch {
	case inf0 && inf1:
		return (mean0 + mean1) / 2, precision0
	case inf0:
		return mean0, precision0
	case inf1:
		return mean1, precision1
	}
	precision = precision0 + precision1
	return (precision0*mean0 + precision1*mean1) / precision, precision
}
