package optimize

import (
	"math"
	"os"

	lbfgsb "github.com/idavydov/go-lbfgsb"
)

// LBFGSB is the limited-memory BFGS optimizer with box constraints.
// The gradient is computed by central finite differences on model
// copies.
type LBFGSB struct {
	BaseOptimizer
	dH   float64
	grad []float64
}

// NewLBFGSB creates a new LBFGSB optimizer.
func NewLBFGSB() (l *LBFGSB) {
	l = &LBFGSB{
		BaseOptimizer: BaseOptimizer{
			name:      "lbfgsb",
			repPeriod: 1,
		},
		dH: 1e-6,
	}
	return
}

// Logger is called by L-BFGS-B after every iteration.
func (l *LBFGSB) Logger(info *lbfgsb.OptimizationIterationInformation) {
	l.i = info.Iteration
	l.parameters.SetValues(info.X)
	l.PrintLine(-info.F, l.repPeriod)
	if l.signalled() {
		// the fortran code cannot be interrupted
		l.SaveCheckpoint(true)
		log.Critical("Optimization interrupted")
		os.Exit(1)
	}
}

// EvaluateFunction returns the negative log likelihood.
func (l *LBFGSB) EvaluateFunction(x []float64) float64 {
	if !l.parameters.ValuesInRange(x) {
		return math.Inf(+1)
	}
	l.parameters.SetValues(x)
	L := l.Likelihood()
	l.calls++
	l.saveMax(L)
	return -L
}

// EvaluateGradient computes the gradient of the negative log
// likelihood.
func (l *LBFGSB) EvaluateGradient(x []float64) (grad []float64) {
	if l.grad == nil {
		l.grad = make([]float64, len(x))
	}
	grad = l.grad
	for i := range x {
		no1 := l.Optimizable.Copy()
		par1 := no1.GetFloatParameters()
		par1.SetValues(x)
		par1[i].Set(x[i] - l.dH)
		l1 := -no1.Likelihood()

		no2 := no1.Copy()
		par2 := no2.GetFloatParameters()
		par2[i].Set(x[i] + l.dH)
		l2 := -no2.Likelihood()
		l.calls += 2

		grad[i] = (l2 - l1) / 2 / l.dH
	}
	return
}

// Run starts the optimization.
func (l *LBFGSB) Run(iterations int) {
	l.SaveStart()
	l.PrintHeader()
	bounds := make([][2]float64, len(l.parameters))
	for i, par := range l.parameters {
		bounds[i][0] = par.GetMin() + l.dH*10
		bounds[i][1] = par.GetMax() - l.dH*10
	}

	opt := new(lbfgsb.Lbfgsb)
	opt.SetApproximationSize(10)
	opt.SetFTolerance(1e-9)
	opt.SetGTolerance(1e-9)
	opt.SetBounds(bounds)
	opt.SetLogger(l.Logger)

	res, exitStatus := opt.Minimize(l, l.parameters.Values(nil))
	log.Info(exitStatus)
	if exitStatus.Code != lbfgsb.SUCCESS {
		log.Warningf("L-BFGS-B: %v", exitStatus.Message)
	}
	if res.X != nil {
		l.parameters.SetValues(res.X)
		l.l = -res.F
		l.saveMax(l.l)
	}
	// go back to the maximum found
	l.SetMaxLParameters()
	l.l = l.maxL
	l.SaveCheckpoint(true)
	l.saveDeltaT()
}
