// Package optimize implements likelihood optimizers and a
// Metropolis-Hastings sampler working on float parameters.
package optimize

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"time"

	"github.com/op/go-logging"

	"bitbucket.org/Davydov/traitgauss/checkpoint"
)

var log = logging.MustGetLogger("optimize")

// Optimizable is a model which can be optimized or sampled.
type Optimizable interface {
	GetFloatParameters() FloatParameters
	Copy() Optimizable
	Likelihood() float64
}

// Transactional is implemented by models able to save and restore
// their computed state. The sampler saves the state before every
// proposal and restores it if the proposal is rejected.
type Transactional interface {
	Checkpoint()
	Rollback()
	Commit()
}

// Optimizer is the common interface of the optimizers.
type Optimizer interface {
	SetOptimizable(Optimizable)
	WatchSignals(...os.Signal)
	SetReportPeriod(period int)
	SetOutput(io.Writer)
	SetCheckpointIO(*checkpoint.IO)
	Run(iterations int)
	PrintResults()
	Summary() Summary
	GetL() float64
	GetMaxL() float64
	GetMaxLParameters() map[string]float64
	Trace() []TracePoint
}

// TracePoint is a reported likelihood value.
type TracePoint struct {
	Iteration  int
	Likelihood float64
}

// Summary is the optimizer run summary.
type Summary struct {
	// Method is the optimization method name.
	Method string `json:"method"`
	// StartingLnL is the log likelihood at the starting point.
	StartingLnL float64 `json:"startingLnL"`
	// FinalLnL is the log likelihood in the end of the run.
	FinalLnL float64 `json:"finalLnL"`
	// MaxLnL is the maximum log likelihood found.
	MaxLnL float64 `json:"maxLnL"`
	// MaxLParameters is the parameter values at the maximum.
	MaxLParameters map[string]float64 `json:"maxLParameters"`
	// Iterations is the number of iterations performed.
	Iterations int `json:"iterations"`
	// LikelihoodCalls is the number of likelihood computations.
	LikelihoodCalls int `json:"likelihoodCalls"`
	// Time is the optimization time in seconds.
	Time float64 `json:"time"`
}

// BaseOptimizer implements the functionality shared by all the
// optimizers.
type BaseOptimizer struct {
	Optimizable
	name       string
	parameters FloatParameters
	i          int
	calls      int
	startL     float64
	l          float64
	maxL       float64
	maxLPar    []float64
	repPeriod  int
	sig        chan os.Signal
	output     io.Writer
	trace      []TracePoint
	cpIO       *checkpoint.IO
	startTime  time.Time
	deltaT     float64
	Quiet      bool
}

// SetOptimizable sets the model.
func (o *BaseOptimizer) SetOptimizable(opt Optimizable) {
	o.Optimizable = opt
	o.parameters = opt.GetFloatParameters()
}

// WatchSignals makes the optimizer stop on the signals.
func (o *BaseOptimizer) WatchSignals(sigs ...os.Signal) {
	o.sig = make(chan os.Signal, 1)
	signal.Notify(o.sig, sigs...)
}

// SetReportPeriod sets how often the trajectory is written.
func (o *BaseOptimizer) SetReportPeriod(period int) {
	if period < 1 {
		period = 1
	}
	o.repPeriod = period
}

// SetOutput sets the trajectory output. Nil disables the output.
func (o *BaseOptimizer) SetOutput(w io.Writer) {
	o.output = w
}

// SetCheckpointIO enables checkpointing.
func (o *BaseOptimizer) SetCheckpointIO(cpIO *checkpoint.IO) {
	o.cpIO = cpIO
}

// signalled returns true if a signal was received.
func (o *BaseOptimizer) signalled() bool {
	select {
	case s := <-o.sig:
		log.Warningf("Received signal %v, exiting.", s)
		return true
	default:
	}
	return false
}

// loadCheckpoint sets the parameters from the checkpoint if there is
// one. It returns the iteration to resume from.
func (o *BaseOptimizer) loadCheckpoint() int {
	if o.cpIO == nil {
		return 0
	}
	data, err := o.cpIO.Load()
	if err != nil {
		log.Errorf("Error loading checkpoint: %v", err)
		return 0
	}
	if data == nil {
		return 0
	}
	if err := o.parameters.SetFromMap(data.Parameters); err != nil {
		log.Errorf("Checkpoint doesn't match the model: %v", err)
		return 0
	}
	if data.Final {
		return 0
	}
	return data.Iter
}

// SaveStart computes the starting likelihood and resets the counters.
func (o *BaseOptimizer) SaveStart() {
	o.startTime = time.Now()
	o.i = o.loadCheckpoint()
	o.startL = o.Likelihood()
	o.calls++
	o.l = o.startL
	o.maxL = o.startL
	o.maxLPar = o.parameters.Values(o.maxLPar)
	if o.cpIO != nil {
		o.cpIO.SetNow()
	}
}

// saveMax updates the maximum if l is larger.
func (o *BaseOptimizer) saveMax(l float64) {
	if l > o.maxL {
		o.maxL = l
		o.maxLPar = o.parameters.Values(o.maxLPar)
	}
}

// saveDeltaT stores the optimization time.
func (o *BaseOptimizer) saveDeltaT() {
	o.deltaT = time.Since(o.startTime).Seconds()
}

// SaveCheckpoint saves the current state if checkpointing is enabled
// and the last checkpoint is old enough. A final checkpoint is always
// saved.
func (o *BaseOptimizer) SaveCheckpoint(final bool) {
	if o.cpIO == nil || !final && !o.cpIO.Old() {
		return
	}
	data := &checkpoint.Data{
		Parameters: o.parameters.ValuesMap(),
		Likelihood: o.l,
		Iter:       o.i,
		Final:      final,
	}
	if err := o.cpIO.Save(data); err != nil {
		log.Errorf("Checkpoint was not saved: %v", err)
	}
}

// PrintHeader writes the trajectory header.
func (o *BaseOptimizer) PrintHeader() {
	if o.output != nil && !o.Quiet {
		fmt.Fprintf(o.output, "iteration\tlikelihood\t%s\n", o.parameters.NamesString())
	}
}

// PrintLine records the current state every period iterations.
func (o *BaseOptimizer) PrintLine(l float64, period int) {
	o.l = l
	if period > 0 && o.i%period != 0 {
		return
	}
	o.trace = append(o.trace, TracePoint{Iteration: o.i, Likelihood: l})
	if o.output != nil && !o.Quiet {
		fmt.Fprintf(o.output, "%d\t%f\t%s\n", o.i, l, o.parameters.ValuesString())
	}
	o.SaveCheckpoint(false)
}

// PrintResults logs the maximum likelihood and the parameter values.
func (o *BaseOptimizer) PrintResults() {
	log.Noticef("Maximum likelihood: %v", o.maxL)
	log.Infof("Likelihood computations: %v", o.calls)
	log.Infof("Optimization time: %.2fs", o.deltaT)
	names := o.parameters.Names(nil)
	for i, v := range o.maxLPar {
		log.Noticef("%s=%v", names[i], v)
	}
}

// Summary returns the run summary.
func (o *BaseOptimizer) Summary() Summary {
	return Summary{
		Method:          o.name,
		StartingLnL:     o.startL,
		FinalLnL:        o.l,
		MaxLnL:          o.maxL,
		MaxLParameters:  o.GetMaxLParameters(),
		Iterations:      o.i,
		LikelihoodCalls: o.calls,
		Time:            o.deltaT,
	}
}

// GetL returns the last likelihood value.
func (o *BaseOptimizer) GetL() float64 {
	return o.l
}

// GetMaxL returns the maximum likelihood value.
func (o *BaseOptimizer) GetMaxL() float64 {
	return o.maxL
}

// GetMaxLParameters returns the parameter values at the maximum.
func (o *BaseOptimizer) GetMaxLParameters() map[string]float64 {
	m := make(map[string]float64, len(o.maxLPar))
	for i, name := range o.parameters.Names(nil) {
		if i < len(o.maxLPar) {
			m[name] = o.maxLPar[i]
		}
	}
	return m
}

// Trace returns the reported likelihood values.
func (o *BaseOptimizer) Trace() []TracePoint {
	return o.trace
}

// SetMaxLParameters sets the model parameters to the maximum found.
func (o *BaseOptimizer) SetMaxLParameters() {
	if len(o.maxLPar) == len(o.parameters) {
		o.parameters.SetValues(o.maxLPar)
	}
}
