package main

import (
	"fmt"
	"io"
	"os"
	"syscall"
	"time"

	bolt "go.etcd.io/bbolt"

	"bitbucket.org/Davydov/traitgauss/checkpoint"
	"bitbucket.org/Davydov/traitgauss/model"
	"bitbucket.org/Davydov/traitgauss/optimize"
)

// optimizerSettings stores settings for creation of a new optimizer.
type optimizerSettings struct {
	method string

	iterations int
	report     int

	accept   int
	adaptive bool
	skip     int
	maxAdapt int

	randomize bool
	startF    string

	trajF io.Writer

	db        *bolt.DB
	key       []byte
	cpSeconds float64
}

// newOptimizerSettings creates a new optimizerSettings from the
// command line parameters (global variables).
func newOptimizerSettings(method string, trajF io.Writer, db *bolt.DB, key []byte) *optimizerSettings {
	return &optimizerSettings{
		method: method,

		iterations: *iterations,
		report:     *report,

		accept:   *accept,
		adaptive: *adaptive,
		skip:     *skip,
		maxAdapt: *maxAdapt,

		randomize: *randomize,
		startF:    *startF,

		trajF: trajF,

		db:        db,
		key:       key,
		cpSeconds: *cpSeconds,
	}
}

// create creates and initializes a new optimizer for the model.
func (o *optimizerSettings) create(m *model.Model) (optimize.Optimizer, error) {
	if o.startF != "" {
		par := m.GetFloatParameters()
		l, err := lastLine(o.startF)
		if err == nil {
			err = par.ReadLine(l)
		}
		if err != nil {
			log.Debug("Reading start file as JSON")
			if err2 := par.ReadFromJSON(o.startF); err2 != nil {
				log.Error("Error reading start position from JSON:", err2)
				return nil, fmt.Errorf("reading start position from trajectory file: %v", err)
			}
		}
		if !par.InRange() {
			return nil, fmt.Errorf("initial parameters are not in the range")
		}
	} else if o.randomize {
		log.Info("Using uniform (in the boundaries) random starting point")
		m.GetFloatParameters().Randomize()
	}

	// iteration to skip before annealing, for adaptive mcmc
	annealingSkip := 0
	if o.adaptive {
		as := optimize.NewAdaptiveSettings()
		if o.skip < 0 {
			o.skip = o.iterations / 20
		}
		if o.maxAdapt < 0 {
			o.maxAdapt = o.iterations / 5
		}
		annealingSkip = o.maxAdapt
		log.Infof("Setting adaptive parameters, skip=%v, maxAdapt=%v", o.skip, o.maxAdapt)
		as.Skip = o.skip
		as.MaxAdapt = o.maxAdapt
		m.SetAdaptive(as)
	}
	log.Infof("Model has %d parameters.", len(m.GetFloatParameters()))

	opt, err := o.getOptimizer(annealingSkip)
	if err != nil {
		return nil, err
	}
	log.Infof("Using %s optimization.", o.method)

	if o.trajF != nil {
		opt.SetOutput(o.trajF)
	}
	opt.SetOptimizable(m)
	opt.SetReportPeriod(o.report)
	opt.WatchSignals(os.Interrupt, syscall.SIGTERM)
	if o.db != nil {
		opt.SetCheckpointIO(checkpoint.NewIO(o.db, o.key, o.cpSeconds))
	}
	return opt, nil
}

// getOptimizer returns an optimizer from settings.
func (o *optimizerSettings) getOptimizer(annealingSkip int) (optimize.Optimizer, error) {
	switch o.method {
	case "lbfgsb":
		return optimize.NewLBFGSB(), nil
	case "simplex":
		return optimize.NewDS(), nil
	case "mh":
		chain := optimize.NewMH(false, 0)
		chain.AccPeriod = o.accept
		return chain, nil
	case "annealing":
		chain := optimize.NewMH(true, annealingSkip)
		chain.AccPeriod = o.accept
		return chain, nil
	case "none":
		return optimize.NewNone(), nil
	}
	return nil, fmt.Errorf("unknown optimization method: %s", o.method)
}

// runOptimization optimizes the model. The model parameters are set to
// the maximum likelihood values in the end.
func runOptimization(m *model.Model, o *optimizerSettings) (summary OptimizationSummary, opt optimize.Optimizer, err error) {
	startTime := time.Now()
	summary.StartingTree = m.Tree().String()

	opt, err = o.create(m)
	if err != nil {
		return
	}
	opt.Run(o.iterations)
	opt.PrintResults()
	summary.Optimizer = opt.Summary()

	if err = m.GetFloatParameters().SetFromMap(opt.GetMaxLParameters()); err != nil {
		return
	}
	l := m.Likelihood()
	if err = m.Err(); err != nil {
		return
	}
	log.Noticef("lnL=%f", l)
	summary.Model = m.Summary()
	summary.FinalTree = m.Tree().String()
	summary.Time = time.Since(startTime).Seconds()
	return
}
