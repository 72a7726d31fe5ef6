/*
Traitgauss fits models of continuous multivariate trait evolution on a
phylogenetic tree. Traits diffuse along the branches as a Gaussian
process with a selection (precision) matrix; missing tip values and
ancestral states are integrated out exactly.

The basic usage looks like this:

	traitgauss optimize model.yaml tree.nwk traits.tsv

It optimizes the free parameters of the model using L-BFGS-B.

Other commands compute the likelihood (like), sample ancestral states
and missing values (sample), simulate trait values (simulate) and test
nested models (lrt). To see all the options run:

	traitgauss --help
*/
package main

import (
	"fmt"
	"io"
	"math/rand"
	"os"
	"runtime/pprof"
	"time"

	"github.com/op/go-logging"
	bolt "go.etcd.io/bbolt"
	"gopkg.in/alecthomas/kingpin.v2"

	"bitbucket.org/Davydov/traitgauss/checkpoint"
	"bitbucket.org/Davydov/traitgauss/dist"
	"bitbucket.org/Davydov/traitgauss/gauss"
	"bitbucket.org/Davydov/traitgauss/optimize"
	"bitbucket.org/Davydov/traitgauss/traits"
)

// These three variables are set during the compilation.
var githash = ""
var gitbranch = ""
var buildstamp = ""
var version = fmt.Sprintf("branch: %s, revision: %s, build time: %s", gitbranch, githash, buildstamp)

// Logger settings.
var log = logging.MustGetLogger("traitgauss")
var formatter = logging.MustStringFormatter(`%{message}`)

// loggers are the modules which log.
var loggers = []string{"traitgauss", "model", "optimize", "checkpoint", "gauss", "traits"}

// input holds the positional arguments shared by the commands.
type input struct {
	config *string
	tree   *string
	traits *string
}

func addInput(cmd *kingpin.CmdClause) input {
	return input{
		config: cmd.Arg("config", "model configuration (YAML)").Required().ExistingFile(),
		tree:   cmd.Arg("tree", "phylogenetic tree (newick)").Required().ExistingFile(),
		traits: cmd.Arg("traits", "trait table").Required().ExistingFile(),
	}
}

// command-line options
var (
	// application
	app = kingpin.New("traitgauss", "multivariate Gaussian trait evolution on a tree").Version(version)

	// technical
	seed       = app.Flag("seed", "random generator seed, default time based").Default("-1").Int64()
	cpuProfile = app.Flag("cpuprofile", "write cpu profile to file").String()

	// input/output
	outLogF  = app.Flag("log", "write log to a file").String()
	logLevel = app.Flag("loglevel", "set loglevel "+
		"('critical', 'error', 'warning', 'notice', 'info', 'debug')").
		Default("notice").
		Enum("critical", "error", "warning", "notice", "info", "debug")
	jsonF = app.Flag("json", "write json output to a file").String()

	// likelihood
	likeCmd   = app.Command("like", "compute the likelihood and the root state")
	likeInput = addInput(likeCmd)

	// optimization
	optCmd   = app.Command("optimize", "optimize the model parameters")
	optInput = addInput(optCmd)
	method   = optCmd.Flag("method", "optimization method to use "+
		"(lbfgsb: limited-memory Broyden–Fletcher–Goldfarb–Shanno with bounding constraints, "+
		"simplex: downhill simplex, "+
		"annealing: simulated annealing, "+
		"mh: Metropolis-Hastings, "+
		"none: just compute likelihood, no optimization"+
		")").Default("lbfgsb").Enum("lbfgsb", "simplex", "annealing", "mh", "none")

	// sampling
	sampleCmd   = app.Command("sample", "sample ancestral states and missing tip values")
	sampleInput = addInput(sampleCmd)
	sampleMode  = sampleCmd.Flag("mode", "draw from the conditional distribution or use the conditional mean").
			Default("draw").Enum("draw", "mean")
	nSamples   = sampleCmd.Flag("n", "number of samples").Default("1").Int()
	ancestral  = sampleCmd.Flag("ancestral", "write all the node values, not only the tips").Bool()
	sampleOutF = sampleCmd.Flag("out", "write the sampled tables to a file").String()

	// simulation
	simCmd   = app.Command("simulate", "simulate trait values on the tree")
	simInput = addInput(simCmd)
	simOutF  = simCmd.Flag("out", "write the simulated table to a file").String()
	simKeep  = simCmd.Flag("keepmissing", "keep the missing pattern of the input table").Bool()

	// likelihood-ratio test
	lrtCmd    = app.Command("lrt", "likelihood-ratio test of nested models")
	lrtH0     = lrtCmd.Arg("h0", "null model configuration (YAML)").Required().ExistingFile()
	lrtH1     = lrtCmd.Arg("h1", "alternative model configuration (YAML)").Required().ExistingFile()
	lrtTree   = lrtCmd.Arg("tree", "phylogenetic tree (newick)").Required().ExistingFile()
	lrtTraits = lrtCmd.Arg("traits", "trait table").Required().ExistingFile()
	lrtDF     = lrtCmd.Flag("df", "degrees of freedom, difference in the number of parameters by default").Int()
	lrtMethod = lrtCmd.Flag("method", "optimization method (lbfgsb, simplex, annealing)").
			Default("lbfgsb").Enum("lbfgsb", "simplex", "annealing")

	// optimizer parameters, shared
	randomize  = app.Flag("randomize", "use uniformly distributed random starting point").Bool()
	startF     = app.Flag("start", "read start position from the trajectory or JSON file").ExistingFile()
	iterations = app.Flag("iter", "number of iterations").Default("10000").Int()
	report     = app.Flag("report", "report every N iterations").Default("10").Int()
	outF       = app.Flag("out-traj", "write optimization trajectory to a file").String()
	plotF      = app.Flag("plot", "plot the likelihood trace to an image file (png, svg, pdf)").String()

	// mcmc parameters
	accept = app.Flag("accept", "report acceptance rate every N iterations").Default("200").Int()

	// adaptive mcmc parameters
	adaptive = app.Flag("adaptive", "use adaptive MCMC").Bool()
	skip     = app.Flag("skip", "number of iterations to skip for adaptive mcmc (5% by default)").Default("-1").Int()
	maxAdapt = app.Flag("maxadapt", "stop adapting after iteration (20% by default)").Default("-1").Int()

	// checkpoints
	cpFileName = app.Flag("checkpoint", "checkpoint database, an interrupted run resumes from it").String()
	cpSeconds  = app.Flag("checkpoint-seconds", "save a checkpoint every N seconds").Default("60").Float64()
)

func setupLogging() (io.Closer, error) {
	logging.SetFormatter(formatter)

	var backend *logging.LogBackend
	var closer io.Closer
	if *outLogF != "" {
		f, err := os.OpenFile(*outLogF, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0666)
		if err != nil {
			return nil, err
		}
		closer = f
		backend = logging.NewLogBackend(f, "", 0)
	} else {
		backend = logging.NewLogBackend(os.Stderr, "", 0)
	}
	logging.SetBackend(backend)

	level, err := logging.LogLevel(*logLevel)
	if err != nil {
		return closer, err
	}
	for _, module := range loggers {
		logging.SetLevel(level, module)
	}
	return closer, nil
}

func main() {
	cmd := kingpin.MustParse(app.Parse(os.Args[1:]))

	closer, err := setupLogging()
	if err != nil {
		log.Fatal("Error setting up logging:", err)
	}
	if closer != nil {
		defer closer.Close()
	}

	// print revision
	log.Info(version)

	// print commandline
	log.Info("Command line:", os.Args)

	if *seed == -1 {
		*seed = time.Now().UnixNano()
		log.Debug("Random seed from time")
	}
	log.Infof("Random seed=%v", *seed)
	rand.Seed(*seed)

	if *cpuProfile != "" {
		f, err := os.Create(*cpuProfile)
		if err != nil {
			log.Fatal(err)
		}
		pprof.StartCPUProfile(f)
		defer pprof.StopCPUProfile()
	}

	startTime := time.Now()
	summary := &CallSummary{
		Version:     version,
		CommandLine: os.Args,
		Seed:        *seed,
	}

	switch cmd {
	case likeCmd.FullCommand():
		err = like(summary)
	case optCmd.FullCommand():
		err = optimizeCmd(summary)
	case sampleCmd.FullCommand():
		err = sample()
	case simCmd.FullCommand():
		err = simulate()
	case lrtCmd.FullCommand():
		err = lrt(summary)
	}
	if err != nil {
		log.Fatal(err)
	}

	summary.TotalTime = time.Since(startTime).Seconds()
	log.Noticef("Running time: %v", time.Since(startTime))

	// output summary in json format
	if *jsonF != "" {
		if err := writeJSON(*jsonF, summary); err != nil {
			log.Error(err)
		}
	}
}

// openCheckpoint opens the checkpoint database if requested.
func openCheckpoint() (*bolt.DB, error) {
	if *cpFileName == "" {
		return nil, nil
	}
	log.Infof("Checkpoint database: %s", *cpFileName)
	return checkpoint.OpenDB(*cpFileName)
}

// trajectory opens the trajectory output, nil if it is not
// requested.
func trajectory() (io.Writer, func(), error) {
	if *outF == "" {
		return nil, func() {}, nil
	}
	f, err := os.Create(*outF)
	if err != nil {
		return nil, nil, err
	}
	return f, func() { f.Close() }, nil
}

// like computes the likelihood and reports the root state.
func like(summary *CallSummary) error {
	d, err := newData(*likeInput.tree, *likeInput.traits)
	if err != nil {
		return err
	}
	c, err := readConfig(*likeInput.config)
	if err != nil {
		return err
	}
	m, err := newModel(d, c)
	if err != nil {
		return err
	}
	l := m.Likelihood()
	if err := m.Err(); err != nil {
		return err
	}
	fmt.Printf("lnL=%f\n", l)
	s := m.Summary()
	for _, r := range s.Root {
		fmt.Printf("root %s: %f [%f, %f]\n", r.Trait, r.Mean, r.Lower, r.Upper)
	}
	summary.Optimizations = append(summary.Optimizations, OptimizationSummary{
		StartingTree: m.Tree().String(),
		Model:        s,
	})
	return nil
}

// optimizeCmd optimizes a single model.
func optimizeCmd(summary *CallSummary) error {
	d, err := newData(*optInput.tree, *optInput.traits)
	if err != nil {
		return err
	}
	c, err := readConfig(*optInput.config)
	if err != nil {
		return err
	}
	m, err := newModel(d, c)
	if err != nil {
		return err
	}
	db, err := openCheckpoint()
	if err != nil {
		return err
	}
	if db != nil {
		defer db.Close()
	}
	traj, closeTraj, err := trajectory()
	if err != nil {
		return err
	}
	defer closeTraj()

	settings := newOptimizerSettings(*method, traj, db, checkpoint.Key("optimize", *method))
	res, opt, err := runOptimization(m, settings)
	if err != nil {
		return err
	}
	summary.Optimizations = append(summary.Optimizations, res)
	if *plotF != "" {
		return plotTrace(*plotF, map[string][]optimize.TracePoint{"": opt.Trace()})
	}
	return nil
}

// sample draws ancestral states and missing values.
func sample() error {
	d, err := newData(*sampleInput.tree, *sampleInput.traits)
	if err != nil {
		return err
	}
	c, err := readConfig(*sampleInput.config)
	if err != nil {
		return err
	}
	m, err := newModel(d, c)
	if err != nil {
		return err
	}
	mode := gauss.Draw
	if *sampleMode == "mean" {
		mode = gauss.Mean
	}
	rng := rand.New(rand.NewSource(*seed))
	for i := 0; i < *nSamples; i++ {
		var table *traits.Table
		if *ancestral {
			values, err := m.Sample(mode, rng)
			if err != nil {
				return err
			}
			table = nodeTable(m.Traits(), m.Tree(), values)
		} else {
			tips, err := m.Impute(mode, rng)
			if err != nil {
				return err
			}
			table = traits.FromTips(m.Traits(), m.Tree(), tips)
		}
		fn := *sampleOutF
		if fn != "" && *nSamples > 1 {
			fn = fmt.Sprintf("%s.%d", fn, i)
		}
		if err := writeTable(fn, table); err != nil {
			return err
		}
	}
	return nil
}

// simulate draws trait values from the model ignoring the data.
func simulate() error {
	d, err := newData(*simInput.tree, *simInput.traits)
	if err != nil {
		return err
	}
	c, err := readConfig(*simInput.config)
	if err != nil {
		return err
	}
	m, err := newModel(d, c)
	if err != nil {
		return err
	}
	values, err := m.Simulate(rand.New(rand.NewSource(*seed)))
	if err != nil {
		return err
	}
	leaves := m.Tree().Leaves()
	tips := make([][]float64, len(leaves))
	for i, node := range leaves {
		tips[i] = values[node.ID]
	}
	if *simKeep {
		table, err := selectTraits(d.Table, m.Traits())
		if err != nil {
			return err
		}
		observed, err := table.Match(m.Tree())
		if err != nil {
			return err
		}
		maskMissing(tips, observed)
	}
	return writeTable(*simOutF, traits.FromTips(m.Traits(), m.Tree(), tips))
}

// lrt performs the likelihood-ratio test of two nested models.
func lrt(summary *CallSummary) error {
	d, err := newData(*lrtTree, *lrtTraits)
	if err != nil {
		return err
	}
	db, err := openCheckpoint()
	if err != nil {
		return err
	}
	if db != nil {
		defer db.Close()
	}
	traj, closeTraj, err := trajectory()
	if err != nil {
		return err
	}
	defer closeTraj()

	var lnL [2]float64
	var npar [2]int
	traces := make(map[string][]optimize.TracePoint)
	for i, fn := range []string{*lrtH0, *lrtH1} {
		hyp := fmt.Sprintf("H%d", i)
		log.Noticef("Optimizing %s", hyp)
		c, err := readConfig(fn)
		if err != nil {
			return err
		}
		m, err := newModel(d, c)
		if err != nil {
			return err
		}
		settings := newOptimizerSettings(*lrtMethod, traj, db, checkpoint.Key("lrt", hyp))
		res, opt, err := runOptimization(m, settings)
		if err != nil {
			return err
		}
		res.Hypothesis = hyp
		summary.Optimizations = append(summary.Optimizations, res)
		lnL[i] = opt.GetMaxL()
		npar[i] = len(m.GetFloatParameters())
		traces[hyp] = opt.Trace()
	}

	df := *lrtDF
	if df == 0 {
		df = npar[1] - npar[0]
	}
	test, err := dist.NewLRT(lnL[0], lnL[1], df)
	if err != nil {
		return err
	}
	log.Noticef("LRT: %v", test)
	fmt.Println(test)
	summary.Test = test
	if *plotF != "" {
		return plotTrace(*plotF, traces)
	}
	return nil
}
