package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/pkg/errors"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"

	"bitbucket.org/Davydov/traitgauss/dist"
	"bitbucket.org/Davydov/traitgauss/model"
	"bitbucket.org/Davydov/traitgauss/optimize"
	"bitbucket.org/Davydov/traitgauss/traits"
	"bitbucket.org/Davydov/traitgauss/tree"
)

// CallSummary stores the information on the program call.
type CallSummary struct {
	// Version stores traitgauss version.
	Version string `json:"version"`
	// CommandLine is the binary name and all the parameters.
	CommandLine []string `json:"commandLine"`
	// Seed is the seed used for random number generation.
	Seed int64 `json:"seed"`
	// TotalTime is the computations time in seconds.
	TotalTime float64 `json:"time"`
	// Optimizations are the optimizations performed.
	Optimizations []OptimizationSummary `json:"optimizations,omitempty"`
	// Test is the likelihood-ratio test result.
	Test *dist.LRT `json:"test,omitempty"`
}

// OptimizationSummary stores the result of one optimization.
type OptimizationSummary struct {
	// Hypothesis is H0 or H1 for the likelihood-ratio test.
	Hypothesis string `json:"hypothesis,omitempty"`
	// StartingTree is the tree before the optimization.
	StartingTree string `json:"startingTree"`
	// FinalTree is the tree after the optimization.
	FinalTree string `json:"finalTree,omitempty"`
	// Time is the computations time in seconds.
	Time      float64          `json:"optimizationTime"`
	Model     model.Summary    `json:"model"`
	Optimizer optimize.Summary `json:"optimizer"`
}

// lastLine returns the last line of a file content.
func lastLine(fn string) (line string, err error) {
	f, err := os.Open(fn)
	if err != nil {
		return line, err
	}
	defer f.Close()
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line = scanner.Text()
	}
	err = scanner.Err()
	return line, err
}

// writeJSON writes v to a file in the JSON format.
func writeJSON(fn string, v interface{}) error {
	j, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	log.Debug(string(j))
	f, err := os.Create(fn)
	if err != nil {
		return errors.Wrap(err, "creating json output file")
	}
	defer f.Close()
	_, err = f.Write(j)
	return err
}

// plotTrace saves the likelihood trace as an image; the format is
// chosen by the file extension.
func plotTrace(fn string, traces map[string][]optimize.TracePoint) error {
	p := plot.New()
	p.Title.Text = "Likelihood trace"
	p.X.Label.Text = "iteration"
	p.Y.Label.Text = "lnL"

	var lines []interface{}
	for _, name := range []string{"H0", "H1", ""} {
		trace, ok := traces[name]
		if !ok {
			continue
		}
		pts := make(plotter.XYs, len(trace))
		for i, tp := range trace {
			pts[i].X = float64(tp.Iteration)
			pts[i].Y = tp.Likelihood
		}
		label := name
		if label == "" {
			label = "lnL"
		}
		lines = append(lines, label, pts)
	}
	if err := plotutil.AddLines(p, lines...); err != nil {
		return errors.Wrap(err, "plotting trace")
	}
	if err := p.Save(6*vg.Inch, 4*vg.Inch, fn); err != nil {
		return errors.Wrap(err, "saving plot")
	}
	return nil
}

// nodeName returns the node name, or an id-based name for unnamed
// nodes.
func nodeName(node *tree.Node) string {
	if node.Name != "" {
		return node.Name
	}
	return "node" + strconv.Itoa(node.ID)
}

// nodeTable creates a table of the values of every node, indexed by
// node id.
func nodeTable(traitNames []string, t *tree.Tree, values [][]float64) *traits.Table {
	table := &traits.Table{Traits: traitNames}
	for _, node := range t.PreOrder() {
		table.Taxa = append(table.Taxa, nodeName(node))
		table.Values = append(table.Values, values[node.ID])
	}
	return table
}

// writeTable writes the table to a file, or to the standard output if
// fn is empty.
func writeTable(fn string, table *traits.Table) error {
	if fn == "" {
		return table.Write(os.Stdout)
	}
	f, err := os.Create(fn)
	if err != nil {
		return errors.Wrap(err, "creating table output file")
	}
	defer f.Close()
	if err := table.Write(f); err != nil {
		return errors.Wrap(err, fmt.Sprintf("writing %s", fn))
	}
	return nil
}
