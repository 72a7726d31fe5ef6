package main

import (
	"bytes"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hashicorp/go-multierror"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bitbucket.org/Davydov/traitgauss/basis"
	"bitbucket.org/Davydov/traitgauss/optimize"
	"bitbucket.org/Davydov/traitgauss/traits"
	"bitbucket.org/Davydov/traitgauss/tree"
)

const testConfig = `
traits: [mass, size]
matrix:
  kind: general
  values: [2, 0.5, 0.5, 1]
rate: 0.5
prior:
  mean: [0, 1]
  sampleSize: 0.1
missing: partial
partials:
  - name: ab
    taxa: [a, b]
    mean: [1, 1]
    sampleSize: 2
optimize:
  branchLengths: true
  maxBranchLength: 10
`

const testTable = `taxon	size	mass
a	1	?
b	0.5	2
c	NA	0.3
d	2	1
`

func newTestData(t *testing.T) *data {
	tr, err := tree.ParseNewick(strings.NewReader("((a:1,b:0.5):0.7,(c:0.3,d:1.2):0.4);"))
	require.NoError(t, err)
	table, err := traits.Parse(strings.NewReader(testTable))
	require.NoError(t, err)
	return &data{Tree: tr, Table: table}
}

func TestParseConfig(t *testing.T) {
	c, err := parseConfig(strings.NewReader(testConfig))
	require.NoError(t, err)
	assert.Equal(t, []string{"mass", "size"}, c.Traits)
	assert.Equal(t, "general", c.Matrix.Kind)
	assert.Equal(t, 0.5, c.Rate)
	assert.Equal(t, []float64{0, 1}, c.Prior.Mean)
	require.Len(t, c.Partials, 1)
	assert.Equal(t, []string{"a", "b"}, c.Partials[0].Taxa)
	assert.True(t, c.Optimize.BranchLengths)
	assert.NoError(t, c.validate(2))

	// defaults
	c, err = parseConfig(strings.NewReader(""))
	require.NoError(t, err)
	assert.Equal(t, "diagonal", c.Matrix.Kind)
	assert.Equal(t, 1.0, c.Rate)
	m, err := c.matrix(3)
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 1, 1}, m.Values)

	_, err = parseConfig(strings.NewReader("rates: 1\n"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	c := &config{
		Matrix:  matrixConfig{Kind: "dense"},
		Rate:    -1,
		Prior:   priorConfig{Mean: []float64{0}},
		Missing: "some",
	}
	err := c.validate(2)
	require.Error(t, err)
	merr, ok := err.(*multierror.Error)
	require.True(t, ok)
	assert.Len(t, merr.Errors, 4)
}

func TestConfigMatrix(t *testing.T) {
	c := &config{Matrix: matrixConfig{
		Kind: "block-diagonal",
		Blocks: []blockConfig{
			{Diagonal: []float64{1}},
			{Diagonal: []float64{2, 3}, Upper: 0.5, Lower: 0.5},
		},
	}}
	p, err := c.matrix(3)
	require.NoError(t, err)
	assert.Equal(t, basis.BlockDiagonal, p.Kind)
	assert.True(t, p.Symmetric)

	_, err = c.matrix(2)
	assert.Error(t, err)

	c = &config{Matrix: matrixConfig{Kind: "general"}}
	p, err = c.matrix(2)
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 0, 0, 1}, p.Values)
}

func TestSelectTraits(t *testing.T) {
	d := newTestData(t)
	table, err := selectTraits(d.Table, []string{"mass", "size"})
	require.NoError(t, err)
	assert.Equal(t, []string{"mass", "size"}, table.Traits)
	assert.Equal(t, []float64{1, 2}, table.Values[3])
	assert.True(t, math.IsNaN(table.Values[2][1]))

	_, err = selectTraits(d.Table, []string{"height"})
	assert.Error(t, err)
}

func TestNewModel(t *testing.T) {
	d := newTestData(t)
	c, err := parseConfig(strings.NewReader(testConfig))
	require.NoError(t, err)
	m, err := newModel(d, c)
	require.NoError(t, err)
	assert.Equal(t, []string{"mass", "size"}, m.Traits())
	assert.Equal(t, "partial", m.Policy().String())
	assert.False(t, math.IsInf(m.Likelihood(), 0))
	assert.NoError(t, m.Err())

	// branch lengths are parameters, the input tree is not modified
	names := m.GetFloatParameters().Names(nil)
	assert.Contains(t, names, "a_0_1")
	assert.Contains(t, names, "br1")
	for _, par := range m.GetFloatParameters() {
		if strings.HasPrefix(par.Name(), "br") {
			assert.Equal(t, 10.0, par.GetMax())
			par.Set(5)
		}
	}
	for _, node := range d.Tree.Nodes() {
		assert.NotEqual(t, 5.0, node.BranchLength)
	}

	c.Matrix.Values = []float64{2, 5, 5, 1}
	m, err = newModel(d, c)
	assert.Error(t, err)
	assert.Nil(t, m)
}

func TestMaskMissing(t *testing.T) {
	values := [][]float64{{1, 2}, {3, 4}}
	maskMissing(values, [][]float64{{0, math.NaN()}, {0, 0}})
	assert.True(t, math.IsNaN(values[0][1]))
	assert.Equal(t, []float64{3, 4}, values[1])
}

func TestRunOptimization(t *testing.T) {
	d := newTestData(t)
	c, err := parseConfig(strings.NewReader(testConfig))
	require.NoError(t, err)
	m, err := newModel(d, c)
	require.NoError(t, err)
	start := m.Likelihood()

	var traj bytes.Buffer
	settings := &optimizerSettings{
		method:     "simplex",
		iterations: 200,
		report:     10,
		skip:       -1,
		maxAdapt:   -1,
		trajF:      &traj,
	}
	res, opt, err := runOptimization(m, settings)
	require.NoError(t, err)
	assert.True(t, opt.GetMaxL() >= start)
	assert.InDelta(t, opt.GetMaxL(), m.Likelihood(), 1e-8)
	assert.Equal(t, "simplex", res.Optimizer.Method)
	assert.Equal(t, m.Tree().String(), res.FinalTree)
	assert.True(t, strings.HasPrefix(traj.String(), "iteration\tlikelihood\t"))

	// start from the last trajectory line
	fn := filepath.Join(t.TempDir(), "traj.tsv")
	require.NoError(t, os.WriteFile(fn, traj.Bytes(), 0644))
	m2, err := newModel(d, c)
	require.NoError(t, err)
	settings = &optimizerSettings{method: "none", iterations: 1, report: 1, startF: fn}
	_, opt, err = runOptimization(m2, settings)
	require.NoError(t, err)
	last, err := lastLine(fn)
	require.NoError(t, err)
	fields := strings.Fields(last)
	assert.Equal(t, fields[2], strings.Fields(m2.GetFloatParameters().ValuesString())[0])
	assert.NotEqual(t, start, opt.GetL())

	_, _, err = runOptimization(m2, &optimizerSettings{method: "newton"})
	assert.Error(t, err)
}

func TestNodeTable(t *testing.T) {
	d := newTestData(t)
	values := make([][]float64, len(d.Tree.Nodes()))
	for _, node := range d.Tree.Nodes() {
		values[node.ID] = []float64{float64(node.ID)}
	}
	table := nodeTable([]string{"x"}, d.Tree, values)
	assert.Equal(t, "node0", table.Taxa[0])
	assert.Len(t, table.Taxa, d.Tree.NNodes())
	for i, name := range table.Taxa {
		if name == "a" {
			assert.Equal(t, values[d.Tree.Leaves()[0].ID], table.Values[i])
		}
	}
}

func TestPlotTrace(t *testing.T) {
	fn := filepath.Join(t.TempDir(), "trace.png")
	traces := map[string][]optimize.TracePoint{
		"H0": {{Iteration: 0, Likelihood: -10}, {Iteration: 10, Likelihood: -8}},
		"H1": {{Iteration: 0, Likelihood: -9}, {Iteration: 10, Likelihood: -7}},
	}
	require.NoError(t, plotTrace(fn, traces))
	st, err := os.Stat(fn)
	require.NoError(t, err)
	assert.True(t, st.Size() > 0)
}
