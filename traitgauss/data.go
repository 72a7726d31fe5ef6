package main

import (
	"math"
	"os"

	"github.com/pkg/errors"

	"bitbucket.org/Davydov/traitgauss/model"
	"bitbucket.org/Davydov/traitgauss/traits"
	"bitbucket.org/Davydov/traitgauss/tree"
)

// data stores the input tree and the trait table.
type data struct {
	Tree  *tree.Tree
	Table *traits.Table
}

// newData reads the tree and the trait table.
func newData(treeFileName, traitsFileName string) (*data, error) {
	treeFile, err := os.Open(treeFileName)
	if err != nil {
		return nil, errors.Wrap(err, "opening tree")
	}
	defer treeFile.Close()

	t, err := tree.ParseNewick(treeFile)
	if err != nil {
		return nil, errors.Wrapf(err, "parsing tree %s", treeFileName)
	}
	log.Debugf("intree=%s", t)

	traitsFile, err := os.Open(traitsFileName)
	if err != nil {
		return nil, errors.Wrap(err, "opening trait table")
	}
	defer traitsFile.Close()

	table, err := traits.Parse(traitsFile)
	if err != nil {
		return nil, errors.Wrapf(err, "parsing trait table %s", traitsFileName)
	}
	log.Infof("Read %d traits for %d taxa, tree has %d leaves", table.Dim(), len(table.Taxa), t.NLeaves())
	return &data{Tree: t, Table: table}, nil
}

// selectTraits returns a table with the named columns in the given
// order.
func selectTraits(table *traits.Table, names []string) (*traits.Table, error) {
	if names == nil {
		return table, nil
	}
	index := make(map[string]int, len(table.Traits))
	for i, name := range table.Traits {
		index[name] = i
	}
	cols := make([]int, len(names))
	for i, name := range names {
		j, ok := index[name]
		if !ok {
			return nil, errors.Errorf("trait %s is not in the table", name)
		}
		cols[i] = j
	}
	sel := &traits.Table{Traits: names, Taxa: table.Taxa}
	for _, row := range table.Values {
		v := make([]float64, len(cols))
		for i, j := range cols {
			v[i] = row[j]
		}
		sel.Values = append(sel.Values, v)
	}
	return sel, nil
}

// newModel creates a model from the configuration. The model gets
// its own copy of the tree.
func newModel(d *data, c *config) (*model.Model, error) {
	table, err := selectTraits(d.Table, c.Traits)
	if err != nil {
		return nil, err
	}
	dim := table.Dim()
	if err := c.validate(dim); err != nil {
		return nil, errors.Wrap(err, "invalid configuration")
	}
	t := d.Tree.Copy()
	tips, err := table.Match(t)
	if err != nil {
		return nil, err
	}
	matrix, err := c.matrix(dim)
	if err != nil {
		return nil, errors.Wrap(err, "matrix")
	}
	m, err := model.New(t, table.Traits, tips, matrix, c.Missing, c.prior(dim), c.partials())
	if err != nil {
		return nil, err
	}
	if err := m.SetRate(c.Rate); err != nil {
		return nil, err
	}
	log.Infof("Matrix: %s, basis strategy: %s, missing data: %s", matrix.Kind, m.Strategy(), m.Policy())

	o := c.Optimize
	if o.MaxValue > 0 {
		m.SetMaxValue(o.MaxValue)
	}
	if o.BranchLengths {
		if o.MaxBranchLength > 0 {
			m.SetMaxBranchLength(o.MaxBranchLength)
		}
		log.Info("Will optimize branch lengths")
		m.SetOptimizeBranchLengths()
	}
	if o.Rate {
		m.SetOptimizeRate()
	}
	if o.Prior {
		m.SetOptimizePrior()
	}
	return m, nil
}

// maskMissing sets the values missing in observed to NaN.
func maskMissing(values, observed [][]float64) {
	for i, row := range observed {
		for j, v := range row {
			if math.IsNaN(v) {
				values[i][j] = math.NaN()
			}
		}
	}
}
