package main

import (
	"fmt"
	"io"
	"math"
	"os"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"bitbucket.org/Davydov/traitgauss/basis"
	"bitbucket.org/Davydov/traitgauss/gauss"
	"bitbucket.org/Davydov/traitgauss/model"
)

// blockConfig is a 1×1 or 2×2 block of a block-diagonal matrix.
type blockConfig struct {
	Diagonal []float64 `yaml:"diagonal"`
	Upper    float64   `yaml:"upper"`
	Lower    float64   `yaml:"lower"`
	Rotation []float64 `yaml:"rotation"`
}

// matrixConfig is the diffusion precision matrix.
type matrixConfig struct {
	Kind string `yaml:"kind"`
	// Values are the diagonal, the row-major matrix or the
	// eigenvalues depending on the kind.
	Values    []float64     `yaml:"values"`
	Vectors   []float64     `yaml:"vectors"`
	Symmetric bool          `yaml:"symmetric"`
	Blocks    []blockConfig `yaml:"blocks"`
}

type priorConfig struct {
	Mean       []float64 `yaml:"mean"`
	SampleSize float64   `yaml:"sampleSize"`
}

type partialConfig struct {
	Name       string    `yaml:"name"`
	Taxa       []string  `yaml:"taxa"`
	Mean       []float64 `yaml:"mean"`
	SampleSize float64   `yaml:"sampleSize"`
	Height     float64   `yaml:"height"`
}

// optimizeConfig selects the free parameters.
type optimizeConfig struct {
	BranchLengths   bool    `yaml:"branchLengths"`
	Rate            bool    `yaml:"rate"`
	Prior           bool    `yaml:"prior"`
	MaxBranchLength float64 `yaml:"maxBranchLength"`
	MaxValue        float64 `yaml:"maxValue"`
}

// config is the model configuration read from a YAML file.
type config struct {
	// Traits selects and orders the table columns, all the columns
	// by default.
	Traits   []string        `yaml:"traits"`
	Matrix   matrixConfig    `yaml:"matrix"`
	Rate     float64         `yaml:"rate"`
	Prior    priorConfig     `yaml:"prior"`
	Missing  string          `yaml:"missing"`
	Partials []partialConfig `yaml:"partials"`
	Optimize optimizeConfig  `yaml:"optimize"`
}

// parseConfig reads the configuration. Unknown fields are errors.
func parseConfig(rd io.Reader) (*config, error) {
	c := &config{Rate: 1, Matrix: matrixConfig{Kind: "diagonal"}}
	dec := yaml.NewDecoder(rd)
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && err != io.EOF {
		return nil, errors.Wrap(err, "parsing configuration")
	}
	return c, nil
}

// readConfig reads the configuration from a file.
func readConfig(fn string) (*config, error) {
	f, err := os.Open(fn)
	if err != nil {
		return nil, errors.Wrap(err, "opening configuration")
	}
	defer f.Close()
	c, err := parseConfig(f)
	if err != nil {
		return nil, errors.Wrap(err, fn)
	}
	return c, nil
}

// validate checks the configuration for dim traits and returns all
// the problems found.
func (c *config) validate(dim int) error {
	var result *multierror.Error
	if _, err := basis.ParseKind(c.Matrix.Kind); err != nil {
		result = multierror.Append(result, err)
	}
	if !(c.Rate > 0) || math.IsInf(c.Rate, 0) {
		result = multierror.Append(result, fmt.Errorf("rate should be positive, got %v", c.Rate))
	}
	if c.Prior.Mean != nil && len(c.Prior.Mean) != dim {
		result = multierror.Append(result, fmt.Errorf("prior mean should have %d values, got %d", dim, len(c.Prior.Mean)))
	}
	if c.Prior.SampleSize < 0 {
		result = multierror.Append(result, fmt.Errorf("negative prior sample size %v", c.Prior.SampleSize))
	}
	switch c.Missing {
	case "", "complete", "partial":
	default:
		result = multierror.Append(result, fmt.Errorf("unknown missing data policy: %s", c.Missing))
	}
	for i, p := range c.Partials {
		if len(p.Mean) != dim {
			result = multierror.Append(result, fmt.Errorf("partial %d (%s): mean should have %d values, got %d", i, p.Name, dim, len(p.Mean)))
		}
	}
	if c.Optimize.MaxBranchLength < 0 {
		result = multierror.Append(result, fmt.Errorf("negative maximum branch length %v", c.Optimize.MaxBranchLength))
	}
	if c.Optimize.MaxValue < 0 {
		result = multierror.Append(result, fmt.Errorf("negative maximum matrix value %v", c.Optimize.MaxValue))
	}
	return result.ErrorOrNil()
}

// matrix creates the matrix parameter.
func (c *config) matrix(dim int) (*basis.MatrixParameter, error) {
	kind, err := basis.ParseKind(c.Matrix.Kind)
	if err != nil {
		return nil, err
	}
	var p *basis.MatrixParameter
	switch kind {
	case basis.Diagonal:
		values := c.Matrix.Values
		if values == nil {
			values = ones(dim)
		}
		p = basis.NewDiagonalMatrix(values)
	case basis.General:
		values := c.Matrix.Values
		if values == nil {
			values = identity(dim)
		}
		p, err = basis.NewDenseMatrix(dim, values)
	case basis.BlockDiagonal:
		blocks := make([]basis.Block, len(c.Matrix.Blocks))
		for i, b := range c.Matrix.Blocks {
			blocks[i] = basis.Block{
				Diagonal: b.Diagonal,
				Upper:    b.Upper,
				Lower:    b.Lower,
				Rotation: b.Rotation,
			}
		}
		p, err = basis.NewBlockDiagonalMatrix(blocks)
	case basis.Decomposed:
		p, err = basis.NewDecomposedMatrix(c.Matrix.Values, c.Matrix.Vectors, c.Matrix.Symmetric)
	}
	if err != nil {
		return nil, err
	}
	if p.Dim != dim {
		return nil, fmt.Errorf("%d×%d matrix for %d traits", p.Dim, p.Dim, dim)
	}
	return p, nil
}

// prior returns the root prior, zero mean by default.
func (c *config) prior(dim int) gauss.Prior {
	mean := c.Prior.Mean
	if mean == nil {
		mean = make([]float64, dim)
	}
	return gauss.Prior{Mean: mean, SampleSize: c.Prior.SampleSize}
}

func (c *config) partials() []model.Partial {
	partials := make([]model.Partial, len(c.Partials))
	for i, p := range c.Partials {
		partials[i] = model.Partial{
			Name:       p.Name,
			Taxa:       p.Taxa,
			Mean:       p.Mean,
			SampleSize: p.SampleSize,
			Height:     p.Height,
		}
	}
	return partials
}

func ones(n int) []float64 {
	v := make([]float64, n)
	for i := range v {
		v[i] = 1
	}
	return v
}

func identity(n int) []float64 {
	v := make([]float64, n*n)
	for i := 0; i < n; i++ {
		v[i*n+i] = 1
	}
	return v
}
