package gauss

import (
	"bytes"
	"errors"
	"math"
	"math/rand"
	"strconv"
	"testing"

	"github.com/gonum/matrix/mat64"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bitbucket.org/Davydov/traitgauss/basis"
	"bitbucket.org/Davydov/traitgauss/missing"
	"bitbucket.org/Davydov/traitgauss/tree"
)

const (
	tree3   = "((a:1,b:1)ab:2,c:1);"
	tree4   = "((a:1,b:0.5):0.7,(c:0.3,d:1.2):0.4);"
	treeZ   = "((a:1,b:1)ab:0,c:1);"
	treeP   = "((a:1,b:1,p:0.5):2,c:1);"
	delta   = 1e-10
	nTrials = 4000
)

var nan = math.NaN()

func parseTree(t testing.TB, s string) *tree.Tree {
	tr, err := tree.ParseNewick(bytes.NewBufferString(s))
	require.NoError(t, err)
	return tr
}

func computeBasis(t testing.TB, p *basis.MatrixParameter) *basis.Basis {
	b, err := basis.StrategyFor(p).ComputeBasis(p)
	require.NoError(t, err)
	return b
}

func newPropagator(t testing.TB, newick string, p *basis.MatrixParameter, tips [][]float64, prior Prior, policy string) *Propagator {
	tr := parseTree(t, newick)
	pattern, err := missing.FromValues(p.Dim, tips)
	require.NoError(t, err)
	pol, err := missing.NewPolicy(policy, pattern)
	require.NoError(t, err)
	prop, err := New(tr, computeBasis(t, p), tips, pol, prior)
	require.NoError(t, err)
	return prop
}

func denseMatrix(t testing.TB, dim int, data []float64) *basis.MatrixParameter {
	p, err := basis.NewDenseMatrix(dim, data)
	require.NoError(t, err)
	return p
}

func mrca(t testing.TB, tr *tree.Tree, taxa ...string) *tree.Node {
	node, err := tr.MRCA(taxa)
	require.NoError(t, err)
	return node
}

// depth returns the distance from the root.
func depth(node *tree.Node) (d float64) {
	for ; node.Parent != nil; node = node.Parent {
		d += node.BranchLength
	}
	return
}

// mvnLogLikelihood computes the tip likelihood directly from the
// joint tip covariance (shared path length + 1/κ)⊗Σ.
func mvnLogLikelihood(t *testing.T, prop *Propagator) float64 {
	tr := prop.Tree()
	leaves := tr.Leaves()
	n := len(leaves)
	d := prop.Dim()
	sigma := prop.Basis().UnitVariance()
	kappa := prop.Prior().SampleSize
	c := mat64.NewSymDense(n*d, nil)
	r := make([]float64, n*d)
	for i, li := range leaves {
		for a := 0; a < d; a++ {
			r[i*d+a] = prop.tips[i][a] - prop.Prior().Mean[a]
		}
		for j := i; j < n; j++ {
			shared := depth(mrca(t, tr, li.Name, leaves[j].Name))*prop.Rate() + 1/kappa
			for a := 0; a < d; a++ {
				for b := 0; b < d; b++ {
					if i*d+a <= j*d+b {
						c.SetSym(i*d+a, j*d+b, shared*sigma.At(a, b))
					}
				}
			}
		}
	}
	f, ok := factorize(c)
	require.True(t, ok)
	return -float64(n*d)/2*log2Pi - f.logDet()/2 - dot(r, f.solve(nil, r))/2
}

func TestThreeTips(t *testing.T) {
	prop := newPropagator(t, tree3, basis.NewDiagonalMatrix([]float64{1}),
		[][]float64{{0}, {2}, {nan}}, Prior{Mean: []float64{0}, SampleSize: 1}, "complete")
	res, err := prop.Compute()
	require.NoError(t, err)

	ab := mrca(t, prop.Tree(), "a", "b")
	nb := res.Node(ab.ID)
	assert.InDelta(t, 1, nb.Mean[0], delta)
	assert.InDelta(t, 2, nb.Precision.At(0, 0), delta)
	assert.InDelta(t, math.Log(2), nb.LogDet, delta)

	root := res.Root()
	assert.InDelta(t, 2.0/7, root.Mean[0], delta)
	assert.InDelta(t, 1.4, root.Precision.At(0, 0), delta)

	lnL := normLogPdf(-2, 2) + normLogPdf(1, 3.5)
	assert.InDelta(t, lnL, res.LogLikelihood, delta)

	a := mrca(t, prop.Tree(), "a")
	tip := res.Node(a.ID)
	assert.Equal(t, []float64{0}, tip.Mean)
	assert.True(t, math.IsInf(tip.LogDet, 1))

	// missing tip has no information
	c := mrca(t, prop.Tree(), "c")
	assert.True(t, math.IsNaN(res.Node(c.ID).Mean[0]))

	values, err := prop.Sample(res, Mean, nil)
	require.NoError(t, err)
	assert.InDelta(t, 2.0/7, values[c.ID][0], delta)
	assert.Equal(t, 0.0, values[a.ID][0])
}

func TestDenseMatchesDiagonal(t *testing.T) {
	tips := [][]float64{{0.3, 1}, {nan, -1}, {2, 0.5}, {nan, nan}}
	prior := Prior{Mean: []float64{0.1, 0}, SampleSize: 0.5}
	diag := newPropagator(t, tree4, basis.NewDiagonalMatrix([]float64{1.5, 0.7}),
		tips, prior, "partial")
	dense := newPropagator(t, tree4, denseMatrix(t, 2, []float64{1.5, 0, 0, 0.7}),
		tips, prior, "partial")
	require.True(t, diag.Basis().IsDiagonal())
	require.False(t, dense.Basis().IsDiagonal())

	for _, rate := range []float64{1, 2.5} {
		require.NoError(t, diag.SetRate(rate))
		require.NoError(t, dense.SetRate(rate))
		r1, err := diag.Compute()
		require.NoError(t, err)
		r2, err := dense.Compute()
		require.NoError(t, err)
		assert.InDelta(t, r1.LogLikelihood, r2.LogLikelihood, 1e-9)

		for _, node := range diag.Tree().Nodes() {
			if node.IsTerminal() {
				continue
			}
			b1 := r1.Node(node.ID)
			b2 := r2.Node(node.ID)
			assert.InDeltaSlice(t, b1.Mean, b2.Mean, 1e-9)
		}
		assert.InDeltaSlice(t, r1.Root().Mean, r2.Root().Mean, 1e-9)
	}
}

func TestLikelihoodMVN(t *testing.T) {
	tips := [][]float64{{0.3, 1}, {0.5, -1}, {2, 0.5}, {-1, 0.2}}
	prior := Prior{Mean: []float64{0.1, -0.3}, SampleSize: 0.8}
	c, s := math.Cos(0.4), math.Sin(0.4)
	blocks, err := basis.NewBlockDiagonalMatrix([]basis.Block{
		{Diagonal: []float64{2, 1}, Upper: 0.3, Lower: 0.1, Rotation: []float64{c, -s, s, c}},
	})
	require.NoError(t, err)
	decomposed, err := basis.NewDecomposedMatrix([]float64{0.5, 2}, []float64{1, 0.5, 0, 1}, false)
	require.NoError(t, err)

	for name, p := range map[string]*basis.MatrixParameter{
		"diagonal":   basis.NewDiagonalMatrix([]float64{1.5, 0.7}),
		"symmetric":  denseMatrix(t, 2, []float64{2, 0.6, 0.6, 1}),
		"asymmetric": denseMatrix(t, 2, []float64{2, 0.5, 0.2, 1}),
		"block":      blocks,
		"decomposed": decomposed,
	} {
		t.Run(name, func(t *testing.T) {
			prop := newPropagator(t, tree4, p, tips, prior, "complete")
			require.NoError(t, prop.SetRate(1.3))
			res, err := prop.Compute()
			require.NoError(t, err)
			assert.InDelta(t, mvnLogLikelihood(t, prop), res.LogLikelihood, 1e-9)
		})
	}
}

func TestFlatPrior(t *testing.T) {
	tips := [][]float64{{0.3, 1}, {0.5, -1}, {2, 0.5}, {-1, 0.2}}
	prop := newPropagator(t, tree4, denseMatrix(t, 2, []float64{2, 0.6, 0.6, 1}),
		tips, Prior{Mean: []float64{0, 0}, SampleSize: 0}, "complete")
	res, err := prop.Compute()
	require.NoError(t, err)

	// the flat prior is the limit of a vague prior up to its
	// normalizing constant
	vague := newPropagator(t, tree4, denseMatrix(t, 2, []float64{2, 0.6, 0.6, 1}),
		tips, Prior{Mean: []float64{0, 0}, SampleSize: 1e-8}, "complete")
	vres, err := vague.Compute()
	require.NoError(t, err)
	norm := -log2Pi + vague.Basis().LogDetPrecision(1e8)/2
	assert.InDelta(t, res.LogLikelihood, vres.LogLikelihood-norm, 1e-5)
}

func TestBranchMessageMoments(t *testing.T) {
	p := denseMatrix(t, 2, []float64{2, 0.6, 0.6, 1})
	prop := newPropagator(t, tree3, p, [][]float64{{0, 0}, {1, 1}, {2, 2}},
		Prior{Mean: []float64{0, 0}}, "complete")

	q := mat64.NewSymDense(2, []float64{3, 0.5, 0.5, 2})
	mean := []float64{0.4, -1}
	b := Belief{Precision: q, Info: symMulVec(q, mean), LogC: 0.3}
	node := prop.Tree().Leaves()[0]
	msg, err := prop.branchMessage(node, b, 0.7)
	require.NoError(t, err)

	// moment form: the mean is kept, the covariance grows by v·Σ
	var cov mat64.SymDense
	fq, ok := factorize(q)
	require.True(t, ok)
	cov.AddSym(fq.inverse(), prop.Basis().Variance(0.7))
	fc, ok := factorize(&cov)
	require.True(t, ok)
	want := fc.inverse()

	for i := 0; i < 2; i++ {
		for j := 0; j < 2; j++ {
			assert.InDelta(t, want.At(i, j), msg.Precision.At(i, j), 1e-10)
		}
	}
	assert.InDeltaSlice(t, mean, msg.Moments().Mean, 1e-10)
	// a normalized density stays normalized
	assert.InDelta(t, b.LogC+log2Pi-fq.logDet()/2+dot(b.Info, mean)/2,
		msg.LogC+log2Pi+fc.logDet()/2+dot(msg.Info, mean)/2, 1e-10)
}

func TestZeroBranchLength(t *testing.T) {
	prop := newPropagator(t, treeZ, denseMatrix(t, 2, []float64{2, 0.6, 0.6, 1}),
		[][]float64{{0, 1}, {2, 0}, {nan, nan}}, Prior{Mean: []float64{0, 0}, SampleSize: 1}, "complete")
	res, err := prop.Compute()
	require.NoError(t, err)
	ab := mrca(t, prop.Tree(), "a", "b")
	root := prop.Tree().Node

	values, err := prop.Sample(res, Mean, nil)
	require.NoError(t, err)
	assert.Equal(t, res.Root().Mean, values[root.ID])
	assert.Equal(t, values[root.ID], values[ab.ID])

	rng := rand.New(rand.NewSource(1))
	values, err = prop.Sample(res, Draw, rng)
	require.NoError(t, err)
	assert.Equal(t, values[root.ID], values[ab.ID])

	// the belief passes the zero-length branch unchanged
	assert.Equal(t, res.Belief(ab.ID).Info, res.Belief(root.ID).Info)
}

func TestDegenerateBranch(t *testing.T) {
	for _, p := range []*basis.MatrixParameter{
		basis.NewDiagonalMatrix([]float64{1}),
		denseMatrix(t, 1, []float64{1}),
	} {
		prop := newPropagator(t, "((a:0,b:1):1,c:1);", p,
			[][]float64{{0}, {2}, {1}}, Prior{Mean: []float64{0}, SampleSize: 1}, "complete")
		_, err := prop.Compute()
		assert.True(t, errors.Is(err, ErrDegenerateBranch), "got %v", err)

		prop = newPropagator(t, "((a:0,b:1):1,c:1);", p,
			[][]float64{{nan}, {2}, {1}}, Prior{Mean: []float64{0}, SampleSize: 1}, "complete")
		_, err = prop.Compute()
		assert.NoError(t, err)
	}
}

func TestSingleTip(t *testing.T) {
	for _, p := range []*basis.MatrixParameter{
		basis.NewDiagonalMatrix([]float64{1}),
		denseMatrix(t, 1, []float64{1}),
	} {
		prior := Prior{Mean: []float64{0}, SampleSize: 1}
		prop := newPropagator(t, "a:1;", p, [][]float64{{1}}, prior, "complete")
		var res *Result
		var err error
		require.NotPanics(t, func() { res, err = prop.Compute() })
		assert.Nil(t, res)
		assert.True(t, errors.Is(err, ErrObservedRoot), "got %v", err)

		// a missing single tip only carries the prior
		prop = newPropagator(t, "a:1;", p, [][]float64{{nan}}, prior, "complete")
		res, err = prop.Compute()
		require.NoError(t, err)
		assert.InDelta(t, 0, res.LogLikelihood, delta)

		// a root with one child is an ordinary branch
		prop = newPropagator(t, "(a:1);", p, [][]float64{{1}}, prior, "complete")
		res, err = prop.Compute()
		require.NoError(t, err)
		assert.InDelta(t, normLogPdf(1, 2), res.LogLikelihood, delta)
	}
}

func TestResultCopies(t *testing.T) {
	prop := newPropagator(t, tree3, denseMatrix(t, 1, []float64{1}),
		[][]float64{{0}, {2}, {nan}}, Prior{Mean: []float64{0}, SampleSize: 1}, "complete")
	cache := NewCache(prop)
	res, err := cache.EnsureComputed()
	require.NoError(t, err)
	ab := mrca(t, prop.Tree(), "a", "b")

	res.Root().Precision.SetSym(0, 0, 100)
	res.Node(ab.ID).Precision.SetSym(0, 0, 100)
	b := res.Belief(ab.ID)
	b.Precision.SetSym(0, 0, 100)
	b.Info[0] = 100

	res, err = cache.EnsureComputed()
	require.NoError(t, err)
	assert.InDelta(t, 1.4, res.Root().Precision.At(0, 0), delta)
	assert.InDelta(t, 2, res.Node(ab.ID).Precision.At(0, 0), delta)
	assert.InDelta(t, 2, res.Belief(ab.ID).Precision.At(0, 0), delta)
	assert.InDelta(t, 2, res.Belief(ab.ID).Info[0], delta)
}

func TestUnidentifiable(t *testing.T) {
	tips := [][]float64{{nan}, {nan}, {nan}}
	for _, p := range []*basis.MatrixParameter{
		basis.NewDiagonalMatrix([]float64{1}),
		denseMatrix(t, 1, []float64{1}),
	} {
		prop := newPropagator(t, tree3, p, tips, Prior{Mean: []float64{0}}, "complete")
		_, err := prop.Compute()
		var unident *UnidentifiableNodeError
		require.True(t, errors.As(err, &unident), "got %v", err)
		assert.Equal(t, prop.Tree().ID, unident.Node)

		require.NoError(t, prop.SetPrior(Prior{Mean: []float64{0}, SampleSize: 2}))
		res, err := prop.Compute()
		require.NoError(t, err)
		assert.InDelta(t, 0, res.LogLikelihood, delta)
	}
}

func TestCompletelyMissingPolicy(t *testing.T) {
	prop := newPropagator(t, tree3, basis.NewDiagonalMatrix([]float64{1, 1}),
		[][]float64{{0, nan}, {2, 1}, {1, 1}}, Prior{Mean: []float64{0, 0}, SampleSize: 1}, "complete")
	_, err := prop.Compute()
	assert.True(t, errors.Is(err, missing.ErrPartiallyMissing))
}

func TestPartiallyMissingMarginal(t *testing.T) {
	// with independent dimensions a missing value removes the tip
	// from the likelihood of that dimension only
	partial := newPropagator(t, tree3, basis.NewDiagonalMatrix([]float64{1, 2}),
		[][]float64{{0, nan}, {2, 1}, {1, 3}}, Prior{Mean: []float64{0, 0}, SampleSize: 1}, "partial")
	res, err := partial.Compute()
	require.NoError(t, err)

	dim0 := newPropagator(t, tree3, basis.NewDiagonalMatrix([]float64{1}),
		[][]float64{{0}, {2}, {1}}, Prior{Mean: []float64{0}, SampleSize: 1}, "complete")
	r0, err := dim0.Compute()
	require.NoError(t, err)
	dim1 := newPropagator(t, tree3, basis.NewDiagonalMatrix([]float64{2}),
		[][]float64{{nan}, {1}, {3}}, Prior{Mean: []float64{0}, SampleSize: 1}, "complete")
	r1, err := dim1.Compute()
	require.NoError(t, err)
	assert.InDelta(t, r0.LogLikelihood+r1.LogLikelihood, res.LogLikelihood, delta)
}

func TestImpute(t *testing.T) {
	prop := newPropagator(t, tree4, denseMatrix(t, 2, []float64{2, 0.9, 0.9, 1}),
		[][]float64{{0.3, nan}, {0.5, -1}, {nan, nan}, {-1, 0.2}},
		Prior{Mean: []float64{0, 0}, SampleSize: 1}, "partial")
	res, err := prop.Compute()
	require.NoError(t, err)

	for _, mode := range []Mode{Mean, Draw} {
		tips, err := prop.Impute(res, mode, rand.New(rand.NewSource(2)))
		require.NoError(t, err)
		require.Len(t, tips, 4)
		assert.Equal(t, 0.3, tips[0][0])
		assert.Equal(t, []float64{0.5, -1}, tips[1])
		for _, tip := range tips {
			for _, v := range tip {
				assert.False(t, math.IsNaN(v), mode.String())
			}
		}
	}
	// the data are not modified
	assert.True(t, math.IsNaN(prop.tips[0][1]))
}

func TestImputeConditional(t *testing.T) {
	// a tip on its own branch from a known root: the missing value
	// follows the regression on the observed one
	sigma := []float64{1, 0.5, 0.5, 2}
	fs, ok := factorize(mat64.NewSymDense(2, sigma))
	require.True(t, ok)
	prec := fs.inverse()
	p := denseMatrix(t, 2, []float64{prec.At(0, 0), prec.At(0, 1), prec.At(1, 0), prec.At(1, 1)})

	prop := newPropagator(t, "(a:2,b:1);", p, [][]float64{{1, nan}, {nan, nan}},
		Prior{Mean: []float64{0, 0}, SampleSize: 1e12}, "partial")
	res, err := prop.Compute()
	require.NoError(t, err)
	tips, err := prop.Impute(res, Mean, nil)
	require.NoError(t, err)
	// E[y | x=1] = Σ_yx/Σ_xx·x
	assert.InDelta(t, 0.5, tips[0][1], 1e-6)
	assert.InDelta(t, 0, tips[1][0], 1e-6)
}

func TestSimulate(t *testing.T) {
	prop := newPropagator(t, treeZ, denseMatrix(t, 2, []float64{2, 0.6, 0.6, 1}),
		[][]float64{{0, 1}, {2, 0}, {nan, nan}}, Prior{Mean: []float64{3, -3}}, "complete")
	rng := rand.New(rand.NewSource(3))
	ab := mrca(t, prop.Tree(), "a", "b")
	a := mrca(t, prop.Tree(), "a")
	root := prop.Tree().Node

	sum := make([]float64, 2)
	var cov [2][2]float64
	for i := 0; i < nTrials; i++ {
		values, err := prop.Simulate(rng)
		require.NoError(t, err)
		assert.Equal(t, []float64{3, -3}, values[root.ID])
		assert.Equal(t, values[root.ID], values[ab.ID])
		for k := 0; k < 2; k++ {
			sum[k] += values[a.ID][k] - values[ab.ID][k]
			for l := 0; l < 2; l++ {
				cov[k][l] += (values[a.ID][k] - values[ab.ID][k]) * (values[a.ID][l] - values[ab.ID][l])
			}
		}
	}
	sigma := prop.Basis().UnitVariance()
	for k := 0; k < 2; k++ {
		assert.InDelta(t, 0, sum[k]/nTrials, 0.1)
		for l := 0; l < 2; l++ {
			assert.InDelta(t, sigma.At(k, l), cov[k][l]/nTrials, 0.1)
		}
	}
}

func TestRestrictedPartial(t *testing.T) {
	p := denseMatrix(t, 2, []float64{2, 0.6, 0.6, 1})
	prior := Prior{Mean: []float64{0, 0}, SampleSize: 1}
	pseudo := newPropagator(t, treeP, p, [][]float64{{0, 1}, {2, 0}, {1.5, 1.5}, {nan, 3}}, prior, "partial")
	want, err := pseudo.Compute()
	require.NoError(t, err)

	for _, ph := range [][2]float64{{2, 0}, {4, 0.25}} {
		prop := newPropagator(t, tree3, p, [][]float64{{0, 1}, {2, 0}, {nan, 3}}, prior, "partial")
		rp, err := NewRestrictedPartial("ab", []string{"a", "b"}, []float64{1.5, 1.5}, ph[0], ph[1])
		require.NoError(t, err)
		require.NoError(t, prop.AddPartial(rp))
		res, err := prop.Compute()
		require.NoError(t, err)
		assert.Equal(t, mrca(t, prop.Tree(), "a", "b").ID, rp.Node())
		assert.InDelta(t, want.LogLikelihood, res.LogLikelihood, 1e-10)
	}
}

func TestRestrictedPartialDiagonal(t *testing.T) {
	p := basis.NewDiagonalMatrix([]float64{1})
	prior := Prior{Mean: []float64{0}, SampleSize: 1}
	pseudo := newPropagator(t, treeP, p, [][]float64{{0}, {2}, {1.5}, {nan}}, prior, "complete")
	want, err := pseudo.Compute()
	require.NoError(t, err)

	prop := newPropagator(t, tree3, p, [][]float64{{0}, {2}, {nan}}, prior, "complete")
	rp, err := NewRestrictedPartial("ab", []string{"a", "b"}, []float64{1.5}, 2, 0)
	require.NoError(t, err)
	require.NoError(t, prop.AddPartial(rp))
	res, err := prop.Compute()
	require.NoError(t, err)
	assert.InDelta(t, want.LogLikelihood, res.LogLikelihood, 1e-10)
}

func TestMissingAttachment(t *testing.T) {
	p := basis.NewDiagonalMatrix([]float64{1})
	prior := Prior{Mean: []float64{0}, SampleSize: 1}
	prop := newPropagator(t, tree3, p, [][]float64{{0}, {2}, {nan}}, prior, "complete")

	rp, err := NewRestrictedPartial("x", []string{"a", "x"}, []float64{0}, 1, 0)
	require.NoError(t, err)
	require.NoError(t, prop.AddPartial(rp))
	_, err = prop.Compute()
	var attach *MissingAttachmentError
	require.True(t, errors.As(err, &attach))
	assert.True(t, errors.Is(err, tree.ErrUnknownTaxon))

	prop = newPropagator(t, tree3, p, [][]float64{{0}, {2}, {nan}}, prior, "complete")
	rp, err = NewRestrictedPartial("a", []string{"a"}, []float64{0}, 1, 0)
	require.NoError(t, err)
	require.NoError(t, prop.AddPartial(rp))
	_, err = prop.Compute()
	assert.True(t, errors.Is(err, ErrObservedAttachment))

	// a missing tip can carry a partial
	prop = newPropagator(t, tree3, p, [][]float64{{0}, {2}, {nan}}, prior, "complete")
	rp, err = NewRestrictedPartial("c", []string{"c"}, []float64{0}, 1, 0)
	require.NoError(t, err)
	require.NoError(t, prop.AddPartial(rp))
	_, err = prop.Compute()
	assert.NoError(t, err)

	_, err = NewRestrictedPartial("bad", []string{"a"}, []float64{0}, 0, 0)
	assert.Error(t, err)
}

func TestPartialTopologyChange(t *testing.T) {
	p := basis.NewDiagonalMatrix([]float64{1})
	prop := newPropagator(t, tree3, p, [][]float64{{0}, {2}, {nan}},
		Prior{Mean: []float64{0}, SampleSize: 1}, "complete")
	rp, err := NewRestrictedPartial("ac", []string{"a", "c"}, []float64{1}, 1, 0)
	require.NoError(t, err)
	require.NoError(t, prop.AddPartial(rp))
	cache := NewCache(prop)
	_, err = cache.EnsureComputed()
	require.NoError(t, err)
	tr := prop.Tree()
	assert.Equal(t, tr.ID, rp.Node())

	// move c under ab
	ab := mrca(t, tr, "a", "b")
	c := mrca(t, tr, "c")
	require.True(t, tr.RemoveChild(c))
	ab.AddChild(c)
	tr.ClearCache()
	cache.OnUpstreamModelChanged(tr)

	_, err = cache.EnsureComputed()
	require.NoError(t, err)
	assert.Equal(t, ab.ID, rp.Node())
}

func TestCheckpointRollback(t *testing.T) {
	p1 := denseMatrix(t, 2, []float64{2, 0.6, 0.6, 1})
	prop := newPropagator(t, tree4, p1, [][]float64{{0.3, 1}, {0.5, -1}, {2, 0.5}, {-1, 0.2}},
		Prior{Mean: []float64{0, 0}, SampleSize: 1}, "complete")
	cache := NewCache(prop)
	r1, err := cache.EnsureComputed()
	require.NoError(t, err)
	assert.Equal(t, 1, cache.Evaluations)

	// repeated reads do not recompute
	_, err = cache.EnsureComputed()
	require.NoError(t, err)
	assert.Equal(t, 1, cache.Evaluations)

	internal := mrca(t, prop.Tree(), "a", "b")
	mean1 := append([]float64(nil), r1.Node(internal.ID).Mean...)
	root1 := append([]float64(nil), r1.Root().Mean...)
	b1 := prop.Basis()

	cache.Checkpoint()
	require.NoError(t, prop.SetBasis(computeBasis(t, denseMatrix(t, 2, []float64{1, 0.2, 0.2, 3}))))
	cache.OnUpstreamVariableChanged(p1, 0)
	assert.False(t, cache.Known())
	r2, err := cache.EnsureComputed()
	require.NoError(t, err)
	assert.NotEqual(t, r1.LogLikelihood, r2.LogLikelihood)

	require.NoError(t, prop.SetBasis(b1))
	cache.OnUpstreamModelChanged(p1)
	cache.Rollback()
	r3, err := cache.EnsureComputed()
	require.NoError(t, err)
	assert.Equal(t, 2, cache.Evaluations)
	assert.Same(t, r1, r3)
	assert.Equal(t, mean1, r3.Node(internal.ID).Mean)
	assert.Equal(t, root1, r3.Root().Mean)

	fresh, err := prop.Compute()
	require.NoError(t, err)
	assert.Equal(t, fresh.LogLikelihood, r3.LogLikelihood)

	// commit keeps the new state
	cache.Checkpoint()
	cache.Invalidate()
	r4, err := cache.EnsureComputed()
	require.NoError(t, err)
	cache.Commit()
	cache.Rollback()
	r5, err := cache.EnsureComputed()
	require.NoError(t, err)
	assert.Same(t, r4, r5)
}

func TestCacheError(t *testing.T) {
	prop := newPropagator(t, tree3, basis.NewDiagonalMatrix([]float64{1}),
		[][]float64{{nan}, {nan}, {nan}}, Prior{Mean: []float64{0}}, "complete")
	cache := NewCache(prop)
	_, err := cache.LogLikelihood()
	assert.Error(t, err)
	_, err = cache.LogLikelihood()
	assert.Error(t, err)
	assert.Equal(t, 1, cache.Evaluations)
}

// caterpillar returns a ladder tree with n tips.
func caterpillar(n int) string {
	s := "t0:0.1"
	for i := 1; i < n; i++ {
		s = "(" + s + ",t" + strconv.Itoa(i) + ":0.2):0.05"
	}
	return s + ";"
}

func benchmarkPropagator(b *testing.B, p *basis.MatrixParameter) {
	const n = 200
	rng := rand.New(rand.NewSource(1))
	tips := make([][]float64, n)
	for i := range tips {
		tips[i] = make([]float64, p.Dim)
		for j := range tips[i] {
			tips[i][j] = rng.NormFloat64()
		}
	}
	prop := newPropagator(b, caterpillar(n), p, tips, Prior{Mean: make([]float64, p.Dim), SampleSize: 1}, "complete")
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := prop.Compute(); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkDiagonal(b *testing.B) {
	benchmarkPropagator(b, basis.NewDiagonalMatrix([]float64{1, 2, 3}))
}

func BenchmarkDense(b *testing.B) {
	p, err := basis.NewDenseMatrix(3, []float64{2, 0.5, 0.1, 0.5, 1, 0.2, 0.1, 0.2, 3})
	if err != nil {
		b.Fatal(err)
	}
	benchmarkPropagator(b, p)
}
