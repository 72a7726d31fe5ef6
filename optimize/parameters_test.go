package optimize

import (
	"encoding/json"
	"io/ioutil"
	"math"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	json1 = "{\"a\":7.2,\"b\":1.17e-22,\"c\":0,\"d \\\"!\":0.999999}"
)

func newParameters(values ...float64) FloatParameters {
	var pars FloatParameters
	names := []string{"a", "b", "c", "d \"!"}
	for i := range values {
		pars.Append(NewBasicFloatParameter(&values[i], names[i]))
	}
	return pars
}

func TestMarshalParameters(t *testing.T) {
	pars := newParameters(7.2, 1.17e-22, 0, 0.999999)
	j, err := json.Marshal(pars)
	require.NoError(t, err)
	assert.Equal(t, json1, string(j))
}

func TestUnmarshalParameters(t *testing.T) {
	pars := newParameters(1, 1, 1, 1)
	require.NoError(t, json.Unmarshal([]byte(json1), &pars))
	j, err := json.Marshal(pars)
	require.NoError(t, err)
	assert.Equal(t, json1, string(j))

	assert.Error(t, json.Unmarshal([]byte(`{"e":1}`), &pars))
}

func TestReadLine(t *testing.T) {
	pars := newParameters(1, 1)
	require.NoError(t, pars.ReadLine("10\t-3.5\t0.5\t2"))
	assert.Equal(t, []float64{0.5, 2}, pars.Values(nil))
	assert.Error(t, pars.ReadLine("10\t-3.5\t0.5"))
	assert.Error(t, pars.ReadLine("10\tx\t0.5\t1"))
}

func TestReadFromJSON(t *testing.T) {
	fn := filepath.Join(t.TempDir(), "start.json")
	require.NoError(t, ioutil.WriteFile(fn, []byte(`{"b": 3}`), 0644))
	pars := newParameters(1, 1)
	require.NoError(t, pars.ReadFromJSON(fn))
	assert.Equal(t, []float64{1, 3}, pars.Values(nil))
}

func TestOnChange(t *testing.T) {
	x := 1.0
	par := NewBasicFloatParameter(&x, "x")
	calls := 0
	par.SetOnChange(func() { calls++ })
	par.Set(1)
	assert.Equal(t, 0, calls)
	par.Set(2)
	assert.Equal(t, 1, calls)

	par.SetMin(0)
	par.SetMax(3)
	par.SetProposalFunc(func(float64) float64 { return 4 })
	par.Propose()
	// reflected from the upper boundary
	assert.Equal(t, 2.0, x)
	par.SetProposalFunc(func(float64) float64 { return -0.5 })
	par.Propose()
	assert.Equal(t, 0.5, x)
	par.Reject()
	assert.Equal(t, 2.0, x)
	assert.Equal(t, 4, calls)
}

func TestRandomize(t *testing.T) {
	pars := newParameters(0, 0, 0)
	pars[0].SetMin(0)
	pars[0].SetMax(1)
	pars.Randomize()
	assert.True(t, pars.InRange())
	for _, v := range pars.Values(nil) {
		assert.True(t, v >= MIN && v <= MAX)
	}
}

func TestPriors(t *testing.T) {
	assert.Equal(t, -math.Log(2), UniformPrior(-1, 1, true, true)(1))
	assert.True(t, math.IsInf(UniformPrior(-1, 1, true, false)(1), -1))
	assert.InDelta(t, math.Log(2)-2, ExponentialPrior(2, false)(1), 1e-12)
	assert.True(t, math.IsInf(ExponentialPrior(2, false)(0), -1))
	// gamma(1, scale) is exponential with rate 1/scale
	assert.InDelta(t, ExponentialPrior(0.5, true)(3), GammaPrior(1, 2, true)(3), 1e-12)
	assert.InDelta(t, -math.Log(2*math.Pi)/2, NormalPrior(1, 1)(1), 1e-12)
	assert.InDelta(t, NormalPrior(0, 1)(2)+ExponentialPrior(1, true)(2),
		ProductPrior(NormalPrior(0, 1), ExponentialPrior(1, true))(2), 1e-12)
}

func TestProposals(t *testing.T) {
	for i := 0; i < 100; i++ {
		assert.InDelta(t, 1, WindowProposal(0.5)(1), 0.25)
		v := IndependentProposal(2, 3)(0)
		assert.True(t, v >= 2 && v <= 3)
	}
	assert.Panics(t, func() { NormalProposal(0) })
	assert.Panics(t, func() { IndependentProposal(1, 1) })
}

func TestReflectInto(t *testing.T) {
	for _, c := range []struct {
		y, min, max, want float64
	}{
		{0.5, 0, 1, 0.5},
		{-0.25, 0, 1, 0.25},
		{1.25, 0, 1, 0.75},
		{2.25, 0, 1, 0.25},
		{-1.5, 0, 1, 0.5},
		{-3, 0, math.Inf(1), 3},
		{5, math.Inf(-1), 2, -1},
		{7, math.Inf(-1), math.Inf(1), 7},
		{3, 1, 1, 1},
	} {
		assert.InDelta(t, c.want, reflectInto(c.y, c.min, c.max), 1e-12, "reflectInto(%v, %v, %v)", c.y, c.min, c.max)
	}
}
