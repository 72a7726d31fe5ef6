package traits

import (
	"bytes"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bitbucket.org/Davydov/traitgauss/tree"
)

const table = `taxon	size	mass
# comment line
a	1.5	?
b 2   NA

c	-	-1e-2
`

func TestParse(t *testing.T) {
	tab, err := Parse(strings.NewReader(table))
	require.NoError(t, err)
	assert.Equal(t, []string{"size", "mass"}, tab.Traits)
	assert.Equal(t, 2, tab.Dim())
	assert.Equal(t, []string{"a", "b", "c"}, tab.Taxa)
	assert.Equal(t, 1.5, tab.Values[0][0])
	assert.True(t, math.IsNaN(tab.Values[0][1]))
	assert.Equal(t, 2.0, tab.Values[1][0])
	assert.True(t, math.IsNaN(tab.Values[1][1]))
	assert.True(t, math.IsNaN(tab.Values[2][0]))
	assert.Equal(t, -0.01, tab.Values[2][1])
}

func TestParseErrors(t *testing.T) {
	for name, s := range map[string]string{
		"empty":     "",
		"header":    "taxon\n",
		"fields":    "taxon x y\na 1\n",
		"number":    "taxon x\na one\n",
		"duplicate": "taxon x\na 1\na 2\n",
		"infinite":  "taxon x\na Inf\n",
	} {
		_, err := Parse(strings.NewReader(s))
		assert.Error(t, err, name)
	}
}

func TestMatch(t *testing.T) {
	tab, err := Parse(strings.NewReader(table))
	require.NoError(t, err)

	tr, err := tree.ParseNewick(strings.NewReader("((c:1,a:1):1,b:1);"))
	require.NoError(t, err)
	tips, err := tab.Match(tr)
	require.NoError(t, err)
	for i, node := range tr.Leaves() {
		switch node.Name {
		case "a":
			assert.Equal(t, 1.5, tips[i][0])
		case "b":
			assert.Equal(t, 2.0, tips[i][0])
		case "c":
			assert.Equal(t, -0.01, tips[i][1])
		}
	}

	tr, err = tree.ParseNewick(strings.NewReader("((c:1,a:1):1,d:1);"))
	require.NoError(t, err)
	_, err = tab.Match(tr)
	assert.Error(t, err)
}

func TestWrite(t *testing.T) {
	tab, err := Parse(strings.NewReader(table))
	require.NoError(t, err)
	var buf bytes.Buffer
	require.NoError(t, tab.Write(&buf))
	assert.Equal(t, "taxon\tsize\tmass\na\t1.5\t?\nb\t2\t?\nc\t?\t-0.01\n", buf.String())

	back, err := Parse(&buf)
	require.NoError(t, err)
	assert.Equal(t, tab.Taxa, back.Taxa)
}
