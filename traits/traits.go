// Package traits reads and writes tables of continuous tip traits.
//
// A table has a header line "taxon trait1 trait2 ..." followed by one
// line per taxon. Fields are separated by tabs or spaces. Missing
// values are written as "?", "NA" or "-".
package traits

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/op/go-logging"
	"github.com/pkg/errors"

	"bitbucket.org/Davydov/traitgauss/tree"
)

var log = logging.MustGetLogger("traits")

// MissingMarker is written in place of missing values.
const MissingMarker = "?"

var missingMarkers = map[string]bool{
	"?":  true,
	"NA": true,
	"-":  true,
}

// Table is a trait table. Missing values are NaN.
type Table struct {
	// Traits are the trait names from the header.
	Traits []string
	Taxa   []string
	Values [][]float64
}

// Dim returns the number of traits.
func (t *Table) Dim() int {
	return len(t.Traits)
}

// Parse reads a trait table.
func Parse(rd io.Reader) (*Table, error) {
	table := &Table{}
	seen := make(map[string]bool)
	scanner := bufio.NewScanner(rd)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || line[0] == '#' {
			continue
		}
		fields := strings.Fields(line)
		if table.Traits == nil {
			if len(fields) < 2 {
				return nil, errors.Errorf("line %d: header needs a taxon column and at least one trait", lineNo)
			}
			table.Traits = fields[1:]
			continue
		}
		if len(fields) != len(table.Traits)+1 {
			return nil, errors.Errorf("line %d: expected %d fields, got %d",
				lineNo, len(table.Traits)+1, len(fields))
		}
		name := fields[0]
		if seen[name] {
			return nil, errors.Errorf("line %d: duplicate taxon %s", lineNo, name)
		}
		seen[name] = true
		row := make([]float64, len(table.Traits))
		for i, f := range fields[1:] {
			if missingMarkers[f] {
				row[i] = math.NaN()
				continue
			}
			v, err := strconv.ParseFloat(f, 64)
			if err != nil {
				return nil, errors.Wrapf(err, "line %d, trait %s", lineNo, table.Traits[i])
			}
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return nil, errors.Errorf("line %d, trait %s: value is not finite", lineNo, table.Traits[i])
			}
			row[i] = v
		}
		table.Taxa = append(table.Taxa, name)
		table.Values = append(table.Values, row)
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "reading trait table")
	}
	if table.Traits == nil {
		return nil, errors.New("empty trait table")
	}
	return table, nil
}

// Match orders the rows by the tree leaf ids. Every leaf must have a
// row. Taxa absent from the tree are ignored with a warning.
func (t *Table) Match(tr *tree.Tree) ([][]float64, error) {
	rows := make(map[string][]float64, len(t.Taxa))
	for i, name := range t.Taxa {
		rows[name] = t.Values[i]
	}
	leaves := tr.Leaves()
	tips := make([][]float64, len(leaves))
	for i, node := range leaves {
		row, ok := rows[node.Name]
		if !ok {
			return nil, errors.Errorf("no trait values for taxon %s", node.Name)
		}
		tips[i] = row
		delete(rows, node.Name)
	}
	for name := range rows {
		log.Warningf("Taxon %s is not in the tree", name)
	}
	return tips, nil
}

// FromTips creates a table from values indexed by the tree leaf ids.
func FromTips(traits []string, tr *tree.Tree, tips [][]float64) *Table {
	table := &Table{Traits: traits}
	for i, node := range tr.Leaves() {
		table.Taxa = append(table.Taxa, node.Name)
		table.Values = append(table.Values, tips[i])
	}
	return table
}

// Write writes the table in the format read by Parse.
func (t *Table) Write(w io.Writer) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "taxon\t%s\n", strings.Join(t.Traits, "\t"))
	for i, name := range t.Taxa {
		bw.WriteString(name)
		for _, v := range t.Values[i] {
			bw.WriteByte('\t')
			if math.IsNaN(v) {
				bw.WriteString(MissingMarker)
			} else {
				bw.WriteString(strconv.FormatFloat(v, 'g', -1, 64))
			}
		}
		bw.WriteByte('\n')
	}
	return bw.Flush()
}
