package differs

import (
	"context"
	"encoding/csv"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"

	"github.com/ternarybob/probo/internal/harness"
	"github.com/ternarybob/probo/internal/params"
)

// CSVDiff compares CSV files produced by a Runner against gold copies,
// numerically, with configurable tolerances and per-column overrides.
type CSVDiff struct {
	harness.DifferBase
}

// CSVDiffParams returns the CSVDiff parameter template
func CSVDiffParams() *params.Set {
	set := harness.DifferParams()
	set.Add("csvdiff", params.Decl{Kind: params.StringSlice, Required: true,
		Doc: "File(s) to compare against their gold copies, resolved against 'file/base'."})
	set.Add("gold_dir", params.Decl{Kind: params.String, Default: "gold",
		Doc: "Directory (under 'file/base') holding the gold copies."})
	set.Add("rel_err", params.Decl{Kind: params.Float, Default: 5.5e-6,
		Doc: "Relative error tolerance applied to every column."})
	set.Add("abs_zero", params.Decl{Kind: params.Float, Default: 1e-10,
		Doc: "Values below this magnitude are treated as zero."})
	set.Add("override_columns", params.Decl{Kind: params.StringSlice,
		Doc: "Column name(s) with customized tolerances."})
	set.Add("override_rel_err", params.Decl{Kind: params.StringSlice,
		Doc: "Relative error tolerance(s) for the override columns."})
	set.Add("override_abs_zero", params.Decl{Kind: params.StringSlice,
		Doc: "Absolute zero tolerance(s) for the override columns."})
	return set
}

// NewCSVDiff constructs a CSVDiff from a populated parameter set. The
// override lists must have matching lengths.
func NewCSVDiff(set *params.Set) (harness.Object, error) {
	cols := set.GetStrings("override_columns")
	if n := len(set.GetStrings("override_rel_err")); n > 0 && n != len(cols) {
		return nil, fmt.Errorf("'override_rel_err' has %d value(s) for %d override column(s)", n, len(cols))
	}
	if n := len(set.GetStrings("override_abs_zero")); n > 0 && n != len(cols) {
		return nil, fmt.Errorf("'override_abs_zero' has %d value(s) for %d override column(s)", n, len(cols))
	}
	return &CSVDiff{DifferBase: harness.NewDifferBase(set)}, nil
}

// Execute compares each configured file with its gold copy
func (d *CSVDiff) Execute(ctx context.Context, exitCode int, output string) error {
	base := d.Parameters().Sub("file").GetString("base")
	goldDir := d.Parameters().GetString("gold_dir")

	for _, name := range d.Parameters().GetStrings("csvdiff") {
		out := name
		gold := filepath.Join(goldDir, name)
		if base != "" {
			out = filepath.Join(base, name)
			gold = filepath.Join(base, goldDir, name)
		}
		d.compareFiles(gold, out)
	}
	return nil
}

func (d *CSVDiff) compareFiles(goldPath, outPath string) {
	gold, err := readCSV(goldPath)
	if err != nil {
		d.Errorf("Unable to read the gold file %q: %v", goldPath, err)
		return
	}
	out, err := readCSV(outPath)
	if err != nil {
		d.Errorf("Unable to read the output file %q: %v", outPath, err)
		return
	}

	if len(gold.header) != len(out.header) {
		d.Errorf("The file %q has %d column(s), the gold copy has %d.", outPath, len(out.header), len(gold.header))
		return
	}
	if len(gold.rows) != len(out.rows) {
		d.Errorf("The file %q has %d row(s), the gold copy has %d.", outPath, len(out.rows), len(gold.rows))
		return
	}

	for col, colName := range gold.header {
		if out.header[col] != colName {
			d.Errorf("Column %d of %q is named %q, the gold copy names it %q.", col, outPath, out.header[col], colName)
			continue
		}
		relErr, absZero := d.tolerances(colName)
		for row := range gold.rows {
			g, o := gold.rows[row][col], out.rows[row][col]
			if !valuesMatch(g, o, relErr, absZero) {
				d.Errorf("The values in column %q row %d of %q differ: %g vs %g (rel_err=%g).",
					colName, row, outPath, g, o, relErr)
			}
		}
	}
}

// tolerances returns the (rel_err, abs_zero) pair for a column, honoring
// per-column overrides
func (d *CSVDiff) tolerances(column string) (float64, float64) {
	relErr := d.Parameters().GetFloat("rel_err")
	absZero := d.Parameters().GetFloat("abs_zero")

	cols := d.Parameters().GetStrings("override_columns")
	rels := d.Parameters().GetStrings("override_rel_err")
	abss := d.Parameters().GetStrings("override_abs_zero")
	for i, name := range cols {
		if name != column {
			continue
		}
		if i < len(rels) {
			if v, err := strconv.ParseFloat(rels[i], 64); err == nil {
				relErr = v
			}
		}
		if i < len(abss) {
			if v, err := strconv.ParseFloat(abss[i], 64); err == nil {
				absZero = v
			}
		}
	}
	return relErr, absZero
}

func valuesMatch(a, b, relErr, absZero float64) bool {
	if math.Abs(a) < absZero {
		a = 0
	}
	if math.Abs(b) < absZero {
		b = 0
	}
	if a == b {
		return true
	}
	denom := math.Max(math.Abs(a), math.Abs(b))
	return math.Abs(a-b)/denom <= relErr
}

type csvTable struct {
	header []string
	rows   [][]float64
}

func readCSV(path string) (*csvTable, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("the file is empty")
	}

	table := &csvTable{header: records[0]}
	for i, record := range records[1:] {
		row := make([]float64, len(record))
		for j, field := range record {
			v, err := strconv.ParseFloat(field, 64)
			if err != nil {
				return nil, fmt.Errorf("row %d column %d: invalid number %q", i+1, j, field)
			}
			row[j] = v
		}
		table.rows = append(table.rows, row)
	}
	return table, nil
}
