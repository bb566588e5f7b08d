// Package matpower reads MATPOWER case files (version 2) into grid specs.
package matpower

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/ohowland/cgc_acopf/internal/pkg/grid"
)

var (
	ErrSyntax    = errors.New("matpower: syntax error")
	ErrMissing   = errors.New("matpower: missing table")
	ErrColumns   = errors.New("matpower: too few columns")
	ErrCostModel = errors.New("matpower: unsupported cost model")
)

// Case is the raw content of a case file. The tables keep the MATPOWER
// column layout; JSON and YAML documents use the same field names.
type Case struct {
	Name    string      `json:"name" yaml:"name"`
	BaseMVA float64     `json:"baseMVA" yaml:"baseMVA"`
	Bus     [][]float64 `json:"bus" yaml:"bus"`
	Gen     [][]float64 `json:"gen" yaml:"gen"`
	Branch  [][]float64 `json:"branch" yaml:"branch"`
	GenCost [][]float64 `json:"gencost" yaml:"gencost"`
}

// Minimum column counts of the tables.
const (
	busCols     = 13
	genCols     = 10
	branchCols  = 11
	genCostCols = 4
)

const (
	busRef      = 3
	busIsolated = 4

	costPolynomial = 2
)

// Load reads and builds the grid of a MATPOWER file.
func Load(path string) (*grid.Grid, error) {
	c, err := ParseFile(path)
	if err != nil {
		return nil, err
	}
	return c.Grid()
}

// ParseFile parses a MATPOWER file. The case is named after the function
// declared in the file, or after the file itself when there is none.
func ParseFile(path string) (*Case, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	c, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if c.Name == "" {
		c.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return c, nil
}

// Parse reads a case from MATPOWER source text.
func Parse(r io.Reader) (*Case, error) {
	c := &Case{}
	var table *[][]float64
	skipping := false

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		text := stripComment(sc.Text())
		if strings.TrimSpace(text) == "" {
			continue
		}

		if skipping {
			if strings.Contains(text, "}") {
				skipping = false
			}
			continue
		}

		if table != nil {
			body, closed := text, false
			if i := strings.Index(text, "]"); i >= 0 {
				body, closed = text[:i], true
			}
			if err := appendRows(table, body); err != nil {
				return nil, fmt.Errorf("%w: line %d: %v", ErrSyntax, line, err)
			}
			if closed {
				table = nil
			}
			continue
		}

		trimmed := strings.TrimSpace(text)
		if strings.HasPrefix(trimmed, "function") {
			if i := strings.Index(trimmed, "="); i >= 0 {
				c.Name = strings.TrimSpace(trimmed[i+1:])
			}
			continue
		}

		lhs, rhs, ok := strings.Cut(trimmed, "=")
		if !ok {
			continue
		}
		field := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(lhs), "mpc."))
		rhs = strings.TrimSpace(rhs)

		switch {
		case strings.HasPrefix(rhs, "["):
			t := c.table(field)
			body, closed := rhs[1:], false
			if i := strings.Index(body, "]"); i >= 0 {
				body, closed = body[:i], true
			}
			if err := appendRows(t, body); err != nil {
				return nil, fmt.Errorf("%w: line %d: %v", ErrSyntax, line, err)
			}
			if !closed {
				table = t
			}
		case strings.HasPrefix(rhs, "{"):
			skipping = !strings.Contains(rhs, "}")
		case field == "baseMVA":
			v, err := strconv.ParseFloat(strings.TrimSpace(strings.TrimSuffix(rhs, ";")), 64)
			if err != nil {
				return nil, fmt.Errorf("%w: line %d: baseMVA: %v", ErrSyntax, line, err)
			}
			c.BaseMVA = v
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if table != nil {
		return nil, fmt.Errorf("%w: unterminated table", ErrSyntax)
	}
	return c, nil
}

// table returns the destination of a matrix field. Unknown fields are read
// into a scratch table and dropped.
func (c *Case) table(field string) *[][]float64 {
	switch field {
	case "bus":
		return &c.Bus
	case "gen":
		return &c.Gen
	case "branch":
		return &c.Branch
	case "gencost":
		return &c.GenCost
	}
	return new([][]float64)
}

func stripComment(s string) string {
	if i := strings.Index(s, "%"); i >= 0 {
		return s[:i]
	}
	return s
}

func appendRows(t *[][]float64, body string) error {
	for _, chunk := range strings.Split(body, ";") {
		fields := strings.FieldsFunc(chunk, func(r rune) bool {
			return r == ' ' || r == '\t' || r == ',' || r == '\r'
		})
		if len(fields) == 0 {
			continue
		}
		row := make([]float64, len(fields))
		for i, f := range fields {
			v, err := strconv.ParseFloat(f, 64)
			if err != nil {
				return err
			}
			row[i] = v
		}
		*t = append(*t, row)
	}
	return nil
}

// Spec converts the case to per unit and drops out of service equipment:
// isolated buses, generators and branches with status 0, and anything
// attached to a dropped bus.
func (c *Case) Spec() (grid.Spec, error) {
	if len(c.Bus) == 0 {
		return grid.Spec{}, fmt.Errorf("%w: bus", ErrMissing)
	}
	if len(c.Gen) == 0 {
		return grid.Spec{}, fmt.Errorf("%w: gen", ErrMissing)
	}
	if len(c.GenCost) < len(c.Gen) {
		return grid.Spec{}, fmt.Errorf("%w: gencost has %d rows for %d generators", ErrMissing, len(c.GenCost), len(c.Gen))
	}
	base := c.BaseMVA
	if base <= 0 {
		base = 100
	}
	s := grid.Spec{Name: c.Name, BaseMVA: base}

	active := make(map[int]bool)
	for i, row := range c.Bus {
		if len(row) < busCols {
			return s, fmt.Errorf("%w: bus row %d", ErrColumns, i+1)
		}
		id, typ := int(row[0]), int(row[1])
		if typ == busIsolated {
			continue
		}
		active[id] = true
		s.Nodes = append(s.Nodes, grid.Node{
			ID:   id,
			Pl:   row[2] / base,
			Ql:   row[3] / base,
			Gs:   row[4] / base,
			Bs:   row[5] / base,
			Vmax: row[11],
			Vmin: row[12],
			Ref:  typ == busRef,
		})
	}

	for i, row := range c.Gen {
		if len(row) < genCols {
			return s, fmt.Errorf("%w: gen row %d", ErrColumns, i+1)
		}
		bus := int(row[0])
		if row[7] <= 0 || !active[bus] {
			continue
		}
		gen := grid.Generator{
			ID:   i + 1,
			Bus:  bus,
			Qmax: row[3] / base,
			Qmin: row[4] / base,
			Pmax: row[8] / base,
			Pmin: row[9] / base,
		}
		if err := cost(&gen, c.GenCost[i], base); err != nil {
			return s, fmt.Errorf("gencost row %d: %w", i+1, err)
		}
		s.Generators = append(s.Generators, gen)
	}

	for i, row := range c.Branch {
		if len(row) < branchCols {
			return s, fmt.Errorf("%w: branch row %d", ErrColumns, i+1)
		}
		from, to := int(row[0]), int(row[1])
		if row[10] <= 0 || !active[from] || !active[to] {
			continue
		}
		a := grid.Arc{
			ID:   i + 1,
			From: from,
			To:   to,
			R:    row[2],
			X:    row[3],
			Ch:   row[4],
			Smax: row[5] / base,
			Tr:   row[8],
			As:   row[9] * math.Pi / 180,
		}
		if len(row) >= branchCols+2 {
			a.AngMin = row[11] * math.Pi / 180
			a.AngMax = row[12] * math.Pi / 180
		}
		s.Arcs = append(s.Arcs, a)
	}
	return s, nil
}

// cost reads a polynomial cost row, highest order first, into per unit
// coefficients.
func cost(g *grid.Generator, row []float64, base float64) error {
	if len(row) < genCostCols {
		return ErrColumns
	}
	if int(row[0]) != costPolynomial {
		return fmt.Errorf("%w: model %d", ErrCostModel, int(row[0]))
	}
	n := int(row[3])
	if n < 0 || n > 3 || len(row) < genCostCols+n {
		return fmt.Errorf("%w: %d coefficients", ErrCostModel, n)
	}
	coef := row[genCostCols : genCostCols+n]
	// pad to c2, c1, c0
	full := make([]float64, 3)
	copy(full[3-n:], coef)
	g.C2 = full[0] * base * base
	g.C1 = full[1] * base
	g.C0 = full[2]
	return nil
}

// Grid converts and validates the case.
func (c *Case) Grid() (*grid.Grid, error) {
	s, err := c.Spec()
	if err != nil {
		return nil, err
	}
	return grid.Build(s)
}
