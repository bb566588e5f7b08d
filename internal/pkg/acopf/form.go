package acopf

import (
	"github.com/ohowland/cgc_acopf/internal/pkg/grid"
	"github.com/ohowland/cgc_acopf/internal/pkg/nlp"
)

// voltageForm is everything that depends on the voltage coordinates.
type voltageForm interface {
	// declare adds the voltage variables of every bus.
	declare(m *nlp.Model, g *grid.Grid) error
	// reference is the expression pinned to zero at the reference bus.
	reference(n grid.Node) nlp.Expr
	// magnitude2 is the squared voltage magnitude of a bus.
	magnitude2(n grid.Node) nlp.Expr
	// flows are the power flows into an arc at its two ends.
	flows(a grid.Arc) (pf, qf, pt, qt nlp.Expr)
	// angleDiff returns the upper and lower angle difference rows, both <= 0.
	angleDiff(p grid.BusPair) (ub, lb nlp.Expr)
	// voltageLimits returns the magnitude rows ub <= 0 and lb >= 0 when the
	// bounds are not already variable bounds.
	voltageLimits(n grid.Node) (ub, lb nlp.Expr, ok bool)
	// voltage reads the solved voltage of a bus.
	voltage(m *nlp.Model, n grid.Node) (vm, va float64)
	describe() string
}

func newVoltageForm(f Formulation) (voltageForm, error) {
	switch f {
	case ACPOL:
		return &polar{}, nil
	case ACRECT:
		return &rectangular{}, nil
	}
	return nil, ErrFormulation
}

func nodeKeys(g *grid.Grid) []string {
	nodes := g.Nodes()
	keys := make([]string, len(nodes))
	for i, n := range nodes {
		keys[i] = n.Key()
	}
	return keys
}
