package acopf

import (
	"context"
	"errors"
	"math"
	"math/cmplx"
	"testing"

	"gotest.tools/v3/assert"

	"github.com/ohowland/cgc_acopf/internal/lib/matpower"
	"github.com/ohowland/cgc_acopf/internal/pkg/grid"
	"github.com/ohowland/cgc_acopf/internal/pkg/ipm"
	"github.com/ohowland/cgc_acopf/internal/pkg/nlp"
	"github.com/ohowland/cgc_acopf/internal/pkg/solver"
)

const (
	caseFile = "../../../data/nesta_case5_pjm.m"
	case5Obj = 17551.89
)

func case5Spec(t *testing.T) grid.Spec {
	c, err := matpower.ParseFile(caseFile)
	assert.NilError(t, err)
	s, err := c.Spec()
	assert.NilError(t, err)
	return s
}

func build(t *testing.T, s grid.Spec) *grid.Grid {
	g, err := grid.Build(s)
	assert.NilError(t, err)
	return g
}

func solve(t *testing.T, g *grid.Grid, opts Options) *OPF {
	o, err := Build(g, opts)
	assert.NilError(t, err)
	p, err := o.Compile()
	assert.NilError(t, err)
	res, err := ipm.New(nil).Solve(context.Background(), p, solver.DefaultOptions())
	assert.NilError(t, err)
	assert.Equal(t, res.Status, solver.LocallyOptimal, "%s after %d iterations", o.Describe(), res.Iterations)
	assert.NilError(t, o.Apply(res))
	return o
}

func relDiff(a, b float64) float64 {
	return math.Abs(a-b) / math.Max(1, math.Abs(b))
}

func TestParseFormulation(t *testing.T) {
	f, err := ParseFormulation("ACPOL")
	assert.NilError(t, err)
	assert.Equal(t, f, ACPOL)

	f, err = ParseFormulation("acrect")
	assert.NilError(t, err)
	assert.Equal(t, f, ACRECT)
	assert.Equal(t, f.String(), "ACRECT")

	_, err = ParseFormulation("DC")
	assert.Assert(t, errors.Is(err, ErrFormulation))
}

func TestBuildErrors(t *testing.T) {
	g := build(t, case5Spec(t))

	_, err := Build(g, Options{Form: ACPOL, Scale: 0})
	assert.Assert(t, errors.Is(err, ErrScale))

	_, err = Build(g, Options{Form: Formulation(9), Scale: 1})
	assert.Assert(t, errors.Is(err, ErrFormulation))
}

func familyNames(m *nlp.Model) map[string]int {
	out := make(map[string]int)
	for _, c := range m.Constraints() {
		out[c.Name()] = c.Len()
	}
	return out
}

func TestFamilies(t *testing.T) {
	g := build(t, case5Spec(t))

	pol, err := Build(g, DefaultOptions())
	assert.NilError(t, err)
	assert.Equal(t, pol.Model.NumVars(), 5+5+4*6+5+5)
	assert.DeepEqual(t, familyNames(pol.Model), map[string]int{
		RefBus: 1, KCLP: 5, KCLQ: 5,
		FlowPFrom: 6, FlowPTo: 6, FlowQFrom: 6, FlowQTo: 6,
		PADUB: 6, PADLB: 6, ThermalFrom: 6, ThermalTo: 6,
	})

	rect, err := Build(g, Options{Form: ACRECT, Scale: DefaultScale})
	assert.NilError(t, err)
	assert.Equal(t, rect.Model.NumVars(), pol.Model.NumVars())
	names := familyNames(rect.Model)
	assert.Equal(t, names[VolLimitUB], 5)
	assert.Equal(t, names[VolLimitLB], 5)
	assert.Equal(t, rect.Model.NumConstraints(), pol.Model.NumConstraints()+10)
	assert.Equal(t, rect.Describe(), "rectangular")
}

func TestUnlimitedArcHasNoThermalRow(t *testing.T) {
	s := case5Spec(t)
	s.Arcs[0].Smax = 0
	o, err := Build(build(t, s), DefaultOptions())
	assert.NilError(t, err)
	names := familyNames(o.Model)
	assert.Equal(t, names[ThermalFrom], 5)
	lo, hi := o.PfFrom.Bounds(s.Arcs[0].Key())
	assert.Assert(t, math.IsInf(lo, -1) && math.IsInf(hi, 1))
}

func TestUndeclaredKeyPanics(t *testing.T) {
	o, err := Build(build(t, case5Spec(t)), DefaultOptions())
	assert.NilError(t, err)
	defer func() {
		assert.Assert(t, recover() != nil)
	}()
	o.Pg.At("g99")
}

// TestFlowEquations checks both voltage forms against the complex branch
// model S = V * conj(Y V) on a phase shifting transformer.
func TestFlowEquations(t *testing.T) {
	s := grid.Spec{
		Name: "transformer",
		Nodes: []grid.Node{
			{ID: 1, Vmin: 0.9, Vmax: 1.1, Ref: true},
			{ID: 2, Vmin: 0.9, Vmax: 1.1},
		},
		Generators: []grid.Generator{{ID: 1, Bus: 1, Pmax: 1, Qmin: -1, Qmax: 1}},
		Arcs: []grid.Arc{
			{ID: 1, From: 1, To: 2, R: 0.02, X: 0.08, Ch: 0.05, Tr: 1.05, As: 0.1, Smax: 2},
		},
	}
	g := build(t, s)
	a := g.Arcs()[0]

	vf := cmplx.Rect(1.02, 0.05)
	vt := cmplx.Rect(0.98, -0.1)
	yff := complex(a.Gff, a.Bff)
	yft := complex(a.Gft, a.Bft)
	ytf := complex(a.Gtf, a.Btf)
	ytt := complex(a.Gtt, a.Btt)
	sf := vf * cmplx.Conj(yff*vf+yft*vt)
	st := vt * cmplx.Conj(ytf*vf+ytt*vt)

	for _, f := range []Formulation{ACPOL, ACRECT} {
		o, err := Build(g, Options{Form: f, Scale: 1})
		assert.NilError(t, err)
		x := make([]float64, o.Model.NumVars())
		switch form := o.form.(type) {
		case *polar:
			x[form.vm.Index("1")], x[form.theta.Index("1")] = cmplx.Abs(vf), cmplx.Phase(vf)
			x[form.vm.Index("2")], x[form.theta.Index("2")] = cmplx.Abs(vt), cmplx.Phase(vt)
		case *rectangular:
			x[form.vr.Index("1")], x[form.vi.Index("1")] = real(vf), imag(vf)
			x[form.vr.Index("2")], x[form.vi.Index("2")] = real(vt), imag(vt)
		}
		assert.NilError(t, o.Model.SetSolution(x, 0))

		pf, qf, pt, qt := o.form.flows(a)
		for _, c := range []struct {
			got, want float64
		}{
			{o.Model.Value(pf), real(sf)},
			{o.Model.Value(qf), imag(sf)},
			{o.Model.Value(pt), real(st)},
			{o.Model.Value(qt), imag(st)},
		} {
			assert.Assert(t, math.Abs(c.got-c.want) < 1e-12, "%s: got %g want %g", f, c.got, c.want)
		}

		vm, va := o.Voltage(grid.Node{ID: 2})
		assert.Assert(t, math.Abs(vm-0.98) < 1e-12)
		assert.Assert(t, math.Abs(va+0.1) < 1e-12)
	}
}

func TestCase5(t *testing.T) {
	g := build(t, case5Spec(t))
	costs := make(map[Formulation]float64)
	for _, f := range []Formulation{ACPOL, ACRECT} {
		o := solve(t, g, Options{Form: f, Scale: DefaultScale})
		costs[f] = o.Cost()

		assert.Assert(t, relDiff(o.Cost(), case5Obj) < 1e-4, "%s: cost %.6f", f, o.Cost())
		assert.Assert(t, o.MaxBalanceResidual() < 1e-4, "%s: balance residual %g", f, o.MaxBalanceResidual())
		assert.Assert(t, math.Abs(o.ReferenceValue()) < 1e-9, "%s: reference %g", f, o.ReferenceValue())
		for _, l := range o.ThermalLoading() {
			assert.Assert(t, l.Ratio <= 1+1e-5, "%s: arc %s loaded to %g", f, l.Arc, l.Ratio)
		}
		v, err := o.Violations(1e-4)
		assert.NilError(t, err)
		assert.Equal(t, len(v), 0, "%s: %v", f, v)

		var total float64
		for _, d := range o.Dispatch() {
			total += d.P
		}
		// Load is 10 p.u.; losses are small and positive.
		assert.Assert(t, total > 10 && total < 10.5, "%s: generation %g", f, total)
	}
	assert.Assert(t, relDiff(costs[ACPOL], costs[ACRECT]) < 1e-5, "polar %g rectangular %g", costs[ACPOL], costs[ACRECT])
}

func TestScaleRoundTrip(t *testing.T) {
	g := build(t, case5Spec(t))
	scaled := solve(t, g, Options{Form: ACPOL, Scale: DefaultScale})
	unscaled := solve(t, g, Options{Form: ACPOL, Scale: 1})
	assert.Assert(t, math.Abs(scaled.Objective()-DefaultScale*scaled.Cost()) < 1e-9)
	assert.Assert(t, relDiff(scaled.Cost(), unscaled.Objective()) < 1e-5,
		"scaled %g unscaled %g", scaled.Cost(), unscaled.Objective())
}

func TestCostMonotone(t *testing.T) {
	s := case5Spec(t)
	base := solve(t, build(t, s), DefaultOptions()).Cost()

	for i := range s.Generators {
		s.Generators[i].C1 *= 1.5
	}
	higher := solve(t, build(t, s), DefaultOptions()).Cost()
	assert.Assert(t, higher >= base*(1-1e-6), "base %g higher %g", base, higher)

	s.Generators[2].C0 = 0.5
	withConstant := solve(t, build(t, s), DefaultOptions()).Cost()
	assert.Assert(t, withConstant >= higher*(1-1e-6))
	assert.Assert(t, math.Abs(withConstant-higher-0.5) < 0.1, "constant term adds %g", withConstant-higher)
}

// TestZeroLoad solves a lossless two bus network without load; the only
// generator sits at its lower bound and costs nothing.
func TestZeroLoad(t *testing.T) {
	s := grid.Spec{
		Name: "zero_load",
		Nodes: []grid.Node{
			{ID: 1, Vmin: 0.95, Vmax: 1.05, Ref: true},
			{ID: 2, Vmin: 0.95, Vmax: 1.05},
		},
		Generators: []grid.Generator{{ID: 1, Bus: 1, Pmax: 1, Qmin: -0.5, Qmax: 0.5, C1: 100}},
		Arcs:       []grid.Arc{{ID: 1, From: 1, To: 2, X: 0.1, Smax: 1}},
	}
	g := build(t, s)
	for _, f := range []Formulation{ACPOL, ACRECT} {
		o := solve(t, g, Options{Form: f, Scale: DefaultScale})
		assert.Assert(t, o.Cost() < 1e-2, "%s: cost %g", f, o.Cost())
		assert.Assert(t, o.Dispatch()[0].P < 1e-4, "%s: generation %g", f, o.Dispatch()[0].P)
	}
}

func TestViolationsRequireSolution(t *testing.T) {
	o, err := Build(build(t, case5Spec(t)), DefaultOptions())
	assert.NilError(t, err)
	_, err = o.Violations(1e-6)
	assert.Assert(t, errors.Is(err, ErrNotSolved))
}
