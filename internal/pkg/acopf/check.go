package acopf

import (
	"math"

	"github.com/ohowland/cgc_acopf/internal/pkg/nlp"
)

// Residual is the value of one constraint row at the recorded solution.
type Residual struct {
	Family string
	Key    string
	Value  float64
}

// Violations returns every row of the model violated by more than tol at
// the recorded solution.
func (o *OPF) Violations(tol float64) ([]Residual, error) {
	if !o.Model.Solved() {
		return nil, ErrNotSolved
	}
	var out []Residual
	for _, c := range o.Model.Constraints() {
		for _, r := range c.Rows() {
			v := o.Model.Value(r.Expr)
			var excess float64
			switch c.Relation() {
			case nlp.EQ:
				excess = math.Abs(v)
			case nlp.LEQ:
				excess = v
			case nlp.GEQ:
				excess = -v
			}
			if excess > tol || math.IsNaN(v) {
				out = append(out, Residual{Family: c.Name(), Key: r.Key, Value: v})
			}
		}
	}
	return out, nil
}

// MaxBalanceResidual is the largest absolute real or reactive power
// mismatch over all buses, recomputed from the solved voltages rather than
// read from the flow variables.
func (o *OPF) MaxBalanceResidual() float64 {
	p := make(map[int]float64)
	q := make(map[int]float64)
	for _, n := range o.grid.Nodes() {
		v2 := o.Model.Value(o.form.magnitude2(n))
		p[n.ID] = n.Pl + n.Gs*v2
		q[n.ID] = n.Ql - n.Bs*v2
		for _, gen := range o.grid.GeneratorsAt(n.ID) {
			p[n.ID] -= o.Pg.Value(gen.Key())
			q[n.ID] -= o.Qg.Value(gen.Key())
		}
	}
	for _, a := range o.grid.Arcs() {
		pf, qf, pt, qt := o.form.flows(a)
		p[a.From] += o.Model.Value(pf)
		q[a.From] += o.Model.Value(qf)
		p[a.To] += o.Model.Value(pt)
		q[a.To] += o.Model.Value(qt)
	}
	var worst float64
	for id := range p {
		worst = math.Max(worst, math.Max(math.Abs(p[id]), math.Abs(q[id])))
	}
	return worst
}

// Loading is the apparent power at the more loaded end of an arc as a
// fraction of its thermal limit.
type Loading struct {
	Arc   string
	Ratio float64
}

// ThermalLoading returns the loading of every limited arc.
func (o *OPF) ThermalLoading() []Loading {
	var out []Loading
	for _, a := range o.grid.Arcs() {
		if !a.Limited() {
			continue
		}
		k := a.Key()
		sf := math.Hypot(o.PfFrom.Value(k), o.QfFrom.Value(k))
		st := math.Hypot(o.PfTo.Value(k), o.QfTo.Value(k))
		out = append(out, Loading{Arc: k, Ratio: math.Max(sf, st) / a.Smax})
	}
	return out
}

// ReferenceValue is the pinned voltage component of the reference bus: its
// angle in polar form, its imaginary part in rectangular form.
func (o *OPF) ReferenceValue() float64 {
	return o.Model.Value(o.form.reference(o.grid.Reference()))
}

// Dispatch is the solved set point of one generator.
type Dispatch struct {
	Generator string
	P, Q      float64
}

// Dispatch returns the solved generator set points in case order.
func (o *OPF) Dispatch() []Dispatch {
	gens := o.grid.Generators()
	out := make([]Dispatch, len(gens))
	for i, gen := range gens {
		k := gen.Key()
		out[i] = Dispatch{Generator: k, P: o.Pg.Value(k), Q: o.Qg.Value(k)}
	}
	return out
}
