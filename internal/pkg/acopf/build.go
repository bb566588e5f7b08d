package acopf

import (
	"fmt"
	"math"

	"github.com/ohowland/cgc_acopf/internal/pkg/grid"
	"github.com/ohowland/cgc_acopf/internal/pkg/nlp"
)

// Build declares the variables, objective and constraints of the AC-OPF of g.
func Build(g *grid.Grid, opts Options) (*OPF, error) {
	if !(opts.Scale > 0) || math.IsInf(opts.Scale, 1) {
		return nil, fmt.Errorf("%w: %g", ErrScale, opts.Scale)
	}
	form, err := newVoltageForm(opts.Form)
	if err != nil {
		return nil, err
	}
	o := &OPF{
		grid:  g,
		opts:  opts,
		form:  form,
		Model: nlp.NewModel(g.Name() + "_" + opts.Form.String()),
	}
	if err := o.declare(); err != nil {
		return nil, fmt.Errorf("declare variables: %w", err)
	}
	if err := o.objective(); err != nil {
		return nil, fmt.Errorf("objective: %w", err)
	}
	if err := o.constrain(); err != nil {
		return nil, fmt.Errorf("constraints: %w", err)
	}
	return o, nil
}

func (o *OPF) declare() error {
	gens := o.grid.Generators()
	gkeys := make([]string, len(gens))
	pmin, pmax := make([]float64, len(gens)), make([]float64, len(gens))
	qmin, qmax := make([]float64, len(gens)), make([]float64, len(gens))
	for i, gen := range gens {
		gkeys[i] = gen.Key()
		pmin[i], pmax[i] = gen.Pmin, gen.Pmax
		qmin[i], qmax[i] = gen.Qmin, gen.Qmax
	}

	arcs := o.grid.Arcs()
	akeys := make([]string, len(arcs))
	smin, smax := make([]float64, len(arcs)), make([]float64, len(arcs))
	for i, a := range arcs {
		akeys[i] = a.Key()
		smin[i], smax[i] = -a.Smax, a.Smax
	}

	var err error
	m := o.Model
	if o.Pg, err = m.AddVars(VarPg, gkeys, pmin, pmax); err != nil {
		return err
	}
	if o.Qg, err = m.AddVars(VarQg, gkeys, qmin, qmax); err != nil {
		return err
	}
	if o.PfFrom, err = m.AddVars(VarPfFrom, akeys, smin, smax); err != nil {
		return err
	}
	if o.QfFrom, err = m.AddVars(VarQfFrom, akeys, smin, smax); err != nil {
		return err
	}
	if o.PfTo, err = m.AddVars(VarPfTo, akeys, smin, smax); err != nil {
		return err
	}
	if o.QfTo, err = m.AddVars(VarQfTo, akeys, smin, smax); err != nil {
		return err
	}
	return o.form.declare(m, o.grid)
}

func (o *OPF) objective() error {
	gens := o.grid.Generators()
	cost := nlp.SumOf(len(gens), func(i int) nlp.Expr {
		gen := gens[i]
		pg := o.Pg.At(gen.Key())
		return nlp.Add(nlp.Scale(gen.C2, nlp.Pow(pg, 2)), nlp.Scale(gen.C1, pg), nlp.Const(gen.C0))
	})
	return o.Model.Minimize(nlp.Scale(o.opts.Scale, cost))
}

func (o *OPF) constrain() error {
	families := []*nlp.Constraint{
		o.referenceBus(),
	}
	families = append(families, o.balance()...)
	families = append(families, o.flowDefinitions()...)
	families = append(families, o.voltageLimits()...)
	families = append(families, o.angleDifferences()...)
	families = append(families, o.thermalLimits()...)
	for _, c := range families {
		if c == nil {
			continue
		}
		if err := o.Model.AddConstraint(c); err != nil {
			return err
		}
	}
	return nil
}

func (o *OPF) referenceBus() *nlp.Constraint {
	ref := o.grid.Reference()
	c := nlp.NewConstraint(RefBus, nlp.EQ)
	c.Add(ref.Key(), o.form.reference(ref))
	return c
}

// balance is Kirchhoff's current law at every bus, for real and reactive
// power: flows leaving the bus plus load plus shunt equal generation.
func (o *OPF) balance() []*nlp.Constraint {
	kp := nlp.NewConstraint(KCLP, nlp.EQ)
	kq := nlp.NewConstraint(KCLQ, nlp.EQ)
	for _, n := range o.grid.Nodes() {
		out := o.grid.OutArcs(n.ID)
		in := o.grid.InArcs(n.ID)
		gens := o.grid.GeneratorsAt(n.ID)
		v2 := o.form.magnitude2(n)

		p := make([]nlp.Expr, 0, len(out)+len(in)+len(gens)+2)
		q := make([]nlp.Expr, 0, len(out)+len(in)+len(gens)+2)
		for _, a := range out {
			p = append(p, o.PfFrom.At(a.Key()))
			q = append(q, o.QfFrom.At(a.Key()))
		}
		for _, a := range in {
			p = append(p, o.PfTo.At(a.Key()))
			q = append(q, o.QfTo.At(a.Key()))
		}
		for _, gen := range gens {
			p = append(p, nlp.Neg(o.Pg.At(gen.Key())))
			q = append(q, nlp.Neg(o.Qg.At(gen.Key())))
		}
		p = append(p, nlp.Const(n.Pl), nlp.Scale(n.Gs, v2))
		q = append(q, nlp.Const(n.Ql), nlp.Scale(-n.Bs, v2))

		kp.Add(n.Key(), nlp.Add(p...))
		kq.Add(n.Key(), nlp.Add(q...))
	}
	return []*nlp.Constraint{kp, kq}
}

// flowDefinitions ties the flow variables of every arc to the voltages at
// its ends.
func (o *OPF) flowDefinitions() []*nlp.Constraint {
	pf := nlp.NewConstraint(FlowPFrom, nlp.EQ)
	pt := nlp.NewConstraint(FlowPTo, nlp.EQ)
	qf := nlp.NewConstraint(FlowQFrom, nlp.EQ)
	qt := nlp.NewConstraint(FlowQTo, nlp.EQ)
	for _, a := range o.grid.Arcs() {
		k := a.Key()
		epf, eqf, ept, eqt := o.form.flows(a)
		pf.Add(k, nlp.Sub(o.PfFrom.At(k), epf))
		pt.Add(k, nlp.Sub(o.PfTo.At(k), ept))
		qf.Add(k, nlp.Sub(o.QfFrom.At(k), eqf))
		qt.Add(k, nlp.Sub(o.QfTo.At(k), eqt))
	}
	return []*nlp.Constraint{pf, pt, qf, qt}
}

func (o *OPF) voltageLimits() []*nlp.Constraint {
	ub := nlp.NewConstraint(VolLimitUB, nlp.LEQ)
	lb := nlp.NewConstraint(VolLimitLB, nlp.GEQ)
	for _, n := range o.grid.Nodes() {
		u, l, ok := o.form.voltageLimits(n)
		if !ok {
			return nil
		}
		ub.Add(n.Key(), u)
		lb.Add(n.Key(), l)
	}
	return []*nlp.Constraint{ub, lb}
}

func (o *OPF) angleDifferences() []*nlp.Constraint {
	ub := nlp.NewConstraint(PADUB, nlp.LEQ)
	lb := nlp.NewConstraint(PADLB, nlp.LEQ)
	for _, p := range o.grid.BusPairs() {
		u, l := o.form.angleDiff(p)
		ub.Add(p.Key(), u)
		lb.Add(p.Key(), l)
	}
	return []*nlp.Constraint{ub, lb}
}

// thermalLimits bounds the apparent power at both ends of every limited arc.
// The rows are scaled like the objective.
func (o *OPF) thermalLimits() []*nlp.Constraint {
	from := nlp.NewConstraint(ThermalFrom, nlp.LEQ)
	to := nlp.NewConstraint(ThermalTo, nlp.LEQ)
	s := o.opts.Scale
	for _, a := range o.grid.Arcs() {
		if !a.Limited() {
			continue
		}
		k := a.Key()
		limit := nlp.Const(-a.Smax * a.Smax)
		from.Add(k, nlp.Scale(s, nlp.Add(nlp.Pow(o.PfFrom.At(k), 2), nlp.Pow(o.QfFrom.At(k), 2), limit)))
		to.Add(k, nlp.Scale(s, nlp.Add(nlp.Pow(o.PfTo.At(k), 2), nlp.Pow(o.QfTo.At(k), 2), limit)))
	}
	return []*nlp.Constraint{from, to}
}

// Describe names the voltage coordinates of the model.
func (o *OPF) Describe() string {
	return o.form.describe()
}
