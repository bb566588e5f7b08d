package acopf

import (
	"strconv"

	"github.com/ohowland/cgc_acopf/internal/pkg/grid"
	"github.com/ohowland/cgc_acopf/internal/pkg/nlp"
)

// polar models bus voltages as magnitude |V| and angle theta.
type polar struct {
	vm    *nlp.VarSet
	theta *nlp.VarSet
}

func (f *polar) describe() string { return "polar" }

func (f *polar) declare(m *nlp.Model, g *grid.Grid) error {
	keys := nodeKeys(g)
	lo := make([]float64, len(keys))
	hi := make([]float64, len(keys))
	for i, n := range g.Nodes() {
		lo[i], hi[i] = n.Vmin, n.Vmax
	}
	var err error
	if f.vm, err = m.AddVars(VarVm, keys, lo, hi); err != nil {
		return err
	}
	f.vm.Initialize(1)
	if f.theta, err = m.AddVars(VarTheta, keys, nil, nil); err != nil {
		return err
	}
	f.theta.Initialize(0)
	return nil
}

func (f *polar) reference(n grid.Node) nlp.Expr {
	return f.theta.At(n.Key())
}

func (f *polar) magnitude2(n grid.Node) nlp.Expr {
	return nlp.Pow(f.vm.At(n.Key()), 2)
}

func (f *polar) flows(a grid.Arc) (pf, qf, pt, qt nlp.Expr) {
	from, to := key(a.From), key(a.To)
	vf, vt := f.vm.At(from), f.vm.At(to)
	vv := nlp.Mul(vf, vt)
	shift := nlp.Sub(nlp.Sub(f.theta.At(from), f.theta.At(to)), nlp.Const(a.As))
	cos := nlp.Mul(vv, nlp.Cos(shift))
	sin := nlp.Mul(vv, nlp.Sin(shift))

	g, b, tr := a.G, a.B, a.Tr
	bsh := b + 0.5*a.Ch

	pf = nlp.Add(
		nlp.Scale(g/(tr*tr), nlp.Pow(vf, 2)),
		nlp.Scale(-g/tr, cos),
		nlp.Scale(-b/tr, sin),
	)
	pt = nlp.Add(
		nlp.Scale(g, nlp.Pow(vt, 2)),
		nlp.Scale(-g/tr, cos),
		nlp.Scale(b/tr, sin),
	)
	qf = nlp.Add(
		nlp.Scale(-bsh/(tr*tr), nlp.Pow(vf, 2)),
		nlp.Scale(b/tr, cos),
		nlp.Scale(-g/tr, sin),
	)
	qt = nlp.Add(
		nlp.Scale(-bsh, nlp.Pow(vt, 2)),
		nlp.Scale(b/tr, cos),
		nlp.Scale(g/tr, sin),
	)
	return pf, qf, pt, qt
}

func (f *polar) angleDiff(p grid.BusPair) (ub, lb nlp.Expr) {
	diff := nlp.Sub(f.theta.At(key(p.From)), f.theta.At(key(p.To)))
	ub = nlp.Sub(diff, nlp.Const(p.AngMax))
	lb = nlp.Add(nlp.Neg(diff), nlp.Const(p.AngMin))
	return ub, lb
}

// Magnitude bounds are variable bounds in polar form.
func (f *polar) voltageLimits(grid.Node) (ub, lb nlp.Expr, ok bool) {
	return nil, nil, false
}

func (f *polar) voltage(m *nlp.Model, n grid.Node) (vm, va float64) {
	return f.vm.Value(n.Key()), f.theta.Value(n.Key())
}

func key(id int) string {
	return strconv.Itoa(id)
}
