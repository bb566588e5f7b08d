package acopf

import (
	"math"

	"github.com/ohowland/cgc_acopf/internal/pkg/grid"
	"github.com/ohowland/cgc_acopf/internal/pkg/nlp"
)

// rectangular models bus voltages as vr + j*vi.
type rectangular struct {
	vr *nlp.VarSet
	vi *nlp.VarSet
}

func (f *rectangular) describe() string { return "rectangular" }

func (f *rectangular) declare(m *nlp.Model, g *grid.Grid) error {
	keys := nodeKeys(g)
	lo := make([]float64, len(keys))
	hi := make([]float64, len(keys))
	for i, n := range g.Nodes() {
		lo[i], hi[i] = -n.Vmax, n.Vmax
	}
	var err error
	if f.vr, err = m.AddVars(VarVr, keys, lo, hi); err != nil {
		return err
	}
	f.vr.Initialize(1)
	if f.vi, err = m.AddVars(VarVi, keys, lo, hi); err != nil {
		return err
	}
	f.vi.Initialize(0)
	return nil
}

func (f *rectangular) reference(n grid.Node) nlp.Expr {
	return f.vi.At(n.Key())
}

func (f *rectangular) magnitude2(n grid.Node) nlp.Expr {
	k := n.Key()
	return nlp.Add(nlp.Pow(f.vr.At(k), 2), nlp.Pow(f.vi.At(k), 2))
}

// products returns vr_f*vr_t + vi_f*vi_t and vi_f*vr_t - vr_f*vi_t, the real
// and imaginary parts of V_from * conj(V_to).
func (f *rectangular) products(from, to int) (re, im nlp.Expr) {
	vrf, vif := f.vr.At(key(from)), f.vi.At(key(from))
	vrt, vit := f.vr.At(key(to)), f.vi.At(key(to))
	re = nlp.Add(nlp.Mul(vrf, vrt), nlp.Mul(vif, vit))
	im = nlp.Sub(nlp.Mul(vif, vrt), nlp.Mul(vrf, vit))
	return re, im
}

func (f *rectangular) flows(a grid.Arc) (pf, qf, pt, qt nlp.Expr) {
	vf2 := f.magnitude2(grid.Node{ID: a.From})
	vt2 := f.magnitude2(grid.Node{ID: a.To})
	re, im := f.products(a.From, a.To)

	pf = nlp.Add(nlp.Scale(a.Gff, vf2), nlp.Scale(a.Gft, re), nlp.Scale(a.Bft, im))
	qf = nlp.Add(nlp.Scale(-a.Bff, vf2), nlp.Scale(-a.Bft, re), nlp.Scale(a.Gft, im))
	pt = nlp.Add(nlp.Scale(a.Gtt, vt2), nlp.Scale(a.Gtf, re), nlp.Scale(-a.Btf, im))
	qt = nlp.Add(nlp.Scale(-a.Btt, vt2), nlp.Scale(-a.Btf, re), nlp.Scale(-a.Gtf, im))
	return pf, qf, pt, qt
}

func (f *rectangular) angleDiff(p grid.BusPair) (ub, lb nlp.Expr) {
	re, im := f.products(p.From, p.To)
	ub = nlp.Sub(im, nlp.Scale(p.TanMax, re))
	lb = nlp.Sub(nlp.Scale(p.TanMin, re), im)
	return ub, lb
}

func (f *rectangular) voltageLimits(n grid.Node) (ub, lb nlp.Expr, ok bool) {
	v2 := f.magnitude2(n)
	return nlp.Sub(v2, nlp.Const(n.Vmax*n.Vmax)), nlp.Sub(v2, nlp.Const(n.Vmin*n.Vmin)), true
}

func (f *rectangular) voltage(m *nlp.Model, n grid.Node) (vm, va float64) {
	vr, vi := f.vr.Value(n.Key()), f.vi.Value(n.Key())
	return math.Hypot(vr, vi), math.Atan2(vi, vr)
}
