package ipm

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/ohowland/cgc_acopf/internal/pkg/nlp"
)

// problem extends a Program with its variable bounds as constraint rows:
// fixed variables become equalities, finite bounds become inequalities.
type problem struct {
	prog *nlp.Program
	n    int
	neq  int // program equality rows
	nin  int // program inequality rows

	fixed  []int
	upper  []int
	lower  []int
	lb, ub []float64
}

func newProblem(p *nlp.Program) *problem {
	q := &problem{
		prog: p,
		n:    p.Dim(),
		neq:  p.NumEq(),
		nin:  p.NumIneq(),
	}
	q.lb, q.ub = p.Bounds()
	for i := 0; i < q.n; i++ {
		lo, hi := q.lb[i], q.ub[i]
		if lo == hi {
			q.fixed = append(q.fixed, i)
			continue
		}
		if !math.IsInf(hi, 1) {
			q.upper = append(q.upper, i)
		}
		if !math.IsInf(lo, -1) {
			q.lower = append(q.lower, i)
		}
	}
	return q
}

func (q *problem) numEq() int   { return q.neq + len(q.fixed) }
func (q *problem) numIneq() int { return q.nin + len(q.upper) + len(q.lower) }

// start returns the program's initial point moved strictly inside its
// bounds.
func (q *problem) start() []float64 {
	x := q.prog.Start()
	for i := range x {
		lo, hi := q.lb[i], q.ub[i]
		switch {
		case lo == hi:
			x[i] = lo
		case !math.IsInf(lo, -1) && !math.IsInf(hi, 1):
			pl := math.Min(boundPush*math.Max(1, math.Abs(lo)), boundFrac*(hi-lo))
			pu := math.Min(boundPush*math.Max(1, math.Abs(hi)), boundFrac*(hi-lo))
			x[i] = math.Min(math.Max(x[i], lo+pl), hi-pu)
		case !math.IsInf(lo, -1):
			x[i] = math.Max(x[i], lo+boundPush*math.Max(1, math.Abs(lo)))
		case !math.IsInf(hi, 1):
			x[i] = math.Min(x[i], hi-boundPush*math.Max(1, math.Abs(hi)))
		}
	}
	return x
}

// point holds the function values and derivatives at an iterate.
type point struct {
	f  float64
	df []float64
	g  []float64
	h  []float64
	jg *mat.Dense // nil without equality rows
	jh *mat.Dense // nil without inequality rows
}

func (q *problem) newPoint() *point {
	pt := &point{
		df: make([]float64, q.n),
		g:  make([]float64, q.numEq()),
		h:  make([]float64, q.numIneq()),
	}
	if m := q.numEq(); m > 0 {
		pt.jg = mat.NewDense(m, q.n, nil)
	}
	if m := q.numIneq(); m > 0 {
		pt.jh = mat.NewDense(m, q.n, nil)
	}
	return pt
}

func (q *problem) eval(x []float64, pt *point) {
	pt.f = q.prog.Cost(x)
	q.prog.CostGrad(x, pt.df)

	if pt.jg != nil {
		pt.jg.Zero()
		if q.neq > 0 {
			q.prog.EqValues(x, pt.g[:q.neq])
			q.prog.EqJacobian(x, pt.jg.Slice(0, q.neq, 0, q.n).(*mat.Dense))
		}
		for k, i := range q.fixed {
			r := q.neq + k
			pt.g[r] = x[i] - q.lb[i]
			pt.jg.Set(r, i, 1)
		}
	}

	if pt.jh != nil {
		pt.jh.Zero()
		if q.nin > 0 {
			q.prog.IneqValues(x, pt.h[:q.nin])
			q.prog.IneqJacobian(x, pt.jh.Slice(0, q.nin, 0, q.n).(*mat.Dense))
		}
		r := q.nin
		for _, i := range q.upper {
			pt.h[r] = x[i] - q.ub[i]
			pt.jh.Set(r, i, 1)
			r++
		}
		for _, i := range q.lower {
			pt.h[r] = q.lb[i] - x[i]
			pt.jh.Set(r, i, -1)
			r++
		}
	}
}

// lagrangianGrad returns df + Jg'lam + Jh'mu.
func (pt *point) lagrangianGrad(lam, mu []float64) []float64 {
	lx := mat.NewVecDense(len(pt.df), append([]float64(nil), pt.df...))
	if pt.jg != nil {
		lx.AddVec(lx, transMul(pt.jg, lam))
	}
	if pt.jh != nil {
		lx.AddVec(lx, transMul(pt.jh, mu))
	}
	return lx.RawVector().Data
}

// hessian returns the Hessian of the Lagrangian. Bound rows are linear and
// contribute nothing.
func (q *problem) hessian(x, lam, mu []float64) *mat.SymDense {
	lxx := mat.NewSymDense(q.n, nil)
	q.prog.Hessian(x, 1, lam[:q.neq], mu[:q.nin], lxx)
	return lxx
}

func transMul(a *mat.Dense, v []float64) *mat.VecDense {
	_, c := a.Dims()
	out := mat.NewVecDense(c, nil)
	out.MulVec(a.T(), mat.NewVecDense(len(v), v))
	return out
}
