package nlp

import (
	"gonum.org/v1/gonum/mat"
)

// Program is a compiled Model in solver form:
//
//	minimize   f(x)
//	subject to g(x) == 0, h(x) <= 0, lb <= x <= ub
//
// where GEQ rows of the model are negated into h. Gradients and Hessians of
// every expression are derived symbolically once, at compile time.
type Program struct {
	name    string
	n       int
	lb, ub  []float64
	x0      []float64
	integer bool
	sign    float64

	obj  term
	eq   []term
	ineq []term

	eqNames   []string
	ineqNames []string
}

type term struct {
	expr Expr
	vars []int
	grad []Expr
	hess []entry
}

// entry is one lower-triangle Hessian element, i >= j.
type entry struct {
	i, j int
	e    Expr
}

func compileTerm(e Expr) term {
	t := term{expr: e, vars: Vars(e)}
	t.grad = make([]Expr, len(t.vars))
	for a, i := range t.vars {
		t.grad[a] = e.Diff(i)
	}
	for a, i := range t.vars {
		for b := 0; b <= a; b++ {
			d := t.grad[a].Diff(t.vars[b])
			if isZero(d) {
				continue
			}
			t.hess = append(t.hess, entry{i: i, j: t.vars[b], e: d})
		}
	}
	return t
}

// Compile checks the model and derives the solver form.
func (m *Model) Compile() (*Program, error) {
	if m.objective == nil {
		return nil, ErrNoObjective
	}
	if err := m.check(m.objective); err != nil {
		return nil, err
	}
	p := &Program{
		name: m.name,
		n:    len(m.lb),
		lb:   append([]float64(nil), m.lb...),
		ub:   append([]float64(nil), m.ub...),
		x0:   append([]float64(nil), m.x0...),
		sign: 1,
		obj:  compileTerm(m.objective),
	}
	if m.sense == Maximize {
		p.sign = -1
	}
	for _, b := range m.integ {
		p.integer = p.integer || b
	}
	for _, c := range m.families {
		for _, r := range c.rows {
			if err := m.check(r.Expr); err != nil {
				return nil, err
			}
			name := c.name + "[" + r.Key + "]"
			switch c.rel {
			case EQ:
				p.eq = append(p.eq, compileTerm(r.Expr))
				p.eqNames = append(p.eqNames, name)
			case LEQ:
				p.ineq = append(p.ineq, compileTerm(r.Expr))
				p.ineqNames = append(p.ineqNames, name)
			case GEQ:
				p.ineq = append(p.ineq, compileTerm(Neg(r.Expr)))
				p.ineqNames = append(p.ineqNames, name)
			}
		}
	}
	return p, nil
}

// Name is the name of the compiled model.
func (p *Program) Name() string { return p.name }

// Dim is the number of variables.
func (p *Program) Dim() int { return p.n }

// NumEq is the number of equality rows.
func (p *Program) NumEq() int { return len(p.eq) }

// NumIneq is the number of inequality rows, excluding variable bounds.
func (p *Program) NumIneq() int { return len(p.ineq) }

// HasInteger reports whether any variable was declared integral.
func (p *Program) HasInteger() bool { return p.integer }

// Bounds returns copies of the variable bounds.
func (p *Program) Bounds() (lower, upper []float64) {
	return append([]float64(nil), p.lb...), append([]float64(nil), p.ub...)
}

// Start returns a copy of the initial point.
func (p *Program) Start() []float64 { return append([]float64(nil), p.x0...) }

// EqName and IneqName label rows for diagnostics.
func (p *Program) EqName(i int) string   { return p.eqNames[i] }
func (p *Program) IneqName(i int) string { return p.ineqNames[i] }

// Value is the model objective at x, in the model's own sense.
func (p *Program) Value(x []float64) float64 { return p.obj.expr.Eval(x) }

// Cost is the objective in minimization form.
func (p *Program) Cost(x []float64) float64 { return p.sign * p.obj.expr.Eval(x) }

// CostGrad writes the gradient of Cost into dst.
func (p *Program) CostGrad(x, dst []float64) {
	for i := range dst {
		dst[i] = 0
	}
	for a, i := range p.obj.vars {
		dst[i] = p.sign * p.obj.grad[a].Eval(x)
	}
}

// EqValues writes g(x) into dst.
func (p *Program) EqValues(x, dst []float64) {
	for k, t := range p.eq {
		dst[k] = t.expr.Eval(x)
	}
}

// IneqValues writes h(x) into dst.
func (p *Program) IneqValues(x, dst []float64) {
	for k, t := range p.ineq {
		dst[k] = t.expr.Eval(x)
	}
}

// EqJacobian writes the NumEq x Dim Jacobian of g into dst.
func (p *Program) EqJacobian(x []float64, dst *mat.Dense) {
	jacobian(p.eq, x, dst)
}

// IneqJacobian writes the NumIneq x Dim Jacobian of h into dst.
func (p *Program) IneqJacobian(x []float64, dst *mat.Dense) {
	jacobian(p.ineq, x, dst)
}

func jacobian(rows []term, x []float64, dst *mat.Dense) {
	dst.Zero()
	for k, t := range rows {
		for a, i := range t.vars {
			dst.Set(k, i, t.grad[a].Eval(x))
		}
	}
}

// Hessian writes the Hessian of the Lagrangian
//
//	sigma*Cost(x) + lam'g(x) + mu'h(x)
//
// into dst.
func (p *Program) Hessian(x []float64, sigma float64, lam, mu []float64, dst *mat.SymDense) {
	dst.Zero()
	accumulate(dst, p.obj, x, sigma*p.sign)
	for k, t := range p.eq {
		if lam[k] != 0 {
			accumulate(dst, t, x, lam[k])
		}
	}
	for k, t := range p.ineq {
		if mu[k] != 0 {
			accumulate(dst, t, x, mu[k])
		}
	}
}

func accumulate(dst *mat.SymDense, t term, x []float64, w float64) {
	for _, h := range t.hess {
		dst.SetSym(h.i, h.j, dst.At(h.i, h.j)+w*h.e.Eval(x))
	}
}
