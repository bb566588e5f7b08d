package nlp

import (
	"math"
	"sort"
	"strconv"
	"strings"
)

// Expr is a scalar expression over the variables of a Model. Expressions are
// immutable; the constructors below fold constants and drop zero terms so that
// derivatives stay small.
type Expr interface {
	// Eval evaluates the expression at x, indexed by global variable index.
	Eval(x []float64) float64
	// Diff returns the partial derivative with respect to variable i.
	Diff(i int) Expr
	String() string

	collect(set map[varKey]struct{})
}

type varKey struct {
	idx   int
	owner *Model
}

type constant struct{ v float64 }

// Const is a constant expression.
func Const(v float64) Expr { return constant{v} }

func (c constant) Eval([]float64) float64      { return c.v }
func (c constant) Diff(int) Expr               { return constant{0} }
func (c constant) collect(map[varKey]struct{}) {}
func (c constant) String() string              { return strconv.FormatFloat(c.v, 'g', -1, 64) }

func isConst(e Expr) (float64, bool) {
	c, ok := e.(constant)
	return c.v, ok
}

func isZero(e Expr) bool {
	v, ok := isConst(e)
	return ok && v == 0
}

type variable struct {
	idx   int
	name  string
	owner *Model
}

func (v variable) Eval(x []float64) float64 { return x[v.idx] }
func (v variable) Diff(i int) Expr {
	if i == v.idx {
		return constant{1}
	}
	return constant{0}
}
func (v variable) collect(set map[varKey]struct{}) { set[varKey{v.idx, v.owner}] = struct{}{} }
func (v variable) String() string                  { return v.name }

type sum struct{ terms []Expr }

// Add returns the sum of its terms.
func Add(terms ...Expr) Expr {
	var c float64
	out := make([]Expr, 0, len(terms))
	for _, t := range terms {
		switch t := t.(type) {
		case constant:
			c += t.v
		case sum:
			for _, tt := range t.terms {
				if v, ok := isConst(tt); ok {
					c += v
					continue
				}
				out = append(out, tt)
			}
		default:
			out = append(out, t)
		}
	}
	if c != 0 {
		out = append(out, constant{c})
	}
	switch len(out) {
	case 0:
		return constant{0}
	case 1:
		return out[0]
	}
	return sum{out}
}

// Sub returns a - b.
func Sub(a, b Expr) Expr { return Add(a, Neg(b)) }

// Neg returns -e.
func Neg(e Expr) Expr { return Mul(constant{-1}, e) }

// Scale returns c*e.
func Scale(c float64, e Expr) Expr { return Mul(constant{c}, e) }

func (s sum) Eval(x []float64) float64 {
	var v float64
	for _, t := range s.terms {
		v += t.Eval(x)
	}
	return v
}

func (s sum) Diff(i int) Expr {
	d := make([]Expr, 0, len(s.terms))
	for _, t := range s.terms {
		if dt := t.Diff(i); !isZero(dt) {
			d = append(d, dt)
		}
	}
	return Add(d...)
}

func (s sum) collect(set map[varKey]struct{}) {
	for _, t := range s.terms {
		t.collect(set)
	}
}

func (s sum) String() string {
	parts := make([]string, len(s.terms))
	for i, t := range s.terms {
		parts[i] = t.String()
	}
	return "(" + strings.Join(parts, " + ") + ")"
}

type product struct {
	coef    float64
	factors []Expr
}

// Mul returns the product of its factors.
func Mul(factors ...Expr) Expr {
	coef := 1.0
	out := make([]Expr, 0, len(factors))
	for _, f := range factors {
		switch f := f.(type) {
		case constant:
			coef *= f.v
		case product:
			coef *= f.coef
			out = append(out, f.factors...)
		default:
			out = append(out, f)
		}
	}
	if coef == 0 || len(out) == 0 {
		return constant{coef}
	}
	if coef == 1 && len(out) == 1 {
		return out[0]
	}
	return product{coef, out}
}

func (p product) Eval(x []float64) float64 {
	v := p.coef
	for _, f := range p.factors {
		v *= f.Eval(x)
	}
	return v
}

func (p product) Diff(i int) Expr {
	var terms []Expr
	for k, f := range p.factors {
		df := f.Diff(i)
		if isZero(df) {
			continue
		}
		fs := make([]Expr, 0, len(p.factors)+1)
		fs = append(fs, constant{p.coef})
		fs = append(fs, p.factors[:k]...)
		fs = append(fs, df)
		fs = append(fs, p.factors[k+1:]...)
		terms = append(terms, Mul(fs...))
	}
	return Add(terms...)
}

func (p product) collect(set map[varKey]struct{}) {
	for _, f := range p.factors {
		f.collect(set)
	}
}

func (p product) String() string {
	parts := make([]string, 0, len(p.factors)+1)
	if p.coef != 1 {
		parts = append(parts, strconv.FormatFloat(p.coef, 'g', -1, 64))
	}
	for _, f := range p.factors {
		parts = append(parts, f.String())
	}
	return strings.Join(parts, "*")
}

type power struct {
	base Expr
	n    int
}

// Pow returns e^n for a non-negative integer n.
func Pow(e Expr, n int) Expr {
	if n < 0 {
		panic("nlp: negative exponent")
	}
	if v, ok := isConst(e); ok {
		return constant{math.Pow(v, float64(n))}
	}
	switch n {
	case 0:
		return constant{1}
	case 1:
		return e
	}
	return power{e, n}
}

func (p power) Eval(x []float64) float64 {
	b := p.base.Eval(x)
	if p.n == 2 {
		return b * b
	}
	return math.Pow(b, float64(p.n))
}

func (p power) Diff(i int) Expr {
	db := p.base.Diff(i)
	if isZero(db) {
		return constant{0}
	}
	return Mul(constant{float64(p.n)}, Pow(p.base, p.n-1), db)
}

func (p power) collect(set map[varKey]struct{}) { p.base.collect(set) }
func (p power) String() string                  { return p.base.String() + "^" + strconv.Itoa(p.n) }

type cosine struct{ arg Expr }

// Cos returns cos(e).
func Cos(e Expr) Expr {
	if v, ok := isConst(e); ok {
		return constant{math.Cos(v)}
	}
	return cosine{e}
}

func (c cosine) Eval(x []float64) float64 { return math.Cos(c.arg.Eval(x)) }
func (c cosine) Diff(i int) Expr {
	da := c.arg.Diff(i)
	if isZero(da) {
		return constant{0}
	}
	return Mul(constant{-1}, Sin(c.arg), da)
}
func (c cosine) collect(set map[varKey]struct{}) { c.arg.collect(set) }
func (c cosine) String() string                  { return "cos(" + c.arg.String() + ")" }

type sine struct{ arg Expr }

// Sin returns sin(e).
func Sin(e Expr) Expr {
	if v, ok := isConst(e); ok {
		return constant{math.Sin(v)}
	}
	return sine{e}
}

func (s sine) Eval(x []float64) float64 { return math.Sin(s.arg.Eval(x)) }
func (s sine) Diff(i int) Expr {
	da := s.arg.Diff(i)
	if isZero(da) {
		return constant{0}
	}
	return Mul(Cos(s.arg), da)
}
func (s sine) collect(set map[varKey]struct{}) { s.arg.collect(set) }
func (s sine) String() string                  { return "sin(" + s.arg.String() + ")" }

// Vars returns the sorted global indices of the variables e depends on.
func Vars(e Expr) []int {
	set := make(map[varKey]struct{})
	e.collect(set)
	seen := make(map[int]bool, len(set))
	out := make([]int, 0, len(set))
	for k := range set {
		if !seen[k.idx] {
			seen[k.idx] = true
			out = append(out, k.idx)
		}
	}
	sort.Ints(out)
	return out
}

// SumOf adds f(i) for i in [0, n).
func SumOf(n int, f func(i int) Expr) Expr {
	terms := make([]Expr, 0, n)
	for i := 0; i < n; i++ {
		terms = append(terms, f(i))
	}
	return Add(terms...)
}
