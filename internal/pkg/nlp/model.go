// Package nlp is a small modeling layer for smooth nonlinear programs: indexed
// variable sets with bounds, expression trees with exact symbolic derivatives,
// constraint families indexed over entity keys, and an objective. A Model is
// compiled into a Program, the form consumed by solvers.
package nlp

import (
	"errors"
	"fmt"
	"math"
)

var (
	ErrUndeclared      = errors.New("nlp: undeclared variable index")
	ErrForeignVariable = errors.New("nlp: variable belongs to another model")
	ErrDuplicate       = errors.New("nlp: duplicate name")
	ErrDimension       = errors.New("nlp: dimension mismatch")
	ErrNoObjective     = errors.New("nlp: no objective")
)

// Sense is the direction of optimization.
type Sense int

const (
	Minimize Sense = iota
	Maximize
)

// Relation is the comparison of a constraint expression with zero.
type Relation int

const (
	EQ  Relation = iota // expr == 0
	LEQ                 // expr <= 0
	GEQ                 // expr >= 0
)

func (r Relation) String() string {
	switch r {
	case EQ:
		return "=="
	case LEQ:
		return "<="
	case GEQ:
		return ">="
	}
	return "?"
}

// Model aggregates variables, an objective and constraint families.
type Model struct {
	name     string
	sets     []*VarSet
	setNames map[string]*VarSet

	names []string
	lb    []float64
	ub    []float64
	x0    []float64
	integ []bool

	objective Expr
	sense     Sense

	families []*Constraint
	famNames map[string]bool

	solution  []float64
	objValue  float64
	hasResult bool
}

// NewModel returns an empty model.
func NewModel(name string) *Model {
	return &Model{
		name:     name,
		setNames: make(map[string]*VarSet),
		famNames: make(map[string]bool),
	}
}

// Name is the model name.
func (m *Model) Name() string { return m.name }

// NumVars is the number of scalar variables declared so far.
func (m *Model) NumVars() int { return len(m.lb) }

// NumConstraints is the number of scalar constraint rows.
func (m *Model) NumConstraints() int {
	n := 0
	for _, c := range m.families {
		n += len(c.rows)
	}
	return n
}

// VarSets returns the declared variable sets in declaration order.
func (m *Model) VarSets() []*VarSet { return append([]*VarSet(nil), m.sets...) }

// Constraints returns the constraint families in insertion order.
func (m *Model) Constraints() []*Constraint { return append([]*Constraint(nil), m.families...) }

// AddVars declares one variable per key. Nil bounds mean unbounded; otherwise
// lower and upper must have one entry per key.
func (m *Model) AddVars(name string, keys []string, lower, upper []float64) (*VarSet, error) {
	if _, ok := m.setNames[name]; ok {
		return nil, fmt.Errorf("%w: variable set %q", ErrDuplicate, name)
	}
	if (lower != nil && len(lower) != len(keys)) || (upper != nil && len(upper) != len(keys)) {
		return nil, fmt.Errorf("%w: bounds of %q", ErrDimension, name)
	}
	v := &VarSet{
		name:   name,
		keys:   append([]string(nil), keys...),
		pos:    make(map[string]int, len(keys)),
		offset: len(m.lb),
		model:  m,
	}
	for i, k := range keys {
		if _, ok := v.pos[k]; ok {
			return nil, fmt.Errorf("%w: key %q in %q", ErrDuplicate, k, name)
		}
		v.pos[k] = i
	}
	for i, k := range keys {
		lo, hi := math.Inf(-1), math.Inf(1)
		if lower != nil {
			lo = lower[i]
		}
		if upper != nil {
			hi = upper[i]
		}
		m.names = append(m.names, name+"["+k+"]")
		m.lb = append(m.lb, lo)
		m.ub = append(m.ub, hi)
		m.x0 = append(m.x0, start(lo, hi))
		m.integ = append(m.integ, false)
	}
	m.sets = append(m.sets, v)
	m.setNames[name] = v
	return v, nil
}

// start picks a default initial point inside the bounds.
func start(lo, hi float64) float64 {
	switch {
	case lo > 0:
		return lo
	case hi < 0:
		return hi
	}
	return 0
}

// Minimize sets the objective.
func (m *Model) Minimize(e Expr) error {
	if err := m.check(e); err != nil {
		return fmt.Errorf("objective: %w", err)
	}
	m.objective = e
	m.sense = Minimize
	return nil
}

// Maximize sets the objective.
func (m *Model) Maximize(e Expr) error {
	if err := m.Minimize(e); err != nil {
		return err
	}
	m.sense = Maximize
	return nil
}

// Objective returns the objective expression and its sense.
func (m *Model) Objective() (Expr, Sense) { return m.objective, m.sense }

// AddConstraint registers a constraint family after checking that every row
// only references variables declared in this model.
func (m *Model) AddConstraint(c *Constraint) error {
	if m.famNames[c.name] {
		return fmt.Errorf("%w: constraint %q", ErrDuplicate, c.name)
	}
	for _, r := range c.rows {
		if err := m.check(r.Expr); err != nil {
			return fmt.Errorf("constraint %s[%s]: %w", c.name, r.Key, err)
		}
	}
	m.famNames[c.name] = true
	m.families = append(m.families, c)
	return nil
}

func (m *Model) check(e Expr) error {
	set := make(map[varKey]struct{})
	e.collect(set)
	for k := range set {
		if k.owner != m {
			return ErrForeignVariable
		}
		if k.idx < 0 || k.idx >= len(m.lb) {
			return fmt.Errorf("%w: %d", ErrUndeclared, k.idx)
		}
	}
	return nil
}

// SetSolution records the optimum returned by a solver.
func (m *Model) SetSolution(x []float64, objective float64) error {
	if len(x) != len(m.lb) {
		return fmt.Errorf("%w: solution has %d values for %d variables", ErrDimension, len(x), len(m.lb))
	}
	m.solution = append([]float64(nil), x...)
	m.objValue = objective
	m.hasResult = true
	return nil
}

// ObjectiveValue is the objective at the recorded solution.
func (m *Model) ObjectiveValue() float64 { return m.objValue }

// Solved reports whether a solution was recorded.
func (m *Model) Solved() bool { return m.hasResult }

// Value evaluates an expression at the recorded solution, or at the initial
// point when no solution has been recorded.
func (m *Model) Value(e Expr) float64 {
	if m.hasResult {
		return e.Eval(m.solution)
	}
	return e.Eval(m.x0)
}

// VarSet is a group of variables indexed by entity keys.
type VarSet struct {
	name   string
	keys   []string
	pos    map[string]int
	offset int
	model  *Model
}

// Name is the set name.
func (v *VarSet) Name() string { return v.name }

// Keys returns the index keys in declaration order.
func (v *VarSet) Keys() []string { return append([]string(nil), v.keys...) }

// Len is the number of variables in the set.
func (v *VarSet) Len() int { return len(v.keys) }

// Has reports whether key is in the index set.
func (v *VarSet) Has(key string) bool {
	_, ok := v.pos[key]
	return ok
}

// Index returns the global index of the variable at key. It panics when the
// key was never declared: a formulation referencing it is wrong, not unlucky.
func (v *VarSet) Index(key string) int {
	i, ok := v.pos[key]
	if !ok {
		panic(fmt.Sprintf("%v: %s[%s]", ErrUndeclared, v.name, key))
	}
	return v.offset + i
}

// At returns the variable at key as an expression.
func (v *VarSet) At(key string) Expr {
	i := v.Index(key)
	return variable{idx: i, name: v.model.names[i], owner: v.model}
}

// Initialize sets the starting value of every variable in the set.
func (v *VarSet) Initialize(x float64) {
	for i := range v.keys {
		v.model.x0[v.offset+i] = x
	}
}

// SetInteger marks every variable of the set as integral.
func (v *VarSet) SetInteger() {
	for i := range v.keys {
		v.model.integ[v.offset+i] = true
	}
}

// Bounds returns the bounds of the variable at key.
func (v *VarSet) Bounds(key string) (lower, upper float64) {
	i := v.Index(key)
	return v.model.lb[i], v.model.ub[i]
}

// Start returns the initial value of the variable at key.
func (v *VarSet) Start(key string) float64 {
	return v.model.x0[v.Index(key)]
}

// Value returns the solved value of the variable at key.
func (v *VarSet) Value(key string) float64 {
	return v.model.Value(v.At(key))
}

// Row is one instance of a constraint family.
type Row struct {
	Key  string
	Expr Expr
}

// Constraint is a family of rows sharing a name and a relation to zero.
type Constraint struct {
	name string
	rel  Relation
	rows []Row
	keys map[string]int
}

// NewConstraint returns an empty family.
func NewConstraint(name string, rel Relation) *Constraint {
	return &Constraint{name: name, rel: rel, keys: make(map[string]int)}
}

// Add appends the row for key. Adding a key twice replaces the earlier row.
func (c *Constraint) Add(key string, e Expr) {
	if i, ok := c.keys[key]; ok {
		c.rows[i].Expr = e
		return
	}
	c.keys[key] = len(c.rows)
	c.rows = append(c.rows, Row{Key: key, Expr: e})
}

// Name is the family name.
func (c *Constraint) Name() string { return c.name }

// Relation is the family's comparison with zero.
func (c *Constraint) Relation() Relation { return c.rel }

// Len is the number of rows.
func (c *Constraint) Len() int { return len(c.rows) }

// Rows returns the rows in insertion order.
func (c *Constraint) Rows() []Row { return append([]Row(nil), c.rows...) }

// Row returns the row for key.
func (c *Constraint) Row(key string) (Row, bool) {
	i, ok := c.keys[key]
	if !ok {
		return Row{}, false
	}
	return c.rows[i], true
}
