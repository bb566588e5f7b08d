// Package grid holds the physical model of a transmission network: buses,
// generators, arcs and the bus pairs they induce. All quantities are per unit
// on the system MVA base and angles are in radians.
//
// A Grid is assembled once by Build and is read-only afterwards; accessors
// hand out copies so a formulation can never mutate the network it reads.
package grid

import (
	"errors"
	"fmt"
	"math"
	"strconv"
)

var (
	ErrNoReference       = errors.New("grid: no reference bus")
	ErrMultipleReference = errors.New("grid: more than one reference bus")
	ErrUnknownNode       = errors.New("grid: unknown bus")
	ErrDuplicateNode     = errors.New("grid: duplicate bus")
	ErrBounds            = errors.New("grid: lower bound exceeds upper bound")
	ErrNegativeCost      = errors.New("grid: negative cost coefficient")
	ErrZeroImpedance     = errors.New("grid: zero series impedance")
)

// DefaultAngleLimit replaces angle difference limits that are unset or too wide
// for the tangent form of the rectangular formulation.
const DefaultAngleLimit = math.Pi / 3

// Node is a bus.
type Node struct {
	ID   int
	Vmin float64
	Vmax float64
	Pl   float64
	Ql   float64
	Gs   float64
	Bs   float64
	Ref  bool
}

// Key is the index key of the node in variable and constraint sets.
func (n Node) Key() string {
	return strconv.Itoa(n.ID)
}

// Generator is a dispatchable unit with a convex quadratic cost curve
// C2*p^2 + C1*p + C0.
type Generator struct {
	ID   int
	Bus  int
	Pmin float64
	Pmax float64
	Qmin float64
	Qmax float64
	C0   float64
	C1   float64
	C2   float64
}

// Key is the index key of the generator.
func (g Generator) Key() string {
	return "g" + strconv.Itoa(g.ID)
}

// Arc is a line or transformer, oriented From -> To.
type Arc struct {
	ID     int
	From   int
	To     int
	R      float64
	X      float64
	Ch     float64 // total line charging susceptance
	Tr     float64 // tap ratio
	As     float64 // phase shift
	Smax   float64 // thermal limit, +Inf when unlimited
	AngMin float64
	AngMax float64

	// Series admittance.
	G float64
	B float64

	// Directional admittance components of the branch matrix.
	Gff, Gft, Gtf, Gtt float64
	Bff, Bft, Btf, Btt float64
}

// Key is the index key of the arc.
func (a Arc) Key() string {
	return "l" + strconv.Itoa(a.ID)
}

// Limited reports whether the arc carries a finite thermal limit.
func (a Arc) Limited() bool {
	return !math.IsInf(a.Smax, 1)
}

// BusPair is an unordered pair of buses joined by at least one arc. From and
// To record the orientation of the first arc seen between them.
type BusPair struct {
	From   int
	To     int
	AngMin float64
	AngMax float64
	TanMin float64
	TanMax float64
}

// Key is the index key of the bus pair.
func (p BusPair) Key() string {
	return strconv.Itoa(p.From) + "," + strconv.Itoa(p.To)
}

// Spec is the raw content of a case, already converted to per unit.
type Spec struct {
	Name       string
	BaseMVA    float64
	Nodes      []Node
	Generators []Generator
	Arcs       []Arc
}

// Grid is the read-only network model.
type Grid struct {
	name    string
	baseMVA float64
	nodes   []Node
	gens    []Generator
	arcs    []Arc
	pairs   []BusPair

	nodeIdx map[int]int
	genAt   map[int][]int
	outArcs map[int][]int
	inArcs  map[int][]int
	ref     int
}

// Build validates a Spec and derives the admittance data of every arc and the
// bus pairs of the network.
func Build(s Spec) (*Grid, error) {
	g := &Grid{
		name:    s.Name,
		baseMVA: s.BaseMVA,
		nodeIdx: make(map[int]int, len(s.Nodes)),
		genAt:   make(map[int][]int),
		outArcs: make(map[int][]int),
		inArcs:  make(map[int][]int),
		ref:     -1,
	}
	if g.baseMVA <= 0 {
		g.baseMVA = 100
	}

	for i, n := range s.Nodes {
		if _, ok := g.nodeIdx[n.ID]; ok {
			return nil, fmt.Errorf("%w: %d", ErrDuplicateNode, n.ID)
		}
		if n.Vmin > n.Vmax {
			return nil, fmt.Errorf("%w: voltage at bus %d", ErrBounds, n.ID)
		}
		if n.Ref {
			if g.ref >= 0 {
				return nil, fmt.Errorf("%w: %d and %d", ErrMultipleReference, g.nodes[g.ref].ID, n.ID)
			}
			g.ref = i
		}
		g.nodeIdx[n.ID] = i
		g.nodes = append(g.nodes, n)
	}
	if g.ref < 0 {
		return nil, ErrNoReference
	}

	for _, gen := range s.Generators {
		if _, ok := g.nodeIdx[gen.Bus]; !ok {
			return nil, fmt.Errorf("%w: %d at generator %d", ErrUnknownNode, gen.Bus, gen.ID)
		}
		if gen.Pmin > gen.Pmax || gen.Qmin > gen.Qmax {
			return nil, fmt.Errorf("%w: generator %d", ErrBounds, gen.ID)
		}
		if gen.C0 < 0 || gen.C1 < 0 || gen.C2 < 0 {
			return nil, fmt.Errorf("%w: generator %d", ErrNegativeCost, gen.ID)
		}
		g.genAt[gen.Bus] = append(g.genAt[gen.Bus], len(g.gens))
		g.gens = append(g.gens, gen)
	}

	pairIdx := make(map[[2]int]int)
	for _, a := range s.Arcs {
		if _, ok := g.nodeIdx[a.From]; !ok {
			return nil, fmt.Errorf("%w: %d at arc %d", ErrUnknownNode, a.From, a.ID)
		}
		if _, ok := g.nodeIdx[a.To]; !ok {
			return nil, fmt.Errorf("%w: %d at arc %d", ErrUnknownNode, a.To, a.ID)
		}
		a, err := derive(a)
		if err != nil {
			return nil, err
		}
		g.outArcs[a.From] = append(g.outArcs[a.From], len(g.arcs))
		g.inArcs[a.To] = append(g.inArcs[a.To], len(g.arcs))
		g.arcs = append(g.arcs, a)

		lo, hi := a.AngMin, a.AngMax
		if i, ok := pairIdx[[2]int{a.To, a.From}]; ok {
			g.pairs[i].intersect(-hi, -lo)
			continue
		}
		if i, ok := pairIdx[[2]int{a.From, a.To}]; ok {
			g.pairs[i].intersect(lo, hi)
			continue
		}
		pairIdx[[2]int{a.From, a.To}] = len(g.pairs)
		p := BusPair{From: a.From, To: a.To, AngMin: math.Inf(-1), AngMax: math.Inf(1)}
		p.intersect(lo, hi)
		g.pairs = append(g.pairs, p)
	}
	for _, p := range g.pairs {
		if p.AngMin > p.AngMax {
			return nil, fmt.Errorf("%w: angle difference at bus pair %s", ErrBounds, p.Key())
		}
	}
	return g, nil
}

func (p *BusPair) intersect(lo, hi float64) {
	p.AngMin = math.Max(p.AngMin, lo)
	p.AngMax = math.Min(p.AngMax, hi)
	p.TanMin = math.Tan(p.AngMin)
	p.TanMax = math.Tan(p.AngMax)
}

// derive fills in the admittance data of an arc and normalizes its tap ratio,
// thermal limit and angle limits.
func derive(a Arc) (Arc, error) {
	den := a.R*a.R + a.X*a.X
	if den == 0 {
		return a, fmt.Errorf("%w: arc %d", ErrZeroImpedance, a.ID)
	}
	if a.Tr == 0 {
		a.Tr = 1
	}
	if a.Smax <= 0 {
		a.Smax = math.Inf(1)
	}
	if a.AngMin == 0 && a.AngMax == 0 {
		a.AngMin, a.AngMax = -DefaultAngleLimit, DefaultAngleLimit
	}
	if a.AngMin <= -math.Pi/2 {
		a.AngMin = -DefaultAngleLimit
	}
	if a.AngMax >= math.Pi/2 {
		a.AngMax = DefaultAngleLimit
	}
	if a.AngMin > a.AngMax {
		return a, fmt.Errorf("%w: angle difference at arc %d", ErrBounds, a.ID)
	}

	a.G = a.R / den
	a.B = -a.X / den

	tr2 := a.Tr * a.Tr
	cc := a.Tr * math.Cos(a.As)
	dd := a.Tr * math.Sin(a.As)

	a.Gff = a.G / tr2
	a.Gft = (-a.G*cc + a.B*dd) / tr2
	a.Gtf = (-a.G*cc - a.B*dd) / tr2
	a.Gtt = a.G

	a.Bff = (a.B + 0.5*a.Ch) / tr2
	a.Bft = (-a.B*cc - a.G*dd) / tr2
	a.Btf = (-a.B*cc + a.G*dd) / tr2
	a.Btt = a.B + 0.5*a.Ch
	return a, nil
}

// Name is the case name.
func (g *Grid) Name() string { return g.name }

// BaseMVA is the system power base.
func (g *Grid) BaseMVA() float64 { return g.baseMVA }

// Nodes returns the buses in case order.
func (g *Grid) Nodes() []Node { return append([]Node(nil), g.nodes...) }

// Generators returns the generators in case order.
func (g *Grid) Generators() []Generator { return append([]Generator(nil), g.gens...) }

// Arcs returns the arcs in case order.
func (g *Grid) Arcs() []Arc { return append([]Arc(nil), g.arcs...) }

// BusPairs returns the bus pairs in order of first appearance.
func (g *Grid) BusPairs() []BusPair { return append([]BusPair(nil), g.pairs...) }

// Reference returns the reference bus.
func (g *Grid) Reference() Node { return g.nodes[g.ref] }

// Node looks up a bus by ID.
func (g *Grid) Node(id int) (Node, bool) {
	i, ok := g.nodeIdx[id]
	if !ok {
		return Node{}, false
	}
	return g.nodes[i], true
}

// GeneratorsAt returns the generators connected to a bus.
func (g *Grid) GeneratorsAt(id int) []Generator {
	out := make([]Generator, 0, len(g.genAt[id]))
	for _, i := range g.genAt[id] {
		out = append(out, g.gens[i])
	}
	return out
}

// OutArcs returns the arcs leaving a bus.
func (g *Grid) OutArcs(id int) []Arc {
	return g.pick(g.outArcs[id])
}

// InArcs returns the arcs entering a bus.
func (g *Grid) InArcs(id int) []Arc {
	return g.pick(g.inArcs[id])
}

func (g *Grid) pick(idx []int) []Arc {
	out := make([]Arc, 0, len(idx))
	for _, i := range idx {
		out = append(out, g.arcs[i])
	}
	return out
}

// NumNodes, NumGenerators and NumArcs report the size of the network.
func (g *Grid) NumNodes() int      { return len(g.nodes) }
func (g *Grid) NumGenerators() int { return len(g.gens) }
func (g *Grid) NumArcs() int       { return len(g.arcs) }
