package grid

import (
	"errors"
	"math"
	"testing"

	"gotest.tools/v3/assert"
)

func twoBus() Spec {
	return Spec{
		Name:    "two_bus",
		BaseMVA: 100,
		Nodes: []Node{
			{ID: 1, Vmin: 0.9, Vmax: 1.1, Ref: true},
			{ID: 2, Vmin: 0.9, Vmax: 1.1, Pl: 0.5},
		},
		Generators: []Generator{
			{ID: 1, Bus: 1, Pmin: 0, Pmax: 2, Qmin: -1, Qmax: 1, C1: 1000},
		},
		Arcs: []Arc{
			{ID: 1, From: 1, To: 2, R: 0.01, X: 0.1, Ch: 0.02, Smax: 2, AngMin: -0.5, AngMax: 0.5},
		},
	}
}

func TestBuild(t *testing.T) {
	g, err := Build(twoBus())
	assert.NilError(t, err)

	assert.Equal(t, g.Name(), "two_bus")
	assert.Equal(t, g.NumNodes(), 2)
	assert.Equal(t, g.NumGenerators(), 1)
	assert.Equal(t, g.NumArcs(), 1)
	assert.Equal(t, g.Reference().ID, 1)
	assert.Equal(t, len(g.GeneratorsAt(1)), 1)
	assert.Equal(t, len(g.GeneratorsAt(2)), 0)
	assert.Equal(t, len(g.OutArcs(1)), 1)
	assert.Equal(t, len(g.InArcs(2)), 1)
	assert.Equal(t, len(g.InArcs(1)), 0)
}

func TestDeriveAdmittance(t *testing.T) {
	g, err := Build(twoBus())
	assert.NilError(t, err)
	a := g.Arcs()[0]

	den := 0.01*0.01 + 0.1*0.1
	assert.Assert(t, math.Abs(a.G-0.01/den) < 1e-12)
	assert.Assert(t, math.Abs(a.B+0.1/den) < 1e-12)
	assert.Equal(t, a.Tr, 1.0)

	// With unit tap and no shift the branch matrix is symmetric.
	assert.Assert(t, math.Abs(a.Gff-a.G) < 1e-12)
	assert.Assert(t, math.Abs(a.Gft+a.G) < 1e-12)
	assert.Assert(t, math.Abs(a.Gtf+a.G) < 1e-12)
	assert.Assert(t, math.Abs(a.Bft+a.B) < 1e-12)
	assert.Assert(t, math.Abs(a.Bff-(a.B+0.01)) < 1e-12)
	assert.Assert(t, math.Abs(a.Btt-a.Bff) < 1e-12)
}

func TestDeriveTransformer(t *testing.T) {
	s := twoBus()
	s.Arcs[0].Tr = 1.05
	s.Arcs[0].As = 0.1
	g, err := Build(s)
	assert.NilError(t, err)
	a := g.Arcs()[0]

	// Yft = -ys/conj(tap), Ytf = -ys/tap
	ys := complex(a.G, a.B)
	tap := complex(1.05*math.Cos(0.1), 1.05*math.Sin(0.1))
	conj := complex(real(tap), -imag(tap))
	yft := -ys / conj
	ytf := -ys / tap
	assert.Assert(t, math.Abs(real(yft)-a.Gft) < 1e-12)
	assert.Assert(t, math.Abs(imag(yft)-a.Bft) < 1e-12)
	assert.Assert(t, math.Abs(real(ytf)-a.Gtf) < 1e-12)
	assert.Assert(t, math.Abs(imag(ytf)-a.Btf) < 1e-12)
	assert.Assert(t, math.Abs(a.Gff-a.G/(1.05*1.05)) < 1e-12)
}

func TestUnlimitedArc(t *testing.T) {
	s := twoBus()
	s.Arcs[0].Smax = 0
	s.Arcs[0].AngMin, s.Arcs[0].AngMax = 0, 0
	g, err := Build(s)
	assert.NilError(t, err)
	a := g.Arcs()[0]
	assert.Assert(t, !a.Limited())
	assert.Equal(t, a.AngMin, -DefaultAngleLimit)
	assert.Equal(t, a.AngMax, DefaultAngleLimit)
}

func TestBusPairs(t *testing.T) {
	s := twoBus()
	s.Arcs = append(s.Arcs,
		Arc{ID: 2, From: 1, To: 2, R: 0.02, X: 0.2, AngMin: -0.4, AngMax: 0.6},
		Arc{ID: 3, From: 2, To: 1, R: 0.02, X: 0.2, AngMin: -0.3, AngMax: 0.7},
	)
	g, err := Build(s)
	assert.NilError(t, err)

	pairs := g.BusPairs()
	assert.Equal(t, len(pairs), 1)
	p := pairs[0]
	assert.Equal(t, p.Key(), "1,2")
	// [-0.5,0.5] ∩ [-0.4,0.6] ∩ [-0.7,0.3]
	assert.Equal(t, p.AngMin, -0.4)
	assert.Equal(t, p.AngMax, 0.3)
	assert.Assert(t, math.Abs(p.TanMax-math.Tan(0.3)) < 1e-15)
}

func TestBuildErrors(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Spec)
		want   error
	}{
		{"no reference", func(s *Spec) { s.Nodes[0].Ref = false }, ErrNoReference},
		{"two references", func(s *Spec) { s.Nodes[1].Ref = true }, ErrMultipleReference},
		{"duplicate bus", func(s *Spec) { s.Nodes[1].ID = 1 }, ErrDuplicateNode},
		{"voltage bounds", func(s *Spec) { s.Nodes[1].Vmin = 1.2 }, ErrBounds},
		{"generator bus", func(s *Spec) { s.Generators[0].Bus = 7 }, ErrUnknownNode},
		{"generator bounds", func(s *Spec) { s.Generators[0].Pmin = 3 }, ErrBounds},
		{"negative cost", func(s *Spec) { s.Generators[0].C2 = -1 }, ErrNegativeCost},
		{"arc endpoint", func(s *Spec) { s.Arcs[0].To = 9 }, ErrUnknownNode},
		{"zero impedance", func(s *Spec) { s.Arcs[0].R, s.Arcs[0].X = 0, 0 }, ErrZeroImpedance},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := twoBus()
			tt.modify(&s)
			_, err := Build(s)
			assert.Assert(t, errors.Is(err, tt.want), "got %v", err)
		})
	}
}

func TestAccessorsReturnCopies(t *testing.T) {
	g, err := Build(twoBus())
	assert.NilError(t, err)

	nodes := g.Nodes()
	nodes[1].Pl = 99
	n, ok := g.Node(2)
	assert.Assert(t, ok)
	assert.Equal(t, n.Pl, 0.5)
}
