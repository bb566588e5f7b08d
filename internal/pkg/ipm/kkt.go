package ipm

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/ohowland/cgc_acopf/internal/pkg/solver"
)

var errSingular = errors.New("ipm: singular Newton system")

// kkt is the reduced Newton system of one iteration
//
//	[ M   Jg' ] [ dx   ]   [ -N ]
//	[ Jg  0   ] [ dlam ] = [ -g ]
//
// with M = Lxx + Jh' diag(mu/z) Jh. It is factored once and may be solved
// for several right hand sides.
type kkt struct {
	n  int
	lu *mat.LU
	qr *mat.QR
}

func newKKT(lxx *mat.SymDense, pt *point, z, mu []float64, method string) *kkt {
	n, _ := lxx.Dims()
	neq := len(pt.g)

	m := mat.NewDense(n, n, nil)
	m.Copy(lxx)
	if pt.jh != nil {
		w := make([]float64, len(z))
		for k := range z {
			w[k] = mu[k] / z[k]
		}
		var wj, jwj mat.Dense
		wj.Mul(mat.NewDiagDense(len(w), w), pt.jh)
		jwj.Mul(pt.jh.T(), &wj)
		m.Add(m, &jwj)
	}

	k := m
	if neq > 0 {
		k = mat.NewDense(n+neq, n+neq, nil)
		k.Slice(0, n, 0, n).(*mat.Dense).Copy(m)
		k.Slice(0, n, n, n+neq).(*mat.Dense).Copy(pt.jg.T())
		k.Slice(n, n+neq, 0, n).(*mat.Dense).Copy(pt.jg)
	}

	s := &kkt{n: n}
	if method == solver.QR {
		s.qr = new(mat.QR)
		s.qr.Factorize(k)
	} else {
		s.lu = new(mat.LU)
		s.lu.Factorize(k)
	}
	return s
}

// solve returns dx and dlam for the right hand side [-N; -g].
func (s *kkt) solve(rhs []float64) (dx, dlam []float64, err error) {
	b := mat.NewVecDense(len(rhs), rhs)
	var sol mat.VecDense
	if s.qr != nil {
		err = s.qr.SolveVecTo(&sol, false, b)
	} else {
		err = s.lu.SolveVecTo(&sol, false, b)
	}
	if err != nil {
		// Ill-conditioned systems are accepted while the solution is finite.
		var c mat.Condition
		if !errors.As(err, &c) || math.IsInf(float64(c), 1) {
			return nil, nil, errSingular
		}
	}
	out := sol.RawVector().Data
	for _, v := range out {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, nil, errSingular
		}
	}
	return out[:s.n], out[s.n:], nil
}
