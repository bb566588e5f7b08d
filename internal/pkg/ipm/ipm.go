// Package ipm is a primal-dual interior point solver for smooth nonlinear
// programs. Inequalities h(x) <= 0 are closed with slacks z >= 0 and the
// perturbed KKT conditions are followed by damped Newton steps on a dense
// reduced system.
package ipm

import (
	"context"
	"math"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/floats"

	"github.com/ohowland/cgc_acopf/internal/pkg/nlp"
	"github.com/ohowland/cgc_acopf/internal/pkg/solver"
)

const (
	xi        = 0.99995 // fraction to the boundary
	sigma     = 0.1     // centering parameter
	z0        = 1.0     // initial slack and multiplier
	alphaMin  = 1e-8
	boundPush = 1e-2
	boundFrac = 1e-2
	eps       = 2.220446049250313e-16
)

// Solver implements solver.Solver.
type Solver struct {
	logger *zap.Logger
}

// New returns a solver logging through logger. A nil logger discards output.
func New(logger *zap.Logger) *Solver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Solver{logger: logger.Named("ipm")}
}

var _ solver.Solver = (*Solver)(nil)

type conditions struct {
	feas, grad, comp, cost float64
}

func (c conditions) within(tol float64) bool {
	return c.feas < tol && c.grad < tol && c.comp < tol && c.cost < tol
}

func (c conditions) finite() bool {
	for _, v := range []float64{c.feas, c.grad, c.comp, c.cost} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// Solve runs the interior point iteration from the program's start point.
func (s *Solver) Solve(ctx context.Context, p *nlp.Program, opts solver.Options) (solver.Result, error) {
	if opts.LinearSolver == "" {
		opts.LinearSolver = solver.LU
	}
	if opts.MaxIterations <= 0 {
		opts.MaxIterations = solver.DefaultOptions().MaxIterations
	}
	if err := opts.Validate(p); err != nil {
		return solver.Result{}, err
	}
	if opts.Relax && p.HasInteger() {
		s.logger.Info("solving continuous relaxation", zap.String("model", p.Name()))
	}

	q := newProblem(p)
	neq, niq := q.numEq(), q.numIneq()

	x := q.start()
	pt := q.newPoint()
	q.eval(x, pt)

	lam := make([]float64, neq)
	z := make([]float64, niq)
	mu := make([]float64, niq)
	gamma := 1.0
	for k := range z {
		z[k] = z0
		mu[k] = z0
		if pt.h[k] < -z0 {
			z[k] = -pt.h[k]
		}
		if gamma/z[k] > z0 {
			mu[k] = gamma / z[k]
		}
	}

	f0 := pt.f
	lx := pt.lagrangianGrad(lam, mu)
	cond := measure(pt, x, z, lam, mu, lx, f0)

	res := solver.Result{Status: solver.IterationLimit}
	last := cond
	converged := cond.within(opts.Tolerance)
	failed := false

	it := 0
	for !converged && it < opts.MaxIterations {
		if ctx.Err() != nil {
			res.Status = solver.Cancelled
			break
		}
		it++

		lxx := q.hessian(x, lam, mu)
		sys := newKKT(lxx, pt, z, mu, opts.LinearSolver)

		var dir direction
		var err error
		if opts.Mehrotra && niq > 0 {
			dir, gamma, err = mehrotraStep(sys, pt, lx, z, mu)
		} else {
			dir, err = newtonStep(sys, pt, lx, z, mu, uniform(niq, gamma))
		}
		if err != nil {
			s.logger.Debug("newton system failed", zap.Int("iteration", it), zap.Error(err))
			failed = true
			break
		}

		alphap := stepLength(z, dir.dz)
		alphad := stepLength(mu, dir.dmu)
		floats.AddScaled(x, alphap, dir.dx)
		floats.AddScaled(z, alphap, dir.dz)
		floats.AddScaled(lam, alphad, dir.dlam)
		floats.AddScaled(mu, alphad, dir.dmu)
		if niq > 0 && !opts.Mehrotra {
			gamma = sigma * floats.Dot(z, mu) / float64(niq)
		}

		q.eval(x, pt)
		lx = pt.lagrangianGrad(lam, mu)
		cond = measure(pt, x, z, lam, mu, lx, f0)

		if opts.Verbosity > 0 {
			s.logger.Debug("iteration",
				zap.Int("it", it),
				zap.Float64("objective", p.Value(x)),
				zap.Float64("feascond", cond.feas),
				zap.Float64("gradcond", cond.grad),
				zap.Float64("compcond", cond.comp),
				zap.Float64("costcond", cond.cost),
				zap.Float64("gamma", gamma),
				zap.Float64("alphap", alphap),
				zap.Float64("alphad", alphad),
			)
		}

		if !cond.finite() || hasNaN(x) {
			failed = true
			break
		}
		last = cond
		if cond.within(opts.Tolerance) {
			converged = true
			break
		}
		if alphap < alphaMin || alphad < alphaMin {
			failed = true
			break
		}
		if niq > 0 && !opts.Mehrotra && (gamma < eps || gamma > 1/eps) {
			failed = true
			break
		}
		f0 = pt.f
	}

	switch {
	case converged:
		res.Status = solver.LocallyOptimal
	case res.Status == solver.Cancelled:
	case last.feas > math.Sqrt(opts.Tolerance):
		res.Status = solver.LocallyInfeasible
	case failed:
		res.Status = solver.NumericalFailure
	}

	res.Objective = p.Value(x)
	res.X = x
	res.Lambda = append([]float64(nil), lam[:q.neq]...)
	res.Mu = append([]float64(nil), mu[:q.nin]...)
	res.Iterations = it

	if opts.Verbosity > 0 {
		s.logger.Info("solve finished",
			zap.String("model", p.Name()),
			zap.Stringer("status", res.Status),
			zap.Int("iterations", it),
			zap.Float64("objective", res.Objective),
		)
	}
	return res, nil
}

func measure(pt *point, x, z, lam, mu, lx []float64, f0 float64) conditions {
	maxh := 0.0
	if len(pt.h) > 0 {
		maxh = floats.Max(pt.h)
	}
	return conditions{
		feas: math.Max(infNorm(pt.g), maxh) / (1 + math.Max(infNorm(x), infNorm(z))),
		grad: infNorm(lx) / (1 + math.Max(infNorm(lam), infNorm(mu))),
		comp: dot(z, mu) / (1 + infNorm(x)),
		cost: math.Abs(pt.f-f0) / (1 + math.Abs(f0)),
	}
}

type direction struct {
	dx, dlam, dz, dmu []float64
}

// newtonStep solves for the step that drives z.*mu towards target.
func newtonStep(sys *kkt, pt *point, lx, z, mu, target []float64) (direction, error) {
	n := len(lx)
	neq := len(pt.g)

	nvec := append([]float64(nil), lx...)
	if pt.jh != nil {
		v := make([]float64, len(z))
		for k := range z {
			v[k] = (mu[k]*pt.h[k] + target[k]) / z[k]
		}
		floats.Add(nvec, transMul(pt.jh, v).RawVector().Data)
	}

	rhs := make([]float64, n+neq)
	for i := range nvec {
		rhs[i] = -nvec[i]
	}
	for k := range pt.g {
		rhs[n+k] = -pt.g[k]
	}
	dx, dlam, err := sys.solve(rhs)
	if err != nil {
		return direction{}, err
	}

	d := direction{dx: dx, dlam: dlam}
	if pt.jh != nil {
		jdx := pt.jh.RawMatrix()
		d.dz = make([]float64, len(z))
		d.dmu = make([]float64, len(z))
		for k := range z {
			row := jdx.Data[k*jdx.Stride : k*jdx.Stride+n]
			d.dz[k] = -pt.h[k] - z[k] - floats.Dot(row, dx)
			d.dmu[k] = -mu[k] + (target[k]-mu[k]*d.dz[k])/z[k]
		}
	}
	return d, nil
}

// mehrotraStep takes an affine scaling predictor, picks the centering
// parameter from its progress and returns the corrected step together with
// the barrier parameter it used.
func mehrotraStep(sys *kkt, pt *point, lx, z, mu []float64) (direction, float64, error) {
	niq := len(z)
	aff, err := newtonStep(sys, pt, lx, z, mu, uniform(niq, 0))
	if err != nil {
		return direction{}, 0, err
	}
	ap := math.Min(1, stepLength(z, aff.dz)/xi)
	ad := math.Min(1, stepLength(mu, aff.dmu)/xi)

	cur := dot(z, mu) / float64(niq)
	var next float64
	for k := range z {
		next += (z[k] + ap*aff.dz[k]) * (mu[k] + ad*aff.dmu[k])
	}
	next /= float64(niq)
	centering := math.Pow(next/cur, 3)
	gamma := centering * cur

	target := make([]float64, niq)
	for k := range target {
		target[k] = gamma - aff.dz[k]*aff.dmu[k]
	}
	d, err := newtonStep(sys, pt, lx, z, mu, target)
	return d, gamma, err
}

// stepLength is the largest step in (0, 1] that keeps v positive, shortened
// by the fraction to the boundary.
func stepLength(v, dv []float64) float64 {
	alpha := 1.0
	for k := range v {
		if dv[k] < 0 {
			alpha = math.Min(alpha, xi*v[k]/-dv[k])
		}
	}
	return alpha
}

func uniform(n int, v float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func infNorm(v []float64) float64 {
	if len(v) == 0 {
		return 0
	}
	return floats.Norm(v, math.Inf(1))
}

func dot(a, b []float64) float64 {
	if len(a) == 0 {
		return 0
	}
	return floats.Dot(a, b)
}

func hasNaN(v []float64) bool {
	for _, x := range v {
		if math.IsNaN(x) {
			return true
		}
	}
	return false
}
