// Package run drives one OPF run from a case to a report: load the grid,
// build the model, solve it and publish the summary.
package run

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ohowland/cgc_acopf/internal/lib/casefile"
	"github.com/ohowland/cgc_acopf/internal/pkg/acopf"
	"github.com/ohowland/cgc_acopf/internal/pkg/grid"
	"github.com/ohowland/cgc_acopf/internal/pkg/logging"
	"github.com/ohowland/cgc_acopf/internal/pkg/metrics"
	"github.com/ohowland/cgc_acopf/internal/pkg/msg"
	"github.com/ohowland/cgc_acopf/internal/pkg/report"
	"github.com/ohowland/cgc_acopf/internal/pkg/solver"
)

// Stages at which a run can abort.
const (
	StageLoad    = "load"
	StageBuild   = "build"
	StageCompile = "compile"
	StageSolve   = "solve"
)

// Request is everything a run needs besides the grid.
type Request struct {
	Form   acopf.Formulation
	Scale  float64
	Solver solver.Options
}

// DefaultRequest solves the polar model with default options.
func DefaultRequest() Request {
	return Request{
		Form:   acopf.ACPOL,
		Scale:  acopf.DefaultScale,
		Solver: solver.DefaultOptions(),
	}
}

// Publisher is the part of the msg bus a Runner uses.
type Publisher interface {
	Publish(msg.Topic, interface{})
}

// Runner executes runs. It is safe for concurrent use; every run owns its
// model.
type Runner struct {
	logger  *zap.Logger
	solver  solver.Solver
	bus     Publisher
	metrics *metrics.Collector
}

// New returns a Runner. bus and m may be nil.
func New(logger *zap.Logger, s solver.Solver, bus Publisher, m *metrics.Collector) *Runner {
	return &Runner{
		logger:  logging.OrNop(logger).Named("run"),
		solver:  s,
		bus:     bus,
		metrics: m,
	}
}

// Error is a run that aborted before the solver returned a status.
type Error struct {
	Stage string
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (r *Runner) fail(stage string, err error) error {
	if r.metrics != nil {
		r.metrics.Fail(stage)
	}
	r.logger.Error("run aborted", zap.String("stage", stage), zap.Error(err))
	return &Error{Stage: stage, Err: err}
}

// File loads the case at path and solves it. The total time includes
// loading.
func (r *Runner) File(ctx context.Context, path string, req Request) (report.Summary, error) {
	start := time.Now()
	g, err := casefile.Load(path)
	if err != nil {
		return report.Summary{}, r.fail(StageLoad, err)
	}
	return r.solve(ctx, g, req, start)
}

// Grid solves an already loaded grid.
func (r *Runner) Grid(ctx context.Context, g *grid.Grid, req Request) (report.Summary, error) {
	return r.solve(ctx, g, req, time.Now())
}

func (r *Runner) solve(ctx context.Context, g *grid.Grid, req Request, start time.Time) (report.Summary, error) {
	pid := uuid.New()
	log := r.logger.With(zap.Stringer("pid", pid), zap.String("case", g.Name()))

	log.Info("grid loaded",
		zap.Int("generators", g.NumGenerators()),
		zap.Int("lines", g.NumArcs()),
		zap.Int("buses", g.NumNodes()),
	)

	o, err := acopf.Build(g, acopf.Options{Form: req.Form, Scale: req.Scale})
	if err != nil {
		return report.Summary{}, r.fail(StageBuild, err)
	}
	log.Info("using " + o.Describe() + " model")
	if r.bus != nil {
		r.bus.Publish(msg.Started, report.Started{
			PID:   pid,
			Case:  g.Name(),
			Model: req.Form.String(),
			Time:  start,
		})
	}

	p, err := o.Compile()
	if err != nil {
		return report.Summary{}, r.fail(StageCompile, err)
	}

	solveStart := time.Now()
	res, err := r.solver.Solve(ctx, p, req.Solver)
	if err != nil {
		return report.Summary{}, r.fail(StageSolve, err)
	}
	solveTime := time.Since(solveStart)
	if len(res.X) == p.Dim() {
		if err := o.Apply(res); err != nil {
			return report.Summary{}, r.fail(StageSolve, err)
		}
	}

	s := report.New(pid, o)
	s.Status = res.Status.String()
	s.Iterations = res.Iterations
	s.SolveTime = solveTime
	s.TotalTime = time.Since(start)
	s.Finished = time.Now()

	log.Info(s.DataLine())
	if !res.Status.Optimal() {
		log.Warn("solver did not converge", zap.Stringer("status", res.Status), zap.Int("iterations", res.Iterations))
	}

	if r.metrics != nil {
		r.metrics.Observe(s)
	}
	if r.bus != nil {
		r.bus.Publish(msg.Summary, s)
	}
	return s, nil
}
