package run

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"gotest.tools/v3/assert"

	"github.com/ohowland/cgc_acopf/internal/lib/casefile"
	"github.com/ohowland/cgc_acopf/internal/pkg/acopf"
	"github.com/ohowland/cgc_acopf/internal/pkg/ipm"
	"github.com/ohowland/cgc_acopf/internal/pkg/metrics"
	"github.com/ohowland/cgc_acopf/internal/pkg/msg"
	"github.com/ohowland/cgc_acopf/internal/pkg/nlp"
	"github.com/ohowland/cgc_acopf/internal/pkg/report"
	"github.com/ohowland/cgc_acopf/internal/pkg/solver"
)

const caseFile = "../../../data/nesta_case5_pjm.m"

type stubSolver struct {
	res solver.Result
	err error
}

func (s stubSolver) Solve(context.Context, *nlp.Program, solver.Options) (solver.Result, error) {
	return s.res, s.err
}

func TestFile(t *testing.T) {
	bus := msg.NewPublisher(uuid.New())
	sub := uuid.New()
	started, err := bus.Subscribe(sub, msg.Started)
	assert.NilError(t, err)
	done, err := bus.Subscribe(sub, msg.Summary)
	assert.NilError(t, err)
	m := metrics.New()

	r := New(nil, ipm.New(nil), bus, m)
	req := DefaultRequest()
	req.Form = acopf.ACRECT
	s, err := r.File(context.Background(), caseFile, req)
	assert.NilError(t, err)

	assert.Equal(t, s.Status, solver.LocallyOptimal.String())
	assert.Equal(t, s.Model, "ACRECT")
	assert.Equal(t, s.Case, "nesta_case5_pjm")
	assert.Assert(t, math.Abs(s.Objective-17551.89)/17551.89 < 1e-4, "objective %g", s.Objective)
	assert.Assert(t, s.TotalTime >= s.SolveTime)
	assert.Assert(t, s.Iterations > 0)
	assert.Equal(t, len(s.Dispatch), 5)

	first := (<-started).Payload().(report.Started)
	assert.Equal(t, first.PID, s.PID)
	assert.Equal(t, first.Model, "ACRECT")
	last := (<-done).Payload().(report.Summary)
	assert.Equal(t, last.PID, s.PID)

	n, err := testutil.GatherAndCount(m.Registry(), "acopf_runs_total")
	assert.NilError(t, err)
	assert.Equal(t, n, 1)
}

func TestLoadError(t *testing.T) {
	m := metrics.New()
	r := New(nil, ipm.New(nil), nil, m)
	_, err := r.File(context.Background(), "missing.m", DefaultRequest())
	var runErr *Error
	assert.Assert(t, errors.As(err, &runErr))
	assert.Equal(t, runErr.Stage, StageLoad)

	_, err = r.File(context.Background(), "case.csv", DefaultRequest())
	assert.ErrorIs(t, err, casefile.ErrFormat)

	n, err := testutil.GatherAndCount(m.Registry(), "acopf_failures_total")
	assert.NilError(t, err)
	assert.Equal(t, n, 1)
}

func TestBuildError(t *testing.T) {
	g, err := casefile.Load(caseFile)
	assert.NilError(t, err)

	req := DefaultRequest()
	req.Scale = -1
	_, err = New(nil, ipm.New(nil), nil, nil).Grid(context.Background(), g, req)
	assert.ErrorIs(t, err, acopf.ErrScale)
	var runErr *Error
	assert.Assert(t, errors.As(err, &runErr))
	assert.Equal(t, runErr.Stage, StageBuild)
}

func TestSolverError(t *testing.T) {
	g, err := casefile.Load(caseFile)
	assert.NilError(t, err)

	req := DefaultRequest()
	req.Solver.LinearSolver = "cholesky"
	_, err = New(nil, ipm.New(nil), nil, nil).Grid(context.Background(), g, req)
	assert.ErrorIs(t, err, solver.ErrLinearSolver)
}

func TestNotConverged(t *testing.T) {
	g, err := casefile.Load(caseFile)
	assert.NilError(t, err)

	stub := stubSolver{res: solver.Result{Status: solver.Cancelled}}
	s, err := New(nil, stub, nil, nil).Grid(context.Background(), g, DefaultRequest())
	assert.NilError(t, err)
	assert.Equal(t, s.Status, "CANCELLED")
	assert.Assert(t, math.IsNaN(s.Objective))
}
