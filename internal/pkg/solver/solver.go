// Package solver defines the contract between a formulated nonlinear program
// and the numerical engine that solves it.
package solver

import (
	"context"
	"errors"
	"fmt"

	"github.com/ohowland/cgc_acopf/internal/pkg/nlp"
)

var (
	ErrInteger      = errors.New("solver: integer variables require Relax")
	ErrLinearSolver = errors.New("solver: unknown linear solver")
	ErrTolerance    = errors.New("solver: tolerance must be positive")
)

// Solver runs a compiled program to a local optimum. Not converging is
// reported through Result.Status; an error means the request itself was
// invalid.
type Solver interface {
	Solve(ctx context.Context, p *nlp.Program, opts Options) (Result, error)
}

// Linear solvers for the Newton system.
const (
	LU = "lu"
	QR = "qr"
)

// Options configures a solve.
type Options struct {
	// Verbosity 0 is silent; 1 and above log every iteration.
	Verbosity int
	// Relax solves the continuous relaxation of a program with integer
	// variables. Without it such programs are rejected.
	Relax bool
	// Tolerance applies to the feasibility, gradient, complementarity and
	// cost conditions.
	Tolerance float64
	// LinearSolver is LU or QR.
	LinearSolver string
	// Mehrotra enables predictor-corrector centering.
	Mehrotra      bool
	MaxIterations int
}

// DefaultOptions returns the options used when none are given.
func DefaultOptions() Options {
	return Options{
		Tolerance:     1e-6,
		LinearSolver:  LU,
		MaxIterations: 150,
	}
}

// Validate checks the options against a program.
func (o Options) Validate(p *nlp.Program) error {
	if !(o.Tolerance > 0) {
		return fmt.Errorf("%w: %g", ErrTolerance, o.Tolerance)
	}
	switch o.LinearSolver {
	case LU, QR:
	default:
		return fmt.Errorf("%w: %q", ErrLinearSolver, o.LinearSolver)
	}
	if p.HasInteger() && !o.Relax {
		return ErrInteger
	}
	return nil
}

// Status is the termination state of a solve.
type Status int

const (
	LocallyOptimal Status = iota
	LocallyInfeasible
	IterationLimit
	NumericalFailure
	Cancelled
)

func (s Status) String() string {
	switch s {
	case LocallyOptimal:
		return "LOCALLY_OPTIMAL"
	case LocallyInfeasible:
		return "LOCALLY_INFEASIBLE"
	case IterationLimit:
		return "ITERATION_LIMIT"
	case NumericalFailure:
		return "NUMERICAL_FAILURE"
	case Cancelled:
		return "CANCELLED"
	}
	return "UNKNOWN"
}

// Optimal reports whether the solve converged.
func (s Status) Optimal() bool {
	return s == LocallyOptimal
}

// Result is the outcome of a solve. Objective is in the program's own sense.
// Lambda holds the multipliers of the equality rows and Mu those of the
// inequality rows, in program order.
type Result struct {
	Status     Status
	Objective  float64
	X          []float64
	Lambda     []float64
	Mu         []float64
	Iterations int
}
