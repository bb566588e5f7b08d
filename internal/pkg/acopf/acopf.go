// Package acopf formulates AC optimal power flow on a grid.Grid as a
// nonlinear program. Bus voltages are modeled either in polar coordinates
// (magnitude and angle) or in rectangular coordinates (real and imaginary
// part); the choice is made once when the model is built.
package acopf

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ohowland/cgc_acopf/internal/pkg/grid"
	"github.com/ohowland/cgc_acopf/internal/pkg/nlp"
	"github.com/ohowland/cgc_acopf/internal/pkg/solver"
)

var (
	ErrFormulation = errors.New("acopf: unknown model type")
	ErrScale       = errors.New("acopf: objective scale must be positive")
	ErrNotSolved   = errors.New("acopf: model has no solution")
)

// Formulation selects the voltage coordinates.
type Formulation int

const (
	ACPOL Formulation = iota
	ACRECT
)

func (f Formulation) String() string {
	switch f {
	case ACPOL:
		return "ACPOL"
	case ACRECT:
		return "ACRECT"
	}
	return "UNKNOWN"
}

// ParseFormulation reads a model type name, ignoring case.
func ParseFormulation(s string) (Formulation, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "ACPOL":
		return ACPOL, nil
	case "ACRECT":
		return ACRECT, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrFormulation, s)
}

// DefaultScale multiplies the cost and thermal limit rows.
const DefaultScale = 1e-3

// Options configures Build.
type Options struct {
	Form  Formulation
	Scale float64
}

// DefaultOptions is the polar model with the default scale.
func DefaultOptions() Options {
	return Options{Form: ACPOL, Scale: DefaultScale}
}

// Variable and constraint family names.
const (
	VarPg     = "Pg"
	VarQg     = "Qg"
	VarPfFrom = "Pf_from"
	VarQfFrom = "Qf_from"
	VarPfTo   = "Pf_to"
	VarQfTo   = "Qf_to"
	VarVm     = "|V|"
	VarTheta  = "theta"
	VarVr     = "vr"
	VarVi     = "vi"

	RefBus      = "Ref_Bus"
	KCLP        = "KCL_P"
	KCLQ        = "KCL_Q"
	FlowPFrom   = "Flow_P_From"
	FlowPTo     = "Flow_P_To"
	FlowQFrom   = "Flow_Q_From"
	FlowQTo     = "Flow_Q_To"
	VolLimitUB  = "Vol_limit_UB"
	VolLimitLB  = "Vol_limit_LB"
	PADUB       = "PAD_UB"
	PADLB       = "PAD_LB"
	ThermalFrom = "Thermal_Limit_from"
	ThermalTo   = "Thermal_Limit_to"
)

// OPF is a formulated AC-OPF instance: the grid it was built from, the model
// and handles on its variable sets.
type OPF struct {
	grid *grid.Grid
	opts Options
	form voltageForm

	Model  *nlp.Model
	Pg     *nlp.VarSet
	Qg     *nlp.VarSet
	PfFrom *nlp.VarSet
	QfFrom *nlp.VarSet
	PfTo   *nlp.VarSet
	QfTo   *nlp.VarSet
}

// Grid returns the network the model was built from.
func (o *OPF) Grid() *grid.Grid { return o.grid }

// Options returns the options the model was built with.
func (o *OPF) Options() Options { return o.opts }

// Compile returns the solver form of the model.
func (o *OPF) Compile() (*nlp.Program, error) {
	return o.Model.Compile()
}

// Apply records a solver result in the model. Results that did not converge
// are recorded too so that the final iterate can be inspected.
func (o *OPF) Apply(res solver.Result) error {
	return o.Model.SetSolution(res.X, res.Objective)
}

// Objective is the scaled objective at the recorded solution.
func (o *OPF) Objective() float64 {
	return o.Model.ObjectiveValue()
}

// Cost is the generation cost at the recorded solution, in the units of the
// case cost curves.
func (o *OPF) Cost() float64 {
	return o.Model.ObjectiveValue() / o.opts.Scale
}

// Voltage returns the complex voltage of a bus as magnitude and angle.
func (o *OPF) Voltage(n grid.Node) (vm, va float64) {
	return o.form.voltage(o.Model, n)
}
