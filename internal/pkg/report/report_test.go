package report

import (
	"bytes"
	"context"
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/google/uuid"
	"gotest.tools/v3/assert"

	"github.com/ohowland/cgc_acopf/internal/pkg/acopf"
	"github.com/ohowland/cgc_acopf/internal/pkg/grid"
	"github.com/ohowland/cgc_acopf/internal/pkg/ipm"
	"github.com/ohowland/cgc_acopf/internal/pkg/solver"
)

func sample() Summary {
	return Summary{
		Case:      "nesta_case5_pjm",
		Nodes:     5,
		Arcs:      6,
		Objective: 17551.890962,
		Status:    "LOCALLY_OPTIMAL",
		SolveTime: 250 * time.Millisecond,
		TotalTime: 1234567 * time.Microsecond,
	}
}

func TestResultLine(t *testing.T) {
	assert.Equal(t, sample().ResultLine(), "5 , nesta_case5_pjm , 17551.89096 , 1.235 , \\\\\n")
}

func TestDataLine(t *testing.T) {
	assert.Equal(t, sample().DataLine(),
		"DATA_OPF, nesta_case5_pjm, 5, 6, 17551.890962, -inf, 0.250000, LOCALLY_OPTIMAL, 1.234567")
}

func TestWriteResult(t *testing.T) {
	var buf bytes.Buffer
	s := sample()
	assert.NilError(t, s.WriteResult(&buf))
	assert.NilError(t, s.WriteResult(&buf))
	assert.Equal(t, buf.String(), s.ResultLine()+s.ResultLine())
}

func TestMarshalJSON(t *testing.T) {
	s := sample()
	b, err := json.Marshal(s)
	assert.NilError(t, err)
	var back Summary
	assert.NilError(t, json.Unmarshal(b, &back))
	assert.Equal(t, back.Objective, s.Objective)
	assert.Equal(t, back.TotalTime, s.TotalTime)

	s.Objective = math.NaN()
	b, err = json.Marshal(s)
	assert.NilError(t, err)
	var raw map[string]interface{}
	assert.NilError(t, json.Unmarshal(b, &raw))
	assert.Equal(t, raw["objective"], nil)
	assert.Equal(t, raw["case"], "nesta_case5_pjm")
}

func twoBus(t *testing.T) *acopf.OPF {
	g, err := grid.Build(grid.Spec{
		Name: "two_bus",
		Nodes: []grid.Node{
			{ID: 1, Vmin: 0.95, Vmax: 1.05, Ref: true},
			{ID: 2, Vmin: 0.95, Vmax: 1.05, Pl: 0.5, Ql: 0.1},
		},
		Generators: []grid.Generator{{ID: 1, Bus: 1, Pmax: 1, Qmin: -1, Qmax: 1, C1: 10}},
		Arcs:       []grid.Arc{{ID: 1, From: 1, To: 2, R: 0.01, X: 0.1, Smax: 1}},
	})
	assert.NilError(t, err)
	o, err := acopf.Build(g, acopf.DefaultOptions())
	assert.NilError(t, err)
	return o
}

func TestNew(t *testing.T) {
	o := twoBus(t)
	pid := uuid.New()

	s := New(pid, o)
	assert.Equal(t, s.PID, pid)
	assert.Equal(t, s.Case, "two_bus")
	assert.Equal(t, s.Model, "ACPOL")
	assert.Equal(t, s.Nodes, 2)
	assert.Equal(t, s.Arcs, 1)
	assert.Equal(t, s.Variables, o.Model.NumVars())
	assert.Assert(t, math.IsNaN(s.Objective))
	assert.Equal(t, len(s.Dispatch), 0)

	p, err := o.Compile()
	assert.NilError(t, err)
	res, err := ipm.New(nil).Solve(context.Background(), p, solver.DefaultOptions())
	assert.NilError(t, err)
	assert.NilError(t, o.Apply(res))

	s = New(pid, o)
	assert.Equal(t, s.Objective, o.Cost())
	assert.Equal(t, len(s.Dispatch), 1)
	assert.Equal(t, s.Dispatch[0].ID, "g1")
	assert.Assert(t, s.Dispatch[0].P > 0.5)
}
