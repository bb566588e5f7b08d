// Package report holds the outcome of an OPF run and its text renderings.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/ohowland/cgc_acopf/internal/pkg/acopf"
)

// Started announces a run.
type Started struct {
	PID   uuid.UUID `json:"pid"`
	Case  string    `json:"case"`
	Model string    `json:"model"`
	Time  time.Time `json:"time"`
}

// Generator is the solved set point of one generator in per unit.
type Generator struct {
	ID string  `json:"id" bson:"id"`
	P  float64 `json:"p" bson:"p"`
	Q  float64 `json:"q" bson:"q"`
}

// Summary is the record of a finished run. Objective is the cost in the
// units of the case file, with the objective scale factor divided out.
type Summary struct {
	PID        uuid.UUID     `json:"pid"`
	Case       string        `json:"case"`
	Model      string        `json:"model"`
	Nodes      int           `json:"nodes"`
	Arcs       int           `json:"arcs"`
	Generators int           `json:"generators"`
	Variables  int           `json:"variables"`
	Rows       int           `json:"rows"`
	Scale      float64       `json:"scale"`
	Objective  float64       `json:"objective"`
	Status     string        `json:"status"`
	Iterations int           `json:"iterations"`
	SolveTime  time.Duration `json:"solve_time"`
	TotalTime  time.Duration `json:"total_time"`
	Finished   time.Time     `json:"finished"`
	Dispatch   []Generator   `json:"dispatch,omitempty"`
}

// New fills the model part of a summary from a built, and possibly solved,
// OPF.
func New(pid uuid.UUID, o *acopf.OPF) Summary {
	g := o.Grid()
	s := Summary{
		PID:        pid,
		Case:       g.Name(),
		Model:      o.Options().Form.String(),
		Nodes:      g.NumNodes(),
		Arcs:       g.NumArcs(),
		Generators: g.NumGenerators(),
		Variables:  o.Model.NumVars(),
		Rows:       o.Model.NumConstraints(),
		Scale:      o.Options().Scale,
		Objective:  math.NaN(),
	}
	if o.Model.Solved() {
		s.Objective = o.Cost()
		for _, d := range o.Dispatch() {
			s.Dispatch = append(s.Dispatch, Generator{ID: d.Generator, P: d.P, Q: d.Q})
		}
	}
	return s
}

// MarshalJSON writes a missing or non-finite objective as null.
func (s Summary) MarshalJSON() ([]byte, error) {
	type plain Summary
	var obj *float64
	if !math.IsNaN(s.Objective) && !math.IsInf(s.Objective, 0) {
		obj = &s.Objective
	}
	return json.Marshal(struct {
		plain
		Objective *float64 `json:"objective"`
	}{plain(s), obj})
}

// ResultLine is the row appended to the results log:
//
//	<nodes> , <case> , <objective> , <total seconds> , \\
func (s Summary) ResultLine() string {
	return fmt.Sprintf("%d , %s , %.10g , %.4g , \\\\\n", s.Nodes, s.Case, s.Objective, s.TotalTime.Seconds())
}

// DataLine is the one line machine readable record of the run.
func (s Summary) DataLine() string {
	return fmt.Sprintf("DATA_OPF, %s, %d, %d, %f, -inf, %f, %s, %f",
		s.Case, s.Nodes, s.Arcs, s.Objective, s.SolveTime.Seconds(), s.Status, s.TotalTime.Seconds())
}

// WriteResult appends the result line to w.
func (s Summary) WriteResult(w io.Writer) error {
	_, err := io.WriteString(w, s.ResultLine())
	return err
}
