// Package webservice serves OPF runs over HTTP.
package webservice

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/ohowland/cgc_acopf/internal/lib/casefile"
	"github.com/ohowland/cgc_acopf/internal/pkg/acopf"
	"github.com/ohowland/cgc_acopf/internal/pkg/logging"
	"github.com/ohowland/cgc_acopf/internal/pkg/metrics"
	"github.com/ohowland/cgc_acopf/internal/pkg/report"
	"github.com/ohowland/cgc_acopf/internal/pkg/run"
	"github.com/ohowland/cgc_acopf/internal/pkg/solver"
)

// MaxCaseBytes bounds the body of a solve request.
const MaxCaseBytes = 32 << 20

const contentType = "application/json; charset=UTF-8"

type App struct {
	Runner   *run.Runner
	Metrics  *metrics.Collector
	Defaults run.Request
	Store    *Store
	Logger   *zap.Logger
}

func (app *App) Router() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/", app.BaseHandler)
	r.HandleFunc("/solve", app.SolveHandler).Methods("POST")
	r.HandleFunc("/runs", app.RunsHandler).Methods("GET")
	r.HandleFunc("/runs/{pid}", app.RunHandler).Methods("GET")
	if app.Metrics != nil {
		r.Handle("/metrics", app.Metrics.Handler()).Methods("GET")
	}
	return r
}

func (app *App) logger() *zap.Logger {
	return logging.OrNop(app.Logger).Named("webservice")
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, errorBody{Error: err.Error()})
}

func (app *App) BaseHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"service": "acopf"})
}

// request reads the query overrides of the default run request.
func (app *App) request(r *http.Request) (run.Request, error) {
	req := app.Defaults
	q := r.URL.Query()
	if m := q.Get("model"); m != "" {
		f, err := acopf.ParseFormulation(m)
		if err != nil {
			return req, err
		}
		req.Form = f
	}
	for name, dst := range map[string]*float64{"scale": &req.Scale, "tol": &req.Solver.Tolerance} {
		if s := q.Get(name); s != "" {
			v, err := strconv.ParseFloat(s, 64)
			if err != nil {
				return req, err
			}
			*dst = v
		}
	}
	if s := q.Get("linear_solver"); s != "" {
		req.Solver.LinearSolver = s
	}
	if s := q.Get("mehrotra"); s != "" {
		v, err := strconv.ParseBool(s)
		if err != nil {
			return req, err
		}
		req.Solver.Mehrotra = v
	}
	return req, nil
}

// SolveHandler solves the case in the request body. The body format comes
// from the format query parameter or the Content-Type header.
func (app *App) SolveHandler(w http.ResponseWriter, r *http.Request) {
	req, err := app.request(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	format := r.URL.Query().Get("format")
	if format == "" {
		format = r.Header.Get("Content-Type")
	}
	f, err := casefile.ParseFormat(format)
	if err != nil {
		writeError(w, http.StatusUnsupportedMediaType, err)
		return
	}

	c, err := casefile.Decode(http.MaxBytesReader(w, r.Body, MaxCaseBytes), f)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	g, err := c.Grid()
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	s, err := app.Runner.Grid(r.Context(), g, req)
	if err != nil {
		code := http.StatusInternalServerError
		if errors.Is(err, acopf.ErrScale) || errors.Is(err, solver.ErrTolerance) || errors.Is(err, solver.ErrLinearSolver) {
			code = http.StatusBadRequest
		}
		writeError(w, code, err)
		return
	}
	app.Store.Put(s)
	app.logger().Info("solved", zap.Stringer("pid", s.PID), zap.String("status", s.Status))
	writeJSON(w, http.StatusOK, s)
}

func (app *App) RunsHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, app.Store.List())
}

func (app *App) RunHandler(w http.ResponseWriter, r *http.Request) {
	pid, err := uuid.Parse(mux.Vars(r)["pid"])
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	s, ok := app.Store.Get(pid)
	if !ok {
		writeError(w, http.StatusNotFound, errors.New("run not found"))
		return
	}
	writeJSON(w, http.StatusOK, s)
}

// Store keeps the most recent summaries in memory.
type Store struct {
	mux   sync.RWMutex
	limit int
	runs  map[uuid.UUID]report.Summary
	order []uuid.UUID
}

// NewStore keeps up to limit runs; older runs are evicted first.
func NewStore(limit int) *Store {
	return &Store{limit: limit, runs: make(map[uuid.UUID]report.Summary)}
}

func (s *Store) Put(r report.Summary) {
	s.mux.Lock()
	defer s.mux.Unlock()
	if _, ok := s.runs[r.PID]; !ok {
		s.order = append(s.order, r.PID)
	}
	s.runs[r.PID] = r
	for s.limit > 0 && len(s.order) > s.limit {
		delete(s.runs, s.order[0])
		s.order = s.order[1:]
	}
}

func (s *Store) Get(pid uuid.UUID) (report.Summary, bool) {
	s.mux.RLock()
	defer s.mux.RUnlock()
	r, ok := s.runs[pid]
	return r, ok
}

// List returns the stored runs, oldest first.
func (s *Store) List() []report.Summary {
	s.mux.RLock()
	defer s.mux.RUnlock()
	out := make([]report.Summary, 0, len(s.order))
	for _, pid := range s.order {
		out = append(out, s.runs[pid])
	}
	return out
}
