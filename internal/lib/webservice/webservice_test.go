package webservice

import (
	"bytes"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/google/uuid"
	"gotest.tools/v3/assert"

	"github.com/ohowland/cgc_acopf/internal/pkg/ipm"
	"github.com/ohowland/cgc_acopf/internal/pkg/metrics"
	"github.com/ohowland/cgc_acopf/internal/pkg/report"
	"github.com/ohowland/cgc_acopf/internal/pkg/run"
)

const caseFile = "../../../data/nesta_case5_pjm.m"

func newApp() *App {
	m := metrics.New()
	return &App{
		Runner:   run.New(nil, ipm.New(nil), nil, m),
		Metrics:  m,
		Defaults: run.DefaultRequest(),
		Store:    NewStore(10),
	}
}

func serve(app *App, method, target string, body []byte, header map[string]string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r := httptest.NewRequest(method, "http://example.com"+target, bytes.NewReader(body))
	for k, v := range header {
		r.Header.Set(k, v)
	}
	app.Router().ServeHTTP(w, r)
	return w
}

func TestBase(t *testing.T) {
	w := serve(newApp(), "GET", "/", nil, nil)
	assert.Equal(t, w.Code, http.StatusOK)
	assert.Equal(t, w.Result().Header.Get("Content-Type"), "application/json; charset=UTF-8")
}

func TestSolve(t *testing.T) {
	body, err := os.ReadFile(caseFile)
	assert.NilError(t, err)
	app := newApp()

	w := serve(app, "POST", "/solve?model=ACRECT", body, map[string]string{"Content-Type": "text/plain"})
	assert.Equal(t, w.Code, http.StatusOK, w.Body.String())
	var s report.Summary
	assert.NilError(t, json.Unmarshal(w.Body.Bytes(), &s))
	assert.Equal(t, s.Model, "ACRECT")
	assert.Equal(t, s.Status, "LOCALLY_OPTIMAL")
	assert.Assert(t, math.Abs(s.Objective-17551.89)/17551.89 < 1e-4, "objective %g", s.Objective)

	w = serve(app, "GET", "/runs/"+s.PID.String(), nil, nil)
	assert.Equal(t, w.Code, http.StatusOK)
	var stored report.Summary
	assert.NilError(t, json.Unmarshal(w.Body.Bytes(), &stored))
	assert.Equal(t, stored.PID, s.PID)

	w = serve(app, "GET", "/runs", nil, nil)
	assert.Equal(t, w.Code, http.StatusOK)
	var list []report.Summary
	assert.NilError(t, json.Unmarshal(w.Body.Bytes(), &list))
	assert.Equal(t, len(list), 1)

	w = serve(app, "GET", "/metrics", nil, nil)
	assert.Equal(t, w.Code, http.StatusOK)
	assert.Assert(t, strings.Contains(w.Body.String(), `acopf_runs_total{model="ACRECT",status="LOCALLY_OPTIMAL"} 1`))
}

func TestSolveBadRequests(t *testing.T) {
	body, err := os.ReadFile(caseFile)
	assert.NilError(t, err)
	app := newApp()

	for _, c := range []struct {
		target string
		body   []byte
		ctype  string
		code   int
	}{
		{"/solve?model=DC", body, "text/plain", http.StatusBadRequest},
		{"/solve?scale=abc", body, "text/plain", http.StatusBadRequest},
		{"/solve?scale=-1", body, "text/plain", http.StatusBadRequest},
		{"/solve?scale=NaN", body, "text/plain", http.StatusBadRequest},
		{"/solve?tol=NaN", body, "text/plain", http.StatusBadRequest},
		{"/solve?linear_solver=svd", body, "text/plain", http.StatusBadRequest},
		{"/solve", []byte("mpc.bus = [\n 1 x;\n];"), "text/plain", http.StatusBadRequest},
		{"/solve", []byte(`{"bus": []}`), "application/json", http.StatusBadRequest},
		{"/solve", body, "application/octet-stream", http.StatusUnsupportedMediaType},
	} {
		w := serve(app, "POST", c.target, c.body, map[string]string{"Content-Type": c.ctype})
		assert.Equal(t, w.Code, c.code, "%s %s: %s", c.target, c.ctype, w.Body.String())
	}
	assert.Equal(t, len(app.Store.List()), 0)
}

func TestRunNotFound(t *testing.T) {
	app := newApp()
	w := serve(app, "GET", "/runs/"+uuid.New().String(), nil, nil)
	assert.Equal(t, w.Code, http.StatusNotFound)

	w = serve(app, "GET", "/runs/not-a-uuid", nil, nil)
	assert.Equal(t, w.Code, http.StatusBadRequest)

	w = serve(app, "GET", "/solve", nil, nil)
	assert.Equal(t, w.Code, http.StatusMethodNotAllowed)
}

func TestStoreEviction(t *testing.T) {
	s := NewStore(2)
	a, b, c := report.Summary{PID: uuid.New()}, report.Summary{PID: uuid.New()}, report.Summary{PID: uuid.New()}
	s.Put(a)
	s.Put(b)
	s.Put(a)
	s.Put(c)

	_, ok := s.Get(a.PID)
	assert.Assert(t, !ok)
	list := s.List()
	assert.Equal(t, len(list), 2)
	assert.Equal(t, list[0].PID, b.PID)
	assert.Equal(t, list[1].PID, c.PID)
}
