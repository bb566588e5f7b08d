package sqldb

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"gotest.tools/v3/assert"

	"github.com/ohowland/cgc_acopf/internal/pkg/report"
)

var errUnavailable = errors.New("server unavailable")

// flaky fails every statement until down is cleared and counts the table
// creations it accepts.
type flaky struct {
	mu      sync.Mutex
	down    bool
	creates int
}

func (f *flaky) Open(string) (driver.Conn, error) { return flakyConn{f}, nil }

func (f *flaky) setDown(down bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.down = down
}

type flakyConn struct{ f *flaky }

func (c flakyConn) Prepare(string) (driver.Stmt, error) { return nil, driver.ErrSkip }
func (c flakyConn) Close() error                        { return nil }
func (c flakyConn) Begin() (driver.Tx, error)           { return flakyTx{}, nil }

func (c flakyConn) ExecContext(_ context.Context, query string, _ []driver.NamedValue) (driver.Result, error) {
	c.f.mu.Lock()
	defer c.f.mu.Unlock()
	if c.f.down {
		return nil, errUnavailable
	}
	if len(query) >= 6 && query[:6] == "CREATE" {
		c.f.creates++
	}
	return driver.RowsAffected(1), nil
}

type flakyTx struct{}

func (flakyTx) Commit() error   { return nil }
func (flakyTx) Rollback() error { return nil }

func TestInitRetries(t *testing.T) {
	f := &flaky{down: true}
	name := "flaky-" + uuid.NewString()
	sql.Register(name, f)
	db, err := sql.Open(name, "")
	assert.NilError(t, err)
	d, err := dialectOf(Postgres)
	assert.NilError(t, err)
	s := &Sink{db: db, dialect: d}
	defer s.Close()

	ctx := context.Background()
	r := report.Started{PID: uuid.New(), Case: "case5", Model: "ACPOL", Time: time.Now()}
	assert.ErrorIs(t, s.Started(ctx, r), errUnavailable)

	f.setDown(false)
	assert.NilError(t, s.Started(ctx, r))
	assert.NilError(t, s.Started(ctx, r))
	assert.Equal(t, f.creates, len(d.create))
}
