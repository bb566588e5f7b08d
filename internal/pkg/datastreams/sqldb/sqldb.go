// Package sqldb stores runs and generator dispatch in a SQL database,
// either PostgreSQL or MySQL.
package sqldb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"

	"github.com/go-sql-driver/mysql"
	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/ohowland/cgc_acopf/internal/pkg/datastreams"
	"github.com/ohowland/cgc_acopf/internal/pkg/msg"
	"github.com/ohowland/cgc_acopf/internal/pkg/report"
)

var ErrDriver = errors.New("sqldb: driver must be postgres or mysql")

// Drivers.
const (
	Postgres = "postgres"
	MySQL    = "mysql"
)

// Config of the database. URL, when set, overrides the individual fields
// for postgres.
type Config struct {
	Driver   string `mapstructure:"driver" json:"driver" yaml:"driver"`
	URL      string `mapstructure:"url" json:"url" yaml:"url"`
	Host     string `mapstructure:"host" json:"host" yaml:"host"`
	Port     int    `mapstructure:"port" json:"port" yaml:"port"`
	User     string `mapstructure:"user" json:"user" yaml:"user"`
	Password string `mapstructure:"password" json:"password" yaml:"password"`
	Database string `mapstructure:"database" json:"database" yaml:"database"`
	SSLMode  string `mapstructure:"sslmode" json:"sslmode" yaml:"sslmode"`
}

// DSN is the driver specific data source name.
func (c Config) DSN() (string, error) {
	switch c.Driver {
	case Postgres:
		if c.URL != "" {
			return pq.ParseURL(c.URL)
		}
		ssl := c.SSLMode
		if ssl == "" {
			ssl = "disable"
		}
		return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			c.Host, c.port(5432), c.User, c.Password, c.Database, ssl), nil
	case MySQL:
		cfg := mysql.NewConfig()
		cfg.User = c.User
		cfg.Passwd = c.Password
		cfg.Net = "tcp"
		cfg.Addr = c.Host + ":" + strconv.Itoa(c.port(3306))
		cfg.DBName = c.Database
		cfg.ParseTime = true
		return cfg.FormatDSN(), nil
	}
	return "", fmt.Errorf("%w: %q", ErrDriver, c.Driver)
}

func (c Config) port(def int) int {
	if c.Port == 0 {
		return def
	}
	return c.Port
}

// dialect holds the statements of one driver.
type dialect struct {
	create        []string
	insertStarted string
	upsertRun     string
	clearDispatch string
	insertGen     string
}

// bind rewrites ? placeholders into $n.
func bind(q string) string {
	var b strings.Builder
	n := 0
	for _, r := range q {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

const (
	createRuns = `CREATE TABLE IF NOT EXISTS acopf_runs (
	pid VARCHAR(36) PRIMARY KEY,
	case_name VARCHAR(255) NOT NULL,
	model VARCHAR(16) NOT NULL,
	status VARCHAR(32) NOT NULL,
	nodes INTEGER,
	arcs INTEGER,
	objective DOUBLE PRECISION,
	iterations INTEGER,
	solve_seconds DOUBLE PRECISION,
	total_seconds DOUBLE PRECISION,
	started TIMESTAMP NULL,
	finished TIMESTAMP NULL
)`
	createDispatch = `CREATE TABLE IF NOT EXISTS acopf_dispatch (
	pid VARCHAR(36) NOT NULL,
	generator VARCHAR(32) NOT NULL,
	p DOUBLE PRECISION,
	q DOUBLE PRECISION,
	PRIMARY KEY (pid, generator)
)`
	insertStarted = `INSERT INTO acopf_runs (pid, case_name, model, status, started) VALUES (?, ?, ?, ?, ?)`
	runColumns    = `(pid, case_name, model, status, nodes, arcs, objective, iterations, solve_seconds, total_seconds, finished) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	clearDispatch = `DELETE FROM acopf_dispatch WHERE pid = ?`
	insertGen     = `INSERT INTO acopf_dispatch (pid, generator, p, q) VALUES (?, ?, ?, ?)`
)

var updated = []string{"status", "nodes", "arcs", "objective", "iterations", "solve_seconds", "total_seconds", "finished"}

func dialectOf(driver string) (dialect, error) {
	switch driver {
	case Postgres:
		set := make([]string, len(updated))
		for i, c := range updated {
			set[i] = c + " = EXCLUDED." + c
		}
		return dialect{
			create:        []string{createRuns, createDispatch},
			insertStarted: bind(insertStarted + ` ON CONFLICT (pid) DO NOTHING`),
			upsertRun:     bind(`INSERT INTO acopf_runs ` + runColumns + ` ON CONFLICT (pid) DO UPDATE SET ` + strings.Join(set, ", ")),
			clearDispatch: bind(clearDispatch),
			insertGen:     bind(insertGen),
		}, nil
	case MySQL:
		set := make([]string, len(updated))
		for i, c := range updated {
			set[i] = c + " = VALUES(" + c + ")"
		}
		return dialect{
			create:        []string{createRuns, createDispatch},
			insertStarted: strings.Replace(insertStarted, "INSERT", "INSERT IGNORE", 1),
			upsertRun:     `INSERT INTO acopf_runs ` + runColumns + ` ON DUPLICATE KEY UPDATE ` + strings.Join(set, ", "),
			clearDispatch: clearDispatch,
			insertGen:     insertGen,
		}, nil
	}
	return dialect{}, fmt.Errorf("%w: %q", ErrDriver, driver)
}

// Sink writes runs to the database. Tables are created before the first
// write.
type Sink struct {
	db      *sql.DB
	dialect dialect
	mu      sync.Mutex
	ready   bool
}

// Open prepares the connection pool without contacting the server.
func Open(cfg Config) (*Sink, error) {
	d, err := dialectOf(cfg.Driver)
	if err != nil {
		return nil, err
	}
	dsn, err := cfg.DSN()
	if err != nil {
		return nil, err
	}
	db, err := sql.Open(cfg.Driver, dsn)
	if err != nil {
		return nil, err
	}
	return &Sink{db: db, dialect: d}, nil
}

// New opens the database and returns its handler.
func New(cfg Config, system msg.Publisher, logger *zap.Logger) (*datastreams.Handler, error) {
	s, err := Open(cfg)
	if err != nil {
		return nil, err
	}
	h, err := datastreams.NewHandler("sqldb", s, system, logger)
	if err != nil {
		s.Close()
		return nil, err
	}
	return h, nil
}

// init creates the tables once. A failed attempt is retried on the next
// write.
func (s *Sink) init(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ready {
		return nil
	}
	for _, stmt := range s.dialect.create {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("sqldb: create tables: %w", err)
		}
	}
	s.ready = true
	return nil
}

// Started inserts the row of a new run unless its summary got there
// first.
func (s *Sink) Started(ctx context.Context, r report.Started) error {
	if err := s.init(ctx); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, s.dialect.insertStarted,
		r.PID.String(), r.Case, r.Model, "RUNNING", r.Time)
	return err
}

// Summary upserts the run row and replaces its dispatch in one
// transaction.
func (s *Sink) Summary(ctx context.Context, r report.Summary) error {
	if err := s.init(ctx); err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	pid := r.PID.String()
	if _, err := tx.ExecContext(ctx, s.dialect.upsertRun, runArgs(r)...); err != nil {
		tx.Rollback()
		return err
	}
	if _, err := tx.ExecContext(ctx, s.dialect.clearDispatch, pid); err != nil {
		tx.Rollback()
		return err
	}
	for _, d := range r.Dispatch {
		if _, err := tx.ExecContext(ctx, s.dialect.insertGen, pid, d.ID, d.P, d.Q); err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// runArgs are the values of runColumns. A missing objective is stored as
// NULL.
func runArgs(r report.Summary) []interface{} {
	obj := sql.NullFloat64{Float64: r.Objective, Valid: !math.IsNaN(r.Objective)}
	return []interface{}{
		r.PID.String(), r.Case, r.Model, r.Status, r.Nodes, r.Arcs, obj,
		r.Iterations, r.SolveTime.Seconds(), r.TotalTime.Seconds(), r.Finished,
	}
}

func (s *Sink) Close() error {
	return s.db.Close()
}
