// Package config reads run configuration from flags, ACOPF_* environment
// variables and an optional JSON or YAML file, in that order of
// precedence.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/ohowland/cgc_acopf/internal/pkg/acopf"
	"github.com/ohowland/cgc_acopf/internal/pkg/datastreams/filelog"
	"github.com/ohowland/cgc_acopf/internal/pkg/datastreams/mongodb"
	"github.com/ohowland/cgc_acopf/internal/pkg/datastreams/natshandler"
	"github.com/ohowland/cgc_acopf/internal/pkg/datastreams/sqldb"
	"github.com/ohowland/cgc_acopf/internal/pkg/run"
	"github.com/ohowland/cgc_acopf/internal/pkg/solver"
	"github.com/ohowland/cgc_acopf/internal/pkg/web"
)

var ErrInvalid = errors.New("config: invalid value")

// Defaults.
const (
	DefaultFile   = "data/nesta_case5_pjm.m"
	DefaultModel  = "ACPOL"
	DefaultOut    = "out.txt"
	DefaultListen = ":8080"
)

// Config is the full configuration of a command.
type Config struct {
	File          string  `mapstructure:"file"`
	Model         string  `mapstructure:"model"`
	Log           int     `mapstructure:"log"`
	Scale         float64 `mapstructure:"scale"`
	Tol           float64 `mapstructure:"tol"`
	Out           string  `mapstructure:"out"`
	LinearSolver  string  `mapstructure:"linear_solver"`
	Mehrotra      bool    `mapstructure:"mehrotra"`
	MaxIterations int     `mapstructure:"max_iterations"`
	Listen        string  `mapstructure:"listen"`
	Sinks         Sinks   `mapstructure:"sinks"`
}

// Sinks configures the optional result stores. A nil entry is disabled.
type Sinks struct {
	MongoDB *mongodb.Config     `mapstructure:"mongodb"`
	SQL     *sqldb.Config       `mapstructure:"sql"`
	NATS    *natshandler.Config `mapstructure:"nats"`
	Web     *web.Config         `mapstructure:"web"`
}

// keys maps configuration keys to flag names.
var keys = map[string]string{
	"file":           "file",
	"model":          "model",
	"log":            "log",
	"scale":          "scale",
	"tol":            "tol",
	"out":            "out",
	"linear_solver":  "linear-solver",
	"mehrotra":       "mehrotra",
	"max_iterations": "max-iterations",
	"listen":         "listen",
}

// Flags returns the command line of a command. The webservice command also
// takes a listen address.
func Flags(name string) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.StringP("file", "f", DefaultFile, "case file (MATPOWER .m, .json or .yaml)")
	fs.StringP("model", "m", DefaultModel, "model type: ACPOL or ACRECT")
	fs.IntP("log", "l", 0, "verbosity level; 1 and above log every solver iteration")
	fs.Float64P("scale", "s", acopf.DefaultScale, "objective and thermal limit scale factor")
	fs.Float64P("tol", "t", solver.DefaultOptions().Tolerance, "solver tolerance")
	fs.StringP("out", "o", DefaultOut, "results file the result line is appended to")
	fs.StringP("config", "c", "", "JSON or YAML configuration file")
	fs.String("linear-solver", solver.LU, "Newton system solver: lu or qr")
	fs.Bool("mehrotra", false, "use Mehrotra predictor-corrector steps")
	fs.Int("max-iterations", solver.DefaultOptions().MaxIterations, "solver iteration limit")
	if name == "webservice" {
		fs.String("listen", DefaultListen, "HTTP listen address")
	}
	return fs
}

// Load parses args and merges every source. It returns pflag.ErrHelp when
// help was requested.
func Load(fs *pflag.FlagSet, args []string) (Config, error) {
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	v := viper.New()
	v.SetEnvPrefix("ACOPF")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, name := range keys {
		if f := fs.Lookup(name); f != nil {
			if err := v.BindPFlag(key, f); err != nil {
				return Config{}, err
			}
		}
	}

	if path, err := fs.GetString("config"); err == nil && path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("config: %s: %w", path, err)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return Config{}, err
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate checks the values a run depends on.
func (c Config) Validate() error {
	if _, err := acopf.ParseFormulation(c.Model); err != nil {
		return err
	}
	if !(c.Scale > 0) {
		return fmt.Errorf("%w: scale %g", ErrInvalid, c.Scale)
	}
	if !(c.Tol > 0) {
		return fmt.Errorf("%w: tol %g", ErrInvalid, c.Tol)
	}
	switch c.LinearSolver {
	case solver.LU, solver.QR:
	default:
		return fmt.Errorf("%w: linear solver %q", ErrInvalid, c.LinearSolver)
	}
	if c.MaxIterations <= 0 {
		return fmt.Errorf("%w: max iterations %d", ErrInvalid, c.MaxIterations)
	}
	return nil
}

// Request is the run request described by the configuration.
func (c Config) Request() (run.Request, error) {
	form, err := acopf.ParseFormulation(c.Model)
	if err != nil {
		return run.Request{}, err
	}
	return run.Request{
		Form:  form,
		Scale: c.Scale,
		Solver: solver.Options{
			Verbosity:     c.Log,
			Tolerance:     c.Tol,
			LinearSolver:  c.LinearSolver,
			Mehrotra:      c.Mehrotra,
			MaxIterations: c.MaxIterations,
		},
	}, nil
}

// ResultsFile is the configuration of the results log sink.
func (c Config) ResultsFile() filelog.Config {
	return filelog.Config{Path: c.Out}
}
