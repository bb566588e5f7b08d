// Package filelog appends the result line of every finished run to a text
// file.
package filelog

import (
	"context"
	"os"
	"sync"

	"go.uber.org/zap"

	"github.com/ohowland/cgc_acopf/internal/pkg/datastreams"
	"github.com/ohowland/cgc_acopf/internal/pkg/msg"
	"github.com/ohowland/cgc_acopf/internal/pkg/report"
)

// Config of the results file.
type Config struct {
	Path string `mapstructure:"path" json:"path" yaml:"path"`
}

// Sink appends result lines to a file, opening it for every write so the
// file can be rotated between runs.
type Sink struct {
	mux  sync.Mutex
	path string
}

// NewSink returns a sink writing to path.
func NewSink(path string) *Sink {
	return &Sink{path: path}
}

// New returns the handler of a results file sink.
func New(cfg Config, system msg.Publisher, logger *zap.Logger) (*datastreams.Handler, error) {
	return datastreams.NewHandler("filelog", NewSink(cfg.Path), system, logger)
}

// Started is a no-op; the results file only holds finished runs.
func (s *Sink) Started(context.Context, report.Started) error {
	return nil
}

// Summary appends the result line of a run.
func (s *Sink) Summary(_ context.Context, r report.Summary) error {
	s.mux.Lock()
	defer s.mux.Unlock()

	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if err := r.WriteResult(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func (s *Sink) Close() error {
	return nil
}
