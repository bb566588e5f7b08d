// Package root assembles a running system: the msg bus, the result sinks
// attached to it and the runner publishing on it.
package root

import (
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ohowland/cgc_acopf/internal/pkg/config"
	"github.com/ohowland/cgc_acopf/internal/pkg/datastreams"
	"github.com/ohowland/cgc_acopf/internal/pkg/datastreams/filelog"
	"github.com/ohowland/cgc_acopf/internal/pkg/datastreams/mongodb"
	"github.com/ohowland/cgc_acopf/internal/pkg/datastreams/natshandler"
	"github.com/ohowland/cgc_acopf/internal/pkg/datastreams/sqldb"
	"github.com/ohowland/cgc_acopf/internal/pkg/ipm"
	"github.com/ohowland/cgc_acopf/internal/pkg/logging"
	"github.com/ohowland/cgc_acopf/internal/pkg/metrics"
	"github.com/ohowland/cgc_acopf/internal/pkg/msg"
	"github.com/ohowland/cgc_acopf/internal/pkg/run"
	"github.com/ohowland/cgc_acopf/internal/pkg/web"
)

// System is the root node of a process.
type System struct {
	pid       uuid.UUID
	publisher *msg.PubSub
	handlers  []*datastreams.Handler
	metrics   *metrics.Collector
	runner    *run.Runner
	logger    *zap.Logger
}

// New builds the system described by cfg. A sink that cannot be created
// is logged and left out; the run does not depend on it.
func New(cfg config.Config, logger *zap.Logger) *System {
	logger = logging.OrNop(logger)
	pid := uuid.New()
	s := &System{
		pid:       pid,
		publisher: msg.NewPublisher(pid),
		metrics:   metrics.New(),
		logger:    logger.Named("root"),
	}

	if cfg.Out != "" {
		s.attach(filelog.New(cfg.ResultsFile(), s.publisher, logger))
	}
	if c := cfg.Sinks.MongoDB; c != nil {
		s.attach(mongodb.New(*c, s.publisher, logger))
	}
	if c := cfg.Sinks.SQL; c != nil {
		s.attach(sqldb.New(*c, s.publisher, logger))
	}
	if c := cfg.Sinks.NATS; c != nil {
		s.attach(natshandler.New(*c, s.publisher, logger))
	}
	if c := cfg.Sinks.Web; c != nil {
		s.attach(web.New(*c, s.publisher, logger))
	}

	s.runner = run.New(logger, ipm.New(logger), s.publisher, s.metrics)
	return s
}

func (s *System) attach(h *datastreams.Handler, err error) {
	if err != nil {
		s.logger.Warn("sink disabled", zap.Error(err))
		return
	}
	s.handlers = append(s.handlers, h)
}

// PID of the system publisher.
func (s *System) PID() uuid.UUID { return s.pid }

// Runner publishing on the system bus.
func (s *System) Runner() *run.Runner { return s.runner }

// Metrics of the runner.
func (s *System) Metrics() *metrics.Collector { return s.metrics }

// Sinks lists the names of the attached sinks.
func (s *System) Sinks() []string {
	names := make([]string, len(s.handlers))
	for i, h := range s.handlers {
		names[i] = h.Name()
	}
	return names
}

// Start launches the sink processes.
func (s *System) Start() {
	for _, h := range s.handlers {
		go h.Process()
	}
}

// Stop flushes the sinks and closes the bus. It must follow Start.
func (s *System) Stop() {
	for _, h := range s.handlers {
		h.Stop()
	}
	s.publisher.Close()
}
