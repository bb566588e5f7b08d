// Package natshandler publishes run events as JSON on a NATS server.
package natshandler

import (
	"context"
	"encoding/json"
	"time"

	nats "github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/ohowland/cgc_acopf/internal/pkg/datastreams"
	"github.com/ohowland/cgc_acopf/internal/pkg/msg"
	"github.com/ohowland/cgc_acopf/internal/pkg/report"
)

// Config of the NATS connection.
type Config struct {
	URL     string `mapstructure:"url" json:"url" yaml:"url"`
	Subject string `mapstructure:"subject" json:"subject" yaml:"subject"`
}

// DefaultSubject prefixes every subject when Config.Subject is empty.
const DefaultSubject = "acopf"

type conn interface {
	Publish(subject string, data []byte) error
	Drain() error
}

// Sink publishes events on <subject>.<topic>.<pid>.
type Sink struct {
	nc      conn
	subject string
}

// Connect dials the server.
func Connect(cfg Config) (*Sink, error) {
	url := cfg.URL
	if url == "" {
		url = nats.DefaultURL
	}
	nc, err := nats.Connect(url,
		nats.Name("acopf"),
		nats.Timeout(2*time.Second),
		nats.MaxReconnects(10),
	)
	if err != nil {
		return nil, err
	}
	return newSink(nc, cfg.Subject), nil
}

func newSink(nc conn, subject string) *Sink {
	if subject == "" {
		subject = DefaultSubject
	}
	return &Sink{nc: nc, subject: subject}
}

// New connects and returns the handler.
func New(cfg Config, system msg.Publisher, logger *zap.Logger) (*datastreams.Handler, error) {
	s, err := Connect(cfg)
	if err != nil {
		return nil, err
	}
	h, err := datastreams.NewHandler("nats", s, system, logger)
	if err != nil {
		s.Close()
		return nil, err
	}
	return h, nil
}

// Subject of an event.
func (s *Sink) Subject(topic msg.Topic, pid string) string {
	return s.subject + "." + topic.String() + "." + pid
}

func (s *Sink) publish(subject string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.nc.Publish(subject, data)
}

func (s *Sink) Started(_ context.Context, r report.Started) error {
	return s.publish(s.Subject(msg.Started, r.PID.String()), r)
}

func (s *Sink) Summary(_ context.Context, r report.Summary) error {
	return s.publish(s.Subject(msg.Summary, r.PID.String()), r)
}

// Close drains pending publishes before closing the connection.
func (s *Sink) Close() error {
	return s.nc.Drain()
}
