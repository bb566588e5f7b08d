// Package web posts run events to an HTTP endpoint.
package web

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ohowland/cgc_acopf/internal/pkg/datastreams"
	"github.com/ohowland/cgc_acopf/internal/pkg/msg"
	"github.com/ohowland/cgc_acopf/internal/pkg/report"
)

// Config of the endpoint. Events go to <URL>/runs/<pid>/<topic>.
type Config struct {
	URL string `mapstructure:"url" json:"url" yaml:"url"`
}

// Sink posts events as JSON.
type Sink struct {
	url    string
	client *http.Client
}

// NewSink returns a sink posting below url.
func NewSink(cfg Config) *Sink {
	return &Sink{
		url:    strings.TrimSuffix(cfg.URL, "/"),
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// New returns the handler of an HTTP sink.
func New(cfg Config, system msg.Publisher, logger *zap.Logger) (*datastreams.Handler, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("web: missing URL")
	}
	return datastreams.NewHandler("web", NewSink(cfg), system, logger)
}

func (s *Sink) post(ctx context.Context, target string, v interface{}) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json; charset=UTF-8")
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("web: %s: %s", target, resp.Status)
	}
	return nil
}

func (s *Sink) target(pid string, topic msg.Topic) string {
	return s.url + "/runs/" + pid + "/" + topic.String()
}

func (s *Sink) Started(ctx context.Context, r report.Started) error {
	return s.post(ctx, s.target(r.PID.String(), msg.Started), r)
}

func (s *Sink) Summary(ctx context.Context, r report.Summary) error {
	return s.post(ctx, s.target(r.PID.String(), msg.Summary), r)
}

func (s *Sink) Close() error {
	s.client.CloseIdleConnections()
	return nil
}
