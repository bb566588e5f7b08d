// Package mongodb keeps one document per run in a MongoDB collection.
package mongodb

import (
	"context"
	"errors"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/ohowland/cgc_acopf/internal/pkg/datastreams"
	"github.com/ohowland/cgc_acopf/internal/pkg/msg"
	"github.com/ohowland/cgc_acopf/internal/pkg/report"
)

var ErrConfig = errors.New("mongodb: URI and database are required")

// Config of the run store.
type Config struct {
	URI        string `mapstructure:"uri" json:"uri" yaml:"uri"`
	Database   string `mapstructure:"database" json:"database" yaml:"database"`
	Collection string `mapstructure:"collection" json:"collection" yaml:"collection"`
}

// DefaultCollection holds the runs when Config.Collection is empty.
const DefaultCollection = "runs"

// Sink upserts run documents keyed by the run PID.
type Sink struct {
	client *mongo.Client
	runs   *mongo.Collection
}

// Dial creates the client. The driver connects lazily, so an unreachable
// server surfaces on the first write.
func Dial(ctx context.Context, cfg Config) (*Sink, error) {
	if cfg.URI == "" || cfg.Database == "" {
		return nil, ErrConfig
	}
	if cfg.Collection == "" {
		cfg.Collection = DefaultCollection
	}
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, err
	}
	return &Sink{
		client: client,
		runs:   client.Database(cfg.Database).Collection(cfg.Collection),
	}, nil
}

// New dials the store and returns its handler.
func New(cfg Config, system msg.Publisher, logger *zap.Logger) (*datastreams.Handler, error) {
	s, err := Dial(context.Background(), cfg)
	if err != nil {
		return nil, err
	}
	h, err := datastreams.NewHandler("mongodb", s, system, logger)
	if err != nil {
		s.Close()
		return nil, err
	}
	return h, nil
}

func (s *Sink) upsert(ctx context.Context, pid string, update bson.D) error {
	_, err := s.runs.UpdateOne(ctx,
		bson.M{"pid": pid},
		update,
		options.Update().SetUpsert(true),
	)
	return err
}

// Started records a run in progress. Topics are delivered independently,
// so it only fills a document the summary has not created yet.
func (s *Sink) Started(ctx context.Context, r report.Started) error {
	return s.upsert(ctx, r.PID.String(), bson.D{{Key: "$setOnInsert", Value: startedToBSON(r)}})
}

// Summary completes the document of a run.
func (s *Sink) Summary(ctx context.Context, r report.Summary) error {
	return s.upsert(ctx, r.PID.String(), bson.D{{Key: "$set", Value: summaryToBSON(r)}})
}

func (s *Sink) Close() error {
	return s.client.Disconnect(context.Background())
}

// Status of a run that has started but not finished.
const running = "RUNNING"

func startedToBSON(r report.Started) bson.M {
	return bson.M{
		"pid":     r.PID.String(),
		"case":    r.Case,
		"model":   r.Model,
		"started": r.Time,
		"status":  running,
	}
}

func summaryToBSON(r report.Summary) bson.M {
	dispatch := make(bson.A, len(r.Dispatch))
	for i, d := range r.Dispatch {
		dispatch[i] = bson.M{"id": d.ID, "p": d.P, "q": d.Q}
	}
	return bson.M{
		"pid":        r.PID.String(),
		"case":       r.Case,
		"model":      r.Model,
		"nodes":      r.Nodes,
		"arcs":       r.Arcs,
		"generators": r.Generators,
		"variables":  r.Variables,
		"rows":       r.Rows,
		"scale":      r.Scale,
		"objective":  r.Objective,
		"status":     r.Status,
		"iterations": r.Iterations,
		"solve_ms":   r.SolveTime.Milliseconds(),
		"total_ms":   r.TotalTime.Milliseconds(),
		"finished":   r.Finished,
		"dispatch":   dispatch,
	}
}
