// Package datastreams runs the result sinks. Every sink is driven by a
// Handler that owns an inbox on the msg bus and a Process loop.
package datastreams

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ohowland/cgc_acopf/internal/pkg/logging"
	"github.com/ohowland/cgc_acopf/internal/pkg/msg"
	"github.com/ohowland/cgc_acopf/internal/pkg/report"
)

// Timeout bounds a single sink write.
const Timeout = 5 * time.Second

// Sink stores or forwards run events.
type Sink interface {
	Started(context.Context, report.Started) error
	Summary(context.Context, report.Summary) error
	Close() error
}

// Handler feeds a Sink from the msg bus.
type Handler struct {
	mux      *sync.Mutex
	name     string
	pid      uuid.UUID
	system   msg.Publisher
	inbox    chan msg.Msg
	forwards *sync.WaitGroup
	sink     Sink
	logger   *zap.Logger
	once     *sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// NewHandler subscribes a sink to every run topic of system.
func NewHandler(name string, sink Sink, system msg.Publisher, logger *zap.Logger) (*Handler, error) {
	pid := uuid.New()
	inbox := make(chan msg.Msg, 50)
	forwards := &sync.WaitGroup{}

	for _, topic := range []msg.Topic{msg.Started, msg.Summary} {
		ch, err := system.Subscribe(pid, topic)
		if err != nil {
			system.Unsubscribe(pid)
			forwards.Wait()
			return nil, err
		}
		forwards.Add(1)
		go redirectMsg(ch, inbox, forwards)
	}

	return &Handler{
		mux:      &sync.Mutex{},
		name:     name,
		pid:      pid,
		system:   system,
		inbox:    inbox,
		forwards: forwards,
		sink:     sink,
		logger:   logging.OrNop(logger).Named(name),
		once:     &sync.Once{},
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}, nil
}

func redirectMsg(chIn <-chan msg.Msg, chOut chan<- msg.Msg, wg *sync.WaitGroup) {
	defer wg.Done()
	for m := range chIn {
		chOut <- m
	}
}

// PID of the handler on the bus.
func (h *Handler) PID() uuid.UUID {
	return h.pid
}

// Name of the sink.
func (h *Handler) Name() string {
	return h.name
}

// Process delivers messages to the sink until Stop is called.
func (h *Handler) Process() {
	defer close(h.done)
	h.logger.Info("process started", zap.Stringer("pid", h.pid))

loop:
	for {
		select {
		case m := <-h.inbox:
			h.deliver(m)
		case <-h.stop:
			break loop
		}
	}

	// flush what was already queued
	for {
		select {
		case m := <-h.inbox:
			h.deliver(m)
		default:
			if err := h.sink.Close(); err != nil {
				h.logger.Warn("close failed", zap.Error(err))
			}
			h.logger.Info("process shutdown")
			return
		}
	}
}

func (h *Handler) deliver(m msg.Msg) {
	h.mux.Lock()
	defer h.mux.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), Timeout)
	defer cancel()

	var err error
	switch p := m.Payload().(type) {
	case report.Started:
		err = h.sink.Started(ctx, p)
	case report.Summary:
		err = h.sink.Summary(ctx, p)
	default:
		err = errors.New("unexpected payload")
	}
	if err != nil {
		h.logger.Error("write failed", zap.Stringer("topic", m.Topic()), zap.Error(err))
	}
}

// Stop unsubscribes from the bus, lets Process deliver everything
// published so far and waits for it to return. Process must be running.
func (h *Handler) Stop() {
	h.once.Do(func() {
		h.system.Unsubscribe(h.pid)
		h.forwards.Wait()
		close(h.stop)
	})
	<-h.done
}
