package natshandler

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	nats "github.com/nats-io/nats.go"
	"gotest.tools/v3/assert"

	"github.com/ohowland/cgc_acopf/internal/pkg/msg"
	"github.com/ohowland/cgc_acopf/internal/pkg/report"
)

type published struct {
	subject string
	data    []byte
}

type fakeConn struct {
	out     []published
	drained bool
}

func (f *fakeConn) Publish(subject string, data []byte) error {
	f.out = append(f.out, published{subject, data})
	return nil
}

func (f *fakeConn) Drain() error {
	f.drained = true
	return nil
}

func TestSubjects(t *testing.T) {
	s := newSink(&fakeConn{}, "")
	assert.Equal(t, s.Subject(msg.Summary, "abc"), "acopf.summary.abc")
	s = newSink(&fakeConn{}, "grid.opf")
	assert.Equal(t, s.Subject(msg.Started, "abc"), "grid.opf.started.abc")
}

func TestPublish(t *testing.T) {
	fc := &fakeConn{}
	s := newSink(fc, "")
	pid := uuid.New()
	ctx := context.Background()

	assert.NilError(t, s.Started(ctx, report.Started{PID: pid, Case: "case5"}))
	assert.NilError(t, s.Summary(ctx, report.Summary{PID: pid, Case: "case5", Objective: 1.5}))
	assert.NilError(t, s.Close())

	assert.Equal(t, len(fc.out), 2)
	assert.Equal(t, fc.out[0].subject, "acopf.started."+pid.String())
	assert.Equal(t, fc.out[1].subject, "acopf.summary."+pid.String())

	var got report.Summary
	assert.NilError(t, json.Unmarshal(fc.out[1].data, &got))
	assert.Equal(t, got.PID, pid)
	assert.Equal(t, got.Objective, 1.5)
	assert.Assert(t, fc.drained)
}

// TestNatsConnector needs a server on the default URL.
func TestNatsConnector(t *testing.T) {
	nc, err := nats.Connect(nats.DefaultURL)
	if err != nil {
		t.Skipf("no NATS server: %v", err)
	}
	defer nc.Close()

	got := make(chan *nats.Msg, 1)
	sub, err := nc.ChanSubscribe(DefaultSubject+".summary.*", got)
	assert.NilError(t, err)
	defer sub.Unsubscribe()

	s, err := Connect(Config{})
	assert.NilError(t, err)
	assert.NilError(t, s.Summary(context.Background(), report.Summary{PID: uuid.New()}))
	assert.NilError(t, s.Close())

	select {
	case m := <-got:
		assert.Assert(t, len(m.Data) > 0)
	case <-time.After(2 * time.Second):
		t.Fatal("no message received")
	}
}
