package msg

import (
	"math/rand"
	"testing"

	"github.com/google/uuid"
	"gotest.tools/v3/assert"
)

func TestSubscribe(t *testing.T) {
	pidPub, err := uuid.NewUUID()
	assert.NilError(t, err)

	pidSub1, err := uuid.NewUUID()
	assert.NilError(t, err)

	pidSub2, err := uuid.NewUUID()
	assert.NilError(t, err)

	pubsub := NewPublisher(pidPub)
	ch1, err := pubsub.Subscribe(pidSub1, Summary)
	assert.NilError(t, err)
	ch2, err := pubsub.Subscribe(pidSub2, Summary)
	assert.NilError(t, err)

	randValue := rand.Float64()
	pubsub.Publish(Summary, randValue)

	for _, ch := range []<-chan Msg{ch1, ch2} {
		incoming := <-ch
		assert.Equal(t, incoming.Payload(), randValue)
		assert.Equal(t, incoming.PID(), pidPub)
		assert.Equal(t, incoming.Topic(), Summary)
	}
}

func TestTopicFilter(t *testing.T) {
	pubsub := NewPublisher(uuid.New())
	pid := uuid.New()
	ch, err := pubsub.Subscribe(pid, Summary)
	assert.NilError(t, err)

	pubsub.Publish(Started, "start")
	pubsub.Publish(Summary, "done")
	assert.Equal(t, (<-ch).Payload(), "done")
	assert.Equal(t, len(ch), 0)

	_, err = pubsub.Subscribe(pid, Summary)
	assert.ErrorIs(t, err, ErrSubscribed)
	_, err = pubsub.Subscribe(pid, Started)
	assert.NilError(t, err)
}

func TestUnsubscribe(t *testing.T) {
	pubsub := NewPublisher(uuid.New())
	pid := uuid.New()
	ch, err := pubsub.Subscribe(pid, Summary)
	assert.NilError(t, err)

	pubsub.Unsubscribe(pid)
	_, ok := <-ch
	assert.Assert(t, !ok)

	// publishing to nobody is fine
	pubsub.Publish(Summary, 1)
}

func TestClose(t *testing.T) {
	pubsub := NewPublisher(uuid.New())
	ch, err := pubsub.Subscribe(uuid.New(), Started)
	assert.NilError(t, err)

	pubsub.Close()
	_, ok := <-ch
	assert.Assert(t, !ok)
	pubsub.Publish(Started, 1)

	_, err = pubsub.Subscribe(uuid.New(), Started)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestTopicString(t *testing.T) {
	assert.Equal(t, Started.String(), "started")
	assert.Equal(t, Summary.String(), "summary")
}
