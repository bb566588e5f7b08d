// Package msg is the in-process bus that carries run events from the
// runner to the result sinks.
package msg

import (
	"errors"
	"sync"

	"github.com/google/uuid"
)

// Topic is a class of run event.
type Topic int

const (
	// Started carries a report.Started when a run begins.
	Started Topic = iota
	// Summary carries the report.Summary of a finished run.
	Summary
)

func (t Topic) String() string {
	switch t {
	case Started:
		return "started"
	case Summary:
		return "summary"
	}
	return "unknown"
}

var (
	ErrSubscribed = errors.New("msg: already subscribed")
	ErrClosed     = errors.New("msg: publisher closed")
)

// Publisher is an interface for objects that allow subscription to their events
type Publisher interface {
	Subscribe(uuid.UUID, Topic) (<-chan Msg, error)
	Unsubscribe(uuid.UUID)
}

// Msg is a single event with the PID of its sender.
type Msg struct {
	sender  uuid.UUID
	topic   Topic
	payload interface{}
}

// New is the Msg factory function
func New(sender uuid.UUID, topic Topic, payload interface{}) Msg {
	return Msg{sender, topic, payload}
}

// PID returns the sender's PID
func (v Msg) PID() uuid.UUID {
	return v.sender
}

// Topic returns the event class.
func (v Msg) Topic() Topic {
	return v.topic
}

// Payload returns the message data
func (v Msg) Payload() interface{} {
	return v.payload
}

// depth is the buffer of every subscriber channel.
const depth = 50

type subscription struct {
	topic Topic
	ch    chan Msg
}

// PubSub fans published messages out to every subscriber of the topic.
// Publish blocks while a subscriber's buffer is full.
type PubSub struct {
	mux    sync.RWMutex
	pid    uuid.UUID
	subs   map[uuid.UUID][]subscription
	closed bool
}

// NewPublisher returns a PubSub that stamps messages with pid.
func NewPublisher(pid uuid.UUID) *PubSub {
	return &PubSub{
		pid:  pid,
		subs: make(map[uuid.UUID][]subscription),
	}
}

// PID of the publisher.
func (p *PubSub) PID() uuid.UUID {
	return p.pid
}

// Subscribe registers pid for a topic. A PID may hold one subscription per
// topic.
func (p *PubSub) Subscribe(pid uuid.UUID, topic Topic) (<-chan Msg, error) {
	p.mux.Lock()
	defer p.mux.Unlock()
	if p.closed {
		return nil, ErrClosed
	}
	for _, s := range p.subs[pid] {
		if s.topic == topic {
			return nil, ErrSubscribed
		}
	}
	ch := make(chan Msg, depth)
	p.subs[pid] = append(p.subs[pid], subscription{topic, ch})
	return ch, nil
}

// Unsubscribe closes every channel held by pid.
func (p *PubSub) Unsubscribe(pid uuid.UUID) {
	p.mux.Lock()
	defer p.mux.Unlock()
	for _, s := range p.subs[pid] {
		close(s.ch)
	}
	delete(p.subs, pid)
}

// Publish sends payload to the subscribers of topic.
func (p *PubSub) Publish(topic Topic, payload interface{}) {
	p.mux.RLock()
	defer p.mux.RUnlock()
	if p.closed {
		return
	}
	m := New(p.pid, topic, payload)
	for _, subs := range p.subs {
		for _, s := range subs {
			if s.topic == topic {
				s.ch <- m
			}
		}
	}
}

// Close unsubscribes everyone. Later publishes are dropped.
func (p *PubSub) Close() {
	p.mux.Lock()
	defer p.mux.Unlock()
	for pid, subs := range p.subs {
		for _, s := range subs {
			close(s.ch)
		}
		delete(p.subs, pid)
	}
	p.closed = true
}
