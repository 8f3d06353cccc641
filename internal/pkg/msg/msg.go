package msg

import (
	"errors"
	"sync"

	"github.com/google/uuid"
)

// Topic partitions published messages by kind.
type Topic int

const (
	// Status carries run lifecycle updates.
	Status Topic = iota
	// Result carries finished study reports.
	Result
)

// Publisher is an interface for objects that allow subscription to their events
type Publisher interface {
	Subscribe(uuid.UUID, Topic) (<-chan Msg, error)
	Unsubscribe(uuid.UUID)
}

// Msg wraps a payload with its sender and topic.
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
func (m Msg) PID() uuid.UUID {
	return m.sender
}

// Topic returns the message topic
func (m Msg) Topic() Topic {
	return m.topic
}

// Payload returns the message data
func (m Msg) Payload() interface{} {
	return m.payload
}

// PubSub fans published messages out to per-topic subscribers.
// Publish never blocks; slow subscribers drop messages.
type PubSub struct {
	mux     *sync.Mutex
	pid     uuid.UUID
	subs    map[Topic]map[uuid.UUID]chan Msg
	stopped bool
}

// NewPublisher returns a PubSub owned by the component identified by pid.
func NewPublisher(pid uuid.UUID) *PubSub {
	subs := make(map[Topic]map[uuid.UUID]chan Msg)
	return &PubSub{&sync.Mutex{}, pid, subs, false}
}

// PID is a getter for the publisher's process id
func (p *PubSub) PID() uuid.UUID {
	return p.pid
}

// Subscribe registers pid for all messages published on topic.
func (p *PubSub) Subscribe(pid uuid.UUID, topic Topic) (<-chan Msg, error) {
	p.mux.Lock()
	defer p.mux.Unlock()
	if p.stopped {
		return nil, errors.New("msg: publisher stopped")
	}
	if _, ok := p.subs[topic]; !ok {
		p.subs[topic] = make(map[uuid.UUID]chan Msg)
	}
	ch := make(chan Msg, 8)
	p.subs[topic][pid] = ch
	return ch, nil
}

// Unsubscribe revokes pid's subscriptions on all topics.
func (p *PubSub) Unsubscribe(pid uuid.UUID) {
	p.mux.Lock()
	defer p.mux.Unlock()
	for _, subs := range p.subs {
		if ch, ok := subs[pid]; ok {
			delete(subs, pid)
			close(ch)
		}
	}
}

// Publish broadcasts payload to all subscribers of topic.
func (p *PubSub) Publish(topic Topic, payload interface{}) {
	p.mux.Lock()
	defer p.mux.Unlock()
	if p.stopped {
		return
	}
	for _, ch := range p.subs[topic] {
		select {
		case ch <- New(p.pid, topic, payload):
		default:
		}
	}
}

// Stop closes all subscriber channels. Further Subscribe calls fail.
func (p *PubSub) Stop() {
	p.mux.Lock()
	defer p.mux.Unlock()
	if p.stopped {
		return
	}
	p.stopped = true
	for _, subs := range p.subs {
		for pid, ch := range subs {
			delete(subs, pid)
			close(ch)
		}
	}
}
