package mqtt

import (
	"context"
	"encoding/json"
	"sync/atomic"

	"github.com/nerrad567/chatgate-core/internal/auth"
)

// defaultEventBuffer is the queue length when none is given.
const defaultEventBuffer = 256

// Publisher is the subset of Client used by EventPublisher.
type Publisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

// EventPublisher forwards auth events to MQTT. Record never blocks: events
// are queued and published by Run; a full queue drops the event.
type EventPublisher struct {
	pub     Publisher
	topics  Topics
	qos     byte
	queue   chan auth.Event
	logger  Logger
	dropped atomic.Int64
	failed  atomic.Int64
}

// NewEventPublisher creates a publisher with a queue of buffer events.
// logger may be nil.
func NewEventPublisher(pub Publisher, topics Topics, qos byte, buffer int, logger Logger) *EventPublisher {
	if buffer <= 0 {
		buffer = defaultEventBuffer
	}
	return &EventPublisher{
		pub:    pub,
		topics: topics,
		qos:    qos,
		queue:  make(chan auth.Event, buffer),
		logger: logger,
	}
}

// Record implements auth.EventSink.
func (p *EventPublisher) Record(_ context.Context, e auth.Event) {
	select {
	case p.queue <- e:
	default:
		if p.dropped.Add(1) == 1 && p.logger != nil {
			p.logger.Warn("auth event dropped", "error", ErrQueueFull, "type", string(e.Type))
		}
	}
}

// Run publishes queued events until ctx is done, then flushes what is
// already queued.
func (p *EventPublisher) Run(ctx context.Context) {
	for {
		select {
		case e := <-p.queue:
			p.publish(e)
		case <-ctx.Done():
			for {
				select {
				case e := <-p.queue:
					p.publish(e)
				default:
					return
				}
			}
		}
	}
}

// Dropped returns how many events were discarded because the queue was full.
func (p *EventPublisher) Dropped() int64 {
	return p.dropped.Load()
}

// Failed returns how many publishes returned an error.
func (p *EventPublisher) Failed() int64 {
	return p.failed.Load()
}

func (p *EventPublisher) publish(e auth.Event) {
	payload, err := json.Marshal(e)
	if err != nil {
		p.fail(e, err)
		return
	}
	if err := p.pub.Publish(p.topics.AuthEvent(string(e.Type)), payload, p.qos, false); err != nil {
		p.fail(e, err)
	}
}

func (p *EventPublisher) fail(e auth.Event, err error) {
	p.failed.Add(1)
	if p.logger != nil {
		p.logger.Error("publishing auth event failed", "type", string(e.Type), "error", err)
	}
}
