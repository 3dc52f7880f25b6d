package events

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Topic names a one-way notification published by the engine
type Topic string

const (
	TopicRoutingPlan         Topic = "routing:plan"
	TopicRouterSuccess       Topic = "smart_router:success"
	TopicRouterFailure       Topic = "smart_router:failure"
	TopicChallengerWon       Topic = "shadow-test:challenger-won"
	TopicExperimentCompleted Topic = "shadow-test:completed"
	TopicQUpdate             Topic = "neural-optimizer:q-update"
)

// Event is a published notification
type Event struct {
	ID        string                 `json:"id"`
	Topic     Topic                  `json:"topic"`
	Timestamp time.Time              `json:"timestamp"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
}

// Publisher is the only surface the engine components depend on
type Publisher interface {
	Publish(topic Topic, payload map[string]interface{})
}

// Observer receives every event after it is dequeued
type Observer func(Event)

type discard struct{}

func (discard) Publish(Topic, map[string]interface{}) {}

// Discard is a Publisher that drops everything
var Discard Publisher = discard{}

// BusConfig holds event bus configuration
type BusConfig struct {
	BufferSize  int `yaml:"buffer_size"`
	HistorySize int `yaml:"history_size"`
}

// Bus delivers events asynchronously to observers and keeps a bounded history
type Bus struct {
	config   BusConfig
	logger   *logrus.Logger
	buffer   chan *Event
	stopChan chan struct{}
	wg       sync.WaitGroup
	mu       sync.RWMutex
	stopped  bool

	obsMu     sync.RWMutex
	observers []Observer

	histMu    sync.Mutex
	history   []Event
	next      int
	published int64
	dropped   int64
}

// NewBus creates and starts an event bus
func NewBus(config BusConfig, logger *logrus.Logger) *Bus {
	if config.BufferSize <= 0 {
		config.BufferSize = 1000
	}
	if config.HistorySize <= 0 {
		config.HistorySize = 200
	}

	b := &Bus{
		config:   config,
		logger:   logger,
		buffer:   make(chan *Event, config.BufferSize),
		stopChan: make(chan struct{}),
		history:  make([]Event, 0, config.HistorySize),
	}

	b.wg.Add(1)
	go b.eventProcessor()
	return b
}

// Publish enqueues an event without blocking. Events are dropped when the
// buffer is full or the bus is stopped.
func (b *Bus) Publish(topic Topic, payload map[string]interface{}) {
	event := &Event{
		ID:        uuid.New().String(),
		Topic:     topic,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.stopped {
		return
	}

	select {
	case b.buffer <- event:
	default:
		b.histMu.Lock()
		b.dropped++
		b.histMu.Unlock()
		b.logger.WithField("topic", topic).Warn("Event buffer full, dropping event")
	}
}

// Observe registers an observer. Observers must not block.
func (b *Bus) Observe(observer Observer) {
	b.obsMu.Lock()
	defer b.obsMu.Unlock()
	b.observers = append(b.observers, observer)
}

// History returns retained events, oldest first
func (b *Bus) History() []Event {
	b.histMu.Lock()
	defer b.histMu.Unlock()

	out := make([]Event, 0, len(b.history))
	if len(b.history) < b.config.HistorySize {
		return append(out, b.history...)
	}
	out = append(out, b.history[b.next:]...)
	return append(out, b.history[:b.next]...)
}

// Counts returns how many events were delivered and dropped
func (b *Bus) Counts() (published, dropped int64) {
	b.histMu.Lock()
	defer b.histMu.Unlock()
	return b.published, b.dropped
}

// Stop stops the processor and delivers anything still buffered
func (b *Bus) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.stopped {
		return
	}
	b.stopped = true
	close(b.stopChan)
	b.wg.Wait()

	for {
		select {
		case event := <-b.buffer:
			b.dispatch(event)
		default:
			return
		}
	}
}

func (b *Bus) eventProcessor() {
	defer b.wg.Done()

	for {
		select {
		case event := <-b.buffer:
			b.dispatch(event)
		case <-b.stopChan:
			return
		}
	}
}

func (b *Bus) dispatch(event *Event) {
	b.histMu.Lock()
	if len(b.history) < b.config.HistorySize {
		b.history = append(b.history, *event)
	} else {
		b.history[b.next] = *event
		b.next = (b.next + 1) % b.config.HistorySize
	}
	b.published++
	b.histMu.Unlock()

	b.logger.WithFields(logrus.Fields{
		"event_id": event.ID,
		"topic":    event.Topic,
	}).Debug("Event published")

	b.obsMu.RLock()
	observers := b.observers
	b.obsMu.RUnlock()

	for _, observe := range observers {
		observe(*event)
	}
}
