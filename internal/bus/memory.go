package bus

import (
	"context"
	"maps"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

const systemMemory = "memory"

var memoryBackoff = Backoff{Initial: time.Millisecond, Max: 20 * time.Millisecond}

// Memory is an in-process transport with one partition per topic and a single
// consumer per topic. Nothing is delivered until Drain is called, which lets
// tests choose exactly when messages move.
type Memory struct {
	logger *zap.Logger

	mu       sync.Mutex
	logs     map[string][]Message
	cursors  map[string]int
	handlers map[string]*dispatcher
}

func NewMemory(logger *zap.Logger) *Memory {
	return &Memory{
		logger:   logger,
		logs:     map[string][]Message{},
		cursors:  map[string]int{},
		handlers: map[string]*dispatcher{},
	}
}

func (m *Memory) Publish(ctx context.Context, msg Message) error {
	msg.Headers = maps.Clone(msg.Headers)
	_, span := startPublishSpan(ctx, systemMemory, &msg)
	defer span.End()

	m.mu.Lock()
	defer m.mu.Unlock()
	msg.Partition = 0
	msg.Offset = int64(len(m.logs[msg.Topic]))
	m.logs[msg.Topic] = append(m.logs[msg.Topic], msg)
	return nil
}

// Register attaches h to topic. A later registration replaces the earlier one.
func (m *Memory) Register(topic, group string, h HandlerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[topic] = newDispatcher(systemMemory, group, h, memoryBackoff, m.logger)
}

func (m *Memory) Subscribe(ctx context.Context, topic, group string, h HandlerFunc) error {
	m.Register(topic, group, h)
	<-ctx.Done()
	return nil
}

// Messages returns a copy of everything published to topic.
func (m *Memory) Messages(topic string) []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Message(nil), m.logs[topic]...)
}

// Pending counts messages not yet committed on topics that have a handler.
func (m *Memory) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for topic := range m.handlers {
		n += len(m.logs[topic]) - m.cursors[topic]
	}
	return n
}

// Rewind moves the topic's committed position back to offset so the
// following messages are delivered again.
func (m *Memory) Rewind(topic string, offset int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if int(offset) < m.cursors[topic] {
		m.cursors[topic] = int(offset)
	}
}

// Drain delivers pending messages, one per topic per round in topic name
// order, until every registered topic is caught up. It stops early when ctx
// ends while a handler is still failing.
func (m *Memory) Drain(ctx context.Context) error {
	for {
		delivered := false
		for _, topic := range m.topics() {
			msg, d, ok := m.next(topic)
			if !ok {
				continue
			}
			if err := d.deliver(ctx, msg); err != nil {
				return err
			}
			m.commit(topic, msg.Offset)
			delivered = true
		}
		if !delivered {
			return nil
		}
	}
}

func (m *Memory) topics() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	topics := make([]string, 0, len(m.handlers))
	for t := range m.handlers {
		topics = append(topics, t)
	}
	sort.Strings(topics)
	return topics
}

func (m *Memory) next(topic string) (Message, *dispatcher, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cursor := m.cursors[topic]
	if cursor >= len(m.logs[topic]) {
		return Message{}, nil, false
	}
	msg := m.logs[topic][cursor]
	msg.Headers = maps.Clone(msg.Headers)
	return msg, m.handlers[topic], true
}

func (m *Memory) commit(topic string, offset int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if int(offset)+1 > m.cursors[topic] {
		m.cursors[topic] = int(offset) + 1
	}
}

func (m *Memory) Close() error { return nil }
