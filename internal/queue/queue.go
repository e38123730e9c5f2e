package queue

import (
	"fmt"
	"sync"
)

// Handler consumes one published payload (JSON bytes). A nil error acks the
// delivery.
type Handler func(payload []byte) error

// Queue decouples campaign fan-out from the HTTP request path. The API
// publishes expansion jobs; the worker process subscribes.
type Queue interface {
	Publish(topic string, payload any) error
	Subscribe(topic string, handler Handler) error
}

// InMemoryQueue delivers payloads to subscribers in-process. Used in tests
// and single-binary setups.
type InMemoryQueue struct {
	mu       sync.Mutex
	handlers map[string][]Handler
}

func NewInMemoryQueue() *InMemoryQueue {
	return &InMemoryQueue{handlers: make(map[string][]Handler)}
}

func (q *InMemoryQueue) Publish(topic string, payload any) error {
	body, err := marshalPayload(payload)
	if err != nil {
		return err
	}

	q.mu.Lock()
	handlers := q.handlers[topic]
	q.mu.Unlock()

	if len(handlers) == 0 {
		return fmt.Errorf("no subscribers for topic %s", topic)
	}
	for _, h := range handlers {
		if err := h(body); err != nil {
			return err
		}
	}
	return nil
}

func (q *InMemoryQueue) Subscribe(topic string, handler Handler) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers[topic] = append(q.handlers[topic], handler)
	return nil
}
