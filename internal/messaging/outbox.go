package messaging

import (
	"github.com/fundihub/fundichat/internal/config"
	"github.com/fundihub/fundichat/internal/domain"
)

type outboxItem struct {
	msg     domain.Message
	payload []byte
}

// outbox is a bounded FIFO of encoded messages waiting for a connection.
// Callers synchronize access.
type outbox struct {
	capacity int
	policy   config.QueueOverflowPolicy
	items    []outboxItem
}

func newOutbox(capacity int, policy config.QueueOverflowPolicy) *outbox {
	if capacity <= 0 {
		capacity = config.DefaultQueueCapacity
	}
	if policy != config.QueueOverflowDropOldest {
		policy = config.QueueOverflowReject
	}

	return &outbox{capacity: capacity, policy: policy}
}

// push appends item. When full it either refuses with ErrQueueFull or
// evicts and returns the oldest entry, depending on policy.
func (q *outbox) push(item outboxItem) (*outboxItem, error) {
	if len(q.items) < q.capacity {
		q.items = append(q.items, item)

		return nil, nil
	}
	if q.policy == config.QueueOverflowReject {
		return nil, ErrQueueFull
	}

	evicted := q.items[0]
	q.items = append(q.items[1:], item)

	return &evicted, nil
}

func (q *outbox) front() (outboxItem, bool) {
	if len(q.items) == 0 {
		return outboxItem{}, false
	}

	return q.items[0], true
}

func (q *outbox) popFront() {
	if len(q.items) == 0 {
		return
	}
	q.items[0] = outboxItem{}
	q.items = q.items[1:]
}

func (q *outbox) remove(clientID string) bool {
	for i, item := range q.items {
		if item.msg.ClientID == clientID {
			q.items = append(q.items[:i], q.items[i+1:]...)

			return true
		}
	}

	return false
}

func (q *outbox) len() int {
	return len(q.items)
}

func (q *outbox) messages() []domain.Message {
	out := make([]domain.Message, len(q.items))
	for i, item := range q.items {
		out[i] = item.msg.Clone()
	}

	return out
}
