package queue

// InMemoryQueue is a bounded channel-backed queue. Enqueue never blocks so a
// flooding connection cannot stall its reader goroutine; the excess is dropped
// and reported to the caller instead.
type InMemoryQueue struct {
	ch chan interface{}
}

// NewInMemoryQueue creates a new queue holding at most capacity items.
func NewInMemoryQueue(capacity int) *InMemoryQueue {
	return &InMemoryQueue{
		ch: make(chan interface{}, capacity),
	}
}

// Enqueue adds an item to the end of the queue.
func (q *InMemoryQueue) Enqueue(item interface{}) error {
	select {
	case q.ch <- item:
		return nil
	default:
		return &ErrQueueFull{Capacity: cap(q.ch)}
	}
}

// Dequeue removes and returns the item at the front of the queue.
func (q *InMemoryQueue) Dequeue() (interface{}, error) {
	select {
	case item := <-q.ch:
		return item, nil
	default:
		return nil, &ErrQueueEmpty{}
	}
}

// Size returns the current size of the queue.
func (q *InMemoryQueue) Size() int {
	return len(q.ch)
}

// ReadAllMessages drains the items pending at the time of the call without
// waiting for more.
func (q *InMemoryQueue) ReadAllMessages() ([]interface{}, error) {
	n := len(q.ch)
	messages := make([]interface{}, 0, n)
	for i := 0; i < n; i++ {
		select {
		case item := <-q.ch:
			messages = append(messages, item)
		default:
			return messages, nil
		}
	}
	return messages, nil
}

// ClearQueue clears all messages from the queue.
func (q *InMemoryQueue) ClearQueue() error {
	for {
		select {
		case <-q.ch:
		default:
			return nil
		}
	}
}
